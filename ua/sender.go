package ua

import (
	"context"

	"github.com/sipuago/sipua/sip"
	"github.com/sipuago/sipua/transaction"
	"github.com/sipuago/sipua/transport"
)

// requestSender binds the transaction/transport stack into the single shape
// both package dialog and package registrar expect from their client: a
// TransactionRequest for anything that needs a matched response, and a
// WriteRequest for fire-and-forget sends (ACK, stray in-dialog requests).
// Building this once here lets the UA hand the same binding to its UAC,
// UAS, and Registrator without any of those packages importing each other.
type requestSender struct {
	tx *transaction.Layer
	tp *transport.Layer
}

func newRequestSender(tx *transaction.Layer, tp *transport.Layer) *requestSender {
	return &requestSender{tx: tx, tp: tp}
}

func (s *requestSender) TransactionRequest(ctx context.Context, req *sip.Request) (*transaction.ClientTx, error) {
	return s.tx.Request(ctx, req)
}

func (s *requestSender) WriteRequest(req *sip.Request) error {
	return s.tp.WriteMsg(req)
}
