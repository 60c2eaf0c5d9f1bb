package siptest

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/sipuago/sipua/sip"
	"github.com/sipuago/sipua/transaction"
)

// ClientTxRequester fakes a RequestSender that answers synchronously: every
// request is handed to OnRequest and the returned response is fed back into
// a real client transaction, exercising its FSM the same as a live socket.
type ClientTxRequester struct {
	OnRequest func(req *sip.Request) *sip.Response
}

func (r *ClientTxRequester) TransactionRequest(ctx context.Context, req *sip.Request) (*transaction.ClientTx, error) {
	key, _ := transaction.MakeClientTxKey(req)
	rec := newConnRecorder()
	tx := transaction.NewClientTx(key, req, rec, log.Logger)
	if err := tx.Init(); err != nil {
		return nil, err
	}

	resp := r.OnRequest(req)
	go tx.Receive(resp)

	return tx, nil
}

func (r *ClientTxRequester) WriteRequest(req *sip.Request) error {
	newConnRecorder().WriteMsg(req)
	return nil
}

type ClientTxResponder struct {
	tx *transaction.ClientTx
}

func (r *ClientTxResponder) Receive(res *sip.Response) {
	r.tx.Receive(res)
}

// ClientTxRequesterResponder fakes a RequestSender whose response arrives
// asynchronously: OnRequest is handed a responder it can Receive() on
// whenever the simulated peer answers.
type ClientTxRequesterResponder struct {
	OnRequest func(req *sip.Request, w *ClientTxResponder)
}

func (r *ClientTxRequesterResponder) TransactionRequest(ctx context.Context, req *sip.Request) (*transaction.ClientTx, error) {
	key, _ := transaction.MakeClientTxKey(req)
	rec := newConnRecorder()
	tx := transaction.NewClientTx(key, req, rec, log.Logger)
	if err := tx.Init(); err != nil {
		return nil, err
	}
	w := ClientTxResponder{
		tx: tx,
	}
	go r.OnRequest(req, &w)
	return tx, nil
}

func (r *ClientTxRequesterResponder) WriteRequest(req *sip.Request) error {
	newConnRecorder().WriteMsg(req)
	return nil
}
