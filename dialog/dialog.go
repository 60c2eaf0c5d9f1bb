// Package dialog implements the RFC 3261 12 dialog layer: the UAC and UAS
// state machines that turn a matched INVITE transaction into a long-lived
// peer-to-peer relationship, plus the Dialog value both sides share.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sipuago/sipua/sip"
	"github.com/sipuago/sipua/transaction"
)

var (
	ErrOutsideDialog = errors.New("call/transaction outside dialog")
	ErrNotFound      = errors.New("call/transaction does not exist")
	ErrNoContact     = errors.New("no Contact header")
	ErrCanceled      = errors.New("dialog canceled")
	ErrInvalidCSeq   = errors.New("invalid CSeq number")
)

// ErrResponse wraps a non-2xx final response observed while driving a dialog.
type ErrResponse struct {
	Res *sip.Response
}

func (e *ErrResponse) Error() string {
	return fmt.Sprintf("request failed with response: %s", e.Res.StartLine())
}

// ClientTransaction and ServerTransaction alias the concrete transaction
// package types rather than re-abstracting them: the dialog layer always
// runs on top of the real FSMs, never a mock transport of its own.
type ClientTransaction = transaction.ClientTx
type ServerTransaction = transaction.ServerTx

// RequestSender is the subset of the UA's client used by the dialog layer to
// place requests on the wire. It is satisfied by the transaction/transport
// stack's client binding, kept as an interface here so this package never
// needs to import the UA dispatcher.
type RequestSender interface {
	TransactionRequest(ctx context.Context, req *sip.Request) (*ClientTransaction, error)
	WriteRequest(req *sip.Request) error
}

// StateFunc is notified on every dialog state transition.
type StateFunc func(s sip.DialogState)

// Dialog is the shared peer-to-peer session state of RFC 3261 12.1:
// the two tags, the Call-ID, the local CSeq counter and the negotiated
// route set, tracked from the triggering INVITE through to BYE.
type Dialog struct {
	// ID uniquely keys this dialog in a Store, built from (Call-ID, local-tag, remote-tag).
	ID string

	// InviteRequest is the request that established the dialog. Treat as read-only.
	InviteRequest *sip.Request

	// InviteResponse is the last 2xx (or latest) response seen for the dialog. Treat as read-only.
	InviteResponse *sip.Response

	lastCSeqNo atomic.Uint32
	state      atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc

	onStatePointer atomic.Pointer[StateFunc]

	values sync.Map
}

// Init sets up a dialog's runtime state from its InviteRequest. Must be
// called once before the dialog is used.
func (d *Dialog) Init() {
	d.ctx, d.cancel = context.WithCancel(context.Background())
	if d.InviteRequest != nil {
		if cseq := d.InviteRequest.CSeq(); cseq != nil {
			d.lastCSeqNo.Store(cseq.SeqNo)
		}
	}
}

// InitWithState is Init followed by an explicit starting state, used by the
// UAS side which enters DialogStateEarly immediately on ReadInvite.
func (d *Dialog) InitWithState(s sip.DialogState) {
	d.Init()
	d.state.Store(int32(s))
}

// OnState registers a callback invoked on every subsequent state change.
// Callbacks chain: registering twice invokes both, most-recent first.
func (d *Dialog) OnState(f StateFunc) {
	for current := d.onStatePointer.Load(); current != nil; current = d.onStatePointer.Load() {
		cb := *current
		chained := StateFunc(func(s sip.DialogState) {
			f(s)
			cb(s)
		})
		if d.onStatePointer.CompareAndSwap(current, &chained) {
			return
		}
	}
	d.onStatePointer.Store(&f)
}

func (d *Dialog) setState(s sip.DialogState) {
	old := d.state.Swap(int32(s))
	if old == int32(s) {
		return
	}

	if s == sip.DialogStateTerminated {
		d.cancel()
	}

	if f := d.onStatePointer.Load(); f != nil {
		cb := *f
		cb(s)
	}
}

// State returns the current dialog state.
func (d *Dialog) State() sip.DialogState {
	return sip.DialogState(d.state.Load())
}

// CSeq returns the last CSeq number used within this dialog.
func (d *Dialog) CSeq() uint32 {
	return d.lastCSeqNo.Load()
}

// Context is canceled once the dialog reaches DialogStateTerminated.
func (d *Dialog) Context() context.Context {
	return d.ctx
}

// Store/Load/Delete attach arbitrary application values to the dialog,
// e.g. an associated media session handle.
func (d *Dialog) Store(key string, value any) { d.values.Store(key, value) }
func (d *Dialog) Load(key string) (any, bool)  { return d.values.Load(key) }
func (d *Dialog) Delete(key string)            { d.values.Delete(key) }

// nextCSeq advances and returns the dialog's local CSeq counter, per the
// monotonic-CSeq invariant of RFC 3261 12.2.1.1.
func (d *Dialog) nextCSeq() uint32 {
	return d.lastCSeqNo.Add(1)
}
