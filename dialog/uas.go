package dialog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sipuago/sipua/sip"
	"github.com/sipuago/sipua/transaction"
)

// UAS manages dialogs this side accepts via incoming INVITE.
type UAS struct {
	client     RequestSender
	contactHDR sip.ContactHeader
	sessions   *Store[*ServerSession]
}

// NewUAS builds a UAS dialog manager. The contact header is attached to
// every response lacking one of its own.
func NewUAS(client RequestSender, contactHDR sip.ContactHeader) *UAS {
	return &UAS{
		client:     client,
		contactHDR: contactHDR,
		sessions:   NewStore[*ServerSession](),
	}
}

// ServerSession is a UAS-accepted dialog.
type ServerSession struct {
	Dialog
	inviteTx *ServerTransaction
	uas      *UAS
}

func (s *ServerSession) dialogID() string { return s.ID }

func (u *UAS) matchDialogRequest(req *sip.Request) (*ServerSession, error) {
	callid := req.CallID()
	from := req.From()
	to := req.To()
	if callid == nil || from == nil || to == nil {
		return nil, ErrOutsideDialog
	}
	fromTag, ok := from.Params.Get("tag")
	if !ok {
		return nil, ErrOutsideDialog
	}
	toTag, ok := to.Params.Get("tag")
	if !ok {
		return nil, ErrOutsideDialog
	}

	s, ok := u.sessions.Get(string(*callid), fromTag, toTag)
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// ReadInvite should be called from the UA's INVITE handler. It allocates a
// to-tag, builds the dialog ID, and registers an early session.
func (u *UAS) ReadInvite(req *sip.Request, tx *ServerTransaction) (*ServerSession, error) {
	if req.Contact() == nil {
		return nil, ErrNoContact
	}

	to := req.To()
	if _, hasTag := to.Params.Get("tag"); !hasTag {
		to.Params.Add("tag", uuid.NewString())
	}

	id, err := sip.DialogIDFromRequestUAS(req)
	if err != nil {
		return nil, err
	}

	s := &ServerSession{
		Dialog:   Dialog{ID: id, InviteRequest: req},
		inviteTx: tx,
		uas:      u,
	}
	s.InitWithState(sip.DialogStateEarly)

	from, to := req.From(), req.To()
	fromTag, _ := from.Params.Get("tag")
	toTag, _ := to.Params.Get("tag")
	u.sessions.Put(string(*req.CallID()), fromTag, toTag, s)
	return s, nil
}

// ReadAck should be called from the UA's ACK handler.
func (u *UAS) ReadAck(req *sip.Request, tx *ServerTransaction) error {
	s, err := u.matchDialogRequest(req)
	if err != nil {
		return err
	}
	s.setState(sip.DialogStateConfirmed)
	return nil
}

// ReadBye should be called from the UA's BYE handler.
func (u *UAS) ReadBye(req *sip.Request, tx *ServerTransaction) error {
	s, err := u.matchDialogRequest(req)
	if err != nil {
		return err
	}

	if cseq := req.CSeq(); cseq.SeqNo != s.CSeq()+1 {
		res := sip.NewResponseFromRequest(req, sip.StatusBadRequest, "CSeq is incorrect", nil)
		if err := tx.Respond(res); err != nil {
			return err
		}
		return ErrInvalidCSeq
	}

	defer s.Close()
	defer s.inviteTx.Terminate()

	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	if err := tx.Respond(res); err != nil {
		return err
	}
	s.setState(sip.DialogStateTerminated)
	return nil
}

// TransactionRequest issues an in-dialog request (e.g. re-INVITE), handling
// dialog CSeq increment and Record-Route-to-Route folding per RFC 3261
// 12.2.1.1.
func (s *ServerSession) TransactionRequest(ctx context.Context, req *sip.Request) (*ClientTransaction, error) {
	cseq := req.CSeq()
	if cseq == nil {
		cseq = &sip.CSeqHeader{SeqNo: s.CSeq(), MethodName: req.Method}
		req.AppendHeader(cseq)
	}

	if req.IsAck() || req.IsCancel() {
		cseq.SeqNo = s.CSeq()
	} else {
		cseq.SeqNo = s.nextCSeq()
	}

	hdrs := req.GetHeaders("Record-Route")
	for i := len(hdrs) - 1; i >= 0; i-- {
		req.AppendHeader(sip.NewHeader("Route", hdrs[i].Value()))
	}

	if rr := req.Route(); rr != nil {
		req.SetDestination(rr.Address.HostPort())
	}

	return s.uas.client.TransactionRequest(ctx, req)
}

// WriteRequest sends a caller-built in-dialog request without transaction tracking.
func (s *ServerSession) WriteRequest(req *sip.Request) error {
	return s.uas.client.WriteRequest(req)
}

// Close removes the session from the UAS's store.
func (s *ServerSession) Close() error {
	from, to := s.InviteRequest.From(), s.InviteRequest.To()
	fromTag, _ := from.Params.Get("tag")
	toTag, _ := to.Params.Get("tag")
	s.uas.sessions.Delete(string(*s.InviteRequest.CallID()), fromTag, toTag)
	return nil
}

// Respond answers the triggering INVITE; call repeatedly for provisional
// responses (100/180) and once more with the final response.
func (s *ServerSession) Respond(statusCode sip.StatusCode, reason string, body []byte, headers ...sip.Header) error {
	res := sip.NewResponseFromRequest(s.InviteRequest, int(statusCode), reason, body)
	for _, h := range headers {
		res.AppendHeader(h)
	}
	return s.WriteResponse(res)
}

// RespondSDP is a convenience wrapper for answering with an SDP body and the
// correct Content-Type.
func (s *ServerSession) RespondSDP(sdp []byte) error {
	if sdp == nil {
		return fmt.Errorf("sdp not provided")
	}
	res := sip.NewSDPResponseFromRequest(s.InviteRequest, sdp)
	return s.WriteResponse(res)
}

// WriteResponse sends a caller-built response, applying the UAS's default
// Contact header when the response lacks one, and folding a concurrently
// received CANCEL into ErrCanceled.
func (s *ServerSession) WriteResponse(res *sip.Response) error {
	tx := s.inviteTx

	if res.Contact() == nil {
		res.AppendHeader(&s.uas.contactHDR)
	}
	s.InviteResponse = res

	select {
	case req := <-tx.Cancels():
		tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil))
		return ErrCanceled
	case <-tx.Done():
		return fmt.Errorf("transaction terminated")
	default:
	}

	if !res.IsSuccess() {
		if res.IsProvisional() {
			return tx.Respond(res)
		}
		if err := tx.Respond(res); err != nil {
			return err
		}
		s.setState(sip.DialogStateTerminated)
		return nil
	}

	id, err := sip.DialogIDFromResponse(res)
	if err != nil {
		return err
	}
	if id != s.ID {
		return fmt.Errorf("dialog ID mismatch, Invite request headers changed?")
	}

	s.setState(sip.DialogStateConfirmed)
	return tx.Respond(res)
}

// Bye sends a BYE for a dialog in DialogStateConfirmed, which WriteResponse
// sets as soon as the 2xx is sent; it does not wait for the peer's ACK.
// In any other state it returns nil without sending anything.
func (s *ServerSession) Bye(ctx context.Context) error {
	state := s.State()
	if state == sip.DialogStateTerminated {
		return nil
	}
	if state != sip.DialogStateConfirmed {
		return nil
	}

	req, res := s.InviteRequest, s.InviteResponse
	if !res.IsSuccess() {
		return fmt.Errorf("cannot send BYE on a non-success response")
	}

	defer s.inviteTx.Terminate()

	for {
		if s.State() >= sip.DialogStateConfirmed {
			break
		}
		select {
		case <-s.inviteTx.Done():
		case <-time.After(transaction.T1):
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
		break
	}

	bye := newByeRequestUAS(req, res)

	callidHDR := bye.CallID()
	newFrom := bye.From()
	newTo := bye.To()
	newFromTag, _ := newFrom.Params.Get("tag")
	newToTag, _ := newTo.Params.Get("tag")
	byeID := sip.DialogIDMake(callidHDR.Value(), newFromTag, newToTag)
	if s.ID != byeID {
		return fmt.Errorf("non matching dialog ID %q %q", s.ID, byeID)
	}

	tx, err := s.TransactionRequest(ctx, bye)
	if err != nil {
		return err
	}
	defer tx.Terminate()

	select {
	case res := <-tx.Responses():
		if res.StatusCode != sip.StatusOK {
			return &ErrResponse{Res: res}
		}
		s.setState(sip.DialogStateTerminated)
		return nil
	case <-tx.Done():
		return tx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// newByeRequestUAS builds a BYE from the callee side of an established
// dialog, reversing From/To since the dialog's local party is now the
// original request's remote party.
func newByeRequestUAS(req *sip.Request, res *sip.Response) *sip.Request {
	cont := req.Contact()
	bye := sip.NewRequest(sip.BYE, cont.Address)

	from := res.From()
	to := res.To()
	callid := res.CallID()

	newFrom := &sip.FromHeader{
		DisplayName: to.DisplayName,
		Address:     to.Address,
		Params:      to.Params,
	}
	newTo := &sip.ToHeader{
		DisplayName: from.DisplayName,
		Address:     from.Address,
		Params:      from.Params,
	}

	bye.AppendHeader(newFrom)
	bye.AppendHeader(newTo)
	bye.AppendHeader(callid)

	return bye
}
