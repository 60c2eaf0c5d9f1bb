package dialog

import (
	"context"
	"errors"
	"fmt"

	"github.com/icholy/digest"

	"github.com/sipuago/sipua/sip"
)

// UAC manages dialogs this side originates via INVITE.
type UAC struct {
	client     RequestSender
	contactHDR sip.ContactHeader
	sessions   *Store[*Session]

	// early indexes in-progress dialogs by (call_id, from_tag, branch)
	// until the first provisional response carries a to-tag, since no
	// to-tag exists to key by before then.
	early *Store[*Session]
}

// NewUAC builds a UAC dialog manager. The contact header is attached to
// every INVITE this UAC sends; supply one Contact per transport binding.
func NewUAC(client RequestSender, contactHDR sip.ContactHeader) *UAC {
	return &UAC{
		client:     client,
		contactHDR: contactHDR,
		sessions:   NewStore[*Session](),
		early:      NewStore[*Session](),
	}
}

// inviteBranch returns the top Via branch of an INVITE, used as the early
// dialog key's third component before a to-tag exists.
func inviteBranch(req *sip.Request) string {
	via := req.Via()
	if via == nil {
		return ""
	}
	branch, _ := via.Params.Get("branch")
	return branch
}

// Session is a UAC-originated dialog: an early dialog until WaitAnswer
// observes a 2xx, at which point it is confirmed (before Ack is called).
type Session struct {
	Dialog
	uac      *UAC
	inviteTx *ClientTransaction
}

func (s *Session) dialogID() string { return s.ID }

// Invite builds and sends an INVITE, returning an early Session. Call
// WaitAnswer next to drive it to completion.
func (u *UAC) Invite(ctx context.Context, recipient sip.Uri, body []byte, headers ...sip.Header) (*Session, error) {
	req := sip.NewRequest(sip.INVITE, recipient)
	if body != nil {
		req.SetBody(body)
	}
	for _, h := range headers {
		req.AppendHeader(h)
	}
	return u.WriteInvite(ctx, req)
}

// WriteInvite sends a caller-built INVITE, for callers needing full control
// over headers before transmission.
func (u *UAC) WriteInvite(ctx context.Context, inviteRequest *sip.Request) (*Session, error) {
	inviteRequest.AppendHeader(&u.contactHDR)

	tx, err := u.client.TransactionRequest(ctx, inviteRequest)
	if err != nil {
		return nil, err
	}

	s := &Session{
		Dialog:   Dialog{InviteRequest: inviteRequest},
		uac:      u,
		inviteTx: tx,
	}
	s.InitWithState(sip.DialogStateEarly)

	from := inviteRequest.From()
	fromTag, _ := from.Params.Get("tag")
	u.early.Put(string(*inviteRequest.CallID()), fromTag, inviteBranch(inviteRequest), s)
	return s, nil
}

// AnswerOptions controls WaitAnswer's digest-auth retry behavior.
type AnswerOptions struct {
	OnResponse func(res *sip.Response)

	Username string
	Password string
}

// WaitAnswer blocks until the INVITE transaction reaches a final response,
// transparently retrying once on a 401/407 challenge if credentials were
// supplied. It cancels the transaction and sends CANCEL if ctx is canceled
// first. A non-2xx final response is returned as *ErrResponse.
func (s *Session) WaitAnswer(ctx context.Context, opts AnswerOptions) error {
	tx, inviteRequest := s.inviteTx, s.InviteRequest

	var r *sip.Response
	var err error
	for {
		select {
		case r = <-tx.Responses():
		case <-ctx.Done():
			defer tx.Terminate()
			if err := tx.Cancel(); err != nil {
				return errors.Join(err, ctx.Err())
			}
			return ctx.Err()
		case <-tx.Done():
			return errors.Join(fmt.Errorf("transaction terminated"), tx.Err())
		}

		if opts.OnResponse != nil {
			opts.OnResponse(r)
		}

		if r.IsSuccess() {
			break
		}
		if r.IsProvisional() {
			if to := r.To(); to != nil {
				if toTag, ok := to.Params.Get("tag"); ok {
					s.promoteEarly(toTag)
				}
			}
			continue
		}

		if r.StatusCode == sip.StatusProxyAuthRequired && opts.Password != "" {
			if h := inviteRequest.GetHeader("Proxy-Authorization"); h == nil {
				tx.Terminate()
				tx, err = s.digestRetry(ctx, inviteRequest, r, "Proxy-Authenticate", "Proxy-Authorization", opts)
				if err != nil {
					return err
				}
				continue
			}
		}

		if r.StatusCode == sip.StatusUnauthorized && opts.Password != "" {
			if h := inviteRequest.GetHeader("Authorization"); h == nil {
				tx.Terminate()
				tx, err = s.digestRetry(ctx, inviteRequest, r, "WWW-Authenticate", "Authorization", opts)
				if err != nil {
					return err
				}
				continue
			}
		}

		return &ErrResponse{Res: r}
	}

	from, to := inviteRequest.From(), r.To()
	fromTag, _ := from.Params.Get("tag")
	toTag, ok := to.Params.Get("tag")
	if !ok {
		return fmt.Errorf("missing tag param in To header")
	}
	callID := string(*inviteRequest.CallID())

	s.inviteTx = tx
	s.InviteResponse = r
	s.ID = sip.DialogIDMake(callID, fromTag, toTag)
	s.setState(sip.DialogStateConfirmed)

	s.uac.sessions.Put(callID, fromTag, toTag, s)
	return nil
}

// promoteEarly re-keys the session from the (call_id, from_tag, branch)
// index it was registered under in WriteInvite to (call_id, from_tag,
// to_tag), once the first provisional response carrying a to-tag arrives.
// Safe to call more than once (e.g. once per forked provisional); later
// calls simply re-add the session under its current to-tag.
func (s *Session) promoteEarly(toTag string) {
	from := s.InviteRequest.From()
	fromTag, _ := from.Params.Get("tag")
	callID := string(*s.InviteRequest.CallID())

	s.uac.early.Delete(callID, fromTag, inviteBranch(s.InviteRequest))
	s.uac.sessions.Put(callID, fromTag, toTag, s)
}

func (s *Session) digestRetry(ctx context.Context, req *sip.Request, res *sip.Response, challengeHdr, credHdr string, opts AnswerOptions) (*ClientTransaction, error) {
	authHeader := res.GetHeader(challengeHdr)
	if authHeader == nil {
		return nil, fmt.Errorf("missing %s header", challengeHdr)
	}
	chal, err := digest.ParseChallenge(authHeader.Value())
	if err != nil {
		return nil, fmt.Errorf("failed to parse challenge %s=%q: %w", challengeHdr, authHeader.Value(), err)
	}

	cred, err := digest.Digest(chal, digest.Options{
		Method:   sip.INVITE.String(),
		URI:      req.Recipient.Addr(),
		Username: opts.Username,
		Password: opts.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build digest: %w", err)
	}

	if cseq := req.CSeq(); cseq != nil {
		cseq.SeqNo++
	}
	req.RemoveHeader(credHdr)
	req.AppendHeader(sip.NewHeader(credHdr, cred.String()))
	// A retried request is a new client transaction (RFC 3261 17.1.3) and
	// needs its own branch; the old one would collide with the challenged
	// transaction still winding down.
	if via := req.Via(); via != nil {
		via.Params.Add("branch", sip.GenerateBranch())
	}

	return s.uac.client.TransactionRequest(ctx, req)
}

// Ack acknowledges the 2xx response that established the dialog.
func (s *Session) Ack(ctx context.Context) error {
	ack := sip.NewAckRequest(s.InviteRequest, s.InviteResponse, nil)
	return s.WriteAck(ctx, ack)
}

// WriteAck sends a caller-built ACK for full header control.
func (s *Session) WriteAck(ctx context.Context, ack *sip.Request) error {
	if err := s.uac.client.WriteRequest(ack); err != nil {
		return err
	}
	return nil
}

// Bye terminates an established dialog.
func (s *Session) Bye(ctx context.Context) error {
	bye := newByeRequestUAC(s.InviteRequest, s.InviteResponse, nil)
	return s.WriteBye(ctx, bye)
}

// WriteBye sends a caller-built BYE and always closes the session afterward.
func (s *Session) WriteBye(ctx context.Context, bye *sip.Request) error {
	defer s.Close()

	state := s.State()
	if state == sip.DialogStateTerminated {
		return nil
	}
	if state != sip.DialogStateConfirmed {
		return fmt.Errorf("dialog not confirmed, ACK not sent?")
	}

	tx, err := s.uac.client.TransactionRequest(ctx, bye)
	if err != nil {
		return err
	}
	defer s.inviteTx.Terminate()
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

// Close removes the session from the UAC's store. It never sends BYE or
// changes dialog state; callers drive the protocol explicitly via Bye.
func (s *Session) Close() error {
	callID := string(*s.InviteRequest.CallID())
	from := s.InviteRequest.From()
	fromTag, _ := from.Params.Get("tag")
	s.uac.early.Delete(callID, fromTag, inviteBranch(s.InviteRequest))
	if s.InviteResponse != nil {
		if to := s.InviteResponse.To(); to != nil {
			toTag, _ := to.Params.Get("tag")
			s.uac.sessions.Delete(callID, fromTag, toTag)
		}
	}
	return nil
}

// ReadBye should be invoked from the UA's BYE handler for an in-dialog BYE
// this UAC received (the peer hanging up a call we placed).
func (u *UAC) ReadBye(req *sip.Request, tx *ServerTransaction) error {
	callid := req.CallID()
	from := req.From()
	to := req.To()
	fromTag, _ := from.Params.Get("tag")
	toTag, _ := to.Params.Get("tag")

	s, ok := u.sessions.Get(string(*callid), fromTag, toTag)
	if !ok {
		return fmt.Errorf("callid=%q: %w", callid.Value(), ErrNotFound)
	}

	s.setState(sip.DialogStateTerminated)

	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	if err := tx.Respond(res); err != nil {
		return err
	}
	defer s.Close()
	defer s.inviteTx.Terminate()
	return nil
}

// newByeRequestUAC builds a BYE targeting the established dialog, reusing
// the remote target from the 2xx Contact when present (RFC 3261 15.1.1).
func newByeRequestUAC(inviteRequest *sip.Request, inviteResponse *sip.Response, body []byte) *sip.Request {
	recipient := &inviteRequest.Recipient
	if cont := inviteResponse.Contact(); cont != nil {
		recipient = &cont.Address
	}

	byeRequest := sip.NewRequest(sip.BYE, *recipient.Clone())
	byeRequest.SipVersion = inviteRequest.SipVersion

	if len(inviteRequest.GetHeaders("Route")) > 0 {
		sip.CopyHeaders("Route", inviteRequest, byeRequest)
	}

	// A BYE is its own transaction (RFC 3261 17.1.1.3) and needs its own
	// branch; reuse the invite's Via hop (same host/port/transport) rather
	// than inventing one from scratch.
	if h := inviteRequest.Via(); h != nil {
		via := h.Clone()
		via.Params.Add("branch", sip.GenerateBranch())
		byeRequest.AppendHeader(via)
	}

	maxForwardsHeader := sip.MaxForwardsHeader(70)
	byeRequest.AppendHeader(&maxForwardsHeader)
	if h := inviteRequest.From(); h != nil {
		byeRequest.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteResponse.To(); h != nil {
		byeRequest.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteRequest.CallID(); h != nil {
		byeRequest.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteRequest.CSeq(); h != nil {
		byeRequest.AppendHeader(sip.HeaderClone(h))
	}

	cseq := byeRequest.CSeq()
	cseq.SeqNo = cseq.SeqNo + 1
	cseq.MethodName = sip.BYE

	byeRequest.SetBody(body)
	byeRequest.SetTransport(inviteRequest.Transport())
	byeRequest.SetSource(inviteRequest.Source())
	return byeRequest
}
