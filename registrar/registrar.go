// Package registrar implements the RFC 3261 10 REGISTER client side: a
// Registrator that keeps exactly one outstanding binding refreshed against a
// registrar server, following digest challenges and interval renegotiation.
package registrar

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/icholy/digest"
	"github.com/rs/zerolog"

	"github.com/sipuago/sipua/sip"
	"github.com/sipuago/sipua/transaction"
)

// ClientTransaction aliases the concrete transaction package type for the
// same reason package dialog does: the Registrator always drives a real
// client transaction FSM, never a locally re-abstracted one.
type ClientTransaction = transaction.ClientTx

// RequestSender is the transport binding a Registrator drives requests
// through. Satisfied by transaction.Layer wrapped with the same
// TransactionRequest/WriteRequest shape the dialog package uses, so a
// single adapter in package ua serves both.
type RequestSender interface {
	TransactionRequest(ctx context.Context, req *sip.Request) (*ClientTransaction, error)
}

// State is the Registrator's lifecycle, mirroring the unregistered/
// registering/registered vocabulary a UA's event bus reports to callers.
type State int32

const (
	StateUnregistered State = iota
	StateRegistering
	StateRegistered
	StateFailed
)

// Registrator owns exactly one outstanding REGISTER binding: it builds the
// request, retries once on a 401/407 challenge and once more on a 423
// Interval Too Brief, and refreshes the binding at 90% of the granted
// Expires, per spec's Registrator design.
type Registrator struct {
	client RequestSender
	log    zerolog.Logger

	registrar  sip.Uri
	aor        sip.Uri
	contactURI sip.Uri
	instanceID string

	username string
	password string
	realm    string
	expires  uint32

	mu       sync.Mutex
	state    State
	callID   sip.CallID
	fromTag  string
	cseq     uint32
	refresh  *time.Timer
	stopOnce sync.Once
	stopCh   chan struct{}

	onState func(State)
}

// RegistratorOption configures a Registrator at construction, mirroring
// the teacher's functional-options pattern used for Client/Server/UserAgent.
type RegistratorOption func(r *Registrator) error

func WithCredentials(username, password string) RegistratorOption {
	return func(r *Registrator) error {
		r.username = username
		r.password = password
		return nil
	}
}

func WithRealm(realm string) RegistratorOption {
	return func(r *Registrator) error {
		r.realm = realm
		return nil
	}
}

func WithExpires(expires uint32) RegistratorOption {
	return func(r *Registrator) error {
		r.expires = expires
		return nil
	}
}

func WithInstanceID(id string) RegistratorOption {
	return func(r *Registrator) error {
		r.instanceID = id
		return nil
	}
}

func WithLogger(log zerolog.Logger) RegistratorOption {
	return func(r *Registrator) error {
		r.log = log
		return nil
	}
}

func WithOnState(f func(State)) RegistratorOption {
	return func(r *Registrator) error {
		r.onState = f
		return nil
	}
}

// NewRegistrator builds a Registrator for aor, registering against
// registrarURI through contactURI, with its own Call-ID and From-tag
// kept for the whole lifetime of the binding (RFC 3261 10.2).
func NewRegistrator(client RequestSender, aor, registrarURI, contactURI sip.Uri, options ...RegistratorOption) (*Registrator, error) {
	r := &Registrator{
		client:     client,
		log:        zerolog.Nop(),
		registrar:  registrarURI,
		aor:        aor,
		contactURI: contactURI,
		expires:    3600,
		callID:     sip.CallID(uuid.NewString()),
		fromTag:    sip.GenerateTagN(16),
		cseq:       1,
		stopCh:     make(chan struct{}),
	}
	for _, o := range options {
		if err := o(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registrator) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	if r.onState != nil {
		r.onState(s)
	}
}

// State returns the Registrator's current lifecycle state.
func (r *Registrator) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Register sends an initial REGISTER and, on success, arms the refresh
// timer. It blocks until the REGISTER exchange, including any challenge
// retry, has completed.
func (r *Registrator) Register(ctx context.Context) error {
	r.setState(StateRegistering)
	res, err := r.do(ctx, r.expires)
	if err != nil {
		r.setState(StateFailed)
		return err
	}

	granted := r.grantedExpires(res)
	r.setState(StateRegistered)
	r.armRefresh(granted)
	return nil
}

// Unregister sends a REGISTER with Expires: 0, per RFC 3261 10.2.2, and
// cancels the refresh timer regardless of outcome.
func (r *Registrator) Unregister(ctx context.Context) error {
	r.stopRefresh()
	_, err := r.do(ctx, 0)
	r.setState(StateUnregistered)
	return err
}

// Close stops the refresh timer without deregistering, for shutdown paths
// that do not want to wait on the network.
func (r *Registrator) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.stopRefresh()
}

func (r *Registrator) stopRefresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refresh != nil {
		r.refresh.Stop()
	}
}

func (r *Registrator) armRefresh(expires uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refresh != nil {
		r.refresh.Stop()
	}
	if expires == 0 {
		return
	}
	delay := time.Duration(float64(expires)*0.9) * time.Second
	r.refresh = time.AfterFunc(delay, func() {
		select {
		case <-r.stopCh:
			return
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 32*time.Second)
		defer cancel()
		if err := r.Register(ctx); err != nil {
			r.log.Error().Err(err).Msg("registration refresh failed")
		}
	})
}

func (r *Registrator) grantedExpires(res *sip.Response) uint32 {
	if exp := res.GetHeader("Expires"); exp != nil {
		if n, err := strconv.Atoi(exp.Value()); err == nil {
			return uint32(n)
		}
	}
	return r.expires
}

// do builds and sends one REGISTER, retrying on a digest challenge and on a
// 423 Interval Too Brief per spec's Open Questions decision (resend once
// with the server's Min-Expires value).
func (r *Registrator) do(ctx context.Context, expires uint32) (*sip.Response, error) {
	req := r.buildRequest(expires)
	res, err := r.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}

	switch res.StatusCode {
	case sip.StatusUnauthorized, sip.StatusProxyAuthRequired:
		res, err = r.retryWithChallenge(ctx, req, res)
		if err != nil {
			return nil, err
		}
	}

	if res.StatusCode == sip.StatusIntervalTooBrief {
		if minExp := res.GetHeader("Min-Expires"); minExp != nil {
			if n, convErr := strconv.Atoi(minExp.Value()); convErr == nil {
				retry := r.buildRequest(uint32(n))
				res, err = r.roundTrip(ctx, retry)
				if err != nil {
					return nil, err
				}
				if res.StatusCode == sip.StatusUnauthorized || res.StatusCode == sip.StatusProxyAuthRequired {
					res, err = r.retryWithChallenge(ctx, retry, res)
					if err != nil {
						return nil, err
					}
				}
			}
		}
	}

	if res.StatusCode != sip.StatusOK {
		return res, fmt.Errorf("registration failed: %s", res.StartLine())
	}
	return res, nil
}

func (r *Registrator) retryWithChallenge(ctx context.Context, req *sip.Request, res *sip.Response) (*sip.Response, error) {
	headerName := "WWW-Authenticate"
	credName := "Authorization"
	if res.StatusCode == sip.StatusProxyAuthRequired {
		headerName = "Proxy-Authenticate"
		credName = "Proxy-Authorization"
	}

	authHDR := res.GetHeader(headerName)
	if authHDR == nil {
		return res, fmt.Errorf("challenge response missing %s", headerName)
	}
	chal, err := digest.ParseChallenge(authHDR.Value())
	if err != nil {
		return res, fmt.Errorf("fail to parse challenge: %w", err)
	}
	chal.Algorithm = sip.ASCIIToUpper(chal.Algorithm)

	cred, err := digest.Digest(chal, digest.Options{
		Method:   sip.REGISTER.String(),
		URI:      r.registrar.Addr(),
		Username: r.username,
		Password: r.password,
	})
	if err != nil {
		return res, fmt.Errorf("fail to build digest: %w", err)
	}

	r.mu.Lock()
	r.cseq++
	cseqNo := r.cseq
	r.mu.Unlock()

	if cseqHDR := req.CSeq(); cseqHDR != nil {
		cseqHDR.SeqNo = cseqNo
	}
	req.RemoveHeader(credName)
	req.AppendHeader(sip.NewHeader(credName, cred.String()))
	req.RemoveHeader("Via")

	return r.roundTrip(ctx, req)
}

func (r *Registrator) buildRequest(expires uint32) *sip.Request {
	req := sip.NewRequest(sip.REGISTER, r.registrar)

	from := &sip.FromHeader{Address: r.aor, Params: sip.NewParams()}
	from.Params.Add("tag", r.fromTag)
	req.AppendHeader(from)

	req.AppendHeader(&sip.ToHeader{Address: r.aor, Params: sip.NewParams()})

	callID := r.callID
	req.AppendHeader(&callID)

	r.mu.Lock()
	r.cseq++
	cseqNo := r.cseq
	r.mu.Unlock()
	req.AppendHeader(&sip.CSeq{SeqNo: cseqNo, MethodName: sip.REGISTER})

	contact := &sip.ContactHeader{Address: r.contactURI, Params: sip.NewParams()}
	if r.instanceID != "" {
		contact.Params.Add("+sip.instance", fmt.Sprintf("<urn:uuid:%s>", r.instanceID))
	}
	req.AppendHeader(contact)

	exp := sip.Expires(expires)
	req.AppendHeader(&exp)

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	return req
}

func (r *Registrator) roundTrip(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	tx, err := r.client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	defer tx.Terminate()

	for {
		select {
		case res := <-tx.Responses():
			if res.IsProvisional() {
				continue
			}
			return res, nil
		case <-tx.Done():
			return nil, tx.Err()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
