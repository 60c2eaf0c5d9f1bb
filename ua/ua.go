// Package ua implements the top-level SIP user agent: the request
// dispatcher that correlates incoming messages with transactions, dialogs,
// subscriptions and applicants, drives registration, and owns the
// socket-lifecycle coordination the teacher split between ua.go, client.go
// and server.go.
package ua

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sipuago/sipua/dialog"
	"github.com/sipuago/sipua/parser"
	"github.com/sipuago/sipua/registrar"
	"github.com/sipuago/sipua/sip"
	"github.com/sipuago/sipua/transaction"
	"github.com/sipuago/sipua/transport"
)

// defaultCloseGrace is the window Stop sleeps, when subscriptions or
// applicants are still tracked, before tearing down the transport layer.
const defaultCloseGrace = 2 * time.Second

// UA is the dispatcher every inbound/outbound request and response flows
// through: one transport layer, one transaction layer, one dialog manager
// per role, and (optionally) one registration.
type UA struct {
	cfg         Config
	dnsResolver *net.Resolver
	closeGrace  time.Duration

	metricsRegisterer prometheus.Registerer

	tp     *transport.Layer
	tx     *transaction.Layer
	sender *requestSender

	contact sip.ContactHeader

	uac *dialog.UAC
	uas *dialog.UAS

	registrator *registrar.Registrator

	subscriptions *subscriptionStore
	applicants    *applicantStore

	Events  *EventBus
	metrics *Metrics

	log zerolog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// New builds a UA from the supplied options. At minimum WithConfig must be
// applied so the UA knows its own URI.
func New(options ...UAOption) (*UA, error) {
	u := &UA{
		dnsResolver:   net.DefaultResolver,
		closeGrace:    defaultCloseGrace,
		subscriptions: newSubscriptionStore(),
		applicants:    newApplicantStore(),
		Events:        &EventBus{},
		closed:        make(chan struct{}),
	}
	for _, o := range options {
		if err := o(u); err != nil {
			return nil, err
		}
	}
	if u.cfg.URI.Host == "" {
		return nil, &sip.ConfigurationError{Reason: "WithConfig must be supplied"}
	}

	u.log = log.Logger.With().Str("caller", "ua.UA").Logger()

	sipParser := parser.NewParser()
	u.tp = transport.NewLayer(u.dnsResolver, sipParser, nil)
	u.tx = transaction.NewLayer(u.tp)
	u.sender = newRequestSender(u.tx, u.tp)

	contactURI := u.cfg.ContactURI
	if contactURI.Host == "" {
		contactURI = u.cfg.URI
	}
	if u.cfg.InstanceID == "" {
		u.cfg.InstanceID = instanceID()
	}
	params := sip.NewParams()
	params.Add("+sip.instance", fmt.Sprintf("<urn:uuid:%s>", u.cfg.InstanceID))
	u.contact = sip.ContactHeader{
		DisplayName: u.cfg.DisplayName,
		Address:     contactURI,
		Params:      params,
	}

	u.uac = dialog.NewUAC(u.sender, u.contact)
	u.uas = dialog.NewUAS(u.sender, u.contact)

	if u.cfg.Register {
		registrarURI := u.cfg.RegistrarServer
		if registrarURI.Host == "" {
			registrarURI = u.cfg.URI
		}
		username := u.cfg.AuthorizationUser
		if username == "" {
			username = u.cfg.URI.User
		}
		expires := u.cfg.RegisterExpires
		if expires == 0 {
			expires = 3600
		}
		reg, err := registrar.NewRegistrator(u.sender, u.cfg.URI, registrarURI, contactURI,
			registrar.WithCredentials(username, u.cfg.Password),
			registrar.WithRealm(u.cfg.Realm),
			registrar.WithExpires(expires),
			registrar.WithInstanceID(u.cfg.InstanceID),
			registrar.WithOnState(u.onRegistrationState),
		)
		if err != nil {
			return nil, err
		}
		u.registrator = reg
	}

	u.tx.OnRequest(u.receiveRequest)
	u.tx.UnhandledResponseHandler(u.receiveResponse)

	registerer := u.metricsRegisterer
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	u.metrics = NewMetrics(registerer)
	u.metrics.bindEvents(u.Events, u.subscriptions, u.applicants)

	return u, nil
}

func (u *UA) onRegistrationState(s registrar.State) {
	switch s {
	case registrar.StateRegistered:
		u.Events.emitRegistered(RegisteredEvent{Expires: u.cfg.RegisterExpires})
	case registrar.StateUnregistered:
		u.Events.emitUnregistered(UnregisteredEvent{})
	case registrar.StateFailed:
		u.Events.emitRegistrationFailed(RegistrationFailedEvent{})
	}
}

// Start binds every configured socket in background goroutines and, if
// Config.Register is set, sends the initial REGISTER and waits for that
// exchange to finish before returning.
func (u *UA) Start(ctx context.Context) error {
	for _, sc := range u.cfg.Sockets {
		sc := sc
		u.Events.emitSocketConnecting(SocketEvent{Network: sc.Network, Addr: sc.Addr})
		go func() {
			var err error
			if sc.TLSConfig != nil {
				err = u.tp.ListenAndServeTLS(ctx, sc.Network, sc.Addr, sc.TLSConfig)
			} else {
				err = u.tp.ListenAndServe(ctx, sc.Network, sc.Addr)
			}
			if err != nil {
				u.Events.emitSocketDisconnected(SocketEvent{Network: sc.Network, Addr: sc.Addr, Cause: err})
			}
		}()
		u.Events.emitSocketConnected(SocketEvent{Network: sc.Network, Addr: sc.Addr})
	}

	if u.registrator != nil {
		if err := u.registrator.Register(ctx); err != nil {
			return &sip.AuthError{Reason: err.Error()}
		}
	}
	return nil
}

// Stop unregisters and closes the registrator, sleeps the close-grace
// window if any subscriptions or applicants are still tracked, drops all
// subscriptions, then closes the transaction and transport layers. Dialog
// sessions are neither terminated nor counted when deciding whether to wait.
func (u *UA) Stop() {
	u.closeOnce.Do(func() {
		close(u.closed)
		if u.registrator != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := u.registrator.Unregister(ctx); err != nil {
				u.log.Warn().Err(err).Msg("unregister on stop failed")
			}
			u.registrator.Close()
		}

		if u.subscriptions.Len() > 0 || u.applicants.Len() > 0 {
			time.Sleep(u.closeGrace)
		}
		u.subscriptions.DeleteAll()

		u.tx.Close()
		u.tp.Close()
	})
}

// Invite starts a new outgoing dialog.
func (u *UA) Invite(ctx context.Context, recipient sip.Uri, body []byte, headers ...sip.Header) (*dialog.Session, error) {
	return u.uac.Invite(ctx, recipient, body, headers...)
}

// receiveRequest is the transaction layer's single entry point for every
// inbound request, implementing spec.md §4.8's dispatch algorithm: absorb
// retransmissions (handled already by the transaction layer below this),
// then route by method, in-dialog first, out-of-dialog handlers second, and
// a 405 for anything unrecognized.
func (u *UA) receiveRequest(req *sip.Request, tx *transaction.ServerTx) {
	u.log.Debug().Str("method", req.Method.String()).Msg("dispatching request")

	ruriUser := req.Recipient.User
	if ruriUser != u.cfg.URI.User && ruriUser != u.cfg.ContactURI.User && !req.IsAck() {
		u.respond(tx, req, sip.StatusNotFound, "Not Found")
		return
	}

	if u.cfg.DenySIPS && req.Recipient.Scheme == "sips" {
		u.respond(tx, req, sip.StatusUnsupportedURIScheme, "Unsupported URI Scheme")
		return
	}

	switch req.Method {
	case sip.INVITE:
		u.handleInvite(req, tx)
	case sip.ACK:
		u.handleAck(req, tx)
	case sip.BYE:
		u.handleBye(req, tx)
	case sip.CANCEL:
		// CANCEL for a matched INVITE server transaction is delivered
		// through ServerSession.WriteResponse's tx.Cancels() select, not
		// here: a CANCEL only reaches this handler when no INVITE
		// transaction matched it, meaning it arrived too late.
		u.respond(tx, req, sip.StatusCallTransactionDoesNotExist, "Call/Transaction Does Not Exist")
	case sip.OPTIONS:
		u.handleOptions(req, tx)
	case sip.MESSAGE:
		u.handleMessage(req, tx)
	case sip.SUBSCRIBE:
		u.handleSubscribe(req, tx)
	case sip.NOTIFY:
		u.handleNotify(req, tx)
	case sip.REGISTER:
		// This UA registers outward as a client; it does not act as a
		// registrar for inbound REGISTER requests.
		u.respond(tx, req, sip.StatusNotImplemented, "Not Implemented")
	default:
		u.respond(tx, req, sip.StatusMethodNotAllowed, "Method Not Allowed")
	}
}

func (u *UA) handleInvite(req *sip.Request, tx *transaction.ServerTx) {
	if replaces, ok := req.GetHeader("Replaces").(*sip.ReplacesHeader); ok && replaces != nil {
		if _, err := dialog.ResolveReplaces(u.uas, replaces); err != nil {
			u.respond(tx, req, sip.StatusNotFound, "Replaces target not found")
			return
		}
	}

	session, err := u.uas.ReadInvite(req, tx)
	if err != nil {
		u.respond(tx, req, sip.StatusBadRequest, "Malformed dialog-forming INVITE")
		return
	}
	callID := req.CallID().Value()
	u.Events.emitNewSession(NewSessionEvent{CallID: callID})
	u.Events.emitNewTransaction(TransactionEvent{Key: tx.Key()})
	go func() {
		<-tx.Done()
		u.Events.emitTransactionDestroyed(TransactionEvent{Key: tx.Key()})
	}()
	_ = session
}

func (u *UA) handleAck(req *sip.Request, tx *transaction.ServerTx) {
	if err := u.uas.ReadAck(req, tx); err != nil {
		u.log.Debug().Err(err).Msg("ACK outside known dialog, dropped")
	}
}

func (u *UA) handleBye(req *sip.Request, tx *transaction.ServerTx) {
	if err := u.uas.ReadBye(req, tx); err == nil {
		return
	}
	if err := u.uac.ReadBye(req, tx); err == nil {
		return
	}
	u.respond(tx, req, sip.StatusCallTransactionDoesNotExist, "Call/Transaction Does Not Exist")
}

func (u *UA) handleOptions(req *sip.Request, tx *transaction.ServerTx) {
	callID := req.CallID().Value()
	u.applicants.Enter(callID)
	defer u.applicants.Leave(callID)

	u.Events.emitNewOptions(NewOptionsEvent{CallID: callID})
	res := sip.NewResponseFromRequest(req, int(sip.StatusOK), "OK", nil)
	res.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, BYE, CANCEL, OPTIONS, MESSAGE, SUBSCRIBE, NOTIFY"))
	_ = tx.Respond(res)
}

func (u *UA) handleMessage(req *sip.Request, tx *transaction.ServerTx) {
	callID := req.CallID().Value()
	u.applicants.Enter(callID)
	defer u.applicants.Leave(callID)

	u.Events.emitNewMessage(NewMessageEvent{CallID: callID})
	if !u.Events.hasNewMessageHandlers() {
		u.respond(tx, req, sip.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	u.respond(tx, req, sip.StatusOK, "OK")
}

func (u *UA) handleSubscribe(req *sip.Request, tx *transaction.ServerTx) {
	if !u.Events.hasNewSubscribeHandlers() {
		u.respond(tx, req, sip.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	callID := req.CallID().Value()
	event := ""
	if h := req.GetHeader("Event"); h != nil {
		event = h.Value()
	}

	expires := uint32(3600)
	if h := req.GetHeader("Expires"); h != nil {
		if n, err := parseUint32(h.Value()); err == nil {
			expires = n
		}
	}

	sub := &Subscription{ID: callID, Event: event, Expires: expires}
	u.subscriptions.Put(sub)
	u.Events.emitNewSubscribe(NewSubscribeEvent{CallID: callID})

	res := sip.NewResponseFromRequest(req, int(sip.StatusOK), "OK", nil)
	res.AppendHeader(sip.NewHeader("Expires", fmt.Sprintf("%d", expires)))
	_ = tx.Respond(res)
}

func (u *UA) handleNotify(req *sip.Request, tx *transaction.ServerTx) {
	callID := req.CallID().Value()
	if _, ok := u.subscriptions.Get(callID); !ok {
		u.respond(tx, req, sip.StatusCallTransactionDoesNotExist, "Call/Transaction Does Not Exist")
		return
	}
	u.respond(tx, req, sip.StatusOK, "OK")
}

// receiveResponse handles responses the transaction layer could not match
// to an outstanding client transaction (RFC 3261 17.1.1.2): stray or
// retransmitted final responses are logged and dropped.
func (u *UA) receiveResponse(res *sip.Response) {
	u.log.Debug().Int("status", int(res.StatusCode)).Msg("unmatched response, dropping")
	u.Events.emitSIPEvent(SIPEvent{Method: "response"})
}

func (u *UA) respond(tx *transaction.ServerTx, req *sip.Request, status sip.StatusCode, reason string) {
	res := sip.NewResponseFromRequest(req, int(status), reason, nil)
	if err := tx.Respond(res); err != nil {
		u.log.Error().Err(err).Msg("failed to send response")
	}
}

func parseUint32(s string) (uint32, error) {
	var n uint64
	_, err := fmt.Sscanf(s, "%d", &n)
	return uint32(n), err
}

// instanceID generates a stable-looking RFC 5626 +sip.instance value when a
// caller doesn't supply one via Config.
func instanceID() string {
	return uuid.NewString()
}
