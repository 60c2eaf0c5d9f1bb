package ua

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sipuago/sipua/sip"
	"github.com/sipuago/sipua/siptest"
)

func testConfig() Config {
	return Config{
		URI: sip.Uri{User: "alice", Host: "example.com"},
	}
}

func newTestUA(t *testing.T) *UA {
	t.Helper()
	u, err := New(WithConfig(testConfig()))
	require.NoError(t, err)
	return u
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New()
	require.Error(t, err)
	require.ErrorIs(t, err, sip.ErrConfiguration)
}

func TestNewAppliesDefaults(t *testing.T) {
	u := newTestUA(t)
	require.NotNil(t, u.Events)
	require.Equal(t, defaultCloseGrace, u.closeGrace)
	require.NotEmpty(t, u.cfg.InstanceID)
}

func testRequest(t *testing.T, method sip.RequestMethod) *sip.Request {
	t.Helper()
	req := sip.NewRequest(method, sip.Uri{User: "alice", Host: "example.com"})
	req.AppendHeader(&sip.ViaHeader{
		ProtocolName:    "SIP",
		ProtocolVersion: "2.0",
		Transport:       "udp",
		Host:            "127.0.0.1",
		Port:            5060,
		Params:          sip.NewParams(),
	})
	from := &sip.FromHeader{Address: sip.Uri{User: "bob", Host: "test.com"}, Params: sip.NewParams()}
	from.Params.Add("tag", "fromtag")
	req.AppendHeader(from)
	req.AppendHeader(&sip.ToHeader{Address: sip.Uri{User: "alice", Host: "example.com"}, Params: sip.NewParams()})
	callID := sip.CallID("test-call-id-" + method.String())
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeq{SeqNo: 1, MethodName: method})
	req.AppendHeader(&sip.ContactHeader{Address: sip.Uri{User: "bob", Host: "127.0.0.1", Port: 5060}})
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	return req
}

func TestReceiveRequestOptionsRespondsOK(t *testing.T) {
	u := newTestUA(t)

	var got NewOptionsEvent
	u.Events.OnNewOptions(func(ev NewOptionsEvent) { got = ev })

	req := testRequest(t, sip.OPTIONS)
	rec := siptest.NewServerTxRecorder(req)

	u.receiveRequest(req, rec.ServerTx)

	resps := rec.Result()
	require.Len(t, resps, 1)
	require.Equal(t, sip.StatusOK, resps[0].StatusCode)
	require.Equal(t, "test-call-id-OPTIONS", got.CallID)
}

func TestReceiveRequestMessageRespondsOK(t *testing.T) {
	u := newTestUA(t)
	u.Events.OnNewMessage(func(NewMessageEvent) {})

	req := testRequest(t, sip.MESSAGE)
	rec := siptest.NewServerTxRecorder(req)

	u.receiveRequest(req, rec.ServerTx)

	resps := rec.Result()
	require.Len(t, resps, 1)
	require.Equal(t, sip.StatusOK, resps[0].StatusCode)
}

func TestReceiveRequestMessageWithoutListenerRejected(t *testing.T) {
	u := newTestUA(t)

	req := testRequest(t, sip.MESSAGE)
	rec := siptest.NewServerTxRecorder(req)

	u.receiveRequest(req, rec.ServerTx)

	resps := rec.Result()
	require.Len(t, resps, 1)
	require.Equal(t, sip.StatusMethodNotAllowed, resps[0].StatusCode)
}

func TestReceiveRequestSubscribeWithoutListenerRejected(t *testing.T) {
	u := newTestUA(t)

	sub := testRequest(t, sip.SUBSCRIBE)
	sub.AppendHeader(sip.NewHeader("Event", "presence"))
	rec := siptest.NewServerTxRecorder(sub)
	u.receiveRequest(sub, rec.ServerTx)

	resps := rec.Result()
	require.Len(t, resps, 1)
	require.Equal(t, sip.StatusMethodNotAllowed, resps[0].StatusCode)
	require.Equal(t, 0, u.subscriptions.Len())
}

func TestReceiveRequestSubscribeThenNotify(t *testing.T) {
	u := newTestUA(t)
	u.Events.OnNewSubscribe(func(NewSubscribeEvent) {})

	sub := testRequest(t, sip.SUBSCRIBE)
	sub.AppendHeader(sip.NewHeader("Event", "presence"))
	subRec := siptest.NewServerTxRecorder(sub)
	u.receiveRequest(sub, subRec.ServerTx)

	resps := subRec.Result()
	require.Len(t, resps, 1)
	require.Equal(t, sip.StatusOK, resps[0].StatusCode)
	require.Equal(t, 1, u.subscriptions.Len())

	notify := testRequest(t, sip.NOTIFY)
	notifyRec := siptest.NewServerTxRecorder(notify)
	u.receiveRequest(notify, notifyRec.ServerTx)

	notifyResps := notifyRec.Result()
	require.Len(t, notifyResps, 1)
	require.Equal(t, sip.StatusOK, notifyResps[0].StatusCode)
}

func TestReceiveRequestNotifyWithoutSubscriptionFails(t *testing.T) {
	u := newTestUA(t)

	notify := testRequest(t, sip.NOTIFY)
	rec := siptest.NewServerTxRecorder(notify)
	u.receiveRequest(notify, rec.ServerTx)

	resps := rec.Result()
	require.Len(t, resps, 1)
	require.Equal(t, sip.StatusCallTransactionDoesNotExist, resps[0].StatusCode)
}

func TestReceiveRequestRegisterNotImplemented(t *testing.T) {
	u := newTestUA(t)

	req := testRequest(t, sip.REGISTER)
	rec := siptest.NewServerTxRecorder(req)
	u.receiveRequest(req, rec.ServerTx)

	resps := rec.Result()
	require.Len(t, resps, 1)
	require.Equal(t, sip.StatusNotImplemented, resps[0].StatusCode)
}

func TestReceiveRequestUnknownMethodRejected(t *testing.T) {
	u := newTestUA(t)

	req := testRequest(t, sip.RequestMethod("PUBLISH"))
	rec := siptest.NewServerTxRecorder(req)
	u.receiveRequest(req, rec.ServerTx)

	resps := rec.Result()
	require.Len(t, resps, 1)
	require.Equal(t, sip.StatusMethodNotAllowed, resps[0].StatusCode)
}

func TestReceiveRequestRejectsMismatchedRURI(t *testing.T) {
	u := newTestUA(t)

	req := sip.NewRequest(sip.OPTIONS, sip.Uri{User: "nobody-here", Host: "example.com"})
	req.AppendHeader(&sip.ViaHeader{
		ProtocolName: "SIP", ProtocolVersion: "2.0", Transport: "udp",
		Host: "127.0.0.1", Port: 5060, Params: sip.NewParams(),
	})
	from := &sip.FromHeader{Address: sip.Uri{User: "bob", Host: "test.com"}, Params: sip.NewParams()}
	from.Params.Add("tag", "fromtag")
	req.AppendHeader(from)
	req.AppendHeader(&sip.ToHeader{Address: sip.Uri{User: "nobody-here", Host: "example.com"}, Params: sip.NewParams()})
	callID := sip.CallID("test-call-id-mismatch")
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeq{SeqNo: 1, MethodName: sip.OPTIONS})
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	rec := siptest.NewServerTxRecorder(req)
	u.receiveRequest(req, rec.ServerTx)

	resps := rec.Result()
	require.Len(t, resps, 1)
	require.Equal(t, sip.StatusNotFound, resps[0].StatusCode)
}

func TestReceiveRequestDeniesSIPSWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.DenySIPS = true
	u, err := New(WithConfig(cfg))
	require.NoError(t, err)
	u.Events.OnNewOptions(func(NewOptionsEvent) {})

	req := testRequest(t, sip.OPTIONS)
	req.Recipient.Scheme = "sips"
	rec := siptest.NewServerTxRecorder(req)

	u.receiveRequest(req, rec.ServerTx)

	resps := rec.Result()
	require.Len(t, resps, 1)
	require.Equal(t, sip.StatusUnsupportedURIScheme, resps[0].StatusCode)
}

func TestStopIsIdempotent(t *testing.T) {
	u := newTestUA(t)
	u.Stop()
	require.NotPanics(t, func() { u.Stop() })
}
