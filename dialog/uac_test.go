package dialog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sipuago/sipua/dialog"
	"github.com/sipuago/sipua/sip"
	"github.com/sipuago/sipua/siptest"
)

// recordingSender wraps siptest.ClientTxRequester to also capture requests
// sent outside a transaction (ACK), which the embedded fake otherwise
// discards into a throwaway connection.
type recordingSender struct {
	*siptest.ClientTxRequester
	written []*sip.Request
}

func (s *recordingSender) WriteRequest(req *sip.Request) error {
	s.written = append(s.written, req)
	return nil
}

func testUACInvite(t *testing.T) *sip.Request {
	t.Helper()
	req := sip.NewRequest(sip.INVITE, sip.Uri{User: "bob", Host: "test.com"})
	req.AppendHeader(&sip.ViaHeader{
		ProtocolName:    "SIP",
		ProtocolVersion: "2.0",
		Transport:       "udp",
		Host:            "127.0.0.1",
		Port:            5060,
		Params:          sip.NewParams(),
	})
	req.Via().Params.Add("branch", "z9hG4bK-test-branch")
	from := &sip.FromHeader{Address: sip.Uri{User: "alice", Host: "example.com"}, Params: sip.NewParams()}
	from.Params.Add("tag", "alicetag")
	req.AppendHeader(from)
	req.AppendHeader(&sip.ToHeader{Address: sip.Uri{User: "bob", Host: "test.com"}, Params: sip.NewParams()})
	callID := sip.CallID("uac-test-call-id")
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeq{SeqNo: 1, MethodName: sip.INVITE})
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	return req
}

// inviteResponse builds a response to req, stamping a To-tag when one is
// supplied (a 100 Trying or an early un-forked challenge may carry none).
func inviteResponse(req *sip.Request, status int, reason, toTag string) *sip.Response {
	res := sip.NewResponseFromRequest(req, status, reason, nil)
	if toTag != "" {
		if to := res.To(); to != nil {
			to.Params.Add("tag", toTag)
		}
	}
	return res
}

func TestUACWriteInviteThenWaitAnswerSuccess(t *testing.T) {
	sender := &recordingSender{ClientTxRequester: &siptest.ClientTxRequester{}}
	sender.OnRequest = func(req *sip.Request) *sip.Response {
		return inviteResponse(req, sip.StatusOK, "OK", "bobtag")
	}

	uac := dialog.NewUAC(sender, sip.ContactHeader{Address: sip.Uri{User: "alice", Host: "127.0.0.1", Port: 5060}})

	invite := testUACInvite(t)
	session, err := uac.WriteInvite(context.Background(), invite)
	require.NoError(t, err)
	require.Equal(t, sip.DialogStateEarly, session.State())

	err = session.WaitAnswer(context.Background(), dialog.AnswerOptions{})
	require.NoError(t, err)
	require.Equal(t, sip.DialogStateConfirmed, session.State())
	require.NotEmpty(t, session.ID)
	require.Equal(t, sip.StatusOK, session.InviteResponse.StatusCode)
}

func TestUACWaitAnswerPromotesEarlyDialogOnProvisional(t *testing.T) {
	responder := &siptest.ClientTxRequesterResponder{
		OnRequest: func(req *sip.Request, w *siptest.ClientTxResponder) {
			w.Receive(inviteResponse(req, sip.StatusRinging, "Ringing", "earlytag"))
			w.Receive(inviteResponse(req, sip.StatusOK, "OK", "earlytag"))
		},
	}

	uac := dialog.NewUAC(responder, sip.ContactHeader{Address: sip.Uri{User: "alice", Host: "127.0.0.1", Port: 5060}})

	invite := testUACInvite(t)
	session, err := uac.WriteInvite(context.Background(), invite)
	require.NoError(t, err)

	var got []*sip.Response
	err = session.WaitAnswer(context.Background(), dialog.AnswerOptions{
		OnResponse: func(r *sip.Response) { got = append(got, r) },
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.True(t, got[0].IsProvisional())
	require.True(t, got[1].IsSuccess())
	require.Equal(t, sip.DialogStateConfirmed, session.State())
}

func TestUACWaitAnswerNonSuccessReturnsErrResponse(t *testing.T) {
	sender := &siptest.ClientTxRequester{}
	sender.OnRequest = func(req *sip.Request) *sip.Response {
		return inviteResponse(req, sip.StatusBusyHere, "Busy Here", "bobtag")
	}

	uac := dialog.NewUAC(sender, sip.ContactHeader{Address: sip.Uri{User: "alice", Host: "127.0.0.1", Port: 5060}})

	invite := testUACInvite(t)
	session, err := uac.WriteInvite(context.Background(), invite)
	require.NoError(t, err)

	err = session.WaitAnswer(context.Background(), dialog.AnswerOptions{})
	require.Error(t, err)

	var errResp *dialog.ErrResponse
	require.ErrorAs(t, err, &errResp)
	require.Equal(t, sip.StatusBusyHere, errResp.Res.StatusCode)
	require.NotEqual(t, sip.DialogStateConfirmed, session.State())
}

func TestUACWaitAnswerDigestRetryOnUnauthorized(t *testing.T) {
	calls := 0
	sender := &siptest.ClientTxRequester{}
	sender.OnRequest = func(req *sip.Request) *sip.Response {
		calls++
		if calls == 1 {
			res := inviteResponse(req, sip.StatusUnauthorized, "Unauthorized", "")
			res.AppendHeader(sip.NewHeader("WWW-Authenticate", `Digest realm="sipuago", nonce="abc123nonce", algorithm=MD5`))
			return res
		}

		require.NotNil(t, req.GetHeader("Authorization"), "retry must carry the computed Authorization header")
		return inviteResponse(req, sip.StatusOK, "OK", "bobtag")
	}

	uac := dialog.NewUAC(sender, sip.ContactHeader{Address: sip.Uri{User: "alice", Host: "127.0.0.1", Port: 5060}})

	invite := testUACInvite(t)
	session, err := uac.WriteInvite(context.Background(), invite)
	require.NoError(t, err)

	err = session.WaitAnswer(context.Background(), dialog.AnswerOptions{
		Username: "alice",
		Password: "secret",
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Equal(t, sip.DialogStateConfirmed, session.State())
}

func TestUACWaitAnswerContextCanceledCancelsTransaction(t *testing.T) {
	sender := &siptest.ClientTxRequesterResponder{
		OnRequest: func(req *sip.Request, w *siptest.ClientTxResponder) {
			// Peer never answers; the test cancels ctx itself.
		},
	}

	uac := dialog.NewUAC(sender, sip.ContactHeader{Address: sip.Uri{User: "alice", Host: "127.0.0.1", Port: 5060}})

	invite := testUACInvite(t)
	session, err := uac.WriteInvite(context.Background(), invite)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = session.WaitAnswer(ctx, dialog.AnswerOptions{})
	require.ErrorIs(t, err, context.Canceled)
	require.NotEqual(t, sip.DialogStateConfirmed, session.State())
}

func TestUACAckSendsAckForEstablishedDialog(t *testing.T) {
	sender := &recordingSender{ClientTxRequester: &siptest.ClientTxRequester{}}
	sender.OnRequest = func(req *sip.Request) *sip.Response {
		return inviteResponse(req, sip.StatusOK, "OK", "bobtag")
	}

	uac := dialog.NewUAC(sender, sip.ContactHeader{Address: sip.Uri{User: "alice", Host: "127.0.0.1", Port: 5060}})

	invite := testUACInvite(t)
	session, err := uac.WriteInvite(context.Background(), invite)
	require.NoError(t, err)
	require.NoError(t, session.WaitAnswer(context.Background(), dialog.AnswerOptions{}))

	require.NoError(t, session.Ack(context.Background()))
	require.Len(t, sender.written, 1)
	require.Equal(t, sip.ACK, sender.written[0].Method)
}

func TestUACByeTerminatesDialogAndCloses(t *testing.T) {
	invite := testUACInvite(t)

	establish := &siptest.ClientTxRequester{}
	establish.OnRequest = func(req *sip.Request) *sip.Response {
		return inviteResponse(req, sip.StatusOK, "OK", "bobtag")
	}
	uac := dialog.NewUAC(establish, sip.ContactHeader{Address: sip.Uri{User: "alice", Host: "127.0.0.1", Port: 5060}})

	session, err := uac.WriteInvite(context.Background(), invite)
	require.NoError(t, err)
	require.NoError(t, session.WaitAnswer(context.Background(), dialog.AnswerOptions{}))

	establish.OnRequest = func(req *sip.Request) *sip.Response {
		return sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	}

	require.NoError(t, session.Bye(context.Background()))
	require.Equal(t, sip.DialogStateTerminated, session.State())
}

func TestUACByeFailureReturnsErrResponse(t *testing.T) {
	invite := testUACInvite(t)

	sender := &siptest.ClientTxRequester{}
	sender.OnRequest = func(req *sip.Request) *sip.Response {
		return inviteResponse(req, sip.StatusOK, "OK", "bobtag")
	}
	uac := dialog.NewUAC(sender, sip.ContactHeader{Address: sip.Uri{User: "alice", Host: "127.0.0.1", Port: 5060}})

	session, err := uac.WriteInvite(context.Background(), invite)
	require.NoError(t, err)
	require.NoError(t, session.WaitAnswer(context.Background(), dialog.AnswerOptions{}))

	sender.OnRequest = func(req *sip.Request) *sip.Response {
		return sip.NewResponseFromRequest(req, sip.StatusServerInternalError, "Server Error", nil)
	}

	err = session.Bye(context.Background())
	var errResp *dialog.ErrResponse
	require.ErrorAs(t, err, &errResp)
	require.Equal(t, sip.StatusServerInternalError, errResp.Res.StatusCode)
}

func TestUACReadByeRespondsAndTerminatesDialog(t *testing.T) {
	invite := testUACInvite(t)

	sender := &siptest.ClientTxRequester{}
	sender.OnRequest = func(req *sip.Request) *sip.Response {
		return inviteResponse(req, sip.StatusOK, "OK", "bobtag")
	}
	uac := dialog.NewUAC(sender, sip.ContactHeader{Address: sip.Uri{User: "alice", Host: "127.0.0.1", Port: 5060}})

	session, err := uac.WriteInvite(context.Background(), invite)
	require.NoError(t, err)
	require.NoError(t, session.WaitAnswer(context.Background(), dialog.AnswerOptions{}))

	// The peer's BYE carries From/To reversed from our own view of the
	// dialog: their tag (the to-tag we saw on the 2xx) is now the From,
	// ours (our original from-tag) is now the To.
	bye := sip.NewRequest(sip.BYE, invite.Recipient)
	bye.AppendHeader(invite.Via().Clone())
	peerTag := session.InviteResponse.To()
	bye.AppendHeader(&sip.FromHeader{DisplayName: peerTag.DisplayName, Address: peerTag.Address, Params: peerTag.Params})
	ourTag := invite.From()
	bye.AppendHeader(&sip.ToHeader{DisplayName: ourTag.DisplayName, Address: ourTag.Address, Params: ourTag.Params})
	callID := *invite.CallID()
	bye.AppendHeader(&callID)
	bye.AppendHeader(&sip.CSeq{SeqNo: invite.CSeq().SeqNo + 1, MethodName: sip.BYE})
	maxFwd := sip.MaxForwardsHeader(70)
	bye.AppendHeader(&maxFwd)

	rec := siptest.NewServerTxRecorder(bye)
	require.NoError(t, uac.ReadBye(bye, rec.ServerTx))

	resps := rec.Result()
	require.Len(t, resps, 1)
	require.Equal(t, sip.StatusOK, resps[0].StatusCode)
	require.Equal(t, sip.DialogStateTerminated, session.State())
}

func TestUACReadByeUnknownDialogFails(t *testing.T) {
	sender := &siptest.ClientTxRequester{}
	uac := dialog.NewUAC(sender, sip.ContactHeader{Address: sip.Uri{User: "alice", Host: "127.0.0.1", Port: 5060}})

	bye := testUACInvite(t)
	bye.Method = sip.BYE

	rec := siptest.NewServerTxRecorder(bye)
	err := uac.ReadBye(bye, rec.ServerTx)
	require.ErrorIs(t, err, dialog.ErrNotFound)
}
