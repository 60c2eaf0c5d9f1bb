package dialog_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sipuago/sipua/dialog"
	"github.com/sipuago/sipua/sip"
	"github.com/sipuago/sipua/siptest"
)

func testInvite(t *testing.T) *sip.Request {
	t.Helper()
	req := sip.NewRequest(sip.INVITE, sip.Uri{User: "alice", Host: "example.com"})
	req.AppendHeader(&sip.ViaHeader{
		ProtocolName:    "SIP",
		ProtocolVersion: "2.0",
		Transport:       "udp",
		Host:            "127.0.0.1",
		Port:            5060,
		Params:          sip.NewParams(),
	})
	from := &sip.FromHeader{
		Address: sip.Uri{User: "bob", Host: "test.com"},
		Params:  sip.NewParams(),
	}
	from.Params.Add("tag", "fromtag")
	req.AppendHeader(from)
	req.AppendHeader(&sip.ToHeader{
		Address: sip.Uri{User: "alice", Host: "example.com"},
		Params:  sip.NewParams(),
	})
	callID := sip.CallID("test-call-id")
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeq{SeqNo: 1, MethodName: sip.INVITE})
	req.AppendHeader(&sip.ContactHeader{Address: sip.Uri{User: "bob", Host: "127.0.0.1", Port: 5060}})
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	return req
}

func TestUASReadInviteAssignsToTag(t *testing.T) {
	uas := dialog.NewUAS(nil, sip.ContactHeader{Address: sip.Uri{User: "svc", Host: "test.com"}})

	invite := testInvite(t)
	rec := siptest.NewServerTxRecorder(invite)

	session, err := uas.ReadInvite(invite, rec.ServerTx)
	require.NoError(t, err)
	require.Equal(t, sip.DialogStateEarly, session.State())

	toTag, ok := invite.To().Params.Get("tag")
	require.True(t, ok)
	require.NotEmpty(t, toTag)
}

// testCancel builds the CANCEL matching invite's dialog-identifying headers
// (Call-ID/From-tag/To), with its own CSeq carrying the CANCEL method.
func testCancel(t *testing.T, invite *sip.Request) *sip.Request {
	t.Helper()
	req := sip.NewRequest(sip.CANCEL, invite.Recipient)
	req.AppendHeader(invite.Via().Clone())
	from := invite.From()
	req.AppendHeader(&sip.FromHeader{DisplayName: from.DisplayName, Address: from.Address, Params: from.Params})
	to := invite.To()
	req.AppendHeader(&sip.ToHeader{DisplayName: to.DisplayName, Address: to.Address, Params: to.Params})
	callID := *invite.CallID()
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeq{SeqNo: invite.CSeq().SeqNo, MethodName: sip.CANCEL})
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	return req
}

func TestUASWriteResponseAcksCancelInsteadOfCompletingInvite(t *testing.T) {
	uas := dialog.NewUAS(nil, sip.ContactHeader{Address: sip.Uri{User: "svc", Host: "test.com"}})

	invite := testInvite(t)
	rec := siptest.NewServerTxRecorder(invite)

	session, err := uas.ReadInvite(invite, rec.ServerTx)
	require.NoError(t, err)

	cancel := testCancel(t, invite)
	require.NoError(t, rec.ServerTx.Receive(cancel))

	err = session.Respond(sip.StatusOK, "OK", nil)
	require.ErrorIs(t, err, dialog.ErrCanceled)

	resps := rec.Result()
	require.Len(t, resps, 1)
	require.Equal(t, sip.StatusOK, resps[0].StatusCode)
	require.True(t, resps[0].IsCancel(), "ack must be written as a response to the CANCEL, not the INVITE")
	require.NotEqual(t, sip.DialogStateConfirmed, session.State())
}

func TestUASRespondProvisionalThenFinal(t *testing.T) {
	uas := dialog.NewUAS(nil, sip.ContactHeader{Address: sip.Uri{User: "svc", Host: "test.com"}})

	invite := testInvite(t)
	rec := siptest.NewServerTxRecorder(invite)

	session, err := uas.ReadInvite(invite, rec.ServerTx)
	require.NoError(t, err)

	require.NoError(t, session.Respond(sip.StatusRinging, "Ringing", nil))
	require.NoError(t, session.Respond(sip.StatusOK, "OK", nil))
	require.Equal(t, sip.DialogStateConfirmed, session.State())

	resps := rec.Result()
	require.Len(t, resps, 2)
	require.Equal(t, sip.StatusRinging, resps[0].StatusCode)
	require.Equal(t, sip.StatusOK, resps[1].StatusCode)
}
