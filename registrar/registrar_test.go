package registrar_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sipuago/sipua/registrar"
	"github.com/sipuago/sipua/sip"
	"github.com/sipuago/sipua/siptest"
)

func testAOR() sip.Uri      { return sip.Uri{User: "alice", Host: "example.com"} }
func testRegistrar() sip.Uri { return sip.Uri{Host: "example.com"} }
func testContact() sip.Uri  { return sip.Uri{User: "alice", Host: "127.0.0.1", Port: 5060} }

func TestRegisterSucceedsWithoutChallenge(t *testing.T) {
	requester := &siptest.ClientTxRequester{
		OnRequest: func(req *sip.Request) *sip.Response {
			require.Equal(t, sip.REGISTER, req.Method)
			res := sip.NewResponseFromRequest(req, int(sip.StatusOK), "OK", nil)
			exp := sip.Expires(3600)
			res.AppendHeader(&exp)
			return res
		},
	}

	r, err := registrar.NewRegistrator(requester, testAOR(), testRegistrar(), testContact(),
		registrar.WithExpires(3600))
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Register(context.Background()))
	require.Equal(t, registrar.StateRegistered, r.State())
}

func TestRegisterRetriesOnDigestChallenge(t *testing.T) {
	attempt := 0
	requester := &siptest.ClientTxRequester{
		OnRequest: func(req *sip.Request) *sip.Response {
			attempt++
			if attempt == 1 {
				res := sip.NewResponseFromRequest(req, int(sip.StatusUnauthorized), "Unauthorized", nil)
				res.AppendHeader(sip.NewHeader("WWW-Authenticate",
					`Digest realm="example.com", nonce="abc123", algorithm=MD5`))
				return res
			}
			require.NotNil(t, req.GetHeader("Authorization"))
			res := sip.NewResponseFromRequest(req, int(sip.StatusOK), "OK", nil)
			exp := sip.Expires(3600)
			res.AppendHeader(&exp)
			return res
		},
	}

	r, err := registrar.NewRegistrator(requester, testAOR(), testRegistrar(), testContact(),
		registrar.WithCredentials("alice", "secret"),
		registrar.WithExpires(3600))
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Register(context.Background()))
	require.Equal(t, registrar.StateRegistered, r.State())
	require.Equal(t, 2, attempt)
}

func TestRegisterFailsAfterRejection(t *testing.T) {
	requester := &siptest.ClientTxRequester{
		OnRequest: func(req *sip.Request) *sip.Response {
			return sip.NewResponseFromRequest(req, int(sip.StatusForbidden), "Forbidden", nil)
		},
	}

	r, err := registrar.NewRegistrator(requester, testAOR(), testRegistrar(), testContact())
	require.NoError(t, err)
	defer r.Close()

	require.Error(t, r.Register(context.Background()))
	require.Equal(t, registrar.StateFailed, r.State())
}

func TestUnregisterSendsExpiresZero(t *testing.T) {
	requester := &siptest.ClientTxRequester{
		OnRequest: func(req *sip.Request) *sip.Response {
			exp := req.GetHeader("Expires")
			require.NotNil(t, exp)
			require.Equal(t, "0", exp.Value())
			return sip.NewResponseFromRequest(req, int(sip.StatusOK), "OK", nil)
		},
	}

	r, err := registrar.NewRegistrator(requester, testAOR(), testRegistrar(), testContact())
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Unregister(context.Background()))
	require.Equal(t, registrar.StateUnregistered, r.State())
}
