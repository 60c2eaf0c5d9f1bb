package transport_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sipuago/sipua/parser"
	"github.com/sipuago/sipua/transport"
)

func TestSocketConnectFiresLifecycleCallbacks(t *testing.T) {
	l := transport.NewLayer(nil, parser.NewParser(), nil)
	defer l.Close()

	sock := transport.NewSocket(l, "udp", "127.0.0.1:15060")

	connecting, connected := false, false
	sock.OnConnecting(func() { connecting = true })
	sock.OnConnect(func() { connected = true })

	require.NoError(t, sock.Connect())
	require.True(t, connecting)
	require.True(t, connected)
}

func TestSocketDisconnectWithoutConnectIsNoop(t *testing.T) {
	l := transport.NewLayer(nil, parser.NewParser(), nil)
	defer l.Close()

	sock := transport.NewSocket(l, "udp", "127.0.0.1:15061")
	require.NoError(t, sock.Disconnect())
}
