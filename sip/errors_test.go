package sip_test

import (
	"errors"
	"testing"

	"github.com/sipuago/sipua/sip"
)

func TestConfigurationErrorUnwraps(t *testing.T) {
	err := &sip.ConfigurationError{Reason: "missing URI"}
	if !errors.Is(err, sip.ErrConfiguration) {
		t.Fatal("expected ConfigurationError to unwrap to ErrConfiguration")
	}
}

func TestTransportErrorUnwraps(t *testing.T) {
	err := &sip.TransportError{Network: "udp", Addr: "127.0.0.1:5060", Err: errors.New("refused")}
	if !errors.Is(err, sip.ErrTransport) {
		t.Fatal("expected TransportError to unwrap to ErrTransport")
	}
}

func TestPeerErrorUnwraps(t *testing.T) {
	err := &sip.PeerError{StatusCode: sip.StatusForbidden, Reason: "Forbidden"}
	if !errors.Is(err, sip.ErrPeer) {
		t.Fatal("expected PeerError to unwrap to ErrPeer")
	}
}
