package ua

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sipuago/sipua/sip"
)

// Config aggregates the options a UA needs to assemble identity, transport,
// and registration behavior in one place, for callers (config files, env
// loaders) that would find a Functional-option-per-field too granular.
// Field names follow the registration/session terminology used throughout
// this module.
type Config struct {
	// URI is this UA's address-of-record, used as the From/Contact user
	// identity and as the REGISTER target's user part.
	URI sip.Uri

	// AuthorizationUser overrides URI's user part as the digest username,
	// for accounts where the SIP AOR and the auth identity differ.
	AuthorizationUser string

	// Password is the digest credential handed to the registrator. HA1
	// holds a precomputed username:realm:password hash; no package in this
	// module reads it, so digest authentication always uses Password.
	Password string
	HA1      string

	// Realm pins the expected digest realm; empty accepts whatever realm
	// the registrar's challenge names.
	Realm string

	// DisplayName is used in the From/Contact header's display-name slot.
	DisplayName string

	// Register starts REGISTER refresh automatically from Start.
	Register bool
	// RegisterExpires is the requested registration lifetime in seconds.
	RegisterExpires uint32
	// RegistrarServer overrides URI.Host as the REGISTER recipient.
	RegistrarServer sip.Uri

	// ContactURI is this UA's reachable address; defaults to URI when left
	// zero.
	ContactURI sip.Uri
	// InstanceID seeds the Contact "+sip.instance" GRUU parameter, kept
	// stable across restarts so a registrar can detect re-registration
	// from the same device (RFC 5626).
	InstanceID string

	// NoAnswerTimeout is not read by any package in this module; an
	// outgoing INVITE is not cancelled when this interval elapses.
	NoAnswerTimeout time.Duration

	// ConnectionRecoveryMinInterval/MaxInterval are not read by any package
	// in this module; a socket that stops serving is not reconnected.
	ConnectionRecoveryMinInterval time.Duration
	ConnectionRecoveryMaxInterval time.Duration

	// Sockets lists the local addresses to listen on/dial from, one per
	// transport the deployment needs reachable.
	Sockets []SocketConfig
	// TransportType names a preferred outbound transport; no package in
	// this module reads it.
	TransportType string

	// DenySIPS rejects any request whose Request-URI scheme is "sips" with
	// a 416, for deployments with no TLS-capable transport configured.
	DenySIPS bool

	// SessionTimersEnabled is not read by any package in this module: no
	// RFC 4028 refresh or renegotiation is performed and "timer" is not
	// advertised in Supported.
	SessionTimersEnabled bool
	// TerminateOnAudioMediaPortZero names the RFC 3264 5.1 port-zero hold
	// signal as a reason to end a session; no package in this module reads
	// it or inspects SDP.
	TerminateOnAudioMediaPortZero bool
}

// SocketConfig names one local listen/dial binding a UA's transport layer
// should own.
type SocketConfig struct {
	Network   string // "udp", "tcp", "tls", "ws", "wss"
	Addr      string
	TLSConfig *tls.Config
}

// UAOption mutates a UA at construction time, mirroring the teacher's
// UserAgentOption/ClientOption/ServerOption pattern.
type UAOption func(u *UA) error

// WithConfig applies a pre-built Config, validating the fields Start
// depends on.
func WithConfig(cfg Config) UAOption {
	return func(u *UA) error {
		if cfg.URI.Host == "" {
			return &sip.ConfigurationError{Reason: "URI.Host must be set"}
		}
		u.cfg = cfg
		return nil
	}
}

// WithDNSResolver overrides the resolver used for SRV lookups and transport
// dialing; defaults to net.DefaultResolver.
func WithDNSResolver(r *net.Resolver) UAOption {
	return func(u *UA) error {
		u.dnsResolver = r
		return nil
	}
}

// WithCloseGrace overrides Stop's default 2-second grace window, slept
// before the transport layer is closed when subscriptions or applicants
// are still tracked.
func WithCloseGrace(d time.Duration) UAOption {
	return func(u *UA) error {
		u.closeGrace = d
		return nil
	}
}

// WithMetricsRegisterer registers the UA's prometheus collectors against
// reg instead of a private per-UA registry, for callers that want one
// /metrics endpoint aggregating several UAs or exposing the default
// registry the way example/proxysip's promhttp.Handler expects.
func WithMetricsRegisterer(reg prometheus.Registerer) UAOption {
	return func(u *UA) error {
		u.metricsRegisterer = reg
		return nil
	}
}
