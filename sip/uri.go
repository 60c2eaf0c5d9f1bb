package sip

import (
	"io"
	"net"
	"strconv"
	"strings"
)

// A URI from any schema (e.g. sip:, tel:)
type SIPUri interface {
	String() string
	IsEncrypted() bool
}

// A URI from a schema suitable for inclusion in a Contact: header.
// The only such URIs are sip/sips URIs and the special wildcard URI '*'.
// hold this interface to not break other code
type ContactUri interface {
	SIPUri
}

type Uri struct {
	// Scheme is the URI scheme: "sip", "sips" or "tel". Empty defaults to "sip".
	Scheme string
	// Encrypted is true iff Scheme == "sips". Kept alongside Scheme for
	// source compatibility with code that only cares about TLS-ness.
	Encrypted bool
	Wildcard  bool

	// The user part of the URI: the 'joe' in sip:joe@bloggs.com
	User string

	// The password field of the URI, as in joe:hunter2@bloggs.com.
	// RFC 3261 strongly discourages its use.
	Password string

	// The host part of the URI. This can be a domain, or a string representation of an IP address.
	Host string

	// The port part of the URI. Zero means not present.
	Port int

	// UriParams are the ';'-separated parameters following host[:port].
	// Keys are lowercased by the parser; values are stored verbatim.
	UriParams HeaderParams

	// Headers are the '&'-separated headers following '?'.
	Headers HeaderParams
}

// Generates the string representation of a SipUri struct.
func (uri *Uri) String() string {
	var buffer strings.Builder
	uri.StringWrite(&buffer)

	return buffer.String()
}

func (uri *Uri) StringWrite(buffer io.StringWriter) {
	if uri.Wildcard {
		buffer.WriteString("*")
		return
	}

	switch uri.scheme() {
	case "sips":
		buffer.WriteString("sips:")
	case "tel":
		buffer.WriteString("tel:")
	default:
		buffer.WriteString("sip:")
	}

	if uri.scheme() == "tel" {
		buffer.WriteString(uri.User)
		if uri.UriParams != nil && uri.UriParams.Length() > 0 {
			buffer.WriteString(";")
			buffer.WriteString(uri.UriParams.ToString(';'))
		}
		return
	}

	// Optional userinfo part.
	if uri.User != "" {
		buffer.WriteString(uri.User)
		if uri.Password != "" {
			buffer.WriteString(":")
			buffer.WriteString(uri.Password)
		}
		buffer.WriteString("@")
	}

	// Compulsory hostname.
	buffer.WriteString(uri.Host)

	// Optional port number.
	if uri.Port > 0 {
		buffer.WriteString(":")
		buffer.WriteString(strconv.Itoa(uri.Port))
	}

	if (uri.UriParams != nil) && uri.UriParams.Length() > 0 {
		buffer.WriteString(";")
		buffer.WriteString(uri.UriParams.ToString(';'))
	}

	if (uri.Headers != nil) && uri.Headers.Length() > 0 {
		buffer.WriteString("?")
		buffer.WriteString(uri.Headers.ToString('&'))
	}
}

func (uri *Uri) scheme() string {
	if uri.Scheme != "" {
		return uri.Scheme
	}
	if uri.Encrypted {
		return "sips"
	}
	return "sip"
}

// Clone performs a deep copy: UriParams/Headers are cloned so mutating the
// copy never affects the original.
func (uri *Uri) Clone() *Uri {
	c := *uri
	if uri.UriParams != nil {
		c.UriParams = uri.UriParams.Clone()
	}
	if uri.Headers != nil {
		c.Headers = uri.Headers.Clone()
	}
	return &c
}

func (uri *Uri) IsEncrypted() bool {
	return uri.scheme() == "sips"
}

// Addr returns the bare "host" or "host:port" this URI names, without the
// scheme or user part. Used as the digest Options.URI value and anywhere a
// header needs the URI's network identity rather than its full form.
func (uri *Uri) Addr() string {
	if uri.Port == 0 {
		return uri.Host
	}
	return net.JoinHostPort(uri.Host, strconv.Itoa(uri.Port))
}

// HostPort is Addr with the scheme's default port filled in when none is
// set, for callers that need a dialable destination rather than a digest
// identity (e.g. SetDestination from a Route/Record-Route URI).
func (uri *Uri) HostPort() string {
	port := uri.Port
	if port == 0 {
		port = 5060
		if uri.IsEncrypted() {
			port = 5061
		}
	}
	return net.JoinHostPort(uri.Host, strconv.Itoa(port))
}

// paramEquals compares a single uri-param by name per RFC 3261 19.1.4: if
// neither side carries it, it doesn't count against equality; if only one
// side carries it, URIs differ; if both carry it, values are compared
// case-insensitively.
func paramEquals(a, b HeaderParams, name string) bool {
	av, aok := a.Get(name)
	bv, bok := b.Get(name)
	if aok != bok {
		return false
	}
	if !aok {
		return true
	}
	return strings.EqualFold(av, bv)
}

// Equals implements RFC 3261 19.1.4 SIP URI comparison:
//   - scheme, user (case-sensitive), host (case-insensitive) must match
//   - port defaults applied before comparing
//   - user, ttl, method, maddr params are compared if present on either side
//   - other uri-params are compared only if present on BOTH sides
//   - headers are not compared here (not meaningful for most UA matching)
func (uri *Uri) Equals(other *Uri) bool {
	if uri == nil || other == nil {
		return uri == other
	}
	if uri.scheme() != other.scheme() {
		return false
	}
	if uri.Wildcard != other.Wildcard {
		return false
	}
	if uri.User != other.User {
		return false
	}
	if !strings.EqualFold(uri.Host, other.Host) {
		return false
	}

	aport := uri.Port
	if aport == 0 {
		aport = int(DefaultPort(""))
	}
	bport := other.Port
	if bport == 0 {
		bport = int(DefaultPort(""))
	}
	if aport != bport {
		return false
	}

	a, b := uri.UriParams, other.UriParams
	if a == nil {
		a = NewParams()
	}
	if b == nil {
		b = NewParams()
	}

	for _, special := range []string{"user", "ttl", "method", "maddr"} {
		if !paramEquals(a, b, special) {
			return false
		}
	}

	seen := make(map[string]bool)
	for _, k := range a.Keys() {
		lk := ASCIIToLower(k)
		if seen[lk] {
			continue
		}
		seen[lk] = true
		switch lk {
		case "user", "ttl", "method", "maddr":
			continue
		}
		if _, ok := b.Get(k); ok {
			if !paramEquals(a, b, k) {
				return false
			}
		}
	}

	return true
}
