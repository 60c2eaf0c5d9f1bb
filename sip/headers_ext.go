package sip

import (
	"io"
	"strconv"
	"strings"
)

// WWWAuthenticateHeader and ProxyAuthenticateHeader share the same
// challenge grammar (RFC 3261 20.44/20.27); both wrap ChallengeHeader.
type ChallengeHeader struct {
	headerName string
	Scheme     string
	Params     HeaderParams
}

func NewWWWAuthenticateHeader(scheme string, params HeaderParams) *ChallengeHeader {
	return &ChallengeHeader{headerName: "WWW-Authenticate", Scheme: scheme, Params: params}
}

func NewProxyAuthenticateHeader(scheme string, params HeaderParams) *ChallengeHeader {
	return &ChallengeHeader{headerName: "Proxy-Authenticate", Scheme: scheme, Params: params}
}

func (h *ChallengeHeader) Name() string { return h.headerName }

func (h *ChallengeHeader) Realm() string     { return h.Params.GetOr("realm", "") }
func (h *ChallengeHeader) Nonce() string     { return h.Params.GetOr("nonce", "") }
func (h *ChallengeHeader) Opaque() string    { return h.Params.GetOr("opaque", "") }
func (h *ChallengeHeader) Algorithm() string { return h.Params.GetOr("algorithm", "MD5") }
func (h *ChallengeHeader) Qop() string       { return h.Params.GetOr("qop", "") }
func (h *ChallengeHeader) Stale() bool       { return strings.EqualFold(h.Params.GetOr("stale", ""), "true") }

func (h *ChallengeHeader) Value() string {
	var b strings.Builder
	h.ValueStringWrite(&b)
	return b.String()
}

func (h *ChallengeHeader) ValueStringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.Scheme)
	buffer.WriteString(" ")
	h.Params.ToStringWrite(',', buffer)
}

func (h *ChallengeHeader) String() string {
	var b strings.Builder
	h.StringWrite(&b)
	return b.String()
}

func (h *ChallengeHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.Name())
	buffer.WriteString(": ")
	h.ValueStringWrite(buffer)
}

func (h *ChallengeHeader) headerClone() Header {
	if h == nil {
		return (*ChallengeHeader)(nil)
	}
	return &ChallengeHeader{headerName: h.headerName, Scheme: h.Scheme, Params: h.Params.Clone()}
}

// AuthorizationHeader and ProxyAuthorizationHeader share the credentials
// grammar (RFC 3261 20.7/20.28); both wrap CredentialsHeader.
type CredentialsHeader struct {
	headerName string
	Scheme     string
	Params     HeaderParams
}

func NewAuthorizationHeader(scheme string, params HeaderParams) *CredentialsHeader {
	return &CredentialsHeader{headerName: "Authorization", Scheme: scheme, Params: params}
}

func NewProxyAuthorizationHeader(scheme string, params HeaderParams) *CredentialsHeader {
	return &CredentialsHeader{headerName: "Proxy-Authorization", Scheme: scheme, Params: params}
}

func (h *CredentialsHeader) Name() string { return h.headerName }

func (h *CredentialsHeader) Username() string { return h.Params.GetOr("username", "") }
func (h *CredentialsHeader) Realm() string    { return h.Params.GetOr("realm", "") }
func (h *CredentialsHeader) Nonce() string    { return h.Params.GetOr("nonce", "") }
func (h *CredentialsHeader) URI() string      { return h.Params.GetOr("uri", "") }
func (h *CredentialsHeader) Response() string { return h.Params.GetOr("response", "") }

func (h *CredentialsHeader) Value() string {
	var b strings.Builder
	h.ValueStringWrite(&b)
	return b.String()
}

func (h *CredentialsHeader) ValueStringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.Scheme)
	buffer.WriteString(" ")
	h.Params.ToStringWrite(',', buffer)
}

func (h *CredentialsHeader) String() string {
	var b strings.Builder
	h.StringWrite(&b)
	return b.String()
}

func (h *CredentialsHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.Name())
	buffer.WriteString(": ")
	h.ValueStringWrite(buffer)
}

func (h *CredentialsHeader) headerClone() Header {
	if h == nil {
		return (*CredentialsHeader)(nil)
	}
	return &CredentialsHeader{headerName: h.headerName, Scheme: h.Scheme, Params: h.Params.Clone()}
}

// ReplacesHeader implements the Replaces header (RFC 3891), used to match
// an existing dialog for call transfer / attended pickup.
type ReplacesHeader struct {
	CallID     string
	ToTag      string
	FromTag    string
	EarlyOnly  bool
	Params     HeaderParams
}

func (h *ReplacesHeader) Name() string { return "Replaces" }

func (h *ReplacesHeader) Value() string {
	var b strings.Builder
	h.ValueStringWrite(&b)
	return b.String()
}

func (h *ReplacesHeader) ValueStringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.CallID)
	if h.ToTag != "" {
		buffer.WriteString(";to-tag=")
		buffer.WriteString(h.ToTag)
	}
	if h.FromTag != "" {
		buffer.WriteString(";from-tag=")
		buffer.WriteString(h.FromTag)
	}
	if h.EarlyOnly {
		buffer.WriteString(";early-only")
	}
	if h.Params != nil && h.Params.Length() > 0 {
		buffer.WriteString(";")
		h.Params.ToStringWrite(';', buffer)
	}
}

func (h *ReplacesHeader) String() string {
	var b strings.Builder
	h.StringWrite(&b)
	return b.String()
}

func (h *ReplacesHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.Name())
	buffer.WriteString(": ")
	h.ValueStringWrite(buffer)
}

func (h *ReplacesHeader) headerClone() Header {
	if h == nil {
		return (*ReplacesHeader)(nil)
	}
	c := *h
	if h.Params != nil {
		c.Params = h.Params.Clone()
	}
	return &c
}

// DialogID returns the (call-id, to-tag, from-tag) triple this Replaces
// header identifies, in the same order used by dialog store lookups.
func (h *ReplacesHeader) DialogID() string {
	return DialogIDMake(h.CallID, h.ToTag, h.FromTag)
}

// SessionExpiresHeader implements the Session-Expires header (RFC 4028).
type SessionExpiresHeader struct {
	DeltaSeconds uint32
	Refresher    string // "uac" or "uas", empty if unspecified
}

func (h *SessionExpiresHeader) Name() string { return "Session-Expires" }

func (h *SessionExpiresHeader) Value() string {
	if h.Refresher != "" {
		return strconv.Itoa(int(h.DeltaSeconds)) + ";refresher=" + h.Refresher
	}
	return strconv.Itoa(int(h.DeltaSeconds))
}

func (h *SessionExpiresHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.Name())
	buffer.WriteString(": ")
	buffer.WriteString(h.Value())
}

func (h *SessionExpiresHeader) String() string {
	return h.Name() + ": " + h.Value()
}

func (h *SessionExpiresHeader) headerClone() Header {
	if h == nil {
		return (*SessionExpiresHeader)(nil)
	}
	c := *h
	return &c
}

// ReferToHeader implements the Refer-To header (RFC 3515).
type ReferToHeader struct {
	DisplayName string
	Address     Uri
	Params      HeaderParams
}

func (h *ReferToHeader) Name() string { return "Refer-To" }

func (h *ReferToHeader) Value() string {
	var b strings.Builder
	h.ValueStringWrite(&b)
	return b.String()
}

func (h *ReferToHeader) ValueStringWrite(buffer io.StringWriter) {
	if h.DisplayName != "" {
		buffer.WriteString("\"")
		buffer.WriteString(h.DisplayName)
		buffer.WriteString("\" ")
	}
	buffer.WriteString("<")
	h.Address.StringWrite(buffer)
	buffer.WriteString(">")
	if h.Params != nil && h.Params.Length() > 0 {
		buffer.WriteString(";")
		h.Params.ToStringWrite(';', buffer)
	}
}

func (h *ReferToHeader) String() string {
	var b strings.Builder
	h.StringWrite(&b)
	return b.String()
}

func (h *ReferToHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.Name())
	buffer.WriteString(": ")
	h.ValueStringWrite(buffer)
}

func (h *ReferToHeader) headerClone() Header {
	if h == nil {
		return (*ReferToHeader)(nil)
	}
	c := *h
	if h.Params != nil {
		c.Params = h.Params.Clone()
	}
	return &c
}

// EventHeader implements the Event header (RFC 6665), identifying the
// subscribed event package on SUBSCRIBE/NOTIFY.
type EventHeader struct {
	Package string
	Params  HeaderParams
}

func (h *EventHeader) Name() string { return "Event" }

func (h *EventHeader) ID() string { return h.Params.GetOr("id", "") }

func (h *EventHeader) Value() string {
	var b strings.Builder
	h.ValueStringWrite(&b)
	return b.String()
}

func (h *EventHeader) ValueStringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.Package)
	if h.Params != nil && h.Params.Length() > 0 {
		buffer.WriteString(";")
		h.Params.ToStringWrite(';', buffer)
	}
}

func (h *EventHeader) String() string {
	var b strings.Builder
	h.StringWrite(&b)
	return b.String()
}

func (h *EventHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.Name())
	buffer.WriteString(": ")
	h.ValueStringWrite(buffer)
}

func (h *EventHeader) headerClone() Header {
	if h == nil {
		return (*EventHeader)(nil)
	}
	c := *h
	if h.Params != nil {
		c.Params = h.Params.Clone()
	}
	return &c
}

// SubscriptionStateHeader implements the Subscription-State header (RFC 6665).
type SubscriptionStateHeader struct {
	State  string // active, pending, terminated
	Params HeaderParams
}

func (h *SubscriptionStateHeader) Name() string { return "Subscription-State" }

func (h *SubscriptionStateHeader) Reason() string { return h.Params.GetOr("reason", "") }

func (h *SubscriptionStateHeader) ExpiresSeconds() (int, bool) {
	v, ok := h.Params.Get("expires")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (h *SubscriptionStateHeader) Value() string {
	var b strings.Builder
	h.ValueStringWrite(&b)
	return b.String()
}

func (h *SubscriptionStateHeader) ValueStringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.State)
	if h.Params != nil && h.Params.Length() > 0 {
		buffer.WriteString(";")
		h.Params.ToStringWrite(';', buffer)
	}
}

func (h *SubscriptionStateHeader) String() string {
	var b strings.Builder
	h.StringWrite(&b)
	return b.String()
}

func (h *SubscriptionStateHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.Name())
	buffer.WriteString(": ")
	h.ValueStringWrite(buffer)
}

func (h *SubscriptionStateHeader) headerClone() Header {
	if h == nil {
		return (*SubscriptionStateHeader)(nil)
	}
	c := *h
	if h.Params != nil {
		c.Params = h.Params.Clone()
	}
	return &c
}

// TokenListHeader implements the comma-separated token-list headers: Allow,
// Supported, Require, Unsupported, Proxy-Require.
type TokenListHeader struct {
	headerName string
	Tokens     []string
}

func NewTokenListHeader(name string, tokens []string) *TokenListHeader {
	return &TokenListHeader{headerName: name, Tokens: tokens}
}

func (h *TokenListHeader) Name() string { return h.headerName }

func (h *TokenListHeader) Has(token string) bool {
	for _, t := range h.Tokens {
		if strings.EqualFold(t, token) {
			return true
		}
	}
	return false
}

func (h *TokenListHeader) Value() string {
	return strings.Join(h.Tokens, ", ")
}

func (h *TokenListHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.Name())
	buffer.WriteString(": ")
	buffer.WriteString(h.Value())
}

func (h *TokenListHeader) String() string {
	return h.Name() + ": " + h.Value()
}

func (h *TokenListHeader) headerClone() Header {
	if h == nil {
		return (*TokenListHeader)(nil)
	}
	return &TokenListHeader{headerName: h.headerName, Tokens: append([]string(nil), h.Tokens...)}
}
