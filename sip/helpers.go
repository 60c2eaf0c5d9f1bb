package sip

import "net"

// DefaultProtocol is assumed for messages that carry no explicit Via
// transport parameter (RFC 3261 does not mandate one, but SIP/UDP is the
// most commonly deployed default).
const DefaultProtocol = TransportUDP

// DefaultPort returns the standard port for a SIP transport, per
// RFC 3261 19.1.2. An empty or unrecognized transport returns the
// sip: default of 5060; sips: (TLS) gets 5061.
func DefaultPort(transport string) uint16 {
	switch transport {
	case TransportTLS, TransportWSS:
		return 5061
	default:
		return 5060
	}
}

// uriNetIP normalizes a Via-derived host for use in a "host:port" literal:
// an IPv6 literal is returned wrapped in brackets, any other host unchanged.
func uriNetIP(host string) string {
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		return "[" + ip.String() + "]"
	}
	return host
}

// NewHeader builds a generic, verbatim header for names gossip has no typed
// representation for, or where a caller already has a fully rendered value.
func NewHeader(name string, value string) Header {
	return &GenericHeader{HeaderName: name, Contents: value}
}

// These are the historical "...Header"-suffixed names used throughout the
// transaction/transport/parser packages; kept as aliases so callers that
// spell out the header-like suffix still compile against the current,
// unsuffixed type names.
type MaxForwardsHeader = MaxForwards
type CallIDHeader = CallID
type CSeqHeader = CSeq
type ContentLengthHeader = ContentLength
type ContentTypeHeader = ContentType

// abnf is the set of characters that force a param value to be quoted when
// serialized (RFC 3261 25.1 token/quoted-string boundary).
const abnf = " \t;,=\"()<>@:\\/[]?{}"

// Status codes used when constructing responses (RFC 3261 21).
const (
	StatusTrying               = 100
	StatusRinging              = 180
	StatusCallIsBeingForwarded = 181
	StatusQueued               = 182
	StatusSessionProgress      = 183
	StatusOK                   = 200
	StatusAccepted             = 202
	StatusMovedPermanently     = 301
	StatusMovedTemporarily     = 302
	StatusUseProxy             = 305
	StatusBadRequest           = 400
	StatusUnauthorized         = 401
	StatusPaymentRequired      = 402
	StatusForbidden            = 403
	StatusNotFound             = 404
	StatusMethodNotAllowed     = 405
	StatusNotAcceptable        = 406
	StatusProxyAuthRequired    = 407
	StatusRequestTimeout       = 408
	StatusGone                 = 410
	StatusRequestEntityTooLarge = 413
	StatusRequestURITooLong    = 414
	StatusUnsupportedMediaType = 415
	StatusUnsupportedURIScheme = 416
	StatusBadExtension         = 420
	StatusExtensionRequired    = 421
	StatusIntervalTooBrief     = 423
	StatusTemporarilyUnavailable = 480
	StatusCallTransactionDoesNotExist = 481
	StatusLoopDetected         = 482
	StatusTooManyHops          = 483
	StatusAddressIncomplete    = 484
	StatusAmbiguous            = 485
	StatusBusyHere             = 486
	StatusRequestTerminated    = 487
	StatusNotAcceptableHere    = 488
	StatusRequestPending       = 491
	StatusUndecipherable       = 493
	StatusInternalServerError  = 500
	StatusNotImplemented       = 501
	StatusBadGateway           = 502
	StatusServiceUnavailable   = 503
	StatusServerTimeout        = 504
	StatusVersionNotSupported  = 505
	StatusMessageTooLarge      = 513
	StatusBusyEverywhere       = 600
	StatusDecline              = 603
	StatusDoesNotExistAnywhere = 604
	StatusNotAcceptableGlobal  = 606
)
