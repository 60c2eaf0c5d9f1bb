package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sipuago/sipua/sip"
)

func init() {
	headersParsers["replaces"] = parseReplaces
	headersParsers["session-expires"] = parseSessionExpires
	headersParsers["x"] = parseSessionExpires
	headersParsers["refer-to"] = parseReferTo
	headersParsers["r"] = parseReferTo
	headersParsers["event"] = parseEvent
	headersParsers["o"] = parseEvent
	headersParsers["subscription-state"] = parseSubscriptionState
	headersParsers["www-authenticate"] = parseWWWAuthenticate
	headersParsers["proxy-authenticate"] = parseProxyAuthenticate
	headersParsers["authorization"] = parseAuthorization
	headersParsers["proxy-authorization"] = parseProxyAuthorization
	headersParsers["allow"] = parseAllow
	headersParsers["supported"] = parseSupported
	headersParsers["k"] = parseSupported
	headersParsers["require"] = parseRequire
}

// parseReplaces parses the Replaces header (RFC 3891):
//
//	Replaces: 425928@bobster.example.org;to-tag=7743;from-tag=6472
func parseReplaces(headerName string, headerText string) (sip.Header, error) {
	parts := strings.SplitN(headerText, ";", 2)
	callID := strings.TrimSpace(parts[0])
	if callID == "" {
		return nil, fmt.Errorf("empty Replaces call-id")
	}

	h := &sip.ReplacesHeader{CallID: callID, Params: sip.NewParams()}
	if len(parts) == 2 {
		if _, err := UnmarshalParams(parts[1], ';', 0, h.Params); err != nil {
			return nil, err
		}
	}

	if v, ok := h.Params.Get("to-tag"); ok {
		h.ToTag = v
		h.Params.Remove("to-tag")
	}
	if v, ok := h.Params.Get("from-tag"); ok {
		h.FromTag = v
		h.Params.Remove("from-tag")
	}
	if h.Params.Has("early-only") {
		h.EarlyOnly = true
		h.Params.Remove("early-only")
	}

	return h, nil
}

// parseSessionExpires parses the Session-Expires header (RFC 4028):
//
//	Session-Expires: 1800;refresher=uac
func parseSessionExpires(headerName string, headerText string) (sip.Header, error) {
	parts := strings.SplitN(headerText, ";", 2)
	delta, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid Session-Expires delta-seconds: %w", err)
	}

	h := &sip.SessionExpiresHeader{DeltaSeconds: uint32(delta)}
	if len(parts) == 2 {
		params := sip.NewParams()
		if _, err := UnmarshalParams(parts[1], ';', 0, params); err != nil {
			return nil, err
		}
		h.Refresher = params.GetOr("refresher", "")
	}

	return h, nil
}

// parseReferTo parses the Refer-To header (RFC 3515). Grammar mirrors
// the name-addr form shared with To/From/Contact.
func parseReferTo(headerName string, headerText string) (sip.Header, error) {
	var displayName string
	var uri sip.Uri
	params := sip.NewParams()

	dn, err := ParseAddressValue(headerText, &uri, params)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Refer-To: %w", err)
	}
	displayName = dn

	return &sip.ReferToHeader{DisplayName: displayName, Address: uri, Params: params}, nil
}

// parseEvent parses the Event header (RFC 6665):
//
//	Event: presence;id=1234
func parseEvent(headerName string, headerText string) (sip.Header, error) {
	parts := strings.SplitN(headerText, ";", 2)
	pkg := strings.TrimSpace(parts[0])
	if pkg == "" {
		return nil, fmt.Errorf("empty Event package")
	}

	h := &sip.EventHeader{Package: pkg, Params: sip.NewParams()}
	if len(parts) == 2 {
		if _, err := UnmarshalParams(parts[1], ';', 0, h.Params); err != nil {
			return nil, err
		}
	}

	return h, nil
}

// parseSubscriptionState parses the Subscription-State header (RFC 6665):
//
//	Subscription-State: active;expires=3600
func parseSubscriptionState(headerName string, headerText string) (sip.Header, error) {
	parts := strings.SplitN(headerText, ";", 2)
	state := strings.TrimSpace(parts[0])
	if state == "" {
		return nil, fmt.Errorf("empty Subscription-State value")
	}

	h := &sip.SubscriptionStateHeader{State: state, Params: sip.NewParams()}
	if len(parts) == 2 {
		if _, err := UnmarshalParams(parts[1], ';', 0, h.Params); err != nil {
			return nil, err
		}
	}

	return h, nil
}

// splitChallengeOrCredential splits "Scheme k1=v1, k2=v2" into scheme and
// the comma-separated param tail (RFC 2617 digest-challenge / Credentials).
func splitChallengeOrCredential(headerText string) (scheme string, params sip.HeaderParams, err error) {
	idx := strings.IndexAny(headerText, " \t")
	if idx < 0 {
		return "", nil, fmt.Errorf("missing auth-scheme in: %s", headerText)
	}
	scheme = headerText[:idx]
	rest := strings.TrimSpace(headerText[idx+1:])

	params = sip.NewParams()
	if _, err := UnmarshalParams(rest, ',', 0, params); err != nil {
		return "", nil, err
	}
	return scheme, params, nil
}

func parseWWWAuthenticate(headerName string, headerText string) (sip.Header, error) {
	scheme, params, err := splitChallengeOrCredential(headerText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse WWW-Authenticate: %w", err)
	}
	return sip.NewWWWAuthenticateHeader(scheme, params), nil
}

func parseProxyAuthenticate(headerName string, headerText string) (sip.Header, error) {
	scheme, params, err := splitChallengeOrCredential(headerText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Proxy-Authenticate: %w", err)
	}
	return sip.NewProxyAuthenticateHeader(scheme, params), nil
}

func parseAuthorization(headerName string, headerText string) (sip.Header, error) {
	scheme, params, err := splitChallengeOrCredential(headerText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Authorization: %w", err)
	}
	return sip.NewAuthorizationHeader(scheme, params), nil
}

func parseProxyAuthorization(headerName string, headerText string) (sip.Header, error) {
	scheme, params, err := splitChallengeOrCredential(headerText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Proxy-Authorization: %w", err)
	}
	return sip.NewProxyAuthorizationHeader(scheme, params), nil
}

func parseTokenList(name string, headerText string) sip.Header {
	raw := strings.Split(headerText, ",")
	tokens := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.TrimSpace(t)
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	return sip.NewTokenListHeader(name, tokens)
}

func parseAllow(headerName string, headerText string) (sip.Header, error) {
	return parseTokenList("Allow", headerText), nil
}

func parseSupported(headerName string, headerText string) (sip.Header, error) {
	return parseTokenList("Supported", headerText), nil
}

func parseRequire(headerName string, headerText string) (sip.Header, error) {
	return parseTokenList("Require", headerText), nil
}
