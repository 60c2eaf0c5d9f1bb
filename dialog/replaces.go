package dialog

import (
	"fmt"

	"github.com/sipuago/sipua/sip"
)

// ResolveReplaces looks up the dialog named by a Replaces header (RFC 3891)
// in a UAS store, trying both tag orderings since the header's to-tag/
// from-tag naming is from the referrer's perspective, not this UA's.
func ResolveReplaces(uas *UAS, h *sip.ReplacesHeader) (*ServerSession, error) {
	if h == nil {
		return nil, fmt.Errorf("no Replaces header")
	}
	s, ok := uas.sessions.Get(h.CallID, h.ToTag, h.FromTag)
	if !ok {
		return nil, ErrNotFound
	}
	if h.EarlyOnly && s.State() != sip.DialogStateEarly {
		return nil, fmt.Errorf("Replaces early-only but target dialog is confirmed")
	}
	return s, nil
}
