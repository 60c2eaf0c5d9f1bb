package sip

// DialogState models the lifecycle defined in RFC 3261 12.1.
type DialogState int32

const (
	// DialogStateEarly is entered on a provisional response carrying a to-tag.
	DialogStateEarly DialogState = iota
	// DialogStateConfirmed is entered once a final 2xx response establishes the dialog.
	DialogStateConfirmed
	// DialogStateTerminated is entered once BYE completes or the dialog is abandoned.
	DialogStateTerminated
)
