// Package pipeline routes detected audio files through stability wait,
// transcription and webhook delivery.
//
// Each file runs a small state machine (waiting, transcribing, notifying,
// then done or failed); a registry of in-flight paths guarantees a path
// is never processed twice concurrently, which keeps a create event
// immediately followed by a move of the same file from producing two
// transcriptions.
package pipeline

// Status describes where a file is in its processing lifecycle.
type Status string

const (
	// StatusIgnored marks files rejected by the extension filter. They
	// never enter the registry.
	StatusIgnored Status = "ignored"
	// StatusWaiting is the entry state; created files sit here until
	// their size stops changing.
	StatusWaiting      Status = "waiting"
	StatusTranscribing Status = "transcribing"
	StatusNotifying    Status = "notifying"
	StatusDone         Status = "done"
	StatusFailed       Status = "failed"
)

// IsTerminal reports whether a status permits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusIgnored, StatusDone, StatusFailed:
		return true
	default:
		return false
	}
}

// isValidTransition enforces the allowed state machine edges. Every
// active state may fail.
func isValidTransition(from, to Status) bool {
	switch from {
	case StatusWaiting:
		return to == StatusTranscribing || to == StatusFailed
	case StatusTranscribing:
		return to == StatusNotifying || to == StatusFailed
	case StatusNotifying:
		return to == StatusDone || to == StatusFailed
	default:
		return false
	}
}
