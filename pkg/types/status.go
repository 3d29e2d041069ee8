package types

// StatusKind classifies a user-facing status line.
type StatusKind string

const (
	StatusInfo    StatusKind = "info"    // StatusInfo is a neutral notice.
	StatusSuccess StatusKind = "success" // StatusSuccess confirms a completed step.
	StatusError   StatusKind = "error"   // StatusError reports a failure the user should see.
	StatusLoading StatusKind = "loading" // StatusLoading marks work in progress.
)

// Status is a message for the popup's status line.
type Status struct {
	Kind StatusKind
	Text string
}

// NewStatus creates a status of the given kind.
func NewStatus(kind StatusKind, text string) Status {
	return Status{Kind: kind, Text: text}
}

// IsError returns true for error statuses.
func (s Status) IsError() bool {
	return s.Kind == StatusError
}
