package models

// StateKind names a model lifecycle state.
type StateKind string

const (
	StateMissing     StateKind = "missing"
	StateDownloading StateKind = "downloading"
	StateAvailable   StateKind = "available"
	StateError       StateKind = "error"
)

// Status is the current lifecycle state of one model. Progress is
// meaningful only while State is StateDownloading, Error only while
// State is StateError.
type Status struct {
	State    StateKind `json:"state"`
	Progress int       `json:"progress,omitempty"`
	Error    string    `json:"error,omitempty"`
}

func Missing() Status            { return Status{State: StateMissing} }
func Downloading(pct int) Status { return Status{State: StateDownloading, Progress: pct} }
func Available() Status          { return Status{State: StateAvailable} }
func Errored(msg string) Status  { return Status{State: StateError, Error: msg} }

// Terminal reports whether the state ends a download attempt.
func (s Status) Terminal() bool {
	return s.State == StateAvailable || s.State == StateError
}
