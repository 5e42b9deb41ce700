package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"mailpacer/classify"
	"mailpacer/plan"
)

// Message is one outgoing e-mail. It is not modified during a run.
type Message struct {
	To      string
	Name    string
	Company string
	Note    string
	Subject string
	Body    string
}

// Success records a message the transport accepted.
type Success struct {
	Message         Message
	SentAt          time.Time
	AttachmentsSent int
}

// Failure records a message the transport rejected.
type Failure struct {
	Message   Message
	FailedAt  time.Time
	Kind      classify.Kind
	Error     string
	Retryable bool
}

// OutcomeSet is the aggregate result of one run, complete or partial.
type OutcomeSet struct {
	RunID          string
	Successes      []Success
	Failures       []Failure
	TotalProcessed int
	StartedAt      time.Time
	FinishedAt     time.Time
	Duration       time.Duration
	Cancelled      bool
	Plan           plan.Plan
	Settings       plan.Settings
}

// SuccessRate returns the percentage of processed messages that were sent.
func (o *OutcomeSet) SuccessRate() float64 {
	if o.TotalProcessed == 0 {
		return 0
	}
	return float64(len(o.Successes)) / float64(o.TotalProcessed) * 100
}

// FailuresByKind counts failures per classification.
func (o *OutcomeSet) FailuresByKind() map[classify.Kind]int {
	out := make(map[classify.Kind]int)
	for _, f := range o.Failures {
		out[f.Kind]++
	}
	return out
}

// ProgressKind tags a Progress value.
type ProgressKind int

const (
	// ProgressUpdate carries a new completed fraction.
	ProgressUpdate ProgressKind = iota
	// StatusOnly leaves the fraction unchanged.
	StatusOnly
)

// Progress is reported to the caller before every send and periodically
// during pauses.
type Progress struct {
	Kind     ProgressKind
	Fraction float64
	Text     string
}

// Update builds a ProgressUpdate.
func Update(fraction float64, text string) Progress {
	return Progress{Kind: ProgressUpdate, Fraction: fraction, Text: text}
}

// StatusText builds a StatusOnly progress.
func StatusText(text string) Progress {
	return Progress{Kind: StatusOnly, Text: text}
}

// State is the position of a run in its lifecycle.
type State string

const (
	StateIdle        State = "idle"
	StateSending     State = "sending"
	StatePausedIntra State = "paused_intra_batch"
	StatePausedInter State = "paused_inter_batch"
	StateCompleted   State = "completed"
	StateCancelled   State = "cancelled"
	StateAborted     State = "aborted"
)

// ErrRunActive is returned when a run is requested while another is active.
var ErrRunActive = errors.New("dispatch: a run is already active")

// AttachmentMissingError aborts a run before anything is sent.
type AttachmentMissingError struct {
	Paths []string
}

func (e *AttachmentMissingError) Error() string {
	return fmt.Sprintf("dispatch: missing attachments: %s", strings.Join(e.Paths, ", "))
}

// ConnectError reports a transport that could not be opened.
type ConnectError struct {
	Reason     string
	Suggestion string
	Err        error
}

func (e *ConnectError) Error() string {
	return "dispatch: transport connect failed: " + e.Reason
}

func (e *ConnectError) Unwrap() error { return e.Err }
