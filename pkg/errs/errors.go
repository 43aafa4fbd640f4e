// Package errs defines the failure taxonomy of a pipeline run. Every kind is
// terminal for the run; callers match them with errors.Is against the
// exported sentinels.
package errs

import (
	"fmt"
	"time"
)

// Kind categorizes a pipeline failure
type Kind int

const (
	KindUnknown            Kind = iota
	KindCorrelationTimeout      // no matching traffic observed within budget
	KindNetwork                 // transport failure or non-success job fetch
	KindJobCreation             // derived job submission rejected
	KindJobIncomplete           // derived job never reached "done"
)

func (k Kind) String() string {
	switch k {
	case KindCorrelationTimeout:
		return "correlation_timeout"
	case KindNetwork:
		return "network"
	case KindJobCreation:
		return "job_creation"
	case KindJobIncomplete:
		return "job_incomplete"
	default:
		return "unknown"
	}
}

// Error wraps a failure with its kind and the operation that produced it
type Error struct {
	Kind       Kind
	Op         string // "await_match", "fetch_job", "create_job", "poll", ...
	Message    string
	StatusCode int // HTTP status when the backend answered, 0 otherwise
	Err        error
	Timestamp  time.Time
}

// Error implements error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap implements error unwrapping
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Hint returns the action a user can take to recover.
func (e *Error) Hint() string {
	switch e.Kind {
	case KindCorrelationTimeout:
		return "Trigger a matching report action once (for example change the date and click Show again), then retry."
	case KindNetwork:
		return "Check the session cookie and connectivity to the analytics backend."
	case KindJobCreation:
		return "The backend rejected the request; the CSRF cookie may be missing or expired."
	case KindJobIncomplete:
		return "The backend is slow; retry or raise poll.max_attempts."
	default:
		return ""
	}
}

// New creates a new pipeline error
func New(kind Kind, op, message string, err error) *Error {
	return &Error{
		Kind:      kind,
		Op:        op,
		Message:   message,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// WithStatus records the HTTP status code the backend answered with.
func (e *Error) WithStatus(code int) *Error {
	e.StatusCode = code
	return e
}

var (
	ErrCorrelationTimeout = &Error{Kind: KindCorrelationTimeout}
	ErrNetwork            = &Error{Kind: KindNetwork}
	ErrJobCreation        = &Error{Kind: KindJobCreation}
	ErrJobIncomplete      = &Error{Kind: KindJobIncomplete}
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return KindUnknown
		}
		err = u.Unwrap()
	}
	return KindUnknown
}
