package tus

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bitrise-io/go-tusclient/source"
)

// Kind classifies an upload failure.
type Kind int

// Failure kinds.
const (
	KindUnknown Kind = iota
	KindInvalidConfiguration
	KindSourceAccess
	KindOutOfOrderAccess
	KindUnsupportedFragmentType
	KindNetworkFailure
	KindServerError
	KindClientError
	KindProtocolViolation
	KindAborted
)

func (k Kind) String() string {
	switch k {
	case KindInvalidConfiguration:
		return "invalid configuration"
	case KindSourceAccess:
		return "source access error"
	case KindOutOfOrderAccess:
		return "out of order access"
	case KindUnsupportedFragmentType:
		return "unsupported fragment type"
	case KindNetworkFailure:
		return "network failure"
	case KindServerError:
		return "server error"
	case KindClientError:
		return "client error"
	case KindProtocolViolation:
		return "protocol violation"
	case KindAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

var (
	// ErrAborted is returned by Wait once the upload was aborted.
	ErrAborted = errors.New("tus: upload aborted")
	// ErrAlreadyStarted is returned by Start when the upload is already running.
	ErrAlreadyStarted = errors.New("tus: upload already started")
	// ErrNotPaused is returned by Resume when the upload is not paused.
	ErrNotPaused = errors.New("tus: upload is not paused")
	// ErrInvalidTransition signals a state machine bug.
	ErrInvalidTransition = errors.New("tus: invalid state transition")
)

// Error describes a failed upload. Request related fields are set when the
// failure was triggered by a request.
type Error struct {
	Kind Kind
	// Op is what the engine was doing, e.g. "creating upload".
	Op string

	Method     string
	URL        string
	StatusCode int
	Body       string

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("tus: ")
	if e.Op != "" {
		b.WriteString(e.Op)
	} else {
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Method != "" {
		fmt.Fprintf(&b, ", originated from request (method: %s, url: %s", e.Method, e.URL)
		if e.StatusCode != 0 {
			fmt.Fprintf(&b, ", response code: %d, response text: %s", e.StatusCode, e.Body)
		}
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var tusErr *Error
	if errors.As(err, &tusErr) {
		return tusErr.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err may be retried: network failures and server errors.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNetworkFailure, KindServerError:
		return true
	default:
		return false
	}
}

func configError(format string, args ...interface{}) error {
	return &Error{Kind: KindInvalidConfiguration, Op: "invalid configuration", Err: fmt.Errorf(format, args...)}
}

// sourceError maps errors of the source package to their kinds.
func sourceError(op string, err error) error {
	kind := KindSourceAccess
	switch {
	case errors.Is(err, source.ErrOutOfOrderAccess):
		kind = KindOutOfOrderAccess
	case errors.Is(err, source.ErrUnsupportedFragmentType):
		kind = KindUnsupportedFragmentType
	case errors.Is(err, source.ErrInvalidChunkSize):
		kind = KindInvalidConfiguration
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
