package convert

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a conversion failure. Every error returned by Convert
// carries exactly one kind; collaborators map kinds to transport-level
// responses (input errors are the caller's fault, everything else is the
// host's).
type Kind int

const (
	KindInput Kind = iota + 1
	KindEnvironment
	KindStage
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input_error"
	case KindEnvironment:
		return "environment_error"
	case KindStage:
		return "stage_failure"
	case KindIO:
		return "io_error"
	default:
		return "unknown"
	}
}

// Error is a classified conversion failure. Stage, ExitCode and Stderr are
// populated for stage failures so diagnostics survive into logs even when
// they do not reach the caller verbatim.
type Error struct {
	Kind     Kind
	Stage    string
	ExitCode int
	Stderr   string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Stage != "" {
		fmt.Fprintf(&b, " stage=%s", e.Stage)
	}
	if e.Kind == KindStage && e.ExitCode != 0 {
		fmt.Fprintf(&b, " exit=%d", e.ExitCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the classification kind from an error chain. It returns
// zero for unclassified errors.
func KindOf(err error) Kind {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	return 0
}

func inputError(format string, args ...any) *Error {
	return &Error{Kind: KindInput, Message: fmt.Sprintf(format, args...)}
}

func environmentError(err error, format string, args ...any) *Error {
	return &Error{Kind: KindEnvironment, Message: fmt.Sprintf(format, args...), Err: err}
}

func ioError(err error, format string, args ...any) *Error {
	return &Error{Kind: KindIO, Message: fmt.Sprintf(format, args...), Err: err}
}
