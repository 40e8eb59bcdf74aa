// Package etlerr defines the error kinds a pipeline run can fail with.
//
// Every stage of the loader wraps its failure in an *Error carrying the Kind,
// the stage name and (when applicable) the sheet being processed. The wrapped
// cause stays reachable through errors.Is / errors.As.
package etlerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// Unknown is returned by KindOf for errors that were never classified.
	Unknown Kind = iota
	// InvalidArgument means a caller passed a value outside the domain of an operation.
	InvalidArgument
	// Connection means the store was unreachable or refused the session.
	Connection
	// Schema means the DDL of the schema reset failed.
	Schema
	// Registration means an attribute insert or its key read-back failed.
	Registration
	// Load means a fact batch insert (or the final commit) failed.
	Load
	// SourceRead means the workbook or one of its sheets could not be read.
	SourceRead
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case Connection:
		return "ConnectionError"
	case Schema:
		return "SchemaError"
	case Registration:
		return "RegistrationError"
	case Load:
		return "LoadError"
	case SourceRead:
		return "SourceReadError"
	default:
		return "Unknown"
	}
}

// Error is a classified failure.
type Error struct {
	Kind  Kind
	Stage string
	Sheet string
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Stage != "" {
		b.WriteString(" stage=")
		b.WriteString(e.Stage)
	}
	if e.Sheet != "" {
		fmt.Fprintf(&b, " sheet=%q", e.Sheet)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an *Error of kind k with a formatted message as its cause.
func New(k Kind, format string, args ...any) error {
	return &Error{Kind: k, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
//
// If err is already an *Error its Kind is kept; only empty Stage/Sheet fields
// are filled in. This lets inner helpers classify precisely while outer stages
// still attach their context.
func Wrap(k Kind, stage, sheet string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		out := *e
		if out.Stage == "" {
			out.Stage = stage
		}
		if out.Sheet == "" {
			out.Sheet = sheet
		}
		return &out
	}
	return &Error{Kind: k, Stage: stage, Sheet: sheet, Err: err}
}

// KindOf reports the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries kind k.
func Is(err error, k Kind) bool { return err != nil && KindOf(err) == k }
