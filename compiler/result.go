package compiler

import (
	"fmt"
	"time"
)

// Severity classifies a diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Location points into a source file. Line and Column are 1-based; Column
// counts characters from the line start; Length is the byte width of the
// span. The zero value means the diagnostic has no resolvable location.
type Location struct {
	Line   uint32
	Column uint32
	Length uint32
}

// Absent reports whether the location is the zero value.
func (l Location) Absent() bool {
	return l == Location{}
}

// Diagnostic is one engine message with its location resolved against the
// session's sources. Hints are folded into Message, one per line.
type Diagnostic struct {
	Severity Severity
	Message  string
	// File is the identity the span points into, like "/main.typ" or
	// "@preview/example:0.1.0/lib.typ". Empty when the diagnostic has no
	// span.
	File     string
	Location Location
}

// String formats the diagnostic the way compilers print them:
// file:line:col: severity: message.
func (d Diagnostic) String() string {
	if d.File == "" || d.Location.Absent() {
		return fmt.Sprintf("%s: %s", d.Severity, d.Message)
	}
	return fmt.Sprintf("%s:%d:%d: %s: %s", d.File, d.Location.Line, d.Location.Column, d.Severity, d.Message)
}

// Result holds the outcome of one compilation.
type Result struct {
	// Success is true when a document was produced. A false Success with a
	// nil Error is an ordinary compile failure described by Diagnostics.
	Success bool
	// Document is the compiled artifact, non-nil iff Success. The caller
	// owns it and must Close it.
	Document *Document
	// Diagnostics carries warnings on success and errors first, then
	// warnings, on failure. A failed compile always has at least one.
	Diagnostics []Diagnostic
	// Duration is the wall time of the compile call.
	Duration time.Duration
	// Error reports host-side failures: the engine was unavailable, the
	// session was closed, or the result could not be decoded. Compile
	// problems in the source are Diagnostics, never Error.
	Error error
}

// HasErrors reports whether any diagnostic is an error.
func (r Result) HasErrors() bool {
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Warnings returns only the warning diagnostics.
func (r Result) Warnings() []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityWarning {
			out = append(out, d)
		}
	}
	return out
}
