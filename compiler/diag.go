package compiler

import (
	"strings"

	"github.com/goodguyjay/typstgo/engine"
	"github.com/goodguyjay/typstgo/world"
)

// translateDiagnostics converts raw engine diagnostics for display. Hints
// fold into the message, spans resolve to 1-based line/column positions,
// and errors sort before warnings, each group keeping engine order.
func translateDiagnostics(w *world.World, raw []engine.RawDiagnostic) []Diagnostic {
	if len(raw) == 0 {
		return nil
	}
	var errs, warns []Diagnostic
	for _, rd := range raw {
		d := translateOne(w, rd)
		if d.Severity == SeverityError {
			errs = append(errs, d)
		} else {
			warns = append(warns, d)
		}
	}
	return append(errs, warns...)
}

func translateOne(w *world.World, rd engine.RawDiagnostic) Diagnostic {
	d := Diagnostic{
		Severity: SeverityWarning,
		Message:  foldHints(rd.Message, rd.Hints),
	}
	if rd.Severity == engine.RawSeverityError {
		d.Severity = SeverityError
	}

	if rd.File == "" {
		return d
	}
	d.File = rd.File

	// Spans resolve against cached sources only. The engine read every
	// file it attached a span to, so a cache miss means the span is stale
	// or foreign; it stays absent rather than triggering I/O here.
	id, err := world.ParseID(rd.File)
	if err != nil {
		return d
	}
	src, ok := w.CachedSource(id)
	if !ok {
		return d
	}
	line, col, ok := src.Position(rd.SpanStart)
	if !ok {
		return d
	}

	var length uint32
	if rd.SpanEnd >= rd.SpanStart {
		length = rd.SpanEnd - rd.SpanStart
	}
	d.Location = Location{Line: line, Column: col, Length: length}
	return d
}

func foldHints(msg string, hints []string) string {
	if len(hints) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for _, h := range hints {
		sb.WriteString("\nHint: ")
		sb.WriteString(h)
	}
	return sb.String()
}
