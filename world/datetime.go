package world

import "time"

// Datetime is a second-precision calendar timestamp for the engine's
// datetime queries.
type Datetime struct {
	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
	Second int
}

func datetimeAt(t time.Time) Datetime {
	return Datetime{
		Year:   t.Year(),
		Month:  int(t.Month()),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
		Second: t.Second(),
	}
}

// Today returns the current date for the engine. With hasOffset set, the
// calendar fields are computed at the fixed UTC hour offset; otherwise at
// the local offset. A pinned creation timestamp (reproducible builds)
// replaces the wall clock.
func (w *World) Today(offsetHours int, hasOffset bool) (Datetime, bool) {
	t := w.now()
	if w.creation != nil {
		t = *w.creation
	}
	switch {
	case hasOffset:
		t = t.In(time.FixedZone("", offsetHours*3600))
	case w.creation != nil:
		t = t.UTC()
	default:
		t = t.Local()
	}
	return datetimeAt(t), true
}
