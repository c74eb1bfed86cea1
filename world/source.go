package world

import (
	"sort"
	"unicode/utf8"
)

// Source is a resolved text file together with the line index used to
// translate byte spans into line/column positions.
type Source struct {
	ID   FileID
	Text string

	lineIdx []uint32 // byte offsets of every '\n'
}

// NewSource builds a source record and its line index.
func NewSource(id FileID, text string) *Source {
	return &Source{ID: id, Text: text, lineIdx: buildLineIndex(text)}
}

func buildLineIndex(text string) []uint32 {
	var idx []uint32
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			idx = append(idx, uint32(i))
		}
	}
	return idx
}

// Position converts a byte offset into a 1-based line and column. The
// column counts characters from the line start; offsets may point one past
// the final byte (end-of-file spans). Out-of-range offsets report ok=false.
func (s *Source) Position(off uint32) (line, col uint32, ok bool) {
	if off > uint32(len(s.Text)) {
		return 0, 0, false
	}
	before := sort.Search(len(s.lineIdx), func(i int) bool {
		return s.lineIdx[i] >= off
	})
	lineStart := uint32(0)
	if before > 0 {
		lineStart = s.lineIdx[before-1] + 1
	}
	chars := utf8.RuneCountInString(s.Text[lineStart:off])
	return uint32(before) + 1, uint32(chars) + 1, true
}
