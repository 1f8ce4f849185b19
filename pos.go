package tinyscript

import (
	"fmt"
	"sort"
	"unicode/utf8"
)

// Range is a half-open byte span [Start, End) within one file's source text.
type Range struct{ Start, End int }

func NewRange(start, end int) Range { return Range{Start: start, End: end} }

func (r Range) String() string {
	if r.Start == r.End {
		return fmt.Sprintf("%d", r.Start)
	}
	return fmt.Sprintf("%d..%d", r.Start, r.End)
}

func (r Range) Str(src []byte) string { return string(src[r.Start:r.End]) }

func (r Range) Contains(other Range) bool {
	return other.Start >= r.Start && other.End <= r.End
}

// Location is a single point in a module's source, used for error
// reporting and for the debugger's "list" command.
type Location struct {
	File   string
	Line   int32
	Column int32
	Cursor int32
}

func (l Location) String() string {
	if l.File == "" {
		return fmt.Sprintf("%d:%d", l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// Span is a pair of Locations, the extent of a token or expression.
type Span struct{ Start, End Location }

func NewSpan(start, end Location) Span { return Span{Start: start, End: end} }

func (s Span) String() string {
	if s.Start.File != s.End.File {
		return fmt.Sprintf("%s..%s", s.Start, s.End)
	}
	if s.Start.Line == s.End.Line && s.Start.Column == s.End.Column {
		return s.Start.String()
	}
	if s.Start.Line == s.End.Line {
		return fmt.Sprintf("%s:%d:%d..%d", s.Start.File, s.Start.Line, s.Start.Column, s.End.Column)
	}
	return fmt.Sprintf("%s:%d:%d..%d:%d", s.Start.File, s.Start.Line, s.Start.Column, s.End.Line, s.End.Column)
}

// LineIndex allows fast conversion from byte cursor offsets to
// line/column, for a single module's source text. It stores the start
// byte offset of each line and binary-searches on lookup.
type LineIndex struct {
	file      string
	input     []byte
	lineStart []int
}

func NewLineIndex(file string, input []byte) *LineIndex {
	lineStart := make([]int, 1, 64)
	lineStart[0] = 0
	for i, b := range input {
		if b == '\n' {
			lineStart = append(lineStart, i+1)
		}
	}
	return &LineIndex{file: file, input: input, lineStart: lineStart}
}

func (li *LineIndex) Span(r Range) Span {
	return Span{Start: li.LocationAt(r.Start), End: li.LocationAt(r.End)}
}

func (li *LineIndex) LocationAt(cursor int) Location {
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(li.input) {
		cursor = len(li.input)
	}
	lineIdx := sort.Search(len(li.lineStart), func(i int) bool {
		return li.lineStart[i] > cursor
	}) - 1
	if lineIdx < 0 {
		lineIdx = 0
	}
	lineStart := li.lineStart[lineIdx]
	col := int32(utf8.RuneCount(li.input[lineStart:cursor])) + 1
	return Location{File: li.file, Line: int32(lineIdx + 1), Column: col, Cursor: int32(cursor)}
}

// Line returns the raw text of the given 1-based line number, used by
// the debugger's `list` command. Returns "" if out of range.
func (li *LineIndex) Line(n int) string {
	if n < 1 || n > len(li.lineStart) {
		return ""
	}
	start := li.lineStart[n-1]
	end := len(li.input)
	if n < len(li.lineStart) {
		end = li.lineStart[n] - 1
	}
	if start > end || start > len(li.input) {
		return ""
	}
	if end > len(li.input) {
		end = len(li.input)
	}
	return string(li.input[start:end])
}
