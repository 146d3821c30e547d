// Package engine bridges code-execution requests to the external execution
// engine over a raw TCP byte stream and turns its semi-structured output
// back into discrete messages for the originating client.
package engine

import "strings"

// jsonProbe marks the start of an embedded engine JSON object. The engine
// interleaves these with plain program output and no other delimiter, so
// framing leans on this textual probe before falling back to line splits.
const jsonProbe = `{"type":"`

// messageProbe must co-occur with jsonProbe before the buffer is treated
// as holding a JSON unit.
const messageProbe = `"message":`

// Scanner incrementally reconstructs framed units from arbitrarily chunked
// engine output. A unit is either one complete JSON object (balanced
// braces, quote- and escape-aware) or one text line including its trailing
// newline. Bytes that do not yet form a complete unit stay buffered.
type Scanner struct {
	buf string
}

// NewScanner creates an empty scanner.
func NewScanner() *Scanner {
	return &Scanner{}
}

// Feed appends a chunk and returns every unit that completed with it, in
// stream order. The engine may send JSON objects back to back or split a
// single object across many reads; both reassemble identically.
func (s *Scanner) Feed(chunk []byte) []string {
	s.buf += string(chunk)

	var units []string
	for {
		unit, ok := s.next()
		if !ok {
			break
		}
		units = append(units, unit)
	}
	return units
}

// next extracts one complete unit from the buffer, or reports that more
// bytes are needed. JSON extraction is attempted first; while a JSON
// object is in flight the scanner waits for its closing brace rather than
// splitting the partial object on newlines.
func (s *Scanner) next() (string, bool) {
	if start := strings.Index(s.buf, jsonProbe); start >= 0 && strings.Contains(s.buf, messageProbe) {
		end := findJSONEnd(s.buf, start)
		if end < 0 {
			return "", false
		}
		unit := s.buf[start : end+1]
		s.buf = s.buf[:start] + s.buf[end+1:]
		return unit, true
	}

	// Hand out the next line with the newline it was split on, so
	// classification sees exact original content. Anything after the last
	// newline stays buffered as a partial line.
	first := strings.IndexByte(s.buf, '\n')
	if first < 0 {
		return "", false
	}
	unit := s.buf[:first+1]
	s.buf = s.buf[first+1:]
	return unit, true
}

// Flush returns any non-empty remainder at end of stream and resets the
// scanner.
func (s *Scanner) Flush() (string, bool) {
	remainder := s.buf
	s.buf = ""
	return remainder, remainder != ""
}

// Pending returns the number of buffered bytes awaiting completion.
func (s *Scanner) Pending() int {
	return len(s.buf)
}

// findJSONEnd locates the index of the brace closing the object starting
// at start. Characters inside quoted strings are opaque, with backslash
// escaping respected. Returns -1 while the object is incomplete.
func findJSONEnd(content string, start int) int {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(content); i++ {
		c := content[i]

		if escaped {
			escaped = false
			continue
		}

		switch {
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && c == '{':
			depth++
		case !inString && c == '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}

	return -1
}
