// Package streamjson extracts JSON objects from LLM output. Models wrap
// JSON in markdown fences, prose, or emit several objects in sequence; the
// scanner tolerates all of that by tracking brace depth outside string
// literals and emitting each top-level object as soon as its closing brace
// arrives, which enables mid-stream handling of structured requests.
package streamjson

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrUnparseable is returned when a closed stream contained no valid JSON
// object. It is never returned mid-stream; partial input is simply pending.
var ErrUnparseable = errors.New("no parseable JSON object in stream")

// Scanner is a push-based extractor. Feed it text chunks with Write; it
// returns every top-level object completed by that chunk. A Scanner is not
// safe for concurrent use.
type Scanner struct {
	raw      strings.Builder // everything ever written
	current  strings.Builder // object being accumulated
	depth    int
	inString bool
	escaped  bool
	objects  []json.RawMessage
}

func NewScanner() *Scanner {
	return &Scanner{}
}

// Write feeds a chunk and returns the objects whose closing brace appeared
// in it. Text outside objects (prose, fences) is retained in Raw but
// otherwise ignored.
func (s *Scanner) Write(chunk string) []json.RawMessage {
	s.raw.WriteString(chunk)

	var completed []json.RawMessage
	for _, r := range chunk {
		if s.depth == 0 {
			if r == '{' {
				s.current.Reset()
				s.current.WriteRune(r)
				s.depth = 1
				s.inString = false
				s.escaped = false
			}
			continue
		}

		s.current.WriteRune(r)

		if s.inString {
			switch {
			case s.escaped:
				s.escaped = false
			case r == '\\':
				s.escaped = true
			case r == '"':
				s.inString = false
			}
			continue
		}

		switch r {
		case '"':
			s.inString = true
		case '{', '[':
			s.depth++
		case '}', ']':
			s.depth--
			if s.depth == 0 {
				candidate := s.current.String()
				if json.Valid([]byte(candidate)) {
					obj := json.RawMessage(candidate)
					s.objects = append(s.objects, obj)
					completed = append(completed, obj)
				}
				s.current.Reset()
			}
		}
	}
	return completed
}

// Objects returns every complete object seen so far, in order.
func (s *Scanner) Objects() []json.RawMessage {
	return s.objects
}

// Raw returns the full accumulated text.
func (s *Scanner) Raw() string {
	return s.raw.String()
}

// Pending reports whether an object is open but not yet closed.
func (s *Scanner) Pending() bool {
	return s.depth > 0
}

// Close finalizes the stream. It returns the last complete object, or
// ErrUnparseable if the stream never produced one. A stray unmatched brace
// in leading prose opens a capture that never rebalances and would swallow
// a later valid object, so an empty result triggers a rescan that skips
// past each opening brace in turn.
func (s *Scanner) Close() (json.RawMessage, error) {
	if len(s.objects) == 0 {
		if obj, ok := rescan(s.raw.String()); ok {
			return obj, nil
		}
		return nil, ErrUnparseable
	}
	return s.objects[len(s.objects)-1], nil
}

func rescan(text string) (json.RawMessage, bool) {
	for {
		i := strings.IndexByte(text, '{')
		if i < 0 {
			return nil, false
		}
		text = text[i+1:]
		s := NewScanner()
		s.Write(text)
		if n := len(s.objects); n > 0 {
			return s.objects[n-1], true
		}
	}
}
