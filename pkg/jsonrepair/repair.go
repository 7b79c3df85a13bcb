// Package jsonrepair recovers a JSON value from the raw text a small local
// model emits. The text may be wrapped in markdown fences, preceded by
// conversational preamble, contain literal newlines inside string values, or
// be truncated mid-value when the model hits its output budget. Everything
// here is pure: text in, repaired JSON out, no I/O.
package jsonrepair

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

var (
	// ErrNoJSON means no opening brace or bracket was found at all.
	ErrNoJSON = errors.New("no JSON value found in text")
	// ErrUnclosed means an opener was found but no matching close exists and
	// salvage failed within the lookback window.
	ErrUnclosed = errors.New("unclosed JSON value, salvage failed")
)

// Options tunes the salvage heuristic. The closing-suffix list is empirical,
// tuned against observed small-model truncation patterns; treat it as
// configuration rather than exhaustive logic.
type Options struct {
	// ClosingSuffixes are appended, in order, at each lookback position when
	// trying to close truncated output.
	ClosingSuffixes []string
	// LookbackBytes bounds how far back from the end salvage will scan.
	LookbackBytes int
	// LookbackStep is how many bytes each backward step removes.
	LookbackStep int
	// ObjectOnly restricts detection to '{' (arrays in preamble are skipped).
	ObjectOnly bool
}

// DefaultOptions returns the tuned defaults.
func DefaultOptions() Options {
	return Options{
		ClosingSuffixes: []string{
			`"`, `"}`, `"}]`, `"}]}`,
			`}`, `}]`, `}]}`, `}}`,
			`]`, `]}`, `]}]}`,
		},
		LookbackBytes: 160,
		LookbackStep:  1,
		ObjectOnly:    false,
	}
}

// Repair extracts and repairs the first JSON value in raw, returning it as a
// valid JSON string. Returns ErrNoJSON, ErrUnclosed, or a parse error when
// the candidate is complete but irrecoverably malformed.
func Repair(raw string, opts Options) (string, error) {
	if len(opts.ClosingSuffixes) == 0 {
		def := DefaultOptions()
		opts.ClosingSuffixes = def.ClosingSuffixes
		if opts.LookbackBytes == 0 {
			opts.LookbackBytes = def.LookbackBytes
		}
		if opts.LookbackStep == 0 {
			opts.LookbackStep = def.LookbackStep
		}
	}
	if opts.LookbackBytes <= 0 {
		opts.LookbackBytes = DefaultOptions().LookbackBytes
	}
	if opts.LookbackStep <= 0 {
		opts.LookbackStep = 1
	}

	text := stripFences(raw)

	start := findOpener(text, opts.ObjectOnly)
	if start < 0 {
		return "", ErrNoJSON
	}
	text = text[start:]

	if end := matchClose(text); end >= 0 {
		candidate := escapeControlChars(text[:end+1])
		if !json.Valid([]byte(candidate)) {
			// Complete but malformed; nothing the suffix salvage can do.
			return "", fmt.Errorf("complete JSON candidate failed to parse: %w", ErrUnclosed)
		}
		return candidate, nil
	}

	return salvage(text, opts)
}

// Unmarshal repairs raw with default options and decodes the result into dest.
func Unmarshal(raw string, dest any) error {
	repaired, err := Repair(raw, DefaultOptions())
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(repaired), dest)
}

// UnmarshalObject is Unmarshal restricted to JSON objects.
func UnmarshalObject(raw string, dest any) error {
	opts := DefaultOptions()
	opts.ObjectOnly = true
	repaired, err := Repair(raw, opts)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(repaired), dest)
}

// stripFences removes a leading/trailing markdown code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	// Drop the opening fence line ("```" or "```json").
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// findOpener returns the index of the first '{' (or '[' unless objectOnly);
// text before it is conversational preamble.
func findOpener(s string, objectOnly bool) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			return i
		case '[':
			if !objectOnly {
				return i
			}
		}
	}
	return -1
}

// matchClose walks forward from the opener at s[0] tracking nesting depth and
// quoted-string state, returning the index of the matching close or -1.
func matchClose(s string) int {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// escapeControlChars escapes literal control characters that occur inside
// quoted string values. Small models routinely emit real newlines inside JSON
// strings, which is invalid JSON; outside strings control characters are
// legal whitespace and left alone.
func escapeControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)

	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
				b.WriteByte(c)
				continue
			}
			switch {
			case c == '\\':
				escaped = true
				b.WriteByte(c)
			case c == '"':
				inString = false
				b.WriteByte(c)
			case c == '\n':
				b.WriteString(`\n`)
			case c == '\t':
				b.WriteString(`\t`)
			case c == '\r':
				b.WriteString(`\r`)
			case c < 0x20:
				fmt.Fprintf(&b, `\u%04x`, c)
			default:
				b.WriteByte(c)
			}
			continue
		}
		if c == '"' {
			inString = true
		}
		b.WriteByte(c)
	}
	return b.String()
}

// salvage handles truncated output: scan backward from the end in small
// steps, trying each closing suffix until one yields valid JSON.
func salvage(text string, opts Options) (string, error) {
	limit := len(text) - opts.LookbackBytes
	if limit < 1 {
		limit = 1
	}

	for pos := len(text); pos >= limit; pos -= opts.LookbackStep {
		prefix := escapeControlChars(text[:pos])
		for _, suffix := range opts.ClosingSuffixes {
			candidate := prefix + suffix
			if json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
	}
	return "", ErrUnclosed
}
