package ac

import (
	"fmt"
	"strings"
)

const Delimiter = ";"

// the placeholder used in the first field and in the id field when a message is not addressed
const NoId = "-"

// the fields of one frame, in order
// fields are never coerced. Callers upper-case verbs and parse numbers explicitly.
type Message []string

func ParseMessage(frame string) Message {
	return Message(strings.Split(frame, Delimiter))
}

func FormatMessage(fields ...string) string {
	return strings.Join(fields, Delimiter)
}

func (self Message) Len() int {
	return len(self)
}

// the field at `i`, or "" when the message is too short
func (self Message) Field(i int) string {
	if i < 0 || len(self) <= i {
		return ""
	}
	return self[i]
}

func (self Message) Upper(i int) string {
	return strings.ToUpper(self.Field(i))
}

// a message with fewer than two fields has nothing to route on
func (self Message) Routable() bool {
	return 2 <= len(self)
}

// returns `ErrMalformedMessage` when the message has fewer than `n` fields
func (self Message) Require(n int) error {
	if len(self) < n {
		return fmt.Errorf("%w Expected at least %d fields, got %d: %s", ErrMalformedMessage, n, len(self), self)
	}
	return nil
}

func (self Message) String() string {
	return FormatMessage(self...)
}

// Encodes lines of human readable text as a single field: each line wrapped in braces,
// joined with commas, and the list wrapped in braces, e.g. `{{a},{b}}`.
// Lines that contain a brace are rejected since the result would be ambiguous.
func EncodeStatusText(lines []string) (string, error) {
	var b strings.Builder
	b.WriteString("{")
	for i, line := range lines {
		if strings.ContainsAny(line, "{}") {
			return "", fmt.Errorf("%w Line %d: %q", ErrStatusTextBrace, i, line)
		}
		if strings.ContainsAny(line, "\r\n") {
			return "", fmt.Errorf("%w Line %d: %q", ErrLineBreak, i, line)
		}
		if 0 < i {
			b.WriteString(",")
		}
		b.WriteString("{")
		b.WriteString(line)
		b.WriteString("}")
	}
	b.WriteString("}")
	return b.String(), nil
}

func DecodeStatusText(s string) ([]string, error) {
	if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
		return nil, fmt.Errorf("%w Status text must be wrapped in braces: %q", ErrMalformedMessage, s)
	}
	inner := s[1 : len(s)-1]
	lines := []string{}
	for 0 < len(inner) {
		if inner[0] != '{' {
			return nil, fmt.Errorf("%w Expected '{' in status text: %q", ErrMalformedMessage, s)
		}
		end := strings.IndexByte(inner, '}')
		if end < 0 {
			return nil, fmt.Errorf("%w Unterminated status line: %q", ErrMalformedMessage, s)
		}
		lines = append(lines, inner[1:end])
		inner = inner[end+1:]
		if 0 < len(inner) {
			if inner[0] != ',' {
				return nil, fmt.Errorf("%w Expected ',' in status text: %q", ErrMalformedMessage, s)
			}
			inner = inner[1:]
			if len(inner) == 0 {
				return nil, fmt.Errorf("%w Trailing ',' in status text: %q", ErrMalformedMessage, s)
			}
		}
	}
	return lines, nil
}

// A frame is one line. Returns `ErrLineBreak` when `message` would split into several frames.
func CheckFrame(message string) error {
	if strings.ContainsAny(message, "\r\n") {
		return fmt.Errorf("%w %q", ErrLineBreak, message)
	}
	return nil
}

// Encodes block ids as a brace-wrapped comma list, e.g. `{1,2}`.
func EncodeIdList(ids []string) string {
	return "{" + strings.Join(ids, ",") + "}"
}
