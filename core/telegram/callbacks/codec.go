// Package callbacks packs action names and their parameters into a single
// delimited string and back. The packed form is what travels through
// Telegram callback data and the persisted waiting-on field.
package callbacks

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultSeparator is used when no separator is configured.
const DefaultSeparator = "::"

// escapeMarker prefixes every escaped character inside a parameter.
const escapeMarker = '-'

var (
	// ErrInvalidActionName is returned when an action name cannot be packed unambiguously.
	ErrInvalidActionName = errors.New("callbacks: invalid action name")
	// ErrInvalidSeparator is returned for separators that cannot be escaped.
	ErrInvalidSeparator = errors.New("callbacks: invalid separator")
	// ErrEmptyToken is returned when unpacking an empty token or a token without action.
	ErrEmptyToken = errors.New("callbacks: empty token")
)

// ValidateSeparator checks that sep is long enough to be escaped and does not
// contain the escape marker.
func ValidateSeparator(sep string) error {
	if utf8.RuneCountInString(sep) < 2 {
		return fmt.Errorf("%w: %q must contain at least two characters", ErrInvalidSeparator, sep)
	}
	if strings.ContainsRune(sep, escapeMarker) {
		return fmt.Errorf("%w: %q must not contain %q", ErrInvalidSeparator, sep, escapeMarker)
	}
	return nil
}

// Pack joins action and the escaped params with sep.
func Pack(action string, params []string, sep string) (string, error) {
	if err := ValidateSeparator(sep); err != nil {
		return "", err
	}
	if action == "" {
		return "", fmt.Errorf("%w: empty action", ErrInvalidActionName)
	}
	if strings.Contains(action, sep) {
		return "", fmt.Errorf("%w: %q contains separator %q", ErrInvalidActionName, action, sep)
	}
	if overlapsSeparator(action, sep) {
		return "", fmt.Errorf("%w: %q ends with a fragment of separator %q", ErrInvalidActionName, action, sep)
	}

	parts := make([]string, 0, len(params)+1)
	parts = append(parts, action)
	for _, p := range params {
		parts = append(parts, escape(p, sep))
	}
	return strings.Join(parts, sep), nil
}

// Unpack splits token by sep and unescapes every parameter.
func Unpack(token, sep string) (Token, error) {
	if err := ValidateSeparator(sep); err != nil {
		return Token{}, err
	}
	if token == "" {
		return Token{}, ErrEmptyToken
	}
	parts := strings.Split(token, sep)
	if parts[0] == "" {
		return Token{}, fmt.Errorf("%w: missing action in %q", ErrEmptyToken, token)
	}
	params := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		params = append(params, unescape(p))
	}
	return Token{Action: parts[0], Params: params}, nil
}

// escape rewrites text so that it never contains sep and never ends with a
// fragment that could merge with a following sep.
func escape(text, sep string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/2)
	for i := 0; i < len(text); {
		if strings.HasPrefix(text[i:], sep) {
			for _, r := range sep {
				b.WriteRune(escapeMarker)
				b.WriteRune(r)
			}
			i += len(sep)
			continue
		}
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		switch {
		case r == escapeMarker:
			b.WriteRune(escapeMarker)
			b.WriteRune(escapeMarker)
		case strings.HasSuffix(b.String()+string(r), sep):
			b.WriteRune(escapeMarker)
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if overlapsSeparator(out, sep) {
		out += string(escapeMarker)
	}
	return out
}

// unescape reads every marker-prefixed character literally and drops a lone
// trailing marker.
func unescape(text string) string {
	if !strings.ContainsRune(text, escapeMarker) {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if r != escapeMarker {
			b.WriteRune(r)
			continue
		}
		if i >= len(text) {
			break
		}
		next, nsize := utf8.DecodeRuneInString(text[i:])
		i += nsize
		b.WriteRune(next)
	}
	return b.String()
}

// overlapsSeparator reports whether a separator appended to s would be found
// starting inside s.
func overlapsSeparator(s, sep string) bool {
	_, last := utf8.DecodeLastRuneInString(sep)
	idx := strings.Index(s+sep[:len(sep)-last], sep)
	return idx >= 0 && idx < len(s)
}
