// Package sanitize cleans user supplied text before it reaches prompts,
// file names, or logs.
package sanitize

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	fgerrors "github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/errors"
)

const (
	// DefaultTopicLength is the topic limit when none is given.
	DefaultTopicLength = 200

	// MinTopicLength is the shortest topic accepted after cleaning.
	MinTopicLength = 2

	// DefaultSecretTail is the number of trailing characters MaskSecret keeps.
	DefaultSecretTail = 4
)

// InvalidInputError reports input that cannot be used even after cleaning.
type InvalidInputError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ErrorKind implements errors.Kinded.
func (e *InvalidInputError) ErrorKind() fgerrors.Kind {
	return fgerrors.KindInvalidInput
}

var (
	phpTag      = regexp.MustCompile(`(?is)<\?.*?\?>`)
	scriptBlock = regexp.MustCompile(`(?is)<\s*(script|style)\b.*?<\s*/\s*(script|style)\s*>`)
	htmlTag     = regexp.MustCompile(`(?s)</?[A-Za-z!][^<>]*>`)
	templateExp = regexp.MustCompile(`(?s)\{\{.*?\}\}|\{%.*?%\}|\$\{[^}]*\}`)
	delimiters  = regexp.MustCompile(`\{\{|\}\}|\{%|%\}`)
	shellMeta   = regexp.MustCompile("[;&|`$<>\\\\]+")
)

// Topic strips markup, template expressions, and shell metacharacters from
// a topic, collapses whitespace, and truncates to maxLength runes. A
// maxLength of zero or less means DefaultTopicLength. Topic is idempotent.
func Topic(topic string, maxLength int) (string, error) {
	if maxLength <= 0 {
		maxLength = DefaultTopicLength
	}

	cleaned := strip(topic)
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	if utf8.RuneCountInString(cleaned) > maxLength {
		cleaned = strings.TrimSpace(string([]rune(cleaned)[:maxLength]))
	}

	if utf8.RuneCountInString(cleaned) < MinTopicLength {
		return "", &InvalidInputError{
			Field:  "topic",
			Reason: fmt.Sprintf("must contain at least %d characters after sanitization", MinTopicLength),
		}
	}
	return cleaned, nil
}

// strip removes dangerous constructs until nothing more matches, so that
// removing one construct cannot assemble another.
func strip(s string) string {
	for {
		next := stripMarkup(s)
		next = templateExp.ReplaceAllString(next, " ")
		next = delimiters.ReplaceAllString(next, " ")
		next = shellMeta.ReplaceAllString(next, " ")
		if next == s {
			return s
		}
		s = next
	}
}

// stripMarkup removes tags until none are left. It runs to completion
// before shellMeta drops the angle brackets, so a tag split by an inner
// tag ("<scr<b>ipt>") is still recognised as a tag.
func stripMarkup(s string) string {
	for {
		next := phpTag.ReplaceAllString(s, " ")
		next = scriptBlock.ReplaceAllString(next, " ")
		next = htmlTag.ReplaceAllString(next, " ")
		if next == s {
			return s
		}
		s = next
	}
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Filename reduces name to a single safe path component.
func Filename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(name)
	name = unsafeFilename.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, ".")
	if name == "" || name == "_" {
		return "unnamed"
	}
	return name
}

// MaskSecret hides all but the last showTail characters of a secret.
func MaskSecret(secret string, showTail int) string {
	if showTail < 0 {
		showTail = 0
	}
	runes := []rune(secret)
	if len(runes) <= showTail*2 {
		return "***"
	}
	return "***" + string(runes[len(runes)-showTail:])
}
