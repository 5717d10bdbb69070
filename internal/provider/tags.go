package provider

import (
	"regexp"
	"strings"
)

// TagSet lists which speech markup tags a synthesizer passes through.
type TagSet struct {
	Break    bool
	Emphasis bool
	Phoneme  bool
}

var (
	breakTag    = regexp.MustCompile(`<break\s+time="[0-9.]+m?s"\s*/>`)
	emphasisTag = regexp.MustCompile(`(?s)<emphasis(?:\s[^>]*)?>(.*?)</emphasis>`)
	phonemeTag  = regexp.MustCompile(`(?s)<phoneme(?:\s[^>]*)?>(.*?)</phoneme>`)
	spaces      = regexp.MustCompile(`[ \t]{2,}`)
)

// PrepareSpeech keeps the tags in keep and reduces the rest to plain text.
// Emphasis and phoneme tags keep their inner text; breaks become a space.
func PrepareSpeech(text string, keep TagSet) string {
	if !keep.Break {
		text = breakTag.ReplaceAllString(text, " ")
	}
	if !keep.Emphasis {
		text = emphasisTag.ReplaceAllString(text, "$1")
	}
	if !keep.Phoneme {
		text = phonemeTag.ReplaceAllString(text, "$1")
	}
	text = spaces.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// StripTags removes all speech markup.
func StripTags(text string) string {
	return PrepareSpeech(text, TagSet{})
}
