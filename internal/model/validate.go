package model

import (
	"regexp"
	"strings"
)

const (
	UsernameMinLength = 3
	UsernameMaxLength = 32

	TagNameMinLength = 3
	TagNameMaxLength = 96
)

// Code points Unicode classifies as space separators or zero-width joiners,
// banned from both usernames and tag names.
var unicodeSpaceChars = []rune{
	0x1680, 0x180e, 0x2000, 0x2001, 0x2002, 0x2003, 0x2004, 0x2005,
	0x2006, 0x2007, 0x2008, 0x2009, 0x200a, 0x200b, 0x200c, 0x200d,
	0x2028, 0x2029, 0x2060, 0x202f, 0x205f, 0x3000, 0xfeff,
}

var invalidUsernameChars = buildBlacklist([]rune{
	0x3a, 0x3b, 0x3c, 0x3d, 0x3e, 0x3f, 0x40,
	0x5b, 0x5c, 0x5d, 0x5e, 0x60, 0x7b, 0x7c, 0x7d, 0x7e, 0x7f, 0xa0,
})

var invalidTagNameChars = buildBlacklist([]rune{
	0x3a, 0x3b, 0x3c, 0x3d, 0x3e, 0x3f, 0x40, 0x5b, 0x5c, 0x5d, 0x5e, 0x60,
})

func buildBlacklist(extra []rune) map[rune]bool {
	m := make(map[rune]bool, 0x30+len(extra)+len(unicodeSpaceChars))
	for r := rune(0); r < 0x30; r++ {
		m[r] = true
	}
	for _, r := range extra {
		m[r] = true
	}
	for _, r := range unicodeSpaceChars {
		m[r] = true
	}
	return m
}

// IsValidUsername reports whether username is within length bounds and free of
// blacklisted code points.
func IsValidUsername(username string) bool {
	n := len([]rune(username))
	if n < UsernameMinLength || n > UsernameMaxLength {
		return false
	}
	for _, r := range username {
		if invalidUsernameChars[r] {
			return false
		}
	}
	return true
}

// IsValidTagName reports whether name is within length bounds and free of
// blacklisted code points.
func IsValidTagName(name string) bool {
	n := len([]rune(name))
	if n < TagNameMinLength || n > TagNameMaxLength {
		return false
	}
	for _, r := range name {
		if invalidTagNameChars[r] {
			return false
		}
	}
	return true
}

// ReduceWhitespace trims the string and collapses runs of spaces into one.
func ReduceWhitespace(s string) string {
	fields := strings.Split(strings.TrimSpace(s), " ")
	kept := fields[:0]
	for _, f := range fields {
		if f != "" {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}

var (
	reImage      = regexp.MustCompile(`!\[.*\]\(.*\)`)
	reLink       = regexp.MustCompile(`\[(.*)\]\(.*\)`)
	reSpan       = regexp.MustCompile(`(?i)\$\{(?:[0-9A-Z \-_]+|/?)\}`)
	reHRule      = regexp.MustCompile(`(?m)^ *(?:_(?: *_){2,}|\*(?: *\*){2,}|-(?: *-){2,})$`)
	reBlockquote = regexp.MustCompile(`(?m)^ *[>*-][ >*-]*(.*)$`)
	reHeading    = regexp.MustCompile(`(?m)^#{1,6} (.*?)$`)
)

// FilterText strips Markdown elements from a chapter body, leaving the text a
// reader would actually see. Used for phrase search and for the "chapter with
// no rendered text must stay private" rule.
func FilterText(s string) string {
	s = reImage.ReplaceAllString(s, "")
	s = reLink.ReplaceAllString(s, "$1")
	s = reSpan.ReplaceAllString(s, "")
	s = reHRule.ReplaceAllString(s, "")
	s = reBlockquote.ReplaceAllString(s, "$1")
	s = reHeading.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}
