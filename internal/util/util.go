package util

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	// fileNameRegexp keeps only characters that are safe both in a
	// Content-Disposition header and on any filesystem. Everything else,
	// including non-ASCII letters, becomes an underscore.
	fileNameRegexp = regexp.MustCompile(`[^a-zA-Z0-9-_.]`)

	titleStripRegexp = regexp.MustCompile(`[^\w\s-]`)
	spaceRegexp      = regexp.MustCompile(`\s+`)
)

func GetIDFromString(str *string) string {
	hasher := sha1.New()
	hasher.Write([]byte(*str))

	return hex.EncodeToString(hasher.Sum(nil))
}

// SanitizeFileName makes a bundle name usable as a download filename.
// Note this is deliberately a different rule than SanitizeTitle.
func SanitizeFileName(name string) string {
	return fileNameRegexp.ReplaceAllString(name, "_")
}

// SanitizeTitle makes a video title usable as an archive entry name:
// punctuation is stripped, whitespace runs collapse to single underscores.
func SanitizeTitle(title string) string {
	return spaceRegexp.ReplaceAllString(titleStripRegexp.ReplaceAllString(title, ""), "_")
}

// StripQuery drops everything from the first '?' on. Legacy bundle links may
// carry playlist query parameters the extractor chokes on.
func StripQuery(rawURL string) string {
	if i := strings.Index(rawURL, "?"); i >= 0 {
		return rawURL[:i]
	}

	return rawURL
}
