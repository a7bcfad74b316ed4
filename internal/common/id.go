package common

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// NewID returns a random UUID string.
func NewID() string {
	return uuid.New().String()
}

// SourceID derives a stable source identifier from project and URI, so the
// same page always maps to the same record.
func SourceID(projectID, uri string) string {
	sum := sha256.Sum256([]byte(projectID + "|" + uri))
	return "src_" + hex.EncodeToString(sum[:16])
}

// ExtractDomain parses the host out of a URL. Returns "" on unparseable
// input.
func ExtractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// Truncate shortens s to at most n bytes at a rune boundary, appending an
// ellipsis marker when cut.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return CutRune(s, n) + "..."
}

// CutRune shortens s to at most n bytes without splitting a UTF-8 sequence.
// Non-positive n means no limit.
func CutRune(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// BlockHash reduces a content block to the first 16 hex chars of its SHA-256
// over the whitespace-collapsed, lowercased text. 64 bits is adequate within
// a single domain's page set.
func BlockHash(block string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(block), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:8])
}

// FormatCount renders "n item(s)" for log messages.
func FormatCount(n int, singular string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", singular)
	}
	return fmt.Sprintf("%d %ss", n, singular)
}
