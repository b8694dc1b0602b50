package crawler

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)
	validSlug       = regexp.MustCompile(`^[a-z0-9][a-z0-9_]*$`)
)

// letters that carry no combining mark under NFD.
var foldReplacer = strings.NewReplacer("đ", "d", "ø", "o", "ß", "ss", "æ", "ae", "ł", "l")

// Slugify derives a filesystem-safe, deterministic key for query: lowercased,
// diacritics stripped, runs of other characters collapsed to "_". Queries with
// no ASCII-representable characters fall back to a hash-based slug.
func Slugify(query string) string {
	lower := strings.ToLower(strings.TrimSpace(query))
	stripper := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripper, lower)
	if err != nil {
		folded = lower
	}
	folded = foldReplacer.Replace(folded)
	slug := strings.Trim(nonAlphanumeric.ReplaceAllString(folded, "_"), "_")
	if slug != "" {
		return slug
	}
	sum := sha1.Sum([]byte(lower))
	return "query_" + hex.EncodeToString(sum[:])[:12]
}

// ValidateSlug rejects keys that Slugify could not have produced. Stores call
// it before using a slug as a path or primary key.
func ValidateSlug(slug string) error {
	if !validSlug.MatchString(slug) {
		return fmt.Errorf("invalid slug %q", slug)
	}
	return nil
}
