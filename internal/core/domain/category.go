package domain

import (
	"strings"
	"time"
	"unicode"
)

// FallbackCategory labels segments whose model output carried no usable
// category (or no parsable JSON at all).
const FallbackCategory = "MISC"

// Category is a topical label with a normalized slug identity and a
// usage counter incremented on every segment assignment.
type Category struct {
	Slug       string    `json:"slug"`
	Name       string    `json:"name"`
	UsageCount int64     `json:"usage_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// NormalizeCategoryName title-cases a raw category label from the model.
func NormalizeCategoryName(name string) string {
	fields := strings.Fields(strings.TrimSpace(name))
	if len(fields) == 0 {
		return FallbackCategory
	}
	for i, f := range fields {
		runes := []rune(strings.ToLower(f))
		runes[0] = unicode.ToUpper(runes[0])
		fields[i] = string(runes)
	}
	return strings.Join(fields, " ")
}

// Slugify lowers the name and collapses non-alphanumeric runs into
// single hyphens.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// SlugsFuzzyMatch reports whether two slugs are close enough to denote
// the same topic: one must be a prefix of the other and their lengths
// may differ by at most two characters. This catches plural/singular
// and similar minor variants without pulling in a full edit-distance
// dependency.
func SlugsFuzzyMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(long)-len(short) > 2 {
		return false
	}
	return strings.HasPrefix(long, short)
}
