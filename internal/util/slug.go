package util

import (
	"strings"

	"github.com/mozillazg/go-unidecode"
)

// Slugify transliterates title to ASCII and reduces it to lowercase
// alphanumerics separated by single hyphens. Titles that transliterate to
// nothing fall back to "untitled".
func Slugify(title string) string {
	ascii := strings.ToLower(unidecode.Unidecode(title))
	var b strings.Builder
	b.Grow(len(ascii))
	pendingHyphen := false
	for _, r := range ascii {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	if b.Len() == 0 {
		return "untitled"
	}
	return b.String()
}
