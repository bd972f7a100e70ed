package capture

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/aseven02/streamget/internal/douyin"
)

// OutputName builds the per-session filename
// {anchor}_{quality}_{timestamp}.{ext}. The timestamp keeps sequential
// runs for the same room and quality from colliding; the quality label
// keeps concurrent sessions apart.
func OutputName(anchor string, q douyin.Quality, f Format, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s.%s",
		sanitizeAnchor(anchor), q, at.Format("20060102_150405"), f.Ext())
}

// sanitizeAnchor strips filesystem-hostile runes from the anchor name.
// Non-ASCII names pass through untouched.
func sanitizeAnchor(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "stream"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('_')
		case unicode.IsSpace(r) || unicode.IsControl(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
