package policy

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// asciiFold strips diacritics so filenames round-trip through object stores
// and signed policies without percent-encoding surprises.
var asciiFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SafeFilename normalises a user-supplied filename into a storage-safe form:
// diacritics folded away, anything outside [A-Za-z0-9._-] replaced with an
// underscore. An empty or fully mangled name falls back to "file".
func SafeFilename(name string) string {
	trimmed := strings.TrimSpace(name)
	if folded, _, err := transform.String(asciiFold, trimmed); err == nil {
		trimmed = folded
	}
	var builder strings.Builder
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			builder.WriteRune(r)
		default:
			builder.WriteByte('_')
		}
	}
	cleaned := strings.Trim(builder.String(), "._")
	if cleaned == "" {
		return "file"
	}
	return cleaned
}

// ObjectKey derives the storage key a policy is scoped to. Keys are
// per-object and stamped so a re-upload never overwrites the previous
// artefact mid-transcode.
func ObjectKey(req Request, now time.Time) string {
	return fmt.Sprintf("%s/%s/%d_%s",
		req.ObjectType,
		strings.TrimSpace(req.ObjectID),
		now.UTC().Unix(),
		SafeFilename(req.Filename),
	)
}
