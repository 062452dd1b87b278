package blob

import (
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxNameBytes = 255

// SanitizeName reduces a user supplied filename to a single disk-safe path segment.
//
// The name is NFKD-decomposed first so accented letters fall back to their
// ASCII base. ASCII letters, digits, '.', '-' and '_' are kept, whitespace
// becomes '_', everything else is dropped. Leading dots and underscores are stripped so the result is never
// hidden and never "." or "..". An empty result becomes "file".
func SanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	name = norm.NFKD.String(name)

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r < 128 && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte('_')
		}
	}

	out := strings.TrimLeft(b.String(), "._")
	if len(out) > maxNameBytes {
		ext := nameExt(out)
		out = fitName(strings.TrimSuffix(out, ext), "", ext)
	}
	if out == "" {
		return "file"
	}

	return out
}

// KeepExtension appends the extension of original to name when name has none.
func KeepExtension(name, original string) string {
	if filepath.Ext(name) != "" {
		return name
	}
	ext := nameExt(original)
	return fitName(name, "", ext)
}

// CandidateName returns the n-th disambiguated variant of name, n=0 is name itself.
// "report.pdf" becomes "report_1.pdf", "report_2.pdf", ...
func CandidateName(name string, n int) string {
	if n <= 0 {
		return name
	}
	ext := nameExt(name)
	return fitName(strings.TrimSuffix(name, ext), "_"+strconv.Itoa(n), ext)
}

// nameExt is the extension kept when a name has to be shortened. Overlong
// extensions are treated as part of the base.
func nameExt(name string) string {
	ext := filepath.Ext(name)
	if len(ext) > 16 {
		return ""
	}
	return ext
}

// fitName joins base, suffix and ext, cutting base so the result stays within maxNameBytes.
func fitName(base, suffix, ext string) string {
	if room := maxNameBytes - len(suffix) - len(ext); len(base) > room {
		base = base[:max(room, 0)]
	}
	return base + suffix + ext
}
