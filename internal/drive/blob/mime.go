package blob

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// OctetStream is the generic binary MIME type.
const OctetStream = "application/octet-stream"

// DetectMIME sniffs the content type of the file at path.
// It falls back to the extension, then to OctetStream.
func DetectMIME(path string) string {
	if m, err := mimetype.DetectFile(path); err == nil && m != nil {
		if v := stripParams(m.String()); v != "" && v != OctetStream {
			return v
		}
	}

	if v := stripParams(mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))); v != "" {
		return v
	}

	return OctetStream
}

func stripParams(v string) string {
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}
