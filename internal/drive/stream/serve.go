package stream

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/Laisky/errors/v2"
)

// DefaultChunkBytes is the read size used when streaming bodies.
const DefaultChunkBytes = 4096

// Disposition is the Content-Disposition type.
type Disposition string

const (
	// Inline asks the client to render the body.
	Inline Disposition = "inline"
	// Attachment asks the client to save the body.
	Attachment Disposition = "attachment"
)

// Content is an authorized, opened file ready to be written.
type Content struct {
	Name   string
	MIME   string
	Size   int64
	Reader io.ReadSeeker
}

// Options tune Serve.
type Options struct {
	ChunkBytes  int
	Disposition Disposition
}

// Result reports what Serve wrote.
type Result struct {
	Status  int
	Written int64
	Range   Range
}

// Serve writes c to w. A satisfiable Range header produces 206, an
// unsatisfiable one 416, anything else the full body with 200.
//
// Bytes are read lazily in chunks of at most opts.ChunkBytes, the whole file is
// never buffered. The returned error reports a failure after headers were sent.
func Serve(w http.ResponseWriter, rangeHeader string, c Content, opts Options) (Result, error) {
	if opts.ChunkBytes <= 0 {
		opts.ChunkBytes = DefaultChunkBytes
	}
	if opts.Disposition == "" {
		opts.Disposition = Inline
	}
	mimeType := c.MIME
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")

	r, kind := ParseRange(rangeHeader, c.Size)
	switch kind {
	case RangeUnsatisfiable:
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", c.Size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return Result{Status: http.StatusRequestedRangeNotSatisfiable}, nil
	case RangeSatisfiable:
	default:
		r = Range{Start: 0, End: c.Size - 1}
	}

	h.Set("Content-Type", mimeType)
	h.Set("Content-Disposition", ContentDisposition(opts.Disposition, c.Name))
	h.Set("Content-Length", strconv.FormatInt(r.Length(), 10))

	status := http.StatusOK
	if kind == RangeSatisfiable {
		status = http.StatusPartialContent
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, c.Size))
	}

	if r.Start > 0 {
		if _, err := c.Reader.Seek(r.Start, io.SeekStart); err != nil {
			return Result{}, errors.Wrap(err, "seek")
		}
	}

	w.WriteHeader(status)
	written, err := copyChunks(w, c.Reader, r.Length(), opts.ChunkBytes)
	return Result{Status: status, Written: written, Range: r}, err
}

// copyChunks copies exactly n bytes, or until EOF, reading at most chunk bytes at a time.
func copyChunks(w io.Writer, r io.Reader, n int64, chunk int) (int64, error) {
	buf := make([]byte, chunk)
	var written int64
	for remaining := n; remaining > 0; {
		want := int64(chunk)
		if remaining < want {
			want = remaining
		}

		got, readErr := io.ReadFull(r, buf[:want])
		if got > 0 {
			wn, err := w.Write(buf[:got])
			written += int64(wn)
			if err != nil {
				return written, errors.Wrap(err, "write body")
			}
			remaining -= int64(got)
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			return written, nil
		}
		if readErr != nil {
			return written, errors.Wrap(readErr, "read body")
		}
	}

	return written, nil
}

// ContentDisposition renders a Content-Disposition value carrying filename.
func ContentDisposition(kind Disposition, filename string) string {
	if isPlainFilename(filename) {
		return fmt.Sprintf(`%s; filename="%s"`, kind, filename)
	}
	if v := mime.FormatMediaType(string(kind), map[string]string{"filename": filename}); v != "" {
		return v
	}
	return string(kind)
}

func isPlainFilename(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 0x20 || c > 0x7e || c == '"' || c == '\\' {
			return false
		}
	}
	return true
}
