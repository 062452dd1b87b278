package stream

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

// TestParseRange verifies header parsing, clamping and unsatisfiable detection.
func TestParseRange(t *testing.T) {
	cases := []struct {
		header string
		size   int64
		want   Range
		kind   RangeKind
	}{
		{"", 1000, Range{}, RangeNone},
		{"bytes=0-99", 1000, Range{0, 99}, RangeSatisfiable},
		{"bytes=900-", 1000, Range{900, 999}, RangeSatisfiable},
		{"bytes=500-5000", 1000, Range{500, 999}, RangeSatisfiable},
		{"bytes=999-999", 1000, Range{999, 999}, RangeSatisfiable},
		{"bytes=1000-", 1000, Range{}, RangeUnsatisfiable},
		{"bytes=50-10", 1000, Range{}, RangeUnsatisfiable},
		{"bytes=0-", 0, Range{}, RangeUnsatisfiable},
		{"bytes=-100", 1000, Range{}, RangeNone},
		{"bytes=0-1,5-9", 1000, Range{}, RangeNone},
		{"items=0-1", 1000, Range{}, RangeNone},
		{"bytes=abc-", 1000, Range{}, RangeNone},
		{"bytes=99999999999999999999-", 1000, Range{}, RangeNone},
	}

	for _, tc := range cases {
		got, kind := ParseRange(tc.header, tc.size)
		require.Equal(t, tc.kind, kind, tc.header)
		require.Equal(t, tc.want, got, tc.header)
	}
}

// TestServeFull verifies a request without Range returns the whole body.
func TestServeFull(t *testing.T) {
	data := payload(10000)
	rec := httptest.NewRecorder()

	res, err := Serve(rec, "", Content{Name: "movie.mp4", MIME: "video/mp4", Size: int64(len(data)), Reader: bytes.NewReader(data)}, Options{})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.Status)
	require.Equal(t, int64(len(data)), res.Written)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, data, rec.Body.Bytes())
	require.Equal(t, "10000", rec.Header().Get("Content-Length"))
	require.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	require.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	require.Equal(t, `inline; filename="movie.mp4"`, rec.Header().Get("Content-Disposition"))
	require.Empty(t, rec.Header().Get("Content-Range"))
}

// TestServeRanges verifies partial responses carry exactly the selected bytes.
func TestServeRanges(t *testing.T) {
	data := payload(1000)

	cases := []struct {
		header       string
		start, end   int
		contentRange string
	}{
		{"bytes=0-99", 0, 99, "bytes 0-99/1000"},
		{"bytes=900-", 900, 999, "bytes 900-999/1000"},
		{"bytes=10-5000", 10, 999, "bytes 10-999/1000"},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		_, err := Serve(rec, tc.header, Content{Name: "a.bin", MIME: "application/octet-stream", Size: 1000, Reader: bytes.NewReader(data)}, Options{ChunkBytes: 64})
		require.NoError(t, err)

		require.Equal(t, http.StatusPartialContent, rec.Code, tc.header)
		require.Equal(t, tc.contentRange, rec.Header().Get("Content-Range"))
		require.Equal(t, data[tc.start:tc.end+1], rec.Body.Bytes())
		require.Equal(t, len(data[tc.start:tc.end+1]), rec.Body.Len())
	}
}

// TestServeUnsatisfiable verifies an out-of-bounds start yields 416 with no body.
func TestServeUnsatisfiable(t *testing.T) {
	rec := httptest.NewRecorder()
	res, err := Serve(rec, "bytes=1000-", Content{Name: "a.bin", Size: 1000, Reader: bytes.NewReader(payload(1000))}, Options{})
	require.NoError(t, err)
	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, res.Status)
	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	require.Equal(t, "bytes */1000", rec.Header().Get("Content-Range"))
	require.Zero(t, rec.Body.Len())
}

// TestServeMalformedRange verifies malformed headers fall back to the full body.
func TestServeMalformedRange(t *testing.T) {
	data := payload(300)
	rec := httptest.NewRecorder()
	_, err := Serve(rec, "bytes=-20", Content{Name: "a.bin", Size: 300, Reader: bytes.NewReader(data)}, Options{})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, data, rec.Body.Bytes())
	require.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
}

type countingReader struct {
	r        io.ReadSeeker
	maxChunk int
}

func (c *countingReader) Read(p []byte) (int, error) {
	if len(p) > c.maxChunk {
		c.maxChunk = len(p)
	}
	return c.r.Read(p)
}

func (c *countingReader) Seek(off int64, whence int) (int64, error) {
	return c.r.Seek(off, whence)
}

// TestServeReadsInChunks verifies no read exceeds the configured chunk size.
func TestServeReadsInChunks(t *testing.T) {
	data := payload(50000)
	cr := &countingReader{r: bytes.NewReader(data)}
	rec := httptest.NewRecorder()

	_, err := Serve(rec, "", Content{Name: "big.bin", Size: int64(len(data)), Reader: cr}, Options{})
	require.NoError(t, err)
	require.Equal(t, data, rec.Body.Bytes())
	require.LessOrEqual(t, cr.maxChunk, DefaultChunkBytes)
}

// TestServeAttachment verifies the download disposition.
func TestServeAttachment(t *testing.T) {
	rec := httptest.NewRecorder()
	_, err := Serve(rec, "", Content{Name: "notes.txt", MIME: "text/plain", Size: 2, Reader: bytes.NewReader([]byte("hi"))}, Options{Disposition: Attachment})
	require.NoError(t, err)
	require.Equal(t, `attachment; filename="notes.txt"`, rec.Header().Get("Content-Disposition"))
}

// TestContentDispositionEscapes verifies unusual names are encoded.
func TestContentDispositionEscapes(t *testing.T) {
	require.Equal(t, `inline; filename="a b.txt"`, ContentDisposition(Inline, "a b.txt"))
	v := ContentDisposition(Inline, "relatório.pdf")
	require.Contains(t, v, "inline;")
	require.Contains(t, v, "filename*=utf-8''")
}
