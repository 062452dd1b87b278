package thumbnail

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Laisky/laisky-drive/library/log"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 128})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func opener(data []byte, calls *int32) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		atomic.AddInt32(calls, 1)
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

func newTestGenerator(t *testing.T) (*Generator, string) {
	t.Helper()
	root := t.TempDir()
	cache, err := NewDiskCache(root)
	require.NoError(t, err)
	gen, err := NewGenerator(cache, 200, 85, log.Logger.Named("test"))
	require.NoError(t, err)
	return gen, root
}

func TestThumbnailBoundsAndCaches(t *testing.T) {
	gen, root := newTestGenerator(t)
	ctx := context.Background()
	var calls int32
	src := Source{SHA256: "abc123", MIME: "image/png", Open: opener(pngBytes(t, 800, 400), &calls)}

	data, err := gen.Thumbnail(ctx, src)
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 200, cfg.Width)
	require.Equal(t, 100, cfg.Height)

	cached, err := os.ReadFile(filepath.Join(root, CacheDir, "abc123_thumb.jpg"))
	require.NoError(t, err)
	require.Equal(t, data, cached)

	again, err := gen.Thumbnail(ctx, src)
	require.NoError(t, err)
	require.Equal(t, data, again)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestThumbnailSmallImageNotUpscaled(t *testing.T) {
	gen, _ := newTestGenerator(t)
	var calls int32
	data, err := gen.Thumbnail(context.Background(),
		Source{SHA256: "small", MIME: "image/png", Open: opener(pngBytes(t, 40, 30), &calls)})
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 40, cfg.Width)
	require.Equal(t, 30, cfg.Height)
}

func TestThumbnailUnsupported(t *testing.T) {
	gen, _ := newTestGenerator(t)
	ctx := context.Background()
	var calls int32

	_, err := gen.Thumbnail(ctx, Source{SHA256: "doc", MIME: "text/plain", Open: opener([]byte("hi"), &calls)})
	require.ErrorIs(t, err, ErrUnsupported)
	require.Zero(t, atomic.LoadInt32(&calls))

	_, err = gen.Thumbnail(ctx, Source{SHA256: "bad", MIME: "image/png", Open: opener([]byte("not a png"), &calls)})
	require.ErrorIs(t, err, ErrUnsupported)
}

// blockingCache counts writes so concurrent renders can be observed.
type blockingCache struct {
	mu   sync.Mutex
	puts int
	data map[string][]byte
}

func (c *blockingCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *blockingCache) Put(_ context.Context, key string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	c.data[key] = data
	return nil
}

func TestThumbnailConcurrentRequests(t *testing.T) {
	cache := &blockingCache{data: map[string][]byte{}}
	gen, err := NewGenerator(cache, 64, 85, log.Logger.Named("test"))
	require.NoError(t, err)

	img := pngBytes(t, 300, 300)
	var calls int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := gen.Thumbnail(context.Background(),
				Source{SHA256: "same", MIME: "image/png", Open: opener(img, &calls)})
			require.NoError(t, err)
			require.NotEmpty(t, data)
		}()
	}
	wg.Wait()

	// renders may overlap at most once per flight, never corrupting the cache
	require.LessOrEqual(t, int(atomic.LoadInt32(&calls)), 8)
	require.NotEmpty(t, cache.data["same_thumb.jpg"])
}

func TestNewGeneratorValidation(t *testing.T) {
	_, err := NewGenerator(nil, 200, 85, log.Logger)
	require.Error(t, err)

	cache, err := NewDiskCache(t.TempDir())
	require.NoError(t, err)
	_, err = NewGenerator(cache, 0, 85, log.Logger)
	require.Error(t, err)
}

func TestDiskCacheMiss(t *testing.T) {
	cache, err := NewDiskCache(t.TempDir())
	require.NoError(t, err)

	_, ok, err := cache.Get(context.Background(), "missing_thumb.jpg")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.Put(context.Background(), "k_thumb.jpg", []byte{1, 2}))
	got, ok, err := cache.Get(context.Background(), "k_thumb.jpg")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{1, 2}, got)
}

// forgedPNG returns a tiny PNG whose header claims w x h pixels.
func forgedPNG(t *testing.T, w, h uint32) []byte {
	t.Helper()
	data := pngBytes(t, 4, 4)
	// signature(8) length(4) "IHDR"(4) width(4) height(4)
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestThumbnailRejectsOversizedImages(t *testing.T) {
	gen, _ := newTestGenerator(t)
	ctx := context.Background()
	var calls int32

	_, err := gen.Thumbnail(ctx, Source{SHA256: "huge", MIME: "image/png", Open: opener(forgedPNG(t, 50000, 50000), &calls)})
	require.ErrorIs(t, err, ErrUnsupported)

	root := t.TempDir()
	cache, err := NewDiskCache(root)
	require.NoError(t, err)
	small, err := NewGenerator(cache, 200, 85, log.Logger.Named("test"), WithMaxPixels(100*100))
	require.NoError(t, err)

	_, err = small.Thumbnail(ctx, Source{SHA256: "wide", MIME: "image/png", Open: opener(pngBytes(t, 800, 400), &calls)})
	require.ErrorIs(t, err, ErrUnsupported)
	data, err := small.Thumbnail(ctx, Source{SHA256: "fits", MIME: "image/png", Open: opener(pngBytes(t, 100, 100), &calls)})
	require.NoError(t, err)
	require.NotEmpty(t, data)
}
