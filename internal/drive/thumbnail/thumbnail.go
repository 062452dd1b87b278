// Package thumbnail renders and caches small JPEG previews of images.
package thumbnail

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"io"
	"strings"

	"github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/nfnt/resize"
	"golang.org/x/sync/singleflight"
)

const (
	// ContentType of every rendered thumbnail.
	ContentType = "image/jpeg"
	// DefaultMaxPixels bounds width*height of decodable sources.
	DefaultMaxPixels int64 = 89_478_485
)

// ErrUnsupported is returned for sources that are not decodable images.
var ErrUnsupported = errors.New("thumbnail not supported for this file")

// Source identifies the original bytes. Open is only called on a cache miss.
type Source struct {
	SHA256 string
	MIME   string
	Open   func() (io.ReadCloser, error)
}

// Generator renders thumbnails at most once per content hash and caches them.
type Generator struct {
	cache   Cache
	size    uint
	quality int
	// maxPixels rejects sources whose header declares more pixels
	maxPixels int64
	logger    logSDK.Logger
	group     singleflight.Group
}

// GeneratorOption customizes a Generator.
type GeneratorOption func(*Generator)

// WithMaxPixels sets the largest width*height decoded, values <= 0 keep the default.
func WithMaxPixels(n int64) GeneratorOption {
	return func(g *Generator) {
		if n > 0 {
			g.maxPixels = n
		}
	}
}

// NewGenerator returns a generator bounding thumbnails to size x size pixels.
func NewGenerator(cache Cache, size, quality int, logger logSDK.Logger, opts ...GeneratorOption) (*Generator, error) {
	if cache == nil {
		return nil, errors.New("thumbnail cache is required")
	}
	if size <= 0 {
		return nil, errors.Errorf("invalid thumbnail size %d", size)
	}
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	g := &Generator{
		cache:     cache,
		size:      uint(size),
		quality:   quality,
		maxPixels: DefaultMaxPixels,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Thumbnail returns the JPEG preview of src, rendering it on a cache miss.
func (g *Generator) Thumbnail(ctx context.Context, src Source) ([]byte, error) {
	if !strings.HasPrefix(strings.ToLower(src.MIME), "image/") || src.SHA256 == "" || src.Open == nil {
		return nil, errors.WithStack(ErrUnsupported)
	}
	key := ObjectName(src.SHA256)

	if data, ok, err := g.cache.Get(ctx, key); err != nil {
		g.logger.Warn("read thumbnail cache", zap.String("key", key), zap.Error(err))
	} else if ok {
		return data, nil
	}

	v, err, _ := g.group.Do(key, func() (any, error) {
		data, err := g.render(src.Open)
		if err != nil {
			return nil, err
		}
		if err := g.cache.Put(ctx, key, data); err != nil {
			g.logger.Warn("write thumbnail cache", zap.String("key", key), zap.Error(err))
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// render decodes the source and encodes a bounded JPEG.
func (g *Generator) render(open func() (io.ReadCloser, error)) ([]byte, error) {
	f, err := open()
	if err != nil {
		return nil, err
	}
	defer f.Close() // nolint: errcheck

	// refuse oversized images from the header alone
	var header bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(f, &header))
	if err != nil {
		return nil, errors.Wrapf(ErrUnsupported, "decode image config: %v", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > g.maxPixels {
		return nil, errors.Wrapf(ErrUnsupported, "image %dx%d exceeds %d pixels", cfg.Width, cfg.Height, g.maxPixels)
	}

	img, _, err := image.Decode(io.MultiReader(&header, f))
	if err != nil {
		return nil, errors.Wrapf(ErrUnsupported, "decode image: %v", err)
	}

	thumb := resize.Thumbnail(g.size, g.size, img, resize.Lanczos3)

	// flatten transparency onto white, JPEG has no alpha channel
	canvas := image.NewRGBA(thumb.Bounds())
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(canvas, canvas.Bounds(), thumb, thumb.Bounds().Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: g.quality}); err != nil {
		return nil, errors.Wrap(err, "encode thumbnail")
	}
	return buf.Bytes(), nil
}
