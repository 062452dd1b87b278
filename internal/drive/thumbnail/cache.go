package thumbnail

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Laisky/errors/v2"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// CacheDir is the directory under the storage root holding local thumbnails.
const CacheDir = ".thumbnails"

// Cache stores rendered thumbnails by key.
type Cache interface {
	// Get returns ok=false on a miss.
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Put(ctx context.Context, key string, data []byte) error
}

// ObjectName is the cache key of the thumbnail of content hashed to sha256Hex.
func ObjectName(sha256Hex string) string {
	return sha256Hex + "_thumb.jpg"
}

// DiskCache keeps thumbnails in a directory.
type DiskCache struct {
	dir string
}

// NewDiskCache creates the cache directory under storageRoot.
func NewDiskCache(storageRoot string) (*DiskCache, error) {
	dir := filepath.Join(storageRoot, CacheDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create thumbnail dir")
	}
	return &DiskCache{dir: dir}, nil
}

// Get reads key from disk.
func (c *DiskCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(filepath.Join(c.dir, filepath.Base(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "read thumbnail")
	}
	return data, true, nil
}

// Put writes key atomically through a temp file.
func (c *DiskCache) Put(_ context.Context, key string, data []byte) error {
	final := filepath.Join(c.dir, filepath.Base(key))
	tmp := final + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write thumbnail")
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "move thumbnail")
	}
	return nil
}

// MinioCache keeps thumbnails in an S3 compatible bucket.
type MinioCache struct {
	client *minio.Client
	bucket string
}

// MinioOptions configures NewMinioCache.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

// NewMinioCache connects to the bucket and creates it when missing.
func NewMinioCache(ctx context.Context, opt MinioOptions) (*MinioCache, error) {
	client, err := minio.New(opt.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opt.AccessKey, opt.SecretKey, ""),
		Secure: opt.Secure,
	})
	if err != nil {
		return nil, errors.Wrap(err, "new minio client")
	}

	exists, err := client.BucketExists(ctx, opt.Bucket)
	if err != nil {
		return nil, errors.Wrapf(err, "check bucket %q", opt.Bucket)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opt.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, errors.Wrapf(err, "create bucket %q", opt.Bucket)
		}
	}

	return &MinioCache{client: client, bucket: opt.Bucket}, nil
}

// Get downloads key from the bucket.
func (c *MinioCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	obj, err := c.client.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, false, errors.Wrap(err, "get thumbnail object")
	}
	defer obj.Close() // nolint: errcheck

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "read thumbnail object")
	}
	return data, true, nil
}

// Put uploads key to the bucket.
func (c *MinioCache) Put(ctx context.Context, key string, data []byte) error {
	_, err := c.client.PutObject(ctx, c.bucket, key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{
			ContentType: ContentType,
		},
	)
	if err != nil {
		return errors.Wrap(err, "put thumbnail object")
	}
	return nil
}
