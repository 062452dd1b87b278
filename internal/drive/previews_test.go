package drive

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Laisky/laisky-drive/internal/drive/thumbnail"
)

func TestThumbnailForSharedImage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "alice")

	img := image.NewRGBA(image.Rect(0, 0, 400, 400))
	for i := 0; i < 400; i++ {
		img.Set(i, i, color.Black)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	file := env.upload(t, alice.ID, nil, "photo.png", buf.String())
	other := env.upload(t, alice.ID, nil, "notes.txt", "plain text")
	share, err := env.svc.CreateShare(ctx, CreateShareRequest{OwnerID: alice.ID, FileID: &file.ID})
	require.NoError(t, err)

	data, err := env.svc.Thumbnail(ctx, file.ID, StreamCredentials{ShareToken: share.Token})
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 200, cfg.Width)

	_, err = os.Stat(filepath.Join(env.root, thumbnail.CacheDir, thumbnail.ObjectName(file.FileHash)))
	require.NoError(t, err)

	_, err = env.svc.Thumbnail(ctx, other.ID, StreamCredentials{ShareToken: share.Token})
	require.True(t, IsCode(err, ErrCodeForbidden), "%+v", err)

	token, err := env.signer.SignUser(alice.ID, alice.Username, time.Hour)
	require.NoError(t, err)
	_, err = env.svc.Thumbnail(ctx, other.ID, StreamCredentials{BearerToken: token})
	require.True(t, IsCode(err, ErrCodeNotFound), "%+v", err)
}
