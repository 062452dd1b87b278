package drive

import (
	"context"
	"io"

	errors "github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/Laisky/laisky-drive/internal/drive/thumbnail"
)

// Thumbnail returns the JPEG preview of an image file. Credentials follow the
// same rules as Stream.
func (s *Service) Thumbnail(ctx context.Context, fileID uint64, creds StreamCredentials) ([]byte, error) {
	file, _, err := s.AuthorizeFile(ctx, fileID, creds)
	if err != nil {
		return nil, err
	}

	data, err := s.thumbs.Thumbnail(ctx, thumbnail.Source{
		SHA256: file.FileHash,
		MIME:   file.MimeType,
		Open: func() (io.ReadCloser, error) {
			opened, err := s.OpenFile(ctx, file)
			if err != nil {
				return nil, err
			}
			return opened.Reader, nil
		},
	})
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, thumbnail.ErrUnsupported):
		return nil, errNotFound("thumbnail not available")
	default:
		if _, ok := AsError(err); ok {
			return nil, err
		}
		s.LoggerFromContext(ctx).Warn("render thumbnail",
			zap.Uint64("file_id", fileID), zap.Error(err))
		return nil, errNotFound("thumbnail not available")
	}
}
