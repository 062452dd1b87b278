package drive

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	errors "github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/Laisky/laisky-drive/internal/drive/blob"
)

const blobRemoveWorkers = 8

// FileView is a file row with presentation hints.
type FileView struct {
	File
	IsStreamable bool `json:"is_streamable"`
}

func newFileView(f File) FileView {
	return FileView{File: f, IsStreamable: IsStreamable(f.MimeType)}
}

// UploadRequest carries one uploaded body.
type UploadRequest struct {
	OwnerID  uint64
	FolderID *uint64
	Filename string
	// DeclaredSize is the client announced size, 0 when unknown. It only
	// drives an early quota rejection, the stored size is what is charged.
	DeclaredSize int64
	Body         io.Reader
}

// FileMetaUpdate changes user editable attributes. Nil fields are kept.
type FileMetaUpdate struct {
	IsFavorite  *bool
	Tags        *string
	Description *string
}

// OpenedFile is a readable file handle with its record.
type OpenedFile struct {
	File   *File
	Reader *os.File
	Size   int64
}

// Close releases the handle.
func (o *OpenedFile) Close() error {
	if o == nil || o.Reader == nil {
		return nil
	}
	return o.Reader.Close()
}

// displayName strips directories from a client supplied name.
func displayName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	base := path.Base(name)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}

// folderIDOrNil maps the root sentinel 0 to nil.
func folderIDOrNil(id *uint64) *uint64 {
	if id == nil || *id == 0 {
		return nil
	}
	return id
}

func loadOwnedFile(db *gorm.DB, ownerID, fileID uint64) (*File, error) {
	var file File
	if err := db.Where("id = ? AND owner_id = ?", fileID, ownerID).First(&file).Error; err != nil {
		return nil, notFoundOr(err, "file not found")
	}
	return &file, nil
}

// Upload stores a body for req.OwnerID, charging it against the quota.
//
// The body is staged and hashed before the user lock is taken, so slow
// clients never hold it. Admission, name claiming, the row insert and the
// usage increment then happen in one critical section.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*File, error) {
	original := displayName(req.Filename)
	if original == "" {
		return nil, errInvalid("no file selected")
	}
	if req.Body == nil {
		return nil, errInvalid("empty body")
	}
	folderID := folderIDOrNil(req.FolderID)

	owner, err := s.GetUser(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}
	relDir := owner.Username
	if folderID != nil {
		folder, err := loadOwnedFolder(s.db.WithContext(ctx), req.OwnerID, *folderID)
		if err != nil {
			return nil, err
		}
		relDir = folder.Path
	}

	maxBytes := s.settings.MaxUploadBytes
	if maxBytes > 0 && req.DeclaredSize > maxBytes {
		return nil, NewError(ErrCodePayloadTooLarge, "file too large", false)
	}
	if req.DeclaredSize > 0 {
		if err := Admit(owner, req.DeclaredSize); err != nil {
			return nil, err
		}
	}

	body := req.Body
	if maxBytes > 0 {
		body = io.LimitReader(body, maxBytes+1)
	}
	staged, err := s.blobs.Stage(ctx, relDir, body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(err, "upload cancelled")
		}
		return nil, errIO(err, "failed to store file")
	}
	defer s.blobs.Discard(staged)

	if maxBytes > 0 && staged.Size > maxBytes {
		return nil, NewError(ErrCodePayloadTooLarge, "file too large", false)
	}

	var (
		stored *blob.Stored
		file   *File
		used   int64
	)
	err = s.withUserLock(ctx, req.OwnerID, func(tx *gorm.DB) error {
		user, err := loadUser(tx, req.OwnerID)
		if err != nil {
			return err
		}
		if folderID != nil {
			if _, err := loadOwnedFolder(tx, req.OwnerID, *folderID); err != nil {
				return err
			}
		}
		if err := Admit(user, staged.Size); err != nil {
			return err
		}

		if stored, err = s.blobs.Commit(staged, original); err != nil {
			return errIO(err, "failed to store file")
		}

		now := s.now()
		file = &File{
			Filename:     stored.Name,
			OriginalName: original,
			FilePath:     stored.Path,
			FileSize:     stored.Size,
			MimeType:     stored.MIME,
			FileHash:     stored.SHA256,
			OwnerID:      req.OwnerID,
			FolderID:     folderID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.Create(file).Error; err != nil {
			return errors.Wrap(err, "create file record")
		}
		if err := adjustUsage(tx, req.OwnerID, stored.Size); err != nil {
			return err
		}
		used = user.StorageUsed + stored.Size
		return nil
	})
	if err != nil {
		if stored != nil {
			s.warnOnError(ctx, s.blobs.Remove(stored.Path), "remove orphaned upload",
				zap.String("stored_name", stored.Name))
		}
		return nil, err
	}

	s.mirrorUsage(ctx, req.OwnerID, used)
	s.recordActivity(ctx, ActivityEvent{
		UserID:       req.OwnerID,
		Action:       ActionUpload,
		ResourceType: "file",
		ResourceID:   idPtr(file.ID),
		ResourceName: file.OriginalName,
	})
	return file, nil
}

// GetFile returns a file owned by ownerID.
func (s *Service) GetFile(ctx context.Context, ownerID, fileID uint64) (*File, error) {
	return loadOwnedFile(s.db.WithContext(ctx), ownerID, fileID)
}

// RenameFile renames a file on disk first and then in its record.
// It returns the stored name, which may carry a collision suffix.
func (s *Service) RenameFile(ctx context.Context, ownerID, fileID uint64, newName string) (string, error) {
	wanted := displayName(newName)
	if wanted == "" {
		return "", errInvalid("new name is required")
	}

	unlock := s.fileLocks.Lock(fileID)
	defer unlock()

	var (
		oldPath, newPath string
		storedName       string
		resourceName     string
	)
	err := s.withUserLock(ctx, ownerID, func(tx *gorm.DB) error {
		file, err := loadOwnedFile(tx, ownerID, fileID)
		if err != nil {
			return err
		}

		resourceName = blob.KeepExtension(wanted, file.OriginalName)
		name, moved, err := s.blobs.Rename(file.FilePath, resourceName)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return errNotFound("file content missing on disk")
			}
			return errIO(err, "failed to rename file")
		}
		storedName = name
		if moved != file.FilePath {
			oldPath, newPath = file.FilePath, moved
		}

		if err := tx.Model(&File{}).Where("id = ?", file.ID).Updates(map[string]any{
			"filename":      name,
			"original_name": resourceName,
			"file_path":     moved,
			"updated_at":    s.now(),
		}).Error; err != nil {
			return errors.Wrap(err, "update file record")
		}
		return nil
	})
	if err != nil {
		if newPath != "" {
			s.warnOnError(ctx, s.blobs.Move(newPath, oldPath), "revert rename",
				zap.Uint64("file_id", fileID))
		}
		return "", err
	}

	s.recordActivity(ctx, ActivityEvent{
		UserID:       ownerID,
		Action:       ActionRename,
		ResourceType: "file",
		ResourceID:   idPtr(fileID),
		ResourceName: resourceName,
	})
	return storedName, nil
}

// UpdateFileMeta changes favorite, tags and description of a file.
func (s *Service) UpdateFileMeta(ctx context.Context, ownerID, fileID uint64, upd FileMetaUpdate) (*File, error) {
	updates := map[string]any{}
	if upd.IsFavorite != nil {
		updates["is_favorite"] = *upd.IsFavorite
	}
	if upd.Tags != nil {
		updates["tags"] = normalizeTags(*upd.Tags)
	}
	if upd.Description != nil {
		updates["description"] = strings.TrimSpace(*upd.Description)
	}
	if len(updates) == 0 {
		return nil, errInvalid("nothing to update")
	}
	updates["updated_at"] = s.now()

	var file *File
	err := s.withUserLock(ctx, ownerID, func(tx *gorm.DB) error {
		var err error
		if file, err = loadOwnedFile(tx, ownerID, fileID); err != nil {
			return err
		}
		if err := tx.Model(&File{}).Where("id = ?", fileID).Updates(updates).Error; err != nil {
			return errors.Wrap(err, "update file")
		}
		file, err = loadOwnedFile(tx, ownerID, fileID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, ActivityEvent{
		UserID:       ownerID,
		Action:       ActionUpdate,
		ResourceType: "file",
		ResourceID:   idPtr(fileID),
		ResourceName: file.OriginalName,
	})
	return file, nil
}

// normalizeTags trims a comma separated tag list and drops empty entries.
func normalizeTags(raw string) string {
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		tags = append(tags, p)
	}
	return strings.Join(tags, ",")
}

// DeleteFile removes dependents, then bytes, then the record, and releases its quota.
func (s *Service) DeleteFile(ctx context.Context, ownerID, fileID uint64) error {
	var file *File
	err := s.withUserLock(ctx, ownerID, func(tx *gorm.DB) error {
		var err error
		if file, err = loadOwnedFile(tx, ownerID, fileID); err != nil {
			return err
		}
		if err := s.deleteFileRows(ctx, tx, []File{*file}); err != nil {
			return err
		}
		return adjustUsage(tx, ownerID, -file.FileSize)
	})
	if err != nil {
		return err
	}

	s.refreshUsageMirror(ctx, ownerID)
	s.recordActivity(ctx, ActivityEvent{
		UserID:       ownerID,
		Action:       ActionDelete,
		ResourceType: "file",
		ResourceID:   idPtr(fileID),
		ResourceName: file.OriginalName,
	})
	return nil
}

// deleteFileRows deletes dependents of files, then their bytes, then the rows.
// Byte removal is best-effort.
func (s *Service) deleteFileRows(ctx context.Context, tx *gorm.DB, files []File) error {
	if len(files) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(files))
	paths := make([]string, 0, len(files))
	for _, f := range files {
		ids = append(ids, f.ID)
		paths = append(paths, f.FilePath)
	}

	for _, dep := range []any{&Share{}, &Comment{}, &FileVersion{}, &ExecutionLog{}} {
		if err := tx.Where("file_id IN ?", ids).Delete(dep).Error; err != nil {
			return errors.Wrap(err, "delete file dependents")
		}
	}

	s.removeBlobs(ctx, paths)

	if err := tx.Where("id IN ?", ids).Delete(&File{}).Error; err != nil {
		return errors.Wrap(err, "delete file records")
	}
	return nil
}

// removeBlobs deletes paths in parallel and logs failures.
func (s *Service) removeBlobs(ctx context.Context, paths []string) {
	var g errgroup.Group
	g.SetLimit(blobRemoveWorkers)
	for _, p := range paths {
		g.Go(func() error {
			s.warnOnError(ctx, s.blobs.Remove(p), "remove file bytes",
				zap.String("name", path.Base(p)))
			return nil
		})
	}
	_ = g.Wait()
}

// Download opens a file owned by ownerID for an attachment response.
func (s *Service) Download(ctx context.Context, ownerID, fileID uint64) (*OpenedFile, error) {
	file, err := s.GetFile(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}
	opened, err := s.OpenFile(ctx, file)
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, ActivityEvent{
		UserID:       ownerID,
		Action:       ActionDownload,
		ResourceType: "file",
		ResourceID:   idPtr(fileID),
		ResourceName: file.OriginalName,
	})
	return opened, nil
}

// OpenFile opens the bytes of file under its read lock. When the stored path
// vanished, for instance through a concurrent rename, the record is resolved
// once more before giving up.
func (s *Service) OpenFile(ctx context.Context, file *File) (*OpenedFile, error) {
	current := file
	for attempt := 0; attempt < 2; attempt++ {
		unlock := s.fileLocks.RLock(current.ID)
		f, info, err := s.blobs.Open(current.FilePath)
		unlock()
		if err == nil {
			return &OpenedFile{File: current, Reader: f, Size: info.Size()}, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, errIO(err, "failed to open file")
		}
		if attempt > 0 {
			break
		}

		var reloaded File
		if err := s.db.WithContext(ctx).Where("id = ?", file.ID).First(&reloaded).Error; err != nil {
			return nil, notFoundOr(err, "file not found")
		}
		if reloaded.FilePath == current.FilePath {
			break
		}
		current = &reloaded
	}

	return nil, errNotFound("file content missing on disk")
}
