package drive

import (
	"context"
	"strings"
	"unicode"

	errors "github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"gorm.io/gorm"
)

const (
	maxBreadcrumbDepth = 256
	maxFolderNameBytes = 255
)

// Crumb is one step of a breadcrumb trail.
type Crumb struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// Listing is the content of one folder, or of a user's root.
type Listing struct {
	Folders         []Folder   `json:"folders"`
	Files           []FileView `json:"files"`
	Path            []Crumb    `json:"path"`
	CurrentFolderID *uint64    `json:"current_folder_id"`
}

// TotalItems counts folders and files.
func (l *Listing) TotalItems() int {
	return len(l.Folders) + len(l.Files)
}

// ValidateFolderName rejects names that cannot be a single path segment.
func ValidateFolderName(name string) error {
	if name == "" {
		return errInvalid("folder name is required")
	}
	if len(name) > maxFolderNameBytes {
		return errInvalid("folder name too long")
	}
	if name == "." || name == ".." {
		return errInvalid("invalid folder name")
	}
	if strings.HasPrefix(name, ".") {
		return errInvalid("folder name must not start with '.'")
	}
	for _, r := range name {
		if r == '/' || r == '\\' || unicode.IsControl(r) {
			return errInvalid("folder name contains invalid characters")
		}
	}
	return nil
}

// folderPath is the materialized path of a folder named name under parent.
func folderPath(username string, parent *Folder, name string) string {
	if parent == nil {
		return username + "/" + name
	}
	return parent.Path + "/" + name
}

func loadOwnedFolder(db *gorm.DB, ownerID, folderID uint64) (*Folder, error) {
	var folder Folder
	if err := db.Where("id = ? AND owner_id = ?", folderID, ownerID).First(&folder).Error; err != nil {
		return nil, notFoundOr(err, "folder not found")
	}
	return &folder, nil
}

// CreateFolder creates name under parentID, or at the user's root when parentID is nil or 0.
func (s *Service) CreateFolder(ctx context.Context, ownerID uint64, name string, parentID *uint64) (*Folder, error) {
	name = strings.TrimSpace(name)
	if err := ValidateFolderName(name); err != nil {
		return nil, err
	}
	parentID = folderIDOrNil(parentID)

	var folder *Folder
	err := s.withUserLock(ctx, ownerID, func(tx *gorm.DB) error {
		owner, err := loadUser(tx, ownerID)
		if err != nil {
			return err
		}

		var parent *Folder
		parentKey := uint64(0)
		if parentID != nil {
			if parent, err = loadOwnedFolder(tx, ownerID, *parentID); err != nil {
				return errNotFound("parent folder not found")
			}
			parentKey = parent.ID
		}

		var count int64
		if err := tx.Model(&Folder{}).
			Where("owner_id = ? AND parent_key = ? AND name = ?", ownerID, parentKey, name).
			Count(&count).Error; err != nil {
			return errors.Wrap(err, "check sibling folder")
		}
		if count > 0 {
			return NewError(ErrCodeAlreadyExists, "folder already exists", false)
		}

		now := s.now()
		folder = &Folder{
			Name:      name,
			Path:      folderPath(owner.Username, parent, name),
			ParentID:  parentID,
			ParentKey: parentKey,
			OwnerID:   ownerID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if _, err := s.blobs.EnsureDir(folder.Path); err != nil {
			return errIO(err, "failed to create folder")
		}
		if err := tx.Create(folder).Error; err != nil {
			if isUniqueViolation(err) {
				return NewError(ErrCodeAlreadyExists, "folder already exists", false)
			}
			return errors.Wrap(err, "create folder record")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, ActivityEvent{
		UserID:       ownerID,
		Action:       ActionCreateFolder,
		ResourceType: "folder",
		ResourceID:   idPtr(folder.ID),
		ResourceName: folder.Name,
	})
	return folder, nil
}

// ListChildren returns the direct subfolders and files of folderID, or of the
// root when folderID is nil or 0, with the breadcrumb trail.
func (s *Service) ListChildren(ctx context.Context, ownerID uint64, folderID *uint64) (*Listing, error) {
	folderID = folderIDOrNil(folderID)
	db := s.db.WithContext(ctx)

	listing := &Listing{
		Folders:         []Folder{},
		Files:           []FileView{},
		Path:            []Crumb{},
		CurrentFolderID: folderID,
	}

	parentKey := uint64(0)
	fileQuery := db.Where("owner_id = ? AND folder_id IS NULL", ownerID)
	if folderID != nil {
		crumbs, err := s.ResolveBreadcrumb(ctx, ownerID, *folderID)
		if err != nil {
			return nil, err
		}
		listing.Path = crumbs
		parentKey = *folderID
		fileQuery = db.Where("owner_id = ? AND folder_id = ?", ownerID, *folderID)
	}

	if err := db.Where("owner_id = ? AND parent_key = ?", ownerID, parentKey).
		Order("name").Find(&listing.Folders).Error; err != nil {
		return nil, errors.Wrap(err, "list folders")
	}

	var files []File
	if err := fileQuery.Order("created_at DESC").Order("id DESC").Find(&files).Error; err != nil {
		return nil, errors.Wrap(err, "list files")
	}
	for _, f := range files {
		listing.Files = append(listing.Files, newFileView(f))
	}

	return listing, nil
}

// ResolveBreadcrumb walks from folderID up to the root and returns the trail root first.
func (s *Service) ResolveBreadcrumb(ctx context.Context, ownerID, folderID uint64) ([]Crumb, error) {
	db := s.db.WithContext(ctx)
	var trail []Crumb

	next := &folderID
	for depth := 0; next != nil; depth++ {
		if depth >= maxBreadcrumbDepth {
			s.LoggerFromContext(ctx).Warn("breadcrumb depth limit reached",
				zap.Uint64("folder_id", folderID))
			break
		}
		folder, err := loadOwnedFolder(db, ownerID, *next)
		if err != nil {
			return nil, err
		}
		trail = append(trail, Crumb{ID: folder.ID, Name: folder.Name})
		next = folder.ParentID
	}

	for i, j := 0, len(trail)-1; i < j; i, j = i+1, j-1 {
		trail[i], trail[j] = trail[j], trail[i]
	}
	return trail, nil
}

// DeleteFolder removes a folder with its whole subtree. Rows and file bytes go
// first, the directory on disk last.
func (s *Service) DeleteFolder(ctx context.Context, ownerID, folderID uint64) error {
	var (
		root  *Folder
		freed int64
	)
	err := s.withUserLock(ctx, ownerID, func(tx *gorm.DB) error {
		var err error
		if root, err = loadOwnedFolder(tx, ownerID, folderID); err != nil {
			return err
		}

		ids, err := collectSubtree(tx, ownerID, root.ID)
		if err != nil {
			return err
		}

		var files []File
		if err := tx.Where("owner_id = ? AND folder_id IN ?", ownerID, ids).Find(&files).Error; err != nil {
			return errors.Wrap(err, "list folder files")
		}
		for _, f := range files {
			freed += f.FileSize
		}

		if err := tx.Where("folder_id IN ?", ids).Delete(&Share{}).Error; err != nil {
			return errors.Wrap(err, "delete folder shares")
		}
		if err := s.deleteFileRows(ctx, tx, files); err != nil {
			return err
		}
		if err := tx.Where("id IN ?", ids).Delete(&Folder{}).Error; err != nil {
			return errors.Wrap(err, "delete folders")
		}
		return adjustUsage(tx, ownerID, -freed)
	})
	if err != nil {
		return err
	}

	s.warnOnError(ctx, s.blobs.RemoveTree(root.Path), "remove folder directory",
		zap.Uint64("folder_id", folderID))
	s.refreshUsageMirror(ctx, ownerID)
	s.recordActivity(ctx, ActivityEvent{
		UserID:       ownerID,
		Action:       ActionDeleteFolder,
		ResourceType: "folder",
		ResourceID:   idPtr(folderID),
		ResourceName: root.Name,
	})
	return nil
}

// collectSubtree returns rootID and the ids of all its descendants, breadth first.
func collectSubtree(tx *gorm.DB, ownerID, rootID uint64) ([]uint64, error) {
	ids := []uint64{rootID}
	frontier := []uint64{rootID}
	for depth := 0; len(frontier) > 0; depth++ {
		if depth >= maxBreadcrumbDepth {
			return nil, errInvalid("folder tree too deep")
		}
		var children []uint64
		if err := tx.Model(&Folder{}).
			Where("owner_id = ? AND parent_id IN ?", ownerID, frontier).
			Pluck("id", &children).Error; err != nil {
			return nil, errors.Wrap(err, "list subfolders")
		}
		ids = append(ids, children...)
		frontier = children
	}
	return ids, nil
}
