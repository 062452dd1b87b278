package drive

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/jinzhu/copier"
	"gorm.io/gorm"
)

const (
	shareTokenBytes      = 32
	shareCreateAttempts  = 5
	maxShareExpiresDays  = 36500
	shareResourceFile    = "file"
	shareResourceFolder  = "folder"
	shareResourceMissing = "missing"
)

// ShareState is the outcome of evaluating a share for one access.
type ShareState string

const (
	ShareValid            ShareState = "valid"
	ShareExpired          ShareState = "expired"
	SharePasswordRequired ShareState = "password_required"
	ShareUnauthenticated  ShareState = "unauthenticated"
)

// CreateShareRequest describes a new share. Exactly one of FileID and FolderID is set.
type CreateShareRequest struct {
	OwnerID     uint64
	FileID      *uint64
	FolderID    *uint64
	SharedWith  string
	IsPublic    bool
	CanEdit     bool
	CanDownload *bool
	Password    string
	ExpiresDays int
}

// SharedFile is a file as seen through a folder share.
type SharedFile struct {
	ID        uint64    `json:"id"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	MimeType  string    `json:"mime_type"`
	CreatedAt time.Time `json:"created_at"`
}

// ShareResource is what a valid share exposes.
type ShareResource struct {
	Type         string       `json:"type"`
	Name         string       `json:"name"`
	FileID       *uint64      `json:"file_id,omitempty"`
	Size         int64        `json:"size,omitempty"`
	MimeType     string       `json:"mime_type,omitempty"`
	CreatedAt    *time.Time   `json:"created_at,omitempty"`
	CanDownload  bool         `json:"can_download"`
	IsStreamable bool         `json:"is_streamable"`
	Files        []SharedFile `json:"files,omitempty"`
}

// ShareListItem is a share as listed to its owner.
type ShareListItem struct {
	ID           uint64     `json:"id"`
	Token        string     `json:"token"`
	ResourceName string     `json:"resource_name"`
	ResourceType string     `json:"resource_type"`
	IsPublic     bool       `json:"is_public"`
	CanEdit      bool       `json:"can_edit"`
	CanDownload  bool       `json:"can_download"`
	SharedWith   *string    `json:"shared_with"`
	HasPassword  bool       `json:"has_password"`
	Expired      bool       `json:"expired"`
	ExpiresAt    *time.Time `json:"expires_at"`
	CreatedAt    time.Time  `json:"created_at"`
	ShareURL     string     `json:"share_url"`
}

// StreamCredentials are the credentials a stream request may carry, in precedence order.
type StreamCredentials struct {
	ShareToken    string
	Authenticated string
	QueryJWT      string
	BearerToken   string
}

// ShareURL renders the public link of token under baseURL.
func ShareURL(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/share/" + token
}

// ShareRedirect is the path a client follows after proving the share password.
func ShareRedirect(token, proof string) string {
	return "/share/" + token + "?authenticated=" + proof
}

// generateShareToken returns 32 random bytes in unpadded base64url.
func generateShareToken() (string, error) {
	buf := make([]byte, shareTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "read random bytes")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// EvaluateShare classifies share at now. A non empty proof that fails to verify
// yields ShareUnauthenticated.
func (s *Service) EvaluateShare(share *Share, proof string) ShareState {
	switch {
	case share.ExpiredAt(s.now()):
		return ShareExpired
	case !share.HasPassword():
		return ShareValid
	case proof == "":
		return SharePasswordRequired
	case s.signer.VerifyShareProof(proof, share.Token) != nil:
		return ShareUnauthenticated
	default:
		return ShareValid
	}
}

// stateError converts a non valid state to its typed error.
func stateError(state ShareState) error {
	switch state {
	case ShareValid:
		return nil
	case ShareExpired:
		return NewError(ErrCodeExpired, "share link expired", false)
	default:
		return NewError(ErrCodePasswordRequired, "share password required", false)
	}
}

func loadShareByToken(db *gorm.DB, token string) (*Share, error) {
	if token == "" {
		return nil, errNotFound("share link not found")
	}
	var share Share
	if err := db.Where("token = ?", token).First(&share).Error; err != nil {
		return nil, notFoundOr(err, "share link not found")
	}
	return &share, nil
}

// CreateShare issues a new token for a file or folder owned by req.OwnerID.
func (s *Service) CreateShare(ctx context.Context, req CreateShareRequest) (*Share, error) {
	fileID, folderID := folderIDOrNil(req.FileID), folderIDOrNil(req.FolderID)
	if (fileID == nil) == (folderID == nil) {
		return nil, errInvalid("exactly one of file_id and folder_id is required")
	}
	if req.ExpiresDays < 0 || req.ExpiresDays > maxShareExpiresDays {
		return nil, errInvalid(fmt.Sprintf("expires_days must be within [0, %d]", maxShareExpiresDays))
	}

	canDownload := true
	if req.CanDownload != nil {
		canDownload = *req.CanDownload
	}

	var passwordHash string
	if req.Password != "" {
		var err error
		if passwordHash, err = hashPassword(req.Password); err != nil {
			return nil, err
		}
	}

	var (
		share        *Share
		resourceName string
		resourceType string
	)
	err := s.withUserLock(ctx, req.OwnerID, func(tx *gorm.DB) error {
		if fileID != nil {
			file, err := loadOwnedFile(tx, req.OwnerID, *fileID)
			if err != nil {
				return err
			}
			resourceName, resourceType = file.OriginalName, shareResourceFile
		} else {
			folder, err := loadOwnedFolder(tx, req.OwnerID, *folderID)
			if err != nil {
				return err
			}
			resourceName, resourceType = folder.Name, shareResourceFolder
		}

		var sharedWithID *uint64
		if name := strings.TrimSpace(req.SharedWith); name != "" {
			var recipient User
			if err := tx.Where("username = ?", name).First(&recipient).Error; err != nil {
				return notFoundOr(err, "user not found")
			}
			sharedWithID = idPtr(recipient.ID)
		}

		now := s.now()
		var expiresAt *time.Time
		if req.ExpiresDays > 0 {
			t := now.AddDate(0, 0, req.ExpiresDays)
			expiresAt = &t
		}

		for attempt := 1; ; attempt++ {
			token, err := generateShareToken()
			if err != nil {
				return err
			}
			share = &Share{
				Token:        token,
				FileID:       fileID,
				FolderID:     folderID,
				OwnerID:      req.OwnerID,
				SharedWithID: sharedWithID,
				IsPublic:     req.IsPublic,
				CanEdit:      req.CanEdit,
				CanDownload:  canDownload,
				PasswordHash: passwordHash,
				ExpiresAt:    expiresAt,
				CreatedAt:    now,
			}
			// a SAVEPOINT keeps the transaction usable after a token collision
			err = tx.Transaction(func(sp *gorm.DB) error {
				return sp.Create(share).Error
			})
			if err == nil {
				return nil
			}
			if !isUniqueViolation(err) || attempt >= shareCreateAttempts {
				return errors.Wrap(err, "create share")
			}
			s.LoggerFromContext(ctx).Debug("share token collision, retrying", zap.Int("attempt", attempt))
		}
	})
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, ActivityEvent{
		UserID:       req.OwnerID,
		Action:       ActionShare,
		ResourceType: resourceType,
		ResourceID:   firstID(fileID, folderID),
		ResourceName: resourceName,
	})
	return share, nil
}

func firstID(ids ...*uint64) *uint64 {
	for _, id := range ids {
		if id != nil {
			return id
		}
	}
	return nil
}

// ResolveShare evaluates token and returns the resource it exposes.
// proof is the value of the authenticated query parameter, if any.
func (s *Service) ResolveShare(ctx context.Context, token, proof string) (*Share, *ShareResource, error) {
	db := s.db.WithContext(ctx)
	share, err := loadShareByToken(db, token)
	if err != nil {
		return nil, nil, err
	}
	if err := stateError(s.EvaluateShare(share, proof)); err != nil {
		return share, nil, err
	}

	res := &ShareResource{CanDownload: share.CanDownload}
	if share.FileID != nil {
		var file File
		if err := db.Where("id = ? AND owner_id = ?", *share.FileID, share.OwnerID).First(&file).Error; err != nil {
			return share, nil, notFoundOr(err, "shared file not found")
		}
		res.Type = shareResourceFile
		res.Name = file.OriginalName
		res.FileID = idPtr(file.ID)
		res.Size = file.FileSize
		res.MimeType = file.MimeType
		res.CreatedAt = &file.CreatedAt
		res.IsStreamable = IsStreamable(file.MimeType)
		return share, res, nil
	}

	folderID := uint64(0)
	if share.FolderID != nil {
		folderID = *share.FolderID
	}
	folder, err := loadOwnedFolder(db, share.OwnerID, folderID)
	if err != nil {
		return share, nil, errNotFound("shared folder not found")
	}

	var files []File
	if err := db.Where("owner_id = ? AND folder_id = ?", share.OwnerID, folder.ID).
		Order("created_at DESC").Find(&files).Error; err != nil {
		return share, nil, errors.Wrap(err, "list shared folder")
	}
	res.Type = shareResourceFolder
	res.Name = folder.Name
	res.CreatedAt = &folder.CreatedAt
	res.Files = make([]SharedFile, 0, len(files))
	for _, f := range files {
		res.Files = append(res.Files, SharedFile{
			ID:        f.ID,
			Name:      f.OriginalName,
			Size:      f.FileSize,
			MimeType:  f.MimeType,
			CreatedAt: f.CreatedAt,
		})
	}
	return share, res, nil
}

// VerifySharePassword checks candidate against a password protected share and
// returns a short lived proof bound to token.
func (s *Service) VerifySharePassword(ctx context.Context, token, candidate string) (string, error) {
	share, err := loadShareByToken(s.db.WithContext(ctx), token)
	if err != nil {
		return "", err
	}
	if !share.HasPassword() {
		return "", errNotFound("share link not found")
	}
	if candidate == "" {
		return "", errInvalid("password is required")
	}
	if share.ExpiredAt(s.now()) {
		return "", stateError(ShareExpired)
	}
	if !checkPassword(share.PasswordHash, candidate) {
		return "", errUnauthorized("incorrect password")
	}

	proof, err := s.signer.SignShareProof(share.Token, s.settings.ShareAuthTTL)
	if err != nil {
		return "", errors.Wrap(err, "sign share proof")
	}
	return proof, nil
}

// ListShares returns every share owned by ownerID, expired ones included.
func (s *Service) ListShares(ctx context.Context, ownerID uint64, baseURL string) ([]ShareListItem, error) {
	db := s.db.WithContext(ctx)

	var shares []Share
	if err := db.Where("owner_id = ?", ownerID).Order("created_at DESC").Order("id DESC").Find(&shares).Error; err != nil {
		return nil, errors.Wrap(err, "list shares")
	}

	var fileIDs, folderIDs, userIDs []uint64
	for _, sh := range shares {
		if sh.FileID != nil {
			fileIDs = append(fileIDs, *sh.FileID)
		}
		if sh.FolderID != nil {
			folderIDs = append(folderIDs, *sh.FolderID)
		}
		if sh.SharedWithID != nil {
			userIDs = append(userIDs, *sh.SharedWithID)
		}
	}

	fileNames := map[uint64]string{}
	if len(fileIDs) > 0 {
		var files []File
		if err := db.Select("id", "original_name").Where("id IN ?", fileIDs).Find(&files).Error; err != nil {
			return nil, errors.Wrap(err, "load shared files")
		}
		for _, f := range files {
			fileNames[f.ID] = f.OriginalName
		}
	}
	folderNames := map[uint64]string{}
	if len(folderIDs) > 0 {
		var folders []Folder
		if err := db.Select("id", "name").Where("id IN ?", folderIDs).Find(&folders).Error; err != nil {
			return nil, errors.Wrap(err, "load shared folders")
		}
		for _, f := range folders {
			folderNames[f.ID] = f.Name
		}
	}
	usernames := map[uint64]string{}
	if len(userIDs) > 0 {
		var users []User
		if err := db.Select("id", "username").Where("id IN ?", userIDs).Find(&users).Error; err != nil {
			return nil, errors.Wrap(err, "load share recipients")
		}
		for _, u := range users {
			usernames[u.ID] = u.Username
		}
	}

	now := s.now()
	items := make([]ShareListItem, 0, len(shares))
	for i := range shares {
		sh := &shares[i]
		var item ShareListItem
		if err := copier.Copy(&item, sh); err != nil {
			return nil, errors.Wrap(err, "copy share")
		}
		item.HasPassword = sh.HasPassword()
		item.Expired = sh.ExpiredAt(now)
		item.ShareURL = ShareURL(baseURL, sh.Token)
		item.ResourceType, item.ResourceName = shareResourceMissing, ""
		if sh.FileID != nil {
			if name, ok := fileNames[*sh.FileID]; ok {
				item.ResourceType, item.ResourceName = shareResourceFile, name
			}
		} else if sh.FolderID != nil {
			if name, ok := folderNames[*sh.FolderID]; ok {
				item.ResourceType, item.ResourceName = shareResourceFolder, name
			}
		}
		if sh.SharedWithID != nil {
			if name, ok := usernames[*sh.SharedWithID]; ok {
				item.SharedWith = &name
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// RevokeShare deletes a share owned by ownerID.
func (s *Service) RevokeShare(ctx context.Context, ownerID, shareID uint64) error {
	res := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", shareID, ownerID).Delete(&Share{})
	if res.Error != nil {
		return errors.Wrap(res.Error, "delete share")
	}
	if res.RowsAffected == 0 {
		return errNotFound("share not found")
	}

	s.recordActivity(ctx, ActivityEvent{
		UserID:       ownerID,
		Action:       ActionRevokeShare,
		ResourceType: "share",
		ResourceID:   idPtr(shareID),
	})
	return nil
}

// AuthorizeFile resolves creds to the file fileID. A share token wins over a
// query JWT, which wins over the bearer header. A protected share without a
// valid proof is forbidden. The returned user id is the authenticated
// requester, or 0 for share access.
func (s *Service) AuthorizeFile(ctx context.Context, fileID uint64, creds StreamCredentials) (*File, uint64, error) {
	db := s.db.WithContext(ctx)

	if creds.ShareToken != "" {
		share, err := loadShareByToken(db, creds.ShareToken)
		if err != nil {
			return nil, 0, errForbidden("invalid share token")
		}
		if share.FileID == nil || *share.FileID != fileID {
			return nil, 0, errForbidden("share token does not grant this file")
		}
		switch state := s.EvaluateShare(share, creds.Authenticated); state {
		case ShareValid:
		case ShareExpired:
			return nil, 0, stateError(state)
		default:
			return nil, 0, errForbidden("share password proof required")
		}
		file, err := loadOwnedFile(db, share.OwnerID, fileID)
		if err != nil {
			return nil, 0, err
		}
		return file, 0, nil
	}

	token := creds.QueryJWT
	if token == "" {
		token = creds.BearerToken
	}
	if token == "" {
		return nil, 0, errForbidden("authentication required")
	}
	claims, err := s.signer.ParseUser(token)
	if err != nil {
		return nil, 0, errForbidden("invalid token")
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, 0, errForbidden("invalid token")
	}

	file, err := loadOwnedFile(db, userID, fileID)
	if err != nil {
		return nil, 0, err
	}
	return file, userID, nil
}

// Stream authorizes and opens fileID for inline streaming and records the access.
func (s *Service) Stream(ctx context.Context, fileID uint64, creds StreamCredentials) (*OpenedFile, error) {
	file, requester, err := s.AuthorizeFile(ctx, fileID, creds)
	if err != nil {
		return nil, err
	}
	opened, err := s.OpenFile(ctx, file)
	if err != nil {
		return nil, err
	}

	evt := ActivityEvent{
		UserID:       requester,
		Action:       ActionStream,
		ResourceType: "file",
		ResourceID:   idPtr(fileID),
		ResourceName: file.OriginalName,
	}
	if requester == 0 {
		evt.UserID = file.OwnerID
		evt.Details = "via share link"
	}
	s.recordActivity(ctx, evt)
	return opened, nil
}
