package drive

import (
	"context"
	"regexp"
	"strings"

	errors "github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{2,79}$`)

	// bcryptCost is lowered by tests.
	bcryptCost = bcrypt.DefaultCost
)

const minPasswordLength = 6

// RegisterRequest carries a new account.
type RegisterRequest struct {
	Username string
	Email    string
	Password string
}

// Session is the result of a successful login.
type Session struct {
	AccessToken string `json:"access_token"`
	UserID      uint64 `json:"user_id"`
	Username    string `json:"username"`
}

// UserInfo summarizes an account and its storage usage.
type UserInfo struct {
	Username       string  `json:"username"`
	Email          string  `json:"email"`
	StorageQuota   int64   `json:"storage_quota"`
	StorageUsed    int64   `json:"storage_used"`
	StoragePercent float64 `json:"storage_percent"`
	IsAdmin        bool    `json:"is_admin"`
}

func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", errors.Wrap(err, "hash password")
	}
	return string(hashed), nil
}

func checkPassword(hash, candidate string) bool {
	return hash != "" && bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil
}

// validateRegistration checks a registration before any mutation.
func validateRegistration(req RegisterRequest) error {
	if req.Username == "" || req.Email == "" || req.Password == "" {
		return errInvalid("username, email and password are required")
	}
	if !usernamePattern.MatchString(req.Username) {
		return errInvalid("username must be 3-80 characters of letters, digits, '.', '_' or '-'")
	}
	if at := strings.Index(req.Email, "@"); at <= 0 || at == len(req.Email)-1 {
		return errInvalid("invalid email")
	}
	if len(req.Password) < minPasswordLength {
		return errInvalid("password too short")
	}
	return nil
}

// Register creates an account and its storage directory.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if err := validateRegistration(req); err != nil {
		return nil, err
	}

	user, err := s.createUser(ctx, req, false)
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, ActivityEvent{
		UserID:       user.ID,
		Action:       ActionRegister,
		ResourceType: "user",
		ResourceID:   idPtr(user.ID),
		ResourceName: user.Username,
	})
	return user, nil
}

func (s *Service) createUser(ctx context.Context, req RegisterRequest, admin bool) (*User, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("username = ?", req.Username).Count(&count).Error; err != nil {
		return nil, errors.Wrap(err, "check username")
	}
	if count > 0 {
		return nil, errInvalid("username already exists")
	}
	if err := s.db.WithContext(ctx).Model(&User{}).Where("email = ?", req.Email).Count(&count).Error; err != nil {
		return nil, errors.Wrap(err, "check email")
	}
	if count > 0 {
		return nil, errInvalid("email already registered")
	}

	hashed, err := hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	if _, err := s.blobs.EnsureDir(req.Username); err != nil {
		return nil, errIO(err, "create user directory")
	}

	quota := s.settings.DefaultQuotaBytes
	if admin {
		quota = s.settings.AdminQuotaBytes
	}
	user := &User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hashed,
		StorageQuota: quota,
		IsAdmin:      admin,
		CreatedAt:    s.now(),
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, errInvalid("username or email already exists")
		}
		return nil, errors.Wrap(err, "create user")
	}

	return user, nil
}

// Authenticate checks credentials and issues a session token.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*Session, error) {
	var user User
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(err, "load user")
	}
	if err != nil || !checkPassword(user.PasswordHash, password) {
		return nil, errUnauthorized("invalid credentials")
	}

	token, err := s.signer.SignUser(user.ID, user.Username, s.settings.SessionTTL)
	if err != nil {
		return nil, errors.Wrap(err, "sign session")
	}

	s.recordActivity(ctx, ActivityEvent{
		UserID:       user.ID,
		Action:       ActionLogin,
		ResourceType: "user",
		ResourceID:   idPtr(user.ID),
		ResourceName: user.Username,
	})
	return &Session{AccessToken: token, UserID: user.ID, Username: user.Username}, nil
}

// GetUser loads a user by id.
func (s *Service) GetUser(ctx context.Context, userID uint64) (*User, error) {
	return loadUser(s.db.WithContext(ctx), userID)
}

func loadUser(db *gorm.DB, userID uint64) (*User, error) {
	var user User
	if err := db.Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, notFoundOr(err, "user not found")
	}
	return &user, nil
}

// UserInfo reports the account and storage usage of userID.
func (s *Service) UserInfo(ctx context.Context, userID uint64) (*UserInfo, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	info := &UserInfo{
		Username:     user.Username,
		Email:        user.Email,
		StorageQuota: user.StorageQuota,
		StorageUsed:  user.StorageUsed,
		IsAdmin:      user.IsAdmin,
	}
	if user.StorageQuota > 0 {
		info.StoragePercent = float64(user.StorageUsed) / float64(user.StorageQuota) * 100
	}
	return info, nil
}

// SeedDefaultUsers creates the admin and teste accounts when missing.
func (s *Service) SeedDefaultUsers(ctx context.Context) error {
	seeds := []struct {
		req   RegisterRequest
		admin bool
	}{
		{RegisterRequest{Username: "admin", Email: "admin@laisky-drive.local", Password: "admin123"}, true},
		{RegisterRequest{Username: "teste", Email: "teste@laisky-drive.local", Password: "teste123"}, false},
	}

	logger := s.LoggerFromContext(ctx)
	for _, seed := range seeds {
		var count int64
		if err := s.db.WithContext(ctx).Model(&User{}).Where("username = ?", seed.req.Username).Count(&count).Error; err != nil {
			return errors.Wrap(err, "check seed user")
		}
		if count > 0 {
			continue
		}
		if _, err := s.createUser(ctx, seed.req, seed.admin); err != nil {
			return errors.Wrapf(err, "seed user %q", seed.req.Username)
		}
		logger.Info("seeded default user", zap.String("username", seed.req.Username), zap.Bool("admin", seed.admin))
	}
	return nil
}

// DeleteUser removes targetID with everything it owns. Only admins may call it.
func (s *Service) DeleteUser(ctx context.Context, actorID, targetID uint64) error {
	actor, err := s.GetUser(ctx, actorID)
	if err != nil {
		return errForbidden("admin privileges required")
	}
	if !actor.IsAdmin {
		return errForbidden("admin privileges required")
	}
	if actorID == targetID {
		return errInvalid("admins cannot delete themselves")
	}

	var target *User
	err = s.withUserLock(ctx, targetID, func(tx *gorm.DB) error {
		var err error
		if target, err = loadUser(tx, targetID); err != nil {
			return err
		}

		if err := tx.Where("owner_id = ? OR shared_with_id = ?", targetID, targetID).Delete(&Share{}).Error; err != nil {
			return errors.Wrap(err, "delete user shares")
		}

		var files []File
		if err := tx.Where("owner_id = ?", targetID).Find(&files).Error; err != nil {
			return errors.Wrap(err, "list user files")
		}
		if err := s.deleteFileRows(ctx, tx, files); err != nil {
			return err
		}

		if err := tx.Where("owner_id = ?", targetID).Delete(&Folder{}).Error; err != nil {
			return errors.Wrap(err, "delete user folders")
		}
		if err := tx.Where("user_id = ?", targetID).Delete(&Activity{}).Error; err != nil {
			return errors.Wrap(err, "delete user activities")
		}
		if err := tx.Delete(&User{}, targetID).Error; err != nil {
			return errors.Wrap(err, "delete user")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.warnOnError(ctx, s.blobs.RemoveTree(target.Username), "remove user directory",
		zap.String("username", target.Username))

	s.recordActivity(ctx, ActivityEvent{
		UserID:       actorID,
		Action:       ActionDeleteUser,
		ResourceType: "user",
		ResourceID:   idPtr(targetID),
		ResourceName: target.Username,
	})
	return nil
}
