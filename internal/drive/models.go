package drive

import "time"

// User is an account owning a storage namespace.
type User struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string    `gorm:"size:80;not null;uniqueIndex" json:"username"`
	Email        string    `gorm:"size:255;not null;uniqueIndex" json:"email"`
	PasswordHash string    `gorm:"size:128;not null" json:"-"`
	StorageQuota int64     `gorm:"not null" json:"storage_quota"`
	StorageUsed  int64     `gorm:"not null;default:0" json:"storage_used"`
	IsAdmin      bool      `gorm:"not null;default:false" json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the database table name.
func (User) TableName() string {
	return "drive_users"
}

// Folder is a node of a user's folder tree.
//
// ParentKey mirrors ParentID with 0 for top level folders, so a plain unique
// index covers sibling names on every dialect.
type Folder struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"size:255;not null;uniqueIndex:uq_drive_folders_sibling,priority:3" json:"name"`
	Path      string    `gorm:"size:4096;not null" json:"path"`
	ParentID  *uint64   `gorm:"index" json:"parent_id"`
	ParentKey uint64    `gorm:"not null;default:0;uniqueIndex:uq_drive_folders_sibling,priority:2" json:"-"`
	OwnerID   uint64    `gorm:"not null;uniqueIndex:uq_drive_folders_sibling,priority:1" json:"owner_id"`
	IsPublic  bool      `gorm:"not null;default:false" json:"is_public"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Folder) TableName() string {
	return "drive_folders"
}

// File is the metadata of one stored blob.
type File struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Filename     string    `gorm:"size:255;not null" json:"stored_name"`
	OriginalName string    `gorm:"size:255;not null" json:"filename"`
	FilePath     string    `gorm:"size:4096;not null" json:"-"`
	FileSize     int64     `gorm:"not null" json:"size"`
	MimeType     string    `gorm:"size:255" json:"mime_type"`
	FileHash     string    `gorm:"size:64;index" json:"file_hash"`
	OwnerID      uint64    `gorm:"not null;index" json:"owner_id"`
	FolderID     *uint64   `gorm:"index" json:"folder_id"`
	IsFavorite   bool      `gorm:"not null;default:false" json:"is_favorite"`
	Tags         string    `gorm:"size:1024" json:"tags"`
	Description  string    `gorm:"type:text" json:"description"`
	CreatedAt    time.Time `json:"upload_date"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (File) TableName() string {
	return "drive_files"
}

// Share grants access to exactly one file or folder through a token.
type Share struct {
	ID           uint64     `gorm:"primaryKey;autoIncrement"`
	Token        string     `gorm:"size:64;not null;uniqueIndex"`
	FileID       *uint64    `gorm:"index"`
	FolderID     *uint64    `gorm:"index"`
	OwnerID      uint64     `gorm:"not null;index"`
	SharedWithID *uint64    `gorm:"index"`
	IsPublic     bool       `gorm:"not null;default:false"`
	CanEdit      bool       `gorm:"not null;default:false"`
	CanDownload  bool       `gorm:"not null"`
	PasswordHash string     `gorm:"size:128"`
	ExpiresAt    *time.Time `gorm:"index"`
	CreatedAt    time.Time
}

// TableName returns the database table name.
func (Share) TableName() string {
	return "drive_shares"
}

// ExpiredAt reports whether the share is no longer consumable at now.
func (s *Share) ExpiredAt(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// HasPassword reports whether the share is password protected.
func (s *Share) HasPassword() bool {
	return s.PasswordHash != ""
}

// Comment is a note attached to a file.
type Comment struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	FileID    uint64 `gorm:"not null;index"`
	UserID    uint64 `gorm:"not null"`
	Content   string `gorm:"type:text;not null"`
	CreatedAt time.Time
}

// TableName returns the database table name.
func (Comment) TableName() string {
	return "drive_comments"
}

// FileVersion records a previous revision of a file.
type FileVersion struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	FileID        uint64 `gorm:"not null;index"`
	VersionNumber int    `gorm:"not null"`
	FilePath      string `gorm:"size:4096"`
	FileSize      int64
	FileHash      string `gorm:"size:64"`
	CreatedBy     uint64
	CreatedAt     time.Time
}

// TableName returns the database table name.
func (FileVersion) TableName() string {
	return "drive_file_versions"
}

// ExecutionLog is kept for files that were executed by older deployments.
type ExecutionLog struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	FileID     uint64 `gorm:"not null;index"`
	UserID     uint64 `gorm:"not null"`
	Output     string `gorm:"type:text"`
	ExitCode   int
	ExecutedAt time.Time
}

// TableName returns the database table name.
func (ExecutionLog) TableName() string {
	return "drive_execution_logs"
}

// Activity is one audit record.
type Activity struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       uint64    `gorm:"not null;index" json:"user_id"`
	Action       string    `gorm:"size:64;not null" json:"action"`
	ResourceType string    `gorm:"size:32" json:"resource_type"`
	ResourceID   *uint64   `json:"resource_id"`
	ResourceName string    `gorm:"size:255" json:"resource_name"`
	Details      string    `gorm:"type:text" json:"details"`
	IPAddress    string    `gorm:"size:64" json:"ip_address"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}

// TableName returns the database table name.
func (Activity) TableName() string {
	return "drive_activities"
}

// allModels lists every table managed by RunMigrations.
func allModels() []any {
	return []any{&User{}, &Folder{}, &File{}, &Share{}, &Comment{}, &FileVersion{}, &ExecutionLog{}, &Activity{}}
}
