// Package blob stores file bytes under a local directory tree.
//
// Every user owns a top level directory named after the username and folders
// mirror their materialized path beneath it. Uploads are staged into a hidden
// temp file, hashed while streaming, and then moved onto a name claimed with
// O_EXCL, so two writers can never end up with the same stored name.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/google/uuid"
)

const (
	copyBufferBytes = 32 * 1024
	hashChunkBytes  = 4096
	maxNameAttempts = 10000
	stagePrefix     = ".upload-"
	stageSuffix     = ".part"
)

// ErrOutsideRoot is returned when a relative path escapes the storage root.
var ErrOutsideRoot = errors.New("path escapes storage root")

// Stored describes bytes committed to the store.
type Stored struct {
	Name   string
	Path   string
	Size   int64
	SHA256 string
	MIME   string
}

// Staged is an upload written to a temp file and not yet visible under its final name.
type Staged struct {
	dir      string
	tempPath string
	Size     int64
	SHA256   string
}

// Store is a local filesystem blob store.
type Store struct {
	root string
}

// New creates the root directory when missing and returns a Store over it.
func New(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "resolve storage root")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrap(err, "create storage root")
	}

	return &Store{root: abs}, nil
}

// Root returns the absolute storage root.
func (s *Store) Root() string {
	return s.root
}

// PhysicalPathFor joins relDir and filename under the root. It does no I/O.
func (s *Store) PhysicalPathFor(relDir, filename string) string {
	return filepath.Join(s.root, filepath.FromSlash(relDir), filename)
}

// resolveDir maps relDir to an absolute directory inside the root.
func (s *Store) resolveDir(relDir string) (string, error) {
	dir := filepath.Join(s.root, filepath.FromSlash(relDir))
	if !s.contains(dir) {
		return "", errors.WithStack(ErrOutsideRoot)
	}
	return dir, nil
}

// contains reports whether abs is the root or lies beneath it.
func (s *Store) contains(abs string) bool {
	rel, err := filepath.Rel(s.root, filepath.Clean(abs))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// EnsureDir creates relDir under the root if absent and returns its absolute path.
func (s *Store) EnsureDir(relDir string) (string, error) {
	dir, err := s.resolveDir(relDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create directory %q", relDir)
	}
	return dir, nil
}

// Stage streams r into a temp file inside relDir, computing size and SHA-256 on the way.
func (s *Store) Stage(ctx context.Context, relDir string, r io.Reader) (*Staged, error) {
	dir, err := s.EnsureDir(relDir)
	if err != nil {
		return nil, err
	}

	tempPath := filepath.Join(dir, stagePrefix+uuid.NewString()+stageSuffix)
	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "create staging file")
	}

	hasher := sha256.New()
	size, copyErr := copyWithContext(ctx, io.MultiWriter(f, hasher), r)
	if closeErr := f.Close(); copyErr == nil && closeErr != nil {
		copyErr = errors.Wrap(closeErr, "close staging file")
	}
	if copyErr != nil {
		_ = os.Remove(tempPath)
		return nil, copyErr
	}

	return &Staged{
		dir:      dir,
		tempPath: tempPath,
		Size:     size,
		SHA256:   hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Discard removes the temp file of a staged upload.
func (s *Store) Discard(staged *Staged) {
	if staged == nil || staged.tempPath == "" {
		return
	}
	_ = os.Remove(staged.tempPath)
	staged.tempPath = ""
}

// Commit claims a free name derived from suggestedName and moves the staged bytes onto it.
func (s *Store) Commit(staged *Staged, suggestedName string) (*Stored, error) {
	if staged == nil || staged.tempPath == "" {
		return nil, errors.New("nothing staged")
	}

	name, path, err := claimName(staged.dir, SanitizeName(suggestedName))
	if err != nil {
		return nil, err
	}
	if err := os.Rename(staged.tempPath, path); err != nil {
		_ = os.Remove(path)
		return nil, errors.Wrap(err, "move staged file")
	}
	staged.tempPath = ""

	return &Stored{
		Name:   name,
		Path:   path,
		Size:   staged.Size,
		SHA256: staged.SHA256,
		MIME:   DetectMIME(path),
	}, nil
}

// Store writes r into relDir under a collision free variant of suggestedName.
func (s *Store) Store(ctx context.Context, relDir, suggestedName string, r io.Reader) (*Stored, error) {
	staged, err := s.Stage(ctx, relDir, r)
	if err != nil {
		return nil, err
	}

	stored, err := s.Commit(staged, suggestedName)
	if err != nil {
		s.Discard(staged)
		return nil, err
	}

	return stored, nil
}

// Rename moves the file at oldPath to a free variant of newName in the same directory.
// Renaming to the current name is a no-op.
func (s *Store) Rename(oldPath, newName string) (name, path string, err error) {
	if !s.contains(oldPath) {
		return "", "", errors.WithStack(ErrOutsideRoot)
	}

	dir := filepath.Dir(oldPath)
	newName = SanitizeName(newName)
	if newName == filepath.Base(oldPath) {
		return newName, oldPath, nil
	}
	if _, err := os.Stat(oldPath); err != nil {
		return "", "", errors.Wrap(err, "stat source")
	}

	name, path, err = claimName(dir, newName)
	if err != nil {
		return "", "", err
	}
	if err := os.Rename(oldPath, path); err != nil {
		_ = os.Remove(path)
		return "", "", errors.Wrap(err, "rename file")
	}

	return name, path, nil
}

// Move renames from to to, both inside the root. It undoes a Rename whose
// metadata update failed.
func (s *Store) Move(from, to string) error {
	if !s.contains(from) || !s.contains(to) {
		return errors.WithStack(ErrOutsideRoot)
	}
	if err := os.Rename(from, to); err != nil {
		return errors.Wrap(err, "move file")
	}
	return nil
}

// Remove deletes the file at path. A missing file is not an error.
func (s *Store) Remove(path string) error {
	if !s.contains(path) {
		return errors.WithStack(ErrOutsideRoot)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrap(err, "remove file")
	}
	return nil
}

// RemoveTree deletes relDir and everything below it. The root itself is never removed.
func (s *Store) RemoveTree(relDir string) error {
	if strings.Trim(relDir, "/") == "" {
		return errors.New("refusing to remove storage root")
	}
	dir, err := s.resolveDir(relDir)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "remove tree %q", relDir)
	}
	return nil
}

// Open opens path for reading and returns its stat.
func (s *Store) Open(path string) (*os.File, fs.FileInfo, error) {
	if !s.contains(path) {
		return nil, nil, errors.WithStack(ErrOutsideRoot)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open file")
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, errors.Wrap(err, "stat file")
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, nil, errors.Wrapf(fs.ErrNotExist, "%s is not a regular file", filepath.Base(path))
	}
	return f, info, nil
}

// Exists reports whether path is an existing regular file.
func (s *Store) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// HashFile computes the SHA-256 of the file at path in fixed size chunks.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "open file")
	}
	defer f.Close() // nolint: errcheck

	hasher := sha256.New()
	if _, err := io.CopyBuffer(hasher, f, make([]byte, hashChunkBytes)); err != nil {
		return "", errors.Wrap(err, "hash file")
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// claimName atomically creates an empty placeholder for the first free candidate of name in dir.
func claimName(dir, name string) (string, string, error) {
	for n := 0; n < maxNameAttempts; n++ {
		candidate := CandidateName(name, n)
		path := filepath.Join(dir, candidate)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			if err := f.Close(); err != nil {
				return "", "", errors.Wrap(err, "close placeholder")
			}
			return candidate, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", "", errors.Wrapf(err, "claim name %q", candidate)
		}
	}

	return "", "", errors.Errorf("no free name for %q after %d attempts", name, maxNameAttempts)
}

// copyWithContext copies src to dst and stops early when ctx is done.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyBufferBytes)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, errors.Wrap(err, "copy cancelled")
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			w, err := dst.Write(buf[:n])
			written += int64(w)
			if err != nil {
				return written, errors.Wrap(err, "write staging file")
			}
			if w != n {
				return written, errors.WithStack(io.ErrShortWrite)
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, errors.Wrap(readErr, "read upload")
		}
	}
}
