// Package avatar stores uploaded avatar images in a local directory.
//
// Names handed to Open and Remove come from URLs, so they are checked to be a
// single path element before they touch the filesystem: "../etc/passwd" and
// "a/b.png" are simply not found.
package avatar

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/pong-backend/internal/apperror"
)

// MaxSize is the largest accepted upload (5 MiB).
const MaxSize = 5 << 20

// URLPrefix is the public path avatars are served under.
const URLPrefix = "/avatars/"

// ErrTooLarge is returned by Save when content exceeds MaxSize. A reader
// may also return it to stop a copy early; Save passes it through.
var ErrTooLarge = errors.New("avatar: file too large")

var allowedExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"gif":  true,
}

// Store is a directory of avatar files.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir. The directory is created on the
// first Save, not here.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

// AllowedExtension reports whether filename ends in png, jpg, jpeg or gif
// (case-insensitive) and returns the lowercased extension.
func AllowedExtension(filename string) (string, bool) {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 || i == len(filename)-1 {
		return "", false
	}
	ext := strings.ToLower(filename[i+1:])
	return ext, allowedExtensions[ext]
}

// FileName builds the stored name "<userID>_<xid>_<base>.<ext>".
// The xid makes every upload unique even when the same file is sent twice.
func FileName(userID int64, original string) string {
	ext, _ := AllowedExtension(original)
	base := filepath.Base(strings.ReplaceAll(original, `\`, "/"))
	base = sanitize(strings.TrimSuffix(base, filepath.Ext(base)))
	if base == "" {
		base = "avatar"
	}
	return fmt.Sprintf("%d_%s_%s.%s", userID, xid.New().String(), base, ext)
}

// sanitize keeps ASCII letters, digits, '-' and '_', turns whitespace into
// '_', and trims leading underscores. Dots are dropped so the base can never
// contain "..".
func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '\t':
			b.WriteByte('_')
		}
	}
	return strings.TrimLeft(b.String(), "_")
}

// Save writes content to name inside the store directory and returns the
// public URL ("/avatars/<name>"). Content larger than MaxSize is rejected
// with ErrTooLarge and nothing is left on disk.
func (s *Store) Save(name string, content io.Reader) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("avatar: invalid file name %q", name)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("avatar: creating upload dir: %w", err)
	}

	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("avatar: creating %s: %w", name, err)
	}

	// Read one byte past the limit to tell "exactly MaxSize" from "too big".
	n, copyErr := io.Copy(f, io.LimitReader(content, MaxSize+1))
	closeErr := f.Close()

	switch {
	case errors.Is(copyErr, ErrTooLarge):
		os.Remove(path)
		return "", ErrTooLarge
	case copyErr != nil:
		os.Remove(path)
		return "", fmt.Errorf("avatar: writing %s: %w", name, copyErr)
	case n > MaxSize:
		os.Remove(path)
		return "", ErrTooLarge
	case closeErr != nil:
		os.Remove(path)
		return "", fmt.Errorf("avatar: closing %s: %w", name, closeErr)
	}

	return URLPrefix + name, nil
}

// Open returns the named avatar for reading. Unknown names and names that
// are not a single path element return apperror.ErrNotFound.
func (s *Store) Open(name string) (*os.File, error) {
	if !validName(name) {
		return nil, apperror.NotFound("avatar", name)
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperror.NotFound("avatar", name)
		}
		return nil, fmt.Errorf("avatar: opening %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		return nil, apperror.NotFound("avatar", name)
	}
	return f, nil
}

// Remove deletes the named avatar. A missing file is not an error.
func (s *Store) Remove(name string) error {
	if !validName(name) {
		return apperror.NotFound("avatar", name)
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("avatar: removing %s: %w", name, err)
	}
	return nil
}

// LocalName extracts the stored file name from an avatar URL. It returns
// false for provider URLs ("https://avatars.githubusercontent.com/...") and
// anything else this store did not produce.
func LocalName(avatarURL string) (string, bool) {
	name, ok := strings.CutPrefix(avatarURL, URLPrefix)
	if !ok || !validName(name) {
		return "", false
	}
	return name, true
}

// validName accepts exactly one path element with no separators and no
// dot-only names.
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return filepath.IsLocal(name)
}
