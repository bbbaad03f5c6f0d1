package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound means the bytes for a locator are missing. This is distinct from
	// a registry miss: the record said the bytes exist, the disk disagrees.
	ErrNotFound = errors.New("storage: object not found")
	// ErrInvalidLocator rejects locators that do not look like values we issued.
	ErrInvalidLocator = errors.New("storage: invalid locator")
)

// DiskStore keeps payload bytes as flat files under a single directory. Locators
// are server generated basenames and are never derived from client input.
type DiskStore struct {
	dir string
}

// NewDiskStore creates the directory if needed and returns a store rooted there.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

// Dir returns the storage root.
func (s *DiskStore) Dir() string {
	return s.dir
}

// Put streams the payload to a temp file, syncs it, and renames it into place so
// the object is either fully present or absent. The returned locator becomes
// valid only after Put returns, which keeps the registry record from pointing at
// half-written bytes.
func (s *DiskStore) Put(r io.Reader, ext string) (string, int64, error) {
	locator := uuid.NewString() + sanitizeExt(ext)

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("write payload: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("sync payload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, locator)); err != nil {
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("finalize payload: %w", err)
	}
	return locator, written, nil
}

// Get opens the object for reading. The caller closes the returned file.
func (s *DiskStore) Get(locator string) (*os.File, error) {
	path, err := s.path(locator)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// Delete removes the object. A missing object is not an error so the sweeper can
// retry a half-finished cleanup safely.
func (s *DiskStore) Delete(locator string) error {
	path, err := s.path(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// path validates the locator and resolves it inside the storage root. Anything
// that is not a plain basename is rejected.
func (s *DiskStore) path(locator string) (string, error) {
	if locator == "" || locator != filepath.Base(locator) || strings.HasPrefix(locator, ".") {
		return "", ErrInvalidLocator
	}
	return filepath.Join(s.dir, locator), nil
}

// sanitizeExt keeps a short, safe file extension for operator convenience; the
// locator stays opaque either way.
func sanitizeExt(ext string) string {
	if ext == "" || len(ext) > 16 {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		return ""
	}
	for _, c := range ext[1:] {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		default:
			return ""
		}
	}
	return strings.ToLower(ext)
}
