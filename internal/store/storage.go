package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/nerrad567/gray-logic-devicecore/internal/device"
)

// File permission constants.
const (
	dirPermissions  = 0750
	filePermissions = 0600
)

// Storage persists the main configuration document.
type Storage interface {
	// Load returns the stored document. A missing document is reported
	// with an error wrapping fs.ErrNotExist.
	Load(ctx context.Context) ([]byte, error)

	// Save replaces the stored document. Implementations must not retain data.
	Save(ctx context.Context, data []byte) error
}

// ProfileStorage persists the device list of each profile.
//
// Ids are case-insensitive: "Stage" and "stage" name the same profile.
type ProfileStorage interface {
	// LoadProfile returns the stored document for id, or an error wrapping
	// device.ErrNotFound.
	LoadProfile(ctx context.Context, id string) ([]byte, error)

	// SaveProfile replaces the stored document for id.
	SaveProfile(ctx context.Context, id string, data []byte) error

	// DeleteProfile removes the stored document for id. Deleting a missing
	// profile is not an error.
	DeleteProfile(ctx context.Context, id string) error
}

// FileStorage keeps the main document in a single file, replaced atomically.
type FileStorage struct {
	path string
}

// NewFileStorage creates a FileStorage writing to path.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// Path returns the file path.
func (f *FileStorage) Path() string {
	return f.path
}

// Load reads the file.
func (f *FileStorage) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.path, err)
	}
	return data, nil
}

// Save writes data to a temporary file and renames it over the target.
func (f *FileStorage) Save(_ context.Context, data []byte) error {
	return writeFileAtomic(f.path, data, filePermissions)
}

// FileProfileStorage keeps one JSON file per profile in a directory.
type FileProfileStorage struct {
	dir string
}

// NewFileProfileStorage creates a FileProfileStorage rooted at dir.
func NewFileProfileStorage(dir string) *FileProfileStorage {
	return &FileProfileStorage{dir: dir}
}

func (p *FileProfileStorage) pathFor(id string) (string, error) {
	if !device.ValidProfileID(id) {
		return "", fmt.Errorf("%w: profile id %q", device.ErrInvalidArgument, id)
	}
	return filepath.Join(p.dir, "profile_"+strings.ToLower(id)+".json"), nil
}

// LoadProfile reads the profile's file.
func (p *FileProfileStorage) LoadProfile(_ context.Context, id string) ([]byte, error) {
	path, err := p.pathFor(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: profile %s has no stored devices", device.ErrNotFound, id)
		}
		return nil, fmt.Errorf("reading profile %s: %w", id, err)
	}
	return data, nil
}

// SaveProfile writes the profile's file atomically.
func (p *FileProfileStorage) SaveProfile(_ context.Context, id string, data []byte) error {
	path, err := p.pathFor(id)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data, filePermissions)
}

// DeleteProfile removes the profile's file.
func (p *FileProfileStorage) DeleteProfile(_ context.Context, id string) error {
	path, err := p.pathFor(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing profile %s: %w", id, err)
	}
	return nil
}

// writeFileAtomic writes data next to path and renames it into place, so a
// crash mid-write leaves either the old or the new file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := f.Name()
	defer func() {
		_ = f.Close()          //nolint:errcheck // already closed on the success path
		_ = os.Remove(tmpPath) //nolint:errcheck // gone after a successful rename
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("setting permissions on %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}
