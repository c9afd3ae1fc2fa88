package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/czhmisaka/Html2Img/internal/model"
)

// entryExt is used for every entry regardless of the encoded format.
const entryExt = ".png"

// FileStore keeps one file per key in a flat directory; the file's
// modification time is the only expiry signal.
type FileStore struct {
	dir string
	now func() time.Time
}

// Option configures a FileStore
type Option func(*FileStore)

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) {
		s.now = now
	}
}

// NewFileStore creates the backing directory once and returns the store
func NewFileStore(dir string, opts ...Option) (*FileStore, error) {
	s := &FileStore{
		dir: dir,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	return s, nil
}

// Dir returns the backing directory
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the file path for a cache key
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, key+entryExt)
}

// Exists reports whether key has an entry younger than TTL
func (s *FileStore) Exists(key string) bool {
	_, ok := s.Remaining(key)
	return ok
}

// Remaining returns how long the entry for key stays visible.
func (s *FileStore) Remaining(key string) (time.Duration, bool) {
	if !ValidKey(key) {
		return 0, false
	}

	info, err := os.Stat(s.Path(key))
	if err != nil || !info.Mode().IsRegular() {
		return 0, false
	}

	age := s.now().Sub(info.ModTime())
	if age >= TTL {
		return 0, false
	}
	return TTL - age, true
}

// Get reads the entry for key. Absent and expired entries are both ErrNotFound.
func (s *FileStore) Get(key string) ([]byte, error) {
	if !s.Exists(key) {
		return nil, fmt.Errorf("cache entry %q: %w", key, model.ErrNotFound)
	}

	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("cache entry %q: %w", key, model.ErrNotFound)
		}
		return nil, fmt.Errorf("read cache file: %w", err)
	}

	return data, nil
}

// Put writes or overwrites the entry for key.
// Concurrent writers race; the last rename wins and readers never see a partial file.
func (s *FileStore) Put(key string, data []byte) error {
	if !ValidKey(key) {
		return model.Invalid("key", fmt.Sprintf("malformed cache key %q", key))
	}

	tmp, err := os.CreateTemp(s.dir, "."+key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	_ = tmp.Chmod(0644)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmpName, s.Path(key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("commit cache file: %w", err)
	}

	return nil
}
