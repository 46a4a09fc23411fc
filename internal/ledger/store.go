package ledger

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
)

const (
	// BasketKey holds the serialized basket
	BasketKey = "basket"
	// LedgerKey holds the serialized purchase history
	LedgerKey = "ledger"
)

// ErrKeyNotFound is returned by Store.Get for a key that was never set
var ErrKeyNotFound = errors.New("key not found")

// Store is the key-value collaborator that persists the basket and the ledger
type Store interface {
	// Get returns the value stored under key, or ErrKeyNotFound
	Get(key string) ([]byte, error)

	// Set stores value under key, replacing any previous value
	Set(key string, value []byte) error

	// Remove deletes key; removing a missing key is not an error
	Remove(key string) error

	// Close releases the store
	Close() error
}

var validKey = regexp.MustCompile(`^[A-Za-z0-9_\-.]+$`)

// FileStore implements Store with one file per key in a directory
type FileStore struct {
	basePath string
}

// NewFileStore creates a new FileStore rooted at basePath
func NewFileStore(basePath string) (*FileStore, error) {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &FileStore{
		basePath: basePath,
	}, nil
}

func (f *FileStore) path(key string) (string, error) {
	if !validKey.MatchString(key) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid key: %q", key)
	}
	return filepath.Join(f.basePath, key+".json"), nil
}

// Get reads the file for key
func (f *FileStore) Get(key string) ([]byte, error) {
	path, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Set writes the file for key through a temporary file so readers never see a partial value
func (f *FileStore) Set(key string, value []byte) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing file: %w", err)
	}
	return nil
}

// Remove deletes the file for key
func (f *FileStore) Remove(key string) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// Close is a no-op for the filesystem
func (f *FileStore) Close() error {
	return nil
}
