package blob

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/logging"
	"github.com/spf13/afero"
)

const (
	PERM_PUBLIC  os.FileMode = 0644
	PERM_PRIVATE os.FileMode = 0600
	PERM_DIR     os.FileMode = 0755
)

var (
	ErrBlobNotFound = errors.New("store/blob: blob not found")
)

// BlobStorer is the storage capability used for every SSL artifact. Keys
// are file paths, relative to the store root when one is configured.
type BlobStorer interface {
	Append(key string, data []byte, perm os.FileMode) error
	Delete(key string) error
	Exists(key string) bool
	List(dir, suffix string) ([]string, error)
	Load(key string) ([]byte, error)
	ModTime(key string) (time.Time, error)
	Save(key string, data []byte, perm os.FileMode) error
	Touch(key string, mtime time.Time) error
}

type BlobStore struct {
	logger  *logging.Logger
	fs      afero.Fs
	rootDir string
	BlobStorer
}

// Creates a new file system backed blob store. An empty rootDir stores
// keys at their literal path.
func NewFSBlobStore(
	logger *logging.Logger,
	fs afero.Fs,
	rootDir string) (BlobStorer, error) {

	if logger == nil {
		logger = logging.DiscardLogger()
	}
	if rootDir != "" {
		if err := fs.MkdirAll(rootDir, PERM_DIR); err != nil {
			logger.Error(err)
			return nil, err
		}
	}
	return &BlobStore{
		logger:  logger,
		fs:      fs,
		rootDir: rootDir,
	}, nil
}

func (store *BlobStore) path(key string) string {
	if store.rootDir == "" {
		return filepath.Clean(key)
	}
	return filepath.Join(store.rootDir, strings.TrimLeft(key, "/"))
}

// Saves a blob, replacing any existing content. The data is written to a
// temporary file which is renamed over the target so readers never see a
// partial write. Missing parent directories are created.
func (store *BlobStore) Save(key string, data []byte, perm os.FileMode) error {
	blobFile := store.path(key)
	if err := store.fs.MkdirAll(filepath.Dir(blobFile), PERM_DIR); err != nil {
		store.logger.Errorf("%s: %s", err, key)
		return err
	}
	tmpFile := fmt.Sprintf("%s.%d.tmp", blobFile, time.Now().UnixNano())
	if err := afero.WriteFile(store.fs, tmpFile, data, perm); err != nil {
		store.logger.Errorf("%s: %s", err, key)
		return err
	}
	if err := store.fs.Rename(tmpFile, blobFile); err != nil {
		store.fs.Remove(tmpFile)
		store.logger.Errorf("%s: %s", err, key)
		return err
	}
	return store.fs.Chmod(blobFile, perm)
}

// Appends data to a blob, creating it when it does not exist
func (store *BlobStore) Append(key string, data []byte, perm os.FileMode) error {
	blobFile := store.path(key)
	if err := store.fs.MkdirAll(filepath.Dir(blobFile), PERM_DIR); err != nil {
		store.logger.Errorf("%s: %s", err, key)
		return err
	}
	f, err := store.fs.OpenFile(blobFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, perm)
	if err != nil {
		store.logger.Errorf("%s: %s", err, key)
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

// Retrieves a blob. ErrBlobNotFound is returned if the blob does not exist.
func (store *BlobStore) Load(key string) ([]byte, error) {
	bytes, err := afero.ReadFile(store.fs, store.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			store.logger.Debugf("%s: %s", ErrBlobNotFound, key)
			return nil, ErrBlobNotFound
		}
		store.logger.Errorf("store/blob: error retrieving blob %s: %s", key, err)
		return nil, err
	}
	return bytes, nil
}

// Returns true if the blob exists and is a regular file
func (store *BlobStore) Exists(key string) bool {
	info, err := store.fs.Stat(store.path(key))
	return err == nil && info.Mode().IsRegular()
}

// Deletes a blob. ErrBlobNotFound is returned if the blob does not exist.
func (store *BlobStore) Delete(key string) error {
	blobFile := store.path(key)
	if _, err := store.fs.Stat(blobFile); err != nil {
		return ErrBlobNotFound
	}
	return store.fs.Remove(blobFile)
}

// Returns the modification time of a blob
func (store *BlobStore) ModTime(key string) (time.Time, error) {
	info, err := store.fs.Stat(store.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, ErrBlobNotFound
		}
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Sets the modification time of a blob
func (store *BlobStore) Touch(key string, mtime time.Time) error {
	blobFile := store.path(key)
	if _, err := store.fs.Stat(blobFile); err != nil {
		return ErrBlobNotFound
	}
	return store.fs.Chtimes(blobFile, mtime, mtime)
}

// Lists the keys of the blobs directly inside dir whose name ends with
// suffix, sorted by name
func (store *BlobStore) List(dir, suffix string) ([]string, error) {
	entries, err := afero.ReadDir(store.fs, store.path(dir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		keys = append(keys, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(keys)
	return keys, nil
}
