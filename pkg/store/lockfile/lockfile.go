package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

var (
	ErrLocked    = errors.New("store/lockfile: lock is held by another process")
	ErrNotLocked = errors.New("store/lockfile: lock is not held")
)

// PidLock is an exclusive lock represented by a file holding the pid of
// the owning process. Creation uses O_EXCL so only one holder succeeds.
// Ownership belongs to the PidLock that created the file, so two locks on
// the same path exclude each other within one process too.
type PidLock struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
	pid  int
	held bool
}

func NewPidLock(fs afero.Fs, path string) *PidLock {
	return &PidLock{
		fs:   fs,
		path: path,
		pid:  os.Getpid(),
	}
}

func (l *PidLock) Path() string {
	return l.path
}

// Acquires the lock. Returns true if the lock was acquired or is already
// held by this PidLock.
func (l *PidLock) Lock() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return true, nil
	}
	if err := l.fs.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return false, err
	}
	f, err := l.fs.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()
	if _, err := f.WriteString(strconv.Itoa(l.pid)); err != nil {
		l.fs.Remove(l.path)
		return false, err
	}
	l.held = true
	return true, nil
}

// Releases the lock if it is held by this PidLock
func (l *PidLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return ErrNotLocked
	}
	if err := l.fs.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	l.held = false
	return nil
}

// Returns true if any process holds the lock
func (l *PidLock) Locked() bool {
	_, err := l.fs.Stat(l.path)
	return err == nil
}

// Returns true if this process holds the lock
func (l *PidLock) Mine() bool {
	pid, err := l.Pid()
	return err == nil && pid == l.pid
}

// Returns the pid recorded in the lock file
func (l *PidLock) Pid() (int, error) {
	data, err := afero.ReadFile(l.fs, l.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("store/lockfile: invalid pid in %s: %w", l.path, err)
	}
	return pid, nil
}
