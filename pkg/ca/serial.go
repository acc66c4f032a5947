package ca

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/store/blob"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/store/lockfile"
)

const (
	fileLockAttempts = 50
	fileLockDelay    = 100 * time.Millisecond
)

// SerialFile allocates certificate serial numbers from a hex encoded
// counter file. The file holds the next serial to hand out.
type SerialFile struct {
	mu    sync.Mutex
	blobs blob.BlobStorer
	path  string
	lock  *lockfile.PidLock
}

func NewSerialFile(blobs blob.BlobStorer, path string, lock *lockfile.PidLock) *SerialFile {
	return &SerialFile{
		blobs: blobs,
		path:  path,
		lock:  lock,
	}
}

// Returns the serial the next call to Next will allocate
func (s *SerialFile) Peek() (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Allocates a serial number. The read, increment and write happen while
// holding both the in-process mutex and the lock file so concurrent
// signers never hand out the same serial.
func (s *SerialFile) Next() (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := acquireLock(s.lock, ErrSerialLockTimeout); err != nil {
		return nil, err
	}
	defer s.lock.Unlock()

	serial, err := s.read()
	if err != nil {
		return nil, err
	}
	next := new(big.Int).Add(serial, big.NewInt(1))
	if err := s.blobs.Save(s.path, []byte(FormatSerial(next)), blob.PERM_PUBLIC); err != nil {
		return nil, err
	}
	return serial, nil
}

// Takes lock, retrying while another process holds it. Returns timeout
// when the lock is still held after the last attempt.
func acquireLock(lock *lockfile.PidLock, timeout error) error {
	return retry.Do(
		func() error {
			locked, err := lock.Lock()
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if !locked {
				return timeout
			}
			return nil
		},
		retry.Attempts(fileLockAttempts),
		retry.Delay(fileLockDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

func (s *SerialFile) read() (*big.Int, error) {
	data, err := s.blobs.Load(s.path)
	if err != nil {
		if errors.Is(err, blob.ErrBlobNotFound) {
			return big.NewInt(1), nil
		}
		return nil, err
	}
	serial, ok := new(big.Int).SetString(strings.TrimSpace(string(data)), 16)
	if !ok || serial.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSerial, s.path)
	}
	return serial, nil
}

// Formats a serial as upper case hex padded to four digits
func FormatSerial(serial *big.Int) string {
	return fmt.Sprintf("%04X", serial)
}
