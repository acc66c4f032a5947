package ca

import (
	"crypto"
	"crypto/x509"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/ssl"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/store/blob"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/store/lockfile"
	"github.com/samber/lo"
)

// Revocation reason used when none is given
const ReasonKeyCompromise = 1

// CRLStore maintains the CA's revocation list. Every change re-signs the
// list with an incremented CRL number and persists it while holding the
// CRL lock file.
type CRLStore struct {
	mu     sync.Mutex
	blobs  blob.BlobStorer
	path   string
	lock   *lockfile.PidLock
	signer *ssl.Signer
	ttl    time.Duration
	now    func() time.Time
}

func NewCRLStore(
	blobs blob.BlobStorer,
	path string,
	lock *lockfile.PidLock,
	signer *ssl.Signer,
	ttl time.Duration,
	now func() time.Time) *CRLStore {

	return &CRLStore{
		blobs:  blobs,
		path:   path,
		lock:   lock,
		signer: signer,
		ttl:    ttl,
		now:    now,
	}
}

// Returns the persisted CRL, or nil if none was generated yet
func (s *CRLStore) Load() (*x509.RevocationList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *CRLStore) load() (*x509.RevocationList, error) {
	data, err := s.blobs.Load(s.path)
	if err != nil {
		if errors.Is(err, blob.ErrBlobNotFound) {
			return nil, nil
		}
		return nil, err
	}
	crls, err := ssl.DecodeCRLsPEM(data)
	if err != nil {
		return nil, err
	}
	return crls[0], nil
}

// Generates an empty CRL if none exists
func (s *CRLStore) Init(issuer *x509.Certificate, key crypto.Signer) (*x509.RevocationList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := acquireLock(s.lock, ErrCRLLockTimeout); err != nil {
		return nil, err
	}
	defer s.lock.Unlock()

	crl, err := s.load()
	if err != nil || crl != nil {
		return crl, err
	}
	return s.sign(issuer, key, nil, big.NewInt(0))
}

// Adds serial to the list. Serials already present are not added twice.
func (s *CRLStore) Revoke(
	issuer *x509.Certificate,
	key crypto.Signer,
	serial *big.Int,
	reason int) (*x509.RevocationList, error) {

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := acquireLock(s.lock, ErrCRLLockTimeout); err != nil {
		return nil, err
	}
	defer s.lock.Unlock()

	current, err := s.load()
	if err != nil {
		return nil, err
	}
	entries := []x509.RevocationListEntry{}
	number := big.NewInt(0)
	if current != nil {
		entries = append(entries, current.RevokedCertificateEntries...)
		if current.Number != nil {
			number = new(big.Int).Add(current.Number, big.NewInt(1))
		}
	}
	revoked := lo.ContainsBy(entries, func(entry x509.RevocationListEntry) bool {
		return entry.SerialNumber.Cmp(serial) == 0
	})
	if !revoked {
		entries = append(entries, x509.RevocationListEntry{
			SerialNumber:   serial,
			RevocationTime: s.now(),
			ReasonCode:     reason,
		})
	}
	return s.sign(issuer, key, entries, number)
}

func (s *CRLStore) sign(
	issuer *x509.Certificate,
	key crypto.Signer,
	entries []x509.RevocationListEntry,
	number *big.Int) (*x509.RevocationList, error) {

	now := s.now()
	crl, err := s.signer.SignCRL(&x509.RevocationList{
		Number:                    number,
		ThisUpdate:                now.Add(-time.Second),
		NextUpdate:                now.Add(s.ttl),
		RevokedCertificateEntries: entries,
	}, issuer, key)
	if err != nil {
		return nil, err
	}
	if err := s.blobs.Save(s.path, ssl.EncodeCRLPEM(crl), blob.PERM_PUBLIC); err != nil {
		return nil, err
	}
	return crl, nil
}
