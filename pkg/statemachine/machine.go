package statemachine

import (
	"context"
	"crypto/x509"
	"errors"
	"strings"
	"time"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/logging"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/ssl"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/store/certstore"
)

var (
	ErrLockFailure = errors.New("statemachine: unable to acquire the ssl lock")
	ErrExit        = errors.New("statemachine: giving up")

	errLockBusy = errors.New("statemachine: lock is held by another process")
)

// runError carries the message of the state that ended a run
type runError struct {
	cause   error
	message string
}

func (e *runError) Error() string { return e.message }
func (e *runError) Unwrap() error { return e.cause }

// CAClient is the subset of the fetcher the states use
type CAClient interface {
	URL() string
	GetCertificate(ctx context.Context, sslctx *ssl.Context, name string, ifModifiedSince time.Time) ([]byte, error)
	GetCRL(ctx context.Context, sslctx *ssl.Context, ifModifiedSince time.Time) ([]byte, error)
	FetchCACerts(ctx context.Context, sslctx *ssl.Context) ([]byte, error)
	FetchCRLs(ctx context.Context, sslctx *ssl.Context) ([]byte, error)
	PutCertificateRequest(ctx context.Context, sslctx *ssl.Context, name string, csr *x509.CertificateRequest) error
	PostCertificateRenewal(ctx context.Context, sslctx *ssl.Context) ([]byte, error)
}

// Locker guards the ssl directory against concurrent runs
type Locker interface {
	Lock() (bool, error)
	Unlock() error
	Mine() bool
}

type Params struct {
	Logger   *logging.Logger
	Certs    *certstore.CertProvider
	Provider *ssl.Provider
	Client   CAClient
	Lock     Locker

	Certname      string
	Revocation    ssl.RevocationMode
	KeyParams     ssl.KeyParams
	DNSAltNames   []string
	CSRAttributes *ssl.CSRAttributes

	WaitForCert time.Duration
	// Zero waits for the certificate indefinitely
	MaxWaitForCert time.Duration
	WaitForLock    time.Duration
	MaxWaitForLock time.Duration
	// Return the first error instead of waiting
	OneTime bool

	Digest        string
	CAFingerprint string

	CARefreshInterval  time.Duration
	CRLRefreshInterval time.Duration
	RenewalInterval    time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Machine bootstraps the host's CA bundle, CRLs, private key and client
// certificate. Each run starts by taking the ssl lock.
type Machine struct {
	params           Params
	logger           *logging.Logger
	certs            *certstore.CertProvider
	provider         *ssl.Provider
	client           CAClient
	lock             Locker
	waitDeadline     time.Time
	waitLockDeadline time.Time
}

func NewMachine(params Params) *Machine {
	if params.Logger == nil {
		params.Logger = logging.DefaultLogger()
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	if params.Sleep == nil {
		params.Sleep = sleep
	}
	if params.Digest == "" {
		params.Digest = ssl.DefaultDigest
	}
	now := params.Now()
	return &Machine{
		params:           params,
		logger:           params.Logger,
		certs:            params.Certs,
		provider:         params.Provider,
		client:           params.Client,
		lock:             params.Lock,
		waitDeadline:     now.Add(params.MaxWaitForCert),
		waitLockDeadline: now.Add(params.MaxWaitForLock),
	}
}

// Start returns the first state of a run
func (m *Machine) Start() State {
	return &NeedLock{baseState: baseState{machine: m}}
}

func (m *Machine) needCACerts() State {
	return &NeedCACerts{baseState: baseState{machine: m, sslctx: m.provider.CreateInsecureContext()}}
}

// EnsureCACertificates runs until the CA bundle and CRLs are in place and
// returns a context trusting them
func (m *Machine) EnsureCACertificates(ctx context.Context) (*ssl.Context, error) {
	state, err := m.Run(ctx, m.Start(), func(s State) bool {
		_, ok := s.(*NeedKey)
		return ok
	})
	if err != nil {
		return nil, err
	}
	return state.SSLContext(), nil
}

// EnsureClientCertificate runs until the host has a verified client
// certificate and returns the complete context
func (m *Machine) EnsureClientCertificate(ctx context.Context) (*ssl.Context, error) {
	state, err := m.Run(ctx, m.Start(), func(s State) bool {
		_, ok := s.(*Done)
		return ok
	})
	if err != nil {
		return nil, err
	}
	sslctx := state.SSLContext()
	m.provider.Print(sslctx, m.params.Digest)
	return sslctx, nil
}

// Run steps from state until stop returns true. Lock failures and giving
// up end the run with an error, as does the first Error when running once.
// The lock is released on return.
func (m *Machine) Run(ctx context.Context, state State, stop func(State) bool) (State, error) {
	defer m.unlock()
	for {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		state = state.Next(ctx)
		m.logger.Debugf("statemachine: entered %s", state.Name())
		if stop(state) {
			return state, nil
		}
		switch s := state.(type) {
		case *LockFailure:
			return state, &runError{cause: ErrLockFailure, message: s.Message}
		case *Exit:
			return state, &runError{cause: ErrExit, message: s.Message}
		case *Error:
			if m.params.OneTime {
				m.logger.Error(s.Err, "message", s.Message)
				return state, &runError{cause: s.Err, message: s.Message}
			}
		}
	}
}

func (m *Machine) unlock() {
	if closer, ok := m.client.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}
	if m.lock.Mine() {
		if err := m.lock.Unlock(); err != nil {
			m.logger.Error(err)
		}
	}
}

func (m *Machine) now() time.Time {
	return m.params.Now()
}

func (m *Machine) sleep(ctx context.Context, d time.Duration) error {
	return m.params.Sleep(ctx, d)
}

// sleepTimer drives retry-go delays through the machine's sleep function
type sleepTimer struct {
	ctx   context.Context
	sleep func(ctx context.Context, d time.Duration) error
}

func (t *sleepTimer) After(d time.Duration) <-chan time.Time {
	c := make(chan time.Time, 1)
	t.sleep(t.ctx, d)
	c <- time.Now()
	return c
}

func (m *Machine) needsRenewal(cert *x509.Certificate) bool {
	interval := m.params.RenewalInterval
	if interval <= 0 {
		return false
	}
	return !m.now().Before(cert.NotAfter.Add(-interval))
}

func (m *Machine) digestName() string {
	return strings.ToUpper(m.params.Digest)
}

func (m *Machine) digest(data []byte) (string, error) {
	return ssl.Digest(m.params.Digest, data)
}

func caFingerprintEntry(certname, message string) logging.SecurityLogEntry {
	return logging.SecurityLogEntry{
		Timestamp:   time.Now(),
		Severity:    logging.SeverityHigh,
		Category:    logging.CategorySystemIntegrity,
		Description: "CA bundle fingerprint mismatch",
		Details:     message,
		Source:      logging.SourceAgent,
		Subject:     certname,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
