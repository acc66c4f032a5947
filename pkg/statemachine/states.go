package statemachine

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/fetcher"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/ssl"
)

// State is one step of the bootstrap. States are immutable, Next returns
// the state that follows. Terminal states return themselves.
type State interface {
	Name() string
	// The SSL context the state uses for network requests, nil when the
	// state has none
	SSLContext() *ssl.Context
	Next(ctx context.Context) State
}

type baseState struct {
	machine *Machine
	sslctx  *ssl.Context
}

func (s baseState) SSLContext() *ssl.Context {
	return s.sslctx
}

func (s baseState) toError(message string, err error) State {
	return &Error{baseState: baseState{machine: s.machine}, Message: message, Err: err}
}

// NeedLock acquires the ssl lock file, waiting for another process to
// release it when waitforlock allows
type NeedLock struct {
	baseState
}

func (s *NeedLock) Name() string { return "NeedLock" }

func (s *NeedLock) Next(ctx context.Context) State {
	m := s.machine
	locked, err := m.lock.Lock()
	if err != nil {
		return s.toError(err.Error(), err)
	}
	if locked {
		// the ssl directory may have been cleaned while waiting
		return m.needCACerts()
	}
	waitforlock := m.params.WaitForLock
	if waitforlock < time.Second {
		return &LockFailure{baseState: baseState{machine: m},
			Message: "Another puppet instance is already running and the waitforlock setting is set to 0; exiting"}
	}

	// one retry after the first wait, then one per waitforlock until the
	// maxwaitforlock deadline
	attempts := uint(1)
	if remaining := m.waitLockDeadline.Sub(m.now()); remaining > 0 {
		attempts += uint(remaining / waitforlock)
	}
	m.logger.Info("Another puppet instance is already running; waiting for it to finish")
	m.logger.Infof("Will try again in %d seconds.", int(waitforlock.Seconds()))
	if err := m.sleep(ctx, waitforlock); err != nil {
		return s.toError(err.Error(), err)
	}
	err = retry.Do(
		func() error {
			locked, err := m.lock.Lock()
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if !locked {
				return errLockBusy
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(waitforlock),
		retry.DelayType(retry.FixedDelay),
		retry.WithTimer(&sleepTimer{ctx: ctx, sleep: m.sleep}),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			m.logger.Infof("Will try again in %d seconds.", int(waitforlock.Seconds()))
		}),
	)
	if err == nil {
		return m.needCACerts()
	}
	if !errors.Is(err, errLockBusy) {
		return s.toError(err.Error(), err)
	}
	return &LockFailure{baseState: baseState{machine: m},
		Message: "Another puppet instance is already running and the maxwaitforlock timeout has been exceeded; exiting"}
}

// LockFailure is terminal, the lock could not be acquired
type LockFailure struct {
	baseState
	Message string
}

func (s *LockFailure) Name() string                   { return "LockFailure" }
func (s *LockFailure) Next(ctx context.Context) State { return s }

// NeedCACerts loads the CA bundle or downloads it without verifying the
// server. A stale bundle is refreshed.
type NeedCACerts struct {
	baseState
}

func (s *NeedCACerts) Name() string { return "NeedCACerts" }

func (s *NeedCACerts) Next(ctx context.Context) State {
	m := s.machine
	m.logger.Debug("Loading CA certs")

	forceCRLRefresh := false
	cacerts, err := m.certs.LoadCACerts(false)
	if err != nil {
		return s.toError(err.Error(), err)
	}
	var next *ssl.Context
	if cacerts != nil {
		next = m.provider.CreateRootContext(cacerts, nil, ssl.RevocationOff)
		lastUpdate := m.certs.CALastUpdate()
		if needsRefresh(m.now(), lastUpdate, m.params.CARefreshInterval) {
			next, forceCRLRefresh = s.refresh(ctx, next, lastUpdate)
		}
	} else {
		pem, err := m.client.FetchCACerts(ctx, s.sslctx)
		if err != nil {
			return s.toError(err.Error(), err)
		}
		if m.params.CAFingerprint != "" {
			actual, err := m.digest(pem)
			if err != nil {
				return s.toError(err.Error(), err)
			}
			expected := ssl.NormalizeFingerprint(m.params.CAFingerprint)
			if actual != expected {
				message := fmt.Sprintf("CA bundle with digest (%s) %s did not match expected digest %s",
					m.digestName(), actual, expected)
				m.logger.Security(caFingerprintEntry(m.params.Certname, message))
				return s.toError(message, ssl.NewError(ssl.KindTrustFailure, nil, "%s", message))
			}
			m.logger.Infof("Verified CA bundle with digest (%s) %s", m.digestName(), actual)
		}
		if next, err = s.save(pem); err != nil {
			return s.toError(err.Error(), err)
		}
	}
	return &NeedCRLs{baseState: baseState{machine: m, sslctx: next}, ForceRefresh: forceCRLRefresh}
}

// Parses the bundle and builds the next context before persisting it, so
// invalid material is never saved
func (s *NeedCACerts) save(pem []byte) (*ssl.Context, error) {
	m := s.machine
	cacerts, err := ssl.DecodeCertificatesPEM(pem)
	if err != nil {
		return nil, err
	}
	next := m.provider.CreateRootContext(cacerts, nil, ssl.RevocationOff)
	if err := m.certs.SaveCACerts(cacerts); err != nil {
		return nil, err
	}
	return next, nil
}

// Returns the refreshed context and whether the CRL must be refreshed as
// well. Failures keep the existing bundle.
func (s *NeedCACerts) refresh(ctx context.Context, current *ssl.Context, lastUpdate time.Time) (*ssl.Context, bool) {
	m := s.machine
	m.logger.Info("Refreshing CA certificate")

	pem, err := m.client.GetCertificate(ctx, current, fetcher.CAName, lastUpdate)
	if err == nil {
		var next *ssl.Context
		if next, err = s.save(pem); err == nil {
			if digest, err := m.digest(pem); err == nil {
				m.logger.Infof("Refreshed CA certificate: %s", digest)
			}
			if err := m.certs.SetCALastUpdate(m.now()); err != nil {
				m.logger.Error(err)
			}
			return next, true
		}
	}
	switch {
	case fetcher.IsNotModified(err):
		m.logger.Info("CA certificate is unmodified, using existing CA certificate")
	case fetcher.StatusCode(err) != 0:
		m.logger.Infof("Failed to refresh CA certificate, using existing CA certificate: %s", err)
	default:
		m.logger.Warnf("Failed to refresh CA certificate, using existing CA certificate: %s", err)
	}
	return current, false
}

// NeedCRLs loads or downloads the CRL bundle when revocation checking is
// enabled. The download uses the context of NeedCACerts, which does not
// check revocation, since there may not be a CRL yet.
type NeedCRLs struct {
	baseState
	ForceRefresh bool
}

func (s *NeedCRLs) Name() string { return "NeedCRLs" }

func (s *NeedCRLs) Next(ctx context.Context) State {
	m := s.machine
	m.logger.Debug("Loading CRLs")

	revocation := m.params.Revocation
	if revocation == ssl.RevocationOff {
		m.logger.Info("Certificate revocation is disabled, skipping CRL download")
		next := m.provider.CreateRootContext(s.sslctx.CACerts(), []*x509.RevocationList{}, revocation)
		return &NeedKey{baseState: baseState{machine: m, sslctx: next}}
	}

	crls, err := m.certs.LoadCRLs(false)
	if err != nil {
		return s.toError(err.Error(), err)
	}
	var next *ssl.Context
	if crls != nil {
		next = m.provider.CreateRootContext(s.sslctx.CACerts(), crls, revocation)
		lastUpdate := m.certs.CRLLastUpdate()
		if s.ForceRefresh || needsRefresh(m.now(), lastUpdate, m.params.CRLRefreshInterval) {
			next = s.refresh(ctx, next, lastUpdate)
		}
	} else {
		pem, err := m.client.FetchCRLs(ctx, s.sslctx)
		if err == nil {
			next, err = s.save(s.sslctx, pem)
		}
		if err != nil {
			return s.toError(err.Error(), err)
		}
	}
	return &NeedKey{baseState: baseState{machine: m, sslctx: next}}
}

func (s *NeedCRLs) download(ctx context.Context, sslctx *ssl.Context, lastUpdate time.Time) (*ssl.Context, error) {
	m := s.machine
	pem, err := m.client.GetCRL(ctx, sslctx, lastUpdate)
	if err != nil {
		return nil, err
	}
	return s.save(sslctx, pem)
}

// Parses the bundle before persisting it, so invalid CRLs are never saved
func (s *NeedCRLs) save(sslctx *ssl.Context, pem []byte) (*ssl.Context, error) {
	m := s.machine
	crls, err := ssl.DecodeCRLsPEM(pem)
	if err != nil {
		return nil, err
	}
	next := m.provider.CreateRootContext(sslctx.CACerts(), crls, m.params.Revocation)
	if err := m.certs.SaveCRLs(crls); err != nil {
		return nil, err
	}
	if digest, err := m.digest(pem); err == nil {
		m.logger.Infof("Refreshed CRL: %s", digest)
	}
	return next, nil
}

func (s *NeedCRLs) refresh(ctx context.Context, current *ssl.Context, lastUpdate time.Time) *ssl.Context {
	m := s.machine
	m.logger.Info("Refreshing CRL")

	next, err := s.download(ctx, current, lastUpdate)
	if err == nil {
		if err := m.certs.SetCRLLastUpdate(m.now()); err != nil {
			m.logger.Error(err)
		}
		return next
	}
	switch {
	case fetcher.IsNotModified(err):
		m.logger.Info("CRL is unmodified, using existing CRL")
	case fetcher.StatusCode(err) != 0:
		m.logger.Infof("Failed to refresh CRL, using existing CRL: %s", err)
	default:
		m.logger.Warnf("Failed to refresh CRL, using existing CRL: %s", err)
	}
	return current
}

// NeedKey loads the private key, generating and saving one when there is
// none. A key with a matching client certificate completes the bootstrap.
type NeedKey struct {
	baseState
}

func (s *NeedKey) Name() string { return "NeedKey" }

func (s *NeedKey) Next(ctx context.Context) State {
	m := s.machine
	m.logger.Debug("Loading/generating private key")

	certname := m.params.Certname
	password := m.certs.LoadPrivateKeyPassword()
	key, err := m.certs.LoadPrivateKey(certname, false, password)
	if err != nil {
		return s.toError(err.Error(), err)
	}
	if key != nil {
		cert, err := m.certs.LoadClientCert(certname, false)
		if err != nil {
			return s.toError(err.Error(), err)
		}
		if cert != nil {
			next, err := m.provider.CreateContext(
				s.sslctx.CACerts(), s.sslctx.CRLs(), key, cert, m.params.Revocation, false)
			if err != nil {
				return s.toError(err.Error(), err)
			}
			if m.needsRenewal(cert) {
				return &NeedRenewedCert{keyState{baseState: baseState{machine: m, sslctx: next}, key: key}}
			}
			return &Done{baseState: baseState{machine: m, sslctx: next}}
		}
	} else {
		params := m.params.KeyParams
		if strings.EqualFold(params.Type, ssl.KeyTypeEC) {
			m.logger.Infof("Creating a new EC SSL key for %s using curve %s", certname, params.CurveName())
		} else {
			m.logger.Infof("Creating a new RSA SSL key for %s", certname)
		}
		generated, err := ssl.GenerateKey(params)
		if err != nil {
			return s.toError(err.Error(), err)
		}
		if err := m.certs.SavePrivateKey(certname, generated, password); err != nil {
			// a partially written key must not be picked up by the next run
			if _, derr := m.certs.DeletePrivateKey(certname); derr != nil {
				m.logger.Error(derr)
			}
			return s.toError(err.Error(), err)
		}
		key = generated
	}
	return &NeedSubmitCSR{keyState{baseState: baseState{machine: m, sslctx: s.sslctx}, key: key}}
}

type keyState struct {
	baseState
	key crypto.Signer
}

// PrivateKey returns the host key the state holds
func (s keyState) PrivateKey() crypto.Signer {
	return s.key
}

// NeedSubmitCSR creates a request and submits it to the CA. A 400 means
// the CA already has a request or certificate for this host.
type NeedSubmitCSR struct {
	keyState
}

func (s *NeedSubmitCSR) Name() string { return "NeedSubmitCSR" }

func (s *NeedSubmitCSR) Next(ctx context.Context) State {
	m := s.machine
	m.logger.Debug("Generating and submitting a CSR")

	certname := m.params.Certname
	csr, err := m.certs.CreateRequest(certname, s.key, ssl.RequestOptions{
		DNSAltNames: m.params.DNSAltNames,
		Attributes:  m.params.CSRAttributes,
		AutoRenew:   m.params.RenewalInterval > 0,
	})
	if err != nil {
		return s.toError(err.Error(), err)
	}
	next := &NeedCert{s.keyState}
	if err := m.client.PutCertificateRequest(ctx, s.sslctx, certname, csr); err != nil {
		code := fetcher.StatusCode(err)
		switch {
		case code == http.StatusBadRequest:
			return next
		case code != 0:
			return s.toError(fmt.Sprintf("Failed to submit the CSR, HTTP response was %d", code), err)
		default:
			return s.toError(err.Error(), err)
		}
	}
	if err := m.certs.SaveRequest(certname, csr); err != nil {
		return s.toError(err.Error(), err)
	}
	return next
}

// NeedCert downloads the signed certificate and verifies it before
// saving it
type NeedCert struct {
	keyState
}

func (s *NeedCert) Name() string { return "NeedCert" }

func (s *NeedCert) Next(ctx context.Context) State {
	m := s.machine
	m.logger.Debug("Downloading client certificate")

	certname := m.params.Certname
	pem, err := m.client.GetCertificate(ctx, s.sslctx, certname, time.Time{})
	if err != nil {
		switch {
		case fetcher.IsNotFound(err):
			m.logger.Infof("Certificate for %s has not been signed yet", certname)
			m.logger.Infof("Couldn't fetch certificate from CA server; you might still need to sign this agent's certificate (%s).", certname)
			return &Wait{baseState: baseState{machine: m}}
		case fetcher.StatusCode(err) != 0:
			return s.toError(fmt.Sprintf("Failed to retrieve certificate for %s: %s", certname, err), err)
		default:
			return s.toError(err.Error(), err)
		}
	}
	cert, err := ssl.DecodeCertificatePEM(pem)
	if err != nil {
		return s.toError(fmt.Sprintf("Failed to parse certificate: %s", err), err)
	}
	m.logger.Infof("Downloaded certificate for %s from %s", certname, m.client.URL())

	next, err := m.provider.CreateContext(
		s.sslctx.CACerts(), s.sslctx.CRLs(), s.key, cert, m.params.Revocation, false)
	if err != nil {
		return s.toError(err.Error(), err)
	}
	if err := m.certs.SaveClientCert(certname, cert); err != nil {
		return s.toError(err.Error(), err)
	}
	if _, err := m.certs.DeleteRequest(certname); err != nil {
		return s.toError(err.Error(), err)
	}
	return &Done{baseState: baseState{machine: m, sslctx: next}}
}

// NeedRenewedCert asks the CA to renew a client certificate that is close
// to expiring. Failure keeps the current certificate.
type NeedRenewedCert struct {
	keyState
}

func (s *NeedRenewedCert) Name() string { return "NeedRenewedCert" }

func (s *NeedRenewedCert) Next(ctx context.Context) State {
	m := s.machine
	m.logger.Debug("Renewing client certificate")

	done := &Done{baseState: baseState{machine: m, sslctx: s.sslctx}}
	pem, err := m.client.PostCertificateRenewal(ctx, s.sslctx)
	if err != nil {
		var respErr *fetcher.ResponseError
		switch {
		case fetcher.IsNotFound(err):
			m.logger.Info("Certificate autorenewal has not been enabled on the server.")
		case errors.As(err, &respErr):
			m.logger.Warnf("Failed to automatically renew certificate: %d %s", respErr.StatusCode, respErr.Reason)
		default:
			m.logger.Warnf("Unable to automatically renew certificate: %s", err)
		}
		return done
	}

	cert, err := ssl.DecodeCertificatePEM(pem)
	if err == nil {
		var next *ssl.Context
		next, err = m.provider.CreateContext(
			s.sslctx.CACerts(), s.sslctx.CRLs(), s.key, cert, m.params.Revocation, false)
		if err == nil {
			err = m.certs.SaveClientCert(m.params.Certname, cert)
		}
		if err == nil {
			digest, _ := m.digest(ssl.EncodeCertificatePEM(cert))
			m.logger.Infof("Renewed client certificate: %s, not before '%s', not after '%s'",
				digest, cert.NotBefore, cert.NotAfter)
			return &Done{baseState: baseState{machine: m, sslctx: next}}
		}
	}
	m.logger.Warnf("Unable to automatically renew certificate: %s", err)
	return done
}

// Wait sleeps for waitforcert and starts over, or ends the run when
// waiting is disabled or maxwaitforcert has passed
type Wait struct {
	baseState
}

func (s *Wait) Name() string { return "Wait" }

func (s *Wait) Next(ctx context.Context) State {
	m := s.machine
	wait := m.params.WaitForCert
	switch {
	case wait < time.Second:
		return &Exit{baseState: baseState{machine: m},
			Message: "Exiting now because the waitforcert setting is set to 0."}
	case m.params.MaxWaitForCert > 0 && m.now().After(m.waitDeadline):
		return &Exit{baseState: baseState{machine: m},
			Message: fmt.Sprintf("Couldn't fetch certificate from CA server; you might still need to sign "+
				"this agent's certificate (%s). Exiting now because the maxwaitforcert timeout has been exceeded.",
				m.params.Certname)}
	}
	m.logger.Infof("Will try again in %d seconds.", int(wait.Seconds()))
	m.unlock()
	if err := m.sleep(ctx, wait); err != nil {
		return &Exit{baseState: baseState{machine: m}, Message: err.Error()}
	}
	return &NeedLock{baseState: baseState{machine: m}}
}

// Exit is terminal, the run gave up waiting
type Exit struct {
	baseState
	Message string
}

func (s *Exit) Name() string                   { return "Exit" }
func (s *Exit) Next(ctx context.Context) State { return s }

// Error records a failed step. Unless the machine runs once it leads to
// Wait.
type Error struct {
	baseState
	Message string
	Err     error
}

func (s *Error) Name() string { return "Error" }

func (s *Error) Next(ctx context.Context) State {
	s.machine.logger.Error(s.Err, "message", s.Message)
	return &Wait{baseState: baseState{machine: s.machine}}
}

// Done is terminal and holds the verified SSL context
type Done struct {
	baseState
}

func (s *Done) Name() string                   { return "Done" }
func (s *Done) Next(ctx context.Context) State { return s }

func needsRefresh(now, lastUpdate time.Time, interval time.Duration) bool {
	if lastUpdate.IsZero() {
		return true
	}
	if interval <= 0 {
		return false
	}
	return now.After(lastUpdate.Add(interval))
}
