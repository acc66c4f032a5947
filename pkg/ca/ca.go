package ca

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/logging"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/ssl"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/store/blob"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/store/certstore"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/store/lockfile"
	"github.com/spf13/afero"
)

// Name of the CA's own host entry. Its key and certificate live at the
// cakey and cacert paths rather than the per-host directories.
const CAHostName = "ca"

type CAParams struct {
	Logger         *logging.Logger
	Fs             afero.Fs
	Config         Config
	Certname       string
	KeyParams      ssl.KeyParams
	Backdate       time.Duration
	Revocation     ssl.RevocationMode
	Signer         *ssl.Signer
	Now            func() time.Time
	PasswordPrompt func() ([]byte, error)
}

// CertificateAuthority signs host certificates, maintains the CRL and
// keeps the serial counter and inventory. It is constructed explicitly
// and passed to the components that need it.
type CertificateAuthority struct {
	mu        sync.RWMutex
	logger    *logging.Logger
	params    CAParams
	config    Config
	name      string
	blobs     blob.BlobStorer
	hosts     *certstore.CertProvider
	factory   *Factory
	serial    *SerialFile
	inventory *Inventory
	crls      *CRLStore
	provider  *ssl.Provider
	cert      *x509.Certificate
	key       crypto.Signer
}

// SignOptions controls a signing operation
type SignOptions struct {
	AllowDNSAltNames bool
	CertType         CertType
}

func NewCertificateAuthority(params CAParams) (*CertificateAuthority, error) {
	if params.Logger == nil {
		params.Logger = logging.DefaultLogger()
	}
	if params.Fs == nil {
		params.Fs = afero.NewOsFs()
	}
	if params.Signer == nil {
		params.Signer = ssl.NewSigner()
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	config := params.Config.WithDefaults()
	if config.DisableCRL {
		params.Revocation = ssl.RevocationOff
	}

	blobs, err := blob.NewFSBlobStore(params.Logger, params.Fs, "")
	if err != nil {
		return nil, err
	}

	name := config.Name
	if name == "" {
		name = fmt.Sprintf(DefaultCANameFmt, params.Certname)
	}

	factory := NewFactory(params.Backdate, config.TTL)
	factory.Now = params.Now

	ca := &CertificateAuthority{
		logger: params.Logger,
		params: params,
		config: config,
		name:   name,
		blobs:  blobs,
		hosts: certstore.NewCertProvider(certstore.CertProviderParams{
			Logger: params.Logger,
			Blobs:  blobs,
			Signer: params.Signer,
			Paths: certstore.Paths{
				Certname:      CAHostName,
				HostPrivKey:   config.CAKey,
				HostCert:      config.CACert,
				PrivateKeyDir: filepath.Join(config.Dir, "private"),
				CertDir:       config.SignedDir,
				RequestDir:    config.CSRDir,
				PassFile:      config.CAPass,
			},
		}),
		factory: factory,
		serial: NewSerialFile(blobs, config.Serial,
			lockfile.NewPidLock(params.Fs, config.Serial+".lock")),
		inventory: NewInventory(blobs, config.Inventory),
		crls: NewCRLStore(blobs, config.CACRL,
			lockfile.NewPidLock(params.Fs, config.CACRL+".lock"),
			params.Signer, config.CRLTTL, params.Now),
		provider: ssl.NewProvider(ssl.ProviderParams{
			Logger: params.Logger,
			Fs:     params.Fs,
			Now:    params.Now,
		}),
	}
	return ca, nil
}

// Name returns the common name of the CA certificate
func (ca *CertificateAuthority) Name() string {
	return ca.name
}

func (ca *CertificateAuthority) Config() Config {
	return ca.config
}

// Initialized reports whether the CA key and certificate exist
func (ca *CertificateAuthority) Initialized() bool {
	return ca.blobs.Exists(ca.config.CACert) && ca.blobs.Exists(ca.config.CAKey)
}

// Setup loads the CA key and certificate, generating them along with the
// key password and an empty CRL on first use
func (ca *CertificateAuthority) Setup() error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	if ca.Initialized() {
		return ca.load()
	}

	password, err := ca.loadPassword()
	if err != nil {
		return err
	}
	if password == nil {
		if password, err = ca.generatePassword(); err != nil {
			ca.logger.Error(err)
			return err
		}
	}

	ca.logger.Infof("Creating a new SSL key for %s (%s)", CAHostName, ca.params.KeyParams)
	key, err := ssl.GenerateKey(ca.params.KeyParams)
	if err != nil {
		ca.logger.Error(err)
		return err
	}

	// the self-signed request is never written to the request directory
	csr, err := ssl.CreateRequest(ca.params.Signer, ca.name, key, ssl.RequestOptions{})
	if err != nil {
		ca.logger.Error(err)
		return err
	}
	template, err := ca.factory.Build(CertTypeCA, csr, nil, big.NewInt(0))
	if err != nil {
		ca.logger.Error(err)
		return err
	}
	cert, err := ca.params.Signer.SignCertificate(template, template, csr.PublicKey, key)
	if err != nil {
		ca.logger.Error(err)
		return err
	}

	if err := ca.hosts.SavePrivateKey(CAHostName, key, password); err != nil {
		ca.logger.Error(err)
		return err
	}
	if err := ca.hosts.SaveClientCert(CAHostName, cert); err != nil {
		ca.logger.Error(err)
		return err
	}
	if err := ca.inventory.Add(cert); err != nil {
		ca.logger.Error(err)
		return err
	}
	ca.cert, ca.key = cert, key
	ca.logger.Infof("Signed certificate request for %s", CAHostName)

	if !ca.config.DisableCRL {
		if _, err := ca.crls.Init(cert, key); err != nil {
			ca.logger.Error(err)
			return err
		}
	}
	return nil
}

func (ca *CertificateAuthority) load() error {
	password, err := ca.loadPassword()
	if err != nil {
		return err
	}
	key, err := ca.hosts.LoadPrivateKey(CAHostName, true, password)
	if err != nil {
		ca.logger.Error(err)
		return err
	}
	cert, err := ca.hosts.LoadClientCert(CAHostName, true)
	if err != nil {
		ca.logger.Error(err)
		return err
	}
	if !ssl.KeyMatches(cert.PublicKey, key) {
		return ssl.NewError(ssl.KindMismatch, nil,
			"The certificate for '%s' does not match its private key", ssl.Subject(cert))
	}
	ca.cert, ca.key = cert, key
	if !ca.config.DisableCRL {
		if _, err := ca.crls.Init(cert, key); err != nil {
			ca.logger.Error(err)
			return err
		}
	}
	return nil
}

// Reads the capass file, falling back to the password prompt when the
// file does not exist and the key is encrypted
func (ca *CertificateAuthority) loadPassword() ([]byte, error) {
	if password := ca.hosts.LoadPrivateKeyPassword(); password != nil {
		return password, nil
	}
	if ca.params.PasswordPrompt == nil || !ca.blobs.Exists(ca.config.CAKey) {
		return nil, nil
	}
	data, err := ca.blobs.Load(ca.config.CAKey)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(string(data), ssl.PEMTypeEncryptedPrivateKey) {
		return nil, nil
	}
	return ca.params.PasswordPrompt()
}

// Writes a random 20 character password to the capass file
func (ca *CertificateAuthority) generatePassword() ([]byte, error) {
	buf := make([]byte, DefaultCAPassSize)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	for i, b := range buf {
		buf[i] = byte(48 + int(b)%74)
	}
	if err := ca.blobs.Save(ca.config.CAPass, buf, blob.PERM_PRIVATE); err != nil {
		return nil, fmt.Errorf("Could not write CA password: %w", err)
	}
	return buf, nil
}

func (ca *CertificateAuthority) identity() (*x509.Certificate, crypto.Signer, error) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	if ca.cert == nil || ca.key == nil {
		return nil, nil, &ArgumentError{
			Message: "The CA certificate is unavailable, run setup first",
			Err:     ErrNotInitialized,
		}
	}
	return ca.cert, ca.key, nil
}

// CACertificate returns the CA's own certificate
func (ca *CertificateAuthority) CACertificate() (*x509.Certificate, error) {
	cert, _, err := ca.identity()
	return cert, err
}

// CACertificates returns the bundle served to agents
func (ca *CertificateAuthority) CACertificates() ([]*x509.Certificate, error) {
	cert, err := ca.CACertificate()
	if err != nil {
		return nil, err
	}
	return []*x509.Certificate{cert}, nil
}

// CRL returns the current revocation list, or nil when CRLs are disabled
func (ca *CertificateAuthority) CRL() (*x509.RevocationList, error) {
	if ca.config.DisableCRL {
		return nil, nil
	}
	return ca.crls.Load()
}

// CACertModTime returns when the CA certificate was last written
func (ca *CertificateAuthority) CACertModTime() (time.Time, error) {
	return ca.blobs.ModTime(ca.config.CACert)
}

// CRLModTime returns when the CRL was last written
func (ca *CertificateAuthority) CRLModTime() (time.Time, error) {
	return ca.blobs.ModTime(ca.config.CACRL)
}

// Certificate returns the signed certificate of name, or nil
func (ca *CertificateAuthority) Certificate(name string) (*x509.Certificate, error) {
	return ca.hosts.LoadClientCert(strings.ToLower(name), false)
}

// Request returns the pending request of name, or nil
func (ca *CertificateAuthority) Request(name string) (*x509.CertificateRequest, error) {
	return ca.hosts.LoadRequest(strings.ToLower(name))
}

// SaveRequest stores a submitted request and autosigns it when the policy
// allows. A host that already has a certificate or a pending request is
// refused.
func (ca *CertificateAuthority) SaveRequest(name string, csr *x509.CertificateRequest) error {
	name = strings.ToLower(name)
	if err := ssl.ValidateCertname(name); err != nil {
		return &ArgumentError{Message: err.Error()}
	}
	if requested := strings.ToLower(ssl.RequestName(csr)); requested != name {
		return argumentError("Instance name \"%s\" does not match requested key \"%s\"", requested, name)
	}
	if err := csr.CheckSignature(); err != nil {
		return argumentError("The CSR for host '%s' has an invalid signature", name)
	}
	if cert, err := ca.Certificate(name); err != nil {
		return err
	} else if cert != nil {
		return argumentError("%s already has a signed certificate; ignoring certificate request", name)
	}
	if pending, err := ca.Request(name); err != nil {
		return err
	} else if pending != nil {
		return argumentError("%s already has a requested certificate; ignoring certificate request", name)
	}
	if err := ca.hosts.SaveRequest(name, csr); err != nil {
		ca.logger.Error(err)
		return err
	}
	ca.logger.Infof("%s has a waiting certificate request", name)

	policy, err := LoadAutosignPolicy(ca.blobs, ca.config.Autosign)
	if err != nil {
		ca.logger.Error(err)
		return err
	}
	if policy.Allowed(name) {
		if _, err := ca.Sign(name, SignOptions{}); err != nil {
			ca.logger.MaybeError(err)
		}
	}
	return nil
}

// Sign signs the pending request of name with the CA key, records the
// certificate in the inventory, saves it and removes the request
func (ca *CertificateAuthority) Sign(name string, opts SignOptions) (*x509.Certificate, error) {
	name = strings.ToLower(name)
	caCert, caKey, err := ca.identity()
	if err != nil {
		return nil, err
	}
	csr, err := ca.Request(name)
	if err != nil {
		return nil, err
	}
	if csr == nil {
		return nil, argumentError("Could not find certificate request for %s", name)
	}
	allowAltNames := opts.AllowDNSAltNames || ca.config.AllowSubjectAltNames ||
		name == strings.ToLower(ca.params.Certname)
	if err := CheckSigningPolicy(name, csr, allowAltNames); err != nil {
		ca.logger.Error(err)
		return nil, err
	}
	certType := opts.CertType
	if certType == "" {
		certType = CertTypeServer
	}
	cert, err := ca.issue(certType, csr, caCert, caKey)
	if err != nil {
		return nil, err
	}
	ca.logger.Infof("Signed certificate request for %s", name)

	if err := ca.hosts.SaveClientCert(name, cert); err != nil {
		ca.logger.Error(err)
		return nil, err
	}
	if _, err := ca.hosts.DeleteRequest(name); err != nil {
		ca.logger.Error(err)
		return nil, err
	}
	return cert, nil
}

// Allocates a serial, builds and signs the certificate and adds it to the
// inventory before it is saved anywhere else
func (ca *CertificateAuthority) issue(
	certType CertType,
	csr *x509.CertificateRequest,
	caCert *x509.Certificate,
	caKey crypto.Signer) (*x509.Certificate, error) {

	serial, err := ca.serial.Next()
	if err != nil {
		ca.logger.Error(err)
		return nil, err
	}
	template, err := ca.factory.Build(certType, csr, caCert, serial)
	if err != nil {
		ca.logger.Error(err)
		return nil, err
	}
	cert, err := ca.params.Signer.SignCertificate(template, caCert, csr.PublicKey, caKey)
	if err != nil {
		ca.logger.Error(err)
		return nil, err
	}
	if err := ca.inventory.Add(cert); err != nil {
		ca.logger.Error(err)
		return nil, err
	}
	return cert, nil
}

// Autosign signs every pending request allowed by the autosign policy.
// Requests that are not allowed, or that violate the signing policy, stay
// pending. The names that were signed are returned.
func (ca *CertificateAuthority) Autosign() ([]string, error) {
	policy, err := LoadAutosignPolicy(ca.blobs, ca.config.Autosign)
	if err != nil {
		return nil, err
	}
	if !policy.Enabled() {
		return []string{}, nil
	}
	waiting, err := ca.Waiting()
	if err != nil {
		return nil, err
	}
	signed := []string{}
	for _, name := range waiting {
		if !policy.Allowed(name) {
			continue
		}
		if _, err := ca.Sign(name, SignOptions{}); err != nil {
			ca.logger.MaybeError(err)
			continue
		}
		signed = append(signed, name)
	}
	return signed, nil
}

// Revoke adds the certificate of name to the CRL. The serial comes from the
// signed certificate when it is still on disk, otherwise from the
// inventory.
func (ca *CertificateAuthority) Revoke(name string) error {
	if ca.config.DisableCRL {
		return argumentError("Cannot revoke certificates when the CRL is disabled")
	}
	caCert, caKey, err := ca.identity()
	if err != nil {
		return err
	}
	name = strings.ToLower(name)

	var serial *big.Int
	cert, err := ca.Certificate(name)
	if err != nil {
		return err
	}
	if cert != nil {
		serial = cert.SerialNumber
	} else if serial, err = ca.inventory.Serial(name); err != nil {
		return err
	}
	if serial == nil {
		return argumentError("Could not find a serial number for %s", name)
	}

	if _, err := ca.crls.Revoke(caCert, caKey, serial, ReasonKeyCompromise); err != nil {
		ca.logger.Error(err)
		return err
	}
	ca.logger.Infof("Revoked certificate with serial %s", FormatSerial(serial))
	ca.logger.Security(logging.SecurityLogEntry{
		Severity:    logging.SeverityMedium,
		Category:    logging.CategoryAuthorization,
		Description: "certificate revoked",
		Details:     "serial " + FormatSerial(serial),
		Source:      logging.SourceCA,
		Subject:     name,
	})
	return nil
}

// Generate creates a key, a request and a signed certificate for name in
// one step. The key is returned to the caller, the CA does not keep it.
func (ca *CertificateAuthority) Generate(
	name string,
	dnsAltNames []string) (*x509.Certificate, crypto.Signer, error) {

	name = strings.ToLower(name)
	if cert, err := ca.Certificate(name); err != nil {
		return nil, nil, err
	} else if cert != nil {
		return nil, nil, argumentError("A Certificate already exists for %s", name)
	}
	key, err := ssl.GenerateKey(ca.params.KeyParams)
	if err != nil {
		return nil, nil, err
	}
	csr, err := ssl.CreateRequest(ca.params.Signer, name, key, ssl.RequestOptions{
		DNSAltNames: dnsAltNames,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := ca.hosts.SaveRequest(name, csr); err != nil {
		return nil, nil, err
	}
	cert, err := ca.Sign(name, SignOptions{AllowDNSAltNames: len(dnsAltNames) > 0})
	if err != nil {
		return nil, nil, err
	}
	return cert, key, nil
}

// Renew issues a new certificate for the subject and public key of a
// certificate this CA signed earlier
func (ca *CertificateAuthority) Renew(current *x509.Certificate) (*x509.Certificate, error) {
	caCert, caKey, err := ca.identity()
	if err != nil {
		return nil, err
	}
	if err := current.CheckSignatureFrom(caCert); err != nil {
		return nil, argumentError("The certificate for '%s' was not issued by this CA", ssl.Subject(current))
	}
	name := ssl.Name(current)
	if err := ca.verifyClient(caCert, current); err != nil {
		ca.logger.Security(logging.SecurityLogEntry{
			Severity:    logging.SeverityHigh,
			Category:    logging.CategoryAuthentication,
			Description: "renewal refused",
			Details:     err.Error(),
			Source:      logging.SourceCA,
			Subject:     name,
		})
		return nil, err
	}
	csr := &x509.CertificateRequest{
		Subject:    current.Subject,
		RawSubject: current.RawSubject,
		PublicKey:  current.PublicKey,
		Extensions: current.Extensions,
	}
	cert, err := ca.issue(CertTypeServer, csr, caCert, caKey)
	if err != nil {
		return nil, err
	}
	if err := ca.hosts.SaveClientCert(name, cert); err != nil {
		ca.logger.Error(err)
		return nil, err
	}
	ca.logger.Infof("Renewed certificate for %s", name)
	return cert, nil
}

// VerifyClient checks a client certificate presented to the CA service
// against the CA certificate and, unless the CRL is disabled, the CA's
// own CRL
func (ca *CertificateAuthority) VerifyClient(cert *x509.Certificate) error {
	caCert, err := ca.CACertificate()
	if err != nil {
		return err
	}
	return ca.verifyClient(caCert, cert)
}

func (ca *CertificateAuthority) verifyClient(caCert, current *x509.Certificate) error {
	revocation := ssl.RevocationLeaf
	crls := []*x509.RevocationList{}
	if ca.config.DisableCRL {
		revocation = ssl.RevocationOff
	} else {
		crl, err := ca.crls.Load()
		if err != nil {
			return err
		}
		if crl != nil {
			crls = append(crls, crl)
		}
	}
	_, err := ca.provider.VerifyCertificate([]*x509.Certificate{caCert}, crls, current, revocation)
	return err
}

// List returns the names of all signed certificates
func (ca *CertificateAuthority) List() ([]string, error) {
	return ca.names(ca.config.SignedDir)
}

// Waiting returns the names of all pending requests
func (ca *CertificateAuthority) Waiting() ([]string, error) {
	return ca.names(ca.config.CSRDir)
}

func (ca *CertificateAuthority) names(dir string) ([]string, error) {
	keys, err := ca.blobs.List(dir, certstore.FSEXT_PEM)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(keys))
	for i, key := range keys {
		names[i] = strings.TrimSuffix(filepath.Base(key), certstore.FSEXT_PEM)
	}
	return names, nil
}

// Verify checks the certificate of name against the CA certificate and CRL
func (ca *CertificateAuthority) Verify(name string) error {
	cert, err := ca.Certificate(name)
	if err != nil {
		return err
	}
	if cert == nil {
		return argumentError("Could not find a certificate for %s", name)
	}
	cacerts, err := ca.CACertificates()
	if err != nil {
		return err
	}
	crls := []*x509.RevocationList{}
	crl, err := ca.CRL()
	if err != nil {
		return err
	}
	if crl != nil {
		crls = append(crls, crl)
	}
	_, err = ca.provider.VerifyCertificate(cacerts, crls, cert, ca.params.Revocation)
	return err
}

// Fingerprint returns the digest of the certificate of name, or of its
// pending request when it is not signed yet
func (ca *CertificateAuthority) Fingerprint(name, digest string) (string, error) {
	cert, err := ca.Certificate(name)
	if err != nil {
		return "", err
	}
	if cert != nil {
		return ssl.Fingerprint(cert, digest)
	}
	csr, err := ca.Request(name)
	if err != nil {
		return "", err
	}
	if csr == nil {
		return "", argumentError("Could not find a certificate or csr for %s", name)
	}
	return ssl.Digest(digest, csr.Raw)
}

// Destroy removes the signed certificate and pending request of name. It
// returns false if neither existed.
func (ca *CertificateAuthority) Destroy(name string) (bool, error) {
	name = strings.ToLower(name)
	removedCert, err := ca.hosts.DeleteClientCert(name)
	if err != nil {
		return false, err
	}
	removedCSR, err := ca.hosts.DeleteRequest(name)
	if err != nil {
		return false, err
	}
	if removedCert || removedCSR {
		ca.logger.Infof("Removed certificate files for %s", name)
	}
	return removedCert || removedCSR, nil
}

// IsArgumentError reports whether err is an argument error
func IsArgumentError(err error) bool {
	var argErr *ArgumentError
	return errors.As(err, &argErr)
}

// IsSigningError reports whether err is a signing policy violation
func IsSigningError(err error) bool {
	var signErr *SigningError
	return errors.As(err, &signErr)
}
