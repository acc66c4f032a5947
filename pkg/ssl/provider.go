package ssl

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"log/slog"
	"time"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/logging"
	"github.com/samber/lo"
	"github.com/spf13/afero"
)

// TrustStore loads the persisted SSL material of the local host. When
// required is false a missing artifact yields a nil value and no error.
type TrustStore interface {
	LoadCACerts(required bool) ([]*x509.Certificate, error)
	LoadCRLs(required bool) ([]*x509.RevocationList, error)
	LoadPrivateKey(name string, required bool, password []byte) (crypto.Signer, error)
	LoadClientCert(name string, required bool) (*x509.Certificate, error)
}

type ProviderParams struct {
	Logger   *logging.Logger
	Fs       afero.Fs
	Store    TrustStore
	Certname string
	Now      func() time.Time
}

// Provider builds SSL contexts. Every context it returns is either fully
// verified or not returned at all.
type Provider struct {
	params ProviderParams
	logger *logging.Logger
}

func NewProvider(params ProviderParams) *Provider {
	if params.Logger == nil {
		params.Logger = logging.DefaultLogger()
	}
	if params.Fs == nil {
		params.Fs = afero.NewOsFs()
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &Provider{
		params: params,
		logger: params.Logger,
	}
}

// CreateInsecureContext returns a context that does not verify the peer.
// It is only used to download the CA bundle during bootstrap.
func (p *Provider) CreateInsecureContext() *Context {
	return &Context{
		cacerts:    []*x509.Certificate{},
		crls:       []*x509.RevocationList{},
		revocation: RevocationOff,
		verifyPeer: false,
	}
}

// CreateRootContext returns a context that trusts cacerts without a client
// identity. Expired certs and CRLs are accepted here, they are only checked
// when a chain is verified.
func (p *Provider) CreateRootContext(
	cacerts []*x509.Certificate,
	crls []*x509.RevocationList,
	revocation RevocationMode) *Context {

	return &Context{
		cacerts:    cloneCerts(cacerts),
		crls:       cloneCRLs(crls),
		revocation: revocation,
		verifyPeer: true,
	}
}

// CreateSystemContext returns a context trusting cacerts, the operating
// system trust store and the PEM bundle at path. When includeClientCert is
// set the host's key and certificate are attached if both can be loaded.
func (p *Provider) CreateSystemContext(
	cacerts []*x509.Certificate,
	path string,
	includeClientCert bool) (*Context, error) {

	pool, err := x509.SystemCertPool()
	if err != nil {
		p.logger.Warnf("Failed to load the system trust store: %s", err)
		pool = x509.NewCertPool()
	}
	if path != "" {
		p.addTrustStore(pool, path)
	}

	ctx := &Context{
		cacerts:    cloneCerts(cacerts),
		crls:       []*x509.RevocationList{},
		revocation: RevocationOff,
		verifyPeer: true,
		systemPool: pool,
	}
	if !includeClientCert {
		return ctx, nil
	}

	certname := p.params.Certname
	key, err := p.params.Store.LoadPrivateKey(certname, false, nil)
	if err != nil {
		p.logger.Warnf("Failed to load private key for host '%s': %s", certname, err)
		key = nil
	}
	if key == nil {
		p.logger.Warnf("Private key for '%s' does not exist", certname)
	}
	cert, err := p.params.Store.LoadClientCert(certname, false)
	if err != nil {
		p.logger.Warnf("Failed to load client certificate for '%s': %s", certname, err)
		cert = nil
	}
	if cert == nil {
		p.logger.Warnf("Client certificate for '%s' does not exist", certname)
	}
	if key == nil || cert == nil {
		return ctx, nil
	}

	verifier := &chainVerifier{
		trusted:    ctx.cacerts,
		revocation: RevocationOff,
		now:        p.params.Now(),
	}
	chain, err := p.resolveClientChain(verifier, cert, key)
	if err != nil {
		return nil, err
	}
	ctx.privateKey = key
	ctx.clientCert = cert
	ctx.clientChain = chain
	return ctx, nil
}

func (p *Provider) addTrustStore(pool *x509.CertPool, path string) {
	info, err := p.params.Fs.Stat(path)
	if err != nil {
		return
	}
	if !info.Mode().IsRegular() {
		p.logger.Warnf("The 'ssl_trust_store' setting does not refer to a file and will be ignored: '%s'", path)
		return
	}
	if info.Size() == 0 {
		return
	}
	data, err := afero.ReadFile(p.params.Fs, path)
	if err == nil && !pool.AppendCertsFromPEM(data) {
		err = ErrInvalidEncodingPEM
	}
	if err != nil {
		p.logger.Errorf("Failed to add '%s' as a trusted CA file: %s", path, err)
	}
}

// CreateContext verifies the client certificate chain and returns the
// resulting context. Any verification failure is returned as an error.
func (p *Provider) CreateContext(
	cacerts []*x509.Certificate,
	crls []*x509.RevocationList,
	key crypto.Signer,
	cert *x509.Certificate,
	revocation RevocationMode,
	includeSystemStore bool) (*Context, error) {

	switch {
	case cacerts == nil:
		return nil, ErrCACertsMissing
	case crls == nil:
		return nil, ErrCRLsMissing
	case key == nil:
		return nil, ErrPrivateKeyMissing
	case cert == nil:
		return nil, ErrClientCertMissing
	}

	ctx := &Context{
		cacerts:    cloneCerts(cacerts),
		crls:       cloneCRLs(crls),
		revocation: revocation,
		verifyPeer: true,
		privateKey: key,
		clientCert: cert,
	}
	if includeSystemStore {
		pool, err := x509.SystemCertPool()
		if err != nil {
			p.logger.Warnf("Failed to load the system trust store: %s", err)
			pool = x509.NewCertPool()
		}
		ctx.systemPool = pool
	}

	verifier := &chainVerifier{
		trusted:    ctx.cacerts,
		crls:       ctx.crls,
		revocation: revocation,
		now:        p.params.Now(),
	}
	chain, err := p.resolveClientChain(verifier, cert, key)
	if err != nil {
		return nil, err
	}
	ctx.clientChain = chain
	return ctx, nil
}

// LoadContext reads the CA bundle, CRLs, private key and client
// certificate of certname from the trust store and verifies them
func (p *Provider) LoadContext(certname string, revocation RevocationMode, password []byte) (*Context, error) {
	if certname == "" {
		certname = p.params.Certname
	}
	store := p.params.Store
	cacerts, err := store.LoadCACerts(true)
	if err != nil {
		return nil, err
	}
	crls := []*x509.RevocationList{}
	if revocation != RevocationOff {
		if crls, err = store.LoadCRLs(true); err != nil {
			return nil, err
		}
	}
	key, err := store.LoadPrivateKey(certname, true, password)
	if err != nil {
		if IsKind(err, KindParseFailure) {
			return nil, NewError(KindParseFailure, err,
				"Failed to load private key for host '%s': %s", certname, err)
		}
		return nil, err
	}
	cert, err := store.LoadClientCert(certname, true)
	if err != nil {
		return nil, err
	}
	return p.CreateContext(cacerts, crls, key, cert, revocation, false)
}

// VerifyCertificate resolves and checks the chain of cert against the CA
// certificates and CRLs. Unlike CreateContext a missing intermediate is an
// error. The chain is returned leaf first.
func (p *Provider) VerifyCertificate(
	cacerts []*x509.Certificate,
	crls []*x509.RevocationList,
	cert *x509.Certificate,
	revocation RevocationMode) ([]*x509.Certificate, error) {

	verifier := &chainVerifier{
		trusted:    cacerts,
		crls:       crls,
		revocation: revocation,
		now:        p.params.Now(),
	}
	chain, err := verifier.verify(cert)
	if err != nil {
		return nil, err
	}
	return chain, nil
}

// VerifyRequest checks the CSR signature against the public key
func (p *Provider) VerifyRequest(csr *x509.CertificateRequest, pub crypto.PublicKey) (*x509.CertificateRequest, error) {
	if err := VerifyRequest(csr, pub); err != nil {
		return nil, err
	}
	return csr, nil
}

// Print logs the verified chain from the root down to the client
// certificate, followed by the CRLs in use
func (p *Provider) Print(ctx *Context, digest string) {
	if !p.logger.Enabled(slog.LevelDebug) {
		return
	}
	if digest == "" {
		digest = DefaultDigest
	}
	chain := lo.Reverse(ctx.ClientChain())
	for i, cert := range chain {
		fingerprint, err := Fingerprint(cert, digest)
		if err != nil {
			p.logger.Error(err)
			return
		}
		if i == len(chain)-1 {
			p.logger.Debugf("Verified client certificate '%s' fingerprint %s", Subject(cert), fingerprint)
		} else {
			p.logger.Debugf("Verified CA certificate '%s' fingerprint %s", Subject(cert), fingerprint)
		}
	}
	for _, crl := range ctx.crls {
		number := "unknown"
		if crl.Number != nil {
			number = crl.Number.String()
		}
		authKeyID := "unknown"
		if len(crl.AuthorityKeyId) > 0 {
			authKeyID = FormatFingerprint(crl.AuthorityKeyId)
		}
		p.logger.Debugf("Using CRL '%s' authorityKeyIdentifier '%s' crlNumber '%s'",
			crl.Issuer.String(), authKeyID, number)
	}
}

func (p *Provider) resolveClientChain(
	verifier *chainVerifier,
	cert *x509.Certificate,
	key crypto.Signer) ([]*x509.Certificate, error) {

	switch key.(type) {
	case *rsa.PrivateKey, *ecdsa.PrivateKey:
	default:
		return nil, newError(KindArgument, "Unsupported key '%T'", key)
	}
	if !KeyMatches(cert.PublicKey, key) {
		return nil, newError(KindMismatch, "The certificate for '%s' does not match its private key",
			Subject(cert))
	}

	chain, err := verifier.verify(cert)
	if err == nil {
		return chain, nil
	}
	if err.Code == VerifyUnableToGetIssuerLocally {
		p.logger.Warn(err.Message)
		return chain, nil
	}
	return nil, err
}

func cloneCerts(certs []*x509.Certificate) []*x509.Certificate {
	if certs == nil {
		return []*x509.Certificate{}
	}
	return append([]*x509.Certificate{}, certs...)
}

func cloneCRLs(crls []*x509.RevocationList) []*x509.RevocationList {
	if crls == nil {
		return []*x509.RevocationList{}
	}
	return append([]*x509.RevocationList{}, crls...)
}
