package certstore

import (
	"crypto"
	"crypto/x509"
	"errors"
	"strings"
	"time"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/logging"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/ssl"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/store/blob"
)

type CertProviderParams struct {
	Logger *logging.Logger
	Blobs  blob.BlobStorer
	Paths  Paths
	Signer *ssl.Signer
}

// CertProvider reads and writes the agent's SSL artifacts: the CA bundle,
// the CRL bundle, private keys, client certificates and pending requests.
type CertProvider struct {
	logger *logging.Logger
	blobs  blob.BlobStorer
	paths  Paths
	signer *ssl.Signer
}

func NewCertProvider(params CertProviderParams) *CertProvider {
	if params.Logger == nil {
		params.Logger = logging.DiscardLogger()
	}
	if params.Signer == nil {
		params.Signer = ssl.NewSigner()
	}
	return &CertProvider{
		logger: params.Logger,
		blobs:  params.Blobs,
		paths:  params.Paths,
		signer: params.Signer,
	}
}

func (cp *CertProvider) Paths() Paths {
	return cp.paths
}

// Loads a PEM file. A missing file returns nil data and no error.
func (cp *CertProvider) loadPEM(path string) ([]byte, error) {
	data, err := cp.blobs.Load(path)
	if err != nil {
		if errors.Is(err, blob.ErrBlobNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (cp *CertProvider) LoadCACerts(required bool) ([]*x509.Certificate, error) {
	data, err := cp.loadPEM(cp.paths.LocalCACert)
	if err != nil {
		return nil, ssl.NewError(ssl.KindParseFailure, err,
			"Failed to load CA certificates from '%s'", cp.paths.LocalCACert)
	}
	if data == nil {
		if required {
			return nil, ssl.NewError(ssl.KindMissingLocally, nil,
				"The CA certificates are missing from '%s'", cp.paths.LocalCACert)
		}
		return nil, nil
	}
	return ssl.DecodeCertificatesPEM(data)
}

func (cp *CertProvider) SaveCACerts(certs []*x509.Certificate) error {
	if err := cp.blobs.Save(cp.paths.LocalCACert, ssl.EncodeCertificatesPEM(certs), blob.PERM_PUBLIC); err != nil {
		return ssl.NewError(ssl.KindUnknown, err,
			"Failed to save CA certificates to '%s'", cp.paths.LocalCACert)
	}
	return nil
}

func (cp *CertProvider) DeleteCACerts() (bool, error) {
	return cp.delete(cp.paths.LocalCACert)
}

func (cp *CertProvider) LoadCRLs(required bool) ([]*x509.RevocationList, error) {
	data, err := cp.loadPEM(cp.paths.HostCRL)
	if err != nil {
		return nil, ssl.NewError(ssl.KindParseFailure, err,
			"Failed to load CRLs from '%s'", cp.paths.HostCRL)
	}
	if data == nil {
		if required {
			return nil, ssl.NewError(ssl.KindMissingLocally, nil,
				"The CRL is missing from '%s'", cp.paths.HostCRL)
		}
		return nil, nil
	}
	return ssl.DecodeCRLsPEM(data)
}

func (cp *CertProvider) SaveCRLs(crls []*x509.RevocationList) error {
	if err := cp.blobs.Save(cp.paths.HostCRL, ssl.EncodeCRLsPEM(crls), blob.PERM_PUBLIC); err != nil {
		return ssl.NewError(ssl.KindUnknown, err,
			"Failed to save CRLs to '%s'", cp.paths.HostCRL)
	}
	return nil
}

func (cp *CertProvider) DeleteCRLs() (bool, error) {
	return cp.delete(cp.paths.HostCRL)
}

// Returns the time the CA bundle was last written or refreshed. The zero
// time is returned when the bundle does not exist.
func (cp *CertProvider) CALastUpdate() time.Time {
	return cp.modTime(cp.paths.LocalCACert)
}

func (cp *CertProvider) SetCALastUpdate(t time.Time) error {
	return cp.blobs.Touch(cp.paths.LocalCACert, t)
}

func (cp *CertProvider) CRLLastUpdate() time.Time {
	return cp.modTime(cp.paths.HostCRL)
}

func (cp *CertProvider) SetCRLLastUpdate(t time.Time) error {
	return cp.blobs.Touch(cp.paths.HostCRL, t)
}

func (cp *CertProvider) modTime(path string) time.Time {
	mtime, err := cp.blobs.ModTime(path)
	if err != nil {
		return time.Time{}
	}
	return mtime
}

func (cp *CertProvider) LoadPrivateKey(name string, required bool, password []byte) (crypto.Signer, error) {
	path, err := cp.paths.PrivateKey(name)
	if err != nil {
		return nil, err
	}
	data, err := cp.loadPEM(path)
	if err != nil {
		return nil, err
	}
	if data == nil {
		if required {
			return nil, ssl.NewError(ssl.KindMissingLocally, ErrKeyNotFound,
				"The private key is missing from '%s'", path)
		}
		return nil, nil
	}
	return ssl.DecodePrivateKeyPEM(data, password)
}

// Saves the private key, encrypted with PKCS #8 when password is set
func (cp *CertProvider) SavePrivateKey(name string, key crypto.Signer, password []byte) error {
	path, err := cp.paths.PrivateKey(name)
	if err != nil {
		return err
	}
	data, err := ssl.EncodePrivateKeyPEM(key, password)
	if err == nil {
		err = cp.blobs.Save(path, data, blob.PERM_PRIVATE)
	}
	if err != nil {
		return ssl.NewError(ssl.KindUnknown, err, "Failed to save private key for '%s'", name)
	}
	return nil
}

func (cp *CertProvider) DeletePrivateKey(name string) (bool, error) {
	path, err := cp.paths.PrivateKey(name)
	if err != nil {
		return false, err
	}
	return cp.delete(path)
}

// Returns the private key password from the passfile, or nil when the
// passfile does not exist
func (cp *CertProvider) LoadPrivateKeyPassword() []byte {
	if cp.paths.PassFile == "" {
		return nil
	}
	data, err := cp.blobs.Load(cp.paths.PassFile)
	if err != nil {
		return nil
	}
	return []byte(strings.TrimRight(string(data), "\r\n"))
}

func (cp *CertProvider) LoadClientCert(name string, required bool) (*x509.Certificate, error) {
	path, err := cp.paths.ClientCert(name)
	if err != nil {
		return nil, err
	}
	data, err := cp.loadPEM(path)
	if err != nil {
		return nil, err
	}
	if data == nil {
		if required {
			return nil, ssl.NewError(ssl.KindMissingLocally, ErrCertNotFound,
				"The client certificate is missing from '%s'", path)
		}
		return nil, nil
	}
	return ssl.DecodeCertificatePEM(data)
}

func (cp *CertProvider) SaveClientCert(name string, cert *x509.Certificate) error {
	path, err := cp.paths.ClientCert(name)
	if err != nil {
		return err
	}
	if err := cp.blobs.Save(path, ssl.EncodeCertificatePEM(cert), blob.PERM_PUBLIC); err != nil {
		return ssl.NewError(ssl.KindUnknown, err, "Failed to save client certificate for '%s'", name)
	}
	return nil
}

func (cp *CertProvider) DeleteClientCert(name string) (bool, error) {
	path, err := cp.paths.ClientCert(name)
	if err != nil {
		return false, err
	}
	return cp.delete(path)
}

// Returns the pending request for name, or nil if none was saved
func (cp *CertProvider) LoadRequest(name string) (*x509.CertificateRequest, error) {
	path, err := cp.paths.Request(name)
	if err != nil {
		return nil, err
	}
	data, err := cp.loadPEM(path)
	if err != nil {
		return nil, ssl.NewError(ssl.KindUnknown, err, "Failed to load certificate request for '%s'", name)
	}
	if data == nil {
		return nil, nil
	}
	return ssl.DecodeCSRPEM(data)
}

func (cp *CertProvider) SaveRequest(name string, csr *x509.CertificateRequest) error {
	path, err := cp.paths.Request(name)
	if err != nil {
		return err
	}
	if err := cp.blobs.Save(path, ssl.EncodeCSRPEM(csr), blob.PERM_PUBLIC); err != nil {
		return ssl.NewError(ssl.KindUnknown, err, "Failed to save certificate request for '%s'", name)
	}
	return nil
}

func (cp *CertProvider) DeleteRequest(name string) (bool, error) {
	path, err := cp.paths.Request(name)
	if err != nil {
		return false, err
	}
	deleted, err := cp.delete(path)
	if err != nil {
		return false, ssl.NewError(ssl.KindUnknown, err, "Failed to delete certificate request for '%s'", name)
	}
	return deleted, nil
}

// Builds a CSR for name signed with key
func (cp *CertProvider) CreateRequest(
	name string,
	key crypto.Signer,
	opts ssl.RequestOptions) (*x509.CertificateRequest, error) {

	return ssl.CreateRequest(cp.signer, name, key, opts)
}

// Deletes a file, returning false if it did not exist
func (cp *CertProvider) delete(path string) (bool, error) {
	if err := cp.blobs.Delete(path); err != nil {
		if errors.Is(err, blob.ErrBlobNotFound) {
			return false, nil
		}
		return false, err
	}
	cp.logger.Debugf("Removed %s", path)
	return true, nil
}
