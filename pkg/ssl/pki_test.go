package ssl

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testPKI is a root CA, an intermediate CA signed by the root and a leaf
// signed by the intermediate, with an empty CRL for each CA
type testPKI struct {
	signer *Signer

	rootKey, intKey, leafKey *ecdsa.PrivateKey

	root, intermediate, leaf *x509.Certificate
	rootCRL, intCRL          *x509.RevocationList
}

type certOptions struct {
	serial    int64
	isCA      bool
	notBefore time.Time
	notAfter  time.Time
	dnsNames  []string
	ips       []net.IP
}

func newTestKey(t *testing.T) *ecdsa.PrivateKey {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func defaultCertOptions(serial int64, isCA bool) certOptions {
	now := time.Now()
	return certOptions{
		serial:    serial,
		isCA:      isCA,
		notBefore: now.Add(-time.Hour),
		notAfter:  now.Add(24 * time.Hour),
	}
}

// issueCert signs a certificate for cn. A nil parent creates a self-signed
// certificate.
func issueCert(
	t *testing.T,
	signer *Signer,
	cn string,
	pub crypto.PublicKey,
	parent *x509.Certificate,
	parentKey crypto.Signer,
	opts certOptions) *x509.Certificate {

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(opts.serial),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             opts.notBefore,
		NotAfter:              opts.notAfter,
		BasicConstraintsValid: true,
		IsCA:                  opts.isCA,
		DNSNames:              opts.dnsNames,
		IPAddresses:           opts.ips,
	}
	if opts.isCA {
		template.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	} else {
		template.KeyUsage = x509.KeyUsageDigitalSignature
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}
	}
	if parent == nil {
		parent = template
	}
	cert, err := signer.SignCertificate(template, parent, pub, parentKey)
	require.NoError(t, err)
	return cert
}

func issueCRL(
	t *testing.T,
	signer *Signer,
	issuer *x509.Certificate,
	key crypto.Signer,
	thisUpdate, nextUpdate time.Time,
	revoked ...*big.Int) *x509.RevocationList {

	template := &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: thisUpdate,
		NextUpdate: nextUpdate,
	}
	for _, serial := range revoked {
		template.RevokedCertificateEntries = append(template.RevokedCertificateEntries,
			x509.RevocationListEntry{SerialNumber: serial, RevocationTime: thisUpdate})
	}
	crl, err := signer.SignCRL(template, issuer, key)
	require.NoError(t, err)
	return crl
}

func newTestPKI(t *testing.T) *testPKI {
	pki := &testPKI{
		signer:  NewSigner(),
		rootKey: newTestKey(t),
		intKey:  newTestKey(t),
		leafKey: newTestKey(t),
	}
	pki.root = issueCert(t, pki.signer, "root", pki.rootKey.Public(), nil, pki.rootKey,
		defaultCertOptions(1, true))
	pki.intermediate = issueCert(t, pki.signer, "intermediate", pki.intKey.Public(),
		pki.root, pki.rootKey, defaultCertOptions(2, true))
	leafOpts := defaultCertOptions(3, false)
	leafOpts.dnsNames = []string{"leaf", "localhost"}
	leafOpts.ips = []net.IP{net.ParseIP("127.0.0.1")}
	pki.leaf = issueCert(t, pki.signer, "leaf", pki.leafKey.Public(),
		pki.intermediate, pki.intKey, leafOpts)

	pki.rootCRL = pki.crl(t, pki.root, pki.rootKey, 0)
	pki.intCRL = pki.crl(t, pki.intermediate, pki.intKey, 0)
	return pki
}

// crl issues a current CRL, shifted by offset
func (pki *testPKI) crl(
	t *testing.T,
	issuer *x509.Certificate,
	key crypto.Signer,
	offset time.Duration,
	revoked ...*big.Int) *x509.RevocationList {

	now := time.Now().Add(offset)
	return issueCRL(t, pki.signer, issuer, key, now.Add(-time.Minute), now.Add(time.Hour), revoked...)
}

func (pki *testPKI) cacerts() []*x509.Certificate {
	return []*x509.Certificate{pki.root, pki.intermediate}
}

func (pki *testPKI) crls() []*x509.RevocationList {
	return []*x509.RevocationList{pki.rootCRL, pki.intCRL}
}
