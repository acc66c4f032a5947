package ca

import (
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"time"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/ssl"
)

const certComment = "Puppet Server Internal Certificate"

// Factory builds certificate templates from signing requests
type Factory struct {
	Backdate time.Duration
	TTL      time.Duration
	Now      func() time.Time
}

func NewFactory(backdate, ttl time.Duration) *Factory {
	if backdate == 0 {
		backdate = DefaultBackdate
	}
	if ttl == 0 {
		ttl = DefaultCATTL
	}
	return &Factory{
		Backdate: backdate,
		TTL:      ttl,
		Now:      time.Now,
	}
}

// Build returns the certificate template for csr. issuer is nil when the
// certificate is self-signed, in which case the subject is also the
// issuer. The template is signed by the caller.
func (f *Factory) Build(
	certType CertType,
	csr *x509.CertificateRequest,
	issuer *x509.Certificate,
	serial *big.Int) (*x509.Certificate, error) {

	if serial == nil || serial.Sign() < 0 {
		return nil, ErrInvalidSerial
	}
	now := f.Now()
	template := &x509.Certificate{
		SerialNumber:          new(big.Int).Set(serial),
		Subject:               csr.Subject,
		RawSubject:            csr.RawSubject,
		PublicKey:             csr.PublicKey,
		NotBefore:             now.Add(-f.Backdate),
		NotAfter:              now.Add(f.TTL),
		BasicConstraintsValid: true,
	}

	switch certType {
	case CertTypeCA:
		template.IsCA = true
		template.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	case CertTypeTerminalSubCA:
		template.IsCA = true
		template.MaxPathLenZero = true
		template.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	case CertTypeServer:
		template.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}
	case CertTypeOCSP:
		template.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageOCSPSigning}
	case CertTypeClient:
		template.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment |
			x509.KeyUsageContentCommitment
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageEmailProtection}
	default:
		return nil, ErrInvalidCertType
	}

	ski, err := subjectKeyID(csr)
	if err != nil {
		return nil, err
	}
	template.SubjectKeyId = ski
	if issuer != nil {
		template.AuthorityKeyId = issuer.SubjectKeyId
	}

	comment, err := ssl.EncodeIA5String(certComment)
	if err != nil {
		return nil, err
	}
	template.ExtraExtensions = append(template.ExtraExtensions, pkix.Extension{
		Id:    ssl.OIDNetscapeComment,
		Value: comment,
	})

	// subjectAltName and the puppet arcs are copied verbatim from the
	// request, nothing else contributes alternate names
	for _, ext := range csr.Extensions {
		if ext.Id.Equal(ssl.OIDSubjectAltName) || ssl.InPuppetArc(ext.Id) {
			template.ExtraExtensions = append(template.ExtraExtensions, ext)
		}
	}
	return template, nil
}

func subjectKeyID(csr *x509.CertificateRequest) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(csr.PublicKey)
	if err != nil {
		return nil, err
	}
	var spki struct {
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(der, &spki); err != nil {
		return nil, err
	}
	sum := sha1.Sum(spki.PublicKey.Bytes)
	return sum[:], nil
}
