package ssl

import (
	"crypto"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"fmt"
	"hash"
	"regexp"
	"strings"
)

const DefaultDigest = "SHA256"

var validCertname = regexp.MustCompile(`\A[ -.0-~]+\z`)

// Extension is a decoded custom extension under the private enterprise arc
type Extension struct {
	OID       asn1.ObjectIdentifier
	ShortName string
	Value     string
	Critical  bool
}

// Returns the lower-cased common name of a distinguished name
func CommonName(name pkix.Name) string {
	return strings.ToLower(name.CommonName)
}

// Name returns the certname a certificate was issued to
func Name(cert *x509.Certificate) string {
	return CommonName(cert.Subject)
}

// RequestName returns the certname a CSR was submitted for
func RequestName(csr *x509.CertificateRequest) string {
	return CommonName(csr.Subject)
}

// Subject returns the RFC 2253 form of the certificate subject
func Subject(cert *x509.Certificate) string {
	return cert.Subject.String()
}

// Issuer returns the RFC 2253 form of the certificate issuer
func Issuer(cert *x509.Certificate) string {
	return cert.Issuer.String()
}

// ValidateCertname rejects names with unprintable or non-ASCII characters
func ValidateCertname(name string) error {
	if !validCertname.MatchString(name) {
		return fmt.Errorf("%w: Certname %q must not contain unprintable or non-ASCII characters",
			ErrInvalidCertname, name)
	}
	return nil
}

func newHash(digest string) (hash.Hash, error) {
	switch strings.ToUpper(digest) {
	case "", "SHA256":
		return sha256.New(), nil
	case "SHA1":
		return sha1.New(), nil
	case "SHA224":
		return sha256.New224(), nil
	case "SHA384":
		return sha512.New384(), nil
	case "SHA512":
		return sha512.New(), nil
	case "MD5":
		return md5.New(), nil
	}
	return nil, fmt.Errorf("ssl: unsupported digest algorithm %s", digest)
}

// Digest returns the colon separated upper-case hex digest of data
func Digest(digest string, data []byte) (string, error) {
	h, err := newHash(digest)
	if err != nil {
		return "", err
	}
	h.Write(data)
	return FormatFingerprint(h.Sum(nil)), nil
}

// Fingerprint returns the digest of the certificate's DER encoding
func Fingerprint(cert *x509.Certificate, digest string) (string, error) {
	return Digest(digest, cert.Raw)
}

// FormatFingerprint renders raw digest bytes as AA:BB:CC
func FormatFingerprint(sum []byte) string {
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = strings.ToUpper(hex.EncodeToString([]byte{b}))
	}
	return strings.Join(parts, ":")
}

// NormalizeFingerprint accepts fingerprints with or without separators and
// returns the AA:BB:CC form
func NormalizeFingerprint(fingerprint string) string {
	clean := strings.ToUpper(strings.NewReplacer(":", "", " ", "").Replace(fingerprint))
	parts := make([]string, 0, len(clean)/2)
	for i := 0; i+1 < len(clean); i += 2 {
		parts = append(parts, clean[i:i+2])
	}
	return strings.Join(parts, ":")
}

// CustomExtensions returns the extensions under the private enterprise arc
func CustomExtensions(exts []pkix.Extension) []Extension {
	custom := make([]Extension, 0)
	for _, ext := range exts {
		if !InPuppetArc(ext.Id) {
			continue
		}
		custom = append(custom, Extension{
			OID:       ext.Id,
			ShortName: ShortName(ext.Id),
			Value:     DecodeString(ext.Value),
			Critical:  ext.Critical,
		})
	}
	return custom
}

// SubjectAltNames returns the alternate names of a certificate in the
// "DNS:name" / "IP Address:addr" form
func SubjectAltNames(cert *x509.Certificate) []string {
	return altNames(cert.DNSNames, cert.IPAddresses, cert.EmailAddresses, cert.URIs)
}

// RequestAltNames returns the alternate names requested by a CSR
func RequestAltNames(csr *x509.CertificateRequest) []string {
	return altNames(csr.DNSNames, csr.IPAddresses, csr.EmailAddresses, csr.URIs)
}

// KeyMatches reports whether the private key corresponds to pub
func KeyMatches(pub crypto.PublicKey, key crypto.Signer) bool {
	if key == nil || pub == nil {
		return false
	}
	type equaler interface {
		Equal(crypto.PublicKey) bool
	}
	p, ok := key.Public().(equaler)
	if !ok {
		return false
	}
	return p.Equal(pub)
}
