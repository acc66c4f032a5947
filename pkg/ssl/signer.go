package ssl

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"io"
)

var (
	ErrNoDigestAvailable = errors.New("ssl: no supported digest algorithm is available")

	// In the order certificate bodies are signed with. SHA224 is left out,
	// x509 has no signature algorithm for it.
	DigestPreference = []crypto.Hash{
		crypto.SHA256,
		crypto.SHA1,
		crypto.SHA512,
		crypto.SHA384,
	}
)

// Signer signs certificates, requests and CRLs with the first available
// digest in DigestPreference.
type Signer struct {
	available func(crypto.Hash) bool
	random    io.Reader
}

// Creates a signer that probes digest availability with crypto.Hash.Available
func NewSigner() *Signer {
	return &Signer{
		available: crypto.Hash.Available,
		random:    rand.Reader,
	}
}

// Creates a signer with a custom availability probe
func NewSignerWithProbe(available func(crypto.Hash) bool) *Signer {
	return &Signer{
		available: available,
		random:    rand.Reader,
	}
}

// SignatureAlgorithm selects the digest and matching signature algorithm
// for the key
func (s *Signer) SignatureAlgorithm(pub crypto.PublicKey) (crypto.Hash, x509.SignatureAlgorithm, error) {
	for _, digest := range DigestPreference {
		if !s.available(digest) {
			continue
		}
		if algo := signatureAlgorithm(digest, pub); algo != x509.UnknownSignatureAlgorithm {
			return digest, algo, nil
		}
	}
	return 0, x509.UnknownSignatureAlgorithm, ErrNoDigestAvailable
}

func signatureAlgorithm(digest crypto.Hash, pub crypto.PublicKey) x509.SignatureAlgorithm {
	switch pub.(type) {
	case *rsa.PublicKey:
		switch digest {
		case crypto.SHA256:
			return x509.SHA256WithRSA
		case crypto.SHA1:
			return x509.SHA1WithRSA
		case crypto.SHA384:
			return x509.SHA384WithRSA
		case crypto.SHA512:
			return x509.SHA512WithRSA
		}
	case *ecdsa.PublicKey:
		switch digest {
		case crypto.SHA256:
			return x509.ECDSAWithSHA256
		case crypto.SHA1:
			return x509.ECDSAWithSHA1
		case crypto.SHA384:
			return x509.ECDSAWithSHA384
		case crypto.SHA512:
			return x509.ECDSAWithSHA512
		}
	case ed25519.PublicKey:
		return x509.PureEd25519
	}
	return x509.UnknownSignatureAlgorithm
}

// SignCertificate signs the certificate template with the issuer key
func (s *Signer) SignCertificate(
	template, parent *x509.Certificate,
	pub crypto.PublicKey,
	key crypto.Signer) (*x509.Certificate, error) {

	_, algo, err := s.SignatureAlgorithm(key.Public())
	if err != nil {
		return nil, err
	}
	template.SignatureAlgorithm = algo
	der, err := x509.CreateCertificate(s.random, template, parent, pub, key)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(der)
}

// SignRequest signs a certificate request template with the requester key
func (s *Signer) SignRequest(
	template *x509.CertificateRequest,
	key crypto.Signer) (*x509.CertificateRequest, error) {

	_, algo, err := s.SignatureAlgorithm(key.Public())
	if err != nil {
		return nil, err
	}
	template.SignatureAlgorithm = algo
	der, err := x509.CreateCertificateRequest(s.random, template, key)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificateRequest(der)
}

// SignCRL signs a revocation list template with the issuer key
func (s *Signer) SignCRL(
	template *x509.RevocationList,
	issuer *x509.Certificate,
	key crypto.Signer) (*x509.RevocationList, error) {

	_, algo, err := s.SignatureAlgorithm(key.Public())
	if err != nil {
		return nil, err
	}
	template.SignatureAlgorithm = algo
	der, err := x509.CreateRevocationList(s.random, template, issuer, key)
	if err != nil {
		return nil, err
	}
	return x509.ParseRevocationList(der)
}
