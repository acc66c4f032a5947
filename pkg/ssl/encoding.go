package ssl

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"

	"github.com/youmark/pkcs8"
)

const (
	PEMTypeCertificate         = "CERTIFICATE"
	PEMTypeCRL                 = "X509 CRL"
	PEMTypeCSR                 = "CERTIFICATE REQUEST"
	PEMTypePrivateKey          = "PRIVATE KEY"
	PEMTypeEncryptedPrivateKey = "ENCRYPTED PRIVATE KEY"
	PEMTypeRSAPrivateKey       = "RSA PRIVATE KEY"
	PEMTypeECPrivateKey        = "EC PRIVATE KEY"
	PEMTypePublicKey           = "PUBLIC KEY"
)

func encodeBlock(blockType string, der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
}

// Encodes a certificate to PEM form
func EncodeCertificatePEM(cert *x509.Certificate) []byte {
	return encodeBlock(PEMTypeCertificate, cert.Raw)
}

// Encodes a list of certificates as a concatenated PEM bundle
func EncodeCertificatesPEM(certs []*x509.Certificate) []byte {
	buf := new(bytes.Buffer)
	for _, cert := range certs {
		buf.Write(EncodeCertificatePEM(cert))
	}
	return buf.Bytes()
}

// Decodes the first certificate in the PEM bytes
func DecodeCertificatePEM(data []byte) (*x509.Certificate, error) {
	certs, err := decodeCertificates(data)
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, NewError(KindParseFailure, ErrInvalidEncodingPEM,
			"Failed to parse certificate as PEM")
	}
	return certs[0], nil
}

// Decodes a CA bundle. Blocks that are not certificates are skipped, but
// at least one certificate must be present.
func DecodeCertificatesPEM(data []byte) ([]*x509.Certificate, error) {
	certs, err := decodeCertificates(data)
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, NewError(KindParseFailure, ErrInvalidEncodingPEM,
			"Failed to parse CA certificates as PEM")
	}
	return certs, nil
}

func decodeCertificates(data []byte) ([]*x509.Certificate, error) {
	certs := make([]*x509.Certificate, 0)
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != PEMTypeCertificate {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, NewError(KindParseFailure, err, "%s", err.Error())
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// Encodes a CRL to PEM form
func EncodeCRLPEM(crl *x509.RevocationList) []byte {
	return encodeBlock(PEMTypeCRL, crl.Raw)
}

// Encodes a list of CRLs as a concatenated PEM bundle
func EncodeCRLsPEM(crls []*x509.RevocationList) []byte {
	buf := new(bytes.Buffer)
	for _, crl := range crls {
		buf.Write(EncodeCRLPEM(crl))
	}
	return buf.Bytes()
}

// Decodes a CRL bundle. At least one CRL must be present.
func DecodeCRLsPEM(data []byte) ([]*x509.RevocationList, error) {
	crls := make([]*x509.RevocationList, 0)
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != PEMTypeCRL {
			continue
		}
		crl, err := x509.ParseRevocationList(block.Bytes)
		if err != nil {
			return nil, NewError(KindParseFailure, err, "%s", err.Error())
		}
		crls = append(crls, crl)
	}
	if len(crls) == 0 {
		return nil, NewError(KindParseFailure, ErrInvalidEncodingPEM,
			"Failed to parse CRLs as PEM")
	}
	return crls, nil
}

// Encodes a Certificate Signing Request to PEM form
func EncodeCSRPEM(csr *x509.CertificateRequest) []byte {
	return encodeBlock(PEMTypeCSR, csr.Raw)
}

// Decodes PEM bytes to x509.CertificateRequest
func DecodeCSRPEM(data []byte) (*x509.CertificateRequest, error) {
	var block *pem.Block
	if block, _ = pem.Decode(data); block == nil || block.Type != PEMTypeCSR {
		return nil, NewError(KindParseFailure, ErrInvalidEncodingPEM,
			"Failed to parse certificate request as PEM")
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, NewError(KindParseFailure, err, "%s", err.Error())
	}
	return csr, nil
}

// Encodes a private key as PKCS #8. When a password is provided the key is
// encrypted using PBES2.
func EncodePrivateKeyPEM(key crypto.Signer, password []byte) ([]byte, error) {
	if len(password) == 0 {
		der, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			return nil, err
		}
		return encodeBlock(PEMTypePrivateKey, der), nil
	}
	der, err := pkcs8.MarshalPrivateKey(key, password, nil)
	if err != nil {
		return nil, err
	}
	return encodeBlock(PEMTypeEncryptedPrivateKey, der), nil
}

// Decodes a PEM private key. PKCS #8 (clear or encrypted), PKCS #1 and SEC 1
// encodings are accepted.
func DecodePrivateKeyPEM(data []byte, password []byte) (crypto.Signer, error) {
	var block *pem.Block
	if block, _ = pem.Decode(data); block == nil {
		return nil, NewError(KindParseFailure, ErrInvalidEncodingPEM,
			"Failed to parse private key as PEM")
	}
	var key any
	var err error
	switch block.Type {
	case PEMTypeEncryptedPrivateKey:
		key, err = pkcs8.ParsePKCS8PrivateKey(block.Bytes, password)
	case PEMTypePrivateKey:
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case PEMTypeRSAPrivateKey:
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case PEMTypeECPrivateKey:
		key, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, NewError(KindParseFailure, ErrInvalidEncodingPEM,
			"Unsupported private key PEM type '%s'", block.Type)
	}
	if err != nil {
		return nil, NewError(KindParseFailure, err, "%s", err.Error())
	}
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	case ed25519.PrivateKey:
		return k, nil
	default:
		return nil, ErrUnsupportedKey
	}
}

// Encodes a public key to PKIX PEM form
func EncodePublicKeyPEM(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return encodeBlock(PEMTypePublicKey, der), nil
}
