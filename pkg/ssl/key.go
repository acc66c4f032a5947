package ssl

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
)

const (
	KeyTypeRSA = "rsa"
	KeyTypeEC  = "ec"

	DefaultKeyLength  = 4096
	DefaultNamedCurve = "prime256v1"
)

var ErrInvalidCurve = errors.New("ssl: unsupported named curve")

type KeyParams struct {
	Type   string `yaml:"key-type" json:"key_type" mapstructure:"key-type"`
	Length int    `yaml:"keylength" json:"keylength" mapstructure:"keylength"`
	Curve  string `yaml:"named-curve" json:"named_curve" mapstructure:"named-curve"`
}

// Description used when logging key creation
func (params KeyParams) String() string {
	if strings.EqualFold(params.Type, KeyTypeEC) {
		return fmt.Sprintf("EC key using curve %s", params.CurveName())
	}
	return "RSA key"
}

// CurveName returns the configured curve or the default
func (params KeyParams) CurveName() string {
	if params.Curve == "" {
		return DefaultNamedCurve
	}
	return params.Curve
}

// Returns the elliptic curve for an OpenSSL or NIST curve name
func ParseCurve(name string) (elliptic.Curve, error) {
	switch strings.ToLower(name) {
	case "prime256v1", "secp256r1", "p-256", "p256":
		return elliptic.P256(), nil
	case "secp384r1", "p-384", "p384":
		return elliptic.P384(), nil
	case "secp521r1", "p-521", "p521":
		return elliptic.P521(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidCurve, name)
}

// GenerateKey creates a new RSA or EC private key
func GenerateKey(params KeyParams) (crypto.Signer, error) {
	if strings.EqualFold(params.Type, KeyTypeEC) {
		curve, err := ParseCurve(params.CurveName())
		if err != nil {
			return nil, err
		}
		return ecdsa.GenerateKey(curve, rand.Reader)
	}
	bits := params.Length
	if bits == 0 {
		bits = DefaultKeyLength
	}
	return rsa.GenerateKey(rand.Reader, bits)
}
