package ca

import (
	"crypto/x509"
	"math/big"
	"testing"
	"time"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/ssl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRequest(t *testing.T, name string, opts ssl.RequestOptions) (*x509.CertificateRequest, *ssl.Signer) {
	signer := ssl.NewSigner()
	key, err := ssl.GenerateKey(ssl.KeyParams{Type: ssl.KeyTypeEC})
	require.NoError(t, err)
	csr, err := ssl.CreateRequest(signer, name, key, opts)
	require.NoError(t, err)
	return csr, signer
}

func TestFactoryBasicConstraints(t *testing.T) {

	csr, _ := newTestRequest(t, "host", ssl.RequestOptions{})
	factory := NewFactory(0, 0)

	for certType, expected := range map[CertType][2]bool{
		CertTypeCA:            {true, false},
		CertTypeTerminalSubCA: {true, true},
		CertTypeServer:        {false, false},
		CertTypeOCSP:          {false, false},
		CertTypeClient:        {false, false},
	} {
		template, err := factory.Build(certType, csr, nil, big.NewInt(5))
		require.NoError(t, err)
		assert.Equal(t, expected[0], template.IsCA, certType)
		assert.Equal(t, expected[1], template.MaxPathLenZero, certType)
		assert.True(t, template.BasicConstraintsValid)
	}

	_, err := factory.Build(CertType("bogus"), csr, nil, big.NewInt(5))
	assert.ErrorIs(t, err, ErrInvalidCertType)

	_, err = factory.Build(CertTypeServer, csr, nil, big.NewInt(-1))
	assert.ErrorIs(t, err, ErrInvalidSerial)
}

func TestFactoryValidityWindow(t *testing.T) {

	csr, _ := newTestRequest(t, "host", ssl.RequestOptions{})
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	factory := NewFactory(24*time.Hour, 48*time.Hour)
	factory.Now = func() time.Time { return now }

	template, err := factory.Build(CertTypeServer, csr, nil, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour), template.NotBefore)
	assert.Equal(t, now.Add(48*time.Hour), template.NotAfter)
	assert.Equal(t, csr.Subject.String(), template.Subject.String())
}

func TestFactoryCopiesOnlyRequestedAltNames(t *testing.T) {

	csr, signer := newTestRequest(t, "host", ssl.RequestOptions{DNSAltNames: []string{"alias"}})
	key, err := ssl.GenerateKey(ssl.KeyParams{Type: ssl.KeyTypeEC})
	require.NoError(t, err)
	factory := NewFactory(0, 0)

	template, err := factory.Build(CertTypeServer, csr, nil, big.NewInt(1))
	require.NoError(t, err)
	assert.Empty(t, template.DNSNames)

	// self-signed to inspect the encoded extensions
	cert, err := signer.SignCertificate(template, template, csr.PublicKey, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"alias", "host"}, cert.DNSNames)

	var comment bool
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(ssl.OIDNetscapeComment) {
			comment = true
			assert.False(t, ext.Critical)
			assert.Equal(t, certComment, ssl.DecodeString(ext.Value))
		}
	}
	assert.True(t, comment)

	plain, _ := newTestRequest(t, "plain", ssl.RequestOptions{})
	template, err = factory.Build(CertTypeServer, plain, nil, big.NewInt(2))
	require.NoError(t, err)
	cert, err = signer.SignCertificate(template, template, plain.PublicKey, key)
	require.NoError(t, err)
	assert.Empty(t, cert.DNSNames)
}

func TestParseCertType(t *testing.T) {

	certType, err := ParseCertType("terminalsubca")
	assert.Nil(t, err)
	assert.Equal(t, CertTypeTerminalSubCA, certType)

	_, err = ParseCertType("root")
	assert.ErrorIs(t, err, ErrInvalidCertType)
}
