package ssl

import (
	"crypto"
	"crypto/x509"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRequest(t *testing.T) {

	key := newTestKey(t)
	csr, err := CreateRequest(NewSigner(), "agent.example.com", key, RequestOptions{})
	require.NoError(t, err)

	assert.Equal(t, "agent.example.com", RequestName(csr))
	assert.Nil(t, csr.CheckSignature())
	assert.True(t, KeyMatches(csr.PublicKey, key))
	assert.Empty(t, csr.DNSNames)
	assert.Equal(t, x509.ECDSAWithSHA256, csr.SignatureAlgorithm)
}

func TestCreateRequestAltNames(t *testing.T) {

	key := newTestKey(t)
	names := SplitAltNames(" puppet, DNS:puppet.example.com ,IP:192.168.0.1,,")
	assert.Equal(t, []string{"puppet", "DNS:puppet.example.com", "IP:192.168.0.1"}, names)

	csr, err := CreateRequest(NewSigner(), "agent", key, RequestOptions{DNSAltNames: names})
	require.NoError(t, err)

	assert.Equal(t, []string{"agent", "puppet", "puppet.example.com"}, csr.DNSNames)
	require.Len(t, csr.IPAddresses, 1)
	assert.True(t, csr.IPAddresses[0].Equal(net.ParseIP("192.168.0.1")))
	assert.Equal(t, []string{
		"DNS:agent", "DNS:puppet", "DNS:puppet.example.com", "IP Address:192.168.0.1",
	}, RequestAltNames(csr))
}

func TestCreateRequestInvalidIPAltName(t *testing.T) {

	_, err := CreateRequest(NewSigner(), "agent", newTestKey(t), RequestOptions{
		DNSAltNames: []string{"puppet", "IP:300.1.1.1"},
	})
	assert.ErrorIs(t, err, ErrInvalidAltName)
	assert.Contains(t, err.Error(), "IP:300.1.1.1")
}

func TestCreateRequestAttributes(t *testing.T) {

	attrs, err := ParseCSRAttributes([]byte(`
custom_attributes:
  1.2.840.113549.1.9.7: "342thbjkt82094y0uthhor289jnqthpc2290"
extension_requests:
  pp_uuid: ED803750-E3C7-44F5-BB08-41A04433FE2E
  1.3.6.1.4.1.34380.1.2.1: private value
`))
	require.NoError(t, err)

	csr, err := CreateRequest(NewSigner(), "agent", newTestKey(t), RequestOptions{
		Attributes: attrs,
		AutoRenew:  true,
	})
	require.NoError(t, err)

	extensions := map[string]string{}
	for _, ext := range CustomExtensions(csr.Extensions) {
		extensions[ext.ShortName] = ext.Value
	}
	assert.Equal(t, "ED803750-E3C7-44F5-BB08-41A04433FE2E", extensions["pp_uuid"])
	assert.Equal(t, "private value", extensions["1.3.6.1.4.1.34380.1.2.1"])

	types := map[string]bool{}
	for _, attr := range csr.Attributes {
		types[attr.Type.String()] = true
	}
	assert.True(t, types[OIDChallengePassword.String()])
	assert.True(t, types[OIDAuthAutoRenew.String()])
}

func TestCreateRequestRejectsReservedAttributes(t *testing.T) {

	for _, oid := range []string{OIDExtensionRequest.String(), OIDMSExtensionReq.String()} {
		_, err := CreateRequest(NewSigner(), "agent", newTestKey(t), RequestOptions{
			Attributes: &CSRAttributes{CustomAttributes: map[string]any{oid: "value"}},
		})
		assert.ErrorIs(t, err, ErrReservedAttribute)
	}
}

func TestCreateRequestRejectsUnknownShortName(t *testing.T) {

	_, err := CreateRequest(NewSigner(), "agent", newTestKey(t), RequestOptions{
		Attributes: &CSRAttributes{ExtensionRequests: map[string]any{"pp_nothing": "value"}},
	})
	assert.ErrorIs(t, err, ErrUnknownShortName)
}

func TestCreateRequestInvalidCertname(t *testing.T) {

	_, err := CreateRequest(NewSigner(), "agent\x00", newTestKey(t), RequestOptions{})
	assert.ErrorIs(t, err, ErrInvalidCertname)
}

func TestVerifyRequest(t *testing.T) {

	key := newTestKey(t)
	csr, err := CreateRequest(NewSigner(), "agent", key, RequestOptions{})
	require.NoError(t, err)

	assert.Nil(t, VerifyRequest(csr, key.Public()))

	var other crypto.Signer = newTestKey(t)
	err = VerifyRequest(csr, other.Public())
	assert.EqualError(t, err, "The CSR for host 'CN=agent' does not match the public key")
	assert.True(t, IsKind(err, KindMismatch))
}
