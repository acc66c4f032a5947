package ssl

import (
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVerifier(ctx *Context, authorized ...*x509.Certificate) *Verifier {
	return NewVerifier(VerifierParams{
		Logger:            logging.DiscardLogger(),
		Context:           ctx,
		AuthorizedIssuers: authorized,
	})
}

func TestVerifierRejectsFailedCertificate(t *testing.T) {

	pki := newTestPKI(t)
	verifier := newTestVerifier(nil)

	ok := verifier.Call(false, &CertStatus{Cert: pki.root, Depth: 2, Code: VerifyInvalidCA})
	assert.False(t, ok)
	assert.Equal(t, []string{"invalid CA certificate for CN=root"}, verifier.VerifyErrors())
}

func TestVerifierGenericMessage(t *testing.T) {

	pki := newTestPKI(t)
	verifier := newTestVerifier(nil)

	verifier.Call(false, &CertStatus{Cert: pki.root, Code: VerifyCode(99)})
	assert.Equal(t, []string{"OpenSSL error 99 for CN=root"}, verifier.VerifyErrors())
}

func TestVerifierCRLNotYetValid(t *testing.T) {

	pki := newTestPKI(t)
	verifier := newTestVerifier(nil)

	// nil CRL
	ok := verifier.Call(false, &CertStatus{Cert: pki.leaf, Code: VerifyCRLNotYetValid})
	assert.False(t, ok)
	assert.Equal(t, []string{"CRL is not yet valid"}, verifier.VerifyErrors())

	verifier.Reset()
	now := time.Now()
	future := issueCRL(t, pki.signer, pki.intermediate, pki.intKey, now.Add(24*time.Hour), now.Add(48*time.Hour))
	ok = verifier.Call(false, &CertStatus{Cert: pki.leaf, CRL: future, Code: VerifyCRLNotYetValid})
	assert.False(t, ok)
	assert.Equal(t, []string{"CRL is not yet valid for CN=intermediate"}, verifier.VerifyErrors())

	verifier.Reset()
	skewed := issueCRL(t, pki.signer, pki.intermediate, pki.intKey, now.Add(10*time.Second), now.Add(time.Hour))
	ok = verifier.Call(false, &CertStatus{Cert: pki.leaf, CRL: skewed, Code: VerifyCRLNotYetValid})
	assert.True(t, ok)
	assert.Empty(t, verifier.VerifyErrors())
}

func TestVerifierCRLClockSkewIsConfigurable(t *testing.T) {

	pki := newTestPKI(t)
	verifier := NewVerifier(VerifierParams{
		Logger:       logging.DiscardLogger(),
		CRLClockSkew: time.Second,
	})
	skewed := issueCRL(t, pki.signer, pki.intermediate, pki.intKey,
		time.Now().Add(10*time.Second), time.Now().Add(time.Hour))

	ok := verifier.Call(false, &CertStatus{Cert: pki.leaf, CRL: skewed, Code: VerifyCRLNotYetValid})
	assert.False(t, ok)
}

func TestVerifierAcceptsPreverifiedCertificates(t *testing.T) {

	pki := newTestPKI(t)
	provider, _ := newTestProvider(nil)
	ctx := provider.CreateRootContext(pki.cacerts(), pki.crls(), RevocationChain)
	verifier := newTestVerifier(ctx)

	assert.True(t, verifier.Call(true, &CertStatus{Cert: pki.root, Depth: 2}))
	assert.True(t, verifier.Call(true, &CertStatus{Cert: pki.intermediate, Depth: 1}))
	assert.True(t, verifier.Call(true, &CertStatus{Cert: pki.leaf, Depth: 0}))
	assert.Empty(t, verifier.VerifyErrors())
	assert.Equal(t, []*x509.Certificate{pki.leaf, pki.intermediate, pki.root}, verifier.PeerCerts())
}

func TestVerifierRejectsUnauthorizedLeaf(t *testing.T) {

	pki := newTestPKI(t)
	other := newTestPKI(t)
	verifier := newTestVerifier(nil, other.root)

	assert.True(t, verifier.Call(true, &CertStatus{Cert: pki.root, Depth: 2}))
	assert.True(t, verifier.Call(true, &CertStatus{Cert: pki.intermediate, Depth: 1}))
	assert.False(t, verifier.Call(true, &CertStatus{Cert: pki.leaf, Depth: 0}))
}

func TestVerifierRecordsPanics(t *testing.T) {

	verifier := newTestVerifier(nil)

	ok := verifier.Call(false, nil)
	assert.False(t, ok)
	assert.Len(t, verifier.VerifyErrors(), 1)
}

func TestHasAuthzPeerCert(t *testing.T) {

	// root signs two intermediates, each issuing a leaf
	pki := newTestPKI(t)
	agentKey := newTestKey(t)
	agentCA := issueCert(t, pki.signer, "agent ca", agentKey.Public(), pki.root, pki.rootKey,
		defaultCertOptions(70, true))
	agentLeaf := issueCert(t, pki.signer, "agent", pki.leafKey.Public(), agentCA, agentKey,
		defaultCertOptions(71, false))

	masterChain := []*x509.Certificate{pki.leaf, pki.intermediate, pki.root}
	agentChain := []*x509.Certificate{agentLeaf, agentCA, pki.root}
	verifier := newTestVerifier(nil)

	assert.True(t, verifier.HasAuthzPeerCert(masterChain, []*x509.Certificate{pki.root}))
	assert.True(t, verifier.HasAuthzPeerCert(agentChain, []*x509.Certificate{pki.root}))

	assert.True(t, verifier.HasAuthzPeerCert(masterChain, []*x509.Certificate{pki.intermediate}))
	assert.False(t, verifier.HasAuthzPeerCert(agentChain, []*x509.Certificate{pki.intermediate}))

	assert.False(t, verifier.HasAuthzPeerCert(masterChain, []*x509.Certificate{agentCA}))
	assert.True(t, verifier.HasAuthzPeerCert(agentChain, []*x509.Certificate{agentCA}))
}

func TestValidPeer(t *testing.T) {

	pki := newTestPKI(t)
	other := newTestPKI(t)

	verifier := newTestVerifier(nil, pki.root)
	for depth, cert := range []*x509.Certificate{pki.root, pki.intermediate, pki.leaf} {
		verifier.Call(true, &CertStatus{Cert: cert, Depth: 2 - depth})
	}
	assert.True(t, verifier.ValidPeer())

	verifier = newTestVerifier(nil, other.root, other.intermediate)
	for depth, cert := range []*x509.Certificate{pki.root, pki.intermediate, pki.leaf} {
		verifier.Call(true, &CertStatus{Cert: cert, Depth: 2 - depth})
	}
	assert.False(t, verifier.ValidPeer())
	assert.Equal(t, []string{
		"The server presented a SSL certificate chain which does not include a CA listed in the " +
			"ssl_client_ca_auth file.  Authorized Issuers: CN=root, CN=intermediate  " +
			"Peer Chain: CN=leaf => CN=intermediate => CN=root",
	}, verifier.VerifyErrors())
}

func newTLSServer(t *testing.T, pki *testPKI) *httptest.Server {
	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	server.TLS = &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{pki.leaf.Raw, pki.intermediate.Raw},
			PrivateKey:  pki.leafKey,
		}},
	}
	server.StartTLS()
	t.Cleanup(server.Close)
	return server
}

func newTLSClient(t *testing.T, verifier *Verifier, serverName string) *http.Client {
	config, err := verifier.TLSConfig(serverName)
	require.NoError(t, err)
	return &http.Client{Transport: &http.Transport{TLSClientConfig: config}}
}

func TestVerifierHandshake(t *testing.T) {

	pki := newTestPKI(t)
	server := newTLSServer(t, pki)
	provider, _ := newTestProvider(nil)
	ctx := provider.CreateRootContext([]*x509.Certificate{pki.root}, pki.crls(), RevocationChain)
	verifier := newTestVerifier(ctx)

	resp, err := newTLSClient(t, verifier, "127.0.0.1").Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []*x509.Certificate{pki.leaf, pki.intermediate, pki.root}, verifier.PeerCerts())
}

func TestVerifierHandshakeUntrustedServer(t *testing.T) {

	pki := newTestPKI(t)
	other := newTestPKI(t)
	server := newTLSServer(t, pki)
	provider, _ := newTestProvider(nil)
	ctx := provider.CreateRootContext(other.cacerts(), other.crls(), RevocationChain)
	verifier := newTestVerifier(ctx)

	_, err := newTLSClient(t, verifier, "127.0.0.1").Get(server.URL)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "certificate verify failed")
	assert.NotEmpty(t, verifier.VerifyErrors())
}

func TestVerifierHandshakeRevokedServer(t *testing.T) {

	pki := newTestPKI(t)
	server := newTLSServer(t, pki)
	revoked := pki.crl(t, pki.intermediate, pki.intKey, 0, pki.leaf.SerialNumber)
	provider, _ := newTestProvider(nil)
	ctx := provider.CreateRootContext(pki.cacerts(),
		[]*x509.RevocationList{pki.rootCRL, revoked}, RevocationChain)
	verifier := newTestVerifier(ctx)

	_, err := newTLSClient(t, verifier, "127.0.0.1").Get(server.URL)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "certificate revoked for CN=leaf")
}

func TestVerifierHostnameMismatch(t *testing.T) {

	pki := newTestPKI(t)
	server := newTLSServer(t, pki)
	provider, _ := newTestProvider(nil)
	ctx := provider.CreateRootContext(pki.cacerts(), pki.crls(), RevocationChain)
	verifier := newTestVerifier(ctx)

	_, err := newTLSClient(t, verifier, "puppet.example.com").Get(server.URL)
	assert.Error(t, err)
	assert.Contains(t, err.Error(),
		"Server hostname 'puppet.example.com' did not match server certificate; expected one of leaf, localhost, 127.0.0.1")
}

func TestVerifierInsecureContext(t *testing.T) {

	pki := newTestPKI(t)
	server := newTLSServer(t, pki)
	provider, _ := newTestProvider(nil)
	verifier := newTestVerifier(provider.CreateInsecureContext())

	resp, err := newTLSClient(t, verifier, "").Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()
}

func TestVerifierPresentsClientCertificate(t *testing.T) {

	pki := newTestPKI(t)
	provider, _ := newTestProvider(nil)
	ctx, err := provider.CreateContext(pki.cacerts(), pki.crls(), pki.leafKey, pki.leaf, RevocationChain, false)
	require.NoError(t, err)

	config, err := newTestVerifier(ctx).TLSConfig("puppet")
	require.NoError(t, err)
	require.Len(t, config.Certificates, 1)
	assert.Len(t, config.Certificates[0].Certificate, 3)
	assert.Equal(t, pki.leaf, config.Certificates[0].Leaf)
	assert.Equal(t, pkix.Name{CommonName: "leaf"}.String(), Subject(config.Certificates[0].Leaf))
}
