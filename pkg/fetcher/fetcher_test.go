package fetcher

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/logging"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/ssl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPEM = "-----BEGIN CERTIFICATE-----\nMIIB\n-----END CERTIFICATE-----\n"

func newTestFetcher(t *testing.T, handler http.HandlerFunc) (*Fetcher, *ssl.Context) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	fetcher, err := NewFetcher(Params{
		Logger: logging.DiscardLogger(),
		URL:    server.URL,
	})
	require.NoError(t, err)
	provider := ssl.NewProvider(ssl.ProviderParams{Logger: logging.DiscardLogger()})
	return fetcher, provider.CreateInsecureContext()
}

func TestFetchCACerts(t *testing.T) {

	var requestID string
	fetcher, sslctx := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/puppet-ca/v1/certificate/ca", r.URL.Path)
		assert.Equal(t, ContentTypePEM, r.Header.Get("Accept"))
		assert.Empty(t, r.Header.Get("If-Modified-Since"))
		requestID = r.Header.Get(HeaderRequestID)
		io.WriteString(w, testPEM)
	})

	pem, err := fetcher.FetchCACerts(context.Background(), sslctx)
	assert.Nil(t, err)
	assert.Equal(t, testPEM, string(pem))

	_, err = uuid.Parse(requestID)
	assert.Nil(t, err)
}

func TestFetchMissingFromServer(t *testing.T) {

	fetcher, sslctx := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := fetcher.FetchCACerts(context.Background(), sslctx)
	assert.EqualError(t, err, "CA certificate is missing from the server")
	assert.True(t, ssl.IsKind(err, ssl.KindMissingRemotely))
	assert.True(t, IsNotFound(err))

	_, err = fetcher.FetchCRLs(context.Background(), sslctx)
	assert.EqualError(t, err, "CRL is missing from the server")
	assert.True(t, ssl.IsKind(err, ssl.KindMissingRemotely))
}

func TestFetchServerError(t *testing.T) {

	fetcher, sslctx := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := fetcher.FetchCACerts(context.Background(), sslctx)
	assert.EqualError(t, err, "Could not download CA certificate: Internal Server Error")
	assert.True(t, ssl.IsKind(err, ssl.KindTransport))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))

	_, err = fetcher.FetchCRLs(context.Background(), sslctx)
	assert.EqualError(t, err, "Could not download CRLs: Internal Server Error")
}

func TestConditionalGet(t *testing.T) {

	lastUpdate := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	fetcher, sslctx := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/puppet-ca/v1/certificate_revocation_list/ca", r.URL.Path)
		since, err := http.ParseTime(r.Header.Get("If-Modified-Since"))
		assert.Nil(t, err)
		assert.True(t, since.Equal(lastUpdate))
		w.WriteHeader(http.StatusNotModified)
	})

	_, err := fetcher.GetCRL(context.Background(), sslctx, lastUpdate)
	assert.True(t, IsNotModified(err))
	assert.Equal(t, "Not Modified", err.Error())
}

func TestPutCertificateRequest(t *testing.T) {

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	csr, err := ssl.CreateRequest(ssl.NewSigner(), "agent", key, ssl.RequestOptions{})
	require.NoError(t, err)

	submitted := 0
	fetcher, sslctx := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/puppet-ca/v1/certificate_request/agent", r.URL.Path)
		assert.Equal(t, ContentTypePEM, r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		assert.Nil(t, err)
		received, err := ssl.DecodeCSRPEM(body)
		assert.Nil(t, err)
		assert.Equal(t, csr.Raw, received.Raw)
		submitted++
		if submitted > 1 {
			http.Error(w, "agent already has a requested certificate", http.StatusBadRequest)
		}
	})

	assert.Nil(t, fetcher.PutCertificateRequest(context.Background(), sslctx, "agent", csr))

	err = fetcher.PutCertificateRequest(context.Background(), sslctx, "agent", csr)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, "agent already has a requested certificate", respErr.Body)
}

func TestPostCertificateRenewalRequiresIdentity(t *testing.T) {

	fetcher, sslctx := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := fetcher.PostCertificateRenewal(context.Background(), sslctx)
	assert.ErrorIs(t, err, ssl.ErrClientCertMissing)
}

func TestFetcherRequiresContext(t *testing.T) {

	fetcher, _ := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := fetcher.GetCertificate(context.Background(), nil, "agent", time.Time{})
	assert.ErrorIs(t, err, ErrNoContext)

	_, err = NewFetcher(Params{})
	assert.ErrorIs(t, err, ErrNoServer)
}

func TestFetcherVerifiesPeer(t *testing.T) {

	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, testPEM)
	}))
	defer server.Close()

	fetcher, err := NewFetcher(Params{Logger: logging.DiscardLogger(), URL: server.URL})
	require.NoError(t, err)
	provider := ssl.NewProvider(ssl.ProviderParams{Logger: logging.DiscardLogger()})

	// bootstrap downloads do not verify the server
	pem, err := fetcher.FetchCACerts(context.Background(), provider.CreateInsecureContext())
	assert.Nil(t, err)
	assert.Equal(t, testPEM, string(pem))

	// a root context without the server's issuer rejects the handshake
	_, err = fetcher.FetchCACerts(context.Background(), provider.CreateRootContext(nil, nil, ssl.RevocationOff))
	assert.Error(t, err)
	assert.True(t, ssl.IsKind(err, ssl.KindTransport))
}

func TestTransportReuse(t *testing.T) {

	fetcher, sslctx := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, testPEM)
	})

	_, err := fetcher.FetchCACerts(context.Background(), sslctx)
	require.NoError(t, err)
	first := fetcher.transport
	require.NotNil(t, first)

	// the same context shares the transport
	_, err = fetcher.FetchCRLs(context.Background(), sslctx)
	require.NoError(t, err)
	assert.Same(t, first, fetcher.transport)

	// a new context gets its own
	provider := ssl.NewProvider(ssl.ProviderParams{Logger: logging.DiscardLogger()})
	_, err = fetcher.FetchCACerts(context.Background(), provider.CreateInsecureContext())
	require.NoError(t, err)
	assert.NotSame(t, first, fetcher.transport)

	fetcher.CloseIdleConnections()
}
