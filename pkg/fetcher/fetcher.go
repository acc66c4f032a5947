package fetcher

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/logging"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/ssl"
)

const (
	CAName            = "ca"
	DefaultPathPrefix = "/puppet-ca/v1"
	DefaultTimeout    = 10 * time.Second
	HeaderRequestID   = "X-Request-ID"
	ContentTypePEM    = "text/plain"
	maxResponseSize   = 10 << 20
)

var (
	ErrNoContext = errors.New("fetcher: no SSL context")
	ErrNoServer  = errors.New("fetcher: no CA server configured")
)

type Params struct {
	Logger *logging.Logger
	// Base URL of the CA service, for example https://puppet:8140
	URL        string
	PathPrefix string
	Timeout    time.Duration
	// Issuers from the ssl_client_ca_auth file
	AuthorizedIssuers []*x509.Certificate
	CRLClockSkew      time.Duration
	// Overrides the transport built from the SSL context, used by tests
	Transport http.RoundTripper
}

// Fetcher talks to the CA service routes. Every call is made with the SSL
// context of the caller so trust grows as the bootstrap progresses. There
// is no retry logic here.
type Fetcher struct {
	params  Params
	logger  *logging.Logger
	baseURL *url.URL

	// transport built for sslctx, replaced when the context changes
	mu        sync.Mutex
	sslctx    *ssl.Context
	transport *http.Transport
}

func NewFetcher(params Params) (*Fetcher, error) {
	if params.Logger == nil {
		params.Logger = logging.DefaultLogger()
	}
	if params.URL == "" {
		return nil, ErrNoServer
	}
	if params.PathPrefix == "" {
		params.PathPrefix = DefaultPathPrefix
	}
	if params.Timeout == 0 {
		params.Timeout = DefaultTimeout
	}
	baseURL, err := url.Parse(params.URL)
	if err != nil {
		params.Logger.Error(err)
		return nil, err
	}
	return &Fetcher{
		params:  params,
		logger:  params.Logger,
		baseURL: baseURL,
	}, nil
}

// URL returns the location of the CA service
func (f *Fetcher) URL() string {
	return f.baseURL.String()
}

func (f *Fetcher) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, part := range parts {
		escaped[i] = url.PathEscape(part)
	}
	u := *f.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + f.params.PathPrefix + "/" + strings.Join(escaped, "/")
	return u.String()
}

func (f *Fetcher) client(sslctx *ssl.Context) (*http.Client, error) {
	if sslctx == nil {
		return nil, ErrNoContext
	}
	transport := f.params.Transport
	if transport == nil {
		var err error
		if transport, err = f.transportFor(sslctx); err != nil {
			return nil, err
		}
	}
	return &http.Client{
		Transport: transport,
		Timeout:   f.params.Timeout,
	}, nil
}

// Returns the transport for sslctx. Contexts are immutable, so connections
// are shared for as long as callers use the same one.
func (f *Fetcher) transportFor(sslctx *ssl.Context) (*http.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transport != nil && f.sslctx == sslctx {
		return f.transport, nil
	}
	verifier := ssl.NewVerifier(ssl.VerifierParams{
		Logger:            f.logger,
		Context:           sslctx,
		AuthorizedIssuers: f.params.AuthorizedIssuers,
		CRLClockSkew:      f.params.CRLClockSkew,
	})
	tlsConfig, err := verifier.TLSConfig(f.baseURL.Hostname())
	if err != nil {
		return nil, err
	}
	if f.transport != nil {
		f.transport.CloseIdleConnections()
	}
	f.sslctx = sslctx
	f.transport = &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: tlsConfig,
	}
	return f.transport, nil
}

// CloseIdleConnections closes the idle connections of the current transport
func (f *Fetcher) CloseIdleConnections() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transport != nil {
		f.transport.CloseIdleConnections()
	}
}

// Performs the request and returns the body of a 2xx response. Any other
// status is returned as a *ResponseError.
func (f *Fetcher) do(
	ctx context.Context,
	sslctx *ssl.Context,
	method, endpoint string,
	body []byte,
	ifModifiedSince time.Time) ([]byte, error) {

	client, err := f.client(sslctx)
	if err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	req.Header.Set(HeaderRequestID, requestID)
	req.Header.Set("Accept", ContentTypePEM)
	if body != nil {
		req.Header.Set("Content-Type", ContentTypePEM)
	}
	if !ifModifiedSince.IsZero() {
		req.Header.Set("If-Modified-Since", ifModifiedSince.UTC().Format(http.TimeFormat))
	}

	f.logger.Debugf("fetcher: %s %s (%s)", method, endpoint, requestID)
	resp, err := client.Do(req)
	if err != nil {
		f.logger.Debugf("fetcher: %s %s failed: %s", method, endpoint, err)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ResponseError{
			StatusCode: resp.StatusCode,
			Reason:     reasonPhrase(resp),
			URL:        endpoint,
			Body:       strings.TrimSpace(string(data)),
		}
	}
	return data, nil
}

// GetCertificate downloads the PEM certificate of name. The CA bundle is
// named "ca". A non-zero ifModifiedSince makes the request conditional, an
// unchanged resource is reported as a 304 *ResponseError.
func (f *Fetcher) GetCertificate(
	ctx context.Context,
	sslctx *ssl.Context,
	name string,
	ifModifiedSince time.Time) ([]byte, error) {

	return f.do(ctx, sslctx, http.MethodGet, f.endpoint("certificate", name), nil, ifModifiedSince)
}

// GetCRL downloads the PEM CRL bundle
func (f *Fetcher) GetCRL(ctx context.Context, sslctx *ssl.Context, ifModifiedSince time.Time) ([]byte, error) {
	return f.do(ctx, sslctx, http.MethodGet,
		f.endpoint("certificate_revocation_list", CAName), nil, ifModifiedSince)
}

// PutCertificateRequest submits a CSR for name
func (f *Fetcher) PutCertificateRequest(
	ctx context.Context,
	sslctx *ssl.Context,
	name string,
	csr *x509.CertificateRequest) error {

	_, err := f.do(ctx, sslctx, http.MethodPut, f.endpoint("certificate_request", name),
		ssl.EncodeCSRPEM(csr), time.Time{})
	return err
}

// PostCertificateRenewal asks the CA to renew the client certificate the
// SSL context authenticates with
func (f *Fetcher) PostCertificateRenewal(ctx context.Context, sslctx *ssl.Context) ([]byte, error) {
	if sslctx == nil || !sslctx.HasClientIdentity() {
		return nil, ssl.ErrClientCertMissing
	}
	return f.do(ctx, sslctx, http.MethodPost, f.endpoint("certificate_renewal"), []byte{}, time.Time{})
}

// FetchCACerts downloads the CA bundle. A 404 is a missing remotely error,
// any other failure a transport error.
func (f *Fetcher) FetchCACerts(ctx context.Context, sslctx *ssl.Context) ([]byte, error) {
	pem, err := f.GetCertificate(ctx, sslctx, CAName, time.Time{})
	if err != nil {
		return nil, classify(err, "CA certificate is missing from the server",
			"Could not download CA certificate: %s")
	}
	return pem, nil
}

// FetchCRLs downloads the CRL bundle
func (f *Fetcher) FetchCRLs(ctx context.Context, sslctx *ssl.Context) ([]byte, error) {
	pem, err := f.GetCRL(ctx, sslctx, time.Time{})
	if err != nil {
		return nil, classify(err, "CRL is missing from the server", "Could not download CRLs: %s")
	}
	return pem, nil
}

func classify(err error, missing, failed string) error {
	if StatusCode(err) == http.StatusNotFound {
		return ssl.NewError(ssl.KindMissingRemotely, err, "%s", missing)
	}
	return ssl.NewError(ssl.KindTransport, err, failed, err.Error())
}

func reasonPhrase(resp *http.Response) string {
	if reason, ok := strings.CutPrefix(resp.Status, fmt.Sprintf("%d ", resp.StatusCode)); ok && reason != "" {
		return reason
	}
	return http.StatusText(resp.StatusCode)
}
