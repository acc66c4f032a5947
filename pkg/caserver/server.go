package caserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codegangsta/negroni"
	"github.com/gorilla/mux"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/ca"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/fetcher"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/logging"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/ssl"
)

const (
	HTTP_SERVER_READ_TIMEOUT  = 5 * time.Second
	HTTP_SERVER_WRITE_TIMEOUT = 30 * time.Second
	HTTP_SERVER_IDLE_TIMEOUT  = 120 * time.Second

	maxRequestSize = 1 << 20
)

var (
	ErrNotInitialized = errors.New("caserver: certificate authority is not initialized")
)

type Params struct {
	Logger        *logging.Logger
	CA            *ca.CertificateAuthority
	ListenAddress string
	PathPrefix    string
	// Serves plain HTTP when nil
	TLSConfig *tls.Config
	// Registers the certificate_renewal route
	AllowRenewal bool
}

// Server exposes the certificate authority over the CA service routes
type Server struct {
	params     Params
	logger     *logging.Logger
	ca         *ca.CertificateAuthority
	router     *mux.Router
	httpServer *http.Server
}

func NewServer(params Params) (*Server, error) {
	if params.Logger == nil {
		params.Logger = logging.DefaultLogger()
	}
	if params.CA == nil || !params.CA.Initialized() {
		return nil, ErrNotInitialized
	}
	if params.PathPrefix == "" {
		params.PathPrefix = fetcher.DefaultPathPrefix
	}
	server := &Server{
		params: params,
		logger: params.Logger,
		ca:     params.CA,
		router: mux.NewRouter().StrictSlash(true),
	}
	server.registerRoutes()
	server.httpServer = &http.Server{
		Addr:         params.ListenAddress,
		Handler:      server.Handler(),
		TLSConfig:    params.TLSConfig,
		IdleTimeout:  HTTP_SERVER_IDLE_TIMEOUT,
		ReadTimeout:  HTTP_SERVER_READ_TIMEOUT,
		WriteTimeout: HTTP_SERVER_WRITE_TIMEOUT,
	}
	return server, nil
}

func (server *Server) registerRoutes() {
	router := server.router.PathPrefix(server.params.PathPrefix).Subrouter()
	router.HandleFunc("/certificate/{name}", server.getCertificate).Methods(http.MethodGet)
	router.HandleFunc("/certificate_revocation_list/{name}", server.getCRL).Methods(http.MethodGet)
	router.HandleFunc("/certificate_request/{name}", server.getRequest).Methods(http.MethodGet)
	router.HandleFunc("/certificate_request/{name}", server.putRequest).Methods(http.MethodPut)
	if server.params.AllowRenewal {
		router.HandleFunc("/certificate_renewal", server.postRenewal).Methods(http.MethodPost)
	}
}

// Handler returns the routes wrapped in the recovery and request logging
// middleware
func (server *Server) Handler() http.Handler {
	return negroni.New(
		negroni.NewRecovery(),
		negroni.HandlerFunc(server.logRequest),
		negroni.Wrap(server.router),
	)
}

func (server *Server) logRequest(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	start := time.Now()
	next(w, r)
	status := 0
	if rw, ok := w.(negroni.ResponseWriter); ok {
		status = rw.Status()
	}
	server.logger.Debug("caserver: request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"request-id", r.Header.Get(fetcher.HeaderRequestID),
		"duration", time.Since(start))
}

// ListenAndServe serves until Shutdown is called
func (server *Server) ListenAndServe() error {
	var err error
	if server.params.TLSConfig != nil {
		server.logger.Infof("caserver: starting secure TLS CA service on %s", server.params.ListenAddress)
		err = server.httpServer.ListenAndServeTLS("", "")
	} else {
		server.logger.Infof("caserver: starting CA service on plain-text HTTP %s", server.params.ListenAddress)
		err = server.httpServer.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (server *Server) Shutdown(ctx context.Context) error {
	server.logger.Info("caserver: shutting down")
	return server.httpServer.Shutdown(ctx)
}

func (server *Server) getCertificate(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if name == fetcher.CAName {
		modTime, err := server.ca.CACertModTime()
		if err == nil && notModified(r, modTime) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		certs, err := server.ca.CACertificates()
		if err != nil {
			server.writeError(w, err)
			return
		}
		writePEM(w, modTime, ssl.EncodeCertificatesPEM(certs))
		return
	}
	cert, err := server.ca.Certificate(name)
	if err != nil {
		server.writeError(w, err)
		return
	}
	if cert == nil {
		http.Error(w, fmt.Sprintf("Could not find certificate %s", name), http.StatusNotFound)
		return
	}
	writePEM(w, time.Time{}, ssl.EncodeCertificatePEM(cert))
}

func (server *Server) getCRL(w http.ResponseWriter, r *http.Request) {
	if mux.Vars(r)["name"] != fetcher.CAName {
		http.Error(w, "Only the CA CRL is available", http.StatusNotFound)
		return
	}
	modTime, err := server.ca.CRLModTime()
	if err == nil && notModified(r, modTime) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	crl, err := server.ca.CRL()
	if err != nil {
		server.writeError(w, err)
		return
	}
	if crl == nil {
		http.Error(w, "Could not find certificate_revocation_list ca", http.StatusNotFound)
		return
	}
	writePEM(w, modTime, ssl.EncodeCRLPEM(crl))
}

func (server *Server) getRequest(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	csr, err := server.ca.Request(name)
	if err != nil {
		server.writeError(w, err)
		return
	}
	if csr == nil {
		http.Error(w, fmt.Sprintf("Could not find certificate_request %s", name), http.StatusNotFound)
		return
	}
	writePEM(w, time.Time{}, ssl.EncodeCSRPEM(csr))
}

func (server *Server) putRequest(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		server.writeError(w, err)
		return
	}
	csr, err := ssl.DecodeCSRPEM(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := server.ca.SaveRequest(name, csr); err != nil {
		server.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", fetcher.ContentTypePEM)
	w.WriteHeader(http.StatusOK)
}

// postRenewal issues a new certificate for the client certificate the
// peer authenticated with
func (server *Server) postRenewal(w http.ResponseWriter, r *http.Request) {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		http.Error(w, "Certificate renewal requires a client certificate", http.StatusForbidden)
		return
	}
	cert, err := server.ca.Renew(r.TLS.PeerCertificates[0])
	if err != nil {
		server.writeError(w, err)
		return
	}
	writePEM(w, time.Time{}, ssl.EncodeCertificatePEM(cert))
}

func (server *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ca.ErrNotInitialized):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case ca.IsArgumentError(err), ca.IsSigningError(err),
		errors.Is(err, ssl.ErrInvalidCertname), ssl.IsKind(err, ssl.KindMismatch):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case ssl.IsKind(err, ssl.KindTrustFailure):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		server.logger.Error(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writePEM(w http.ResponseWriter, modTime time.Time, data []byte) {
	w.Header().Set("Content-Type", fetcher.ContentTypePEM)
	if !modTime.IsZero() {
		w.Header().Set("Last-Modified", modTime.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Reports whether the resource is unchanged since the If-Modified-Since
// header. HTTP dates have a one second resolution.
func notModified(r *http.Request, modTime time.Time) bool {
	header := r.Header.Get("If-Modified-Since")
	if header == "" || modTime.IsZero() {
		return false
	}
	since, err := http.ParseTime(header)
	if err != nil {
		return false
	}
	return !modTime.Truncate(time.Second).After(since)
}
