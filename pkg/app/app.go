package app

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/ca"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/caserver"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/config"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/fetcher"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/logging"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/ssl"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/statemachine"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/store/blob"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/store/certstore"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/store/lockfile"
)

var (
	ErrNotInitialized = errors.New("app: not initialized")
)

// App holds the settings and the components built from them. Commands
// receive an initialized App and ask it for what they need.
type App struct {
	Fs       afero.Fs
	Logger   *logging.Logger
	Settings *config.Settings
	Blobs    blob.BlobStorer
	Certs    *certstore.CertProvider
	Provider *ssl.Provider
	Lock     *lockfile.PidLock
	// Prompts for the CA key password when there is no capass file
	PasswordPrompt func() ([]byte, error)
}

type InitParams struct {
	ConfigDir string
	Debug     bool
	// Settings replaces the configuration file when set
	Settings *config.Settings
}

func NewApp() *App {
	return &App{Fs: afero.NewOsFs()}
}

// Init loads the configuration and builds the logger and stores
func (app *App) Init(params *InitParams) (*App, error) {
	if params == nil {
		params = &InitParams{}
	}
	if app.Fs == nil {
		app.Fs = afero.NewOsFs()
	}
	settings := params.Settings
	if settings == nil {
		var err error
		if settings, err = config.Load(viper.GetViper(), params.ConfigDir); err != nil {
			return nil, err
		}
	} else if err := settings.Resolve(); err != nil {
		return nil, err
	}
	if params.Debug {
		settings.Debug = true
	}
	app.Settings = settings

	if app.Logger == nil {
		logger, err := app.initLogger()
		if err != nil {
			return nil, err
		}
		app.Logger = logger
	}
	if err := app.initStores(); err != nil {
		return nil, err
	}
	if settings.Debug {
		app.Logger.Debug("Starting logger in debug mode...")
		if used := viper.ConfigFileUsed(); used != "" {
			app.Logger.Debugf("Using configuration file: %s", used)
		}
	}
	return app, nil
}

// Creates the stdout logger, fanning out to the log file when one is
// configured
func (app *App) initLogger() (*logging.Logger, error) {
	level := slog.LevelInfo
	if app.Settings.Debug {
		level = slog.LevelDebug
	}
	if app.Settings.LogFile == "" {
		return logging.NewLogger(level, nil), nil
	}
	if err := app.Fs.MkdirAll(filepath.Dir(app.Settings.LogFile), os.ModePerm); err != nil {
		return nil, err
	}
	f, err := app.Fs.OpenFile(app.Settings.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(level, f), nil
}

func (app *App) initStores() error {
	blobs, err := blob.NewFSBlobStore(app.Logger, app.Fs, "")
	if err != nil {
		return err
	}
	app.Blobs = blobs
	app.Certs = certstore.NewCertProvider(certstore.CertProviderParams{
		Logger: app.Logger,
		Blobs:  blobs,
		Paths:  app.Settings.Paths(),
	})
	app.Provider = ssl.NewProvider(ssl.ProviderParams{
		Logger:   app.Logger,
		Fs:       app.Fs,
		Store:    app.Certs,
		Certname: app.Settings.Certname,
	})
	app.Lock = lockfile.NewPidLock(app.Fs, app.Settings.SSLLockFile)
	return nil
}

// Revocation returns the configured revocation mode
func (app *App) Revocation() ssl.RevocationMode {
	mode, err := app.Settings.Revocation()
	if err != nil {
		// validated when the settings were resolved
		return ssl.RevocationChain
	}
	return mode
}

// Fetcher returns a client for the configured CA service
func (app *App) Fetcher() (*fetcher.Fetcher, error) {
	issuers, err := app.Settings.LoadAuthorizedIssuers(app.Fs)
	if err != nil {
		app.Logger.Error(err)
		return nil, err
	}
	return fetcher.NewFetcher(fetcher.Params{
		Logger:            app.Logger,
		URL:               app.Settings.ServerURL(),
		AuthorizedIssuers: issuers,
		CRLClockSkew:      app.Settings.Policy.CRLClockSkew,
	})
}

// StateMachine returns a bootstrap state machine for the host's certname
func (app *App) StateMachine() (*statemachine.Machine, error) {
	if app.Settings == nil {
		return nil, ErrNotInitialized
	}
	client, err := app.Fetcher()
	if err != nil {
		return nil, err
	}
	attrs, err := app.Settings.LoadCSRAttributes(app.Fs)
	if err != nil {
		app.Logger.Error(err)
		return nil, err
	}
	s := app.Settings
	return statemachine.NewMachine(statemachine.Params{
		Logger:             app.Logger,
		Certs:              app.Certs,
		Provider:           app.Provider,
		Client:             client,
		Lock:               app.Lock,
		Certname:           s.Certname,
		Revocation:         app.Revocation(),
		KeyParams:          s.KeyParams,
		DNSAltNames:        s.AltNames(),
		CSRAttributes:      attrs,
		WaitForCert:        s.WaitForCert,
		MaxWaitForCert:     s.MaxWaitForCert,
		WaitForLock:        s.WaitForLock,
		MaxWaitForLock:     s.MaxWaitForLock,
		OneTime:            s.OneTime,
		Digest:             s.Digest,
		CAFingerprint:      s.CAFingerprint,
		CARefreshInterval:  s.CARefreshInterval,
		CRLRefreshInterval: s.CRLRefreshInterval,
		RenewalInterval:    s.HostcertRenewalInterval,
	}), nil
}

// CA returns the certificate authority in the configured cadir. It may
// not be set up yet.
func (app *App) CA() (*ca.CertificateAuthority, error) {
	if app.Settings == nil {
		return nil, ErrNotInitialized
	}
	return ca.NewCertificateAuthority(ca.CAParams{
		Logger:         app.Logger,
		Fs:             app.Fs,
		Config:         app.Settings.CA,
		Certname:       app.Settings.Certname,
		KeyParams:      app.Settings.KeyParams,
		Backdate:       app.Settings.Policy.NotBeforeBackdate,
		Revocation:     app.Revocation(),
		PasswordPrompt: app.PasswordPrompt,
	})
}

// CAServer returns the CA service for authority. Unless plainText is set
// the service presents a certificate for the host's certname, issuing one
// from authority when the host has none, and accepts client certificates
// signed by it.
func (app *App) CAServer(authority *ca.CertificateAuthority, plainText bool) (*caserver.Server, error) {
	params := caserver.Params{
		Logger:        app.Logger,
		CA:            authority,
		ListenAddress: app.Settings.CAListen,
		AllowRenewal:  app.Settings.AllowRenewal,
	}
	if !plainText {
		tlsConfig, err := app.serverTLSConfig(authority)
		if err != nil {
			return nil, err
		}
		params.TLSConfig = tlsConfig
	}
	return caserver.NewServer(params)
}

func (app *App) serverTLSConfig(authority *ca.CertificateAuthority) (*tls.Config, error) {
	certname := app.Settings.Certname
	password := app.Certs.LoadPrivateKeyPassword()

	key, err := app.Certs.LoadPrivateKey(certname, false, password)
	if err != nil {
		return nil, err
	}
	cert, err := app.Certs.LoadClientCert(certname, false)
	if err != nil {
		return nil, err
	}
	if key == nil || cert == nil {
		app.Logger.Infof("Issuing a server certificate for %s", certname)
		if cert, key, err = authority.Generate(certname, app.Settings.AltNames()); err != nil {
			app.Logger.Error(err)
			return nil, err
		}
		if err := app.Certs.SavePrivateKey(certname, key, password); err != nil {
			return nil, err
		}
		if err := app.Certs.SaveClientCert(certname, cert); err != nil {
			return nil, err
		}
	}

	cacerts, err := authority.CACertificates()
	if err != nil {
		return nil, err
	}
	clientCAs := x509.NewCertPool()
	for _, cacert := range cacerts {
		clientCAs.AddCert(cacert)
	}
	chain := [][]byte{cert.Raw}
	for _, cacert := range cacerts {
		chain = append(chain, cacert.Raw)
	}
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		Certificates: []tls.Certificate{{
			Certificate: chain,
			PrivateKey:  key,
			Leaf:        cert,
		}},
		ClientCAs:  clientCAs,
		ClientAuth: tls.VerifyClientCertIfGiven,
		// rejects client certificates on the CA's CRL
		VerifyPeerCertificate: func(_ [][]byte, chains [][]*x509.Certificate) error {
			if len(chains) == 0 || len(chains[0]) == 0 {
				return nil
			}
			return authority.VerifyClient(chains[0][0])
		},
	}, nil
}

// Clean removes the host's key, certificate, request and CRL, and the CA
// bundle when localca is set. It refuses to run while the ssl lock is
// held by another process.
func (app *App) Clean(localca bool) ([]string, error) {
	if app.Lock.Locked() && !app.Lock.Mine() {
		pid, _ := app.Lock.Pid()
		return nil, fmt.Errorf("%w (pid %d)", lockfile.ErrLocked, pid)
	}
	certname := app.Settings.Certname
	removed := []string{}
	report := func(name string, ok bool, err error) error {
		if err != nil {
			return err
		}
		if ok {
			removed = append(removed, name)
		}
		return nil
	}
	ok, err := app.Certs.DeletePrivateKey(certname)
	if err := report(app.Settings.HostPrivKey, ok, err); err != nil {
		return removed, err
	}
	ok, err = app.Certs.DeleteClientCert(certname)
	if err := report(app.Settings.HostCert, ok, err); err != nil {
		return removed, err
	}
	ok, err = app.Certs.DeleteRequest(certname)
	if err := report(app.Settings.HostCSR, ok, err); err != nil {
		return removed, err
	}
	ok, err = app.Certs.DeleteCRLs()
	if err := report(app.Settings.HostCRL, ok, err); err != nil {
		return removed, err
	}
	if localca {
		ok, err = app.Certs.DeleteCACerts()
		if err := report(app.Settings.LocalCACert, ok, err); err != nil {
			return removed, err
		}
	}
	for _, path := range removed {
		app.Logger.Infof("Removed %s", path)
	}
	return removed, nil
}
