package agent

import (
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/cmd/common"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/fetcher"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/ssl"
)

// Loads the host key, creating and saving a new one when there is none
func loadOrGenerateKey() (crypto.Signer, error) {
	certname := App.Settings.Certname
	password := App.Certs.LoadPrivateKeyPassword()
	key, err := App.Certs.LoadPrivateKey(certname, false, password)
	if err != nil || key != nil {
		return key, err
	}
	App.Logger.Infof("Creating a new SSL key for %s", certname)
	if key, err = ssl.GenerateKey(App.Settings.KeyParams); err != nil {
		return nil, err
	}
	if err := App.Certs.SavePrivateKey(certname, key, password); err != nil {
		return nil, err
	}
	return key, nil
}

// Builds a CSR for the host from the configured alt names and attributes
func createRequest(key crypto.Signer) (*x509.CertificateRequest, error) {
	attrs, err := App.Settings.LoadCSRAttributes(App.Fs)
	if err != nil {
		return nil, err
	}
	return App.Certs.CreateRequest(App.Settings.Certname, key, ssl.RequestOptions{
		DNSAltNames: App.Settings.AltNames(),
		Attributes:  attrs,
	})
}

func submitRequest(
	ctx context.Context,
	out io.Writer,
	client *fetcher.Fetcher,
	sslctx *ssl.Context,
	key crypto.Signer) error {

	certname := App.Settings.Certname
	csr, err := createRequest(key)
	if err != nil {
		return err
	}
	if err := client.PutCertificateRequest(ctx, sslctx, certname, csr); err != nil {
		if fetcher.StatusCode(err) == http.StatusBadRequest {
			return fmt.Errorf("Could not submit certificate request for '%s' to %s due to a conflict on the server",
				certname, client.URL())
		}
		return fmt.Errorf("Failed to submit certificate request: %s", err)
	}
	if err := App.Certs.SaveRequest(certname, csr); err != nil {
		return err
	}
	common.PrintNotice(out, "Submitted certificate request for '%s' to %s", certname, client.URL())
	return nil
}

// Downloads the host certificate and checks it against the CA bundle,
// CRLs and key. A certificate the CA has not signed yet is reported as
// nil without an error.
func downloadCert(
	ctx context.Context,
	out io.Writer,
	client *fetcher.Fetcher,
	sslctx *ssl.Context,
	key crypto.Signer) (*x509.Certificate, error) {

	certname := App.Settings.Certname
	data, err := client.GetCertificate(ctx, sslctx, certname, time.Time{})
	if err != nil {
		if fetcher.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("Failed to download certificate: %s", err)
	}
	cert, err := ssl.DecodeCertificatePEM(data)
	if err != nil {
		return nil, fmt.Errorf("Failed to parse certificate: %s", err)
	}
	if _, err := App.Provider.CreateContext(
		sslctx.CACerts(), sslctx.CRLs(), key, cert, sslctx.Revocation(), false); err != nil {
		return nil, err
	}
	if err := App.Certs.SaveClientCert(certname, cert); err != nil {
		return nil, err
	}
	if _, err := App.Certs.DeleteRequest(certname); err != nil {
		return nil, err
	}
	common.PrintNotice(out, "Downloaded certificate for %s from %s", certname, client.URL())
	return cert, nil
}

// Returns a client and an SSL context trusting the CA bundle, fetching the
// bundle and CRLs first when needed
func connect(ctx context.Context) (*fetcher.Fetcher, *ssl.Context, error) {
	machine, err := App.StateMachine()
	if err != nil {
		return nil, nil, err
	}
	sslctx, err := machine.EnsureCACertificates(ctx)
	if err != nil {
		return nil, nil, err
	}
	client, err := App.Fetcher()
	if err != nil {
		return nil, nil, err
	}
	return client, sslctx, nil
}
