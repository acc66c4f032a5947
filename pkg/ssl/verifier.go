package ssl

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/logging"
	"github.com/samber/lo"
)

// DefaultCRLClockSkew is how far in the future a CRL's last update may be
// before it is rejected as not yet valid
const DefaultCRLClockSkew = 5 * time.Minute

type VerifierParams struct {
	Logger  *logging.Logger
	Context *Context
	// Issuers from the ssl_client_ca_auth file. The context CA certs
	// are used when empty.
	AuthorizedIssuers []*x509.Certificate
	CRLClockSkew      time.Duration
	Now               func() time.Time
}

// Verifier checks the certificate chain a server presents during the TLS
// handshake. It records the reason for every rejected certificate. A
// Verifier holds the state of a single connection.
type Verifier struct {
	params       VerifierParams
	logger       *logging.Logger
	mu           sync.Mutex
	verifyErrors []string
	peerCerts    []*x509.Certificate
}

func NewVerifier(params VerifierParams) *Verifier {
	if params.Logger == nil {
		params.Logger = logging.DefaultLogger()
	}
	if params.CRLClockSkew == 0 {
		params.CRLClockSkew = DefaultCRLClockSkew
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &Verifier{
		params: params,
		logger: params.Logger,
	}
}

// VerifyErrors returns the errors recorded since the last Reset
func (v *Verifier) VerifyErrors() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string{}, v.verifyErrors...)
}

// Reset clears the recorded errors and peer certificates
func (v *Verifier) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.verifyErrors = nil
	v.peerCerts = nil
}

func (v *Verifier) record(message string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.verifyErrors = append(v.verifyErrors, message)
}

func (v *Verifier) authorizedIssuers() []*x509.Certificate {
	if len(v.params.AuthorizedIssuers) > 0 {
		return v.params.AuthorizedIssuers
	}
	if v.params.Context == nil {
		return nil
	}
	return v.params.Context.cacerts
}

// Call is invoked once per certificate of the peer chain, root first.
// Failed checks are rejected except for CRLs whose last update lies
// within the configured clock skew. When the peer certificate is reached
// the chain must contain a certificate issued by an authorized issuer.
func (v *Verifier) Call(ok bool, status *CertStatus) (accept bool) {
	defer func() {
		if r := recover(); r != nil {
			v.record(fmt.Sprint(r))
			accept = false
		}
	}()

	if status.Cert != nil {
		v.mu.Lock()
		if !containsCert(v.peerCerts, status.Cert) {
			v.peerCerts = append(v.peerCerts, status.Cert)
		}
		v.mu.Unlock()
	}

	if ok {
		if status.Depth == 0 {
			chain := v.PeerCerts()
			return v.HasAuthzPeerCert(chain, v.authorizedIssuers())
		}
		return true
	}

	reason := status.Code.String()
	if reason == "" {
		reason = fmt.Sprintf("OpenSSL error %d", status.Code)
	}
	if status.Code == VerifyCRLNotYetValid {
		crl := status.CRL
		if crl == nil {
			v.record(reason)
			return false
		}
		now := v.params.Now()
		if crl.ThisUpdate.Before(now.Add(v.params.CRLClockSkew)) {
			v.logger.Debugf("Ignoring CRL not yet valid, current time %s, CRL last updated %s",
				now.UTC(), crl.ThisUpdate.UTC())
			return true
		}
		v.record(fmt.Sprintf("%s for %s", reason, crl.Issuer.String()))
		return false
	}
	subject := ""
	if status.Cert != nil {
		subject = Subject(status.Cert)
	}
	v.record(fmt.Sprintf("%s for %s", reason, subject))
	return false
}

// PeerCerts returns the certificates seen by Call, leaf first
func (v *Verifier) PeerCerts() []*x509.Certificate {
	v.mu.Lock()
	defer v.mu.Unlock()
	return lo.Reverse(append([]*x509.Certificate{}, v.peerCerts...))
}

// HasAuthzPeerCert reports whether any certificate in the peer chain was
// signed by one of the authorized issuers
func (v *Verifier) HasAuthzPeerCert(peer, authorized []*x509.Certificate) bool {
	return lo.SomeBy(peer, func(cert *x509.Certificate) bool {
		return lo.SomeBy(authorized, func(issuer *x509.Certificate) bool {
			return bytes.Equal(cert.RawIssuer, issuer.RawSubject) && checkSignature(cert, issuer) == nil
		})
	})
}

// ValidPeer checks the peer chain against the authorized issuers after
// the handshake and records a descriptive error when none matches
func (v *Verifier) ValidPeer() bool {
	peer := v.PeerCerts()
	authorized := v.authorizedIssuers()
	if v.HasAuthzPeerCert(peer, authorized) {
		return true
	}
	v.record(fmt.Sprintf("The server presented a SSL certificate chain which does not include a "+
		"CA listed in the ssl_client_ca_auth file.  Authorized Issuers: %s  Peer Chain: %s",
		strings.Join(lo.Map(authorized, subjectOf), ", "),
		strings.Join(lo.Map(peer, subjectOf), " => ")))
	return false
}

func subjectOf(cert *x509.Certificate, _ int) string {
	return Subject(cert)
}

// VerifyConnection verifies the server chain of a completed handshake. It
// is installed as tls.Config.VerifyConnection by TLSConfig.
func (v *Verifier) VerifyConnection(state tls.ConnectionState) error {
	v.Reset()
	ctx := v.params.Context
	if len(state.PeerCertificates) == 0 {
		return newError(KindTrustFailure, "The server did not present a certificate")
	}
	leaf := state.PeerCertificates[0]

	if ctx.systemPool != nil {
		if err := v.verifySystem(state); err != nil {
			return err
		}
	} else {
		verifier := &chainVerifier{
			trusted:    ctx.cacerts,
			untrusted:  state.PeerCertificates[1:],
			crls:       ctx.crls,
			revocation: ctx.revocation,
			now:        v.params.Now(),
			callback:   v.Call,
		}
		if _, err := verifier.verify(leaf); err != nil {
			if err.Code == VerifyOK && !v.ValidPeer() {
				return v.authzFailure()
			}
			return v.verifyFailure(err)
		}
	}

	if state.ServerName != "" {
		if err := leaf.VerifyHostname(state.ServerName); err != nil {
			names := append([]string{}, leaf.DNSNames...)
			if len(names) == 0 && leaf.Subject.CommonName != "" {
				names = append(names, leaf.Subject.CommonName)
			}
			names = append(names, lo.Map(leaf.IPAddresses, func(ip net.IP, _ int) string {
				return ip.String()
			})...)
			return &Error{
				Kind: KindTrustFailure,
				Code: VerifyHostnameMismatch,
				Cert: leaf,
				Message: fmt.Sprintf("Server hostname '%s' did not match server certificate; expected one of %s",
					state.ServerName, strings.Join(names, ", ")),
				Cause: err,
			}
		}
	}

	if ctx.systemPool == nil && !v.ValidPeer() {
		return v.authzFailure()
	}
	return nil
}

func (v *Verifier) authzFailure() error {
	errs := v.VerifyErrors()
	return newError(KindTrustFailure, "%s", errs[len(errs)-1])
}

// verifySystem delegates to crypto/x509 when the operating system trust
// store is in use, since its certificates cannot be enumerated
func (v *Verifier) verifySystem(state tls.ConnectionState) error {
	intermediates := x509.NewCertPool()
	for _, cert := range state.PeerCertificates[1:] {
		intermediates.AddCert(cert)
	}
	leaf := state.PeerCertificates[0]
	chains, err := leaf.Verify(x509.VerifyOptions{
		Roots:         v.params.Context.RootPool(),
		Intermediates: intermediates,
		CurrentTime:   v.params.Now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		message := fmt.Sprintf("%s for %s", err, Subject(leaf))
		v.record(message)
		return NewError(KindTrustFailure, err, "%s", message)
	}
	v.mu.Lock()
	v.peerCerts = lo.Reverse(append([]*x509.Certificate{}, chains[0]...))
	v.mu.Unlock()
	return nil
}

func (v *Verifier) verifyFailure(err *Error) error {
	errs := v.VerifyErrors()
	if len(errs) == 0 {
		return err
	}
	return &Error{
		Kind:    KindTrustFailure,
		Code:    err.Code,
		Cert:    err.Cert,
		Message: fmt.Sprintf("certificate verify failed [%s]", errs[len(errs)-1]),
		Cause:   err,
	}
}

// TLSConfig returns a client configuration that presents the context's
// client certificate and verifies the server with this Verifier
func (v *Verifier) TLSConfig(serverName string) (*tls.Config, error) {
	ctx := v.params.Context
	if ctx == nil {
		return nil, errors.New("ssl: verifier has no SSL context")
	}
	config := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}
	if ctx.HasClientIdentity() {
		chain := ctx.clientChain
		if len(chain) == 0 {
			chain = []*x509.Certificate{ctx.clientCert}
		}
		config.Certificates = []tls.Certificate{{
			Certificate: lo.Map(chain, func(cert *x509.Certificate, _ int) []byte { return cert.Raw }),
			PrivateKey:  ctx.privateKey,
			Leaf:        ctx.clientCert,
		}}
	}
	// Chain verification is done by VerifyConnection so that CRLs and the
	// clock skew tolerance apply
	config.InsecureSkipVerify = true
	if ctx.verifyPeer {
		config.VerifyConnection = func(state tls.ConnectionState) error {
			if state.ServerName == "" {
				state.ServerName = serverName
			}
			return v.VerifyConnection(state)
		}
	}
	return config, nil
}
