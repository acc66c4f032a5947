package ssl

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"slices"
	"strings"
)

// RevocationMode controls which CRLs must be present and valid when a
// chain is verified
type RevocationMode int

const (
	// CRLs are never consulted
	RevocationOff RevocationMode = iota
	// Only the CRL of the leaf's issuer is required
	RevocationLeaf
	// Every CA in the chain must have a valid CRL
	RevocationChain
)

// ParseRevocationMode accepts the values of the certificate_revocation setting
func ParseRevocationMode(value string) (RevocationMode, error) {
	switch strings.ToLower(strings.TrimPrefix(value, ":")) {
	case "false", "off", "no":
		return RevocationOff, nil
	case "leaf":
		return RevocationLeaf, nil
	case "", "true", "chain", "yes":
		return RevocationChain, nil
	}
	return RevocationOff, fmt.Errorf("%w: %s", ErrInvalidRevocation, value)
}

func (m RevocationMode) String() string {
	switch m {
	case RevocationOff:
		return "false"
	case RevocationLeaf:
		return "leaf"
	default:
		return "chain"
	}
}

// Context is the trust configuration for a TLS connection. It is built by
// the Provider and never changes after construction, so it may be shared
// between goroutines. Accessors return copies.
type Context struct {
	cacerts     []*x509.Certificate
	crls        []*x509.RevocationList
	privateKey  crypto.Signer
	clientCert  *x509.Certificate
	clientChain []*x509.Certificate
	revocation  RevocationMode
	verifyPeer  bool
	systemPool  *x509.CertPool
}

// CACerts returns the trusted CA certificates
func (c *Context) CACerts() []*x509.Certificate {
	return slices.Clone(c.cacerts)
}

// CRLs returns the revocation lists
func (c *Context) CRLs() []*x509.RevocationList {
	return slices.Clone(c.crls)
}

func (c *Context) PrivateKey() crypto.Signer {
	return c.privateKey
}

func (c *Context) ClientCert() *x509.Certificate {
	return c.clientCert
}

// ClientChain returns the resolved chain of the client certificate, leaf first
func (c *Context) ClientChain() []*x509.Certificate {
	return slices.Clone(c.clientChain)
}

func (c *Context) Revocation() RevocationMode {
	return c.revocation
}

func (c *Context) VerifyPeer() bool {
	return c.verifyPeer
}

// HasClientIdentity reports whether the context carries a client cert and key
func (c *Context) HasClientIdentity() bool {
	return c.clientCert != nil && c.privateKey != nil
}

// RootPool returns a pool containing the trusted CA certificates and, for
// system contexts, the OS trust store
func (c *Context) RootPool() *x509.CertPool {
	var pool *x509.CertPool
	if c.systemPool != nil {
		pool = c.systemPool.Clone()
	} else {
		pool = x509.NewCertPool()
	}
	for _, cert := range c.cacerts {
		pool.AddCert(cert)
	}
	return pool
}
