package certstore

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/ssl"
)

var (
	ErrCertNotFound = errors.New("store/certstore: certificate not found")
	ErrKeyNotFound  = errors.New("store/certstore: private key not found")
)

const FSEXT_PEM = ".pem"

// Paths locates the agent SSL artifacts. The host* paths are used for the
// agent's own certname, the directories for every other name.
type Paths struct {
	Certname      string
	LocalCACert   string
	HostCRL       string
	HostPrivKey   string
	HostCert      string
	PrivateKeyDir string
	CertDir       string
	RequestDir    string
	PassFile      string
}

// Returns <dir>/<name>.pem with the name lower-cased
func toPath(dir, name string) (string, error) {
	if err := ssl.ValidateCertname(name); err != nil {
		return "", err
	}
	return filepath.Join(dir, strings.ToLower(name)+FSEXT_PEM), nil
}

func (p Paths) PrivateKey(name string) (string, error) {
	if name == p.Certname && p.HostPrivKey != "" {
		return p.HostPrivKey, nil
	}
	return toPath(p.PrivateKeyDir, name)
}

func (p Paths) ClientCert(name string) (string, error) {
	if name == p.Certname && p.HostCert != "" {
		return p.HostCert, nil
	}
	return toPath(p.CertDir, name)
}

func (p Paths) Request(name string) (string, error) {
	return toPath(p.RequestDir, name)
}
