package ca

import (
	"errors"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/app"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/ca"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/cmd/common"
)

var (
	ErrNotSetUp = errors.New("The CA is not set up, run 'ca setup' first")

	App        *app.App
	InitParams *app.InitParams
	err        error
)

func init() {
	InitParams = &app.InitParams{}
}

func initApp() error {
	App, err = common.InitApp(App, InitParams)
	if err != nil {
		return err
	}
	if App.PasswordPrompt == nil {
		App.PasswordPrompt = common.PasswordPrompt("CA private key password")
	}
	return nil
}

// Returns the CA with its key and certificate loaded
func loadCA() (*ca.CertificateAuthority, error) {
	if err := initApp(); err != nil {
		return nil, err
	}
	authority, err := App.CA()
	if err != nil {
		return nil, err
	}
	if !authority.Initialized() {
		return nil, ErrNotSetUp
	}
	if err := authority.Setup(); err != nil {
		return nil, err
	}
	return authority, nil
}
