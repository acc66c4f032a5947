package ca

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/fatih/color"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/app"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/ca"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/config"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/logging"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/ssl"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const TEST_CA_CERTNAME = "puppet.example.com"

func init() {
	color.NoColor = true
}

// Sets the package App to a CA host on an in-memory filesystem
func setupTestApp(t *testing.T) *app.App {
	testApp := &app.App{
		Fs:     afero.NewMemMapFs(),
		Logger: logging.DiscardLogger(),
	}
	testApp, err := testApp.Init(&app.InitParams{
		Settings: &config.Settings{
			Certname:              TEST_CA_CERTNAME,
			SSLDir:                "/ssl",
			ConfigDir:             "/etc/puppet-ssl",
			CertificateRevocation: "chain",
			KeyParams:             ssl.KeyParams{Type: ssl.KeyTypeEC},
			CA:                    ca.Config{Dir: "/ca"},
		},
	})
	require.NoError(t, err)
	App = testApp
	t.Cleanup(func() { App = nil })
	return testApp
}

// Sets up the CA and queues a request for name
func submitTestRequest(t *testing.T, name string, altNames ...string) {
	authority, err := App.CA()
	require.NoError(t, err)
	require.NoError(t, authority.Setup())

	key, err := ssl.GenerateKey(ssl.KeyParams{Type: ssl.KeyTypeEC})
	require.NoError(t, err)
	csr, err := ssl.CreateRequest(ssl.NewSigner(), name, key, ssl.RequestOptions{DNSAltNames: altNames})
	require.NoError(t, err)
	require.NoError(t, authority.SaveRequest(name, csr))
}

func executeCommand(cmd *cobra.Command, args []string) string {

	b := new(bytes.Buffer)

	cmd.SetOut(b)
	cmd.SetErr(b)
	cmd.SetArgs(args)

	err := cmd.Execute()
	if err != nil {
		slog.Error(err.Error())
		return err.Error()
	}

	return b.String()
}
