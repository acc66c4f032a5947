package agent

import (
	"bytes"
	"log/slog"
	"net/http/httptest"
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

const TEST_CERTNAME = "agent.example.com"

func init() {
	color.NoColor = true
}

// Sets the package App to an agent on an in-memory filesystem whose CA
// runs in the same process
func setupTestApp(t *testing.T, autosign string) (*app.App, *ca.CertificateAuthority) {
	testApp := &app.App{
		Fs:     afero.NewMemMapFs(),
		Logger: logging.DiscardLogger(),
	}
	testApp, err := testApp.Init(&app.InitParams{
		Settings: &config.Settings{
			Certname:              TEST_CERTNAME,
			SSLDir:                "/ssl",
			ConfigDir:             "/etc/puppet-ssl",
			CertificateRevocation: "chain",
			KeyParams:             ssl.KeyParams{Type: ssl.KeyTypeEC},
			CA: ca.Config{
				Dir:      "/ca",
				Autosign: autosign,
			},
		},
	})
	require.NoError(t, err)

	authority, err := testApp.CA()
	require.NoError(t, err)
	require.NoError(t, authority.Setup())
	server, err := testApp.CAServer(authority, true)
	require.NoError(t, err)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	testApp.Settings.CAURL = ts.URL

	App = testApp
	t.Cleanup(func() { App = nil })
	return testApp, authority
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
