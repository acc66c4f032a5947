package agent

import (
	"github.com/jeremyhahn/go-puppet-ssl/pkg/cmd/common"
	"github.com/spf13/cobra"
)

var BootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Runs the certificate bootstrap until the host has a certificate",
	Long: `Downloads the CA bundle and CRLs, generates a key, submits a certificate
request and waits for the CA to sign it, honoring waitforcert,
maxwaitforcert and onetime. Existing material is verified and refreshed.`,
	RunE: func(cmd *cobra.Command, args []string) error {

		if err := initApp(); err != nil {
			return err
		}

		machine, err := App.StateMachine()
		if err != nil {
			return err
		}
		sslctx, err := machine.EnsureClientCertificate(cmd.Context())
		if err != nil {
			return err
		}
		common.PrintNotice(cmd.OutOrStdout(), "Completed SSL initialization for %s", App.Settings.Certname)
		return common.PrintCertificate(cmd.OutOrStdout(), sslctx.ClientCert(), App.Settings.Digest)
	},
}
