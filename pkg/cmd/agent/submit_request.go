package agent

import (
	"github.com/jeremyhahn/go-puppet-ssl/pkg/cmd/common"
	"github.com/spf13/cobra"
)

var SubmitRequestCmd = &cobra.Command{
	Use:   "submit_request",
	Short: "Submits a certificate request to the CA",
	Long: `Generates a private key and certificate request for the host if needed
and submits the request to the CA. The signed certificate is downloaded if
the CA signed it right away.`,
	RunE: func(cmd *cobra.Command, args []string) error {

		if err := initApp(); err != nil {
			return err
		}

		client, sslctx, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		key, err := loadOrGenerateKey()
		if err != nil {
			return err
		}
		if err := submitRequest(cmd.Context(), cmd.OutOrStdout(), client, sslctx, key); err != nil {
			return err
		}

		cert, err := downloadCert(cmd.Context(), cmd.OutOrStdout(), client, sslctx, key)
		if err != nil {
			return err
		}
		if cert == nil {
			common.PrintWarning(cmd.OutOrStdout(),
				"The certificate for '%s' has not yet been signed", App.Settings.Certname)
		}
		return nil
	},
}
