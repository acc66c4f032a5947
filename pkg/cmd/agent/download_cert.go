package agent

import (
	"fmt"

	"github.com/spf13/cobra"
)

var DownloadCertCmd = &cobra.Command{
	Use:   "download_cert",
	Short: "Downloads the host certificate from the CA",
	RunE: func(cmd *cobra.Command, args []string) error {

		if err := initApp(); err != nil {
			return err
		}

		client, sslctx, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		certname := App.Settings.Certname
		key, err := App.Certs.LoadPrivateKey(certname, true, App.Certs.LoadPrivateKeyPassword())
		if err != nil {
			return err
		}
		cert, err := downloadCert(cmd.Context(), cmd.OutOrStdout(), client, sslctx, key)
		if err != nil {
			return err
		}
		if cert == nil {
			return fmt.Errorf("The certificate for '%s' has not yet been signed", certname)
		}
		return nil
	},
}
