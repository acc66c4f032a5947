package agent

import (
	"github.com/jeremyhahn/go-puppet-ssl/pkg/cmd/common"
	"github.com/spf13/cobra"
)

var GenerateRequestCmd = &cobra.Command{
	Use:   "generate_request",
	Short: "Generates a certificate request without submitting it",
	Long: `Generates a private key for the host if needed and writes a certificate
request to the requestdir. Use this when the request is handed to the CA
out of band.`,
	RunE: func(cmd *cobra.Command, args []string) error {

		if err := initApp(); err != nil {
			return err
		}

		key, err := loadOrGenerateKey()
		if err != nil {
			return err
		}
		csr, err := createRequest(key)
		if err != nil {
			return err
		}
		certname := App.Settings.Certname
		if err := App.Certs.SaveRequest(certname, csr); err != nil {
			return err
		}
		path, err := App.Certs.Paths().Request(certname)
		if err != nil {
			return err
		}
		common.PrintNotice(cmd.OutOrStdout(), "Generated certificate request in '%s'", path)
		return nil
	},
}
