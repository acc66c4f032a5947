package agent

import (
	"fmt"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/cmd/common"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/ssl"
	"github.com/spf13/cobra"
)

var showPEM bool

func init() {
	ShowCmd.Flags().BoolVar(&showPEM, "pem", false, "Display the certificate in PEM form")
}

var ShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Displays the host certificate",
	RunE: func(cmd *cobra.Command, args []string) error {

		if err := initApp(); err != nil {
			return err
		}

		certname := App.Settings.Certname
		cert, err := App.Certs.LoadClientCert(certname, false)
		if err != nil {
			return err
		}
		if cert == nil {
			return fmt.Errorf("The certificate for '%s' has not been downloaded", certname)
		}
		if showPEM {
			cmd.Print(string(ssl.EncodeCertificatePEM(cert)))
			return nil
		}
		return common.PrintCertificate(cmd.OutOrStdout(), cert, App.Settings.Digest)
	},
}
