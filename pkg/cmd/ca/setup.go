package ca

import (
	"github.com/jeremyhahn/go-puppet-ssl/pkg/cmd/common"
	"github.com/spf13/cobra"
)

var SetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Creates the CA key, certificate and CRL",
	Long: `Generates the CA private key, its password file, the self-signed CA
certificate and an empty CRL in the cadir. An existing CA is loaded and
left unchanged.`,
	RunE: func(cmd *cobra.Command, args []string) error {

		if err := initApp(); err != nil {
			return err
		}

		authority, err := App.CA()
		if err != nil {
			return err
		}
		existed := authority.Initialized()
		if err := authority.Setup(); err != nil {
			return err
		}
		cert, err := authority.CACertificate()
		if err != nil {
			return err
		}
		if existed {
			common.PrintWarning(cmd.OutOrStdout(), "The CA '%s' is already set up", authority.Name())
		} else {
			common.PrintNotice(cmd.OutOrStdout(), "Generated the CA certificate for '%s'", authority.Name())
		}
		return common.PrintCertificate(cmd.OutOrStdout(), cert, App.Settings.Digest)
	},
}
