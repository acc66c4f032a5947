package cmd

import (
	"github.com/jeremyhahn/go-puppet-ssl/pkg/cmd/ca"
	"github.com/spf13/cobra"
)

func init() {

	rootCmd.AddCommand(caCmd)

	caCmd.AddCommand(ca.CleanCmd)
	caCmd.AddCommand(ca.FingerprintCmd)
	caCmd.AddCommand(ca.GenerateCmd)
	caCmd.AddCommand(ca.ListCmd)
	caCmd.AddCommand(ca.RevokeCmd)
	caCmd.AddCommand(ca.ServeCmd)
	caCmd.AddCommand(ca.SetupCmd)
	caCmd.AddCommand(ca.SignCmd)
	caCmd.AddCommand(ca.VerifyCmd)
}

var caCmd = &cobra.Command{
	Use:   "ca",
	Short: "Certificate Authority",
	Long: `Sets up and runs the certificate authority: signs, lists, revokes and
cleans host certificates and serves them to agents over HTTPS.`,
}
