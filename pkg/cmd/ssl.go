package cmd

import (
	"github.com/jeremyhahn/go-puppet-ssl/pkg/cmd/agent"
	"github.com/spf13/cobra"
)

func init() {

	rootCmd.AddCommand(sslCmd)

	sslCmd.AddCommand(agent.BootstrapCmd)
	sslCmd.AddCommand(agent.CleanCmd)
	sslCmd.AddCommand(agent.DownloadCertCmd)
	sslCmd.AddCommand(agent.GenerateRequestCmd)
	sslCmd.AddCommand(agent.ShowCmd)
	sslCmd.AddCommand(agent.ShowConfigCmd)
	sslCmd.AddCommand(agent.SubmitRequestCmd)
	sslCmd.AddCommand(agent.VerifyCmd)
}

var sslCmd = &cobra.Command{
	Use:   "ssl",
	Short: "Manage the host's SSL keys and certificates",
	Long: `Submits certificate requests, downloads signed certificates, verifies
the local SSL material and cleans it up so the host can bootstrap again.`,
}
