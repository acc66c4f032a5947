package cmd

import (
	"fmt"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/app"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/cmd/agent"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/cmd/ca"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	InitParams *app.InitParams
)

var rootCmd = &cobra.Command{
	Use:   app.Name,
	Short: "Puppet SSL trust and certificate lifecycle",
	Long: `Bootstraps and maintains the SSL identity of a Puppet host: the CA
bundle, CRLs, private key and client certificate, and runs the certificate
authority that signs, renews and revokes them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {

	// Shared by every subcommand package so flags parsed here reach
	// App.Init
	InitParams = &app.InitParams{}
	agent.InitParams = InitParams
	ca.InitParams = InitParams

	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&InitParams.Debug, "debug", "d", false, "Enable debug logging")
	flags.StringVar(&InitParams.ConfigDir, "config-dir", config.DefaultConfigDir, "Configuration file directory")
	flags.String("log-file", "", "Also write logs to this file")
	flags.String("certname", "", "The name the host's certificate is issued to (default: the FQDN)")
	flags.String("server", "", fmt.Sprintf("Puppet server host name (default %q)", config.DefaultServer))
	flags.String("ca-server", "", "CA host name, defaults to --server")
	flags.Int("ca-port", 0, fmt.Sprintf("CA port (default %d)", config.DefaultCAPort))
	flags.String("ca-url", "", "Full CA service URL, overrides --ca-server and --ca-port")
	flags.String("ssldir", "", fmt.Sprintf("SSL directory (default %q)", config.DefaultSSLDir))
	flags.String("certificate-revocation", "", "Revocation checking: chain, leaf or false")
	flags.String("dns-alt-names", "", "Comma separated DNS alt names to request")
	flags.String("ca-fingerprint", "", "Expected digest of the CA bundle on first download")
	flags.String("digest", "", "Digest used for fingerprints")
	flags.Duration("waitforcert", 0, "Interval between checks for a signed certificate, 0 to exit")
	flags.Duration("maxwaitforcert", 0, "Give up waiting for a signed certificate after this long")
	flags.Duration("waitforlock", 0, "Interval between attempts to take the ssl lock, 0 to exit")
	flags.Duration("maxwaitforlock", 0, "Give up waiting for the ssl lock after this long")
	flags.Bool("onetime", false, "Exit instead of waiting for a certificate")

	viper.BindPFlags(flags)

	rootCmd.AddCommand(versionCmd)
}

func Execute() error {
	return rootCmd.Execute()
}
