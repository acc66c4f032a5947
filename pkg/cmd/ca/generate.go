package ca

import (
	"strings"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/cmd/common"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/ssl"
	"github.com/spf13/cobra"
)

var generateDNSAltNames string

func init() {
	GenerateCmd.Flags().StringVar(&generateDNSAltNames, "dns-alt-names", "", "Comma separated list of DNS alt names")
}

var GenerateCmd = &cobra.Command{
	Use:   "generate [certname]",
	Short: "Generates a key and signed certificate",
	Long: `Generates a private key and a certificate signed by the CA for the given
certname and writes both to the ssldir, for hosts that cannot submit a
request themselves.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {

		authority, err := loadCA()
		if err != nil {
			return err
		}

		name := strings.ToLower(args[0])
		cert, key, err := authority.Generate(name, ssl.SplitAltNames(generateDNSAltNames))
		if err != nil {
			return err
		}
		if err := App.Certs.SavePrivateKey(name, key, nil); err != nil {
			return err
		}
		if err := App.Certs.SaveClientCert(name, cert); err != nil {
			return err
		}

		paths := App.Certs.Paths()
		keyPath, _ := paths.PrivateKey(name)
		certPath, _ := paths.ClientCert(name)
		common.PrintNotice(cmd.OutOrStdout(), "Generated key for %s in '%s'", name, keyPath)
		common.PrintNotice(cmd.OutOrStdout(), "Generated certificate for %s in '%s'", name, certPath)
		return nil
	},
}
