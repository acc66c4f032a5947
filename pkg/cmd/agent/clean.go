package agent

import (
	"github.com/jeremyhahn/go-puppet-ssl/pkg/cmd/common"
	"github.com/spf13/cobra"
)

var cleanLocalCA bool

func init() {
	CleanCmd.Flags().BoolVar(&cleanLocalCA, "localca", false, "Also remove the local copy of the CA bundle")
}

var CleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Removes the host's SSL material",
	Long: `Removes the private key, certificate, pending request and CRL bundle of
the host so it can bootstrap again. The CA bundle is kept unless --localca
is given. Refuses to run while an agent holds the ssl lock.`,
	RunE: func(cmd *cobra.Command, args []string) error {

		if err := initApp(); err != nil {
			return err
		}

		removed, err := App.Clean(cleanLocalCA)
		if err != nil {
			return err
		}
		for _, path := range removed {
			common.PrintNotice(cmd.OutOrStdout(), "Removed %s", path)
		}
		return nil
	},
}
