package ca

import (
	"strings"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/cmd/common"
	"github.com/spf13/cobra"
)

var VerifyCmd = &cobra.Command{
	Use:   "verify [certname]",
	Short: "Verifies a signed certificate against the CA and its CRL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {

		authority, err := loadCA()
		if err != nil {
			return err
		}

		name := strings.ToLower(args[0])
		if err := authority.Verify(name); err != nil {
			return err
		}
		common.PrintNotice(cmd.OutOrStdout(), "Verified certificate for %s", name)
		return nil
	},
}
