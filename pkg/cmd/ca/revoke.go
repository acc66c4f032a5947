package ca

import (
	"fmt"
	"strings"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/cmd/common"
	"github.com/spf13/cobra"
)

var RevokeCmd = &cobra.Command{
	Use:   "revoke [certname ...]",
	Short: "Revokes signed certificates",
	Long: `Adds the serial numbers of the certificates to the CA CRL. The serial is
taken from the inventory when the signed certificate is no longer on disk.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {

		authority, err := loadCA()
		if err != nil {
			return err
		}

		failed := []string{}
		for _, name := range args {
			if err := authority.Revoke(name); err != nil {
				common.PrintWarning(cmd.ErrOrStderr(), "%s", err)
				failed = append(failed, name)
				continue
			}
			common.PrintNotice(cmd.OutOrStdout(), "Revoked certificate for %s", strings.ToLower(name))
		}
		if len(failed) > 0 {
			return fmt.Errorf("Could not revoke the certificates for: %s", strings.Join(failed, ", "))
		}
		return nil
	},
}
