package ca

import (
	"fmt"
	"strings"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/ca"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/cmd/common"
	"github.com/spf13/cobra"
)

var CleanCmd = &cobra.Command{
	Use:   "clean [certname ...]",
	Short: "Revokes and removes certificates",
	Long: `Revokes the signed certificate of each certname, when the CRL is enabled,
and removes the signed certificate and any pending request from the CA.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {

		authority, err := loadCA()
		if err != nil {
			return err
		}

		missing := []string{}
		for _, name := range args {
			name = strings.ToLower(name)
			cert, err := authority.Certificate(name)
			if err != nil {
				return err
			}
			if cert != nil && !authority.Config().DisableCRL {
				if err := authority.Revoke(name); err != nil {
					return err
				}
				common.PrintNotice(cmd.OutOrStdout(), "Revoked certificate for %s", name)
			}
			removed, err := authority.Destroy(name)
			if err != nil {
				return err
			}
			if !removed {
				missing = append(missing, name)
				continue
			}
			common.PrintNotice(cmd.OutOrStdout(), "Removed files for %s", name)
		}
		if len(missing) > 0 {
			return &ca.ArgumentError{
				Message: fmt.Sprintf("Could not find files to clean for: %s", strings.Join(missing, ", ")),
			}
		}
		return nil
	},
}
