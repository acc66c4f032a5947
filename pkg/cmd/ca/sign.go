package ca

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/ca"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/cmd/common"
	"github.com/spf13/cobra"
)

var (
	signAll              bool
	signAllowDNSAltNames bool
	signCertType         string
)

func init() {
	SignCmd.Flags().BoolVarP(&signAll, "all", "a", false, "Sign every pending request")
	SignCmd.Flags().BoolVar(&signAllowDNSAltNames, "allow-dns-alt-names", false, "Sign requests that carry DNS alt names")
	SignCmd.Flags().StringVar(&signCertType, "cert-type", string(ca.CertTypeServer), "Certificate profile: server, client, ocsp or terminalsubca")
}

var SignCmd = &cobra.Command{
	Use:   "sign [certname ...]",
	Short: "Signs pending certificate requests",
	RunE: func(cmd *cobra.Command, args []string) error {

		if !signAll && len(args) == 0 {
			return errors.New("Specify the certnames to sign or --all")
		}
		certType, err := ca.ParseCertType(signCertType)
		if err != nil {
			return err
		}
		authority, err := loadCA()
		if err != nil {
			return err
		}

		names := args
		if signAll {
			if names, err = authority.Waiting(); err != nil {
				return err
			}
			if len(names) == 0 {
				common.PrintWarning(cmd.OutOrStdout(), "No waiting certificate requests to sign")
				return nil
			}
		}

		failed := []string{}
		for _, name := range names {
			_, err := authority.Sign(name, ca.SignOptions{
				AllowDNSAltNames: signAllowDNSAltNames,
				CertType:         certType,
			})
			if err != nil {
				common.PrintWarning(cmd.ErrOrStderr(), "%s", err)
				failed = append(failed, name)
				continue
			}
			common.PrintNotice(cmd.OutOrStdout(), "Signed certificate request for %s", strings.ToLower(name))
		}
		if len(failed) > 0 {
			return fmt.Errorf("Could not sign the certificate requests for: %s", strings.Join(failed, ", "))
		}
		return nil
	},
}
