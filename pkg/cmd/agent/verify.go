package agent

import (
	"github.com/jeremyhahn/go-puppet-ssl/pkg/cmd/common"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/ssl"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var VerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verifies the host's SSL material",
	Long: `Loads the CA bundle, CRLs, private key and certificate of the host from
the ssldir and verifies them without contacting the CA. The chain is
printed from the root down to the client certificate.`,
	RunE: func(cmd *cobra.Command, args []string) error {

		if err := initApp(); err != nil {
			return err
		}

		password := App.Certs.LoadPrivateKeyPassword()
		sslctx, err := App.Provider.LoadContext(App.Settings.Certname, App.Revocation(), password)
		if err != nil {
			return err
		}

		chain := lo.Reverse(sslctx.ClientChain())
		for i, cert := range chain {
			fingerprint, err := ssl.Fingerprint(cert, App.Settings.Digest)
			if err != nil {
				return err
			}
			if i == len(chain)-1 {
				common.PrintNotice(cmd.OutOrStdout(), "Verified client certificate '%s' fingerprint %s",
					ssl.Subject(cert), fingerprint)
			} else {
				common.PrintNotice(cmd.OutOrStdout(), "Verified CA certificate '%s' fingerprint %s",
					ssl.Subject(cert), fingerprint)
			}
		}
		return nil
	},
}
