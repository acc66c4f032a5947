package ca

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/ca"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/ssl"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var listAll bool

func init() {
	ListCmd.Flags().BoolVarP(&listAll, "all", "a", false, "Include signed and revoked certificates")
}

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists pending certificate requests",
	Long: `Lists the pending certificate requests with their fingerprints. With
--all the signed certificates are listed too, prefixed with "+", and
revoked ones with "-".`,
	RunE: func(cmd *cobra.Command, args []string) error {

		authority, err := loadCA()
		if err != nil {
			return err
		}

		digest := App.Settings.Digest
		out := cmd.OutOrStdout()

		waiting, err := authority.Waiting()
		if err != nil {
			return err
		}
		sort.Strings(waiting)
		for _, name := range waiting {
			csr, err := authority.Request(name)
			if err != nil {
				return err
			}
			if csr == nil {
				continue
			}
			fingerprint, err := ssl.Digest(digest, csr.Raw)
			if err != nil {
				return err
			}
			printEntry(out, " ", name, digest, fingerprint, ssl.RequestAltNames(csr), "")
		}
		if !listAll {
			return nil
		}

		signed, err := authority.List()
		if err != nil {
			return err
		}
		signed = lo.Filter(signed, func(name string, _ int) bool {
			return name != ca.CAHostName
		})
		sort.Strings(signed)
		for _, name := range signed {
			cert, err := authority.Certificate(name)
			if err != nil {
				return err
			}
			if cert == nil {
				continue
			}
			fingerprint, err := ssl.Fingerprint(cert, digest)
			if err != nil {
				return err
			}
			prefix, reason := "+", ""
			if err := authority.Verify(name); err != nil {
				prefix, reason = "-", ssl.CodeOf(err).String()
				if reason == "" {
					reason = err.Error()
				}
			}
			printEntry(out, prefix, name, digest, fingerprint, ssl.SubjectAltNames(cert), reason)
		}
		return nil
	},
}

func printEntry(w io.Writer, prefix, name, digest, fingerprint string, altNames []string, reason string) {
	line := fmt.Sprintf("%s %q (%s) %s", prefix, name, strings.ToUpper(digest), fingerprint)
	if len(altNames) > 0 {
		quoted := lo.Map(altNames, func(n string, _ int) string { return fmt.Sprintf("%q", n) })
		line += fmt.Sprintf(" (alt names: %s)", strings.Join(quoted, ", "))
	}
	if reason != "" {
		line += fmt.Sprintf(" (%s)", reason)
	}
	fmt.Fprintln(w, line)
}
