package ca

import (
	"strings"

	"github.com/spf13/cobra"
)

var fingerprintDigest string

func init() {
	FingerprintCmd.Flags().StringVar(&fingerprintDigest, "digest", "", "Digest algorithm, defaults to the digest setting")
}

var FingerprintCmd = &cobra.Command{
	Use:   "fingerprint [certname ...]",
	Short: "Prints certificate or request fingerprints",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {

		authority, err := loadCA()
		if err != nil {
			return err
		}

		digest := fingerprintDigest
		if digest == "" {
			digest = App.Settings.Digest
		}
		for _, name := range args {
			fingerprint, err := authority.Fingerprint(name, digest)
			if err != nil {
				return err
			}
			cmd.Printf("%s (%s) %s\n", strings.ToLower(name), strings.ToUpper(digest), fingerprint)
		}
		return nil
	},
}
