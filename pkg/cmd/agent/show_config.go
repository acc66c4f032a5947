package agent

import (
	"github.com/spf13/cobra"
)

var ShowConfigCmd = &cobra.Command{
	Use:   "show-config",
	Short: "Prints the resolved settings",
	RunE: func(cmd *cobra.Command, args []string) error {

		if err := initApp(); err != nil {
			return err
		}

		out, err := App.Settings.YAML()
		if err != nil {
			return err
		}
		cmd.Print(string(out))
		return nil
	},
}
