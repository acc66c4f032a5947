package cmd

import (
	"github.com/jeremyhahn/go-puppet-ssl/pkg/app"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Prints the software version",
	Long:  `Displays software build and version details`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("Name:\t\t\t%s\n", app.Name)
		cmd.Printf("Version:\t\t%s\n", app.Version)
		cmd.Printf("Repository:\t\t%s\n", app.Repository)
		cmd.Printf("Package:\t\t%s\n", app.Package)
		cmd.Printf("Git Branch:\t\t%s\n", app.GitBranch)
		cmd.Printf("Git Tag:\t\t%s\n", app.GitTag)
		cmd.Printf("Git Hash:\t\t%s\n", app.GitHash)
		cmd.Printf("Build User:\t\t%s\n", app.BuildUser)
		cmd.Printf("Build Date:\t\t%s\n", app.BuildDate)
	},
}
