package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var version = "0.3.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the opsdesk version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("opsdesk %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
