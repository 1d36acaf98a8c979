package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sessiond version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sessiond %s (%s)\n", Version, BuildTime)
	},
}
