package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ternarybob/formrunner/internal/common"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		common.PrintBanner(common.GetVersion())
		fmt.Fprintf(cmd.OutOrStdout(), "FormRunner version %s\n", common.GetFullVersion())
	},
}
