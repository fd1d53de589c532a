package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/sessionflow"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of sessionflow",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sessionflow version %s\n", strings.TrimSpace(sessionflow.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
