package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the accounts version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("accounts v%s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
