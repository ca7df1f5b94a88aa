package main

import (
	"fmt"

	"github.com/gematik/gras-server/pkg/gras"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gras-server v%s\n", gras.Version)
	},
}
