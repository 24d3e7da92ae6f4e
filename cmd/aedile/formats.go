package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tsawler/aedile"
)

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List supported document formats",
	Run:   runFormats,
}

func init() {
	rootCmd.AddCommand(formatsCmd)
}

func runFormats(cmd *cobra.Command, _ []string) {
	for _, f := range aedile.New().Formats() {
		fmt.Fprintf(cmd.OutOrStdout(), "%-7s %s\n", f, f.Extension())
	}
}
