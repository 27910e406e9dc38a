package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"norn/logx"
)

var rootCmd = &cobra.Command{
	Use:   "norn",
	Short: "Norn blockchain node CLI",
	Long:  "Command line interface for running and managing a Norn blockchain node.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logx.Error("CMD", "Command execution failed:", err)
		os.Exit(1)
	}
}
