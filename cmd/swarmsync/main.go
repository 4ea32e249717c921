package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "swarmsync",
	Short: "Folder synchronization over swarm distribution",
	Long: `swarmsync keeps folders synchronized across machines.

A folder is published as a share with two access secrets: the write secret
grants full read-write participation, the read secret grants download-only
access. Share content moves through a distribution engine; swarmsync
manages the shares, watches for local edits and republishes changed
content automatically.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: $XDG_CONFIG_HOME/swarmsync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (DEBUG, INFO, WARN, ERROR)")

	secretCmd.AddCommand(secretGenerateCmd)
	secretCmd.AddCommand(secretInspectCmd)

	shareCmd.AddCommand(shareCreateCmd)
	shareCmd.AddCommand(shareAddCmd)
	shareCmd.AddCommand(shareListCmd)
	shareCmd.AddCommand(shareRemoveCmd)

	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(shareCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
