// Command specctl manages the Confluence connection and runs the document
// pipeline from a terminal: storing the API token, validating credentials,
// extracting documents from saved model output and publishing pages.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "specctl",
		Short:         "specctl -- Confluence spec pipeline tooling",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().String("config", "config.yaml", "Path to the configuration file")
	root.PersistentFlags().Bool("json", false, "Output machine-readable JSON")

	root.AddCommand(tokenCmd())
	root.AddCommand(connectionCmd())
	root.AddCommand(extractCmd())
	root.AddCommand(resolveCmd())
	root.AddCommand(expandCmd())
	root.AddCommand(publishCmd())
	root.AddCommand(backupsCmd())
	return root
}
