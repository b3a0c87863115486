// Command seriesctl is the operator CLI for recurring obligations: it checks
// and previews rule payloads offline, and creates, inspects, resumes and
// exports series against the configured store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:           "seriesctl",
		Short:         "seriesctl - recurring obligation operations",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env", "", "Path to a .env file")
	rootCmd.PersistentFlags().StringVar(&opts.store, "store", "", "Store backend (memory, sqlite, postgres, bolt)")
	rootCmd.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "Store DSN")
	rootCmd.PersistentFlags().BoolVarP(&opts.json, "json", "j", false, "Output as JSON")

	// Offline
	rootCmd.AddCommand(validateCmd(opts))
	rootCmd.AddCommand(previewCmd(opts))

	// Against the store
	rootCmd.AddCommand(createCmd(opts))
	rootCmd.AddCommand(showCmd(opts))
	rootCmd.AddCommand(healthCmd(opts))
	rootCmd.AddCommand(resumeCmd(opts))
	rootCmd.AddCommand(exportCmd(opts))

	return rootCmd
}
