package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "temi-server",
		Short: "Kitchen safety scenario server",
		Long: `temi-server watches per-frame detection labels and tracked objects
sent by a kitchen robot and reports safety scenarios such as pouring food
or a metal pot left in the microwave.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error, silent)")

	rootCmd.AddCommand(
		newServeCmd(),
		newReplayCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				_ = json.NewEncoder(out).Encode(map[string]string{
					"version": version,
					"commit":  commit,
				})
				return
			}
			fmt.Fprintf(out, "temi-server version %s (commit: %s)\n", version, commit)
		},
	}
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}
