// Package cmd implements the log-pullerd CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "log-pullerd",
	Short: "log-pullerd pulls external log sources on request and archives them to S3",
	Long: "log-pullerd is the standalone deployment of the log puller. It polls an SQS\n" +
		"queue for pull requests, retrieves new log data from the configured sources,\n" +
		"compresses it and archives it to S3. Failed requests are left on the queue\n" +
		"for redelivery; everything else is acknowledged.",
	// No Run function — prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
