package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

// rootCmd runs the server when called without a subcommand
var rootCmd = &cobra.Command{
	Use:          "blogmedia",
	Short:        "Media upload, promotion and publication service for the blog",
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a config file (default: ./blogmedia.yaml or /etc/blogmedia/blogmedia.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("command failed")
		os.Exit(1)
	}
}
