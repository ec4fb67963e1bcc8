package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/michal-majer/s4kit-gateway/config"
)

var rootCmd = &cobra.Command{
	Use:   "s4kit-gateway",
	Short: "API gateway for S/4HANA OData services",
	Long:  `A gateway that authenticates API keys, resolves access grants and proxies single and batched OData operations to S/4HANA backends.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func configureLogging(cfg *config.Config) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	logrus.SetLevel(level)

	if cfg.LogFormat == "text" {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	return nil
}
