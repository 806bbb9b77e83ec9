package main

import (
	"os"

	"github.com/insthync/reqres/config"
	"github.com/insthync/reqres/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "reqresd",
	Short: "Request/response correlation over a framed TCP transport.",
	Long: `reqresd runs the authority side of a reqres realm (serve) or connects to ` +
		`one as a peer and exercises it (ping). Settings come from a TOML file; ` +
		`REQRES_CONFIG names it when --config is not given.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Config, *zap.Logger, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("REQRES_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := logging.New(logging.ProfileRuntime)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}
