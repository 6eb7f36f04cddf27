// Package main is the contaluz CLI entry point.
package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/contaluz/internal/config"
	"github.com/hyperjump/contaluz/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/contaluz/config.yaml"

var (
	cfgFile   string
	debugFlag bool
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory so that running from the project dir picks up the
// project's config. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// setup loads the config and builds the logger shared by every command.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, resolved, err := loadConfig(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	return cfg, logger, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "contaluz",
		Short: "Search backend for electricity bill customer support",
		Long: `contaluz ingests electricity bill exports, indexes them for semantic retrieval and
answers client, invoice and free-text questions over HTTP or the command line.

Examples:
  contaluz ingest ./faturas            # store and index every bill under ./faturas
  contaluz search 123456               # exact lookup by client number
  contaluz search "consumo alto em fevereiro"
  contaluz server --watch              # serve the API and ingest new bills as they land`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigPath, "config file path")
	root.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")

	root.AddCommand(
		newServerCmd(),
		newSearchCmd(),
		newClientCmd(),
		newEmbedCmd(),
		newIngestCmd(),
		newRebuildCmd(),
		newIndexCmd(),
		newStatusCmd(),
		newWatchCmd(),
		newVersionCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
