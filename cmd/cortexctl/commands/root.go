// Package commands provides the cortexctl CLI commands. Each command
// wires a fresh bootstrap.App in-process and calls straight into the core
// Go APIs, standing in for the external MCP/JSON-RPC dispatcher that is
// out of scope for this module.
package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cortexmesh/core/internal/bootstrap"
	"github.com/cortexmesh/core/internal/config"
	"github.com/cortexmesh/core/internal/logging"
)

var (
	// Version is set at build time.
	Version   = "0.1.0"
	BuildTime = "dev"

	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:     "cortexctl",
	Short:   "cortexctl drives a cortexmesh core instance from the command line",
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logCfg := logging.DefaultConfig()
		if !verbose {
			logCfg.Level = logging.FatalLevel
		}
		logging.Init(logCfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable info-level logging to stderr")

	rootCmd.AddCommand(sessionCmd, lockCmd, agentCmd, memoryCmd, searchCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// openApp loads config and wires every component for a single invocation.
func openApp() (*bootstrap.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return bootstrap.New(cfg)
}

// printJSON writes v to stdout as indented JSON, the CLI's one output
// format (no separate human-readable table rendering per command).
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
