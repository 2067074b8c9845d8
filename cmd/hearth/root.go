package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hearth-sh/hearth/pkg/config"
	"github.com/hearth-sh/hearth/pkg/log"
	"github.com/hearth-sh/hearth/pkg/runtime"
)

var (
	cfgFile string
	dataDir string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hearth",
		Short:         "Personal automation runtime",
		Long:          "hearth coordinates agents: routing, messaging, shared state, health, caching, workflows, and scheduling over one durable store.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory override")

	root.AddCommand(
		newServeCmd(),
		newAgentCmd(),
		newMessageCmd(),
		newStateCmd(),
		newHealthCmd(),
		newCacheCmd(),
		newWorkflowCmd(),
		newCronCmd(),
		newWebhookCmd(),
	)
	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// openRuntime builds the service graph for a one-shot command. Background
// loops stay parked; callers must Close.
func openRuntime() (*runtime.Runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON, Output: os.Stderr})
	return runtime.New(cfg)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
