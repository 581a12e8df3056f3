package main

import (
	"fmt"
	"os"

	"github.com/fpang/ai-deck-builder/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var forceFlag bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or initialize the configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the built-in defaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFlag
		if path == "" {
			path = config.DefaultPath()
		}
		if _, err := os.Stat(path); err == nil && !forceFlag {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.Write(path, config.Defaults()); err != nil {
			return err
		}
		fmt.Printf("✅ Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration (API key omitted)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFlag)
		if err != nil {
			return err
		}
		cfg.APIKey = ""
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&forceFlag, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
