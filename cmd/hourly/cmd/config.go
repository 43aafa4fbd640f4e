package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dm-alt/USM-scripts/pkg/auth"
	"github.com/dm-alt/USM-scripts/pkg/logging"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration after defaults, the config file and
HOURLY_* environment overrides are applied. The session cookie is redacted.`,
	RunE: runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the default settings",
	RunE:  runConfigInit,
}

var configAPIKeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Generate a daemon API key and its hash",
	Long: `Generate a random API key for the daemon. Put the printed hash in
serve.api_key_hash and give the key to clients as "Authorization: Bearer <key>".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, hash, err := auth.GenerateAPIKey()
		if err != nil {
			return err
		}
		fmt.Printf("key:  %s\nhash: %s\n", key, hash)
		return nil
	},
}

var configLogrotateCmd = &cobra.Command{
	Use:   "logrotate",
	Short: "Print a logrotate configuration for the hourly log file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Print(logging.GenerateLogrotateConfig("hourly", cfg.Log.File))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configAPIKeyCmd)
	configCmd.AddCommand(configLogrotateCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing config file")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if f := configFileUsed(); f != "" {
		fmt.Fprintf(os.Stderr, "# config file: %s\n", f)
	} else {
		fmt.Fprintln(os.Stderr, "# no config file, using defaults")
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg.Redacted())
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := cfgFile
	if path == "" {
		path = defaultConfigPath()
	}
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	// Secrets stay in the environment
	out := *cfg
	out.Backend.SessionCookie = ""
	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Printf("Config written to %s\n", path)
	return nil
}
