package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dm-alt/USM-scripts/internal/config"
)

var (
	cfgFile      string
	outputFormat string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "hourly",
	Short: "Hourly workload statistics from the analytics backend",
	Long: `hourly correlates an analytics request made by your browser session,
submits a companion workload job with the same period and filters, waits for
it and prints resolution, reply and first reply times per hour.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.usm-hourly/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json, csv or yaml")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(config.DefaultDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	config.BindEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Error reading config file %s: %v\n", cfgFile, err)
			os.Exit(1)
		}
	}
}

// loadConfig returns the validated effective configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// configFileUsed returns the config file read, or "" when running on defaults
func configFileUsed() string {
	if f := viper.ConfigFileUsed(); f != "" {
		if _, err := os.Stat(f); err == nil {
			return f
		}
	}
	return ""
}

// defaultConfigPath is where `hourly config init` writes
func defaultConfigPath() string {
	return filepath.Join(config.DefaultDir(), "config.yaml")
}
