// Package cli implements the cascade command-line interface over the HTTP
// API: single-address enrichment, batch refresh, and job tracking.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version information (set via ldflags at build time)
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"

	// Global flags
	cfgFile string
	apiURL  string
	verbose bool
)

// NewRootCommand creates and returns the root command.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cascade",
		Short: "Honeypot IP enrichment cascade CLI",
		Long: `Cascade - Multi-Source IP Enrichment for Honeypot Analytics

The cascade CLI allows you to:
  - Enrich a single IP through the geo/ASN/scanner-intel cascade
  - Submit batches of IPs for asynchronous refresh
  - Track and inspect batch jobs

Configuration precedence: flags > environment variables > config file > defaults

Environment Variables:
  CASCADE_API_URL        API endpoint URL
  CASCADE_CONFIG         Path to config file
  CASCADE_OUTPUT_FORMAT  Output format (json, yaml, table)`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				path = os.Getenv("CASCADE_CONFIG")
			}
			cfg, err := InitConfig(path)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			if cmd.Flags().Changed("api-url") {
				viper.Set("api.url", apiURL)
			}

			if err := ValidateConfig(cfg); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			if verbose {
				fmt.Fprintf(os.Stderr, "Config file: %s\n", viper.ConfigFileUsed())
				fmt.Fprintf(os.Stderr, "API URL: %s\n", GetAPIURL())
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.cascade.yaml, ~/.cascade/.cascade.yaml, or /etc/cascade/.cascade.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API endpoint URL (default: http://localhost:3000)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	viper.BindPFlag("api.url", rootCmd.PersistentFlags().Lookup("api-url"))

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewEnrichCommand())
	rootCmd.AddCommand(NewRefreshCommand())
	rootCmd.AddCommand(NewJobsCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCommand()
	return rootCmd.Execute()
}
