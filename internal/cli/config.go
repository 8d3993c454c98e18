package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the CLI.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Cascade CascadeConfig `mapstructure:"cascade"`
	Secrets SecretsConfig `mapstructure:"secrets"`
	Output  OutputConfig  `mapstructure:"output"`
}

// APIConfig holds API-related configuration.
type APIConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CascadeConfig holds per-sensor cascade settings.
type CascadeConfig struct {
	EnableASNInventory bool   `mapstructure:"enable_asn_inventory"`
	CacheRoot          string `mapstructure:"cache_root"`
	DailyBudget        int    `mapstructure:"daily_budget"`
	CommitInterval     int    `mapstructure:"commit_interval"`
}

// SecretsConfig holds secret references, never plaintext secrets. Each
// value is a resolver reference like "env:GREYNOISE_API_KEY" or
// "vault://honeypot/greynoise#api_key".
type SecretsConfig struct {
	MaxMindLicenseKeyRef string `mapstructure:"maxmind_license_key_ref"`
	GreyNoiseAPIKeyRef   string `mapstructure:"greynoise_api_key_ref"`
	DBPasswordRef        string `mapstructure:"db_password_ref"`
}

// OutputConfig holds output formatting configuration.
type OutputConfig struct {
	Format string `mapstructure:"format"`
	Color  bool   `mapstructure:"color"`
}

// InitConfig initializes configuration from file, environment variables,
// and flags. Precedence: flags > env vars > config file > defaults.
func InitConfig(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("unable to find home directory: %w", err)
		}

		viper.AddConfigPath(".")
		viper.AddConfigPath(filepath.Join(home, ".cascade"))
		viper.AddConfigPath("/etc/cascade")

		viper.SetConfigName(".cascade")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CASCADE")
	viper.AutomaticEnv()

	viper.BindEnv("api.url", "CASCADE_API_URL")
	viper.BindEnv("api.timeout", "CASCADE_API_TIMEOUT")
	viper.BindEnv("output.format", "CASCADE_OUTPUT_FORMAT")
	viper.BindEnv("output.color", "CASCADE_OUTPUT_COLOR")
	viper.BindEnv("cascade.enable_asn_inventory", "CASCADE_ENABLE_ASN_INVENTORY")
	viper.BindEnv("cascade.cache_root", "CASCADE_CACHE_ROOT")
	viper.BindEnv("cascade.daily_budget", "CASCADE_DAILY_BUDGET")
	viper.BindEnv("cascade.commit_interval", "CASCADE_COMMIT_INTERVAL")
	viper.BindEnv("secrets.maxmind_license_key_ref", "CASCADE_MAXMIND_LICENSE_KEY_REF")
	viper.BindEnv("secrets.greynoise_api_key_ref", "CASCADE_GREYNOISE_API_KEY_REF")
	viper.BindEnv("secrets.db_password_ref", "CASCADE_DB_PASSWORD_REF")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file: defaults plus environment carry the day.
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &config, nil
}

func setDefaults() {
	viper.SetDefault("api.url", "http://localhost:3000")
	viper.SetDefault("api.timeout", "90s")

	viper.SetDefault("cascade.enable_asn_inventory", true)
	viper.SetDefault("cascade.cache_root", "/var/lib/cascade/cache")
	viper.SetDefault("cascade.daily_budget", 10000)
	viper.SetDefault("cascade.commit_interval", 100)

	viper.SetDefault("secrets.maxmind_license_key_ref", "")
	viper.SetDefault("secrets.greynoise_api_key_ref", "")
	viper.SetDefault("secrets.db_password_ref", "")

	viper.SetDefault("output.format", "table")
	viper.SetDefault("output.color", true)
}

// GetAPIURL returns the configured API URL.
func GetAPIURL() string {
	return viper.GetString("api.url")
}

// GetAPITimeout returns the configured API timeout.
func GetAPITimeout() time.Duration {
	return viper.GetDuration("api.timeout")
}

// GetOutputFormat returns the configured output format.
func GetOutputFormat() string {
	return viper.GetString("output.format")
}

// GetOutputColor returns whether color output is enabled.
func GetOutputColor() bool {
	return viper.GetBool("output.color")
}

// ValidateConfig validates the configuration.
func ValidateConfig(cfg *Config) error {
	if cfg.API.URL == "" {
		return fmt.Errorf("api.url cannot be empty")
	}
	if cfg.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	if cfg.Cascade.DailyBudget < 0 {
		return fmt.Errorf("cascade.daily_budget cannot be negative")
	}
	if cfg.Cascade.CommitInterval <= 0 {
		return fmt.Errorf("cascade.commit_interval must be positive")
	}

	validFormats := map[string]bool{
		"json":  true,
		"yaml":  true,
		"table": true,
	}
	if !validFormats[cfg.Output.Format] {
		return fmt.Errorf("invalid output format: %s (must be json, yaml, or table)", cfg.Output.Format)
	}
	return nil
}
