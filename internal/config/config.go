package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/perbu/teamdigest/internal/poll"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	Debug     bool            `yaml:"debug"` // Enable debug logging
	Cache     CacheConfig     `yaml:"cache"`
	GitHub    GitHubConfig    `yaml:"github"`
	Bitbucket BitbucketConfig `yaml:"bitbucket"`
	Email     EmailConfig     `yaml:"email"`
	Poll      PollConfig      `yaml:"poll"`
	Web       WebConfig       `yaml:"web"`
}

// WebConfig represents the API server configuration
type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// CacheConfig represents the response-cache configuration
type CacheConfig struct {
	Backend        string `yaml:"backend"` // sqlite, postgres or memory
	PostgresDSN    string `yaml:"postgres_dsn"`
	PostgresDSNEnv string `yaml:"postgres_dsn_env"` // Env var with the DSN
	TTLMinutes     int    `yaml:"ttl_minutes"`
}

// GitHubConfig represents GitHub App authentication configuration
type GitHubConfig struct {
	AppID          int64  `yaml:"app_id"`
	AppIDEnv       string `yaml:"app_id_env"`       // Env var with App ID
	PrivateKeyPath string `yaml:"private_key_path"` // Path to PEM file
	PrivateKeyEnv  string `yaml:"private_key_env"`  // Env var with PEM content
}

// BitbucketConfig represents Bitbucket OAuth consumer configuration
type BitbucketConfig struct {
	ClientID        string `yaml:"client_id"`
	ClientIDEnv     string `yaml:"client_id_env"`
	ClientSecret    string `yaml:"client_secret"`
	ClientSecretEnv string `yaml:"client_secret_env"`
	RefreshToken    string `yaml:"refresh_token"`
	RefreshTokenEnv string `yaml:"refresh_token_env"`
}

// EmailConfig represents digest email configuration
type EmailConfig struct {
	DryRun         bool   `yaml:"dry_run"`              // Log instead of sending
	SendGridAPIKey string `yaml:"sendgrid_api_key"`     // Direct API key
	SendGridKeyEnv string `yaml:"sendgrid_api_key_env"` // Environment variable name
	FromEmail      string `yaml:"from_email"`
	FromName       string `yaml:"from_name"`
	SubjectPrefix  string `yaml:"subject_prefix"`
}

// PollConfig bounds the statistics poll loop
type PollConfig struct {
	IntervalMS  int `yaml:"interval_ms"`
	MaxAttempts int `yaml:"max_attempts"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DataDir: "", // Must be specified by user
		Cache: CacheConfig{
			Backend:        "sqlite",
			PostgresDSNEnv: "CACHE_POSTGRES_DSN",
			TTLMinutes:     10,
		},
		GitHub: GitHubConfig{
			AppIDEnv:      "GITHUB_APP_ID",
			PrivateKeyEnv: "GITHUB_APP_PRIVATE_KEY",
		},
		Bitbucket: BitbucketConfig{
			ClientIDEnv:     "BITBUCKET_CLIENT_ID",
			ClientSecretEnv: "BITBUCKET_CLIENT_SECRET",
			RefreshTokenEnv: "BITBUCKET_REFRESH_TOKEN",
		},
		Email: EmailConfig{
			SendGridKeyEnv: "SENDGRID_API_KEY",
			FromEmail:      "digest@example.com",
			FromName:       "Team Digest",
			SubjectPrefix:  "[digest]",
		},
		Poll: PollConfig{
			IntervalMS:  500,
			MaxAttempts: 600,
		},
		Web: WebConfig{
			Host: "localhost",
			Port: 8080,
		},
	}
}

// Load loads configuration from the specified path, falling back to defaults
func Load(configPath string) (*Config, error) {
	// If no path specified, use default location
	if configPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(homeDir, ".config", "teamdigest", "config.yaml")
	}

	configPath = expandPath(configPath)

	// Start with defaults
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, return defaults
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.DataDir = expandPath(cfg.DataDir)

	return cfg, nil
}

// expandPath expands ~ to home directory in paths
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if path[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if len(path) == 1 {
			return homeDir
		}
		return filepath.Join(homeDir, path[1:])
	}

	return path
}

// EnsureDataDir creates the data directory if it doesn't exist
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

// fromEnv returns the direct value if set, else the named env var's value
func fromEnv(direct, envName string) string {
	if direct != "" {
		return direct
	}
	if envName != "" {
		return os.Getenv(envName)
	}
	return ""
}

// CacheTTL returns the response-cache TTL
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMinutes) * time.Minute
}

// GetPostgresDSN returns the postgres DSN, checking direct value first then env var
func (c *Config) GetPostgresDSN() string {
	return fromEnv(c.Cache.PostgresDSN, c.Cache.PostgresDSNEnv)
}

// PollPolicy returns the configured statistics poll bounds
func (c *Config) PollPolicy() poll.Policy {
	return poll.Policy{
		Interval:    time.Duration(c.Poll.IntervalMS) * time.Millisecond,
		MaxAttempts: c.Poll.MaxAttempts,
	}
}

// HasGitHubApp returns true if GitHub App authentication is configured
func (c *Config) HasGitHubApp() bool {
	if c.GetGitHubAppID() == 0 {
		return false
	}
	key, err := c.GetGitHubPrivateKey()
	return err == nil && len(key) > 0
}

// GetGitHubAppID returns the GitHub App ID, checking direct value first then env var
func (c *Config) GetGitHubAppID() int64 {
	if c.GitHub.AppID != 0 {
		return c.GitHub.AppID
	}
	if c.GitHub.AppIDEnv != "" {
		if val := os.Getenv(c.GitHub.AppIDEnv); val != "" {
			if id, err := strconv.ParseInt(val, 10, 64); err == nil {
				return id
			}
		}
	}
	return 0
}

// GetGitHubPrivateKey returns the GitHub App private key, checking file path first then env var
func (c *Config) GetGitHubPrivateKey() ([]byte, error) {
	if c.GitHub.PrivateKeyPath != "" {
		path := expandPath(c.GitHub.PrivateKeyPath)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key file: %w", err)
		}
		return data, nil
	}

	if c.GitHub.PrivateKeyEnv != "" {
		if key := os.Getenv(c.GitHub.PrivateKeyEnv); key != "" {
			return []byte(key), nil
		}
	}

	return nil, fmt.Errorf("no GitHub App private key configured")
}

// HasBitbucket returns true if a Bitbucket OAuth consumer is configured
func (c *Config) HasBitbucket() bool {
	return c.GetBitbucketClientID() != "" && c.GetBitbucketRefreshToken() != ""
}

// GetBitbucketClientID returns the OAuth consumer key
func (c *Config) GetBitbucketClientID() string {
	return fromEnv(c.Bitbucket.ClientID, c.Bitbucket.ClientIDEnv)
}

// GetBitbucketClientSecret returns the OAuth consumer secret
func (c *Config) GetBitbucketClientSecret() string {
	return fromEnv(c.Bitbucket.ClientSecret, c.Bitbucket.ClientSecretEnv)
}

// GetBitbucketRefreshToken returns the stored refresh token
func (c *Config) GetBitbucketRefreshToken() string {
	return fromEnv(c.Bitbucket.RefreshToken, c.Bitbucket.RefreshTokenEnv)
}

// GetSendGridAPIKey returns the SendGrid API key, checking direct key first then env var
func (c *Config) GetSendGridAPIKey() string {
	return fromEnv(c.Email.SendGridAPIKey, c.Email.SendGridKeyEnv)
}
