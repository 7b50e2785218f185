package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/oauth2/endpoints"

	"github.com/byte4ever/plugin_publish/publish/github"
	"github.com/byte4ever/plugin_publish/publish/publisher"
)

// EnvPrefix namespaces environment overrides.
const EnvPrefix = "ZTOOLS"

// Config holds all settings for a publish run.
type Config struct {
	CentralOwner  string        `mapstructure:"central_owner"`
	CentralRepo   string        `mapstructure:"central_repo"`
	BaseBranch    string        `mapstructure:"base_branch"`
	ClientID      string        `mapstructure:"client_id"`
	Scopes        string        `mapstructure:"scopes"`
	DeviceAuthURL string        `mapstructure:"device_auth_url"`
	TokenURL      string        `mapstructure:"token_url"`
	APIBaseURL    string        `mapstructure:"api_base_url"`
	UserAgent     string        `mapstructure:"user_agent"`
	WorkDir       string        `mapstructure:"work_dir"`
	ForkAttempts  int           `mapstructure:"fork_attempts"`
	ForkDelay     time.Duration `mapstructure:"fork_delay"`
	HTTPRetries   int           `mapstructure:"http_retries"`
	PRTitle       string        `mapstructure:"pr_title"`
	PRBody        string        `mapstructure:"pr_body"`
}

// ScopeList returns Scopes split on whitespace or commas.
func (c *Config) ScopeList() []string {
	return strings.FieldsFunc(c.Scopes, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}

// CloneDir is where the central repository fork is
// checked out.
func (c *Config) CloneDir() string {
	return filepath.Join(c.WorkDir, c.CentralRepo)
}

// Load returns the settings. When file is empty, an
// optional config.yaml in the work directory is read.
func Load(file string) (*Config, error) {
	const errCtx = "loading config"

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(expandHome(v.GetString("work_dir")))

		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return nil, fmt.Errorf("%s: %w", errCtx, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	cfg.WorkDir = expandHome(cfg.WorkDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return &cfg, nil
}

// Validate reports the first missing or out of range
// setting.
func (c *Config) Validate() error {
	required := []struct {
		key string
		val string
	}{
		{key: "central_owner", val: c.CentralOwner},
		{key: "central_repo", val: c.CentralRepo},
		{key: "base_branch", val: c.BaseBranch},
		{key: "client_id", val: c.ClientID},
		{key: "work_dir", val: c.WorkDir},
	}

	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			return fmt.Errorf("%s must be set", r.key)
		}
	}

	// Both name directories under the work dir.
	for _, r := range required[:2] {
		if !isSegment(r.val) {
			return fmt.Errorf(
				"%s must be a single path segment, got %q",
				r.key, r.val,
			)
		}
	}

	if c.ForkAttempts <= 0 {
		return fmt.Errorf(
			"fork_attempts must be positive, got %d",
			c.ForkAttempts,
		)
	}

	if c.ForkDelay < 0 {
		return fmt.Errorf(
			"fork_delay must not be negative, got %s",
			c.ForkDelay,
		)
	}

	if c.HTTPRetries < 0 {
		return fmt.Errorf(
			"http_retries must not be negative, got %d",
			c.HTTPRetries,
		)
	}

	return nil
}

func isSegment(name string) bool {
	return name != "." &&
		filepath.IsLocal(name) &&
		!strings.ContainsAny(name, `/\`)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("central_owner", "ZToolsCenter")
	v.SetDefault("central_repo", "ZTools-plugins")
	v.SetDefault("base_branch", "main")
	v.SetDefault("client_id", "Ov23liLg5G9eD70HMXay")
	v.SetDefault("scopes", "user repo")
	v.SetDefault("device_auth_url", endpoints.GitHub.DeviceAuthURL)
	v.SetDefault("token_url", endpoints.GitHub.TokenURL)
	v.SetDefault("api_base_url", "")
	v.SetDefault("user_agent", github.DefaultUserAgent)
	v.SetDefault("work_dir", "~/.config/ztools")
	v.SetDefault("fork_attempts", publisher.DefaultForkAttempts)
	v.SetDefault("fork_delay", publisher.DefaultForkDelay)
	v.SetDefault("http_retries", 2)
	v.SetDefault("pr_title", publisher.DefaultTitle)
	v.SetDefault("pr_body", publisher.DefaultBody)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
