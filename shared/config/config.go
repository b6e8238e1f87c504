package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"shorts-optimizer/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// YouTube authentication modes.
const (
	AuthOAuthRefresh = "oauth_refresh"
	AuthOAuthDevice  = "oauth_device"
	AuthADC          = "adc"
	AuthNone         = "none"
)

const (
	reasonNoCredentials = "No YouTube credentials detected (YT_* or ADC). Falling back to fixture mode."
	reasonForced        = "--mock was provided."
	reasonEnv           = "SHORTS_OPTIMIZER_MOCK is set."
)

type Config struct {
	YouTube YouTubeConfig `yaml:"youtube"`
	AI      AIConfig      `yaml:"ai"`
	Output  OutputConfig  `yaml:"output"`

	// Resolved at load time, not read from YAML.
	RepoRoot   string `yaml:"-"`
	MockMode   bool   `yaml:"-"`
	MockReason string `yaml:"-"`
	AuthMode   string `yaml:"-"`
}

type YouTubeConfig struct {
	ClientID           string `yaml:"client_id" env:"YT_CLIENT_ID"`
	ClientSecret       string `yaml:"client_secret" env:"YT_CLIENT_SECRET"`
	RefreshToken       string `yaml:"refresh_token" env:"YT_REFRESH_TOKEN"`
	TokenFile          string `yaml:"token_file" env:"YT_TOKEN_FILE"`
	ChannelID          string `yaml:"channel_id" env:"YT_CHANNEL_ID"`
	CredentialsFile    string `yaml:"credentials_file" env:"GOOGLE_APPLICATION_CREDENTIALS"`
	ServiceAccountJSON string `yaml:"service_account_json" env:"GCP_SERVICE_ACCOUNT_JSON"`
	FixturePath        string `yaml:"fixture_path" env:"SHORTS_OPTIMIZER_FIXTURE"`
	MaxShortSeconds    int    `yaml:"max_short_seconds"`
	CallTimeoutSeconds int    `yaml:"call_timeout_seconds"`
	MaxAttempts        int    `yaml:"max_attempts"`
}

type AIConfig struct {
	GeminiAPIKey   string `yaml:"gemini_api_key" env:"GEMINI_API_KEY"`
	Model          string `yaml:"model" env:"GEMINI_MODEL"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type OutputConfig struct {
	Dir string `yaml:"dir" env:"SHORTS_OPTIMIZER_OUT_DIR"`
}

// Options carries the command-line inputs that influence configuration.
type Options struct {
	RepoRoot  string
	ForceMock bool
}

// CallTimeout bounds a single YouTube API call.
func (c *YouTubeConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// Timeout bounds a single text-generation call.
func (c *AIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// HasTextGeneration reports whether assisted diagnosis and rewrite are available.
func (c *Config) HasTextGeneration() bool {
	return strings.TrimSpace(c.AI.GeminiAPIKey) != ""
}

func Load(opts Options) (*Config, error) {
	repoRoot := opts.RepoRoot
	if repoRoot == "" {
		repoRoot = DetectRepoRoot("")
	}

	// .env first, .env.local second; neither overrides the real environment.
	_ = godotenv.Load(filepath.Join(repoRoot, ".env"))
	_ = godotenv.Load(filepath.Join(repoRoot, ".env.local"))

	configFile := os.Getenv("CONFIG_FILE")
	required := configFile != ""
	if configFile == "" {
		configFile = filepath.Join(repoRoot, "config.yaml")
	}

	var cfg Config
	data, err := os.ReadFile(configFile)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, &models.ConfigError{Field: "CONFIG_FILE", Err: fmt.Errorf("failed to parse config file %s: %w", configFile, err)}
		}
	case errors.Is(err, os.ErrNotExist) && !required:
		// Config file is optional; environment alone is enough.
	default:
		return nil, &models.ConfigError{Field: "CONFIG_FILE", Err: fmt.Errorf("failed to read config file %s: %w", configFile, err)}
	}

	cfg.RepoRoot = repoRoot
	cfg.applyEnv()
	cfg.applyDefaults()
	cfg.resolveMode(opts.ForceMock)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyEnv() {
	envString(&c.YouTube.ClientID, "YT_CLIENT_ID")
	envString(&c.YouTube.ClientSecret, "YT_CLIENT_SECRET")
	envString(&c.YouTube.RefreshToken, "YT_REFRESH_TOKEN")
	envString(&c.YouTube.TokenFile, "YT_TOKEN_FILE")
	envString(&c.YouTube.ChannelID, "YT_CHANNEL_ID")
	envString(&c.YouTube.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	envString(&c.YouTube.ServiceAccountJSON, "GCP_SERVICE_ACCOUNT_JSON")
	envString(&c.YouTube.FixturePath, "SHORTS_OPTIMIZER_FIXTURE")
	envString(&c.AI.GeminiAPIKey, "GEMINI_API_KEY")
	envString(&c.AI.Model, "GEMINI_MODEL")
	envString(&c.Output.Dir, "SHORTS_OPTIMIZER_OUT_DIR")
}

// envString fills an unset field from the environment.
func envString(dst *string, key string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = strings.TrimSpace(os.Getenv(key))
	}
}

func (c *Config) applyDefaults() {
	if c.AI.Model == "" {
		c.AI.Model = "gemini-2.5-flash"
	}
	if c.AI.TimeoutSeconds <= 0 {
		c.AI.TimeoutSeconds = 60
	}
	if c.YouTube.MaxShortSeconds <= 0 {
		c.YouTube.MaxShortSeconds = 90
	}
	if c.YouTube.CallTimeoutSeconds <= 0 {
		c.YouTube.CallTimeoutSeconds = 30
	}
	if c.YouTube.MaxAttempts <= 0 {
		c.YouTube.MaxAttempts = 4
	}
	if c.YouTube.TokenFile == "" {
		c.YouTube.TokenFile = "youtube_token.json"
	}

	c.Output.Dir = c.resolvePath(c.Output.Dir, "out")
	c.YouTube.TokenFile = c.resolvePath(c.YouTube.TokenFile, "youtube_token.json")
	if c.YouTube.FixturePath != "" {
		c.YouTube.FixturePath = c.resolvePath(c.YouTube.FixturePath, "")
	}
}

func (c *Config) resolvePath(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		value = fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(c.RepoRoot, value)
}

func (c *Config) resolveMode(forceMock bool) {
	y := c.YouTube
	switch {
	case y.ClientID != "" && y.ClientSecret != "" && y.RefreshToken != "":
		c.AuthMode = AuthOAuthRefresh
	case y.ClientID != "" && y.ClientSecret != "":
		c.AuthMode = AuthOAuthDevice
	case y.CredentialsFile != "" || y.ServiceAccountJSON != "":
		c.AuthMode = AuthADC
	default:
		c.AuthMode = AuthNone
	}

	envMock := toBool(os.Getenv("SHORTS_OPTIMIZER_MOCK"))
	c.MockMode = forceMock || envMock

	if !c.MockMode && c.AuthMode == AuthNone {
		c.MockMode = true
		c.MockReason = reasonNoCredentials
	}
	if forceMock && c.MockReason == "" {
		c.MockReason = reasonForced
	}
	if envMock && c.MockReason == "" {
		c.MockReason = reasonEnv
	}
}

func toBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func (c *Config) validate() error {
	if c.Output.Dir == "" {
		return &models.ConfigError{Field: "output.dir", Err: errors.New("output directory is required (set SHORTS_OPTIMIZER_OUT_DIR or output.dir)")}
	}
	if c.MockMode {
		return nil
	}
	if c.YouTube.ChannelID != "" && strings.ContainsAny(c.YouTube.ChannelID, " ,") {
		return &models.ConfigError{Field: "youtube.channel_id", Err: fmt.Errorf("invalid channel id %q", c.YouTube.ChannelID)}
	}
	if c.AuthMode == AuthADC && c.YouTube.CredentialsFile != "" && c.YouTube.ServiceAccountJSON == "" {
		if _, err := os.Stat(c.YouTube.CredentialsFile); err != nil {
			return &models.ConfigError{Field: "GOOGLE_APPLICATION_CREDENTIALS", Err: err}
		}
	}
	return nil
}

// DetectRepoRoot returns SHORTS_OPTIMIZER_REPO_ROOT when set, otherwise the
// nearest ancestor of start (or the working directory) holding the skills
// document or a .git entry, otherwise start itself.
func DetectRepoRoot(start string) string {
	if root := strings.TrimSpace(os.Getenv("SHORTS_OPTIMIZER_REPO_ROOT")); root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			return abs
		}
		return root
	}

	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "."
		}
		start = wd
	}
	start, _ = filepath.Abs(start)

	for dir := start; ; dir = filepath.Dir(dir) {
		if exists(filepath.Join(dir, "skills", "ytshortsak.md")) || exists(filepath.Join(dir, ".git")) {
			return dir
		}
		if parent := filepath.Dir(dir); parent == dir {
			break
		}
	}
	return start
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
