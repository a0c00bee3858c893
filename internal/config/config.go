// Package config provides YAML-based configuration loading for Swarmbench.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when --config is not given.
const DefaultPath = "swarmbench.yaml"

// Config is the top-level Swarmbench configuration, loaded from swarmbench.yaml.
type Config struct {
	AppEnv     string           `yaml:"app_env"`
	Server     ServerConfig     `yaml:"server"`
	OpenRouter OpenRouterConfig `yaml:"openrouter"`
	Swarm      SwarmConfig      `yaml:"swarm"`
	Trace      TraceConfig      `yaml:"trace"`
	Planner    PlannerConfig    `yaml:"planner"`
	Judge      JudgeConfig      `yaml:"judge"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Notify     NotifyConfig     `yaml:"notify"`
}

// ServerConfig holds HTTP server and artifact settings.
type ServerConfig struct {
	Port         int    `yaml:"port"`
	ArtifactsDir string `yaml:"artifacts_dir"`
}

// OpenRouterConfig holds credentials and attribution headers for the
// chat-completion API. The OPENROUTER_API_KEY environment variable takes
// precedence over the file value.
type OpenRouterConfig struct {
	APIKey          string `yaml:"api_key"`
	BaseURL         string `yaml:"base_url"`
	Model           string `yaml:"model"`
	SiteURL         string `yaml:"site_url"`
	SiteName        string `yaml:"site_name"`
	ReasoningEffort string `yaml:"reasoning_effort"`
}

// SwarmConfig tunes the fan-out executor.
type SwarmConfig struct {
	Reps           int    `yaml:"reps"`
	MaxConcurrency int    `yaml:"max_concurrency"`
	ModelsFile     string `yaml:"models_file"`
	ScenariosDir   string `yaml:"scenarios_dir"`
}

// TraceConfig names the project stamped into event trace metadata.
type TraceConfig struct {
	Project string `yaml:"project"`
}

// PlannerConfig selects the authoring model and an optional system-prompt file.
type PlannerConfig struct {
	Model     string `yaml:"model"`
	SkillPath string `yaml:"skill_path"`
}

// JudgeConfig selects the scoring model.
type JudgeConfig struct {
	Model string `yaml:"model"`
}

// ArchiveConfig controls externalization of completed runs. An empty driver
// disables archiving.
type ArchiveConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Schedule string `yaml:"schedule"`
	Evict    bool   `yaml:"evict"`
}

// NotifyConfig wires run-completion notifications. Empty tokens disable a
// transport.
type NotifyConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack bot credentials.
type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// DiscordConfig holds Discord bot credentials.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.AppEnv == "" {
		c.AppEnv = "dev"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ArtifactsDir == "" {
		c.Server.ArtifactsDir = "artifacts"
	}
	if c.OpenRouter.BaseURL == "" {
		c.OpenRouter.BaseURL = "https://openrouter.ai/api/v1"
	}
	if c.OpenRouter.Model == "" {
		c.OpenRouter.Model = "openai/gpt-4o-mini"
	}
	if c.OpenRouter.SiteURL == "" {
		c.OpenRouter.SiteURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	if c.OpenRouter.SiteName == "" {
		c.OpenRouter.SiteName = "Swarmbench Local"
	}
	if c.Swarm.Reps == 0 {
		c.Swarm.Reps = 5
	}
	if c.Swarm.MaxConcurrency == 0 {
		c.Swarm.MaxConcurrency = 10
	}
	if c.Swarm.ModelsFile == "" {
		c.Swarm.ModelsFile = "models.txt"
	}
	if c.Swarm.ScenariosDir == "" {
		c.Swarm.ScenariosDir = "scenarios"
	}
	if c.Trace.Project == "" {
		c.Trace.Project = "swarmbench-" + c.AppEnv
	}
	if c.Planner.Model == "" {
		c.Planner.Model = c.OpenRouter.Model
	}
	if c.Judge.Model == "" {
		c.Judge.Model = "google/gemini-2.5-flash"
	}
	if c.Archive.Driver == "sqlite" && c.Archive.DSN == "" {
		c.Archive.DSN = "swarmbench.db"
	}
	if c.Archive.Schedule == "" {
		c.Archive.Schedule = "0 * * * *"
	}
}

// applyEnv overlays environment variables that outrank the file.
func (c *Config) applyEnv() {
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		c.OpenRouter.APIKey = key
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Swarm.Reps < 1 {
		errs = append(errs, "swarm.reps must be at least 1")
	}
	if c.Swarm.MaxConcurrency < 1 {
		errs = append(errs, "swarm.max_concurrency must be at least 1")
	}
	switch c.Archive.Driver {
	case "", "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("archive.driver %q is not supported (sqlite or mysql)", c.Archive.Driver))
	}
	if c.Archive.Driver == "mysql" && c.Archive.DSN == "" {
		errs = append(errs, "archive.dsn is required for the mysql driver")
	}
	if c.Notify.Slack.Token != "" && c.Notify.Slack.Channel == "" {
		errs = append(errs, "notify.slack.channel is required when a slack token is set")
	}
	if c.Notify.Discord.Token != "" && c.Notify.Discord.ChannelID == "" {
		errs = append(errs, "notify.discord.channel_id is required when a discord token is set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
