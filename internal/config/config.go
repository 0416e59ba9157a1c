package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vampirenirmal/storyforge/internal/core"
)

const apiKeyPlaceholder = "${STORYFORGE_API_KEY}"

type Config struct {
	AI      AIConfig      `yaml:"ai" validate:"required"`
	Storage StorageConfig `yaml:"storage" validate:"required"`
	Limits  Limits        `yaml:"limits" validate:"required"`
	QA      QAConfig      `yaml:"qa" validate:"required"`
	Cover   CoverConfig   `yaml:"cover"`
	Log     LogConfig     `yaml:"log"`
}

type AIConfig struct {
	APIKey       string `yaml:"api_key" validate:"omitempty,min=20"`
	BaseURL      string `yaml:"base_url" validate:"required,url"`
	Model        string `yaml:"model" validate:"required"`
	CheckerModel string `yaml:"checker_model"`
	Timeout      int    `yaml:"timeout" validate:"required,min=10,max=3600"`
	MaxTokens    int    `yaml:"max_tokens" validate:"min=0,max=200000"`
}

type StorageConfig struct {
	Database   string `yaml:"database" validate:"required,filepath"`
	ArchiveDir string `yaml:"archive_dir" validate:"required,dirpath"`
	PromptsDir string `yaml:"prompts_dir"`
}

type CoverConfig struct {
	BaseURL      string        `yaml:"base_url" validate:"omitempty,url"`
	APIKey       string        `yaml:"api_key"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxPolls     int           `yaml:"max_polls" validate:"min=0,max=600"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// Load reads the config from the default location. A missing file yields
// the defaults, with the API key taken from the environment.
func Load() (*Config, error) {
	return LoadFrom(getConfigPath())
}

func LoadFrom(configPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if cfg.AI.APIKey == "" || strings.HasPrefix(cfg.AI.APIKey, "${") {
		cfg.AI.APIKey = apiKeyFromEnv()
	}
	if cfg.Cover.APIKey == "" || strings.HasPrefix(cfg.Cover.APIKey, "${") {
		cfg.Cover.APIKey = os.Getenv("STORYFORGE_COVER_API_KEY")
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// RequireAPIKey reports whether the generation API key is set. Only
// commands that call the model need it.
func (c *Config) RequireAPIKey() error {
	if c.AI.APIKey == "" {
		return fmt.Errorf("set STORYFORGE_API_KEY or ai.api_key: %w", core.ErrNoAPIKey)
	}
	return nil
}

// Default returns a config with every section populated except credentials.
func Default() *Config {
	dataDir := dataHome()
	return &Config{
		AI: AIConfig{
			BaseURL:      "https://api.openai.com/v1",
			Model:        "gpt-4o",
			CheckerModel: "gpt-4o-mini",
			Timeout:      120,
			MaxTokens:    4096,
		},
		Storage: StorageConfig{
			Database:   filepath.Join(dataDir, "storyforge.db"),
			ArchiveDir: filepath.Join(dataDir, "archive"),
		},
		Limits: DefaultLimits(),
		QA:     DefaultQA(),
		Cover: CoverConfig{
			PollInterval: 3 * time.Second,
			MaxPolls:     40,
		},
		Log: LogConfig{Level: "info"},
	}
}

func apiKeyFromEnv() string {
	for _, name := range []string{"STORYFORGE_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY"} {
		if key := os.Getenv(name); key != "" {
			return key
		}
	}
	return ""
}

func getConfigPath() string {
	if path := os.Getenv("STORYFORGE_CONFIG"); path != "" {
		return path
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "storyforge", "config.yaml")
	}

	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "storyforge", "config.yaml")
}

// DefaultPath is where Load looks for the config file.
func DefaultPath() string {
	return getConfigPath()
}

func dataHome() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "storyforge")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "storyforge")
}

// expandTilde expands a tilde (~) at the beginning of a path to the user's home directory
func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func (c *Config) validate() error {
	c.Storage.Database = expandTilde(c.Storage.Database)
	c.Storage.ArchiveDir = expandTilde(c.Storage.ArchiveDir)
	c.Storage.PromptsDir = expandTilde(c.Storage.PromptsDir)

	if c.AI.CheckerModel == "" {
		c.AI.CheckerModel = c.AI.Model
	}
	if c.Limits.Workers == 0 {
		c.Limits = DefaultLimits()
	}
	if c.QA.ApproveThreshold == 0 {
		c.QA = DefaultQA()
	}

	validate := validator.New()

	// Directories are created on demand.
	validate.RegisterValidation("dirpath", func(fl validator.FieldLevel) bool {
		return fl.Field().String() != ""
	})

	validate.RegisterValidation("filepath", func(fl validator.FieldLevel) bool {
		return fl.Field().String() != "" && !strings.HasSuffix(fl.Field().String(), string(os.PathSeparator))
	})

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if c.QA.RejectThreshold >= c.QA.ApproveThreshold {
		return fmt.Errorf("config validation failed: qa reject threshold %d must be below approve threshold %d",
			c.QA.RejectThreshold, c.QA.ApproveThreshold)
	}

	return nil
}

// Save writes cfg to path with credentials replaced by env placeholders.
func Save(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	cfgToSave := *cfg
	cfgToSave.AI.APIKey = apiKeyPlaceholder
	if cfgToSave.Cover.APIKey != "" {
		cfgToSave.Cover.APIKey = "${STORYFORGE_COVER_API_KEY}"
	}

	data, err := yaml.Marshal(&cfgToSave)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}
