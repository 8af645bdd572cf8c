// Package config loads the process configuration once at startup and hands
// the rest of the program an immutable snapshot. Sources are, in order of
// precedence: environment variables, an optional config.toml in the user's
// config directory, and built-in defaults. Nothing else in the codebase
// reads the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the resolved runtime configuration. Treat it as read-only after
// Load returns; it is passed by value to the components that need it.
type Config struct {
	// Model is the "provider:model-name" selector. Required.
	Model string
	// Thinking requests extended thinking where the model supports it.
	Thinking bool
	// DataDir is where per-user memory files live.
	DataDir string

	LogLevel  string
	LogFormat string

	OpenAIAPIKey     string
	AnthropicAPIKey  string
	GeminiAPIKey     string
	PerplexityAPIKey string

	IMAP   IMAPConfig
	CalDAV CalDAVConfig
}

// IMAPConfig describes the optional mail account.
type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Folder   string
}

// CalDAVConfig describes the optional calendar account.
type CalDAVConfig struct {
	Endpoint string
	Username string
	Password string
}

// HasPerplexity reports whether web search can be offered.
func (c Config) HasPerplexity() bool { return c.PerplexityAPIKey != "" }

// HasIMAP reports whether the mail tools can be offered.
func (c Config) HasIMAP() bool { return c.IMAP.Host != "" }

// HasCalDAV reports whether the calendar tools can be offered.
func (c Config) HasCalDAV() bool { return c.CalDAV.Endpoint != "" }

// envBindings maps config keys to the environment variables that override
// them. The variable names match what other tooling around these services
// already uses, so no PENNY_ prefix.
var envBindings = map[string]string{
	"model":              "MODEL",
	"thinking":           "THINKING",
	"data_dir":           "DATA_DIR",
	"log.level":          "LOG_LEVEL",
	"log.format":         "LOG_FORMAT",
	"openai.api_key":     "OPENAI_API_KEY",
	"anthropic.api_key":  "ANTHROPIC_API_KEY",
	"gemini.api_key":     "GEMINI_API_KEY",
	"perplexity.api_key": "PERPLEXITY_API_KEY",
	"imap.host":          "IMAP_HOST",
	"imap.port":          "IMAP_PORT",
	"imap.username":      "IMAP_USERNAME",
	"imap.password":      "IMAP_PASSWORD",
	"imap.folder":        "IMAP_FOLDER",
	"caldav.endpoint":    "CALDAV_ENDPOINT",
	"caldav.username":    "CALDAV_USERNAME",
	"caldav.password":    "CALDAV_PASSWORD",
}

// Load reads the configuration. A nil viper instance gets a fresh one; tests
// inject their own to control the search path.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}

	v.SetConfigName("config")
	v.SetConfigType("toml")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "penny"))
	}

	v.SetDefault("data_dir", "~/.local/share/agent-penny")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	dataDir, err := expandHome(v.GetString("data_dir"))
	if err != nil {
		return Config{}, err
	}

	return Config{
		Model:    v.GetString("model"),
		Thinking: v.GetBool("thinking"),
		DataDir:  dataDir,

		LogLevel:  v.GetString("log.level"),
		LogFormat: v.GetString("log.format"),

		OpenAIAPIKey:     v.GetString("openai.api_key"),
		AnthropicAPIKey:  v.GetString("anthropic.api_key"),
		GeminiAPIKey:     v.GetString("gemini.api_key"),
		PerplexityAPIKey: v.GetString("perplexity.api_key"),

		IMAP: IMAPConfig{
			Host:     v.GetString("imap.host"),
			Port:     v.GetInt("imap.port"),
			Username: v.GetString("imap.username"),
			Password: v.GetString("imap.password"),
			Folder:   v.GetString("imap.folder"),
		},
		CalDAV: CalDAVConfig{
			Endpoint: v.GetString("caldav.endpoint"),
			Username: v.GetString("caldav.username"),
			Password: v.GetString("caldav.password"),
		},
	}, nil
}

// expandHome resolves a leading ~ to the user's home directory.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}
