// Package router turns a "provider:model-name" selector into a ready model
// backend plus its static capability descriptor. Resolution happens once at
// session start; nothing here is re-examined mid-conversation.
package router

import (
	"fmt"
	"strings"

	"github.com/agent-penny/penny/logging"
	"github.com/agent-penny/penny/model"
	"github.com/agent-penny/penny/model/anthropic"
	"github.com/agent-penny/penny/model/google"
	"github.com/agent-penny/penny/model/openai"
)

// ErrorKind classifies configuration failures.
type ErrorKind string

const (
	// UnknownProvider marks a selector whose provider segment is missing or
	// not supported.
	UnknownProvider ErrorKind = "UNKNOWN_PROVIDER"
	// MissingCredential marks a supported provider without its API key.
	MissingCredential ErrorKind = "MISSING_CREDENTIAL"
)

// ConfigError reports a fatal model configuration problem. It carries enough
// context for the process entrypoint to print an actionable message and exit.
type ConfigError struct {
	Kind     ErrorKind
	Provider string
	Message  string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("model config error [%s]: %s", e.Kind, e.Message)
}

// Credentials holds the provider API keys. They are read once at process
// start and passed in here; resolution never consults the environment.
type Credentials struct {
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GeminiAPIKey    string
}

// Config is the immutable input to Resolve.
type Config struct {
	Selector    string // "provider:model-name"
	Thinking    bool   // Request extended thinking
	Credentials Credentials
}

// Resolution is the outcome of a successful Resolve: a ready backend, its
// capability descriptor, and whether thinking actually got enabled.
type Resolution struct {
	Model           model.Model
	Info            model.Info
	ThinkingEnabled bool
}

// Options configure resolution side concerns.
type Options struct {
	Logger         logging.Logger
	ThinkingBudget int64
}

// WithLogger sets the logger used for downgrade notices.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// providerAliases maps accepted selector prefixes onto canonical providers.
var providerAliases = map[string]string{
	"openai":     "openai",
	"anthropic":  "anthropic",
	"google":     "google",
	"google-gla": "google",
	"gemini":     "google",
}

// capabilities is the static per-model descriptor table. Models absent from
// the table get defaultInfo; capability changes for new models ship as table
// edits, not runtime probes.
var capabilities = map[string]model.Info{
	"openai:gpt-4o":      {SupportsTools: true, SupportsThinking: false, MaxToolTurns: 8},
	"openai:gpt-4o-mini": {SupportsTools: true, SupportsThinking: false, MaxToolTurns: 8},
	"anthropic:claude-3-5-sonnet-20241022": {SupportsTools: true, SupportsThinking: true, MaxToolTurns: 8},
	"anthropic:claude-3-5-haiku-20241022":  {SupportsTools: true, SupportsThinking: false, MaxToolTurns: 8},
	"anthropic:claude-sonnet-4-20250514":   {SupportsTools: true, SupportsThinking: true, MaxToolTurns: 12},
	"google:gemini-2.0-flash":              {SupportsTools: true, SupportsThinking: false, MaxToolTurns: 8},
	"google:gemini-1.5-pro":                {SupportsTools: true, SupportsThinking: false, MaxToolTurns: 8},
}

// defaultInfo is assumed for models not present in the capability table.
func defaultInfo() model.Info {
	return model.Info{SupportsTools: true, SupportsThinking: false, MaxToolTurns: 8}
}

// ParseSelector splits a "provider:model-name" selector into its canonical
// provider and model name. Alias prefixes are normalized.
func ParseSelector(selector string) (provider, name string, err error) {
	rawProvider, rawName, found := strings.Cut(selector, ":")
	if !found || rawProvider == "" || rawName == "" {
		return "", "", &ConfigError{
			Kind:    UnknownProvider,
			Message: fmt.Sprintf("selector %q is not of the form provider:model-name", selector),
		}
	}

	canonical, ok := providerAliases[strings.ToLower(rawProvider)]
	if !ok {
		return "", "", &ConfigError{
			Kind:     UnknownProvider,
			Provider: rawProvider,
			Message:  fmt.Sprintf("unsupported provider %q", rawProvider),
		}
	}

	return canonical, rawName, nil
}

// Resolve parses the selector, checks the provider credential, looks up the
// capability descriptor and instantiates the backend. A thinking request on a
// model without thinking support is downgraded with a warning rather than
// rejected: a reachable model beats a strictly validated config.
func Resolve(cfg Config, optFns ...func(o *Options)) (*Resolution, error) {
	opts := Options{
		Logger:         logging.NoOpLogger{},
		ThinkingBudget: 2048,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	provider, name, err := ParseSelector(cfg.Selector)
	if err != nil {
		return nil, err
	}

	info, ok := capabilities[provider+":"+name]
	if !ok {
		info = defaultInfo()
	}
	info.Name = name
	info.Provider = provider

	thinking := cfg.Thinking
	if thinking && !info.SupportsThinking {
		opts.Logger.Warn("model.thinking.downgrade",
			"provider", provider,
			"model", name,
			"reason", "thinking not supported, continuing without it",
		)
		thinking = false
	}

	backend, err := buildBackend(provider, name, thinking, cfg.Credentials, opts)
	if err != nil {
		return nil, err
	}

	return &Resolution{Model: backend, Info: info, ThinkingEnabled: thinking}, nil
}

// buildBackend instantiates the provider adapter after verifying its
// credential is present.
func buildBackend(provider, name string, thinking bool, creds Credentials, opts Options) (model.Model, error) {
	switch provider {
	case "openai":
		if creds.OpenAIAPIKey == "" {
			return nil, missingCredential(provider, "OPENAI_API_KEY")
		}
		return openai.NewModel(
			openai.WithModel(name),
			openai.WithAPIKey(creds.OpenAIAPIKey),
		), nil
	case "anthropic":
		if creds.AnthropicAPIKey == "" {
			return nil, missingCredential(provider, "ANTHROPIC_API_KEY")
		}
		fns := []func(o *anthropic.Options){
			anthropic.WithModel(name),
			anthropic.WithAPIKey(creds.AnthropicAPIKey),
		}
		if thinking {
			fns = append(fns, anthropic.WithThinking(opts.ThinkingBudget))
		}
		return anthropic.NewModel(fns...), nil
	case "google":
		if creds.GeminiAPIKey == "" {
			return nil, missingCredential(provider, "GEMINI_API_KEY")
		}
		return google.NewModel(
			google.WithModel(name),
			google.WithAPIKey(creds.GeminiAPIKey),
		), nil
	default:
		// ParseSelector already rejected unknown providers.
		return nil, &ConfigError{
			Kind:     UnknownProvider,
			Provider: provider,
			Message:  fmt.Sprintf("unsupported provider %q", provider),
		}
	}
}

func missingCredential(provider, envHint string) *ConfigError {
	return &ConfigError{
		Kind:     MissingCredential,
		Provider: provider,
		Message:  fmt.Sprintf("no API key configured for provider %q (set %s)", provider, envHint),
	}
}
