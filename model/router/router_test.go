package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agent-penny/penny/logging"
)

// recordingLogger captures warn events so downgrade notices can be asserted.
type recordingLogger struct {
	logging.NoOpLogger
	warns []string
}

func (l *recordingLogger) Warn(msg string, args ...any) {
	l.warns = append(l.warns, msg)
}

func testCredentials() Credentials {
	return Credentials{
		OpenAIAPIKey:    "sk-test-openai",
		AnthropicAPIKey: "sk-test-anthropic",
		GeminiAPIKey:    "test-gemini",
	}
}

// -------------------- Selector Parsing Tests --------------------

func TestParseSelector(t *testing.T) {
	provider, name, err := ParseSelector("openai:gpt-4o-mini")
	assert.NoError(t, err)
	assert.Equal(t, "openai", provider)
	assert.Equal(t, "gpt-4o-mini", name)
}

func TestParseSelector_Aliases(t *testing.T) {
	for _, alias := range []string{"google-gla", "gemini", "google"} {
		provider, name, err := ParseSelector(alias + ":gemini-2.0-flash")
		assert.NoError(t, err, alias)
		assert.Equal(t, "google", provider, alias)
		assert.Equal(t, "gemini-2.0-flash", name, alias)
	}
}

func TestParseSelector_MissingColon(t *testing.T) {
	_, _, err := ParseSelector("gpt-4o")

	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, UnknownProvider, cfgErr.Kind)
}

func TestParseSelector_UnknownProvider(t *testing.T) {
	_, _, err := ParseSelector("mistral:large")

	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, UnknownProvider, cfgErr.Kind)
	assert.Equal(t, "mistral", cfgErr.Provider)
}

func TestParseSelector_EmptySegments(t *testing.T) {
	for _, selector := range []string{":gpt-4o", "openai:", ":", ""} {
		_, _, err := ParseSelector(selector)

		var cfgErr *ConfigError
		assert.ErrorAs(t, err, &cfgErr, selector)
		assert.Equal(t, UnknownProvider, cfgErr.Kind, selector)
	}
}

// -------------------- Resolve Tests --------------------

func TestResolve_KnownModel(t *testing.T) {
	res, err := Resolve(Config{
		Selector:    "anthropic:claude-sonnet-4-20250514",
		Credentials: testCredentials(),
	})

	assert.NoError(t, err)
	assert.NotNil(t, res.Model)
	assert.Equal(t, "anthropic", res.Info.Provider)
	assert.Equal(t, "claude-sonnet-4-20250514", res.Info.Name)
	assert.True(t, res.Info.SupportsTools)
	assert.True(t, res.Info.SupportsThinking)
	assert.Equal(t, 12, res.Info.MaxToolTurns)
	assert.False(t, res.ThinkingEnabled)
}

func TestResolve_UnknownModelGetsDefaults(t *testing.T) {
	res, err := Resolve(Config{
		Selector:    "openai:gpt-5",
		Credentials: testCredentials(),
	})

	assert.NoError(t, err)
	assert.NotNil(t, res.Model)
	assert.True(t, res.Info.SupportsTools)
	assert.False(t, res.Info.SupportsThinking)
	assert.Equal(t, 8, res.Info.MaxToolTurns)
}

func TestResolve_MissingCredential(t *testing.T) {
	creds := testCredentials()
	creds.OpenAIAPIKey = ""

	res, err := Resolve(Config{Selector: "openai:gpt-5", Credentials: creds})

	assert.Nil(t, res)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, MissingCredential, cfgErr.Kind)
	assert.Equal(t, "openai", cfgErr.Provider)
	assert.Contains(t, cfgErr.Error(), "OPENAI_API_KEY")
}

func TestResolve_MissingGeminiCredential(t *testing.T) {
	creds := testCredentials()
	creds.GeminiAPIKey = ""

	_, err := Resolve(Config{Selector: "google-gla:gemini-2.0-flash", Credentials: creds})

	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, MissingCredential, cfgErr.Kind)
	assert.Equal(t, "google", cfgErr.Provider)
}

// -------------------- Thinking Tests --------------------

func TestResolve_ThinkingEnabled(t *testing.T) {
	logger := &recordingLogger{}

	res, err := Resolve(Config{
		Selector:    "anthropic:claude-sonnet-4-20250514",
		Thinking:    true,
		Credentials: testCredentials(),
	}, WithLogger(logger))

	assert.NoError(t, err)
	assert.True(t, res.ThinkingEnabled)
	assert.Empty(t, logger.warns)
}

func TestResolve_ThinkingDowngradeIsNonFatal(t *testing.T) {
	logger := &recordingLogger{}

	res, err := Resolve(Config{
		Selector:    "openai:gpt-4o",
		Thinking:    true,
		Credentials: testCredentials(),
	}, WithLogger(logger))

	assert.NoError(t, err)
	assert.NotNil(t, res.Model)
	assert.False(t, res.ThinkingEnabled)
	assert.Contains(t, logger.warns, "model.thinking.downgrade")
}

func TestResolve_ThinkingDowngradeOnUnknownAnthropicModel(t *testing.T) {
	logger := &recordingLogger{}

	res, err := Resolve(Config{
		Selector:    "anthropic:claude-experimental",
		Thinking:    true,
		Credentials: testCredentials(),
	}, WithLogger(logger))

	assert.NoError(t, err)
	assert.False(t, res.ThinkingEnabled)
	assert.Contains(t, logger.warns, "model.thinking.downgrade")
}
