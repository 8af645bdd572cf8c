package main

import (
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agent-penny/penny"
	"github.com/agent-penny/penny/core"
	"github.com/agent-penny/penny/internal/config"
	"github.com/agent-penny/penny/logging"
	"github.com/agent-penny/penny/memory"
	"github.com/agent-penny/penny/model/router"
	"github.com/agent-penny/penny/tool"
	"github.com/agent-penny/penny/tools/calendar"
	"github.com/agent-penny/penny/tools/clock"
	"github.com/agent-penny/penny/tools/email"
	"github.com/agent-penny/penny/tools/weather"
	"github.com/agent-penny/penny/tools/websearch"
)

type rootFlags struct {
	model     string
	thinking  bool
	dataDir   string
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "penny",
		Short:         "penny: a personal AI assistant with memory and tools",
		Long: "penny chats with you in the terminal. It remembers facts across conversations,\n" +
			"knows the date, the weather and your location, and reads your calendar and\n" +
			"mailbox when those are configured. Configuration comes from environment\n" +
			"variables or ~/.config/penny/config.toml.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd, flags)
		},
	}

	rootCmd.Flags().StringVar(&flags.model, "model", "", `model selector, e.g. "anthropic:claude-sonnet-4-20250514"`)
	rootCmd.Flags().BoolVar(&flags.thinking, "thinking", false, "request extended thinking where supported")
	rootCmd.Flags().StringVar(&flags.dataDir, "data-dir", "", "directory for per-user memory files")
	rootCmd.Flags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.Flags().StringVar(&flags.logFormat, "log-format", "", "log format: text or json")

	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), penny.Version)
			return err
		},
	}
}

func runChat(cmd *cobra.Command, flags *rootFlags) error {
	cfg, err := config.Load(nil)
	if err != nil {
		return err
	}
	applyFlags(&cfg, cmd, flags)

	if cfg.Model == "" {
		return fmt.Errorf(`no model configured: set MODEL or pass --model (e.g. "openai:gpt-4o-mini")`)
	}

	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLogLevel(cfg.LogLevel),
		Format: cfg.LogFormat,
		Output: os.Stderr,
	})

	tools, cleanup := buildTools(cfg)
	defer cleanup()

	p, err := penny.New(func(o *penny.Options) {
		o.Model = router.Config{
			Selector: cfg.Model,
			Thinking: cfg.Thinking,
			Credentials: router.Credentials{
				OpenAIAPIKey:    cfg.OpenAIAPIKey,
				AnthropicAPIKey: cfg.AnthropicAPIKey,
				GeminiAPIKey:    cfg.GeminiAPIKey,
			},
		}
		o.Tools = tools
		o.MemoryStore = memory.NewFileStore(cfg.DataDir, memory.WithFileStoreLogger(logger))
		o.Logger = logger
	})
	if err != nil {
		return err
	}
	defer p.Shutdown()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := p.Begin(ctx, standaloneIdentity(), grantedScopes(cfg))
	if err != nil {
		return err
	}
	defer sess.End()

	logger.Info("chat.started",
		"identity", sess.Identity().String(),
		"model", sess.Info().Provider+":"+sess.Info().Name,
		"tools", len(sess.VisibleTools()),
	)

	return runREPL(ctx, p, sess, cmd.InOrStdin(), cmd.OutOrStdout())
}

// applyFlags lets command line flags override the loaded configuration.
func applyFlags(cfg *config.Config, cmd *cobra.Command, flags *rootFlags) {
	if flags.model != "" {
		cfg.Model = flags.model
	}
	if cmd.Flags().Changed("thinking") {
		cfg.Thinking = flags.thinking
	}
	if flags.dataDir != "" {
		cfg.DataDir = flags.dataDir
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.LogFormat = flags.logFormat
	}
}

// buildTools assembles the tool set for the current configuration. Tools
// whose backing service is not configured are left out entirely, so the
// model never sees them. The returned cleanup closes held connections.
func buildTools(cfg config.Config) ([]tool.Tool, func()) {
	tools := []tool.Tool{
		memory.NewLoadMemoryTool(),
		memory.NewSaveMemoryTool(),
		clock.NewCurrentDateTool(),
	}
	tools = append(tools, weather.New().Tools()...)

	if cfg.HasPerplexity() {
		tools = append(tools, websearch.New(cfg.PerplexityAPIKey).Tools()...)
	}
	if cfg.HasCalDAV() {
		cal := calendar.New(cfg.CalDAV.Endpoint, cfg.CalDAV.Username, cfg.CalDAV.Password)
		tools = append(tools, cal.Tools()...)
	}

	cleanup := func() {}
	if cfg.HasIMAP() {
		mailbox := email.New(email.Config{
			Host:     cfg.IMAP.Host,
			Port:     cfg.IMAP.Port,
			Username: cfg.IMAP.Username,
			Password: cfg.IMAP.Password,
			Folder:   cfg.IMAP.Folder,
		})
		tools = append(tools, mailbox.Tools()...)
		cleanup = func() { _ = mailbox.Close() }
	}

	return tools, cleanup
}

// grantedScopes maps the configuration onto session scopes. Calendar and
// mail scopes are granted only when their services are configured; the
// registry hides the gated tools otherwise.
func grantedScopes(cfg config.Config) core.ScopeSet {
	scopes := []string{core.ScopeStandalone}
	if cfg.HasCalDAV() {
		scopes = append(scopes, core.ScopeCalendarReadonly)
	}
	if cfg.HasIMAP() {
		scopes = append(scopes, core.ScopeMailReadonly)
	}
	return core.NewScopeSet(scopes...)
}

// standaloneIdentity names the local user. Memory files are keyed by it, so
// two OS users sharing a machine get separate memories.
func standaloneIdentity() core.Identity {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return core.Identity(u.Username)
	}
	if name := os.Getenv("USER"); name != "" {
		return core.Identity(name)
	}
	return core.Identity("user")
}
