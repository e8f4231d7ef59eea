// Package cli is the casegen command line.
package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joelkehle/casegen/internal/config"
	"github.com/joelkehle/casegen/internal/generate"
	"github.com/joelkehle/casegen/internal/llm"
	"github.com/joelkehle/casegen/internal/logging"
	"github.com/joelkehle/casegen/internal/store"
	"github.com/joelkehle/casegen/internal/telemetry"
)

var (
	Version = "dev"
	Commit  = "none"
)

// app carries what every subcommand shares. The constructors are fields so
// tests can swap the model and the database.
type app struct {
	configPath string
	envFile    string
	logLevel   string

	cfg      config.Config
	logger   *zap.Logger
	shutdown telemetry.Shutdown

	newGenerator func(config.LLM, *zap.Logger) (llm.Generator, error)
	openStore    func(path string) (*store.Store, error)
}

func newApp() *app {
	return &app{
		newGenerator: NewGenerator,
		openStore:    store.Open,
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(newApp())
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "casegen",
		Version:       Version + " (" + Commit + ")",
		Short:         "Generate and recover structured test cases from language model output",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newGenerateCmd(a),
		newParseCmd(a),
		newAnalyzeCmd(a),
		newFromRequirementsCmd(a),
		newRequirementsCmd(a),
		newServeCmd(a),
	)
	return root
}

// Execute runs the command line against ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func (a *app) init(ctx context.Context) error {
	cfg, err := config.Load(a.configPath, a.envFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		return err
	}
	_, shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	a.cfg, a.logger, a.shutdown = cfg, logger, shutdown
	return nil
}

func (a *app) close(ctx context.Context) error {
	if a.shutdown != nil {
		if err := a.shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return nil
}

func (a *app) service() (*generate.Service, error) {
	gen, err := a.newGenerator(a.cfg.LLM, a.logger)
	if err != nil {
		return nil, err
	}
	return generate.NewService(gen, generate.Options{
		Logger:         a.logger,
		Reflow:         a.cfg.ReflowMode(),
		ContentRetries: a.cfg.Generation.ContentRetries,
		MaxTokens:      a.cfg.LLM.MaxTokens,
		Temperature:    a.cfg.LLM.Temperature,
	})
}

// NewGenerator builds the configured provider wrapped in retries and a
// deadline.
func NewGenerator(cfg config.LLM, logger *zap.Logger) (llm.Generator, error) {
	var inner llm.Generator
	switch strings.ToLower(cfg.Provider) {
	case config.ProviderAnthropic:
		c, err := llm.NewAnthropicCaller(cfg.APIKey, cfg.Model, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		inner = c
	case config.ProviderOpenAI:
		base := cfg.BaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		model := cfg.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		c, err := llm.NewOpenAICaller(cfg.APIKey, model, base)
		if err != nil {
			return nil, err
		}
		inner = c
	case config.ProviderDeepSeek:
		c, err := llm.NewOpenAICaller(cfg.APIKey, cfg.Model, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		inner = c
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	return llm.NewResilient(inner, llm.ResilientConfig{
		MaxAttempts: cfg.MaxAttempts,
		Timeout:     cfg.Timeout,
	}, logger), nil
}
