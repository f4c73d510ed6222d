package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sociagent/internal/automation"
	"sociagent/internal/config"
	"sociagent/internal/embedding"
	"sociagent/internal/generation"
	"sociagent/internal/llm"
	"sociagent/internal/logging"
	"sociagent/internal/memory"
	"sociagent/internal/orchestrator"
	"sociagent/internal/policy"
	"sociagent/internal/server"
	"sociagent/internal/social"
	"sociagent/internal/store"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sociagent",
	Short: "sociagent - autonomous social-account agent",
	Long: `sociagent manages social media accounts autonomously: it decides
follow/like/comment actions from engagement signals, answers direct messages
through an iterative generate-and-evaluate loop with episodic memory, and
runs one polling automation worker per managed account.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

// serveCmd runs the HTTP trigger surface and the automation scheduler.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent: HTTP trigger surface plus automation workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.close()

		srv := server.New(app.cfg.Server, logger, app.orch, app.scheduler)

		// Hot-reload the config file; only logging knobs apply live.
		watcher, err := config.NewWatcher(configPath, func(updated *config.Config) {
			logger.Info("config file changed, applying logging settings")
			_ = logging.Initialize(workspace, logging.Options{
				DebugMode:  updated.Logging.DebugMode,
				Categories: updated.Logging.Categories,
				Level:      updated.Logging.Level,
			})
		})
		if err == nil {
			watchCtx, cancelWatch := context.WithCancel(context.Background())
			defer cancelWatch()
			if err := watcher.Start(watchCtx); err != nil {
				logger.Warn("config watcher failed to start", zap.Error(err))
			} else {
				defer watcher.Stop()
			}
		} else {
			logger.Warn("config watcher unavailable", zap.Error(err))
		}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Info("shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil {
				return err
			}
			return nil
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := app.scheduler.StopAll(); err != nil {
			logger.Warn("stopping workers", zap.Error(err))
		}
		if err := app.orch.FlushMemory(shutdownCtx); err != nil {
			logger.Warn("flushing memory", zap.Error(err))
		}
		return srv.Shutdown(shutdownCtx)
	},
}

// decideCmd runs one decision cycle for an account and prints the report.
var decideCmd = &cobra.Command{
	Use:   "decide <user-id>",
	Short: "Run a single decision cycle for an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if err := app.orch.SwitchAccount(ctx, args[0]); err != nil {
			return err
		}
		report, err := app.orch.RunDecisionCycle(ctx)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

// app holds the wired component graph.
type app struct {
	cfg       *config.Config
	st        *store.Store
	orch      *orchestrator.Orchestrator
	scheduler *automation.Scheduler
}

func (a *app) close() {
	if a.st != nil {
		_ = a.st.Close()
	}
}

// buildApp loads config and wires the full component graph.
func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if err := logging.Initialize(workspace, logging.Options{
		DebugMode:  cfg.Logging.DebugMode,
		Categories: cfg.Logging.Categories,
		Level:      cfg.Logging.Level,
	}); err != nil {
		return nil, err
	}
	logging.Boot("sociagent %s starting", cfg.Version)

	st, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return nil, err
	}

	embedEngine, err := embedding.NewEngine(cfg.Embedding)
	if err != nil {
		logger.Warn("embedding engine unavailable, long-term search degrades to recency", zap.Error(err))
	} else {
		st.SetEmbeddingEngine(embedEngine)
	}

	llmClient, err := llm.NewFromConfig(cfg.LLM)
	if err != nil {
		st.Close()
		return nil, err
	}

	buffer := memory.NewBuffer(memory.Config{
		BufferLimit:    cfg.Memory.BufferLimit,
		MigrateCount:   cfg.Memory.MigrateCount,
		MigrateRetries: cfg.Memory.MigrateRetries,
	}, llm.NewSummarizer(llmClient), st)

	// The persona func closes over the orchestrator variable; the loop
	// never runs before New below assigns it.
	var orch *orchestrator.Orchestrator
	personaFn := func(accountID string) string {
		if orch == nil {
			return ""
		}
		return orch.PersonaPrompt(accountID)
	}

	registry := generation.NewRetrievalRegistry()
	registry.Register(generation.RetrievalTopical, func(ctx context.Context, accountID, query string) ([]string, error) {
		acct, err := st.GetAccountConfig(accountID)
		if err != nil || acct.TopicalNamespace == "" {
			return nil, nil
		}
		return memoryContents(st.SearchMemories(ctx, acct.TopicalNamespace, query, 5))
	})
	registry.Register(generation.RetrievalLongTerm, func(ctx context.Context, correspondentID, query string) ([]string, error) {
		return memoryContents(st.SearchMemories(ctx, correspondentID, query, 5))
	})

	loop := generation.NewLoop(llmClient, generation.NewLLMEvaluator(llmClient), buffer, registry, personaFn, generation.DefaultConfig())
	loop.SetCaptionHistory(st)

	socialClient, err := social.NewClient(cfg.Social)
	if err != nil {
		st.Close()
		return nil, err
	}

	orch = orchestrator.New(st, buffer, loop, socialClient, policy.NewEngine(), cfg.Policy.MaxIterations)

	scheduler, err := automation.NewScheduler(cfg.Automation, socialClient, orch)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &app{cfg: cfg, st: st, orch: orch, scheduler: scheduler}, nil
}

func memoryContents(entries []store.MemoryEntry, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Content)
	}
	return out, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "sociagent.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "Workspace directory")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(decideCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
