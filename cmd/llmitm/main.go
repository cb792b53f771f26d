// llmitm is the autonomous authorization-testing agent: it fingerprints a
// target from captured traffic, compiles an attack workflow (or replays a
// stored one), executes it, and persists what it learns in Neo4j.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BetterCallFirewall/llmitm/internal/capture"
	"github.com/BetterCallFirewall/llmitm/internal/compiler"
	"github.com/BetterCallFirewall/llmitm/internal/config"
	"github.com/BetterCallFirewall/llmitm/internal/debuglog"
	"github.com/BetterCallFirewall/llmitm/internal/events"
	"github.com/BetterCallFirewall/llmitm/internal/executor"
	"github.com/BetterCallFirewall/llmitm/internal/exploit"
	fp "github.com/BetterCallFirewall/llmitm/internal/fingerprint"
	"github.com/BetterCallFirewall/llmitm/internal/graph"
	"github.com/BetterCallFirewall/llmitm/internal/handlers"
	"github.com/BetterCallFirewall/llmitm/internal/hooks"
	"github.com/BetterCallFirewall/llmitm/internal/llm"
	"github.com/BetterCallFirewall/llmitm/internal/models"
	"github.com/BetterCallFirewall/llmitm/internal/monitor"
	"github.com/BetterCallFirewall/llmitm/internal/orchestrator"
	"github.com/BetterCallFirewall/llmitm/internal/recon"
	"github.com/BetterCallFirewall/llmitm/internal/target"
)

var (
	logger  *zap.Logger
	verbose bool
)

func main() {
	root := &cobra.Command{
		Use:          "llmitm",
		Short:        "Autonomous authorization testing against captured web traffic",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if verbose {
				logger, err = zap.NewDevelopment()
			} else {
				logger, err = zap.NewProduction()
			}
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "human-readable debug logging")

	root.AddCommand(runCmd(), schemaCmd(), fingerprintCmd(), similarCmd(), monitorCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func flowSource(cfg *config.Config) orchestrator.FlowSource {
	return func(ctx context.Context) ([]capture.Flow, error) {
		if cfg.Target.CaptureMode == "live" {
			return capture.Probe(ctx, cfg.Target.URL, cfg.Executor.RequestTimeout)
		}
		return capture.ReadFile(cfg.Target.TrafficFile)
	}
}

func runCmd() *cobra.Command {
	var withMonitor bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one full run against the configured target",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			repo, err := graph.New(ctx, graph.Config{
				URI:          cfg.Neo4j.URI,
				Username:     cfg.Neo4j.Username,
				Password:     cfg.Neo4j.Password,
				Database:     cfg.Neo4j.Database,
				EmbeddingDim: cfg.Neo4j.EmbeddingDim,
			}, logger)
			if err != nil {
				return err
			}
			defer repo.Close(ctx)

			recorder, err := debuglog.New(cfg.Debug.LogDir, cfg.Debug.Logging, logger)
			if err != nil {
				return err
			}

			emitters := events.Multi{recorder}
			if withMonitor {
				hub := monitor.NewHub(logger)
				srv := monitor.NewServer(cfg.Debug.MonitorAddr, hub, logger)
				go func() {
					if err := srv.Start(); err != nil {
						logger.Error("monitor server", zap.Error(err))
					}
				}()
				defer srv.Shutdown(context.Background())
				emitters = append(emitters, hub)
			}

			var (
				factory orchestrator.CompilerFactory
				meter   orchestrator.TokenMeter
			)
			if cfg.LLM.APIKey != "" {
				agent := llm.New(ctx, llm.Options{
					APIKey:      cfg.LLM.APIKey,
					SmartModel:  cfg.LLM.ModelSmart,
					FastModel:   cfg.LLM.ModelFast,
					TokenBudget: cfg.LLM.MaxTokenBudget,
				}, logger)
				agent.SetRecorder(recorder)
				meter = agent.Budget()

				factory = func(flows []capture.Flow, fingerprint models.Fingerprint) orchestrator.Compiler {
					profile := target.Lookup(cfg.Target.Profile, cfg.Target.URL, &fingerprint)
					tools := recon.NewToolbox(flows).DefineTools(agent.Genkit())
					return compiler.New(agent, exploit.DefaultRegistry(), profile, tools, len(flows),
						compiler.Options{MaxCriticIterations: cfg.LLM.MaxCriticIterations}, emitters, logger)
				}
			} else {
				logger.Warn("API_KEY not set; cold start and self-repair are disabled")
			}

			registry := handlers.Default(handlers.Options{
				RequestTimeout: cfg.Executor.RequestTimeout,
				ShellTimeout:   cfg.Executor.ShellTimeout,
			}, logger)
			approval := hooks.New(hooks.Policy(cfg.Executor.ApprovalPolicy), nil)
			exec := executor.New(registry, repo, approval, emitters, cfg.Executor.RetryBackoff, logger)

			orch := orchestrator.New(repo, exec, factory, flowSource(cfg),
				fp.HashEmbedder{Dimensions: cfg.Neo4j.EmbeddingDim}, meter,
				emitters, logger, orchestrator.Options{
					TargetURL:   cfg.Target.URL,
					Profile:     cfg.Target.Profile,
					CaptureMode: cfg.Target.CaptureMode,
				})

			result, runErr := orch.Run(ctx)
			recorder.Summary(result)
			printJSON(cmd, result)
			return runErr
		},
	}
	cmd.Flags().BoolVar(&withMonitor, "monitor", false, "serve live run events over websocket")
	return cmd
}

func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create the Neo4j constraints and vector indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			repo, err := graph.New(ctx, graph.Config{
				URI:          cfg.Neo4j.URI,
				Username:     cfg.Neo4j.Username,
				Password:     cfg.Neo4j.Password,
				Database:     cfg.Neo4j.Database,
				EmbeddingDim: cfg.Neo4j.EmbeddingDim,
			}, logger)
			if err != nil {
				return err
			}
			defer repo.Close(ctx)
			return repo.EnsureSchema(ctx)
		},
	}
}

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Fingerprint the configured capture without touching the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			flows, err := flowSource(cfg)(ctx)
			if err != nil {
				return err
			}
			fingerprint, err := fp.Generate(flows)
			if err != nil {
				return err
			}
			printJSON(cmd, fingerprint)
			return nil
		},
	}
}

func similarCmd() *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "similar",
		Short: "Find stored fingerprints similar to the configured capture",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			flows, err := flowSource(cfg)(ctx)
			if err != nil {
				return err
			}
			fingerprint, err := fp.Generate(flows)
			if err != nil {
				return err
			}
			embedder := fp.HashEmbedder{Dimensions: cfg.Neo4j.EmbeddingDim}
			embedding, err := embedder.Embed(ctx, fingerprint.ObservationText)
			if err != nil {
				return err
			}

			repo, err := graph.New(ctx, graph.Config{
				URI:          cfg.Neo4j.URI,
				Username:     cfg.Neo4j.Username,
				Password:     cfg.Neo4j.Password,
				Database:     cfg.Neo4j.Database,
				EmbeddingDim: cfg.Neo4j.EmbeddingDim,
			}, logger)
			if err != nil {
				return err
			}
			defer repo.Close(ctx)

			matches, err := repo.FindSimilarFingerprints(ctx, embedding, topK, cfg.Neo4j.SimilarityThreshold)
			if err != nil {
				return err
			}
			printJSON(cmd, matches)
			return nil
		},
	}
	cmd.Flags().IntVar(&topK, "top", 5, "maximum number of matches")
	return cmd
}

func monitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Run the websocket monitor standalone",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			hub := monitor.NewHub(logger)
			srv := monitor.NewServer(cfg.Debug.MonitorAddr, hub, logger)
			go func() {
				<-ctx.Done()
				_ = srv.Shutdown(context.Background())
			}()
			return srv.Start()
		},
	}
}

func printJSON(cmd *cobra.Command, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
}
