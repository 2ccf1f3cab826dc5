package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/admitrag/internal/ai"
	"github.com/xxxsen/admitrag/internal/config"
	"github.com/xxxsen/admitrag/internal/db"
	"github.com/xxxsen/admitrag/internal/eval"
	"github.com/xxxsen/admitrag/internal/handler"
	"github.com/xxxsen/admitrag/internal/job"
	"github.com/xxxsen/admitrag/internal/middleware"
	"github.com/xxxsen/admitrag/internal/prompts"
	"github.com/xxxsen/admitrag/internal/repo"
	"github.com/xxxsen/admitrag/internal/schedule"
	"github.com/xxxsen/admitrag/internal/service"
)

type app struct {
	cfg      *config.Config
	db       *sql.DB
	provider ai.IProvider
}

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "admitrag",
		Short: "university admissions rag service",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "path to config.json")

	rootCmd.AddCommand(
		serveCmd(&configPath),
		askCmd(&configPath),
		qaCmd(&configPath),
		evalCmd(&configPath),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func bootstrap(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))

	database, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}
	provider, err := buildProvider(cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("init ai provider: %w", err)
	}
	return &app{cfg: cfg, db: database, provider: provider}, nil
}

func buildProvider(cfg config.AIConfig) (ai.IProvider, error) {
	providers := make([]ai.IProvider, 0, len(cfg.Providers))
	for _, item := range cfg.Providers {
		provider, err := ai.NewProvider(item.Provider, item.Data)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", item.Provider, err)
		}
		providers = append(providers, provider)
	}
	if len(providers) == 1 {
		return providers[0], nil
	}
	return ai.NewGroupProvider(providers)
}

func (a *app) timeout() time.Duration {
	return time.Duration(a.cfg.AI.TimeoutSeconds) * time.Second
}

func (a *app) ragService(withCache bool) (*service.RagService, error) {
	systemPrompt, err := prompts.Load(prompts.SystemPrompt)
	if err != nil {
		return nil, err
	}
	opts := service.RagOptions{
		TopK:          a.cfg.RAG.TopK,
		MinSimilarity: a.cfg.RAG.MinSimilarity,
		Temperature:   a.cfg.AI.AnswerTemperature,
	}
	if withCache {
		opts.CacheSize = a.cfg.RAG.CacheSize
		opts.CacheTTL = time.Duration(a.cfg.RAG.CacheTTLMinutes) * time.Minute
	}
	return service.NewRagService(
		repo.NewQaPairRepo(a.db),
		repo.NewRagRunRepo(a.db),
		ai.NewEmbedder(a.provider, a.cfg.AI.EmbeddingModel, a.timeout()),
		ai.NewGenerator(a.provider, a.cfg.AI.AnswerModel, ai.GeneratorOptions{
			SystemPrompt: systemPrompt,
			Temperature:  a.cfg.AI.AnswerTemperature,
			Timeout:      a.timeout(),
		}),
		opts,
	), nil
}

func (a *app) pipeline() *eval.Pipeline {
	return eval.NewPipeline(repo.NewEvalRepo(a.db), repo.NewQaPairRepo(a.db), a.provider)
}

func (a *app) runConfig(dataset, systemVersion string, limit int) eval.RunConfig {
	return eval.RunConfig{
		DatasetName:           dataset,
		SystemVersion:         systemVersion,
		TopK:                  a.cfg.RAG.TopK,
		MinSimilarity:         a.cfg.RAG.MinSimilarity,
		EmbeddingModel:        a.cfg.AI.EmbeddingModel,
		AnswerModel:           a.cfg.AI.AnswerModel,
		AnswerTemperature:     a.cfg.AI.AnswerTemperature,
		JudgeModel:            a.cfg.AI.JudgeModel,
		JudgeTemperature:      a.cfg.AI.JudgeTemperature,
		MetricsEmbeddingModel: a.cfg.AI.MetricsEmbeddingModel,
		Concurrency:           a.cfg.Eval.Concurrency,
		LimitCases:            limit,
		TimeoutSeconds:        a.cfg.AI.TimeoutSeconds,
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the http server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.db.Close()
			return runServer(a)
		},
	}
}

func runServer(a *app) error {
	rag, err := a.ragService(true)
	if err != nil {
		return err
	}
	deps := handler.RouterDeps{
		Ask:  handler.NewAskHandler(rag),
		Eval: handler.NewEvalHandler(a.pipeline()),
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", a.cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(a.cfg.CORSAllowlist),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := schedule.NewCronScheduler()
	if a.cfg.Resync.Enable {
		resync := job.NewEmbeddingResyncJob(
			repo.NewQaPairRepo(a.db),
			ai.NewEmbedder(a.provider, a.cfg.AI.EmbeddingModel, a.timeout()),
			a.cfg.Resync.Batch,
		)
		if err := scheduler.AddJob(resync, a.cfg.Resync.Spec); err != nil {
			return err
		}
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	logutil.GetLogger(ctx).Info("http server listening", zap.Int("port", a.cfg.Port))
	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}

func askCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "answer a single question and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.db.Close()
			rag, err := a.ragService(false)
			if err != nil {
				return err
			}
			details, err := rag.AnswerDetailed(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(details.AnswerText)
			fmt.Printf("\n[sources=%d used=%d latency_ms=%d",
				len(details.Hits), details.UsedHits, details.LatencyMSTotal)
			if details.CostUSD != nil {
				fmt.Printf(" cost_usd=%.6f", *details.CostUSD)
			}
			fmt.Println("]")
			return nil
		},
	}
}

func qaCmd(configPath *string) *cobra.Command {
	qaRoot := &cobra.Command{
		Use:   "qa",
		Short: "manage the qa knowledge base",
	}

	var file string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "import qa pairs from a csv file",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.db.Close()
			importer := service.NewQaImporter(
				repo.NewQaPairRepo(a.db),
				ai.NewEmbedder(a.provider, a.cfg.AI.EmbeddingModel, a.timeout()),
				a.cfg.Resync.Batch,
			)
			imported, err := importer.ImportCSV(cmd.Context(), file)
			if err != nil {
				return err
			}
			fmt.Printf("imported %d qa pairs\n", imported)
			return nil
		},
	}
	importCmd.Flags().StringVar(&file, "file", "", "csv file with question/answer columns")
	_ = importCmd.MarkFlagRequired("file")
	qaRoot.AddCommand(importCmd)
	return qaRoot
}

func evalCmd(configPath *string) *cobra.Command {
	evalRoot := &cobra.Command{
		Use:   "eval",
		Short: "offline evaluation of the answering flow",
	}
	evalRoot.AddCommand(evalLoadCmd(configPath), evalRunCmd(configPath), evalReportCmd(configPath))
	return evalRoot
}

func evalLoadCmd(configPath *string) *cobra.Command {
	var name, description, file string
	var appendCases bool
	cmd := &cobra.Command{
		Use:   "load",
		Short: "load an evaluation dataset from a csv file",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.db.Close()
			dataset, count, err := a.pipeline().LoadDatasetCSV(cmd.Context(), name, description, file, !appendCases)
			if err != nil {
				return err
			}
			fmt.Printf("dataset %q (id=%d): %d cases loaded\n", dataset.Name, dataset.ID, count)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "dataset name")
	cmd.Flags().StringVar(&description, "description", "", "dataset description")
	cmd.Flags().StringVar(&file, "file", "", "csv file with question/answer columns")
	cmd.Flags().BoolVar(&appendCases, "append", false, "append to existing cases instead of replacing them")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func evalRunCmd(configPath *string) *cobra.Command {
	var dataset, systemVersion string
	var limit int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "answer and score every case of a dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.db.Close()
			pipeline := a.pipeline()
			runID, err := pipeline.Run(cmd.Context(), a.runConfig(dataset, systemVersion, limit))
			if err != nil {
				return err
			}
			summary, err := pipeline.Report(cmd.Context(), runID)
			if err != nil {
				return err
			}
			fmt.Println(eval.Format(*summary))
			return nil
		},
	}
	cmd.Flags().StringVar(&dataset, "dataset", "", "dataset name")
	cmd.Flags().StringVar(&systemVersion, "system-version", "", "version label stored with the run")
	cmd.Flags().IntVar(&limit, "limit", 0, "evaluate only the first N cases")
	_ = cmd.MarkFlagRequired("dataset")
	_ = cmd.MarkFlagRequired("system-version")
	return cmd
}

func evalReportCmd(configPath *string) *cobra.Command {
	var runID, dataset string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "print the report of a finished run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" && dataset == "" {
				return fmt.Errorf("either --run-id or --dataset is required")
			}
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.db.Close()
			pipeline := a.pipeline()
			var summary *eval.Summary
			if runID != "" {
				id, err := uuid.Parse(runID)
				if err != nil {
					return fmt.Errorf("invalid run id: %w", err)
				}
				summary, err = pipeline.Report(cmd.Context(), id)
				if err != nil {
					return err
				}
			} else {
				summary, err = pipeline.LatestReport(cmd.Context(), dataset)
				if err != nil {
					return err
				}
			}
			fmt.Println(eval.Format(*summary))
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "eval run id")
	cmd.Flags().StringVar(&dataset, "dataset", "", "dataset name, reports the latest run")
	return cmd
}
