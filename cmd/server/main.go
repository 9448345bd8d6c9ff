package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dpolishuk/apidocs/internal/analyzer"
	"github.com/dpolishuk/apidocs/internal/api"
	"github.com/dpolishuk/apidocs/internal/command"
	"github.com/dpolishuk/apidocs/internal/config"
	"github.com/dpolishuk/apidocs/internal/db"
	"github.com/dpolishuk/apidocs/internal/git"
	"github.com/dpolishuk/apidocs/internal/llm"
	"github.com/dpolishuk/apidocs/internal/logging"
	"github.com/dpolishuk/apidocs/internal/openapi"
	"github.com/dpolishuk/apidocs/internal/pipeline"
	"github.com/dpolishuk/apidocs/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "apidocs-server",
	Short:         "Serve generated OpenAPI documentation for git repositories",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "config file (default: $APIDOCS_CONFIG)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	runner := command.NewExecRunner(logger)
	gitSvc := git.NewGitService(cfg.Repos.Directory, runner, logger)
	extractor := analyzer.NewExtractor(cfg.Analyzer.Command, runner, logger)
	llmClient := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.Model, logger)
	docStore := store.NewFileStore(cfg.APIDocs.Directory, logger)

	coordinator := pipeline.NewCoordinator(
		gitSvc,
		extractor,
		llmClient,
		openapi.NewAssembler(cfg.OpenAPI.Title, cfg.OpenAPI.Version),
		docStore,
		pipeline.Config{
			Timeouts: cfg.Timeouts,
			Source: llm.SourceOptions{
				Include:  cfg.LLM.Include,
				Exclude:  cfg.LLM.Exclude,
				MaxBytes: cfg.LLM.MaxSourceBytes,
			},
		},
		logger,
	)
	handler := api.NewHandler(coordinator, docStore, gitSvc, cfg.Templates.Viewer, cfg.Timeouts.Fetch, logger)

	if cfg.Neo4j.URI != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		client, err := db.NewNeo4jClient(connectCtx, db.Neo4jConfig{
			URI:      cfg.Neo4j.URI,
			Username: cfg.Neo4j.User,
			Password: cfg.Neo4j.Password,
		})
		cancel()
		if err != nil {
			logger.Warn("endpoint catalog disabled", zap.Error(err))
		} else {
			defer client.Close()
			if err := client.EnsureSchema(ctx); err != nil {
				logger.Warn("failed to prepare catalog schema", zap.Error(err))
			}
			coordinator.SetCatalog(db.NewCatalogWriter(client))
			handler.SetCatalog(db.NewCatalogReader(client))
			logger.Info("endpoint catalog enabled", zap.String("uri", cfg.Neo4j.URI))
		}
	}

	app := fiber.New(fiber.Config{
		AppName:      "apidocs",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: totalTimeout(cfg.Timeouts) + 30*time.Second,
	})
	app.Use(recover.New())
	app.Use(api.AccessLog(logger))
	api.SetupRoutes(app, handler)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting apidocs server",
			zap.String("port", cfg.Server.Port),
			zap.String("repos", cfg.Repos.Directory),
			zap.String("docs", cfg.APIDocs.Directory),
			zap.Strings("analyzer", cfg.Analyzer.Command),
			zap.String("llm", llmClient.String()))
		errCh <- app.Listen(":"+cfg.Server.Port, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return app.ShutdownWithContext(shutdownCtx)
}

// totalTimeout is the longest a refresh request can legitimately take.
func totalTimeout(t config.TimeoutsConfig) time.Duration {
	return t.Fetch + t.Extract + t.LLM + t.Assemble + t.Store
}
