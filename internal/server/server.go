package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/OFFIS-RIT/stagegraph/internal/config"
	"github.com/OFFIS-RIT/stagegraph/internal/pipeline"
	"github.com/OFFIS-RIT/stagegraph/internal/queue"
	mid "github.com/OFFIS-RIT/stagegraph/internal/server/middleware"
	"github.com/OFFIS-RIT/stagegraph/internal/session"
	"github.com/OFFIS-RIT/stagegraph/internal/storage"
	"github.com/OFFIS-RIT/stagegraph/internal/util"
	"github.com/OFFIS-RIT/stagegraph/pkg/ai"
	"github.com/OFFIS-RIT/stagegraph/pkg/ai/ollama"
	"github.com/OFFIS-RIT/stagegraph/pkg/ai/openai"
	"github.com/OFFIS-RIT/stagegraph/pkg/logger"
	"github.com/OFFIS-RIT/stagegraph/pkg/store"
	"github.com/OFFIS-RIT/stagegraph/pkg/store/neo4j"
	"github.com/OFFIS-RIT/stagegraph/pkg/store/pgx"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rabbitmq/amqp091-go"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New builds the echo instance serving app.
func New(app *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("32M"))

	RegisterRoutes(e)
	return e
}

// Run wires the configured backends, serves the API and shuts down
// gracefully once ctx is cancelled.
func Run(ctx context.Context, cfg config.Config) error {
	client, err := newAIClient(cfg.AI)
	if err != nil {
		return err
	}
	if client == nil {
		logger.Warn("[Server] no chat model configured, only payload submission is available")
	}

	catalog := pipeline.DefaultCatalog()
	if cfg.StagesFile != "" {
		catalog, err = pipeline.LoadCatalog(cfg.StagesFile)
		if err != nil {
			return err
		}
	}

	sinks, closeSinks, err := newSinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSinks()

	var key keyfunc.Keyfunc
	if cfg.AuthURL != "" {
		key, err = keyfunc.NewDefault([]string{cfg.AuthURL + "/jwks"})
		if err != nil {
			return fmt.Errorf("failed to load jwks keys: %w", err)
		}
	} else {
		logger.Warn("[Server] AUTH_URL not set, only the master API key is accepted")
	}

	app := &mid.App{
		Sessions: session.NewManager(session.NewManagerParams{}),
		Runner: pipeline.NewRunner(pipeline.NewRunnerParams{
			AI:         client,
			Catalog:    catalog,
			Sinks:      sinks,
			MaxRetries: cfg.AI.MaxRetries,
			Thinking:   cfg.AI.Thinking,
		}),
		Key:          key,
		MasterAPIKey: cfg.MasterAPIKey,
		MasterUserID: cfg.MasterUserID,
	}
	e := New(app)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "port", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
	return nil
}

// newAIClient returns nil when no narrative model is configured.
func newAIClient(cfg config.AIConfig) (ai.StageAIClient, error) {
	if cfg.NarrativeModel == "" {
		return nil, nil
	}

	switch cfg.Adapter {
	case "openai":
		return openai.NewStageOpenAIClient(openai.NewStageOpenAIClientParams{
			NarrativeModel:  cfg.NarrativeModel,
			ExtractionModel: cfg.ExtractionModel,
			ChatURL:         cfg.ChatURL,
			ChatKey:         cfg.ChatKey,
		}), nil
	case "ollama":
		c, err := ollama.NewStageOllamaClient(ollama.NewStageOllamaClientParams{
			NarrativeModel:        cfg.NarrativeModel,
			ExtractionModel:       cfg.ExtractionModel,
			BaseURL:               cfg.ChatURL,
			ApiKey:                cfg.ChatKey,
			MaxConcurrentRequests: cfg.ParallelReq,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init ollama client: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown AI_ADAPTER %q", cfg.Adapter)
	}
}

// newSinks opens every sink whose connection settings are present. The
// returned func releases them.
func newSinks(ctx context.Context, cfg config.Config) ([]store.Sink, func(), error) {
	var sinks []store.Sink
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) ([]store.Sink, func(), error) {
		closeAll()
		return nil, func() {}, err
	}

	if cfg.DatabaseURL != "" {
		if err := pgx.Migrate(cfg.DatabaseURL); err != nil {
			return fail(err)
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fail(fmt.Errorf("failed to connect to database: %w", err))
		}
		closers = append(closers, pool.Close)
		sinks = append(sinks, pgx.NewArchiveStorageWithConnection(pool))
	}

	if cfg.S3.Bucket != "" {
		client, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, storage.NewArtifactStore(client, cfg.S3.Bucket))
	}

	if cfg.Neo4j.URI != "" {
		mirror, err := neo4j.NewMirrorStorage(ctx, neo4j.NewMirrorStorageParams{
			URI:      cfg.Neo4j.URI,
			User:     cfg.Neo4j.User,
			Password: cfg.Neo4j.Password,
			Database: cfg.Neo4j.Database,
		})
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() {
			if err := mirror.Close(context.Background()); err != nil {
				logger.Warn("[Neo4j] close failed", "err", err)
			}
		})
		sinks = append(sinks, mirror)
	}

	if cfg.RabbitMQ.Host != "" {
		conn, err := util.RetryWithContext(ctx, 3, func(context.Context) (*amqp091.Connection, error) {
			return queue.Init(cfg.RabbitMQ)
		})
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { _ = conn.Close() })
		ch, err := conn.Channel()
		if err != nil {
			return fail(fmt.Errorf("failed to open channel: %w", err))
		}
		if err := queue.SetupExchange(ch, cfg.RabbitMQ.Exchange); err != nil {
			return fail(err)
		}
		sinks = append(sinks, queue.NewEventSink(ch, cfg.RabbitMQ.Exchange))
	}

	for _, s := range sinks {
		logger.Info("[Server] sink enabled", "sink", s.Name())
	}
	return sinks, closeAll, nil
}
