// Package app assembles the service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/embedchat/embedchat/db"
	"github.com/embedchat/embedchat/internal/analytics"
	"github.com/embedchat/embedchat/internal/bot"
	"github.com/embedchat/embedchat/internal/config"
	"github.com/embedchat/embedchat/internal/generation"
	"github.com/embedchat/embedchat/internal/ingest"
	"github.com/embedchat/embedchat/internal/log"
	"github.com/embedchat/embedchat/internal/observability"
	"github.com/embedchat/embedchat/internal/pipeline"
	"github.com/embedchat/embedchat/internal/prompt"
	"github.com/embedchat/embedchat/internal/retrieval"
	"github.com/embedchat/embedchat/internal/session"
	"github.com/embedchat/embedchat/internal/vectorstore"
)

// App holds the wired service. Create with Setup, release with Close.
type App struct {
	Config   *config.Config
	Logger   log.Logger
	Genkit   *genkit.Genkit
	Bots     bot.Registry
	Store    vectorstore.Store
	Sessions session.Store
	Ingestor *ingest.Ingestor
	Pipeline *pipeline.Pipeline
	Recorder *analytics.Recorder
	Pool     *pgxpool.Pool // nil when running in memory

	tracingShutdown func(context.Context) error
}

// Setup builds the application. With a DatabaseURL the vector store and
// analytics persist to PostgreSQL; without one everything runs in process,
// which suits development and tests.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	a := &App{Config: cfg}
	defer func() {
		if retErr != nil {
			a.Close()
		}
	}()

	a.Logger = log.New(log.Config{Level: parseLevel(cfg.LogLevel), JSON: cfg.LogJSON})

	// Tracing must be registered before genkit.Init so genkit's spans reach
	// the exporter.
	shutdown, err := observability.Setup(ctx, cfg.OTLPEndpoint, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	a.tracingShutdown = shutdown

	if cfg.DatabaseURL != "" {
		if err := db.Migrate(cfg.DatabaseURL, a.Logger); err != nil {
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		a.Pool = pool
	}

	g, model, embedder, err := provideGenkit(ctx, cfg, a.Logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	a.Bots = bot.NewMemoryRegistry()
	a.Sessions = session.NewMemory()

	var sink analytics.Sink
	if a.Pool != nil {
		a.Store = vectorstore.NewPostgres(a.Pool, a.Logger.With("component", "vectorstore"))
		sink = analytics.NewPostgresSink(a.Pool)
	} else {
		a.Store = vectorstore.NewMemory(a.Logger.With("component", "vectorstore"))
		sink = analytics.NewMemorySink()
	}
	a.Recorder = analytics.NewRecorder(sink, cfg.AnalyticsBuffer, a.Logger.With("component", "analytics"))

	a.Ingestor = ingest.New(a.Store, embedder, a.Logger.With("component", "ingest"), cfg.EmbedTimeout)

	genCfg := generation.Config{
		Timeout:           cfg.GenerateTimeout,
		RetryBackoff:      cfg.RetryBackoff,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}
	a.Pipeline = pipeline.New(
		retrieval.New(a.Store, embedder, a.Logger.With("component", "retrieval"), cfg.EmbedTimeout),
		prompt.New(),
		generation.New(g, model, genCfg, a.Logger.With("component", "generation")),
		a.Sessions,
		a.Recorder,
		a.Logger.With("component", "pipeline"),
	)

	a.Logger.Info("application ready",
		"provider", cfg.Provider,
		"chat_model", cfg.FullChatModel(),
		"embedder_model", cfg.FullEmbedderModel(),
		"persistent", a.Pool != nil)
	return a, nil
}

// Close releases resources in reverse setup order. Safe on a partially
// constructed App.
func (a *App) Close() {
	if a.Recorder != nil {
		a.Recorder.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.tracingShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracingShutdown(ctx); err != nil && a.Logger != nil {
			a.Logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideGenkit initializes genkit with the configured provider plugin and
// resolves the chat model and embedder.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, ai.Model, ai.Embedder, error) {
	var (
		g        *genkit.Genkit
		model    ai.Model
		embedder ai.Embedder
	)

	switch cfg.Provider {
	case config.ProviderOllama:
		plugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(plugin))
		if g == nil {
			return nil, nil, nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama has no auto-discovery; models register explicitly.
		model = plugin.DefineModel(g, ollama.ModelDefinition{Name: cfg.ChatModel, Type: "chat"}, nil)
		plugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		embedder = ollama.Embedder(g, cfg.OllamaHost)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, nil, nil, errors.New("initializing genkit with openai provider")
		}
		model = genkit.LookupModel(g, api.NewName("openai", cfg.ChatModel))
		embedder = genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))

	default: // googleai
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, nil, nil, errors.New("initializing genkit with googleai provider")
		}
		model = googlegenai.GoogleAIModel(g, cfg.ChatModel)
		embedder = googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}

	if model == nil {
		return nil, nil, nil, fmt.Errorf("chat model %q not found for provider %q", cfg.ChatModel, cfg.Provider)
	}
	if embedder == nil {
		return nil, nil, nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}

	logger.Info("genkit initialized", "provider", cfg.Provider)
	return g, model, embedder, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
