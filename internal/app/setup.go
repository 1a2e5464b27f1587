package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/librarian-ai/librarian/db"
	"github.com/librarian-ai/librarian/internal/config"
	"github.com/librarian-ai/librarian/internal/cost"
	"github.com/librarian-ai/librarian/internal/knowledge"
	"github.com/librarian-ai/librarian/internal/log"
	"github.com/librarian-ai/librarian/internal/model"
	"github.com/librarian-ai/librarian/internal/observability"
	"github.com/librarian-ai/librarian/internal/session"
	"github.com/librarian-ai/librarian/internal/skill"
	"github.com/librarian-ai/librarian/internal/tool"
	"github.com/librarian-ai/librarian/internal/turn"
)

// systemPrompt is the base instruction set given to the model. Skills
// detected for a given message are appended to it per turn.
const systemPrompt = `You are Librarian, a research assistant with access to a curated
document library and a set of expert skills. Use search_docs to ground answers in the
library before relying on your own knowledge, and cite the documents you used. Use
get_catalog when unsure what the library contains.`

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = log.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	if cfg.Tracing.Enabled {
		cleanup, err := observability.Setup(ctx, observability.Config{
			Endpoint:    cfg.Tracing.Endpoint,
			Environment: cfg.Tracing.Environment,
			ServiceName: cfg.Tracing.ServiceName,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("setting up tracing: %w", err)
		}
		a.traceCleanup = cleanup
	}

	pool, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit")
	}
	a.Genkit = g
	logger.Info("initialized Genkit", "provider", cfg.Provider, "model", cfg.ModelName)

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}

	if err := a.provideLibrary(g, pool, embedder); err != nil {
		return nil, err
	}

	tools, err := a.provideTools(g)
	if err != nil {
		return nil, err
	}

	backend, err := model.NewGenkitBackend(model.GenkitConfig{
		Genkit:       g,
		ModelName:    cfg.FullModelName(),
		SystemPrompt: systemPrompt,
		Tools:        tools,
		Limiter:      rate.NewLimiter(rate.Limit(cfg.ModelRateLimit), cfg.ModelRateBurst),
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating model backend: %w", err)
	}
	a.Backend = backend

	a.Sessions = session.NewStore(logger)

	orch, err := turn.New(turn.Config{
		Sessions:     a.Sessions,
		Backend:      backend,
		Dispatcher:   a.Dispatcher,
		Skills:       a.Skills,
		Pricing:      pricingFromConfig(cfg),
		MaxToolLoops: cfg.MaxToolLoops,
		ModelTimeout: cfg.ModelTimeout,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}
	a.Orchestrator = orch

	// Lifecycle: background eviction runs until Close cancels it.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.Sessions.StartEvictionLoop(loopCtx, cfg.EvictionInterval, cfg.SessionMaxAge)

	return a, nil
}

// provideLibrary builds the knowledge store, the URL ingester, the
// skill manager, and the Library facade over them.
func (a *App) provideLibrary(g *genkit.Genkit, pool *pgxpool.Pool, embedder ai.Embedder) error {
	store, err := knowledge.NewStore(knowledge.NewQueries(pool), embedder, a.Logger)
	if err != nil {
		return fmt.Errorf("creating knowledge store: %w", err)
	}
	a.Knowledge = store

	ingester, err := knowledge.NewIngester(store, nil, a.Logger)
	if err != nil {
		return fmt.Errorf("creating ingester: %w", err)
	}
	a.Ingester = ingester

	skills := skill.NewManager(a.Config.SkillsDir, nil, a.Logger)
	if err := skills.Load(); err != nil {
		return fmt.Errorf("loading skills: %w", err)
	}
	a.Skills = skills

	lib, err := tool.NewLibrary(store, ingester, skills, a.Logger)
	if err != nil {
		return fmt.Errorf("creating library: %w", err)
	}
	a.Library = lib
	return nil
}

// provideTools registers the library tools on a fresh dispatcher.
func (a *App) provideTools(g *genkit.Genkit) ([]ai.Tool, error) {
	a.Dispatcher = tool.NewDispatcher(a.Logger, a.Config.ToolTimeout)
	tools, err := tool.RegisterLibrary(a.Dispatcher, g, a.Library)
	if err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}
	a.Logger.Info("registered tools", "tools", a.Dispatcher.Names())
	return tools, nil
}

// provideDBPool runs migrations and creates a PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

func pricingFromConfig(cfg *config.Config) cost.Pricing {
	return cost.Pricing{
		InputPerMTok:      cfg.Pricing.InputPerMTok,
		OutputPerMTok:     cfg.Pricing.OutputPerMTok,
		CacheWritePerMTok: cfg.Pricing.CacheWritePerMTok,
		CacheReadPerMTok:  cfg.Pricing.CacheReadPerMTok,
	}
}
