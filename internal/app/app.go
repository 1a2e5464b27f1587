// Package app provides application initialization and dependency wiring.
//
// App is the container that holds every long-lived component: Genkit,
// the database pool, the knowledge store, the skill library, the tool
// dispatcher, the session store, and the turn orchestrator. Setup
// builds them in dependency order; Close releases them in reverse.
package app

import (
	"context"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/librarian-ai/librarian/internal/config"
	"github.com/librarian-ai/librarian/internal/knowledge"
	"github.com/librarian-ai/librarian/internal/log"
	"github.com/librarian-ai/librarian/internal/model"
	"github.com/librarian-ai/librarian/internal/session"
	"github.com/librarian-ai/librarian/internal/skill"
	"github.com/librarian-ai/librarian/internal/tool"
	"github.com/librarian-ai/librarian/internal/turn"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit    *genkit.Genkit
	DBPool    *pgxpool.Pool
	Knowledge *knowledge.Store
	Ingester  *knowledge.Ingester
	Skills    *skill.Manager
	Library   *tool.Library

	Dispatcher   *tool.Dispatcher
	Backend      *model.GenkitBackend
	Sessions     *session.Store
	Orchestrator *turn.Orchestrator

	// Lifecycle management
	cancel       context.CancelFunc
	traceCleanup func(context.Context) error
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	if a.cancel != nil {
		a.cancel()
	}

	if a.traceCleanup != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.traceCleanup(ctx); err != nil {
			a.Logger.Warn("shutting down tracer provider", "error", err)
		}
		cancel()
	}

	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Info("database pool closed")
	}

	return nil
}
