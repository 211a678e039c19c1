package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/BrotherOrange/PlayForge/internal/agent"
	"github.com/BrotherOrange/PlayForge/internal/config"
	"github.com/BrotherOrange/PlayForge/internal/hooks"
	"github.com/BrotherOrange/PlayForge/internal/llm"
	"github.com/BrotherOrange/PlayForge/internal/routing"
	"github.com/BrotherOrange/PlayForge/internal/session"
	"github.com/BrotherOrange/PlayForge/internal/store"
)

// runtime is the wired turn pipeline shared by the gateway and the local
// commands.
type runtime struct {
	cfg      config.Config
	store    agent.ThreadStore
	registry *llm.Registry
	hooks    *hooks.Manager
	sessions *session.Manager
	router   *routing.Router

	db *store.DB
}

// loadConfig reads and validates the config file. A missing file yields
// the defaults.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return config.Config{}, err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return config.Config{}, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// openStore opens the configured thread store.
func openStore(cfg config.Config) (agent.ThreadStore, *store.DB, error) {
	if cfg.Store.Driver == "memory" {
		log.Info().Msg("using in-memory thread store")
		return agent.NewMemoryThreadStore(), nil, nil
	}
	if err := paths.EnsureDirs(); err != nil {
		return nil, nil, err
	}
	dbPath := cfg.Store.Path
	if dbPath == "" {
		dbPath = paths.DatabasePath()
	}
	db, err := store.Open(dbPath, log)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info().Str("path", dbPath).Msg("using SQLite thread store")
	return store.NewSQLiteThreadStore(db), db, nil
}

func newRuntime(cfg config.Config) (*runtime, error) {
	ts, db, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	registry := llm.NewRegistryFromConfig(cfg.Models, cfg.Agents.Defaults.Provider, log)
	if providers := registry.List(); len(providers) > 0 {
		log.Info().Strs("providers", providers).Msg("LLM providers available")
	} else {
		log.Warn().Msg("no LLM providers configured, turns will fail")
	}

	hm := hooks.NewManager(log)
	if n := hm.RegisterCommands(cfg.Hooks); n > 0 {
		log.Info().Int("hooks", n).Msg("command hooks registered")
	}

	exec := agent.NewExecutor(agent.ExecutorConfigFrom(&cfg), ts, registry, log)
	spawner := agent.NewSpawner(agent.SpawnerConfigFrom(&cfg), ts, hm, log)
	sessions := session.NewManager(session.ConfigFrom(&cfg), log)

	return &runtime{
		cfg:      cfg,
		store:    ts,
		registry: registry,
		hooks:    hm,
		sessions: sessions,
		router:   routing.NewRouter(ts, exec, spawner, sessions, hm, log),
		db:       db,
	}, nil
}

// start runs the session sweeper until ctx is done.
func (rt *runtime) start(ctx context.Context) {
	rt.sessions.Start(ctx)
}

// close winds down running turns and closes the database.
func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rt.router.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("turns still running at shutdown")
	}
	if rt.db != nil {
		rt.db.Close()
	}
}

// defaultModel resolves the model for a new lead agent.
func (rt *runtime) defaultModel(provider string) string {
	if m := rt.cfg.Agents.Defaults.Model; m != "" {
		return m
	}
	return rt.registry.DefaultModel(provider)
}
