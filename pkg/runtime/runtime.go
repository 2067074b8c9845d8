package runtime

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/hearth-sh/hearth/pkg/agent"
	"github.com/hearth-sh/hearth/pkg/bus"
	"github.com/hearth-sh/hearth/pkg/cache"
	"github.com/hearth-sh/hearth/pkg/config"
	"github.com/hearth-sh/hearth/pkg/errdefs"
	"github.com/hearth-sh/hearth/pkg/health"
	"github.com/hearth-sh/hearth/pkg/ident"
	"github.com/hearth-sh/hearth/pkg/log"
	"github.com/hearth-sh/hearth/pkg/router"
	"github.com/hearth-sh/hearth/pkg/scheduler"
	"github.com/hearth-sh/hearth/pkg/state"
	"github.com/hearth-sh/hearth/pkg/storage"
	"github.com/hearth-sh/hearth/pkg/webhook"
	"github.com/hearth-sh/hearth/pkg/workflow"
)

// Runtime owns every service and their shared lifecycle: one store, one
// registry, one set of background loops. Services are built once here and
// injected, never looked up globally.
type Runtime struct {
	Config      *config.Config
	Store       *storage.BoltStore
	Registry    *agent.Registry
	Router      *router.Router
	Bus         *bus.Bus
	State       *state.Manager
	Health      *health.Monitor
	Cache       *cache.Cache
	Definitions *workflow.Definitions
	Engine      *workflow.Engine
	Scheduler   *scheduler.Scheduler
	Bindings    *webhook.Bindings
	Webhook     *webhook.Server

	logger  zerolog.Logger
	started bool
}

// New builds the full service graph. Nothing runs until Start.
func New(cfg *config.Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, err)
	}
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	clock := ident.System

	retention, err := cfg.BusRetention()
	if err != nil {
		return nil, err
	}
	window, err := cfg.HealthWindow()
	if err != nil {
		return nil, err
	}
	location, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		Config: cfg,
		Store:  store,
		logger: log.WithComponent("runtime"),
	}

	rt.Registry = agent.NewRegistry()
	rt.Router = router.New(rt.Registry, cfg.Router.DefaultAgent)
	rt.Bus = bus.New(store, clock, retention)
	rt.State = state.New(store, clock)
	rt.Health = health.New(store, clock, rt.Bus, window, cfg.Health.AlertRecipient)
	rt.Cache = cache.New(store, clock)
	rt.Definitions = workflow.NewDefinitions(store)
	rt.Engine = workflow.NewEngine(store, rt.Definitions, rt.Registry, rt.Health, clock, workflow.Options{
		Workers:    cfg.Workflow.Workers,
		QueueDepth: cfg.Workflow.QueueDepth,
	})
	rt.Scheduler = scheduler.New(store, clock, rt.Engine, location)
	rt.Bindings = webhook.NewBindings(store, clock)
	rt.Webhook = webhook.NewServer(rt.Bindings, rt.Engine, rt.Health, cfg.Webhook.Addr, cfg.Webhook.Prefix)

	rt.Registry.SetServices(agent.Services{
		Messages: rt.Bus,
		State:    rt.State,
		Cache:    rt.Cache,
	})
	return rt, nil
}

// Start launches every background loop: bus sweeper, workflow workers
// (which also resume unfinished runs), scheduler, and the webhook server.
func (r *Runtime) Start() error {
	if r.started {
		return errdefs.New(errdefs.KindConflict, "runtime already started")
	}
	r.Bus.Start()
	if err := r.Engine.Start(); err != nil {
		r.Bus.Stop()
		return err
	}
	r.Scheduler.Start()
	if err := r.Webhook.Start(); err != nil {
		r.Scheduler.Stop()
		r.Engine.Stop()
		r.Bus.Stop()
		return err
	}
	r.started = true
	r.logger.Info().Str("data_dir", r.Config.DataDir).Msg("runtime started")
	return nil
}

// Stop joins every loop in reverse start order, then closes the store.
// No background writer survives past the store teardown.
func (r *Runtime) Stop() error {
	if r.started {
		r.Webhook.Stop()
		r.Scheduler.Stop()
		r.Engine.Stop()
		r.Bus.Stop()
		r.started = false
	}
	err := r.Store.Close()
	r.logger.Info().Msg("runtime stopped")
	return err
}

// Close releases the store without having started the loops. Used by CLI
// one-shots.
func (r *Runtime) Close() error {
	if r.started {
		return r.Stop()
	}
	return r.Store.Close()
}
