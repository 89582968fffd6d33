package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"

	"agentcore/internal/config"
	"agentcore/internal/hooks"
	hooksbuiltin "agentcore/internal/hooks/builtin"
	"agentcore/internal/mcp/bridge"
	"agentcore/internal/mcp/client"
	"agentcore/internal/policy"
	"agentcore/internal/policy/approval"
	"agentcore/internal/procmgr"
	"agentcore/internal/provider"
	"agentcore/internal/provider/ollama"
	"agentcore/internal/runner"
	"agentcore/internal/runner/delegate"
	"agentcore/internal/scheduler"
	"agentcore/internal/storage"
	"agentcore/internal/tools"
	"agentcore/internal/tools/builtin"
	"agentcore/pkg/logger"
)

// App is a fully wired runtime: one orchestrator over the configured
// provider, tools, hooks, approval gate, process registry, capability
// servers and checkpoint store.
type App struct {
	Config       *config.Config
	DB           *storage.DB
	Provider     provider.Provider
	Hooks        *hooks.Manager
	Gate         *approval.Gate
	Processes    *procmgr.Registry
	MCP          *client.Manager
	Bridge       *bridge.Bridge
	Tools        *tools.Registry
	Orchestrator *scheduler.Orchestrator

	closers []func() error
}

// AppOptions adjusts how an App is built.
type AppOptions struct {
	// Presenter shows approval requests. The server adds its own.
	Presenter approval.Presenter
	// WorkDir defaults to the current directory.
	WorkDir string
	// Provider replaces the configured LLM backend.
	Provider provider.Provider
}

// NewApp wires an App from cfg. db may be nil for a run without
// checkpoints.
func NewApp(cfg *config.Config, db *storage.DB, opts AppOptions) (*App, error) {
	workDir := opts.WorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		workDir = wd
	}

	app := &App{Config: cfg, DB: db}

	app.Provider = opts.Provider
	if app.Provider == nil {
		p, err := newProvider(cfg)
		if err != nil {
			return nil, err
		}
		app.Provider = p
	}

	app.Hooks = hooks.NewManager(cfg.Hooks, hooks.WithProjectDir(workDir))
	if err := app.registerBuiltinHooks(); err != nil {
		return nil, err
	}

	gateOpts := []approval.Option{approval.WithAutoApprove(cfg.Approval.AutoApprove)}
	if opts.Presenter != nil {
		gateOpts = append(gateOpts, approval.WithPresenter(opts.Presenter))
	}
	if cfg.Approval.AuditLog != "" {
		path, err := config.ExpandPath(cfg.Approval.AuditLog)
		if err != nil {
			return nil, err
		}
		audit, err := approval.NewFileLogger(path)
		if err != nil {
			return nil, fmt.Errorf("open approval audit log: %w", err)
		}
		app.closers = append(app.closers, audit.Close)
		gateOpts = append(gateOpts, approval.WithLogger(audit))
	}
	app.Gate = approval.NewGate(gateOpts...)

	procRunner := procmgr.NewRunner(cfg.Process)
	app.Processes = procmgr.NewRegistry(procRunner, cfg.Process)

	app.Tools = builtin.NewRegistryWithBuiltins(builtin.Deps{
		Hooks:          app.Hooks,
		Policy:         policy.New(cfg.Policy, workDir),
		Gate:           app.Gate,
		Runner:         procRunner,
		Processes:      app.Processes,
		MaxOutputChars: cfg.Process.MaxOutputChars,
	})

	app.MCP = client.NewManager(cfg.MCP.Servers, workDir)
	app.Bridge = bridge.New(app.MCP, app.Gate, app.Hooks)
	extend := func(ctx context.Context, sessionID string, reg *tools.Registry) error {
		return app.Bridge.Register(ctx, sessionID, app.MCP.ServerIDs(), reg)
	}

	scrub, err := runner.CompileScrubRules(cfg.Policy.Scrub)
	if err != nil {
		return nil, fmt.Errorf("compile scrub rules: %w", err)
	}
	loopCfg := runner.ConfigFromAgent(cfg.Agent)
	if loopCfg.Model == "" {
		loopCfg.Model = cfg.Provider.Model
	}

	if cfg.Delegate.Enabled {
		task := delegate.NewTool(delegate.Options{
			Children: &delegate.Children{
				Provider:   app.Provider,
				Tools:      app.Tools,
				Config:     loopCfg,
				ScrubRules: scrub,
				WorkDir:    workDir,
				Extend:     extend,
			},
			Hooks:    app.Hooks,
			Recorder: recorderOf(db),
			MaxDepth: cfg.Delegate.GetMaxDepth(),
		})
		if err := app.Tools.Register(task); err != nil {
			return nil, err
		}
	}

	factory := &runner.Factory{
		Provider:   app.Provider,
		Tools:      app.Tools,
		Hooks:      app.Hooks,
		Config:     loopCfg,
		ScrubRules: scrub,
		WorkDir:    workDir,
		Extend:     extend,
	}

	orchOpts := []scheduler.Option{
		scheduler.WithCapabilities(app.MCP),
		scheduler.WithApprovals(app.Gate),
		scheduler.WithProcesses(app.Processes),
	}
	if db != nil {
		factory.Store = db
		orchOpts = append(orchOpts, scheduler.WithResolver(scheduler.NewCheckpointResolver(db, 0)))
	}
	app.Orchestrator = scheduler.NewOrchestrator(factory, orchOpts...)
	factory.Pending = app.Orchestrator

	return app, nil
}

func newProvider(cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider.Default {
	case "", "ollama":
		oc := ollama.ConfigFrom(cfg.Ollama)
		if cfg.Provider.Model != "" {
			oc.Model = cfg.Provider.Model
		}
		return provider.NewRetryingProvider(ollama.New(oc), provider.PolicyFromConfig(cfg.Retry)), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Default)
	}
}

func (a *App) registerBuiltinHooks() error {
	if a.Config.Hooks.Audit {
		audit := hooksbuiltin.NewAuditHook(nil, a.Config.Log.Level == "debug")
		if err := hooksbuiltin.RegisterAuditHooks(a.Hooks, audit); err != nil {
			return err
		}
		a.closers = append(a.closers, audit.Close)
	}
	if rl := a.Config.Hooks.RateLimit; rl.MaxCalls > 0 {
		limiter := hooksbuiltin.NewRateLimitHook(rl.MaxCalls, rl.Window)
		if err := hooksbuiltin.RegisterRateLimitHook(a.Hooks, limiter); err != nil {
			return err
		}
	}
	return nil
}

// recorderOf avoids handing the task tool a typed nil store.
func recorderOf(db *storage.DB) delegate.Recorder {
	if db == nil {
		return nil
	}
	return db
}

// Reload applies a changed configuration to the parts that support it.
func (a *App) Reload(cfg *config.Config) {
	a.Hooks.Reload(cfg.Hooks)
	logger.Info().Msg("Configuration reloaded")
}

// Close stops every session, then releases processes, approvals, capability
// servers and audit logs.
func (a *App) Close(ctx context.Context) error {
	var result *multierror.Error
	if err := a.Orchestrator.Close(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := a.Processes.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	a.Gate.Close()
	if err := a.MCP.CloseAll(); err != nil {
		result = multierror.Append(result, err)
	}
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
