package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"

	"github.com/rendis/nodeflow/internal/adapter"
	"github.com/rendis/nodeflow/internal/agent"
	"github.com/rendis/nodeflow/internal/api"
	"github.com/rendis/nodeflow/internal/events"
	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/flow"
	"github.com/rendis/nodeflow/internal/hil"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/runner"
	"github.com/rendis/nodeflow/internal/secrets"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/timer"
	"github.com/rendis/nodeflow/internal/tools"
	"github.com/rendis/nodeflow/pkg/schema"
)

func main() {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handler := tint.NewHandler(os.Stderr, &tint.Options{Level: lvl, TimeFormat: time.Kitchen})
	return slog.New(logging.NewCorrelationHandler(handler))
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	resolver, err := credentialResolver(cfg, st)
	if err != nil {
		return err
	}

	timers := timer.NewService(timerSchedule(cfg), timer.WithLogger(logger))
	hub := events.NewMemoryHub()

	adapters := adapter.NewRegistry()
	if err := adapters.Register(adapter.NewHTTPAdapter(adapter.HTTPConfig{})); err != nil {
		return err
	}

	engines := expressionEngines(logger)

	registry, hilSvc, err := buildRegistry(st, timers, adapters, engines, resolver, hub, logger)
	if err != nil {
		return err
	}
	logger.Info("runner registry ready", "runners", registry.Count())

	monitor := hil.NewMonitor(hilSvc,
		hil.WithInterval(time.Duration(cfg.MonitorInterval)*time.Second),
		hil.WithWorkers(cfg.MonitorWorkers))
	go monitor.Run(ctx)

	apiServer := api.NewServer(api.Deps{HIL: hilSvc, Store: st, Hub: hub, Logger: logger})
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("nodeflow listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg Config) (store.Store, error) {
	if cfg.DBPath == "memory" {
		return store.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, err
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// credentialResolver opens the AES vault when a passphrase is configured.
// Without one, only node-level credentials apply.
func credentialResolver(cfg Config, st store.Store) (adapter.CredentialResolver, error) {
	if cfg.VaultPassphrase == "" {
		return nil, nil
	}
	if cfg.VaultSalt == "" {
		return nil, errors.New("NODEFLOW_VAULT_SALT is required with a vault passphrase")
	}
	vault, err := secrets.NewCredentialVault(st, secrets.VaultConfig{
		Passphrase: cfg.VaultPassphrase,
		Salt:       []byte(cfg.VaultSalt),
	})
	if err != nil {
		return nil, err
	}
	return vault.Resolver(), nil
}

func timerSchedule(cfg Config) timer.Schedule {
	if cfg.RedisAddr == "" {
		return timer.NewMemorySchedule()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return timer.NewRedisSchedule(client, "nodeflow:timers")
}

func expressionEngines(logger *slog.Logger) map[string]expressions.Engine {
	engines := map[string]expressions.Engine{
		"jq":   expressions.NewGoJQEngine(),
		"expr": expressions.NewExprEngine(),
	}
	if cel, err := expressions.NewCELEngine(); err == nil {
		engines["cel"] = cel
	} else {
		logger.Warn("CEL engine unavailable", "error", err)
	}
	return engines
}

func buildRegistry(
	st store.Store,
	timers *timer.Service,
	adapters *adapter.Registry,
	engines map[string]expressions.Engine,
	resolver adapter.CredentialResolver,
	hub events.Hub,
	logger *slog.Logger,
) (*runner.Registry, *hil.Service, error) {
	registry := runner.NewRegistry(logger)

	evaluator := flow.NewEvaluator(engines, logger)
	if err := flow.RegisterAll(registry, evaluator); err != nil {
		return nil, nil, err
	}

	catalog := tools.NewCatalog(tools.WithCatalogLogger(logger))
	toolSvc := tools.NewService(catalog, tools.NewFunctionRegistry(), adapters, logger)
	if err := tools.RegisterAll(registry, toolSvc); err != nil {
		return nil, nil, err
	}

	memory := agent.NewMemory(st, logger)
	orchestrator := agent.NewOrchestrator(toolSvc, memory, emptyNodeSource{}, logger)
	if err := agent.RegisterAll(registry, orchestrator, resolver, agent.DefaultModels()); err != nil {
		return nil, nil, err
	}
	if err := agent.RegisterMemoryRunners(registry, memory); err != nil {
		return nil, nil, err
	}

	// The standalone server resumes by event: embedding schedulers subscribe
	// to execution.resumed and re-activate the suspended node themselves.
	resumer := func(ctx context.Context, executionID, nodeID, port string, payload map[string]any) error {
		return hub.Publish(ctx, events.Event{
			ExecutionID: executionID,
			NodeID:      nodeID,
			Type:        events.TypeExecutionResumed,
			Payload:     map[string]any{"port": port, "data": payload},
			At:          time.Now().UTC(),
		})
	}
	hilSvc := hil.NewService(st, timers, adapters, resumer,
		hil.WithLogger(logger), hil.WithEventHub(hub))
	if err := hil.RegisterAll(registry, hilSvc); err != nil {
		return nil, nil, err
	}

	for _, rn := range adapter.NewExternalRunners(adapters, resolver) {
		if err := registry.Register(rn); err != nil {
			return nil, nil, err
		}
	}
	for _, rn := range adapter.NewActionRunners(adapters, engines) {
		if err := registry.Register(rn); err != nil {
			return nil, nil, err
		}
	}

	return registry, hilSvc, nil
}

// emptyNodeSource serves agent attachments when no workflow definition store
// is wired; attached nodes then come only from node config.
type emptyNodeSource struct{}

func (emptyNodeSource) Node(string) (*schema.Node, bool) { return nil, false }
