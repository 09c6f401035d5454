package workflowengine

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/cordum/blackboard/core/agent"
	"github.com/cordum/blackboard/core/automation"
	"github.com/cordum/blackboard/core/controlplane/stream"
	"github.com/cordum/blackboard/core/infra/artifacts"
	"github.com/cordum/blackboard/core/infra/buildinfo"
	"github.com/cordum/blackboard/core/infra/bus"
	"github.com/cordum/blackboard/core/infra/config"
	"github.com/cordum/blackboard/core/infra/locks"
	"github.com/cordum/blackboard/core/infra/logging"
	"github.com/cordum/blackboard/core/infra/metrics"
	"github.com/cordum/blackboard/core/infra/redisutil"
	"github.com/cordum/blackboard/core/infra/secrets"
	"github.com/cordum/blackboard/core/steps"
	wf "github.com/cordum/blackboard/core/workflow"
	"github.com/cordum/blackboard/core/workspace"
)

const (
	logComponent           = "workflow-engine"
	metricsNamespace       = "blackboard"
	defaultReadTimeout     = 5 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	tokenEncoding          = "cl100k_base"
)

// Run starts the engine process: catalog, dispatch, scheduler, reconciler
// and the HTTP surface. It returns when SIGINT or SIGTERM arrives.
func Run(cfg *config.Config) error {
	if cfg == nil {
		cfg = config.Load()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	loc, _ := time.LoadLocation(cfg.Timezone)

	client, err := redisutil.Connect(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer client.Close()
	jobStore := wf.NewRedisJobStoreWithClient(client)
	artifactStore := artifacts.NewRedisStoreWithClient(client)
	lockStore := locks.NewRedisStoreWithClient(client)
	scheduleStore := automation.NewRedisStoreWithClient(client)

	agents, err := NewAgentRegistry(cfg, loc)
	if err != nil {
		return err
	}
	ws, err := workspace.NewManager(cfg.WorkspaceDir)
	if err != nil {
		return err
	}
	registry := steps.NewDefaultRegistry()
	engine := wf.NewEngine(registry,
		wf.WithAgents(agents),
		wf.WithWorkspace(ws),
		wf.WithJobStore(jobStore),
		wf.WithArtifacts(artifactStore),
		wf.WithMetrics(metrics.NewWorkflowProm(metricsNamespace), metrics.NewStepProm(metricsNamespace)),
	)

	catalog := wf.NewCatalog(registry, wf.VerifyOptions{StrictOrdering: cfg.StrictStepOrdering})
	if report, err := catalog.Reload(cfg.WorkflowDir); err != nil {
		logging.Warn(logComponent, "workflow catalog not loaded", "dir", cfg.WorkflowDir, "error", err)
	} else if err := report.Err(); err != nil {
		logging.Warn(logComponent, "some workflows rejected", "error", err)
	}

	hub := stream.NewHub(nil)
	defer hub.Close()
	callbacks := []wf.Callback{hub.Callback()}
	if cfg.NatsURL != "" {
		natsBus, err := bus.NewNatsBus(cfg.NatsURL)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer natsBus.Close()
		callbacks = append(callbacks, PublishEvents(natsBus))
	}
	if err := os.MkdirAll(cfg.SandboxDir, 0o755); err != nil {
		return fmt.Errorf("create sandbox dir: %w", err)
	}
	runner := NewRunner(engine, catalog, jobStore, instanceID,
		WithCallbacks(callbacks...),
		WithSandboxRoot(cfg.SandboxDir),
	)

	sched := automation.New(scheduleStore, runner,
		automation.WithLocks(lockStore, instanceID),
		automation.WithBaseDirectory(cfg.SandboxDir),
		automation.WithMetrics(metrics.NewSchedulerProm(metricsNamespace)),
		automation.WithDefaultTimezone(cfg.Timezone),
		automation.WithWorkflowCheck(func(id string) error {
			_, err := catalog.Get(id)
			return err
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	rec := newReconciler(jobStore, lockStore, runner, instanceID, cfg.ReconcileInterval)
	go rec.Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("GET /api/v1/stream", hub)
	(&api{runner: runner, catalog: catalog, jobs: jobStore, artifacts: artifactStore, scheduler: sched, workflowDir: cfg.WorkflowDir}).routes(mux)

	srv := startHTTPServer(cfg.HTTPAddr, mux)
	logging.Info(logComponent, "started",
		"version", buildinfo.Version,
		"instance", instanceID,
		"http", cfg.HTTPAddr,
		"workflows", len(catalog.IDs()),
		"agents", len(agents.Names()),
	)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := runner.Shutdown(shutdownCtx); err != nil {
		logging.Warn(logComponent, "runs still active at shutdown", "running", len(runner.Running()))
	}
	logging.Info(logComponent, "stopped")
	return nil
}

// NewAgentRegistry builds the agent registry from the LLM settings and loads
// blueprints from the agent directory. Rejected blueprints are logged.
func NewAgentRegistry(cfg *config.Config, loc *time.Location) (*agent.Registry, error) {
	apiKey, err := secrets.Resolve(cfg.LLMAPIKey)
	if err != nil {
		return nil, fmt.Errorf("resolve llm api key: %w", err)
	}
	var counter agent.TokenCounter = agent.HeuristicCounter{}
	if cfg.ClipboardTokenBudget > 0 {
		if tc, err := agent.NewTiktokenCounter(tokenEncoding); err == nil {
			counter = tc
		} else {
			logging.Warn(logComponent, "tiktoken unavailable, using heuristic token counts", "error", err)
		}
	}
	agents := agent.NewRegistry(agent.NewOpenAIProvider(cfg.LLMBaseURL, cfg.LLMModel, apiKey),
		agent.WithClipboardTTL(cfg.ClipboardTTL),
		agent.WithClipboardBudget(cfg.ClipboardTokenBudget, counter),
		agent.WithLocation(loc),
	)
	if err := agents.LoadDir(cfg.AgentDir); err != nil {
		logging.Warn(logComponent, "some agent blueprints rejected", "dir", cfg.AgentDir, "error", err)
	}
	return agents, nil
}

func startHTTPServer(addr string, handler http.Handler) *http.Server {
	srv := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: defaultReadTimeout,
		IdleTimeout: defaultIdleTimeout,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(logComponent, "http server error", "error", err)
		}
	}()
	return srv
}
