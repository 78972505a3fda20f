package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/opengoat/internal/agents"
	"github.com/nextlevelbuilder/opengoat/internal/auth"
	"github.com/nextlevelbuilder/opengoat/internal/authz"
	"github.com/nextlevelbuilder/opengoat/internal/config"
	"github.com/nextlevelbuilder/opengoat/internal/executor"
	"github.com/nextlevelbuilder/opengoat/internal/httpapi"
	"github.com/nextlevelbuilder/opengoat/internal/logbuf"
	"github.com/nextlevelbuilder/opengoat/internal/paths"
	"github.com/nextlevelbuilder/opengoat/internal/providers"
	"github.com/nextlevelbuilder/opengoat/internal/runs"
	"github.com/nextlevelbuilder/opengoat/internal/scheduler"
	"github.com/nextlevelbuilder/opengoat/internal/sessions"
	"github.com/nextlevelbuilder/opengoat/internal/skills"
	"github.com/nextlevelbuilder/opengoat/internal/tasks"
	"github.com/nextlevelbuilder/opengoat/internal/tracing"
)

const shutdownGrace = 10 * time.Second

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, 127.0.0.1:4628)")
	return cmd
}

func runServe(ctx context.Context, addrOverride string) error {
	layout, err := paths.Resolve(homeFlag)
	if err != nil {
		return configError{err}
	}
	if err := os.MkdirAll(layout.Home, 0o755); err != nil {
		return configError{err}
	}

	cfgStore, err := config.NewStore(layout.GlobalConfigJSONPath())
	if err != nil {
		return configError{err}
	}
	cfg := cfgStore.Config()

	logs := logbuf.New(logbuf.DefaultCapacity)
	setupLogging(logs)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		slog.Warn("serve.tracing_init_failed", "error", err)
	} else {
		defer shutdownTracing(context.Background())
	}

	rootID := cfg.DefaultAgent.ID
	if rootID == "" {
		rootID = "ceo"
	}
	agentStore := agents.NewStore(layout, rootID)
	if _, _, err := agentStore.EnsureAgent(agents.Agent{
		ID:             rootID,
		DisplayName:    cfg.DefaultAgent.DisplayName,
		Role:           cfg.DefaultAgent.Role,
		Type:           agents.TypeManager,
		BootstrapFiles: cfg.DefaultAgent.BootstrapFiles,
	}); err != nil {
		return fmt.Errorf("provision root agent: %w", err)
	}

	taskStore, err := tasks.Open(layout.TasksDBPath(), authz.NewResolver(agentStore))
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer taskStore.Close()

	sessionStore := sessions.NewStore(layout)

	registry := providers.NewRegistry()
	registry.Register(providers.DefaultProviderID, func() (providers.Provider, error) {
		return providers.NewCLIProvider(layout, providers.CLIConfig{
			Command: cfg.Providers.Command,
			Args:    cfg.Providers.CommandArgs(),
		}), nil
	})
	gateway := providers.NewGatewayProvider(providers.GatewayConfig{
		URL:   cfg.Gateway.URL,
		Token: cfg.Gateway.Token,
	})
	registry.Register(gateway.ID(), func() (providers.Provider, error) { return gateway, nil })

	catalog := skills.NewCatalog(layout)
	if err := catalog.Watch(); err != nil {
		slog.Warn("serve.skills_watch_failed", "error", err)
	}
	defer catalog.Close()

	exec := executor.New(executor.Options{
		Layout:   layout,
		Agents:   agentStore,
		Sessions: sessionStore,
		Config:   cfgStore,
		Registry: registry,
		Skills:   catalog,
		Recorder: runs.NewRecorder(layout, cfg.Runs.RecordEnabled),
		Fallback: gateway,
	})

	sched := scheduler.New(scheduler.Options{
		Config:          cfgStore,
		Agents:          agentStore,
		Tasks:           taskStore,
		Sessions:        sessionStore,
		Invoker:         exec,
		IntervalMinutes: cfg.Scheduler.IntervalMinutes,
	})
	unbind := sched.Bind()
	defer unbind()
	defer sched.Stop()

	authMgr, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}

	api := httpapi.New(httpapi.Options{
		Config:   cfgStore,
		Agents:   agentStore,
		Tasks:    taskStore,
		Sessions: sessionStore,
		Invoker:  exec,
		Skills:   catalog,
		Logs:     logs,
		Auth:     authMgr,
		Version:  Version,
	})

	addr := addrOverride
	if addr == "" {
		addr = cfg.Server.Addr()
	}
	ln, lnDesc, err := listen(cfg, addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	srv := &http.Server{Handler: api.Handler()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	slog.Info("serve.listening", "addr", lnDesc, "home", layout.Home, "version", Version)

	select {
	case <-ctx.Done():
		slog.Info("serve.shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// setupLogging installs the default slog handler: text to stderr, teed into
// the ring buffer behind GET /api/logs/stream.
func setupLogging(buf *logbuf.Buffer) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	text := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(logbuf.NewHandler(text, buf)))
}
