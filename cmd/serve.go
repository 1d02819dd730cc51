package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/toolgate/internal/adapter"
	"github.com/nextlevelbuilder/toolgate/internal/agent"
	"github.com/nextlevelbuilder/toolgate/internal/approval"
	"github.com/nextlevelbuilder/toolgate/internal/chat"
	"github.com/nextlevelbuilder/toolgate/internal/config"
	"github.com/nextlevelbuilder/toolgate/internal/directory"
	"github.com/nextlevelbuilder/toolgate/internal/engine"
	"github.com/nextlevelbuilder/toolgate/internal/httpapi"
	"github.com/nextlevelbuilder/toolgate/internal/providers"
	"github.com/nextlevelbuilder/toolgate/internal/runlog"
	"github.com/nextlevelbuilder/toolgate/internal/tools"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg := loadConfig()
	setupLogging(cfg)

	// Stores: approvals+runlog share one sqlite file, the directory data
	// lives in its own.
	approvalStore, err := approval.Open(cfg.Store.ApprovalsPath)
	if err != nil {
		return fmt.Errorf("open approval store: %w", err)
	}
	defer approvalStore.Close()

	approvals, err := approval.NewCache(approvalStore)
	if err != nil {
		return fmt.Errorf("build approval cache: %w", err)
	}

	logger, err := runlog.New(approvalStore.DB())
	if err != nil {
		slog.Warn("run log unavailable", "error", err)
	}

	dir, err := directory.Open(cfg.Store.DirectoryPath)
	if err != nil {
		return fmt.Errorf("open directory store: %w", err)
	}
	defer dir.Close()

	// Tools
	registry := tools.NewRegistry()
	registry.SetRateLimiter(tools.NewRateLimiter(cfg.Limits.ToolActionsPerHour))
	tools.RegisterDirectoryTools(registry, dir)
	slog.Info("tools registered", "count", registry.Count())

	// Model client and loop
	client := providers.NewClient(cfg.LLM.Provider, cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model,
		time.Duration(cfg.LLM.TimeoutSeconds)*time.Second)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 3*time.Second)
	if err := client.Ping(pingCtx); err != nil {
		slog.Warn("model backend not reachable yet", "base_url", cfg.LLM.BaseURL, "error", err)
	}
	cancelPing()

	adpt := adapter.New(cfg.Agent.SystemHint.Enabled, cfg.Agent.SystemHint.Content)
	orch := agent.New(client, registry, adpt, approvals,
		agent.WithMaxIterations(cfg.Agent.MaxIterations),
		agent.WithRunLog(logger),
	)

	// Session engine with the chat method routed through the auto loop.
	chatFn := func(ctx context.Context, req *chat.CompletionRequest) (*chat.CompletionResponse, error) {
		outcome, err := orch.Run(ctx, agent.NewRequestID(), req, false)
		if err != nil {
			return nil, err
		}
		return outcome.Response, nil
	}
	eng := engine.New(cfg.Agent.Name, httpapi.Version, registry, cfg.Engine.QueueSize, chatFn)

	srv := httpapi.NewServer(cfg, orch, adpt, eng, registry, approvals)
	srv.SetHealthCheck(client.Ping)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Hot reload covers the log level, the execution mode, and the system
	// hint. Listener and store changes need a restart.
	if watcher, werr := config.NewWatcher(resolveConfigPath()); werr == nil {
		watcher.OnChange(func(next *config.Config) {
			setupLogging(next)
			srv.SetMode(next.Agent.Mode)
			adpt.SetHint(next.Agent.SystemHint.Enabled, next.Agent.SystemHint.Content)
			slog.Info("config reapplied", "level", next.Logging.Level, "mode", next.Agent.Mode)
		})
		if serr := watcher.Start(); serr != nil {
			slog.Debug("config watcher not started", "error", serr)
		} else {
			defer watcher.Stop()
		}
	}

	return srv.Start(ctx)
}
