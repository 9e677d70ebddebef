package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vesperbase/vesper/internal/auth"
	"github.com/vesperbase/vesper/internal/config"
	"github.com/vesperbase/vesper/internal/database"
	"github.com/vesperbase/vesper/internal/metrics"
	"github.com/vesperbase/vesper/internal/permissions"
	"github.com/vesperbase/vesper/internal/scheduler"
	"github.com/vesperbase/vesper/internal/transport"
)

var serveNoWatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduler and permission broker",
	Long: `Start the Vesper background services:

  - The task runner, picking up due scheduled tasks on the configured beat
  - The permission broker, ready to register and resolve approval requests
  - The optional Prometheus metrics listener

Use --no-watch to disable approval policy hot-reload.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Disable policy file watching")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(&cfg.Logging)

	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus, err := openTransport(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open transport")
	}
	defer bus.Close()

	var policy *permissions.Policy
	if cfg.Permissions.PolicyPath != "" {
		policy, err = permissions.LoadPolicy(cfg.Permissions.PolicyPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Permissions.PolicyPath).Msg("Failed to load approval policy")
		}
		log.Info().
			Str("path", cfg.Permissions.PolicyPath).
			Int("rules", policy.RuleCount()).
			Msg("Approval policy loaded")

		if cfg.Permissions.WatchPolicy && !serveNoWatch {
			watcher, watchErr := permissions.WatchPolicy(policy)
			if watchErr != nil {
				log.Warn().Err(watchErr).Msg("Failed to watch policy file, continuing without hot-reload")
			} else {
				defer func() { _ = watcher.Stop() }()
			}
		}
	}

	broker := permissions.NewBroker(bus, policy, permissions.BrokerConfig{
		RequestTTL:   cfg.Permissions.RequestTTL,
		AwaitTimeout: cfg.Permissions.AwaitTimeout,
	})
	tokens := auth.NewTokenService(cfg.Auth.Token)

	listener := permissions.NewListener(permissions.NewGate(broker, tokens), bus)
	if err := listener.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start permission command listener")
	}
	defer listener.Stop()

	executor := &chatPromptExecutor{bus: bus}
	runner, err := scheduler.NewRunner(db, executor, scheduler.RunnerConfig{
		Beat:            cfg.Scheduler.Beat,
		DuplicateWindow: cfg.Scheduler.DuplicateWindow,
		BatchSize:       cfg.Scheduler.BatchSize,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create task runner")
	}

	runner.Start()
	defer runner.Stop()

	if cfg.Metrics.Enabled {
		startMetricsListener(ctx, db, cfg.Metrics.Addr)
	}

	log.Info().
		Str("database", cfg.Database.Path).
		Str("transport", cfg.Transport.Backend).
		Msg("Vesper started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutdown signal received")
	return nil
}

func openTransport(ctx context.Context, cfg *config.Config) (transport.Bus, error) {
	if cfg.Transport.Backend == "redis" {
		return transport.NewRedis(ctx, &cfg.Transport.Redis)
	}
	return transport.NewMemory(), nil
}

// startMetricsListener serves Prometheus metrics and feeds the DB pool gauges.
func startMetricsListener(ctx context.Context, db *database.DB, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Info().Str("addr", addr).Msg("Metrics listener started")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics listener failed")
		}
	}()

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = server.Shutdown(shutdownCtx)
				cancel()
				return
			case <-ticker.C:
				stats := db.Stats()
				metrics.UpdateDBStats(stats.OpenConnections, stats.InUse, stats.Idle)
			}
		}
	}()
}

// chatPromptExecutor hands a due task's prompt to the chat pipeline by
// publishing it on the owner's event channel. The pipeline consuming these
// events lives outside this process.
type chatPromptExecutor struct {
	bus transport.Bus
}

type scheduledPromptEvent struct {
	Type           string `json:"type"`
	TaskID         string `json:"task_id"`
	TaskName       string `json:"task_name"`
	Prompt         string `json:"prompt"`
	MessageID      string `json:"message_id"`
	ModelID        string `json:"model_id,omitempty"`
	PermissionMode string `json:"permission_mode,omitempty"`
	ThinkingMode   string `json:"thinking_mode,omitempty"`
}

func (e *chatPromptExecutor) Execute(ctx context.Context, task *scheduler.ScheduledTask) (*scheduler.RunOutcome, error) {
	messageID := uuid.New().String()

	payload, err := json.Marshal(scheduledPromptEvent{
		Type:           "scheduled_task",
		TaskID:         task.ID,
		TaskName:       task.TaskName,
		Prompt:         task.PromptMessage,
		MessageID:      messageID,
		ModelID:        task.ModelID,
		PermissionMode: task.PermissionMode,
		ThinkingMode:   task.ThinkingMode,
	})
	if err != nil {
		return nil, err
	}

	if err := e.bus.Publish(ctx, "user_events:"+task.UserID, payload); err != nil {
		return nil, err
	}

	return &scheduler.RunOutcome{MessageID: messageID}, nil
}
