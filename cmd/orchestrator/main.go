package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/terminal-bench/vitalguard/internal/api"
	"github.com/terminal-bench/vitalguard/internal/config"
	"github.com/terminal-bench/vitalguard/internal/escalation"
	"github.com/terminal-bench/vitalguard/internal/ops"
	"github.com/terminal-bench/vitalguard/internal/orchestrator"
	"github.com/terminal-bench/vitalguard/internal/probes"
	"github.com/terminal-bench/vitalguard/internal/sessions"
	"github.com/terminal-bench/vitalguard/internal/store"
	"github.com/terminal-bench/vitalguard/internal/telemetry"
	"github.com/terminal-bench/vitalguard/pkg/incident"
	"github.com/terminal-bench/vitalguard/pkg/messaging"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	configPath := os.Getenv("DR_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	dbURL := os.Getenv("DATABASE_URL")
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	natsClient, err := messaging.NewClient(messaging.Config{
		URL:            os.Getenv("NATS_URL"),
		Name:           "dr-orchestrator",
		ReconnectWait:  time.Second,
		MaxReconnects:  10,
		ConnectTimeout: 5 * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer natsClient.Close()

	sessionCounter := sessions.NewRedisCounter(os.Getenv("REDIS_URL"), os.Getenv("SESSIONS_KEY"))
	defer sessionCounter.Close()

	var recorder telemetry.Recorder = telemetry.Noop{}
	if influxURL := os.Getenv("INFLUXDB_URL"); influxURL != "" {
		influx := telemetry.NewInfluxRecorder(influxURL,
			os.Getenv("INFLUXDB_TOKEN"), os.Getenv("INFLUXDB_ORG"), os.Getenv("INFLUXDB_BUCKET"))
		defer influx.Close()
		recorder = influx
	}

	opsClient := ops.NewHTTPClient(os.Getenv("OPS_URL"), os.Getenv("OPS_TOKEN"), &http.Client{
		Timeout: 2 * time.Minute,
	})

	probeSet := buildProbes(cfg, db)

	orch := orchestrator.New(orchestrator.Deps{
		Config:   cfg,
		Probes:   probeSet,
		Ops:      opsClient,
		Store:    store.NewPostgresStore(db),
		Notifier: escalation.NewNATSNotifier(natsClient),
		Sessions: sessionCounter,
		Recorder: recorder,
		Logger:   logger,
	})

	feed := api.NewFeed(logger)
	orch.SetNoticeSink(func(notice messaging.EventNotice) {
		feed.Publish(notice)

		subject := messaging.SubjectEventDetected
		switch notice.Status {
		case incident.StatusRecovered:
			subject = messaging.SubjectEventRecovered
		case incident.StatusManualIntervention:
			subject = messaging.SubjectEventEscalated
		}
		if err := natsClient.Publish(context.Background(), subject, notice); err != nil {
			logger.Warn("failed to publish event notice", zap.Error(err))
		}
	})
	orch.SetActionSink(func(notice messaging.ActionNotice) {
		if err := natsClient.Publish(context.Background(), messaging.SubjectActionExecuted, notice); err != nil {
			logger.Warn("failed to publish action notice", zap.Error(err))
		}
	})
	orch.SetBackupSink(func(notice messaging.BackupNotice) {
		if err := natsClient.Publish(context.Background(), messaging.SubjectBackupCompleted, notice); err != nil {
			logger.Warn("failed to publish backup notice", zap.Error(err))
		}
	})

	orch.Start()

	// Operators can re-trigger recovery over the bus as well as over HTTP.
	// The queue group keeps a command from being acted on twice when several
	// orchestrator replicas run.
	err = natsClient.QueueSubscribe(messaging.SubjectCommandTrigger, "dr-orchestrator", func(msg *nats.Msg) {
		var cmd messaging.TriggerCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			logger.Warn("ignoring malformed trigger command", zap.Error(err))
			return
		}
		go func() {
			event, err := orch.TriggerManualRecovery(cmd.EventID)
			if err != nil {
				logger.Warn("bus-triggered recovery rejected",
					zap.String("event_id", cmd.EventID),
					zap.String("requested_by", cmd.RequestedBy),
					zap.Error(err))
				return
			}
			logger.Info("bus-triggered recovery finished",
				zap.String("event_id", cmd.EventID),
				zap.String("status", string(event.Status)))
		}()
	})
	if err != nil {
		log.Fatalf("Failed to subscribe to trigger commands: %v", err)
	}

	router := api.NewRouter(orch, feed, os.Getenv("JWT_SECRET"), natsClient.IsConnected, logger)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	logger.Info("orchestrator API listening", zap.String("port", port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	orch.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
}

// buildProbes assembles the probe set from configuration. Database and
// integrity probes cover the primary datastore; service and infrastructure
// probes come from the configured endpoint maps.
func buildProbes(cfg *config.RecoveryConfiguration, db *sql.DB) []probes.Probe {
	client := &http.Client{Timeout: cfg.Monitor.ProbeTimeout}

	probeSet := []probes.Probe{
		probes.NewDatabaseProbe(db, "primary"),
	}
	for name, url := range cfg.Probes.Services {
		probeSet = append(probeSet, probes.NewServiceProbe(name, url, client))
	}
	for name, url := range cfg.Probes.Infrastructure {
		probeSet = append(probeSet, probes.NewInfrastructureProbe(name, url, client))
	}
	if cfg.Probes.IntegrityURL != "" {
		probeSet = append(probeSet, probes.NewIntegrityProbe("integrity", cfg.Probes.IntegrityURL, client))
	}
	return probeSet
}
