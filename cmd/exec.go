package cmd

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"waiting-room/config"
	"waiting-room/handlers"
	"waiting-room/models"
	"waiting-room/monitoring"
	"waiting-room/security"
	"waiting-room/services"
	"waiting-room/utils"

	_ "waiting-room/migrations"
)

const (
	workerRunSubject    = "waitingroom.worker.run"
	workerReportSubject = "waitingroom.worker.report"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize services
	coordinator := services.NewCoordinator(redisClient, cfg.SlotTTL)
	configStore := services.NewConfigRecords(app)
	ledger := services.NewTurnLedger(app)
	monitor := monitoring.NewMonitor(redisClient)
	queueService := services.NewQueueService(coordinator, configStore, ledger, monitor, cfg.ReservationSecret, cfg.SlotTTL)
	worker := services.NewAdmissionWorker(coordinator, configStore, ledger, monitor, cfg.WorkerInterval)

	// Optional NATS trigger: lets an external scheduler force worker passes
	// and consumers observe worker outcomes.
	natsConn, err := connectNATS(cfg, worker)
	if err != nil {
		return err
	}

	// Initialize handlers
	queueHandler := handlers.NewQueueHandler(app, queueService)
	adminHandler := handlers.NewAdminHandler(app, configStore, queueService, worker)
	rateLimiter := security.NewRateLimiter(redisClient)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	setupConfigHooks(app, coordinator)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		syncTrackedEvents(ctx, configStore, coordinator)

		// Start background tasks
		worker.Start(ctx)
		if cfg.EnableMetrics {
			go monitor.Collect(ctx, cfg.MetricsInterval)
			go serveMetrics(cfg.MetricsPort)
		}

		// Queue endpoints
		queueGroup := e.Router.Group("/api/v1/queue")
		queueGroup.BindFunc(rateLimiter.AntiBotFilter())
		queueGroup.BindFunc(rateLimiter.RequestFilter(30, time.Minute))
		queueGroup.POST("/join", queueHandler.Join)
		queueGroup.GET("/position", queueHandler.Position)
		queueGroup.POST("/leave", queueHandler.Leave)
		queueGroup.POST("/complete", queueHandler.Complete)
		e.Router.GET("/api/v1/events/{eventId}/stats", queueHandler.Stats)

		// Admin endpoints
		e.Router.GET("/api/v1/admin/queue-config/{eventId}", adminHandler.GetConfig)
		e.Router.POST("/api/v1/admin/queue-config", adminHandler.SetConfig)
		e.Router.DELETE("/api/v1/admin/queue-config/{eventId}", adminHandler.DeleteConfig)
		e.Router.POST("/api/v1/admin/run-worker", adminHandler.RunWorker)
		e.Router.GET("/api/v1/admin/dashboard", adminHandler.Dashboard)

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		return e.Next()
	})

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		cancel()
		worker.Shutdown()
		if natsConn != nil {
			natsConn.Drain()
		}
		redisClient.Close()
		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		return err
	}
	return nil
}

// syncTrackedEvents seeds the coordinator's configured-events set from the
// database so worker and metrics passes survive a Redis restart.
func syncTrackedEvents(ctx context.Context, configStore *services.ConfigRecords, coordinator *services.Coordinator) {
	eventIDs, err := configStore.ListEventIDs()
	if err != nil {
		slog.Error("failed to list configured events", "error", err)
		return
	}

	for _, eventID := range eventIDs {
		if err := coordinator.TrackEvent(ctx, eventID); err != nil {
			slog.Error("failed to track event", "eventId", eventID, "error", err)
		}
	}

	slog.Info("synced configured events", "count", len(eventIDs))
}

// setupConfigHooks keeps the tracked-events set in step with queue_configs
// records regardless of which path wrote them.
func setupConfigHooks(app *pocketbase.PocketBase, coordinator *services.Coordinator) {
	app.OnRecordAfterCreateSuccess("queue_configs").BindFunc(func(e *core.RecordEvent) error {
		eventID := e.Record.GetString("event_id")
		if err := coordinator.TrackEvent(context.Background(), eventID); err != nil {
			slog.Error("failed to track new event", "eventId", eventID, "error", err)
			return nil // don't fail the save over a tracking miss
		}
		slog.Info("tracking configured event", "eventId", eventID)
		return nil
	})

	app.OnRecordAfterDeleteSuccess("queue_configs").BindFunc(func(e *core.RecordEvent) error {
		eventID := e.Record.GetString("event_id")
		if err := coordinator.UntrackEvent(context.Background(), eventID); err != nil {
			slog.Error("failed to untrack event", "eventId", eventID, "error", err)
			return nil
		}
		slog.Info("stopped tracking event", "eventId", eventID)
		return nil
	})
}

func connectNATS(cfg *config.Config, worker *services.AdmissionWorker) (*nats.Conn, error) {
	if cfg.NATSURL == "" {
		return nil, nil
	}

	conn, err := nats.Connect(cfg.NATSURL, nats.Name("waiting-room"))
	if err != nil {
		return nil, err
	}

	publishReports := func(reports []models.EventReport) {
		data, err := json.Marshal(reports)
		if err != nil {
			return
		}
		if err := conn.Publish(workerReportSubject, data); err != nil {
			slog.Error("failed to publish worker report", "error", err)
		}
	}
	worker.OnReport = publishReports

	// Message payload is an optional eventID; empty means every event.
	_, err = conn.Subscribe(workerRunSubject, func(msg *nats.Msg) {
		ctx := context.Background()
		eventID := string(msg.Data)

		var reports []models.EventReport
		if eventID != "" {
			reports = []models.EventReport{worker.ProcessEvent(ctx, eventID)}
		} else {
			reports = worker.RunAll(ctx)
		}
		publishReports(reports)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("connected to NATS", "url", cfg.NATSURL)
	return conn, nil
}

func serveMetrics(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	if err := http.ListenAndServe(":"+port, mux); err != nil {
		slog.Error("metrics server stopped", "error", err)
	}
}
