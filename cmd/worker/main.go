package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facegroups/internal/cluster"
	"github.com/your-org/facegroups/internal/config"
	"github.com/your-org/facegroups/internal/models"
	"github.com/your-org/facegroups/internal/observability"
	"github.com/your-org/facegroups/internal/queue"
	"github.com/your-org/facegroups/internal/storage"
	"github.com/your-org/facegroups/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting facegroups worker",
		"workers", cfg.Cluster.WorkerCount,
		"cpu_cores", runtime.NumCPU(),
	)

	// Initialize ONNX Runtime
	if err := vision.InitRuntime(); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer vision.DestroyRuntime()

	// Connect to Postgres and run migrations
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		slog.Error("run migrations", "error", err)
		os.Exit(1)
	}

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// Load face models
	extractor, err := vision.NewExtractor(cfg.Vision)
	if err != nil {
		slog.Error("init face extractor", "error", err)
		os.Exit(1)
	}
	defer extractor.Close()

	pipeline := cluster.NewPipeline(db, minioStore, extractor, cfg.Cluster.SimilarityThreshold)

	slog.Info("clustering pipeline initialized",
		"similarity_threshold", cfg.Cluster.SimilarityThreshold)

	// Create NATS consumer
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start consuming process tasks. Terminal outcomes are persisted by
	// the pipeline, so every message is acked exactly once.
	err = consumer.ConsumeProcessTasks(ctx, "cluster-workers", func(ctx context.Context, msg jetstream.Msg) error {
		var task models.ProcessTask
		if err := json.Unmarshal(msg.Data(), &task); err != nil {
			slog.Error("unmarshal process task", "error", err)
			return nil
		}

		summary, err := pipeline.Process(ctx, task.ImageID)
		if err != nil && !cluster.IsTerminalError(err) {
			// Rejections (missing, in flight, already terminal) mean the
			// pipeline wrote nothing; publishing an event here would
			// contradict the stored status of the image.
			slog.Warn("skip process task", "image_id", task.ImageID, "reason", err)
			return nil
		}
		if err != nil {
			slog.Error("process image", "image_id", task.ImageID, "error", err)
		}

		event := resultEvent(task.ImageID, summary, err)
		if perr := producer.PublishEvent(ctx, task.ImageID.String(), event); perr != nil {
			slog.Error("publish event", "image_id", task.ImageID, "status", event.Status, "error", perr)
		}
		return nil
	}, cfg.Cluster.WorkerCount)
	if err != nil {
		slog.Error("start task consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", ":8082")
		if err := http.ListenAndServe(":8082", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}


// resultEvent builds the terminal-status event for a finished processing
// attempt. A terminal pipeline error maps to a failed event; otherwise the
// summary describes a completed image.
func resultEvent(imageID uuid.UUID, summary *cluster.Summary, err error) models.ProcessedEvent {
	if err != nil {
		return models.ProcessedEvent{
			ImageID: imageID,
			Status:  models.ImageStatusFailed,
			Error:   err.Error(),
		}
	}
	return models.ProcessedEvent{
		ImageID:       imageID,
		Status:        models.ImageStatusCompleted,
		FacesDetected: summary.FacesDetected,
		GroupsMatched: summary.GroupsMatched,
		GroupsCreated: summary.GroupsCreated,
	}
}
