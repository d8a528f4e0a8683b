// Package metrics declares the Prometheus collectors shared by the
// taxiflow binaries and the HTTP endpoint that exposes them.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxiflow_batch_runs_total",
		Help: "Batch runs by final status.",
	}, []string{"status"})
	RecordsPredicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taxiflow_batch_records_predicted_total",
		Help: "Total number of trip records scored by the batch engine.",
	})
	ChunksProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taxiflow_batch_chunks_processed_total",
		Help: "Total number of chunks that completed inference.",
	})
	ChunksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taxiflow_batch_chunks_failed_total",
		Help: "Total number of chunks that failed inference.",
	})
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "taxiflow_batch_run_duration_seconds",
		Help:    "Duration of a full batch run.",
		Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 300.0},
	})

	CPUPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taxiflow_resource_cpu_percent",
		Help: "Last sampled CPU utilization.",
	})
	MemoryPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taxiflow_resource_memory_percent",
		Help: "Last sampled memory utilization.",
	})
	MemoryAvailableGB = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taxiflow_resource_memory_available_gb",
		Help: "Last sampled available memory in GiB.",
	})
	DiskPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taxiflow_resource_disk_percent",
		Help: "Last sampled disk utilization.",
	})
	ResourceWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxiflow_resource_warnings_total",
		Help: "Advisory resource warnings by resource.",
	}, []string{"resource"})

	CleanupDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxiflow_cleanup_files_deleted_total",
		Help: "Files removed by the retention policy, by category.",
	}, []string{"category"})
	CleanupFreedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxiflow_cleanup_freed_bytes_total",
		Help: "Bytes freed by the retention policy, by category.",
	}, []string{"category"})

	IngestMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxiflow_ingest_messages_total",
		Help: "MQTT trip messages by outcome.",
	}, []string{"result"})
	IngestBatchesFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taxiflow_ingest_batches_flushed_total",
		Help: "Batch files written to the input directory.",
	})

	APIPredictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxiflow_api_predictions_total",
		Help: "Online predictions served, by source.",
	}, []string{"source"})
	APIPredictionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taxiflow_api_prediction_errors_total",
		Help: "Online prediction requests that failed.",
	})
)

// Handler serves /metrics and a plain /health check.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	return mux
}

// Serve runs the metrics endpoint on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
