package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dooshek/speakstream/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons
const (
	DropQuota      = "quota"
	DropSynthesis  = "synthesis"
	DropConnection = "connection"
	DropDecode     = "decode"
	DropStale      = "stale"
	DropQueueFull  = "queue_full"
	DropDevice     = "device"
)

var (
	// Chunk metrics
	chunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speakstream_chunks_total",
		Help: "Total number of text chunks sent for synthesis",
	}, []string{"backend"})

	synthesisLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "speakstream_synthesis_latency_seconds",
		Help:    "Time spent in a backend synthesis call",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	}, []string{"backend"})

	// Audio metrics
	payloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speakstream_payloads_total",
		Help: "Total number of audio payloads received from backends",
	}, []string{"format"})

	payloadBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speakstream_payload_bytes_total",
		Help: "Total audio payload bytes received from backends",
	}, []string{"format"})

	scheduledSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speakstream_scheduled_audio_seconds_total",
		Help: "Total seconds of audio scheduled for playback",
	})

	liveSources = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speakstream_live_sources",
		Help: "Number of scheduled sources not yet finished",
	})

	// Error metrics
	dropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speakstream_drops_total",
		Help: "Total number of chunks or payloads dropped",
	}, []string{"reason"})
)

// RecordChunk records a chunk handed to a backend
func RecordChunk(backend string) {
	chunksTotal.WithLabelValues(backend).Inc()
}

// RecordSynthesis records the duration of one synthesis call
func RecordSynthesis(backend string, d time.Duration) {
	synthesisLatency.WithLabelValues(backend).Observe(d.Seconds())
}

// RecordPayload records a payload arriving from a backend
func RecordPayload(format string, bytes int) {
	payloadsTotal.WithLabelValues(format).Inc()
	payloadBytes.WithLabelValues(format).Add(float64(bytes))
}

// RecordScheduled records a buffer placed on the timeline
func RecordScheduled(d time.Duration) {
	scheduledSeconds.Add(d.Seconds())
}

// SetLiveSources updates the live source gauge
func SetLiveSources(n int) {
	liveSources.Set(float64(n))
}

// RecordDrop records a dropped chunk or payload
func RecordDrop(reason string) {
	dropsTotal.WithLabelValues(reason).Inc()
}

// Serve exposes /metrics on addr until ctx is done
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Infof("Prometheus metrics enabled at http://%s/metrics", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
