package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	initOnce    sync.Once
	serverMutex sync.Mutex
	currentSrv  *http.Server

	healthMutex sync.RWMutex
	healthCheck func() error
)

// Init initializes all metrics subsystems and registers them with Prometheus
// This function is safe to call multiple times (uses sync.Once)
func Init() {
	initOnce.Do(func() {
		initDehuskMetrics()
		initWatchMetrics()
		initAPIMetrics()

		registerDehuskMetrics()
		registerWatchMetrics()
		registerAPIMetrics()

		// Present in /metrics before the first operation
		LastOperationTimestamp.Set(0)
		for _, s := range []string{StatusCollapsed, StatusNoop, StatusFailed} {
			OperationsTotal.WithLabelValues(s)
		}
	})
}

// SetHealthCheck installs the function consulted by /health. A nil check, or
// one returning nil, reports healthy.
func SetHealthCheck(fn func() error) {
	healthMutex.Lock()
	defer healthMutex.Unlock()
	healthCheck = fn
}

// NewMux builds the metrics HTTP handler: /metrics (Prometheus), /health,
// and /trigger, which requests an immediate watch cycle through trigger.
func NewMux(trigger chan<- struct{}) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		healthMutex.RLock()
		hc := healthCheck
		healthMutex.RUnlock()

		if hc != nil {
			if err := hc(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"degraded","healthy":false}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","healthy":true}`))
	})

	mux.HandleFunc("/trigger", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if trigger == nil {
			http.Error(w, "Trigger channel not initialized", http.StatusServiceUnavailable)
			return
		}
		select {
		case trigger <- struct{}{}:
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte("Watch cycle triggered"))
		default:
			http.Error(w, "Watch cycle already pending", http.StatusServiceUnavailable)
		}
	})

	return Instrument(mux)
}

// StartServer starts the metrics HTTP server on addr in the background.
func StartServer(addr string, trigger chan<- struct{}, logger *zap.SugaredLogger) {
	serverMutex.Lock()
	defer serverMutex.Unlock()

	if currentSrv != nil {
		logger.Infow("metrics server already running", "addr", currentSrv.Addr)
		return
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           NewMux(trigger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	currentSrv = srv

	go func() {
		logger.Infow("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("metrics server error", "error", err)
			ErrorsTotal.Inc()
		}
	}()
}

// Shutdown gracefully shuts down the metrics server
func Shutdown(ctx context.Context, logger *zap.SugaredLogger) {
	serverMutex.Lock()
	defer serverMutex.Unlock()

	if currentSrv == nil {
		return
	}

	if err := currentSrv.Shutdown(ctx); err != nil {
		logger.Errorw("metrics server shutdown error", "error", err)
		ErrorsTotal.Inc()
	}
	currentSrv = nil
}
