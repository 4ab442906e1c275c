package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/tcp-collector/internal/config"
	"github.com/skypro1111/tcp-collector/internal/metrics"
	"github.com/skypro1111/tcp-collector/internal/store"
)

const (
	serviceName    = "tcp-collector"
	serviceVersion = "1.0.0"
)

// HTTPServer provides HTTP endpoints for monitoring a running collection
type HTTPServer struct {
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
	config   *config.Config
	acceptor *Acceptor
	store    *store.Store
	metrics  *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP monitor
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger,
	acceptor *Acceptor, st *store.Store, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		acceptor:  acceptor,
		store:     st,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         appConfig.HTTP.ListenAddr(),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/clients", h.withMetrics("/clients", h.handleClients))
	mux.HandleFunc("/clients/", h.withMetrics("/clients/{id}", h.handleClientDetail))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	mux.Handle("/metrics", promhttp.HandlerFor(h.metrics.Gatherer(), promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start binds the HTTP listener and serves in the background
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen for HTTP on %s", h.server.Addr)
	}
	h.listener = ln

	h.logger.Info("Starting HTTP monitor", slog.String("address", ln.Addr().String()))

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before Start
func (h *HTTPServer) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP monitor...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := h.acceptor.GetStatistics()
	storeStats := h.store.GetStats()

	writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": map[string]interface{}{
			"acceptor": map[string]interface{}{
				"state":              stats.State,
				"active_connections": stats.ActiveConnections,
				"slots_used":         stats.SlotsUsed,
				"capacity":           stats.Capacity,
			},
			"store": map[string]interface{}{
				"count":   storeStats.Count,
				"target":  h.config.Target(),
				"drained": storeStats.Drained,
			},
		},
	})
}

// handleClients implements the /clients endpoint
func (h *HTTPServer) handleClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	slots := h.acceptor.Slots()
	writeJSON(w, map[string]interface{}{
		"total_clients": len(slots),
		"timestamp":     time.Now().UTC(),
		"clients":       slots,
	})
}

// handleClientDetail implements the /clients/{client_id} endpoint
func (h *HTTPServer) handleClientDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	idStr := r.URL.Path[len("/clients/"):]
	if idStr == "" {
		http.Error(w, "Client ID required", http.StatusBadRequest)
		return
	}

	clientID, err := strconv.Atoi(idStr)
	if err != nil {
		http.Error(w, "Invalid client ID", http.StatusBadRequest)
		return
	}

	slot, exists := h.acceptor.GetSlot(clientID)
	if !exists {
		http.Error(w, "Client not found", http.StatusNotFound)
		return
	}

	writeJSON(w, slot)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]interface{}{
		"server": map[string]interface{}{
			"bind_address":    h.config.Server.BindAddress,
			"port":            h.config.Server.Port,
			"max_clients":     h.config.Server.MaxClients,
			"buffer_size":     h.config.Server.BufferSize,
			"max_message_len": h.config.Server.MaxMessageLen,
			"accept_poll":     h.config.Server.AcceptPoll,
			"framing":         h.config.Server.Framing,
		},
		"collector": map[string]interface{}{
			"messages_per_client": h.config.Collector.MessagesPerClient,
			"poll_interval":       h.config.Collector.PollInterval,
			"wait_timeout":        h.config.Collector.WaitTimeout,
			"target":              h.config.Target(),
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"acceptor":  h.acceptor.GetStatistics(),
		"store":     h.store.GetStats(),
		"target":    h.config.Target(),
	})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, map[string]interface{}{
		"service": "TCP Message Collector",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":                    "API documentation",
			"GET /health":              "Service health check",
			"GET /clients":             "List admitted clients",
			"GET /clients/{client_id}": "Get a single client slot",
			"GET /config":              "Get service configuration",
			"GET /stats":               "Get acceptor and store statistics",
			"GET /metrics":             "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
