package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/gwaeber/HasciicamSocketStreaming/internal/config"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/metrics"
)

// Service identity reported by the status API and the server binary
const (
	ServiceName    = "hasciicam-server"
	ServiceVersion = "1.0.0"
)

// HTTPServer provides the status API
type HTTPServer struct {
	server  *http.Server
	logger  *slog.Logger
	config  *config.Config
	app     *Server
	metrics *metrics.Metrics
}

// NewHTTPServer creates the status API for app
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config, app *Server, m *metrics.Metrics) *HTTPServer {
	h := &HTTPServer{
		logger:  logger,
		config:  appConfig,
		app:     app,
		metrics: m,
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port)),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the route multiplexer
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/subscribers", h.withMetrics("/subscribers", h.handleSubscribers))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// no request metrics for the metrics endpoint itself
	mux.Handle("/metrics", h.metrics.Handler())

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

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP API server", slog.String("address", listener.Addr().String()))

	go func() {
		if err := h.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := h.app.Status()

	state := "healthy"
	code := http.StatusOK
	if !status.SocketReady {
		state = "starting"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":    state,
		"timestamp": time.Now().UTC(),
		"uptime":    h.app.Uptime().String(),
		"service": map[string]any{
			"name":    ServiceName,
			"version": ServiceVersion,
		},
		"streaming":   status.Streaming,
		"subscribers": status.Subscribers.ActiveCount(),
	})
}

// handleSubscribers implements the /subscribers endpoint, ?format=table renders text
func (h *HTTPServer) handleSubscribers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := h.app.Status()
	active := status.Subscribers.ActiveEntries()

	switch r.URL.Query().Get("format") {
	case "", "json":
		writeJSON(w, map[string]any{
			"total_subscribers": len(active),
			"capacity":          h.config.Server.MaxClients,
			"streaming":         status.Streaming,
			"timestamp":         time.Now().UTC(),
			"subscribers":       active,
		})

	case "table":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Slot", "Address", "Subscription", "Since"})
		for slot, entry := range status.Subscribers {
			if !entry.Active {
				continue
			}
			table.Append([]string{
				strconv.Itoa(slot),
				entry.Addr.String(),
				entry.ID.String(),
				time.Since(entry.Since).Truncate(time.Second).String(),
			})
		}
		table.Render()

	default:
		http.Error(w, "Unknown format", http.StatusBadRequest)
	}
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := h.app.Status()

	writeJSON(w, map[string]any{
		"uptime":    h.app.Uptime().String(),
		"timestamp": time.Now().UTC(),
		"listener":  h.app.Statistics(),
		"broadcaster": map[string]any{
			"streaming":      status.Streaming,
			"subscribers":    status.Subscribers.ActiveCount(),
			"frames_sent":    status.FramesSent,
			"fragments_sent": status.FragmentsSent,
			"send_failures":  status.SendFailures,
			"last_frame_at":  status.LastFrameAt,
		},
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]any{
		"server": map[string]any{
			"bind_address": h.config.Server.BindAddress,
			"port":         h.config.Server.Port,
			"max_clients":  h.config.Server.MaxClients,
			"read_buffer":  h.config.Server.ReadBuffer.HumanReadable(),
			"socket_wait":  h.config.Server.SocketWait.String(),
		},
		"stream": map[string]any{
			"fifo_path":         h.config.Stream.FIFOPath,
			"frame_size":        h.config.Stream.FrameSize.HumanReadable(),
			"initially_enabled": h.config.Stream.InitiallyEnabled,
			"eof_backoff":       h.config.Stream.EOFBackoff.String(),
		},
		"producer": map[string]any{
			"enabled": h.config.Producer.Enabled,
			"command": h.config.Producer.Command,
			"args":    h.config.Producer.Args,
		},
		"button": map[string]any{
			"driver":            h.config.Button.Driver,
			"poll_interval":     h.config.Button.PollInterval.String(),
			"debounce_interval": h.config.Button.DebounceInterval.String(),
		},
		"logging": map[string]any{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
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

	writeJSON(w, map[string]any{
		"service": "Hasciicam Streaming Server",
		"version": ServiceVersion,
		"endpoints": map[string]any{
			"GET /":                         "API documentation",
			"GET /health":                   "Service health check",
			"GET /subscribers":              "List subscribed clients",
			"GET /subscribers?format=table": "Subscribed clients as a text table",
			"GET /stats":                    "Listener and broadcaster statistics",
			"GET /config":                   "Effective configuration",
			"GET /metrics":                  "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
