package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brije111/quietshare/internal/config"
	"github.com/brije111/quietshare/internal/forward"
	"github.com/brije111/quietshare/internal/metrics"
	"github.com/brije111/quietshare/internal/modem"
	"github.com/brije111/quietshare/internal/netaudio"
	"github.com/brije111/quietshare/internal/profile"
	"github.com/brije111/quietshare/internal/receiver"
	"github.com/brije111/quietshare/internal/session"
	"github.com/brije111/quietshare/internal/transmitter"
)

const (
	serviceName    = "quietshare"
	serviceVersion = "1.0.0"

	maxSendBody  = 1 << 17
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// Dependencies are the components the API reports on and drives. Only
// Session and Registry are required.
type Dependencies struct {
	Config    *config.Config
	Session   *session.Session
	Registry  *profile.Registry
	Gate      *receiver.ToggleGate
	Forwarder *forward.Client
	Input     *netaudio.UDPInput
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer // nil serves the default registry
}

// HTTPServer provides HTTP API endpoints for monitoring and management
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	deps     Dependencies
	upgrader websocket.Upgrader

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, deps Dependencies) *HTTPServer {
	h := &HTTPServer{
		logger:    logger,
		deps:      deps,
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
		// No WriteTimeout: /events/ws connections are long lived
	}

	return h
}

// Handler returns the routed handler, for tests and embedding
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	mux.HandleFunc("/profiles", h.withMetrics("/profiles", h.handleProfiles))
	mux.HandleFunc("/session", h.withMetrics("/session", h.handleSession))
	mux.HandleFunc("/session/profile", h.withMetrics("/session/profile", h.handleSwitchProfile))
	mux.HandleFunc("/send", h.withMetrics("/send", h.handleSend))
	mux.HandleFunc("/access", h.withMetrics("/access", h.handleAccess))
	mux.HandleFunc("/events/latest", h.withMetrics("/events/latest", h.handleLatest))

	// The websocket handler hijacks the connection, so it is not wrapped
	mux.HandleFunc("/events/ws", h.handleEventStream)

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	if h.deps.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.deps.Metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.deps.Metrics.RecordHTTPError(r.Method, endpoint, errorType)
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
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info := h.deps.Session.Info()
	status := "healthy"
	if !info.Open {
		status = "degraded"
	}

	components := map[string]interface{}{
		"session": map[string]interface{}{
			"open":      info.Open,
			"profile":   info.Profile,
			"listening": info.Listening,
		},
		"receiver": map[string]interface{}{
			"running": info.Receiver.Running,
			"carrier": info.Receiver.Carrier,
			"level":   info.Receiver.Level,
		},
	}
	if h.deps.Forwarder != nil {
		stats := h.deps.Forwarder.GetStats()
		components["forward"] = map[string]interface{}{
			"total_requests":  stats.TotalRequests,
			"success_rate":    stats.SuccessRate,
			"active_requests": stats.ActiveRequests,
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": components,
	})
}

type profileSummary struct {
	profile.Profile
	BitsPerSecond float64 `json:"bits_per_second"`
	MaxAirtime    string  `json:"max_airtime"`
}

// handleProfiles implements the /profiles endpoint
func (h *HTTPServer) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	names := h.deps.Registry.Names()
	profiles := make([]profileSummary, 0, len(names))
	for _, name := range names {
		p, err := h.deps.Registry.Resolve(name)
		if err != nil {
			continue
		}
		summary := profileSummary{
			Profile:       p,
			BitsPerSecond: float64(p.SymbolRate * p.BitsPerSymbol()),
		}
		if codec, err := modem.NewCodec(p); err == nil {
			summary.MaxAirtime = codec.Airtime(p.MaxPayloadSize).String()
		}
		profiles = append(profiles, summary)
	}

	current, _ := h.deps.Session.Profile()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":    len(profiles),
		"active":   current.Name,
		"profiles": profiles,
	})
}

// handleSession implements the /session endpoint
func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Session.Info())
}

// handleSwitchProfile implements POST /session/profile
func (h *HTTPServer) handleSwitchProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Profile string `json:"profile"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil || req.Profile == "" {
		http.Error(w, "Body must be {\"profile\": \"<name>\"}", http.StatusBadRequest)
		return
	}

	err := h.deps.Session.SwitchProfile(r.Context(), req.Profile)
	switch {
	case err == nil, errors.Is(err, receiver.ErrAccessDenied):
		// Without input access the session still switches and can send
		writeJSON(w, http.StatusOK, h.deps.Session.Info())
	case errors.Is(err, profile.ErrUnknownProfile):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		h.logger.Error("Profile switch failed",
			slog.String("profile", req.Profile),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, err)
	}
}

// handleSend implements POST /send. A JSON body {"text": "..."} or
// {"payload": "<base64>"} is accepted; any other content type is sent as
// raw bytes.
func (h *HTTPServer) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSendBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	payload := body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req struct {
			Text    *string `json:"text"`
			Payload []byte  `json:"payload"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
			return
		}
		payload = req.Payload
		if req.Text != nil {
			payload = []byte(*req.Text)
		}
	}

	err = h.deps.Session.Send(payload)
	switch {
	case err == nil:
		current, _ := h.deps.Session.Profile()
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"bytes":   len(payload),
			"profile": current.Name,
		})
	case errors.Is(err, transmitter.ErrPayloadTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err)
	case errors.Is(err, transmitter.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, err)
	case errors.Is(err, session.ErrNotOpen):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, session.ErrClosed), errors.Is(err, transmitter.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

// handleAccess implements /access. GET reports whether the receiver may use
// the input; POST {"granted": bool} changes it and, when granting, starts
// listening. Revoking takes effect the next time the receiver starts.
func (h *HTTPServer) handleAccess(w http.ResponseWriter, r *http.Request) {
	if h.deps.Gate == nil {
		http.Error(w, "Input access is not configurable", http.StatusNotImplemented)
		return
	}

	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req struct {
			Granted bool `json:"granted"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
			http.Error(w, "Body must be {\"granted\": true|false}", http.StatusBadRequest)
			return
		}
		h.deps.Gate.Set(req.Granted)
		h.logger.Info("Input access changed", slog.Bool("granted", req.Granted))

		if req.Granted {
			err := h.deps.Session.Listen(r.Context())
			if err != nil && !errors.Is(err, session.ErrNotOpen) {
				writeError(w, http.StatusConflict, err)
				return
			}
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info := h.deps.Session.Info()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"granted":   h.deps.Gate.Granted(r.Context()),
		"listening": info.Listening,
	})
}

// handleLatest implements the /events/latest endpoint
func (h *HTTPServer) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ev, ok := h.deps.Session.Latest()
	if !ok {
		http.Error(w, "No events received", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleEventStream upgrades to a websocket and writes every reception
// event as a JSON text message until the client goes away
func (h *HTTPServer) handleEventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.deps.Metrics.RecordHTTPError(r.Method, "/events/ws", "upgrade_failed")
		return
	}
	defer conn.Close()

	listener := h.deps.Session.Events(0)
	defer h.deps.Session.RemoveListener(listener)

	h.logger.Debug("Event stream opened",
		slog.String("listener_id", listener.ID()),
		slog.String("remote", r.RemoteAddr),
	)

	// The read side only services control frames and notices disconnects
	gone := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-listener.Events():
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
					time.Now().Add(wsWriteWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Config == nil {
		http.Error(w, "No configuration loaded", http.StatusNotFound)
		return
	}

	// Return sanitized configuration (API key omitted)
	cfg := h.deps.Config
	sanitizedConfig := map[string]interface{}{
		"profiles": map[string]interface{}{
			"path":    cfg.Profiles.Path,
			"default": cfg.Profiles.Default,
		},
		"audio": map[string]interface{}{
			"input": map[string]interface{}{
				"kind":        cfg.Audio.Input.Kind,
				"address":     cfg.Audio.Input.Address,
				"path":        cfg.Audio.Input.Path,
				"buffer_size": cfg.Audio.Input.BufferSize,
				"queue_size":  cfg.Audio.Input.QueueSize,
				"max_gap":     cfg.Audio.Input.MaxGap,
				"idle_flush":  cfg.Audio.Input.IdleFlush,
			},
			"output": map[string]interface{}{
				"kind":            cfg.Audio.Output.Kind,
				"address":         cfg.Audio.Output.Address,
				"path":            cfg.Audio.Output.Path,
				"append":          cfg.Audio.Output.Append,
				"packet_duration": cfg.Audio.Output.PacketDuration,
				"buffer_time":     cfg.Audio.Output.BufferTime,
				"realtime":        cfg.Audio.Output.Realtime,
			},
		},
		"receiver": map[string]interface{}{
			"enabled":           cfg.Receiver.Enabled,
			"access_granted":    cfg.Receiver.AccessGranted,
			"queue_size":        cfg.Receiver.QueueSize,
			"chunk_size":        cfg.Receiver.ChunkSize,
			"threshold":         cfg.Receiver.Threshold,
			"squelch":           cfg.Receiver.Squelch,
			"carrier_threshold": cfg.Receiver.CarrierThreshold,
		},
		"transmitter": map[string]interface{}{
			"guard":   cfg.Transmitter.Guard,
			"pending": cfg.Transmitter.Pending,
		},
		"forward": map[string]interface{}{
			"enabled":          cfg.Forward.Enabled,
			"endpoint":         cfg.Forward.Endpoint,
			"timeout":          cfg.Forward.Timeout,
			"max_retries":      cfg.Forward.MaxRetries,
			"max_concurrent":   cfg.Forward.MaxConcurrent,
			"include_failures": cfg.Forward.IncludeFailures,
		},
		"logging": map[string]interface{}{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
			"output": cfg.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info := h.deps.Session.Info()
	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"receiver":  info.Receiver,
	}
	if info.Transmitter != nil {
		stats["transmitter"] = info.Transmitter
	}
	if h.deps.Input != nil {
		if udp, ok := h.deps.Input.Statistics(); ok {
			stats["udp"] = udp
		}
	}
	if h.deps.Forwarder != nil {
		stats["forward"] = h.deps.Forwarder.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
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

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "Acoustic Modem Service",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":                 "API documentation",
			"GET /health":           "Service health check",
			"GET /profiles":         "List modem profiles",
			"GET /session":          "Current session",
			"POST /session/profile": "Switch the session profile",
			"POST /send":            "Transmit a payload",
			"GET|POST /access":      "Get or set receiver input access",
			"GET /events/latest":    "Most recent reception event",
			"GET /events/ws":        "Websocket stream of reception events",
			"GET /config":           "Get service configuration",
			"GET /stats":            "Get service statistics",
			"GET /metrics":          "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
