// Package httpapi exposes connectivity configs over HTTP and WebSocket.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ice-broker/internal/domain"
)

const maxMessageBytes = 4096

// ConfigProvider is satisfied by usecase.ConfigInteractor.
type ConfigProvider interface {
	Build(ctx context.Context, tier domain.Tier) domain.ConnectivityConfig
}

type Handler struct {
	configs  ConfigProvider
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

type Option func(*Handler)

// WithAllowedOrigins lets browser pages served from the listed origins open
// the WebSocket in addition to same-origin pages. Entries look like
// "https://app.example.com".
func WithAllowedOrigins(origins ...string) Option {
	return func(h *Handler) {
		if len(origins) == 0 {
			return
		}
		h.upgrader.CheckOrigin = allowOrigins(origins)
	}
}

// NewHandler wires all routes. gatherer may be nil to disable /metrics.
// Without WithAllowedOrigins the WebSocket only accepts same-origin
// requests.
func NewHandler(configs ConfigProvider, gatherer prometheus.Gatherer, opts ...Option) *Handler {
	h := &Handler{
		configs: configs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		mux: http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.mux.HandleFunc("GET /v1/ice", h.handleICE)
	h.mux.HandleFunc("GET /v1/ws", h.handleWS)
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if gatherer != nil {
		h.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return h
}

func allowOrigins(origins []string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			allowed[strings.ToLower(o)] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := allowed[strings.ToLower(origin)]; ok {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) handleICE(w http.ResponseWriter, r *http.Request) {
	tier, ok := domain.ParseTier(r.URL.Query().Get("tier"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown tier"})
		return
	}
	writeJSON(w, http.StatusOK, h.configs.Build(r.Context(), tier))
}

type wsRequest struct {
	Tier string `json:"tier"`
}

type wsResponse struct {
	Tier   domain.Tier                `json:"tier,omitempty"`
	Config *domain.ConnectivityConfig `json:"config,omitempty"`
	Error  string                     `json:"error,omitempty"`
}

// handleWS answers one config per request message until the client hangs up.
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("websocket upgrade: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()
	conn.SetReadLimit(maxMessageBytes)

	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				glog.Warningf("websocket read: %v", err)
			}
			return
		}

		var resp wsResponse
		if tier, ok := domain.ParseTier(req.Tier); ok {
			cfg := h.configs.Build(r.Context(), tier)
			resp = wsResponse{Tier: tier, Config: &cfg}
		} else {
			resp = wsResponse{Error: "unknown tier"}
		}
		if err := conn.WriteJSON(resp); err != nil {
			glog.Warningf("websocket write: %v", err)
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Warningf("write response: %v", err)
	}
}
