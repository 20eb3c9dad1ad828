package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"standin/internal/config"
	"standin/internal/domain"
	"standin/internal/metrics"
)

// ApprovalResolver is the slice of the reply queue the admin API needs:
// resolving a held reply, which on approval also dispatches it.
type ApprovalResolver interface {
	Resolve(ctx context.Context, id string, decision domain.Decision) (*domain.PendingApproval, error)
}

// Admin serves the operator surface: approvals, the reply ledger, health,
// Prometheus metrics, and a WebSocket event stream.
type Admin struct {
	cfg      config.AdminConfig
	ledger   domain.LedgerStore
	resolver ApprovalResolver
	health   map[string]domain.HealthReporter
	logger   *slog.Logger
	server   *http.Server

	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex
}

func NewAdmin(cfg config.AdminConfig, ledger domain.LedgerStore, resolver ApprovalResolver, health map[string]domain.HealthReporter, logger *slog.Logger) *Admin {
	return &Admin{
		cfg:      cfg,
		ledger:   ledger,
		resolver: resolver,
		health:   health,
		logger:   logger,
		clients:  make(map[*websocket.Conn]*sync.Mutex),
	}
}

// adminEvent is the JSON frame pushed to event stream subscribers.
type adminEvent struct {
	Type    string    `json:"type"`
	Payload any       `json:"payload,omitempty"`
	Time    time.Time `json:"time"`
}

var adminUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // token auth gates the upgrade instead
	},
}

// HandleEvent is wired as the reply queue's event hook: it fans pipeline
// events out to connected subscribers.
func (a *Admin) HandleEvent(event string, payload any) {
	a.broadcast(adminEvent{Type: event, Payload: payload, Time: time.Now()})
}

// Handler builds the route table. Split out from Start so tests can drive
// it with httptest.
func (a *Admin) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/approvals", a.auth(a.handleListApprovals))
	mux.HandleFunc("POST /api/approvals/{id}/approve", a.auth(a.handleResolve(domain.DecisionApproved)))
	mux.HandleFunc("POST /api/approvals/{id}/reject", a.auth(a.handleResolve(domain.DecisionRejected)))
	mux.HandleFunc("GET /api/ledger", a.auth(a.handleLedger))
	mux.HandleFunc("GET /api/health", a.auth(a.handleHealth))
	mux.HandleFunc("GET /api/events", a.auth(a.handleEvents))
	mux.HandleFunc("GET /metrics", metrics.Collector.Handler())
	return mux
}

// Start serves the admin API until ctx is cancelled.
func (a *Admin) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)
	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	a.logger.Info("admin API started", "addr", addr)

	go func() {
		<-ctx.Done()
		a.closeClients()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.server.Shutdown(shutdownCtx)
	}()

	if err := a.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *Admin) Stop() error {
	if a.server != nil {
		a.closeClients()
		return a.server.Close()
	}
	return nil
}

// auth enforces the bearer token when one is configured. WebSocket clients
// may pass it as ?token= since browsers cannot set headers on upgrades.
func (a *Admin) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.Token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got == "" {
				got = r.URL.Query().Get("token")
			}
			if got != a.cfg.Token {
				writeAdminError(w, http.StatusUnauthorized, "invalid or missing token")
				return
			}
		}
		next(w, r)
	}
}

func (a *Admin) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	platform := domain.Platform(r.URL.Query().Get("platform"))
	pending, err := a.ledger.ListPending(r.Context(), platform)
	if err != nil {
		a.logger.Error("list approvals failed", "err", err)
		writeAdminError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeAdminJSON(w, http.StatusOK, map[string]any{
		"approvals": pending,
		"count":     len(pending),
	})
}

func (a *Admin) handleResolve(decision domain.Decision) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		pa, err := a.resolver.Resolve(r.Context(), id, decision)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeAdminError(w, http.StatusNotFound, "approval not found")
			return
		case errors.Is(err, domain.ErrAlreadyResolved):
			writeAdminError(w, http.StatusConflict, "already resolved with a different decision")
			return
		case err != nil:
			a.logger.Error("resolve failed", "id", id, "decision", decision, "err", err)
			writeAdminError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeAdminJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"status":   string(decision),
			"approval": pa,
		})
	}
}

func (a *Admin) handleLedger(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := a.ledger.ListEntries(r.Context(), limit)
	if err != nil {
		a.logger.Error("list ledger failed", "err", err)
		writeAdminError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeAdminJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (a *Admin) handleHealth(w http.ResponseWriter, r *http.Request) {
	type channelHealth struct {
		Healthy bool   `json:"healthy"`
		Error   string `json:"error,omitempty"`
	}
	out := make(map[string]channelHealth, len(a.health))
	allOK := true
	for name, h := range a.health {
		if err := h.Healthy(r.Context()); err != nil {
			out[name] = channelHealth{Healthy: false, Error: err.Error()}
			allOK = false
		} else {
			out[name] = channelHealth{Healthy: true}
		}
	}
	status := http.StatusOK
	if !allOK {
		status = http.StatusServiceUnavailable
	}
	writeAdminJSON(w, status, map[string]any{
		"healthy":  allOK,
		"channels": out,
		"uptime":   metrics.Collector.Uptime().String(),
	})
}

func (a *Admin) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := adminUpgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Error("event stream upgrade failed", "err", err)
		return
	}

	a.mu.Lock()
	a.clients[conn] = &sync.Mutex{}
	a.mu.Unlock()
	metrics.EventClients.Inc()
	a.logger.Info("event stream client connected", "remote", r.RemoteAddr)

	defer func() {
		a.mu.Lock()
		delete(a.clients, conn)
		a.mu.Unlock()
		metrics.EventClients.Dec()
		conn.Close()
		a.logger.Info("event stream client disconnected", "remote", r.RemoteAddr)
	}()

	// Drain reads so pings and close frames are processed; subscribers
	// only receive.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				a.logger.Debug("event stream read error", "err", err)
			}
			return
		}
	}
}

func (a *Admin) broadcast(ev adminEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	for conn, mu := range a.clients {
		mu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mu.Unlock()
		if err != nil {
			a.logger.Debug("event stream write failed", "err", err)
		}
	}
}

func (a *Admin) closeClients() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for conn := range a.clients {
		conn.Close()
		delete(a.clients, conn)
	}
}

func writeAdminJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeAdminError(w http.ResponseWriter, status int, msg string) {
	writeAdminJSON(w, status, map[string]any{"success": false, "error": msg})
}
