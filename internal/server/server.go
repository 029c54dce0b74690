// Package server exposes the latest spot positions and the pipeline
// configuration over HTTP and pushes finished reports to websocket clients.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/gorilla/websocket"

	"beamspot-go/internal/config"
	"beamspot-go/internal/types"
)

//go:embed web/*
var webFS embed.FS

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10

	defaultHistory = 20
	maxHistory     = 1000
)

// Options carries the collaborators of the server. Nil functions disable the
// matching endpoints.
type Options struct {
	Config   config.AppConfig
	Pipeline *config.Store
	Status   func() map[string]any
	Latest   func() (types.Report, bool)
	History  func(ctx context.Context, limit int) ([]types.Report, error)
}

type Server struct {
	upgrader websocket.Upgrader
	clients  map[*websocket.Conn]*sync.Mutex
	mu       sync.Mutex
	opts     Options
	pending  chan types.Report
}

func New(opts Options) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*sync.Mutex),
		opts:    opts,
		pending: make(chan types.Report, 1),
	}
}

// SetStatus replaces the status callback. It must be called before Run.
func (s *Server) SetStatus(fn func() map[string]any) {
	s.opts.Status = fn
}

// Routes builds the HTTP handler.
func (s *Server) Routes() (chi.Router, error) {
	sub, err := fs.Sub(webFS, "web")
	if err != nil {
		return nil, err
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/config", s.handleConfig)
	r.Patch("/config", s.handleConfigPatch)
	r.Get("/status", s.handleStatus)
	r.Get("/results", s.handleResults)
	r.Get("/history", s.handleHistory)
	r.Get("/ws", s.handleWS)
	r.Handle("/*", http.FileServer(http.FS(sub)))
	return r, nil
}

// Run serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	routes, err := s.Routes()
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(s.opts.Config.Port),
		Handler:           routes,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	go s.broadcast(ctx)

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Consume queues rep for the next broadcast. Only the newest pending report
// is kept.
func (s *Server) Consume(_ context.Context, rep types.Report) error {
	for {
		select {
		case s.pending <- rep:
			return nil
		default:
		}
		select {
		case <-s.pending:
		default:
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.mu.Lock()
	writeMu := &sync.Mutex{}
	s.clients[conn] = writeMu
	s.mu.Unlock()

	_ = s.writeJSON(conn, writeMu, map[string]any{"type": "config", "pipeline": s.pipeline()})
	if rep, ok := s.latest(); ok {
		_ = s.writeJSON(conn, writeMu, types.UISnapshot{Type: "report", Report: rep})
	}

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := s.writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer s.removeClient(conn)
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			var request map[string]any
			if err := json.Unmarshal(payload, &request); err != nil {
				continue
			}
			if request["type"] == "snapshot_request" {
				if rep, ok := s.latest(); ok {
					_ = s.writeJSON(conn, writeMu, types.UISnapshot{Type: "report", Report: rep})
				}
			}
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"port":     s.opts.Config.Port,
		"camera":   s.opts.Config.Camera,
		"debug":    s.opts.Config.Debug,
		"pipeline": s.pipeline(),
	})
}

// handleConfigPatch merges a partial pipeline configuration, keyed like the
// YAML file, into the running configuration.
func (s *Server) handleConfigPatch(w http.ResponseWriter, r *http.Request) {
	if s.opts.Pipeline == nil {
		http.Error(w, "configuration is read-only", http.StatusMethodNotAllowed)
		return
	}
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	next, err := s.opts.Pipeline.Merge(patch)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, config.ErrInvalidConfig) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pipeline": next})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var payload map[string]any
	if s.opts.Status != nil {
		payload = s.opts.Status()
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if metrics, ok := payload["metrics"].(map[string]any); ok {
		metrics["ws_clients"] = s.clientCount()
	} else {
		payload["ws_clients"] = s.clientCount()
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleResults(w http.ResponseWriter, _ *http.Request) {
	rep, ok := s.latest()
	if !ok {
		http.Error(w, "no acquisition finished yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		http.Error(w, "history is not recorded", http.StatusNotFound)
		return
	}
	limit := defaultHistory
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistory)
	}
	reps, err := s.opts.History(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if reps == nil {
		reps = []types.Report{}
	}
	writeJSON(w, http.StatusOK, reps)
}

// broadcast pushes the newest report to every client at most once per
// UIRate.
func (s *Server) broadcast(ctx context.Context) {
	rate := s.opts.Config.UIRate
	if rate <= 0 {
		rate = time.Second
	}
	ticker := time.NewTicker(rate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		var rep types.Report
		select {
		case rep = <-s.pending:
		default:
			continue
		}
		payload, err := json.Marshal(types.UISnapshot{Type: "report", Report: rep})
		if err != nil {
			continue
		}
		var stale []*websocket.Conn
		s.mu.Lock()
		for conn, writeMu := range s.clients {
			if err := s.writeMessage(conn, writeMu, websocket.TextMessage, payload); err != nil {
				stale = append(stale, conn)
			}
		}
		s.mu.Unlock()
		for _, conn := range stale {
			s.removeClient(conn)
		}
	}
}

func (s *Server) pipeline() any {
	if s.opts.Pipeline == nil {
		return s.opts.Config.Pipeline
	}
	return s.opts.Pipeline.PipelineConfig()
}

func (s *Server) latest() (types.Report, bool) {
	if s.opts.Latest == nil {
		return types.Report{}, false
	}
	return s.opts.Latest()
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) writeJSON(conn *websocket.Conn, writeMu *sync.Mutex, payload any) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(payload)
}

func (s *Server) writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
