// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/quantrel/autotrader/internal/controller"
	"github.com/quantrel/autotrader/internal/events"
	"github.com/quantrel/autotrader/pkg/types"
)

// Server is the HTTP/WebSocket API server. It exposes a read-only view
// of the controller plus the pause/resume/emergency control surface.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     types.ServerConfig
	ctrl       *controller.Controller
	bus        *events.Bus
	registry   *prometheus.Registry
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*Client
	busSub     *events.Subscription
}

// NewServer creates a new API server.
func NewServer(logger *zap.Logger, config types.ServerConfig, ctrl *controller.Controller, bus *events.Bus, registry *prometheus.Registry) *Server {
	s := &Server{
		logger:   logger.Named("api"),
		config:   config,
		ctrl:     ctrl,
		bus:      bus,
		registry: registry,
		router:   mux.NewRouter(),
		clients:  make(map[string]*Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}
	s.setupRoutes()
	s.subscribeBus()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/v1/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/api/v1/positions", s.handlePositions).Methods("GET")
	s.router.HandleFunc("/api/v1/decisions", s.handleDecisions).Methods("GET")

	s.router.HandleFunc("/api/v1/control/pause", s.handlePause).Methods("POST")
	s.router.HandleFunc("/api/v1/control/resume", s.handleResume).Methods("POST")
	s.router.HandleFunc("/api/v1/control/emergency-stop", s.handleEmergencyStop).Methods("POST")

	if s.registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Start starts the HTTP server and blocks until it exits.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting API server", zap.String("addr", addr))

	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.bus != nil && s.busSub != nil {
		s.bus.Unsubscribe(s.busSub)
	}

	s.mu.Lock()
	for _, client := range s.clients {
		client.Conn.Close()
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status": "healthy",
		"state":  s.ctrl.State(),
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.ctrl.Status())
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	portfolio := s.ctrl.Portfolio()
	writeJSON(w, map[string]any{
		"positions": portfolio.Positions,
		"cash":      portfolio.Cash,
		"updatedAt": portfolio.UpdatedAt,
	})
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	decisions := s.ctrl.Decisions()

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if len(decisions) > limit {
		decisions = decisions[len(decisions)-limit:]
	}

	writeJSON(w, map[string]any{
		"decisions": decisions,
		"count":     len(decisions),
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Pause()
	writeJSON(w, map[string]any{"state": s.ctrl.State()})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Resume()
	writeJSON(w, map[string]any{"state": s.ctrl.State()})
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Reason == "" {
		body.Reason = "manual emergency stop"
	}

	s.ctrl.EmergencyStop(r.Context(), body.Reason)
	writeJSON(w, map[string]any{"state": s.ctrl.State()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
