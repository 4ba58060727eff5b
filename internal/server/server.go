package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/termdeck/termdeck/internal/api"
	"github.com/termdeck/termdeck/internal/preflight"
	"github.com/termdeck/termdeck/internal/service"
	"github.com/termdeck/termdeck/internal/ws"
)

type Server struct {
	mux *http.ServeMux
	svc *service.Service
	log *zap.Logger
}

func New(svc *service.Service, log *zap.Logger) *Server {
	s := &Server{
		mux: http.NewServeMux(),
		svc: svc,
		log: log,
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	terminals := api.NewTerminalsHandler(s.svc, s.log)
	wsHandler := ws.NewHandler(s.svc, s.log)

	// Health and environment
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/shells", s.handleShells)

	// Terminals
	s.mux.HandleFunc("GET /api/terminals", terminals.HandleList)
	s.mux.HandleFunc("POST /api/terminals", terminals.HandleCreate)
	s.mux.HandleFunc("DELETE /api/terminals/{id}", terminals.HandleDelete)
	s.mux.HandleFunc("POST /api/terminals/{id}/resize", terminals.HandleResize)

	// Workspace terminal state
	s.mux.HandleFunc("POST /api/state/save", terminals.HandleSaveState)
	s.mux.HandleFunc("GET /api/state/load", terminals.HandleLoadState)

	// WebSocket attach
	s.mux.Handle("GET /ws/terminal/{id}", wsHandler)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"terminals": s.svc.Count(),
	})
}

func (s *Server) handleShells(w http.ResponseWriter, _ *http.Request) {
	defaultShell, _ := preflight.DefaultShell()
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"shells":  preflight.CheckShells(),
		"default": defaultShell,
	})
}
