// Package httpapi exposes the public chat surface and the admin control
// surface over plain net/http.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/kirogate/internal/accounts"
	"github.com/nextlevelbuilder/kirogate/internal/config"
	"github.com/nextlevelbuilder/kirogate/internal/logbuf"
	"github.com/nextlevelbuilder/kirogate/internal/models"
	"github.com/nextlevelbuilder/kirogate/internal/store"
	"github.com/nextlevelbuilder/kirogate/internal/translate"
	"github.com/nextlevelbuilder/kirogate/internal/upstream"
)

// chatCaller is the upstream surface the messages handler runs against,
// satisfied by *upstream.Executor.
type chatCaller interface {
	Do(ctx context.Context, info upstream.CallInfo, body *translate.ConversationRequest) (io.ReadCloser, upstream.Mode, error)
}

// Server wires the engine components behind the HTTP surfaces.
type Server struct {
	cfg      *config.Config
	resolver *models.Resolver
	pool     *accounts.Pool
	executor chatCaller
	ring     *logbuf.Ring
	stores   store.Stores
	sync     *accounts.Synchronizer // nil outside shared mode

	mux *http.ServeMux
}

// New assembles the server and registers all routes.
func New(cfg *config.Config, resolver *models.Resolver, pool *accounts.Pool,
	executor chatCaller, ring *logbuf.Ring, stores store.Stores,
	sync *accounts.Synchronizer) *Server {

	s := &Server{
		cfg:      cfg,
		resolver: resolver,
		pool:     pool,
		executor: executor,
		ring:     ring,
		stores:   stores,
		sync:     sync,
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /v1/models", s.apiAuth(s.handleListModels))
	s.mux.HandleFunc("POST /v1/messages", s.apiAuth(s.handleMessages))

	s.mux.HandleFunc("GET /api/admin/credentials", s.adminAuth(s.handleListCredentials))
	s.mux.HandleFunc("POST /api/admin/credentials/recover", s.adminAuth(s.handleRecoverAll))
	s.mux.HandleFunc("POST /api/admin/credentials/{id}/reset", s.adminAuth(s.handleResetCredential))
	s.mux.HandleFunc("POST /api/admin/credentials/{id}/disabled", s.adminAuth(s.handleSetDisabled))
	s.mux.HandleFunc("GET /api/admin/config/load-balancing", s.adminAuth(s.handleGetLoadBalancing))
	s.mux.HandleFunc("PUT /api/admin/config/load-balancing", s.adminAuth(s.handleSetLoadBalancing))
	s.mux.HandleFunc("GET /api/admin/logs", s.adminAuth(s.handleListLogs))
	s.mux.HandleFunc("GET /api/admin/model-mappings", s.adminAuth(s.handleGetMappings))
	s.mux.HandleFunc("PUT /api/admin/model-mappings", s.adminAuth(s.handleSetMappings))
	s.mux.HandleFunc("POST /api/admin/sync", s.adminAuth(s.handleForceSync))
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// apiAuth accepts the inbound key as x-api-key or a bearer token. An empty
// configured key disables auth (local development).
func (s *Server) apiAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := s.cfg.Auth.APIKey
		if key != "" {
			if r.Header.Get("x-api-key") != key && extractBearerToken(r) != key {
				writeError(w, http.StatusUnauthorized, "authentication_error", "invalid api key")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) adminAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := s.cfg.Auth.AdminKey
		if key == "" || extractBearerToken(r) != key {
			writeError(w, http.StatusUnauthorized, "authentication_error", "invalid admin key")
			return
		}
		next(w, r)
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}

// writeError emits the foreign error envelope.
func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]any{
		"type": "error",
		"error": map[string]string{
			"type":    kind,
			"message": message,
		},
	})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	type modelInfo struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	var data []modelInfo
	seen := make(map[string]bool)
	for _, m := range s.resolver.Mappings() {
		if !m.Enabled || m.MatchType != models.MatchExact || seen[m.ExternalPattern] {
			continue
		}
		seen[m.ExternalPattern] = true
		data = append(data, modelInfo{ID: m.ExternalPattern, Type: "model"})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}
