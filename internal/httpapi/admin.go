package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/nextlevelbuilder/kirogate/internal/accounts"
	"github.com/nextlevelbuilder/kirogate/internal/models"
)

// credentialView is the admin listing shape for one account. Secrets never
// appear here.
type credentialView struct {
	ID           string `json:"id"`
	Email        string `json:"email,omitempty"`
	AuthMethod   string `json:"authMethod"`
	Status       string `json:"status"`
	Disabled     bool   `json:"disabled"`
	FailureCount int64  `json:"failureCount"`
	RequestCount int64  `json:"requestCount"`
	Priority     int    `json:"priority"`
	IsCurrent    bool   `json:"isCurrent"`
}

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	list, currentID := s.pool.List()
	total, available := s.pool.Size()

	creds := make([]credentialView, 0, len(list))
	for _, acc := range list {
		creds = append(creds, credentialView{
			ID:           acc.ID,
			Email:        acc.Email,
			AuthMethod:   acc.Credentials.AuthMethod,
			Status:       string(acc.Status),
			Disabled:     acc.Status == accounts.StatusDisabled,
			FailureCount: acc.ErrorCount,
			RequestCount: acc.RequestCount,
			Priority:     acc.Priority,
			IsCurrent:    acc.ID == currentID,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":       total,
		"available":   available,
		"currentId":   currentID,
		"sharedMode":  s.pool.SharedMode(),
		"credentials": creds,
	})
}

func (s *Server) handleResetCredential(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.pool.Reset(id); err != nil {
		writeError(w, http.StatusNotFound, "not_found_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSetDisabled(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Disabled bool `json:"disabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid body")
		return
	}
	switch err := s.pool.SetDisabled(id, body.Disabled); {
	case errors.Is(err, accounts.ErrSharedMode):
		writeError(w, http.StatusConflict, "invalid_request_error",
			"account set is owned by the shared accounts file")
	case errors.Is(err, accounts.ErrUnknownAccount):
		writeError(w, http.StatusNotFound, "not_found_error", err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "api_error", err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "disabled": body.Disabled})
	}
}

func (s *Server) handleRecoverAll(w http.ResponseWriter, r *http.Request) {
	n := s.pool.RecoverAllCooldowns()
	writeJSON(w, http.StatusOK, map[string]int{"recovered": n})
}

// The admin surface speaks "priority"/"balanced"; the pool speaks strategies.
func strategyToMode(s accounts.Strategy) string {
	if s == accounts.StrategyLeastUsed {
		return "priority"
	}
	return "balanced"
}

func (s *Server) handleGetLoadBalancing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"mode": strategyToMode(s.pool.Strategy()),
	})
}

func (s *Server) handleSetLoadBalancing(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid body")
		return
	}
	switch body.Mode {
	case "priority":
		s.pool.SetStrategy(accounts.StrategyLeastUsed)
	case "balanced":
		s.pool.SetStrategy(accounts.StrategyRoundRobin)
	default:
		writeError(w, http.StatusBadRequest, "invalid_request_error",
			"mode must be priority or balanced")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mode": body.Mode})
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 50)

	if s.stores.Logs != nil {
		records, total, err := s.stores.Logs.ListLogs(r.Context(), offset, limit)
		if err == nil {
			writeJSON(w, http.StatusOK, map[string]any{"total": total, "logs": records})
			return
		}
	}
	records, total := s.ring.Page(offset, limit)
	writeJSON(w, http.StatusOK, map[string]any{"total": total, "logs": records})
}

func (s *Server) handleGetMappings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"mappings": s.resolver.Mappings()})
}

// handleSetMappings validates the new rule set by loading it into the
// resolver first; only a loadable set reaches the store.
func (s *Server) handleSetMappings(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mappings []models.Mapping `json:"mappings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid body")
		return
	}
	if err := s.resolver.Load(body.Mappings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	if s.stores.Mappings != nil {
		if err := s.stores.Mappings.ReplaceMappings(r.Context(), body.Mappings); err != nil {
			writeError(w, http.StatusInternalServerError, "api_error", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(body.Mappings)})
}

func (s *Server) handleForceSync(w http.ResponseWriter, r *http.Request) {
	if s.sync == nil {
		writeError(w, http.StatusConflict, "invalid_request_error",
			"shared accounts file is not configured")
		return
	}
	if err := s.sync.Sync(true); err != nil {
		writeError(w, http.StatusInternalServerError, "api_error", err.Error())
		return
	}
	total, available := s.pool.Size()
	writeJSON(w, http.StatusOK, map[string]int{"total": total, "available": available})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
