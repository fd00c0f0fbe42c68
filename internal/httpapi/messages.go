package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/kirogate/internal/accounts"
	"github.com/nextlevelbuilder/kirogate/internal/logbuf"
	"github.com/nextlevelbuilder/kirogate/internal/models"
	"github.com/nextlevelbuilder/kirogate/internal/translate"
	"github.com/nextlevelbuilder/kirogate/internal/upstream"
)

const (
	maxRequestBody = 20 << 20

	// Per-request retry budgets across accounts. Rate-limit and auth failures
	// rotate to another account; transient failures back off first.
	maxRateLimitRetries = 2
	maxRevokedRetries   = 1
	maxTransientRetries = 2
)

var transientBackoff = []time.Duration{500 * time.Millisecond, time.Second}

// handleMessages is the foreign chat entry point: resolve the model, pick an
// account, translate, call upstream through the fallback chain, and stream the
// event bytes back unchanged.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := uuid.NewString()

	var req translate.Request
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.finishError(w, sessionID, req.Model, http.StatusBadRequest,
			"invalid_request_error", "invalid request body: "+err.Error())
		return
	}

	internalID, err := s.resolver.Resolve(req.Model)
	if err != nil {
		if errors.Is(err, models.ErrUnsupportedModel) {
			s.finishError(w, sessionID, req.Model, http.StatusBadRequest,
				"invalid_request_error", "unsupported model: "+req.Model)
			return
		}
		s.finishError(w, sessionID, req.Model, http.StatusInternalServerError,
			"api_error", err.Error())
		return
	}

	s.proxy(r.Context(), w, sessionID, req, internalID)
}

// proxy runs the account rotation loop around one translated request.
func (s *Server) proxy(ctx context.Context, w http.ResponseWriter, sessionID string,
	req translate.Request, internalID string) {

	var rateLimited, revoked, transient int

	for {
		sel, err := s.pool.Select()
		if err != nil {
			s.finishError(w, sessionID, req.Model, http.StatusServiceUnavailable,
				"overloaded_error", "no available account")
			return
		}
		accountID := sel.Account.ID

		token, err := sel.Tokens.EnsureValidToken(ctx)
		if err != nil {
			if errors.Is(err, accounts.ErrTokenRevoked) {
				s.pool.MarkInvalid(accountID)
				if revoked++; revoked <= maxRevokedRetries {
					continue
				}
				s.finishError(w, sessionID, req.Model, http.StatusServiceUnavailable,
					"overloaded_error", "credential refresh rejected")
				return
			}
			s.pool.RecordError(accountID, false)
			if transient++; transient <= maxTransientRetries {
				if !s.backoff(ctx, transient) {
					return
				}
				continue
			}
			s.finishError(w, sessionID, req.Model, http.StatusBadGateway,
				"api_error", "credential refresh failed")
			return
		}

		// Refresh may have rotated the profile ARN, so read credentials after.
		creds := sel.Tokens.Credentials()
		result, err := translate.Translate(req, internalID, creds.ProfileARN)
		if err != nil {
			// Local translation failures are never retried.
			s.finishError(w, sessionID, req.Model, http.StatusBadRequest,
				"invalid_request_error", err.Error())
			return
		}

		info := upstream.CallInfo{
			AccessToken: token,
			MachineID:   creds.MachineID,
			Region:      creds.Region,
		}
		stream, mode, err := s.executor.Do(ctx, info, result.Body)
		if err == nil {
			s.streamResponse(ctx, w, stream)
			s.finish(sessionID, req.Model, http.StatusOK, "ok account="+accountID+" mode="+string(mode))
			return
		}

		var rejected *upstream.RejectedError
		if errors.As(err, &rejected) {
			s.pool.RecordError(accountID, false)
			slog.Warn("upstream exhausted fallback chain",
				"account", accountID, "attempts", rejected.Attempts,
				"last_mode", rejected.LastMode, "summary", rejected.Summary)
			s.finishError(w, sessionID, req.Model, rejected.StatusCode,
				"invalid_request_error", "upstream rejected request after "+
					string(rejected.LastMode)+" fallback: "+rejected.Summary)
			return
		}

		var apiErr *upstream.APIError
		if errors.As(err, &apiErr) {
			switch {
			case apiErr.IsRateLimited():
				s.pool.RecordError(accountID, true)
				if rateLimited++; rateLimited <= maxRateLimitRetries {
					continue
				}
				s.finishError(w, sessionID, req.Model, http.StatusServiceUnavailable,
					"overloaded_error", "all accounts rate limited")
				return
			case apiErr.IsAuthFailure():
				s.pool.MarkInvalid(accountID)
				if revoked++; revoked <= maxRevokedRetries {
					continue
				}
				s.finishError(w, sessionID, req.Model, http.StatusServiceUnavailable,
					"overloaded_error", "upstream rejected credentials")
				return
			case apiErr.IsTransient():
				s.pool.RecordError(accountID, false)
				if transient++; transient <= maxTransientRetries {
					if !s.backoff(ctx, transient) {
						return
					}
					continue
				}
				s.finishError(w, sessionID, req.Model, http.StatusBadGateway,
					"api_error", "upstream unavailable")
				return
			default:
				// Non-retryable 4xx outside the malformed class.
				s.pool.RecordError(accountID, false)
				s.finishError(w, sessionID, req.Model, apiErr.StatusCode,
					"api_error", "upstream error")
				return
			}
		}

		if ctx.Err() != nil {
			s.finish(sessionID, req.Model, 499, "client cancelled")
			return
		}
		// Network-level failure, same budget as 5xx.
		s.pool.RecordError(accountID, false)
		if transient++; transient <= maxTransientRetries {
			if !s.backoff(ctx, transient) {
				return
			}
			continue
		}
		s.finishError(w, sessionID, req.Model, http.StatusBadGateway,
			"api_error", "upstream unreachable")
		return
	}
}

// backoff sleeps the transient retry delay; false means the client went away.
func (s *Server) backoff(ctx context.Context, attempt int) bool {
	delay := transientBackoff[len(transientBackoff)-1]
	if attempt-1 < len(transientBackoff) {
		delay = transientBackoff[attempt-1]
	}
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

// streamResponse copies the upstream event stream to the client as it
// arrives. The payload is forwarded unchanged.
func (s *Server) streamResponse(ctx context.Context, w http.ResponseWriter, stream io.ReadCloser) {
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				slog.Debug("upstream stream ended early", "error", err)
			}
			return
		}
	}
}

// finish records one completed request in the ring and, when configured, the
// persistent log store.
func (s *Server) finish(sessionID, model string, status int, statusText string) {
	rec := logbuf.Record{
		Timestamp:  time.Now().UTC(),
		SessionID:  sessionID,
		Model:      model,
		StatusCode: status,
		StatusText: statusText,
	}
	s.ring.Append(rec)
	if s.stores.Logs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.stores.Logs.AppendLog(ctx, rec); err != nil {
			slog.Debug("append request log failed", "error", err)
		}
	}
}

func (s *Server) finishError(w http.ResponseWriter, sessionID, model string,
	status int, kind, message string) {
	writeError(w, status, kind, message)
	s.finish(sessionID, model, status, message)
}
