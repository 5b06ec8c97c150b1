// Package server exposes the guestbook HTTP API: submitting, listing,
// deleting, and streaming messages, plus the moderation visibility endpoint.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"guestbook/internal/metrics"
	"guestbook/internal/ratelimit"
	"guestbook/internal/servicetoken"
	"guestbook/internal/usertoken"
	"guestbook/internal/util"
	"guestbook/pkg/domain"
	"guestbook/pkg/feed"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	Feed          *feed.Service
	UserTokens    *usertoken.Verifier
	ServiceTokens *servicetoken.Verifier
	Limiter       *ratelimit.FixedWindowLimiter
	Proxies       *util.TrustedProxies
}

// Server exposes HTTP endpoints for the guestbook feed.
type Server struct {
	feed          *feed.Service
	userTokens    *usertoken.Verifier
	serviceTokens *servicetoken.Verifier
	limiter       *ratelimit.FixedWindowLimiter
	proxies       *util.TrustedProxies
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		feed:          cfg.Feed,
		userTokens:    cfg.UserTokens,
		serviceTokens: cfg.ServiceTokens,
		limiter:       cfg.Limiter,
		proxies:       cfg.Proxies,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(util.WithRequestLog(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/api/messages", s.handleMessages)
	s.mux.HandleFunc("/api/messages/", s.handleMessageByID)
	s.mux.HandleFunc("/api/messages/stream", s.handleStream)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleList(w, r)
	case http.MethodPost:
		s.handleSubmit(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	messages, err := s.feed.FetchRecent(r.Context(), limit)
	if err != nil {
		writeFeedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

type submitRequest struct {
	Body        string `json:"body"`
	DisplayName string `json:"displayName"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ident, ok := s.resolveIdentity(w, r)
	if !ok {
		return
	}

	if s.limiter != nil {
		key := util.ClientIP(r, s.proxies)
		if ident != nil {
			key = ident.UserID
		}
		if !s.limiter.Allow(key) {
			metrics.RateLimited.Inc()
			writeError(w, http.StatusTooManyRequests, "too many messages, slow down")
			return
		}
	}

	var req submitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	msg, err := s.feed.Submit(r.Context(), req.Body, req.DisplayName, ident)
	if err != nil {
		writeFeedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleMessageByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/messages/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}
	if id, ok := strings.CutSuffix(rest, "/visibility"); ok {
		s.handleVisibility(w, r, id)
		return
	}
	if strings.Contains(rest, "/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	s.handleDelete(w, r, rest)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	ident, ok := s.resolveIdentity(w, r)
	if !ok {
		return
	}
	requester := domain.Identity{}
	if ident != nil {
		requester = *ident
	}
	if err := s.feed.Delete(r.Context(), id, requester); err != nil {
		writeFeedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type visibilityRequest struct {
	Visible *bool `json:"visible"`
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.serviceTokens == nil {
		writeError(w, http.StatusServiceUnavailable, "moderation not configured")
		return
	}
	token, ok := servicetoken.BearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	claims, err := s.serviceTokens.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req visibilityRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Visible == nil {
		writeError(w, http.StatusBadRequest, "visible is required")
		return
	}
	if err := s.feed.SetVisibility(r.Context(), id, *req.Visible, claims.Subject); err != nil {
		writeFeedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// resolveIdentity verifies the bearer token if one is present. A request
// without a token proceeds as anonymous (nil identity); a request with a bad
// token is rejected so a revoked user cannot silently fall back to anonymous.
func (s *Server) resolveIdentity(w http.ResponseWriter, r *http.Request) (*domain.Identity, bool) {
	token, ok := servicetoken.BearerToken(r)
	if !ok {
		return nil, true
	}
	if s.userTokens == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	ident, err := s.userTokens.VerifyIdentity(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	return &ident, true
}

func writeFeedError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, feed.ErrEmptyBody), errors.Is(err, feed.ErrBodyTooLong):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, feed.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, feed.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "message store unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
