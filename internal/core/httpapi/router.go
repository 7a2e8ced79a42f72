// Package httpapi exposes the rule evaluation service over HTTP/JSON.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/solatis/rulefilter/internal/core/api"
	"github.com/solatis/rulefilter/internal/core/auth"
	"github.com/solatis/rulefilter/internal/core/config"
)

// maxBodyBytes bounds evaluation request bodies.
const maxBodyBytes = 16 << 20

// NewRouter builds the HTTP router. authenticator may be nil to serve
// without API keys; /healthz is never authenticated.
func NewRouter(service *api.RuleService, authenticator *auth.Authenticator) http.Handler {
	h := &handler{service: service}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)

	r.Route("/v1/rule-sets", func(r chi.Router) {
		if authenticator != nil {
			r.Use(authenticator.Middleware)
		}
		r.Get("/", h.listRuleSets)
		r.Route("/{ruleSetId}", func(r chi.Router) {
			r.Post("/evaluate", h.evaluate)
			r.Get("/translate", h.translate)
		})
	})

	return r
}

type handler struct {
	service *api.RuleService
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) listRuleSets(w http.ResponseWriter, r *http.Request) {
	sets, err := h.service.ListRuleSets(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"rule_sets": sets})
}

func (h *handler) evaluate(w http.ResponseWriter, r *http.Request) {
	var req api.EvaluateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		respondError(w, r, fmt.Errorf("%w: invalid request body: %v", api.ErrInvalidRequest, err))
		return
	}
	req.RuleSetID = chi.URLParam(r, "ruleSetId")
	if p := r.URL.Query().Get("provider"); p != "" && req.Provider == "" {
		req.Provider = p
	}

	resp, err := h.service.Evaluate(r.Context(), &req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *handler) translate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := h.service.Translate(r.Context(), &api.TranslateRequest{
		RuleSetID: chi.URLParam(r, "ruleSetId"),
		Provider:  q.Get("provider"),
		Dialect:   q.Get("dialect"),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("failed to write response")
	}
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	code := api.HTTPStatus(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		log.WithError(err).WithField("request_id", middleware.GetReqID(r.Context())).Error("request failed")
		msg = "internal error"
	}
	respondJSON(w, code, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		log.WithFields(log.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("http request")
	})
}

// Server manages the HTTP listener lifecycle.
type Server struct {
	server *http.Server
}

// NewServer wraps handler in an http.Server bound to cfg.
func NewServer(cfg *config.HTTPConfig, handler http.Handler) *Server {
	return &Server{server: &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// Serve accepts connections on listener until Shutdown.
func (s *Server) Serve(listener net.Listener) error {
	log.WithField("addr", listener.Addr().String()).Info("HTTP server listening")
	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start binds the configured address and serves.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.server.Addr, err)
	}
	return s.Serve(listener)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
