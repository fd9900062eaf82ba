package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"gateway-reconciler/internal/config"
	"gateway-reconciler/internal/domain"
	"gateway-reconciler/internal/domain/model"
	"gateway-reconciler/internal/infra/api/apiv1"
	"gateway-reconciler/internal/infra/logging"
	"gateway-reconciler/internal/infra/metrics"
	"gateway-reconciler/internal/infra/redis"
	"gateway-reconciler/internal/usecase"
)

// Limiter is a fixed-window rate limiter.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type ServerOptions struct {
	HTTP      config.HTTPConfig
	RateLimit int // webhook deliveries per organization and gateway per minute; 0 disables
	Ingress   usecase.IngressUseCase
	Limiter   Limiter
	Auth      *AuthManager
	Admin     *apiv1.Server
	Checks    map[string]HealthCheck
}

// Server exposes the webhook endpoints, the admin API, health and metrics.
type Server struct {
	opts ServerOptions
	log  *zerolog.Logger
	srv  *http.Server
}

func NewServer(opts ServerOptions, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "http").Logger()
	s := &Server{opts: opts, log: &l}
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.HTTP.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: opts.HTTP.ReadTimeout,
		ReadTimeout:       opts.HTTP.ReadTimeout,
		WriteTimeout:      opts.HTTP.WriteTimeout,
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(s.log), Recover(s.log), RequestLog(s.log))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	if s.opts.Ingress != nil {
		r.With(MaxBody(s.opts.HTTP.MaxBodyBytes)).Post("/webhooks/{gateway}/{organizationID}", s.handleWebhook)
	}
	if s.opts.Admin != nil && s.opts.Auth != nil {
		r.Group(func(r chi.Router) {
			r.Use(s.opts.Auth.RequireAdmin, Timeout(s.opts.HTTP.WriteTimeout))
			apiv1.RegisterAPIV1(r, s.opts.Admin)
		})
	}
	return r
}

func (s *Server) Start() error {
	s.log.Info().Int("port", s.opts.HTTP.Port).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]string{}
	code := http.StatusOK
	for name, check := range s.opts.Checks {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	writeJSON(w, code, map[string]any{"status": http.StatusText(code), "checks": status})
}

// declaredTypeHeaders carry the event name for gateways that send it out of band.
var declaredTypeHeaders = []string{"X-Webhook-Event", "X-Event-Type"}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	gateway := chi.URLParam(r, "gateway")
	orgID := chi.URLParam(r, "organizationID")

	label := "unknown"
	if kind, ok := model.ParseGatewayKind(gateway); ok {
		label = string(kind)
	}
	ctx := logging.WithOrgID(logging.WithGateway(r.Context(), label), orgID)
	log := logging.With(ctx, s.log)

	result, reason := "accepted", ""
	defer func() {
		metrics.IncWebhook(label, result, reason)
		metrics.ObserveWebhook(label, result, time.Since(start).Seconds())
	}()

	if s.opts.Limiter != nil && s.opts.RateLimit > 0 {
		ok, err := s.opts.Limiter.Allow(ctx, redis.WebhookKey(orgID, label), s.opts.RateLimit, time.Minute)
		if err != nil {
			log.Warn().Err(err).Msg("rate limiter unavailable; allowing webhook")
		} else if !ok {
			result, reason = "rejected", "rate_limited"
			writeError(w, http.StatusTooManyRequests, reason)
			return
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			result, reason = "rejected", "body_too_large"
			writeError(w, http.StatusRequestEntityTooLarge, reason)
			return
		}
		result, reason = "rejected", "unreadable_body"
		writeError(w, http.StatusBadRequest, reason)
		return
	}

	var declared string
	for _, h := range declaredTypeHeaders {
		if declared = r.Header.Get(h); declared != "" {
			break
		}
	}

	res, err := s.opts.Ingress.Receive(ctx, usecase.WebhookRequest{
		Gateway:        gateway,
		OrganizationID: orgID,
		Code:           r.URL.Query().Get("code"),
		Headers:        r.Header,
		Body:           body,
		DeclaredType:   declared,
	})
	if err != nil {
		if domain.IsTerminal(err) {
			result, reason = "rejected", webhookReason(err)
			log.Info().Err(err).Str("reason", reason).Msg("webhook rejected")
			writeError(w, http.StatusBadRequest, reason)
			return
		}
		result, reason = "error", "internal"
		log.Error().Err(err).Msg("webhook ingress failed")
		writeError(w, http.StatusInternalServerError, "temporarily unavailable")
		return
	}

	if res.TaskID == "" {
		result = "duplicate"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"event_id":  res.EventID,
		"task_id":   res.TaskID,
		"duplicate": res.TaskID == "",
	})
}

func webhookReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnknownGateway):
		return "unknown_gateway"
	case errors.Is(err, domain.ErrOrganizationNotFound):
		return "organization_not_found"
	case errors.Is(err, domain.ErrProviderNotFound):
		return "provider_not_found"
	case errors.Is(err, domain.ErrWebhookVerification):
		return "verification_failed"
	case errors.Is(err, domain.ErrMalformedPayload):
		return "malformed_payload"
	}
	return "invalid_request"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
