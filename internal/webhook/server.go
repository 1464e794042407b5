package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/snapshot-exporter/internal/dispatch"
	"github.com/mattjoyce/snapshot-exporter/internal/protocol"
)

// Server represents the webhook HTTP server.
type Server struct {
	config    Config
	submitter Submitter
	logger    *slog.Logger
	server    *http.Server
}

// New creates a new webhook server instance.
func New(config Config, submitter Submitter, logger *slog.Logger) *Server {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.SignatureHeader == "" {
		config.SignatureHeader = DefaultSignatureHeader
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
	return &Server{
		config:    config,
		submitter: submitter,
		logger:    logger.With("component", "webhook"),
	}
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "path", s.config.Path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post(s.config.Path, s.handleNotification)

	return r
}

// loggingMiddleware logs HTTP requests (excludes payloads).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > s.config.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if err := verifyHMACSignature(body, r.Header.Get(s.config.SignatureHeader), s.config.Secret); err != nil {
		s.logger.Warn("webhook signature verification failed", "header", s.config.SignatureHeader, "request_id", reqID)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	env, err := protocol.DecodeEnvelope(bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("malformed envelope", "request_id", reqID, "error", err)
		s.respondError(w, http.StatusBadRequest, "malformed envelope")
		return
	}

	switch env.Type {
	case protocol.TypeSubscriptionConfirmation, protocol.TypeUnsubscribeConfirmation:
		s.logger.Info("subscription message received; confirm out of band",
			"type", env.Type,
			"topic_arn", env.TopicArn,
			"subscribe_url", env.SubscribeURL,
		)
		s.respondJSON(w, http.StatusOK, SubmitResponse{Status: "acknowledged"})
		return
	}

	n, err := protocol.FromEnvelope(env)
	if err != nil {
		s.logger.Warn("undecodable notification", "message_id", env.MessageID, "request_id", reqID, "error", err)
		s.respondError(w, http.StatusBadRequest, "undecodable notification")
		return
	}

	ticket, err := s.submitter.Submit(ctx, n)
	if err != nil {
		s.logger.Error("failed to submit notification", "message_id", env.MessageID, "source_id", n.SourceID, "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to submit notification")
		return
	}

	resp := SubmitResponse{JobID: ticket.JobID, Status: ticket.Decision, Reason: ticket.Reason}
	if ticket.Decision == dispatch.DecisionStarted {
		s.logger.Info("export job started", "job_id", ticket.JobID, "source_id", n.SourceID, "claim", ticket.Claim)
		s.respondJSON(w, http.StatusAccepted, resp)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError sends a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
