// Package api provides the HTTP surface of SupportPipe.
//
// It accepts questions over JSON, receives Twilio webhooks, and exposes the
// stored conversation state and feedback for inspection.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/flow"
	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/store"
)

const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultFeedbackLimit caps GET /feedback when no limit is given.
	DefaultFeedbackLimit = 100
	maxRequestBodyBytes  = 1 << 20
)

// Conversations is the engine surface the server needs. *flow.Engine implements it.
type Conversations interface {
	Handle(ctx context.Context, conversationID, text string) (flow.Reply, error)
	State(ctx context.Context, conversationID string) (models.ConversationState, error)
	Reset(ctx context.Context, conversationID string) error
	Feedback(ctx context.Context, conversationID string, verdict models.Verdict) error
}

var _ Conversations = (*flow.Engine)(nil)

// Opts holds configuration options for the server.
type Opts struct {
	Addr          string
	Feedback      store.FeedbackRepo
	TwilioWebhook http.HandlerFunc
	Counter       func() int
	OnReset       func(conversationID string)
}

// Option defines a configuration option for the server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithFeedbackRepo enables GET /feedback.
func WithFeedbackRepo(repo store.FeedbackRepo) Option {
	return func(o *Opts) {
		o.Feedback = repo
	}
}

// WithTwilioWebhook mounts the Twilio inbound webhook at /twilio/webhook.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) {
		o.TwilioWebhook = h
	}
}

// WithConversationCounter reports the number of live conversations on /health.
func WithConversationCounter(count func() int) Option {
	return func(o *Opts) {
		o.Counter = count
	}
}

// WithResetHook is called after DELETE /conversations/{id} succeeds, so
// transports can drop what they remember about the conversation.
func WithResetHook(hook func(conversationID string)) Option {
	return func(o *Opts) {
		o.OnReset = hook
	}
}

// Server serves the HTTP API.
type Server struct {
	conversations Conversations
	opts          Opts
	mux           *http.ServeMux
	httpServer    *http.Server
}

// NewServer creates a Server and registers its routes.
func NewServer(conversations Conversations, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{
		conversations: conversations,
		opts:          cfg,
		mux:           http.NewServeMux(),
	}
	s.routes()
	slog.Debug("NewServer created", "addr", cfg.Addr, "twilio_webhook", cfg.TwilioWebhook != nil, "feedback_repo", cfg.Feedback != nil)
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/messages", s.messagesHandler)
	s.mux.HandleFunc("/conversations/{id}", s.conversationHandler)
	s.mux.HandleFunc("/feedback", s.feedbackHandler)
	s.mux.HandleFunc("/health", s.healthHandler)
	if s.opts.TwilioWebhook != nil {
		s.mux.HandleFunc("/twilio/webhook", s.opts.TwilioWebhook)
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens in the background. Listen errors other than a clean shutdown
// are reported on the returned channel.
func (s *Server) Start() <-chan error {
	s.httpServer = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		slog.Info("Server listening", "addr", s.opts.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server ListenAndServe failed", "error", err)
			errCh <- err
		}
	}()
	return errCh
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	slog.Info("Server shutting down")
	return s.httpServer.Shutdown(ctx)
}
