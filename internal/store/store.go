// Package store provides storage backends for SupportPipe.
//
// It holds the per-conversation context (the dialogue state of every chat), the
// feedback log, and the inbound message deduplication records. An in-memory store
// is the default; SQLite and PostgreSQL stores keep the same data across restarts.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/BTreeMap/SupportPipe/internal/models"
)

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("store is closed")

// ContextStore maps a conversation id to its current dialogue state.
type ContextStore interface {
	// GetState returns the stored state, or models.Idle() when the conversation is unknown.
	GetState(ctx context.Context, conversationID string) (models.ConversationState, error)
	// SaveState overwrites the state of a conversation.
	SaveState(ctx context.Context, conversationID string, state models.ConversationState) error
	// DeleteState forgets a conversation; the next GetState returns idle.
	DeleteState(ctx context.Context, conversationID string) error
}

// FeedbackRepo is the append-only feedback log.
type FeedbackRepo interface {
	AddFeedback(ctx context.Context, fb models.Feedback) error
	// ListFeedback returns the most recent records first; limit <= 0 returns everything.
	ListFeedback(ctx context.Context, limit int) ([]models.Feedback, error)
}

// Store is implemented by every backend.
type Store interface {
	ContextStore
	FeedbackRepo
	DedupRepo
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN              string // database connection string or SQLite file path
	MaxConversations int    // in-memory store only; <= 0 keeps every conversation
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithMaxConversations bounds the in-memory store; the least recently used
// conversation is forgotten once the bound is reached.
func WithMaxConversations(n int) Option {
	return func(o *Opts) {
		o.MaxConversations = n
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// New opens the backend selected by the DSN: none -> in-memory, PostgreSQL DSN -> Postgres, anything else -> SQLite.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		return NewInMemoryStore(opts...), nil
	case DetectDSNType(cfg.DSN) == "postgres":
		return NewPostgresStore(opts...)
	default:
		return NewSQLiteStore(opts...)
	}
}
