// Package store provides storage backends for SupportPipe.
//
// This file implements a PostgreSQL-backed store for conversation state, feedback, and dedup records.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/SupportPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres ping successful")

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetState(ctx context.Context, conversationID string) (models.ConversationState, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT state_data FROM conversation_states WHERE conversation_id = $1`, conversationID).Scan(&data)
	if err == sql.ErrNoRows {
		return models.Idle(), nil
	}
	if err != nil {
		slog.Error("PostgresStore GetState failed", "error", err, "conversationID", conversationID)
		return models.ConversationState{}, fmt.Errorf("failed to load state for %s: %w", conversationID, err)
	}
	return decodeState(conversationID, data), nil
}

func (s *PostgresStore) SaveState(ctx context.Context, conversationID string, state models.ConversationState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}
	data, err := state.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversation_states (conversation_id, kind, state_data, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			state_data = EXCLUDED.state_data,
			updated_at = EXCLUDED.updated_at`,
		conversationID, string(state.Kind), data, state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveState failed", "error", err, "conversationID", conversationID, "kind", state.Kind)
		return fmt.Errorf("failed to save state for %s: %w", conversationID, err)
	}
	slog.Debug("PostgresStore SaveState succeeded", "conversationID", conversationID, "kind", state.Kind)
	return nil
}

func (s *PostgresStore) DeleteState(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_states WHERE conversation_id = $1`, conversationID); err != nil {
		slog.Error("PostgresStore DeleteState failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to delete state for %s: %w", conversationID, err)
	}
	return nil
}

func (s *PostgresStore) AddFeedback(ctx context.Context, fb models.Feedback) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (id, conversation_id, question, answer, verdict, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, fb.ID, fb.ConversationID, fb.Question, fb.Answer, string(fb.Verdict), fb.Time)
	if err != nil {
		slog.Error("PostgresStore AddFeedback failed", "error", err, "conversationID", fb.ConversationID)
		return fmt.Errorf("failed to insert feedback: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFeedback(ctx context.Context, limit int) ([]models.Feedback, error) {
	query := `SELECT id, conversation_id, question, answer, verdict, created_at FROM feedback ORDER BY created_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("PostgresStore ListFeedback query failed", "error", err)
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	return scanFeedbackRows(rows)
}

// IsDuplicate checks if a message ID has already been recorded.
func (s *PostgresStore) IsDuplicate(messageID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM inbound_dedup WHERE message_id = $1)`, messageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return exists, nil
}

// RecordInbound records a message ID. Returns false if it was already recorded.
func (s *PostgresStore) RecordInbound(messageID, conversationID string) (bool, error) {
	result, err := s.db.Exec(
		`INSERT INTO inbound_dedup (message_id, conversation_id, received_at) VALUES ($1, $2, $3)
		 ON CONFLICT (message_id) DO NOTHING`,
		messageID, conversationID, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound rows affected failed: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) MarkProcessed(messageID string) error {
	if _, err := s.db.Exec(`UPDATE inbound_dedup SET processed_at = $1 WHERE message_id = $2`, time.Now(), messageID); err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

// PruneInbound deletes dedup records received before the cutoff.
func (s *PostgresStore) PruneInbound(before time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM inbound_dedup WHERE received_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune inbound failed: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	}
	return err
}
