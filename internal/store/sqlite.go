// Package store provides storage backends for SupportPipe.
//
// This file implements an SQLite-backed store for conversation state, feedback, and dedup records.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/SupportPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists conversation state in an SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// GetState returns the stored state or idle.
func (s *SQLiteStore) GetState(ctx context.Context, conversationID string) (models.ConversationState, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT state_data FROM conversation_states WHERE conversation_id = ?`, conversationID).Scan(&data)
	if err == sql.ErrNoRows {
		return models.Idle(), nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetState failed", "error", err, "conversationID", conversationID)
		return models.ConversationState{}, fmt.Errorf("failed to load state for %s: %w", conversationID, err)
	}
	return decodeState(conversationID, data), nil
}

// SaveState stores or replaces the state of a conversation.
func (s *SQLiteStore) SaveState(ctx context.Context, conversationID string, state models.ConversationState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}
	data, err := state.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO conversation_states (conversation_id, kind, state_data, updated_at)
		VALUES (?, ?, ?, ?)`, conversationID, string(state.Kind), data, state.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveState failed", "error", err, "conversationID", conversationID, "kind", state.Kind)
		return fmt.Errorf("failed to save state for %s: %w", conversationID, err)
	}
	slog.Debug("SQLiteStore SaveState succeeded", "conversationID", conversationID, "kind", state.Kind)
	return nil
}

// DeleteState removes the state of a conversation.
func (s *SQLiteStore) DeleteState(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_states WHERE conversation_id = ?`, conversationID); err != nil {
		slog.Error("SQLiteStore DeleteState failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to delete state for %s: %w", conversationID, err)
	}
	return nil
}

// AddFeedback appends a feedback record.
func (s *SQLiteStore) AddFeedback(ctx context.Context, fb models.Feedback) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (id, conversation_id, question, answer, verdict, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, fb.ID, fb.ConversationID, fb.Question, fb.Answer, string(fb.Verdict), fb.Time)
	if err != nil {
		slog.Error("SQLiteStore AddFeedback failed", "error", err, "conversationID", fb.ConversationID)
		return fmt.Errorf("failed to insert feedback: %w", err)
	}
	return nil
}

// ListFeedback returns feedback records, newest first.
func (s *SQLiteStore) ListFeedback(ctx context.Context, limit int) ([]models.Feedback, error) {
	query := `SELECT id, conversation_id, question, answer, verdict, created_at FROM feedback ORDER BY created_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("SQLiteStore ListFeedback query failed", "error", err)
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	return scanFeedbackRows(rows)
}

// IsDuplicate checks if a message ID has already been recorded.
func (s *SQLiteStore) IsDuplicate(messageID string) (bool, error) {
	var id string
	err := s.db.QueryRow(`SELECT message_id FROM inbound_dedup WHERE message_id = ?`, messageID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

// RecordInbound records a message ID. Returns false if it was already recorded.
func (s *SQLiteStore) RecordInbound(messageID, conversationID string) (bool, error) {
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO inbound_dedup (message_id, conversation_id, received_at) VALUES (?, ?, ?)`,
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

// MarkProcessed sets the processed_at timestamp for a message.
func (s *SQLiteStore) MarkProcessed(messageID string) error {
	if _, err := s.db.Exec(`UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`, time.Now(), messageID); err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

// PruneInbound deletes dedup records received before the cutoff.
func (s *SQLiteStore) PruneInbound(before time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM inbound_dedup WHERE received_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("prune inbound failed: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
