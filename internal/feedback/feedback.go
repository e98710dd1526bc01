// Package feedback records whether an answer helped.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/google/uuid"
)

// Sink receives feedback records. Callers treat it as fire-and-forget.
type Sink interface {
	LogFeedback(ctx context.Context, fb models.Feedback) error
}

// prepare fills in the id and timestamp of a record.
func prepare(fb models.Feedback) models.Feedback {
	if fb.ID == "" {
		fb.ID = uuid.NewString()
	}
	if fb.Time.IsZero() {
		fb.Time = time.Now()
	}
	return fb
}

// separator ends every record in the statistics file.
var separator = strings.Repeat("-", 40)

// FileLog appends human-readable records to a statistics file.
type FileLog struct {
	mu   sync.Mutex
	path string
}

// NewFileLog creates a FileLog writing to path. The parent directory is created on first write.
func NewFileLog(path string) *FileLog {
	return &FileLog{path: path}
}

// Path returns the statistics file location.
func (l *FileLog) Path() string { return l.path }

// LogFeedback appends one record.
func (l *FileLog) LogFeedback(ctx context.Context, fb models.Feedback) error {
	fb = prepare(fb)
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create feedback directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open feedback file: %w", err)
	}
	defer f.Close()

	record := fmt.Sprintf("Вопрос: %s\nОтвет: %s\nОтзыв: %s\n%s\n", fb.Question, fb.Answer, fb.Verdict.Label(), separator)
	if _, err := f.WriteString(record); err != nil {
		return fmt.Errorf("write feedback: %w", err)
	}
	slog.Debug("FileLog LogFeedback appended", "path", l.path, "verdict", fb.Verdict)
	return nil
}

// Repo is the storage side of feedback, implemented by every store backend.
type Repo interface {
	AddFeedback(ctx context.Context, fb models.Feedback) error
}

// StoreSink saves feedback through a store backend.
type StoreSink struct {
	repo Repo
}

// NewStoreSink creates a sink backed by repo.
func NewStoreSink(repo Repo) *StoreSink {
	return &StoreSink{repo: repo}
}

// LogFeedback stores one record.
func (s *StoreSink) LogFeedback(ctx context.Context, fb models.Feedback) error {
	return s.repo.AddFeedback(ctx, prepare(fb))
}

// Multi fans a record out to several sinks, continuing past failures.
type Multi []Sink

// LogFeedback delivers fb to every sink and joins their errors.
func (m Multi) LogFeedback(ctx context.Context, fb models.Feedback) error {
	fb = prepare(fb)
	var errs []error
	for _, s := range m {
		if err := s.LogFeedback(ctx, fb); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every record.
type Discard struct{}

// LogFeedback does nothing.
func (Discard) LogFeedback(context.Context, models.Feedback) error { return nil }
