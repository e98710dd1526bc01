// Package answer turns a fully resolved question into the text sent back to the user.
//
// Producers are composed: a Document producer looks the question up in the
// reference manual, a Generative producer asks the language model, Chain tries
// them in order and Cached remembers recent answers.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrNoAnswer is returned when a producer has nothing to say about a question.
var ErrNoAnswer = errors.New("no answer")

// Producer answers a question. Implementations must be safe for concurrent use
// and free of side effects visible to the dialogue, so callers may retry.
type Producer interface {
	Answer(ctx context.Context, question string) (string, error)
}

// Func adapts a plain function to Producer.
type Func func(ctx context.Context, question string) (string, error)

// Answer calls f.
func (f Func) Answer(ctx context.Context, question string) (string, error) {
	return f(ctx, question)
}

// Chain asks each producer in turn and returns the first non-empty answer.
type Chain []Producer

// NewChain builds a Chain, skipping nil producers.
func NewChain(producers ...Producer) Chain {
	c := make(Chain, 0, len(producers))
	for _, p := range producers {
		if p != nil {
			c = append(c, p)
		}
	}
	return c
}

// Answer returns the first non-empty answer. When every producer comes back empty
// the result is ErrNoAnswer; failures are joined onto it.
func (c Chain) Answer(ctx context.Context, question string) (string, error) {
	var errs []error
	for i, p := range c {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		ans, err := p.Answer(ctx, question)
		if err != nil {
			if !errors.Is(err, ErrNoAnswer) {
				slog.Warn("Answer Chain producer failed", "index", i, "error", err)
				errs = append(errs, err)
			}
			continue
		}
		if strings.TrimSpace(ans) != "" {
			slog.Debug("Answer Chain producer answered", "index", i)
			return ans, nil
		}
	}
	if len(errs) > 0 {
		return "", fmt.Errorf("%w: %w", ErrNoAnswer, errors.Join(errs...))
	}
	return "", ErrNoAnswer
}
