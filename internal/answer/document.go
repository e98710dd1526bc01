package answer

import (
	"context"
	"fmt"

	"github.com/BTreeMap/SupportPipe/internal/docsearch"
)

// SectionFinder is implemented by docsearch.Index.
type SectionFinder interface {
	Lookup(ctx context.Context, question string) (docsearch.Section, bool, error)
}

// Document answers from the reference manual.
type Document struct {
	finder SectionFinder
}

// NewDocument creates a producer backed by a section finder.
func NewDocument(finder SectionFinder) *Document {
	return &Document{finder: finder}
}

// Answer returns the matching section text or ErrNoAnswer.
func (d *Document) Answer(ctx context.Context, question string) (string, error) {
	section, ok, err := d.finder.Lookup(ctx, question)
	if err != nil {
		return "", fmt.Errorf("document lookup failed: %w", err)
	}
	if !ok {
		return "", ErrNoAnswer
	}
	return section.Text(), nil
}
