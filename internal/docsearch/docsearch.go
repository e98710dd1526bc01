// Package docsearch finds the section of a reference document that answers a question.
//
// A question is matched first against section headings with a difflib similarity
// ratio, then against the full text of every section through an in-memory bleve index.
package docsearch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/SupportPipe/internal/classify"
	"github.com/blevesearch/bleve/v2"
	"github.com/pmezard/go-difflib/difflib"
)

const (
	// DefaultHeadingCutoff is the minimum difflib ratio for a heading match.
	DefaultHeadingCutoff = 0.6
	// DefaultMinScore is the minimum bleve score for a full-text match.
	DefaultMinScore = 0.1
	// maxColonHeadingRunes bounds lines ending in ':' that count as headings.
	maxColonHeadingRunes = 80
)

// Section is one titled block of the reference document.
type Section struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Text renders the section the way it is sent to a user.
func (s Section) Text() string {
	if s.Title == "" {
		return s.Body
	}
	return s.Title + "\n" + s.Body
}

// Parse splits a Markdown or plain-text document into sections. A heading is a
// line starting with '#', or a short line ending with ':' that follows a blank line.
// Sections without a body are dropped.
func Parse(r io.Reader) ([]Section, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		sections  []Section
		title     string
		body      []string
		prevBlank = true
	)
	flush := func() {
		text := strings.TrimSpace(strings.Join(body, "\n"))
		if text != "" {
			sections = append(sections, Section{Title: title, Body: text})
		}
		body = body[:0]
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "#"):
			flush()
			title = strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		case prevBlank && strings.HasSuffix(trimmed, ":") && utf8.RuneCountInString(trimmed) <= maxColonHeadingRunes:
			flush()
			title = strings.TrimSpace(strings.TrimSuffix(trimmed, ":"))
		default:
			body = append(body, line)
		}
		prevBlank = trimmed == ""
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read reference document: %w", err)
	}
	flush()
	return sections, nil
}

// Opts holds configuration for an Index.
type Opts struct {
	HeadingCutoff float64
	MinScore      float64
}

// Option configures an Index.
type Option func(*Opts)

// WithHeadingCutoff sets the minimum heading similarity ratio.
func WithHeadingCutoff(cutoff float64) Option {
	return func(o *Opts) { o.HeadingCutoff = cutoff }
}

// WithMinScore sets the minimum full-text score.
func WithMinScore(score float64) Option {
	return func(o *Opts) { o.MinScore = score }
}

// Index answers lookups over a fixed set of sections. It is safe for concurrent use.
type Index struct {
	sections      []Section
	headings      [][]string
	index         bleve.Index
	headingCutoff float64
	minScore      float64
}

// New indexes the given sections in memory.
func New(sections []Section, opts ...Option) (*Index, error) {
	cfg := Opts{HeadingCutoff: DefaultHeadingCutoff, MinScore: DefaultMinScore}
	for _, opt := range opts {
		opt(&cfg)
	}

	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create bleve index: %w", err)
	}

	batch := idx.NewBatch()
	headings := make([][]string, len(sections))
	for i, s := range sections {
		headings[i] = runeStrings(classify.Normalize(s.Title))
		doc := map[string]interface{}{"title": s.Title, "body": s.Body}
		if err := batch.Index(strconv.Itoa(i), doc); err != nil {
			idx.Close()
			return nil, fmt.Errorf("index section %d: %w", i, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		idx.Close()
		return nil, fmt.Errorf("commit bleve batch: %w", err)
	}
	slog.Debug("DocSearch index built", "sections", len(sections))

	return &Index{
		sections:      sections,
		headings:      headings,
		index:         idx,
		headingCutoff: cfg.HeadingCutoff,
		minScore:      cfg.MinScore,
	}, nil
}

// Load parses the document at path and indexes it.
func Load(path string, opts ...Option) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open reference document: %w", err)
	}
	defer f.Close()
	sections, err := Parse(f)
	if err != nil {
		return nil, err
	}
	return New(sections, opts...)
}

// Len returns the number of indexed sections.
func (x *Index) Len() int { return len(x.sections) }

// Lookup returns the best section for the question, or false when nothing is close enough.
func (x *Index) Lookup(ctx context.Context, question string) (Section, bool, error) {
	if err := ctx.Err(); err != nil {
		return Section{}, false, err
	}
	normalized := classify.Normalize(question)
	if strings.TrimSpace(normalized) == "" {
		return Section{}, false, nil
	}

	if i, ratio := x.bestHeading(normalized); i >= 0 {
		slog.Debug("DocSearch Lookup heading match", "title", x.sections[i].Title, "ratio", ratio)
		return x.sections[i], true, nil
	}

	req := bleve.NewSearchRequest(bleve.NewMatchQuery(question))
	req.Size = 1
	res, err := x.index.SearchInContext(ctx, req)
	if err != nil {
		return Section{}, false, fmt.Errorf("search reference document: %w", err)
	}
	if len(res.Hits) == 0 || res.Hits[0].Score < x.minScore {
		return Section{}, false, nil
	}
	i, err := strconv.Atoi(res.Hits[0].ID)
	if err != nil || i < 0 || i >= len(x.sections) {
		return Section{}, false, fmt.Errorf("unexpected document id %q", res.Hits[0].ID)
	}
	slog.Debug("DocSearch Lookup full-text match", "title", x.sections[i].Title, "score", res.Hits[0].Score)
	return x.sections[i], true, nil
}

// bestHeading returns the index of the heading most similar to the question, or -1.
func (x *Index) bestHeading(normalized string) (int, float64) {
	q := runeStrings(normalized)
	best, bestRatio := -1, 0.0
	for i, h := range x.headings {
		if len(h) == 0 {
			continue
		}
		ratio := difflib.NewMatcher(q, h).Ratio()
		if ratio >= x.headingCutoff && ratio > bestRatio {
			best, bestRatio = i, ratio
		}
	}
	return best, bestRatio
}

// Close releases the bleve index.
func (x *Index) Close() error {
	return x.index.Close()
}

func runeStrings(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
