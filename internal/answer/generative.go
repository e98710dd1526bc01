package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// DefaultSystemPrompt frames the model as a first-line hardware support engineer.
const DefaultSystemPrompt = "Ты инженер технической поддержки серверного и компьютерного оборудования. " +
	"Отвечай кратко и по шагам. Если вопрос не относится к технической поддержке, вежливо откажись."

// Generator is implemented by genai.Client.
type Generator interface {
	GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// HintExtractor finds the operating system and device a question is about.
// It is implemented by *tables.Tables.
type HintExtractor interface {
	ExtractHints(question string) (osHint, deviceHint string)
}

// Generative answers with a language model.
type Generative struct {
	gen          Generator
	hints        HintExtractor
	systemPrompt string
}

// GenerativeOption configures a Generative producer.
type GenerativeOption func(*Generative)

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(prompt string) GenerativeOption {
	return func(g *Generative) { g.systemPrompt = prompt }
}

// WithHints narrows answers to the operating system and device named in the question.
func WithHints(h HintExtractor) GenerativeOption {
	return func(g *Generative) { g.hints = h }
}

// NewGenerative creates a producer backed by a Generator.
func NewGenerative(gen Generator, opts ...GenerativeOption) *Generative {
	g := &Generative{gen: gen, systemPrompt: DefaultSystemPrompt}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Answer asks the model. An empty completion is ErrNoAnswer.
func (g *Generative) Answer(ctx context.Context, question string) (string, error) {
	prompt := question
	if g.hints != nil {
		if instructions := Instructions(g.hints.ExtractHints(question)); instructions != "" {
			prompt = question + "\n\n" + instructions
		}
	}
	out, err := g.gen.GeneratePromptWithContext(ctx, g.systemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("generative answer failed: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		slog.Warn("Answer Generative returned empty completion")
		return "", ErrNoAnswer
	}
	return out, nil
}

// Instructions turns OS and device hints into constraints for the model.
func Instructions(osHint, deviceHint string) string {
	var parts []string
	if osHint != "" {
		parts = append(parts, fmt.Sprintf("Инструкция должна быть только для %s. Не упоминай другие операционные системы.", osHint))
	}
	if deviceHint != "" {
		parts = append(parts, fmt.Sprintf("Инструкция должна относиться к %s. Игнорируй сервер, если это рабочая станция, и наоборот.", deviceHint))
	}
	return strings.Join(parts, " ")
}
