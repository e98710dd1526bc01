// Package flow implements the clarification dialogue: for every inbound message
// it decides whether to ask a clarifying question, answer, or decline.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/SupportPipe/internal/answer"
	"github.com/BTreeMap/SupportPipe/internal/classify"
	"github.com/BTreeMap/SupportPipe/internal/feedback"
	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/store"
	"github.com/BTreeMap/SupportPipe/internal/tables"
)

// Engine applies messages to conversations. Messages for the same conversation
// are handled one at a time; different conversations proceed in parallel.
type Engine struct {
	rules     Rules
	store     store.ContextStore
	locks     *store.KeyedMutex
	producer     answer.Producer
	clarifier    answer.Producer
	alternatives answer.Producer
	sink         feedback.Sink
}

// Option configures an Engine.
type Option func(*Engine)

// WithClarifier sets the producer asked for dynamic clarifying questions.
// By default the answer producer is used.
func WithClarifier(p answer.Producer) Option {
	return func(e *Engine) { e.clarifier = p }
}

// WithAlternatives sets the producer asked for a different answer after the
// user reports that the last one did not help. By default the answer producer is used.
func WithAlternatives(p answer.Producer) Option {
	return func(e *Engine) { e.alternatives = p }
}

// WithFeedbackSink sets where verdicts about answers go.
func WithFeedbackSink(s feedback.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithAcceptFreeTextOptions controls whether a reply outside the offered options
// is accepted while a prompt is outstanding.
func WithAcceptFreeTextOptions(accept bool) Option {
	return func(e *Engine) { e.rules.AcceptFreeTextOptions = accept }
}

// WithDynamicClarification controls whether a non-technical question gets a
// generated clarifying question instead of a rejection.
func WithDynamicClarification(enabled bool) Option {
	return func(e *Engine) { e.rules.DynamicClarification = enabled }
}

// WithSeparator sets the string joining a question with chosen options.
func WithSeparator(sep string) Option {
	return func(e *Engine) { e.rules.Separator = sep }
}

// WithMessages replaces the fixed reply texts.
func WithMessages(m Messages) Option {
	return func(e *Engine) { e.rules.Messages = m }
}

// WithLocks shares a KeyedMutex with other writers of the same store.
func WithLocks(km *store.KeyedMutex) Option {
	return func(e *Engine) { e.locks = km }
}

// NewEngine creates an Engine.
func NewEngine(st store.ContextStore, t *tables.Tables, c classify.Classifier, producer answer.Producer, opts ...Option) *Engine {
	e := &Engine{
		rules:    DefaultRules(t, c),
		store:    st,
		locks:    store.NewKeyedMutex(),
		producer: producer,
		sink:     feedback.Discard{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.clarifier == nil {
		e.clarifier = producer
	}
	if e.alternatives == nil {
		e.alternatives = producer
	}
	slog.Debug("Flow Engine created", "accept_free_text", e.rules.AcceptFreeTextOptions, "dynamic_clarification", e.rules.DynamicClarification)
	return e
}

// Handle processes one message and returns the reply to send. A reply is always
// returned, the apology when anything failed. The error reports that failure:
// it wraps models.ErrAnswerUnavailable when no answer could be produced, in which
// case the stored state is unchanged.
func (e *Engine) Handle(ctx context.Context, conversationID, text string) (Reply, error) {
	if conversationID == "" {
		return Reply{Text: e.rules.Messages.Apology}, models.ErrEmptyConversationID
	}
	unlock := e.locks.Lock(conversationID)
	defer unlock()

	state, err := e.store.GetState(ctx, conversationID)
	if err != nil {
		slog.Error("Flow Engine Handle load state failed", "error", err, "conversationID", conversationID)
		return Reply{Text: e.rules.Messages.Apology}, fmt.Errorf("load state: %w", err)
	}

	out := Transition(e.rules, state, text)
	slog.Debug("Flow Engine Handle transition", "conversationID", conversationID, "from", state.Kind, "to", out.Next.Kind, "request", out.Request.Kind)

	reply, next := out.Reply, out.Next
	if out.Request.Kind != RequestNone {
		produced, err := e.call(ctx, out.Request, state.LastAnswer)
		if err != nil {
			// The pending state stays as it was so the next message is handled against it.
			slog.Warn("Flow Engine Handle producer failed, keeping state", "error", err, "conversationID", conversationID, "request", out.Request.Kind, "state", state.Kind)
			return Reply{Text: e.rules.Messages.Apology}, err
		}
		reply = Reply{Text: produced}
		if next.Kind == models.StateContinuation {
			next.LastAnswer = produced
			reply.Options = copyOptions(FeedbackOptions)
		}
	}

	// Feedback is logged only for exchanges that went through.
	if out.Feedback != nil {
		e.logFeedback(ctx, conversationID, *out.Feedback)
	}

	if err := e.save(ctx, conversationID, next); err != nil {
		slog.Error("Flow Engine Handle save state failed", "error", err, "conversationID", conversationID, "kind", next.Kind)
		return reply, fmt.Errorf("save state: %w", err)
	}
	return reply, nil
}

// State returns the stored state of a conversation.
func (e *Engine) State(ctx context.Context, conversationID string) (models.ConversationState, error) {
	return e.store.GetState(ctx, conversationID)
}

// Reset returns a conversation to idle.
func (e *Engine) Reset(ctx context.Context, conversationID string) error {
	unlock := e.locks.Lock(conversationID)
	defer unlock()
	return e.store.DeleteState(ctx, conversationID)
}

// Feedback records a verdict about the last answer of a conversation, as if the
// user had pressed a feedback button.
func (e *Engine) Feedback(ctx context.Context, conversationID string, verdict models.Verdict) error {
	unlock := e.locks.Lock(conversationID)
	defer unlock()
	state, err := e.store.GetState(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if state.Kind != models.StateContinuation {
		return ErrNothingToRate
	}
	return e.sink.LogFeedback(ctx, models.Feedback{
		ConversationID: conversationID,
		Question:       state.Question,
		Answer:         state.LastAnswer,
		Verdict:        verdict,
	})
}

// ErrNothingToRate is returned by Feedback when the conversation has no answer yet.
var ErrNothingToRate = errors.New("conversation has no answer to rate")

// call runs the producer call a transition asked for. previous is the answer
// the user last saw; an alternative identical to it counts as no answer.
func (e *Engine) call(ctx context.Context, req Request, previous string) (string, error) {
	p := e.producer
	switch req.Kind {
	case RequestClarifyingQuestion:
		p = e.clarifier
	case RequestAlternatives:
		p = e.alternatives
	}
	out, err := p.Answer(ctx, req.Prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", models.ErrAnswerUnavailable, req.Kind, err)
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("%w: %s: empty answer", models.ErrAnswerUnavailable, req.Kind)
	}
	if req.Kind == RequestAlternatives && strings.TrimSpace(out) == strings.TrimSpace(previous) {
		return "", fmt.Errorf("%w: %s: same answer as before", models.ErrAnswerUnavailable, req.Kind)
	}
	return out, nil
}

func (e *Engine) save(ctx context.Context, conversationID string, next models.ConversationState) error {
	if next.Kind == models.StateIdle {
		return e.store.DeleteState(ctx, conversationID)
	}
	return e.store.SaveState(ctx, conversationID, next)
}

func (e *Engine) logFeedback(ctx context.Context, conversationID string, ev FeedbackEvent) {
	err := e.sink.LogFeedback(ctx, models.Feedback{
		ConversationID: conversationID,
		Question:       ev.Question,
		Answer:         ev.Answer,
		Verdict:        ev.Verdict,
	})
	if err != nil {
		slog.Warn("Flow Engine feedback sink failed", "error", err, "conversationID", conversationID, "verdict", ev.Verdict)
	}
}
