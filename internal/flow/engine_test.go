package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/classify"
	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/store"
	"github.com/BTreeMap/SupportPipe/internal/tables"
)

// fakeProducer records every question it is asked.
type fakeProducer struct {
	mu      sync.Mutex
	calls   []string
	answer  string
	err     error
	answers func(q string) string
}

func (f *fakeProducer) Answer(ctx context.Context, question string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, question)
	if f.err != nil {
		return "", f.err
	}
	if f.answers != nil {
		return f.answers(question), nil
	}
	return f.answer, nil
}

func (f *fakeProducer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// recordingSink keeps feedback in memory.
type recordingSink struct {
	mu      sync.Mutex
	records []models.Feedback
	err     error
}

func (s *recordingSink) LogFeedback(ctx context.Context, fb models.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, fb)
	return s.err
}

func newTestEngine(p *fakeProducer, opts ...Option) (*Engine, *store.InMemoryStore) {
	st := store.NewInMemoryStore()
	t := tables.Default()
	return NewEngine(st, t, classify.NewKeywordClassifier(t.Keywords), p, opts...), st
}

func mustHandle(t *testing.T, e *Engine, id, text string) Reply {
	t.Helper()
	reply, err := e.Handle(context.Background(), id, text)
	if err != nil {
		t.Fatalf("Handle(%q, %q) error: %v", id, text, err)
	}
	return reply
}

// handleUnavailable expects the apology and an ErrAnswerUnavailable error.
func handleUnavailable(t *testing.T, e *Engine, id, text string) {
	t.Helper()
	reply, err := e.Handle(context.Background(), id, text)
	if !errors.Is(err, models.ErrAnswerUnavailable) {
		t.Errorf("Handle(%q, %q): expected ErrAnswerUnavailable, got %v", id, text, err)
	}
	if reply.Text != DefaultMessages().Apology {
		t.Errorf("Handle(%q, %q): expected apology, got %q", id, text, reply.Text)
	}
}

func mustState(t *testing.T, st store.ContextStore, id string) models.ConversationState {
	t.Helper()
	s, err := st.GetState(context.Background(), id)
	if err != nil {
		t.Fatalf("GetState(%q) error: %v", id, err)
	}
	return s
}

func TestEngine_ClarificationChain(t *testing.T) {
	p := &fakeProducer{answer: "Скачайте ISO и запишите на флешку"}
	e, st := newTestEngine(p)

	reply := mustHandle(t, e, "chat-1", "нужна установка")
	if len(reply.Options) != 3 || reply.Options[0] != "Windows" || reply.Options[1] != "Linux" || reply.Options[2] != "Astra" {
		t.Fatalf("expected OS options, got %+v", reply)
	}
	if len(p.Calls()) != 0 {
		t.Fatalf("producer must not be called while clarifying, got %v", p.Calls())
	}

	reply = mustHandle(t, e, "chat-1", "Linux")
	if reply.Text != p.answer {
		t.Errorf("expected answer text, got %q", reply.Text)
	}
	calls := p.Calls()
	if len(calls) != 1 || calls[0] != "нужна установка → Linux" {
		t.Fatalf("expected exactly one call with enriched question, got %v", calls)
	}
	state := mustState(t, st, "chat-1")
	if state.Kind != models.StateContinuation || state.LastQuestion() != "нужна установка → Linux" || state.LastAnswer != p.answer {
		t.Errorf("unexpected state after resolution: %+v", state)
	}
}

func TestEngine_TwoStageChain(t *testing.T) {
	p := &fakeProducer{answer: "ok"}
	e, st := newTestEngine(p)

	reply := mustHandle(t, e, "chat-1", "не работает lsa")
	if len(reply.Options) != 2 || reply.Options[0] != "Сервер" || reply.Options[1] != "Рабочая станция" {
		t.Fatalf("expected device options, got %+v", reply.Options)
	}

	mustHandle(t, e, "chat-1", "Рабочая станция")
	state := mustState(t, st, "chat-1")
	if state.Kind != models.StateAwaitingFollowUp {
		t.Fatalf("expected awaiting follow-up, got %s", state.Kind)
	}
	if len(p.Calls()) != 0 {
		t.Fatalf("producer called before the chain finished: %v", p.Calls())
	}

	mustHandle(t, e, "chat-1", "Windows")
	calls := p.Calls()
	if len(calls) != 1 || calls[0] != "не работает lsa → Рабочая станция → Windows" {
		t.Fatalf("unexpected producer calls: %v", calls)
	}
}

func TestEngine_ProducerFailureKeepsState(t *testing.T) {
	for _, p := range []*fakeProducer{{err: errors.New("timeout")}, {answer: "   "}} {
		e, st := newTestEngine(p)
		mustHandle(t, e, "chat-1", "нужна установка")
		before := mustState(t, st, "chat-1")

		handleUnavailable(t, e, "chat-1", "Astra")
		after := mustState(t, st, "chat-1")
		if after.Kind != before.Kind || after.Question != before.Question || after.Stage != before.Stage {
			t.Errorf("state changed after failure: before=%+v after=%+v", before, after)
		}

		// the retry is handled against the same pending prompt
		p.err, p.answer = nil, "готово"
		reply := mustHandle(t, e, "chat-1", "Astra")
		if reply.Text != "готово" {
			t.Errorf("expected answer on retry, got %q", reply.Text)
		}
		calls := p.Calls()
		if calls[len(calls)-1] != "нужна установка → Astra" {
			t.Errorf("retry used wrong question: %v", calls)
		}
	}
}

func TestEngine_ProducerFailureOnIdleKeepsIdle(t *testing.T) {
	p := &fakeProducer{err: errors.New("down")}
	e, st := newTestEngine(p)
	handleUnavailable(t, e, "chat-1", "Как обновить BIOS?")
	if s := mustState(t, st, "chat-1"); s.Kind != models.StateIdle {
		t.Errorf("expected idle, got %s", s.Kind)
	}
}

func TestEngine_ContextIsolation(t *testing.T) {
	p := &fakeProducer{answers: func(q string) string { return "ответ: " + q }}
	e, st := newTestEngine(p)

	mustHandle(t, e, "A", "нужна установка")
	mustHandle(t, e, "B", "проблема с lsa")
	mustHandle(t, e, "B", "Сервер")

	a := mustState(t, st, "A")
	if a.Kind != models.StateAwaitingClarification || a.Question != "нужна установка" || a.Stage != "установка" {
		t.Fatalf("A was disturbed by B: %+v", a)
	}

	reply := mustHandle(t, e, "A", "Windows")
	if reply.Text != "ответ: нужна установка → Windows" {
		t.Errorf("unexpected reply for A: %q", reply.Text)
	}
	b := mustState(t, st, "B")
	if b.Kind != models.StateAwaitingFollowUp || b.Question != "проблема с lsa → Сервер" {
		t.Errorf("B was disturbed by A: %+v", b)
	}
}

func TestEngine_ConcurrentConversations(t *testing.T) {
	p := &fakeProducer{answers: func(q string) string { return q }}
	e, st := newTestEngine(p)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("chat-%d", i)
			option := []string{"Windows", "Linux", "Astra"}[i%3]
			if _, err := e.Handle(context.Background(), id, "нужна установка"); err != nil {
				t.Errorf("Handle: %v", err)
				return
			}
			if _, err := e.Handle(context.Background(), id, option); err != nil {
				t.Errorf("Handle: %v", err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("chat-%d", i)
		want := "нужна установка → " + []string{"Windows", "Linux", "Astra"}[i%3]
		if s := mustState(t, st, id); s.LastQuestion() != want {
			t.Errorf("%s: expected %q, got %+v", id, want, s)
		}
	}
	if n := len(p.Calls()); n != 20 {
		t.Errorf("expected 20 producer calls, got %d", n)
	}
}

func TestEngine_SameConversationIsSerialized(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	p := &blockingProducer{release: release, enter: func() {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
	}, exit: func() {
		mu.Lock()
		inFlight--
		mu.Unlock()
	}}
	st := store.NewInMemoryStore()
	tb := tables.Default()
	e := NewEngine(st, tb, classify.NewKeywordClassifier(tb.Keywords), p)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Handle(context.Background(), "chat-1", "Как обновить BIOS?")
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	if maxInFlight != 1 {
		t.Errorf("expected one producer call at a time per conversation, saw %d", maxInFlight)
	}
}

type blockingProducer struct {
	release     chan struct{}
	enter, exit func()
}

func (b *blockingProducer) Answer(ctx context.Context, q string) (string, error) {
	b.enter()
	defer b.exit()
	<-b.release
	return "ok", nil
}

func TestEngine_DynamicClarification(t *testing.T) {
	answers := &fakeProducer{answer: "Проверьте драйвер звука"}
	clarifier := &fakeProducer{answer: "Что именно перестало работать?"}
	e, st := newTestEngine(answers, WithClarifier(clarifier))

	reply := mustHandle(t, e, "chat-1", "всё плохо")
	if reply.Text != "Что именно перестало работать?" {
		t.Fatalf("expected generated question, got %q", reply.Text)
	}
	if s := mustState(t, st, "chat-1"); s.Kind != models.StateAwaitingDynamicClarification {
		t.Fatalf("expected awaiting dynamic clarification, got %s", s.Kind)
	}

	reply = mustHandle(t, e, "chat-1", "пропал звук")
	if reply.Text != "Проверьте драйвер звука" {
		t.Errorf("unexpected reply %q", reply.Text)
	}
	if calls := answers.Calls(); len(calls) != 1 || calls[0] != "всё плохо → пропал звук" {
		t.Errorf("unexpected answer calls %v", calls)
	}
	if len(clarifier.Calls()) != 1 {
		t.Errorf("expected one clarifier call, got %v", clarifier.Calls())
	}
}

func TestEngine_RejectionWhenDynamicClarificationDisabled(t *testing.T) {
	p := &fakeProducer{answer: "x"}
	e, _ := newTestEngine(p, WithDynamicClarification(false))
	reply := mustHandle(t, e, "chat-1", "всё плохо")
	if reply.Text != DefaultMessages().Rejection {
		t.Errorf("expected rejection, got %q", reply.Text)
	}
	if len(p.Calls()) != 0 {
		t.Errorf("producer must not be called for rejected questions")
	}
}

func TestEngine_FeedbackAndShortReplies(t *testing.T) {
	p := &fakeProducer{answers: func(q string) string { return fmt.Sprintf("answer #%d", len(q)) }}
	sink := &recordingSink{}
	e, st := newTestEngine(p, WithFeedbackSink(sink))

	first := mustHandle(t, e, "chat-1", "Как обновить BIOS?")
	if len(first.Options) != 2 {
		t.Errorf("expected feedback buttons on an answer, got %v", first.Options)
	}

	reply := mustHandle(t, e, "chat-1", "👍")
	if reply.Text != DefaultMessages().Thanks {
		t.Errorf("expected thanks, got %q", reply.Text)
	}

	mustHandle(t, e, "chat-1", "не помогло")
	calls := p.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected re-ask after short reply, got %v", calls)
	}
	state := mustState(t, st, "chat-1")
	if state.LastQuestion() != "Как обновить BIOS?" {
		t.Errorf("short reply must keep the question, got %+v", state)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.records) != 2 {
		t.Fatalf("expected 2 feedback records, got %d", len(sink.records))
	}
	if sink.records[0].Verdict != models.VerdictHelpful || sink.records[0].Answer != first.Text || sink.records[0].ConversationID != "chat-1" {
		t.Errorf("unexpected helpful record %+v", sink.records[0])
	}
	if sink.records[1].Verdict != models.VerdictUnhelpful {
		t.Errorf("unexpected unhelpful record %+v", sink.records[1])
	}
}

func TestEngine_AlternativesUseOwnProducer(t *testing.T) {
	p := &fakeProducer{answer: "Раздел: настройка RAID"}
	alt := &fakeProducer{answer: "Попробуйте обновить прошивку контроллера"}
	e, st := newTestEngine(p, WithAlternatives(alt))

	mustHandle(t, e, "chat-1", "Как обновить BIOS?")
	reply := mustHandle(t, e, "chat-1", "не помогло")
	if reply.Text != alt.answer {
		t.Errorf("expected the alternative answer, got %q", reply.Text)
	}
	if len(p.Calls()) != 1 {
		t.Errorf("answer producer must not be asked for alternatives, got %v", p.Calls())
	}
	calls := alt.Calls()
	if len(calls) != 1 || !strings.HasPrefix(calls[0], "Как обновить BIOS?") || !strings.Contains(calls[0], p.answer) {
		t.Errorf("unexpected alternatives prompt %v", calls)
	}
	if s := mustState(t, st, "chat-1"); s.LastAnswer != alt.answer {
		t.Errorf("expected the alternative as last answer, got %+v", s)
	}
}

func TestEngine_SameAlternativeCountsAsUnavailable(t *testing.T) {
	p := &fakeProducer{answer: "Раздел: настройка RAID"}
	sink := &recordingSink{}
	e, st := newTestEngine(p, WithFeedbackSink(sink))

	mustHandle(t, e, "chat-1", "Как обновить BIOS?")
	handleUnavailable(t, e, "chat-1", "не помогло")
	handleUnavailable(t, e, "chat-1", "не помогло")

	if s := mustState(t, st, "chat-1"); s.Kind != models.StateContinuation || s.LastAnswer != p.answer {
		t.Errorf("state changed after failed alternatives: %+v", s)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.records) != 0 {
		t.Errorf("failed retries must not log feedback, got %+v", sink.records)
	}
}

func TestEngine_ShortReplyFeedbackLoggedOnceAfterRetry(t *testing.T) {
	p := &fakeProducer{answers: func(q string) string { return fmt.Sprintf("answer #%d", len(q)) }}
	sink := &recordingSink{}
	e, _ := newTestEngine(p, WithFeedbackSink(sink))

	mustHandle(t, e, "chat-1", "Как обновить BIOS?")
	p.mu.Lock()
	p.err = errors.New("timeout")
	p.mu.Unlock()
	handleUnavailable(t, e, "chat-1", "не помогло")
	p.mu.Lock()
	p.err = nil
	p.mu.Unlock()
	mustHandle(t, e, "chat-1", "не помогло")

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.records) != 1 || sink.records[0].Verdict != models.VerdictUnhelpful {
		t.Errorf("expected a single unhelpful record, got %+v", sink.records)
	}
}

func TestEngine_FeedbackSinkFailureIsSwallowed(t *testing.T) {
	p := &fakeProducer{answer: "ok"}
	e, _ := newTestEngine(p, WithFeedbackSink(&recordingSink{err: errors.New("disk full")}))
	mustHandle(t, e, "chat-1", "Как обновить BIOS?")
	if reply := mustHandle(t, e, "chat-1", "👎"); reply.Text != DefaultMessages().Thanks {
		t.Errorf("expected thanks despite sink failure, got %q", reply.Text)
	}
}

func TestEngine_RestartClearsState(t *testing.T) {
	p := &fakeProducer{answer: "ok"}
	e, st := newTestEngine(p)
	mustHandle(t, e, "chat-1", "нужна установка")
	reply := mustHandle(t, e, "chat-1", "🔄 Перезапуск")
	if reply.Text != DefaultMessages().Greeting {
		t.Errorf("expected greeting, got %q", reply.Text)
	}
	if s := mustState(t, st, "chat-1"); s.Kind != models.StateIdle {
		t.Errorf("expected idle after restart, got %s", s.Kind)
	}
	if st.ConversationCount() != 0 {
		t.Errorf("idle conversations are not kept, got %d", st.ConversationCount())
	}
}

func TestEngine_ResetAndFeedbackAPI(t *testing.T) {
	p := &fakeProducer{answer: "ok"}
	sink := &recordingSink{}
	e, _ := newTestEngine(p, WithFeedbackSink(sink))
	ctx := context.Background()

	if err := e.Feedback(ctx, "chat-1", models.VerdictHelpful); !errors.Is(err, ErrNothingToRate) {
		t.Errorf("expected ErrNothingToRate, got %v", err)
	}
	mustHandle(t, e, "chat-1", "Как обновить BIOS?")
	if err := e.Feedback(ctx, "chat-1", models.VerdictHelpful); err != nil {
		t.Errorf("Feedback: %v", err)
	}
	if err := e.Reset(ctx, "chat-1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	s, err := e.State(ctx, "chat-1")
	if err != nil || s.Kind != models.StateIdle {
		t.Errorf("expected idle after reset, got %+v, %v", s, err)
	}
}

type failingStore struct{ store.ContextStore }

func (failingStore) GetState(ctx context.Context, id string) (models.ConversationState, error) {
	return models.ConversationState{}, store.ErrStoreClosed
}

func TestEngine_StoreFailureReturnsApology(t *testing.T) {
	tb := tables.Default()
	e := NewEngine(failingStore{}, tb, classify.NewKeywordClassifier(tb.Keywords), &fakeProducer{answer: "ok"})
	reply, err := e.Handle(context.Background(), "chat-1", "Как обновить BIOS?")
	if !errors.Is(err, store.ErrStoreClosed) {
		t.Errorf("expected store error, got %v", err)
	}
	if reply.Text != DefaultMessages().Apology {
		t.Errorf("expected apology, got %q", reply.Text)
	}
}

func TestEngine_EmptyConversationID(t *testing.T) {
	e, _ := newTestEngine(&fakeProducer{answer: "ok"})
	if _, err := e.Handle(context.Background(), "", "hi"); !errors.Is(err, models.ErrEmptyConversationID) {
		t.Errorf("expected ErrEmptyConversationID, got %v", err)
	}
}
