package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/SupportPipe/internal/classify"
	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/tables"
)

// DefaultSeparator joins a question with the options chosen while clarifying it.
const DefaultSeparator = " → "

// Reply is the content sent back to the user. Options are rendered as buttons
// or as a numbered list, depending on the transport.
type Reply struct {
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
}

// RequestKind names the Answer Producer call a transition needs.
type RequestKind int

const (
	// RequestNone means the reply is fixed.
	RequestNone RequestKind = iota
	// RequestAnswer asks for the answer to a resolved question.
	RequestAnswer
	// RequestAlternatives asks again after the previous answer did not help.
	RequestAlternatives
	// RequestClarifyingQuestion asks for one open question to put to the user.
	RequestClarifyingQuestion
)

func (k RequestKind) String() string {
	switch k {
	case RequestAnswer:
		return "answer"
	case RequestAlternatives:
		return "alternatives"
	case RequestClarifyingQuestion:
		return "clarifying_question"
	default:
		return "none"
	}
}

// Request is a pending Answer Producer call.
type Request struct {
	Kind   RequestKind
	Prompt string
}

// Outcome is the result of applying one message to a conversation state.
// When Request is set, Reply and Next apply only if the call succeeds; otherwise
// the caller apologises and keeps the previous state.
type Outcome struct {
	Next     models.ConversationState
	Reply    Reply
	Request  Request
	Feedback *FeedbackEvent
}

// FeedbackEvent is a verdict about the previous exchange.
type FeedbackEvent struct {
	Question string
	Answer   string
	Verdict  models.Verdict
}

// Rules is everything the transition function consults besides the state.
type Rules struct {
	Tables                *tables.Tables
	Classifier            classify.Classifier
	AcceptFreeTextOptions bool
	DynamicClarification  bool
	Separator             string
	Messages              Messages
}

// DefaultRules returns rules over the given tables with the observed bot policy.
func DefaultRules(t *tables.Tables, c classify.Classifier) Rules {
	return Rules{
		Tables:                t,
		Classifier:            c,
		AcceptFreeTextOptions: true,
		DynamicClarification:  true,
		Separator:             DefaultSeparator,
		Messages:              DefaultMessages(),
	}
}

// Transition decides what a message does to a conversation. It performs no I/O.
func Transition(r Rules, state models.ConversationState, text string) Outcome {
	trimmed := strings.TrimSpace(text)

	switch {
	case matchesAny(trimmed, restartWords):
		return Outcome{Next: models.Idle(), Reply: Reply{Text: r.Messages.Greeting}}
	case matchesAny(trimmed, helpWords):
		return Outcome{Next: state, Reply: Reply{Text: r.Messages.Help}}
	}

	switch state.Kind {
	case models.StateAwaitingClarification, models.StateAwaitingFollowUp:
		return r.chooseOption(state, trimmed)
	case models.StateAwaitingDynamicClarification:
		if trimmed == "" {
			return Outcome{Next: state, Reply: Reply{Text: r.Messages.Empty}}
		}
		return r.resolve(state.Question + r.Separator + trimmed)
	case models.StateContinuation:
		if out, ok := r.afterAnswer(state, trimmed); ok {
			return out
		}
	}
	return r.newQuestion(state, trimmed)
}

// chooseOption treats the message as the option picked for the outstanding prompt.
func (r Rules) chooseOption(state models.ConversationState, option string) Outcome {
	if option == "" || (!r.AcceptFreeTextOptions && !matchesAny(option, state.Options)) {
		return Outcome{Next: state, Reply: r.outstandingPrompt(state)}
	}
	option = canonicalOption(option, state.Options)
	enriched := state.Question + r.Separator + option
	if step, ok := r.Tables.FollowUp(option); ok {
		return Outcome{
			Next:  models.AwaitingFollowUp(enriched, option, step.Options),
			Reply: Reply{Text: step.Prompt, Options: copyOptions(step.Options)},
		}
	}
	return r.resolve(enriched)
}

// outstandingPrompt re-renders the prompt a pending state is waiting on.
func (r Rules) outstandingPrompt(state models.ConversationState) Reply {
	var prompt string
	switch state.Kind {
	case models.StateAwaitingClarification:
		if c, ok := r.Tables.ClarificationFor(state.Stage); ok {
			prompt = c.Prompt
		}
	case models.StateAwaitingFollowUp:
		if step, ok := r.Tables.FollowUp(state.Stage); ok {
			prompt = step.Prompt
		}
	}
	if prompt == "" {
		prompt = r.Messages.Empty
	}
	return Reply{Text: prompt, Options: copyOptions(state.Options)}
}

// afterAnswer handles feedback and "that didn't help" replies to the last answer.
func (r Rules) afterAnswer(state models.ConversationState, text string) (Outcome, bool) {
	switch {
	case matchesAny(text, helpfulWords):
		return Outcome{
			Next:     state,
			Reply:    Reply{Text: r.Messages.Thanks},
			Feedback: &FeedbackEvent{Question: state.Question, Answer: state.LastAnswer, Verdict: models.VerdictHelpful},
		}, true
	case matchesAny(text, unhelpfulWord):
		return Outcome{
			Next:     state,
			Reply:    Reply{Text: r.Messages.Thanks},
			Feedback: &FeedbackEvent{Question: state.Question, Answer: state.LastAnswer, Verdict: models.VerdictUnhelpful},
		}, true
	case r.Tables.IsShortReply(text):
		prompt := state.Question + "\n\n" + fmt.Sprintf(r.Messages.Alternatives, state.LastAnswer)
		return Outcome{
			Next:     models.Continuation(state.Question, ""),
			Request:  Request{Kind: RequestAlternatives, Prompt: prompt},
			Feedback: &FeedbackEvent{Question: state.Question, Answer: state.LastAnswer, Verdict: models.VerdictUnhelpful},
		}, true
	}
	return Outcome{}, false
}

// newQuestion routes a message that is not answering a prompt.
func (r Rules) newQuestion(state models.ConversationState, text string) Outcome {
	normalized := classify.Normalize(text)
	if strings.TrimSpace(normalized) == "" {
		return Outcome{Next: state, Reply: Reply{Text: r.Messages.Empty}}
	}

	if c, ok := r.Tables.MatchClarification(normalized); ok {
		return Outcome{
			Next:  models.AwaitingClarification(text, c.Trigger, c.Options),
			Reply: Reply{Text: c.Prompt, Options: copyOptions(c.Options)},
		}
	}

	if v := r.Classifier.Classify(text, state.LastQuestion()); v.Technical {
		return r.resolve(text)
	}

	if r.DynamicClarification {
		return Outcome{
			Next:    models.AwaitingDynamicClarification(text),
			Request: Request{Kind: RequestClarifyingQuestion, Prompt: fmt.Sprintf(r.Messages.ClarifyingPrompt, text)},
		}
	}
	return Outcome{Next: state, Reply: Reply{Text: r.Messages.Rejection}}
}

// resolve hands a complete question to the Answer Producer.
func (r Rules) resolve(question string) Outcome {
	return Outcome{
		Next:    models.Continuation(question, ""),
		Request: Request{Kind: RequestAnswer, Prompt: question},
	}
}

func matchesAny(text string, candidates []string) bool {
	for _, c := range candidates {
		if strings.EqualFold(strings.TrimSpace(c), text) {
			return true
		}
	}
	return false
}

// canonicalOption returns the offered spelling of an option the user typed in another case.
func canonicalOption(text string, options []string) string {
	for _, o := range options {
		if strings.EqualFold(strings.TrimSpace(o), text) {
			return o
		}
	}
	return text
}

func copyOptions(opts []string) []string {
	if len(opts) == 0 {
		return nil
	}
	return append([]string(nil), opts...)
}
