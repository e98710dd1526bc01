package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BTreeMap/SupportPipe/internal/flow"
	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/store"
)

// Handler answers one inbound message. *flow.Engine implements it.
type Handler interface {
	Handle(ctx context.Context, conversationID, text string) (flow.Reply, error)
}

var _ Handler = (*flow.Engine)(nil)

// RouterOpts configures a Router.
type RouterOpts struct {
	Dedup store.DedupRepo
}

// RouterOption defines a configuration option for Router.
type RouterOption func(*RouterOpts)

// WithDedup skips inbound messages whose transport id was already recorded.
func WithDedup(repo store.DedupRepo) RouterOption {
	return func(o *RouterOpts) {
		o.Dedup = repo
	}
}

// Router feeds the inbound messages of a Service to a Handler and sends back
// the rendered replies. The sender's canonical number is the conversation id.
// Messages of one conversation are processed in arrival order by a single
// worker; different conversations run in parallel.
type Router struct {
	svc     Service
	handler Handler
	dedup   store.DedupRepo

	mu      sync.Mutex
	options map[string][]string          // options last offered per conversation
	queues  map[string][]models.Response // present while the conversation's worker runs

	cancel   context.CancelFunc
	loopDone chan struct{}
	workers  sync.WaitGroup
}

// NewRouter creates a Router. Call Start to begin consuming messages.
func NewRouter(svc Service, handler Handler, opts ...RouterOption) *Router {
	var cfg RouterOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Router{
		svc:     svc,
		handler: handler,
		dedup:   cfg.Dedup,
		options: make(map[string][]string),
		queues:  make(map[string][]models.Response),
	}
}

// Start launches the receive loop. Handlers run with ctx, so cancelling it
// also aborts in-flight answers; Stop only stops reading.
func (r *Router) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.loopDone = make(chan struct{})

	go func() {
		defer close(r.loopDone)
		defer slog.Info("Router stopped message processing")

		responses := r.svc.Responses()
		receipts := r.svc.Receipts()
		for responses != nil {
			select {
			case response, ok := <-responses:
				if !ok {
					slog.Debug("Router responses channel closed")
					responses = nil
					continue
				}
				r.enqueue(ctx, response)
			case receipt, ok := <-receipts:
				if !ok {
					receipts = nil
					continue
				}
				slog.Debug("Router receipt", "to", receipt.To, "status", receipt.Status)
			case <-loopCtx.Done():
				slog.Debug("Router stopping due to context cancellation")
				return
			}
		}
	}()
	slog.Info("Router message processing started")
}

// Stop ends the receive loop and waits for in-flight messages to finish.
func (r *Router) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.loopDone
	r.workers.Wait()
}

// enqueue appends a message to its conversation's queue and starts the
// conversation's worker if none is running.
func (r *Router) enqueue(ctx context.Context, response models.Response) {
	conversationID, err := r.svc.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		slog.Warn("Router dropping message from invalid sender", "error", err, "from", response.From)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	queue, running := r.queues[conversationID]
	r.queues[conversationID] = append(queue, response)
	if running {
		return
	}
	r.workers.Add(1)
	go r.drain(ctx, conversationID)
}

// drain processes a conversation's queue until it is empty.
func (r *Router) drain(ctx context.Context, conversationID string) {
	defer r.workers.Done()
	for {
		r.mu.Lock()
		queue := r.queues[conversationID]
		if len(queue) == 0 {
			delete(r.queues, conversationID)
			r.mu.Unlock()
			return
		}
		next := queue[0]
		r.queues[conversationID] = queue[1:]
		r.mu.Unlock()

		if err := r.Process(ctx, next); err != nil {
			slog.Error("Router failed to process message", "error", err, "conversationID", conversationID)
		}
	}
}

// Forget drops the options last offered to a conversation, so a later numeric
// reply is passed through as typed. Call it when the conversation is reset.
func (r *Router) Forget(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.options, conversationID)
}

// Process handles one inbound message synchronously. Numeric choices are
// resolved against the options of the reply this conversation got last, so
// callers must not run Process concurrently for one conversation.
func (r *Router) Process(ctx context.Context, response models.Response) error {
	conversationID, err := r.svc.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		return err
	}

	if r.dedup != nil && response.MessageID != "" {
		fresh, err := r.dedup.RecordInbound(response.MessageID, conversationID)
		if err != nil {
			slog.Warn("Router dedup check failed, processing anyway", "error", err, "messageID", response.MessageID)
		} else if !fresh {
			slog.Info("Router skipping duplicate message", "messageID", response.MessageID, "conversationID", conversationID)
			return nil
		}
	}

	text := ResolveChoice(response.Body, r.lastOptions(conversationID))
	reply, handleErr := r.handler.Handle(ctx, conversationID, text)
	if handleErr != nil {
		// A failed turn leaves the conversation where it was, offered options included.
		slog.Error("Router handler failed", "error", handleErr, "conversationID", conversationID)
	} else {
		r.setOptions(conversationID, reply.Options)
	}

	if reply.Text != "" {
		if err := r.svc.SendMessage(ctx, conversationID, Render(reply)); err != nil {
			return err
		}
	}

	if r.dedup != nil && response.MessageID != "" {
		if err := r.dedup.MarkProcessed(response.MessageID); err != nil {
			slog.Warn("Router mark processed failed", "error", err, "messageID", response.MessageID)
		}
	}
	return handleErr
}

func (r *Router) lastOptions(conversationID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.options[conversationID]
}

func (r *Router) setOptions(conversationID string, options []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(options) == 0 {
		delete(r.options, conversationID)
		return
	}
	r.options[conversationID] = append([]string(nil), options...)
}
