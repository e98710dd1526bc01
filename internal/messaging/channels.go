package messaging

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/models"
)

// eventChannels owns the receipt and response channels of a service and guards
// them against sends after Stop.
type eventChannels struct {
	name      string
	mu        sync.RWMutex
	stopped   bool
	receipts  chan models.Receipt
	responses chan models.Response
}

func newEventChannels(name string) *eventChannels {
	return &eventChannels{
		name:      name,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}
}

func (c *eventChannels) isStopped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stopped
}

// emitReceipt holds the read lock while sending so close cannot race the send.
func (c *eventChannels) emitReceipt(receipt models.Receipt) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		return
	}
	select {
	case c.receipts <- receipt:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(c.name+" receipts channel blocked, dropping receipt", "to", receipt.To, "timeout", DefaultChannelTimeout)
	}
}

func (c *eventChannels) emitResponse(response models.Response) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		slog.Warn(c.name+" dropping inbound message (service stopped)", "from", response.From)
		return false
	}
	select {
	case c.responses <- response:
		slog.Debug(c.name+" incoming message forwarded", "from", response.From, "messageID", response.MessageID)
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(c.name+" responses channel blocked, dropping message", "from", response.From, "timeout", DefaultChannelTimeout)
		return false
	}
}

// close is idempotent.
func (c *eventChannels) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.receipts)
	close(c.responses)
}
