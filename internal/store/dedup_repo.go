package store

import (
	"time"
)

// DedupRecord marks an inbound transport message as seen.
type DedupRecord struct {
	MessageID      string     `json:"message_id"`
	ConversationID string     `json:"conversation_id"`
	ReceivedAt     time.Time  `json:"received_at"`
	ProcessedAt    *time.Time `json:"processed_at"`
}

// DedupRepo guards against handling a redelivered inbound message twice.
// A duplicate message would otherwise be taken as the user's answer to a pending prompt.
type DedupRepo interface {
	// IsDuplicate reports whether a message ID was already recorded.
	IsDuplicate(messageID string) (bool, error)

	// RecordInbound records a message ID. Returns false if it was already recorded.
	RecordInbound(messageID, conversationID string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for a message.
	MarkProcessed(messageID string) error

	// PruneInbound forgets records received before the cutoff and returns how many were removed.
	PruneInbound(before time.Time) (int64, error)
}
