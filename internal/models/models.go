// Package models defines the core data structures for SupportPipe.
//
// It includes conversation state, transport records (incoming messages and delivery receipts),
// feedback records, and the JSON envelopes returned by the HTTP API.
package models

import "errors"

// Error variables for the per-message error taxonomy.
var (
	// ErrAnswerUnavailable is returned when the answer producer fails or returns nothing.
	ErrAnswerUnavailable = errors.New("answer producer unavailable")
	// ErrEmptyConversationID is returned when a message arrives without a conversation id.
	ErrEmptyConversationID = errors.New("conversation id cannot be empty")
	// ErrEmptyRecipient is returned when a reply has nowhere to go.
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	// ErrInvalidVerdict is returned for feedback verdicts other than helpful/unhelpful.
	ErrInvalidVerdict = errors.New("invalid feedback verdict")
)

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusRecorded indicates data was successfully recorded via API.
	APIStatusRecorded APIStatus = "recorded"
)

// Receipt tracks the delivery status of an outgoing reply.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Response is an incoming user message delivered by a transport.
type Response struct {
	From      string `json:"from"`
	Body      string `json:"body"`
	Time      int64  `json:"time"`
	MessageID string `json:"message_id,omitempty"` // transport-assigned id, used for deduplication
}

// APIResponse is the standard JSON envelope for API responses.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional human readable message
	Result  interface{} `json:"result,omitempty"`  // optional payload
}

// APIResponseBuilder helps construct APIResponse values.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new builder.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result payload of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build returns the constructed APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with a result payload.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and result.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Recorded creates an API response acknowledging stored data.
func Recorded(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusRecorded).
		WithMessage(message).
		Build()
}

// Error creates an error API response.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
