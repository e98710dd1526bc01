// Package testutil provides shared fixtures for SupportPipe tests: an engine
// over the built-in tables and an in-memory store, a scripted answer producer,
// and HTTP assertion helpers.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BTreeMap/SupportPipe/internal/classify"
	"github.com/BTreeMap/SupportPipe/internal/feedback"
	"github.com/BTreeMap/SupportPipe/internal/flow"
	"github.com/BTreeMap/SupportPipe/internal/store"
	"github.com/BTreeMap/SupportPipe/internal/tables"
)

// StubProducer answers every question with Reply (or fails with Err) and records the questions.
type StubProducer struct {
	Reply string
	Err   error

	mu        sync.Mutex
	questions []string
}

// NewStubProducer creates a StubProducer returning answer.
func NewStubProducer(answer string) *StubProducer {
	return &StubProducer{Reply: answer}
}

// Answer implements answer.Producer.
func (p *StubProducer) Answer(ctx context.Context, question string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.questions = append(p.questions, question)
	if p.Err != nil {
		return "", p.Err
	}
	return p.Reply, nil
}

// Questions returns the questions asked so far.
func (p *StubProducer) Questions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.questions...)
}

// NewTestEngine builds an engine over tables.Default() and a fresh in-memory
// store that also receives feedback. opts are applied after the defaults.
func NewTestEngine(p *StubProducer, opts ...flow.Option) (*flow.Engine, *store.InMemoryStore) {
	st := store.NewInMemoryStore()
	tb := tables.Default()
	opts = append([]flow.Option{flow.WithFeedbackSink(feedback.NewStoreSink(st))}, opts...)
	return flow.NewEngine(st, tb, classify.NewKeywordClassifier(tb.Keywords), p, opts...), st
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t testing.TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(bytes.NewReader(rr.Body.Bytes())).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	if status, ok := response["status"].(string); !ok {
		t.Error("response missing or invalid 'status' field")
	} else if status != expectedStatus {
		t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
	}
	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t testing.TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		buf.Write(MustMarshalJSON(t, body))
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t testing.TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t testing.TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
