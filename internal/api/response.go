package api

// Endpoints answer with a models.APIResponse envelope; /health reports a flat
// status object.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/SupportPipe/internal/models"
)

// envelopeFallback is sent when a response cannot be encoded.
var envelopeFallback = mustMarshal(models.Error("Internal server error"))

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic("api: cannot encode fallback envelope: " + err.Error())
	}
	return data
}

// writeJSONResponse encodes response before writing headers, so an encoding
// failure still produces a well-formed 500 envelope.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = envelopeFallback
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// replyFailureStatus maps a failed conversation turn to its HTTP status.
// Answer sources being down is 503; storage and other faults are 500.
func replyFailureStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrEmptyConversationID):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrAnswerUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeReplyFailure sends an error envelope that still carries the reply the
// user should see, which is the apology.
func writeReplyFailure(w http.ResponseWriter, err error, result MessageResult) {
	writeJSONResponse(w, replyFailureStatus(err), models.NewAPIResponseBuilder().
		WithStatus(models.APIStatusError).
		WithMessage(err.Error()).
		WithResult(result).
		Build())
}
