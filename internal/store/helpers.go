package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/SupportPipe/internal/models"
)

// decodeState restores a ConversationState from its stored JSON. A corrupt row
// yields idle rather than an error so one bad record cannot wedge a conversation.
func decodeState(conversationID, data string) models.ConversationState {
	var state models.ConversationState
	if err := state.FromJSON(data); err != nil {
		slog.Error("Store decodeState JSON unmarshal failed, resetting to idle", "error", err, "conversationID", conversationID)
		return models.Idle()
	}
	if err := state.Validate(); err != nil {
		slog.Error("Store decodeState invalid state, resetting to idle", "error", err, "conversationID", conversationID)
		return models.Idle()
	}
	return state
}

// scanFeedbackRows collects feedback records from a query result.
func scanFeedbackRows(rows *sql.Rows) ([]models.Feedback, error) {
	defer rows.Close()
	var out []models.Feedback
	for rows.Next() {
		var fb models.Feedback
		var verdict string
		if err := rows.Scan(&fb.ID, &fb.ConversationID, &fb.Question, &fb.Answer, &verdict, &fb.Time); err != nil {
			return nil, fmt.Errorf("scan feedback failed: %w", err)
		}
		fb.Verdict = models.Verdict(verdict)
		out = append(out, fb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback rows failed: %w", err)
	}
	return out, nil
}
