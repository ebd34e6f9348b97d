// Package events defines event types and publisher interfaces for action run events.
package events

// Outcome labels for an ActionEvent.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// ActionEvent is emitted after every dispatched request, whether the
// action succeeded or the request was rejected. Rejected requests carry
// empty module and action fields.
type ActionEvent struct {
	ID         string `json:"id"`
	Agent      string `json:"agent"`
	RequestID  string `json:"request_id"`
	Sender     string `json:"sender"`
	Module     string `json:"module"`
	Action     string `json:"action"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Timestamp  string `json:"timestamp"`
}
