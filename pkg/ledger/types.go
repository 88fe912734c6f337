package ledger

import (
	"context"
	"time"
)

// Entry is the usage record of one Messages request that reached an
// upstream endpoint.
type Entry struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	Time      time.Time `json:"time"`

	// Correlation ids reported by the upstream stream.
	ClientRequestID string `json:"client_request_id,omitempty"`
	OriginRequestID string `json:"origin_request_id,omitempty"`

	RequestedModel string `json:"requested_model"`
	Model          string `json:"model"`
	Endpoint       string `json:"endpoint"`
	UserInitiated  bool   `json:"user_initiated"`

	Status       int    `json:"status"`
	FinishReason string `json:"finish_reason,omitempty"`

	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	CachedTokens     int64 `json:"cached_tokens"`
	ReasoningTokens  int64 `json:"reasoning_tokens"`

	BytesForwarded int64         `json:"bytes_forwarded"`
	Attempts       int           `json:"attempts"`
	Duration       time.Duration `json:"duration"`
	Canceled       bool          `json:"canceled"`
	Error          string        `json:"error,omitempty"`
}

// TotalTokens returns prompt plus completion tokens.
func (e *Entry) TotalTokens() int64 {
	return e.PromptTokens + e.CompletionTokens
}

// Query filters entries. Zero values match everything.
type Query struct {
	// Since and Until bound Time, both inclusive.
	Since *time.Time
	Until *time.Time

	Model string

	// Status is "success" (no error) or "error".
	Status string

	// Oldest returns entries oldest first. The default is newest first.
	Oldest bool

	Limit  int
	Offset int
}

// Query statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Summary aggregates entries of one model.
type Summary struct {
	Model            string `json:"model"`
	Requests         int64  `json:"requests"`
	Errors           int64  `json:"errors"`
	Canceled         int64  `json:"canceled"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	CachedTokens     int64  `json:"cached_tokens"`
	ReasoningTokens  int64  `json:"reasoning_tokens"`
	BytesForwarded   int64  `json:"bytes_forwarded"`
}

// Store persists ledger entries. Implementations must be safe for
// concurrent use.
type Store interface {
	// Record persists an entry.
	Record(ctx context.Context, entry *Entry) error

	// Query returns matching entries. Limit and Offset apply.
	Query(ctx context.Context, q *Query) ([]*Entry, error)

	// Count returns the number of matching entries. Limit and Offset are
	// ignored.
	Count(ctx context.Context, q *Query) (int64, error)

	// Delete removes matching entries and returns how many were removed.
	// Limit and Offset are ignored.
	Delete(ctx context.Context, q *Query) (int64, error)

	// Summary aggregates matching entries per model, ordered by model.
	Summary(ctx context.Context, q *Query) ([]Summary, error)

	Close() error
}

func (q *Query) matches(e *Entry) bool {
	if q == nil {
		return true
	}
	if q.Since != nil && e.Time.Before(*q.Since) {
		return false
	}
	if q.Until != nil && e.Time.After(*q.Until) {
		return false
	}
	if q.Model != "" && e.Model != q.Model {
		return false
	}
	switch q.Status {
	case StatusSuccess:
		return e.Error == ""
	case StatusError:
		return e.Error != ""
	}
	return true
}
