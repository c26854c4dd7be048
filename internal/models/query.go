package models

import "time"

// QueryRecord is one completed dispatch run: the original prompt, each model's
// raw answer keyed by alias, and the generated comparison. UserID is zero for
// runs that were never persisted under an account.
type QueryRecord struct {
	ID         int64             `json:"id"`
	UserID     int64             `json:"user_id,omitempty"`
	QueryText  string            `json:"query_text"`
	Responses  map[string]string `json:"responses"`
	Comparison string            `json:"comparison_result"`
	CreatedAt  time.Time         `json:"created_at"`
}
