package store

import "time"

// TrackedAccount is one account whose posts are ingested.
type TrackedAccount struct {
	Handle      string    `json:"handle"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SyncCursor is the per-account ingestion bookmark. LastItemID compared
// numerically and LastFetchTime are both non-decreasing across successful
// runs; writers must only ever move them forward.
type SyncCursor struct {
	Handle        string    `json:"handle"`
	LastItemID    string    `json:"last_item_id,omitempty"`
	LastFetchTime time.Time `json:"last_fetch_time,omitempty"`
	LastDigestID  int64     `json:"last_digest_id,omitempty"`
}

// Digest is one generated digest over a batch of ingested items. ItemIDs is
// stored deduplicated and sorted ascending; at most one digest row exists
// per distinct id set.
type Digest struct {
	ID          int64     `json:"id"`
	GeneratedAt time.Time `json:"generated_at"`
	Body        string    `json:"body"`
	ItemIDs     []string  `json:"item_ids"`
}

// RunRecord statuses.
const (
	StatusSuccess = "success"
	StatusWarning = "warning"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// RunRecord is one append-only audit row for a scheduler fire. Account is
// empty for whole-run records.
type RunRecord struct {
	ID             int64     `json:"id"`
	At             time.Time `json:"at"`
	Account        string    `json:"account,omitempty"`
	TriggerKind    string    `json:"trigger_kind"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	RetryCount     int       `json:"retry_count"`
	ItemsFetched   int       `json:"items_fetched"`
	DigestProduced bool      `json:"digest_produced"`
}
