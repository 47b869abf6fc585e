package store

import (
	"database/sql"
	"time"
)

// Cursor returns the sync cursor for handle, or nil when the account has
// never completed a sync.
func (s *Store) Cursor(handle string) (*SyncCursor, error) {
	handle = normalizeHandle(handle)
	row := s.db.QueryRow(`
		SELECT handle, last_item_id, last_fetch_time, last_digest_id
		FROM sync_cursors
		WHERE handle = ?
	`, handle)

	var c SyncCursor
	var itemID, fetchTime sql.NullString
	var digestID sql.NullInt64
	if err := row.Scan(&c.Handle, &itemID, &fetchTime, &digestID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, wrap("read cursor", err)
	}
	c.LastItemID = itemID.String
	c.LastFetchTime = scanTime(fetchTime)
	c.LastDigestID = digestID.Int64
	return &c, nil
}

// SaveCursor upserts the cursor for c.Handle. Callers construct cursors by
// forward-moving rules only, so last-writer-wins is safe for concurrent
// triggers racing on the same account.
func (s *Store) SaveCursor(c SyncCursor) error {
	handle := normalizeHandle(c.Handle)
	var fetchTime any
	if !c.LastFetchTime.IsZero() {
		fetchTime = c.LastFetchTime.UTC().Format(time.RFC3339Nano)
	}
	var itemID any
	if c.LastItemID != "" {
		itemID = c.LastItemID
	}
	var digestID any
	if c.LastDigestID != 0 {
		digestID = c.LastDigestID
	}

	_, err := s.db.Exec(`
		INSERT INTO sync_cursors (handle, last_item_id, last_fetch_time, last_digest_id, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(handle) DO UPDATE SET
			last_item_id = COALESCE(excluded.last_item_id, last_item_id),
			last_fetch_time = COALESCE(excluded.last_fetch_time, last_fetch_time),
			last_digest_id = COALESCE(excluded.last_digest_id, last_digest_id),
			updated_at = CURRENT_TIMESTAMP
	`, handle, itemID, fetchTime, digestID)
	return wrap("save cursor", err)
}
