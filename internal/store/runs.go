package store

import (
	"database/sql"
	"time"
)

// AppendRunRecord inserts an audit row for one scheduler fire. Records are
// never mutated after insert.
func (s *Store) AppendRunRecord(r RunRecord) (int64, error) {
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	var account any
	if r.Account != "" {
		account = normalizeHandle(r.Account)
	}
	res, err := s.db.Exec(`
		INSERT INTO run_records (at, account, trigger_kind, status, error, retry_count, items_fetched, digest_produced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, at.UTC().Format(time.RFC3339Nano), account, r.TriggerKind, r.Status, r.Error,
		r.RetryCount, r.ItemsFetched, r.DigestProduced)
	if err != nil {
		return 0, wrap("append run record", err)
	}
	id, err := res.LastInsertId()
	return id, wrap("append run record", err)
}

// RunRecords returns audit rows newest-first.
func (s *Store) RunRecords(limit, offset int) ([]RunRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, at, account, trigger_kind, status, error, retry_count, items_fetched, digest_produced
		FROM run_records
		ORDER BY at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, wrap("list run records", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var at, account, errMsg sql.NullString
		if err := rows.Scan(&r.ID, &at, &account, &r.TriggerKind, &r.Status, &errMsg,
			&r.RetryCount, &r.ItemsFetched, &r.DigestProduced); err != nil {
			return nil, wrap("list run records", err)
		}
		r.At = scanTime(at)
		r.Account = account.String
		r.Error = errMsg.String
		out = append(out, r)
	}
	return out, wrap("list run records", rows.Err())
}
