package store

import (
	"database/sql"
	"encoding/json"
	"sort"
	"time"
)

// NormalizeItemIDs deduplicates and sorts item ids ascending. This is the
// canonical form used as the digest identity key.
func NormalizeItemIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// UpsertDigest stores a digest keyed by the normalized set of contributing
// item ids. When a digest with an identical id set already exists, only its
// body is overwritten; generated_at is left untouched so chronological
// ordering survives re-generation of the same underlying set.
//
// This is the system's sole idempotency boundary for digest writes: two
// calls with the same item set never yield two rows.
func (s *Store) UpsertDigest(body string, itemIDs []string, generatedAt time.Time) (int64, error) {
	key, err := json.Marshal(NormalizeItemIDs(itemIDs))
	if err != nil {
		return 0, wrap("upsert digest", err)
	}

	var existing int64
	err = s.db.QueryRow(`
		SELECT id FROM digests
		WHERE item_ids = ?
		ORDER BY generated_at DESC
		LIMIT 1
	`, string(key)).Scan(&existing)
	switch {
	case err == nil:
		if _, err := s.db.Exec(`UPDATE digests SET body = ? WHERE id = ?`, body, existing); err != nil {
			return 0, wrap("upsert digest", err)
		}
		return existing, nil
	case err != sql.ErrNoRows:
		return 0, wrap("upsert digest", err)
	}

	res, err := s.db.Exec(`
		INSERT INTO digests (generated_at, body, item_ids)
		VALUES (?, ?, ?)
	`, generatedAt.UTC().Format(time.RFC3339Nano), body, string(key))
	if err != nil {
		return 0, wrap("upsert digest", err)
	}
	id, err := res.LastInsertId()
	return id, wrap("upsert digest", err)
}

// LatestDigest returns the most recently generated digest, or nil when none
// exists yet.
func (s *Store) LatestDigest() (*Digest, error) {
	digests, err := s.Digests(1, 0)
	if err != nil || len(digests) == 0 {
		return nil, err
	}
	return &digests[0], nil
}

// Digests returns stored digests newest-first.
func (s *Store) Digests(limit, offset int) ([]Digest, error) {
	rows, err := s.db.Query(`
		SELECT id, generated_at, body, item_ids
		FROM digests
		ORDER BY generated_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, wrap("list digests", err)
	}
	defer rows.Close()

	var out []Digest
	for rows.Next() {
		var d Digest
		var generated sql.NullString
		var ids string
		if err := rows.Scan(&d.ID, &generated, &d.Body, &ids); err != nil {
			return nil, wrap("list digests", err)
		}
		d.GeneratedAt = scanTime(generated)
		json.Unmarshal([]byte(ids), &d.ItemIDs)
		out = append(out, d)
	}
	return out, wrap("list digests", rows.Err())
}

// RemoveDuplicateDigests deletes all but the oldest digest for each item-id
// set. Duplicates can only predate the upsert path (imported data); this is
// a maintenance sweep, not part of the write path. Returns the number of
// rows removed.
func (s *Store) RemoveDuplicateDigests() (int, error) {
	res, err := s.db.Exec(`
		DELETE FROM digests
		WHERE id NOT IN (
			SELECT MIN(id) FROM digests GROUP BY item_ids
		)
	`)
	if err != nil {
		return 0, wrap("remove duplicate digests", err)
	}
	n, err := res.RowsAffected()
	return int(n), wrap("remove duplicate digests", err)
}
