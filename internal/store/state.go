package store

import "database/sql"

const pausedKey = "paused"

// SetPaused durably records the scheduler pause flag so a restart comes back
// up in the same state.
func (s *Store) SetPaused(paused bool) error {
	value := "false"
	if paused {
		value = "true"
	}
	_, err := s.db.Exec(`
		INSERT INTO scheduler_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, pausedKey, value)
	return wrap("set paused", err)
}

// Paused reports the durable pause flag. Absent state means not paused.
func (s *Store) Paused() (bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM scheduler_state WHERE key = ?`, pausedKey).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, wrap("read paused", err)
	}
	return value == "true", nil
}
