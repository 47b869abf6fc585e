package store

import (
	"database/sql"
	"time"
)

// RegisterAccount adds a tracked account. Returns false when the handle is
// already registered.
func (s *Store) RegisterAccount(handle, displayName string) (bool, error) {
	handle = normalizeHandle(handle)
	res, err := s.db.Exec(`
		INSERT INTO accounts (handle, display_name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(handle) DO NOTHING
	`, handle, displayName, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, wrap("register account", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("register account", err)
	}
	return n > 0, nil
}

// DeregisterAccount removes a tracked account and its cursor. Returns false
// when the handle was not registered.
func (s *Store) DeregisterAccount(handle string) (bool, error) {
	handle = normalizeHandle(handle)
	if _, err := s.db.Exec(`DELETE FROM sync_cursors WHERE handle = ?`, handle); err != nil {
		return false, wrap("deregister account", err)
	}
	res, err := s.db.Exec(`DELETE FROM accounts WHERE handle = ?`, handle)
	if err != nil {
		return false, wrap("deregister account", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("deregister account", err)
	}
	return n > 0, nil
}

// SetDisplayName backfills the display name for a registered account.
func (s *Store) SetDisplayName(handle, displayName string) error {
	_, err := s.db.Exec(`UPDATE accounts SET display_name = ? WHERE handle = ?`,
		displayName, normalizeHandle(handle))
	return wrap("set display name", err)
}

// Accounts returns all tracked accounts ordered by handle.
func (s *Store) Accounts() ([]TrackedAccount, error) {
	rows, err := s.db.Query(`SELECT handle, display_name, created_at FROM accounts ORDER BY handle`)
	if err != nil {
		return nil, wrap("list accounts", err)
	}
	defer rows.Close()

	var accounts []TrackedAccount
	for rows.Next() {
		var a TrackedAccount
		var name, created sql.NullString
		if err := rows.Scan(&a.Handle, &name, &created); err != nil {
			return nil, wrap("list accounts", err)
		}
		a.DisplayName = name.String
		a.CreatedAt = scanTime(created)
		accounts = append(accounts, a)
	}
	return accounts, wrap("list accounts", rows.Err())
}

// ListTrackedAccountHandles returns the handles of all tracked accounts.
// This is the account-registry interface the scheduler consumes.
func (s *Store) ListTrackedAccountHandles() ([]string, error) {
	rows, err := s.db.Query(`SELECT handle FROM accounts ORDER BY handle`)
	if err != nil {
		return nil, wrap("list handles", err)
	}
	defer rows.Close()

	var handles []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, wrap("list handles", err)
		}
		handles = append(handles, h)
	}
	return handles, wrap("list handles", rows.Err())
}
