// Package fetch implements the hybrid window/id fetch strategy that decides
// which upstream query mode to use per account and reconciles the result
// with the stored sync cursor.
package fetch

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/shihao-ju/finx-sidekick/internal/source"
	"github.com/shihao-ju/finx-sidekick/internal/store"
)

// firstSyncWindow is how far back the very first sync of an account looks.
const firstSyncWindow = time.Hour

// Outcome tags a sync result so callers branch on a named variant instead of
// error identity.
type Outcome int

const (
	// OutcomeItems means the sync produced at least one new item.
	OutcomeItems Outcome = iota
	// OutcomeEmpty means upstream legitimately had nothing new. Not an
	// error; the cursor still advances.
	OutcomeEmpty
	// OutcomeError means the account's sync failed for this run.
	OutcomeError
)

// Result is the outcome of one account sync. Cursor holds the forward-moved
// cursor to persist; it is meaningful for OutcomeItems and OutcomeEmpty.
type Result struct {
	Outcome Outcome
	Items   []source.Item
	Cursor  store.SyncCursor
	Err     error
}

// Source is the upstream client surface the strategy needs.
type Source interface {
	FetchByID(ctx context.Context, account, sinceID string) ([]source.Item, error)
	FetchByWindow(ctx context.Context, account string, since, until time.Time) ([]source.Item, error)
}

// CursorStore is the persistence surface the strategy needs.
type CursorStore interface {
	Cursor(handle string) (*store.SyncCursor, error)
	SaveCursor(c store.SyncCursor) error
	SetDisplayName(handle, displayName string) error
}

// Syncer runs incremental syncs for individual accounts. Window queries are
// cheap and index-friendly for sparsely-posting accounts; id-based
// pagination is exhaustive but costlier and needs a known anchor. Hence
// window-first with id-based fallback, not the reverse.
type Syncer struct {
	client Source
	store  CursorStore
	now    func() time.Time
}

// NewSyncer creates a Syncer over the given source client and store.
func NewSyncer(client Source, cs CursorStore) *Syncer {
	return &Syncer{client: client, store: cs, now: time.Now}
}

func errResult(err error) Result {
	return Result{Outcome: OutcomeError, Err: err}
}

// SyncAccount fetches everything new for one account and computes the
// forward-moved cursor. The cursor is returned, not persisted; callers
// commit it with Advance once the fire's digest step has run.
func (s *Syncer) SyncAccount(ctx context.Context, handle string) Result {
	cur, err := s.store.Cursor(handle)
	if err != nil {
		return errResult(err)
	}

	now := s.now().UTC()
	items, err := s.fetch(ctx, handle, cur, now)
	if err != nil {
		return errResult(err)
	}

	next := store.SyncCursor{Handle: handle, LastFetchTime: now}
	if cur != nil {
		next.LastItemID = cur.LastItemID
		next.LastDigestID = cur.LastDigestID
	}
	if maxID, ok := source.MaxNumericID(items); ok && numericGreater(maxID, next.LastItemID) {
		next.LastItemID = maxID
	}

	if len(items) == 0 {
		return Result{Outcome: OutcomeEmpty, Cursor: next}
	}
	if name := items[0].AuthorName; name != "" {
		if err := s.store.SetDisplayName(handle, name); err != nil {
			log.Printf("[fetch] failed to store display name for %s: %v", handle, err)
		}
	}
	return Result{Outcome: OutcomeItems, Items: items, Cursor: next}
}

// fetch runs the dual-strategy decision tree.
func (s *Syncer) fetch(ctx context.Context, handle string, cur *store.SyncCursor, now time.Time) ([]source.Item, error) {
	// True first sync: no cursor at all.
	if cur == nil || (cur.LastFetchTime.IsZero() && cur.LastItemID == "") {
		items, err := s.client.FetchByWindow(ctx, handle, now.Add(-firstSyncWindow), now)
		if err != nil {
			log.Printf("[fetch] first-sync window query for %s failed (%v), falling back to unfiltered id fetch", handle, err)
			return s.client.FetchByID(ctx, handle, "")
		}
		return items, nil
	}

	// Only an id anchor: go straight to id-based pagination.
	if cur.LastFetchTime.IsZero() {
		return s.client.FetchByID(ctx, handle, cur.LastItemID)
	}

	items, err := s.client.FetchByWindow(ctx, handle, cur.LastFetchTime, now)
	if err != nil {
		if cur.LastItemID == "" {
			return nil, err
		}
		log.Printf("[fetch] window query for %s failed (%v), falling back to id fetch since %s", handle, err, cur.LastItemID)
		return s.client.FetchByID(ctx, handle, cur.LastItemID)
	}
	if len(items) > 0 {
		return items, nil
	}

	// Zero items from the window with a known anchor: the window search can
	// under-report replies and reposts depending on upstream indexing, so
	// double-check with an id fetch before declaring "no new items".
	if cur.LastItemID != "" {
		fallback, err := s.client.FetchByID(ctx, handle, cur.LastItemID)
		if err != nil {
			log.Printf("[fetch] id safety-net fetch for %s failed (%v), treating as no new items", handle, err)
			return nil, nil
		}
		if len(fallback) > 0 {
			log.Printf("[fetch] id safety net found %d items the window query missed for %s", len(fallback), handle)
		}
		return fallback, nil
	}
	return nil, nil
}

// Advance persists an account cursor computed by SyncAccount, stamping the
// digest back-reference when a digest was produced this fire.
func (s *Syncer) Advance(cur store.SyncCursor, digestID int64) error {
	if digestID != 0 {
		cur.LastDigestID = digestID
	}
	return s.store.SaveCursor(cur)
}

// numericGreater reports whether candidate, compared as a decimal number,
// exceeds current. An unparsable or empty current always loses.
func numericGreater(candidate, current string) bool {
	cn, err := strconv.ParseUint(candidate, 10, 64)
	if err != nil {
		return false
	}
	on, err := strconv.ParseUint(current, 10, 64)
	if err != nil {
		return true
	}
	return cn > on
}
