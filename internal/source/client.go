package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	lastItemsPath      = "/twitter/user/last_tweets"
	windowSearchPath   = "/twitter/tweet/advanced_search"
	windowTimeLayout   = "2006-01-02_15:04:05_UTC"
	firstSyncPageCap   = 5
	resyncPageCap      = 10
	defaultCallSpacing = 6 * time.Second
	callTimeout        = 30 * time.Second
)

// FetchError reports an upstream call failure for one account.
type FetchError struct {
	Account string
	Cause   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch for %s failed: %v", e.Account, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// Client talks to the upstream post API. It supports two query modes:
// id-paged reverse-chronological fetch and a time-window search.
//
// Consecutive calls within one process are spaced by at least the configured
// interval to stay inside the upstream rate limit (free tier allows one
// request per 5 seconds; 6 gives headroom).
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client

	mu       sync.Mutex
	lastCall time.Time
	spacing  time.Duration
	sleep    func(time.Duration)
	now      func() time.Time
}

// New creates a Client for the given API base URL and key.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: callTimeout},
		spacing: defaultCallSpacing,
		sleep:   time.Sleep,
		now:     time.Now,
	}
}

// pace blocks until at least the configured spacing has elapsed since the
// previous upstream call made through this client.
func (c *Client) pace() {
	c.mu.Lock()
	wait := c.spacing - c.now().Sub(c.lastCall)
	if c.lastCall.IsZero() {
		wait = 0
	}
	if wait > 0 {
		c.mu.Unlock()
		log.Printf("[source] rate limit: waiting %v before next call", wait.Round(time.Millisecond))
		c.sleep(wait)
		c.mu.Lock()
	}
	c.lastCall = c.now()
	c.mu.Unlock()
}

// idPage is the envelope for the id-paged endpoint. Tweets are nested one
// level down, unlike the window search.
type idPage struct {
	Status string `json:"status"`
	Msg    string `json:"msg"`
	Data   struct {
		Tweets      []wireItem `json:"tweets"`
		HasNextPage bool       `json:"has_next_page"`
		NextCursor  string     `json:"next_cursor"`
	} `json:"data"`
}

// windowPage is the envelope for the window-search endpoint.
type windowPage struct {
	Status      string     `json:"status"`
	Msg         string     `json:"msg"`
	Tweets      []wireItem `json:"tweets"`
	HasNextPage bool       `json:"has_next_page"`
	NextCursor  string     `json:"next_cursor"`
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	c.pace()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// FetchByID returns items for account strictly numerically greater than
// sinceID, paginating reverse-chronologically. With an empty sinceID (first
// sync) the unfiltered first pages are returned.
//
// Pagination stops when a page contains an item at or below sinceID (all
// later pages are older), when upstream reports exhaustion, or at the page
// cap: 5 pages on first sync, 10 otherwise.
func (c *Client) FetchByID(ctx context.Context, account, sinceID string) ([]Item, error) {
	handle := normalizeHandle(account)
	sinceN, filtered := parseNumericID(sinceID)

	maxPages := resyncPageCap
	if sinceID == "" {
		maxPages = firstSyncPageCap
	}

	params := url.Values{}
	params.Set("userName", handle)
	params.Set("includeReplies", "false")

	var all []Item
	cursor := ""
	for page := 1; page <= maxPages; page++ {
		if cursor != "" {
			params.Set("cursor", cursor)
		} else {
			params.Del("cursor")
		}

		var resp idPage
		if err := c.get(ctx, lastItemsPath, params, &resp); err != nil {
			return nil, &FetchError{Account: handle, Cause: err}
		}
		if resp.Status == "error" {
			return nil, &FetchError{Account: handle, Cause: fmt.Errorf("upstream error: %s", resp.Msg)}
		}
		if len(resp.Data.Tweets) == 0 {
			break
		}

		sawOlder := false
		for _, w := range resp.Data.Tweets {
			it := w.item()
			if !filtered {
				all = append(all, it)
				continue
			}
			n, ok := it.NumericID()
			if !ok {
				// Best-effort: an item without a comparable id cannot be
				// proven new, so it is skipped in filtered mode.
				continue
			}
			switch {
			case n > sinceN:
				all = append(all, it)
			default:
				// Pages are newest-first: an item at or below the anchor
				// means everything further is already seen.
				sawOlder = true
			}
		}
		log.Printf("[source] fetched page %d for %s (%d items, %d new so far)",
			page, handle, len(resp.Data.Tweets), len(all))

		if sawOlder {
			break
		}
		if !resp.Data.HasNextPage || resp.Data.NextCursor == "" {
			break
		}
		cursor = resp.Data.NextCursor
	}
	return all, nil
}

// FetchByWindow returns items for account posted in [since, until],
// paginating by continuation token. An empty window is an empty slice, not
// an error. A zero until means now.
func (c *Client) FetchByWindow(ctx context.Context, account string, since, until time.Time) ([]Item, error) {
	handle := normalizeHandle(account)
	if until.IsZero() {
		until = c.now()
	}

	query := fmt.Sprintf("from:%s since:%s until:%s include:nativeretweets include:replies",
		handle,
		since.UTC().Format(windowTimeLayout),
		until.UTC().Format(windowTimeLayout))

	params := url.Values{}
	params.Set("query", query)
	params.Set("queryType", "Latest")

	var all []Item
	cursor := ""
	for {
		if cursor != "" {
			params.Set("cursor", cursor)
		} else {
			params.Del("cursor")
		}

		var resp windowPage
		if err := c.get(ctx, windowSearchPath, params, &resp); err != nil {
			return nil, &FetchError{Account: handle, Cause: err}
		}
		if resp.Status == "error" {
			return nil, &FetchError{Account: handle, Cause: fmt.Errorf("upstream error: %s", resp.Msg)}
		}

		for _, w := range resp.Tweets {
			all = append(all, w.item())
		}
		if !resp.HasNextPage || resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}
	return all, nil
}

// UserInfo fetches the display name for a handle by peeking at the author
// block of the account's most recent item. Returns an empty string when the
// account has no items.
func (c *Client) UserInfo(ctx context.Context, account string) (string, error) {
	handle := normalizeHandle(account)

	params := url.Values{}
	params.Set("userName", handle)
	params.Set("includeReplies", "false")

	var resp idPage
	if err := c.get(ctx, lastItemsPath, params, &resp); err != nil {
		return "", &FetchError{Account: handle, Cause: err}
	}
	if len(resp.Data.Tweets) == 0 {
		return "", nil
	}
	return resp.Data.Tweets[0].Author.Name, nil
}

func normalizeHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}
