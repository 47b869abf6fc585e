package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient points a Client at a test server and disables real
// sleeping, recording requested waits instead.
func newTestClient(t *testing.T, handler http.Handler) (*Client, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	var waits []time.Duration
	c := New(srv.URL, "test-key")
	c.sleep = func(d time.Duration) { waits = append(waits, d) }
	return c, &waits
}

func idPageJSON(ids []string, nextCursor string) string {
	type tweet struct {
		IDStr string `json:"id_str"`
		Text  string `json:"text"`
		Author struct {
			UserName string `json:"userName"`
			Name     string `json:"name"`
		} `json:"author"`
	}
	tweets := make([]tweet, len(ids))
	for i, id := range ids {
		tweets[i].IDStr = id
		tweets[i].Text = "post " + id
		tweets[i].Author.UserName = "trader"
		tweets[i].Author.Name = "Trader"
	}
	payload := map[string]any{
		"status": "success",
		"data": map[string]any{
			"tweets":        tweets,
			"has_next_page": nextCursor != "",
			"next_cursor":   nextCursor,
		},
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

func itemIDs(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestFetchByID_PaginationCompleteness(t *testing.T) {
	pages := map[string]string{
		"":   idPageJSON([]string{"105", "104", "103"}, "c2"),
		"c2": idPageJSON([]string{"102", "101", "100"}, "c3"),
		"c3": idPageJSON([]string{"99", "98"}, ""),
	}
	var requests []string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cursor := r.URL.Query().Get("cursor")
		requests = append(requests, cursor)
		fmt.Fprint(w, pages[cursor])
	}))

	items, err := c.FetchByID(context.Background(), "trader", "100")
	require.NoError(t, err)
	assert.Equal(t, []string{"105", "104", "103", "102", "101"}, itemIDs(items))
	// The second page contained the anchor, so the third page is never
	// fetched.
	assert.Equal(t, []string{"", "c2"}, requests)
}

func TestFetchByID_FirstSyncPageCap(t *testing.T) {
	var requests int
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		id := fmt.Sprintf("%d", 1000-requests)
		fmt.Fprint(w, idPageJSON([]string{id}, fmt.Sprintf("c%d", requests)))
	}))

	items, err := c.FetchByID(context.Background(), "trader", "")
	require.NoError(t, err)
	assert.Len(t, items, 5)
	assert.Equal(t, 5, requests, "first sync caps at 5 pages")
}

func TestFetchByID_ResyncPageCap(t *testing.T) {
	var requests int
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		id := fmt.Sprintf("%d", 10000-requests)
		fmt.Fprint(w, idPageJSON([]string{id}, fmt.Sprintf("c%d", requests)))
	}))

	_, err := c.FetchByID(context.Background(), "trader", "1")
	require.NoError(t, err)
	assert.Equal(t, 10, requests, "resync caps at 10 pages")
}

func TestFetchByID_MalformedIDsTolerated(t *testing.T) {
	body := `{"status":"success","data":{"tweets":[
		{"id": 105, "text": "numeric id"},
		{"id_str": "", "text": "no id at all"},
		{"id_str": "abc", "text": "garbage id"},
		{"id_str": "104", "text": "fine"}
	],"has_next_page":false,"next_cursor":""}}`
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))

	// Unfiltered: malformed ids ride along rather than failing the fetch.
	items, err := c.FetchByID(context.Background(), "trader", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"105", "", "abc", "104"}, itemIDs(items))

	// Filtered: items that cannot be compared to the anchor are skipped.
	items, err = c.FetchByID(context.Background(), "trader", "100")
	require.NoError(t, err)
	assert.Equal(t, []string{"105", "104"}, itemIDs(items))
}

func TestFetchByID_UpstreamError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"error","msg":"rate limited"}`)
	}))

	_, err := c.FetchByID(context.Background(), "@Trader", "")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "trader", fe.Account)
	assert.Contains(t, fe.Error(), "rate limited")
}

func TestFetchByWindow_EmptyIsNotAnError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","tweets":[],"has_next_page":false,"next_cursor":""}`)
	}))

	items, err := c.FetchByWindow(context.Background(), "trader", time.Now().Add(-time.Hour), time.Time{})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestFetchByWindow_QueryFormatAndPagination(t *testing.T) {
	var queries []string
	var cursors []string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, windowSearchPath, r.URL.Path)
		queries = append(queries, r.URL.Query().Get("query"))
		cursor := r.URL.Query().Get("cursor")
		cursors = append(cursors, cursor)
		if cursor == "" {
			fmt.Fprint(w, `{"status":"success","tweets":[{"id_str":"7"}],"has_next_page":true,"next_cursor":"w2"}`)
			return
		}
		fmt.Fprint(w, `{"status":"success","tweets":[{"id_str":"6"}],"has_next_page":false,"next_cursor":""}`)
	}))

	since := time.Date(2025, 12, 2, 14, 0, 0, 0, time.UTC)
	until := time.Date(2025, 12, 2, 15, 30, 0, 0, time.UTC)
	items, err := c.FetchByWindow(context.Background(), "@Trader", since, until)
	require.NoError(t, err)
	assert.Equal(t, []string{"7", "6"}, itemIDs(items))
	assert.Equal(t, []string{"", "w2"}, cursors)

	want := "from:trader since:2025-12-02_14:00:00_UTC until:2025-12-02_15:30:00_UTC include:nativeretweets include:replies"
	require.NotEmpty(t, queries)
	assert.Equal(t, want, queries[0])
}

func TestPace_SpacesConsecutiveCalls(t *testing.T) {
	c, waits := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, idPageJSON(nil, ""))
	}))

	ctx := context.Background()
	_, err := c.FetchByID(ctx, "one", "")
	require.NoError(t, err)
	_, err = c.FetchByID(ctx, "two", "")
	require.NoError(t, err)

	require.Len(t, *waits, 1, "only the second call should wait")
	assert.Greater(t, (*waits)[0], 5*time.Second)
	assert.LessOrEqual(t, (*waits)[0], 6*time.Second)
}

func TestUserInfo(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, idPageJSON([]string{"42"}, ""))
	}))

	name, err := c.UserInfo(context.Background(), "trader")
	require.NoError(t, err)
	assert.Equal(t, "Trader", name)
}

func TestItemNumericID(t *testing.T) {
	n, ok := Item{ID: "1861234567890123456"}.NumericID()
	require.True(t, ok)
	assert.Equal(t, uint64(1861234567890123456), n)

	_, ok = Item{ID: "not-a-number"}.NumericID()
	assert.False(t, ok)
}

func TestMaxNumericID(t *testing.T) {
	items := []Item{{ID: "9"}, {ID: "immune"}, {ID: "105"}, {ID: ""}, {ID: "30"}}
	max, ok := MaxNumericID(items)
	require.True(t, ok)
	assert.Equal(t, "105", max)

	_, ok = MaxNumericID([]Item{{ID: "x"}})
	assert.False(t, ok)
}

func TestParseCreatedAt(t *testing.T) {
	ts := parseCreatedAt("Tue Dec 02 03:56:50 +0000 2025")
	assert.Equal(t, 2025, ts.Year())
	assert.Equal(t, time.December, ts.Month())

	assert.True(t, parseCreatedAt("garbage").IsZero())
	assert.True(t, parseCreatedAt("").IsZero())
}

func TestNormalizeHandle(t *testing.T) {
	assert.Equal(t, "trader", normalizeHandle(" @Trader "))
	assert.Equal(t, "trader", normalizeHandle("trader"))
}

func TestWireItemFlexibleID(t *testing.T) {
	var w wireItem
	require.NoError(t, json.Unmarshal([]byte(`{"id": 12345, "text": "hi"}`), &w))
	assert.Equal(t, "12345", w.item().ID)

	require.NoError(t, json.Unmarshal([]byte(`{"id_str": "67890"}`), &w))
	assert.Equal(t, "67890", w.item().ID)
}

func TestFetchByID_RequestShape(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, lastItemsPath, r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "trader", r.URL.Query().Get("userName"))
		assert.False(t, strings.Contains(r.URL.RawQuery, "cursor="), "first page carries no cursor")
		fmt.Fprint(w, idPageJSON(nil, ""))
	}))

	_, err := c.FetchByID(context.Background(), "@Trader", "")
	require.NoError(t, err)
}
