package source

import (
	"encoding/json"
	"strconv"
	"time"
)

// Item is one post as returned by the upstream API. Items are ephemeral:
// they are folded into a digest, never persisted individually.
type Item struct {
	ID           string    `json:"id"`
	AuthorHandle string    `json:"author_handle"`
	AuthorName   string    `json:"author_name"`
	Text         string    `json:"text"`
	CreatedAt    time.Time `json:"created_at"`
	Likes        int       `json:"likes"`
	Reposts      int       `json:"reposts"`
	Replies      int       `json:"replies"`
	Quotes       int       `json:"quotes"`
	IsReply      bool      `json:"is_reply"`
	IsRepost     bool      `json:"is_repost"`
	IsQuote      bool      `json:"is_quote"`
	InReplyToID  string    `json:"in_reply_to_id,omitempty"`
	QuotedID     string    `json:"quoted_id,omitempty"`
	URL          string    `json:"url"`
}

// NumericID parses the item id for ordering comparisons. Upstream ids are
// snowflake-style decimal strings; anything else reports ok=false.
func (it Item) NumericID() (uint64, bool) {
	return parseNumericID(it.ID)
}

func parseNumericID(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// MaxNumericID returns the largest numeric id among items, as a string.
// Items without a parsable id are ignored. ok is false when none parse.
func MaxNumericID(items []Item) (string, bool) {
	var (
		best  uint64
		found bool
	)
	for _, it := range items {
		n, ok := it.NumericID()
		if !ok {
			continue
		}
		if !found || n > best {
			best = n
			found = true
		}
	}
	if !found {
		return "", false
	}
	return strconv.FormatUint(best, 10), true
}

// flexString tolerates upstream fields that arrive as either a JSON string
// or a JSON number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		// Malformed input never fails the fetch; the item just loses its id.
		*f = ""
		return nil
	}
	*f = flexString(n.String())
	return nil
}

// wireItem matches the upstream tweet object. The id lives in either
// "id_str" or "id", and "id" may be a number.
type wireItem struct {
	IDStr     flexString `json:"id_str"`
	ID        flexString `json:"id"`
	Text      string     `json:"text"`
	CreatedAt string     `json:"createdAt"`
	URL       string     `json:"url"`
	Author    struct {
		UserName string `json:"userName"`
		Name     string `json:"name"`
	} `json:"author"`
	LikeCount    int        `json:"likeCount"`
	RetweetCount int        `json:"retweetCount"`
	ReplyCount   int        `json:"replyCount"`
	QuoteCount   int        `json:"quoteCount"`
	IsReply      bool       `json:"isReply"`
	IsRetweet    bool       `json:"isRetweet"`
	IsQuote      bool       `json:"isQuote"`
	InReplyToID  flexString `json:"inReplyToId"`
	QuotedID     flexString `json:"quotedId"`
}

func (w wireItem) item() Item {
	id := string(w.IDStr)
	if id == "" {
		id = string(w.ID)
	}
	return Item{
		ID:           id,
		AuthorHandle: w.Author.UserName,
		AuthorName:   w.Author.Name,
		Text:         w.Text,
		CreatedAt:    parseCreatedAt(w.CreatedAt),
		Likes:        w.LikeCount,
		Reposts:      w.RetweetCount,
		Replies:      w.ReplyCount,
		Quotes:       w.QuoteCount,
		IsReply:      w.IsReply,
		IsRepost:     w.IsRetweet,
		IsQuote:      w.IsQuote,
		InReplyToID:  string(w.InReplyToID),
		QuotedID:     string(w.QuotedID),
		URL:          w.URL,
	}
}

// parseCreatedAt accepts the legacy "Tue Dec 02 03:56:50 +0000 2025" format
// and falls back to RFC 3339. A zero time is returned for anything else.
func parseCreatedAt(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RubyDate, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}
