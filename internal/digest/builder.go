// Package digest defines the digest text generator collaborator and a
// deterministic markdown implementation.
package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shihao-ju/finx-sidekick/internal/source"
)

// GenerationError reports a failed digest text generation. Cursors still
// advance when it occurs: the items were already fetched and must not be
// re-fetched.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("digest generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Generator produces digest text from one fire's aggregated items. It is
// invoked once per fire, only when new items exist. previous carries the
// most recent stored digest body for continuity; it may be empty.
type Generator interface {
	Generate(ctx context.Context, previous string, items []source.Item, handles []string) (string, error)
}

// Builder is the default Generator: a deterministic markdown digest grouped
// by account. Swap in an LLM-backed Generator for prose output.
type Builder struct {
	maxPerAccount int
}

// NewBuilder creates a Builder that includes at most maxPerAccount items per
// account (0 means no limit).
func NewBuilder(maxPerAccount int) *Builder {
	return &Builder{maxPerAccount: maxPerAccount}
}

// Generate renders the digest. Items are grouped under their account in the
// order handles are given; accounts with no new items are omitted.
func (b *Builder) Generate(_ context.Context, _ string, items []source.Item, handles []string) (string, error) {
	if len(items) == 0 {
		return "", &GenerationError{Err: fmt.Errorf("no items to digest")}
	}

	byHandle := make(map[string][]source.Item, len(handles))
	for _, it := range items {
		h := strings.ToLower(it.AuthorHandle)
		byHandle[h] = append(byHandle[h], it)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Digest — %s\n", time.Now().UTC().Format("2006-01-02 15:04 UTC"))

	for _, handle := range handles {
		h := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
		group := byHandle[h]
		if len(group) == 0 {
			continue
		}
		if b.maxPerAccount > 0 && len(group) > b.maxPerAccount {
			group = group[:b.maxPerAccount]
		}

		fmt.Fprintf(&sb, "\n## @%s\n", h)
		for _, it := range group {
			line := oneLine(it.Text)
			fmt.Fprintf(&sb, "- %s", line)
			if it.Likes > 0 || it.Reposts > 0 {
				fmt.Fprintf(&sb, " (%d likes · %d reposts)", it.Likes, it.Reposts)
			}
			if it.URL != "" {
				fmt.Fprintf(&sb, " [Source: @%s](%s)", h, it.URL)
			}
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	const max = 280
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}
