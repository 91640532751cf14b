// Package mailsource provides the mail-fetch collaborators consumed by
// ingestion. A Fetcher pages through new messages starting at an explicit
// cursor and returns the cursor to resume from; it never keeps the position
// itself.
package mailsource

import (
	"context"
	"errors"

	"github.com/poiesic/newsrag/core"
)

var (
	// ErrMessageNotFound is returned by FetchByIDs implementations that are
	// asked for an id they no longer have.
	ErrMessageNotFound = errors.New("message not found")

	// ErrInvalidCursor is returned when a cursor position cannot be parsed.
	ErrInvalidCursor = errors.New("invalid cursor")
)

// Fetcher returns messages newer than cursor, at most limit of them, in
// fetch order. The returned cursor resumes after the last message returned.
// An empty page means the source is exhausted.
type Fetcher interface {
	Name() string
	FetchNewMessages(ctx context.Context, cursor core.Cursor, limit int) ([]*core.RawMessage, core.Cursor, error)
}

// Refetcher is implemented by sources that can fetch specific messages
// again, used to retry messages that failed on a previous run. Ids that no
// longer exist are omitted from the result.
type Refetcher interface {
	FetchByIDs(ctx context.Context, ids []string) ([]*core.RawMessage, error)
}
