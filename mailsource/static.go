package mailsource

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/poiesic/newsrag/core"
)

// StaticSource serves a fixed list of messages. The cursor position is the
// number of messages already delivered.
type StaticSource struct {
	name string

	mu       sync.Mutex
	messages []*core.RawMessage
}

var (
	_ Fetcher   = (*StaticSource)(nil)
	_ Refetcher = (*StaticSource)(nil)
)

// NewStaticSource creates a source named name over msgs.
func NewStaticSource(name string, msgs ...*core.RawMessage) *StaticSource {
	return &StaticSource{name: name, messages: msgs}
}

// Append adds messages to the end of the source, as if they had arrived.
func (s *StaticSource) Append(msgs ...*core.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
}

// Replace swaps the message with the same id, keeping its position.
func (s *StaticSource) Replace(msg *core.RawMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.messages {
		if m.ID == msg.ID {
			s.messages[i] = msg
			return true
		}
	}
	return false
}

func (s *StaticSource) Name() string { return s.name }

func (s *StaticSource) FetchNewMessages(ctx context.Context, cursor core.Cursor, limit int) ([]*core.RawMessage, core.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, cursor, err
	}
	offset := 0
	if cursor.Position != "" {
		n, err := strconv.Atoi(cursor.Position)
		if err != nil || n < 0 {
			return nil, cursor, fmt.Errorf("%w: %q", ErrInvalidCursor, cursor.Position)
		}
		offset = n
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if offset >= len(s.messages) {
		return nil, cursor, nil
	}
	end := len(s.messages)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	page := append([]*core.RawMessage(nil), s.messages[offset:end]...)
	next := core.Cursor{Source: s.name, Position: strconv.Itoa(end)}
	return page, next, nil
}

func (s *StaticSource) FetchByIDs(ctx context.Context, ids []string) ([]*core.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := make(map[string]*core.RawMessage, len(s.messages))
	for _, m := range s.messages {
		byID[m.ID] = m
	}
	var out []*core.RawMessage
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}
