package mailsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/poiesic/newsrag/core"
)

// DirSource reads RFC 5322 messages from .eml files in a directory. Files
// are delivered in lexical filename order and the cursor position is the
// last filename delivered, so files named by arrival time (or any
// increasing sequence) are picked up incrementally.
type DirSource struct {
	dir    string
	logger *slog.Logger
}

var (
	_ Fetcher   = (*DirSource)(nil)
	_ Refetcher = (*DirSource)(nil)
)

// DirOption configures a DirSource.
type DirOption func(*DirSource)

// WithLogger sets the logger. A nil logger selects slog.Default().
func WithLogger(logger *slog.Logger) DirOption {
	return func(s *DirSource) {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "mailsource", "dir", s.dir)
	}
}

// NewDirSource creates a source over dir. The directory must exist.
func NewDirSource(dir string, opts ...DirOption) (*DirSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("opening mail directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("opening mail directory: %s is not a directory", dir)
	}
	s := &DirSource{dir: dir}
	s.logger = slog.Default().With("component", "mailsource", "dir", dir)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *DirSource) Name() string { return "dir:" + filepath.Clean(s.dir) }

func (s *DirSource) FetchNewMessages(ctx context.Context, cursor core.Cursor, limit int) ([]*core.RawMessage, core.Cursor, error) {
	names, err := s.listFiles()
	if err != nil {
		return nil, cursor, err
	}
	start, _ := slices.BinarySearch(names, cursor.Position)
	if start < len(names) && names[start] == cursor.Position {
		start++
	}

	var msgs []*core.RawMessage
	last := cursor.Position
	for _, name := range names[start:] {
		if limit > 0 && len(msgs) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, cursor, err
		}
		msg, err := s.readFile(name)
		last = name
		if err != nil {
			// an unreadable file would otherwise block the cursor forever
			s.logger.Warn("skipping unparseable message", "file", name, "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, core.Cursor{Source: s.Name(), Position: last}, nil
}

// FetchByIDs scans the directory for messages with the given ids.
func (s *DirSource) FetchByIDs(ctx context.Context, ids []string) ([]*core.RawMessage, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	names, err := s.listFiles()
	if err != nil {
		return nil, err
	}
	var out []*core.RawMessage
	for _, name := range names {
		if len(out) == len(want) {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := s.readFile(name)
		if err != nil {
			continue
		}
		if want[msg.ID] {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (s *DirSource) listFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing mail directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".eml") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

func (s *DirSource) readFile(name string) (*core.RawMessage, error) {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	msg, err := ParseMessage(f)
	if err != nil {
		return nil, err
	}
	if msg.ID == "" {
		msg.ID = strings.TrimSuffix(name, filepath.Ext(name))
	}
	return msg, nil
}

// ParseMessage decodes one RFC 5322 message. The HTML body is preferred
// over the plain text one when both are present. Attachments are ignored.
// A missing Message-Id leaves ID empty for the caller to fill in.
func ParseMessage(r io.Reader) (*core.RawMessage, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("reading message: %w", err)
	}
	defer mr.Close()

	h := mr.Header
	msg := &core.RawMessage{}
	msg.ID, _ = h.MessageID()
	msg.Subject, _ = h.Subject()
	if date, err := h.Date(); err == nil {
		msg.Timestamp = date.UTC()
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		msg.Sender = formatAddress(from[0])
	} else {
		msg.Sender = h.Get("From")
	}
	msg.ThreadID = threadID(h, msg.ID)

	var plain, html string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("reading message part: %w", err)
		}
		if p == nil {
			break
		}
		inline, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := inline.ContentType()
		body, err := io.ReadAll(p.Body)
		if err != nil {
			return nil, fmt.Errorf("reading message body: %w", err)
		}
		switch {
		case ct == "text/html" && html == "":
			html = string(body)
		case (ct == "text/plain" || ct == "") && plain == "":
			plain = string(body)
		}
	}

	switch {
	case html != "":
		msg.ContentType, msg.Body = "text/html", html
	default:
		msg.ContentType, msg.Body = "text/plain", plain
	}
	return msg, nil
}

// threadID is the root of the References chain, else the message being
// replied to, else the message itself.
func threadID(h mail.Header, id string) string {
	if refs, err := h.MsgIDList("References"); err == nil && len(refs) > 0 {
		return refs[0]
	}
	if parents, err := h.MsgIDList("In-Reply-To"); err == nil && len(parents) > 0 {
		return parents[0]
	}
	return id
}

func formatAddress(a *mail.Address) string {
	if a.Name == "" {
		return a.Address
	}
	return a.Name + " <" + a.Address + ">"
}
