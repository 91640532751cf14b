// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/poiesic/newsrag/core"
)

// tracker walks one message through the state machine.
type tracker struct {
	outcome core.MessageOutcome
	started time.Time
	logger  *slog.Logger
}

func newTracker(msg *core.RawMessage, started time.Time, logger *slog.Logger) *tracker {
	return &tracker{
		outcome: core.MessageOutcome{
			SourceID: msg.ID,
			Subject:  msg.Subject,
			State:    core.StateFetched,
		},
		started: started,
		logger:  logger.With("source", msg.ID),
	}
}

func (t *tracker) advance(to core.MessageState) {
	if !core.CanTransition(t.outcome.State, to) {
		t.logger.Error("illegal state transition", "from", t.outcome.State, "to", to)
		return
	}
	t.logger.Debug("state transition", "from", t.outcome.State, "to", to)
	t.outcome.State = to
}

func (t *tracker) skip(reason string) {
	t.outcome.Reason = reason
	t.advance(core.StateSkipped)
}

func (t *tracker) fail(err error) {
	t.outcome.Err = err
	t.outcome.Reason = err.Error()
	t.advance(core.StateFailed)
}

func (t *tracker) done() bool { return t.outcome.State.Terminal() }

// prepared is a message that went through the concurrent stages and waits
// for its store commit.
type prepared struct {
	msg      *core.RawMessage
	text     core.NormalizedText
	hash     string
	previous *core.SourceEntry
	records  []*core.Record
	track    *tracker
}

// contentHash covers everything that influences the stored passages.
func (p *Pipeline) contentHash(text core.NormalizedText) string {
	return core.ContentHash(
		text.Text,
		text.Subject,
		strconv.Itoa(p.chunker.MaxTokens()),
		strconv.Itoa(p.chunker.Overlap()),
		strconv.FormatBool(p.config.SubjectPrefix),
	)
}

// prepare runs the per-message stages that have no ordering dependency:
// normalize, compare with the ledger, chunk and embed. It runs on a pool
// worker.
func (p *Pipeline) prepare(ctx context.Context, msg *core.RawMessage) *prepared {
	pm := &prepared{msg: msg, track: newTracker(msg, p.now(), p.logger)}
	t := pm.track

	if err := core.ValidateRawMessage(msg); err != nil {
		t.fail(err)
		return pm
	}
	if err := ctx.Err(); err != nil {
		t.fail(err)
		return pm
	}

	pm.text = p.normalizer.Normalize(msg)
	t.advance(core.StateNormalized)
	if pm.text.Empty {
		t.logger.Info("skipping message without content", "reason", pm.text.EmptyReason)
		t.skip(fmt.Sprintf("%s: %s", core.ErrContentEmpty, pm.text.EmptyReason))
		return pm
	}

	pm.hash = p.contentHash(pm.text)
	previous, err := p.ledger.GetSource(ctx, msg.ID)
	if err != nil {
		t.fail(fmt.Errorf("reading source ledger: %w", err))
		return pm
	}
	pm.previous = previous
	if previous != nil && previous.ContentHash == pm.hash && previous.Model == p.embedder.ModelID() {
		t.outcome.Unchanged = true
		t.outcome.Passages = len(previous.PassageIDs)
		t.advance(core.StateStored)
		return pm
	}

	chunks := p.chunker.Chunk(pm.text, p.chunker.MaxTokens())
	t.advance(core.StateChunked)
	if len(chunks) == 0 {
		t.skip(core.ErrContentEmpty.Error())
		return pm
	}

	passages := make([]core.Passage, len(chunks))
	for i, c := range chunks {
		passages[i] = core.NewPassage(msg.ID, c)
		if c.HardSplit {
			t.logger.Warn("passage was hard split", "ordinal", c.Ordinal, "tokens", c.Tokens)
		}
	}

	embedded, err := p.embedPassages(ctx, pm.text.Subject, passages, t.logger)
	if err != nil {
		t.fail(err)
		return pm
	}
	t.advance(core.StateEmbedded)

	indexedAt := p.now().UTC()
	pm.records = make([]*core.Record, len(embedded))
	for i, ep := range embedded {
		pm.records[i] = &core.Record{
			EmbeddedPassage: ep,
			Sender:          pm.text.Sender,
			Company:         pm.text.Company,
			Subject:         pm.text.Subject,
			Timestamp:       pm.text.Timestamp,
			ContentHash:     pm.hash,
			IndexedAt:       indexedAt,
		}
	}
	t.outcome.Passages = len(pm.records)
	return pm
}
