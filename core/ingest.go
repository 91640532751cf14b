package core

import (
	"fmt"
	"time"
)

// MessageState is the position of a message in the ingestion state machine.
type MessageState int

const (
	StateFetched MessageState = iota + 1
	StateNormalized
	StateChunked
	StateEmbedded
	StateStored
	StateSkipped
	StateFailed
)

var messageStateNames = map[MessageState]string{
	StateFetched:    "fetched",
	StateNormalized: "normalized",
	StateChunked:    "chunked",
	StateEmbedded:   "embedded",
	StateStored:     "stored",
	StateSkipped:    "skipped",
	StateFailed:     "failed",
}

func (s MessageState) String() string {
	if name, ok := messageStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s MessageState) Terminal() bool {
	return s == StateStored || s == StateSkipped || s == StateFailed
}

// validTransitions lists the forward edges of the state machine.
// Any non-terminal state may also move to Failed.
var validTransitions = map[MessageState][]MessageState{
	StateFetched:    {StateNormalized},
	StateNormalized: {StateChunked, StateSkipped, StateStored},
	StateChunked:    {StateEmbedded, StateSkipped},
	StateEmbedded:   {StateStored},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to MessageState) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// MessageOutcome is the result of ingesting one message.
type MessageOutcome struct {
	SourceID  string
	Subject   string
	State     MessageState
	Passages  int
	Unchanged bool   // content hash matched the stored copy; nothing was re-embedded
	Reason    string // skip reason or failure description
	Err       error
}

// BatchSummary reports a whole ingestion run.
type BatchSummary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Fetched    int
	Stored     int
	Unchanged  int
	Skipped    int
	Failed     int
	Passages   int
	Outcomes   []MessageOutcome
	NextCursor Cursor
}

// Add folds one outcome into the counters.
func (s *BatchSummary) Add(o MessageOutcome) {
	s.Outcomes = append(s.Outcomes, o)
	switch o.State {
	case StateStored:
		if o.Unchanged {
			s.Unchanged++
		} else {
			s.Stored++
			s.Passages += o.Passages
		}
	case StateSkipped:
		s.Skipped++
	case StateFailed:
		s.Failed++
	}
}

// Merge adds every counter and outcome of other into s.
func (s *BatchSummary) Merge(other *BatchSummary) {
	if other == nil {
		return
	}
	s.Fetched += other.Fetched
	for _, o := range other.Outcomes {
		s.Add(o)
	}
}

// Cursor is the fetch position of one mail source. It is opaque to the core.
type Cursor struct {
	Source    string
	Position  string
	UpdatedAt time.Time
}

// SourceEntry records what was last indexed for a source message.
type SourceEntry struct {
	SourceID    string
	Subject     string
	ContentHash string
	Model       string
	PassageIDs  []ID
	IndexedAt   time.Time
}

// FailureEntry records a message whose ingestion failed.
type FailureEntry struct {
	SourceID  string
	Subject   string
	Sender    string
	ErrorType string
	Message   string
	Attempts  int
	FailedAt  time.Time
}
