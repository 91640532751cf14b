package core

import (
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for stored passages.
// It is always derived from content so that re-ingestion produces the same IDs.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// PassageID returns the identity of the passage at ordinal within a source message.
func PassageID(sourceID string, ordinal int) ID {
	return IDFromContent(sourceID + "#" + strconv.Itoa(ordinal))
}

// ContentHash fingerprints the given parts. Parts are length-delimited so that
// ("ab", "c") and ("a", "bc") hash differently.
func ContentHash(parts ...string) string {
	h, _ := blake2b.New(16, nil)
	var lenBuf [8]byte
	for _, p := range parts {
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(p)))
		h.Write(lenBuf[:])
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RawMessage is a newsletter as delivered by the fetch collaborator.
// It is never persisted.
type RawMessage struct {
	ID          string
	ThreadID    string
	Sender      string
	Subject     string
	Timestamp   time.Time
	ContentType string // e.g. "text/html" or "text/plain"
	Body        string
}

// IsHTML reports whether the body should be treated as markup.
func (m *RawMessage) IsHTML() bool {
	if strings.Contains(strings.ToLower(m.ContentType), "html") {
		return true
	}
	if m.ContentType != "" {
		return false
	}
	head := strings.ToLower(strings.TrimSpace(m.Body))
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.HasPrefix(head, "<!doctype html") ||
		strings.Contains(head, "<html") ||
		strings.Contains(head, "<body") ||
		strings.Contains(head, "<div") ||
		strings.Contains(head, "<table") ||
		strings.Contains(head, "<p>")
}

// NormalizedText is the clean content of a message plus the metadata that
// travels with every passage derived from it.
type NormalizedText struct {
	SourceID  string
	ThreadID  string
	Sender    string
	Company   string
	Subject   string
	Timestamp time.Time
	Text      string

	// Empty marks messages without meaningful content. Such messages are
	// skipped by ingestion rather than treated as failures.
	Empty       bool
	EmptyReason string
}

// Chunk is a passage before it has been given an identity.
type Chunk struct {
	Ordinal   int
	Text      string
	Tokens    int
	HardSplit bool // a single sentence exceeded the token budget and was cut
}

// Passage is a bounded fragment of one source message.
type Passage struct {
	ID        ID
	SourceID  string
	Ordinal   int
	Text      string
	Tokens    int
	Chars     int
	HardSplit bool
}

// NewPassage assigns the deterministic identity of chunk within sourceID.
func NewPassage(sourceID string, chunk Chunk) Passage {
	return Passage{
		ID:        PassageID(sourceID, chunk.Ordinal),
		SourceID:  sourceID,
		Ordinal:   chunk.Ordinal,
		Text:      chunk.Text,
		Tokens:    chunk.Tokens,
		Chars:     len([]rune(chunk.Text)),
		HardSplit: chunk.HardSplit,
	}
}

// EmbeddedPassage is a Passage with its vector and the model that produced it.
type EmbeddedPassage struct {
	Passage
	Vector []float32
	Model  string
}

// Record is the stored unit, keyed by passage ID.
type Record struct {
	EmbeddedPassage
	Sender      string
	Company     string
	Subject     string
	Timestamp   time.Time // when the source message was sent
	ContentHash string    // hash of the source message content at indexing time
	IndexedAt   time.Time
}

// EmbeddingInput is the text handed to the embedder for a passage.
func EmbeddingInput(subject, text string, subjectPrefix bool) string {
	if !subjectPrefix || strings.TrimSpace(subject) == "" {
		return text
	}
	return "Subject: " + subject + "\n\n" + text
}

// StoreSchema describes the vector space a record store holds.
type StoreSchema struct {
	Dimension int
	Model     string
	CreatedAt time.Time
}

// Compatible reports whether vectors of the given dimension and model may be
// mixed with the ones described by s.
func (s *StoreSchema) Compatible(dimension int, model string) bool {
	return s.Dimension == dimension && s.Model == model
}
