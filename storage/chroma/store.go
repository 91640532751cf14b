// Package chroma stores records in a Chroma collection.
//
// Chroma holds the vectors, texts and metadata. Because a collection cannot
// record which model produced its vectors, the schema is kept in a
// storage.SchemaRepository under the collection name and checked before
// every write.
package chroma

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/storage"
)

const (
	// DefaultCollection is the collection used when none is configured.
	DefaultCollection = "newsletters"

	scanPageSize = 200

	// senderOverfetch widens the candidate set when the sender filter has to
	// be applied after the query.
	senderOverfetch = 4
)

// Metadata keys.
const (
	keySourceID    = "source_id"
	keyOrdinal     = "ordinal"
	keyTokens      = "tokens"
	keyChars       = "chars"
	keyHardSplit   = "hard_split"
	keyModel       = "model"
	keySender      = "sender"
	keyCompany     = "company"
	keySubject     = "subject"
	keyTimestamp   = "timestamp"
	keyContentHash = "content_hash"
	keyIndexedAt   = "indexed_at"
)

// Config selects the Chroma server and collection.
type Config struct {
	URL        string
	Collection string
}

// Store is a storage.RecordStore backed by a Chroma collection.
type Store struct {
	client     chroma.Client
	collection chroma.Collection
	name       string
	schemas    storage.SchemaRepository
	logger     *slog.Logger
	now        func() time.Time

	writeMu sync.Mutex
}

var _ storage.RecordStore = (*Store)(nil)

// NewStore connects to the server and opens or creates the collection.
func NewStore(ctx context.Context, cfg Config, schemas storage.SchemaRepository, logger *slog.Logger) (*Store, error) {
	if schemas == nil {
		return nil, fmt.Errorf("%w: schema repository is required", storage.ErrInvalidQuery)
	}
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.Collection
	if name == "" {
		name = DefaultCollection
	}

	client, err := chroma.NewHTTPClient(chroma.WithBaseURL(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("failed to create Chroma client: %w", err)
	}
	collection, err := client.GetOrCreateCollection(ctx, name)
	if err != nil {
		client.Close()
		return nil, unavailable("open collection", err)
	}

	return &Store{
		client:     client,
		collection: collection,
		name:       name,
		schemas:    schemas,
		logger:     logger.With("component", "chroma-record-store", "collection", name),
		now:        time.Now,
	}, nil
}

// Close closes the HTTP client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Upsert checks records against the saved schema and writes them in one request.
func (s *Store) Upsert(ctx context.Context, records ...*core.Record) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if err := core.ValidateRecord(r); err != nil {
			return err
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	schema, err := s.schemas.LoadSchema(ctx, s.name)
	if err != nil {
		return err
	}
	next, err := core.CheckSchema(schema, records)
	if err != nil {
		s.logger.Error("rejected batch with incompatible vectors", "records", len(records), "err", err)
		return err
	}

	ids := make([]chroma.DocumentID, len(records))
	vectors := make([]embeddings.Embedding, len(records))
	texts := make([]string, len(records))
	metadatas := make([]chroma.DocumentMetadata, len(records))
	for i, r := range records {
		ids[i] = chroma.DocumentID(formatID(r.ID))
		vectors[i] = embeddings.NewEmbeddingFromFloat32(r.Vector)
		texts[i] = r.Text
		metadatas[i], err = chroma.NewDocumentMetadataFromMap(recordMetadata(r))
		if err != nil {
			return fmt.Errorf("failed to create metadata: %w", err)
		}
	}

	err = s.collection.Upsert(ctx,
		chroma.WithIDs(ids...),
		chroma.WithEmbeddings(vectors...),
		chroma.WithTexts(texts...),
		chroma.WithMetadatas(metadatas...),
	)
	if err != nil {
		return unavailable("upsert", err)
	}

	if schema == nil {
		next.CreatedAt = s.now().UTC()
		if err := s.schemas.SaveSchema(ctx, s.name, next); err != nil {
			return err
		}
		s.logger.Info("initialized store schema", "dimension", next.Dimension, "model", next.Model)
	}
	return nil
}

// DeleteBySource removes every document whose source_id matches.
func (s *Store) DeleteBySource(ctx context.Context, sourceID string) error {
	if sourceID == "" {
		return core.ErrEmptySourceID
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.collection.Delete(ctx, chroma.WithWhereDelete(chroma.EqString(keySourceID, sourceID)))
	if err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// Query runs a nearest-neighbor query. Company and date filters are pushed
// to Chroma; the sender substring filter is applied to the returned rows.
func (s *Store) Query(ctx context.Context, vector []float32, topK int, filters core.Filters) ([]*core.ScoredRecord, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: %w", storage.ErrInvalidQuery, core.ErrEmptyVector)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", storage.ErrInvalidQuery, topK)
	}

	schema, err := s.schemas.LoadSchema(ctx, s.name)
	if err != nil {
		return nil, err
	}
	if schema == nil {
		return nil, nil
	}
	if len(vector) != schema.Dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, store holds %d",
			core.ErrSchemaMismatch, len(vector), schema.Dimension)
	}

	n := topK
	if filters.Sender != "" {
		n = topK * senderOverfetch
	}
	opts := []chroma.CollectionQueryOption{
		chroma.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(vector)),
		chroma.WithNResults(n),
		chroma.WithIncludeQuery(chroma.IncludeDocuments, chroma.IncludeMetadatas, chroma.IncludeDistances, chroma.IncludeEmbeddings),
	}
	if where := whereClause(filters); where != nil {
		opts = append(opts, chroma.WithWhereQuery(where))
	}

	result, err := s.collection.Query(ctx, opts...)
	if err != nil {
		return nil, unavailable("query", err)
	}
	if result == nil || result.CountGroups() == 0 {
		return nil, nil
	}

	idGroups := result.GetIDGroups()
	if len(idGroups) == 0 {
		return nil, nil
	}
	docs := firstGroup(result.GetDocumentsGroups())
	metas := firstGroup(result.GetMetadatasGroups())
	dists := firstGroup(result.GetDistancesGroups())
	vecs := firstGroup(result.GetEmbeddingsGroups())

	var scored []*core.ScoredRecord
	for i, id := range idGroups[0] {
		if i >= len(metas) || i >= len(dists) {
			break
		}
		record, err := decodeRecord(string(id), documentText(docs, i), metas[i], embeddingAt(vecs, i))
		if err != nil {
			s.logger.Warn("skipping undecodable document", "id", id, "err", err)
			continue
		}
		if !filters.Match(record) {
			continue
		}
		scored = append(scored, &core.ScoredRecord{Record: record, Score: ScoreFromDistance(float64(dists[i]))})
	}

	core.SortScored(scored)
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// Schema returns the schema saved for the collection.
func (s *Store) Schema(ctx context.Context) (*core.StoreSchema, error) {
	return s.schemas.LoadSchema(ctx, s.name)
}

// Scan pages through the collection.
func (s *Store) Scan(ctx context.Context, fn func(*core.Record) error) error {
	for offset := 0; ; offset += scanPageSize {
		page, err := s.collection.Get(ctx,
			chroma.WithLimitGet(scanPageSize),
			chroma.WithOffsetGet(offset),
			chroma.WithIncludeGet(chroma.IncludeDocuments, chroma.IncludeMetadatas, chroma.IncludeEmbeddings),
		)
		if err != nil {
			return unavailable("get", err)
		}
		ids := page.GetIDs()
		docs := page.GetDocuments()
		metas := page.GetMetadatas()
		vecs := page.GetEmbeddings()
		for i, id := range ids {
			if i >= len(metas) {
				break
			}
			record, err := decodeRecord(string(id), documentText(docs, i), metas[i], embeddingAt(vecs, i))
			if err != nil {
				return err
			}
			if err := fn(record); err != nil {
				return err
			}
		}
		if len(ids) < scanPageSize {
			return nil
		}
	}
}

// Count returns the number of documents in the collection.
func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.collection.Count(ctx)
	if err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: chroma %s: %w", core.ErrStoreUnavailable, op, err)
}

func formatID(id core.ID) string {
	return strconv.FormatUint(uint64(id), 10)
}

func parseID(s string) (core.ID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: document id %q: %w", storage.ErrSerializationFailed, s, err)
	}
	return core.ID(v), nil
}

// ScoreFromDistance converts Chroma's default squared L2 distance between
// unit vectors into cosine similarity.
func ScoreFromDistance(d float64) float32 {
	return float32(1 - d/2)
}

func recordMetadata(r *core.Record) map[string]any {
	return map[string]any{
		keySourceID:    r.SourceID,
		keyOrdinal:     r.Ordinal,
		keyTokens:      r.Tokens,
		keyChars:       r.Chars,
		keyHardSplit:   r.HardSplit,
		keyModel:       r.Model,
		keySender:      r.Sender,
		keyCompany:     strings.ToLower(r.Company),
		keySubject:     r.Subject,
		keyTimestamp:   int(r.Timestamp.Unix()),
		keyContentHash: r.ContentHash,
		keyIndexedAt:   int(r.IndexedAt.Unix()),
	}
}

// metadataReader is the subset of chroma.DocumentMetadata used for decoding.
type metadataReader interface {
	GetString(key string) (string, bool)
	GetInt(key string) (int64, bool)
	GetBool(key string) (bool, bool)
}

func decodeRecord(id, text string, meta metadataReader, vector []float32) (*core.Record, error) {
	if meta == nil {
		return nil, fmt.Errorf("%w: document %s has no metadata", storage.ErrSerializationFailed, id)
	}
	recordID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	r := &core.Record{}
	r.ID = recordID
	r.Text = text
	r.Vector = vector
	r.SourceID, _ = meta.GetString(keySourceID)
	r.Model, _ = meta.GetString(keyModel)
	r.Sender, _ = meta.GetString(keySender)
	r.Company, _ = meta.GetString(keyCompany)
	r.Subject, _ = meta.GetString(keySubject)
	r.ContentHash, _ = meta.GetString(keyContentHash)
	r.HardSplit, _ = meta.GetBool(keyHardSplit)
	if v, ok := meta.GetInt(keyOrdinal); ok {
		r.Ordinal = int(v)
	}
	if v, ok := meta.GetInt(keyTokens); ok {
		r.Tokens = int(v)
	}
	if v, ok := meta.GetInt(keyChars); ok {
		r.Chars = int(v)
	}
	if v, ok := meta.GetInt(keyTimestamp); ok {
		r.Timestamp = time.Unix(v, 0).UTC()
	}
	if v, ok := meta.GetInt(keyIndexedAt); ok {
		r.IndexedAt = time.Unix(v, 0).UTC()
	}
	if r.SourceID == "" {
		return nil, fmt.Errorf("%w: document %s: %w", storage.ErrSerializationFailed, id, core.ErrEmptySourceID)
	}
	return r, nil
}

// whereClause translates the filters Chroma can evaluate. Timestamps are
// stored in whole Unix seconds. Since is inclusive and Until exclusive, so
// they become >= and < on those seconds.
func whereClause(f core.Filters) chroma.WhereClause {
	var clauses []chroma.WhereClause
	if f.Company != "" {
		clauses = append(clauses, chroma.EqString(keyCompany, strings.ToLower(f.Company)))
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, chroma.GteInt(keyTimestamp, int(f.Since.Unix())))
	}
	if !f.Until.IsZero() {
		clauses = append(clauses, chroma.LtInt(keyTimestamp, int(f.Until.Unix())))
	}
	switch len(clauses) {
	case 0:
		return nil
	case 1:
		return clauses[0]
	default:
		return chroma.And(clauses...)
	}
}

func firstGroup[T any](groups []T) T {
	var zero T
	if len(groups) == 0 {
		return zero
	}
	return groups[0]
}

func documentText(docs chroma.Documents, i int) string {
	if i >= len(docs) || docs[i] == nil {
		return ""
	}
	return docs[i].ContentString()
}

func embeddingAt(vecs embeddings.Embeddings, i int) []float32 {
	if i >= len(vecs) || vecs[i] == nil {
		return nil
	}
	return vecs[i].ContentAsFloat32()
}
