package core

import (
	"errors"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// Serializers for every persisted entity. Fields are written in declaration
// order; appending fields is the only compatible change.
var (
	IDMUS           = idMUS{}
	RecordMUS       = recordMUS{}
	SourceEntryMUS  = sourceEntryMUS{}
	FailureEntryMUS = failureEntryMUS{}
	CursorMUS       = cursorMUS{}
	StoreSchemaMUS  = storeSchemaMUS{}
)

// ErrCorruptData indicates a serialized value could not be decoded.
var ErrCorruptData = errors.New("corrupt serialized data")

const float32Size = 4

type idMUS struct{}

func (idMUS) Size(v ID) int { return varint.Uint64.Size(uint64(v)) }

func (idMUS) Marshal(v ID, bs []byte) int { return varint.Uint64.Marshal(uint64(v), bs) }

func (idMUS) Unmarshal(bs []byte) (ID, int, error) {
	u, n, err := varint.Uint64.Unmarshal(bs)
	return ID(u), n, err
}

type recordMUS struct{}

func (recordMUS) Size(v Record) int {
	return varint.Uint64.Size(uint64(v.ID)) +
		ord.String.Size(v.SourceID) +
		varint.Int.Size(v.Ordinal) +
		ord.String.Size(v.Text) +
		varint.Int.Size(v.Tokens) +
		varint.Int.Size(v.Chars) +
		ord.Bool.Size(v.HardSplit) +
		sizeFloats(v.Vector) +
		ord.String.Size(v.Model) +
		ord.String.Size(v.Sender) +
		ord.String.Size(v.Company) +
		ord.String.Size(v.Subject) +
		sizeTime(v.Timestamp) +
		ord.String.Size(v.ContentHash) +
		sizeTime(v.IndexedAt)
}

func (recordMUS) Marshal(v Record, bs []byte) int {
	w := musWriter{bs: bs}
	w.uint64(uint64(v.ID))
	w.str(v.SourceID)
	w.int(v.Ordinal)
	w.str(v.Text)
	w.int(v.Tokens)
	w.int(v.Chars)
	w.bool(v.HardSplit)
	w.floats(v.Vector)
	w.str(v.Model)
	w.str(v.Sender)
	w.str(v.Company)
	w.str(v.Subject)
	w.time(v.Timestamp)
	w.str(v.ContentHash)
	w.time(v.IndexedAt)
	return w.n
}

func (recordMUS) Unmarshal(bs []byte) (Record, int, error) {
	r := musReader{bs: bs}
	var v Record
	v.ID = ID(r.uint64())
	v.SourceID = r.str()
	v.Ordinal = r.int()
	v.Text = r.str()
	v.Tokens = r.int()
	v.Chars = r.int()
	v.HardSplit = r.bool()
	v.Vector = r.floats()
	v.Model = r.str()
	v.Sender = r.str()
	v.Company = r.str()
	v.Subject = r.str()
	v.Timestamp = r.time()
	v.ContentHash = r.str()
	v.IndexedAt = r.time()
	return v, r.n, r.err
}

type sourceEntryMUS struct{}

func (sourceEntryMUS) Size(v SourceEntry) int {
	size := ord.String.Size(v.SourceID) +
		ord.String.Size(v.Subject) +
		ord.String.Size(v.ContentHash) +
		ord.String.Size(v.Model) +
		varint.Int.Size(len(v.PassageIDs)) +
		sizeTime(v.IndexedAt)
	for _, id := range v.PassageIDs {
		size += varint.Uint64.Size(uint64(id))
	}
	return size
}

func (sourceEntryMUS) Marshal(v SourceEntry, bs []byte) int {
	w := musWriter{bs: bs}
	w.str(v.SourceID)
	w.str(v.Subject)
	w.str(v.ContentHash)
	w.str(v.Model)
	w.int(len(v.PassageIDs))
	for _, id := range v.PassageIDs {
		w.uint64(uint64(id))
	}
	w.time(v.IndexedAt)
	return w.n
}

func (sourceEntryMUS) Unmarshal(bs []byte) (SourceEntry, int, error) {
	r := musReader{bs: bs}
	var v SourceEntry
	v.SourceID = r.str()
	v.Subject = r.str()
	v.ContentHash = r.str()
	v.Model = r.str()
	count := r.length(1)
	if count > 0 {
		v.PassageIDs = make([]ID, count)
		for i := range v.PassageIDs {
			v.PassageIDs[i] = ID(r.uint64())
		}
	}
	v.IndexedAt = r.time()
	return v, r.n, r.err
}

type failureEntryMUS struct{}

func (failureEntryMUS) Size(v FailureEntry) int {
	return ord.String.Size(v.SourceID) +
		ord.String.Size(v.Subject) +
		ord.String.Size(v.Sender) +
		ord.String.Size(v.ErrorType) +
		ord.String.Size(v.Message) +
		varint.Int.Size(v.Attempts) +
		sizeTime(v.FailedAt)
}

func (failureEntryMUS) Marshal(v FailureEntry, bs []byte) int {
	w := musWriter{bs: bs}
	w.str(v.SourceID)
	w.str(v.Subject)
	w.str(v.Sender)
	w.str(v.ErrorType)
	w.str(v.Message)
	w.int(v.Attempts)
	w.time(v.FailedAt)
	return w.n
}

func (failureEntryMUS) Unmarshal(bs []byte) (FailureEntry, int, error) {
	r := musReader{bs: bs}
	var v FailureEntry
	v.SourceID = r.str()
	v.Subject = r.str()
	v.Sender = r.str()
	v.ErrorType = r.str()
	v.Message = r.str()
	v.Attempts = r.int()
	v.FailedAt = r.time()
	return v, r.n, r.err
}

type cursorMUS struct{}

func (cursorMUS) Size(v Cursor) int {
	return ord.String.Size(v.Source) + ord.String.Size(v.Position) + sizeTime(v.UpdatedAt)
}

func (cursorMUS) Marshal(v Cursor, bs []byte) int {
	w := musWriter{bs: bs}
	w.str(v.Source)
	w.str(v.Position)
	w.time(v.UpdatedAt)
	return w.n
}

func (cursorMUS) Unmarshal(bs []byte) (Cursor, int, error) {
	r := musReader{bs: bs}
	var v Cursor
	v.Source = r.str()
	v.Position = r.str()
	v.UpdatedAt = r.time()
	return v, r.n, r.err
}

type storeSchemaMUS struct{}

func (storeSchemaMUS) Size(v StoreSchema) int {
	return varint.Int.Size(v.Dimension) + ord.String.Size(v.Model) + sizeTime(v.CreatedAt)
}

func (storeSchemaMUS) Marshal(v StoreSchema, bs []byte) int {
	w := musWriter{bs: bs}
	w.int(v.Dimension)
	w.str(v.Model)
	w.time(v.CreatedAt)
	return w.n
}

func (storeSchemaMUS) Unmarshal(bs []byte) (StoreSchema, int, error) {
	r := musReader{bs: bs}
	var v StoreSchema
	v.Dimension = r.int()
	v.Model = r.str()
	v.CreatedAt = r.time()
	return v, r.n, r.err
}

// Times are stored as Unix microseconds; 0 stands for the zero time.
func timeToMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func microsToTime(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}

func sizeTime(t time.Time) int { return varint.Int64.Size(timeToMicros(t)) }

func sizeFloats(v []float32) int {
	return varint.Int.Size(len(v)) + len(v)*float32Size
}

type musWriter struct {
	bs []byte
	n  int
}

func (w *musWriter) str(v string)     { w.n += ord.String.Marshal(v, w.bs[w.n:]) }
func (w *musWriter) int(v int)        { w.n += varint.Int.Marshal(v, w.bs[w.n:]) }
func (w *musWriter) uint64(v uint64)  { w.n += varint.Uint64.Marshal(v, w.bs[w.n:]) }
func (w *musWriter) bool(v bool)      { w.n += ord.Bool.Marshal(v, w.bs[w.n:]) }
func (w *musWriter) time(v time.Time) { w.n += varint.Int64.Marshal(timeToMicros(v), w.bs[w.n:]) }

func (w *musWriter) floats(v []float32) {
	w.int(len(v))
	for _, f := range v {
		w.n += raw.Float32.Marshal(f, w.bs[w.n:])
	}
}

// musReader decodes fields in sequence and keeps the first error.
type musReader struct {
	bs  []byte
	n   int
	err error
}

func (r *musReader) str() (v string) {
	if r.err != nil {
		return
	}
	var n int
	v, n, r.err = ord.String.Unmarshal(r.bs[r.n:])
	r.n += n
	return
}

func (r *musReader) int() (v int) {
	if r.err != nil {
		return
	}
	var n int
	v, n, r.err = varint.Int.Unmarshal(r.bs[r.n:])
	r.n += n
	return
}

func (r *musReader) uint64() (v uint64) {
	if r.err != nil {
		return
	}
	var n int
	v, n, r.err = varint.Uint64.Unmarshal(r.bs[r.n:])
	r.n += n
	return
}

func (r *musReader) bool() (v bool) {
	if r.err != nil {
		return
	}
	var n int
	v, n, r.err = ord.Bool.Unmarshal(r.bs[r.n:])
	r.n += n
	return
}

func (r *musReader) time() time.Time {
	if r.err != nil {
		return time.Time{}
	}
	us, n, err := varint.Int64.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return microsToTime(us)
}

// length reads a collection length and checks that at least minElem bytes per
// element remain.
func (r *musReader) length(minElem int) int {
	count := r.int()
	if r.err != nil {
		return 0
	}
	if count < 0 || count*minElem > len(r.bs)-r.n {
		r.err = ErrCorruptData
		return 0
	}
	return count
}

func (r *musReader) floats() []float32 {
	count := r.length(float32Size)
	if r.err != nil || count == 0 {
		return nil
	}
	v := make([]float32, count)
	for i := range v {
		var n int
		v[i], n, r.err = raw.Float32.Unmarshal(r.bs[r.n:])
		r.n += n
		if r.err != nil {
			return nil
		}
	}
	return v
}
