package storage

import (
	"fmt"

	"github.com/poiesic/newsrag/core"
)

func MarshalID(id core.ID) []byte {
	buf := make([]byte, core.IDMUS.Size(id))
	core.IDMUS.Marshal(id, buf)
	return buf
}

func UnmarshalID(data []byte) (core.ID, error) {
	id, _, err := core.IDMUS.Unmarshal(data)
	return id, wrapDecode(err)
}

func MarshalRecord(record *core.Record) []byte {
	buf := make([]byte, core.RecordMUS.Size(*record))
	core.RecordMUS.Marshal(*record, buf)
	return buf
}

func UnmarshalRecord(data []byte) (*core.Record, error) {
	record, _, err := core.RecordMUS.Unmarshal(data)
	if err != nil {
		return nil, wrapDecode(err)
	}
	return &record, nil
}

func MarshalSourceEntry(entry *core.SourceEntry) []byte {
	buf := make([]byte, core.SourceEntryMUS.Size(*entry))
	core.SourceEntryMUS.Marshal(*entry, buf)
	return buf
}

func UnmarshalSourceEntry(data []byte) (*core.SourceEntry, error) {
	entry, _, err := core.SourceEntryMUS.Unmarshal(data)
	if err != nil {
		return nil, wrapDecode(err)
	}
	return &entry, nil
}

func MarshalFailureEntry(entry *core.FailureEntry) []byte {
	buf := make([]byte, core.FailureEntryMUS.Size(*entry))
	core.FailureEntryMUS.Marshal(*entry, buf)
	return buf
}

func UnmarshalFailureEntry(data []byte) (*core.FailureEntry, error) {
	entry, _, err := core.FailureEntryMUS.Unmarshal(data)
	if err != nil {
		return nil, wrapDecode(err)
	}
	return &entry, nil
}

func MarshalCursor(cursor *core.Cursor) []byte {
	buf := make([]byte, core.CursorMUS.Size(*cursor))
	core.CursorMUS.Marshal(*cursor, buf)
	return buf
}

func UnmarshalCursor(data []byte) (*core.Cursor, error) {
	cursor, _, err := core.CursorMUS.Unmarshal(data)
	if err != nil {
		return nil, wrapDecode(err)
	}
	return &cursor, nil
}

func MarshalSchema(schema *core.StoreSchema) []byte {
	buf := make([]byte, core.StoreSchemaMUS.Size(*schema))
	core.StoreSchemaMUS.Marshal(*schema, buf)
	return buf
}

func UnmarshalSchema(data []byte) (*core.StoreSchema, error) {
	schema, _, err := core.StoreSchemaMUS.Unmarshal(data)
	if err != nil {
		return nil, wrapDecode(err)
	}
	return &schema, nil
}

func wrapDecode(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrSerializationFailed, err)
}
