package badger

import (
	"encoding/binary"

	"github.com/poiesic/newsrag/core"
)

const (
	recordPrefix      = "rec:"
	sourceIndexPrefix = "recsrc:"
	storeSchemaKey    = "meta:schema"
	sourceEntryPrefix = "src:"
	failurePrefix     = "fail:"
	cursorPrefix      = "cur:"
	namedSchemaPrefix = "schema:"
)

func makeRecordKey(id core.ID) []byte {
	buf := make([]byte, len(recordPrefix)+8)
	offset := copy(buf, recordPrefix)
	// BigEndian keeps iteration in ID order
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// makePartialSourceIndexKey ends with a zero byte so that source "a" does
// not match the index entries of source "ab".
func makePartialSourceIndexKey(sourceID string) []byte {
	buf := make([]byte, 0, len(sourceIndexPrefix)+len(sourceID)+1)
	buf = append(buf, sourceIndexPrefix...)
	buf = append(buf, sourceID...)
	return append(buf, 0)
}

func makeSourceIndexKey(sourceID string, id core.ID) []byte {
	partial := makePartialSourceIndexKey(sourceID)
	buf := make([]byte, len(partial)+8)
	offset := copy(buf, partial)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// recordIDFromIndexKey extracts the passage ID from a source index key.
func recordIDFromIndexKey(key []byte) (core.ID, bool) {
	if len(key) < 8 {
		return 0, false
	}
	return core.ID(binary.BigEndian.Uint64(key[len(key)-8:])), true
}

func makeSourceEntryKey(sourceID string) []byte {
	return []byte(sourceEntryPrefix + sourceID)
}

func makeFailureKey(sourceID string) []byte {
	return []byte(failurePrefix + sourceID)
}

func makeCursorKey(source string) []byte {
	return []byte(cursorPrefix + source)
}

func makeNamedSchemaKey(name string) []byte {
	return []byte(namedSchemaPrefix + name)
}
