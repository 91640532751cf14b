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

package reembed

import (
	"context"

	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/storage"
)

// DefaultBatchSize is the number of records handed to fn per call.
const DefaultBatchSize = 64

// RecordIterator walks every record of a store in fixed-size batches.
type RecordIterator struct {
	store     storage.RecordStore
	batchSize int
}

// NewRecordIterator creates an iterator. A non-positive batchSize selects
// DefaultBatchSize.
func NewRecordIterator(store storage.RecordStore, batchSize int) *RecordIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &RecordIterator{store: store, batchSize: batchSize}
}

// BatchSize returns the effective batch size.
func (it *RecordIterator) BatchSize() int {
	return it.batchSize
}

// ForEach calls fn for each batch of records. Records are read in full
// before the first call, so fn may write to other stores sharing the
// source's backend. Iteration stops at the first error from fn and when
// ctx is done.
func (it *RecordIterator) ForEach(ctx context.Context, fn func([]*core.Record) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var records []*core.Record
	err := it.store.Scan(ctx, func(r *core.Record) error {
		records = append(records, r)
		return nil
	})
	if err != nil {
		return err
	}

	for start := 0; start < len(records); start += it.batchSize {
		end := min(start+it.batchSize, len(records))
		if err := fn(records[start:end]); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}
