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


package core

import (
	"fmt"
	"strings"
)

// ValidateRawMessage checks a message at the ingestion boundary.
//
// Validation rules:
//   - ID must not be blank
//   - Timestamp must be set
//
// An empty body is not an error here; the normalizer reports it as empty content.
func ValidateRawMessage(msg *RawMessage) error {
	if msg == nil {
		return fmt.Errorf("%w: message is nil", ErrInvalidRawMessage)
	}

	if strings.TrimSpace(msg.ID) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidRawMessage, ErrEmptySourceID)
	}

	if msg.Timestamp.IsZero() {
		return fmt.Errorf("%w: %w", ErrInvalidRawMessage, ErrInvalidTimestamp)
	}

	return nil
}

// ValidateRecord checks a record before it is written.
//
// Validation rules:
//   - ID and SourceID must be set
//   - Text must not be empty
//   - Vector must not be empty and Model must be named
func ValidateRecord(record *Record) error {
	if record == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidRecord)
	}

	if record.ID == 0 {
		return fmt.Errorf("%w: id is zero", ErrInvalidRecord)
	}

	if record.SourceID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, ErrEmptySourceID)
	}

	if record.Text == "" {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, ErrEmptyContent)
	}

	if len(record.Vector) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, ErrEmptyVector)
	}

	if record.Model == "" {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, ErrEmptyModel)
	}

	return nil
}

// CheckSchema verifies that every record matches schema. When schema is nil the
// records must agree with each other. It returns the schema the batch implies.
func CheckSchema(schema *StoreSchema, records []*Record) (*StoreSchema, error) {
	if len(records) == 0 {
		return schema, nil
	}
	want := schema
	if want == nil {
		want = &StoreSchema{Dimension: len(records[0].Vector), Model: records[0].Model}
	}
	for _, r := range records {
		if !want.Compatible(len(r.Vector), r.Model) {
			return nil, fmt.Errorf("%w: record %d has dimension %d from model %q, store holds dimension %d from model %q",
				ErrSchemaMismatch, r.ID, len(r.Vector), r.Model, want.Dimension, want.Model)
		}
	}
	return want, nil
}
