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

import "errors"

// Failure taxonomy shared by the ingestion and query paths.
var (
	// ErrTransientExternal marks a network or timeout failure that may succeed on retry.
	ErrTransientExternal = errors.New("transient external error")

	// ErrEmbeddingUnavailable indicates the embedding service failed after retries.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrStoreUnavailable indicates the record store could not be reached after retries.
	ErrStoreUnavailable = errors.New("record store unavailable")

	// ErrGenerationUnavailable indicates the generative service failed.
	ErrGenerationUnavailable = errors.New("generation service unavailable")

	// ErrSchemaMismatch indicates vectors from incompatible embedding spaces.
	// It requires operator intervention, e.g. re-embedding into a fresh store.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrContentEmpty indicates a message had no meaningful content. It is a skip, not a failure.
	ErrContentEmpty = errors.New("content empty")
)

// Domain validation errors
var (
	// ErrInvalidRawMessage indicates a RawMessage failed validation.
	ErrInvalidRawMessage = errors.New("invalid raw message")

	// ErrInvalidRecord indicates a Record failed validation.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrEmptySourceID indicates the source message ID is missing.
	ErrEmptySourceID = errors.New("source id cannot be empty")

	// ErrInvalidTimestamp indicates a timestamp is missing.
	ErrInvalidTimestamp = errors.New("timestamp cannot be zero")

	// ErrEmptyContent indicates the text field is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrEmptyVector indicates a record carries no embedding.
	ErrEmptyVector = errors.New("vector cannot be empty")

	// ErrEmptyModel indicates a record does not name its embedding model.
	ErrEmptyModel = errors.New("embedding model cannot be empty")
)

// ErrorType names the taxonomy class of err for logs and the failure log.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSchemaMismatch):
		return "schema_mismatch"
	case errors.Is(err, ErrEmbeddingUnavailable):
		return "embedding_unavailable"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrGenerationUnavailable):
		return "generation_unavailable"
	case errors.Is(err, ErrTransientExternal):
		return "transient"
	case errors.Is(err, ErrContentEmpty):
		return "content_empty"
	case errors.Is(err, ErrInvalidRawMessage), errors.Is(err, ErrInvalidRecord):
		return "validation"
	default:
		return "processing"
	}
}
