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


// Package storage provides the storage abstraction layer for newsrag.
//
// This package defines the interfaces that decouple the record store and
// the ingestion ledger from business logic, so BadgerDB and Chroma backends
// can be used interchangeably.
//
// # Constructor Return Type Pattern
//
// Public constructors in backend packages return interfaces:
//
//	store, err := badger.NewRecordStore(backend)  // returns storage.RecordStore
//
// Internal constructors may return concrete types since they're only used
// within the implementation package.
//
// # Architecture
//
//   - RecordStore: embedded passages, similarity queries and the schema guard
//   - SourceLedger: which messages are indexed and their content hashes
//   - FailureLog: messages to retry on the next run
//   - CursorRepository: fetch positions per mail source
//   - SchemaRepository: schemas for stores without their own metadata
//
// # Thread Safety
//
// All implementations must be safe for concurrent use.
//
// # Context Support
//
// All repository methods accept context.Context for cancellation
// and timeout support.
package storage
