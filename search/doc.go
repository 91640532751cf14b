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

// Package search answers questions from the indexed newsletters.
//
// Answering runs in three stages:
//   - Planner turns the question into retrieval text, filters and a query
//     vector. An optional rewrite service expands the question; when it is
//     missing or fails, the raw question is used.
//   - Retriever queries the record store, caps passages per source message
//     and flags low-confidence results.
//   - Composer asks the generative service for an answer grounded in the
//     retrieved passages and lists the newsletters it cited.
//
// An empty retrieval is answered without calling the generative service.
// A failed embedding or store call yields an explicit "search unavailable"
// answer instead of an error.
package search
