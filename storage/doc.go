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


// Package storage provides the durable record layer for doctier.
//
// Document content never lives here. This package only keeps the records that
// say where content lives (tier, scope ids, token count, expiry) so that
// deletion, listings and restart reconciliation can find it again.
//
// # Architecture
//
//   - DocumentRepository: document records with conversation, hash and expiry indexes
//   - CheckpointRepository: last-run bookkeeping for background processors
//
// The badger subpackage implements both on top of a single BadgerDB instance.
//
// Use in tests with in-memory storage:
//
//	docs, checkpoints, backend, err := badger.NewMemoryRepositories()
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer backend.Close()
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
