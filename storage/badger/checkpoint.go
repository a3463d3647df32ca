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


package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/doctier/core"
	"github.com/poiesic/doctier/storage"
)

// CheckpointRepository stores one checkpoint per background processor,
// such as the expiry sweep, so its last run survives restarts.
type CheckpointRepository struct {
	backend *Backend
	now     func() time.Time
}

var _ storage.CheckpointRepository = (*CheckpointRepository)(nil)

func NewCheckpointRepository(backend *Backend) *CheckpointRepository {
	return &CheckpointRepository{
		backend: backend,
		now:     time.Now,
	}
}

// SaveCheckpoint replaces the processor's checkpoint. LastRun defaults to
// the save time.
func (r *CheckpointRepository) SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error {
	if checkpoint == nil || checkpoint.ProcessorType == "" {
		return fmt.Errorf("%w: processor type is required", core.ErrInvalidCheckpoint)
	}
	now := r.now().UTC()
	if checkpoint.LastRun.IsZero() {
		checkpoint.LastRun = now
	}
	checkpoint.UpdatedAt = now
	data := storage.MarshalCheckpoint(checkpoint)
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		return tx.Set(makeCheckpointKey(checkpoint.ProcessorType), data)
	})
}

// LoadCheckpoint returns nil, nil when the processor has never saved one.
func (r *CheckpointRepository) LoadCheckpoint(ctx context.Context, processorType string) (*core.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var checkpoint *core.Checkpoint
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeCheckpointKey(processorType))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) (err error) {
			checkpoint, err = storage.UnmarshalCheckpoint(val)
			return err
		})
	}, false)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", processorType, err)
	}
	return checkpoint, nil
}
