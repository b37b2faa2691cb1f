// Copyright 2022 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package balancer

import (
	"context"
	"sync"

	"github.com/pingcap-incubator/tinydoc/pkg/namespace"
	"github.com/pingcap-incubator/tinydoc/pkg/opctx"
	"github.com/pingcap-incubator/tinydoc/scheduler/server/catalog"
	"github.com/pingcap-incubator/tinydoc/scheduler/server/core"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// MoveChunkRequest is one migration handed to a MigrationManager.
type MoveChunkRequest struct {
	Namespace     namespace.NamespaceString
	Chunk         core.ChunkType
	ToShard       core.ShardID
	Throttle      SecondaryThrottle
	WaitForDelete bool
	ForceJumbo    bool
}

// MigrationManager runs migrations.
type MigrationManager interface {
	ExecuteMoveChunk(op *opctx.OperationContext, req *MoveChunkRequest) error
}

// RangeDeleter removes the documents a donor shard no longer owns.
type RangeDeleter interface {
	DeleteRange(ctx context.Context, nss namespace.NamespaceString, shard core.ShardID, r core.ChunkRange) error
}

// RangeDeleterFunc adapts a function to RangeDeleter.
type RangeDeleterFunc func(ctx context.Context, nss namespace.NamespaceString, shard core.ShardID, r core.ChunkRange) error

// DeleteRange calls f.
func (f RangeDeleterFunc) DeleteRange(ctx context.Context, nss namespace.NamespaceString, shard core.ShardID, r core.ChunkRange) error {
	return f(ctx, nss, shard, r)
}

// LocalMigrationManager commits migrations straight to the catalog and
// then cleans up the donor's orphaned range, synchronously when the
// request waits for delete and in the background otherwise.
type LocalMigrationManager struct {
	cache   *catalog.Cache
	deleter RangeDeleter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLocalMigrationManager creates a migration manager. A nil deleter only
// logs the ranges to delete.
func NewLocalMigrationManager(cache *catalog.Cache, deleter RangeDeleter) *LocalMigrationManager {
	if deleter == nil {
		deleter = RangeDeleterFunc(logRangeDeletion)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalMigrationManager{
		cache:   cache,
		deleter: deleter,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func logRangeDeletion(_ context.Context, nss namespace.NamespaceString, shard core.ShardID, r core.ChunkRange) error {
	log.Info("orphaned range scheduled for deletion",
		zap.String("namespace", nss.String()),
		zap.String("shard", string(shard)),
		zap.Stringer("range", r))
	return nil
}

// ExecuteMoveChunk implements MigrationManager.
func (m *LocalMigrationManager) ExecuteMoveChunk(op *opctx.OperationContext, req *MoveChunkRequest) error {
	log.Info("moving chunk",
		zap.String("namespace", req.Namespace.String()),
		zap.Stringer("range", req.Chunk.Range()),
		zap.String("from", string(req.Chunk.Shard)),
		zap.String("to", string(req.ToShard)),
		zap.Stringer("secondary-throttle", req.Throttle),
		zap.Bool("wait-for-delete", req.WaitForDelete),
		zap.Bool("force-jumbo", req.ForceJumbo))

	if _, err := m.cache.CommitChunkMigration(op, req.Namespace, req.Chunk, req.ToShard); err != nil {
		return err
	}

	donor, r := req.Chunk.Shard, req.Chunk.Range()
	if req.WaitForDelete {
		err := m.deleter.DeleteRange(op.Context(), req.Namespace, donor, r)
		rangeDeletionCounter.WithLabelValues("sync", resultLabel(err)).Inc()
		return err
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		err := m.deleter.DeleteRange(m.ctx, req.Namespace, donor, r)
		rangeDeletionCounter.WithLabelValues("async", resultLabel(err)).Inc()
		if err != nil {
			log.Warn("failed to delete orphaned range",
				zap.String("namespace", req.Namespace.String()),
				zap.String("shard", string(donor)),
				zap.Stringer("range", r),
				zap.Error(err))
		}
	}()
	return nil
}

// Close cancels pending background deletions and waits for them.
func (m *LocalMigrationManager) Close() {
	m.cancel()
	m.wg.Wait()
}

func resultLabel(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}
