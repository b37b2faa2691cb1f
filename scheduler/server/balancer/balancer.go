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

// Package balancer accepts chunk migration requests and hands them to a
// migration manager.
package balancer

import (
	"bytes"
	"sync"
	"time"

	"github.com/juju/ratelimit"
	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap-incubator/tinydoc/pkg/namespace"
	"github.com/pingcap-incubator/tinydoc/pkg/opctx"
	"github.com/pingcap-incubator/tinydoc/scheduler/server/catalog"
	"github.com/pingcap-incubator/tinydoc/scheduler/server/config"
	"github.com/pingcap-incubator/tinydoc/scheduler/server/core"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Balancer serializes migrations per chunk and limits the rate at which
// destination shards receive them.
type Balancer struct {
	sync.RWMutex
	cache       *catalog.Cache
	opt         *config.ClusterOption
	manager     MigrationManager
	inflight    map[string]struct{}
	shardsLimit map[core.ShardID]*shardLimit
}

type shardLimit struct {
	rate   float64
	bucket *ratelimit.Bucket
}

// NewBalancer creates a balancer.
func NewBalancer(cache *catalog.Cache, opt *config.ClusterOption, manager MigrationManager) *Balancer {
	return &Balancer{
		cache:       cache,
		opt:         opt,
		manager:     manager,
		inflight:    make(map[string]struct{}),
		shardsLimit: make(map[core.ShardID]*shardLimit),
	}
}

// MoveSingleChunk moves chunk to toShard. chunk.Version carries the
// collection version the caller routed with. A chunk already on toShard is
// left alone. Jumbo chunks, flagged or larger than the max chunk size, only
// move with forceJumbo.
func (b *Balancer) MoveSingleChunk(op *opctx.OperationContext, nss namespace.NamespaceString, chunk core.ChunkType,
	toShard core.ShardID, throttle SecondaryThrottle, waitForDelete, forceJumbo bool) error {
	err := b.moveSingleChunk(op, nss, chunk, toShard, throttle, waitForDelete, forceJumbo)
	if err != nil {
		migrationCounter.WithLabelValues(errcode.CodeOf(err).String()).Inc()
	}
	return err
}

func (b *Balancer) moveSingleChunk(op *opctx.OperationContext, nss namespace.NamespaceString, chunk core.ChunkType,
	toShard core.ShardID, throttle SecondaryThrottle, waitForDelete, forceJumbo bool) error {
	if err := op.CheckForInterrupt(); err != nil {
		return err
	}
	if chunk.Shard == toShard {
		log.Info("chunk is already on the destination shard",
			zap.String("namespace", nss.String()),
			zap.Stringer("range", chunk.Range()),
			zap.String("shard", string(toShard)))
		migrationCounter.WithLabelValues("noop").Inc()
		return nil
	}

	routing, err := b.cache.GetShardedCollectionRoutingInfo(op, nss)
	if err != nil {
		return err
	}
	if !chunk.Version.IsSameCollection(routing.Version()) {
		return errcode.Errorf(errcode.StaleEpoch, "collection %s was dropped and recreated", nss)
	}
	current, err := routing.FindIntersectingChunk(chunk.Min)
	if err != nil {
		return err
	}
	if !bytes.Equal(current.GetMin(), chunk.Min) || !bytes.Equal(current.GetMax(), chunk.Max) || current.GetShardID() != chunk.Shard {
		return errcode.Errorf(errcode.ConflictingOperationInProgress,
			"chunk %s is no longer owned by %s", chunk.Range(), chunk.Shard)
	}
	if !forceJumbo && (current.IsJumbo() || current.GetEstimatedSize() > b.opt.GetMaxChunkSize()) {
		return errcode.Errorf(errcode.ChunkTooBig,
			"Chunk %s is too big to move, size %d exceeds the max chunk size %d; use forceJumbo to move it anyway",
			chunk.Range(), current.GetEstimatedSize(), b.opt.GetMaxChunkSize())
	}

	key := inflightKey(nss, current)
	if err := b.addInflight(key, toShard); err != nil {
		return err
	}
	defer b.removeInflight(key)

	start := time.Now()
	err = b.manager.ExecuteMoveChunk(op, &MoveChunkRequest{
		Namespace:     nss,
		Chunk:         chunk,
		ToShard:       toShard,
		Throttle:      throttle,
		WaitForDelete: waitForDelete,
		ForceJumbo:    forceJumbo,
	})
	if err != nil {
		return err
	}
	migrationDuration.Observe(time.Since(start).Seconds())
	migrationCounter.WithLabelValues("ok").Inc()
	return nil
}

func inflightKey(nss namespace.NamespaceString, chunk *core.ChunkInfo) string {
	return nss.String() + "\x00" + string(chunk.GetMinKey())
}

func (b *Balancer) addInflight(key string, toShard core.ShardID) error {
	b.Lock()
	defer b.Unlock()
	if _, ok := b.inflight[key]; ok {
		return errcode.New(errcode.ConflictingOperationInProgress,
			"Unable to start a migration of the chunk because another migration of it is in progress")
	}
	if limit := b.getOrCreateShardLimit(toShard); limit != nil {
		if limit.TakeAvailable(1) == 0 {
			return errcode.Errorf(errcode.ConflictingOperationInProgress,
				"shard %s is receiving migrations faster than %v per second", toShard, b.shardsLimit[toShard].rate)
		}
	}
	b.inflight[key] = struct{}{}
	inflightGauge.Set(float64(len(b.inflight)))
	return nil
}

func (b *Balancer) removeInflight(key string) {
	b.Lock()
	defer b.Unlock()
	delete(b.inflight, key)
	inflightGauge.Set(float64(len(b.inflight)))
}

// getOrCreateShardLimit returns the bucket of a destination shard, nil when
// migrations are not rate limited.
func (b *Balancer) getOrCreateShardLimit(shard core.ShardID) *ratelimit.Bucket {
	rate := b.opt.GetShardMigrationRate()
	if rate <= 0 {
		return nil
	}
	if limit := b.shardsLimit[shard]; limit != nil && limit.rate == rate {
		return limit.bucket
	}
	capacity := int64(1)
	if rate > 1 {
		capacity = int64(rate)
	}
	bucket := ratelimit.NewBucketWithRate(rate, capacity)
	b.shardsLimit[shard] = &shardLimit{rate: rate, bucket: bucket}
	return bucket
}

// GetAllShardsLimit returns the migration rate of every limited shard.
func (b *Balancer) GetAllShardsLimit() map[core.ShardID]float64 {
	b.RLock()
	defer b.RUnlock()
	ret := make(map[core.ShardID]float64, len(b.shardsLimit))
	for shard, limit := range b.shardsLimit {
		ret[shard] = limit.rate
	}
	return ret
}

// InflightMigrations returns the number of migrations in progress.
func (b *Balancer) InflightMigrations() int {
	b.RLock()
	defer b.RUnlock()
	return len(b.inflight)
}
