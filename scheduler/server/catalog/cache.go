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

// Package catalog keeps the routing tables of the sharded collections.
package catalog

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap-incubator/tinydoc/pkg/keystring"
	"github.com/pingcap-incubator/tinydoc/pkg/namespace"
	"github.com/pingcap-incubator/tinydoc/pkg/opctx"
	"github.com/pingcap-incubator/tinydoc/scheduler/server/core"
	"github.com/pingcap/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Cache maps namespaces to the routing info of sharded collections.
type Cache struct {
	sync.RWMutex
	shards      *core.ShardRegistry
	collections map[string]*core.RoutingInfo
	lastTS      primitive.Timestamp
}

// NewCache creates an empty catalog backed by the shard registry.
func NewCache(shards *core.ShardRegistry) *Cache {
	return &Cache{
		shards:      shards,
		collections: make(map[string]*core.RoutingInfo),
	}
}

// ShardCollectionRequest describes a collection to shard.
type ShardCollectionRequest struct {
	Namespace    namespace.NamespaceString
	Key          bson.D
	SplitPoints  []bson.Raw
	PrimaryShard core.ShardID
	// Distribute hands the initial chunks to every shard round robin
	// instead of placing them all on the primary shard.
	Distribute bool
}

// ShardCollection creates the routing table of a collection.
func (c *Cache) ShardCollection(op *opctx.OperationContext, req *ShardCollectionRequest) (*core.RoutingInfo, error) {
	if len(req.Key) == 0 {
		return nil, errcode.New(errcode.BadValue, "shard key pattern cannot be empty")
	}
	if _, err := c.shards.GetShard(op, req.PrimaryShard); err != nil {
		return nil, err
	}
	bounds, err := chunkBounds(req.Key, req.SplitPoints)
	if err != nil {
		return nil, err
	}
	owners := []core.ShardID{req.PrimaryShard}
	if req.Distribute {
		owners = owners[:0]
		for _, s := range c.shards.GetShards() {
			owners = append(owners, s.GetID())
		}
	}

	c.Lock()
	defer c.Unlock()
	ns := req.Namespace.String()
	if _, ok := c.collections[ns]; ok {
		return nil, errcode.Errorf(errcode.AlreadyInitialized, "collection %s is already sharded", ns)
	}
	epoch := primitive.NewObjectID()
	ts := c.nextTimestampLocked()
	chunks := make([]core.ChunkType, 0, len(bounds)-1)
	for i := 0; i+1 < len(bounds); i++ {
		chunks = append(chunks, core.ChunkType{
			ID:    primitive.NewObjectID(),
			Min:   bounds[i],
			Max:   bounds[i+1],
			Shard: owners[i%len(owners)],
			Version: core.ChunkVersion{
				Major:     1,
				Minor:     uint32(i),
				Epoch:     epoch,
				Timestamp: ts,
			},
		})
	}
	routing, err := core.NewRoutingInfo(req.Namespace, uuid.New(), req.Key, chunks)
	if err != nil {
		return nil, err
	}
	c.collections[ns] = routing
	log.Info("collection sharded",
		zap.String("namespace", ns),
		zap.Int("chunks", routing.NumChunks()),
		zap.Stringer("version", routing.Version()))
	return routing, nil
}

// chunkBounds returns MinKey, the split points and MaxKey, checking the
// split points are strictly ascending and match the key pattern.
func chunkBounds(pattern bson.D, points []bson.Raw) ([]bson.Raw, error) {
	bounds := make([]bson.Raw, 0, len(points)+2)
	bounds = append(bounds, keystring.GlobalMin(pattern))
	prev := keystring.MustEncode(bounds[0])
	for _, p := range points {
		if err := matchesPattern(p, pattern); err != nil {
			return nil, err
		}
		key, err := keystring.Encode(p)
		if err != nil {
			return nil, errcode.Errorf(errcode.BadValue, "invalid split point: %v", err)
		}
		if bytes.Compare(prev, key) >= 0 {
			return nil, errcode.Errorf(errcode.BadValue, "split points must be unique and ascending, got %s", p)
		}
		bounds = append(bounds, p)
		prev = key
	}
	max := keystring.GlobalMax(pattern)
	if bytes.Compare(prev, keystring.MustEncode(max)) >= 0 {
		return nil, errcode.New(errcode.BadValue, "split point cannot be MaxKey")
	}
	return append(bounds, max), nil
}

func matchesPattern(key bson.Raw, pattern bson.D) error {
	elems, err := key.Elements()
	if err != nil {
		return errcode.Errorf(errcode.BadValue, "invalid shard key: %v", err)
	}
	if len(elems) != len(pattern) {
		return errcode.Errorf(errcode.BadValue, "split point %s does not match the shard key pattern", key)
	}
	for i, e := range elems {
		if e.Key() != pattern[i].Key {
			return errcode.Errorf(errcode.BadValue, "split point %s does not match the shard key pattern", key)
		}
	}
	return nil
}

func (c *Cache) nextTimestampLocked() primitive.Timestamp {
	now := uint32(time.Now().Unix())
	if now > c.lastTS.T {
		c.lastTS = primitive.Timestamp{T: now, I: 1}
	} else {
		c.lastTS.I++
	}
	return c.lastTS
}

// GetShardedCollectionRoutingInfo returns the routing info of a sharded
// collection.
func (c *Cache) GetShardedCollectionRoutingInfo(op *opctx.OperationContext, nss namespace.NamespaceString) (*core.RoutingInfo, error) {
	if err := op.CheckForInterrupt(); err != nil {
		return nil, err
	}
	c.RLock()
	defer c.RUnlock()
	routing, ok := c.collections[nss.String()]
	if !ok {
		return nil, errcode.Errorf(errcode.NamespaceNotSharded, "Collection %s is not sharded.", nss)
	}
	return routing, nil
}

// GetCollections returns the routing info of every sharded collection,
// ordered by namespace.
func (c *Cache) GetCollections() []*core.RoutingInfo {
	c.RLock()
	defer c.RUnlock()
	colls := make([]*core.RoutingInfo, 0, len(c.collections))
	for _, r := range c.collections {
		colls = append(colls, r)
	}
	sort.Slice(colls, func(i, j int) bool {
		return colls[i].Namespace().String() < colls[j].Namespace().String()
	})
	return colls
}

// DropCollection forgets the routing info of a collection.
func (c *Cache) DropCollection(op *opctx.OperationContext, nss namespace.NamespaceString) error {
	if err := op.CheckForInterrupt(); err != nil {
		return err
	}
	c.Lock()
	defer c.Unlock()
	if _, ok := c.collections[nss.String()]; !ok {
		return errcode.Errorf(errcode.NamespaceNotSharded, "Collection %s is not sharded.", nss)
	}
	delete(c.collections, nss.String())
	log.Info("collection dropped", zap.String("namespace", nss.String()))
	return nil
}

// UpdateChunkStats records the estimated size and jumbo flag of the chunk
// starting at min.
func (c *Cache) UpdateChunkStats(op *opctx.OperationContext, nss namespace.NamespaceString, min bson.Raw, size uint64, jumbo bool) error {
	if err := op.CheckForInterrupt(); err != nil {
		return err
	}
	c.Lock()
	defer c.Unlock()
	routing, ok := c.collections[nss.String()]
	if !ok {
		return errcode.Errorf(errcode.NamespaceNotSharded, "Collection %s is not sharded.", nss)
	}
	chunk, err := routing.FindIntersectingChunk(min)
	if err != nil {
		return err
	}
	if !bytes.Equal(chunk.GetMin(), min) {
		return errcode.Errorf(errcode.BadValue, "no chunk of %s starts at %s", nss, min)
	}
	next, err := routing.WithChunks(chunk.Clone(core.SetEstimatedSize(size), core.SetJumbo(jumbo)))
	if err != nil {
		return err
	}
	c.collections[nss.String()] = next
	return nil
}

// CommitChunkMigration hands chunk over to toShard. The migrated chunk gets
// the next major version. If the donor keeps other chunks, one of them is
// bumped as well so the donor's shard version moves forward.
func (c *Cache) CommitChunkMigration(op *opctx.OperationContext, nss namespace.NamespaceString, chunk core.ChunkType, toShard core.ShardID) (*core.RoutingInfo, error) {
	shard, err := c.shards.GetShard(op, toShard)
	if err != nil {
		return nil, err
	}
	if shard.IsDraining() {
		return nil, errcode.Errorf(errcode.IllegalOperation, "Cannot move chunk to shard %s, it is draining", toShard)
	}
	c.Lock()
	defer c.Unlock()
	routing, ok := c.collections[nss.String()]
	if !ok {
		return nil, errcode.Errorf(errcode.NamespaceNotSharded, "Collection %s is not sharded.", nss)
	}
	if !chunk.Version.IsSameCollection(routing.Version()) {
		return nil, errcode.Errorf(errcode.StaleEpoch, "collection %s was dropped and recreated since the migration started", nss)
	}
	current, err := routing.FindIntersectingChunk(chunk.Min)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(current.GetMin(), chunk.Min) || !bytes.Equal(current.GetMax(), chunk.Max) || current.GetShardID() != chunk.Shard {
		return nil, errcode.Errorf(errcode.ConflictingOperationInProgress,
			"chunk %s is no longer owned by %s", chunk.Range(), chunk.Shard)
	}

	version := routing.Version().IncMajor()
	updates := []*core.ChunkInfo{current.Clone(core.WithShard(toShard), core.WithVersion(version))}
	for _, other := range routing.Chunks() {
		if other.GetShardID() == chunk.Shard && !bytes.Equal(other.GetMinKey(), current.GetMinKey()) {
			updates = append(updates, other.Clone(core.WithVersion(version.IncMinor())))
			break
		}
	}
	next, err := routing.WithChunks(updates...)
	if err != nil {
		return nil, err
	}
	c.collections[nss.String()] = next
	log.Info("chunk migration committed",
		zap.String("namespace", nss.String()),
		zap.Stringer("range", chunk.Range()),
		zap.String("from", string(chunk.Shard)),
		zap.String("to", string(toShard)),
		zap.Stringer("version", next.Version()))
	return next, nil
}
