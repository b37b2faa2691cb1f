// Copyright 2016 PingCAP, Inc.
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

package core

import (
	"sort"
	"sync"

	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap-incubator/tinydoc/pkg/opctx"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// ShardInfo contains information about a shard.
type ShardInfo struct {
	id       ShardID
	host     string
	draining bool
}

// NewShardInfo creates ShardInfo.
func NewShardInfo(id ShardID, host string, opts ...ShardCreateOption) *ShardInfo {
	shard := &ShardInfo{id: id, host: host}
	for _, opt := range opts {
		opt(shard)
	}
	return shard
}

// Clone creates a copy of current ShardInfo.
func (s *ShardInfo) Clone(opts ...ShardCreateOption) *ShardInfo {
	shard := *s
	for _, opt := range opts {
		opt(&shard)
	}
	return &shard
}

// GetID returns the shard id.
func (s *ShardInfo) GetID() ShardID {
	return s.id
}

// GetHost returns the connection string of the shard.
func (s *ShardInfo) GetHost() string {
	return s.host
}

// IsDraining returns if the shard is being removed.
func (s *ShardInfo) IsDraining() bool {
	return s.draining
}

// ShardCreateOption is used to create shard.
type ShardCreateOption func(shard *ShardInfo)

// SetShardDraining marks the shard as being removed.
func SetShardDraining(draining bool) ShardCreateOption {
	return func(shard *ShardInfo) {
		shard.draining = draining
	}
}

// ShardRegistry keeps the shards of the cluster.
type ShardRegistry struct {
	sync.RWMutex
	shards map[ShardID]*ShardInfo
}

// NewShardRegistry creates an empty registry.
func NewShardRegistry() *ShardRegistry {
	return &ShardRegistry{shards: make(map[ShardID]*ShardInfo)}
}

// AddShard registers a new shard.
func (r *ShardRegistry) AddShard(shard *ShardInfo) error {
	r.Lock()
	defer r.Unlock()
	if _, ok := r.shards[shard.GetID()]; ok {
		return errcode.Errorf(errcode.IllegalOperation, "A shard named %s already exists", shard.GetID())
	}
	r.shards[shard.GetID()] = shard
	log.Info("shard added", zap.String("shard", string(shard.GetID())), zap.String("host", shard.GetHost()))
	return nil
}

// SetShard replaces the info of a registered shard.
func (r *ShardRegistry) SetShard(shard *ShardInfo) error {
	r.Lock()
	defer r.Unlock()
	if _, ok := r.shards[shard.GetID()]; !ok {
		return newShardNotFoundErr(shard.GetID())
	}
	r.shards[shard.GetID()] = shard
	return nil
}

// RemoveShard unregisters a shard.
func (r *ShardRegistry) RemoveShard(id ShardID) error {
	r.Lock()
	defer r.Unlock()
	if _, ok := r.shards[id]; !ok {
		return newShardNotFoundErr(id)
	}
	delete(r.shards, id)
	log.Info("shard removed", zap.String("shard", string(id)))
	return nil
}

// GetShard returns the shard with the given id.
func (r *ShardRegistry) GetShard(op *opctx.OperationContext, id ShardID) (*ShardInfo, error) {
	if err := op.CheckForInterrupt(); err != nil {
		return nil, err
	}
	r.RLock()
	defer r.RUnlock()
	shard, ok := r.shards[id]
	if !ok {
		return nil, newShardNotFoundErr(id)
	}
	return shard, nil
}

// GetShards returns every shard ordered by id.
func (r *ShardRegistry) GetShards() []*ShardInfo {
	r.RLock()
	defer r.RUnlock()
	shards := make([]*ShardInfo, 0, len(r.shards))
	for _, s := range r.shards {
		shards = append(shards, s)
	}
	sort.Slice(shards, func(i, j int) bool { return shards[i].GetID() < shards[j].GetID() })
	return shards
}

// GetShardCount returns the number of shards.
func (r *ShardRegistry) GetShardCount() int {
	r.RLock()
	defer r.RUnlock()
	return len(r.shards)
}

func newShardNotFoundErr(id ShardID) error {
	return errcode.Errorf(errcode.ShardNotFound, "Shard %s not found", id)
}
