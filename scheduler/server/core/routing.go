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

package core

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap-incubator/tinydoc/pkg/keystring"
	"github.com/pingcap-incubator/tinydoc/pkg/namespace"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RoutingInfo is an immutable snapshot of the chunk distribution of a
// sharded collection. Its chunks cover the whole shard key space from
// MinKey to MaxKey without gaps.
type RoutingInfo struct {
	nss           namespace.NamespaceString
	uuid          uuid.UUID
	keyPattern    bson.D
	epoch         primitive.ObjectID
	timestamp     primitive.Timestamp
	tree          *chunkTree
	version       ChunkVersion
	shardVersions map[ShardID]ChunkVersion
}

// NewRoutingInfo builds the routing table of a collection from its chunks.
// Every chunk must carry the same epoch and timestamp.
func NewRoutingInfo(nss namespace.NamespaceString, collUUID uuid.UUID, keyPattern bson.D, chunks []ChunkType) (*RoutingInfo, error) {
	if len(chunks) == 0 {
		return nil, errors.Errorf("collection %s has no chunks", nss)
	}
	r := &RoutingInfo{
		nss:        nss,
		uuid:       collUUID,
		keyPattern: keyPattern,
		epoch:      chunks[0].Version.Epoch,
		timestamp:  chunks[0].Version.Timestamp,
		tree:       newChunkTree(),
	}
	for _, c := range chunks {
		c.CollectionUUID = collUUID
		info, err := NewChunkInfo(c)
		if err != nil {
			return nil, err
		}
		if err := r.checkChunk(info); err != nil {
			return nil, err
		}
		if overlaps := r.tree.update(info); len(overlaps) > 0 {
			return nil, errors.Errorf("chunk %s overlaps %s", info.Range(), overlaps[0].Range())
		}
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RoutingInfo) checkChunk(info *ChunkInfo) error {
	v := info.GetVersion()
	if v.Epoch != r.epoch || v.Timestamp != r.timestamp {
		return errors.Errorf("chunk %s belongs to a different incarnation of %s", info.Range(), r.nss)
	}
	if err := r.checkKeyFields(info.GetMin()); err != nil {
		return err
	}
	return r.checkKeyFields(info.GetMax())
}

// finish checks the chunks cover the key space and computes the versions.
func (r *RoutingInfo) finish() error {
	expect := keystring.MustEncode(keystring.GlobalMin(r.keyPattern))
	globalMax := keystring.MustEncode(keystring.GlobalMax(r.keyPattern))
	r.version = ChunkVersion{Epoch: r.epoch, Timestamp: r.timestamp}
	r.shardVersions = make(map[ShardID]ChunkVersion)
	var err error
	r.tree.ascend(func(c *ChunkInfo) bool {
		if !bytes.Equal(c.GetMinKey(), expect) {
			err = errors.Errorf("gap in the chunks of %s before %s", r.nss, c.Range())
			return false
		}
		expect = c.GetMaxKey()
		v := c.GetVersion()
		if r.version.IsOlderThan(v) {
			r.version = v
		}
		sv, ok := r.shardVersions[c.GetShardID()]
		if !ok || sv.IsOlderThan(v) {
			r.shardVersions[c.GetShardID()] = v
		}
		return true
	})
	if err != nil {
		return err
	}
	if !bytes.Equal(expect, globalMax) {
		return errors.Errorf("the chunks of %s do not reach MaxKey", r.nss)
	}
	return nil
}

func (r *RoutingInfo) checkKeyFields(key bson.Raw) error {
	elems, err := key.Elements()
	if err != nil {
		return errcode.Errorf(errcode.BadValue, "invalid shard key: %v", err)
	}
	if len(elems) != len(r.keyPattern) {
		return errcode.Errorf(errcode.BadValue, "Shard key %s does not match the shard key pattern of %s", key, r.nss)
	}
	for i, e := range elems {
		if e.Key() != r.keyPattern[i].Key {
			return errcode.Errorf(errcode.BadValue, "Shard key %s does not match the shard key pattern of %s", key, r.nss)
		}
	}
	return nil
}

// WithChunks returns a new snapshot where the given chunks replace the
// ones they overlap. The receiver is left untouched.
func (r *RoutingInfo) WithChunks(chunks ...*ChunkInfo) (*RoutingInfo, error) {
	n := &RoutingInfo{
		nss:        r.nss,
		uuid:       r.uuid,
		keyPattern: r.keyPattern,
		epoch:      r.epoch,
		timestamp:  r.timestamp,
		tree:       r.tree.clone(),
	}
	for _, c := range chunks {
		if err := n.checkChunk(c); err != nil {
			return nil, err
		}
		n.tree.update(c)
	}
	if err := n.finish(); err != nil {
		return nil, err
	}
	return n, nil
}

// Namespace returns the collection namespace.
func (r *RoutingInfo) Namespace() namespace.NamespaceString {
	return r.nss
}

// UUID returns the collection UUID.
func (r *RoutingInfo) UUID() uuid.UUID {
	return r.uuid
}

// KeyPattern returns the shard key pattern.
func (r *RoutingInfo) KeyPattern() bson.D {
	return r.keyPattern
}

// Version returns the collection version, the highest chunk version.
func (r *RoutingInfo) Version() ChunkVersion {
	return r.version
}

// ShardVersion returns the highest chunk version owned by shard. A shard
// owning no chunk gets a zero version of the current incarnation.
func (r *RoutingInfo) ShardVersion(shard ShardID) ChunkVersion {
	if v, ok := r.shardVersions[shard]; ok {
		return v
	}
	return ChunkVersion{Epoch: r.epoch, Timestamp: r.timestamp}
}

// NumChunks returns the number of chunks.
func (r *RoutingInfo) NumChunks() int {
	return r.tree.length()
}

// ShardIDs returns the shards owning at least one chunk.
func (r *RoutingInfo) ShardIDs() []ShardID {
	ids := make([]ShardID, 0, len(r.shardVersions))
	for id := range r.shardVersions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Chunks returns every chunk in shard key order.
func (r *RoutingInfo) Chunks() []*ChunkInfo {
	chunks := make([]*ChunkInfo, 0, r.tree.length())
	r.tree.ascend(func(c *ChunkInfo) bool {
		chunks = append(chunks, c)
		return true
	})
	return chunks
}

// ScanChunks returns at most limit chunks starting with the one containing
// from. A limit of 0 means no limit.
func (r *RoutingInfo) ScanChunks(from bson.Raw, limit int) ([]*ChunkInfo, error) {
	if err := r.checkKeyFields(from); err != nil {
		return nil, err
	}
	key, err := keystring.Encode(from)
	if err != nil {
		return nil, errcode.Errorf(errcode.BadValue, "%v", err)
	}
	var chunks []*ChunkInfo
	r.tree.scanRange(key, func(c *ChunkInfo) bool {
		chunks = append(chunks, c)
		return limit <= 0 || len(chunks) < limit
	})
	return chunks, nil
}

// FindIntersectingChunk returns the chunk whose range contains shardKey,
// comparing with the simple collation.
func (r *RoutingInfo) FindIntersectingChunk(shardKey bson.Raw) (*ChunkInfo, error) {
	if err := r.checkKeyFields(shardKey); err != nil {
		return nil, err
	}
	key, err := keystring.Encode(shardKey)
	if err != nil {
		return nil, errcode.Errorf(errcode.BadValue, "%v", err)
	}
	chunk := r.tree.search(key)
	if chunk == nil {
		return nil, errcode.Errorf(errcode.BadValue, "Cannot target single shard using key %s", shardKey)
	}
	return chunk, nil
}
