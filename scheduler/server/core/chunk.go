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
	"bytes"
	"fmt"

	"github.com/google/uuid"
	"github.com/pingcap-incubator/tinydoc/pkg/keystring"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ShardID names a shard.
type ShardID string

// ChunkVersion orders the ownership changes of a collection's chunks.
// Versions of different incarnations of a collection, told apart by epoch
// and timestamp, are not comparable.
type ChunkVersion struct {
	Major     uint32              `json:"major"`
	Minor     uint32              `json:"minor"`
	Epoch     primitive.ObjectID  `json:"epoch"`
	Timestamp primitive.Timestamp `json:"timestamp"`
}

// IsSameCollection reports whether v and o belong to the same incarnation
// of a collection.
func (v ChunkVersion) IsSameCollection(o ChunkVersion) bool {
	return v.Epoch == o.Epoch && v.Timestamp == o.Timestamp
}

// IsOlderThan reports whether v precedes o. Versions of different
// incarnations are never older than each other.
func (v ChunkVersion) IsOlderThan(o ChunkVersion) bool {
	if !v.IsSameCollection(o) {
		return false
	}
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	return v.Minor < o.Minor
}

// IncMajor returns the next major version.
func (v ChunkVersion) IncMajor() ChunkVersion {
	v.Major++
	v.Minor = 0
	return v
}

// IncMinor returns the next minor version.
func (v ChunkVersion) IncMinor() ChunkVersion {
	v.Minor++
	return v
}

func (v ChunkVersion) String() string {
	return fmt.Sprintf("%d|%d||%s||Timestamp(%d, %d)", v.Major, v.Minor, v.Epoch.Hex(), v.Timestamp.T, v.Timestamp.I)
}

// ChunkRange is a half open shard key range [Min, Max).
type ChunkRange struct {
	Min bson.Raw
	Max bson.Raw
}

func (r ChunkRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Min.String(), r.Max.String())
}

// ChunkType is the catalog entry of one chunk.
type ChunkType struct {
	ID             primitive.ObjectID
	CollectionUUID uuid.UUID
	Min            bson.Raw
	Max            bson.Raw
	Shard          ShardID
	Version        ChunkVersion
	Jumbo          bool
	// EstimatedSize is the approximate data size of the chunk in bytes.
	EstimatedSize uint64
}

// Range returns the bounds of the chunk.
func (c *ChunkType) Range() ChunkRange {
	return ChunkRange{Min: c.Min, Max: c.Max}
}

// Validate checks that the bounds are well formed and ordered.
func (c *ChunkType) Validate() error {
	if c.Shard == "" {
		return errors.Errorf("chunk %s has no shard", c.Range())
	}
	minKey, err := keystring.Encode(c.Min)
	if err != nil {
		return errors.Wrap(err, "invalid chunk min")
	}
	maxKey, err := keystring.Encode(c.Max)
	if err != nil {
		return errors.Wrap(err, "invalid chunk max")
	}
	if bytes.Compare(minKey, maxKey) >= 0 {
		return errors.Errorf("chunk min %s is not less than max %s", c.Min, c.Max)
	}
	return nil
}

// ChunkInfo records a chunk together with its encoded bounds.
// Read-Only once created.
type ChunkInfo struct {
	meta   ChunkType
	minKey []byte
	maxKey []byte
}

// NewChunkInfo validates the chunk and encodes its bounds.
func NewChunkInfo(chunk ChunkType, opts ...ChunkCreateOption) (*ChunkInfo, error) {
	for _, opt := range opts {
		opt(&chunk)
	}
	if err := chunk.Validate(); err != nil {
		return nil, err
	}
	return &ChunkInfo{
		meta:   chunk,
		minKey: keystring.MustEncode(chunk.Min),
		maxKey: keystring.MustEncode(chunk.Max),
	}, nil
}

// Clone returns a copy of the chunk with the options applied. The bounds
// cannot be changed by options.
func (c *ChunkInfo) Clone(opts ...ChunkCreateOption) *ChunkInfo {
	chunk := &ChunkInfo{
		meta:   c.meta,
		minKey: c.minKey,
		maxKey: c.maxKey,
	}
	for _, opt := range opts {
		opt(&chunk.meta)
	}
	chunk.meta.Min, chunk.meta.Max = c.meta.Min, c.meta.Max
	return chunk
}

// GetMeta returns a copy of the catalog entry.
func (c *ChunkInfo) GetMeta() ChunkType {
	return c.meta
}

// GetMin returns the inclusive lower bound.
func (c *ChunkInfo) GetMin() bson.Raw {
	return c.meta.Min
}

// GetMax returns the exclusive upper bound.
func (c *ChunkInfo) GetMax() bson.Raw {
	return c.meta.Max
}

// GetMinKey returns the encoded lower bound.
func (c *ChunkInfo) GetMinKey() []byte {
	return c.minKey
}

// GetMaxKey returns the encoded upper bound.
func (c *ChunkInfo) GetMaxKey() []byte {
	return c.maxKey
}

// GetShardID returns the owning shard.
func (c *ChunkInfo) GetShardID() ShardID {
	return c.meta.Shard
}

// GetVersion returns the chunk version.
func (c *ChunkInfo) GetVersion() ChunkVersion {
	return c.meta.Version
}

// IsJumbo returns whether the chunk is flagged jumbo.
func (c *ChunkInfo) IsJumbo() bool {
	return c.meta.Jumbo
}

// GetEstimatedSize returns the approximate size of the chunk in bytes.
func (c *ChunkInfo) GetEstimatedSize() uint64 {
	return c.meta.EstimatedSize
}

// Range returns the bounds of the chunk.
func (c *ChunkInfo) Range() ChunkRange {
	return c.meta.Range()
}

// ContainsKey reports whether the encoded key falls in [min, max).
func (c *ChunkInfo) ContainsKey(key []byte) bool {
	return bytes.Compare(key, c.minKey) >= 0 && bytes.Compare(key, c.maxKey) < 0
}

func (c *ChunkInfo) String() string {
	return fmt.Sprintf("chunk %s on %s version %s", c.Range(), c.meta.Shard, c.meta.Version)
}

// ChunkCreateOption is used to create or clone a chunk.
type ChunkCreateOption func(chunk *ChunkType)

// WithShard sets the owning shard.
func WithShard(shard ShardID) ChunkCreateOption {
	return func(chunk *ChunkType) {
		chunk.Shard = shard
	}
}

// WithVersion sets the chunk version.
func WithVersion(version ChunkVersion) ChunkCreateOption {
	return func(chunk *ChunkType) {
		chunk.Version = version
	}
}

// SetJumbo flags or clears the jumbo flag.
func SetJumbo(jumbo bool) ChunkCreateOption {
	return func(chunk *ChunkType) {
		chunk.Jumbo = jumbo
	}
}

// SetEstimatedSize sets the approximate size in bytes.
func SetEstimatedSize(size uint64) ChunkCreateOption {
	return func(chunk *ChunkType) {
		chunk.EstimatedSize = size
	}
}
