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
	"context"

	"github.com/google/uuid"
	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap-incubator/tinydoc/pkg/namespace"
	"github.com/pingcap-incubator/tinydoc/pkg/opctx"
	"github.com/pingcap-incubator/tinydoc/pkg/repl"
	. "github.com/pingcap/check"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var _ = Suite(&testRoutingSuite{})

type testRoutingSuite struct {
	nss     namespace.NamespaceString
	pattern bson.D
	epoch   primitive.ObjectID
}

func (s *testRoutingSuite) SetUpTest(c *C) {
	s.nss = namespace.MustParse("test.users")
	s.pattern = bson.D{{Key: "x", Value: 1}}
	s.epoch = primitive.NewObjectID()
}

func (s *testRoutingSuite) newRouting(c *C) *RoutingInfo {
	chunks := NewTestChunks("x", s.epoch, []int32{0, 100}, "s0", "s1")
	r, err := NewRoutingInfo(s.nss, uuid.New(), s.pattern, chunks)
	c.Assert(err, IsNil)
	return r
}

func (s *testRoutingSuite) TestFindIntersectingChunk(c *C) {
	r := s.newRouting(c)
	c.Assert(r.NumChunks(), Equals, 3)
	c.Assert(r.ShardIDs(), DeepEquals, []ShardID{"s0", "s1"})

	chunk, err := r.FindIntersectingChunk(KeyDoc("x", int32(0)))
	c.Assert(err, IsNil)
	c.Assert(bytes.Equal(chunk.GetMin(), KeyDoc("x", int32(0))), IsTrue)
	c.Assert(bytes.Equal(chunk.GetMax(), KeyDoc("x", int32(100))), IsTrue)
	c.Assert(chunk.GetShardID(), Equals, ShardID("s1"))

	// Numeric types compare by value.
	chunk, err = r.FindIntersectingChunk(KeyDoc("x", 99.5))
	c.Assert(err, IsNil)
	c.Assert(chunk.GetShardID(), Equals, ShardID("s1"))

	chunk, err = r.FindIntersectingChunk(KeyDoc("x", "a string"))
	c.Assert(err, IsNil)
	c.Assert(chunk.GetShardID(), Equals, ShardID("s0"))

	chunk, err = r.FindIntersectingChunk(KeyDoc("x", primitive.MinKey{}))
	c.Assert(err, IsNil)
	c.Assert(bytes.Equal(chunk.GetMax(), KeyDoc("x", int32(0))), IsTrue)

	_, err = r.FindIntersectingChunk(KeyDoc("y", 1))
	c.Assert(errcode.CodeOf(err), Equals, errcode.BadValue)
}

func (s *testRoutingSuite) TestVersions(c *C) {
	r := s.newRouting(c)
	c.Assert(r.Version().Major, Equals, uint32(1))
	c.Assert(r.Version().Minor, Equals, uint32(2))
	c.Assert(r.ShardVersion("s0").Minor, Equals, uint32(2))
	c.Assert(r.ShardVersion("s1").Minor, Equals, uint32(1))
	c.Assert(r.ShardVersion("s9").Major, Equals, uint32(0))
	c.Assert(r.ShardVersion("s9").Epoch, Equals, s.epoch)
}

func (s *testRoutingSuite) TestWithChunks(c *C) {
	r := s.newRouting(c)
	chunk, err := r.FindIntersectingChunk(KeyDoc("x", int32(5)))
	c.Assert(err, IsNil)

	moved := chunk.Clone(WithShard("s2"), WithVersion(r.Version().IncMajor()))
	next, err := r.WithChunks(moved)
	c.Assert(err, IsNil)
	c.Assert(next.Version().Major, Equals, uint32(2))
	c.Assert(next.ShardIDs(), DeepEquals, []ShardID{"s0", "s2"})

	// The old snapshot is unchanged.
	old, err := r.FindIntersectingChunk(KeyDoc("x", int32(5)))
	c.Assert(err, IsNil)
	c.Assert(old.GetShardID(), Equals, ShardID("s1"))
	c.Assert(r.Version().Major, Equals, uint32(1))

	foreign := chunk.Clone(WithVersion(ChunkVersion{Major: 9, Epoch: primitive.NewObjectID()}))
	_, err = r.WithChunks(foreign)
	c.Assert(err, NotNil)
}

func (s *testRoutingSuite) TestScanChunks(c *C) {
	r := s.newRouting(c)
	chunks, err := r.ScanChunks(KeyDoc("x", int32(50)), 0)
	c.Assert(err, IsNil)
	c.Assert(chunks, HasLen, 2)
	chunks, err = r.ScanChunks(KeyDoc("x", primitive.MinKey{}), 1)
	c.Assert(err, IsNil)
	c.Assert(chunks, HasLen, 1)
	c.Assert(r.Chunks(), HasLen, 3)
}

func (s *testRoutingSuite) TestCoverage(c *C) {
	chunks := NewTestChunks("x", s.epoch, []int32{0, 100}, "s0")
	// Drop the middle chunk to leave a gap.
	_, err := NewRoutingInfo(s.nss, uuid.New(), s.pattern, []ChunkType{chunks[0], chunks[2]})
	c.Assert(err, NotNil)
	// Missing the chunk ending at MaxKey.
	_, err = NewRoutingInfo(s.nss, uuid.New(), s.pattern, chunks[:2])
	c.Assert(err, NotNil)
	_, err = NewRoutingInfo(s.nss, uuid.New(), s.pattern, nil)
	c.Assert(err, NotNil)

	mixed := NewTestChunks("x", s.epoch, []int32{0}, "s0")
	mixed[1].Version.Epoch = primitive.NewObjectID()
	_, err = NewRoutingInfo(s.nss, uuid.New(), s.pattern, mixed)
	c.Assert(err, NotNil)
}

var _ = Suite(&testShardSuite{})

type testShardSuite struct{}

func newTestOp(c *C) (*opctx.OperationContext, func()) {
	svc := opctx.NewServiceContext(repl.NewCoordinator(repl.ModeReplSet, "csrs"))
	return svc.MakeClient("test", nil).MakeOperationContext(context.Background())
}

func (s *testShardSuite) TestShardRegistry(c *C) {
	op, done := newTestOp(c)
	defer done()

	r := NewShardRegistry()
	c.Assert(r.AddShard(NewShardInfo("s1", "rs1/h:1")), IsNil)
	c.Assert(r.AddShard(NewShardInfo("s0", "rs0/h:0")), IsNil)
	c.Assert(errcode.CodeOf(r.AddShard(NewShardInfo("s0", "x"))), Equals, errcode.IllegalOperation)
	c.Assert(r.GetShardCount(), Equals, 2)

	shard, err := r.GetShard(op, "s0")
	c.Assert(err, IsNil)
	c.Assert(shard.GetHost(), Equals, "rs0/h:0")

	_, err = r.GetShard(op, "s9")
	c.Assert(errcode.CodeOf(err), Equals, errcode.ShardNotFound)
	c.Assert(errcode.ReasonOf(err), Equals, "Shard s9 not found")

	c.Assert(r.SetShard(shard.Clone(SetShardDraining(true))), IsNil)
	shard, err = r.GetShard(op, "s0")
	c.Assert(err, IsNil)
	c.Assert(shard.IsDraining(), IsTrue)

	shards := r.GetShards()
	c.Assert(shards, HasLen, 2)
	c.Assert(shards[0].GetID(), Equals, ShardID("s0"))

	c.Assert(r.RemoveShard("s1"), IsNil)
	c.Assert(errcode.CodeOf(r.RemoveShard("s1")), Equals, errcode.ShardNotFound)
	c.Assert(errcode.CodeOf(r.SetShard(NewShardInfo("s1", "x"))), Equals, errcode.ShardNotFound)
}

func (s *testShardSuite) TestGetShardInterrupted(c *C) {
	op, done := newTestOp(c)
	r := NewShardRegistry()
	c.Assert(r.AddShard(NewShardInfo("s0", "h")), IsNil)
	op.Kill(errcode.Interrupted)
	_, err := r.GetShard(op, "s0")
	c.Assert(errcode.CodeOf(err), Equals, errcode.Interrupted)
	done()
}
