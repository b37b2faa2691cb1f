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

package command

import (
	"context"
	"testing"

	"github.com/pingcap-incubator/tinydoc/pkg/auth"
	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap-incubator/tinydoc/pkg/namespace"
	"github.com/pingcap-incubator/tinydoc/pkg/opctx"
	"github.com/pingcap-incubator/tinydoc/pkg/repl"
	"github.com/pingcap-incubator/tinydoc/scheduler/server/balancer"
	"github.com/pingcap-incubator/tinydoc/scheduler/server/catalog"
	"github.com/pingcap-incubator/tinydoc/scheduler/server/config"
	"github.com/pingcap-incubator/tinydoc/scheduler/server/core"
	. "github.com/pingcap/check"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
)

func Test(t *testing.T) {
	TestingT(t)
}

var _ = Suite(&testMoveRangeSuite{})

type moveCall struct {
	nss           namespace.NamespaceString
	chunk         core.ChunkType
	toShard       core.ShardID
	throttle      balancer.SecondaryThrottle
	waitForDelete bool
	forceJumbo    bool
	readConcern   *readconcern.ReadConcern
}

type fakeMover struct {
	calls []moveCall
	hook  func(op *opctx.OperationContext) error
}

func (m *fakeMover) MoveSingleChunk(op *opctx.OperationContext, nss namespace.NamespaceString, chunk core.ChunkType,
	toShard core.ShardID, throttle balancer.SecondaryThrottle, waitForDelete, forceJumbo bool) error {
	m.calls = append(m.calls, moveCall{nss, chunk, toShard, throttle, waitForDelete, forceJumbo, op.ReadConcern()})
	if m.hook != nil {
		return m.hook(op)
	}
	return nil
}

type testMoveRangeSuite struct {
	coord   *repl.Coordinator
	svc     *opctx.ServiceContext
	cfg     *config.Config
	shards  *core.ShardRegistry
	cache   *catalog.Cache
	nss     namespace.NamespaceString
	routing *core.RoutingInfo
	mover   *fakeMover
}

func (s *testMoveRangeSuite) SetUpTest(c *C) {
	s.coord = repl.NewCoordinator(repl.ModeReplSet, "csrs")
	c.Assert(s.coord.StepUp(), IsNil)
	s.svc = opctx.NewServiceContext(s.coord)

	s.cfg = config.NewConfig()
	c.Assert(s.cfg.Adjust(nil), IsNil)

	s.shards = core.NewShardRegistry()
	c.Assert(s.shards.AddShard(core.NewShardInfo("s0", "rs0/h:0")), IsNil)
	c.Assert(s.shards.AddShard(core.NewShardInfo("s1", "rs1/h:1")), IsNil)
	s.cache = catalog.NewCache(s.shards)
	s.nss = namespace.MustParse("test.users")

	op, done := s.internalClient().MakeOperationContext(context.Background())
	defer done()
	routing, err := s.cache.ShardCollection(op, &catalog.ShardCollectionRequest{
		Namespace:    s.nss,
		Key:          bson.D{{Key: "x", Value: 1}},
		SplitPoints:  []bson.Raw{core.KeyDoc("x", int32(0)), core.KeyDoc("x", int32(100))},
		PrimaryShard: "s0",
	})
	c.Assert(err, IsNil)
	s.routing = routing
	s.mover = &fakeMover{}
}

func (s *testMoveRangeSuite) internalClient() *opctx.Client {
	return s.svc.MakeClient("internal", auth.NewSession(auth.Privilege{
		Resource: auth.ForClusterResource(),
		Actions:  []auth.ActionType{auth.ActionInternal},
	}))
}

func (s *testMoveRangeSuite) registry(c *C, mover ChunkMover) *Registry {
	opt, err := config.NewClusterOption(s.cfg)
	c.Assert(err, IsNil)
	return NewRegistry(NewMoveRange(opt, s.shards, s.cache, mover))
}

func (s *testMoveRangeSuite) run(c *C, r *Registry, client *opctx.Client, db string, cmd bson.D) (bson.D, error) {
	body, err := bson.Marshal(cmd)
	c.Assert(err, IsNil)
	op, done := client.MakeOperationContext(context.Background())
	defer done()
	return r.Run(op, db, body)
}

func (s *testMoveRangeSuite) moveRange(toShard string, min, max int32, extra ...bson.E) bson.D {
	cmd := bson.D{
		{Key: MoveRangeName, Value: s.nss.String()},
		{Key: "toShard", Value: toShard},
		{Key: "min", Value: bson.D{{Key: "x", Value: min}}},
		{Key: "max", Value: bson.D{{Key: "x", Value: max}}},
	}
	return append(cmd, extra...)
}

func (s *testMoveRangeSuite) TestCommandProperties(c *C) {
	cmd := NewMoveRange(nil, nil, nil, nil)
	c.Assert(cmd.Name(), Equals, "_configsvrMoveRange")
	c.Assert(cmd.Help(), Equals, "Internal command only invokable on the config server. Do not call directly. Requests the balancer to move a range.")
	c.Assert(cmd.SecondaryAllowed(), Equals, AllowedNever)
	c.Assert(cmd.AdminOnly(), IsTrue)

	body, err := bson.Marshal(s.moveRange("s1", 0, 100))
	c.Assert(err, IsNil)
	inv, err := cmd.Parse(nil, namespace.AdminDB, body)
	c.Assert(err, IsNil)
	c.Assert(inv.SupportsWriteConcern(), IsTrue)
	c.Assert(inv.Namespace(), Equals, s.nss)
}

func (s *testMoveRangeSuite) TestMoveRange(c *C) {
	r := s.registry(c, s.mover)
	before := testutil.ToFloat64(commandCounter.WithLabelValues(MoveRangeName, "OK"))

	reply, err := s.run(c, r, s.internalClient(), namespace.AdminDB, s.moveRange("s1", 0, 100,
		bson.E{Key: "waitForDelete", Value: true}))
	c.Assert(err, IsNil)
	c.Assert(reply, HasLen, 0)
	c.Assert(testutil.ToFloat64(commandCounter.WithLabelValues(MoveRangeName, "OK")), Equals, before+1)

	c.Assert(s.mover.calls, HasLen, 1)
	call := s.mover.calls[0]
	c.Assert(call.nss, Equals, s.nss)
	c.Assert(call.toShard, Equals, core.ShardID("s1"))
	c.Assert(call.chunk.CollectionUUID, Equals, s.routing.UUID())
	c.Assert(call.chunk.Shard, Equals, core.ShardID("s0"))
	c.Assert(call.chunk.Version, Equals, s.routing.Version())
	c.Assert([]byte(call.chunk.Min), DeepEquals, []byte(core.KeyDoc("x", int32(0))))
	c.Assert([]byte(call.chunk.Max), DeepEquals, []byte(core.KeyDoc("x", int32(100))))
	c.Assert(call.throttle.IsOn(), IsFalse)
	c.Assert(call.waitForDelete, IsTrue)
	c.Assert(call.forceJumbo, IsFalse)
	c.Assert(call.readConcern.GetLevel(), Equals, "local")
}

func (s *testMoveRangeSuite) TestSecondaryThrottleAndForceJumbo(c *C) {
	r := s.registry(c, s.mover)
	_, err := s.run(c, r, s.internalClient(), namespace.AdminDB, s.moveRange("s1", 0, 100,
		bson.E{Key: "secondaryThrottle", Value: true},
		bson.E{Key: "forceJumbo", Value: int32(ForceManual)},
		bson.E{Key: "writeConcern", Value: bson.D{{Key: "w", Value: int32(2)}}}))
	c.Assert(err, IsNil)
	c.Assert(s.mover.calls, HasLen, 1)
	call := s.mover.calls[0]
	c.Assert(call.throttle.IsOn(), IsTrue)
	c.Assert(call.throttle.WriteConcern().GetW(), Equals, 2)
	c.Assert(call.forceJumbo, IsTrue)
	c.Assert(call.waitForDelete, IsFalse)

	// Without an explicit write concern the operation default is used.
	_, err = s.run(c, r, s.internalClient(), namespace.AdminDB, s.moveRange("s1", 0, 100,
		bson.E{Key: "secondaryThrottle", Value: true},
		bson.E{Key: "forceJumbo", Value: int32(ForceBalancer)}))
	c.Assert(err, IsNil)
	call = s.mover.calls[1]
	c.Assert(call.throttle.WriteConcern(), Equals, opctx.DefaultWriteConcern)
	c.Assert(call.forceJumbo, IsTrue)
}

func (s *testMoveRangeSuite) TestFeatureDisabled(c *C) {
	opt, err := config.NewClusterOption(s.cfg)
	c.Assert(err, IsNil)
	c.Assert(opt.SetFeatureCompatibilityVersion("5.0"), IsNil)
	r := NewRegistry(NewMoveRange(opt, s.shards, s.cache, s.mover))

	_, err = s.run(c, r, s.internalClient(), namespace.AdminDB, s.moveRange("s1", 0, 100))
	c.Assert(errcode.CodeOf(err), Equals, errcode.CommandFailed)
	c.Assert(errcode.ReasonOf(err), Equals, "Can't run moveRange because the feature is disabled in the current FCV mode")
	c.Assert(s.mover.calls, HasLen, 0)

	s.cfg.FeatureFlags = map[string]bool{"noMoreAutoSplitter": true}
	opt, err = config.NewClusterOption(s.cfg)
	c.Assert(err, IsNil)
	c.Assert(opt.SetFeatureCompatibilityVersion("5.0"), IsNil)
	r = NewRegistry(NewMoveRange(opt, s.shards, s.cache, s.mover))
	_, err = s.run(c, r, s.internalClient(), namespace.AdminDB, s.moveRange("s1", 0, 100))
	c.Assert(err, IsNil)
}

func (s *testMoveRangeSuite) TestNotConfigServer(c *C) {
	s.cfg.ClusterRole = "shardsvr"
	r := s.registry(c, s.mover)
	_, err := s.run(c, r, s.internalClient(), namespace.AdminDB, s.moveRange("s1", 0, 100))
	c.Assert(errcode.CodeOf(err), Equals, errcode.IllegalOperation)
	c.Assert(errcode.ReasonOf(err), Equals, "_configsvrMoveRange can only be run on the config server")
}

func (s *testMoveRangeSuite) TestFeatureGateCheckedBeforeRole(c *C) {
	s.cfg.ClusterRole = "shardsvr"
	s.cfg.FeatureFlags = map[string]bool{"noMoreAutoSplitter": false}
	r := s.registry(c, s.mover)
	_, err := s.run(c, r, s.internalClient(), namespace.AdminDB, s.moveRange("s1", 0, 100))
	c.Assert(errcode.CodeOf(err), Equals, errcode.CommandFailed)
}

func (s *testMoveRangeSuite) TestUnauthorized(c *C) {
	r := s.registry(c, s.mover)
	client := s.svc.MakeClient("user", auth.NewSession(auth.Privilege{
		Resource: auth.ForDatabase("test"),
		Actions:  []auth.ActionType{auth.ActionInternal},
	}))
	_, err := s.run(c, r, client, namespace.AdminDB, s.moveRange("s1", 0, 100))
	c.Assert(errcode.CodeOf(err), Equals, errcode.Unauthorized)
	c.Assert(errcode.ReasonOf(err), Equals, "Unauthorized")
	c.Assert(s.mover.calls, HasLen, 0)
}

func (s *testMoveRangeSuite) TestAdminOnly(c *C) {
	r := s.registry(c, s.mover)
	_, err := s.run(c, r, s.internalClient(), "test", s.moveRange("s1", 0, 100))
	c.Assert(errcode.CodeOf(err), Equals, errcode.Unauthorized)
}

func (s *testMoveRangeSuite) TestNotPrimary(c *C) {
	r := s.registry(c, s.mover)
	c.Assert(s.coord.StepDown(), IsNil)
	_, err := s.run(c, r, s.internalClient(), namespace.AdminDB, s.moveRange("s1", 0, 100))
	c.Assert(errcode.CodeOf(err), Equals, errcode.NotWritablePrimary)
}

func (s *testMoveRangeSuite) TestDestinationShardNotFound(c *C) {
	r := s.registry(c, s.mover)
	_, err := s.run(c, r, s.internalClient(), namespace.AdminDB, s.moveRange("s9", 0, 100))
	c.Assert(errcode.CodeOf(err), Equals, errcode.ShardNotFound)
	c.Assert(errcode.ReasonOf(err), Equals, "Could not find destination shard :: caused by :: Shard s9 not found")
}

func (s *testMoveRangeSuite) TestBoundsMismatch(c *C) {
	r := s.registry(c, s.mover)
	for _, bounds := range [][2]int32{{0, 50}, {10, 100}} {
		_, err := s.run(c, r, s.internalClient(), namespace.AdminDB, s.moveRange("s1", bounds[0], bounds[1]))
		c.Assert(errcode.CodeOf(err), Equals, errcode.CommandFailed)
		c.Assert(errcode.ReasonOf(err), Equals, "No chunk found with the provided shard key bounds")
	}
	// A bound of another type does not match even if it compares equal.
	_, err := s.run(c, r, s.internalClient(), namespace.AdminDB, bson.D{
		{Key: MoveRangeName, Value: s.nss.String()},
		{Key: "toShard", Value: "s1"},
		{Key: "min", Value: bson.D{{Key: "x", Value: int32(0)}}},
		{Key: "max", Value: bson.D{{Key: "x", Value: int64(100)}}},
	})
	c.Assert(errcode.CodeOf(err), Equals, errcode.CommandFailed)
	c.Assert(s.mover.calls, HasLen, 0)
}

func (s *testMoveRangeSuite) TestNotSharded(c *C) {
	r := s.registry(c, s.mover)
	cmd := s.moveRange("s1", 0, 100)
	cmd[0].Value = "test.other"
	_, err := s.run(c, r, s.internalClient(), namespace.AdminDB, cmd)
	c.Assert(errcode.CodeOf(err), Equals, errcode.NamespaceNotSharded)
}

func (s *testMoveRangeSuite) TestBalancerErrorPropagates(c *C) {
	s.mover.hook = func(*opctx.OperationContext) error {
		return errcode.New(errcode.ChunkTooBig, "too big")
	}
	r := s.registry(c, s.mover)
	_, err := s.run(c, r, s.internalClient(), namespace.AdminDB, s.moveRange("s1", 0, 100))
	c.Assert(errcode.CodeOf(err), Equals, errcode.ChunkTooBig)
	c.Assert(errcode.ReasonOf(err), Equals, "too big")
}

func (s *testMoveRangeSuite) TestInterruptedAtStepDown(c *C) {
	s.mover.hook = func(op *opctx.OperationContext) error {
		c.Assert(op.AlwaysInterruptAtStepDownOrUp(), IsTrue)
		c.Assert(s.coord.StepDown(), IsNil)
		return op.CheckForInterrupt()
	}
	r := s.registry(c, s.mover)
	_, err := s.run(c, r, s.internalClient(), namespace.AdminDB, s.moveRange("s1", 0, 100))
	c.Assert(errcode.CodeOf(err), Equals, errcode.InterruptedDueToReplStateChange)
}

func (s *testMoveRangeSuite) TestWithBalancer(c *C) {
	opt, err := config.NewClusterOption(s.cfg)
	c.Assert(err, IsNil)
	manager := balancer.NewLocalMigrationManager(s.cache, nil)
	defer manager.Close()
	r := NewRegistry(NewMoveRange(opt, s.shards, s.cache, balancer.NewBalancer(s.cache, opt, manager)))

	_, err = s.run(c, r, s.internalClient(), namespace.AdminDB, s.moveRange("s1", 0, 100,
		bson.E{Key: "waitForDelete", Value: true}))
	c.Assert(err, IsNil)
	routing := s.cache.GetCollections()[0]
	chunk, err := routing.FindIntersectingChunk(core.KeyDoc("x", int32(0)))
	c.Assert(err, IsNil)
	c.Assert(chunk.GetShardID(), Equals, core.ShardID("s1"))
	c.Assert(routing.Version().Major, Equals, uint32(2))

	// Moving again to the owner is a no-op.
	_, err = s.run(c, r, s.internalClient(), namespace.AdminDB, s.moveRange("s1", 0, 100))
	c.Assert(err, IsNil)
	c.Assert(s.cache.GetCollections()[0].Version(), Equals, routing.Version())
}

func (s *testMoveRangeSuite) TestParseErrors(c *C) {
	r := s.registry(c, s.mover)
	cases := []struct {
		cmd  bson.D
		code errcode.Code
	}{
		{bson.D{{Key: MoveRangeName, Value: "nodot"}, {Key: "toShard", Value: "s1"}}, errcode.InvalidNamespace},
		{bson.D{{Key: MoveRangeName, Value: s.nss.String()}}, errcode.FailedToParse},
		{bson.D{{Key: MoveRangeName, Value: s.nss.String()}, {Key: "toShard", Value: "s1"}}, errcode.FailedToParse},
		{s.moveRange("s1", 0, 100, bson.E{Key: "forceJumbo", Value: int32(7)}), errcode.BadValue},
		{s.moveRange("s1", 0, 100, bson.E{Key: "writeConcern", Value: "majority"}), errcode.FailedToParse},
		{s.moveRange("s1", 0, 100, bson.E{Key: "writeConcern", Value: bson.D{{Key: "x", Value: 1}}}), errcode.FailedToParse},
	}
	for _, t := range cases {
		_, err := s.run(c, r, s.internalClient(), namespace.AdminDB, t.cmd)
		c.Assert(errcode.CodeOf(err), Equals, t.code, Commentf("%v", t.cmd))
	}
	c.Assert(s.mover.calls, HasLen, 0)
}
