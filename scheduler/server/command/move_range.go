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
	"bytes"

	"github.com/pingcap-incubator/tinydoc/pkg/auth"
	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap-incubator/tinydoc/pkg/namespace"
	"github.com/pingcap-incubator/tinydoc/pkg/opctx"
	"github.com/pingcap-incubator/tinydoc/scheduler/server/balancer"
	"github.com/pingcap-incubator/tinydoc/scheduler/server/catalog"
	"github.com/pingcap-incubator/tinydoc/scheduler/server/config"
	"github.com/pingcap-incubator/tinydoc/scheduler/server/core"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
)

// MoveRangeName is the name of the config server moveRange command.
const MoveRangeName = "_configsvrMoveRange"

// ForceJumbo tells whether a jumbo chunk may be moved.
type ForceJumbo int32

// ForceJumbo values.
const (
	DoNotForce ForceJumbo = iota
	ForceManual
	ForceBalancer
)

// MoveRangeRequest is a parsed _configsvrMoveRange request.
type MoveRangeRequest struct {
	Namespace         namespace.NamespaceString
	ToShard           core.ShardID
	Min               bson.Raw
	Max               bson.Raw
	WaitForDelete     bool
	SecondaryThrottle bool
	ForceJumbo        ForceJumbo
}

type moveRangeBody struct {
	Namespace         string   `bson:"_configsvrMoveRange"`
	ToShard           string   `bson:"toShard"`
	Min               bson.Raw `bson:"min"`
	Max               bson.Raw `bson:"max"`
	WaitForDelete     bool     `bson:"waitForDelete"`
	SecondaryThrottle bool     `bson:"secondaryThrottle"`
	ForceJumbo        int32    `bson:"forceJumbo"`
}

// ParseMoveRangeRequest reads a _configsvrMoveRange command body.
func ParseMoveRangeRequest(body bson.Raw) (*MoveRangeRequest, error) {
	var b moveRangeBody
	if err := bson.Unmarshal(body, &b); err != nil {
		return nil, errcode.Errorf(errcode.FailedToParse, "invalid %s command: %v", MoveRangeName, err)
	}
	nss, err := namespace.Parse(b.Namespace)
	if err != nil {
		return nil, err
	}
	if b.ToShard == "" {
		return nil, errcode.Errorf(errcode.FailedToParse, "%s requires toShard", MoveRangeName)
	}
	if len(b.Min) == 0 || len(b.Max) == 0 {
		return nil, errcode.Errorf(errcode.FailedToParse, "%s requires min and max", MoveRangeName)
	}
	force := ForceJumbo(b.ForceJumbo)
	if force < DoNotForce || force > ForceBalancer {
		return nil, errcode.Errorf(errcode.BadValue, "invalid forceJumbo value %d", b.ForceJumbo)
	}
	return &MoveRangeRequest{
		Namespace:         nss,
		ToShard:           core.ShardID(b.ToShard),
		Min:               b.Min,
		Max:               b.Max,
		WaitForDelete:     b.WaitForDelete,
		SecondaryThrottle: b.SecondaryThrottle,
		ForceJumbo:        force,
	}, nil
}

// ChunkMover moves a single chunk between shards.
type ChunkMover interface {
	MoveSingleChunk(op *opctx.OperationContext, nss namespace.NamespaceString, chunk core.ChunkType,
		toShard core.ShardID, throttle balancer.SecondaryThrottle, waitForDelete, forceJumbo bool) error
}

// MoveRange asks the balancer to move the chunk with the exact bounds of a
// request to another shard.
type MoveRange struct {
	opt    *config.ClusterOption
	shards *core.ShardRegistry
	cache  *catalog.Cache
	mover  ChunkMover
}

// NewMoveRange creates the _configsvrMoveRange command.
func NewMoveRange(opt *config.ClusterOption, shards *core.ShardRegistry, cache *catalog.Cache, mover ChunkMover) *MoveRange {
	return &MoveRange{opt: opt, shards: shards, cache: cache, mover: mover}
}

// Name implements Command.
func (c *MoveRange) Name() string { return MoveRangeName }

// Help implements Command.
func (c *MoveRange) Help() string {
	return "Internal command only invokable on the config server. Do not call directly. " +
		"Requests the balancer to move a range."
}

// SecondaryAllowed implements Command.
func (c *MoveRange) SecondaryAllowed() AllowedOnSecondary { return AllowedNever }

// AdminOnly implements Command.
func (c *MoveRange) AdminOnly() bool { return true }

// Parse implements Command.
func (c *MoveRange) Parse(_ *opctx.OperationContext, _ string, body bson.Raw) (Invocation, error) {
	req, err := ParseMoveRangeRequest(body)
	if err != nil {
		return nil, err
	}
	return &moveRangeInvocation{cmd: c, req: req}, nil
}

type moveRangeInvocation struct {
	cmd *MoveRange
	req *MoveRangeRequest
}

func (inv *moveRangeInvocation) Namespace() namespace.NamespaceString { return inv.req.Namespace }

func (inv *moveRangeInvocation) SupportsWriteConcern() bool { return true }

func (inv *moveRangeInvocation) CheckAuthorization(op *opctx.OperationContext) error {
	if !op.Client().AuthorizationSession().IsAuthorizedForActionsOnResource(auth.ForClusterResource(), auth.ActionInternal) {
		return errcode.New(errcode.Unauthorized, "Unauthorized")
	}
	return nil
}

func (inv *moveRangeInvocation) Run(op *opctx.OperationContext) (bson.D, error) {
	c, req := inv.cmd, inv.req
	if !c.opt.IsFeatureEnabled(config.NoMoreAutoSplitter) {
		return nil, errcode.New(errcode.CommandFailed,
			"Can't run moveRange because the feature is disabled in the current FCV mode")
	}
	if c.opt.ClusterRole() != config.RoleConfigServer {
		return nil, errcode.Errorf(errcode.IllegalOperation, "%s can only be run on the config server", MoveRangeName)
	}

	op.SetAlwaysInterruptAtStepDownOrUp()
	// Reads of the routing table use local read concern.
	op.SetReadConcern(readconcern.Local())

	if _, err := c.shards.GetShard(op, req.ToShard); err != nil {
		return nil, errcode.AddContext(err, "Could not find destination shard")
	}

	routing, err := c.cache.GetShardedCollectionRoutingInfo(op, req.Namespace)
	if err != nil {
		return nil, err
	}
	chunk, err := routing.FindIntersectingChunk(req.Min)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(req.Min, chunk.GetMin()) || !bytes.Equal(req.Max, chunk.GetMax()) {
		return nil, errcode.New(errcode.CommandFailed, "No chunk found with the provided shard key bounds")
	}

	chunkType := core.ChunkType{
		CollectionUUID: routing.UUID(),
		Min:            chunk.GetMin(),
		Max:            chunk.GetMax(),
		Shard:          chunk.GetShardID(),
		Version:        routing.Version(),
	}

	throttle := balancer.Off()
	if req.SecondaryThrottle {
		throttle = balancer.WithWriteConcern(op.WriteConcern())
	}
	forceJumbo := req.ForceJumbo != DoNotForce
	if err := c.mover.MoveSingleChunk(op, req.Namespace, chunkType, req.ToShard, throttle, req.WaitForDelete, forceJumbo); err != nil {
		return nil, err
	}
	return bson.D{}, nil
}
