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

	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap-incubator/tinydoc/pkg/namespace"
	"github.com/pingcap-incubator/tinydoc/pkg/opctx"
	"github.com/pingcap-incubator/tinydoc/pkg/repl"
	. "github.com/pingcap/check"
	"go.mongodb.org/mongo-driver/bson"
)

var _ = Suite(&testRegistrySuite{})

type testRegistrySuite struct {
	coord *repl.Coordinator
	svc   *opctx.ServiceContext
}

func (s *testRegistrySuite) SetUpTest(c *C) {
	s.coord = repl.NewCoordinator(repl.ModeReplSet, "csrs")
	s.svc = opctx.NewServiceContext(s.coord)
}

// echoCommand replies with its argument and runs on secondaries.
type echoCommand struct{}

func (echoCommand) Name() string                         { return "echo" }
func (echoCommand) Help() string                         { return "echo" }
func (echoCommand) SecondaryAllowed() AllowedOnSecondary { return AllowedAlways }
func (echoCommand) AdminOnly() bool                      { return false }

func (echoCommand) Parse(_ *opctx.OperationContext, db string, body bson.Raw) (Invocation, error) {
	return &echoInvocation{db: db, value: body.Lookup("echo")}, nil
}

type echoInvocation struct {
	db    string
	value bson.RawValue
}

func (inv *echoInvocation) Namespace() namespace.NamespaceString {
	return namespace.NamespaceString{DB: inv.db}
}
func (inv *echoInvocation) SupportsWriteConcern() bool                       { return false }
func (inv *echoInvocation) CheckAuthorization(*opctx.OperationContext) error { return nil }
func (inv *echoInvocation) Run(*opctx.OperationContext) (bson.D, error) {
	return bson.D{{Key: "echo", Value: inv.value}}, nil
}

func (s *testRegistrySuite) run(c *C, r *Registry, db string, cmd bson.D) (bson.D, error) {
	body, err := bson.Marshal(cmd)
	c.Assert(err, IsNil)
	op, done := s.svc.MakeClient("test", nil).MakeOperationContext(context.Background())
	defer done()
	return r.Run(op, db, body)
}

func (s *testRegistrySuite) TestRegister(c *C) {
	r := NewRegistry(echoCommand{})
	c.Assert(r.Register(echoCommand{}), NotNil)
	c.Assert(r.Register(NewMoveRange(nil, nil, nil, nil)), IsNil)
	c.Assert(r.Names(), DeepEquals, []string{"_configsvrMoveRange", "echo"})
	_, ok := r.Lookup("echo")
	c.Assert(ok, IsTrue)
	_, ok = r.Lookup("nope")
	c.Assert(ok, IsFalse)
}

func (s *testRegistrySuite) TestRun(c *C) {
	r := NewRegistry(echoCommand{})

	// Allowed on a node that has not stepped up.
	reply, err := s.run(c, r, "test", bson.D{{Key: "echo", Value: "hi"}})
	c.Assert(err, IsNil)
	c.Assert(reply[0].Key, Equals, "echo")

	_, err = s.run(c, r, "test", bson.D{{Key: "nope", Value: 1}})
	c.Assert(errcode.CodeOf(err), Equals, errcode.CommandNotFound)
	c.Assert(errcode.ReasonOf(err), Equals, "no such command: 'nope'")

	_, err = s.run(c, r, "test", bson.D{})
	c.Assert(errcode.CodeOf(err), Equals, errcode.FailedToParse)

	_, err = s.run(c, r, "test", bson.D{
		{Key: "echo", Value: "hi"},
		{Key: "writeConcern", Value: bson.D{{Key: "w", Value: 1}}},
	})
	c.Assert(errcode.CodeOf(err), Equals, errcode.InvalidOptions)
}

func (s *testRegistrySuite) TestParseWriteConcern(c *C) {
	parse := func(doc bson.D) (interface{}, error) {
		raw, err := bson.Marshal(bson.D{{Key: "writeConcern", Value: doc}})
		c.Assert(err, IsNil)
		wc, err := ParseWriteConcern(bson.Raw(raw).Lookup("writeConcern"))
		if err != nil {
			return nil, err
		}
		return wc.GetW(), nil
	}

	w, err := parse(bson.D{{Key: "w", Value: "majority"}, {Key: "wtimeout", Value: int32(100)}})
	c.Assert(err, IsNil)
	c.Assert(w, Equals, "majority")

	w, err = parse(bson.D{{Key: "w", Value: int64(3)}, {Key: "j", Value: true}})
	c.Assert(err, IsNil)
	c.Assert(w, Equals, 3)

	w, err = parse(bson.D{{Key: "w", Value: "dc1"}})
	c.Assert(err, IsNil)
	c.Assert(w, Equals, "dc1")

	for _, bad := range []bson.D{
		{{Key: "w", Value: int32(-1)}},
		{{Key: "w", Value: true}},
		{{Key: "j", Value: 1}},
		{{Key: "wtimeout", Value: "soon"}},
		{{Key: "fsync", Value: true}},
	} {
		_, err = parse(bad)
		c.Assert(errcode.CodeOf(err), Equals, errcode.FailedToParse, Commentf("%v", bad))
	}
}
