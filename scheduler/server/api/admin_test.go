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

package api

import (
	"net/http"

	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap-incubator/tinydoc/scheduler/pkg/apiutil"
	"github.com/pingcap-incubator/tinydoc/scheduler/server"
	"github.com/pingcap-incubator/tinydoc/scheduler/server/command"
	. "github.com/pingcap/check"
)

var _ = Suite(&testAdminSuite{})

type testAdminSuite struct {
	svr       *server.Server
	cleanup   cleanUpFunc
	urlPrefix string
}

func (s *testAdminSuite) SetUpSuite(c *C) {
	s.svr, s.cleanup = mustNewServer(c)
	s.urlPrefix = urlPrefix(s.svr)

	code, err := postJSON(s.urlPrefix+"/collections",
		[]byte(`{"namespace": "test.orders", "key": {"a": 1}, "split_points": [{"a": 10}], "primary_shard": "s1"}`), nil)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusOK)
}

func (s *testAdminSuite) TearDownSuite(c *C) {
	s.cleanup()
}

func (s *testAdminSuite) TestListCommands(c *C) {
	var infos []CommandInfo
	code, err := readJSON(s.urlPrefix+"/admin/commands", &infos)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusOK)
	c.Assert(infos, HasLen, 1)
	c.Assert(infos[0].Name, Equals, command.MoveRangeName)
	c.Assert(infos[0].AdminOnly, IsTrue)
	c.Assert(infos[0].Secondary, Equals, "never")
}

func (s *testAdminSuite) TestMoveRange(c *C) {
	body := []byte(`{
		"_configsvrMoveRange": "test.orders",
		"toShard": "s2",
		"min": {"a": {"$minKey": 1}},
		"max": {"a": 10},
		"waitForDelete": true,
		"secondaryThrottle": true,
		"writeConcern": {"w": "majority"}
	}`)
	var reply map[string]interface{}
	code, err := postJSON(s.urlPrefix+"/admin/_configsvrMoveRange", body, &reply)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusOK)
	c.Assert(reply["ok"], Equals, 1.0)

	var chunks ChunksInfo
	code, err = readJSON(s.urlPrefix+"/collections/test.orders/chunks", &chunks)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusOK)
	c.Assert(chunks.Chunks[0].Shard, Equals, "s2")
	c.Assert(chunks.Chunks[1].Shard, Equals, "s1")

	// Bounds that are not exactly a chunk.
	var errResp apiutil.ErrorResponse
	code, err = postJSON(s.urlPrefix+"/admin/_configsvrMoveRange", []byte(`{
		"_configsvrMoveRange": "test.orders",
		"toShard": "s1",
		"min": {"a": {"$minKey": 1}},
		"max": {"a": 5}
	}`), &errResp)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusBadRequest)
	c.Assert(errResp.Code, Equals, int32(errcode.CommandFailed))
	c.Assert(errResp.ErrMsg, Equals, "No chunk found with the provided shard key bounds")
}

func (s *testAdminSuite) TestMoveRangeErrors(c *C) {
	cases := []struct {
		url  string
		body string
		code int
		err  errcode.Code
	}{
		{
			url:  "/admin/_configsvrMoveRange",
			body: `{"_configsvrMoveRange": "test.orders", "toShard": "s9", "min": {"a": 10}, "max": {"a": {"$maxKey": 1}}}`,
			code: http.StatusNotFound,
			err:  errcode.ShardNotFound,
		},
		{
			url:  "/admin/_configsvrMoveRange?db=test",
			body: `{"_configsvrMoveRange": "test.orders", "toShard": "s2", "min": {"a": 10}, "max": {"a": {"$maxKey": 1}}}`,
			code: http.StatusForbidden,
			err:  errcode.Unauthorized,
		},
		{
			url:  "/admin/_configsvrMoveRange",
			body: `{"_configsvrMoveRange": "test.nothing", "toShard": "s2", "min": {"a": 10}, "max": {"a": {"$maxKey": 1}}}`,
			code: http.StatusNotFound,
			err:  errcode.NamespaceNotSharded,
		},
		{
			url:  "/admin/_configsvrMoveRange",
			body: `{"_configsvrMoveRange": "test.orders", "min": {"a": 10}, "max": {"a": {"$maxKey": 1}}}`,
			code: http.StatusBadRequest,
			err:  errcode.FailedToParse,
		},
		{
			url:  "/admin/_configsvrMoveRange",
			body: `{"toShard": "s2", "_configsvrMoveRange": "test.orders"}`,
			code: http.StatusBadRequest,
			err:  errcode.FailedToParse,
		},
		{
			url:  "/admin/_configsvrMoveRange",
			body: `{"_configsvrMoveRange": `,
			code: http.StatusBadRequest,
			err:  errcode.FailedToParse,
		},
		{
			url:  "/admin/nope",
			body: `{"nope": 1}`,
			code: http.StatusNotFound,
			err:  errcode.CommandNotFound,
		},
	}
	for _, t := range cases {
		var errResp apiutil.ErrorResponse
		code, err := postJSON(s.urlPrefix+t.url, []byte(t.body), &errResp)
		c.Assert(err, IsNil)
		c.Assert(code, Equals, t.code, Commentf(t.body))
		c.Assert(errResp.Code, Equals, int32(t.err), Commentf(t.body))
	}
}

func (s *testAdminSuite) TestMoveRangeOnSecondary(c *C) {
	c.Assert(s.svr.ReplCoordinator().StepDown(), IsNil)
	defer func() {
		c.Assert(s.svr.ReplCoordinator().StepUp(), IsNil)
	}()

	var errResp apiutil.ErrorResponse
	code, err := postJSON(s.urlPrefix+"/admin/_configsvrMoveRange",
		[]byte(`{"_configsvrMoveRange": "test.orders", "toShard": "s2", "min": {"a": 10}, "max": {"a": {"$maxKey": 1}}}`), &errResp)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusServiceUnavailable)
	c.Assert(errResp.CodeName, Equals, "NotWritablePrimary")
}
