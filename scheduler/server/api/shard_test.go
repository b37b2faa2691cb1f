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
	"fmt"
	"net/http"

	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap-incubator/tinydoc/scheduler/pkg/apiutil"
	"github.com/pingcap-incubator/tinydoc/scheduler/server"
	. "github.com/pingcap/check"
)

var _ = Suite(&testShardSuite{})

type testShardSuite struct {
	svr       *server.Server
	cleanup   cleanUpFunc
	urlPrefix string
}

func (s *testShardSuite) SetUpSuite(c *C) {
	s.svr, s.cleanup = mustNewServer(c)
	s.urlPrefix = urlPrefix(s.svr)
}

func (s *testShardSuite) TearDownSuite(c *C) {
	s.cleanup()
}

func (s *testShardSuite) TestShardLifecycle(c *C) {
	var infos ShardsInfo
	code, err := readJSON(s.urlPrefix+"/shards", &infos)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusOK)
	c.Assert(infos.Count, Equals, 2)
	c.Assert(infos.Shards[0].ID, Equals, "s1")
	c.Assert(infos.Shards[1].ID, Equals, "s2")

	code, err = postJSON(s.urlPrefix+"/shards", mustMarshal(c, &ShardInfo{ID: "s3", Host: "127.0.0.1:27318"}), nil)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusOK)

	var info ShardInfo
	code, err = readJSON(s.urlPrefix+"/shards/s3", &info)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusOK)
	c.Assert(info, DeepEquals, ShardInfo{ID: "s3", Host: "127.0.0.1:27318"})

	// Duplicated id.
	var errResp apiutil.ErrorResponse
	code, err = postJSON(s.urlPrefix+"/shards", mustMarshal(c, &ShardInfo{ID: "s3", Host: "h"}), &errResp)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusBadRequest)
	c.Assert(errResp.Code, Equals, int32(errcode.IllegalOperation))

	code, err = doJSON(http.MethodDelete, s.urlPrefix+"/shards/s3", nil, nil)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusOK)

	code, err = readJSON(s.urlPrefix+"/shards/s3", &errResp)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusNotFound)
	c.Assert(errResp.CodeName, Equals, "ShardNotFound")
	c.Assert(errResp.ErrMsg, Equals, "Shard s3 not found")
}

func (s *testShardSuite) TestAddInvalidShard(c *C) {
	for _, in := range []*ShardInfo{
		{ID: "-bad", Host: "h"},
		{ID: "s9", Host: ""},
	} {
		var errResp apiutil.ErrorResponse
		code, err := postJSON(s.urlPrefix+"/shards", mustMarshal(c, in), &errResp)
		c.Assert(err, IsNil)
		c.Assert(code, Equals, http.StatusBadRequest, Commentf("%+v", in))
		c.Assert(errResp.Code, Equals, int32(errcode.BadValue))
	}

	code, err := postJSON(s.urlPrefix+"/shards", []byte(`{"id":`), nil)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusBadRequest)
}

func (s *testShardSuite) TestDrainShardOwningChunks(c *C) {
	code, err := postJSON(s.urlPrefix+"/shards", mustMarshal(c, &ShardInfo{ID: "s4", Host: "h4"}), nil)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusOK)
	code, err = postJSON(s.urlPrefix+"/collections",
		[]byte(`{"namespace": "drain.coll", "key": {"x": 1}, "primary_shard": "s4"}`), nil)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusOK)

	var errResp apiutil.ErrorResponse
	code, err = doJSON(http.MethodDelete, s.urlPrefix+"/shards/s4", nil, &errResp)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusConflict)
	c.Assert(errResp.Code, Equals, int32(errcode.ConflictingOperationInProgress))

	var info ShardInfo
	code, err = readJSON(s.urlPrefix+"/shards/s4", &info)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusOK)
	c.Assert(info.Draining, IsTrue)

	code, err = doJSON(http.MethodDelete, fmt.Sprintf("%s/collections/%s", s.urlPrefix, "drain.coll"), nil, nil)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusOK)
	code, err = doJSON(http.MethodDelete, s.urlPrefix+"/shards/s4", nil, nil)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusOK)
}

func (s *testShardSuite) TestBalancerStatus(c *C) {
	var status BalancerStatus
	code, err := readJSON(s.urlPrefix+"/balancer", &status)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusOK)
	c.Assert(status.InflightMigrations, Equals, 0)
}
