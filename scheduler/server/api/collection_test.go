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
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap-incubator/tinydoc/scheduler/pkg/apiutil"
	"github.com/pingcap-incubator/tinydoc/scheduler/server"
	. "github.com/pingcap/check"
)

var _ = Suite(&testCollectionSuite{})

func compact(c *C, raw json.RawMessage) string {
	var buf bytes.Buffer
	c.Assert(json.Compact(&buf, raw), IsNil)
	return buf.String()
}

type testCollectionSuite struct {
	svr       *server.Server
	cleanup   cleanUpFunc
	urlPrefix string
}

func (s *testCollectionSuite) SetUpSuite(c *C) {
	s.svr, s.cleanup = mustNewServer(c)
	s.urlPrefix = urlPrefix(s.svr)
}

func (s *testCollectionSuite) TearDownSuite(c *C) {
	s.cleanup()
}

func (s *testCollectionSuite) TestShardCollection(c *C) {
	body := []byte(`{
		"namespace": "test.users",
		"key": {"uid": 1},
		"split_points": [{"uid": 100}, {"uid": 200}],
		"primary_shard": "s1",
		"distribute": true
	}`)
	var info CollectionInfo
	code, err := postJSON(s.urlPrefix+"/collections", body, &info)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusOK)
	c.Assert(info.Namespace, Equals, "test.users")
	c.Assert(info.ChunkCount, Equals, 3)
	c.Assert(info.Shards, DeepEquals, []string{"s1", "s2"})
	c.Assert(compact(c, info.Key), Equals, `{"uid":1}`)

	var colls []*CollectionInfo
	code, err = readJSON(s.urlPrefix+"/collections", &colls)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusOK)
	c.Assert(colls, HasLen, 1)
	c.Assert(colls[0].UUID, Equals, info.UUID)

	// Sharding twice fails.
	var errResp apiutil.ErrorResponse
	code, err = postJSON(s.urlPrefix+"/collections", body, &errResp)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusConflict)
	c.Assert(errResp.Code, Equals, int32(errcode.AlreadyInitialized))

	var chunks ChunksInfo
	code, err = readJSON(s.urlPrefix+"/collections/test.users/chunks", &chunks)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusOK)
	c.Assert(chunks.Count, Equals, 3)
	c.Assert(compact(c, chunks.Chunks[0].Min), Equals, `{"uid":{"$minKey":1}}`)
	c.Assert(compact(c, chunks.Chunks[0].Max), Equals, `{"uid":100}`)
	c.Assert(chunks.Chunks[0].Shard, Equals, "s1")
	c.Assert(chunks.Chunks[1].Shard, Equals, "s2")
	c.Assert(compact(c, chunks.Chunks[2].Max), Equals, `{"uid":{"$maxKey":1}}`)

	q := url.Values{}
	q.Set("from", `{"uid": 150}`)
	q.Set("limit", "1")
	code, err = readJSON(s.urlPrefix+"/collections/test.users/chunks?"+q.Encode(), &chunks)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusOK)
	c.Assert(chunks.Count, Equals, 1)
	c.Assert(compact(c, chunks.Chunks[0].Min), Equals, `{"uid":100}`)

	code, err = readJSON(s.urlPrefix+"/collections/test.users/chunks?limit=2", &chunks)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusOK)
	c.Assert(chunks.Count, Equals, 2)

	code, err = readJSON(s.urlPrefix+"/collections/test.users/chunks?limit=-1", &errResp)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusBadRequest)

	code, err = doJSON(http.MethodDelete, s.urlPrefix+"/collections/test.users", nil, nil)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusOK)

	code, err = readJSON(s.urlPrefix+"/collections/test.users/chunks", &errResp)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusNotFound)
	c.Assert(errResp.CodeName, Equals, "NamespaceNotSharded")
}

func (s *testCollectionSuite) TestShardCollectionBadInput(c *C) {
	for _, body := range []string{
		`{"namespace": "nodot", "key": {"a": 1}, "primary_shard": "s1"}`,
		`{"namespace": "test.c", "primary_shard": "s1"}`,
		`{"namespace": "test.c", "key": {"a": 1}, "split_points": [{"b": 1}], "primary_shard": "s1"}`,
	} {
		var errResp apiutil.ErrorResponse
		code, err := postJSON(s.urlPrefix+"/collections", []byte(body), &errResp)
		c.Assert(err, IsNil)
		c.Assert(code, Equals, http.StatusBadRequest, Commentf(body))
	}

	var errResp apiutil.ErrorResponse
	code, err := postJSON(s.urlPrefix+"/collections",
		[]byte(`{"namespace": "test.c", "key": {"a": 1}, "primary_shard": "s9"}`), &errResp)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusNotFound)
	c.Assert(errResp.Code, Equals, int32(errcode.ShardNotFound))
}
