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
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/pingcap-incubator/tinydoc/scheduler/pkg/apiutil"
	"github.com/pingcap-incubator/tinydoc/scheduler/server"
	. "github.com/pingcap/check"
)

func TestAPIServer(t *testing.T) {
	TestingT(t)
}

type cleanUpFunc func()

func mustNewServer(c *C) (*server.Server, cleanUpFunc) {
	svr, cleanup, err := server.NewTestServer(c, NewHandler)
	c.Assert(err, IsNil)
	return svr, cleanUpFunc(cleanup)
}

func urlPrefix(svr *server.Server) string {
	return fmt.Sprintf("http://%s%s/api/v1", svr.GetAddr(), apiPrefix)
}

func readJSON(url string, data interface{}) (int, error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, err
	}
	return resp.StatusCode, apiutil.ReadJSON(resp.Body, data)
}

func doJSON(method, url string, body []byte, data interface{}) (int, error) {
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	if data == nil {
		_, err = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return resp.StatusCode, err
	}
	return resp.StatusCode, apiutil.ReadJSON(resp.Body, data)
}

func postJSON(url string, body []byte, data interface{}) (int, error) {
	return doJSON(http.MethodPost, url, body, data)
}

func mustMarshal(c *C, v interface{}) []byte {
	data, err := json.Marshal(v)
	c.Assert(err, IsNil)
	return data
}

var _ = Suite(&testPingSuite{})

type testPingSuite struct {
	svr     *server.Server
	cleanup cleanUpFunc
}

func (s *testPingSuite) SetUpSuite(c *C) {
	s.svr, s.cleanup = mustNewServer(c)
}

func (s *testPingSuite) TearDownSuite(c *C) {
	s.cleanup()
}

func (s *testPingSuite) TestPing(c *C) {
	resp, err := http.Get(urlPrefix(s.svr) + "/ping")
	c.Assert(err, IsNil)
	resp.Body.Close()
	c.Assert(resp.StatusCode, Equals, http.StatusOK)

	resp, err = http.Get(fmt.Sprintf("http://%s/metrics", s.svr.GetAddr()))
	c.Assert(err, IsNil)
	resp.Body.Close()
	c.Assert(resp.StatusCode, Equals, http.StatusOK)
}

func (s *testPingSuite) TestLogLevel(c *C) {
	code, err := postJSON(urlPrefix(s.svr)+"/config/log-level", []byte(`"debug"`), nil)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusOK)
	c.Assert(s.svr.GetConfig().Log.Level, Equals, "debug")

	code, err = postJSON(urlPrefix(s.svr)+"/config/log-level", []byte(`"loud"`), nil)
	c.Assert(err, IsNil)
	c.Assert(code, Not(Equals), http.StatusOK)

	code, err = postJSON(urlPrefix(s.svr)+"/config/log-level", []byte(`"info"`), nil)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusOK)
}

func (s *testPingSuite) TestFCV(c *C) {
	var version string
	code, err := readJSON(urlPrefix(s.svr)+"/config/fcv", &version)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusOK)
	c.Assert(version, Equals, "6.0.0")

	code, err = postJSON(urlPrefix(s.svr)+"/config/fcv", []byte(`{"version": "5.0"}`), nil)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusOK)
	c.Assert(s.svr.GetClusterOption().FeatureCompatibilityVersion().String(), Equals, "5.0.0")

	code, err = postJSON(urlPrefix(s.svr)+"/config/fcv", []byte(`{"version": "9.0"}`), nil)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusBadRequest)

	code, err = postJSON(urlPrefix(s.svr)+"/config/fcv", []byte(`{}`), nil)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusBadRequest)

	code, err = postJSON(urlPrefix(s.svr)+"/config/fcv", []byte(`{"version": "6.0"}`), nil)
	c.Assert(err, IsNil)
	c.Assert(code, Equals, http.StatusOK)
}
