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

package server

import (
	"context"
	"sync"

	"github.com/pingcap-incubator/tinydoc/scheduler/server/config"
	"github.com/pingcap/check"
	"github.com/pingcap/log"
)

// CleanupFunc closes test config server(s).
type CleanupFunc func()

// NewTestServer creates a running config server for testing. The admin
// API is served on a random local port when handlerBuilder is not nil.
func NewTestServer(c *check.C, handlerBuilder HandlerBuilder) (*Server, CleanupFunc, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := NewTestSingleConfig(c)
	s, err := CreateServer(cfg, handlerBuilder)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if err = s.Run(ctx); err != nil {
		cancel()
		return nil, nil, err
	}

	cleanup := func() {
		cancel()
		s.Close()
	}
	return s, cleanup, nil
}

var zapLogOnce sync.Once

// NewTestSingleConfig is only for test to create one config server with
// two shards, s1 and s2.
func NewTestSingleConfig(c *check.C) *config.Config {
	cfg := config.NewConfig()
	cfg.Name = "configsvr"
	cfg.Addr = "127.0.0.1:0"
	cfg.Shards = []config.ShardConfig{
		{ID: "s1", Host: "127.0.0.1:27118"},
		{ID: "s2", Host: "127.0.0.1:27218"},
	}

	err := cfg.SetupLogger()
	c.Assert(err, check.IsNil)
	zapLogOnce.Do(func() {
		log.ReplaceGlobals(cfg.GetZapLogger(), cfg.GetZapLogProperties())
	})

	c.Assert(cfg.Adjust(nil), check.IsNil)

	return cfg
}
