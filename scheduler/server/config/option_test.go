// Copyright 2019 PingCAP, Inc.
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

package config

import (
	"github.com/coreos/go-semver/semver"
	. "github.com/pingcap/check"
)

var _ = Suite(&testOptionSuite{})

type testOptionSuite struct{}

func newTestClusterOption(c *C, fcv string, flags map[string]bool) *ClusterOption {
	cfg := NewConfig()
	cfg.FeatureCompatibilityVersion = fcv
	cfg.FeatureFlags = flags
	c.Assert(cfg.Adjust(nil), IsNil)
	opt, err := NewClusterOption(cfg)
	c.Assert(err, IsNil)
	return opt
}

func (s *testOptionSuite) TestFeatureGate(c *C) {
	opt := newTestClusterOption(c, "5.0", nil)
	c.Assert(opt.ClusterRole(), Equals, RoleConfigServer)
	c.Assert(opt.IsFeatureEnabled(Base), IsTrue)
	c.Assert(opt.IsFeatureEnabled(NoMoreAutoSplitter), IsFalse)

	c.Assert(opt.SetFeatureCompatibilityVersion("6.0"), IsNil)
	c.Assert(opt.IsFeatureEnabled(NoMoreAutoSplitter), IsTrue)
	c.Assert(opt.FeatureCompatibilityVersion().String(), Equals, "6.0.0")

	// The binary cannot run with a newer feature compatibility version.
	c.Assert(opt.SetFeatureCompatibilityVersion("7.0"), NotNil)
	c.Assert(opt.FeatureCompatibilityVersion().String(), Equals, "6.0.0")
}

func (s *testOptionSuite) TestFeatureFlagOverride(c *C) {
	opt := newTestClusterOption(c, "6.0", map[string]bool{"noMoreAutoSplitter": false})
	c.Assert(opt.IsFeatureEnabled(NoMoreAutoSplitter), IsFalse)

	opt = newTestClusterOption(c, "5.0", map[string]bool{"NoMoreAutoSplitter": true})
	c.Assert(opt.IsFeatureEnabled(NoMoreAutoSplitter), IsTrue)
}

func (s *testOptionSuite) TestBalancer(c *C) {
	opt := newTestClusterOption(c, "6.0", nil)
	c.Assert(opt.GetMaxChunkSize(), Equals, uint64(defaultMaxChunkSize))

	cfg := opt.LoadBalancer().Clone()
	cfg.ShardMigrationRate = 4
	opt.StoreBalancer(cfg)
	c.Assert(opt.GetShardMigrationRate(), Equals, 4.0)
	// The stored value is a copy.
	cfg.ShardMigrationRate = 8
	c.Assert(opt.GetShardMigrationRate(), Equals, 4.0)
}

func (s *testOptionSuite) TestParseVersion(c *C) {
	for in, out := range map[string]string{
		"":         "4.4.0",
		"6.0":      "6.0.0",
		"v5.0":     "5.0.0",
		"6.0.1":    "6.0.1",
		"6.1.0-rc": "6.1.0-rc",
	} {
		v, err := ParseVersion(in)
		c.Assert(err, IsNil)
		c.Assert(v.String(), Equals, out)
	}
	_, err := ParseVersion("six")
	c.Assert(err, NotNil)

	c.Assert(IsCompatible(*semver.New("5.0.0"), *semver.New("6.0.0")), IsTrue)
	c.Assert(IsCompatible(*semver.New("6.0.0"), *semver.New("6.0.3")), IsTrue)
	c.Assert(IsCompatible(*semver.New("6.1.0"), *semver.New("6.0.0")), IsFalse)
}

func (s *testOptionSuite) TestShardID(c *C) {
	c.Assert(ValidateShardID("shard0"), IsNil)
	c.Assert(ValidateShardID("rs-1.a_b"), IsNil)
	c.Assert(ValidateShardID(""), NotNil)
	c.Assert(ValidateShardID("a/b"), NotNil)
	c.Assert(ValidateShardID("bad-"), NotNil)
}
