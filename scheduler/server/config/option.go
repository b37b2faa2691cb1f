// Copyright 2017 PingCAP, Inc.
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
	"sync/atomic"

	"github.com/coreos/go-semver/semver"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ClusterOption is a wrapper to access the runtime configuration safely.
type ClusterOption struct {
	role      ClusterRole
	fcv       atomic.Value
	overrides map[Feature]bool
	balancer  atomic.Value
}

// NewClusterOption creates a new ClusterOption from a validated config.
func NewClusterOption(cfg *Config) (*ClusterOption, error) {
	role, err := ParseClusterRole(cfg.ClusterRole)
	if err != nil {
		return nil, err
	}
	fcv, err := ParseVersion(cfg.FeatureCompatibilityVersion)
	if err != nil {
		return nil, err
	}
	o := &ClusterOption{
		role:      role,
		overrides: make(map[Feature]bool, len(cfg.FeatureFlags)),
	}
	for name, enabled := range cfg.FeatureFlags {
		f, err := ParseFeature(name)
		if err != nil {
			return nil, err
		}
		o.overrides[f] = enabled
	}
	o.fcv.Store(fcv)
	o.StoreBalancer(&cfg.Balancer)
	return o, nil
}

// ClusterRole returns the role of this server.
func (o *ClusterOption) ClusterRole() ClusterRole {
	return o.role
}

// FeatureCompatibilityVersion returns the current feature compatibility version.
func (o *ClusterOption) FeatureCompatibilityVersion() *semver.Version {
	return o.fcv.Load().(*semver.Version)
}

// SetFeatureCompatibilityVersion changes the feature compatibility version.
// A version this binary cannot run with is rejected.
func (o *ClusterOption) SetFeatureCompatibilityVersion(v string) error {
	ver, err := ParseVersion(v)
	if err != nil {
		return err
	}
	if !IsCompatible(*ver, *MustParseVersion(BinaryVersion)) {
		return errors.Errorf("feature compatibility version %s is not supported by version %s", ver, BinaryVersion)
	}
	old := o.FeatureCompatibilityVersion()
	o.fcv.Store(ver)
	log.Info("feature compatibility version changed", zap.Stringer("old", old), zap.Stringer("new", ver))
	return nil
}

// IsFeatureEnabled reports whether f is enabled, either forced by a feature
// flag or by the feature compatibility version.
func (o *ClusterOption) IsFeatureEnabled(f Feature) bool {
	if enabled, ok := o.overrides[f]; ok {
		return enabled
	}
	return !o.FeatureCompatibilityVersion().LessThan(*MinSupportedVersion(f))
}

// LoadBalancer returns the balancer configuration.
func (o *ClusterOption) LoadBalancer() *BalancerConfig {
	return o.balancer.Load().(*BalancerConfig)
}

// StoreBalancer sets the balancer configuration.
func (o *ClusterOption) StoreBalancer(cfg *BalancerConfig) {
	o.balancer.Store(cfg.Clone())
}

// GetMaxChunkSize returns the size above which a chunk is jumbo.
func (o *ClusterOption) GetMaxChunkSize() uint64 {
	return uint64(o.LoadBalancer().MaxChunkSize)
}

// GetShardMigrationRate returns the per destination migration rate.
func (o *ClusterOption) GetShardMigrationRate() float64 {
	return o.LoadBalancer().ShardMigrationRate
}
