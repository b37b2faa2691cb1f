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
	"strings"

	"github.com/coreos/go-semver/semver"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Feature is a feature gated by the feature compatibility version.
type Feature int

// Features list.
// The cluster provides corresponding new features if the feature
// compatibility version is greater than or equal to the required minimum
// version of the feature.
const (
	Base Feature = iota
	// NoMoreAutoSplitter moves chunk splitting into migrations and enables
	// range based migration commands such as moveRange.
	NoMoreAutoSplitter
)

var featuresDict = map[Feature]string{
	Base:               "4.4.0",
	NoMoreAutoSplitter: "6.0.0",
}

var featureNames = map[Feature]string{
	Base:               "base",
	NoMoreAutoSplitter: "noMoreAutoSplitter",
}

func (f Feature) String() string {
	if name, ok := featureNames[f]; ok {
		return name
	}
	return "unknown"
}

// ParseFeature returns the feature named s, as used by [feature-flags].
func ParseFeature(s string) (Feature, error) {
	for f, name := range featureNames {
		if strings.EqualFold(name, s) {
			return f, nil
		}
	}
	return Base, errors.Errorf("unknown feature flag %q", s)
}

// MinSupportedVersion returns the minimum support version for the specified feature.
func MinSupportedVersion(v Feature) *semver.Version {
	target, ok := featuresDict[v]
	if !ok {
		log.Fatal("the corresponding version of the feature doesn't exist", zap.Int("feature-number", int(v)))
	}
	version := MustParseVersion(target)
	return version
}

// ParseVersion wraps semver.NewVersion and accepts the "major.minor" form
// feature compatibility versions are usually written in.
func ParseVersion(v string) (*semver.Version, error) {
	if v == "" {
		return semver.New(featuresDict[Base]), nil
	}
	if v[0] == 'v' {
		v = v[1:]
	}
	if strings.Count(v, ".") == 1 {
		v += ".0"
	}
	ver, err := semver.NewVersion(v)
	return ver, errors.WithStack(err)
}

// MustParseVersion wraps ParseVersion and will panic if error is not nil.
func MustParseVersion(v string) *semver.Version {
	ver, err := ParseVersion(v)
	if err != nil {
		log.Fatal("version string is illegal", zap.Error(err))
	}
	return ver
}

// BinaryVersion is the version of this server.
const BinaryVersion = "6.0.0"

// IsCompatible checks if a server of version v can run with the feature
// compatibility version fcv.
func IsCompatible(fcv, v semver.Version) bool {
	if fcv.LessThan(v) {
		return true
	}
	return fcv.Major == v.Major && fcv.Minor == v.Minor
}
