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
	"regexp"

	"github.com/pkg/errors"
)

const matchRule = "^[A-Za-z0-9]([-A-Za-z0-9_.]*[A-Za-z0-9])?$"

var shardIDPattern = regexp.MustCompile(matchRule)

// ValidateShardID checks the legality of a shard id.
// The valid id consists of alphanumeric characters, '-', '_' or '.',
// and must start and end with an alphanumeric character.
func ValidateShardID(s string) error {
	if !shardIDPattern.MatchString(s) {
		return errors.Errorf("invalid shard id: %q", s)
	}
	return nil
}
