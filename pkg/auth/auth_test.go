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

package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClusterPrivilege(t *testing.T) {
	s := NewSession(Privilege{Resource: ForClusterResource(), Actions: []ActionType{ActionInternal}})
	assert.True(t, s.IsAuthorizedForActionsOnResource(ForClusterResource(), ActionInternal))
	assert.False(t, s.IsAuthorizedForActionsOnResource(ForClusterResource(), ActionInternal, ActionMoveChunk))
	assert.False(t, s.IsAuthorizedForActionsOnResource(ForDatabase("test"), ActionInternal))
}

func TestDatabasePrivilege(t *testing.T) {
	s := NewSession(Privilege{Resource: ForDatabase("test"), Actions: []ActionType{ActionInsert}})
	assert.True(t, s.IsAuthorizedForActionsOnResource(ForExactNamespace("test", "foo"), ActionInsert))
	assert.False(t, s.IsAuthorizedForActionsOnResource(ForExactNamespace("other", "foo"), ActionInsert))
	assert.False(t, s.IsAuthorizedForActionsOnResource(ForClusterResource(), ActionInsert))

	s.Grant(Privilege{Resource: ForAnyResource(), Actions: []ActionType{ActionInternal}})
	assert.True(t, s.IsAuthorizedForActionsOnResource(ForClusterResource(), ActionInternal))
}

func TestNilSession(t *testing.T) {
	var s *Session
	assert.False(t, s.IsAuthorizedForActionsOnResource(ForClusterResource(), ActionInternal))
}
