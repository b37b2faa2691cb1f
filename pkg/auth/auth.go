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

// Package auth models the privileges granted to an authenticated client.
package auth

import (
	"sync"
)

// ActionType is an action a privilege allows.
type ActionType string

// Actions checked by the commands of this repository.
const (
	ActionInternal  ActionType = "internal"
	ActionInsert    ActionType = "insert"
	ActionFind      ActionType = "find"
	ActionMoveChunk ActionType = "moveChunk"
)

// ResourcePattern names the resource a privilege applies to.
type ResourcePattern struct {
	cluster bool
	db      string
	coll    string
}

// ForClusterResource matches the cluster-wide resource.
func ForClusterResource() ResourcePattern {
	return ResourcePattern{cluster: true}
}

// ForDatabase matches every collection of db.
func ForDatabase(db string) ResourcePattern {
	return ResourcePattern{db: db}
}

// ForExactNamespace matches one collection.
func ForExactNamespace(db, coll string) ResourcePattern {
	return ResourcePattern{db: db, coll: coll}
}

// ForAnyResource matches everything.
func ForAnyResource() ResourcePattern {
	return ResourcePattern{cluster: true, db: "*"}
}

func (p ResourcePattern) covers(other ResourcePattern) bool {
	if p.cluster && p.db == "*" {
		return true
	}
	if p.cluster || other.cluster {
		return p.cluster == other.cluster && other.db == ""
	}
	if p.db != other.db {
		return false
	}
	return p.coll == "" || p.coll == other.coll
}

func (p ResourcePattern) String() string {
	switch {
	case p.cluster && p.db == "*":
		return "{anyResource: true}"
	case p.cluster:
		return "{cluster: true}"
	case p.coll == "":
		return "{db: \"" + p.db + "\", collection: \"\"}"
	}
	return "{db: \"" + p.db + "\", collection: \"" + p.coll + "\"}"
}

// Privilege grants actions on a resource.
type Privilege struct {
	Resource ResourcePattern
	Actions  []ActionType
}

// Session holds the privileges of one client connection.
type Session struct {
	mu         sync.RWMutex
	privileges []Privilege
}

// NewSession creates an authorization session with the given privileges.
func NewSession(privileges ...Privilege) *Session {
	return &Session{privileges: privileges}
}

// Grant adds a privilege.
func (s *Session) Grant(p Privilege) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.privileges = append(s.privileges, p)
}

// IsAuthorizedForActionsOnResource reports whether every action is granted
// on resource by some privilege.
func (s *Session) IsAuthorizedForActionsOnResource(resource ResourcePattern, actions ...ActionType) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, action := range actions {
		if !s.grants(resource, action) {
			return false
		}
	}
	return true
}

func (s *Session) grants(resource ResourcePattern, action ActionType) bool {
	for _, p := range s.privileges {
		if !p.Resource.covers(resource) {
			continue
		}
		for _, a := range p.Actions {
			if a == action {
				return true
			}
		}
	}
	return false
}
