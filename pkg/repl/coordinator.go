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

// Package repl holds the replication state of a node that the request paths
// consult: replication mode, member state, election id and term.
package repl

import (
	"strings"
	"sync"

	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Mode is the replication mode a node runs in.
type Mode int

// Replication modes.
const (
	ModeNone Mode = iota
	ModeReplSet
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeReplSet:
		return "replset"
	}
	return "unknown"
}

// ParseMode parses a mode name as written in configuration files.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "none", "standalone":
		return ModeNone, nil
	case "replset", "replicaset":
		return ModeReplSet, nil
	}
	return ModeNone, errors.Errorf("unknown replication mode %q", s)
}

// MemberState is the state of a replica set member.
type MemberState int

// Member states.
const (
	StateStartup MemberState = iota
	StatePrimary
	StateSecondary
	StateRemoved
)

func (s MemberState) String() string {
	switch s {
	case StateStartup:
		return "STARTUP"
	case StatePrimary:
		return "PRIMARY"
	case StateSecondary:
		return "SECONDARY"
	case StateRemoved:
		return "REMOVED"
	}
	return "UNKNOWN"
}

// StateChangeListener is notified after every primary/non-primary transition.
type StateChangeListener func(from, to MemberState)

// Coordinator tracks the replication state of the local node.
type Coordinator struct {
	sync.RWMutex
	mode       Mode
	setName    string
	state      MemberState
	term       int64
	electionID primitive.ObjectID
	listeners  []StateChangeListener

	lastApplied OpTime
}

// NewCoordinator creates a coordinator in the given mode. Standalone nodes
// are always writable and start as primary; replica set members start up
// in STARTUP and wait for StepUp.
func NewCoordinator(mode Mode, setName string) *Coordinator {
	c := &Coordinator{mode: mode, setName: setName, state: StateStartup}
	if mode == ModeNone {
		c.state = StatePrimary
	}
	return c
}

// ReplicationMode returns the mode the node was started in.
func (c *Coordinator) ReplicationMode() Mode {
	return c.mode
}

// SetName returns the replica set name, empty for standalones.
func (c *Coordinator) SetName() string {
	return c.setName
}

// MemberState returns the current member state.
func (c *Coordinator) MemberState() MemberState {
	c.RLock()
	defer c.RUnlock()
	return c.state
}

// IsWritablePrimary reports whether the node accepts writes.
func (c *Coordinator) IsWritablePrimary() bool {
	return c.MemberState() == StatePrimary
}

// Term returns the current election term.
func (c *Coordinator) Term() int64 {
	c.RLock()
	defer c.RUnlock()
	if c.mode == ModeNone {
		return UninitializedTerm
	}
	return c.term
}

// ElectionID returns the id of the election that made this node primary.
// It is the zero ObjectID when the node never won an election.
func (c *Coordinator) ElectionID() primitive.ObjectID {
	c.RLock()
	defer c.RUnlock()
	return c.electionID
}

// MyLastAppliedOpTime returns the OpTime of the newest write applied on
// this node.
func (c *Coordinator) MyLastAppliedOpTime() OpTime {
	c.RLock()
	defer c.RUnlock()
	return c.lastApplied
}

// SetMyLastAppliedOpTimeForward records a write applied at op. Older values
// are ignored.
func (c *Coordinator) SetMyLastAppliedOpTimeForward(op OpTime) {
	c.Lock()
	defer c.Unlock()
	if op.Compare(c.lastApplied) > 0 {
		c.lastApplied = op
	}
}

// RegisterStateChangeListener adds l to the listeners called on state changes.
func (c *Coordinator) RegisterStateChangeListener(l StateChangeListener) {
	c.Lock()
	defer c.Unlock()
	c.listeners = append(c.listeners, l)
}

// StepUp makes the node primary in a new term with a fresh election id.
func (c *Coordinator) StepUp() error {
	if c.mode != ModeReplSet {
		return errors.New("not running with --replSet")
	}
	c.Lock()
	c.term++
	c.electionID = primitive.NewObjectID()
	from := c.state
	c.state = StatePrimary
	listeners := append([]StateChangeListener(nil), c.listeners...)
	term, id := c.term, c.electionID
	c.Unlock()

	log.Info("transition to primary",
		zap.String("set", c.setName),
		zap.Int64("term", term),
		zap.String("election-id", id.Hex()))
	c.notify(listeners, from, StatePrimary)
	return nil
}

// StepDown makes the node a secondary.
func (c *Coordinator) StepDown() error {
	if c.mode != ModeReplSet {
		return errors.New("not running with --replSet")
	}
	c.Lock()
	from := c.state
	c.state = StateSecondary
	listeners := append([]StateChangeListener(nil), c.listeners...)
	c.Unlock()

	log.Info("transition to secondary", zap.String("set", c.setName), zap.Stringer("from", from))
	c.notify(listeners, from, StateSecondary)
	return nil
}

func (c *Coordinator) notify(listeners []StateChangeListener, from, to MemberState) {
	if (from == StatePrimary) == (to == StatePrimary) {
		return
	}
	for _, l := range listeners {
		l(from, to)
	}
}
