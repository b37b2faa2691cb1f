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

// Package opctx carries request-scoped state through every layer of a
// request: the client, the operation's cancellation, its session and its
// read and write concerns.
package opctx

import (
	"sync"

	"github.com/pingcap-incubator/tinydoc/pkg/auth"
	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap-incubator/tinydoc/pkg/repl"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ServiceContext is the process-wide state shared by all clients.
type ServiceContext struct {
	replCoord *repl.Coordinator

	nextOpID atomic.Uint64

	mu  sync.Mutex
	ops map[uint64]*OperationContext
}

// NewServiceContext creates the service context of a node. Operations
// flagged with SetAlwaysInterruptAtStepDownOrUp are killed on every
// primary transition of replCoord.
func NewServiceContext(replCoord *repl.Coordinator) *ServiceContext {
	s := &ServiceContext{
		replCoord: replCoord,
		ops:       make(map[uint64]*OperationContext),
	}
	replCoord.RegisterStateChangeListener(s.killStepDownInterruptible)
	return s
}

// ReplCoordinator returns the replication coordinator of the node.
func (s *ServiceContext) ReplCoordinator() *repl.Coordinator {
	return s.replCoord
}

// MakeClient creates a client with the given authorization session.
func (s *ServiceContext) MakeClient(desc string, authz *auth.Session) *Client {
	if authz == nil {
		authz = auth.NewSession()
	}
	return &Client{svc: s, desc: desc, authz: authz}
}

// NumOperations returns the number of live operations.
func (s *ServiceContext) NumOperations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops)
}

func (s *ServiceContext) register(op *OperationContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[op.id] = op
}

func (s *ServiceContext) unregister(op *OperationContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ops, op.id)
}

func (s *ServiceContext) killStepDownInterruptible(from, to repl.MemberState) {
	s.mu.Lock()
	var victims []*OperationContext
	for _, op := range s.ops {
		if op.alwaysInterruptAtStepDownOrUp.Load() {
			victims = append(victims, op)
		}
	}
	s.mu.Unlock()

	for _, op := range victims {
		log.Info("killing operation on replication state change",
			zap.Uint64("op-id", op.id),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
		op.Kill(errcode.InterruptedDueToReplStateChange)
	}
}
