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

package opctx

import (
	"context"
	"sync"

	"github.com/pingcap-incubator/tinydoc/pkg/auth"
	"github.com/pingcap-incubator/tinydoc/pkg/repl"
)

// Client is one connection to the node.
type Client struct {
	svc   *ServiceContext
	desc  string
	authz *auth.Session

	mu     sync.Mutex
	lastOp repl.OpTime
}

// ServiceContext returns the service the client belongs to.
func (c *Client) ServiceContext() *ServiceContext {
	return c.svc
}

// Desc returns the client description.
func (c *Client) Desc() string {
	return c.desc
}

// AuthorizationSession returns the privileges of the client.
func (c *Client) AuthorizationSession() *auth.Session {
	return c.authz
}

// LastOp returns the OpTime of the last write performed by the client.
func (c *Client) LastOp() repl.OpTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastOp
}

// SetLastOp advances the client's last OpTime. Older values are ignored.
func (c *Client) SetLastOp(op repl.OpTime) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if op.Compare(c.lastOp) > 0 {
		c.lastOp = op
	}
}

// MakeOperationContext starts a new operation derived from parent. The
// returned function must be called once the operation is finished.
func (c *Client) MakeOperationContext(parent context.Context) (*OperationContext, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	op := &OperationContext{
		ctx:    ctx,
		cancel: cancel,
		id:     c.svc.nextOpID.Inc(),
		client: c,
	}
	c.svc.register(op)
	return op, func() {
		c.svc.unregister(op)
		cancel(context.Canceled)
	}
}
