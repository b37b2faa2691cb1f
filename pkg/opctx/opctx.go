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

	"github.com/google/uuid"
	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.uber.org/atomic"
)

// OperationContext is borrowed by every layer for the duration of one
// request. It must not outlive the request.
type OperationContext struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	id     uint64
	client *Client

	alwaysInterruptAtStepDownOrUp atomic.Bool

	mu           sync.Mutex
	lsid         *uuid.UUID
	txnNumber    *int64
	readConcern  *readconcern.ReadConcern
	writeConcern *writeconcern.WriteConcern
}

// Context returns the context that is cancelled when the operation is
// killed or its deadline passes.
func (op *OperationContext) Context() context.Context {
	return op.ctx
}

// OpID returns the process-unique id of the operation.
func (op *OperationContext) OpID() uint64 {
	return op.id
}

// Client returns the client running the operation.
func (op *OperationContext) Client() *Client {
	return op.client
}

// ServiceContext returns the service the operation runs in.
func (op *OperationContext) ServiceContext() *ServiceContext {
	return op.client.svc
}

// Kill interrupts the operation with code.
func (op *OperationContext) Kill(code errcode.Code) {
	op.cancel(errcode.New(code, "operation was interrupted"))
}

// CheckForInterrupt returns a coded error if the operation was killed or
// timed out.
func (op *OperationContext) CheckForInterrupt() error {
	if op.ctx.Err() == nil {
		return nil
	}
	return InterruptError(op.ctx)
}

// InterruptError converts the cancellation of ctx into a coded error.
func InterruptError(ctx context.Context) error {
	cause := context.Cause(ctx)
	var coded *errcode.Error
	switch {
	case errors.As(cause, &coded):
		return coded
	case errors.Is(cause, context.DeadlineExceeded):
		return errcode.New(errcode.ExceededTimeLimit, "operation exceeded time limit")
	}
	return errcode.New(errcode.Interrupted, "operation was interrupted")
}

// SetAlwaysInterruptAtStepDownOrUp makes any primary transition kill the
// operation.
func (op *OperationContext) SetAlwaysInterruptAtStepDownOrUp() {
	op.alwaysInterruptAtStepDownOrUp.Store(true)
}

// AlwaysInterruptAtStepDownOrUp reports whether the operation is killed on
// primary transitions.
func (op *OperationContext) AlwaysInterruptAtStepDownOrUp() bool {
	return op.alwaysInterruptAtStepDownOrUp.Load()
}

// SetLogicalSessionID attaches a logical session to the operation.
func (op *OperationContext) SetLogicalSessionID(lsid uuid.UUID) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.lsid = &lsid
}

// LogicalSessionID returns the logical session of the operation, if any.
func (op *OperationContext) LogicalSessionID() (uuid.UUID, bool) {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.lsid == nil {
		return uuid.Nil, false
	}
	return *op.lsid, true
}

// SetTxnNumber sets the transaction number of the operation.
func (op *OperationContext) SetTxnNumber(txnNumber int64) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.txnNumber = &txnNumber
}

// TxnNumber returns the transaction number of the operation, if any.
func (op *OperationContext) TxnNumber() (int64, bool) {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.txnNumber == nil {
		return 0, false
	}
	return *op.txnNumber, true
}

// SetReadConcern replaces the read concern of the operation.
func (op *OperationContext) SetReadConcern(rc *readconcern.ReadConcern) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.readConcern = rc
}

// ReadConcern returns the read concern of the operation, nil when the
// server default applies.
func (op *OperationContext) ReadConcern() *readconcern.ReadConcern {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.readConcern
}

// SetWriteConcern replaces the write concern of the operation.
func (op *OperationContext) SetWriteConcern(wc *writeconcern.WriteConcern) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.writeConcern = wc
}

// DefaultWriteConcern is used when the request carries none.
var DefaultWriteConcern = writeconcern.New(writeconcern.WMajority())

// WriteConcern returns the write concern of the operation.
func (op *OperationContext) WriteConcern() *writeconcern.WriteConcern {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.writeConcern == nil {
		return DefaultWriteConcern
	}
	return op.writeConcern
}
