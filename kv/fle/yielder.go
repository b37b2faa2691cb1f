package fle

import (
	"github.com/pingcap-incubator/tinydoc/kv/session"
	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap-incubator/tinydoc/pkg/opctx"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// unstashCommand is the command name given to the participant when the
// resources are restored. Sub-operations are aggregate or getMore commands,
// and the participant does not tell the two apart.
const unstashCommand = "aggregate"

// UnstashOutcome classifies the result of restoring transaction resources.
type UnstashOutcome int

const (
	// UnstashOK means the resources were restored.
	UnstashOK UnstashOutcome = iota
	// UnstashAbortedExternally means the transaction was aborted while the
	// session was checked in.
	UnstashAbortedExternally
)

func (o UnstashOutcome) String() string {
	if o == UnstashAbortedExternally {
		return "abortedExternally"
	}
	return "ok"
}

// classifyUnstash splits an unstash error into an outcome and the error
// that must be reported, if any.
func classifyUnstash(err error) (UnstashOutcome, error) {
	switch {
	case err == nil:
		return UnstashOK, nil
	case errcode.Is(err, errcode.NoSuchTransaction):
		return UnstashAbortedExternally, nil
	}
	return UnstashOK, err
}

// sessionYielder checks the caller's session back in while the internal
// transaction blocks on a sub-operation. A sub-operation may be routed to
// this node and need the same session, so holding it would deadlock.
type sessionYielder struct {
	catalog *session.Catalog
	// Written by Yield, read by the matching Unyield.
	yielded bool
}

func newSessionYielder(catalog *session.Catalog) *sessionYielder {
	return &sessionYielder{catalog: catalog}
}

func (y *sessionYielder) Yield(op *opctx.OperationContext) {
	s := y.catalog.Get(op)
	if s != nil {
		if p := s.Participant(); p != nil {
			p.Stash(op)
		}
		y.catalog.CheckIn(op)
		yieldCounter.WithLabelValues("yield").Inc()
		log.Debug("yielded session", zap.Stringer("lsid", s.ID()), zap.Uint64("op-id", op.OpID()))
	}
	y.yielded = s != nil
}

func (y *sessionYielder) Unyield(op *opctx.OperationContext) error {
	if !y.yielded {
		return nil
	}
	// Blocks until a sub-operation on this node that took the session
	// checks it back in.
	if err := y.catalog.CheckOut(op); err != nil {
		return err
	}
	yieldCounter.WithLabelValues("unyield").Inc()

	p := y.catalog.Participant(op)
	if p == nil {
		return nil
	}
	outcome, err := classifyUnstash(p.Unstash(op, unstashCommand))
	if outcome == UnstashAbortedExternally {
		// The error that aborted the transaction is reported by the
		// transaction runtime, NoSuchTransaction would hide it.
		abortedExternallyCounter.Inc()
		log.Warn("transaction aborted while session was yielded",
			zap.Uint64("op-id", op.OpID()),
			zap.Int64("txn-number", p.TxnNumber()))
	}
	return err
}
