package session

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap-incubator/tinydoc/pkg/opctx"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Catalog is the process-wide registry of logical sessions.
//
// A session can be checked out by at most one operation at a time. An
// operation that finds the session taken waits until the holder checks it
// back in, or until the waiting operation itself is interrupted. Waiting is
// implemented with a channel per checkout which is closed on check-in, so all
// waiters wake up and race for the session again.
type Catalog struct {
	// Guards sessions and the checkout state of every entry.
	mu       sync.Mutex
	sessions map[uuid.UUID]*entry
}

type entry struct {
	session *Session
	// nil when the session is checked in.
	holder *opctx.OperationContext
	// Closed when holder checks the session in.
	released chan struct{}
}

// NewCatalog creates an empty session catalog.
func NewCatalog() *Catalog {
	return &Catalog{sessions: make(map[uuid.UUID]*entry)}
}

func (c *Catalog) getOrCreateLocked(lsid uuid.UUID) *entry {
	e, ok := c.sessions[lsid]
	if !ok {
		e = &entry{session: newSession(lsid)}
		c.sessions[lsid] = e
	}
	return e
}

// CheckOut reserves the session of op for op. It blocks while another
// operation holds the session and returns an interruption error if op is
// killed or times out while waiting.
func (c *Catalog) CheckOut(op *opctx.OperationContext) error {
	lsid, ok := op.LogicalSessionID()
	if !ok {
		return errcode.New(errcode.InternalError, "cannot check out a session for an operation without a logical session id")
	}
	for {
		if err := op.CheckForInterrupt(); err != nil {
			return err
		}

		c.mu.Lock()
		e := c.getOrCreateLocked(lsid)
		if e.holder == nil {
			e.holder = op
			e.released = make(chan struct{})
			c.mu.Unlock()
			return nil
		}
		if e.holder == op {
			c.mu.Unlock()
			return errcode.Errorf(errcode.InternalError, "session %s is already checked out by this operation", lsid)
		}
		wait := e.released
		c.mu.Unlock()

		log.Debug("waiting for session to be checked in",
			zap.Stringer("lsid", lsid),
			zap.Uint64("op-id", op.OpID()))
		select {
		case <-wait:
		case <-op.Context().Done():
			return opctx.InterruptError(op.Context())
		}
	}
}

// CheckIn releases the session held by op. It is a no-op if op does not
// hold its session.
func (c *Catalog) CheckIn(op *opctx.OperationContext) {
	lsid, ok := op.LogicalSessionID()
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.sessions[lsid]
	if !ok || e.holder != op {
		return
	}
	e.holder = nil
	close(e.released)
}

// Get returns the session checked out by op, or nil.
func (c *Catalog) Get(op *opctx.OperationContext) *Session {
	lsid, ok := op.LogicalSessionID()
	if !ok {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.sessions[lsid]
	if !ok || e.holder != op {
		return nil
	}
	return e.session
}

// Participant returns the transaction participant of the session checked
// out by op, or nil if op holds no session or the session never ran a
// transaction.
func (c *Catalog) Participant(op *opctx.OperationContext) *Participant {
	s := c.Get(op)
	if s == nil {
		return nil
	}
	return s.Participant()
}

// Holder returns the operation that has lsid checked out, or nil.
func (c *Catalog) Holder(lsid uuid.UUID) *opctx.OperationContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.sessions[lsid]; ok {
		return e.holder
	}
	return nil
}

// Lookup returns the session with lsid without checking it out.
func (c *Catalog) Lookup(lsid uuid.UUID) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.sessions[lsid]; ok {
		return e.session
	}
	return nil
}

// Len returns the number of known sessions.
func (c *Catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}
