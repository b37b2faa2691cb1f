package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap-incubator/tinydoc/pkg/opctx"
	"github.com/pingcap/log"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.uber.org/zap"
)

// TxnState is the state of the active transaction of a session.
type TxnState int

// Transaction states.
const (
	TxnNone TxnState = iota
	TxnInProgress
	TxnCommitted
	TxnAborted
)

func (s TxnState) String() string {
	switch s {
	case TxnNone:
		return "none"
	case TxnInProgress:
		return "inProgress"
	case TxnCommitted:
		return "committed"
	case TxnAborted:
		return "aborted"
	}
	return fmt.Sprintf("TxnState(%d)", int(s))
}

// TxnResources are the resources an operation holds on behalf of an open
// transaction. Between commands they are stashed on the participant.
type TxnResources struct {
	TxnNumber   int64
	ReadConcern *readconcern.ReadConcern
	// Namespaces locked by the transaction so far.
	Locks []string
}

// Participant is the per-session transaction state.
type Participant struct {
	lsid uuid.UUID

	mu        sync.Mutex
	txnNumber int64
	state     TxnState
	// Resources attached to the operation currently holding the session.
	active  *TxnResources
	stashed *TxnResources
	// Name of the last command that unstashed the resources.
	lastUnstashCmd string
}

func newParticipant(lsid uuid.UUID) *Participant {
	return &Participant{lsid: lsid, txnNumber: -1}
}

// BeginOrContinue starts transaction txnNumber when start is set, or checks
// that txnNumber is the transaction in progress otherwise.
func (p *Participant) BeginOrContinue(txnNumber int64, start bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if txnNumber < p.txnNumber {
		return errcode.Errorf(errcode.TransactionTooOld,
			"Cannot start transaction %d on session %s because a newer transaction %d has already started",
			txnNumber, p.lsid, p.txnNumber)
	}
	if start {
		if txnNumber == p.txnNumber && p.state != TxnNone {
			return errcode.Errorf(errcode.ConflictingOperationInProgress,
				"Transaction %d has already been started on session %s", txnNumber, p.lsid)
		}
		p.txnNumber = txnNumber
		p.state = TxnInProgress
		p.active = nil
		p.stashed = nil
		return nil
	}
	if txnNumber != p.txnNumber || p.state != TxnInProgress {
		return p.noSuchTransactionLocked(txnNumber)
	}
	return nil
}

func (p *Participant) noSuchTransactionLocked(txnNumber int64) error {
	if p.state == TxnAborted && txnNumber == p.txnNumber {
		return errcode.Errorf(errcode.NoSuchTransaction,
			"Transaction with { txnNumber: %d } has been aborted.", txnNumber)
	}
	return errcode.Errorf(errcode.NoSuchTransaction,
		"Given transaction number %d does not match any in-progress transactions. The active transaction number is %d",
		txnNumber, p.txnNumber)
}

// Stash moves the resources held by op into the participant so that the
// session can be checked in.
func (p *Participant) Stash(op *opctx.OperationContext) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != TxnInProgress || p.active == nil {
		return
	}
	p.stashed = p.active
	p.active = nil
	log.Debug("stashed transaction resources",
		zap.Stringer("lsid", p.lsid),
		zap.Int64("txn-number", p.txnNumber),
		zap.Uint64("op-id", op.OpID()))
}

// Unstash gives the stashed resources back to op. cmd names the command on
// whose behalf the resources are restored. It fails with NoSuchTransaction
// if the transaction is no longer in progress.
func (p *Participant) Unstash(op *opctx.OperationContext, cmd string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != TxnInProgress {
		return p.noSuchTransactionLocked(p.txnNumber)
	}
	if p.stashed != nil {
		p.active = p.stashed
		p.stashed = nil
	} else if p.active == nil {
		p.active = &TxnResources{TxnNumber: p.txnNumber, ReadConcern: op.ReadConcern()}
	}
	p.lastUnstashCmd = cmd
	return nil
}

// AddLock records that the transaction locked ns.
func (p *Participant) AddLock(ns string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		p.active.Locks = append(p.active.Locks, ns)
	}
}

// Commit commits the transaction in progress.
func (p *Participant) Commit(txnNumber int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if txnNumber != p.txnNumber || p.state != TxnInProgress {
		if p.state == TxnCommitted && txnNumber == p.txnNumber {
			return nil
		}
		return p.noSuchTransactionLocked(txnNumber)
	}
	p.state = TxnCommitted
	p.active = nil
	p.stashed = nil
	return nil
}

// Abort aborts the transaction in progress, releasing every resource. It
// is a no-op if no transaction is in progress.
func (p *Participant) Abort() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != TxnInProgress {
		return
	}
	p.state = TxnAborted
	p.active = nil
	p.stashed = nil
	log.Info("aborted transaction",
		zap.Stringer("lsid", p.lsid),
		zap.Int64("txn-number", p.txnNumber))
}

// State returns the state of the latest transaction.
func (p *Participant) State() TxnState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// TxnNumber returns the number of the latest transaction, -1 if none.
func (p *Participant) TxnNumber() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.txnNumber
}

// StashedResources returns the stashed resources, nil if none.
func (p *Participant) StashedResources() *TxnResources {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stashed
}

// ActiveResources returns the resources attached to the holding operation.
func (p *Participant) ActiveResources() *TxnResources {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// LastUnstashCommand returns the command name passed to the last Unstash.
func (p *Participant) LastUnstashCommand() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUnstashCmd
}
