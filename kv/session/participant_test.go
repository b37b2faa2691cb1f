package session

import (
	"testing"

	"github.com/google/uuid"
	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
)

func TestParticipantStashUnstash(t *testing.T) {
	svc := newTestService()
	catalog := NewCatalog()
	lsid := uuid.New()
	op := newTestOp(t, svc, lsid)
	op.SetReadConcern(readconcern.Snapshot())
	require.NoError(t, catalog.CheckOut(op))

	p := catalog.Get(op).GetOrCreateParticipant()
	assert.Same(t, p, catalog.Participant(op))
	assert.Equal(t, int64(-1), p.TxnNumber())
	require.NoError(t, p.BeginOrContinue(1, true))
	assert.Equal(t, TxnInProgress, p.State())

	require.NoError(t, p.Unstash(op, "insert"))
	p.AddLock("db.coll")
	active := p.ActiveResources()
	require.NotNil(t, active)
	assert.Equal(t, "snapshot", active.ReadConcern.GetLevel())

	p.Stash(op)
	assert.Nil(t, p.ActiveResources())
	assert.Same(t, active, p.StashedResources())

	require.NoError(t, p.Unstash(op, "aggregate"))
	assert.Same(t, active, p.ActiveResources())
	assert.Nil(t, p.StashedResources())
	assert.Equal(t, []string{"db.coll"}, p.ActiveResources().Locks)
	assert.Equal(t, "aggregate", p.LastUnstashCommand())

	require.NoError(t, p.Commit(1))
	assert.Equal(t, TxnCommitted, p.State())
	require.NoError(t, p.Commit(1))
}

func TestParticipantAbortedUnstash(t *testing.T) {
	svc := newTestService()
	lsid := uuid.New()
	op := newTestOp(t, svc, lsid)
	p := newParticipant(lsid)
	require.NoError(t, p.BeginOrContinue(3, true))
	require.NoError(t, p.Unstash(op, "insert"))
	p.Stash(op)

	p.Abort()
	assert.Equal(t, TxnAborted, p.State())
	assert.Nil(t, p.StashedResources())

	err := p.Unstash(op, "aggregate")
	assert.Equal(t, errcode.NoSuchTransaction, errcode.CodeOf(err))
	assert.Contains(t, err.Error(), "has been aborted")
	assert.Equal(t, errcode.NoSuchTransaction, errcode.CodeOf(p.Commit(3)))
	// Aborting twice is harmless.
	p.Abort()
}

func TestParticipantTxnNumbers(t *testing.T) {
	p := newParticipant(uuid.New())
	assert.Equal(t, errcode.NoSuchTransaction, errcode.CodeOf(p.BeginOrContinue(0, false)))
	require.NoError(t, p.BeginOrContinue(5, true))
	require.NoError(t, p.BeginOrContinue(5, false))
	assert.Equal(t, errcode.ConflictingOperationInProgress, errcode.CodeOf(p.BeginOrContinue(5, true)))
	assert.Equal(t, errcode.TransactionTooOld, errcode.CodeOf(p.BeginOrContinue(4, true)))
	assert.Equal(t, errcode.NoSuchTransaction, errcode.CodeOf(p.BeginOrContinue(6, false)))
	require.NoError(t, p.BeginOrContinue(6, true))
	assert.Equal(t, "inProgress", p.State().String())
}
