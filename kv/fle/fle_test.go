package fle

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pingcap-incubator/tinydoc/kv/session"
	"github.com/pingcap-incubator/tinydoc/kv/txnapi"
	"github.com/pingcap-incubator/tinydoc/pkg/opctx"
	"github.com/pingcap-incubator/tinydoc/pkg/repl"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

type testNode struct {
	coord   *repl.Coordinator
	svc     *opctx.ServiceContext
	catalog *session.Catalog
	client  *opctx.Client
}

func newTestNode(t *testing.T, mode repl.Mode) *testNode {
	coord := repl.NewCoordinator(mode, "rs0")
	if mode == repl.ModeReplSet {
		require.NoError(t, coord.StepUp())
	}
	svc := opctx.NewServiceContext(coord)
	return &testNode{
		coord:   coord,
		svc:     svc,
		catalog: session.NewCatalog(),
		client:  svc.MakeClient("test", nil),
	}
}

func (n *testNode) newOp(t *testing.T) *opctx.OperationContext {
	op, done := n.client.MakeOperationContext(context.Background())
	t.Cleanup(done)
	return op
}

// newSessionOp returns an operation holding a freshly checked out session
// with transaction txnNumber in progress.
func (n *testNode) newSessionOp(t *testing.T, txnNumber int64) (*opctx.OperationContext, *session.Participant) {
	op := n.newOp(t)
	op.SetLogicalSessionID(uuid.New())
	require.NoError(t, n.catalog.CheckOut(op))
	p := n.catalog.Get(op).GetOrCreateParticipant()
	require.NoError(t, p.BeginOrContinue(txnNumber, true))
	require.NoError(t, p.Unstash(op, "insert"))
	return op, p
}

// loopbackRunner executes commands as if they were routed back to the same
// node: each command checks out the session named by its lsid for the
// duration of the command.
type loopbackRunner struct {
	node     *testNode
	t        *testing.T
	commands []string
}

func (r *loopbackRunner) RunCommand(ctx context.Context, db string, cmd bson.D) (bson.Raw, error) {
	r.commands = append(r.commands, cmd[0].Key)
	op, done := r.node.client.MakeOperationContext(ctx)
	defer done()
	for _, e := range cmd {
		if e.Key != "lsid" {
			continue
		}
		raw, err := bson.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		lsid, err := txnapi.ParseSessionID(raw)
		if err != nil {
			return nil, err
		}
		op.SetLogicalSessionID(lsid)
		if err := r.node.catalog.CheckOut(op); err != nil {
			return nil, err
		}
		defer r.node.catalog.CheckIn(op)
	}
	return bson.Marshal(bson.D{{Key: "ok", Value: 1.0}, {Key: "n", Value: int32(1)}})
}
