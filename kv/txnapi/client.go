package txnapi

import (
	"context"

	"github.com/google/uuid"
	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap-incubator/tinydoc/pkg/namespace"
	"github.com/pingcap-incubator/tinydoc/pkg/opctx"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"
)

// CommandRunner sends a command to a node and returns its reply document.
// A reply with ok: 0 is returned as a reply, not as an error.
type CommandRunner interface {
	RunCommand(ctx context.Context, db string, cmd bson.D) (bson.Raw, error)
}

// CommandRunnerFunc adapts a function to CommandRunner.
type CommandRunnerFunc func(ctx context.Context, db string, cmd bson.D) (bson.Raw, error)

// RunCommand implements CommandRunner.
func (f CommandRunnerFunc) RunCommand(ctx context.Context, db string, cmd bson.D) (bson.Raw, error) {
	return f(ctx, db, cmd)
}

// Client runs commands inside one attempt of a transaction. Every command
// carries the transaction's session fields, and the calling operation's
// resources are yielded while the command is in flight.
type Client struct {
	op      *opctx.OperationContext
	runner  CommandRunner
	yielder ResourceYielder

	lsid      bson.D
	txnNumber int64
	started   bool
}

// TxnNumber returns the transaction number of the attempt.
func (c *Client) TxnNumber() int64 {
	return c.txnNumber
}

// SessionID returns the lsid document attached to every command.
func (c *Client) SessionID() bson.D {
	return c.lsid
}

// RunCommand runs cmd against db within the transaction.
func (c *Client) RunCommand(ctx context.Context, db string, cmd bson.D) (bson.Raw, error) {
	cmd = c.decorate(cmd)
	c.yielder.Yield(c.op)
	reply, err := c.runner.RunCommand(ctx, db, cmd)
	if uerr := c.yielder.Unyield(c.op); uerr != nil {
		return nil, uerr
	}
	if err != nil {
		return nil, err
	}
	if err := ReplyError(reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// RunCommands runs cmds against db concurrently within the transaction and
// returns the replies in the same order. The calling operation yields once
// for the whole batch.
func (c *Client) RunCommands(ctx context.Context, db string, cmds []bson.D) ([]bson.Raw, error) {
	if len(cmds) == 0 {
		return nil, nil
	}
	decorated := make([]bson.D, len(cmds))
	for i, cmd := range cmds {
		decorated[i] = c.decorate(cmd)
	}

	c.yielder.Yield(c.op)
	replies := make([]bson.Raw, len(cmds))
	err := c.runBatch(ctx, db, decorated, replies)
	if uerr := c.yielder.Unyield(c.op); uerr != nil {
		return nil, uerr
	}
	if err != nil {
		return nil, err
	}
	return replies, nil
}

func (c *Client) runBatch(ctx context.Context, db string, cmds []bson.D, replies []bson.Raw) error {
	// The command starting the transaction must land before the others.
	first, err := c.runner.RunCommand(ctx, db, cmds[0])
	if err != nil {
		return err
	}
	if err := ReplyError(first); err != nil {
		return err
	}
	replies[0] = first
	g, gctx := errgroup.WithContext(ctx)
	for i := 1; i < len(cmds); i++ {
		i := i
		g.Go(func() error {
			reply, err := c.runner.RunCommand(gctx, db, cmds[i])
			if err != nil {
				return err
			}
			if err := ReplyError(reply); err != nil {
				return err
			}
			replies[i] = reply
			return nil
		})
	}
	return g.Wait()
}

// Insert inserts docs into ns within the transaction and returns the number
// of inserted documents.
func (c *Client) Insert(ctx context.Context, ns namespace.NamespaceString, docs []bson.Raw) (int32, error) {
	arr := make(bson.A, 0, len(docs))
	for _, d := range docs {
		arr = append(arr, d)
	}
	reply, err := c.RunCommand(ctx, ns.DB, bson.D{
		{Key: "insert", Value: ns.Coll},
		{Key: "documents", Value: arr},
		{Key: "ordered", Value: true},
	})
	if err != nil {
		return 0, err
	}
	var res struct {
		N int32 `bson:"n"`
	}
	if err := bson.Unmarshal(reply, &res); err != nil {
		return 0, errors.WithStack(err)
	}
	return res.N, nil
}

func (c *Client) decorate(cmd bson.D) bson.D {
	out := make(bson.D, 0, len(cmd)+4)
	out = append(out, cmd...)
	out = append(out,
		bson.E{Key: "lsid", Value: c.lsid},
		bson.E{Key: "txnNumber", Value: c.txnNumber},
		bson.E{Key: "autocommit", Value: false},
	)
	if !c.started {
		out = append(out, bson.E{Key: "startTransaction", Value: true})
		c.started = true
	}
	return out
}

func (c *Client) endTransaction(ctx context.Context, cmdName string) error {
	if !c.started {
		return nil
	}
	cmd := bson.D{
		{Key: cmdName, Value: 1},
		{Key: "lsid", Value: c.lsid},
		{Key: "txnNumber", Value: c.txnNumber},
		{Key: "autocommit", Value: false},
	}
	c.yielder.Yield(c.op)
	reply, err := c.runner.RunCommand(ctx, namespace.AdminDB, cmd)
	if uerr := c.yielder.Unyield(c.op); uerr != nil {
		return uerr
	}
	if err != nil {
		return err
	}
	return ReplyError(reply)
}

// sessionIDFor returns the lsid of an internal transaction. Transactions run
// for an operation with a session use a child of that session so that the
// sub-operations contend with the parent on the same node.
func sessionIDFor(op *opctx.OperationContext, txnUUID uuid.UUID) bson.D {
	if parent, ok := op.LogicalSessionID(); ok {
		return bson.D{
			{Key: "id", Value: uuidBinary(parent)},
			{Key: "txnUUID", Value: uuidBinary(txnUUID)},
		}
	}
	return bson.D{{Key: "id", Value: uuidBinary(txnUUID)}}
}

func uuidBinary(id uuid.UUID) primitive.Binary {
	return primitive.Binary{Subtype: 0x04, Data: id[:]}
}

// ParseSessionID extracts the parent session id from an lsid document
// produced for an internal transaction.
func ParseSessionID(lsid bson.Raw) (uuid.UUID, error) {
	v, err := lsid.LookupErr("id")
	if err != nil {
		return uuid.Nil, errcode.New(errcode.BadValue, "lsid is missing the id field")
	}
	subtype, data, ok := v.BinaryOK()
	if !ok || subtype != 0x04 {
		return uuid.Nil, errcode.New(errcode.BadValue, "lsid.id must be a UUID")
	}
	return uuid.FromBytes(data)
}

// ReplyError converts a command reply with ok: 0 into a coded error carrying
// the reply's error labels.
func ReplyError(reply bson.Raw) error {
	okVal, err := reply.LookupErr("ok")
	if err != nil {
		return errcode.New(errcode.InternalError, "command reply is missing the ok field")
	}
	if isOK(okVal) {
		return nil
	}
	var res struct {
		Code        int32    `bson:"code"`
		ErrMsg      string   `bson:"errmsg"`
		ErrorLabels []string `bson:"errorLabels"`
	}
	if err := bson.Unmarshal(reply, &res); err != nil {
		return errors.WithStack(err)
	}
	code := errcode.Code(res.Code)
	if code == errcode.OK {
		code = errcode.InternalError
	}
	return errcode.New(code, res.ErrMsg).WithLabels(res.ErrorLabels...)
}

func isOK(v bson.RawValue) bool {
	switch v.Type {
	case bsontype.Double:
		return v.Double() == 1
	case bsontype.Int32:
		return v.Int32() == 1
	case bsontype.Int64:
		return v.Int64() == 1
	case bsontype.Boolean:
		return v.Boolean()
	}
	return false
}

// ErrorReply builds the ok: 0 reply of err.
func ErrorReply(err error) bson.D {
	reply := bson.D{
		{Key: "ok", Value: 0.0},
		{Key: "code", Value: int32(errcode.CodeOf(err))},
		{Key: "codeName", Value: errcode.CodeOf(err).String()},
	}
	var coded *errcode.Error
	if errors.As(err, &coded) {
		reply = append(reply, bson.E{Key: "errmsg", Value: coded.Reason})
		if labels := coded.Labels(); len(labels) > 0 {
			reply = append(reply, bson.E{Key: "errorLabels", Value: labels})
		}
	} else {
		reply = append(reply, bson.E{Key: "errmsg", Value: err.Error()})
	}
	return reply
}
