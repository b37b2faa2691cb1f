package server

import (
	"context"

	"github.com/pingcap-incubator/tinydoc/kv/fle"
	"github.com/pingcap-incubator/tinydoc/kv/session"
	"github.com/pingcap-incubator/tinydoc/kv/txnapi"
	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap-incubator/tinydoc/pkg/namespace"
	"github.com/pingcap-incubator/tinydoc/pkg/opctx"
	"github.com/pingcap-incubator/tinydoc/pkg/repl"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// genericArgs are the session fields any command may carry.
type genericArgs struct {
	LSID             bson.Raw `bson:"lsid,omitempty"`
	TxnNumber        *int64   `bson:"txnNumber,omitempty"`
	StartTransaction bool     `bson:"startTransaction,omitempty"`
	Autocommit       *bool    `bson:"autocommit,omitempty"`
}

func (a *genericArgs) inTransaction() bool {
	return a.TxnNumber != nil && a.Autocommit != nil && !*a.Autocommit
}

// internalSession reports whether the command runs in a child session
// created for an internal transaction.
func (a *genericArgs) internalSession() bool {
	if a.LSID == nil {
		return false
	}
	_, err := a.LSID.LookupErr("txnUUID")
	return err == nil
}

// request is one command being executed with its session checked out.
type request struct {
	op          *opctx.OperationContext
	db          string
	name        string
	body        bson.Raw
	args        genericArgs
	participant *session.Participant
}

// txnID identifies the storage write buffer of the command's session.
func (r *request) txnID() string {
	return string(r.args.LSID)
}

func (s *Server) execute(ctx context.Context, client *opctx.Client, db string, body bson.Raw) (bson.D, error) {
	elems, err := body.Elements()
	if err != nil || len(elems) == 0 {
		return nil, errcode.New(errcode.FailedToParse, "command body must be a non-empty document")
	}
	req := &request{db: db, name: elems[0].Key(), body: body}
	if err := bson.Unmarshal(body, &req.args); err != nil {
		return nil, errcode.Errorf(errcode.FailedToParse, "invalid generic command arguments: %v", err)
	}

	op, done := client.MakeOperationContext(ctx)
	defer done()
	req.op = op

	if req.args.LSID != nil {
		lsid, err := txnapi.ParseSessionID(req.args.LSID)
		if err != nil {
			return nil, err
		}
		op.SetLogicalSessionID(lsid)
		if req.args.TxnNumber != nil {
			op.SetTxnNumber(*req.args.TxnNumber)
		}
		if err := s.catalog.CheckOut(op); err != nil {
			return nil, err
		}
		defer s.catalog.CheckIn(op)

		if req.args.inTransaction() && !req.args.internalSession() {
			if err := s.attachParticipant(req); err != nil {
				return nil, err
			}
			defer req.participant.Stash(op)
		}
		if req.args.inTransaction() && req.args.StartTransaction {
			s.storage.BeginTxn(req.txnID(), *req.args.TxnNumber)
		}
	}

	switch req.name {
	case "insert":
		return s.runInsert(req)
	case "find":
		return s.runFind(req)
	case "commitTransaction":
		return s.runEndTransaction(req, true)
	case "abortTransaction":
		return s.runEndTransaction(req, false)
	case "ping":
		return bson.D{}, nil
	}
	return nil, errcode.Errorf(errcode.CommandNotFound, "no such command: '%s'", req.name)
}

func (s *Server) attachParticipant(req *request) error {
	p := s.catalog.Get(req.op).GetOrCreateParticipant()
	if err := p.BeginOrContinue(*req.args.TxnNumber, req.args.StartTransaction); err != nil {
		return err
	}
	if err := p.Unstash(req.op, req.name); err != nil {
		return err
	}
	req.participant = p
	return nil
}

type insertCommand struct {
	Insert                string     `bson:"insert"`
	Documents             []bson.Raw `bson:"documents"`
	Ordered               *bool      `bson:"ordered,omitempty"`
	EncryptionInformation bson.Raw   `bson:"encryptionInformation,omitempty"`
}

func (s *Server) runInsert(req *request) (bson.D, error) {
	var cmd insertCommand
	if err := bson.Unmarshal(req.body, &cmd); err != nil {
		return nil, errcode.Errorf(errcode.FailedToParse, "invalid insert command: %v", err)
	}
	ns := namespace.NamespaceString{DB: req.db, Coll: cmd.Insert}
	ordered := cmd.Ordered == nil || *cmd.Ordered

	if len(cmd.EncryptionInformation) > 0 {
		var reply fle.InsertCommandReply
		result, err := s.fle.ProcessInsert(req.op, &fle.InsertCommandRequest{
			Namespace:             ns,
			Documents:             cmd.Documents,
			Ordered:               ordered,
			EncryptionInformation: cmd.EncryptionInformation,
		}, &reply)
		if err != nil {
			return nil, err
		}
		if result == fle.Processed {
			return replyDoc(reply.WriteCommandReplyBase)
		}
	}

	if req.args.inTransaction() {
		return s.insertInTransaction(req, ns, cmd.Documents)
	}

	var base fle.WriteCommandReplyBase
	var lastTS primitive.Timestamp
	for i, doc := range cmd.Documents {
		ts, err := s.storage.Insert(ns, doc)
		if err != nil {
			base.WriteErrors = append(base.WriteErrors, fle.WriteError{
				Index:  int32(i),
				Code:   int32(errcode.CodeOf(err)),
				ErrMsg: errcode.ReasonOf(err),
			})
			if ordered {
				break
			}
			continue
		}
		base.N++
		lastTS = ts
	}
	if base.N > 0 {
		s.advanceLastOp(req.op, lastTS, &base)
	}
	return replyDoc(base)
}

func (s *Server) insertInTransaction(req *request, ns namespace.NamespaceString, docs []bson.Raw) (bson.D, error) {
	n := *req.args.TxnNumber
	var base fle.WriteCommandReplyBase
	for _, doc := range docs {
		if err := s.storage.TxnInsert(req.txnID(), n, ns, doc); err != nil {
			// A failed write aborts the whole transaction.
			_ = s.storage.Abort(req.txnID(), n)
			if req.participant != nil {
				req.participant.Abort()
			}
			return nil, err
		}
		if req.participant != nil {
			req.participant.AddLock(ns.String())
		}
		base.N++
	}
	return replyDoc(base)
}

func (s *Server) runFind(req *request) (bson.D, error) {
	coll, ok := req.body.Lookup("find").StringValueOK()
	if !ok {
		return nil, errcode.New(errcode.FailedToParse, "find must name a collection")
	}
	ns := namespace.NamespaceString{DB: req.db, Coll: coll}
	docs := s.storage.Find(ns)
	batch := make(bson.A, 0, len(docs))
	for _, d := range docs {
		batch = append(batch, d)
	}
	return bson.D{{Key: "cursor", Value: bson.D{
		{Key: "firstBatch", Value: batch},
		{Key: "id", Value: int64(0)},
		{Key: "ns", Value: ns.String()},
	}}}, nil
}

func (s *Server) runEndTransaction(req *request, commit bool) (bson.D, error) {
	if req.args.TxnNumber == nil || req.args.LSID == nil {
		return nil, errcode.Errorf(errcode.InvalidOptions, "%s requires lsid and txnNumber", req.name)
	}
	n := *req.args.TxnNumber
	if !commit {
		if req.participant != nil {
			req.participant.Abort()
		}
		return bson.D{}, s.storage.Abort(req.txnID(), n)
	}

	ts, err := s.storage.Commit(req.txnID(), n)
	if err != nil {
		return nil, err
	}
	if req.participant != nil {
		if err := req.participant.Commit(n); err != nil {
			return nil, err
		}
	}
	if ts != (primitive.Timestamp{}) {
		var base fle.WriteCommandReplyBase
		s.advanceLastOp(req.op, ts, &base)
	}
	return bson.D{}, nil
}

// advanceLastOp records a write at ts for the client and stamps the
// routing fields on base.
func (s *Server) advanceLastOp(op *opctx.OperationContext, ts primitive.Timestamp, base *fle.WriteCommandReplyBase) {
	if s.coord.ReplicationMode() == repl.ModeNone {
		return
	}
	opTime := repl.OpTime{Timestamp: ts, Term: s.coord.Term()}
	s.coord.SetMyLastAppliedOpTimeForward(opTime)
	op.Client().SetLastOp(opTime)
	electionID := s.coord.ElectionID()
	base.OpTime = &opTime
	base.ElectionID = &electionID
}

func replyDoc(base fle.WriteCommandReplyBase) (bson.D, error) {
	raw, err := bson.Marshal(base)
	if err != nil {
		return nil, errcode.Errorf(errcode.InternalError, "cannot encode reply: %v", err)
	}
	var d bson.D
	if err := bson.Unmarshal(raw, &d); err != nil {
		return nil, errcode.Errorf(errcode.InternalError, "cannot encode reply: %v", err)
	}
	return d, nil
}
