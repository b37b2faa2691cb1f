package fle

import (
	"github.com/pingcap-incubator/tinydoc/kv/txnapi"
	"github.com/pingcap-incubator/tinydoc/pkg/namespace"
	"github.com/pingcap-incubator/tinydoc/pkg/opctx"
	"github.com/pingcap-incubator/tinydoc/pkg/repl"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BatchResult tells whether the encrypted path handled a write batch.
type BatchResult int

const (
	// NotProcessed means the caller must fall back to the plain write path.
	NotProcessed BatchResult = iota
	// Processed means the batch was written and the reply is final.
	Processed
)

func (r BatchResult) String() string {
	if r == Processed {
		return "processed"
	}
	return "not_processed"
}

// InsertCommandRequest is a parsed insert command.
type InsertCommandRequest struct {
	Namespace namespace.NamespaceString `bson:"-"`
	Documents []bson.Raw                `bson:"documents"`
	Ordered   bool                      `bson:"ordered"`
	// Absent for collections without encrypted fields.
	EncryptionInformation bson.Raw `bson:"encryptionInformation,omitempty"`
}

// WriteError reports the failure of one document of a batch.
type WriteError struct {
	Index  int32  `bson:"index"`
	Code   int32  `bson:"code"`
	ErrMsg string `bson:"errmsg"`
}

// WriteCommandReplyBase holds the fields shared by all write replies.
// OpTime and ElectionID are read by routers to order replica set
// observations.
type WriteCommandReplyBase struct {
	N           int32               `bson:"n"`
	OpTime      *repl.OpTime        `bson:"opTime,omitempty"`
	ElectionID  *primitive.ObjectID `bson:"electionId,omitempty"`
	WriteErrors []WriteError        `bson:"writeErrors,omitempty"`
}

// InsertCommandReply is the reply of an insert command.
type InsertCommandReply struct {
	WriteCommandReplyBase `bson:",inline"`
}

// TxnFactory binds a new internal transaction to an operation.
type TxnFactory func(op *opctx.OperationContext) *txnapi.TransactionWithRetries

// InsertProcessor writes an encrypted insert batch. It returns NotProcessed
// without a reply when the batch needs no encryption handling.
type InsertProcessor interface {
	ProcessInsert(op *opctx.OperationContext, req *InsertCommandRequest, newTxn TxnFactory) (BatchResult, InsertCommandReply, error)
}

// InsertProcessorFunc adapts a function to InsertProcessor.
type InsertProcessorFunc func(op *opctx.OperationContext, req *InsertCommandRequest, newTxn TxnFactory) (BatchResult, InsertCommandReply, error)

// ProcessInsert implements InsertProcessor.
func (f InsertProcessorFunc) ProcessInsert(op *opctx.OperationContext, req *InsertCommandRequest, newTxn TxnFactory) (BatchResult, InsertCommandReply, error) {
	return f(op, req, newTxn)
}
