package fle

import (
	"context"
	"strings"

	"github.com/pingcap-incubator/tinydoc/kv/txnapi"
	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap-incubator/tinydoc/pkg/namespace"
	"github.com/pingcap-incubator/tinydoc/pkg/opctx"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// EncryptedField describes one encrypted field of a collection.
type EncryptedField struct {
	Path     string `bson:"path"`
	BSONType string `bson:"bsonType,omitempty"`
}

// EncryptedFieldConfig lists the encrypted fields of a collection and the
// state collection that tracks their writes.
type EncryptedFieldConfig struct {
	EcocCollection string           `bson:"ecocCollection,omitempty"`
	Fields         []EncryptedField `bson:"fields"`
}

// EncryptionInformation is the encryptionInformation field of a write.
type EncryptionInformation struct {
	Type   int32                           `bson:"type"`
	Schema map[string]EncryptedFieldConfig `bson:"schema"`
}

// ParseEncryptionInformation decodes raw and returns the field config of ns.
func ParseEncryptionInformation(raw bson.Raw, ns namespace.NamespaceString) (*EncryptedFieldConfig, error) {
	var info EncryptionInformation
	if err := bson.Unmarshal(raw, &info); err != nil {
		return nil, errcode.Errorf(errcode.BadValue, "invalid encryptionInformation: %v", err)
	}
	cfg, ok := info.Schema[ns.String()]
	if !ok {
		return nil, errcode.Errorf(errcode.BadValue, "encryptionInformation has no schema for %s", ns)
	}
	if cfg.EcocCollection == "" {
		cfg.EcocCollection = "enxcol_." + ns.Coll + ".ecoc"
	}
	return &cfg, nil
}

// TransactionalInsertProcessor writes every document of an encrypted insert
// in its own internal transaction, together with one compaction-log entry
// per encrypted field present in the document.
type TransactionalInsertProcessor struct{}

// ProcessInsert implements InsertProcessor.
func (TransactionalInsertProcessor) ProcessInsert(op *opctx.OperationContext, req *InsertCommandRequest,
	newTxn TxnFactory) (BatchResult, InsertCommandReply, error) {
	var reply InsertCommandReply
	if len(req.EncryptionInformation) == 0 {
		return NotProcessed, reply, nil
	}
	cfg, err := ParseEncryptionInformation(req.EncryptionInformation, req.Namespace)
	if err != nil {
		return NotProcessed, reply, err
	}
	ecoc := namespace.NamespaceString{DB: req.Namespace.DB, Coll: cfg.EcocCollection}

	for i, doc := range req.Documents {
		doc := doc
		txn := newTxn(op)
		err := txn.Run(func(ctx context.Context, client *txnapi.Client) error {
			if _, err := client.Insert(ctx, req.Namespace, []bson.Raw{doc}); err != nil {
				return err
			}
			entries, err := compactionEntries(doc, cfg.Fields)
			if err != nil || len(entries) == 0 {
				return err
			}
			_, err = client.Insert(ctx, ecoc, entries)
			return err
		})
		if err == nil {
			reply.N++
			continue
		}
		if isInterruption(err) {
			return NotProcessed, InsertCommandReply{}, err
		}
		reply.WriteErrors = append(reply.WriteErrors, WriteError{
			Index:  int32(i),
			Code:   int32(errcode.CodeOf(err)),
			ErrMsg: errcode.ReasonOf(err),
		})
		if req.Ordered {
			break
		}
	}
	return Processed, reply, nil
}

func compactionEntries(doc bson.Raw, fields []EncryptedField) ([]bson.Raw, error) {
	var entries []bson.Raw
	for _, f := range fields {
		if _, err := doc.LookupErr(strings.Split(f.Path, ".")...); err != nil {
			continue
		}
		entry, err := bson.Marshal(bson.D{{Key: "fieldName", Value: f.Path}})
		if err != nil {
			return nil, errors.WithStack(err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func isInterruption(err error) bool {
	switch errcode.CodeOf(err) {
	case errcode.Interrupted, errcode.InterruptedDueToReplStateChange,
		errcode.ExceededTimeLimit, errcode.ShutdownInProgress:
		return true
	}
	return false
}
