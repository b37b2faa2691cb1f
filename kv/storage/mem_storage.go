package storage

import (
	"bytes"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap-incubator/tinydoc/pkg/keystring"
	"github.com/pingcap-incubator/tinydoc/pkg/namespace"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const btreeDegree = 32

// MemStorage is a document store backed by memory. Every collection is a
// btree of documents ordered by _id. Transactions buffer their writes and
// apply them atomically on commit.
type MemStorage struct {
	mu          sync.RWMutex
	collections map[string]*btree.BTree
	txns        map[string]*txnBuffer
	lastTS      primitive.Timestamp
}

type docItem struct {
	key []byte
	doc bson.Raw
}

func (d *docItem) Less(other btree.Item) bool {
	return bytes.Compare(d.key, other.(*docItem).key) < 0
}

type pendingWrite struct {
	ns   string
	item *docItem
}

type txnBuffer struct {
	txnNumber int64
	writes    []pendingWrite
}

// NewMemStorage creates an empty store.
func NewMemStorage() *MemStorage {
	return &MemStorage{
		collections: make(map[string]*btree.BTree),
		txns:        make(map[string]*txnBuffer),
	}
}

// Insert writes doc into ns outside of any transaction.
func (s *MemStorage) Insert(ns namespace.NamespaceString, doc bson.Raw) (primitive.Timestamp, error) {
	item, err := newDocItem(doc)
	if err != nil {
		return primitive.Timestamp{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritableLocked(ns.String(), item, ""); err != nil {
		return primitive.Timestamp{}, err
	}
	s.collectionLocked(ns.String()).ReplaceOrInsert(item)
	return s.tickLocked(), nil
}

// BeginTxn opens a write buffer for transaction txnNumber of session id.
// Any older buffer of the session is discarded.
func (s *MemStorage) BeginTxn(id string, txnNumber int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txns[id] = &txnBuffer{txnNumber: txnNumber}
}

// TxnInsert buffers an insert of doc into ns for the given transaction. A
// key written by another open transaction is a write conflict.
func (s *MemStorage) TxnInsert(id string, txnNumber int64, ns namespace.NamespaceString, doc bson.Raw) error {
	item, err := newDocItem(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, err := s.txnLocked(id, txnNumber)
	if err != nil {
		return err
	}
	if err := s.checkWritableLocked(ns.String(), item, id); err != nil {
		return err
	}
	buf.writes = append(buf.writes, pendingWrite{ns: ns.String(), item: item})
	return nil
}

// Commit applies the buffered writes of the transaction.
func (s *MemStorage) Commit(id string, txnNumber int64) (primitive.Timestamp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, err := s.txnLocked(id, txnNumber)
	if err != nil {
		return primitive.Timestamp{}, err
	}
	for _, w := range buf.writes {
		s.collectionLocked(w.ns).ReplaceOrInsert(w.item)
	}
	delete(s.txns, id)
	return s.tickLocked(), nil
}

// Abort discards the buffered writes of the transaction.
func (s *MemStorage) Abort(id string, txnNumber int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.txnLocked(id, txnNumber); err != nil {
		return err
	}
	delete(s.txns, id)
	return nil
}

// Find returns the documents of ns in _id order.
func (s *MemStorage) Find(ns namespace.NamespaceString) []bson.Raw {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll, ok := s.collections[ns.String()]
	if !ok {
		return nil
	}
	docs := make([]bson.Raw, 0, coll.Len())
	coll.Ascend(func(i btree.Item) bool {
		docs = append(docs, i.(*docItem).doc)
		return true
	})
	return docs
}

// Count returns the number of documents in ns.
func (s *MemStorage) Count(ns namespace.NamespaceString) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if coll, ok := s.collections[ns.String()]; ok {
		return coll.Len()
	}
	return 0
}

func (s *MemStorage) txnLocked(id string, txnNumber int64) (*txnBuffer, error) {
	buf, ok := s.txns[id]
	if !ok || buf.txnNumber != txnNumber {
		return nil, errcode.Errorf(errcode.NoSuchTransaction,
			"Transaction with { txnNumber: %d } has been aborted.", txnNumber)
	}
	return buf, nil
}

func (s *MemStorage) checkWritableLocked(ns string, item *docItem, self string) error {
	if coll, ok := s.collections[ns]; ok && coll.Has(item) {
		id := item.doc.Lookup("_id")
		return errcode.Errorf(errcode.DuplicateKey,
			"E11000 duplicate key error collection: %s index: _id_ dup key: { _id: %s }", ns, id)
	}
	for owner, buf := range s.txns {
		for _, w := range buf.writes {
			if w.ns != ns || !bytes.Equal(w.item.key, item.key) {
				continue
			}
			if owner == self {
				id := item.doc.Lookup("_id")
				return errcode.Errorf(errcode.DuplicateKey,
					"E11000 duplicate key error collection: %s index: _id_ dup key: { _id: %s }", ns, id)
			}
			return errcode.New(errcode.WriteConflict,
				"Caused by :: Write conflict during plan execution and yielding is disabled.").
				WithLabels(errcode.TransientTransactionError)
		}
	}
	return nil
}

func (s *MemStorage) collectionLocked(ns string) *btree.BTree {
	coll, ok := s.collections[ns]
	if !ok {
		coll = btree.New(btreeDegree)
		s.collections[ns] = coll
	}
	return coll
}

func (s *MemStorage) tickLocked() primitive.Timestamp {
	now := uint32(time.Now().Unix())
	if now > s.lastTS.T {
		s.lastTS = primitive.Timestamp{T: now, I: 1}
	} else {
		s.lastTS.I++
	}
	return s.lastTS
}

// newDocItem keys doc by its _id, generating an ObjectId when absent.
func newDocItem(doc bson.Raw) (*docItem, error) {
	if err := doc.Validate(); err != nil {
		return nil, errcode.Errorf(errcode.BadValue, "invalid document: %v", err)
	}
	id, err := doc.LookupErr("_id")
	if err != nil {
		var d bson.D
		if err := bson.Unmarshal(doc, &d); err != nil {
			return nil, errors.WithStack(err)
		}
		d = append(bson.D{{Key: "_id", Value: primitive.NewObjectID()}}, d...)
		if doc, err = bson.Marshal(d); err != nil {
			return nil, errors.WithStack(err)
		}
		id = doc.Lookup("_id")
	}
	idDoc, err := bson.Marshal(bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	key, err := keystring.Encode(idDoc)
	if err != nil {
		return nil, errcode.Errorf(errcode.BadValue, "invalid _id: %v", err)
	}
	return &docItem{key: key, doc: doc}, nil
}
