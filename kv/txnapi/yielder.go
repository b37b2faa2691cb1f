package txnapi

import "github.com/pingcap-incubator/tinydoc/pkg/opctx"

// ResourceYielder releases resources held by the calling operation before
// it blocks on a sub-operation and reacquires them afterwards. Every Yield
// is followed by exactly one Unyield on the same operation.
type ResourceYielder interface {
	Yield(op *opctx.OperationContext)
	Unyield(op *opctx.OperationContext) error
}

type noopYielder struct{}

func (noopYielder) Yield(*opctx.OperationContext)         {}
func (noopYielder) Unyield(*opctx.OperationContext) error { return nil }
