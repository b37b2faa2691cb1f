package txnapi

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pingcap-incubator/tinydoc/kv/util/worker"
	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap-incubator/tinydoc/pkg/opctx"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Callback is the body of a transaction. It may be run more than once.
type Callback func(ctx context.Context, client *Client) error

// RetryPolicy bounds the retries of a transaction.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy is used when a zero policy is given.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:    10,
	InitialBackoff: 10 * time.Millisecond,
	MaxBackoff:     time.Second,
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	var bo backoff.BackOff = b
	if p.MaxAttempts > 0 {
		bo = backoff.WithMaxRetries(bo, uint64(p.MaxAttempts-1))
	}
	return backoff.WithContext(bo, ctx)
}

// TransactionWithRetries runs a callback as an internal transaction on
// behalf of an operation. Attempts that fail with an error labelled
// TransientTransactionError are aborted and retried with backoff.
type TransactionWithRetries struct {
	op      *opctx.OperationContext
	pool    *worker.Pool
	yielder ResourceYielder
	runner  CommandRunner
	policy  RetryPolicy

	txnUUID   uuid.UUID
	txnNumber int64
	attempts  int
}

// NewTransactionWithRetries binds a transaction to op. The callback runs on
// pool, or on the calling goroutine if pool is nil. yielder may be nil.
func NewTransactionWithRetries(op *opctx.OperationContext, pool *worker.Pool, yielder ResourceYielder,
	runner CommandRunner, policy RetryPolicy) *TransactionWithRetries {
	if yielder == nil {
		yielder = noopYielder{}
	}
	if policy == (RetryPolicy{}) {
		policy = DefaultRetryPolicy
	}
	return &TransactionWithRetries{
		op:        op,
		pool:      pool,
		yielder:   yielder,
		runner:    runner,
		policy:    policy,
		txnUUID:   uuid.New(),
		txnNumber: -1,
	}
}

// Attempts returns how many times the callback was started.
func (t *TransactionWithRetries) Attempts() int {
	return t.attempts
}

// Run runs callback until it commits, fails permanently, or the retry
// policy gives up. It blocks until the last attempt has finished.
func (t *TransactionWithRetries) Run(callback Callback) error {
	if t.pool == nil {
		return t.runAttempts(callback)
	}
	done := make(chan error, 1)
	if err := t.pool.Schedule(func() { done <- t.runAttempts(callback) }); err != nil {
		return err
	}
	return <-done
}

func (t *TransactionWithRetries) runAttempts(callback Callback) error {
	ctx := t.op.Context()
	var lastErr error
	err := backoff.Retry(func() error {
		if err := t.op.CheckForInterrupt(); err != nil {
			return backoff.Permanent(err)
		}
		lastErr = t.runOnce(ctx, callback)
		if lastErr == nil {
			return nil
		}
		if !errcode.HasLabel(lastErr, errcode.TransientTransactionError) {
			return backoff.Permanent(lastErr)
		}
		log.Info("retrying internal transaction",
			zap.Uint64("op-id", t.op.OpID()),
			zap.Int("attempt", t.attempts),
			zap.Error(lastErr))
		return lastErr
	}, t.policy.backOff(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return opctx.InterruptError(ctx)
		}
		return err
	}
	// The writes were made by the internal client; the caller waits for
	// them through its own last OpTime.
	coord := t.op.ServiceContext().ReplCoordinator()
	t.op.Client().SetLastOp(coord.MyLastAppliedOpTime())
	return nil
}

func (t *TransactionWithRetries) runOnce(ctx context.Context, callback Callback) error {
	t.attempts++
	t.txnNumber++
	client := &Client{
		op:        t.op,
		runner:    t.runner,
		yielder:   t.yielder,
		lsid:      sessionIDFor(t.op, t.txnUUID),
		txnNumber: t.txnNumber,
	}
	if err := callback(ctx, client); err != nil {
		if aerr := client.endTransaction(ctx, "abortTransaction"); aerr != nil {
			log.Warn("failed to abort internal transaction",
				zap.Int64("txn-number", t.txnNumber),
				zap.NamedError("abort-error", aerr),
				zap.Error(err))
		}
		return err
	}
	return client.endTransaction(ctx, "commitTransaction")
}
