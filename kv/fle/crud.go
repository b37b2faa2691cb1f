package fle

import (
	"sync"

	"github.com/pingcap-incubator/tinydoc/kv/session"
	"github.com/pingcap-incubator/tinydoc/kv/txnapi"
	"github.com/pingcap-incubator/tinydoc/kv/util/worker"
	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap-incubator/tinydoc/pkg/opctx"
	"github.com/pingcap-incubator/tinydoc/pkg/repl"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// DefaultPoolName is the name of the worker pool running internal
// transactions of encrypted writes.
const DefaultPoolName = "FLECrud"

// Config configures a Service.
type Config struct {
	PoolName string
	Retry    txnapi.RetryPolicy
}

// Service dispatches encrypted writes on a data node. Encrypted writes are
// only supported on replica set members, so the worker pool is only
// created there.
type Service struct {
	svc       *opctx.ServiceContext
	catalog   *session.Catalog
	runner    txnapi.CommandRunner
	processor InsertProcessor
	cfg       Config

	mu   sync.Mutex
	pool *worker.Pool
}

// NewService creates a stopped Service.
func NewService(svc *opctx.ServiceContext, catalog *session.Catalog, runner txnapi.CommandRunner,
	processor InsertProcessor, cfg Config) *Service {
	if cfg.PoolName == "" {
		cfg.PoolName = DefaultPoolName
	}
	return &Service{
		svc:       svc,
		catalog:   catalog,
		runner:    runner,
		processor: processor,
		cfg:       cfg,
	}
}

// Start creates and starts the worker pool, unless the node is not
// replicated.
func (s *Service) Start() {
	if s.svc.ReplCoordinator().ReplicationMode() == repl.ModeNone {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		log.Warn("FLE CRUD pool already started", zap.String("name", s.cfg.PoolName))
		return
	}
	// Internal transactions manage their own clients, so workers need no
	// initializer.
	pool := worker.NewPool(worker.Options{Name: s.cfg.PoolName, MaxGoroutines: worker.Unlimited})
	if err := pool.Start(); err != nil {
		log.Error("failed to start FLE CRUD pool", zap.Error(err))
		return
	}
	s.pool = pool
	poolRunningGauge.Set(1)
}

// Stop shuts the worker pool down and waits for it. It is a no-op if the
// pool was never started.
func (s *Service) Stop() {
	s.mu.Lock()
	pool := s.pool
	s.pool = nil
	s.mu.Unlock()
	if pool == nil {
		return
	}
	pool.Stop()
	poolRunningGauge.Set(0)
}

// Pool returns the running worker pool, or nil.
func (s *Service) Pool() *worker.Pool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool
}

// stoppedPool rejects every task with ShutdownInProgress. Transactions use
// it while the service is not running.
var stoppedPool = func() *worker.Pool {
	p := worker.NewPool(worker.Options{Name: DefaultPoolName})
	p.Shutdown()
	return p
}()

func (s *Service) newTransaction(op *opctx.OperationContext) *txnapi.TransactionWithRetries {
	pool := s.Pool()
	if pool == nil {
		pool = stoppedPool
	}
	return txnapi.NewTransactionWithRetries(op, pool, newSessionYielder(s.catalog), s.runner, s.cfg.Retry)
}

// ProcessInsert runs an insert through the encrypted write path. On
// NotProcessed the reply is left untouched and the caller must run the
// plain insert path.
func (s *Service) ProcessInsert(op *opctx.OperationContext, req *InsertCommandRequest, reply *InsertCommandReply) (BatchResult, error) {
	if s.svc.ReplCoordinator().ReplicationMode() != repl.ModeReplSet {
		insertCounter.WithLabelValues("error").Inc()
		return NotProcessed, errcode.New(errcode.FLEReplicaSetRequired,
			"Encrypted index operations are only supported on replica sets")
	}

	result, processed, err := s.processor.ProcessInsert(op, req, s.newTransaction)
	if err != nil {
		insertCounter.WithLabelValues("error").Inc()
		return NotProcessed, err
	}
	insertCounter.WithLabelValues(result.String()).Inc()
	if result == NotProcessed {
		return NotProcessed, nil
	}

	*reply = processed
	s.setRoutingFieldsInReply(op, &reply.WriteCommandReplyBase)
	return Processed, nil
}

// setRoutingFieldsInReply stamps the client's last OpTime and the current
// election id on base, unless an inner hop already set both.
func (s *Service) setRoutingFieldsInReply(op *opctx.OperationContext, base *WriteCommandReplyBase) {
	if base.OpTime != nil && base.ElectionID != nil {
		return
	}
	coord := s.svc.ReplCoordinator()
	if coord.ReplicationMode() == repl.ModeNone {
		return
	}
	lastOp := op.Client().LastOp()
	electionID := coord.ElectionID()
	base.OpTime = &lastOp
	base.ElectionID = &electionID
}
