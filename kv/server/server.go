package server

import (
	"context"

	"github.com/pingcap-incubator/tinydoc/kv/config"
	"github.com/pingcap-incubator/tinydoc/kv/fle"
	"github.com/pingcap-incubator/tinydoc/kv/session"
	"github.com/pingcap-incubator/tinydoc/kv/storage"
	"github.com/pingcap-incubator/tinydoc/kv/txnapi"
	"github.com/pingcap-incubator/tinydoc/pkg/opctx"
	"github.com/pingcap-incubator/tinydoc/pkg/repl"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

var _ txnapi.CommandRunner = new(Server)

// Server is a data node. It owns the process-wide state shared by all
// requests and runs commands against its in-memory store.
type Server struct {
	cfg     *config.Config
	coord   *repl.Coordinator
	svc     *opctx.ServiceContext
	catalog *session.Catalog
	storage *storage.MemStorage
	fle     *fle.Service

	// Runs commands the node sends to itself.
	internalClient *opctx.Client
}

// NewServer creates a data node from cfg. A replica set node starts as a
// single-member set and steps up right away.
func NewServer(cfg *config.Config) (*Server, error) {
	coord := repl.NewCoordinator(cfg.ReplicationMode(), cfg.Replication.ReplSetName)
	if coord.ReplicationMode() == repl.ModeReplSet {
		if err := coord.StepUp(); err != nil {
			return nil, err
		}
	}
	svc := opctx.NewServiceContext(coord)
	s := &Server{
		cfg:     cfg,
		coord:   coord,
		svc:     svc,
		catalog: session.NewCatalog(),
		storage: storage.NewMemStorage(),
	}
	s.internalClient = svc.MakeClient("internal", nil)
	s.fle = fle.NewService(svc, s.catalog, s, fle.TransactionalInsertProcessor{}, fle.Config{
		PoolName: cfg.FLE.PoolName,
		Retry: txnapi.RetryPolicy{
			MaxAttempts:    cfg.Txn.MaxAttempts,
			InitialBackoff: cfg.Txn.InitialBackoff.Duration,
			MaxBackoff:     cfg.Txn.MaxBackoff.Duration,
		},
	})
	return s, nil
}

// Start starts the background services.
func (s *Server) Start() {
	s.fle.Start()
	log.Info("data node started",
		zap.Stringer("repl-mode", s.coord.ReplicationMode()),
		zap.String("repl-set-name", s.coord.SetName()))
}

// Stop stops the background services.
func (s *Server) Stop() {
	s.fle.Stop()
	log.Info("data node stopped")
}

// ReplCoordinator returns the replication coordinator of the node.
func (s *Server) ReplCoordinator() *repl.Coordinator {
	return s.coord
}

// SessionCatalog returns the session catalog of the node.
func (s *Server) SessionCatalog() *session.Catalog {
	return s.catalog
}

// Storage returns the document store of the node.
func (s *Server) Storage() *storage.MemStorage {
	return s.storage
}

// FLE returns the encrypted write service of the node.
func (s *Server) FLE() *fle.Service {
	return s.fle
}

// NewClient registers a new client connection.
func (s *Server) NewClient(desc string) *opctx.Client {
	return s.svc.MakeClient(desc, nil)
}

// RunCommand runs cmd on this node on behalf of the internal client.
func (s *Server) RunCommand(ctx context.Context, db string, cmd bson.D) (bson.Raw, error) {
	body, err := bson.Marshal(cmd)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return s.Execute(ctx, s.internalClient, db, body)
}

// Execute runs the command body against db for client. Command failures
// are reported as ok: 0 replies.
func (s *Server) Execute(ctx context.Context, client *opctx.Client, db string, body bson.Raw) (bson.Raw, error) {
	reply, err := s.execute(ctx, client, db, body)
	if err != nil {
		log.Debug("command failed", zap.String("db", db), zap.Error(err))
		return bson.Marshal(txnapi.ErrorReply(err))
	}
	return bson.Marshal(append(reply, bson.E{Key: "ok", Value: 1.0}))
}
