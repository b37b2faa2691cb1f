// Copyright 2022 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pingcap-incubator/tinydoc/pkg/auth"
	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap-incubator/tinydoc/pkg/namespace"
	"github.com/pingcap-incubator/tinydoc/pkg/opctx"
	"github.com/pingcap-incubator/tinydoc/pkg/repl"
	"github.com/pingcap-incubator/tinydoc/scheduler/server/balancer"
	"github.com/pingcap-incubator/tinydoc/scheduler/server/catalog"
	"github.com/pingcap-incubator/tinydoc/scheduler/server/command"
	"github.com/pingcap-incubator/tinydoc/scheduler/server/config"
	"github.com/pingcap-incubator/tinydoc/scheduler/server/core"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	serverMetricsInterval = time.Minute
	httpShutdownTimeout   = 5 * time.Second
)

// HandlerBuilder builds the HTTP handler of a server.
type HandlerBuilder func(*Server) (http.Handler, error)

// Server is the config server. It owns the shard registry and the routing
// tables of the sharded collections, and runs the balancer.
type Server struct {
	// Server state.
	isServing int64

	// Configs and initial fields.
	cfg *config.Config
	opt *config.ClusterOption

	serverLoopCtx    context.Context
	serverLoopCancel func()
	serverLoopWg     sync.WaitGroup

	coord    *repl.Coordinator
	svc      *opctx.ServiceContext
	shards   *core.ShardRegistry
	cache    *catalog.Cache
	manager  *balancer.LocalMigrationManager
	balancer *balancer.Balancer
	commands *command.Registry

	// Runs commands on behalf of the server itself and the admin API.
	internalClient *opctx.Client

	handlerBuilder HandlerBuilder
	httpServer     *http.Server
	addr           string
}

// CreateServer creates the UNINITIALIZED config server with given
// configuration. The shards listed in the configuration are registered.
func CreateServer(cfg *config.Config, handlerBuilder HandlerBuilder) (*Server, error) {
	log.Info("config server config", zap.Reflect("config", cfg))
	opt, err := config.NewClusterOption(cfg)
	if err != nil {
		return nil, err
	}

	coord := repl.NewCoordinator(repl.ModeReplSet, cfg.ReplSetName)
	svc := opctx.NewServiceContext(coord)
	shards := core.NewShardRegistry()
	for _, sc := range cfg.Shards {
		if err := shards.AddShard(core.NewShardInfo(core.ShardID(sc.ID), sc.Host)); err != nil {
			return nil, err
		}
	}
	cache := catalog.NewCache(shards)
	manager := balancer.NewLocalMigrationManager(cache, nil)
	b := balancer.NewBalancer(cache, opt, manager)

	s := &Server{
		cfg:            cfg,
		opt:            opt,
		coord:          coord,
		svc:            svc,
		shards:         shards,
		cache:          cache,
		manager:        manager,
		balancer:       b,
		commands:       command.NewRegistry(command.NewMoveRange(opt, shards, cache, b)),
		handlerBuilder: handlerBuilder,
	}
	s.internalClient = svc.MakeClient("internal", auth.NewSession(auth.Privilege{
		Resource: auth.ForAnyResource(),
		Actions:  []auth.ActionType{auth.ActionInternal, auth.ActionMoveChunk},
	}))
	return s, nil
}

// Run steps the server up as primary and starts serving HTTP.
func (s *Server) Run(ctx context.Context) error {
	if err := s.coord.StepUp(); err != nil {
		return err
	}
	if s.handlerBuilder != nil {
		if err := s.startHTTPServer(); err != nil {
			return err
		}
	}
	s.startServerLoop(ctx)
	atomic.StoreInt64(&s.isServing, 1)
	log.Info("config server started",
		zap.String("name", s.cfg.Name),
		zap.String("addr", s.addr),
		zap.Stringer("cluster-role", s.opt.ClusterRole()),
		zap.Stringer("fcv", s.opt.FeatureCompatibilityVersion()))
	return nil
}

func (s *Server) startHTTPServer() error {
	handler, err := s.handlerBuilder(s)
	if err != nil {
		return err
	}
	l, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.WithStack(err)
	}
	s.addr = l.Addr().String()
	s.httpServer = &http.Server{Handler: handler}
	go func() {
		if err := s.httpServer.Serve(l); err != nil && err != http.ErrServerClosed {
			log.Error("http server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Close closes the server.
func (s *Server) Close() {
	if !atomic.CompareAndSwapInt64(&s.isServing, 1, 0) {
		// server is already closed
		return
	}

	log.Info("closing server")

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Error("close http server meet error", zap.Error(err))
		}
		cancel()
	}
	s.stopServerLoop()
	if err := s.coord.StepDown(); err != nil {
		log.Error("step down meet error", zap.Error(err))
	}
	s.manager.Close()

	log.Info("close server")
}

// IsClosed checks whether server is closed or not.
func (s *Server) IsClosed() bool {
	return atomic.LoadInt64(&s.isServing) == 0
}

// Context returns the loop context of server.
func (s *Server) Context() context.Context {
	return s.serverLoopCtx
}

func (s *Server) startServerLoop(ctx context.Context) {
	s.serverLoopCtx, s.serverLoopCancel = context.WithCancel(ctx)
	s.serverLoopWg.Add(1)
	go s.serverMetricsLoop()
}

func (s *Server) stopServerLoop() {
	s.serverLoopCancel()
	s.serverLoopWg.Wait()
}

func (s *Server) serverMetricsLoop() {
	defer s.serverLoopWg.Done()

	ctx, cancel := context.WithCancel(s.serverLoopCtx)
	defer cancel()
	s.collectClusterMetrics()
	for {
		select {
		case <-time.After(serverMetricsInterval):
			s.collectClusterMetrics()
		case <-ctx.Done():
			log.Info("server is closed, exit metrics loop")
			return
		}
	}
}

func (s *Server) collectClusterMetrics() {
	colls := s.cache.GetCollections()
	chunks := make(map[core.ShardID]int)
	total := 0
	for _, routing := range colls {
		for _, chunk := range routing.Chunks() {
			chunks[chunk.GetShardID()]++
			total++
		}
	}
	clusterStatusGauge.WithLabelValues("shard_count").Set(float64(s.shards.GetShardCount()))
	clusterStatusGauge.WithLabelValues("collection_count").Set(float64(len(colls)))
	clusterStatusGauge.WithLabelValues("chunk_count").Set(float64(total))
	shardChunkGauge.Reset()
	for _, shard := range s.shards.GetShards() {
		shardChunkGauge.WithLabelValues(string(shard.GetID())).Set(float64(chunks[shard.GetID()]))
	}
}

// GetAddr returns the address the HTTP API listens on.
func (s *Server) GetAddr() string {
	return s.addr
}

// Name returns the unique name of the server.
func (s *Server) Name() string {
	return s.cfg.Name
}

// GetConfig gets the config information.
func (s *Server) GetConfig() *config.Config {
	return s.cfg
}

// GetClusterOption returns the runtime options of the server.
func (s *Server) GetClusterOption() *config.ClusterOption {
	return s.opt
}

// ReplCoordinator returns the replication coordinator of the server.
func (s *Server) ReplCoordinator() *repl.Coordinator {
	return s.coord
}

// GetShardRegistry returns the shard registry.
func (s *Server) GetShardRegistry() *core.ShardRegistry {
	return s.shards
}

// GetCatalog returns the catalog of sharded collections.
func (s *Server) GetCatalog() *catalog.Cache {
	return s.cache
}

// GetBalancer returns the balancer.
func (s *Server) GetBalancer() *balancer.Balancer {
	return s.balancer
}

// GetCommands returns the command registry.
func (s *Server) GetCommands() *command.Registry {
	return s.commands
}

// NewClient registers a client with the given authorization session.
func (s *Server) NewClient(desc string, authz *auth.Session) *opctx.Client {
	return s.svc.MakeClient(desc, authz)
}

// InternalClient returns the client holding internal privileges.
func (s *Server) InternalClient() *opctx.Client {
	return s.internalClient
}

// RunCommand runs the command body against db on behalf of client.
func (s *Server) RunCommand(ctx context.Context, client *opctx.Client, db string, body bson.Raw) (bson.D, error) {
	op, done := client.MakeOperationContext(ctx)
	defer done()
	return s.commands.Run(op, db, body)
}

// AddShard registers a new shard.
func (s *Server) AddShard(id, host string) error {
	if err := config.ValidateShardID(id); err != nil {
		return errcode.New(errcode.BadValue, err.Error())
	}
	if host == "" {
		return errcode.Errorf(errcode.BadValue, "shard %s has no host", id)
	}
	return s.shards.AddShard(core.NewShardInfo(core.ShardID(id), host))
}

// GetShard returns a registered shard.
func (s *Server) GetShard(ctx context.Context, id core.ShardID) (*core.ShardInfo, error) {
	op, done := s.internalClient.MakeOperationContext(ctx)
	defer done()
	return s.shards.GetShard(op, id)
}

// RemoveShard unregisters a shard. A shard that still owns chunks is only
// marked draining.
func (s *Server) RemoveShard(ctx context.Context, id core.ShardID) error {
	shard, err := s.GetShard(ctx, id)
	if err != nil {
		return err
	}
	for _, routing := range s.cache.GetCollections() {
		for _, owner := range routing.ShardIDs() {
			if owner != id {
				continue
			}
			if !shard.IsDraining() {
				if err := s.shards.SetShard(shard.Clone(core.SetShardDraining(true))); err != nil {
					return err
				}
				log.Info("shard is draining", zap.String("shard", string(id)))
			}
			return errcode.Errorf(errcode.ConflictingOperationInProgress,
				"shard %s is draining, it still owns chunks of %s", id, routing.Namespace())
		}
	}
	return s.shards.RemoveShard(id)
}

// GetRoutingInfo returns the routing info of a sharded collection.
func (s *Server) GetRoutingInfo(ctx context.Context, nss namespace.NamespaceString) (*core.RoutingInfo, error) {
	op, done := s.internalClient.MakeOperationContext(ctx)
	defer done()
	return s.cache.GetShardedCollectionRoutingInfo(op, nss)
}

// DropCollection forgets the routing info of a sharded collection.
func (s *Server) DropCollection(ctx context.Context, nss namespace.NamespaceString) error {
	op, done := s.internalClient.MakeOperationContext(ctx)
	defer done()
	return s.cache.DropCollection(op, nss)
}

// ShardCollection shards a collection on behalf of the internal client.
func (s *Server) ShardCollection(ctx context.Context, req *catalog.ShardCollectionRequest) (*core.RoutingInfo, error) {
	op, done := s.internalClient.MakeOperationContext(ctx)
	defer done()
	return s.cache.ShardCollection(op, req)
}

// SetLogLevel sets log level.
func (s *Server) SetLogLevel(level string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return errors.WithStack(err)
	}
	s.cfg.Log.Level = level
	log.SetLevel(l)
	log.Warn("log level changed", zap.String("level", log.GetLevel().String()))
	return nil
}

// SetFeatureCompatibilityVersion changes the feature compatibility version.
func (s *Server) SetFeatureCompatibilityVersion(v string) error {
	if err := s.opt.SetFeatureCompatibilityVersion(v); err != nil {
		return err
	}
	s.cfg.FeatureCompatibilityVersion = v
	return nil
}
