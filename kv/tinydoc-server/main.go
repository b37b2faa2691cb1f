package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pingcap-incubator/tinydoc/kv/config"
	"github.com/pingcap-incubator/tinydoc/kv/server"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var gitHash = "None"

func main() {
	cfg := config.NewConfig()
	err := cfg.Parse(os.Args[1:])
	switch errors.Cause(err) {
	case nil:
	case flag.ErrHelp:
		os.Exit(0)
	default:
		log.Fatal("parse cmd flags error", zap.Error(err))
	}

	if err := cfg.SetupLogger(); err != nil {
		log.Fatal("initialize logger error", zap.Error(err))
	}
	log.ReplaceGlobals(cfg.GetZapLogger(), cfg.GetZapLogProperties())
	defer log.Sync()

	log.Info("tinydoc-server", zap.String("git-hash", gitHash))
	for _, msg := range cfg.WarningMsgs {
		log.Warn(msg)
	}
	log.Info("config", zap.String("config", cfg.String()))

	svr, err := server.NewServer(cfg)
	if err != nil {
		log.Fatal("create server failed", zap.Error(err))
	}
	svr.Start()

	httpServer := &http.Server{Addr: cfg.StatusAddr, Handler: svr.HTTPHandler()}
	go func() {
		log.Info("listening", zap.String("status-addr", cfg.StatusAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("status server failed", zap.Error(err))
		}
	}()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	sig := <-sc
	log.Info("got signal to exit", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("status server shutdown failed", zap.Error(err))
	}
	svr.Stop()
	log.Info("server stopped")
}
