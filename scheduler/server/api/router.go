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

package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pingcap-incubator/tinydoc/scheduler/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/unrolled/render"
	"github.com/urfave/negroni"
)

const apiPrefix = "/tinydoc"

// NewHandler creates the HTTP handler of the config server API.
func NewHandler(svr *server.Server) (http.Handler, error) {
	router := mux.NewRouter()
	router.PathPrefix(apiPrefix).Handler(negroni.New(
		negroni.NewRecovery(),
		negroni.Wrap(createRouter(apiPrefix, svr)),
	))
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return router, nil
}

func createRouter(prefix string, svr *server.Server) *mux.Router {
	rd := render.New(render.Options{
		IndentJSON: true,
	})

	rootRouter := mux.NewRouter().PathPrefix(prefix).Subrouter()
	apiRouter := rootRouter.PathPrefix("/api/v1").Subrouter()

	adminHandler := newAdminHandler(svr, rd)
	apiRouter.HandleFunc("/admin/commands", adminHandler.ListCommands).Methods("GET")
	apiRouter.HandleFunc("/admin/{command}", adminHandler.RunCommand).Methods("POST")

	logHandler := newLogHandler(svr, rd)
	apiRouter.HandleFunc("/config/log-level", logHandler.Handle).Methods("POST")

	fcvHandler := newFCVHandler(svr, rd)
	apiRouter.HandleFunc("/config/fcv", fcvHandler.Get).Methods("GET")
	apiRouter.HandleFunc("/config/fcv", fcvHandler.Post).Methods("POST")

	shardHandler := newShardHandler(svr, rd)
	apiRouter.HandleFunc("/shards", shardHandler.List).Methods("GET")
	apiRouter.HandleFunc("/shards", shardHandler.Post).Methods("POST")
	apiRouter.HandleFunc("/shards/{id}", shardHandler.Get).Methods("GET")
	apiRouter.HandleFunc("/shards/{id}", shardHandler.Delete).Methods("DELETE")

	collectionHandler := newCollectionHandler(svr, rd)
	apiRouter.HandleFunc("/collections", collectionHandler.List).Methods("GET")
	apiRouter.HandleFunc("/collections", collectionHandler.Post).Methods("POST")
	apiRouter.HandleFunc("/collections/{ns}", collectionHandler.Delete).Methods("DELETE")
	apiRouter.HandleFunc("/collections/{ns}/chunks", collectionHandler.Chunks).Methods("GET")

	balancerHandler := newBalancerHandler(svr, rd)
	apiRouter.HandleFunc("/balancer", balancerHandler.Get).Methods("GET")

	apiRouter.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {}).Methods("GET")

	return rootRouter
}
