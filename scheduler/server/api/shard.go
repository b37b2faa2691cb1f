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
	"github.com/pingcap-incubator/tinydoc/scheduler/pkg/apiutil"
	"github.com/pingcap-incubator/tinydoc/scheduler/server"
	"github.com/pingcap-incubator/tinydoc/scheduler/server/core"
	"github.com/unrolled/render"
)

// ShardInfo contains information about a shard.
type ShardInfo struct {
	ID       string `json:"id"`
	Host     string `json:"host"`
	Draining bool   `json:"draining,omitempty"`
}

func newShardInfo(shard *core.ShardInfo) *ShardInfo {
	return &ShardInfo{
		ID:       string(shard.GetID()),
		Host:     shard.GetHost(),
		Draining: shard.IsDraining(),
	}
}

// ShardsInfo records shards' info.
type ShardsInfo struct {
	Count  int          `json:"count"`
	Shards []*ShardInfo `json:"shards"`
}

type shardHandler struct {
	svr *server.Server
	rd  *render.Render
}

func newShardHandler(svr *server.Server, rd *render.Render) *shardHandler {
	return &shardHandler{
		svr: svr,
		rd:  rd,
	}
}

func (h *shardHandler) List(w http.ResponseWriter, r *http.Request) {
	shards := h.svr.GetShardRegistry().GetShards()
	infos := &ShardsInfo{
		Count:  len(shards),
		Shards: make([]*ShardInfo, 0, len(shards)),
	}
	for _, shard := range shards {
		infos.Shards = append(infos.Shards, newShardInfo(shard))
	}
	h.rd.JSON(w, http.StatusOK, infos)
}

func (h *shardHandler) Get(w http.ResponseWriter, r *http.Request) {
	shard, err := h.svr.GetShard(r.Context(), core.ShardID(mux.Vars(r)["id"]))
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	h.rd.JSON(w, http.StatusOK, newShardInfo(shard))
}

func (h *shardHandler) Post(w http.ResponseWriter, r *http.Request) {
	var input ShardInfo
	if err := apiutil.ReadJSONRespondError(h.rd, w, r.Body, &input); err != nil {
		return
	}
	if err := h.svr.AddShard(input.ID, input.Host); err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	h.rd.JSON(w, http.StatusOK, nil)
}

func (h *shardHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svr.RemoveShard(r.Context(), core.ShardID(mux.Vars(r)["id"])); err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	h.rd.JSON(w, http.StatusOK, nil)
}

type balancerHandler struct {
	svr *server.Server
	rd  *render.Render
}

func newBalancerHandler(svr *server.Server, rd *render.Render) *balancerHandler {
	return &balancerHandler{
		svr: svr,
		rd:  rd,
	}
}

// BalancerStatus reports the state of the balancer.
type BalancerStatus struct {
	InflightMigrations int                `json:"inflight_migrations"`
	ShardLimits        map[string]float64 `json:"shard_limits,omitempty"`
}

func (h *balancerHandler) Get(w http.ResponseWriter, r *http.Request) {
	b := h.svr.GetBalancer()
	status := &BalancerStatus{InflightMigrations: b.InflightMigrations()}
	for shard, rate := range b.GetAllShardsLimit() {
		if status.ShardLimits == nil {
			status.ShardLimits = make(map[string]float64)
		}
		status.ShardLimits[string(shard)] = rate
	}
	h.rd.JSON(w, http.StatusOK, status)
}
