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
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap-incubator/tinydoc/pkg/namespace"
	"github.com/pingcap-incubator/tinydoc/pkg/typeutil"
	"github.com/pingcap-incubator/tinydoc/scheduler/pkg/apiutil"
	"github.com/pingcap-incubator/tinydoc/scheduler/server"
	"github.com/pingcap-incubator/tinydoc/scheduler/server/catalog"
	"github.com/pingcap-incubator/tinydoc/scheduler/server/core"
	"github.com/unrolled/render"
	"go.mongodb.org/mongo-driver/bson"
)

// CollectionInfo describes a sharded collection.
type CollectionInfo struct {
	Namespace  string          `json:"namespace"`
	UUID       string          `json:"uuid"`
	Key        json.RawMessage `json:"key"`
	Version    string          `json:"version"`
	ChunkCount int             `json:"chunk_count"`
	Shards     []string        `json:"shards"`
}

// ChunkInfo describes a chunk. Bounds are relaxed extended JSON.
type ChunkInfo struct {
	Min           json.RawMessage   `json:"min"`
	Max           json.RawMessage   `json:"max"`
	Shard         string            `json:"shard"`
	Version       string            `json:"version"`
	Jumbo         bool              `json:"jumbo,omitempty"`
	EstimatedSize typeutil.ByteSize `json:"estimated_size"`
}

// ChunksInfo records chunks' info.
type ChunksInfo struct {
	Count  int          `json:"count"`
	Chunks []*ChunkInfo `json:"chunks"`
}

// ShardCollectionInput is the body of a shard collection request. Key and
// split points are extended JSON documents.
type ShardCollectionInput struct {
	Namespace    string            `json:"namespace"`
	Key          json.RawMessage   `json:"key"`
	SplitPoints  []json.RawMessage `json:"split_points,omitempty"`
	PrimaryShard string            `json:"primary_shard"`
	Distribute   bool              `json:"distribute,omitempty"`
}

type collectionHandler struct {
	svr *server.Server
	rd  *render.Render
}

func newCollectionHandler(svr *server.Server, rd *render.Render) *collectionHandler {
	return &collectionHandler{
		svr: svr,
		rd:  rd,
	}
}

func extJSON(v interface{}) (json.RawMessage, error) {
	out, err := bson.MarshalExtJSON(v, false, false)
	if err != nil {
		return nil, errcode.New(errcode.InternalError, err.Error())
	}
	return out, nil
}

func parseExtJSON(data []byte) (bson.D, error) {
	var doc bson.D
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return nil, errcode.Errorf(errcode.FailedToParse, "invalid extended JSON %s: %v", data, err)
	}
	return doc, nil
}

func newCollectionInfo(routing *core.RoutingInfo) (*CollectionInfo, error) {
	key, err := extJSON(routing.KeyPattern())
	if err != nil {
		return nil, err
	}
	info := &CollectionInfo{
		Namespace:  routing.Namespace().String(),
		UUID:       routing.UUID().String(),
		Key:        key,
		Version:    routing.Version().String(),
		ChunkCount: routing.NumChunks(),
		Shards:     make([]string, 0),
	}
	for _, id := range routing.ShardIDs() {
		info.Shards = append(info.Shards, string(id))
	}
	return info, nil
}

func newChunkInfo(chunk *core.ChunkInfo) (*ChunkInfo, error) {
	min, err := extJSON(chunk.GetMin())
	if err != nil {
		return nil, err
	}
	max, err := extJSON(chunk.GetMax())
	if err != nil {
		return nil, err
	}
	return &ChunkInfo{
		Min:           min,
		Max:           max,
		Shard:         string(chunk.GetShardID()),
		Version:       chunk.GetVersion().String(),
		Jumbo:         chunk.IsJumbo(),
		EstimatedSize: typeutil.ByteSize(chunk.GetEstimatedSize()),
	}, nil
}

func (h *collectionHandler) List(w http.ResponseWriter, r *http.Request) {
	colls := h.svr.GetCatalog().GetCollections()
	infos := make([]*CollectionInfo, 0, len(colls))
	for _, routing := range colls {
		info, err := newCollectionInfo(routing)
		if err != nil {
			apiutil.ErrorResp(h.rd, w, err)
			return
		}
		infos = append(infos, info)
	}
	h.rd.JSON(w, http.StatusOK, infos)
}

func (h *collectionHandler) Post(w http.ResponseWriter, r *http.Request) {
	var input ShardCollectionInput
	if err := apiutil.ReadJSONRespondError(h.rd, w, r.Body, &input); err != nil {
		return
	}
	req, err := newShardCollectionRequest(&input)
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	routing, err := h.svr.ShardCollection(r.Context(), req)
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	info, err := newCollectionInfo(routing)
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	h.rd.JSON(w, http.StatusOK, info)
}

func newShardCollectionRequest(input *ShardCollectionInput) (*catalog.ShardCollectionRequest, error) {
	nss, err := namespace.Parse(input.Namespace)
	if err != nil {
		return nil, err
	}
	if len(input.Key) == 0 {
		return nil, errcode.New(errcode.FailedToParse, "missing shard key")
	}
	key, err := parseExtJSON(input.Key)
	if err != nil {
		return nil, err
	}
	req := &catalog.ShardCollectionRequest{
		Namespace:    nss,
		Key:          key,
		PrimaryShard: core.ShardID(input.PrimaryShard),
		Distribute:   input.Distribute,
	}
	for _, p := range input.SplitPoints {
		doc, err := parseExtJSON(p)
		if err != nil {
			return nil, err
		}
		raw, err := bson.Marshal(doc)
		if err != nil {
			return nil, errcode.New(errcode.FailedToParse, err.Error())
		}
		req.SplitPoints = append(req.SplitPoints, raw)
	}
	return req, nil
}

func (h *collectionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	nss, err := namespace.Parse(mux.Vars(r)["ns"])
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	if err := h.svr.DropCollection(r.Context(), nss); err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	h.rd.JSON(w, http.StatusOK, nil)
}

// Chunks lists the chunks of a collection in shard key order. The from
// query parameter is an extended JSON shard key to start at, limit caps
// the number of chunks returned.
func (h *collectionHandler) Chunks(w http.ResponseWriter, r *http.Request) {
	nss, err := namespace.Parse(mux.Vars(r)["ns"])
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit < 0 {
			apiutil.ErrorResp(h.rd, w, errcode.Errorf(errcode.BadValue, "invalid limit %q", s))
			return
		}
	}
	routing, err := h.svr.GetRoutingInfo(r.Context(), nss)
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}

	var chunks []*core.ChunkInfo
	if from := r.URL.Query().Get("from"); from != "" {
		doc, err := parseExtJSON([]byte(from))
		if err != nil {
			apiutil.ErrorResp(h.rd, w, err)
			return
		}
		raw, err := bson.Marshal(doc)
		if err != nil {
			apiutil.ErrorResp(h.rd, w, errcode.New(errcode.FailedToParse, err.Error()))
			return
		}
		if chunks, err = routing.ScanChunks(raw, limit); err != nil {
			apiutil.ErrorResp(h.rd, w, err)
			return
		}
	} else {
		chunks = routing.Chunks()
		if limit > 0 && len(chunks) > limit {
			chunks = chunks[:limit]
		}
	}

	infos := &ChunksInfo{Chunks: make([]*ChunkInfo, 0, len(chunks))}
	for _, c := range chunks {
		info, err := newChunkInfo(c)
		if err != nil {
			apiutil.ErrorResp(h.rd, w, err)
			return
		}
		infos.Chunks = append(infos.Chunks, info)
	}
	infos.Count = len(infos.Chunks)
	h.rd.JSON(w, http.StatusOK, infos)
}
