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
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap-incubator/tinydoc/pkg/namespace"
	"github.com/pingcap-incubator/tinydoc/scheduler/pkg/apiutil"
	"github.com/pingcap-incubator/tinydoc/scheduler/server"
	"github.com/unrolled/render"
	"go.mongodb.org/mongo-driver/bson"
)

const maxCommandSize = 16 << 20

type adminHandler struct {
	svr *server.Server
	rd  *render.Render
}

func newAdminHandler(svr *server.Server, rd *render.Render) *adminHandler {
	return &adminHandler{
		svr: svr,
		rd:  rd,
	}
}

// CommandInfo describes a registered command.
type CommandInfo struct {
	Name      string `json:"name"`
	Help      string `json:"help"`
	AdminOnly bool   `json:"admin_only"`
	Secondary string `json:"secondary_allowed"`
}

func (h *adminHandler) ListCommands(w http.ResponseWriter, r *http.Request) {
	registry := h.svr.GetCommands()
	infos := make([]CommandInfo, 0)
	for _, name := range registry.Names() {
		cmd, _ := registry.Lookup(name)
		infos = append(infos, CommandInfo{
			Name:      cmd.Name(),
			Help:      cmd.Help(),
			AdminOnly: cmd.AdminOnly(),
			Secondary: cmd.SecondaryAllowed().String(),
		})
	}
	h.rd.JSON(w, http.StatusOK, infos)
}

// RunCommand runs a command sent as extended JSON. The first field of the
// body must name the command of the URL. The database defaults to admin
// and can be set with the db query parameter.
func (h *adminHandler) RunCommand(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["command"]
	db := r.URL.Query().Get("db")
	if db == "" {
		db = namespace.AdminDB
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxCommandSize))
	r.Body.Close()
	if err != nil {
		apiutil.ErrorResp(h.rd, w, errcode.New(errcode.InternalError, err.Error()))
		return
	}
	var cmd bson.D
	if err := bson.UnmarshalExtJSON(data, false, &cmd); err != nil {
		apiutil.ErrorResp(h.rd, w, errcode.Errorf(errcode.FailedToParse, "invalid extended JSON: %v", err))
		return
	}
	if len(cmd) == 0 || cmd[0].Key != name {
		apiutil.ErrorResp(h.rd, w, errcode.Errorf(errcode.FailedToParse, "the first field of the body must be %s", name))
		return
	}
	body, err := bson.Marshal(cmd)
	if err != nil {
		apiutil.ErrorResp(h.rd, w, errcode.New(errcode.FailedToParse, err.Error()))
		return
	}

	reply, err := h.svr.RunCommand(r.Context(), h.svr.InternalClient(), db, body)
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	out, err := bson.MarshalExtJSON(append(reply, bson.E{Key: "ok", Value: 1.0}), false, false)
	if err != nil {
		apiutil.ErrorResp(h.rd, w, errcode.New(errcode.InternalError, err.Error()))
		return
	}
	h.rd.JSON(w, http.StatusOK, json.RawMessage(out))
}

type fcvHandler struct {
	svr *server.Server
	rd  *render.Render
}

func newFCVHandler(svr *server.Server, rd *render.Render) *fcvHandler {
	return &fcvHandler{
		svr: svr,
		rd:  rd,
	}
}

func (h *fcvHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.rd.JSON(w, http.StatusOK, h.svr.GetClusterOption().FeatureCompatibilityVersion().String())
}

func (h *fcvHandler) Post(w http.ResponseWriter, r *http.Request) {
	var input map[string]string
	if err := apiutil.ReadJSONRespondError(h.rd, w, r.Body, &input); err != nil {
		return
	}
	version, ok := input["version"]
	if !ok {
		apiutil.ErrorResp(h.rd, w, errcode.New(errcode.BadValue, "missing version"))
		return
	}
	if err := h.svr.SetFeatureCompatibilityVersion(version); err != nil {
		apiutil.ErrorResp(h.rd, w, errcode.New(errcode.BadValue, err.Error()))
		return
	}
	h.rd.JSON(w, http.StatusOK, nil)
}
