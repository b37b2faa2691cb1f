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

	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap-incubator/tinydoc/scheduler/pkg/apiutil"
	"github.com/pingcap-incubator/tinydoc/scheduler/server"
	"github.com/unrolled/render"
)

type logHandler struct {
	svr *server.Server
	rd  *render.Render
}

func newLogHandler(svr *server.Server, rd *render.Render) *logHandler {
	return &logHandler{
		svr: svr,
		rd:  rd,
	}
}

// Handle sets the log level of the server from a JSON string body.
func (h *logHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var level string
	if err := apiutil.ReadJSONRespondError(h.rd, w, r.Body, &level); err != nil {
		return
	}
	if err := h.svr.SetLogLevel(level); err != nil {
		apiutil.ErrorResp(h.rd, w, errcode.Errorf(errcode.BadValue, "invalid log level %q", level))
		return
	}
	h.rd.JSON(w, http.StatusOK, nil)
}
