package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap-incubator/tinydoc/scheduler/pkg/apiutil"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/unrolled/render"
	"github.com/urfave/negroni"
	"go.mongodb.org/mongo-driver/bson"
)

const maxCommandSize = 16 << 20

// HTTPHandler serves the status endpoints and runs commands sent as
// extended JSON to POST /api/v1/command/{db}.
func (s *Server) HTTPHandler() http.Handler {
	rd := render.New(render.Options{})
	apiRouter := mux.NewRouter().PathPrefix("/api/v1").Subrouter()
	apiRouter.HandleFunc("/command/{db}", func(w http.ResponseWriter, r *http.Request) {
		s.serveCommand(rd, w, r)
	}).Methods("POST")

	router := mux.NewRouter()
	router.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.PathPrefix("/api/v1").Handler(negroni.New(
		negroni.NewRecovery(),
		negroni.Wrap(apiRouter),
	))
	return router
}

func (s *Server) serveCommand(rd *render.Render, w http.ResponseWriter, r *http.Request) {
	db := mux.Vars(r)["db"]
	data, err := io.ReadAll(io.LimitReader(r.Body, maxCommandSize))
	r.Body.Close()
	if err != nil {
		apiutil.ErrorResp(rd, w, errcode.New(errcode.InternalError, err.Error()))
		return
	}
	var cmd bson.D
	if err := bson.UnmarshalExtJSON(data, false, &cmd); err != nil {
		apiutil.ErrorResp(rd, w, errcode.Errorf(errcode.FailedToParse, "invalid extended JSON: %v", err))
		return
	}
	body, err := bson.Marshal(cmd)
	if err != nil {
		apiutil.ErrorResp(rd, w, errcode.New(errcode.FailedToParse, err.Error()))
		return
	}

	reply, err := s.Execute(r.Context(), s.NewClient(r.RemoteAddr), db, body)
	if err != nil {
		apiutil.ErrorResp(rd, w, err)
		return
	}
	out, err := bson.MarshalExtJSON(reply, false, false)
	if err != nil {
		apiutil.ErrorResp(rd, w, errcode.New(errcode.InternalError, err.Error()))
		return
	}
	rd.JSON(w, http.StatusOK, json.RawMessage(out))
}
