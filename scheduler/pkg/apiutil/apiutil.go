// Copyright 2016 PingCAP, Inc.
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

package apiutil

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pkg/errors"
	"github.com/unrolled/render"
)

// JSONError lets callers check for just one error type
type JSONError struct {
	Err error
}

func (e JSONError) Error() string {
	return e.Err.Error()
}

// ReadJSON reads a JSON data from r and then close it.
// An error due to invalid json will be returned as a JSONError
func ReadJSON(r io.ReadCloser, data interface{}) error {
	defer r.Close()

	b, err := io.ReadAll(r)
	if err != nil {
		return errors.WithStack(err)
	}
	err = json.Unmarshal(b, data)
	if err != nil {
		return JSONError{err}
	}
	return nil
}

// ReadJSONRespondError writes json into data.
// On error respond with a 400 Bad Request
func ReadJSONRespondError(rd *render.Render, w http.ResponseWriter, body io.ReadCloser, data interface{}) error {
	err := ReadJSON(body, data)
	if err == nil {
		return nil
	}
	var errCode errcode.Code
	if jsonErr, ok := errors.Cause(err).(JSONError); ok {
		errCode = errcode.FailedToParse
		err = jsonErr.Err
	} else {
		errCode = errcode.InternalError
	}
	ErrorResp(rd, w, errcode.New(errCode, err.Error()))
	return err
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Code     int32  `json:"code"`
	CodeName string `json:"codeName"`
	ErrMsg   string `json:"errmsg"`
}

// ErrorResp responds to the client about the given error, using the HTTP
// status matching its code.
func ErrorResp(rd *render.Render, w http.ResponseWriter, err error) {
	if err == nil {
		rd.JSON(w, http.StatusInternalServerError, "nil error")
		return
	}
	code := errcode.CodeOf(err)
	rd.JSON(w, HTTPStatus(code), ErrorResponse{
		Code:     int32(code),
		CodeName: code.String(),
		ErrMsg:   errcode.ReasonOf(err),
	})
}

// HTTPStatus maps an error code to an HTTP status.
func HTTPStatus(code errcode.Code) int {
	switch code {
	case errcode.OK:
		return http.StatusOK
	case errcode.BadValue, errcode.FailedToParse, errcode.InvalidOptions, errcode.InvalidNamespace,
		errcode.IllegalOperation, errcode.CommandFailed, errcode.ChunkTooBig:
		return http.StatusBadRequest
	case errcode.Unauthorized:
		return http.StatusForbidden
	case errcode.CommandNotFound, errcode.ShardNotFound, errcode.NamespaceNotFound, errcode.NamespaceNotSharded:
		return http.StatusNotFound
	case errcode.AlreadyInitialized, errcode.ConflictingOperationInProgress, errcode.StaleEpoch:
		return http.StatusConflict
	case errcode.NotWritablePrimary, errcode.InterruptedDueToReplStateChange, errcode.ShutdownInProgress:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
