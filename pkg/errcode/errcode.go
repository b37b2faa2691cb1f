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

package errcode

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is a numeric error code reported to clients.
type Code int32

// Error codes shared by the data node and the config server.
const (
	OK                              Code = 0
	InternalError                   Code = 1
	BadValue                        Code = 2
	FailedToParse                   Code = 9
	Unauthorized                    Code = 13
	AlreadyInitialized              Code = 23
	IllegalOperation                Code = 20
	NamespaceNotFound               Code = 26
	CommandNotFound                 Code = 59
	ChunkTooBig                     Code = 67
	ShardNotFound                   Code = 70
	InvalidOptions                  Code = 72
	InvalidNamespace                Code = 73
	WriteConflict                   Code = 112
	ConflictingOperationInProgress  Code = 117
	NamespaceNotSharded             Code = 118
	StaleEpoch                      Code = 150
	CommandFailed                   Code = 125
	NoSuchTransaction               Code = 251
	ExceededTimeLimit               Code = 262
	TransactionTooOld               Code = 225
	ShutdownInProgress              Code = 91
	NotWritablePrimary              Code = 10107
	DuplicateKey                    Code = 11000
	Interrupted                     Code = 11601
	InterruptedDueToReplStateChange Code = 11602

	// FLEReplicaSetRequired is raised when an encrypted write reaches a node
	// that is not a replica set member.
	FLEReplicaSetRequired Code = 6371602
)

var codeNames = map[Code]string{
	OK:                              "OK",
	InternalError:                   "InternalError",
	BadValue:                        "BadValue",
	FailedToParse:                   "FailedToParse",
	Unauthorized:                    "Unauthorized",
	AlreadyInitialized:              "AlreadyInitialized",
	IllegalOperation:                "IllegalOperation",
	NamespaceNotFound:               "NamespaceNotFound",
	CommandNotFound:                 "CommandNotFound",
	ChunkTooBig:                     "ChunkTooBig",
	ShardNotFound:                   "ShardNotFound",
	InvalidOptions:                  "InvalidOptions",
	InvalidNamespace:                "InvalidNamespace",
	WriteConflict:                   "WriteConflict",
	ConflictingOperationInProgress:  "ConflictingOperationInProgress",
	NamespaceNotSharded:             "NamespaceNotSharded",
	StaleEpoch:                      "StaleEpoch",
	CommandFailed:                   "CommandFailed",
	NoSuchTransaction:               "NoSuchTransaction",
	ExceededTimeLimit:               "ExceededTimeLimit",
	TransactionTooOld:               "TransactionTooOld",
	ShutdownInProgress:              "ShutdownInProgress",
	NotWritablePrimary:              "NotWritablePrimary",
	DuplicateKey:                    "DuplicateKey",
	Interrupted:                     "Interrupted",
	InterruptedDueToReplStateChange: "InterruptedDueToReplStateChange",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Location%d", int32(c))
}

// Error labels understood by the transaction runtime.
const (
	TransientTransactionError = "TransientTransactionError"
)

// Error is an error carrying a code and a human readable reason.
type Error struct {
	Code   Code
	Reason string
	labels []string
}

// New creates an error with the given code.
func New(code Code, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

// Errorf creates an error with the given code and a formatted reason.
func Errorf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Reason: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// WithLabels returns a copy of e carrying the additional labels.
func (e *Error) WithLabels(labels ...string) *Error {
	c := *e
	c.labels = append(append([]string(nil), e.labels...), labels...)
	return &c
}

// HasLabel reports whether e carries label.
func (e *Error) HasLabel(label string) bool {
	for _, l := range e.labels {
		if l == label {
			return true
		}
	}
	return false
}

// Labels returns the error labels of e.
func (e *Error) Labels() []string {
	return e.labels
}

// CodeOf returns the code carried by err or any error it wraps. Errors
// without a code report InternalError, and a nil error reports OK.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return InternalError
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// HasLabel reports whether err, or any error it wraps, carries label.
func HasLabel(err error, label string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.HasLabel(label)
	}
	return false
}

// ReasonOf returns the reason of a coded error, or the message of any
// other error.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return err.Error()
}

// AddContext annotates err with msg while keeping its code, in the form
// "msg :: caused by :: reason".
func AddContext(err error, msg string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) {
		return &Error{Code: InternalError, Reason: fmt.Sprintf("%s :: caused by :: %v", msg, err)}
	}
	return &Error{
		Code:   e.Code,
		Reason: fmt.Sprintf("%s :: caused by :: %s", msg, e.Reason),
		labels: e.labels,
	}
}
