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

// Package command dispatches typed commands on the config server.
package command

import (
	"sort"
	"sync"
	"time"

	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap-incubator/tinydoc/pkg/namespace"
	"github.com/pingcap-incubator/tinydoc/pkg/opctx"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.uber.org/zap"
)

// AllowedOnSecondary tells whether a command may run on a node that is not
// the writable primary.
type AllowedOnSecondary int

// AllowedOnSecondary values.
const (
	AllowedAlways AllowedOnSecondary = iota
	AllowedNever
	AllowedOptIn
)

func (a AllowedOnSecondary) String() string {
	switch a {
	case AllowedAlways:
		return "always"
	case AllowedNever:
		return "never"
	case AllowedOptIn:
		return "optIn"
	}
	return "unknown"
}

// Command describes a command and parses its requests.
type Command interface {
	Name() string
	Help() string
	SecondaryAllowed() AllowedOnSecondary
	AdminOnly() bool
	// Parse builds an invocation from a command body sent to db.
	Parse(op *opctx.OperationContext, db string, body bson.Raw) (Invocation, error)
}

// Invocation is one parsed request of a command.
type Invocation interface {
	Namespace() namespace.NamespaceString
	SupportsWriteConcern() bool
	CheckAuthorization(op *opctx.OperationContext) error
	Run(op *opctx.OperationContext) (bson.D, error)
}

// Registry holds the commands a server understands.
type Registry struct {
	sync.RWMutex
	commands map[string]Command
}

// NewRegistry creates a registry holding cmds.
func NewRegistry(cmds ...Command) *Registry {
	r := &Registry{commands: make(map[string]Command)}
	for _, cmd := range cmds {
		if err := r.Register(cmd); err != nil {
			log.Fatal("register command failed", zap.Error(err))
		}
	}
	return r
}

// Register adds cmd to the registry.
func (r *Registry) Register(cmd Command) error {
	r.Lock()
	defer r.Unlock()
	if _, ok := r.commands[cmd.Name()]; ok {
		return errors.Errorf("command %s is already registered", cmd.Name())
	}
	r.commands[cmd.Name()] = cmd
	return nil
}

// Lookup returns the command called name.
func (r *Registry) Lookup(name string) (Command, bool) {
	r.RLock()
	defer r.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Names returns the sorted names of the registered commands.
func (r *Registry) Names() []string {
	r.RLock()
	defer r.RUnlock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes the command body sent to db. The command name is the first
// field of body.
func (r *Registry) Run(op *opctx.OperationContext, db string, body bson.Raw) (bson.D, error) {
	elems, err := body.Elements()
	if err != nil || len(elems) == 0 {
		return nil, errcode.New(errcode.FailedToParse, "command body must be a non-empty document")
	}
	name := elems[0].Key()
	cmd, ok := r.Lookup(name)
	if !ok {
		commandCounter.WithLabelValues("unknown", errcode.CommandNotFound.String()).Inc()
		return nil, errcode.Errorf(errcode.CommandNotFound, "no such command: '%s'", name)
	}

	start := time.Now()
	reply, err := r.run(op, cmd, db, body)
	commandCounter.WithLabelValues(name, errcode.CodeOf(err).String()).Inc()
	commandDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		log.Debug("command failed",
			zap.String("command", name),
			zap.String("db", db),
			zap.Uint64("op-id", op.OpID()),
			zap.Error(err))
	}
	return reply, err
}

func (r *Registry) run(op *opctx.OperationContext, cmd Command, db string, body bson.Raw) (bson.D, error) {
	if cmd.AdminOnly() && db != namespace.AdminDB {
		return nil, errcode.Errorf(errcode.Unauthorized, "%s may only be run against the admin database.", cmd.Name())
	}
	if cmd.SecondaryAllowed() == AllowedNever && !op.ServiceContext().ReplCoordinator().IsWritablePrimary() {
		return nil, errcode.New(errcode.NotWritablePrimary, "not primary")
	}
	inv, err := cmd.Parse(op, db, body)
	if err != nil {
		return nil, err
	}
	if err := inv.CheckAuthorization(op); err != nil {
		return nil, err
	}
	if wcVal, err := body.LookupErr("writeConcern"); err == nil {
		if !inv.SupportsWriteConcern() {
			return nil, errcode.Errorf(errcode.InvalidOptions, "Command %s does not support writeConcern", cmd.Name())
		}
		wc, err := ParseWriteConcern(wcVal)
		if err != nil {
			return nil, err
		}
		op.SetWriteConcern(wc)
	}
	return inv.Run(op)
}

// ParseWriteConcern reads a {w, j, wtimeout} document.
func ParseWriteConcern(v bson.RawValue) (*writeconcern.WriteConcern, error) {
	doc, ok := v.DocumentOK()
	if !ok {
		return nil, errcode.New(errcode.FailedToParse, "writeConcern must be an object")
	}
	elems, err := doc.Elements()
	if err != nil {
		return nil, errcode.Errorf(errcode.FailedToParse, "invalid writeConcern: %v", err)
	}
	var opts []writeconcern.Option
	for _, e := range elems {
		val := e.Value()
		switch e.Key() {
		case "w":
			switch val.Type {
			case bsontype.String:
				if w := val.StringValue(); w == "majority" {
					opts = append(opts, writeconcern.WMajority())
				} else {
					opts = append(opts, writeconcern.WTagSet(w))
				}
			default:
				w, ok := asInt64(val)
				if !ok || w < 0 {
					return nil, errcode.Errorf(errcode.FailedToParse, "w has to be a non-negative number or a string, got %s", val)
				}
				opts = append(opts, writeconcern.W(int(w)))
			}
		case "j":
			j, ok := val.BooleanOK()
			if !ok {
				return nil, errcode.New(errcode.FailedToParse, "j must be a boolean")
			}
			opts = append(opts, writeconcern.J(j))
		case "wtimeout":
			ms, ok := asInt64(val)
			if !ok || ms < 0 {
				return nil, errcode.New(errcode.FailedToParse, "wtimeout must be a non-negative number")
			}
			opts = append(opts, writeconcern.WTimeout(time.Duration(ms)*time.Millisecond))
		default:
			return nil, errcode.Errorf(errcode.FailedToParse, "unrecognized write concern field: %s", e.Key())
		}
	}
	return writeconcern.New(opts...), nil
}

func asInt64(v bson.RawValue) (int64, bool) {
	switch v.Type {
	case bsontype.Int32:
		return int64(v.Int32()), true
	case bsontype.Int64:
		return v.Int64(), true
	case bsontype.Double:
		return int64(v.Double()), true
	}
	return 0, false
}
