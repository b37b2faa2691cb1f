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

// Package namespace parses and formats "database.collection" names.
package namespace

import (
	"strings"

	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
)

// AdminDB is the database administrative commands run against.
const AdminDB = "admin"

// ConfigDB holds the cluster metadata on the config server.
const ConfigDB = "config"

// NamespaceString identifies a collection.
type NamespaceString struct {
	DB   string
	Coll string
}

// Parse splits ns at the first dot. Both parts must be non-empty.
func Parse(ns string) (NamespaceString, error) {
	idx := strings.IndexByte(ns, '.')
	if idx <= 0 || idx == len(ns)-1 {
		return NamespaceString{}, errcode.Errorf(errcode.InvalidNamespace, "Invalid namespace specified '%s'", ns)
	}
	nss := NamespaceString{DB: ns[:idx], Coll: ns[idx+1:]}
	if strings.ContainsAny(nss.DB, "/\\ \"$") {
		return NamespaceString{}, errcode.Errorf(errcode.InvalidNamespace, "Invalid database name '%s'", nss.DB)
	}
	return nss, nil
}

// MustParse is like Parse but panics on error.
func MustParse(ns string) NamespaceString {
	nss, err := Parse(ns)
	if err != nil {
		panic(err)
	}
	return nss
}

func (n NamespaceString) String() string {
	return n.DB + "." + n.Coll
}

// IsEmpty reports whether n names nothing.
func (n NamespaceString) IsEmpty() bool {
	return n.DB == "" && n.Coll == ""
}
