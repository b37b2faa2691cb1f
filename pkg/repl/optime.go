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

package repl

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OpTime identifies a position in the replicated oplog.
type OpTime struct {
	Timestamp primitive.Timestamp `bson:"ts" json:"ts"`
	Term      int64               `bson:"t" json:"t"`
}

// UninitializedTerm is the term of an OpTime produced outside of any election.
const UninitializedTerm int64 = -1

// IsNull reports whether t is the zero OpTime.
func (t OpTime) IsNull() bool {
	return t.Timestamp.T == 0 && t.Timestamp.I == 0 && t.Term == 0
}

// Compare orders OpTimes by term, then by timestamp.
func (t OpTime) Compare(o OpTime) int {
	if t.Term != o.Term {
		if t.Term < o.Term {
			return -1
		}
		return 1
	}
	return compareTimestamp(t.Timestamp, o.Timestamp)
}

func compareTimestamp(a, b primitive.Timestamp) int {
	switch {
	case a.T < b.T, a.T == b.T && a.I < b.I:
		return -1
	case a == b:
		return 0
	}
	return 1
}

func (t OpTime) String() string {
	return fmt.Sprintf("{ ts: Timestamp(%d, %d), t: %d }", t.Timestamp.T, t.Timestamp.I, t.Term)
}
