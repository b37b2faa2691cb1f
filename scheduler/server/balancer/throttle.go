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

package balancer

import (
	"fmt"

	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// SecondaryThrottle tells a migration whether every document it copies must
// be acknowledged by the recipient's secondaries before the next one.
type SecondaryThrottle struct {
	on bool
	wc *writeconcern.WriteConcern
}

// Off disables the secondary throttle.
func Off() SecondaryThrottle {
	return SecondaryThrottle{}
}

// WithWriteConcern throttles on the acknowledgement of wc.
func WithWriteConcern(wc *writeconcern.WriteConcern) SecondaryThrottle {
	return SecondaryThrottle{on: true, wc: wc}
}

// IsOn reports whether the throttle is enabled.
func (t SecondaryThrottle) IsOn() bool {
	return t.on
}

// WriteConcern returns the write concern to wait for, nil when off.
func (t SecondaryThrottle) WriteConcern() *writeconcern.WriteConcern {
	return t.wc
}

func (t SecondaryThrottle) String() string {
	if !t.on {
		return "off"
	}
	if t.wc == nil {
		return "on"
	}
	return fmt.Sprintf("on(w: %v)", t.wc.GetW())
}
