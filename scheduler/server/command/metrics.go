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

package command

import "github.com/prometheus/client_golang/prometheus"

var (
	commandCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinydoc",
			Subsystem: "command",
			Name:      "handled_total",
			Help:      "Counter of handled commands by command and error code.",
		}, []string{"command", "code"})

	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tinydoc",
			Subsystem: "command",
			Name:      "handle_duration_seconds",
			Help:      "Bucketed histogram of command processing duration.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 18),
		}, []string{"command"})
)

func init() {
	prometheus.MustRegister(commandCounter)
	prometheus.MustRegister(commandDuration)
}
