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

package server

import "github.com/prometheus/client_golang/prometheus"

var (
	clusterStatusGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tinydoc",
			Subsystem: "cluster",
			Name:      "status",
			Help:      "Status of the sharded cluster.",
		}, []string{"type"})

	shardChunkGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tinydoc",
			Subsystem: "cluster",
			Name:      "shard_chunks",
			Help:      "Number of chunks owned by each shard.",
		}, []string{"shard"})
)

func init() {
	prometheus.MustRegister(clusterStatusGauge)
	prometheus.MustRegister(shardChunkGauge)
}
