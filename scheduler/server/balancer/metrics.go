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

import "github.com/prometheus/client_golang/prometheus"

var (
	migrationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinydoc",
			Subsystem: "balancer",
			Name:      "migrations_total",
			Help:      "Counter of requested chunk migrations by result.",
		}, []string{"result"})

	migrationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tinydoc",
			Subsystem: "balancer",
			Name:      "migration_duration_seconds",
			Help:      "Bucketed histogram of the duration of successful migrations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		})

	inflightGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tinydoc",
			Subsystem: "balancer",
			Name:      "inflight_migrations",
			Help:      "Number of migrations in progress.",
		})

	rangeDeletionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinydoc",
			Subsystem: "balancer",
			Name:      "range_deletions_total",
			Help:      "Counter of orphaned range deletions by mode and result.",
		}, []string{"mode", "result"})
)

func init() {
	prometheus.MustRegister(migrationCounter)
	prometheus.MustRegister(migrationDuration)
	prometheus.MustRegister(inflightGauge)
	prometheus.MustRegister(rangeDeletionCounter)
}
