// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics defines Prometheus counters and histograms for the FS
// operation layer. serve builds a Recorder on every run and hands it to
// fs.Mount; package fs keeps it but does not update its collectors.
// Exposed on an HTTP handler the caller mounts wherever it likes -- this
// package only builds the collectors and a ready-to-serve Handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the collectors exposed on the metrics endpoint.
type Recorder struct {
	reg *prometheus.Registry

	OpCount     *prometheus.CounterVec
	OpLatency   *prometheus.HistogramVec
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
	TreeVerify  *prometheus.CounterVec
	IntegrityViolations prometheus.Counter
}

// New constructs a Recorder with its own registry, so embedding this
// server in a process that already runs prometheus collectors never
// collides with it.
func New() *Recorder {
	reg := prometheus.NewRegistry()

	r := &Recorder{
		reg: reg,
		OpCount: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "bfs",
			Name:      "fs_ops_total",
			Help:      "Count of filesystem operations by name and result.",
		}, []string{"op", "result"}),
		OpLatency: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bfs",
			Name:      "fs_op_duration_seconds",
			Help:      "Filesystem operation latency by name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		CacheHits: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "bfs",
			Name:      "cache_hits_total",
			Help:      "Cache hits by cache name.",
		}, []string{"cache"}),
		CacheMisses: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "bfs",
			Name:      "cache_misses_total",
			Help:      "Cache misses by cache name.",
		}, []string{"cache"}),
		TreeVerify: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "bfs",
			Name:      "merkle_verify_total",
			Help:      "Merkle tree verification attempts by result.",
		}, []string{"result"}),
		IntegrityViolations: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "bfs",
			Name:      "integrity_violations_total",
			Help:      "Count of IntegrityViolation errors raised by the block security layer.",
		}),
	}
	return r
}

// Handler returns an http.Handler serving this Recorder's registry in the
// Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
