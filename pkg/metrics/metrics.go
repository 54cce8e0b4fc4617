// Copyright 2026 The Sshfs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes Prometheus metrics for the protocol engine and the
// directory cache. The mount command can serve them on an optional debug
// listener.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts protocol requests submitted, by operation.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sshfs_requests_total",
			Help: "Total number of protocol requests submitted",
		},
		[]string{"op"},
	)

	// RequestErrorsTotal counts protocol requests that ended in an error,
	// by operation.
	RequestErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sshfs_request_errors_total",
			Help: "Total number of protocol requests that failed",
		},
		[]string{"op"},
	)

	// InflightRequests tracks requests awaiting a reply.
	InflightRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sshfs_inflight_requests",
			Help: "Number of protocol requests awaiting a reply",
		},
	)

	// CacheHits counts directory-cache lookups answered locally.
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sshfs_dcache_hits_total",
			Help: "Directory cache lookups served without a round trip",
		},
	)

	// CacheMisses counts directory-cache lookups that required a round trip.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sshfs_dcache_misses_total",
			Help: "Directory cache lookups that required a round trip",
		},
	)

	// BytesRead counts payload bytes received through read requests.
	BytesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sshfs_bytes_read_total",
			Help: "Total payload bytes read from the remote side",
		},
	)

	// BytesWritten counts payload bytes sent through write requests.
	BytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sshfs_bytes_written_total",
			Help: "Total payload bytes written to the remote side",
		},
	)
)

// Handler returns the HTTP handler serving the metric registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
