/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	Namespace = "offhours"

	KindLabel    = "kind"
	ActionLabel  = "action"
	OutcomeLabel = "outcome"
	ModeLabel    = "mode"
)

var (
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "scheduler",
			Name:      "actions_total",
			Help:      "Number of resource actions attempted, by kind, action and outcome.",
		},
		[]string{KindLabel, ActionLabel, OutcomeLabel},
	)
	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "scheduler",
			Name:      "scan_duration_seconds",
			Help:      "Duration of scheduler scans.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{ModeLabel},
	)
	SchedulesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "scheduler",
			Name:      "schedules_processed_total",
			Help:      "Number of schedules evaluated, by scan mode.",
		},
		[]string{ModeLabel},
	)
	CredentialCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "credentials",
			Name:      "cache_hits_total",
			Help:      "Number of session credential cache hits.",
		},
	)
)
