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
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	Namespace = "cloudnap"

	ResourceTypeLabel = "resource_type"
	ActionLabel       = "action"
	StatusLabel       = "status"
	ModeLabel         = "mode"
)

var Registry = prometheus.NewRegistry()

var (
	ResourceActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "scheduler",
			Name:      "resource_actions_total",
			Help:      "Per-resource driver outcomes partitioned by family, action and status.",
		},
		[]string{ResourceTypeLabel, ActionLabel, StatusLabel},
	)
	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "scheduler",
			Name:      "execution_duration_seconds",
			Help:      "Duration of one engine invocation.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{ModeLabel},
	)
	SchedulesProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "scheduler",
			Name:      "schedules_processed_total",
			Help:      "Schedules an invocation walked, whether or not any action was taken.",
		},
	)
	AuditDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "audit",
			Name:      "entries_dropped_total",
			Help:      "Audit entries dropped because the recorder queue was full.",
		},
	)
	StoreFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "store",
			Name:      "index_fallbacks_total",
			Help:      "Reads served by the by-type fallback view instead of the by-status view.",
		},
		[]string{"entity"},
	)
)

func init() {
	Registry.MustRegister(
		ResourceActions,
		ExecutionDuration,
		SchedulesProcessed,
		AuditDropped,
		StoreFallbacks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}
