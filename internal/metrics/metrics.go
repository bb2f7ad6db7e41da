// Package metrics defines the Prometheus metrics emitted by the identity gate.
// Metrics are registered with the default registry at package init through
// promauto and served by the /metrics route.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "identity_gate"

// GateTransitionsTotal counts state changes of device gate runs.
// Labels:
//   - from: state left (e.g. "loading")
//   - to: state entered (e.g. "needs_pin")
var GateTransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transitions_total",
		Help:      "Total number of gate state transitions.",
	},
	[]string{"from", "to"},
)

// ResolutionsTotal counts username resolutions.
// Label:
//   - outcome: "existing", "created", "adopted", "invalid", "conflict", "remote_error", "verification_error"
var ResolutionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolutions_total",
		Help:      "Total number of username resolutions, by outcome.",
	},
	[]string{"outcome"},
)

// PinChecksTotal counts completed PIN entries.
// Label:
//   - result: "match", "mismatch", "set", "error"
var PinChecksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pin_checks_total",
		Help:      "Total number of completed PIN entries, by result.",
	},
	[]string{"result"},
)
