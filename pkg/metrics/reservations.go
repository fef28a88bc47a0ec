package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for reservation operations.
const (
	OutcomeApplied    = "applied"
	OutcomeNoop       = "noop"
	OutcomeIdempotent = "idempotent"
	OutcomeConflict   = "conflict"
	OutcomeNotFound   = "not_found"
	OutcomeInvalid    = "invalid"
	OutcomeFailed     = "failed"
)

// ReservationMetrics counts slot state transitions and sweeps.
type ReservationMetrics struct {
	operations *prometheus.CounterVec
	swept      prometheus.Counter
	inventory  *prometheus.GaugeVec
}

// NewReservationMetrics registers the reservation metrics on the provided registerer.
// A nil registerer yields a collector whose methods do nothing.
func NewReservationMetrics(reg prometheus.Registerer) *ReservationMetrics {
	if reg == nil {
		return &ReservationMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reservation_operations_total",
		Help:      "Slot state operations by operation and outcome.",
	}, []string{"operation", "outcome"})
	swept := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_released_total",
		Help:      "Expired reservations returned to available by the sweeper.",
	})
	inventory := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "slots",
		Help:      "Slots per status at the last inventory snapshot.",
	}, []string{"status"})
	reg.MustRegister(operations, swept, inventory)
	return &ReservationMetrics{
		operations: operations,
		swept:      swept,
		inventory:  inventory,
	}
}

// Observe counts one operation with its outcome.
func (m *ReservationMetrics) Observe(operation, outcome string) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

// AddSwept adds released reservations from one sweep.
func (m *ReservationMetrics) AddSwept(n int64) {
	if m == nil || m.swept == nil || n <= 0 {
		return
	}
	m.swept.Add(float64(n))
}

// SetInventory records the latest per-status slot counts.
func (m *ReservationMetrics) SetInventory(counts map[string]int64) {
	if m == nil || m.inventory == nil {
		return
	}
	for status, n := range counts {
		m.inventory.WithLabelValues(normalizeLabel(status)).Set(float64(n))
	}
}
