// SPDX-License-Identifier: AGPL-3.0-or-later
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every counter, gauge, and histogram Fulcrum exposes on its
// metrics port, covering the bus, the registry directory, heartbeats, the
// slot orchestrator, the route dispatcher, and shutdown orchestration.
type Metrics struct {
	registry *prometheus.Registry

	// Message bus
	BusPublishesTotal        *prometheus.CounterVec
	BusPublishDuration       *prometheus.HistogramVec
	BusRequestsInFlight      prometheus.Gauge
	BusEnvelopesDroppedTotal *prometheus.CounterVec
	BusDecodeErrorsTotal     *prometheus.CounterVec

	// Registry directory
	DirectoryEntriesTotal *prometheus.GaugeVec
	IDAssignmentsTotal    *prometheus.CounterVec

	// Heartbeat / reaper
	HeartbeatsReceivedTotal prometheus.Counter
	ReaperEvictionsTotal    *prometheus.CounterVec

	// Slot orchestrator
	SlotProvisionsTotal    *prometheus.CounterVec
	SlotProvisionDuration  *prometheus.HistogramVec
	ActiveSlotsTotal       *prometheus.GaugeVec
	SlotProvisionQueueFull *prometheus.CounterVec

	// Route dispatcher
	RouteAssignmentsTotal *prometheus.CounterVec

	// Shutdown orchestrator
	ShutdownIntentsTotal *prometheus.CounterVec
}

// NewMetrics constructs and registers every Fulcrum metric against a fresh
// prometheus.Registry, so repeated construction (as in tests) never panics
// on duplicate registration the way registering against the global default
// registry would.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		BusPublishesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulcrum_bus_publishes_total",
			Help: "The total number of envelopes published to the message bus",
		}, []string{"channel", "status"}),
		BusPublishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fulcrum_bus_publish_duration_seconds",
			Help:    "Duration of message bus publish calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),
		BusRequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fulcrum_bus_requests_in_flight",
			Help: "The current number of outstanding request/response correlations",
		}),
		BusEnvelopesDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulcrum_bus_envelopes_dropped_total",
			Help: "The total number of envelopes dropped because the bus publish outbox was full",
		}, []string{"channel"}),
		BusDecodeErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulcrum_bus_decode_errors_total",
			Help: "The total number of envelopes that failed to decode",
		}, []string{"channel"}),
		DirectoryEntriesTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fulcrum_registry_directory_entries",
			Help: "The current number of directory entries by status",
		}, []string{"status"}),
		IDAssignmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulcrum_registry_id_assignments_total",
			Help: "The total number of permanent ids assigned by the registry",
		}, []string{"kind"}),
		HeartbeatsReceivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fulcrum_registry_heartbeats_received_total",
			Help: "The total number of heartbeat envelopes received by the registry",
		}),
		ReaperEvictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulcrum_registry_reaper_evictions_total",
			Help: "The total number of directory entries reaped for missed heartbeats",
		}, []string{"reason"}),
		SlotProvisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulcrum_slot_provisions_total",
			Help: "The total number of slot provision requests handled",
		}, []string{"family", "status"}),
		SlotProvisionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fulcrum_slot_provision_duration_seconds",
			Help:    "Duration from provision request to slot ready",
			Buckets: prometheus.DefBuckets,
		}, []string{"family"}),
		ActiveSlotsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fulcrum_slot_active_total",
			Help: "The current number of active slots by family and lifecycle state",
		}, []string{"family", "state"}),
		SlotProvisionQueueFull: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulcrum_slot_provision_queue_full_total",
			Help: "The total number of provision requests rejected by back-pressure",
		}, []string{"family"}),
		RouteAssignmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulcrum_route_assignments_total",
			Help: "The total number of player route assignments made by the dispatcher",
		}, []string{"status"}),
		ShutdownIntentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulcrum_shutdown_intents_total",
			Help: "The total number of shutdown intents observed, by phase",
		}, []string{"phase"}),
	}
	m.register()
	return m
}

// Registry returns the registry this Metrics instance's collectors are
// registered against, for wiring into promhttp.HandlerFor.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) register() {
	m.registry.MustRegister(
		m.BusPublishesTotal,
		m.BusPublishDuration,
		m.BusRequestsInFlight,
		m.BusEnvelopesDroppedTotal,
		m.BusDecodeErrorsTotal,
		m.DirectoryEntriesTotal,
		m.IDAssignmentsTotal,
		m.HeartbeatsReceivedTotal,
		m.ReaperEvictionsTotal,
		m.SlotProvisionsTotal,
		m.SlotProvisionDuration,
		m.ActiveSlotsTotal,
		m.SlotProvisionQueueFull,
		m.RouteAssignmentsTotal,
		m.ShutdownIntentsTotal,
	)
}

// RecordBusPublish records the outcome and duration of a single publish.
func (m *Metrics) RecordBusPublish(channel, status string, duration float64) {
	m.BusPublishesTotal.WithLabelValues(channel, status).Inc()
	m.BusPublishDuration.WithLabelValues(channel).Observe(duration)
}

// RecordEnvelopeDropped increments the dropped-envelope counter for channel.
func (m *Metrics) RecordEnvelopeDropped(channel string) {
	m.BusEnvelopesDroppedTotal.WithLabelValues(channel).Inc()
}

// RecordDecodeError increments the decode-error counter for channel.
func (m *Metrics) RecordDecodeError(channel string) {
	m.BusDecodeErrorsTotal.WithLabelValues(channel).Inc()
}

// SetDirectoryEntries sets the current count of directory entries in status.
func (m *Metrics) SetDirectoryEntries(status string, count float64) {
	m.DirectoryEntriesTotal.WithLabelValues(status).Set(count)
}

// RecordIDAssignment increments the assignment counter for kind
// (permanentId, reclaimed).
func (m *Metrics) RecordIDAssignment(kind string) {
	m.IDAssignmentsTotal.WithLabelValues(kind).Inc()
}

// RecordHeartbeatReceived increments the heartbeat counter.
func (m *Metrics) RecordHeartbeatReceived() {
	m.HeartbeatsReceivedTotal.Inc()
}

// RecordReaperEviction increments the eviction counter for reason
// (missed-heartbeat, grace-expired).
func (m *Metrics) RecordReaperEviction(reason string) {
	m.ReaperEvictionsTotal.WithLabelValues(reason).Inc()
}

// RecordSlotProvision records the outcome and duration of a provision
// request for family.
func (m *Metrics) RecordSlotProvision(family, status string, duration float64) {
	m.SlotProvisionsTotal.WithLabelValues(family, status).Inc()
	m.SlotProvisionDuration.WithLabelValues(family).Observe(duration)
}

// SetActiveSlots sets the current slot count for family in lifecycle state.
func (m *Metrics) SetActiveSlots(family, state string, count float64) {
	m.ActiveSlotsTotal.WithLabelValues(family, state).Set(count)
}

// RecordProvisionQueueFull increments the back-pressure counter for family.
func (m *Metrics) RecordProvisionQueueFull(family string) {
	m.SlotProvisionQueueFull.WithLabelValues(family).Inc()
}

// RecordRouteAssignment increments the route assignment counter for status
// (assigned, no-capacity).
func (m *Metrics) RecordRouteAssignment(status string) {
	m.RouteAssignmentsTotal.WithLabelValues(status).Inc()
}

// RecordShutdownIntent increments the shutdown intent counter for phase
// (evacuate, evict, shutdown).
func (m *Metrics) RecordShutdownIntent(phase string) {
	m.ShutdownIntentsTotal.WithLabelValues(phase).Inc()
}
