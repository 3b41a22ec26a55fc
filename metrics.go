package studio

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics is a prometheus.Collector over the engine's stats
// snapshots. Register it once per compositor/session pair:
//
//	prometheus.MustRegister(studio.NewEngineMetrics(comp, sess))
type EngineMetrics struct {
	compositor *FrameCompositor
	session    *SessionController

	framesComposited *prometheus.Desc
	slotErrors       *prometheus.Desc
	layoutRecomputes *prometheus.Desc
	busPublished     *prometheus.Desc
	busDropped       *prometheus.Desc
	busSubscribers   *prometheus.Desc

	streaming       *prometheus.Desc
	destinations    *prometheus.Desc
	recordingActive *prometheus.Desc
	recordingChunks *prometheus.Desc
	chunkFailures   *prometheus.Desc
}

// NewEngineMetrics creates a collector. session may be nil for a
// compositor-only deployment.
func NewEngineMetrics(compositor *FrameCompositor, session *SessionController) *EngineMetrics {
	return &EngineMetrics{
		compositor: compositor,
		session:    session,

		framesComposited: prometheus.NewDesc(
			"studio_frames_composited_total",
			"Ticks that produced an output frame",
			nil, nil),
		slotErrors: prometheus.NewDesc(
			"studio_slot_errors_total",
			"Per-slot draw failures absorbed by the render loop",
			nil, nil),
		layoutRecomputes: prometheus.NewDesc(
			"studio_layout_recomputes_total",
			"Placement cache rebuilds",
			nil, nil),
		busPublished: prometheus.NewDesc(
			"studio_bus_frames_published_total",
			"Frames published to the output bus",
			nil, nil),
		busDropped: prometheus.NewDesc(
			"studio_bus_frames_dropped_total",
			"Frames dropped by saturated bus subscribers",
			nil, nil),
		busSubscribers: prometheus.NewDesc(
			"studio_bus_subscribers",
			"Current output bus subscribers",
			nil, nil),

		streaming: prometheus.NewDesc(
			"studio_session_streaming",
			"1 while a streaming session is active",
			nil, nil),
		destinations: prometheus.NewDesc(
			"studio_session_destinations",
			"Destinations by connection state",
			[]string{"state"}, nil),
		recordingActive: prometheus.NewDesc(
			"studio_recording_active",
			"1 while a recording is active",
			nil, nil),
		recordingChunks: prometheus.NewDesc(
			"studio_recording_chunks_delivered_total",
			"Recording chunks delivered to the output sink",
			nil, nil),
		chunkFailures: prometheus.NewDesc(
			"studio_recording_chunk_failures_total",
			"Recording chunk deliveries that failed and were absorbed",
			nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (m *EngineMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.framesComposited
	ch <- m.slotErrors
	ch <- m.layoutRecomputes
	ch <- m.busPublished
	ch <- m.busDropped
	ch <- m.busSubscribers
	ch <- m.streaming
	ch <- m.destinations
	ch <- m.recordingActive
	ch <- m.recordingChunks
	ch <- m.chunkFailures
}

// Collect implements prometheus.Collector.
func (m *EngineMetrics) Collect(ch chan<- prometheus.Metric) {
	if m.compositor != nil {
		cs := m.compositor.Stats()
		ch <- prometheus.MustNewConstMetric(m.framesComposited, prometheus.CounterValue, float64(cs.FramesComposited))
		ch <- prometheus.MustNewConstMetric(m.slotErrors, prometheus.CounterValue, float64(cs.SlotErrors))
		ch <- prometheus.MustNewConstMetric(m.layoutRecomputes, prometheus.CounterValue, float64(cs.LayoutRecomputes))
		ch <- prometheus.MustNewConstMetric(m.busPublished, prometheus.CounterValue, float64(cs.BusPublished))
		ch <- prometheus.MustNewConstMetric(m.busDropped, prometheus.CounterValue, float64(cs.BusDropped))
		ch <- prometheus.MustNewConstMetric(m.busSubscribers, prometheus.GaugeValue, float64(m.compositor.Output().Stats().Subscribers))
	}

	if m.session != nil {
		ss := m.session.Stats()
		ch <- prometheus.MustNewConstMetric(m.streaming, prometheus.GaugeValue, boolGauge(ss.Streaming))

		offline := ss.DestinationsTotal - ss.DestinationsConnecting - ss.DestinationsLive
		ch <- prometheus.MustNewConstMetric(m.destinations, prometheus.GaugeValue, float64(offline), DestinationOffline.String())
		ch <- prometheus.MustNewConstMetric(m.destinations, prometheus.GaugeValue, float64(ss.DestinationsConnecting), DestinationConnecting.String())
		ch <- prometheus.MustNewConstMetric(m.destinations, prometheus.GaugeValue, float64(ss.DestinationsLive), DestinationLive.String())

		rs := m.session.RecorderStats()
		ch <- prometheus.MustNewConstMetric(m.recordingActive, prometheus.GaugeValue, boolGauge(rs.Active))
		ch <- prometheus.MustNewConstMetric(m.recordingChunks, prometheus.CounterValue, float64(rs.ChunksDelivered))
		ch <- prometheus.MustNewConstMetric(m.chunkFailures, prometheus.CounterValue, float64(rs.ChunkFailures))
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var _ prometheus.Collector = (*EngineMetrics)(nil)
