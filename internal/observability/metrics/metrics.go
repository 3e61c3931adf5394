package metrics

import "github.com/prometheus/client_golang/prometheus"

// RelayMetrics exposes counters/histograms for the webhook relay.
type RelayMetrics struct {
	webhookTotal      *prometheus.CounterVec
	sideEffectTotal   *prometheus.CounterVec
	processingLatency *prometheus.HistogramVec
	inFlight          prometheus.Gauge
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "erika",
			Subsystem: "relay",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound chat webhooks by outcome",
		}, []string{"source", "outcome"}),
		sideEffectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "erika",
			Subsystem: "relay",
			Name:      "side_effect_total",
			Help:      "Calls to external collaborators by kind and status",
		}, []string{"kind", "status"}),
		processingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "erika",
			Subsystem: "relay",
			Name:      "processing_seconds",
			Help:      "Latency of background delivery processing",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
		}, []string{"source"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "erika",
			Subsystem: "relay",
			Name:      "in_flight",
			Help:      "Deliveries currently being processed",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.webhookTotal, m.sideEffectTotal, m.processingLatency, m.inFlight)
	return m
}

func (m *RelayMetrics) ObserveWebhook(source, outcome string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(source, outcome).Inc()
}

func (m *RelayMetrics) ObserveSideEffect(kind string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.sideEffectTotal.WithLabelValues(kind, status).Inc()
}

func (m *RelayMetrics) ObserveProcessing(source string, seconds float64) {
	if m == nil {
		return
	}
	m.processingLatency.WithLabelValues(source).Observe(seconds)
}

func (m *RelayMetrics) TaskStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *RelayMetrics) TaskFinished() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}
