package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the session collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	SamplesSent      prometheus.Counter
	SendErrors       prometheus.Counter
	PublishOverruns  prometheus.Counter
	SamplesReceived  prometheus.Counter
	InvalidSamples   prometheus.Counter
	TakeErrors       prometheus.Counter
	MatchedEndpoints prometheus.Gauge
}

func NewMetrics(role Role) *Metrics {
	labels := prometheus.Labels{"role": role.String()}
	counter := func(subsystem, name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "imu",
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	m := &Metrics{
		Registry:        prometheus.NewRegistry(),
		SamplesSent:     counter("publisher", "samples_sent_total", "Samples handed to the writer successfully"),
		SendErrors:      counter("publisher", "send_errors_total", "Samples the writer rejected"),
		PublishOverruns: counter("publisher", "overruns_total", "Ticks whose processing ran past the next deadline"),
		SamplesReceived: counter("subscriber", "samples_received_total", "Valid samples taken from the reader"),
		InvalidSamples:  counter("subscriber", "invalid_samples_total", "Taken samples without valid data"),
		TakeErrors:      counter("subscriber", "take_errors_total", "Reader take calls that failed"),
		MatchedEndpoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "imu",
			Subsystem:   "session",
			Name:        "matched_endpoints",
			Help:        "Remote endpoints currently matched",
			ConstLabels: labels,
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SamplesSent,
		m.SendErrors,
		m.PublishOverruns,
		m.SamplesReceived,
		m.InvalidSamples,
		m.TakeErrors,
		m.MatchedEndpoints,
	)
	return m
}
