// Package metrics exposes RACER's peer-misbehavior and delivery counters
// over Prometheus (spec §7), grounded on EveShark-CyberMesh's
// prometheus.Registerer-based Recorder pattern.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the Prometheus counters RACER nodes expose. Construct it
// with New: a zero-value Registry has nil collectors, and its Inc/Set/Observe
// methods panic.
type Registry struct {
	malformedFrame  prometheus.Counter
	badSignature    prometheus.Counter
	duplicateFrame  prometheus.Counter
	duplicateWitness prometheus.Counter
	unknownSender   prometheus.Counter
	queueOverflow   prometheus.Counter
	delivered       prometheus.Counter
	expired         *prometheus.CounterVec
	peersLive       prometheus.Gauge
	publishInterval prometheus.Gauge
	deliveryLatency prometheus.Histogram
}

// New constructs a Registry and registers its collectors with reg.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		malformedFrame: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "racer_malformed_frame_total",
			Help: "Total inbound frames rejected for malformed wire encoding",
		}),
		badSignature: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "racer_bad_signature_total",
			Help: "Total inbound envelopes or witnesses rejected for invalid signature",
		}),
		duplicateFrame: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "racer_duplicate_frame_total",
			Help: "Total inbound frames dropped as already-seen duplicates",
		}),
		duplicateWitness: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "racer_duplicate_witness_total",
			Help: "Total ECHO/READY witnesses dropped as duplicate signer votes",
		}),
		unknownSender: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "racer_unknown_sender_total",
			Help: "Total frames dropped because the sender address matched no known peer",
		}),
		queueOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "racer_queue_overflow_total",
			Help: "Total outbound frames dropped due to a full per-peer send queue",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "racer_delivered_total",
			Help: "Total messages reaching the DELIVERED state",
		}),
		expired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "racer_expired_total",
			Help: "Total messages garbage collected before reaching DELIVERED",
		}, []string{"phase"}),
		peersLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "racer_peers_live",
			Help: "Current count of peers marked live in the registry",
		}),
		publishInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "racer_allowed_publish_interval_seconds",
			Help: "Current PLATO-controlled minimum interval between local publishes",
		}),
		deliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "racer_delivery_latency_seconds",
			Help:    "Time from first local observation of a MID to its delivery",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		r.malformedFrame,
		r.badSignature,
		r.duplicateFrame,
		r.duplicateWitness,
		r.unknownSender,
		r.queueOverflow,
		r.delivered,
		r.expired,
		r.peersLive,
		r.publishInterval,
		r.deliveryLatency,
	)
	return r
}

// Handler serves the registered collectors for scraping.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func (r *Registry) IncMalformedFrame()   { r.malformedFrame.Inc() }
func (r *Registry) IncBadSignature()     { r.badSignature.Inc() }
func (r *Registry) IncDuplicateFrame()   { r.duplicateFrame.Inc() }
func (r *Registry) IncDuplicateWitness() { r.duplicateWitness.Inc() }
func (r *Registry) IncUnknownSender()    { r.unknownSender.Inc() }
func (r *Registry) IncQueueOverflow()    { r.queueOverflow.Inc() }
func (r *Registry) IncDelivered()        { r.delivered.Inc() }
func (r *Registry) IncExpired(phase string) {
	r.expired.WithLabelValues(phase).Inc()
}
func (r *Registry) SetPeersLive(n int)               { r.peersLive.Set(float64(n)) }
func (r *Registry) SetPublishInterval(seconds float64) { r.publishInterval.Set(seconds) }
func (r *Registry) ObserveDeliveryLatency(seconds float64) {
	r.deliveryLatency.Observe(seconds)
}
