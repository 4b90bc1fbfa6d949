// Package metrics exposes the decoder's Prometheus collectors: signal
// lock state, BCH correction outcomes, frames and messages decoded, and
// group registry activity.
package metrics

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the decoder core updates.
type Metrics struct {
	locked          prometheus.Gauge
	symbolsTotal    prometheus.Counter
	bchCleanTotal   prometheus.Counter
	bchCorrected    prometheus.Counter
	bchFailedTotal  prometheus.Counter
	phasesAbandoned prometheus.Counter

	framesDecoded   *prometheus.CounterVec // by phase
	messagesEmitted *prometheus.CounterVec // by message type tag

	groupRegistrations prometheus.Counter
	groupDeliveries    prometheus.Counter
	groupExpiries      prometheus.Counter

	goroutineCount   prometheus.Gauge
	memoryAllocBytes prometheus.Gauge
}

// New creates and registers all decoder metrics against the default
// Prometheus registry.
func New() *Metrics {
	m := &Metrics{
		locked: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "flexcore_locked",
			Help: "Whether the demodulator PLL currently has symbol lock (1) or not (0)",
		}),
		symbolsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flexcore_symbols_total",
			Help: "Total demodulated symbols processed",
		}),
		bchCleanTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flexcore_bch_clean_words_total",
			Help: "Total words that required no BCH correction",
		}),
		bchCorrected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flexcore_bch_corrected_words_total",
			Help: "Total words successfully corrected by BCH decoding",
		}),
		bchFailedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flexcore_bch_failed_words_total",
			Help: "Total words that could not be BCH-corrected",
		}),
		phasesAbandoned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flexcore_phases_abandoned_total",
			Help: "Total phase buffers abandoned due to excessive BCH failures",
		}),
		framesDecoded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "flexcore_frames_decoded_total",
			Help: "Total frames successfully decoded, by phase",
		}, []string{"phase"}),
		messagesEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "flexcore_messages_emitted_total",
			Help: "Total messages emitted, by message type tag",
		}, []string{"type"}),
		groupRegistrations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flexcore_group_registrations_total",
			Help: "Total Short Instruction group registrations processed",
		}),
		groupDeliveries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flexcore_group_deliveries_total",
			Help: "Total group messages matched to a registered capcode list",
		}),
		groupExpiries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flexcore_group_expiries_total",
			Help: "Total group registrations expired without a matching delivery",
		}),
		goroutineCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "flexcore_goroutines",
			Help: "Current number of goroutines",
		}),
		memoryAllocBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "flexcore_memory_alloc_bytes",
			Help: "Current memory allocated in bytes",
		}),
	}
	return m
}

// SetLocked records the demodulator's current lock state.
func (m *Metrics) SetLocked(locked bool) {
	if locked {
		m.locked.Set(1)
		return
	}
	m.locked.Set(0)
}

// AddSymbols records symbols processed since the last call.
func (m *Metrics) AddSymbols(n int) {
	m.symbolsTotal.Add(float64(n))
}

// RecordBCHClean records a word that decoded with no correction needed.
func (m *Metrics) RecordBCHClean() { m.bchCleanTotal.Inc() }

// RecordBCHCorrected records a word BCH successfully corrected.
func (m *Metrics) RecordBCHCorrected() { m.bchCorrected.Inc() }

// RecordBCHFailed records a word BCH could not correct.
func (m *Metrics) RecordBCHFailed() { m.bchFailedTotal.Inc() }

// RecordPhaseAbandoned records a phase buffer abandoned due to excessive
// BCH failures.
func (m *Metrics) RecordPhaseAbandoned() { m.phasesAbandoned.Inc() }

// RecordFrameDecoded records a successfully decoded frame for phase.
func (m *Metrics) RecordFrameDecoded(phase string) {
	m.framesDecoded.WithLabelValues(phase).Inc()
}

// RecordMessageEmitted records an emitted message of the given type tag
// (e.g. "ALN", "NUM", "TON").
func (m *Metrics) RecordMessageEmitted(typeTag string) {
	m.messagesEmitted.WithLabelValues(typeTag).Inc()
}

// RecordGroupRegistration records a Short Instruction group registration.
func (m *Metrics) RecordGroupRegistration() { m.groupRegistrations.Inc() }

// RecordGroupDelivery records a group message delivered against a
// registered capcode list.
func (m *Metrics) RecordGroupDelivery() { m.groupDeliveries.Inc() }

// RecordGroupExpiry records a group registration that expired unmatched.
func (m *Metrics) RecordGroupExpiry() { m.groupExpiries.Inc() }

// UpdateResourceMetrics refreshes the goroutine/memory gauges from the
// Go runtime.
func (m *Metrics) UpdateResourceMetrics() {
	m.goroutineCount.Set(float64(runtime.NumGoroutine()))

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.memoryAllocBytes.Set(float64(ms.Alloc))
}
