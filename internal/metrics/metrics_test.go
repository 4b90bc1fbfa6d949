package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// withFreshRegistry swaps in a throwaway default registerer for the
// duration of fn, so each test's promauto.New* calls don't collide with
// collectors already registered by other tests in this package.
func withFreshRegistry(t *testing.T, fn func()) {
	t.Helper()
	orig := prometheus.DefaultRegisterer
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	defer func() { prometheus.DefaultRegisterer = orig }()
	fn()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestSetLockedTracksState(t *testing.T) {
	withFreshRegistry(t, func() {
		m := New()

		m.SetLocked(true)
		if v := gaugeValue(t, m.locked); v != 1 {
			t.Errorf("locked = %v, want 1", v)
		}

		m.SetLocked(false)
		if v := gaugeValue(t, m.locked); v != 0 {
			t.Errorf("locked = %v, want 0", v)
		}
	})
}

func TestAddSymbolsAccumulates(t *testing.T) {
	withFreshRegistry(t, func() {
		m := New()

		m.AddSymbols(10)
		m.AddSymbols(5)

		if v := counterValue(t, m.symbolsTotal); v != 15 {
			t.Errorf("symbolsTotal = %v, want 15", v)
		}
	})
}

func TestBCHCounters(t *testing.T) {
	withFreshRegistry(t, func() {
		m := New()

		m.RecordBCHClean()
		m.RecordBCHClean()
		m.RecordBCHCorrected()
		m.RecordBCHFailed()
		m.RecordPhaseAbandoned()

		if v := counterValue(t, m.bchCleanTotal); v != 2 {
			t.Errorf("bchCleanTotal = %v, want 2", v)
		}
		if v := counterValue(t, m.bchCorrected); v != 1 {
			t.Errorf("bchCorrected = %v, want 1", v)
		}
		if v := counterValue(t, m.bchFailedTotal); v != 1 {
			t.Errorf("bchFailedTotal = %v, want 1", v)
		}
		if v := counterValue(t, m.phasesAbandoned); v != 1 {
			t.Errorf("phasesAbandoned = %v, want 1", v)
		}
	})
}

func TestFramesDecodedByPhase(t *testing.T) {
	withFreshRegistry(t, func() {
		m := New()

		m.RecordFrameDecoded("A")
		m.RecordFrameDecoded("A")
		m.RecordFrameDecoded("B")

		if v := counterValue(t, m.framesDecoded.WithLabelValues("A")); v != 2 {
			t.Errorf("framesDecoded[A] = %v, want 2", v)
		}
		if v := counterValue(t, m.framesDecoded.WithLabelValues("B")); v != 1 {
			t.Errorf("framesDecoded[B] = %v, want 1", v)
		}
	})
}

func TestMessagesEmittedByType(t *testing.T) {
	withFreshRegistry(t, func() {
		m := New()

		m.RecordMessageEmitted("ALN")
		m.RecordMessageEmitted("TON")
		m.RecordMessageEmitted("ALN")

		if v := counterValue(t, m.messagesEmitted.WithLabelValues("ALN")); v != 2 {
			t.Errorf("messagesEmitted[ALN] = %v, want 2", v)
		}
		if v := counterValue(t, m.messagesEmitted.WithLabelValues("TON")); v != 1 {
			t.Errorf("messagesEmitted[TON] = %v, want 1", v)
		}
	})
}

func TestGroupCounters(t *testing.T) {
	withFreshRegistry(t, func() {
		m := New()

		m.RecordGroupRegistration()
		m.RecordGroupDelivery()
		m.RecordGroupDelivery()
		m.RecordGroupExpiry()

		if v := counterValue(t, m.groupRegistrations); v != 1 {
			t.Errorf("groupRegistrations = %v, want 1", v)
		}
		if v := counterValue(t, m.groupDeliveries); v != 2 {
			t.Errorf("groupDeliveries = %v, want 2", v)
		}
		if v := counterValue(t, m.groupExpiries); v != 1 {
			t.Errorf("groupExpiries = %v, want 1", v)
		}
	})
}

func TestUpdateResourceMetricsSetsPositiveValues(t *testing.T) {
	withFreshRegistry(t, func() {
		m := New()

		m.UpdateResourceMetrics()

		if v := gaugeValue(t, m.goroutineCount); v <= 0 {
			t.Errorf("goroutineCount = %v, want > 0", v)
		}
		if v := gaugeValue(t, m.memoryAllocBytes); v <= 0 {
			t.Errorf("memoryAllocBytes = %v, want > 0", v)
		}
	})
}
