package main

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/cwsl/flexcore/internal/flex"
	"github.com/cwsl/flexcore/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRunSampleLoopConsumesAllSamples(t *testing.T) {
	orig := prometheus.DefaultRegisterer
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	defer func() { prometheus.DefaultRegisterer = orig }()

	var buf bytes.Buffer
	samples := []float32{0, 0.5, -0.5, 1, -1}
	for _, s := range samples {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(s))
		buf.Write(b[:])
	}

	dec := flex.New(22050)
	m := metrics.New()

	// Should return cleanly at EOF without panicking.
	runSampleLoop(dec, m, &buf)
}

func TestRunSampleLoopHandlesTruncatedTrailingBytes(t *testing.T) {
	orig := prometheus.DefaultRegisterer
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	defer func() { prometheus.DefaultRegisterer = orig }()

	buf := bytes.NewBuffer([]byte{0x01, 0x02, 0x03}) // fewer than 4 bytes

	dec := flex.New(22050)
	m := metrics.New()

	runSampleLoop(dec, m, buf)
}
