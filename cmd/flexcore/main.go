// Command flexcore runs the FLEX paging decoder as a standalone host
// process: it reads baseband samples from stdin, decodes them, and
// publishes decoded messages to MQTT, a websocket broadcaster, and a
// Prometheus/MCP control surface.
package main

import (
	"bufio"
	"encoding/binary"
	"flag"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwsl/flexcore/internal/config"
	"github.com/cwsl/flexcore/internal/control"
	"github.com/cwsl/flexcore/internal/flex"
	"github.com/cwsl/flexcore/internal/frame"
	"github.com/cwsl/flexcore/internal/metrics"
	"github.com/cwsl/flexcore/internal/sink"
	"github.com/cwsl/flexcore/internal/status"
)

func main() {
	configPath := flag.String("config", "flexcore.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Starting flexcore decoder (sample_frequency=%d verbosity=%d)",
		cfg.Decoder.SampleFrequency, cfg.Decoder.Verbosity)

	dec := flex.New(cfg.Decoder.SampleFrequency)
	dec.SetVerbosity(cfg.Decoder.Verbosity)

	m := metrics.New()

	var broadcaster *sink.Broadcaster
	if cfg.WebSocket.Enabled {
		broadcaster = sink.NewBroadcaster()
	}

	var mqttPublisher *sink.MQTTPublisher
	if cfg.MQTT.Enabled {
		mqttPublisher, err = sink.NewMQTTPublisher(cfg.MQTT)
		if err != nil {
			log.Fatalf("Failed to start MQTT publisher: %v", err)
		}
		defer mqttPublisher.Close()
	}

	dec.OnMessage(func(ev flex.Event) {
		m.RecordMessageEmitted(ev.Type.Tag())
		line := flex.FormatLine(ev)
		log.Println(line)

		if broadcaster != nil {
			broadcaster.Broadcast(ev)
		}
		if mqttPublisher != nil {
			if err := mqttPublisher.Publish(ev, dec.SessionID, 0); err != nil {
				log.Printf("MQTT publish failed: %v", err)
			}
		}
	})

	dec.OnFrame(func(result frame.Result) {
		for i := 0; i < result.WordsClean; i++ {
			m.RecordBCHClean()
		}
		for i := 0; i < result.WordsCorrected; i++ {
			m.RecordBCHCorrected()
		}
		for i := 0; i < result.WordsFailed; i++ {
			m.RecordBCHFailed()
		}
		for i := 0; i < result.PhasesAbandoned; i++ {
			m.RecordPhaseAbandoned()
		}
		for _, phase := range result.PhasesDecoded {
			m.RecordFrameDecoded(phase.String())
		}
		for i := 0; i < result.GroupRegistrations; i++ {
			m.RecordGroupRegistration()
		}
		for i := 0; i < result.GroupDeliveries; i++ {
			m.RecordGroupDelivery()
		}
	})

	dec.OnGroupExpiry(func(count int) {
		for i := 0; i < count; i++ {
			m.RecordGroupExpiry()
		}
	})

	dec.OnSymbol(func() { m.AddSymbols(1) })

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
		go func() {
			log.Printf("Metrics listening on %s%s", cfg.Metrics.Listen, cfg.Metrics.Path)
			if err := http.ListenAndServe(cfg.Metrics.Listen, mux); err != nil && err != http.ErrServerClosed {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	if cfg.WebSocket.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.WebSocket.Path, broadcaster)
		go func() {
			log.Printf("WebSocket broadcaster listening on %s%s", cfg.WebSocket.Listen, cfg.WebSocket.Path)
			if err := http.ListenAndServe(cfg.WebSocket.Listen, mux); err != nil && err != http.ErrServerClosed {
				log.Printf("WebSocket server error: %v", err)
			}
		}()
	}

	if cfg.MCP.Enabled {
		reporter := status.New()
		ctrl := control.New(dec, reporter)
		go func() {
			log.Printf("MCP control server listening on %s", cfg.MCP.Listen)
			if err := http.ListenAndServe(cfg.MCP.Listen, ctrl.HTTPServer()); err != nil && err != http.ErrServerClosed {
				log.Printf("MCP server error: %v", err)
			}
		}()
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Println("Shutting down flexcore...")
		os.Exit(0)
	}()

	runSampleLoop(dec, m, os.Stdin)
}

// runSampleLoop reads little-endian float32 baseband samples from r
// until EOF, feeding them through the decoder one at a time and
// periodically refreshing resource metrics.
func runSampleLoop(dec *flex.Decoder, m *metrics.Metrics, r io.Reader) {
	reader := bufio.NewReaderSize(r, 64*1024)
	buf := make([]byte, 4)

	var sampleCount int
	for {
		if _, err := io.ReadFull(reader, buf); err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				log.Printf("Sample read error: %v", err)
			}
			return
		}

		bits := binary.LittleEndian.Uint32(buf)
		dec.ProcessSample(math.Float32frombits(bits))

		sampleCount++
		if sampleCount%22050 == 0 {
			m.SetLocked(dec.Locked())
			m.UpdateResourceMetrics()
		}
	}
}
