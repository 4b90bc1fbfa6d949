// Package sink delivers decoded FLEX events to external consumers: an
// MQTT publisher and a websocket broadcaster, both fed from
// flex.Decoder's OnMessage callback.
package sink

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/cwsl/flexcore/internal/config"
	"github.com/cwsl/flexcore/internal/flex"
)

// MQTTPublisher publishes decoded FLEX events to a broker topic, one
// message per event, optionally zstd-compressed above a size threshold.
type MQTTPublisher struct {
	client  mqtt.Client
	cfg     config.MQTTConfig
	encoder *zstd.Encoder
}

// eventPayload is the JSON body published for each decoded event.
type eventPayload struct {
	SessionID string `json:"session_id"`
	Line      string `json:"line"`
	Capcode   int64  `json:"capcode"`
	Type      string `json:"type"`
	Cycle     int    `json:"cycle"`
	Frame     int    `json:"frame"`
	Timestamp int64  `json:"timestamp"`
}

// NewMQTTPublisher connects to the configured broker and returns a
// publisher ready to accept events.
func NewMQTTPublisher(cfg config.MQTTConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientIDPrefix + "-" + uuid.New().String())

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	if cfg.TLS.Enabled {
		tlsConfig, err := loadTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("sink: failed to load MQTT TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("sink: failed to connect to MQTT broker: %w", token.Error())
	}

	var encoder *zstd.Encoder
	if cfg.CompressPayload {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("sink: failed to create zstd encoder: %w", err)
		}
		encoder = enc
	}

	return &MQTTPublisher{client: client, cfg: cfg, encoder: encoder}, nil
}

func loadTLSConfig(tlsCfg config.MQTTTLSConfig) (*tls.Config, error) {
	tc := &tls.Config{}

	if tlsCfg.CACert != "" {
		caCert, err := os.ReadFile(tlsCfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tc.RootCAs = pool
	}

	if tlsCfg.ClientCert != "" && tlsCfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(tlsCfg.ClientCert, tlsCfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}

	return tc, nil
}

// Publish encodes ev as JSON, compresses it if configured and the
// payload clears the size threshold, and publishes it to the configured
// topic.
func (p *MQTTPublisher) Publish(ev flex.Event, sessionID uuid.UUID, timestamp int64) error {
	payload := eventPayload{
		SessionID: sessionID.String(),
		Line:      flex.FormatLine(ev),
		Capcode:   ev.Capcode,
		Type:      ev.Type.Tag(),
		Cycle:     ev.Metadata.Cycle,
		Frame:     ev.Metadata.Frame,
		Timestamp: timestamp,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sink: failed to marshal event: %w", err)
	}

	if p.encoder != nil && len(data) >= p.cfg.CompressThresholdBytes {
		data = p.encoder.EncodeAll(data, nil)
	}

	token := p.client.Publish(p.cfg.TopicPrefix, p.cfg.QoS, p.cfg.Retain, data)
	token.Wait()
	return token.Error()
}

// Close disconnects the MQTT client, waiting up to 250ms to flush in
// flight publishes.
func (p *MQTTPublisher) Close() {
	if p.encoder != nil {
		p.encoder.Close()
	}
	p.client.Disconnect(250)
}
