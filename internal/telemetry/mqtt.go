// Package telemetry publishes bridge events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/viabridge-project/viabridge/internal/config"
	"github.com/viabridge-project/viabridge/internal/events"
	"github.com/viabridge-project/viabridge/internal/util"
)

// MQTT topics
const (
	TopicProxy     = "viabridge/proxy"
	TopicAuth      = "viabridge/auth"
	TopicArtifacts = "viabridge/artifacts"
	TopicStatus    = "viabridge/status"
)

// routes maps each published event type to its topic. Proxy log lines are
// only published at warn and error level.
var routes = map[events.EventType]string{
	events.EventProxyStarted:       TopicProxy,
	events.EventProxyReady:         TopicProxy,
	events.EventProxyLog:           TopicProxy,
	events.EventProxyExited:        TopicProxy,
	events.EventArtifactDownloaded: TopicArtifacts,
	events.EventJoinResult:         TopicAuth,
	events.EventSessionLoggedIn:    TopicAuth,
	events.EventSessionClosed:      TopicAuth,
	events.EventHealthReport:       TopicStatus,
}

// TopicFor returns the topic an event is published on, and false for events
// that are not published.
func TopicFor(e events.Event) (string, bool) {
	topic, ok := routes[e.Type]
	if !ok {
		return "", false
	}
	if p, isLog := e.Payload.(events.ProxyLogPayload); isLog && p.Level == events.LogLevelInfo {
		return "", false
	}
	return topic, true
}

// MQTTHandler manages the MQTT connection and publishes bridge events.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.Bus
	client   mqtt.Client

	// Metadata included in every message
	metadata map[string]any
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg config.MQTTConfig, eventBus *events.Bus, version string) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	handler := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		metadata: map[string]any{
			"hostname":    sysInfo.Hostname,
			"platform":    sysInfo.Platform,
			"app_version": version,
		},
	}

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("viabridge-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if cfg.UseTLS {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Str("component", "telemetry").Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Str("component", "telemetry").Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)
	return handler, nil
}

func buildTLSConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// Start connects to the broker, publishes events until ctx is cancelled,
// then disconnects.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("component", "telemetry").
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	for eventType := range routes {
		h.eventBus.Subscribe(eventType, "mqtt."+string(eventType), h.onEvent)
	}

	<-ctx.Done()

	for eventType := range routes {
		h.eventBus.Unsubscribe(eventType, "mqtt."+string(eventType))
	}
	h.publish(TopicStatus, map[string]any{"event": "shutdown"})
	h.client.Disconnect(5000)
	log.Info().Str("component", "telemetry").Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) onEvent(ctx context.Context, e events.Event) error {
	topic, ok := TopicFor(e)
	if !ok {
		return nil
	}
	h.publish(topic, map[string]any{
		"event":   string(e.Type),
		"source":  e.Source,
		"payload": e.Payload,
	})
	return nil
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, payload any) {
	if !h.client.IsConnected() {
		return
	}

	data, err := BuildMessage(h.metadata, payload, time.Now())
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// BuildMessage merges metadata with the payload and a UTC timestamp.
func BuildMessage(metadata map[string]any, payload any, now time.Time) ([]byte, error) {
	msg := make(map[string]any, len(metadata)+2)
	for k, v := range metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = now.UTC().Format(time.RFC3339)
	return json.Marshal(msg)
}
