// Package telemetry publishes lobby lifecycle events and counter
// snapshots to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/outpost-project/rendezvous/internal/config"
	"github.com/outpost-project/rendezvous/internal/events"
	"github.com/outpost-project/rendezvous/internal/util"
)

// MQTT topics.
const (
	TopicGames    = "lobby/games"
	TopicCounters = "lobby/counters"
	TopicAdmin    = "lobby/admin"
)

// MQTTHandler manages the broker connection and forwards bus events.
type MQTTHandler struct {
	cfg    *config.Config
	bus    *events.Bus
	client mqtt.Client

	// Metadata included in every message
	metadata map[string]any
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg *config.Config, bus *events.Bus) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplicationData().MQTT
	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	handler := &MQTTHandler{
		cfg: cfg,
		bus: bus,
		metadata: map[string]any{
			"hostname":    sysInfo.Hostname,
			"server_name": cfg.GetServerData().Name,
		},
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("rendezvous-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)

	if mqttCfg.UseTLS {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)

	return handler, nil
}

// Start connects to the broker and subscribes to bus events, blocking
// until the context is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	mqttCfg := h.cfg.GetApplicationData().MQTT
	log.Info().
		Str("broker", mqttCfg.BrokerURL).
		Int("port", mqttCfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")

	return nil
}

// subscribeEvents registers bus handlers for MQTT publishing.
func (h *MQTTHandler) subscribeEvents() {
	game := func(ctx context.Context, event events.Event) error {
		h.publish(TopicGames, map[string]any{
			"event":   string(event.Type),
			"payload": event.Payload,
		})
		return nil
	}

	h.bus.Subscribe(events.EventGameHosted, "mqtt.gameHosted", game)
	h.bus.Subscribe(events.EventGameUpdated, "mqtt.gameUpdated", game)
	h.bus.Subscribe(events.EventGameStarted, "mqtt.gameStarted", game)
	h.bus.Subscribe(events.EventGameCancelled, "mqtt.gameCancelled", game)
	h.bus.Subscribe(events.EventGameDropped, "mqtt.gameDropped", game)

	h.bus.Subscribe(events.EventCountersTick, "mqtt.countersTick", func(ctx context.Context, event events.Event) error {
		h.publish(TopicCounters, event.Payload)
		return nil
	})
}

// publish sends a JSON message to an MQTT topic with QoS 1.
func (h *MQTTHandler) publish(topic string, payload any) {
	if !h.client.IsConnected() {
		return
	}

	msg := make(map[string]any, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(msg)
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

// PublishShutdown sends a shutdown notice to the broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicAdmin, map[string]any{
		"event": "shutdown",
	})
}
