// Package telemetry publishes bridge activity over MQTT: chat session
// lifecycle, match transitions and account-linking activity.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/valobridge-project/valobridge/internal/config"
	"github.com/valobridge-project/valobridge/internal/events"
	"github.com/valobridge-project/valobridge/internal/util"
)

// MQTT topic prefixes
const (
	TopicBridgeAdmin   = "bridge/admin"
	TopicBridgeSession = "bridge/session"
	TopicBridgeMatch   = "bridge/match"
	TopicBridgeLinks   = "bridge/links"
)

// MQTTHandler manages the MQTT connection and publishes telemetry events.
type MQTTHandler struct {
	mu sync.Mutex

	cfg      *config.Config
	eventBus *events.Bus
	client   mqtt.Client

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg *config.Config, eventBus *events.Bus) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplicationData().MQTT

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	metadata := map[string]interface{}{
		"hostname":    sysInfo.Hostname,
		"platform":    sysInfo.OS,
		"cpu_model":   sysInfo.CPUModel,
		"cpu_cores":   sysInfo.CPUCores,
		"memory_mb":   sysInfo.TotalMemory,
		"app_version": "1.0.0",
	}

	handler := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		metadata: metadata,
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
		opts.SetClientID(fmt.Sprintf("valobridge-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if mqttCfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		if mqttCfg.CAFile != "" {
			caCert, err := os.ReadFile(mqttCfg.CAFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caCert) {
				return nil, fmt.Errorf("MQTT CA file %s contains no valid certificates", mqttCfg.CAFile)
			}
			tlsConfig.RootCAs = pool
		}

		// mTLS: load client certificate
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

// Start connects to the MQTT broker and subscribes to events.
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

	// Block until context cancelled
	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")

	return nil
}

// subscribeEvents registers event handlers for MQTT publishing.
func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventSessionConnected, "mqtt.sessionConnected", h.onSessionConnected)
	h.eventBus.Subscribe(events.EventSessionLost, "mqtt.sessionLost", h.onSessionLost)
	h.eventBus.Subscribe(events.EventMatchCreated, "mqtt.matchCreated", h.onMatchCreated)
	h.eventBus.Subscribe(events.EventMatchUpdated, "mqtt.matchUpdated", h.onMatchUpdated)
	h.eventBus.Subscribe(events.EventMatchEnded, "mqtt.matchEnded", h.onMatchEnded)
	h.eventBus.Subscribe(events.EventFriendRequest, "mqtt.friendRequest", h.onFriendRequest)
	h.eventBus.Subscribe(events.EventLinkRedeemed, "mqtt.linkRedeemed", h.onLinkRedeemed)
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	msg := h.buildMessage(payload)

	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{})

	for k, v := range h.metadata {
		msg[k] = v
	}

	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return msg
}

// Event handlers

func (h *MQTTHandler) onSessionConnected(ctx context.Context, event events.Event) error {
	h.publish(TopicBridgeSession, map[string]interface{}{
		"event":   "session_connected",
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onSessionLost(ctx context.Context, event events.Event) error {
	h.publish(TopicBridgeSession, map[string]interface{}{
		"event":   "session_lost",
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onMatchCreated(ctx context.Context, event events.Event) error {
	h.publish(TopicBridgeMatch, map[string]interface{}{
		"event":   "match_created",
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onMatchUpdated(ctx context.Context, event events.Event) error {
	h.publish(TopicBridgeMatch, map[string]interface{}{
		"event":   "match_updated",
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onMatchEnded(ctx context.Context, event events.Event) error {
	h.publish(TopicBridgeMatch, map[string]interface{}{
		"event":   "match_ended",
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onFriendRequest(ctx context.Context, event events.Event) error {
	h.publish(TopicBridgeLinks, map[string]interface{}{
		"event":   "friend_request",
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onLinkRedeemed(ctx context.Context, event events.Event) error {
	h.publish(TopicBridgeLinks, map[string]interface{}{
		"event":   "link_redeemed",
		"payload": event.Payload,
	})
	return nil
}

// PublishShutdown sends a shutdown message to the MQTT broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicBridgeAdmin, map[string]interface{}{
		"event":     "shutdown",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
