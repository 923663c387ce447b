package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTT topics. The + segment in the level topic is the device id, so a
// sensor publishing to smartbin/pi-3/level is attributed to pi-3.
const (
	TopicLevel = "smartbin/+/level"
	TopicBegin = "smartbin/begin"
)

// MQTTBridgeConfig configures the optional broker connection.
type MQTTBridgeConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// MQTTBridge subscribes to the device topics and feeds messages through the
// same ingestion service as the HTTP API, so persistence and alerting are
// identical regardless of transport.
type MQTTBridge struct {
	client mqtt.Client
	svc    *Service
}

type levelMessage struct {
	Class string   `json:"class"`
	Level *float64 `json:"level"`
}

// NewMQTTBridge connects to the broker and subscribes. Call Close on
// shutdown.
func NewMQTTBridge(cfg MQTTBridgeConfig, svc *Service) (*MQTTBridge, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("[mqtt] connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker: %w", token.Error())
	}

	b := &MQTTBridge{client: client, svc: svc}
	if err := b.subscribe(TopicLevel, b.handleLevel); err != nil {
		return nil, err
	}
	if err := b.subscribe(TopicBegin, b.handleBegin); err != nil {
		return nil, err
	}
	log.Printf("[mqtt] connected to %s, listening on %s and %s", cfg.Broker, TopicLevel, TopicBegin)
	return b, nil
}

func (b *MQTTBridge) subscribe(topic string, handler mqtt.MessageHandler) error {
	token := b.client.Subscribe(topic, 1, handler)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	return nil
}

func (b *MQTTBridge) handleLevel(_ mqtt.Client, msg mqtt.Message) {
	var m levelMessage
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		log.Printf("[mqtt] bad level payload on %s: %v", msg.Topic(), err)
		return
	}
	if m.Level == nil {
		log.Printf("[mqtt] level missing on %s", msg.Topic())
		return
	}
	deviceID := deviceIDFromTopic(msg.Topic())
	if err := b.svc.SubmitLevel(context.Background(), m.Class, *m.Level, deviceID); err != nil {
		log.Printf("[mqtt] level from %s rejected: %v", deviceID, err)
	}
}

func (b *MQTTBridge) handleBegin(_ mqtt.Client, _ mqtt.Message) {
	begin := b.svc.Begin()
	log.Printf("[mqtt] processing cycle started at %d", begin)
}

func (b *MQTTBridge) Close() {
	b.client.Disconnect(250)
}

// deviceIDFromTopic extracts the middle segment of smartbin/{device}/level.
func deviceIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}
