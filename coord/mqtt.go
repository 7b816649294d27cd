package coord

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jonboulle/clockwork"

	"github.com/Swind/go-progress-engine/core"
)

const (
	DefaultSyncTopic     = "progress/sync"
	DefaultBridgeTimeout = 5 * time.Second
)

// MQTTClient is the subset of mqtt.Client used by the bridge.
type MQTTClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// SyncMessage is the payload exchanged between nodes.
type SyncMessage struct {
	Node      string  `json:"node"`
	Source    string  `json:"source"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
}

// BridgeConfig configures an MQTTBridge.
type BridgeConfig struct {
	NodeID  string
	Topic   string
	QoS     byte
	Timeout time.Duration
	Clock   clockwork.Clock
	Logger  core.Logger
}

// MQTTBridge mirrors a Coordinator across processes. Values dispatched by
// local Sync calls are published; messages from other nodes are applied with
// SyncTo.
type MQTTBridge struct {
	client MQTTClient
	coord  *Coordinator
	cfg    BridgeConfig
	logger core.Logger

	mu          sync.Mutex
	unsubscribe func()
}

// NewMQTTBridge creates a bridge. It does nothing until Start.
func NewMQTTBridge(client MQTTClient, coord *Coordinator, cfg BridgeConfig) *MQTTBridge {
	if cfg.Topic == "" {
		cfg.Topic = DefaultSyncTopic
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultBridgeTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &MQTTBridge{
		client: client,
		coord:  coord,
		cfg:    cfg,
		logger: core.WithComponent(cfg.Logger, "mqtt_bridge"),
	}
}

// Start subscribes to the sync topic and begins publishing local dispatches.
func (b *MQTTBridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unsubscribe != nil {
		return core.NewStateError("MQTTBridge.Start", core.ErrAlreadyRunning)
	}

	token := b.client.Subscribe(b.cfg.Topic, b.cfg.QoS, b.handleMessage)
	if err := b.wait(token); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.cfg.Topic, err)
	}

	b.unsubscribe = b.coord.Subscribe(func(value float64, source string) {
		if err := b.Publish(value, source); err != nil {
			b.logger.Warn("publish failed", core.F("error", err))
		}
	})
	b.logger.Info("mqtt bridge started", core.F("topic", b.cfg.Topic), core.F("node", b.cfg.NodeID))
	return nil
}

// Stop unsubscribes from the topic and stops publishing.
func (b *MQTTBridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unsubscribe == nil {
		return nil
	}
	b.unsubscribe()
	b.unsubscribe = nil
	return b.wait(b.client.Unsubscribe(b.cfg.Topic))
}

// Publish sends value on the sync topic.
func (b *MQTTBridge) Publish(value float64, source string) error {
	payload, err := json.Marshal(SyncMessage{
		Node:      b.cfg.NodeID,
		Source:    source,
		Value:     value,
		Timestamp: b.cfg.Clock.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	return b.wait(b.client.Publish(b.cfg.Topic, b.cfg.QoS, false, payload))
}

func (b *MQTTBridge) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	b.apply(msg.Payload())
}

// apply decodes a remote message and propagates it. Messages from this node
// are skipped.
func (b *MQTTBridge) apply(payload []byte) bool {
	var msg SyncMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.logger.Warn("dropping malformed sync message", core.F("error", err))
		return false
	}
	if msg.Node == b.cfg.NodeID {
		return false
	}
	if math.IsNaN(msg.Value) || math.IsInf(msg.Value, 0) {
		return false
	}
	applied := b.coord.SyncTo(msg.Value, msg.Source)
	if !applied {
		b.logger.Debug("remote sync skipped", core.F("from", msg.Node), core.F("source", msg.Source))
	}
	return applied
}

func (b *MQTTBridge) wait(token mqtt.Token) error {
	if !token.WaitTimeout(b.cfg.Timeout) {
		return errors.New("mqtt operation timed out")
	}
	return token.Error()
}
