package coord

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jonboulle/clockwork"

	"github.com/Swind/go-progress-engine/core"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	payload []byte
}

type fakeMQTT struct {
	mu           sync.Mutex
	published    []published
	handler      mqtt.MessageHandler
	subscribeErr error
	unsubscribed bool
}

func (f *fakeMQTT) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic: topic, payload: payload.([]byte)})
	return &fakeToken{}
}

func (f *fakeMQTT) Subscribe(_ string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = cb
	return &fakeToken{err: f.subscribeErr}
}

func (f *fakeMQTT) Unsubscribe(...string) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = true
	return &fakeToken{}
}

func (f *fakeMQTT) Published() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

func TestMQTTBridge_PublishesLocalSync(t *testing.T) {
	client := &fakeMQTT{}
	c := NewCoordinator(Config{})
	c.Register("a", newFake(25))
	c.Register("b", newFake(0))

	clk := clockwork.NewFakeClockAt(time.UnixMilli(5000))
	bridge := NewMQTTBridge(client, c, BridgeConfig{NodeID: "node-1", Clock: clk})
	if err := bridge.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := bridge.Start(); !errors.Is(err, core.ErrAlreadyRunning) {
		t.Fatalf("second start err = %v", err)
	}

	c.Sync("a")

	msgs := client.Published()
	if len(msgs) != 1 || msgs[0].topic != DefaultSyncTopic {
		t.Fatalf("published = %+v", msgs)
	}
	var got SyncMessage
	if err := json.Unmarshal(msgs[0].payload, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := SyncMessage{Node: "node-1", Source: "a", Value: 25, Timestamp: 5000}
	if got != want {
		t.Fatalf("message = %+v, want %+v", got, want)
	}

	if err := bridge.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	c.Sync("a")
	if len(client.Published()) != 1 || !client.unsubscribed {
		t.Fatal("stop should end publishing and unsubscribe")
	}
}

func TestMQTTBridge_AppliesRemoteUpdates(t *testing.T) {
	client := &fakeMQTT{}
	c := NewCoordinator(Config{})
	a, b := newFake(0), newFake(0)
	c.Register("a", a)
	c.Register("b", b)

	bridge := NewMQTTBridge(client, c, BridgeConfig{NodeID: "node-1"})
	if err := bridge.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	remote, _ := json.Marshal(SyncMessage{Node: "node-2", Source: "a", Value: 60})
	if !bridge.apply(remote) {
		t.Fatal("remote update should apply")
	}
	if b.Value() != 60 || a.Calls() != 0 {
		t.Fatalf("a calls=%d b=%v", a.Calls(), b.Value())
	}
	if len(client.Published()) != 0 {
		t.Fatal("remote updates must not be echoed")
	}

	own, _ := json.Marshal(SyncMessage{Node: "node-1", Source: "a", Value: 10})
	if bridge.apply(own) {
		t.Fatal("own messages should be skipped")
	}
	if bridge.apply([]byte("{garbage")) {
		t.Fatal("malformed payload should be dropped")
	}
}

func TestMQTTBridge_SubscribeError(t *testing.T) {
	client := &fakeMQTT{subscribeErr: errors.New("not authorized")}
	bridge := NewMQTTBridge(client, NewCoordinator(Config{}), BridgeConfig{NodeID: "n"})
	if err := bridge.Start(); err == nil {
		t.Fatal("subscribe failure should be returned")
	}
}
