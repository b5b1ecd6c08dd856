package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nozemi/rsmod/internal/config"
	"github.com/Nozemi/rsmod/internal/events"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Error() error                   { return nil }

func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	payload []byte
}

// fakeClient records publishes. Methods it does not override panic.
type fakeClient struct {
	mqtt.Client

	mu        sync.Mutex
	connected bool
	sent      []published
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, published{topic: topic, payload: payload.([]byte)})
	return doneToken{}
}

func (c *fakeClient) messages() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.sent...)
}

func testHandler(t *testing.T, connected bool) (*MQTTHandler, *fakeClient, *events.EventBus) {
	t.Helper()
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	cfg := config.DefaultConfig().GetApplicationData().MQTT
	h := newHandler(cfg, bus, map[string]interface{}{"hostname": "test-host"})
	client := &fakeClient{connected: connected}
	h.client = client
	return h, client, bus
}

func TestNewMQTTHandlerDisabled(t *testing.T) {
	_, err := NewMQTTHandler(config.DefaultConfig(), events.NewEventBus(), "dev")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestViolationPublished(t *testing.T) {
	h, client, bus := testHandler(t, true)
	h.subscribeEvents()

	bus.Emit(context.Background(), events.Event{
		Type:   events.EventProtocolViolation,
		Source: "session:abc",
		Payload: events.ViolationPayload{
			SessionID: "abc",
			Kind:      "unknown_opcode",
			Opcode:    255,
		},
	})

	require.Eventually(t, func() bool { return len(client.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	msg := client.messages()[0]
	assert.Equal(t, "rsmod/gateway/violation", msg.topic)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.payload, &body))
	assert.Equal(t, "test-host", body["hostname"])
	assert.NotEmpty(t, body["timestamp"])
	payload := body["payload"].(map[string]interface{})
	assert.Equal(t, "unknown_opcode", payload["kind"])
	assert.EqualValues(t, 255, payload["opcode"])
}

func TestConnectionEventsShareTopic(t *testing.T) {
	h, client, bus := testHandler(t, true)
	h.subscribeEvents()

	bus.EmitSync(context.Background(), events.Event{Type: events.EventConnectionOpened, Payload: events.ConnectionPayload{SessionID: "a"}})
	bus.EmitSync(context.Background(), events.Event{Type: events.EventConnectionClosed, Payload: events.ConnectionPayload{SessionID: "a", Reason: events.CloseReasonIdle}})

	msgs := client.messages()
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, "rsmod/gateway/connection", m.topic)
	}
	assert.Contains(t, string(msgs[1].payload), `"reason":"idle"`)
	assert.Contains(t, string(msgs[1].payload), `"event":"connection_closed"`)
}

func TestPublishDroppedWhileDisconnected(t *testing.T) {
	h, client, _ := testHandler(t, false)
	h.PublishStatus(Status{Device: "desktop", Connections: 3})
	h.PublishShutdown()
	assert.Empty(t, client.messages())
}

func TestTopicWithoutPrefix(t *testing.T) {
	h := newHandler(config.MQTTConfig{}, nil, nil)
	assert.Equal(t, TopicStatus, h.topic(TopicStatus))
}
