package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMQTTMessage struct {
	topic   string
	payload []byte
}

func (m fakeMQTTMessage) Duplicate() bool   { return false }
func (m fakeMQTTMessage) Qos() byte         { return 0 }
func (m fakeMQTTMessage) Retained() bool    { return false }
func (m fakeMQTTMessage) Topic() string     { return m.topic }
func (m fakeMQTTMessage) MessageID() uint16 { return 0 }
func (m fakeMQTTMessage) Payload() []byte   { return m.payload }
func (m fakeMQTTMessage) Ack()              {}

func TestHub_BroadcastToAll(t *testing.T) {
	hub := NewHub(discardLogger())
	a, unsubA := hub.Subscribe()
	b, unsubB := hub.Subscribe()
	defer unsubA()
	defer unsubB()

	hub.Broadcast(StreamEvent{Type: "msg"})
	assert.Equal(t, "msg", (<-a).Type)
	assert.Equal(t, "msg", (<-b).Type)
}

func TestHub_SlowConsumerDrops(t *testing.T) {
	hub := NewHub(discardLogger())
	_, unsub := hub.Subscribe()
	defer unsub()

	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Broadcast(StreamEvent{Type: "msg"})
	}
	assert.Equal(t, int64(5), hub.Dropped())
}

func TestHub_UnsubscribeAndClose(t *testing.T) {
	hub := NewHub(discardLogger())
	ch, unsub := hub.Subscribe()
	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Subscribers())

	other, unsubOther := hub.Subscribe()
	hub.Close()
	_, ok = <-other
	assert.False(t, ok)
	unsubOther()
	hub.Close()

	late, _ := hub.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribe after close gets a closed channel")
}

func TestHub_HandleMQTT(t *testing.T) {
	hub := NewHub(discardLogger())
	ch, unsub := hub.Subscribe()
	defer unsub()

	payload := []byte(`{"type":"pos","lat":48.2}`)
	hub.HandleMQTT(nil, fakeMQTTMessage{topic: "meshcom/records/pos", payload: payload})
	hub.HandleMQTT(nil, fakeMQTTMessage{topic: "meshcom/records/msg", payload: []byte("not json")})

	ev := <-ch
	assert.Equal(t, "pos", ev.Type)
	assert.Equal(t, "meshcom/records/pos", ev.Topic)
	assert.JSONEq(t, string(payload), string(ev.Record))

	// Kopie, ne sdílený buffer
	payload[2] = 'X'
	assert.Contains(t, string(ev.Record), `"type"`)

	require.Len(t, ch, 0, "invalid payload is not broadcast")
}
