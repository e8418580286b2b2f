package main

import (
	"fmt"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MqttLogWriter implementuje rozhraní io.Writer.
// Vše, co se do něj zapíše, se odešle do MQTT (topic logs/<služba>).
//
// Zápis jen vloží řádek do bufferovaného kanálu, odesílá goroutina.
// Když broker nestíhá a kanál je plný, řádek se zahodí (stdout ho má tak jako tak).
type MqttLogWriter struct {
	client mqtt.Client
	topic  string
	queue  chan []byte

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewMqttLogWriter vytvoří writer a spustí odesílací goroutinu.
func NewMqttLogWriter(client mqtt.Client, serviceName string, bufferSize int) *MqttLogWriter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	w := &MqttLogWriter{
		client: client,
		topic:  fmt.Sprintf("logs/%s", serviceName),
		queue:  make(chan []byte, bufferSize),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

// Write je metoda vyžadovaná rozhraním io.Writer. Nikdy neblokuje.
func (w *MqttLogWriter) Write(p []byte) (n int, err error) {
	// Payload musíme zkopírovat, protože 'p' slog po návratu znovu použije.
	payload := make([]byte, len(p))
	copy(payload, p)

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return len(p), nil
	}
	select {
	case w.queue <- payload:
	default:
	}
	return len(p), nil
}

func (w *MqttLogWriter) run() {
	defer close(w.done)
	for payload := range w.queue {
		// Token.Wait() NEVOLÁME (fire-and-forget, QoS 0)
		w.client.Publish(w.topic, 0, false, payload)
	}
}

// Close dopošle zbytek fronty. Další zápisy jdou už jen do prázdna.
func (w *MqttLogWriter) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()
	<-w.done
}

// RecordPublisher posílá dekódované záznamy dál (pro dashboard, message-api stream).
type RecordPublisher interface {
	PublishRecord(rec Record)
}

// MqttRecordPublisher publikuje každý záznam na <prefix>/<type> jako kompaktní JSON.
type MqttRecordPublisher struct {
	client mqtt.Client
	prefix string
}

func NewMqttRecordPublisher(client mqtt.Client, prefix string) *MqttRecordPublisher {
	return &MqttRecordPublisher{client: client, prefix: strings.TrimRight(prefix, "/")}
}

func (p *MqttRecordPublisher) PublishRecord(rec Record) {
	p.client.Publish(p.prefix+"/"+topicSegment(rec.Type()), 0, false, rec.CompactJSON())
}

// topicSegment nahradí znaky, které v MQTT topicu mají zvláštní význam.
func topicSegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', 0:
			return '_'
		}
		return r
	}, s)
}
