package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu   sync.Mutex
	msgs []StoredMessage
	err  error
}

func (s *fakeStore) SaveMessage(_ context.Context, msg StoredMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return s.err
}

func (s *fakeStore) saved() []StoredMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StoredMessage(nil), s.msgs...)
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []Notification
	block chan struct{} // nil = neblokuje
}

func (n *fakeNotifier) Notify(ctx context.Context, note Notification) error {
	if n.block != nil {
		select {
		case <-n.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return nil
}

func (n *fakeNotifier) delivered() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.sent...)
}

type fakePublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *fakePublisher) PublishRecord(rec Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, rec.Type())
}

func testDispatcherConfig(t *testing.T, rules ...map[string]any) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Forwarding.Enabled = true
	cfg.Forwarding.Telegram.BotToken = "123:abc"
	cfg.Forwarding.Telegram.ChatID = "-10042"
	cfg.Forwarding.Rules = rules
	cfg.Forwarding.Telegram.Templates = map[string]string{
		DefaultTemplate: "{type}",
		"msg":           "`{msg}`",
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestDispatcher(t *testing.T, cfg Config, store MessageStore, notifier Notifier, pub RecordPublisher) *Dispatcher {
	t.Helper()
	renderer, err := NewRenderer(cfg.Forwarding.Telegram.Templates, discardLogger())
	require.NoError(t, err)
	d := NewDispatcher(DispatcherDeps{
		Config:    cfg,
		Renderer:  renderer,
		Store:     store,
		Notifier:  notifier,
		Publisher: pub,
		Logger:    discardLogger(),
	})
	require.NoError(t, d.Start(context.Background()))
	return d
}

func packet(payload string) RawPacket {
	return RawPacket{
		Data:       []byte(payload),
		Addr:       &net.UDPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 1799},
		ReceivedAt: fixedTime(),
	}
}

func TestDispatcher_StoreAndForwardDecisions(t *testing.T) {
	cfg := testDispatcherConfig(t,
		map[string]any{"type": "msg", "dst": "*"},
		map[string]any{"type": "pos"},
	)
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	pub := &fakePublisher{}
	d := newTestDispatcher(t, cfg, store, notifier, pub)

	d.Handle(packet(`{"type":"msg","src":"OE1ABC","dst":"232","msg":"Hello *world*"}`))
	d.Handle(packet(`{"type":"pos","src":"OE1ABC","lat":48.2,"long":16.3}`))
	d.Handle(packet(`{"type":"status","src":"OE1ABC"}`))
	d.Handle(packet(`not json at all`))
	d.Handle(packet(`{"src":"OE1ABC"}`))

	require.NoError(t, d.Shutdown(time.Second))

	// Ukládá se jen msg
	saved := store.saved()
	require.Len(t, saved, 1)
	assert.Equal(t, "msg", saved[0].Type)
	assert.Equal(t, "OE1ABC", saved[0].Source)
	assert.Equal(t, fixedTime().UTC(), saved[0].ReceivedAt)

	// Přeposílá se msg i pos (pos se neukládá)
	sent := notifier.delivered()
	require.Len(t, sent, 2)
	byType := map[string]Notification{}
	for _, n := range sent {
		byType[n.RecordType] = n
		assert.Equal(t, "-10042", n.Destination)
	}
	assert.Equal(t, "`Hello *world*`", byType["msg"].Text)
	assert.Equal(t, "pos", byType["pos"].Text)

	// Na sběrnici jdou všechny dekódované záznamy
	assert.Equal(t, []string{"msg", "pos", "status"}, pub.types)
}

func TestDispatcher_ForwardingDisabled(t *testing.T) {
	cfg := testDispatcherConfig(t, map[string]any{})
	cfg.Forwarding.Enabled = false
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	d := newTestDispatcher(t, cfg, store, notifier, nil)

	d.Handle(packet(`{"type":"msg","msg":"x"}`))
	require.NoError(t, d.Shutdown(time.Second))

	assert.Len(t, store.saved(), 1)
	assert.Empty(t, notifier.delivered())
	assert.NotContains(t, d.Stats(), notifyPoolName)
}

func TestDispatcher_SlowNotifierDoesNotBlockStorage(t *testing.T) {
	cfg := testDispatcherConfig(t, map[string]any{"type": "msg"})
	cfg.Forwarding.Workers = 1
	cfg.Forwarding.QueueSize = 2
	store := &fakeStore{}
	notifier := &fakeNotifier{block: make(chan struct{})}
	d := newTestDispatcher(t, cfg, store, notifier, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			d.Handle(packet(`{"type":"msg","msg":"x"}`))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Handle blocked on a stalled notifier")
	}

	assert.Eventually(t, func() bool { return len(store.saved()) == 20 }, 2*time.Second, 5*time.Millisecond)
	assert.Positive(t, d.Stats()[notifyPoolName].Dropped, "overflowing notifications are dropped")

	close(notifier.block)
	require.NoError(t, d.Shutdown(time.Second))
}

func TestDispatcher_ShutdownAbandonsStalledDeliveries(t *testing.T) {
	cfg := testDispatcherConfig(t, map[string]any{"type": "msg"})
	notifier := &fakeNotifier{block: make(chan struct{})}
	d := newTestDispatcher(t, cfg, &fakeStore{}, notifier, nil)

	d.Handle(packet(`{"type":"msg","msg":"x"}`))

	err := d.Shutdown(30 * time.Millisecond)
	assert.ErrorIs(t, err, ErrStopTimeout)
	assert.Empty(t, notifier.delivered())
}

func TestDispatcher_StorageErrorKeepsGoing(t *testing.T) {
	cfg := testDispatcherConfig(t)
	store := &fakeStore{err: errors.New("db down")}
	d := newTestDispatcher(t, cfg, store, nil, nil)

	d.Handle(packet(`{"type":"msg","msg":"1"}`))
	d.Handle(packet(`{"type":"msg","msg":"2"}`))
	require.NoError(t, d.Shutdown(time.Second))

	assert.Len(t, store.saved(), 2)
	assert.Equal(t, int64(2), d.Stats()[storePoolName].Failed)
}

func TestDispatcher_TypeLabelIsBounded(t *testing.T) {
	cfg := testDispatcherConfig(t, map[string]any{"type": "pos"})
	reg := prometheus.NewRegistry()
	d := NewDispatcher(DispatcherDeps{Config: cfg, Logger: discardLogger(), Metrics: NewMetrics(reg)})

	// Typ z paketu si volí odesílatel, série metrik musí zůstat omezené
	for i := 0; i < 500; i++ {
		d.Handle(packet(fmt.Sprintf(`{"type":"t%d"}`, i)))
	}
	d.Handle(packet(`{"type":"msg"}`))
	d.Handle(packet(`{"type":"pos"}`))

	families, err := reg.Gather()
	require.NoError(t, err)
	labels := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "meshcom_records_decoded_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "type" {
					labels[lp.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, map[string]float64{"msg": 1, "pos": 1, otherTypeLabel: 500}, labels)
}

func TestKnownTypes(t *testing.T) {
	cfg := testDispatcherConfig(t, map[string]any{"type": "status"}, map[string]any{"type": "*", "dst": "232"})
	cfg.Listener.StoreTypes = []string{"msg", "tele"}

	set := knownTypes(cfg)
	for _, typ := range []string{"msg", "tele", "status"} {
		assert.True(t, set.Contains(typ), typ)
	}
	assert.False(t, set.Contains(Wildcard))
	assert.False(t, set.Contains(DefaultTemplate))
}
