package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Názvy poolů (v metrikách a /status)
const (
	storePoolName  = "store"
	notifyPoolName = "notify"
)

// otherTypeLabel nahrazuje v metrikách typy, které konfigurace nezná.
const otherTypeLabel = "other"

// DispatcherDeps jsou závislosti dispatcheru. Store, Notifier a Publisher mohou být nil.
type DispatcherDeps struct {
	Config    Config
	Renderer  *Renderer
	Store     MessageStore
	Notifier  Notifier
	Publisher RecordPublisher
	Logger    *slog.Logger
	Metrics   *Metrics
}

// Dispatcher rozhoduje o každém záznamu: uložit? přeposlat?
// Obě cesty běží ve vlastních poolech, příjem na ně nečeká.
type Dispatcher struct {
	storeTypes   TypeSet
	metricTypes  TypeSet
	forwarding   bool
	rules        []ForwardRule
	chatID       string
	writeTimeout time.Duration

	renderer  *Renderer
	store     MessageStore
	notifier  Notifier
	publisher RecordPublisher
	logger    *slog.Logger
	metrics   *Metrics

	storePool  *Pool[StoredMessage]
	notifyPool *Pool[Notification]

	cancel context.CancelFunc
}

// NewDispatcher sestaví dispatcher. Zápis do DB má jediného workera (pořadí a žádné prokládání).
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		storeTypes:   cfg.StoreTypes(),
		metricTypes:  knownTypes(cfg),
		forwarding:   cfg.Forwarding.Enabled && deps.Notifier != nil && deps.Renderer != nil,
		rules:        cfg.Rules(),
		chatID:       cfg.Forwarding.Telegram.ChatID,
		writeTimeout: cfg.Database.WriteTimeout.Duration,
		renderer:     deps.Renderer,
		store:        deps.Store,
		notifier:     deps.Notifier,
		publisher:    deps.Publisher,
		logger:       logger.With("component", "dispatcher"),
		metrics:      deps.Metrics,
	}
	if d.writeTimeout <= 0 {
		d.writeTimeout = 5 * time.Second
	}

	if d.store != nil {
		d.storePool = NewPool(storePoolName, 1, cfg.Listener.StoreQueueSize, d.processStore, d.metrics)
	}
	if d.forwarding {
		d.notifyPool = NewPool(notifyPoolName, cfg.Forwarding.Workers, cfg.Forwarding.QueueSize, d.processNotify, d.metrics)
	}
	return d
}

// Start spustí pooly. Práce běží v kontextu odvozeném od ctx, Shutdown ho zruší až po grace periodě.
func (d *Dispatcher) Start(ctx context.Context) error {
	workCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if d.storePool != nil {
		if err := d.storePool.Start(workCtx); err != nil {
			cancel()
			return fmt.Errorf("start store pool: %w", err)
		}
	}
	if d.notifyPool != nil {
		if err := d.notifyPool.Start(workCtx); err != nil {
			cancel()
			return fmt.Errorf("start notify pool: %w", err)
		}
	}
	return nil
}

// Handle zpracuje jeden datagram. Nikdy neblokuje a nikdy nepanikaří kvůli obsahu paketu.
func (d *Dispatcher) Handle(pkt RawPacket) {
	from := ""
	if pkt.Addr != nil {
		from = pkt.Addr.String()
	}

	// 1. Dekódování
	rec, err := Decode(pkt.Data)
	if err != nil {
		d.logger.Warn("Paket odmítnut", "from", from, "error", err,
			"payload", truncateRunes(string(pkt.Data), rawPreviewLength))
		d.metrics.PacketDropped("decode")
		return
	}
	d.metrics.RecordDecoded(d.typeLabel(rec.Type()))
	d.logger.Debug("Přijat záznam", "from", from, "type", rec.Type(), "record", rec.CompactJSON())

	// 2. Sběrnice záznamů (MQTT), fire-and-forget
	if d.publisher != nil {
		d.publisher.PublishRecord(rec)
	}

	// 3. Ukládání (nezávislé na přeposílání)
	if d.storePool != nil && ShouldStore(rec, d.storeTypes) {
		if err := d.storePool.Submit(NewStoredMessage(rec, pkt.ReceivedAt)); err != nil {
			d.logger.Warn("Zápis do DB zahozen", "type", rec.Type(), "error", err)
		}
	}

	// 4. Přeposílání
	if d.forwarding && Matches(rec, d.rules) {
		n := Notification{
			Destination: d.chatID,
			Text:        d.renderer.Render(rec),
			RecordType:  rec.Type(),
		}
		if err := d.notifyPool.Submit(n); err != nil {
			d.logger.Warn("Notifikace zahozena", "type", rec.Type(), "error", err)
		}
	}
}

// typeLabel omezí label metriky na typy z konfigurace, typ z paketu je libovolný.
func (d *Dispatcher) typeLabel(t string) string {
	if d.metricTypes.Contains(t) {
		return t
	}
	return otherTypeLabel
}

// knownTypes sebere typy zmíněné v konfiguraci: store_types, klíče šablon, type z pravidel.
func knownTypes(cfg Config) TypeSet {
	set := NewTypeSet(cfg.Listener.StoreTypes)
	for name := range cfg.Forwarding.Telegram.Templates {
		if name != DefaultTemplate {
			set[name] = struct{}{}
		}
	}
	for _, rule := range cfg.Rules() {
		if t, ok := rule["type"]; ok && t != Wildcard {
			set[t] = struct{}{}
		}
	}
	return set
}

func (d *Dispatcher) processStore(ctx context.Context, msg StoredMessage) error {
	ctx, cancel := context.WithTimeout(ctx, d.writeTimeout)
	defer cancel()

	err := d.store.SaveMessage(ctx, msg)
	d.metrics.StoreResult(err)
	if err != nil {
		d.logger.Error("Chyba při ukládání zprávy", "type", msg.Type, "source", msg.Source, "error", err)
		return err
	}
	d.logger.Debug("Zpráva uložena", "type", msg.Type, "source", msg.Source)
	return nil
}

func (d *Dispatcher) processNotify(ctx context.Context, n Notification) error {
	if err := d.notifier.Notify(ctx, n); err != nil {
		d.logger.Error("Notifikace nedoručena, zahazuji", "type", n.RecordType, "error", err)
		return err
	}
	d.logger.Info("Notifikace odeslána", "type", n.RecordType)
	return nil
}

// Shutdown počká nejvýše grace na rozpracovanou práci a pak ji zruší.
func (d *Dispatcher) Shutdown(grace time.Duration) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	stop := func(name string, fn func(time.Duration) error) {
		defer wg.Done()
		if err := fn(grace); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("%s pool: %w", name, err))
			mu.Unlock()
		}
	}

	if d.storePool != nil {
		wg.Add(1)
		go stop(storePoolName, d.storePool.Stop)
	}
	if d.notifyPool != nil {
		wg.Add(1)
		go stop(notifyPoolName, d.notifyPool.Stop)
	}
	wg.Wait()

	// Co nestihlo doběhnout, se zahodí
	if d.cancel != nil {
		d.cancel()
	}
	return errors.Join(errs...)
}

// Stats vrací statistiky poolů pro /status.
func (d *Dispatcher) Stats() map[string]PoolStats {
	out := make(map[string]PoolStats, 2)
	if d.storePool != nil {
		out[storePoolName] = d.storePool.Stats()
	}
	if d.notifyPool != nil {
		out[notifyPoolName] = d.notifyPool.Stats()
	}
	return out
}
