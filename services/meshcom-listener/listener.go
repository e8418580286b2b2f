package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

const (
	// Jak často se smyčka probudí a zkontroluje ctx.
	readPollInterval = 250 * time.Millisecond
	// Pauza po chybě čtení, trvalá chyba socketu jinak točí smyčku naprázdno.
	readErrorBackoff = time.Second
)

// PacketHandler zpracuje jeden přijatý datagram. Nesmí blokovat.
type PacketHandler interface {
	Handle(pkt RawPacket)
}

// Listener čte datagramy z UDP socketu a předává je handleru.
type Listener struct {
	host       string
	port       int
	bufferSize int
	errBackoff time.Duration
	handler    PacketHandler
	logger     *slog.Logger
	metrics    *Metrics

	mu   sync.Mutex
	conn *net.UDPConn
}

// NewListener vytvoří listener. Socket se otevře až v Bind().
func NewListener(cfg ListenerConfig, handler PacketHandler, logger *slog.Logger, metrics *Metrics) *Listener {
	return &Listener{
		host:       cfg.Host,
		port:       cfg.Port,
		bufferSize: cfg.BufferSize,
		errBackoff: readErrorBackoff,
		handler:    handler,
		logger:     logger.With("component", "udp-listener"),
		metrics:    metrics,
	}
}

// Bind otevře UDP socket.
func (l *Listener) Bind() error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(l.host, fmt.Sprint(l.port)))
	if err != nil {
		return fmt.Errorf("resolve UDP address %s:%d: %w", l.host, l.port, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen on UDP %s:%d: %w", l.host, l.port, err)
	}

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()

	l.logger.Info("UDP listener naslouchá", "addr", conn.LocalAddr().String(), "buffer_size", l.bufferSize)
	return nil
}

// LocalAddr vrací skutečnou adresu socketu (užitečné s portem 0).
func (l *Listener) LocalAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Serve blokuje, dokud není zrušen ctx. Chyba jednoho paketu smyčku nikdy neukončí.
func (l *Listener) Serve(ctx context.Context) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return errors.New("listener is not bound")
	}

	// O bajt větší buffer: když se zaplní celý, paket byl větší než limit
	buf := make([]byte, l.bufferSize+1)

	for {
		if ctx.Err() != nil {
			return nil
		}

		_ = conn.SetReadDeadline(time.Now().Add(readPollInterval))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			l.logger.Warn("Chyba čtení ze socketu", "error", err, "backoff", l.errBackoff)
			l.metrics.PacketDropped("read_error")
			if !sleepCtx(ctx, l.errBackoff) {
				return nil
			}
			continue
		}

		l.metrics.PacketReceived(n)

		if n > l.bufferSize {
			l.logger.Warn("Paket přesahuje buffer, zahazuji", "from", addr.String(), "limit", l.bufferSize)
			l.metrics.PacketDropped("oversize")
			continue
		}

		// Kopie dat, buffer se v další iteraci přepíše
		data := make([]byte, n)
		copy(data, buf[:n])

		l.handler.Handle(RawPacket{Data: data, Addr: addr, ReceivedAt: time.Now()})
	}
}

// Close zavře socket. Bezpečné volat opakovaně.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}

// sleepCtx počká d, nebo vrátí false, když se ctx zruší dřív.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
