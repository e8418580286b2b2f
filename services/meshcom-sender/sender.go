package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Run pošle první datagram hned a další podle intervalu,
// dokud nedojde počet nebo se nezruší kontext.
func Run(ctx context.Context, o Options, logger *slog.Logger) (int, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", o.Address())
	if err != nil {
		return 0, fmt.Errorf("nelze otevřít UDP socket na %s: %w", o.Address(), err)
	}
	defer conn.Close()

	sent := 0
	send := func() error {
		payload, err := BuildPayload(o, sent+1)
		if err != nil {
			return err
		}
		if _, err := conn.Write(payload); err != nil {
			return fmt.Errorf("odeslání selhalo: %w", err)
		}
		sent++
		logger.Info("Datagram odeslán", "to", o.Address(), "seq", sent, "bytes", len(payload))
		logger.Debug("Obsah datagramu", "payload", string(payload))
		return nil
	}

	// Okamžité odeslání, nečekáme na první tik
	if err := send(); err != nil {
		return sent, err
	}
	if o.Interval == 0 {
		return sent, nil
	}

	ticker := time.NewTicker(o.Interval)
	defer ticker.Stop()
	for o.Count == 0 || sent < o.Count {
		select {
		case <-ctx.Done():
			return sent, nil
		case <-ticker.C:
			if err := send(); err != nil {
				return sent, err
			}
		}
	}
	return sent, nil
}
