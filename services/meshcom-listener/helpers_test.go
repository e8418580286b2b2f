package main

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedTime() time.Time {
	return time.Date(2025, 3, 14, 15, 9, 26, 0, time.FixedZone("CET", 3600))
}

func mustDecode(t *testing.T, payload string) Record {
	t.Helper()
	rec, err := Decode([]byte(payload))
	require.NoError(t, err)
	return rec
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
