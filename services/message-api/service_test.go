package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNodeFromHash(t *testing.T) {
	score := float64(time.Date(2025, 3, 14, 14, 0, 0, 0, time.UTC).Unix())

	node := nodeFromHash("OE1ABC", score, map[string]string{
		"type":        "msg",
		"destination": "232",
		"received_at": "2025-03-14T15:09:26+01:00",
	})
	assert.Equal(t, NodeDTO{
		Source:      "OE1ABC",
		LastHeard:   time.Date(2025, 3, 14, 14, 9, 26, 0, time.UTC),
		Type:        "msg",
		Destination: "232",
	}, node)

	// Hash vypršel, zůstane čas z indexu
	expired := nodeFromHash("OE3XYZ", score, map[string]string{})
	assert.Equal(t, "OE3XYZ", expired.Source)
	assert.Equal(t, time.Date(2025, 3, 14, 14, 0, 0, 0, time.UTC), expired.LastHeard)
	assert.Empty(t, expired.Type)
}

func TestRawJSON(t *testing.T) {
	assert.Equal(t, `{"type":"msg"}`, string(rawJSON(`{"type":"msg"}`)))
	assert.Equal(t, `"{broken"`, string(rawJSON(`{broken`)))
}
