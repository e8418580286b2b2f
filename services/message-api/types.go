package main

import (
	"encoding/json"
	"time"
)

// MessageDTO je jeden uložený záznam, tak jak ho vrací /api/messages.
type MessageDTO struct {
	ID         int64     `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
	Type       string    `json:"type"`

	// Nepovinné sloupce jsou v DB NULL, v JSONu je vynecháme
	Source      string `json:"source,omitempty"`
	Destination string `json:"destination,omitempty"`
	MsgID       string `json:"msg_id,omitempty"`

	// Raw: původní JSON datagramu. Vracíme jako objekt, ne jako string.
	Raw json.RawMessage `json:"raw"`
}

// NodeDTO popisuje stanici, kterou listener naposledy slyšel.
type NodeDTO struct {
	Source      string    `json:"source"`
	LastHeard   time.Time `json:"last_heard"`
	Type        string    `json:"type,omitempty"`
	Destination string    `json:"destination,omitempty"`
}

// MessageQuery jsou filtry z query stringu /api/messages. Prázdný filtr = bez omezení.
type MessageQuery struct {
	Type   string
	Source string
	Limit  int
}

// StreamEvent je jedna zpráva odeslaná klientům /api/stream.
type StreamEvent struct {
	Type   string          `json:"type"`
	Topic  string          `json:"topic"`
	Record json.RawMessage `json:"record"`
}
