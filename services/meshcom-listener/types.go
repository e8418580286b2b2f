package main

import (
	"bytes"
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"time"
)

// RawPacket je jeden přijatý UDP datagram tak, jak přišel ze socketu.
// Vlastní ho pouze Decoder, po dekódování se zahazuje.
type RawPacket struct {
	Data       []byte
	Addr       *net.UDPAddr
	ReceivedAt time.Time
}

// Record je dekódovaná MeshCom zpráva.
// Pole jsou uložena v pořadí, v jakém přišla v JSONu. Po vytvoření se už nemění.
//
// Hodnoty jsou string, json.Number, bool, nil nebo vnořené struktury (map/slice).
// Přístup k nim jde vždy přes Get/Lookup, které nikdy nepanikaří.
type Record struct {
	keys   []string
	fields map[string]any
	raw    string
}

// Type vrací povinné pole "type". Decoder zaručuje, že je neprázdné.
func (r Record) Type() string {
	return r.Get("type")
}

// Raw vrací původní (nedekódovaný) text payloadu.
func (r Record) Raw() string {
	return r.raw
}

// Keys vrací názvy polí v pořadí z payloadu.
func (r Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Lookup vrací textovou podobu pole a příznak, zda je přítomné.
// JSON null se bere jako chybějící hodnota.
func (r Record) Lookup(key string) (string, bool) {
	v, ok := r.fields[key]
	if !ok || v == nil {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		// Vnořený objekt nebo pole -> kompaktní JSON
		return string(marshalCompact(val)), true
	}
}

// Get vrací textovou hodnotu pole nebo prázdný string, pokud chybí.
func (r Record) Get(key string) string {
	s, _ := r.Lookup(key)
	return s
}

// Float parsuje pole jako číslo. Funguje pro JSON čísla i čísla poslaná jako text.
func (r Record) Float(key string) (float64, bool) {
	s, ok := r.Lookup(key)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Source vrací první hop z pole "src" (MeshCom posílá cestu "OE1ABC-1,OE3XYZ-2").
func (r Record) Source() string {
	src := r.Get("src")
	if i := strings.IndexByte(src, ','); i >= 0 {
		src = src[:i]
	}
	return strings.TrimSpace(src)
}

// CompactJSON serializuje záznam zpět do JSONu bez mezer a se zachovaným pořadím polí.
func (r Record) CompactJSON() string {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(marshalCompact(k))
		buf.WriteByte(':')
		buf.Write(marshalCompact(r.fields[k]))
	}
	buf.WriteByte('}')
	return buf.String()
}

// marshalCompact serializuje hodnotu bez HTML escapování a bez koncového '\n'.
func marshalCompact(v any) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return []byte("null")
	}
	return bytes.TrimRight(buf.Bytes(), "\n")
}

// StoredMessage je řádek, který posíláme do úložiště (append-only).
type StoredMessage struct {
	ReceivedAt  time.Time
	Type        string
	Source      string
	Destination string
	MsgID       string
	Raw         string
}

// NewStoredMessage sestaví řádek pro úložiště ze záznamu a času příjmu.
func NewStoredMessage(rec Record, receivedAt time.Time) StoredMessage {
	return StoredMessage{
		ReceivedAt:  receivedAt.UTC(),
		Type:        rec.Type(),
		Source:      rec.Source(),
		Destination: rec.Get("dst"),
		MsgID:       rec.Get("msg_id"),
		Raw:         rec.Raw(),
	}
}

// Notification je vyrenderovaná zpráva čekající na doručení.
type Notification struct {
	Destination string
	Text        string
	RecordType  string
}
