package main

import (
	"encoding/json"
	"fmt"
)

// BuildPayload sestaví datagram ve tvaru, jaký posílá MeshCom uzel.
// seq se propíše do msg_id, aby šly opakované zprávy rozlišit.
func BuildPayload(o Options, seq int) ([]byte, error) {
	// Raw jde ven beze změny, i nevalidní (test chybové cesty listeneru)
	if o.Raw != "" {
		return []byte(o.Raw), nil
	}

	payload := map[string]any{
		"type":   o.Type,
		"src":    o.Src,
		"dst":    o.Dst,
		"msg_id": fmt.Sprintf("%08X", seq),
	}
	if o.Msg != "" {
		payload["msg"] = o.Msg
	}

	// --field alt=512 pošle číslo, --field name=Vienna string
	for key, value := range o.Fields {
		if _, reserved := payload[key]; reserved {
			return nil, fmt.Errorf("--field %q would overwrite a built-in key", key)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			payload[key] = decoded
		} else {
			payload[key] = value
		}
	}

	return json.Marshal(payload)
}
