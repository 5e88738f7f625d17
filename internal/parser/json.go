package parser

import (
	"encoding/json"

	"ShapeBot/internal/model"
)

// EncodeEvent encodes an InboundEvent as a JSON record.
func EncodeEvent(ev model.InboundEvent) ([]byte, error) {
	return json.Marshal(ev)
}

// DecodeEvent decodes a JSON record produced by EncodeEvent.
func DecodeEvent(b []byte) (model.InboundEvent, error) {
	var ev model.InboundEvent
	err := json.Unmarshal(b, &ev)
	return ev, err
}
