package realtime

import (
	"encoding/json"
	"time"

	v1 "github.com/2witstudios/pagespace/contracts/realtime/v1"
)

// NewEnvelope wraps a payload in a versioned envelope with a fresh ULID id.
func NewEnvelope(typ string, payload json.RawMessage, ts time.Time) (v1.Envelope, error) {
	id, err := NewEnvelopeID(ts)
	if err != nil {
		return v1.Envelope{}, err
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Payload: payload,
	}, nil
}
