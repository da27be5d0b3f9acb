package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
)

// SchemaVersion is the envelope layout written by Emit. Readers accept any
// version from 1 up to it.
const SchemaVersion = 1

var (
	ErrUnsupportedVersion = errors.New("unsupported envelope version")
	ErrMissingEventID     = errors.New("envelope event_id is required")
	ErrEmptyData          = errors.New("envelope data is empty")
)

// Actor is whoever caused the event. Jobs and gateway callbacks leave it nil.
type Actor struct {
	ID   uuid.UUID  `json:"id"`
	Role enums.Role `json:"role,omitempty"`
}

// Envelope wraps every payload stored in outbox_events and published as-is.
type Envelope struct {
	Version    int             `json:"schema_version"`
	EventID    string          `json:"event_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Actor      *Actor          `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// NewEnvelope encodes data under a fresh event id.
func NewEnvelope(occurredAt time.Time, actor *Actor, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode payload: %w", err)
	}
	return Envelope{
		Version:    SchemaVersion,
		EventID:    uuid.NewString(),
		OccurredAt: occurredAt.UTC(),
		Actor:      actor,
		Data:       raw,
	}, nil
}

// DecodeEnvelope parses a stored payload and rejects envelopes no reader could use.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	switch {
	case env.Version < 1 || env.Version > SchemaVersion:
		return Envelope{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	case env.EventID == "":
		return Envelope{}, ErrMissingEventID
	case len(bytes.TrimSpace(env.Data)) == 0 || bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")):
		return Envelope{}, ErrEmptyData
	}
	return env, nil
}
