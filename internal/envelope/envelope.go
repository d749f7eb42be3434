// SPDX-License-Identifier: AGPL-3.0-or-later

// Package envelope implements the metadata wrapper every message on the bus
// is carried in: a fixed header (type, sender, target, correlation id,
// timestamp, schema version) around a self-describing payload tree.
package envelope

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the immutable on-wire metadata record described by the wire
// format in the external interfaces section: every message the bus carries
// is one of these, with Payload holding the type-specific tree.
type Envelope struct {
	Type          string
	SenderID      string
	TargetID      *string
	CorrelationID string
	Timestamp     int64
	Version       int
	Payload       json.RawMessage
}

// PayloadVersion is the current schema version stamped on newly constructed
// envelopes. It is independent of any legacy serialVersionUID a payload
// struct might carry; that field, if present, MUST NOT influence decoding.
const PayloadVersion = 1

// New builds an envelope for a broadcast (targetID nil) or directed message,
// marshaling payload into the wire tree and generating a fresh correlation
// id. Use WithCorrelationID to thread a response to a prior request instead.
func New(typ, senderID string, targetID *string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type:          typ,
		SenderID:      senderID,
		TargetID:      targetID,
		CorrelationID: uuid.NewString(),
		Timestamp:     time.Now().UnixMilli(),
		Version:       PayloadVersion,
		Payload:       raw,
	}, nil
}

// WithCorrelationID sets the correlation id on an envelope built with New,
// used by response envelopes to echo the request's correlation id.
func (e *Envelope) WithCorrelationID(id string) *Envelope {
	e.CorrelationID = id
	return e
}

// Broadcast reports whether this envelope has no single addressed target.
func (e *Envelope) Broadcast() bool {
	return e.TargetID == nil
}

// Target returns the target id and whether one is set.
func (e *Envelope) Target() (string, bool) {
	if e.TargetID == nil {
		return "", false
	}
	return *e.TargetID, true
}
