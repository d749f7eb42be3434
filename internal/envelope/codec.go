// SPDX-License-Identifier: AGPL-3.0-or-later

package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// DecodeError reports that a byte sequence could not be parsed as a valid
// envelope. Callers drop the message, increment a counter, and log the
// offending type name where one could be recovered.
type DecodeError struct {
	Type   string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("envelope: decode failed for type %q: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("envelope: decode failed: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// wireEnvelope mirrors the fixed wire shape from the external interfaces
// section. Its field set is closed: unknown envelope-level fields are a
// decode error, unlike payload fields which are preserved verbatim.
type wireEnvelope struct {
	Type          string          `json:"type"`
	SenderID      string          `json:"senderId"`
	TargetID      *string         `json:"targetId"`
	CorrelationID string          `json:"correlationId"`
	Timestamp     int64           `json:"timestamp"`
	Version       int             `json:"version"`
	Payload       json.RawMessage `json:"payload"`
}

// Encode renders an envelope as its wire bytes. Encode is total: it never
// fails for a well-formed Envelope value since Payload is already a raw
// JSON tree by construction (see New and DecodePayload).
func Encode(env *Envelope) ([]byte, error) {
	w := wireEnvelope{
		Type:          env.Type,
		SenderID:      env.SenderID,
		TargetID:      env.TargetID,
		CorrelationID: env.CorrelationID,
		Timestamp:     env.Timestamp,
		Version:       env.Version,
		Payload:       env.Payload,
	}
	if w.Payload == nil {
		w.Payload = json.RawMessage("null")
	}
	return json.Marshal(w)
}

// Decode parses wire bytes into an Envelope. Unknown top-level fields are
// rejected; unknown fields inside Payload are preserved untouched since
// Payload stays a raw tree until a consumer calls DecodePayload.
func Decode(data []byte) (*Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w wireEnvelope
	if err := dec.Decode(&w); err != nil {
		return nil, &DecodeError{Reason: "malformed envelope", Err: err}
	}
	if w.Type == "" {
		return nil, &DecodeError{Reason: "missing type field"}
	}
	return &Envelope{
		Type:          w.Type,
		SenderID:      w.SenderID,
		TargetID:      w.TargetID,
		CorrelationID: w.CorrelationID,
		Timestamp:     w.Timestamp,
		Version:       w.Version,
		Payload:       w.Payload,
	}, nil
}

// DecodePayload unmarshals an envelope's payload tree into the requested
// typed struct. It is the typed counterpart to the type-string dispatch a
// subscriber performs on Envelope.Type.
func DecodePayload[T any](env *Envelope) (T, error) {
	var v T
	if env == nil || len(env.Payload) == 0 {
		return v, &DecodeError{Type: env.safeType(), Reason: "empty payload"}
	}
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return v, &DecodeError{Type: env.safeType(), Reason: "payload does not match requested shape", Err: err}
	}
	return v, nil
}

func (e *Envelope) safeType() string {
	if e == nil {
		return ""
	}
	return e.Type
}

// ErrUnknownType is returned by a TypeRegistry lookup for a type string no
// decoder has been registered for.
var ErrUnknownType = errors.New("envelope: unknown message type")
