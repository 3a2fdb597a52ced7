package webhooks

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType represents the type of lifecycle event delivered to endpoints
type EventType string

const (
	EventDataRegistered    EventType = "data_registered"
	EventDataDeleted       EventType = "data_deleted"
	EventDeletionCompleted EventType = "deletion_completed"
)

// Valid reports whether t is one of the known event types
func (t EventType) Valid() bool {
	switch t {
	case EventDataRegistered, EventDataDeleted, EventDeletionCompleted:
		return true
	}
	return false
}

// TimestampFormat is the wire format of payload timestamps (UTC, millisecond precision)
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Outbound header names
const (
	HeaderEvent      = "X-Herald-Event"
	HeaderDeliveryID = "X-Herald-Delivery-ID"
	HeaderTimestamp  = "X-Herald-Timestamp"
	HeaderSignature  = "X-Herald-Signature"

	UserAgent = "Herald-Webhooks/1.0"
)

var (
	// ErrEndpointNotFound is returned when an endpoint id is unknown
	ErrEndpointNotFound = errors.New("webhook endpoint not found")
	// ErrServiceClosed is returned by notify calls after the service is closed
	ErrServiceClosed = errors.New("webhook service closed")
)

// Endpoint is a company-registered HTTP destination
type Endpoint struct {
	ID             string      `json:"id"`
	CompanyID      string      `json:"companyId"`
	URL            string      `json:"url"`
	Secret         string      `json:"secret,omitempty"`
	Events         []EventType `json:"events"`
	Active         bool        `json:"active"`
	CreatedAt      time.Time   `json:"createdAt"`
	LastDeliveryAt *time.Time  `json:"lastDeliveryAt,omitempty"`
	FailureCount   int         `json:"failureCount"`
}

// Subscribes reports whether the endpoint listens for the event type
func (e *Endpoint) Subscribes(t EventType) bool {
	for _, et := range e.Events {
		if et == t {
			return true
		}
	}
	return false
}

// Matches reports whether a notification for companyID/t must be delivered to e
func (e *Endpoint) Matches(companyID string, t EventType) bool {
	return e.Active && e.CompanyID == companyID && e.Subscribes(t)
}

// Clone returns a deep copy so callers never share store-owned state
func (e *Endpoint) Clone() *Endpoint {
	c := *e
	c.Events = append([]EventType(nil), e.Events...)
	if e.LastDeliveryAt != nil {
		t := *e.LastDeliveryAt
		c.LastDeliveryAt = &t
	}
	return &c
}

// EndpointUpdate is a partial update; nil fields are left untouched
type EndpointUpdate struct {
	URL    *string     `json:"url,omitempty"`
	Events []EventType `json:"events,omitempty"`
	Secret *string     `json:"secret,omitempty"`
	Active *bool       `json:"active,omitempty"`
}

// Apply merges the update into e
func (u EndpointUpdate) Apply(e *Endpoint) {
	if u.URL != nil {
		e.URL = *u.URL
	}
	if u.Events != nil {
		e.Events = append([]EventType(nil), u.Events...)
	}
	if u.Secret != nil {
		e.Secret = *u.Secret
	}
	if u.Active != nil {
		e.Active = *u.Active
	}
}

// RecordData is the data bag of data_registered and data_deleted events.
// Field order is part of the signed wire format.
type RecordData struct {
	CommitmentHash string `json:"commitmentHash"`
	DataType       string `json:"dataType"`
	CompanyID      string `json:"companyId"`
	TxHash         string `json:"txHash"`
}

// DeletionProof references the on-chain proof of one deleted record
type DeletionProof struct {
	CommitmentHash string `json:"commitmentHash"`
	ProofHash      string `json:"proofHash"`
	TxHash         string `json:"txHash"`
}

// DeletionSummary is the data bag of deletion_completed events
type DeletionSummary struct {
	CompanyID      string          `json:"companyId"`
	TotalRecords   int             `json:"totalRecords"`
	DeletedRecords int             `json:"deletedRecords"`
	DeletionProofs []DeletionProof `json:"deletionProofs"`
}

// Payload is the JSON body POSTed to endpoints.
//
// Data holds either RecordData or DeletionSummary. Both are structs so the
// serialized key order is fixed, which keeps signatures reproducible by receivers.
type Payload struct {
	Event     EventType `json:"event"`
	UserDID   string    `json:"userDID"`
	Timestamp string    `json:"timestamp"`
	Data      any       `json:"data"`
}

// NewPayload builds a payload stamped with at
func NewPayload(event EventType, userDID string, at time.Time, data any) *Payload {
	return &Payload{
		Event:     event,
		UserDID:   userDID,
		Timestamp: at.UTC().Format(TimestampFormat),
		Data:      data,
	}
}

// UnmarshalJSON decodes the data bag into its concrete type based on the event
func (p *Payload) UnmarshalJSON(b []byte) error {
	var raw struct {
		Event     EventType       `json:"event"`
		UserDID   string          `json:"userDID"`
		Timestamp string          `json:"timestamp"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	p.Event = raw.Event
	p.UserDID = raw.UserDID
	p.Timestamp = raw.Timestamp
	p.Data = nil

	if len(raw.Data) == 0 || string(raw.Data) == "null" {
		return nil
	}

	switch raw.Event {
	case EventDeletionCompleted:
		var summary DeletionSummary
		if err := json.Unmarshal(raw.Data, &summary); err != nil {
			return fmt.Errorf("failed to decode deletion summary: %w", err)
		}
		p.Data = summary
	default:
		var record RecordData
		if err := json.Unmarshal(raw.Data, &record); err != nil {
			return fmt.Errorf("failed to decode record data: %w", err)
		}
		p.Data = record
	}
	return nil
}

// CanonicalJSON returns the deterministic serialization that is both sent and signed.
// Strings are written unescaped apart from what JSON requires, so a receiver
// re-serializing the same payload (JSON.stringify and friends) gets identical bytes.
func CanonicalJSON(p *Payload) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return unescapeLineSeparators(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// unescapeLineSeparators turns the \u2028 and \u2029 escapes encoding/json always
// emits back into raw UTF-8. Backslashes only occur inside JSON strings, so
// walking escape pairs is enough to tell a real escape from escaped text.
func unescapeLineSeparators(b []byte) []byte {
	if !bytes.Contains(b, []byte(`\u202`)) {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 >= len(b) {
			out = append(out, b[i])
			continue
		}
		if i+5 < len(b) && b[i+1] == 'u' && string(b[i+2:i+5]) == "202" && (b[i+5] == '8' || b[i+5] == '9') {
			if b[i+5] == '8' {
				out = append(out, "\u2028"...)
			} else {
				out = append(out, "\u2029"...)
			}
			i += 5
			continue
		}
		out = append(out, b[i], b[i+1])
		i++
	}
	return out
}

// Sign computes the signature header value for payload under secret
func Sign(p *Payload, secret string) (string, error) {
	body, err := CanonicalJSON(p)
	if err != nil {
		return "", err
	}
	return generateSignature(body, secret), nil
}

// VerifySignature verifies a received body against its signature header
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := generateSignature(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// generateSignature generates HMAC-SHA256 signature
func generateSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
