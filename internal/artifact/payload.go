package artifact

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the opaque, JSON-shaped body of an artifact.
type Payload map[string]any

// Payload keys that are copied into indexed columns on every write.
const (
	FieldUID      = "uid"
	FieldGrantID  = "grantId"
	FieldUserCode = "userCode"
	FieldConsumed = "consumed"
)

// String returns the string stored under key, or "".
func (p Payload) String(key string) string {
	if p == nil {
		return ""
	}
	s, _ := p[key].(string)
	return s
}

// Consumed reports whether the consume marker is set.
func (p Payload) Consumed() bool {
	return p[FieldConsumed] != nil
}

// Record is a stored artifact as the backend sees it.
type Record struct {
	Kind      Kind
	ID        string
	Payload   Payload
	UID       string
	GrantID   string
	UserCode  string
	ExpiresAt int64 // epoch seconds, 0 = never
	Consumed  int64 // epoch seconds, 0 = not consumed
}

// Key is the composite primary key.
func (r *Record) Key() string {
	return modelID(r.Kind, r.ID)
}

// Expired reports whether the record is logically gone at now.
// Physical presence says nothing about liveness.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt != 0 && now.Unix() >= r.ExpiresAt
}

// View returns the payload as readers see it, consume marker included.
func (r *Record) View() Payload {
	out := make(Payload, len(r.Payload)+1)
	for k, v := range r.Payload {
		out[k] = v
	}
	if r.Consumed != 0 {
		out[FieldConsumed] = r.Consumed
	} else {
		delete(out, FieldConsumed)
	}
	return out
}

// newRecord builds the row for an upsert, denormalizing the indexed fields.
// Fields missing from payload clear the stored index value.
func newRecord(kind Kind, id string, payload Payload, expiresAt int64) *Record {
	rec := &Record{
		Kind:      kind,
		ID:        id,
		Payload:   payload,
		UID:       payload.String(FieldUID),
		GrantID:   payload.String(FieldGrantID),
		UserCode:  payload.String(FieldUserCode),
		ExpiresAt: expiresAt,
	}
	rec.Consumed = epochOf(payload[FieldConsumed])
	return rec
}

func epochOf(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}

// ToPayload converts any JSON-serializable value into a Payload.
func ToPayload(v any) (Payload, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	return p, nil
}

// Decode fills dst from the payload.
func (p Payload) Decode(dst any) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
