package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Document is the stored and transmitted form of a synced row: the entity's
// JSON body plus the fields the sync layer keys on. A deleted document
// carries no body and serializes as a tombstone.
type Document struct {
	ID        string
	UpdatedAt time.Time
	Deleted   bool
	Body      json.RawMessage
}

// documentHeader is the subset of row fields every collection shares.
type documentHeader struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updated_at"`
	Deleted   bool      `json:"_deleted,omitempty"`
}

// NewDocument marshals row into a Document.
func NewDocument(row Row) (Document, error) {
	body, err := json.Marshal(row)
	if err != nil {
		return Document{}, fmt.Errorf("marshal %s: %w", row.RowID(), err)
	}
	return Document{ID: row.RowID(), UpdatedAt: row.RowUpdatedAt().UTC(), Body: body}, nil
}

// Tombstone returns a deleted document for id.
func Tombstone(id string, at time.Time) Document {
	return Document{ID: id, UpdatedAt: at.UTC(), Deleted: true}
}

// Decode unmarshals the document body into v.
func (d Document) Decode(v any) error {
	if d.Deleted {
		return fmt.Errorf("decode %s: document is deleted", d.ID)
	}
	return json.Unmarshal(d.Body, v)
}

// Fields returns the top-level body fields, leaving values undecoded.
func (d Document) Fields() (map[string]json.RawMessage, error) {
	fields := make(map[string]json.RawMessage)
	if len(d.Body) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(d.Body, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// StringField returns a top-level string field, or "" when absent or not a string.
func (d Document) StringField(name string) string {
	fields, err := d.Fields()
	if err != nil {
		return ""
	}
	raw, ok := fields[name]
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// Stamp returns a copy of d whose updated_at (header and body) is t.
func (d Document) Stamp(t time.Time) (Document, error) {
	t = t.UTC()
	d.UpdatedAt = t
	if d.Deleted {
		return d, nil
	}
	fields, err := d.Fields()
	if err != nil {
		return Document{}, fmt.Errorf("stamp %s: %w", d.ID, err)
	}
	ts, _ := json.Marshal(t)
	fields["updated_at"] = ts
	body, err := json.Marshal(fields)
	if err != nil {
		return Document{}, fmt.Errorf("stamp %s: %w", d.ID, err)
	}
	d.Body = body
	return d, nil
}

// Equal reports whether both documents carry the same id, timestamp and body.
func (d Document) Equal(o Document) bool {
	return d.ID == o.ID && d.UpdatedAt.Equal(o.UpdatedAt) && d.Deleted == o.Deleted && bytes.Equal(d.Body, o.Body)
}

func (d Document) MarshalJSON() ([]byte, error) {
	if d.Deleted {
		return json.Marshal(documentHeader{ID: d.ID, UpdatedAt: d.UpdatedAt, Deleted: true})
	}
	if len(d.Body) == 0 {
		return json.Marshal(documentHeader{ID: d.ID, UpdatedAt: d.UpdatedAt})
	}
	return d.Body, nil
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var h documentHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return err
	}
	d.ID = h.ID
	d.UpdatedAt = h.UpdatedAt.UTC()
	d.Deleted = h.Deleted
	d.Body = nil
	if !h.Deleted {
		d.Body = append(json.RawMessage(nil), data...)
	}
	return nil
}
