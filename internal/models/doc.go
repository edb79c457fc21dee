// Package models defines the synchronized document shapes shared by the
// local store, the snapshot codec, and the merge algorithms.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	syncerr "github.com/alexjbarnes/docsync/internal/errors"
)

// Collection names a group of synchronized documents.
type Collection string

const (
	CollectionTasks    Collection = "tasks"
	CollectionTags     Collection = "tags"
	CollectionBranches Collection = "branches"
	CollectionFiles    Collection = "files"
	CollectionSettings Collection = "settings"
)

// Collections lists the multi-document collections in canonical order.
// Settings is a singleton and handled separately.
var Collections = []Collection{
	CollectionTasks,
	CollectionTags,
	CollectionBranches,
	CollectionFiles,
}

// SettingsID is the fixed id of the settings singleton.
const SettingsID = "settings"

var collectionPrefixes = map[Collection]string{
	CollectionTasks:    "task:",
	CollectionTags:     "tag:",
	CollectionBranches: "branch:",
	CollectionFiles:    "file:",
}

// Reserved keys never stored in Fields.
const (
	keyID        = "id"
	keyUpdatedAt = "updatedAt"
	keyDeletedAt = "deletedAt"
	keyRev       = "_rev"
)

// IsReservedField reports whether key belongs to the document envelope
// rather than its payload.
func IsReservedField(key string) bool {
	switch key {
	case keyID, keyUpdatedAt, keyDeletedAt, keyRev:
		return true
	}

	return false
}

// Prefix returns the id prefix for a collection, e.g. "task:".
func Prefix(c Collection) (string, error) {
	p, ok := collectionPrefixes[c]
	if !ok {
		return "", fmt.Errorf("%w: %s", syncerr.ErrUnknownCollection, c)
	}

	return p, nil
}

// ParseCollection validates a collection name.
func ParseCollection(s string) (Collection, error) {
	c := Collection(s)
	if c == CollectionSettings {
		return c, nil
	}

	if _, err := Prefix(c); err != nil {
		return "", err
	}

	return c, nil
}

// CollectionOf routes a document id to its collection by prefix.
func CollectionOf(id string) (Collection, error) {
	if id == SettingsID {
		return CollectionSettings, nil
	}

	for _, c := range Collections {
		if strings.HasPrefix(id, collectionPrefixes[c]) {
			return c, nil
		}
	}

	return "", fmt.Errorf("%w: no collection for id %q", syncerr.ErrUnknownCollection, id)
}

// SyncDoc is the base shape of every synchronized record. Collection
// specific payload lives in Fields. The JSON form is flat:
//
//	{"id":"task:1","updatedAt":1700000000000,"deletedAt":null,"title":"..."}
type SyncDoc struct {
	ID        string
	UpdatedAt int64
	DeletedAt *int64
	Fields    map[string]any
}

// Millis converts a time to the millisecond timestamps used by SyncDoc.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}

// IsDeleted reports whether the document is a tombstone.
func (d SyncDoc) IsDeleted() bool {
	return d.DeletedAt != nil
}

// GCEligible reports whether a tombstone can be purged. An epoch
// tombstone (deletedAt == 0) is always eligible.
func (d SyncDoc) GCEligible(now time.Time, gcInterval time.Duration) bool {
	if d.DeletedAt == nil {
		return false
	}

	if *d.DeletedAt == 0 {
		return true
	}

	return Millis(now)-*d.DeletedAt >= gcInterval.Milliseconds()
}

// Clone returns a copy whose Fields map and DeletedAt pointer are not
// shared with d. Nested field values are shared.
func (d SyncDoc) Clone() SyncDoc {
	out := SyncDoc{ID: d.ID, UpdatedAt: d.UpdatedAt}
	if d.DeletedAt != nil {
		out.DeletedAt = Int64Ptr(*d.DeletedAt)
	}

	if d.Fields != nil {
		out.Fields = make(map[string]any, len(d.Fields))
		for k, v := range d.Fields {
			out.Fields[k] = v
		}
	}

	return out
}

// Equal reports whether two documents have identical canonical content.
func (d SyncDoc) Equal(o SyncDoc) bool {
	if d.ID != o.ID || d.UpdatedAt != o.UpdatedAt {
		return false
	}

	a, errA := json.Marshal(d)
	b, errB := json.Marshal(o)

	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// MarshalJSON writes the flat form. encoding/json sorts map keys, which
// makes the output canonical for hashing.
func (d SyncDoc) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(d.Fields)+3)
	for k, v := range d.Fields {
		m[k] = v
	}

	m[keyID] = d.ID
	m[keyUpdatedAt] = d.UpdatedAt
	m[keyDeletedAt] = d.DeletedAt

	return json.Marshal(m)
}

// UnmarshalJSON reads the flat form. Numbers are kept as json.Number so
// payloads round-trip without float rounding. Revision tokens are dropped.
func (d *SyncDoc) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return err
	}

	if m == nil {
		return fmt.Errorf("document is null")
	}

	id, ok := m[keyID].(string)
	if !ok || id == "" {
		return fmt.Errorf("document has no id")
	}

	updatedAt, err := int64Field(m[keyUpdatedAt])
	if err != nil {
		return fmt.Errorf("document %s: updatedAt: %w", id, err)
	}

	var deletedAt *int64
	if raw, present := m[keyDeletedAt]; present && raw != nil {
		v, err := int64Field(raw)
		if err != nil {
			return fmt.Errorf("document %s: deletedAt: %w", id, err)
		}

		deletedAt = &v
	}

	delete(m, keyID)
	delete(m, keyUpdatedAt)
	delete(m, keyDeletedAt)
	delete(m, keyRev)

	*d = SyncDoc{ID: id, UpdatedAt: updatedAt, DeletedAt: deletedAt, Fields: m}

	return nil
}

func int64Field(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}

		f, err := n.Float64()
		if err != nil {
			return 0, err
		}

		return int64(f), nil
	case nil:
		return 0, fmt.Errorf("missing")
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}
