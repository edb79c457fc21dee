// Package snapshot builds, hashes, and encodes the full-state snapshot
// exchanged with the remote store.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	syncerr "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/tidwall/gjson"
	"golang.org/x/text/unicode/norm"
)

// canonical is the hashed form: fixed collection order, docs sorted by id.
type canonical struct {
	Tasks    []models.SyncDoc `json:"tasks"`
	Tags     []models.SyncDoc `json:"tags"`
	Branches []models.SyncDoc `json:"branches"`
	Files    []models.SyncDoc `json:"files"`
	Settings *models.SyncDoc  `json:"settings"`
}

// Hash returns a digest of the document set that ignores document order.
// Revision tokens never reach SyncDoc, so they cannot affect it.
func Hash(docs models.Docs) string {
	c := canonical{
		Tasks:    sortedByID(docs.Tasks),
		Tags:     sortedByID(docs.Tags),
		Branches: sortedByID(docs.Branches),
		Files:    sortedByID(docs.Files),
		Settings: docs.Settings,
	}

	data, err := json.Marshal(c)
	if err != nil {
		// Fields only ever hold decoded JSON or plain Go values.
		panic(fmt.Sprintf("snapshot: marshalling canonical docs: %v", err))
	}

	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}

func sortedByID(docs []models.SyncDoc) []models.SyncDoc {
	out := make([]models.SyncDoc, len(docs))
	copy(out, docs)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// BuildMeta computes the content hash and counts for a document set.
func BuildMeta(docs models.Docs) models.Meta {
	counts := models.Counts{
		Tasks:    len(docs.Tasks),
		Tags:     len(docs.Tags),
		Branches: len(docs.Branches),
		Files:    len(docs.Files),
	}
	if docs.Settings != nil {
		counts.Settings = 1
	}

	return models.Meta{
		Hash:          Hash(docs),
		Counts:        counts,
		SchemaVersion: models.SchemaVersion,
	}
}

// Build wraps docs with their metadata.
func Build(docs models.Docs) models.Snapshot {
	return models.Snapshot{Docs: docs, Meta: BuildMeta(docs)}
}

// Encode serializes a snapshot for the remote store.
func Encode(s models.Snapshot) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}

	return data, nil
}

// Decode parses a remote snapshot. Structural problems return
// ErrMalformedSnapshot; a newer schema returns ErrUnsupportedSchema. A
// document listed under the wrong collection is moved to the one its id
// prefix names, and a meta block that disagrees with the content is
// rebuilt from content.
func Decode(data []byte) (*models.Snapshot, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid JSON", syncerr.ErrMalformedSnapshot)
	}

	if !gjson.GetBytes(data, "docs").IsObject() {
		return nil, fmt.Errorf("%w: missing docs object", syncerr.ErrMalformedSnapshot)
	}

	meta := gjson.GetBytes(data, "meta")
	if !meta.IsObject() {
		return nil, fmt.Errorf("%w: missing meta object", syncerr.ErrMalformedSnapshot)
	}

	if v := meta.Get("schemaVersion"); v.Exists() && v.Int() > models.SchemaVersion {
		return nil, fmt.Errorf("%w: %d (supported %d)", syncerr.ErrUnsupportedSchema, v.Int(), models.SchemaVersion)
	}

	for _, c := range models.Collections {
		v := gjson.GetBytes(data, "docs."+string(c))
		if v.Exists() && v.Type != gjson.Null && !v.IsArray() {
			return nil, fmt.Errorf("%w: docs.%s is not an array", syncerr.ErrMalformedSnapshot, c)
		}
	}

	var s models.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", syncerr.ErrMalformedSnapshot, err)
	}

	if s.Docs.Settings != nil && s.Docs.Settings.ID != models.SettingsID {
		return nil, fmt.Errorf("%w: settings id %q", syncerr.ErrMalformedSnapshot, s.Docs.Settings.ID)
	}

	normalizeIDs(&s.Docs)

	if err := regroup(&s.Docs); err != nil {
		return nil, err
	}

	built := BuildMeta(s.Docs)
	s.Meta.Hash = built.Hash
	s.Meta.Counts = built.Counts

	if s.Meta.SchemaVersion == 0 {
		s.Meta.SchemaVersion = models.SchemaVersion
	}

	return &s, nil
}

func normalizeIDs(docs *models.Docs) {
	for _, c := range models.Collections {
		coll := docs.Collection(c)
		for i := range coll {
			coll[i].ID = norm.NFC.String(coll[i].ID)
		}
	}
}

// regroup files every document under the collection its id routes to, so
// the decoded set matches what the local store reports after applying it.
// Ids that route nowhere, or to the settings singleton, and ids listed
// twice make the snapshot malformed.
func regroup(docs *models.Docs) error {
	grouped := make(map[models.Collection][]models.SyncDoc, len(models.Collections))
	seen := make(map[string]bool)
	moved := false

	for _, c := range models.Collections {
		for _, d := range docs.Collection(c) {
			target, err := models.CollectionOf(d.ID)
			if err != nil || target == models.CollectionSettings {
				return fmt.Errorf("%w: docs.%s holds id %q", syncerr.ErrMalformedSnapshot, c, d.ID)
			}

			if seen[d.ID] {
				return fmt.Errorf("%w: duplicate id %q", syncerr.ErrMalformedSnapshot, d.ID)
			}

			seen[d.ID] = true
			moved = moved || target != c
			grouped[target] = append(grouped[target], d)
		}
	}

	if !moved {
		return nil
	}

	for _, c := range models.Collections {
		docs.SetCollection(c, grouped[c])
	}

	return nil
}
