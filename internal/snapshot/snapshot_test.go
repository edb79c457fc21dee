package snapshot

import (
	"testing"

	syncerr "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDocs() models.Docs {
	return models.Docs{
		Tasks: []models.SyncDoc{
			{ID: "task:1", UpdatedAt: 100, Fields: map[string]any{"title": "one"}},
			{ID: "task:2", UpdatedAt: 200, DeletedAt: models.Int64Ptr(150), Fields: map[string]any{"title": "two"}},
		},
		Tags: []models.SyncDoc{
			{ID: "tag:a", UpdatedAt: 10, Fields: map[string]any{"name": "home"}},
		},
		Settings: &models.SyncDoc{ID: models.SettingsID, UpdatedAt: 5, Fields: map[string]any{"blob": "{}"}},
	}
}

func TestHash_IgnoresOrder(t *testing.T) {
	a := sampleDocs()
	b := sampleDocs()
	b.Tasks[0], b.Tasks[1] = b.Tasks[1], b.Tasks[0]

	assert.Equal(t, Hash(a), Hash(b))
}

func TestHash_NilAndEmptyCollectionsMatch(t *testing.T) {
	a := models.Docs{}
	b := models.Docs{Tasks: []models.SyncDoc{}, Files: []models.SyncDoc{}}

	assert.Equal(t, Hash(a), Hash(b))
}

func TestHash_ChangesWithContent(t *testing.T) {
	a := sampleDocs()
	b := sampleDocs()
	b.Tags[0] = models.SyncDoc{ID: "tag:a", UpdatedAt: 10, Fields: map[string]any{"name": "work"}}

	assert.NotEqual(t, Hash(a), Hash(b))

	c := sampleDocs()
	c.Settings = nil
	assert.NotEqual(t, Hash(a), Hash(c))
}

func TestHash_DoesNotMutateInput(t *testing.T) {
	docs := models.Docs{Tasks: []models.SyncDoc{{ID: "task:b"}, {ID: "task:a"}}}
	Hash(docs)

	assert.Equal(t, "task:b", docs.Tasks[0].ID)
}

func TestBuildMeta_Counts(t *testing.T) {
	meta := BuildMeta(sampleDocs())

	assert.Equal(t, models.Counts{Tasks: 2, Tags: 1, Settings: 1}, meta.Counts)
	assert.Equal(t, models.SchemaVersion, meta.SchemaVersion)
	assert.Len(t, meta.Hash, 64)
}

func TestEncodeDecode_PreservesHash(t *testing.T) {
	snap := Build(sampleDocs())
	snap.Meta.Device = "laptop"

	data, err := Encode(snap)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, snap.Meta.Hash, got.Meta.Hash)
	assert.Equal(t, "laptop", got.Meta.Device)
	assert.Equal(t, Hash(got.Docs), got.Meta.Hash)
}

func TestDecode_RebuildsStaleMeta(t *testing.T) {
	data := []byte(`{"docs":{"tasks":[{"id":"task:1","updatedAt":1,"deletedAt":null}]},"meta":{"hash":"bogus","counts":{}}}`)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, Hash(got.Docs), got.Meta.Hash)
	assert.Equal(t, 1, got.Meta.Counts.Tasks)
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":       `{"docs":`,
		"no docs":        `{"meta":{"hash":"x"}}`,
		"no meta":        `{"docs":{}}`,
		"tasks object":   `{"docs":{"tasks":{}},"meta":{}}`,
		"doc without id": `{"docs":{"tasks":[{"updatedAt":1}]},"meta":{}}`,
		"wrong settings": `{"docs":{"settings":{"id":"task:1","updatedAt":1}},"meta":{}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			assert.ErrorIs(t, err, syncerr.ErrMalformedSnapshot)
		})
	}
}

func TestDecode_NewerSchemaIsNotMalformed(t *testing.T) {
	_, err := Decode([]byte(`{"docs":{},"meta":{"schemaVersion":99}}`))

	assert.ErrorIs(t, err, syncerr.ErrUnsupportedSchema)
	assert.NotErrorIs(t, err, syncerr.ErrMalformedSnapshot)
}

func TestDecode_NormalizesIDs(t *testing.T) {
	// "e" followed by a combining acute accent composes to "\u00e9" under NFC.
	data := []byte("{\"docs\":{\"tags\":[{\"id\":\"tag:cafe\u0301\",\"updatedAt\":1}]},\"meta\":{}}")

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "tag:caf\u00e9", got.Docs.Tags[0].ID)
}

func TestDecode_MovesDocsToTheirCollection(t *testing.T) {
	data := []byte(`{"docs":{
		"tasks":[{"id":"tag:x","updatedAt":3},{"id":"task:1","updatedAt":1}],
		"files":[{"id":"branch:main","updatedAt":2}]
	},"meta":{"hash":"whatever"}}`)

	got, err := Decode(data)
	require.NoError(t, err)

	require.Len(t, got.Docs.Tasks, 1)
	assert.Equal(t, "task:1", got.Docs.Tasks[0].ID)
	require.Len(t, got.Docs.Tags, 1)
	assert.Equal(t, "tag:x", got.Docs.Tags[0].ID)
	require.Len(t, got.Docs.Branches, 1)
	assert.Equal(t, "branch:main", got.Docs.Branches[0].ID)
	assert.Empty(t, got.Docs.Files)

	// The hash describes the regrouped set, which is what a replica stores.
	want := models.Docs{
		Tasks:    []models.SyncDoc{{ID: "task:1", UpdatedAt: 1}},
		Tags:     []models.SyncDoc{{ID: "tag:x", UpdatedAt: 3}},
		Branches: []models.SyncDoc{{ID: "branch:main", UpdatedAt: 2}},
	}
	assert.Equal(t, Hash(want), got.Meta.Hash)
	assert.Equal(t, 1, got.Meta.Counts.Tags)
	assert.Equal(t, 0, got.Meta.Counts.Files)
}

func TestDecode_RejectsUnroutableIDs(t *testing.T) {
	cases := map[string]string{
		"unknown prefix":       `{"docs":{"tasks":[{"id":"note:1","updatedAt":1}]},"meta":{}}`,
		"settings in a list":   `{"docs":{"tags":[{"id":"settings","updatedAt":1}]},"meta":{}}`,
		"duplicate after move": `{"docs":{"tasks":[{"id":"tag:x","updatedAt":1}],"tags":[{"id":"tag:x","updatedAt":2}]},"meta":{}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			assert.ErrorIs(t, err, syncerr.ErrMalformedSnapshot)
		})
	}
}
