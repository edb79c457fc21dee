package merge

import (
	"testing"

	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteIntoLocal_UnchangedCollectionsPassThrough(t *testing.T) {
	local := models.Docs{
		Tasks: []models.SyncDoc{doc("task:1", 10, map[string]any{"title": "a"})},
		Tags:  []models.SyncDoc{doc("tag:1", 10, nil)},
	}
	remote := models.Docs{
		Tasks: []models.SyncDoc{doc("task:1", 10, map[string]any{"title": "a"})},
		Tags:  []models.SyncDoc{doc("tag:1", 20, map[string]any{"name": "new"})},
	}

	plan := RemoteIntoLocal(local, remote, StrategyPull, testGC, testNow)

	assert.Equal(t, 1, plan.Changes)
	require.Len(t, plan.ToUpsert, 1)
	assert.Equal(t, "tag:1", plan.ToUpsert[0].ID)
	assert.Empty(t, plan.ToRemove)
	assert.Equal(t, local.Tasks, plan.Merged.Tasks)
	assert.Equal(t, int64(20), plan.Merged.Tags[0].UpdatedAt)
}

func TestRemoteIntoLocal_CollectsGarbage(t *testing.T) {
	local := models.Docs{
		Files: []models.SyncDoc{
			tombstone("file:gone", 1, 0),
			doc("file:kept", 5, nil),
		},
	}

	plan := RemoteIntoLocal(local, models.Docs{}, StrategyPull, testGC, testNow)

	assert.Equal(t, []string{"file:gone"}, plan.ToRemove)
	assert.Empty(t, plan.ToUpsert)
	assert.Equal(t, 1, plan.Changes)
	assert.Equal(t, []string{"file:kept"}, ids(plan.Merged.Files))
}

func TestRemoteIntoLocal_Settings(t *testing.T) {
	remoteSettings := &models.SyncDoc{ID: models.SettingsID, UpdatedAt: 50, Fields: map[string]any{"blob": "r"}}

	plan := RemoteIntoLocal(models.Docs{}, models.Docs{Settings: remoteSettings}, StrategyPull, testGC, testNow)

	require.Len(t, plan.ToUpsert, 1)
	assert.Equal(t, models.SettingsID, plan.ToUpsert[0].ID)
	assert.Equal(t, 1, plan.Changes)
	assert.Same(t, remoteSettings, plan.Merged.Settings)

	localSettings := &models.SyncDoc{ID: models.SettingsID, UpdatedAt: 60}
	plan = RemoteIntoLocal(models.Docs{Settings: localSettings}, models.Docs{Settings: remoteSettings}, StrategyPull, testGC, testNow)

	assert.Empty(t, plan.ToUpsert)
	assert.Zero(t, plan.Changes)
}

func TestRemoteIntoLocal_IsIdempotent(t *testing.T) {
	local := models.Docs{Tasks: []models.SyncDoc{doc("task:1", 1, nil)}}
	remote := models.Docs{
		Tasks:    []models.SyncDoc{doc("task:1", 2, map[string]any{"title": "x"}), doc("task:2", 3, nil)},
		Branches: []models.SyncDoc{doc("branch:1", 4, nil)},
	}

	first := RemoteIntoLocal(local, remote, StrategyPull, testGC, testNow)
	require.NotZero(t, first.Changes)

	second := RemoteIntoLocal(first.Merged, remote, StrategyPull, testGC, testNow)
	assert.Zero(t, second.Changes)
	assert.Empty(t, second.ToUpsert)
	assert.Empty(t, second.ToRemove)
}

func TestRemoteIntoLocal_ConflictsCarryCollection(t *testing.T) {
	local := models.Docs{Tags: []models.SyncDoc{doc("tag:1", 7, map[string]any{"name": "a"})}}
	remote := models.Docs{Tags: []models.SyncDoc{doc("tag:1", 7, map[string]any{"name": "b"})}}

	plan := RemoteIntoLocal(local, remote, StrategyPull, testGC, testNow)

	require.Len(t, plan.Conflicts, 1)
	assert.Equal(t, models.CollectionTags, plan.Conflicts[0].Collection)
	assert.Equal(t, WinnerRemote, plan.Conflicts[0].Winner)
}

func TestRemoteIntoLocal_CarriesEpochTombstoneWithoutWritingIt(t *testing.T) {
	purged := tombstone("task:1", models.Millis(testNow), 0)
	local := models.Docs{Tasks: []models.SyncDoc{purged, doc("task:2", 1, nil)}}
	remote := models.Docs{Tasks: []models.SyncDoc{doc("task:1", 1, map[string]any{"title": "x"}), doc("task:2", 1, nil)}}

	plan := RemoteIntoLocal(local, remote, StrategyPull, testGC, testNow)

	assert.Equal(t, []string{"task:1"}, plan.ToRemove)
	assert.Empty(t, plan.ToUpsert)
	require.Equal(t, []string{"task:1", "task:2"}, ids(plan.Merged.Tasks))
	assert.True(t, plan.Merged.Tasks[0].Equal(purged))

	// The replica that still held the live copy purges it and pushes nothing new.
	other := models.Docs{Tasks: remote.Tasks}
	next := RemoteIntoLocal(other, plan.Merged, StrategyPull, testGC, testNow)

	assert.Equal(t, []string{"task:1"}, next.ToRemove)
	assert.Empty(t, next.ToUpsert)
	assert.Equal(t, ids(plan.Merged.Tasks), ids(next.Merged.Tasks))
}
