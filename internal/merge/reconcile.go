package merge

import (
	"sort"
	"time"

	"github.com/alexjbarnes/docsync/internal/models"
)

// Plan is the result of layering a remote document set onto the local
// one: the merged set (for hashing and pushing) and the local writes
// needed to reach it.
type Plan struct {
	Merged    models.Docs
	ToUpsert  []models.SyncDoc
	ToRemove  []string
	Conflicts []Conflict
	Changes   int
}

// RemoteIntoLocal merges every collection independently plus the
// settings singleton. Collections whose merge leaves the local copy
// untouched pass through unchanged and queue no writes.
func RemoteIntoLocal(local, remote models.Docs, strategy Strategy, gcInterval time.Duration, now time.Time) Plan {
	var plan Plan

	for _, c := range models.Collections {
		localDocs := local.Collection(c)
		res := Collections(localDocs, remote.Collection(c), strategy, gcInterval, now)

		for i := range res.Conflicts {
			res.Conflicts[i].Collection = c
		}

		plan.Conflicts = append(plan.Conflicts, res.Conflicts...)

		upserts := changedDocs(localDocs, res.Result)
		if len(res.Result) == len(localDocs) && len(upserts) == 0 && len(res.ToGC) == 0 && len(res.Carried) == 0 {
			plan.Merged.SetCollection(c, localDocs)
			continue
		}

		plan.Merged.SetCollection(c, withCarried(res.Result, res.Carried))
		plan.ToUpsert = append(plan.ToUpsert, upserts...)
		plan.ToRemove = append(plan.ToRemove, res.ToGC...)
		plan.Changes += len(upserts) + len(res.ToGC)
	}

	settings := Settings(local.Settings, remote.Settings)
	plan.Merged.Settings = settings

	if settings != nil && (local.Settings == nil || !settings.Equal(*local.Settings)) {
		plan.ToUpsert = append(plan.ToUpsert, *settings)
		plan.Changes++
	}

	return plan
}

// withCarried returns the merged collection plus the carried tombstones,
// ordered by id. Carried ids never appear in result.
func withCarried(result, carried []models.SyncDoc) []models.SyncDoc {
	if len(carried) == 0 {
		return result
	}

	out := make([]models.SyncDoc, 0, len(result)+len(carried))
	out = append(out, result...)
	out = append(out, carried...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// changedDocs returns the merged documents that are new locally or whose
// content differs from the local copy.
func changedDocs(local, merged []models.SyncDoc) []models.SyncDoc {
	localByID := make(map[string]models.SyncDoc, len(local))
	for _, d := range local {
		localByID[d.ID] = d
	}

	var out []models.SyncDoc

	for _, d := range merged {
		if l, ok := localByID[d.ID]; ok && l.Equal(d) {
			continue
		}

		out = append(out, d)
	}

	return out
}
