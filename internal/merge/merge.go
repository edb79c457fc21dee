// Package merge reconciles local and remote document sets with per
// document Last-Write-Wins and tombstone garbage collection. Everything
// here is pure: callers supply the clock.
package merge

import (
	"fmt"
	"sort"
	"time"

	"github.com/alexjbarnes/docsync/internal/models"
)

// Strategy breaks exact updatedAt ties.
type Strategy string

const (
	// StrategyPull favors the remote copy on ties. Used by the scheduler.
	StrategyPull Strategy = "pull"
	// StrategyPush favors the local copy on ties.
	StrategyPush Strategy = "push"
)

// ParseStrategy validates a strategy name. Empty means pull.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyPull:
		return StrategyPull, nil
	case StrategyPush:
		return StrategyPush, nil
	default:
		return "", fmt.Errorf("unknown sync strategy %q", s)
	}
}

// Winner names the side whose copy was kept.
type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerRemote Winner = "remote"
)

// Conflict is a tie on updatedAt between two copies with different
// content, decided by strategy.
type Conflict struct {
	ID         string
	Collection models.Collection
	Local      models.SyncDoc
	Remote     models.SyncDoc
	Winner     Winner
	Strategy   Strategy
}

// CollectionResult is the outcome of merging one collection.
type CollectionResult struct {
	Result    []models.SyncDoc
	ToGC      []string
	Conflicts []Conflict
	// Carried holds epoch tombstones that are purged locally but stay in
	// the remote snapshot until every replica has had a GC interval to
	// see them. They never become local writes.
	Carried []models.SyncDoc
}

// Collections merges two versions of a collection. For each id:
//
//  1. absent locally and GC-eligible remotely: dropped
//  2. GC-eligible locally: purged (ToGC)
//  3. present locally and GC-eligible remotely: purged (ToGC)
//  4. otherwise the strictly newer updatedAt wins, ties go to the side
//     the strategy favors, and a copy present on one side only wins
//
// An epoch tombstone dropped by rules 1-3 is kept in Carried while its
// updatedAt is younger than gcInterval, so the purge reaches replicas
// that still hold a live copy instead of being undone by them.
//
// Result and Carried are ordered by id.
func Collections(local, remote []models.SyncDoc, strategy Strategy, gcInterval time.Duration, now time.Time) CollectionResult {
	localByID := make(map[string]models.SyncDoc, len(local))
	for _, d := range local {
		localByID[d.ID] = d
	}

	remoteByID := make(map[string]models.SyncDoc, len(remote))
	for _, d := range remote {
		remoteByID[d.ID] = d
	}

	ids := make([]string, 0, len(localByID)+len(remoteByID))
	for id := range localByID {
		ids = append(ids, id)
	}

	for id := range remoteByID {
		if _, ok := localByID[id]; !ok {
			ids = append(ids, id)
		}
	}

	sort.Strings(ids)

	out := CollectionResult{Result: make([]models.SyncDoc, 0, len(ids))}

	for _, id := range ids {
		l, hasLocal := localByID[id]
		r, hasRemote := remoteByID[id]

		localGC := hasLocal && l.GCEligible(now, gcInterval)
		remoteGC := hasRemote && r.GCEligible(now, gcInterval)

		switch {
		case !hasLocal && remoteGC:
			out.carry(r, gcInterval, now)
			continue
		case localGC:
			out.ToGC = append(out.ToGC, id)
			if !out.carry(l, gcInterval, now) && remoteGC {
				out.carry(r, gcInterval, now)
			}
			continue
		case hasLocal && remoteGC:
			out.ToGC = append(out.ToGC, id)
			out.carry(r, gcInterval, now)
			continue
		}

		if !hasRemote {
			out.Result = append(out.Result, l)
			continue
		}

		if !hasLocal {
			out.Result = append(out.Result, r)
			continue
		}

		winner := pick(l.UpdatedAt, r.UpdatedAt, strategy)
		if l.UpdatedAt == r.UpdatedAt && !l.Equal(r) {
			out.Conflicts = append(out.Conflicts, Conflict{
				ID:       id,
				Local:    l,
				Remote:   r,
				Winner:   winner,
				Strategy: strategy,
			})
		}

		if winner == WinnerLocal {
			out.Result = append(out.Result, l)
		} else {
			out.Result = append(out.Result, r)
		}
	}

	return out
}

// carry keeps d in the pushed snapshot when it is a young epoch tombstone.
func (res *CollectionResult) carry(d models.SyncDoc, gcInterval time.Duration, now time.Time) bool {
	if d.DeletedAt == nil || *d.DeletedAt != 0 {
		return false
	}

	if models.Millis(now)-d.UpdatedAt >= gcInterval.Milliseconds() {
		return false
	}

	res.Carried = append(res.Carried, d)

	return true
}

func pick(localAt, remoteAt int64, strategy Strategy) Winner {
	switch {
	case localAt > remoteAt:
		return WinnerLocal
	case remoteAt > localAt:
		return WinnerRemote
	case strategy == StrategyPush:
		return WinnerLocal
	default:
		return WinnerRemote
	}
}

// Settings merges the settings singleton. The newer copy wins and a tie
// keeps local. There is no tombstone state.
func Settings(local, remote *models.SyncDoc) *models.SyncDoc {
	switch {
	case local == nil:
		return remote
	case remote == nil:
		return local
	case local.UpdatedAt >= remote.UpdatedAt:
		return local
	default:
		return remote
	}
}
