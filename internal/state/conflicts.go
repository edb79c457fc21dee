package state

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alexjbarnes/docsync/internal/merge"
	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"
	bolt "go.etcd.io/bbolt"
)

// maxConflictEntries caps the conflict log; the oldest entries go first.
const maxConflictEntries = 500

// ConflictEntry records an updatedAt tie that the sync strategy decided.
// Patch turns the kept copy back into the discarded one, so a user can
// recover the losing edit.
type ConflictEntry struct {
	ID              string `json:"id"`
	DocID           string `json:"doc_id"`
	Collection      string `json:"collection"`
	Winner          string `json:"winner"`
	Strategy        string `json:"strategy"`
	LocalUpdatedAt  int64  `json:"local_updated_at"`
	RemoteUpdatedAt int64  `json:"remote_updated_at"`
	Patch           string `json:"patch"`
	DetectedAt      int64  `json:"detected_at"`
}

// RecordConflicts appends tie decisions from a merge to the conflict log.
func (s *State) RecordConflicts(conflicts []merge.Conflict) error {
	if len(conflicts) == 0 {
		return nil
	}

	now := time.Now().UnixMilli()
	entries := make([]ConflictEntry, 0, len(conflicts))

	for _, c := range conflicts {
		patch, err := conflictPatch(c)
		if err != nil {
			return fmt.Errorf("diffing %s: %w", c.ID, err)
		}

		entries = append(entries, ConflictEntry{
			ID:              uuid.NewString(),
			DocID:           c.ID,
			Collection:      string(c.Collection),
			Winner:          string(c.Winner),
			Strategy:        string(c.Strategy),
			LocalUpdatedAt:  c.Local.UpdatedAt,
			RemoteUpdatedAt: c.Remote.UpdatedAt,
			Patch:           patch,
			DetectedAt:      now,
		})
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(conflictsBucket)

		for _, e := range entries {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}

			data, err := json.Marshal(e)
			if err != nil {
				return err
			}

			if err := b.Put(seqKey(seq), data); err != nil {
				return err
			}
		}

		return trimOldest(b, maxConflictEntries)
	})
}

// Conflicts returns up to limit entries, newest first. limit <= 0 means all.
func (s *State) Conflicts(limit int) ([]ConflictEntry, error) {
	var out []ConflictEntry

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(conflictsBucket).Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}

			var e ConflictEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}

			out = append(out, e)
		}

		return nil
	})

	return out, err
}

func conflictPatch(c merge.Conflict) (string, error) {
	kept, lost := c.Remote, c.Local
	if c.Winner == merge.WinnerLocal {
		kept, lost = c.Local, c.Remote
	}

	keptJSON, err := json.MarshalIndent(kept, "", "  ")
	if err != nil {
		return "", err
	}

	lostJSON, err := json.MarshalIndent(lost, "", "  ")
	if err != nil {
		return "", err
	}

	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(string(keptJSON), string(lostJSON))

	return dmp.PatchToText(patches), nil
}

// trimOldest deletes the lowest keys until at most keep remain. Keys are
// collected first because deleting under a live cursor skips entries.
func trimOldest(b *bolt.Bucket, keep int) error {
	var keys [][]byte

	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}

	for i := 0; i < len(keys)-keep; i++ {
		if err := b.Delete(keys[i]); err != nil {
			return err
		}
	}

	return nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)

	return k
}
