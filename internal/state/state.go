// Package state is the local embedded document store. Every document is
// kept with an opaque revision token, and writes are compare-and-swap on
// that token so concurrent writers detect each other instead of
// silently overwriting.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	syncerr "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/text/unicode/norm"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.docsync/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	appBucket       = []byte("app")
	docsBucket      = []byte("docs")
	conflictsBucket = []byte("conflicts")
	deviceIDKey     = []byte("device_id")
)

// Record is a stored document together with its revision token.
type Record struct {
	Doc models.SyncDoc
	Rev string
}

// Write is one element of a bulk operation. An empty Rev asserts that the
// document does not exist yet. Deletes only use Doc.ID.
type Write struct {
	Doc models.SyncDoc
	Rev string
}

// Result reports the outcome of one bulk element. Err is a
// *errors.ConflictError when the revision did not match.
type Result struct {
	ID  string
	Rev string
	Err error
}

type storedDoc struct {
	Rev string         `json:"rev"`
	Doc models.SyncDoc `json:"doc"`
}

// State wraps a bbolt database holding documents and sync bookkeeping.
type State struct {
	db       *bolt.DB
	deviceID string
}

// Load opens the database at ~/.docsync/docs.db, creating it if needed.
func Load() (*State, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}

	return LoadAt(path)
}

// LoadAt opens a database at the given path, creating it if it does not
// exist. Useful for tests that need an isolated database.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	var deviceID string

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{appBucket, docsBucket, conflictsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		app := tx.Bucket(appBucket)
		if v := app.Get(deviceIDKey); v != nil {
			deviceID = string(v)
			return nil
		}

		deviceID = uuid.NewString()

		return app.Put(deviceIDKey, []byte(deviceID))
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db, deviceID: deviceID}, nil
}

// DefaultPath returns ~/.docsync/docs.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".docsync", "docs.db"), nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// DeviceID returns the identifier generated for this database on first open.
func (s *State) DeviceID() string {
	return s.deviceID
}

// NormalizeID returns the NFC form of a document id, the form used as the
// storage key.
func NormalizeID(id string) string {
	return norm.NFC.String(id)
}

// Get returns the document and its revision, or errors.ErrNotFound.
func (s *State) Get(id string) (Record, error) {
	var rec Record

	err := s.db.View(func(tx *bolt.Tx) error {
		sd, err := getStored(tx.Bucket(docsBucket), NormalizeID(id))
		if err != nil {
			return err
		}

		if sd == nil {
			return fmt.Errorf("%w: %s", syncerr.ErrNotFound, id)
		}

		rec = Record{Doc: sd.Doc, Rev: sd.Rev}

		return nil
	})

	return rec, err
}

// All returns every stored document, tombstones included, ordered by id.
func (s *State) All() ([]Record, error) {
	var out []Record

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(docsBucket).ForEach(func(k, v []byte) error {
			var sd storedDoc
			if err := json.Unmarshal(v, &sd); err != nil {
				return fmt.Errorf("decoding %s: %w", k, err)
			}

			out = append(out, Record{Doc: sd.Doc, Rev: sd.Rev})

			return nil
		})
	})

	return out, err
}

// Revisions returns the current revision for each id that exists. Ids
// that are missing are absent from the map.
func (s *State) Revisions(ids []string) (map[string]string, error) {
	revs := make(map[string]string, len(ids))

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(docsBucket)
		for _, id := range ids {
			sd, err := getStored(b, NormalizeID(id))
			if err != nil {
				return err
			}

			if sd != nil {
				revs[id] = sd.Rev
			}
		}

		return nil
	})

	return revs, err
}

// Put writes a single document if rev matches, returning the new revision.
func (s *State) Put(doc models.SyncDoc, rev string) (string, error) {
	var newRev string

	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		newRev, err = put(tx.Bucket(docsBucket), doc, rev)

		return err
	})

	return newRev, err
}

// BulkPut writes all documents in one transaction. Revision mismatches
// are reported per element and do not abort the others; the returned
// error is only set when the transaction itself fails.
func (s *State) BulkPut(writes []Write) ([]Result, error) {
	results := make([]Result, len(writes))

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(docsBucket)
		for i, w := range writes {
			newRev, err := put(b, w.Doc, w.Rev)
			if err != nil && !syncerr.IsConflict(err) {
				return err
			}

			results[i] = Result{ID: w.Doc.ID, Rev: newRev, Err: err}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

// Delete hard-deletes a document if rev matches.
func (s *State) Delete(id, rev string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return remove(tx.Bucket(docsBucket), id, rev)
	})
}

// BulkDelete hard-deletes documents in one transaction. Missing documents
// report errors.ErrNotFound and mismatched revisions a conflict.
func (s *State) BulkDelete(deletes []Write) ([]Result, error) {
	results := make([]Result, len(deletes))

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(docsBucket)
		for i, d := range deletes {
			err := remove(b, d.Doc.ID, d.Rev)
			if err != nil && !syncerr.IsConflict(err) && !isNotFound(err) {
				return err
			}

			results[i] = Result{ID: d.Doc.ID, Err: err}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

func getStored(b *bolt.Bucket, key string) (*storedDoc, error) {
	v := b.Get([]byte(key))
	if v == nil {
		return nil, nil
	}

	var sd storedDoc
	if err := json.Unmarshal(v, &sd); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}

	return &sd, nil
}

func put(b *bolt.Bucket, doc models.SyncDoc, rev string) (string, error) {
	doc.ID = NormalizeID(doc.ID)

	cur, err := getStored(b, doc.ID)
	if err != nil {
		return "", err
	}

	if err := checkRev(doc.ID, cur, rev); err != nil {
		return "", err
	}

	seq, err := b.NextSequence()
	if err != nil {
		return "", fmt.Errorf("allocating revision: %w", err)
	}

	sd := storedDoc{Rev: strconv.FormatUint(seq, 10), Doc: doc}

	data, err := json.Marshal(sd)
	if err != nil {
		return "", fmt.Errorf("encoding %s: %w", doc.ID, err)
	}

	if err := b.Put([]byte(doc.ID), data); err != nil {
		return "", err
	}

	return sd.Rev, nil
}

func remove(b *bolt.Bucket, id, rev string) error {
	id = NormalizeID(id)

	cur, err := getStored(b, id)
	if err != nil {
		return err
	}

	if cur == nil {
		return fmt.Errorf("%w: %s", syncerr.ErrNotFound, id)
	}

	if err := checkRev(id, cur, rev); err != nil {
		return err
	}

	return b.Delete([]byte(id))
}

func checkRev(id string, cur *storedDoc, rev string) error {
	var current string
	if cur != nil {
		current = cur.Rev
	}

	if current != rev {
		return &syncerr.ConflictError{ID: id, Expected: rev, Current: current}
	}

	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, syncerr.ErrNotFound)
}
