package models

// SchemaVersion is the snapshot format this build reads and writes.
const SchemaVersion = 1

// Docs holds every synchronized document grouped by collection.
type Docs struct {
	Tasks    []SyncDoc `json:"tasks"`
	Tags     []SyncDoc `json:"tags"`
	Branches []SyncDoc `json:"branches"`
	Files    []SyncDoc `json:"files"`
	Settings *SyncDoc  `json:"settings"`
}

// Collection returns the documents of a multi-document collection.
func (d Docs) Collection(c Collection) []SyncDoc {
	switch c {
	case CollectionTasks:
		return d.Tasks
	case CollectionTags:
		return d.Tags
	case CollectionBranches:
		return d.Branches
	case CollectionFiles:
		return d.Files
	default:
		return nil
	}
}

// SetCollection replaces the documents of a multi-document collection.
func (d *Docs) SetCollection(c Collection, docs []SyncDoc) {
	switch c {
	case CollectionTasks:
		d.Tasks = docs
	case CollectionTags:
		d.Tags = docs
	case CollectionBranches:
		d.Branches = docs
	case CollectionFiles:
		d.Files = docs
	}
}

// HasLiveData reports whether any document is alive. The settings
// singleton counts as live when present.
func (d Docs) HasLiveData() bool {
	if d.Settings != nil {
		return true
	}

	for _, c := range Collections {
		for _, doc := range d.Collection(c) {
			if !doc.IsDeleted() {
				return true
			}
		}
	}

	return false
}

// Len returns the total number of documents, settings included.
func (d Docs) Len() int {
	n := len(d.Tasks) + len(d.Tags) + len(d.Branches) + len(d.Files)
	if d.Settings != nil {
		n++
	}

	return n
}

// Counts holds per-collection document counts.
type Counts struct {
	Tasks    int `json:"tasks"`
	Tags     int `json:"tags"`
	Branches int `json:"branches"`
	Files    int `json:"files"`
	Settings int `json:"settings"`
}

// Meta describes a snapshot. Hash and Counts derive from content only;
// Device and CreatedAt are informational and stamped on push.
type Meta struct {
	Hash          string `json:"hash"`
	Counts        Counts `json:"counts"`
	SchemaVersion int    `json:"schemaVersion"`
	Device        string `json:"device,omitempty"`
	CreatedAt     int64  `json:"createdAt,omitempty"`
}

// Snapshot is the full document set exchanged with the remote store.
type Snapshot struct {
	Docs Docs `json:"docs"`
	Meta Meta `json:"meta"`
}
