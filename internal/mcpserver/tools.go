// Package mcpserver registers MCP tools that expose the document store
// and sync engine. It adapts the records and engine packages to the MCP
// SDK's tool handler interface.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alexjbarnes/docsync/internal/engine"
	"github.com/alexjbarnes/docsync/internal/merge"
	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/alexjbarnes/docsync/internal/records"
	"github.com/alexjbarnes/docsync/internal/state"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// errLostRace is returned when a write gave up after repeated conflicts
// with concurrent writers.
var errLostRace = errors.New("document changed concurrently, retry the call")

// Syncer is the part of the sync engine the tools drive.
type Syncer interface {
	Status() engine.Status
	AutoSyncEnabled() bool
	LastReport() engine.Report
	RunOnce(ctx context.Context, strategy merge.Strategy) (engine.Report, error)
}

// ConflictLog lists recorded tie decisions. *state.State satisfies it.
type ConflictLog interface {
	Conflicts(limit int) ([]state.ConflictEntry, error)
}

// Deps are the services the tools operate on.
type Deps struct {
	Records   *records.Service
	Settings  *records.Settings
	Engine    Syncer
	Conflicts ConflictLog
}

// RegisterTools adds all document and sync tools to the given MCP server.
func RegisterTools(server *mcp.Server, deps Deps) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_status",
		Description: "Report the sync engine status (inactive, active, syncing, error), whether auto-sync is on, and the outcome of the last sync cycle.",
	}, statusHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_now",
		Description: "Run one sync cycle immediately. strategy decides updatedAt ties: pull keeps the remote copy, push keeps the local copy. Defaults to pull.",
	}, syncHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_documents",
		Description: "List documents in a collection (tasks, tags, branches, files, settings) ordered by id. Tombstones are excluded unless include_deleted is set.",
	}, listHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_document",
		Description: "Read one document by id, including tombstones.",
	}, getHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "put_document",
		Description: "Create or update a document. Without an id a new document is created in the collection. With an id the fields are merged into the existing document, and a null value removes a field. Use id \"settings\" to edit the settings singleton.",
	}, putHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_document",
		Description: "Delete a document by turning it into a tombstone that propagates on the next sync. With purge the tombstone is dated to the epoch so every replica drops it on its next sync.",
	}, deleteHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_conflicts",
		Description: "List recent updatedAt ties resolved by the sync strategy, newest first. Each entry carries a patch that turns the kept copy into the discarded one.",
	}, conflictsHandler(deps))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// StatusInput has no parameters.
type StatusInput struct{}

// SyncInput holds parameters for sync_now.
type SyncInput struct {
	Strategy string `json:"strategy,omitempty" jsonschema:"pull or push, defaults to pull"`
}

// ListInput holds parameters for list_documents.
type ListInput struct {
	Collection     string `json:"collection" jsonschema:"collection name"`
	IncludeDeleted bool   `json:"include_deleted,omitempty" jsonschema:"include tombstones"`
}

// GetInput holds parameters for get_document.
type GetInput struct {
	ID string `json:"id" jsonschema:"document id, e.g. task:<uuid> or settings"`
}

// PutInput holds parameters for put_document.
type PutInput struct {
	Collection string         `json:"collection,omitempty" jsonschema:"collection for a new document, ignored when id is set"`
	ID         string         `json:"id,omitempty" jsonschema:"existing document id to update"`
	Fields     map[string]any `json:"fields" jsonschema:"document fields; reserved keys id, updatedAt, deletedAt and _rev are ignored"`
}

// DeleteInput holds parameters for delete_document.
type DeleteInput struct {
	ID    string `json:"id" jsonschema:"document id"`
	Purge bool   `json:"purge,omitempty" jsonschema:"date the tombstone to the epoch so it is garbage-collected everywhere"`
}

// ConflictsInput holds parameters for list_conflicts.
type ConflictsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of entries, defaults to 50"`
}

// --- Output types ---

// Document is the tool view of a SyncDoc.
type Document struct {
	ID         string         `json:"id"`
	Collection string         `json:"collection"`
	UpdatedAt  int64          `json:"updated_at"`
	DeletedAt  *int64         `json:"deleted_at,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// Report is the tool view of a sync cycle outcome.
type Report struct {
	Strategy   string `json:"strategy,omitempty"`
	StartedAt  int64  `json:"started_at,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	FastPath   bool   `json:"fast_path"`
	Upserted   int    `json:"upserted"`
	Removed    int    `json:"removed"`
	Conflicts  int    `json:"conflicts"`
	Pushed     bool   `json:"pushed"`
	Error      string `json:"error,omitempty"`
}

// StatusResult is returned by sync_status.
type StatusResult struct {
	Status     string `json:"status"`
	AutoSync   bool   `json:"auto_sync"`
	LastReport Report `json:"last_report"`
}

// ListResult is returned by list_documents.
type ListResult struct {
	Collection string     `json:"collection"`
	Count      int        `json:"count"`
	Documents  []Document `json:"documents"`
}

// PutResult is returned by put_document.
type PutResult struct {
	Created  bool     `json:"created"`
	Document Document `json:"document"`
}

// DeleteResult is returned by delete_document.
type DeleteResult struct {
	Changed  bool     `json:"changed"`
	Document Document `json:"document"`
}

// ConflictsResult is returned by list_conflicts.
type ConflictsResult struct {
	Count     int                   `json:"count"`
	Conflicts []state.ConflictEntry `json:"conflicts"`
}

const defaultConflictLimit = 50

// --- Handlers ---

func statusHandler(deps Deps) mcp.ToolHandlerFor[StatusInput, *StatusResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, *StatusResult, error) {
		result := &StatusResult{
			Status:     string(deps.Engine.Status()),
			AutoSync:   deps.Engine.AutoSyncEnabled(),
			LastReport: reportView(deps.Engine.LastReport()),
		}
		return textResult(result), result, nil
	}
}

func syncHandler(deps Deps) mcp.ToolHandlerFor[SyncInput, *Report] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SyncInput) (*mcp.CallToolResult, *Report, error) {
		strategy, err := merge.ParseStrategy(input.Strategy)
		if err != nil {
			return nil, nil, err
		}

		rep, err := deps.Engine.RunOnce(ctx, strategy)
		if err != nil {
			return nil, nil, fmt.Errorf("sync failed: %w", err)
		}

		result := reportView(rep)
		return textResult(result), &result, nil
	}
}

func listHandler(deps Deps) mcp.ToolHandlerFor[ListInput, *ListResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ListInput) (*mcp.CallToolResult, *ListResult, error) {
		c, err := models.ParseCollection(input.Collection)
		if err != nil {
			return nil, nil, err
		}

		var docs []models.SyncDoc

		if c == models.CollectionSettings {
			doc, err := deps.Settings.Get(ctx)
			if err != nil {
				return nil, nil, err
			}
			if doc != nil && (!doc.IsDeleted() || input.IncludeDeleted) {
				docs = append(docs, *doc)
			}
		} else {
			docs, err = deps.Records.List(ctx, c, input.IncludeDeleted)
			if err != nil {
				return nil, nil, err
			}
		}

		result := &ListResult{
			Collection: string(c),
			Count:      len(docs),
			Documents:  make([]Document, 0, len(docs)),
		}
		for _, d := range docs {
			result.Documents = append(result.Documents, documentView(d))
		}
		return textResult(result), result, nil
	}
}

func getHandler(deps Deps) mcp.ToolHandlerFor[GetInput, *Document] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input GetInput) (*mcp.CallToolResult, *Document, error) {
		doc, err := deps.Records.Get(ctx, input.ID)
		if err != nil {
			return nil, nil, err
		}

		result := documentView(doc)
		return textResult(result), &result, nil
	}
}

func putHandler(deps Deps) mcp.ToolHandlerFor[PutInput, *PutResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input PutInput) (*mcp.CallToolResult, *PutResult, error) {
		var (
			doc     models.SyncDoc
			created bool
			ok      = true
			err     error
		)

		switch {
		case input.ID == models.SettingsID || (input.ID == "" && input.Collection == string(models.CollectionSettings)):
			doc, ok, err = deps.Settings.Update(ctx, func(fields map[string]any) error {
				mergeFields(fields, input.Fields)
				return nil
			})
		case input.ID == "":
			c, perr := models.ParseCollection(input.Collection)
			if perr != nil {
				return nil, nil, perr
			}
			doc, err = deps.Records.Create(ctx, c, input.Fields)
			created = true
		default:
			doc, ok, err = deps.Records.Update(ctx, input.ID, input.Fields)
		}

		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, errLostRace
		}

		result := &PutResult{Created: created, Document: documentView(doc)}
		return textResult(result), result, nil
	}
}

func deleteHandler(deps Deps) mcp.ToolHandlerFor[DeleteInput, *DeleteResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input DeleteInput) (*mcp.CallToolResult, *DeleteResult, error) {
		if input.ID == models.SettingsID {
			return nil, nil, errors.New("settings cannot be deleted")
		}

		before, err := deps.Records.Get(ctx, input.ID)
		if err != nil {
			return nil, nil, err
		}

		var (
			doc models.SyncDoc
			ok  bool
		)

		if input.Purge {
			doc, ok, err = deps.Records.Purge(ctx, input.ID)
		} else {
			doc, ok, err = deps.Records.Delete(ctx, input.ID)
		}

		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, errLostRace
		}

		result := &DeleteResult{
			Changed:  !before.Equal(doc),
			Document: documentView(doc),
		}
		return textResult(result), result, nil
	}
}

func conflictsHandler(deps Deps) mcp.ToolHandlerFor[ConflictsInput, *ConflictsResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input ConflictsInput) (*mcp.CallToolResult, *ConflictsResult, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = defaultConflictLimit
		}

		entries, err := deps.Conflicts.Conflicts(limit)
		if err != nil {
			return nil, nil, err
		}
		if entries == nil {
			entries = []state.ConflictEntry{}
		}

		result := &ConflictsResult{Count: len(entries), Conflicts: entries}
		return textResult(result), result, nil
	}
}

// mergeFields applies a partial update in place. A nil value removes the key.
func mergeFields(dst, src map[string]any) {
	for k, v := range src {
		if v == nil {
			delete(dst, k)
			continue
		}
		dst[k] = v
	}
}

func documentView(d models.SyncDoc) Document {
	c, _ := models.CollectionOf(d.ID)
	return Document{
		ID:         d.ID,
		Collection: string(c),
		UpdatedAt:  d.UpdatedAt,
		DeletedAt:  d.DeletedAt,
		Fields:     d.Fields,
	}
}

func reportView(r engine.Report) Report {
	v := Report{
		Strategy:   string(r.Strategy),
		DurationMS: r.Duration.Milliseconds(),
		FastPath:   r.FastPath,
		Upserted:   r.Upserted,
		Removed:    r.Removed,
		Conflicts:  r.Conflicts,
		Pushed:     r.Pushed,
		Error:      r.Error,
	}
	if !r.StartedAt.IsZero() {
		v.StartedAt = models.Millis(r.StartedAt)
	}
	return v
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
