package e2e_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/docsync/internal/auth"
	"github.com/alexjbarnes/docsync/internal/engine"
	"github.com/alexjbarnes/docsync/internal/mcpserver"
	"github.com/alexjbarnes/docsync/internal/merge"
	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/alexjbarnes/docsync/internal/records"
	"github.com/alexjbarnes/docsync/internal/remote"
	"github.com/alexjbarnes/docsync/internal/server"
	"github.com/alexjbarnes/docsync/internal/state"
	"github.com/alexjbarnes/docsync/internal/storage"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
)

// baseTime is the starting wall clock of every device.
var baseTime = time.UnixMilli(1_700_000_000_000)

const testGCInterval = 24 * time.Hour

// clock is a settable time source shared by a device's engine and models.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// device is one replica: its own document database wired to the shared
// remote snapshot, the way cmd/docsync wires a daemon.
type device struct {
	name     string
	clock    *clock
	state    *state.State
	local    *storage.Local
	engine   *engine.Engine
	records  *records.Service
	settings *records.Settings
}

// newDevice opens a fresh database for name and points it at the file
// remote at remotePath.
func newDevice(t *testing.T, name, remotePath string) *device {
	t.Helper()

	logger := slog.New(slog.DiscardHandler).With(slog.String("device", name))

	st, err := state.LoadAt(filepath.Join(t.TempDir(), name+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	rs, err := remote.NewFile(remotePath, logger)
	require.NoError(t, err)

	clk := &clock{now: baseTime}
	settingsMu := &sync.Mutex{}
	local := storage.NewLocal(st, logger, storage.WithSettingsLock(settingsMu))

	eng := engine.New(engine.Config{
		Local:      local,
		Remote:     rs,
		Conflicts:  st,
		GCInterval: testGCInterval,
		Device:     name,
		Now:        clk.Now,
	}, logger)

	recCfg := records.Config{Now: clk.Now}

	return &device{
		name:     name,
		clock:    clk,
		state:    st,
		local:    local,
		engine:   eng,
		records:  records.NewService(st, recCfg, logger),
		settings: records.NewSettings(st, settingsMu, recCfg, logger),
	}
}

// pair returns two devices sharing one remote snapshot file.
func pair(t *testing.T) (a, b *device, remotePath string) {
	t.Helper()
	remotePath = filepath.Join(t.TempDir(), "remote", "snapshot.json")
	return newDevice(t, "laptop", remotePath), newDevice(t, "phone", remotePath), remotePath
}

// sync runs one cycle and fails the test on error.
func (d *device) sync(t *testing.T, strategy merge.Strategy) engine.Report {
	t.Helper()
	rep, err := d.engine.RunOnce(context.Background(), strategy)
	require.NoError(t, err, "%s sync", d.name)
	return rep
}

// advance moves the device clock forward from baseTime.
func (d *device) advance(offset time.Duration) {
	d.clock.Set(baseTime.Add(offset))
}

func (d *device) createTask(t *testing.T, title string) models.SyncDoc {
	t.Helper()
	doc, err := d.records.Create(context.Background(), models.CollectionTasks, map[string]any{"title": title})
	require.NoError(t, err)
	return doc
}

func (d *device) get(t *testing.T, id string) models.SyncDoc {
	t.Helper()
	doc, err := d.records.Get(context.Background(), id)
	require.NoError(t, err)
	return doc
}

// harness serves one device's MCP tools and health endpoint behind API
// key auth on a real HTTP server.
type harness struct {
	URL    string
	APIKey string
	Client *http.Client
}

func newHarness(t *testing.T, d *device) *harness {
	t.Helper()

	key, hash, err := auth.GenerateAPIKey()
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "docsync-e2e", Version: "test"},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, mcpserver.Deps{
		Records:   d.records,
		Settings:  d.settings,
		Engine:    d.engine,
		Conflicts: d.state,
	})

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	mux := server.NewMux(server.MuxConfig{
		Keys:       auth.NewKeyStore([]auth.APIKey{{UserID: "e2e", Hash: []byte(hash)}}),
		MCPHandler: mcpHandler,
		Engine:     d.engine,
		Device:     d.name,
		Logger:     logger,
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &harness{URL: srv.URL, APIKey: key, Client: srv.Client()}
}

// mcpSession creates an MCP client session authenticated with the given
// Bearer token. Uses the MCP SDK's StreamableClientTransport with a
// custom HTTP RoundTripper that injects the Authorization header.
func (h *harness) mcpSession(t *testing.T, token string) *mcp.ClientSession {
	t.Helper()

	transport := &mcp.StreamableClientTransport{
		Endpoint: h.URL + "/mcp",
		HTTPClient: &http.Client{
			Transport: &bearerTransport{
				token: token,
				base:  h.Client.Transport,
			},
		},
		DisableStandaloneSSE: true,
	}

	client := mcp.NewClient(
		&mcp.Implementation{Name: "e2e-test-client", Version: "test"},
		nil,
	)

	session, err := client.Connect(t.Context(), transport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

// doGet performs a GET request with t.Context().
func (h *harness) doGet(t *testing.T, path string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), "GET", h.URL+path, nil)
	require.NoError(t, err)

	resp, err := h.Client.Do(req)
	require.NoError(t, err)

	return resp
}

// bearerTransport is an http.RoundTripper that injects a Bearer token
// into every request's Authorization header.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (bt *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+bt.token)

	return bt.base.RoundTrip(req)
}

// callTool calls a tool and decodes its JSON text content into dest.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any, dest any) *mcp.CallToolResult {
	t.Helper()

	result, err := session.CallTool(t.Context(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)

	if dest != nil && !result.IsError {
		require.NotEmpty(t, result.Content)
		tc, ok := result.Content[0].(*mcp.TextContent)
		require.True(t, ok, "first content is not TextContent")
		require.NoError(t, json.Unmarshal([]byte(tc.Text), dest))
	}

	return result
}
