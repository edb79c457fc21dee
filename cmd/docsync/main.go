package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alexjbarnes/docsync/internal/auth"
	"github.com/alexjbarnes/docsync/internal/config"
	"github.com/alexjbarnes/docsync/internal/engine"
	"github.com/alexjbarnes/docsync/internal/logging"
	"github.com/alexjbarnes/docsync/internal/mcpserver"
	"github.com/alexjbarnes/docsync/internal/merge"
	"github.com/alexjbarnes/docsync/internal/records"
	"github.com/alexjbarnes/docsync/internal/remote"
	"github.com/alexjbarnes/docsync/internal/server"
	"github.com/alexjbarnes/docsync/internal/snapshot"
	"github.com/alexjbarnes/docsync/internal/state"
	"github.com/alexjbarnes/docsync/internal/storage"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var Version = "dev"

// errNothingToRun is returned by the daemon when neither auto-sync nor the
// MCP server is enabled.
var errNothingToRun = errors.New("nothing to run: set SYNC_AUTO=true or ENABLE_MCP=true, or use docsync sync")

const usage = `usage: docsync [command]

commands:
  (none)            run the sync daemon
  sync [pull|push]  run one sync cycle and exit
  dump              print the local documents as YAML
  gen-key           generate an MCP API key and its bcrypt hash
`

func main() {
	// Handle gen-key subcommand before config loading.
	if len(os.Args) > 1 && os.Args[1] == "gen-key" {
		genKey()
		return
	}

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func genKey() {
	key, hash, err := auth.GenerateAPIKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, "API key (give to the client, shown once):")
	fmt.Println(key)
	fmt.Fprintln(os.Stderr, "Hash (add to MCP_API_KEYS as <user>:<hash>):")
	fmt.Println(hash)
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if len(args) == 0 {
		return a.daemon(ctx)
	}

	switch args[0] {
	case "sync":
		var name string
		if len(args) > 1 {
			name = args[1]
		}
		return a.syncOnce(ctx, name, os.Stdout)
	case "dump":
		return a.dump(ctx, os.Stdout)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// app holds the wired components shared by every command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	state    *state.State
	local    *storage.Local
	remote   remote.Store
	engine   *engine.Engine
	records  *records.Service
	settings *records.Settings
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	var (
		st  *state.State
		err error
	)
	if cfg.DBPath != "" {
		st, err = state.LoadAt(cfg.DBPath)
	} else {
		st, err = state.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	rs, err := remote.New(ctx, cfg.Remote(), logger.With(slog.String("service", "remote")))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("opening remote: %w", err)
	}

	// Shared by the sync adapter and the settings model so a merged
	// settings write never interleaves with a user edit.
	settingsMu := &sync.Mutex{}

	local := storage.NewLocal(st, logger.With(slog.String("service", "storage")),
		storage.WithSettingsLock(settingsMu),
		storage.WithMaxRetries(cfg.SyncMaxRetries),
	)

	syncLogger := logger.With(slog.String("service", "sync"))
	eng := engine.New(engine.Config{
		Local:      local,
		Remote:     rs,
		Conflicts:  st,
		Interval:   cfg.SyncInterval,
		GCInterval: cfg.SyncGCInterval,
		MinCycle:   cfg.SyncMinCycle,
		Device:     cfg.DeviceName,
		OnDataChanged: func() {
			syncLogger.Info("local documents updated from remote")
		},
		OnStatusChange: func(next, prev engine.Status) {
			syncLogger.Debug("sync status changed",
				slog.String("from", string(prev)),
				slog.String("to", string(next)),
			)
		},
	}, syncLogger)

	// Local edits push promptly instead of waiting for the next tick.
	recCfg := records.Config{
		MaxRetries: cfg.SyncMaxRetries,
		OnChange:   func() { eng.Nudge(merge.StrategyPush) },
	}
	recLogger := logger.With(slog.String("service", "records"))

	return &app{
		cfg:      cfg,
		logger:   logger,
		state:    st,
		local:    local,
		remote:   rs,
		engine:   eng,
		records:  records.NewService(st, recCfg, recLogger),
		settings: records.NewSettings(st, settingsMu, recCfg, recLogger),
	}, nil
}

func (a *app) close() {
	if err := a.state.Close(); err != nil {
		a.logger.Warn("closing state", slog.String("error", err.Error()))
	}
}

// syncOnce runs a single cycle regardless of the auto-sync setting and
// prints its report.
func (a *app) syncOnce(ctx context.Context, name string, w io.Writer) error {
	strategy, err := merge.ParseStrategy(name)
	if err != nil {
		return err
	}

	rep, err := a.engine.RunOnce(ctx, strategy)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// dump prints the local document set, with snapshot metadata, as YAML.
func (a *app) dump(ctx context.Context, w io.Writer) error {
	docs, err := a.local.LoadAllDocs(ctx)
	if err != nil {
		return err
	}

	data, err := snapshot.Encode(snapshot.Build(docs))
	if err != nil {
		return err
	}

	// Round-trip through JSON so documents render with their flat wire keys.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var tree any
	if err := dec.Decode(&tree); err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()

	return enc.Encode(tree)
}

// daemon runs auto-sync, the remote watcher, and the MCP server until
// the context is cancelled.
func (a *app) daemon(ctx context.Context) error {
	if !a.cfg.SyncAuto && !a.cfg.EnableMCP {
		return errNothingToRun
	}

	a.logger.Info("docsync starting",
		slog.String("version", Version),
		slog.String("device", a.cfg.DeviceName),
		slog.String("state_device_id", a.state.DeviceID()),
		slog.String("remote", a.cfg.RemoteKind),
		slog.Bool("auto_sync", a.cfg.SyncAuto),
		slog.Bool("mcp", a.cfg.EnableMCP),
	)

	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.SyncAuto {
		g.Go(func() error {
			if err := a.engine.Run(gctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})

		if f, ok := a.remote.(*remote.File); ok && a.cfg.RemoteWatch {
			g.Go(func() error {
				err := f.Watch(gctx, func() {
					a.engine.Nudge(merge.StrategyPull)
				})
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		}
	} else if a.cfg.RemoteWatch {
		// The engine ignores nudges while auto-sync is off.
		a.logger.Info("remote watcher not started, auto-sync is off")
	}

	if a.cfg.EnableMCP {
		g.Go(func() error {
			return a.runMCP(gctx)
		})
	}

	return g.Wait()
}

// runMCP starts the MCP HTTP server.
func (a *app) runMCP(ctx context.Context) error {
	keys, err := a.cfg.ParseMCPAPIKeys()
	if err != nil {
		return fmt.Errorf("parsing MCP API keys: %w", err)
	}

	mcpLogger := a.logger.With(slog.String("service", "mcp"))

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "docsync-mcp", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, mcpserver.Deps{
		Records:   a.records,
		Settings:  a.settings,
		Engine:    a.engine,
		Conflicts: a.state,
	})

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	mux := server.NewMux(server.MuxConfig{
		Keys:       auth.NewKeyStore(keys),
		MCPHandler: mcpHandler,
		Engine:     a.engine,
		Device:     a.cfg.DeviceName,
		Logger:     mcpLogger,
	})

	srv := &http.Server{
		Addr:         a.cfg.MCPListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	mcpLogger.Info("starting MCP server",
		slog.String("listen", a.cfg.MCPListenAddr),
		slog.Int("api_keys", len(keys)),
	)

	// Shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		mcpLogger.Info("shutting down MCP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("MCP server error: %w", err)
	}

	return nil
}
