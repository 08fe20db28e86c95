// Package server orchestrates all components: COMMS transport, contract
// snapshots, registry, dispatcher, event bus and the HTTP endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/morezero/command-bridge/internal/config"
	"github.com/morezero/command-bridge/internal/templates"
	"github.com/morezero/command-bridge/pkg/commsutil"
	"github.com/morezero/command-bridge/pkg/contract"
	"github.com/morezero/command-bridge/pkg/db"
	"github.com/morezero/command-bridge/pkg/dispatcher"
	"github.com/morezero/command-bridge/pkg/events"
	"github.com/morezero/command-bridge/pkg/export"
	"github.com/morezero/command-bridge/pkg/manifest"
	"github.com/morezero/command-bridge/pkg/metrics"
	"github.com/morezero/command-bridge/pkg/registry"
	"github.com/morezero/command-bridge/pkg/schema"
)

const logPrefix = "server:server"

// Contract is the exported contract the bridge serves.
type Contract struct {
	Model     *schema.Model
	Version   string
	Hash      string
	Artifacts map[string][]byte
	Changes   []contract.Change
}

// Server is the command-bridge orchestrator.
type Server struct {
	cfg      *config.Config
	subjects commsutil.Subjects
	metrics  *metrics.Metrics
	reg      *registry.Registry
	bus      *events.Bus
	disp     *dispatcher.Dispatcher
	contract *Contract

	pool       *pgxpool.Pool
	ns         *commsserver.Server
	nc         *comms.Conn
	forwarder  *events.CommsForwarder
	subs       []*comms.Subscription
	listener   net.Listener
	httpServer *http.Server
	group      *errgroup.Group
	ready      atomic.Bool

	// baseCtx parents every invocation; cancelled on shutdown.
	baseCtx    context.Context
	cancelBase context.CancelFunc
	inflightMu sync.Mutex
	inflight   map[string]context.CancelFunc
	calls      sync.WaitGroup
	closeOnce  sync.Once
	// lifecycleMu orders ready transitions against calls.Add.
	lifecycleMu sync.Mutex
}

// SetupLogging installs the default text logger at the configured level.
func SetupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	SetupLogging(cfg.LogLevel)
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting command-bridge", logPrefix))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		s.Close()
		return err
	}
	return s.Wait()
}

// Build loads the contract document, binds the template handlers, finalizes
// the registry and reconciles the contract version against the snapshot
// store. It does not touch the transport.
func Build(ctx context.Context, cfg *config.Config) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		subjects: commsutil.NewSubjects(cfg.SubjectPrefix),
		metrics:  metrics.New(),
		inflight: make(map[string]context.CancelFunc),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	// Step 1: Load contract document and bind handlers
	reg, bus, err := assemble(cfg, s.metrics)
	if err != nil {
		return nil, err
	}
	s.reg, s.bus = reg, bus
	s.disp = dispatcher.NewDispatcher(dispatcher.NewDispatcherParams{Registry: s.reg, Emitter: s.bus, Metrics: s.metrics})

	// Step 2: Snapshot store
	var store contract.SnapshotStore = contract.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
		}
		s.pool = pool
		if cfg.RunMigrations {
			if err := migrate(ctx, pool, cfg.MigrationPath); err != nil {
				s.Close()
				return nil, err
			}
		}
		store = db.NewRepository(pool)
	}

	// Step 3: Export and version the contract
	c, err := buildContract(ctx, store, s.reg.Model(s.bus.Signatures()))
	if err != nil {
		s.Close()
		return nil, err
	}
	s.contract = c
	return s, nil
}

// LoadModel loads the configured contract document, binds it to the
// template handlers and returns the finalized model.
func LoadModel(cfg *config.Config) (*schema.Model, error) {
	reg, bus, err := assemble(cfg, nil)
	if err != nil {
		return nil, err
	}
	return reg.Model(bus.Signatures()), nil
}

func assemble(cfg *config.Config, m *metrics.Metrics) (*registry.Registry, *events.Bus, error) {
	doc, source, err := manifest.Load(cfg.ContractFile)
	if err != nil {
		return nil, nil, fmt.Errorf("%s - failed to load contract document: %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Contract document %q from %s", logPrefix, doc.Name, source))

	reg := registry.NewRegistry(registry.NewRegistryParams{})
	bus := events.NewBus(events.NewBusParams{Types: reg.Types(), Metrics: m})
	feature := templates.NewService(templates.NewServiceParams{ChunkDelay: cfg.RenderChunkDelay})
	if err := manifest.Apply(doc, manifest.ApplyParams{Registry: reg, Bus: bus, Handlers: feature.Handlers()}); err != nil {
		return nil, nil, fmt.Errorf("%s - failed to apply contract document: %w", logPrefix, err)
	}
	if err := reg.Finalize(); err != nil {
		return nil, nil, fmt.Errorf("%s - failed to finalize registry: %w", logPrefix, err)
	}
	if err := bus.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%s - failed to validate channels: %w", logPrefix, err)
	}
	return reg, bus, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool, path string) error {
	migrations, err := db.LoadMigrations(path)
	if err != nil {
		return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
	}
	if _, err := db.RunMigrations(ctx, pool, migrations); err != nil {
		return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
	}
	return nil
}

// buildContract exports m for every target and records its version. The
// TypeScript artifact is the one hashed.
func buildContract(ctx context.Context, store contract.SnapshotStore, m *schema.Model) (*Contract, error) {
	c := &Contract{Model: m, Artifacts: map[string][]byte{}}
	for name, e := range export.Targets() {
		artifact, err := e.Export(m)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to export %s: %w", logPrefix, name, err)
		}
		c.Artifacts[name] = artifact
	}

	res, err := contract.Reconcile(ctx, store, m, c.Artifacts["ts"])
	if err != nil {
		return nil, fmt.Errorf("%s - failed to reconcile contract: %w", logPrefix, err)
	}
	c.Version, c.Hash, c.Changes = res.Snapshot.Version, res.Snapshot.Hash, res.Changes
	for _, ch := range res.Changes {
		if ch.Breaking {
			slog.Warn(fmt.Sprintf("%s - Breaking contract change: %s", logPrefix, ch))
		}
	}
	slog.Info(fmt.Sprintf("%s - Contract version %s (%s)", logPrefix, c.Version, c.Hash[:12]))
	return c, nil
}

// Contract returns the contract being served.
func (s *Server) Contract() *Contract {
	return s.contract
}

// Start connects to COMMS, subscribes the bridge subjects, starts event
// forwarding and the HTTP endpoint. Everything stops when ctx is done;
// Wait blocks until then.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.cfg

	// Step 4: Connect to COMMS (embedded or standalone)
	url := cfg.COMMSURL
	if cfg.COMMSEmbedded {
		ns, err := commsutil.StartEmbedded(commsutil.EmbeddedOpts{Port: cfg.COMMSEmbeddedPort})
		if err != nil {
			return fmt.Errorf("%s - failed to start embedded COMMS: %w", logPrefix, err)
		}
		s.ns = ns
		url = ns.ClientURL()
	}
	nc, err := commsutil.Connect(commsutil.ConnectOpts{URL: url, Name: cfg.COMMSName})
	if err != nil {
		return fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}
	s.nc = nc

	// Step 5: Subscribe bridge subjects
	handlers := []struct {
		subject string
		handler comms.MsgHandler
	}{
		{s.subjects.Invoke(), s.onInvoke},
		{s.subjects.Cancel(), s.onCancel},
		{s.subjects.Contract(), s.onContract},
	}
	for _, h := range handlers {
		sub, err := nc.Subscribe(h.subject, h.handler)
		if err != nil {
			return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, h.subject, err)
		}
		s.subs = append(s.subs, sub)
		slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, h.subject))
	}
	if err := nc.Flush(); err != nil {
		return fmt.Errorf("%s - failed to flush subscriptions: %w", logPrefix, err)
	}

	// Step 6: Forward events
	s.forwarder = events.NewCommsForwarder(nc, s.bus, &events.CommsForwarderOpts{Prefix: cfg.SubjectPrefix})
	if err := s.forwarder.Start(ctx); err != nil {
		return fmt.Errorf("%s - failed to start event forwarding: %w", logPrefix, err)
	}

	// Step 7: HTTP endpoint
	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("%s - failed to listen on %s: %w", logPrefix, cfg.ListenAddr(), err)
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	s.group = g
	g.Go(func() error {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, ln.Addr()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s - HTTP server error: %w", logPrefix, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info(fmt.Sprintf("%s - Shutting down", logPrefix))
		s.Close()
		return nil
	})

	s.lifecycleMu.Lock()
	s.ready.Store(true)
	s.lifecycleMu.Unlock()
	slog.Info(fmt.Sprintf("%s - command-bridge is ready (contract %s)", logPrefix, s.contract.Version))
	return nil
}

// Wait blocks until the server has shut down.
func (s *Server) Wait() error {
	if s.group == nil {
		return nil
	}
	err := s.group.Wait()
	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return err
}

// HTTPAddr returns the bound HTTP address once started.
func (s *Server) HTTPAddr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// COMMSURL returns the URL of the connected COMMS server once started.
func (s *Server) COMMSURL() string {
	if s.nc == nil {
		return ""
	}
	return s.nc.ConnectedUrl()
}

// Close releases everything Start and Build acquired. In-flight calls get a
// cancelled context and are waited for. Safe to call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(s.close)
}

func (s *Server) close() {
	s.lifecycleMu.Lock()
	s.ready.Store(false)
	s.lifecycleMu.Unlock()
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
	s.cancelBase()
	s.calls.Wait()

	if s.forwarder != nil {
		s.forwarder.Stop()
	}
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.httpServer.Shutdown(shutdownCtx)
		cancel()
	}
	if s.nc != nil {
		s.nc.Drain()
		s.nc = nil
	}
	if s.ns != nil {
		s.ns.Shutdown()
		s.ns.WaitForShutdown()
		s.ns = nil
	}
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
}
