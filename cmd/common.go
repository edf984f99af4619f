package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"modcatalog/artifacts"
	"modcatalog/cache"
	"modcatalog/catalog"
	"modcatalog/config"
	"modcatalog/db"
	"modcatalog/gameversions"
	"modcatalog/identity"
	"modcatalog/lifecycle"
	"modcatalog/logger"
	"modcatalog/notify"
	"modcatalog/proposals"
	"modcatalog/resolver"
	"modcatalog/retarget"
	"modcatalog/revocation"
)

// running is the app of the current command, flushed by fatal.
var running *app

// app is every component a command may need, wired once per invocation.
type app struct {
	cfg      config.Config
	store    *catalog.Store
	cache    *cache.Cache
	bus      *notify.Bus
	cascade  *revocation.Cascade
	machine  *lifecycle.Machine
	queue    *proposals.Queue
	registry *gameversions.Registry
	retarget *retarget.Service
	resolver *resolver.Resolver
	identity identity.Provider
}

// bootstrap handles shared initialization logic for commands.
func bootstrap(path string) *app {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		fatal("Failed to load configuration", err)
	}
	if err := logger.InitLogger(cfg.LogFile); err != nil {
		fatal("Failed to open log file", err)
	}
	if cfg.ConfigFileUsed == "" {
		logger.Log.Info("Config file (.env) not found, relying on environment variables.")
	}

	conn, err := db.InitDatabase(cfg.DatabasePath)
	if err != nil {
		fatal("Failed to initialize database", err)
	}
	logger.Log.Infow("Database initialized", zap.String("path", cfg.DatabasePath))

	running = wire(cfg, catalog.NewStore(conn), logger.Log)
	return running
}

// wire builds the component graph over an open store.
func wire(cfg config.Config, store *catalog.Store, log *zap.SugaredLogger) *app {
	sinks := []notify.Sink{notify.LogSink{Log: log}}
	if cfg.NotifyWebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.NotifyWebhookURL, log))
	}
	bus := notify.NewBus(cfg.NotifyBuffer, log, sinks...)

	c := cache.New(store, cfg.CacheSize, log)
	cascade := revocation.New(store, c, bus, log, cfg.CascadeLimit)
	storer := &artifacts.FSStore{Dir: cfg.ArtifactDir, Log: log}
	queue := proposals.New(store, c, c, bus, log, cfg.BulkConcurrency)

	name := cfg.Actor
	if actorName != "" {
		name = actorName
	}

	return &app{
		cfg:      cfg,
		store:    store,
		cache:    c,
		bus:      bus,
		cascade:  cascade,
		machine:  lifecycle.New(store, c, bus, cascade, storer, log),
		queue:    queue,
		registry: gameversions.New(store, c, c, log),
		retarget: retarget.New(store, queue, c, log, cfg.BulkConcurrency),
		resolver: resolver.New(c),
		identity: identity.StoreProvider{Store: store, Name: name},
	}
}

// close flushes pending notifications.
func (a *app) close() {
	a.bus.Close()
}

// actor resolves the acting user or exits.
func (a *app) actor(ctx context.Context) identity.Actor {
	act, err := a.identity.CurrentActor(ctx)
	if err != nil {
		fatal("Cannot determine acting user (set --actor or ACTOR)", err)
	}
	return act
}

// shutdown flushes the running app. os.Exit skips the deferred close in
// command handlers, so fatal calls it first.
func shutdown() {
	if running != nil {
		running.close()
		running = nil
	}
}

// fatal reports err on stderr and in the log, then exits.
func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	shutdown()
	logger.Log.Fatalw(msg, zap.Error(err))
	os.Exit(1) // Log may be a no-op logger before bootstrap
}

// describeError turns the catalog error taxonomy into a short label.
func describeError(err error) string {
	var blocked *catalog.CascadeBlockedError
	switch {
	case errors.As(err, &blocked):
		return fmt.Sprintf("blocked: %d verified dependants (use --allow-cascade)", blocked.DependantCount)
	case errors.Is(err, catalog.ErrAlreadyResolved):
		return "already resolved"
	case errors.Is(err, catalog.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, catalog.ErrNotFound):
		return "not found"
	case errors.Is(err, catalog.ErrInvalidTransition):
		return "invalid transition"
	case errors.Is(err, resolver.ErrUnresolved):
		return "unresolved dependency"
	case errors.Is(err, catalog.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}

func parseID(s string) (uint, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint(n), nil
}

// parseIDs accepts ids as separate arguments and/or comma separated lists.
func parseIDs(args []string) ([]uint, error) {
	var out []uint
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			id, err := parseID(part)
			if err != nil {
				return nil, err
			}
			out = append(out, id)
		}
	}
	return out, nil
}

func mustID(s string) uint {
	id, err := parseID(s)
	if err != nil {
		fatal("Bad argument", err)
	}
	return id
}

func mustIDs(args []string) []uint {
	ids, err := parseIDs(args)
	if err != nil {
		fatal("Bad argument", err)
	}
	return ids
}

func mustTarget(table, id string) catalog.Target {
	t, err := catalog.ParseTable(table)
	if err != nil {
		fatal("Bad argument", err)
	}
	return catalog.Target{Table: t, ID: mustID(id)}
}

func joinIDs(ids []uint) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, ",")
}
