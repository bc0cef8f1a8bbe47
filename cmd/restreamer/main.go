// Command restreamer splices a recorded programme: it reads a WAV input,
// handles its ad breaks according to the configured mode and writes the
// result as WAV.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/restreamer/internal/app"
	"github.com/MrWong99/restreamer/internal/config"
	"github.com/MrWong99/restreamer/internal/health"
	"github.com/MrWong99/restreamer/internal/observe"
	"github.com/MrWong99/restreamer/pkg/ads"
	"github.com/MrWong99/restreamer/pkg/ads/postgres"
	"github.com/MrWong99/restreamer/pkg/ads/wavdir"
	"github.com/MrWong99/restreamer/pkg/audio"
	"github.com/MrWong99/restreamer/pkg/audio/wavio"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	inPath := flag.String("in", "", "input WAV file")
	outPath := flag.String("out", "out.wav", "output WAV file")
	bitDepth := flag.Int("bit-depth", wavio.DefaultBitDepth, "bit depth of the output WAV file")
	flag.Parse()

	if *inPath == "" {
		fmt.Fprintln(os.Stderr, "restreamer: -in is required")
		flag.Usage()
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "restreamer: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "restreamer: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("restreamer starting",
		"config", *configPath,
		"in", *inPath,
		"out", *outPath,
		"mode", cfg.Stream.Mode,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "restreamer",
		Attributes:  []attribute.KeyValue{attribute.String("restreamer.mode", string(cfg.Stream.Mode))},
	})
	if err != nil {
		slog.Error("failed to init telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	store := &sharedStore{dsn: cfg.Ads.PostgresDSN}
	defer store.Close()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg, store)

	// ── Instantiate providers ─────────────────────────────────────────────────
	var providers *app.Providers
	if cfg.Stream.Mode == config.ModeAds {
		providers, err = buildProviders(ctx, cfg, reg)
		if err != nil {
			slog.Error("failed to build providers", "err", err)
			return 1
		}
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithMetrics(tel.Metrics))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Ops server (optional) ─────────────────────────────────────────────────
	checkers := application.Checkers()
	if store.Opened() {
		checkers = append(checkers, health.PingChecker("postgres", store))
	}
	probes := health.New(checkers...)
	var srv *http.Server
	if addr := cfg.Server.ListenAddr; addr != "" {
		srv = newOpsServer(addr, probes, tel)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("ops server error", "err", err)
			}
		}()
		slog.Info("ops server listening", "addr", addr)
	}

	// ── Stream ────────────────────────────────────────────────────────────────
	startedAt := time.Now()
	runErr := stream(ctx, application, *inPath, *outPath, *bitDepth)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	probes.SetDraining(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("ops server shutdown error", "err", err)
		}
	}
	if store.Opened() && application.Planner() != nil {
		logPlays(shutdownCtx, store.store, application.Planner().ClientID(), startedAt)
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// stream decodes inPath, runs it through the application and encodes the
// result into outPath.
func stream(ctx context.Context, a *app.App, inPath, outPath string, bitDepth int) (err error) {
	clip, err := wavio.ReadFile(inPath)
	if err != nil {
		return err
	}
	params := a.Params()
	target := params.Format()
	conv := audio.Converter{Target: audio.Format{
		SampleRate: target.SampleRate,
		Channels:   target.Channels,
		Layout:     audio.Interleaved,
	}}
	samples := conv.Convert(audio.FromInterleaved(clip.Format, clip.Samples, 0)).Planes[0]
	frames := audio.Reframe(target, samples, params.SamplesPerFrame)
	slog.Info("input decoded",
		"source", clip.Format.String(),
		"duration", clip.Duration(),
		"frames", len(frames),
	)

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	w, err := wavio.NewWriter(f, target, bitDepth)
	if err != nil {
		return err
	}

	in := make(chan audio.Frame)
	out := make(chan audio.Frame, 64)
	go func() {
		defer close(in)
		for _, fr := range frames {
			select {
			case in <- fr:
			case <-ctx.Done():
				return
			}
		}
	}()

	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx, in, out) }()

	var writeErr error
	for fr := range out {
		if writeErr != nil {
			continue
		}
		writeErr = w.WriteFrame(fr)
	}
	runErr := <-errc
	if cerr := w.Close(); writeErr == nil {
		writeErr = cerr
	}
	if writeErr != nil {
		return fmt.Errorf("write output: %w", writeErr)
	}
	slog.Info("output written", "path", outPath, "samples", w.Written())
	return runErr
}

// newOpsServer serves the health probes and the Prometheus scrape endpoint.
func newOpsServer(addr string, probes *health.Handler, tel *observe.Telemetry) *http.Server {
	mux := http.NewServeMux()
	probes.Register(mux)
	mux.Handle("GET /metrics", tel.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(tel.Metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// sharedStore opens the Postgres play store on first use, so the catalog
// inventory and the reporter share one connection pool.
type sharedStore struct {
	dsn   string
	once  sync.Once
	store *postgres.Store
	err   error
}

func (s *sharedStore) get(ctx context.Context) (*postgres.Store, error) {
	s.once.Do(func() {
		if s.dsn == "" {
			s.err = errors.New("ads.postgres_dsn is not set")
			return
		}
		s.store, s.err = postgres.NewStore(ctx, s.dsn)
	})
	return s.store, s.err
}

// Opened reports whether the store was opened successfully.
func (s *sharedStore) Opened() bool { return s.store != nil }

// Ping implements [health.Pinger].
func (s *sharedStore) Ping(ctx context.Context) error {
	if s.store == nil {
		return errors.New("store not opened")
	}
	return s.store.Ping(ctx)
}

// Close releases the pool if it was opened.
func (s *sharedStore) Close() {
	if s.store != nil {
		s.store.Close()
	}
}

// logPlays summarises the plays recorded since since and warns about plays
// of client that were never reported finished.
func logPlays(ctx context.Context, st *postgres.Store, client uuid.UUID, since time.Time) {
	stats, err := st.Stats(ctx, since)
	if err != nil {
		slog.Warn("failed to read play stats", "err", err)
		return
	}
	for _, ps := range stats {
		slog.Info("ad plays", "ad", ps.ID, "plays", ps.Plays, "completed", ps.Completed, "last", ps.LastPlayed)
	}
	open, err := st.OpenPlays(ctx, client)
	if err != nil {
		slog.Warn("failed to count open plays", "err", err)
		return
	}
	if open > 0 {
		slog.Warn("plays left unfinished", "client", client, "count", open)
	}
}

// registerBuiltinProviders wires all built-in inventory and reporter
// factories into reg.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config, store *sharedStore) {
	// ── Inventories ───────────────────────────────────────────────────────────

	reg.RegisterInventory("wavdir", func(_ context.Context, entry config.ProviderEntry) (ads.Inventory, error) {
		return newWavdir(entry, cfg.Stream.Language)
	})

	// postgres lists the catalog table and decodes tracks from a wavdir.
	// With sync enabled the catalog is refreshed from the directory first.
	reg.RegisterInventory("postgres", func(ctx context.Context, entry config.ProviderEntry) (ads.Inventory, error) {
		files, err := newWavdir(entry, cfg.Stream.Language)
		if err != nil {
			return nil, err
		}
		st, err := store.get(ctx)
		if err != nil {
			return nil, err
		}
		catalog := postgres.NewCatalog(st.DB(), files)

		refresh, err := entry.BoolOption("sync", false)
		if err != nil {
			return nil, err
		}
		if refresh {
			items, err := files.Content(ctx)
			if err != nil {
				return nil, err
			}
			if err := catalog.Sync(ctx, items); err != nil {
				return nil, err
			}
			slog.Info("ad catalog synced", "items", len(items))
		}
		return catalog, nil
	})

	// ── Reporters ─────────────────────────────────────────────────────────────

	reg.RegisterReporter("log", func(context.Context, config.ProviderEntry) (ads.Reporter, error) {
		return ads.LogReporter{}, nil
	})

	reg.RegisterReporter("postgres", func(ctx context.Context, _ config.ProviderEntry) (ads.Reporter, error) {
		return store.get(ctx)
	})

	invs, reps := reg.Names()
	slog.Debug("registered providers", "inventories", invs, "reporters", reps)
}

// newWavdir opens the directory named by the "dir" option. A configured
// language selects the sub-directory of that name.
func newWavdir(entry config.ProviderEntry, language string) (*wavdir.Inventory, error) {
	dir, err := entry.StringOption("dir", "")
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return nil, fmt.Errorf("%s: options.dir is required", entry.Name)
	}
	if language != "" {
		dir = filepath.Join(dir, language)
	}
	return wavdir.New(dir)
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	seen := make(map[string]int)

	for i, entry := range cfg.Ads.Inventories {
		inv, err := reg.CreateInventory(ctx, entry)
		if err != nil {
			return nil, fmt.Errorf("create inventory %d (%q): %w", i, entry.Name, err)
		}
		// Breakers and metrics are keyed by name, so repeated entries get a
		// numeric suffix.
		name := entry.Name
		if n := seen[entry.Name]; n > 0 {
			name = fmt.Sprintf("%s-%d", entry.Name, n+1)
		}
		seen[entry.Name]++
		ps.Inventories = append(ps.Inventories, app.NamedInventory{Name: name, Inventory: inv})
		slog.Info("provider created", "kind", "inventory", "name", name)
	}

	rep, err := reg.CreateReporter(ctx, cfg.Ads.Reporter)
	if err != nil {
		return nil, fmt.Errorf("create reporter %q: %w", cfg.Ads.Reporter.Name, err)
	}
	ps.Reporter = rep
	slog.Info("provider created", "kind", "reporter", "name", cfg.Ads.Reporter.Name)

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	s := cfg.Stream
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       Restreamer: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Mode", string(s.Mode))
	printRow("Format", fmt.Sprintf("%dHz %dch %s", s.SampleRate, s.Channels, s.Layout))
	printRow("Frame size", fmt.Sprint(s.SamplesPerFrame))
	printRow("Crossfade", fmt.Sprintf("%s x%d", s.Crossfade.Curve, s.Crossfade.Frames))
	if s.Classifier.CueSheet != "" {
		printRow("Cue sheet", filepath.Base(s.Classifier.CueSheet))
	} else {
		printRow("Cue sheet", "(all "+s.Classifier.Default+")")
	}
	if s.Mode == config.ModeAds {
		printRow("Inventories", fmt.Sprint(len(cfg.Ads.Inventories)))
		printRow("Reporter", cfg.Ads.Reporter.Name)
		if s.Language != "" {
			printRow("Language", s.Language)
		}
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Ops addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(observe.NewTraceHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
