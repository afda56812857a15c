// Command geographer loads map datasets without a window: it preloads and
// serves metrics, imports a data directory into PostgreSQL, or replays a game
// against the recording renderer.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/romain-lelaidier/the-geographer/internal/config"
	"github.com/romain-lelaidier/the-geographer/internal/datastore"
	"github.com/romain-lelaidier/the-geographer/internal/geodata"
	"github.com/romain-lelaidier/the-geographer/internal/mapview"
	"github.com/romain-lelaidier/the-geographer/internal/metrics"
	"github.com/romain-lelaidier/the-geographer/internal/render"
	"github.com/romain-lelaidier/the-geographer/internal/session"
)

const ConfigPath = "config/geographer.yaml"

const usage = `usage:
  geographer                 preload datasets and serve metrics (SIGHUP reloads)
  geographer import <dir>    copy <dir>/*.bin into postgres
  geographer play <code>     replay a game, clicking every answer`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load(config.Path(ConfigPath))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	lvl, err := cfg.Level()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))

	cmd := ""
	if len(args) > 0 {
		cmd = args[0]
	}
	switch {
	case cmd == "":
		return serve(ctx, cfg)
	case cmd == "import" && len(args) == 2:
		return importDir(ctx, cfg, args[1])
	case cmd == "play" && len(args) == 2:
		return play(ctx, cfg, args[1])
	}
	fmt.Fprintln(os.Stderr, usage)
	return fmt.Errorf("bad arguments %q", args)
}

func serve(ctx context.Context, cfg config.Config) error {
	src, closeSrc, err := datastore.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer closeSrc()
	slog.Info("geographer starting", "source", src.Kind(), "preload", cfg.Preload)

	loader := datastore.NewLoader(src)
	start := time.Now()
	if err := loader.Preload(ctx, cfg.Preload); err != nil {
		return fmt.Errorf("preloading: %w", err)
	}
	slog.Info("datasets ready", "count", len(cfg.Preload), "took", time.Since(start))

	if cfg.MetricsAddr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("serving metrics", "addr", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return reloadOnHangup(gctx, loader)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// reloadOnHangup refetches the cached datasets on every SIGHUP until ctx ends.
// A failed reload is logged and the server keeps running.
func reloadOnHangup(ctx context.Context, loader *datastore.Loader) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if err := loader.Reload(ctx); err != nil {
				slog.Error("reload failed", "err", err)
			}
		}
	}
}

func importDir(ctx context.Context, cfg config.Config, dir string) error {
	files, err := datastore.NewDirSource(dir)
	if err != nil {
		return err
	}
	pg, err := datastore.NewPGSource(ctx, cfg.Database.DSN())
	if err != nil {
		return err
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		return err
	}

	n, err := pg.Import(ctx, files)
	if err != nil {
		return fmt.Errorf("importing %s: %w", dir, err)
	}
	slog.Info("import done", "dir", dir, "datasets", n)
	return nil
}

// play answers every question by clicking the zone centre or city position
// through the controller, then reports the score.
func play(ctx context.Context, cfg config.Config, code string) error {
	params := session.ParseParams(code)

	src, closeSrc, err := datastore.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer closeSrc()

	ds, err := datastore.NewLoader(src).Load(ctx, params.DatasetName())
	if err != nil {
		return err
	}
	s, err := session.New(ds, params, nil)
	if err != nil {
		return err
	}

	view, err := mapview.ConfigFrom(cfg.View, cfg.Colors)
	if err != nil {
		return err
	}
	rec := render.NewRecorder()
	g, err := mapview.NewGame(rec, s, ds, view)
	if err != nil {
		return err
	}

	missed := 0
	for !s.Done() {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := s.Current()
		x, y := g.Camera().CoordToCanvas(target(ds, params.Kind(), id))
		g.PointerMove(x, y)
		g.PointerDown(x, y)
		g.PointerUp()
		if !s.Done() && s.Current() == id {
			// hit-testing disagreed with the marker position
			missed++
			s.Click(params.Kind(), id)
		}
		if err := g.Tick(16); err != nil {
			return err
		}
		rec.Reset()
	}

	good, total := s.Clicks()
	slog.Info("game replayed",
		"game", params.Code,
		"dataset", params.DatasetName(),
		"questions", len(s.Queue()),
		"clicks", total,
		"correct", good,
		"missed", missed,
		"accuracy", s.Accuracy())
	return nil
}

func target(ds *geodata.Dataset, kind geodata.Kind, id int) geodata.Coord {
	if kind == geodata.KindCity {
		if c, ok := ds.City(id); ok {
			return c.Coord
		}
		return geodata.Coord{}
	}
	if z, ok := ds.Zone(id); ok {
		return z.Center
	}
	return geodata.Coord{}
}
