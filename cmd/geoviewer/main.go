// Command geoviewer opens an interactive map window and plays one game.
//
//	geoviewer [code]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/romain-lelaidier/the-geographer/internal/camera"
	"github.com/romain-lelaidier/the-geographer/internal/config"
	"github.com/romain-lelaidier/the-geographer/internal/datastore"
	"github.com/romain-lelaidier/the-geographer/internal/geodata"
	"github.com/romain-lelaidier/the-geographer/internal/mapview"
	"github.com/romain-lelaidier/the-geographer/internal/projection"
	"github.com/romain-lelaidier/the-geographer/internal/render/ebitendev"
	"github.com/romain-lelaidier/the-geographer/internal/session"
)

const ConfigPath = "config/geographer.yaml"

var projectionKeys = map[ebiten.Key]projection.ID{
	ebiten.Key1: projection.Identity,
	ebiten.Key2: projection.Mercator,
	ebiten.Key3: projection.Stereographic,
	ebiten.Key4: projection.Natural,
	ebiten.Key5: projection.Sinusoidal,
	ebiten.Key6: projection.Lambert,
}

type viewer struct {
	game *mapview.Game
	dev  *ebitendev.Device
	ds   *geodata.Dataset

	last     time.Time
	mx, my   int
	hovering string
	status   string
}

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(config.Path(ConfigPath))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	lvl, err := cfg.Level()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))

	code := session.DefaultCode
	if len(os.Args) > 1 {
		code = os.Args[1]
	}
	params := session.ParseParams(code)

	ctx := context.Background()
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

	dev := ebitendev.New()
	g, err := mapview.NewGame(dev, s, ds, view)
	if err != nil {
		return err
	}
	v := &viewer{game: g, dev: dev, ds: ds, last: time.Now()}
	g.OnHover = v.hover
	g.OnResult = v.result
	v.prompt()

	ebiten.SetWindowSize(int(view.Width), int(view.Height))
	ebiten.SetWindowTitle("geographer - " + params.Code)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	return ebiten.RunGame(v)
}

func (v *viewer) Update() error {
	if x, y := ebiten.CursorPosition(); x != v.mx || y != v.my {
		v.mx, v.my = x, y
		v.game.PointerMove(float64(x), float64(y))
	}
	if inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft) {
		v.game.PointerDown(float64(v.mx), float64(v.my))
	}
	if inpututil.IsMouseButtonJustReleased(ebiten.MouseButtonLeft) {
		v.game.PointerUp()
	}
	if _, wy := ebiten.Wheel(); wy != 0 {
		v.game.Wheel(-wy * camera.WheelUnit)
	}
	for key, id := range projectionKeys {
		if inpututil.IsKeyJustPressed(key) {
			v.game.SetProjection(id)
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}

	now := time.Now()
	elapsed := float64(now.Sub(v.last).Microseconds()) / 1000
	v.last = now
	return v.game.Tick(elapsed)
}

func (v *viewer) Draw(screen *ebiten.Image) {
	v.dev.Present(screen)
	ebitenutil.DebugPrint(screen, v.status+"\n"+v.hovering)
}

func (v *viewer) Layout(outsideWidth, outsideHeight int) (int, int) {
	v.game.Resize(float64(outsideWidth), float64(outsideHeight))
	return outsideWidth, outsideHeight
}

func (v *viewer) hover(kind geodata.Kind, entering bool, id int) {
	if !entering {
		v.hovering = ""
		return
	}
	v.hovering = v.name(kind, id)
}

func (v *viewer) result(kind geodata.Kind, id int, res session.Result) {
	slog.Debug("click", "kind", kind, "id", id, "outcome", res.Outcome)
	v.prompt()
}

func (v *viewer) prompt() {
	s := v.game.Session
	good, total := s.Clicks()
	if s.Done() {
		v.status = fmt.Sprintf("done in %s, accuracy %.1f%% (%d/%d)", s.Elapsed().Round(time.Second), s.Accuracy(), good, total)
		return
	}
	v.status = fmt.Sprintf("find %s  [%d left, %d/%d]", v.name(s.Params().Kind(), s.Current()), s.Remaining(), good, total)
}

func (v *viewer) name(kind geodata.Kind, id int) string {
	if kind == geodata.KindCity {
		if c, ok := v.ds.City(id); ok {
			return c.Name.Preferred("en")
		}
		return ""
	}
	if z, ok := v.ds.Zone(id); ok {
		return z.Info.Name.Preferred("en")
	}
	return ""
}
