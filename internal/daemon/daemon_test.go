package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matjam/waypaper/internal/config"
	"github.com/matjam/waypaper/internal/ipc"
	"github.com/matjam/waypaper/internal/surface"
	"github.com/matjam/waypaper/internal/surface/surfacetest"
	"github.com/matjam/waypaper/internal/types"
	"github.com/matjam/waypaper/internal/video"
	"github.com/matjam/waypaper/internal/wallpaper"
)

// steadyDecoder produces a frame every few milliseconds until closed.
type steadyDecoder struct {
	opts video.DecoderOptions
	w, h int
}

func (d *steadyDecoder) Open(context.Context) (video.Info, error) {
	d.w, d.h = d.opts.Fit(640, 360)
	return video.Info{Decoder: "test", SourceWidth: 640, SourceHeight: 360, Width: d.w, Height: d.h}, nil
}

func (d *steadyDecoder) Next(ctx context.Context) (*surface.Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return surface.NewFrame(d.w, d.h), nil
	}
}

func (d *steadyDecoder) Rewind() error { return nil }
func (d *steadyDecoder) Close() error  { return nil }

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Socket:        filepath.Join(t.TempDir(), "waypaper.sock"),
		TargetFPS:     30,
		MaxResolution: config.Resolution{Width: 1920, Height: 1080},
		DecodeMode:    types.DecodeSoftware,
		ShutdownGrace: time.Second,
		ClientTimeout: 5 * time.Second,
	}
}

func videoDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	manifest, _ := json.Marshal(map[string]any{"type": "video", "file": "loop.mp4", "title": "loop"})
	if err := os.WriteFile(filepath.Join(dir, wallpaper.ManifestName), manifest, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "loop.mp4"), []byte("frames"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func start(t *testing.T, cfg config.Config, display *surfacetest.Display) (*ipc.Client, <-chan error) {
	t.Helper()
	d := New(cfg, display, Options{
		ConfigFile: "test.toml",
		Factories: map[types.WallpaperType]wallpaper.Factory{
			types.WallpaperVideo: video.NewFactory(video.Options{
				NewDecoder: func(opts video.DecoderOptions) video.Decoder { return &steadyDecoder{opts: opts} },
			}),
		},
	})

	ran := make(chan error, 1)
	go func() { ran <- d.Run(context.Background()) }()

	c := ipc.NewClient(cfg.Socket, cfg.ClientTimeout)
	t.Cleanup(func() { c.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := c.Status(context.Background())
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("daemon did not come up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	return c, ran
}

func activeOutputs(t *testing.T, c *ipc.Client) int {
	t.Helper()
	infos, err := c.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, info := range infos {
		if info.State == wallpaper.PhaseActive {
			n++
		}
	}
	return n
}

func TestRun_ShutdownTearsDownEveryOutput(t *testing.T) {
	cfg := testConfig(t)
	cfg.Wallpaper = videoDir(t)
	display := surfacetest.New(
		surfacetest.NewOutput(1, "DP-1", 2560, 1440),
		surfacetest.NewOutput(2, "HDMI-A-1", 1920, 1080),
	)
	c, ran := start(t, cfg, display)

	deadline := time.Now().Add(3 * time.Second)
	for activeOutputs(t, c) != 2 {
		if time.Now().After(deadline) {
			t.Fatal("initial wallpaper not playing on both outputs")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case err := <-ran:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	for _, name := range []string{"DP-1", "HDMI-A-1"} {
		if n := display.Live(name); n != 0 {
			t.Errorf("%s: %d surfaces left", name, n)
		}
		if n := display.MaxLive(name); n != 1 {
			t.Errorf("%s: max live surfaces = %d", name, n)
		}
	}
	if _, err := os.Stat(cfg.Socket); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("socket left behind: %v", err)
	}
}

func TestRun_SetOverSocket(t *testing.T) {
	cfg := testConfig(t)
	display := surfacetest.New(surfacetest.NewOutput(1, "DP-1", 1920, 1080))
	c, ran := start(t, cfg, display)

	if activeOutputs(t, c) != 0 {
		t.Fatal("outputs active without a wallpaper")
	}

	res, err := c.Set(context.Background(), videoDir(t), "DP-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Descriptor.Title != "loop" || len(res.Outputs) != 1 || res.Outputs[0] != "DP-1" {
		t.Errorf("set result = %+v", res)
	}

	_, err = c.Set(context.Background(), videoDir(t), "DP-9")
	if !errors.Is(err, &wallpaper.Error{Kind: wallpaper.KindOutputUnavailable}) {
		t.Errorf("unknown output: err = %v", err)
	}

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := <-ran; err != nil {
		t.Fatalf("Run returned %v", err)
	}

	if _, err := c.Status(context.Background()); !errors.Is(err, ipc.ErrDaemonNotRunning) {
		t.Errorf("status after shutdown: %v", err)
	}
}

func TestRun_SocketInUse(t *testing.T) {
	cfg := testConfig(t)
	_, ran := start(t, cfg, surfacetest.New())

	display := surfacetest.New()
	err := New(cfg, display, Options{}).Run(context.Background())
	if !errors.Is(err, ipc.ErrDaemonRunning) {
		t.Fatalf("second daemon: err = %v", err)
	}

	c := ipc.NewClient(cfg.Socket, time.Second)
	defer c.Close()
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := <-ran; err != nil {
		t.Fatal(err)
	}
}
