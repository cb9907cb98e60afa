package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/matjam/waypaper/internal/config"
	"github.com/matjam/waypaper/internal/ipc"
	"github.com/matjam/waypaper/internal/surface"
	"github.com/matjam/waypaper/internal/types"
	"github.com/matjam/waypaper/internal/video"
	"github.com/matjam/waypaper/internal/wallpaper"
	"go.uber.org/multierr"
)

type Options struct {
	ConfigFile string

	// Factories overrides the backend table. Video playback through
	// GStreamer is used when nil.
	Factories map[types.WallpaperType]wallpaper.Factory
}

// Daemon owns the surface layer, the wallpaper manager and the control
// socket for the lifetime of one Run.
type Daemon struct {
	cfg     config.Config
	layer   *surface.Layer
	manager *wallpaper.Manager
	server  *ipc.Server
}

func New(cfg config.Config, display surface.Display, opts Options) *Daemon {
	factories := opts.Factories
	if factories == nil {
		factories = map[types.WallpaperType]wallpaper.Factory{
			types.WallpaperVideo: video.NewFactory(video.Options{}),
		}
	}

	layer := surface.New(display)
	manager := wallpaper.NewManager(layer, factories, wallpaper.Options{
		TargetFPS:     cfg.TargetFPS,
		MaxResolution: cfg.MaxResolution,
		DecodeMode:    cfg.DecodeMode,
		StopGrace:     cfg.ShutdownGrace,
	})

	d := &Daemon{
		cfg:     cfg,
		layer:   layer,
		manager: manager,
	}
	d.server = ipc.NewServer(manager, ipc.ServerOptions{
		Socket:          cfg.Socket,
		ConfigFile:      opts.ConfigFile,
		ShutdownTimeout: d.shutdownTimeout,
	})
	return d
}

// Run serves the control socket until a Shutdown request, SIGINT/SIGTERM or
// ctx ends it. A clean shutdown returns nil.
func (d *Daemon) Run(ctx context.Context) error {
	listener, err := ipc.Listen(d.cfg.Socket)
	if err != nil {
		return multierr.Append(err, d.layer.Close())
	}

	log.Infof("waypaper daemon started in PID %d", os.Getpid())
	for _, o := range d.layer.Outputs() {
		log.Infof("output %s", o)
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hotplugCtx, cancelHotplug := context.WithCancel(context.Background())
	hotplugDone := make(chan struct{})
	go func() {
		defer close(hotplugDone)
		d.manager.Run(hotplugCtx, d.layer.Events())
	}()

	served := make(chan error, 1)
	go func() { served <- d.server.Serve(listener) }()

	if d.cfg.Wallpaper != "" {
		go d.applyInitial(hotplugCtx, config.CanonicalPath(d.cfg.Wallpaper))
	}

	var runErr error
	serving := true
	select {
	case <-d.server.Done():
		log.Info("shutdown requested over the control socket")
	case <-sigCtx.Done():
		log.Infof("shutting down: %v", context.Cause(sigCtx))
		runErr = d.shutdownManager()
	case err := <-served:
		serving = false
		log.Errorf("control socket stopped: %v", err)
		runErr = multierr.Append(err, d.shutdownManager())
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.server.Close(closeCtx); err != nil {
		log.Warnf("closing control socket: %v", err)
	}
	if serving {
		runErr = multierr.Append(runErr, <-served)
	}

	cancelHotplug()
	<-hotplugDone

	runErr = multierr.Append(runErr, d.layer.Close())

	if err := os.Remove(d.cfg.Socket); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("removing socket: %v", err)
	}

	if runErr != nil {
		return runErr
	}
	log.Info("waypaper exited")
	return nil
}

func (d *Daemon) applyInitial(ctx context.Context, path string) {
	res, err := d.manager.Set(ctx, path, "")
	if err != nil {
		if wallpaper.KindOf(err) != wallpaper.KindShuttingDown {
			log.Errorf("initial wallpaper %s: %v", path, err)
		}
		return
	}
	log.Infof("playing %q on %v", res.Descriptor.Title, res.Outputs)
}

// shutdownTimeout bounds a full manager shutdown: one stop per output, each
// within the grace period, plus slack for a pending change.
func (d *Daemon) shutdownTimeout() time.Duration {
	n := len(d.layer.Outputs()) + 1
	return time.Duration(n)*2*d.cfg.ShutdownGrace + 5*time.Second
}

// shutdownManager tears down every session within shutdownTimeout.
func (d *Daemon) shutdownManager() error {
	ctx, cancel := context.WithTimeout(context.Background(), d.shutdownTimeout())
	defer cancel()

	if err := d.manager.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
