package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
	"github.com/matjam/waypaper/internal/middleware"
	"github.com/matjam/waypaper/internal/wallpaper"
)

var ErrDaemonRunning = errors.New("another waypaper daemon is listening on the socket")

// Manager is what the control channel drives.
type Manager interface {
	Set(ctx context.Context, path, output string) (wallpaper.SetResult, error)
	Get() []wallpaper.OutputInfo
	Status() []wallpaper.OutputStatus
	Desktop() *wallpaper.Descriptor
	Shutdown(ctx context.Context) error
}

type ServerOptions struct {
	Socket     string
	ConfigFile string
	// ShutdownTimeout bounds a Shutdown request. DefaultShutdownTimeout is
	// used when nil.
	ShutdownTimeout func() time.Duration
}

const DefaultShutdownTimeout = 30 * time.Second

type job struct {
	ctx   context.Context
	run   func(ctx context.Context) (any, error)
	reply chan result
}

type result struct {
	v   any
	err error
}

// Server answers control requests. Set and Shutdown are run one at a time
// by a single mutation goroutine; Get and Status read snapshots directly.
type Server struct {
	manager    Manager
	socket     string
	configFile string
	started    time.Time

	shutdownTimeout func() time.Duration

	echo *echo.Echo

	jobs chan job
	quit chan struct{}

	done     chan struct{}
	doneOnce sync.Once
	quitOnce sync.Once
}

func NewServer(manager Manager, opts ServerOptions) *Server {
	s := &Server{
		manager:    manager,
		socket:     opts.Socket,
		configFile: opts.ConfigFile,
		started:    time.Now(),

		shutdownTimeout: opts.ShutdownTimeout,
		jobs:       make(chan job),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.CharmLog())
	e.Server.SetKeepAlivesEnabled(false)
	e.Server.ReadHeaderTimeout = 5 * time.Second

	RegisterRoutes(e, s)
	s.echo = e

	if s.shutdownTimeout == nil {
		s.shutdownTimeout = func() time.Duration { return DefaultShutdownTimeout }
	}

	go s.mutations()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Done is closed after a Shutdown request has been answered.
func (s *Server) Done() <-chan struct{} { return s.done }

func (s *Server) signalDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Server) mutations() {
	for {
		select {
		case j := <-s.jobs:
			v, err := j.run(j.ctx)
			j.reply <- result{v: v, err: err}
		case <-s.quit:
			return
		}
	}
}

// submit queues a mutation and waits for its result. The mutation runs to
// completion even if the client goes away.
func (s *Server) submit(ctx context.Context, run func(ctx context.Context) (any, error)) (any, error) {
	j := job{ctx: context.WithoutCancel(ctx), run: run, reply: make(chan result, 1)}

	select {
	case s.jobs <- j:
	case <-s.quit:
		return nil, wallpaper.Errorf(wallpaper.KindShuttingDown, "daemon is shutting down")
	case <-ctx.Done():
		// nobody is left to read the reply
		log.Debugf("control request abandoned before it ran: %v", ctx.Err())
		return nil, wallpaper.Wrap(wallpaper.KindInternal, ctx.Err(), "request abandoned")
	}

	r := <-j.reply
	return r.v, r.err
}

// Listen opens the control socket. A leftover socket file from a dead daemon
// is removed; a live one is reported as ErrDaemonRunning.
func Listen(path string) (net.Listener, error) {
	if _, err := os.Stat(path); err == nil {
		conn, err := net.DialTimeout("unix", path, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", path, ErrDaemonRunning)
		}
		log.Debugf("removing stale socket %s", path)
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("chmod %s: %w", path, err)
	}
	return listener, nil
}

// Serve blocks serving requests on listener until Close.
func (s *Server) Serve(listener net.Listener) error {
	s.echo.Listener = listener
	log.Infof("control socket listening on %s", listener.Addr())

	if err := s.echo.StartServer(s.echo.Server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control socket: %w", err)
	}
	return nil
}

// Close stops accepting requests, lets in-flight replies finish and stops
// the mutation goroutine.
func (s *Server) Close(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)
	s.quitOnce.Do(func() { close(s.quit) })
	return err
}
