package wallpaper

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/matjam/waypaper/internal/config"
	"github.com/matjam/waypaper/internal/surface"
	"github.com/matjam/waypaper/internal/types"
	"go.uber.org/multierr"
)

type Phase string

const (
	PhaseEmpty       Phase = "empty"
	PhaseBinding     Phase = "binding"
	PhaseActive      Phase = "active"
	PhaseTearingDown Phase = "tearing_down"
)

// Layer is the part of surface.Layer the manager needs.
type Layer interface {
	Outputs() []surface.Output
	Bind(ctx context.Context, output string) (*surface.Handle, error)
	Unbind(h *surface.Handle)
}

type Options struct {
	TargetFPS     int
	MaxResolution config.Resolution
	DecodeMode    types.DecodeMode
	// StopGrace bounds how long a backend gets to stop.
	StopGrace time.Duration
}

type outputState struct {
	output  surface.Output
	phase   Phase
	session *Session
	lastErr error
	removed bool
}

// Manager keeps at most one Session per output. Mutations on an output are
// exclusive: an output that is binding or tearing down rejects other
// mutations with KindBusy.
type Manager struct {
	layer     Layer
	factories map[types.WallpaperType]Factory
	opts      Options

	mu      sync.Mutex
	outputs map[string]*outputState
	order   []string
	desktop *Descriptor
	closed  bool

	inflight   sync.WaitGroup
	background sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
}

func NewManager(layer Layer, factories map[types.WallpaperType]Factory, opts Options) *Manager {
	if opts.StopGrace <= 0 {
		opts.StopGrace = 3 * time.Second
	}

	m := &Manager{
		layer:     layer,
		factories: factories,
		opts:      opts,
		outputs:   make(map[string]*outputState),
	}
	for _, o := range layer.Outputs() {
		m.addOutputLocked(o)
	}
	return m
}

func (m *Manager) addOutputLocked(o surface.Output) *outputState {
	if st, ok := m.outputs[o.Name]; ok {
		st.output = o
		st.removed = false
		return st
	}
	st := &outputState{output: o, phase: PhaseEmpty}
	m.outputs[o.Name] = st
	m.order = append(m.order, o.Name)
	return st
}

func (m *Manager) forgetLocked(name string) {
	delete(m.outputs, name)
	m.order = slices.DeleteFunc(m.order, func(n string) bool { return n == name })
}

// begin registers an in-flight mutation. Shutdown waits for every mutation
// that got past begin.
func (m *Manager) begin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Errorf(KindShuttingDown, "daemon is shutting down")
	}
	m.inflight.Add(1)
	return nil
}

type SetResult struct {
	Descriptor Descriptor `json:"descriptor"`
	Outputs    []string   `json:"outputs"`
}

// Set loads the wallpaper in path and plays it on output, or on every output
// when output is empty. Validation happens before any running session is
// touched; a failure after that leaves the affected output empty.
func (m *Manager) Set(ctx context.Context, path, output string) (SetResult, error) {
	if err := m.begin(); err != nil {
		return SetResult{}, err
	}
	defer m.inflight.Done()

	desc, err := LoadDescriptor(path)
	if err != nil {
		return SetResult{}, err
	}
	factory, ok := m.factories[desc.Type]
	if !ok {
		return SetResult{}, Errorf(KindUnsupportedWallpaperType, "wallpaper type %q is not supported", desc.Type)
	}
	if err := desc.CheckSource(); err != nil {
		return SetResult{}, err
	}

	targets, err := m.claim(output)
	if err != nil {
		return SetResult{}, err
	}

	if output == "" {
		m.mu.Lock()
		d := desc
		m.desktop = &d
		m.mu.Unlock()
	}

	log.Infof("setting wallpaper %s (%s) on %v", desc.Dir, desc.Type, targets)

	result := SetResult{Descriptor: desc}
	var first error
	for _, name := range targets {
		if err := m.replace(ctx, name, desc, factory); err != nil {
			log.Errorf("output %s: %v", name, err)
			if first == nil {
				first = err
			}
			continue
		}
		result.Outputs = append(result.Outputs, name)
	}
	return result, first
}

// claim moves every target output into PhaseBinding, or none of them.
func (m *Manager) claim(output string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var targets []string
	if output != "" {
		st, ok := m.outputs[output]
		if !ok || st.removed {
			return nil, Errorf(KindOutputUnavailable, "output %q is not connected", output)
		}
		targets = []string{output}
	} else {
		for _, name := range m.order {
			if !m.outputs[name].removed {
				targets = append(targets, name)
			}
		}
		if len(targets) == 0 {
			return nil, Errorf(KindOutputUnavailable, "no outputs connected")
		}
	}

	for _, name := range targets {
		switch m.outputs[name].phase {
		case PhaseBinding, PhaseTearingDown:
			return nil, Errorf(KindBusy, "output %s is busy", name)
		}
	}
	for _, name := range targets {
		m.outputs[name].phase = PhaseBinding
	}
	return targets, nil
}

// replace runs on an output the caller has claimed.
func (m *Manager) replace(ctx context.Context, name string, desc Descriptor, factory Factory) error {
	m.mu.Lock()
	st := m.outputs[name]
	old := st.session
	out := st.output
	m.mu.Unlock()

	if old != nil {
		if err := m.teardown(old); err != nil {
			log.Warnf("output %s: stopping previous session: %v", name, err)
		}
		m.mu.Lock()
		st.session = nil
		m.mu.Unlock()
	}

	session, err := m.start(ctx, out, desc, factory)

	m.mu.Lock()
	if st.removed {
		m.forgetLocked(name)
		m.mu.Unlock()
		if session != nil {
			_ = m.teardown(session)
		}
		return Errorf(KindOutputUnavailable, "output %s was disconnected", name)
	}
	if err != nil {
		st.phase = PhaseEmpty
		st.lastErr = err
		m.mu.Unlock()
		return err
	}
	st.session = session
	st.phase = PhaseActive
	st.lastErr = nil
	m.mu.Unlock()

	log.Infof("output %s: playing %s (session %s)", name, desc.File, session.ID)

	m.background.Add(1)
	go m.watch(name, session)
	return nil
}

func asError(err error, fallback Kind) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	kind := KindOf(err)
	if kind == KindInternal {
		kind = fallback
	}
	return &Error{Kind: kind, Err: err}
}

func (m *Manager) start(ctx context.Context, out surface.Output, desc Descriptor, factory Factory) (*Session, error) {
	h, err := m.layer.Bind(ctx, out.Name)
	if err != nil {
		return nil, asError(err, KindOutputUnavailable)
	}

	backend, err := factory(desc, SessionOptions{
		Output:        out,
		TargetFPS:     m.opts.TargetFPS,
		MaxResolution: m.opts.MaxResolution,
		DecodeMode:    m.opts.DecodeMode,
	})
	if err != nil {
		m.layer.Unbind(h)
		return nil, asError(err, KindInternal)
	}

	if err := backend.Bind(h); err != nil {
		m.layer.Unbind(h)
		return nil, asError(err, KindInternal)
	}

	if err := backend.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), m.opts.StopGrace)
		_ = backend.Stop(stopCtx)
		cancel()
		m.layer.Unbind(h)
		return nil, asError(err, KindInternal)
	}

	return &Session{
		ID:            uuid.NewString(),
		Output:        out,
		Descriptor:    desc,
		Backend:       backend,
		TargetFPS:     m.opts.TargetFPS,
		MaxResolution: m.opts.MaxResolution,
		Handle:        h,
		StartedAt:     time.Now(),
		retired:       make(chan struct{}),
	}, nil
}

// teardown stops the backend within the grace period and releases its surface.
func (m *Manager) teardown(s *Session) error {
	s.retire()

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.StopGrace)
	defer cancel()

	err := s.Backend.Stop(ctx)
	m.layer.Unbind(s.Handle)
	log.Debugf("output %s: session %s torn down", s.Output.Name, s.ID)
	return err
}

// watch reverts the output to empty when the session dies on its own.
func (m *Manager) watch(name string, s *Session) {
	defer m.background.Done()

	select {
	case <-s.Backend.Done():
	case <-s.retired:
		// torn down on purpose; a backend that never finishes is not ours
		// to wait for
		return
	}
	err := s.Backend.Err()
	if err == nil {
		return
	}

	m.mu.Lock()
	st, ok := m.outputs[name]
	if !ok || st.session != s || st.phase != PhaseActive {
		m.mu.Unlock()
		return
	}
	st.phase = PhaseTearingDown
	m.mu.Unlock()

	log.Errorf("output %s: session %s failed: %v", name, s.ID, err)
	_ = m.teardown(s)

	m.mu.Lock()
	defer m.mu.Unlock()
	st.session = nil
	st.phase = PhaseEmpty
	st.lastErr = asError(err, KindDecodeError)
	if st.removed {
		m.forgetLocked(name)
	}
}

// Run applies output hot-plug events until ctx is done or events is closed.
func (m *Manager) Run(ctx context.Context, events <-chan surface.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case surface.OutputAdded:
				m.outputAdded(ctx, ev.Output)
			case surface.OutputRemoved:
				m.outputRemoved(ev.Output.Name)
			}
		}
	}
}

func (m *Manager) outputAdded(ctx context.Context, o surface.Output) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	st := m.addOutputLocked(o)
	var desktop *Descriptor
	if m.desktop != nil && st.phase == PhaseEmpty && st.session == nil {
		d := *m.desktop
		desktop = &d
	}
	m.mu.Unlock()

	log.Infof("output %s connected", o)

	if desktop == nil {
		return
	}
	factory, ok := m.factories[desktop.Type]
	if !ok {
		return
	}

	if err := m.begin(); err != nil {
		return
	}
	go func() {
		defer m.inflight.Done()
		if _, err := m.claim(o.Name); err != nil {
			log.Debugf("output %s: not applying desktop wallpaper: %v", o.Name, err)
			return
		}
		if err := m.replace(ctx, o.Name, *desktop, factory); err != nil {
			log.Errorf("output %s: applying desktop wallpaper: %v", o.Name, err)
		}
	}()
}

func (m *Manager) outputRemoved(name string) {
	m.mu.Lock()
	st, ok := m.outputs[name]
	if !ok {
		m.mu.Unlock()
		return
	}

	log.Infof("output %s disconnected", name)

	switch st.phase {
	case PhaseEmpty:
		m.forgetLocked(name)
		m.mu.Unlock()
	case PhaseActive:
		s := st.session
		st.phase = PhaseTearingDown
		st.removed = true
		m.mu.Unlock()

		if err := m.teardown(s); err != nil {
			log.Warnf("output %s: %v", name, err)
		}

		m.mu.Lock()
		if cur, ok := m.outputs[name]; ok && cur == st {
			m.forgetLocked(name)
		}
		m.mu.Unlock()
	default:
		// whoever holds the output forgets it when done
		st.removed = true
		m.mu.Unlock()
	}
}

// Shutdown rejects further mutations, waits for in-flight ones and tears
// down every session. Calling it again returns the first result.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.shutdownErr = m.shutdown(ctx)
	})
	return m.shutdownErr
}

func (m *Manager) shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	log.Info("shutting down wallpaper manager")

	waited := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(waited)
	}()
	var err error
	select {
	case <-waited:
	case <-ctx.Done():
		// tear down what is active anyway; the stuck change keeps its output
		err = Wrap(KindInternal, ctx.Err(), "waiting for pending wallpaper changes")
	}

	m.mu.Lock()
	var sessions []*Session
	var states []*outputState
	for _, name := range m.order {
		st := m.outputs[name]
		if st.phase == PhaseActive && st.session != nil {
			st.phase = PhaseTearingDown
			sessions = append(sessions, st.session)
			states = append(states, st)
		}
	}
	m.mu.Unlock()

	for i, s := range sessions {
		err = multierr.Append(err, m.teardown(s))

		m.mu.Lock()
		states[i].session = nil
		states[i].phase = PhaseEmpty
		m.mu.Unlock()
	}

	watched := make(chan struct{})
	go func() {
		m.background.Wait()
		close(watched)
	}()
	select {
	case <-watched:
	case <-ctx.Done():
		err = multierr.Append(err, Wrap(KindInternal, ctx.Err(), "waiting for session watchers"))
	}
	return err
}

type ErrorInfo struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func errorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	return &ErrorInfo{Kind: KindOf(err), Message: err.Error()}
}

// OutputInfo is the detailed view returned by Get.
type OutputInfo struct {
	Output     surface.Output `json:"output"`
	State      Phase          `json:"state"`
	Session    string         `json:"session,omitempty"`
	Descriptor *Descriptor    `json:"descriptor,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	Stats      *Stats         `json:"stats,omitempty"`
	LastError  *ErrorInfo     `json:"last_error,omitempty"`
}

// Get returns a snapshot of every output. Backend stats are collected
// without holding the manager lock.
func (m *Manager) Get() []OutputInfo {
	m.mu.Lock()
	infos := make([]OutputInfo, 0, len(m.order))
	sessions := make([]*Session, 0, len(m.order))
	for _, name := range m.order {
		st := m.outputs[name]
		info := OutputInfo{
			Output:    st.output,
			State:     st.phase,
			LastError: errorInfo(st.lastErr),
		}
		if s := st.session; s != nil {
			d := s.Descriptor
			started := s.StartedAt
			info.Session = s.ID
			info.Descriptor = &d
			info.StartedAt = &started
		}
		infos = append(infos, info)
		sessions = append(sessions, st.session)
	}
	m.mu.Unlock()

	for i, s := range sessions {
		if s != nil {
			stats := s.Backend.Stats()
			infos[i].Stats = &stats
		}
	}
	return infos
}

// OutputStatus is the summary returned by Status.
type OutputStatus struct {
	Output    string `json:"output"`
	State     Phase  `json:"state"`
	Title     string `json:"title,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

func (m *Manager) Status() []OutputStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]OutputStatus, 0, len(m.order))
	for _, name := range m.order {
		st := m.outputs[name]
		s := OutputStatus{Output: name, State: st.phase}
		if st.session != nil {
			s.Title = st.session.Descriptor.Title
			if s.Title == "" {
				s.Title = st.session.Descriptor.Dir
			}
		}
		if st.lastErr != nil {
			s.LastError = st.lastErr.Error()
		}
		out = append(out, s)
	}
	return out
}

// Desktop returns the wallpaper applied to outputs as they appear, if any.
func (m *Manager) Desktop() *Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.desktop == nil {
		return nil
	}
	d := *m.desktop
	return &d
}
