package surface

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

// Layer owns the Handles created on a Display.
type Layer struct {
	display Display

	mu      sync.Mutex
	handles map[*Handle]struct{}
	closed  bool

	events chan Event
}

func New(display Display) *Layer {
	l := &Layer{
		display: display,
		handles: make(map[*Handle]struct{}),
		events:  make(chan Event, 16),
	}
	go l.forward()
	return l
}

func (l *Layer) forward() {
	defer close(l.events)
	for ev := range l.display.Events() {
		log.Debugf("output %s: %s", ev.Kind, ev.Output)
		l.events <- ev
	}
}

func (l *Layer) Outputs() []Output {
	return l.display.Outputs()
}

// Events delivers output hot-plug events until the display goes away.
func (l *Layer) Events() <-chan Event {
	return l.events
}

func (l *Layer) lookup(name string) (Output, bool) {
	for _, o := range l.display.Outputs() {
		if o.Name == name {
			return o, true
		}
	}
	return Output{}, false
}

// Bind creates a background surface on the named output.
func (l *Layer) Bind(ctx context.Context, name string) (*Handle, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	out, ok := l.lookup(name)
	if !ok {
		return nil, fmt.Errorf("bind %q: %w", name, ErrOutputUnavailable)
	}

	s, err := l.display.CreateSurface(ctx, out)
	if err != nil {
		return nil, fmt.Errorf("bind %q: %w", name, err)
	}

	h := newHandle(out, s)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		go h.close()
		return nil, ErrClosed
	}
	l.handles[h] = struct{}{}

	size := h.Size()
	log.Debugf("bound surface on %s: %dx%d scale %d", name, size.Width, size.Height, size.Scale)
	return h, nil
}

// Unbind releases h. It may be called while a frame is being presented and
// more than once.
func (l *Layer) Unbind(h *Handle) {
	if h == nil {
		return
	}
	l.mu.Lock()
	delete(l.handles, h)
	l.mu.Unlock()

	h.close()
}

// Close unbinds every handle and closes the display.
func (l *Layer) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	handles := make([]*Handle, 0, len(l.handles))
	for h := range l.handles {
		handles = append(handles, h)
	}
	l.handles = map[*Handle]struct{}{}
	l.mu.Unlock()

	for _, h := range handles {
		h.close()
	}
	return l.display.Close()
}
