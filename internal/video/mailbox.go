package video

import (
	"sync"

	"github.com/matjam/waypaper/internal/surface"
)

// mailbox holds the newest decoded frame. A put overwrites a frame nobody
// took yet.
type mailbox struct {
	mu    sync.Mutex
	frame *surface.Frame
}

// put stores f and reports whether an untaken frame was overwritten.
func (m *mailbox) put(f *surface.Frame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	dropped := m.frame != nil
	m.frame = f
	return dropped
}

// take returns the pending frame, or nil if nothing new arrived.
func (m *mailbox) take() *surface.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.frame
	m.frame = nil
	return f
}
