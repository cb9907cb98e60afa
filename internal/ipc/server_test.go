package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matjam/waypaper/internal/surface"
	"github.com/matjam/waypaper/internal/wallpaper"
)

type fakeManager struct {
	mu       sync.Mutex
	sets     []SetRequest
	setErr   error
	shutdown int

	// stuck makes Shutdown wait for its context
	stuck       bool
	hasDeadline bool
}

func (m *fakeManager) Set(_ context.Context, path, output string) (wallpaper.SetResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets = append(m.sets, SetRequest{Path: path, Output: output})
	if m.setErr != nil {
		return wallpaper.SetResult{}, m.setErr
	}
	return wallpaper.SetResult{
		Descriptor: wallpaper.Descriptor{Type: "video", File: path + "/clip.mp4", Dir: path, Title: "clip"},
		Outputs:    []string{"DP-1"},
	}, nil
}

func (m *fakeManager) Get() []wallpaper.OutputInfo {
	return []wallpaper.OutputInfo{{
		Output: surface.Output{ID: 1, Name: "DP-1", Width: 1920, Height: 1080, Scale: 1},
		State:  wallpaper.PhaseEmpty,
	}}
}

func (m *fakeManager) Status() []wallpaper.OutputStatus {
	return []wallpaper.OutputStatus{{Output: "DP-1", State: wallpaper.PhaseEmpty}}
}

func (m *fakeManager) Desktop() *wallpaper.Descriptor { return nil }

func (m *fakeManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdown++
	_, m.hasDeadline = ctx.Deadline()
	stuck := m.stuck
	m.mu.Unlock()

	if stuck {
		<-ctx.Done()
		return wallpaper.Wrap(wallpaper.KindInternal, ctx.Err(), "waiting for sessions")
	}
	return nil
}

func newTestServer(t *testing.T, m Manager) *Server {
	t.Helper()
	s := NewServer(m, ServerOptions{Socket: "/run/test.sock", ConfigFile: "test.toml"})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

func call(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: reply is not JSON: %q", method, path, rec.Body.String())
	}
	return rec, resp
}

func TestSet_BadRequests(t *testing.T) {
	m := &fakeManager{}
	s := newTestServer(t, m)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"malformed json", http.MethodPost, "/set", `{"path":`},
		{"empty path", http.MethodPost, "/set", `{"path":"  "}`},
		{"missing path", http.MethodPost, "/set", `{"output":"DP-1"}`},
		{"unknown command", http.MethodPost, "/reload", `{}`},
		{"wrong method", http.MethodGet, "/set", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := call(t, s, tt.method, tt.path, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if resp.Status != StatusError || resp.Error == nil || resp.Error.Kind != wallpaper.KindBadRequest {
				t.Errorf("reply = %+v, want BadRequest error", resp)
			}
		})
	}

	if len(m.sets) != 0 {
		t.Errorf("manager saw %d Set calls for bad requests", len(m.sets))
	}
}

func TestSet_Ok(t *testing.T) {
	m := &fakeManager{}
	s := newTestServer(t, m)

	rec, resp := call(t, s, http.MethodPost, "/set", `{"path":"/walls/rain","output":"DP-1"}`)
	if rec.Code != http.StatusOK || resp.Status != StatusOK {
		t.Fatalf("reply = %d %+v", rec.Code, resp)
	}
	if len(m.sets) != 1 || m.sets[0] != (SetRequest{Path: "/walls/rain", Output: "DP-1"}) {
		t.Errorf("manager saw %+v", m.sets)
	}
}

func TestSet_ErrorKinds(t *testing.T) {
	tests := []struct {
		kind wallpaper.Kind
		code int
	}{
		{wallpaper.KindFileNotFound, http.StatusNotFound},
		{wallpaper.KindBusy, http.StatusConflict},
		{wallpaper.KindUnsupportedWallpaperType, http.StatusUnprocessableEntity},
		{wallpaper.KindInvalidManifest, http.StatusUnprocessableEntity},
		{wallpaper.KindOutputUnavailable, http.StatusServiceUnavailable},
		{wallpaper.KindShuttingDown, http.StatusServiceUnavailable},
		{wallpaper.KindDecodeError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			m := &fakeManager{setErr: wallpaper.Errorf(tt.kind, "nope")}
			s := newTestServer(t, m)

			rec, resp := call(t, s, http.MethodPost, "/set", `{"path":"/walls/rain"}`)
			if rec.Code != tt.code {
				t.Errorf("status = %d, want %d", rec.Code, tt.code)
			}
			if resp.Error == nil || resp.Error.Kind != tt.kind || resp.Error.Message != "nope" {
				t.Errorf("error = %+v", resp.Error)
			}
		})
	}
}

func TestShutdown_SignalsDoneAfterReply(t *testing.T) {
	m := &fakeManager{}
	s := newTestServer(t, m)

	select {
	case <-s.Done():
		t.Fatal("done before shutdown")
	default:
	}

	rec, resp := call(t, s, http.MethodPost, "/shutdown", "")
	if rec.Code != http.StatusOK || resp.Status != StatusOK {
		t.Fatalf("reply = %d %+v", rec.Code, resp)
	}

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("done not signalled")
	}
	if m.shutdown != 1 {
		t.Errorf("manager shutdown called %d times", m.shutdown)
	}
}

func TestShutdown_BoundedByTimeout(t *testing.T) {
	m := &fakeManager{stuck: true}
	s := NewServer(m, ServerOptions{
		Socket:          "/run/test.sock",
		ShutdownTimeout: func() time.Duration { return 50 * time.Millisecond },
	})
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	replied := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/shutdown", nil))
		replied <- rec
	}()

	select {
	case rec := <-replied:
		if rec.Code != http.StatusOK {
			t.Fatalf("reply = %d %s", rec.Code, rec.Body.String())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown request never answered")
	}
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("done not signalled")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasDeadline {
		t.Fatal("manager shutdown ran without a deadline")
	}
}

func serve(t *testing.T, m Manager) (*Server, string) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "ctl.sock")
	l, err := Listen(sock)
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(m, ServerOptions{Socket: sock})

	served := make(chan error, 1)
	go func() { served <- s.Serve(l) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Close(ctx)
		if err := <-served; err != nil {
			t.Errorf("serve: %v", err)
		}
	})
	return s, sock
}

func TestClient_RoundTrip(t *testing.T) {
	m := &fakeManager{}
	s, sock := serve(t, m)

	c := NewClient(sock, 2*time.Second)
	defer c.Close()
	ctx := context.Background()

	res, err := c.Set(ctx, "/walls/rain", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Descriptor.Title != "clip" || len(res.Outputs) != 1 {
		t.Errorf("set result = %+v", res)
	}

	infos, err := c.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].Output.Name != "DP-1" || infos[0].State != wallpaper.PhaseEmpty {
		t.Errorf("get = %+v", infos)
	}

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != StatusOK || st.Socket != sock || len(st.Outputs) != 1 {
		t.Errorf("status = %+v", st)
	}

	if err := c.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("done not signalled")
	}
}

func TestClient_RemoteError(t *testing.T) {
	m := &fakeManager{setErr: wallpaper.Errorf(wallpaper.KindBusy, "DP-1 is busy")}
	_, sock := serve(t, m)

	c := NewClient(sock, 2*time.Second)
	defer c.Close()

	_, err := c.Set(context.Background(), "/walls/rain", "DP-1")
	if !errors.Is(err, &wallpaper.Error{Kind: wallpaper.KindBusy}) {
		t.Fatalf("err = %v, want Busy", err)
	}
	if err.Error() != "DP-1 is busy" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestClient_DaemonNotRunning(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "missing.sock"), time.Second)
	defer c.Close()

	if _, err := c.Status(context.Background()); !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("err = %v, want ErrDaemonNotRunning", err)
	}
}

func TestListen_StaleAndLiveSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "ctl.sock")

	stale, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	stale.(*net.UnixListener).SetUnlinkOnClose(false)
	stale.Close()

	l, err := Listen(sock)
	if err != nil {
		t.Fatalf("stale socket not reclaimed: %v", err)
	}
	defer l.Close()

	if _, err := Listen(sock); !errors.Is(err, ErrDaemonRunning) {
		t.Fatalf("err = %v, want ErrDaemonRunning", err)
	}
}

func TestSubmit_AbandonedRequestIsInternal(t *testing.T) {
	s := newTestServer(t, &fakeManager{})

	release := make(chan struct{})
	running := make(chan struct{})
	go s.submit(context.Background(), func(context.Context) (any, error) {
		close(running)
		<-release
		return nil, nil
	})
	<-running
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.submit(ctx, func(context.Context) (any, error) {
		t.Error("abandoned mutation ran")
		return nil, nil
	})
	if kind := wallpaper.KindOf(err); kind != wallpaper.KindInternal {
		t.Fatalf("expected Internal, got %s (%v)", kind, err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cause lost: %v", err)
	}
}
