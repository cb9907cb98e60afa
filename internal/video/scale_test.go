package video

import (
	"testing"

	"github.com/matjam/waypaper/internal/config"
	"github.com/matjam/waypaper/internal/surface"
)

func TestScaleTarget(t *testing.T) {
	max4k := config.Resolution{Width: 3840, Height: 2160}
	cases := []struct {
		name             string
		srcW, srcH       int
		max              config.Resolution
		nativeW, nativeH int
		wantW, wantH     int
	}{
		{"fits already", 1920, 1080, max4k, 2560, 1440, 1920, 1080},
		{"never upscale", 640, 360, max4k, 3840, 2160, 640, 360},
		{"down to native", 3840, 2160, max4k, 1920, 1080, 1920, 1080},
		{"down to max", 7680, 4320, max4k, 0, 0, 3840, 2160},
		{"max below native", 3840, 2160, config.Resolution{Width: 1280, Height: 720}, 2560, 1440, 1280, 720},
		{"keeps aspect", 4000, 3000, max4k, 1920, 1080, 1440, 1080},
		{"even dimensions", 1001, 563, max4k, 0, 0, 1000, 562},
		{"single pixel", 1, 1, max4k, 1920, 1080, 1, 1},
		{"one pixel high", 3, 1, max4k, 1920, 1080, 2, 1},
		{"one pixel line", 641, 1, max4k, 1920, 1080, 640, 1},
		{"thin and too wide", 7680, 1, max4k, 1920, 1080, 1920, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, h := ScaleTarget(tc.srcW, tc.srcH, tc.max, tc.nativeW, tc.nativeH)
			if w != tc.wantW || h != tc.wantH {
				t.Fatalf("got %dx%d, want %dx%d", w, h, tc.wantW, tc.wantH)
			}
			if w > tc.srcW || h > tc.srcH {
				t.Fatalf("%dx%d is larger than the source", w, h)
			}
		})
	}
}

func TestMailbox(t *testing.T) {
	var m mailbox
	if m.take() != nil {
		t.Fatalf("empty mailbox returned a frame")
	}
	a, b := &surface.Frame{Seq: 1}, &surface.Frame{Seq: 2}
	if m.put(a) {
		t.Fatalf("first put cannot drop")
	}
	if !m.put(b) {
		t.Fatalf("overwriting an untaken frame must count as a drop")
	}
	if got := m.take(); got != b {
		t.Fatalf("expected newest frame, got %+v", got)
	}
	if m.take() != nil {
		t.Fatalf("frame taken twice")
	}
}
