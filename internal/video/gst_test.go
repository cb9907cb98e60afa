package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matjam/waypaper/internal/wallpaper"
	"github.com/tinyzimmer/go-gst/gst"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		hardware bool
		msg      string
		want     wallpaper.Kind
	}{
		{"missing file", false, "Resource not found.", wallpaper.KindFileNotFound},
		{"unreadable file", true, "Could not open file for reading.", wallpaper.KindFileNotFound},
		{"va display", true, "Could not initialize VA display", wallpaper.KindHardwareInitFailed},
		{"vaapi message in software mode", false, "vaapi: something broke", wallpaper.KindDecodeError},
		{"missing plugin", false, "Your GStreamer installation is missing a plug-in.", wallpaper.KindUnsupportedCodec},
		{"unknown container", false, "Could not determine type of stream.", wallpaper.KindUnsupportedCodec},
		{"stream error", false, "Internal data stream error.", wallpaper.KindDecodeError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := &GstDecoder{opts: DecoderOptions{Path: "/videos/loop.mp4", Hardware: tc.hardware}}
			err := d.classify(gst.NewGError(gst.CoreErrorFailed, errors.New(tc.msg)))
			if got := wallpaper.KindOf(err); got != tc.want {
				t.Fatalf("kind %s, want %s (%v)", got, tc.want, err)
			}
			if !strings.Contains(err.Error(), "/videos/loop.mp4") {
				t.Fatalf("error does not name the file: %v", err)
			}
		})
	}
}

func TestPipelineString_QuotesLocation(t *testing.T) {
	path := `/home/me/My "Best" \ Loop.mp4`
	want := `location="/home/me/My \"Best\" \\ Loop.mp4"`

	for _, hw := range []bool{false, true} {
		d := &GstDecoder{opts: DecoderOptions{Path: path, Hardware: hw}}
		got := d.pipelineString()
		if !strings.Contains(got, want) {
			t.Fatalf("hardware=%v: %q does not contain %q", hw, got, want)
		}
	}
}

func TestPipelineString_Variants(t *testing.T) {
	hw := (&GstDecoder{opts: DecoderOptions{Path: "/a.mp4", Hardware: true}}).pipelineString()
	sw := (&GstDecoder{opts: DecoderOptions{Path: "/a.mp4"}}).pipelineString()

	if !strings.Contains(hw, "vaapidecodebin") || strings.Contains(hw, "force-sw-decoders") {
		t.Fatalf("hardware pipeline: %s", hw)
	}
	if strings.Contains(sw, "vaapi") || !strings.Contains(sw, "force-sw-decoders=true") {
		t.Fatalf("software pipeline: %s", sw)
	}
	for _, p := range []string{hw, sw} {
		if !strings.Contains(p, "max-buffers=1 drop=true") {
			t.Fatalf("appsink must keep only the newest frame: %s", p)
		}
	}
}

// needElements skips the test when GStreamer lacks one of the elements.
func needElements(t *testing.T, names ...string) {
	t.Helper()
	initGst()
	for _, name := range names {
		if gst.Find(name) == nil {
			t.Skipf("gstreamer element %s not installed", name)
		}
	}
}

// writeTestClip renders a short raw-video Matroska file.
func writeTestClip(t *testing.T, frames int) string {
	t.Helper()
	needElements(t, "videotestsrc", "matroskamux", "matroskademux", "filesink", "decodebin", "videoconvert", "videoscale", "appsink")

	path := filepath.Join(t.TempDir(), "clip.mkv")
	pipeline, err := gst.NewPipelineFromString(fmt.Sprintf(
		"videotestsrc num-buffers=%d ! video/x-raw,format=I420,width=64,height=48,framerate=30/1 ! "+
			"matroskamux ! filesink location=\"%s\"",
		frames, pipelineQuote.Replace(path)))
	if err != nil {
		t.Fatalf("build encoder pipeline: %v", err)
	}
	defer pipeline.SetState(gst.StateNull)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		t.Fatalf("start encoder pipeline: %v", err)
	}
	msg := pipeline.GetPipelineBus().TimedPopFiltered(10*time.Second, gst.MessageEOS|gst.MessageError)
	switch {
	case msg == nil:
		t.Fatal("timed out writing test clip")
	case msg.Type() == gst.MessageError:
		t.Fatalf("writing test clip: %v", msg.ParseError())
	}
	return path
}

func TestGstDecoder_LoopsAfterRewind(t *testing.T) {
	path := writeTestClip(t, 6)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	d := NewGstDecoder(DecoderOptions{Path: path})
	info, err := d.Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	if info.SourceWidth != 64 || info.SourceHeight != 48 || info.Decoder != "software" {
		t.Fatalf("unexpected info %+v", info)
	}

	readLoop := func(pass int) {
		frames := 0
		for {
			f, err := d.Next(ctx)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				t.Fatalf("pass %d: Next: %v", pass, err)
			}
			if f.Width != 64 || f.Height != 48 || len(f.Pix) != 64*48*4 {
				t.Fatalf("pass %d: frame %dx%d with %d bytes", pass, f.Width, f.Height, len(f.Pix))
			}
			frames++
		}
		if frames == 0 {
			t.Fatalf("pass %d: no frames before end of stream", pass)
		}
		t.Logf("pass %d: %d frames", pass, frames)
	}

	readLoop(1)
	if err := d.Rewind(); err != nil {
		t.Fatalf("Rewind: %v", err)
	}
	readLoop(2)

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestGstDecoder_MissingFile(t *testing.T) {
	needElements(t, "filesrc", "decodebin", "videoconvert", "videoscale", "appsink")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	d := NewGstDecoder(DecoderOptions{Path: filepath.Join(t.TempDir(), "missing.mp4")})
	defer d.Close()

	_, err := d.Open(ctx)
	if err == nil {
		t.Fatal("Open succeeded on a missing file")
	}
	if kind := wallpaper.KindOf(err); kind != wallpaper.KindFileNotFound {
		t.Fatalf("expected FileNotFound, got %s: %v", kind, err)
	}
}
