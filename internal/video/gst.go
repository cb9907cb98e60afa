package video

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/matjam/waypaper/internal/surface"
	"github.com/matjam/waypaper/internal/wallpaper"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

const (
	prerollTimeout = 10 * time.Second
	pullTimeout    = 50 * time.Millisecond
)

var gstInit sync.Once

// pipelineQuote escapes a value placed inside double quotes in a launch line.
var pipelineQuote = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func initGst() {
	gstInit.Do(func() { gst.Init(nil) })
}

// GstDecoder decodes through a GStreamer pipeline ending in an appsink.
// The sink syncs against the pipeline clock, so Next returns frames at the
// stream's own rate and the sink drops what the caller is too slow for.
type GstDecoder struct {
	opts DecoderOptions

	pipeline   *gst.Pipeline
	sink       *app.Sink
	capsfilter *gst.Element
	bus        *gst.Bus

	closeOnce sync.Once
}

func NewGstDecoder(opts DecoderOptions) Decoder {
	return &GstDecoder{opts: opts}
}

func (d *GstDecoder) name() string {
	if d.opts.Hardware {
		return "vaapi"
	}
	return "software"
}

func (d *GstDecoder) pipelineString() string {
	location := pipelineQuote.Replace(d.opts.Path)
	if d.opts.Hardware {
		return fmt.Sprintf(
			"filesrc location=\"%s\" ! parsebin ! vaapidecodebin ! vaapipostproc ! "+
				"videoconvert ! videoscale ! capsfilter name=caps caps=video/x-raw,format=BGRx ! "+
				"appsink name=sink emit-signals=false sync=true max-buffers=1 drop=true",
			location)
	}
	return fmt.Sprintf(
		"filesrc location=\"%s\" ! decodebin force-sw-decoders=true ! "+
			"videoconvert ! videoscale ! capsfilter name=caps caps=video/x-raw,format=BGRx ! "+
			"appsink name=sink emit-signals=false sync=true max-buffers=1 drop=true",
		location)
}

// checkVAAPI fails fast when the VA-API plugins are not installed.
func checkVAAPI() error {
	for _, name := range []string{"vaapidecodebin", "vaapipostproc"} {
		el, err := gst.NewElement(name)
		if err != nil {
			return wallpaper.Wrap(wallpaper.KindHardwareInitFailed, err, "%s not available", name)
		}
		el.SetState(gst.StateNull)
	}
	return nil
}

func (d *GstDecoder) Open(ctx context.Context) (Info, error) {
	initGst()

	if d.opts.Hardware {
		if err := checkVAAPI(); err != nil {
			return Info{}, err
		}
	}

	pipeline, err := gst.NewPipelineFromString(d.pipelineString())
	if err != nil {
		return Info{}, d.initError(fmt.Errorf("create pipeline: %w", err))
	}
	d.pipeline = pipeline
	d.bus = pipeline.GetPipelineBus()

	sinkElement, err := pipeline.GetElementByName("sink")
	if err != nil {
		d.Close()
		return Info{}, wallpaper.Wrap(wallpaper.KindInternal, err, "get appsink")
	}
	d.sink = app.SinkFromElement(sinkElement)

	d.capsfilter, err = pipeline.GetElementByName("caps")
	if err != nil {
		d.Close()
		return Info{}, wallpaper.Wrap(wallpaper.KindInternal, err, "get capsfilter")
	}

	if err := pipeline.SetState(gst.StatePaused); err != nil {
		if busErr := d.busError(); busErr != nil {
			d.Close()
			return Info{}, busErr
		}
		d.Close()
		return Info{}, d.initError(fmt.Errorf("pause pipeline: %w", err))
	}

	sample, err := d.preroll(ctx)
	if err != nil {
		d.Close()
		return Info{}, err
	}

	srcW, srcH, ok := sampleSize(sample)
	if !ok {
		d.Close()
		return Info{}, wallpaper.Errorf(wallpaper.KindUnsupportedCodec, "%s: stream has no video size", d.opts.Path)
	}

	info := Info{
		Decoder:      d.name(),
		SourceWidth:  srcW,
		SourceHeight: srcH,
		Width:        srcW,
		Height:       srcH,
	}
	if d.opts.Fit != nil {
		info.Width, info.Height = d.opts.Fit(srcW, srcH)
	}
	if info.Width != srcW || info.Height != srcH {
		caps := gst.NewCapsFromString(fmt.Sprintf(
			"video/x-raw,format=BGRx,width=%d,height=%d,pixel-aspect-ratio=1/1",
			info.Width, info.Height))
		d.capsfilter.SetProperty("caps", caps)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		if busErr := d.busError(); busErr != nil {
			d.Close()
			return Info{}, busErr
		}
		d.Close()
		return Info{}, d.initError(fmt.Errorf("start pipeline: %w", err))
	}

	log.Debugf("%s: %s decode %dx%d -> %dx%d", d.opts.Path, info.Decoder, srcW, srcH, info.Width, info.Height)
	return info, nil
}

// preroll waits for the first decoded buffer, which carries the source size.
func (d *GstDecoder) preroll(ctx context.Context) (*gst.Sample, error) {
	deadline := time.Now().Add(prerollTimeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := d.busError(); err != nil {
			return nil, err
		}
		if sample := d.sink.TryPullPreroll(pullTimeout); sample != nil {
			return sample, nil
		}
		if d.sink.IsEOS() {
			return nil, wallpaper.Errorf(wallpaper.KindDecodeError, "%s: stream has no frames", d.opts.Path)
		}
	}
	return nil, d.initError(fmt.Errorf("%s: timed out waiting for the first frame", d.opts.Path))
}

func (d *GstDecoder) Next(ctx context.Context) (*surface.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := d.busError(); err != nil {
			return nil, err
		}

		sample := d.sink.TryPullSample(pullTimeout)
		if sample == nil {
			if d.sink.IsEOS() {
				return nil, io.EOF
			}
			continue
		}

		f, ok := frameFromSample(sample)
		if !ok {
			continue
		}
		return f, nil
	}
}

// Rewind seeks back to the start. The flush clears the sink's EOS flag.
func (d *GstDecoder) Rewind() error {
	seek := gst.NewSeekEvent(1.0, gst.FormatTime, gst.SeekFlagFlush|gst.SeekFlagKeyUnit,
		gst.SeekTypeSet, 0, gst.SeekTypeNone, -1)
	if !d.pipeline.SendEvent(seek) {
		return wallpaper.Errorf(wallpaper.KindDecodeError, "%s: seek to start failed", d.opts.Path)
	}
	return nil
}

func (d *GstDecoder) Close() error {
	d.closeOnce.Do(func() {
		if d.pipeline != nil {
			// NULL releases the VA display along with every other resource.
			d.pipeline.SetState(gst.StateNull)
		}
	})
	return nil
}

// busError drains pending bus messages and returns the first error.
func (d *GstDecoder) busError() error {
	for {
		msg := d.bus.Pop()
		if msg == nil {
			return nil
		}
		if msg.Type() == gst.MessageError {
			gerr := msg.ParseError()
			log.Debugf("%s: gstreamer error: %s (%s)", d.opts.Path, gerr.Error(), gerr.DebugString())
			return d.classify(gerr)
		}
	}
}

func (d *GstDecoder) initError(err error) error {
	if d.opts.Hardware {
		return wallpaper.Wrap(wallpaper.KindHardwareInitFailed, err, "vaapi decode")
	}
	return wallpaper.Wrap(wallpaper.KindDecodeError, err, "software decode")
}

func (d *GstDecoder) classify(gerr *gst.GError) error {
	msg := strings.ToLower(gerr.Error())
	dbg := strings.ToLower(gerr.DebugString())
	has := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(msg, w) || strings.Contains(dbg, w) {
				return true
			}
		}
		return false
	}

	switch {
	case has("resource not found", "no such file", "could not open"):
		return wallpaper.Errorf(wallpaper.KindFileNotFound, "%s: %s", d.opts.Path, gerr.Error())
	case d.opts.Hardware && has("vaapi", "va display", "libva", "vadisplay"):
		return wallpaper.Errorf(wallpaper.KindHardwareInitFailed, "%s: %s", d.opts.Path, gerr.Error())
	case has("missing a plug-in", "no suitable plugins", "no decoder", "not-negotiated", "unsupported", "could not determine type"):
		return wallpaper.Errorf(wallpaper.KindUnsupportedCodec, "%s: %s", d.opts.Path, gerr.Error())
	}
	return wallpaper.Errorf(wallpaper.KindDecodeError, "%s: %s", d.opts.Path, gerr.Error())
}

func sampleSize(sample *gst.Sample) (int, int, bool) {
	caps := sample.GetCaps()
	if caps == nil {
		return 0, 0, false
	}
	structure := caps.GetStructureAt(0)
	if structure == nil {
		return 0, 0, false
	}
	width, _ := structure.GetValue("width")
	height, _ := structure.GetValue("height")
	w, ok := width.(int)
	if !ok {
		return 0, 0, false
	}
	h, ok := height.(int)
	if !ok {
		return 0, 0, false
	}
	return w, h, true
}

func frameFromSample(sample *gst.Sample) (*surface.Frame, bool) {
	w, h, ok := sampleSize(sample)
	if !ok {
		return nil, false
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, false
	}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return nil, false
	}
	defer buffer.Unmap()

	data := mapInfo.Bytes()
	f := surface.NewFrame(w, h)
	if len(data) < len(f.Pix) {
		return nil, false
	}
	// GStreamer reuses the buffer
	copy(f.Pix, data[:len(f.Pix)])
	return f, true
}
