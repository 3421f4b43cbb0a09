// Package imagedec implements the ImageDecoder: a cache-backed decoder for
// still and animated images producing VideoFrames. Containers are decoded
// with the Go image registry (GIF, PNG, JPEG plus the golang.org/x/image
// formats); animated GIFs are composited frame by frame with their disposal
// semantics applied.
package imagedec

import (
	"bytes"
	"context"
	"image"
	"image/draw"
	"image/gif"
	"io"
	"math"
	"sync"

	_ "image/jpeg"
	_ "image/png"

	"github.com/rs/zerolog/log"
	xdraw "golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/richinsley/gowebcodecs/media"
)

// supportedTypes maps the MIME types the decoder accepts.
var supportedTypes = map[string]bool{
	"image/gif":  true,
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/bmp":  true,
	"image/tiff": true,
}

// IsTypeSupported reports whether mime names an image container this
// decoder can parse.
func IsTypeSupported(mime string) bool {
	return supportedTypes[mime]
}

// ImageDecoderInit configures construction. Data or DataReader must be set;
// when both are, Data is used. A reader is collected completely before any
// decode.
type ImageDecoderInit struct {
	Data       []byte
	DataReader io.Reader

	Type                 string // MIME type, required
	DesiredWidth         *int
	DesiredHeight        *int
	PreferAnimation      *bool
	ColorSpaceConversion string // "default" | "none"
}

// DecodeOptions selects the frame to decode.
type DecodeOptions struct {
	FrameIndex int
}

// DecodeResult is one decoded frame plus the completeness flag of the
// underlying byte source.
type DecodeResult struct {
	Image    *media.VideoFrame
	Complete bool
}

// ImageTrack describes one track of the container.
type ImageTrack struct {
	mu              sync.Mutex
	animated        bool
	frameCount      int
	repetitionCount float64
	selected        bool
}

// Animated reports whether the container carries more than one frame. It is
// known synchronously from construction.
func (t *ImageTrack) Animated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.animated
}

// FrameCount is 0 until the metadata parse has run (and again after Reset
// on animated containers).
func (t *ImageTrack) FrameCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frameCount
}

// RepetitionCount is the loop count of an animated container; +Inf means
// loop forever.
func (t *ImageTrack) RepetitionCount() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.repetitionCount
}

func (t *ImageTrack) Selected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.selected
}

func (t *ImageTrack) setFrameCount(n int) {
	t.mu.Lock()
	t.frameCount = n
	t.mu.Unlock()
}

// ImageTrackList exposes the container's tracks. This decoder models a
// single selected track.
type ImageTrackList struct {
	ready  chan struct{}
	tracks []*ImageTrack
}

// Ready blocks until the metadata parse has run.
func (l *ImageTrackList) Ready(ctx context.Context) error {
	select {
	case <-l.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *ImageTrackList) Length() int { return len(l.tracks) }

func (l *ImageTrackList) Track(i int) (*ImageTrack, error) {
	if i < 0 || i >= len(l.tracks) {
		return nil, media.Rangef("track index %d out of range", i)
	}
	return l.tracks[i], nil
}

// SelectedTrack returns the track decode() reads from, or nil when the
// container parsed to nothing.
func (l *ImageTrackList) SelectedTrack() *ImageTrack {
	for _, t := range l.tracks {
		if t.Selected() {
			return t
		}
	}
	return nil
}

// cachedFrame memoizes one composited frame.
type cachedFrame struct {
	frame *media.VideoFrame
}

// ImageDecoder decodes still and animated images into VideoFrames, frame by
// index, with memoization.
type ImageDecoder struct {
	mu sync.Mutex

	mime            string
	data            []byte
	preferAnimation bool
	desiredW        int // 0 = native size
	desiredH        int

	animated bool
	parsed   bool
	frames   []image.Image // composited full frames, native size
	delays   []int64       // µs per frame
	cache    map[int]*cachedFrame
	closed   bool

	tracks    *ImageTrackList
	completed chan struct{}
}

// New constructs an ImageDecoder. A lazy DataReader is fully collected here;
// the container metadata is parsed before New returns, so tracks are ready
// immediately afterwards.
func New(init *ImageDecoderInit) (*ImageDecoder, error) {
	if init == nil {
		return nil, media.Typef("missing ImageDecoderInit")
	}
	if init.Type == "" {
		return nil, media.Typef("type is required")
	}
	if (init.DesiredWidth == nil) != (init.DesiredHeight == nil) {
		return nil, media.Typef("desiredWidth and desiredHeight must be specified together")
	}
	if init.DesiredWidth != nil && (*init.DesiredWidth <= 0 || *init.DesiredHeight <= 0) {
		return nil, media.Typef("desired size must be positive")
	}
	switch init.ColorSpaceConversion {
	case "", "default", "none":
	default:
		return nil, media.Typef("invalid colorSpaceConversion %q", init.ColorSpaceConversion)
	}
	if init.Data == nil && init.DataReader == nil {
		return nil, media.Typef("data is required")
	}

	data := init.Data
	if data == nil {
		collected, err := io.ReadAll(init.DataReader)
		if err != nil {
			return nil, media.Encodingf("collecting image stream: %v", err)
		}
		data = collected
	} else {
		data = append([]byte(nil), data...)
	}

	d := &ImageDecoder{
		mime:            init.Type,
		data:            data,
		preferAnimation: init.PreferAnimation == nil || *init.PreferAnimation,
		cache:           map[int]*cachedFrame{},
		completed:       make(chan struct{}),
	}
	if init.DesiredWidth != nil {
		d.desiredW, d.desiredH = *init.DesiredWidth, *init.DesiredHeight
	}
	close(d.completed) // the source is fully buffered by construction

	// Container sniff: whether the payload is animated is known before any
	// frame is decoded.
	d.animated = init.Type == "image/gif" && gifFrameCount(data) > 1

	track := &ImageTrack{animated: d.animated, selected: true}
	d.tracks = &ImageTrackList{
		ready:  make(chan struct{}),
		tracks: []*ImageTrack{track},
	}
	if err := d.parseLocked(); err != nil {
		log.Warn().Err(err).Str("type", init.Type).Msg("image metadata parse failed")
	}
	close(d.tracks.ready)
	return d, nil
}

// gifFrameCount decodes the GIF and returns its frame count, or 0 when the
// data does not parse.
func gifFrameCount(data []byte) int {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return 0
	}
	return len(g.Image)
}

// parseLocked decodes the container into composited native-size frames.
// Caller holds d.mu (or is the constructor).
func (d *ImageDecoder) parseLocked() error {
	if d.parsed {
		return nil
	}
	track := d.tracks.tracks[0]

	if d.mime == "image/gif" && d.animated {
		g, err := gif.DecodeAll(bytes.NewReader(d.data))
		if err != nil {
			return media.Encodingf("decoding GIF: %v", err)
		}
		d.frames, d.delays = compositeGIF(g)
		track.mu.Lock()
		if g.LoopCount == 0 {
			track.repetitionCount = math.Inf(1) // loop forever
		} else if g.LoopCount > 0 {
			track.repetitionCount = float64(g.LoopCount)
		}
		track.mu.Unlock()
	} else {
		img, _, err := image.Decode(bytes.NewReader(d.data))
		if err != nil {
			return media.Encodingf("decoding image: %v", err)
		}
		d.frames = []image.Image{img}
		d.delays = []int64{0}
	}

	if !d.preferAnimation && len(d.frames) > 1 {
		d.frames = d.frames[:1]
		d.delays = d.delays[:1]
	}
	d.parsed = true
	track.setFrameCount(len(d.frames))
	return nil
}

// compositeGIF replays the GIF patch frames onto a full canvas, honouring
// the per-frame disposal modes, and converts delays to microseconds.
func compositeGIF(g *gif.GIF) ([]image.Image, []int64) {
	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() && len(g.Image) > 0 {
		bounds = g.Image[0].Bounds()
	}
	canvas := image.NewRGBA(bounds)
	frames := make([]image.Image, 0, len(g.Image))
	delays := make([]int64, 0, len(g.Image))

	for i, patch := range g.Image {
		var before *image.RGBA
		if i < len(g.Disposal) && g.Disposal[i] == gif.DisposalPrevious {
			before = image.NewRGBA(bounds)
			copy(before.Pix, canvas.Pix)
		}

		draw.Draw(canvas, patch.Bounds(), patch, patch.Bounds().Min, draw.Over)
		snapshot := image.NewRGBA(bounds)
		copy(snapshot.Pix, canvas.Pix)
		frames = append(frames, snapshot)

		delay := int64(0)
		if i < len(g.Delay) {
			delay = int64(g.Delay[i]) * 10_000 // 1/100 s to µs
		}
		delays = append(delays, delay)

		if i < len(g.Disposal) {
			switch g.Disposal[i] {
			case gif.DisposalBackground:
				draw.Draw(canvas, patch.Bounds(), image.Transparent, image.Point{}, draw.Src)
			case gif.DisposalPrevious:
				if before != nil {
					copy(canvas.Pix, before.Pix)
				}
			}
		}
	}
	return frames, delays
}

// Type returns the MIME type the decoder was constructed with.
func (d *ImageDecoder) Type() string { return d.mime }

// Complete reports whether all encoded bytes are buffered. Streams are
// collected in the constructor, so this is true for the decoder's lifetime.
func (d *ImageDecoder) Complete() bool { return true }

// Completed blocks until the byte source is fully buffered.
func (d *ImageDecoder) Completed(ctx context.Context) error {
	select {
	case <-d.completed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tracks returns the container's track list.
func (d *ImageDecoder) Tracks() *ImageTrackList { return d.tracks }

// Closed reports whether Close has been called.
func (d *ImageDecoder) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Decode produces the frame at opts.FrameIndex (0 when opts is nil) as an
// RGBA VideoFrame. Frames are memoized; an out-of-range index fails with a
// range error.
func (d *ImageDecoder) Decode(opts *DecodeOptions) (*DecodeResult, error) {
	index := 0
	if opts != nil {
		index = opts.FrameIndex
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, media.InvalidStatef("ImageDecoder is closed")
	}
	if index < 0 {
		return nil, media.Rangef("frameIndex %d is negative", index)
	}
	if err := d.parseLocked(); err != nil {
		return nil, err
	}
	if index >= len(d.frames) {
		return nil, media.Rangef("frameIndex %d out of range, track has %d frames", index, len(d.frames))
	}

	if hit, ok := d.cache[index]; ok {
		frame, err := hit.frame.Clone()
		if err != nil {
			return nil, err
		}
		return &DecodeResult{Image: frame, Complete: true}, nil
	}

	frame, err := d.frameAt(index)
	if err != nil {
		return nil, err
	}
	d.cache[index] = &cachedFrame{frame: frame}
	clone, err := frame.Clone()
	if err != nil {
		return nil, err
	}
	return &DecodeResult{Image: clone, Complete: true}, nil
}

// frameAt converts (and optionally resizes) the composited frame at index
// into an RGBA VideoFrame. Caller holds d.mu.
func (d *ImageDecoder) frameAt(index int) (*media.VideoFrame, error) {
	src := d.frames[index]
	rgba, ok := src.(*image.RGBA)
	if !ok {
		rgba = image.NewRGBA(src.Bounds())
		draw.Draw(rgba, rgba.Bounds(), src, src.Bounds().Min, draw.Src)
	}
	if d.desiredW > 0 && (rgba.Bounds().Dx() != d.desiredW || rgba.Bounds().Dy() != d.desiredH) {
		scaled := image.NewRGBA(image.Rect(0, 0, d.desiredW, d.desiredH))
		xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), rgba, rgba.Bounds(), xdraw.Src, nil)
		rgba = scaled
	}

	var timestamp int64
	for i := 0; i < index; i++ {
		timestamp += d.delays[i]
	}
	var duration *int64
	if d.delays[index] > 0 {
		dur := d.delays[index]
		duration = &dur
	}

	cs := media.SRGB()
	return media.NewVideoFrame(rgba.Pix, &media.VideoFrameInit{
		Format:      media.FormatRGBA,
		CodedWidth:  rgba.Bounds().Dx(),
		CodedHeight: rgba.Bounds().Dy(),
		Timestamp:   timestamp,
		Duration:    duration,
		ColorSpace:  &cs,
		Layout:      []media.PlaneLayout{{Offset: 0, Stride: rgba.Stride}},
	})
}

// Reset clears the frame cache; on animated containers the frame count
// reads 0 again until the next decode re-parses.
func (d *ImageDecoder) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return media.InvalidStatef("ImageDecoder is closed")
	}
	d.dropCacheLocked()
	if d.animated {
		d.parsed = false
		d.frames = nil
		d.delays = nil
		d.tracks.tracks[0].setFrameCount(0)
	}
	return nil
}

// Close releases every cached frame; further Decode or Reset calls fail
// with an invalid-state error.
func (d *ImageDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return media.InvalidStatef("ImageDecoder is already closed")
	}
	d.dropCacheLocked()
	d.frames = nil
	d.delays = nil
	d.data = nil
	d.closed = true
	return nil
}

func (d *ImageDecoder) dropCacheLocked() {
	for _, c := range d.cache {
		c.frame.Close()
	}
	d.cache = map[int]*cachedFrame{}
}
