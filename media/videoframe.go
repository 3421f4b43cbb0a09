package media

import (
	"math"
	"sync"
	"sync/atomic"
)

// retainedBuffer is the shared backing store of a frame and its clones. The
// payload is immutable once constructed; the count only gates when the slice
// is dropped for reuse-tracking purposes.
type retainedBuffer struct {
	refs atomic.Int32
	data []byte
}

func newRetainedBuffer(data []byte) *retainedBuffer {
	b := &retainedBuffer{data: data}
	b.refs.Store(1)
	return b
}

func (b *retainedBuffer) retain() *retainedBuffer {
	b.refs.Add(1)
	return b
}

func (b *retainedBuffer) release() {
	if b.refs.Add(-1) == 0 {
		b.data = nil
	}
}

// VideoFrameInit configures construction of a VideoFrame from a raw buffer,
// or overrides applied when wrapping an existing frame. Optional fields are
// pointers; nil means "use the default".
type VideoFrameInit struct {
	Format      PixelFormat
	CodedWidth  int
	CodedHeight int
	Timestamp   int64

	Duration      *int64
	VisibleRect   *Rect
	DisplayWidth  *int
	DisplayHeight *int
	Rotation      int
	Flip          bool
	ColorSpace    *VideoColorSpace
	Layout        []PlaneLayout // source layout of the input buffer; tight packing when nil
}

// VideoFrame is one uncompressed picture. Frames are reference counted
// through Clone/Close; the backing buffer is shared between clones and
// released when the last clone closes. All accessors are safe for concurrent
// use with Close.
type VideoFrame struct {
	mu  sync.Mutex
	buf *retainedBuffer

	format      PixelFormat
	codedWidth  int
	codedHeight int
	visible     Rect
	// displayWidth/displayHeight are the pre-rotation display dimensions;
	// the accessors swap them for 90/270 rotations.
	displayWidth  int
	displayHeight int
	timestamp     int64
	duration      *int64
	colorSpace    VideoColorSpace
	rotation      int
	flip          bool
	layout        []PlaneLayout
}

// normalizeRotation rounds an arbitrary integer rotation to the nearest
// multiple of 90 (ties toward +inf) and reduces it into [0, 360).
func normalizeRotation(r int) int {
	q := int(math.Floor(float64(r)/90 + 0.5))
	return ((q*90)%360 + 360) % 360
}

// NewVideoFrame constructs a frame by copying data. The buffer must hold at
// least the bytes described by the init's format, coded size and layout; the
// caller keeps ownership of data and may reuse it immediately.
func NewVideoFrame(data []byte, init *VideoFrameInit) (*VideoFrame, error) {
	if init == nil {
		return nil, Typef("missing VideoFrameInit")
	}
	if !init.Format.Valid() {
		return nil, Typef("invalid pixel format %q", string(init.Format))
	}
	if init.CodedWidth <= 0 || init.CodedHeight <= 0 {
		return nil, Typef("coded size must be positive, got %dx%d", init.CodedWidth, init.CodedHeight)
	}
	if init.Duration != nil && *init.Duration < 0 {
		return nil, Typef("duration must be non-negative")
	}

	visible := Rect{Width: init.CodedWidth, Height: init.CodedHeight}
	if init.VisibleRect != nil {
		if !init.VisibleRect.within(init.CodedWidth, init.CodedHeight) {
			return nil, Typef("visibleRect %+v exceeds coded size %dx%d",
				*init.VisibleRect, init.CodedWidth, init.CodedHeight)
		}
		visible = *init.VisibleRect
	}

	if (init.DisplayWidth == nil) != (init.DisplayHeight == nil) {
		return nil, Typef("displayWidth and displayHeight must be specified together")
	}
	displayW, displayH := visible.Width, visible.Height
	if init.DisplayWidth != nil {
		if *init.DisplayWidth <= 0 || *init.DisplayHeight <= 0 {
			return nil, Typef("display size must be positive")
		}
		displayW, displayH = *init.DisplayWidth, *init.DisplayHeight
	}

	srcLayout := init.Layout
	tight, size := init.Format.tightLayout(init.CodedWidth, init.CodedHeight)
	if srcLayout == nil {
		srcLayout = tight
	} else if len(srcLayout) != init.Format.NumPlanes() {
		return nil, Typef("layout has %d planes, format %s has %d",
			len(srcLayout), string(init.Format), init.Format.NumPlanes())
	}

	// Repack into a tight private buffer regardless of the source strides.
	buf := make([]byte, size)
	for i := range tight {
		rowBytes, rows := init.Format.PlaneDims(i, init.CodedWidth, init.CodedHeight)
		for r := 0; r < rows; r++ {
			srcOff := srcLayout[i].Offset + r*srcLayout[i].Stride
			if srcOff+rowBytes > len(data) {
				return nil, Typef("data too small: plane %d row %d needs %d bytes, have %d",
					i, r, srcOff+rowBytes, len(data))
			}
			copy(buf[tight[i].Offset+r*tight[i].Stride:], data[srcOff:srcOff+rowBytes])
		}
	}

	f := &VideoFrame{
		buf:           newRetainedBuffer(buf),
		format:        init.Format,
		codedWidth:    init.CodedWidth,
		codedHeight:   init.CodedHeight,
		visible:       visible,
		displayWidth:  displayW,
		displayHeight: displayH,
		timestamp:     init.Timestamp,
		rotation:      normalizeRotation(init.Rotation),
		flip:          init.Flip,
		layout:        tight,
	}
	if init.Duration != nil {
		d := *init.Duration
		f.duration = &d
	}
	if init.ColorSpace != nil {
		f.colorSpace = init.ColorSpace.Clone()
	}
	return f, nil
}

// VideoFrameFromFrame wraps an existing frame, sharing its buffer and
// composing orientation metadata. The source must still be open; it remains
// independently closable afterwards.
//
// Rotation composes through the source's flip: a flip mirrors the axis an
// added rotation turns around, so the effective added rotation is negated
// when the source is flipped. Flips compose by XOR. Display dimensions are
// recomputed from the composed rotation rather than inherited.
func VideoFrameFromFrame(src *VideoFrame, init *VideoFrameInit) (*VideoFrame, error) {
	if src == nil {
		return nil, Typef("nil source frame")
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.buf == nil {
		return nil, Typef("source frame is closed")
	}

	addRotation := 0
	addFlip := false
	timestamp := src.timestamp
	var duration *int64
	if src.duration != nil {
		d := *src.duration
		duration = &d
	}
	visible := src.visible
	displayW, displayH := src.displayWidth, src.displayHeight

	if init != nil {
		addRotation = normalizeRotation(init.Rotation)
		addFlip = init.Flip
		if init.Timestamp != 0 {
			timestamp = init.Timestamp
		}
		if init.Duration != nil {
			if *init.Duration < 0 {
				return nil, Typef("duration must be non-negative")
			}
			d := *init.Duration
			duration = &d
		}
		if init.VisibleRect != nil {
			if !init.VisibleRect.within(src.codedWidth, src.codedHeight) {
				return nil, Typef("visibleRect %+v exceeds coded size %dx%d",
					*init.VisibleRect, src.codedWidth, src.codedHeight)
			}
			visible = *init.VisibleRect
			displayW, displayH = visible.Width, visible.Height
		}
		if (init.DisplayWidth == nil) != (init.DisplayHeight == nil) {
			return nil, Typef("displayWidth and displayHeight must be specified together")
		}
		if init.DisplayWidth != nil {
			if *init.DisplayWidth <= 0 || *init.DisplayHeight <= 0 {
				return nil, Typef("display size must be positive")
			}
			displayW, displayH = *init.DisplayWidth, *init.DisplayHeight
		}
	}

	if src.flip {
		addRotation = (360 - addRotation) % 360
	}
	return &VideoFrame{
		buf:           src.buf.retain(),
		format:        src.format,
		codedWidth:    src.codedWidth,
		codedHeight:   src.codedHeight,
		visible:       visible,
		displayWidth:  displayW,
		displayHeight: displayH,
		timestamp:     timestamp,
		duration:      duration,
		colorSpace:    src.colorSpace.Clone(),
		rotation:      (src.rotation + addRotation) % 360,
		flip:          src.flip != addFlip,
		layout:        src.layout,
	}, nil
}

// FrameFromPicture adopts a backend picture as a VideoFrame without another
// copy; the picture's planes must be private to the caller. Used by the
// decoder output path and the image decoder.
func FrameFromPicture(pic *RawPicture, timestamp int64, duration *int64, rotation int, flip bool) (*VideoFrame, error) {
	if pic == nil || !pic.Format.Valid() {
		return nil, Typef("invalid backend picture")
	}
	tight, size := pic.Format.tightLayout(pic.Width, pic.Height)
	buf := make([]byte, size)
	for i := range tight {
		rowBytes, rows := pic.Format.PlaneDims(i, pic.Width, pic.Height)
		for r := 0; r < rows; r++ {
			copy(buf[tight[i].Offset+r*tight[i].Stride:], pic.Planes[i][r*pic.Strides[i]:r*pic.Strides[i]+rowBytes])
		}
	}
	f := &VideoFrame{
		buf:           newRetainedBuffer(buf),
		format:        pic.Format,
		codedWidth:    pic.Width,
		codedHeight:   pic.Height,
		visible:       Rect{Width: pic.Width, Height: pic.Height},
		displayWidth:  pic.Width,
		displayHeight: pic.Height,
		timestamp:     timestamp,
		colorSpace:    pic.ColorSpace.Clone(),
		rotation:      normalizeRotation(rotation),
		flip:          flip,
		layout:        tight,
	}
	if duration != nil {
		d := *duration
		f.duration = &d
	}
	return f, nil
}

// Format returns the pixel format, or FormatNone once the frame is closed.
func (f *VideoFrame) Format() PixelFormat {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.format
}

func (f *VideoFrame) CodedWidth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.codedWidth
}

func (f *VideoFrame) CodedHeight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.codedHeight
}

// CodedRect returns the full coded area, or an empty rect once closed.
func (f *VideoFrame) CodedRect() Rect {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Rect{Width: f.codedWidth, Height: f.codedHeight}
}

func (f *VideoFrame) VisibleRect() Rect {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visible
}

// DisplayWidth returns the width at which the frame should be presented,
// after rotation.
func (f *VideoFrame) DisplayWidth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rotation == 90 || f.rotation == 270 {
		return f.displayHeight
	}
	return f.displayWidth
}

func (f *VideoFrame) DisplayHeight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rotation == 90 || f.rotation == 270 {
		return f.displayWidth
	}
	return f.displayHeight
}

func (f *VideoFrame) Timestamp() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timestamp
}

// Duration returns the frame duration in microseconds and whether one is
// known.
func (f *VideoFrame) Duration() (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.duration == nil {
		return 0, false
	}
	return *f.duration, true
}

func (f *VideoFrame) ColorSpace() VideoColorSpace {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.colorSpace.Clone()
}

// Rotation returns the display rotation in degrees: 0, 90, 180 or 270.
func (f *VideoFrame) Rotation() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rotation
}

// Flip reports whether the frame is mirrored horizontally before rotation.
func (f *VideoFrame) Flip() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flip
}

func (f *VideoFrame) NumberOfPlanes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.format.NumPlanes()
}

// visibleLayout returns the tight destination layouts of the visible rect's
// per-plane windows and their total byte size.
func (f *VideoFrame) visibleLayout() (dst []PlaneLayout, total int) {
	dst, total = f.format.tightLayout(f.visible.Width, f.visible.Height)
	return dst, total
}

// AllocationSize returns the byte size a CopyTo destination must have: the
// tight packing of the visible rectangle.
func (f *VideoFrame) AllocationSize() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buf == nil {
		return 0, InvalidStatef("frame is closed")
	}
	_, total := f.visibleLayout()
	return total, nil
}

// CopyTo copies the visible rectangle of every plane into dest, tightly
// packed, and returns the plane layouts describing the result.
func (f *VideoFrame) CopyTo(dest []byte) ([]PlaneLayout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buf == nil {
		return nil, InvalidStatef("frame is closed")
	}
	dstLayout, total := f.visibleLayout()
	if len(dest) < total {
		return nil, Typef("destination too small: need %d bytes, have %d", total, len(dest))
	}
	for i := range dstLayout {
		spec := planeSpecs[f.format][i]
		rowBytes, rows := f.format.PlaneDims(i, f.visible.Width, f.visible.Height)
		srcX := f.visible.X / spec.subX * spec.bytesPerElem
		srcY := f.visible.Y / spec.subY
		for r := 0; r < rows; r++ {
			src := f.layout[i].Offset + (srcY+r)*f.layout[i].Stride + srcX
			copy(dest[dstLayout[i].Offset+r*dstLayout[i].Stride:], f.buf.data[src:src+rowBytes])
		}
	}
	return dstLayout, nil
}

// Picture borrows the coded planes for the backend. The returned planes
// alias the frame's buffer and stay valid only until the last clone closes.
func (f *VideoFrame) Picture() (*RawPicture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buf == nil {
		return nil, Typef("frame is closed")
	}
	pic := &RawPicture{
		Format:     f.format,
		Width:      f.codedWidth,
		Height:     f.codedHeight,
		Planes:     make([][]byte, len(f.layout)),
		Strides:    make([]int, len(f.layout)),
		PTS:        f.timestamp,
		ColorSpace: f.colorSpace.Clone(),
	}
	if f.duration != nil {
		pic.Duration = *f.duration
	}
	for i := range f.layout {
		rowBytes, rows := f.format.PlaneDims(i, f.codedWidth, f.codedHeight)
		end := f.layout[i].Offset + (rows-1)*f.layout[i].Stride + rowBytes
		pic.Planes[i] = f.buf.data[f.layout[i].Offset:end]
		pic.Strides[i] = f.layout[i].Stride
	}
	return pic, nil
}

// Clone returns an independently closable frame sharing this frame's buffer.
func (f *VideoFrame) Clone() (*VideoFrame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buf == nil {
		return nil, InvalidStatef("frame is closed")
	}
	var duration *int64
	if f.duration != nil {
		d := *f.duration
		duration = &d
	}
	return &VideoFrame{
		buf:           f.buf.retain(),
		format:        f.format,
		codedWidth:    f.codedWidth,
		codedHeight:   f.codedHeight,
		visible:       f.visible,
		displayWidth:  f.displayWidth,
		displayHeight: f.displayHeight,
		timestamp:     f.timestamp,
		duration:      duration,
		colorSpace:    f.colorSpace.Clone(),
		rotation:      f.rotation,
		flip:          f.flip,
		layout:        f.layout,
	}, nil
}

// Close releases this frame's reference to the buffer. Afterwards the format
// reads as FormatNone, all dimensions read as zero and plane access fails.
// Closing an already-closed frame is a no-op.
func (f *VideoFrame) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buf == nil {
		return
	}
	f.buf.release()
	f.buf = nil
	f.format = FormatNone
	f.codedWidth, f.codedHeight = 0, 0
	f.visible = Rect{}
	f.displayWidth, f.displayHeight = 0, 0
	f.layout = nil
}

// Closed reports whether Close has been called on this frame.
func (f *VideoFrame) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf == nil
}
