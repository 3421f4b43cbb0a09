package media

import "sync"

// AudioDataInit configures construction of an AudioData. Data is copied; the
// caller keeps ownership of the slice.
type AudioDataInit struct {
	Data             []byte
	Format           SampleFormat
	SampleRate       int
	NumberOfFrames   int
	NumberOfChannels int
	Timestamp        int64
}

// AudioDataCopyToOptions selects what CopyTo and AllocationSize operate on.
// PlaneIndex is required; FrameOffset and FrameCount default to the whole
// buffer.
type AudioDataCopyToOptions struct {
	PlaneIndex  int
	FrameOffset int
	FrameCount  *int
}

// AudioData is one buffer of audio samples. Like VideoFrame it is reference
// counted through Clone/Close.
type AudioData struct {
	mu  sync.Mutex
	buf *retainedBuffer

	format     SampleFormat
	sampleRate int
	frames     int
	channels   int
	timestamp  int64
}

// NewAudioData validates the init, copies the sample data and returns the
// constructed buffer.
func NewAudioData(init *AudioDataInit) (*AudioData, error) {
	if init == nil {
		return nil, Typef("missing AudioDataInit")
	}
	if !init.Format.Valid() {
		return nil, Typef("invalid sample format %q", string(init.Format))
	}
	if init.SampleRate <= 0 {
		return nil, Typef("sampleRate must be positive, got %d", init.SampleRate)
	}
	if init.NumberOfFrames <= 0 {
		return nil, Typef("numberOfFrames must be positive, got %d", init.NumberOfFrames)
	}
	if init.NumberOfChannels <= 0 {
		return nil, Typef("numberOfChannels must be positive, got %d", init.NumberOfChannels)
	}
	need := init.NumberOfFrames * init.NumberOfChannels * init.Format.BytesPerSample()
	if len(init.Data) < need {
		return nil, Typef("data too small: need %d bytes, have %d", need, len(init.Data))
	}
	buf := make([]byte, need)
	copy(buf, init.Data)
	return &AudioData{
		buf:        newRetainedBuffer(buf),
		format:     init.Format,
		sampleRate: init.SampleRate,
		frames:     init.NumberOfFrames,
		channels:   init.NumberOfChannels,
		timestamp:  init.Timestamp,
	}, nil
}

// AudioFromRaw adopts a backend sample run as an AudioData without another
// copy. Planes must be private to the caller and tightly packed.
func AudioFromRaw(raw *RawAudio) (*AudioData, error) {
	if raw == nil || !raw.Format.Valid() {
		return nil, Typef("invalid backend audio")
	}
	planeBytes := raw.Frames * raw.Format.BytesPerSample()
	if !raw.Format.Planar() {
		planeBytes *= raw.Channels
	}
	buf := make([]byte, 0, planeBytes*len(raw.Planes))
	for _, p := range raw.Planes {
		buf = append(buf, p[:planeBytes]...)
	}
	return &AudioData{
		buf:        newRetainedBuffer(buf),
		format:     raw.Format,
		sampleRate: raw.SampleRate,
		frames:     raw.Frames,
		channels:   raw.Channels,
		timestamp:  raw.PTS,
	}, nil
}

// Format returns the sample format, or SampleFormatNone once closed.
func (a *AudioData) Format() SampleFormat {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.format
}

func (a *AudioData) SampleRate() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sampleRate
}

func (a *AudioData) NumberOfFrames() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frames
}

func (a *AudioData) NumberOfChannels() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.channels
}

// NumberOfPlanes is 1 for interleaved formats and the channel count for
// planar formats.
func (a *AudioData) NumberOfPlanes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.format == SampleFormatNone {
		return 0
	}
	if a.format.Planar() {
		return a.channels
	}
	return 1
}

func (a *AudioData) Timestamp() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timestamp
}

// Duration returns numberOfFrames * 1e6 / sampleRate in integer
// microseconds, or 0 once closed.
func (a *AudioData) Duration() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sampleRate == 0 {
		return 0
	}
	return int64(a.frames) * 1_000_000 / int64(a.sampleRate)
}

// planeBounds returns the byte offset and length of plane index inside the
// backing buffer, plus the bytes per frame within that plane.
func (a *AudioData) planeBounds(index int) (offset, length, bytesPerFrame int, err error) {
	planes := 1
	if a.format.Planar() {
		planes = a.channels
	}
	if index < 0 || index >= planes {
		return 0, 0, 0, Rangef("planeIndex %d out of range, format %s has %d planes",
			index, string(a.format), planes)
	}
	bytesPerFrame = a.format.BytesPerSample()
	if !a.format.Planar() {
		bytesPerFrame *= a.channels
	}
	length = bytesPerFrame * a.frames
	offset = index * length
	return offset, length, bytesPerFrame, nil
}

// AllocationSize returns the destination size CopyTo requires for the given
// options. The options argument is mandatory.
func (a *AudioData) AllocationSize(opts *AudioDataCopyToOptions) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.buf == nil {
		return 0, InvalidStatef("AudioData is closed")
	}
	if opts == nil {
		return 0, Typef("AllocationSize requires options")
	}
	_, _, bytesPerFrame, count, err := a.window(opts)
	if err != nil {
		return 0, err
	}
	return count * bytesPerFrame, nil
}

func (a *AudioData) window(opts *AudioDataCopyToOptions) (offset, length, bytesPerFrame, count int, err error) {
	offset, length, bytesPerFrame, err = a.planeBounds(opts.PlaneIndex)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	if opts.FrameOffset < 0 || opts.FrameOffset > a.frames {
		return 0, 0, 0, 0, Rangef("frameOffset %d out of range", opts.FrameOffset)
	}
	count = a.frames - opts.FrameOffset
	if opts.FrameCount != nil {
		if *opts.FrameCount < 0 || *opts.FrameCount > count {
			return 0, 0, 0, 0, Rangef("frameCount %d out of range", *opts.FrameCount)
		}
		count = *opts.FrameCount
	}
	return offset, length, bytesPerFrame, count, nil
}

// CopyTo synchronously copies the selected plane window into dest.
func (a *AudioData) CopyTo(dest []byte, opts *AudioDataCopyToOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.buf == nil {
		return InvalidStatef("AudioData is closed")
	}
	if opts == nil {
		return Typef("CopyTo requires options")
	}
	offset, _, bytesPerFrame, count, err := a.window(opts)
	if err != nil {
		return err
	}
	need := count * bytesPerFrame
	if len(dest) < need {
		return Typef("destination too small: need %d bytes, have %d", need, len(dest))
	}
	start := offset + opts.FrameOffset*bytesPerFrame
	copy(dest, a.buf.data[start:start+need])
	return nil
}

// Raw borrows the planes for the backend; valid until the last clone closes.
func (a *AudioData) Raw() (*RawAudio, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.buf == nil {
		return nil, Typef("AudioData is closed")
	}
	raw := &RawAudio{
		Format:     a.format,
		SampleRate: a.sampleRate,
		Channels:   a.channels,
		Frames:     a.frames,
		PTS:        a.timestamp,
	}
	planes := 1
	if a.format.Planar() {
		planes = a.channels
	}
	raw.Planes = make([][]byte, planes)
	for i := 0; i < planes; i++ {
		offset, length, _, _ := a.planeBounds(i)
		raw.Planes[i] = a.buf.data[offset : offset+length]
	}
	return raw, nil
}

// Clone returns an independently closable AudioData sharing the buffer.
func (a *AudioData) Clone() (*AudioData, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.buf == nil {
		return nil, InvalidStatef("AudioData is closed")
	}
	return &AudioData{
		buf:        a.buf.retain(),
		format:     a.format,
		sampleRate: a.sampleRate,
		frames:     a.frames,
		channels:   a.channels,
		timestamp:  a.timestamp,
	}, nil
}

// Close releases this reference. Afterwards the format reads as
// SampleFormatNone and all dimensions read as zero.
func (a *AudioData) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.buf == nil {
		return
	}
	a.buf.release()
	a.buf = nil
	a.format = SampleFormatNone
	a.sampleRate, a.frames, a.channels = 0, 0, 0
}

// Closed reports whether Close has been called.
func (a *AudioData) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf == nil
}
