package codec

import (
	"context"

	"github.com/richinsley/gowebcodecs/ffmpeg"
	"github.com/richinsley/gowebcodecs/media"
)

// VideoDecoderInit carries the decoder callbacks; both run on the engine's
// delivery goroutine.
type VideoDecoderInit struct {
	Output func(frame *media.VideoFrame)
	Error  func(err error)
}

// VideoDecoderConfig mirrors the WebCodecs dictionary. Rotation and Flip
// are applied to every produced frame.
type VideoDecoderConfig struct {
	Codec                string
	CodedWidth           int
	CodedHeight          int
	DisplayAspectWidth   int
	DisplayAspectHeight  int
	Description          []byte
	ColorSpace           *media.VideoColorSpace
	HardwareAcceleration string
	OptimizeForLatency   bool
	Rotation             int
	Flip                 bool
}

type videoDecodeJob struct {
	chunk *media.EncodedVideoChunk
}

type videoDecConfigPayload struct {
	cfg       *VideoDecoderConfig
	desc      codecDesc
	supported bool
	reason    string
}

// videoDecBackend is the slice of the backend adapter the decoder engine
// uses.
type videoDecBackend interface {
	Decode(pkt *media.Packet) ([]*media.RawPicture, error)
	Flush() ([]*media.RawPicture, error)
	Name() string
	Close()
}

var openVideoDecBackend = func(p *ffmpeg.VideoDecoderParams) (videoDecBackend, error) {
	return ffmpeg.OpenVideoDecoder(p)
}

// VideoDecoder turns EncodedVideoChunks into VideoFrames.
type VideoDecoder struct {
	core   *engineCore
	output func(*media.VideoFrame)

	// keyRequired flips to false once a decodable entry point has been
	// seen. It and the user-side config snapshot are guarded by the core
	// mutex because Decode reads them.
	keyRequired bool
	userCfg     *VideoDecoderConfig
	userDesc    codecDesc

	// Worker-side state.
	be   videoDecBackend
	cfg  *VideoDecoderConfig
	desc codecDesc
}

// NewVideoDecoder constructs an unconfigured decoder. Both callbacks are
// required.
func NewVideoDecoder(init *VideoDecoderInit) (*VideoDecoder, error) {
	if init == nil || init.Output == nil || init.Error == nil {
		return nil, media.Typef("VideoDecoder requires output and error callbacks")
	}
	d := &VideoDecoder{output: init.Output}
	d.core = newEngineCore("VideoDecoder", init.Error, d)
	return d, nil
}

func validateVideoDecoderConfig(cfg *VideoDecoderConfig) error {
	if cfg == nil {
		return media.Typef("missing VideoDecoderConfig")
	}
	if cfg.Codec == "" {
		return media.Typef("codec is required")
	}
	if cfg.CodedWidth < 0 || cfg.CodedHeight < 0 {
		return media.Typef("coded size must be positive")
	}
	if (cfg.CodedWidth == 0) != (cfg.CodedHeight == 0) {
		return media.Typef("codedWidth and codedHeight must be specified together")
	}
	if !ffmpeg.ValidAcceleration(ffmpeg.Acceleration(cfg.HardwareAcceleration)) {
		return media.Typef("invalid hardwareAcceleration %q", cfg.HardwareAcceleration)
	}
	return nil
}

func videoDecoderSupport(cfg *VideoDecoderConfig) (codecDesc, bool, string) {
	desc, ok := parseCodecString(cfg.Codec)
	if !ok || desc.Kind != KindVideo {
		return desc, false, "unrecognized codec string"
	}
	if !hasDecoderHook(desc.Name) {
		return desc, false, "no decoder implementation available"
	}
	return desc, true, ""
}

// Configure replaces the decoder's backend context and re-arms the
// key-chunk requirement.
func (d *VideoDecoder) Configure(cfg *VideoDecoderConfig) error {
	if err := validateVideoDecoderConfig(cfg); err != nil {
		return err
	}
	c := *cfg
	desc, supported, reason := videoDecoderSupport(&c)
	err := d.core.configure(&videoDecConfigPayload{
		cfg:       &c,
		desc:      desc,
		supported: supported,
		reason:    reason,
	})
	if err == nil {
		d.core.mu.Lock()
		d.keyRequired = true
		d.userCfg = &c
		d.userDesc = desc
		d.core.mu.Unlock()
	}
	return err
}

// Decode queues one chunk. The first chunk after configure or reset must be
// a key chunk — or, for H.264, carry a recovery-point SEI that makes it a
// legal entry point.
func (d *VideoDecoder) Decode(chunk *media.EncodedVideoChunk) error {
	if chunk == nil {
		return media.Typef("missing chunk")
	}
	if s := d.core.currentState(); s != StateConfigured {
		return media.InvalidStatef("codec is %s, not configured", s)
	}

	d.core.mu.Lock()
	if d.keyRequired && chunk.Type() != media.ChunkTypeKey {
		entryPoint := d.userDesc.Name == "h264" &&
			h264KeyLike(chunk.Bytes(), len(d.userCfg.Description) > 0)
		if !entryPoint {
			d.core.mu.Unlock()
			return media.Typef("a key chunk is required after configure or reset")
		}
	}
	d.keyRequired = false
	d.core.mu.Unlock()

	return d.core.submit(&videoDecodeJob{chunk: chunk})
}

// Flush resolves once every chunk submitted before it has produced its
// frames on the host loop; it also re-arms the key-chunk requirement.
func (d *VideoDecoder) Flush(ctx context.Context) error {
	err := d.core.flush(ctx)
	if err == nil {
		d.core.mu.Lock()
		d.keyRequired = true
		d.core.mu.Unlock()
	}
	return err
}

func (d *VideoDecoder) Reset() error {
	err := d.core.reset()
	if err == nil {
		d.core.mu.Lock()
		d.keyRequired = true
		d.core.mu.Unlock()
	}
	return err
}

func (d *VideoDecoder) Close() error {
	return d.core.close()
}

func (d *VideoDecoder) State() State {
	return d.core.currentState()
}

func (d *VideoDecoder) DecodeQueueSize() int {
	return d.core.queueDepth()
}

// SetOnDequeue installs the handler invoked after the worker consumes a
// queued chunk; pass nil to clear it.
func (d *VideoDecoder) SetOnDequeue(fn func()) {
	d.core.setOnDequeue(fn)
}

// --- processor implementation (worker goroutine) ---

func (d *VideoDecoder) open(payload any) error {
	p := payload.(*videoDecConfigPayload)
	d.teardown()
	if !p.supported {
		return media.NotSupportedf("%s: %s", p.cfg.Codec, p.reason)
	}
	be, err := openVideoDecBackend(&ffmpeg.VideoDecoderParams{
		Codec:       p.desc.Name,
		CodedWidth:  p.cfg.CodedWidth,
		CodedHeight: p.cfg.CodedHeight,
		ExtraData:   p.cfg.Description,
		LowDelay:    p.cfg.OptimizeForLatency,
	})
	if err != nil {
		return err
	}
	d.be = be
	d.cfg = p.cfg
	d.desc = p.desc
	d.core.log.Info().Str("codec", p.cfg.Codec).Str("decoder", be.Name()).
		Msg("decoder configured")
	return nil
}

func (d *VideoDecoder) process(payload any) ([]func(), error) {
	job := payload.(*videoDecodeJob)
	if job.chunk.ByteLength() == 0 {
		return nil, media.Encodingf("empty chunk")
	}
	pkt := &media.Packet{
		Data: job.chunk.Bytes(),
		PTS:  job.chunk.Timestamp(),
		Key:  job.chunk.Type() == media.ChunkTypeKey,
	}
	if dur, ok := job.chunk.Duration(); ok {
		pkt.Duration = dur
	}
	pics, decErr := d.be.Decode(pkt)
	outs, err := d.wrapPictures(pics)
	if err != nil {
		return outs, err
	}
	return outs, decErr
}

func (d *VideoDecoder) drain() ([]func(), error) {
	pics, decErr := d.be.Flush()
	outs, err := d.wrapPictures(pics)
	if err != nil {
		return outs, err
	}
	return outs, decErr
}

func (d *VideoDecoder) wrapPictures(pics []*media.RawPicture) ([]func(), error) {
	var outs []func()
	for _, pic := range pics {
		var duration *int64
		if pic.Duration > 0 {
			dur := pic.Duration
			duration = &dur
		}
		frame, err := media.FrameFromPicture(pic, pic.PTS, duration, d.cfg.Rotation, d.cfg.Flip)
		if err != nil {
			return outs, err
		}
		outs = append(outs, func() { d.output(frame) })
	}
	return outs, nil
}

func (d *VideoDecoder) discard(payload any) {
	// Chunks have no close operation; nothing to release.
}

func (d *VideoDecoder) teardown() {
	if d.be != nil {
		d.be.Close()
		d.be = nil
	}
}
