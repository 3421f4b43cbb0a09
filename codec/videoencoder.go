package codec

import (
	"context"

	"github.com/richinsley/gowebcodecs/ffmpeg"
	"github.com/richinsley/gowebcodecs/media"
)

// VideoEncoderInit carries the two callbacks a VideoEncoder delivers
// through. Both run on the engine's delivery goroutine.
type VideoEncoderInit struct {
	Output func(chunk *media.EncodedVideoChunk, metadata *VideoEncoderOutputMetadata)
	Error  func(err error)
}

// AvcEncoderConfig selects the AVC bitstream packaging.
type AvcEncoderConfig struct {
	Format string // "avc" | "annexb"
}

// HevcEncoderConfig selects the HEVC bitstream packaging.
type HevcEncoderConfig struct {
	Format string // "hevc" | "annexb"
}

// VideoEncoderConfig mirrors the WebCodecs dictionary.
type VideoEncoderConfig struct {
	Codec                string
	Width                int
	Height               int
	DisplayWidth         int
	DisplayHeight        int
	Bitrate              int64
	BitrateMode          string // "constant" | "variable"
	Framerate            float64
	LatencyMode          string // "quality" | "realtime"
	ScalabilityMode      string // "L1T1".."L1T3"
	Alpha                string // "keep" | "discard"
	HardwareAcceleration string
	AVC                  *AvcEncoderConfig
	HEVC                 *HevcEncoderConfig
}

// VideoEncoderEncodeOptions carries the per-encode flags.
type VideoEncoderEncodeOptions struct {
	KeyFrame bool
}

// SvcOutputMetadata reports the temporal layer of one chunk when a
// multi-layer scalability mode (L1T2 or L1T3) is configured.
type SvcOutputMetadata struct {
	TemporalLayerID int
}

// VideoEncoderOutputMetadata accompanies every output chunk. DecoderConfig
// is present on the first chunk after each configure and nil on the chunks
// that follow it.
type VideoEncoderOutputMetadata struct {
	DecoderConfig *VideoDecoderConfig
	SVC           *SvcOutputMetadata
	AlphaSideData []byte
}

// videoEncBackend is the slice of the backend adapter the encoder engine
// uses; ffmpeg.VideoEncoder satisfies it and tests substitute stubs.
type videoEncBackend interface {
	Encode(pic *media.RawPicture, forceKey bool) ([]*media.Packet, error)
	Flush() ([]*media.Packet, error)
	ExtraData() []byte
	Name() string
	Close()
}

var openVideoEncBackend = func(p *ffmpeg.VideoEncoderParams) (videoEncBackend, error) {
	return ffmpeg.OpenVideoEncoder(p)
}

type videoEncodeJob struct {
	frame *media.VideoFrame
	key   bool
}

type videoEncConfigPayload struct {
	cfg       *VideoEncoderConfig
	desc      codecDesc
	supported bool
	reason    string
}

// VideoEncoder turns VideoFrames into EncodedVideoChunks.
type VideoEncoder struct {
	core   *engineCore
	output func(*media.EncodedVideoChunk, *VideoEncoderOutputMetadata)

	// Worker-side state; only the worker goroutine touches these after
	// construction.
	be         videoEncBackend
	cfg        *VideoEncoderConfig
	desc       codecDesc
	needConfig bool
	svcLayers  int
}

// NewVideoEncoder constructs an unconfigured encoder. Both callbacks are
// required.
func NewVideoEncoder(init *VideoEncoderInit) (*VideoEncoder, error) {
	if init == nil || init.Output == nil || init.Error == nil {
		return nil, media.Typef("VideoEncoder requires output and error callbacks")
	}
	e := &VideoEncoder{output: init.Output}
	e.core = newEngineCore("VideoEncoder", init.Error, e)
	return e, nil
}

func parseScalabilityMode(s string) (layers int, ok bool) {
	switch s {
	case "":
		return 1, true
	case "L1T1":
		return 1, true
	case "L1T2":
		return 2, true
	case "L1T3":
		return 3, true
	}
	return 0, false
}

// validateVideoEncoderConfig applies the synchronous type checks: missing
// required fields and invalid enum values throw; a merely unsupported codec
// does not.
func validateVideoEncoderConfig(cfg *VideoEncoderConfig) error {
	if cfg == nil {
		return media.Typef("missing VideoEncoderConfig")
	}
	if cfg.Codec == "" {
		return media.Typef("codec is required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return media.Typef("width and height must be positive, got %dx%d", cfg.Width, cfg.Height)
	}
	if (cfg.DisplayWidth != 0) != (cfg.DisplayHeight != 0) {
		return media.Typef("displayWidth and displayHeight must be specified together")
	}
	if cfg.DisplayWidth < 0 || cfg.DisplayHeight < 0 {
		return media.Typef("display size must be positive")
	}
	switch cfg.BitrateMode {
	case "", "constant", "variable":
	default:
		return media.Typef("invalid bitrateMode %q", cfg.BitrateMode)
	}
	switch cfg.LatencyMode {
	case "", "quality", "realtime":
	default:
		return media.Typef("invalid latencyMode %q", cfg.LatencyMode)
	}
	switch cfg.Alpha {
	case "", "keep", "discard":
	default:
		return media.Typef("invalid alpha %q", cfg.Alpha)
	}
	if !ffmpeg.ValidAcceleration(ffmpeg.Acceleration(cfg.HardwareAcceleration)) {
		return media.Typef("invalid hardwareAcceleration %q", cfg.HardwareAcceleration)
	}
	if cfg.AVC != nil {
		switch cfg.AVC.Format {
		case "avc", "annexb":
		default:
			return media.Typef("invalid avc.format %q", cfg.AVC.Format)
		}
	}
	if cfg.HEVC != nil {
		switch cfg.HEVC.Format {
		case "hevc", "annexb":
		default:
			return media.Typef("invalid hevc.format %q", cfg.HEVC.Format)
		}
	}
	return nil
}

// videoEncoderSupport decides whether a well-formed config can be satisfied
// and, if so, parses the codec string.
func videoEncoderSupport(cfg *VideoEncoderConfig) (codecDesc, bool, string) {
	desc, ok := parseCodecString(cfg.Codec)
	if !ok || desc.Kind != KindVideo {
		return desc, false, "unrecognized codec string"
	}
	if _, ok := parseScalabilityMode(cfg.ScalabilityMode); !ok {
		return desc, false, "unsupported scalabilityMode"
	}
	if !hasEncoderHook(desc.Name, ffmpeg.Acceleration(cfg.HardwareAcceleration)) {
		return desc, false, "no encoder implementation available"
	}
	return desc, true, ""
}

// Configure replaces the encoder's backend context. Malformed configs fail
// synchronously; well-formed but unsupported ones close the encoder and
// surface through the error callback.
func (e *VideoEncoder) Configure(cfg *VideoEncoderConfig) error {
	if err := validateVideoEncoderConfig(cfg); err != nil {
		return err
	}
	c := *cfg
	desc, supported, reason := videoEncoderSupport(&c)
	return e.core.configure(&videoEncConfigPayload{
		cfg:       &c,
		desc:      desc,
		supported: supported,
		reason:    reason,
	})
}

// Encode queues one frame. The frame is retained by reference until the
// worker has pushed it into the backend; the caller may close its handle
// immediately after Encode returns.
func (e *VideoEncoder) Encode(frame *media.VideoFrame, opts *VideoEncoderEncodeOptions) error {
	if frame == nil || frame.Closed() {
		return media.Typef("cannot encode a closed frame")
	}
	if s := e.core.currentState(); s != StateConfigured {
		return media.InvalidStatef("codec is %s, not configured", s)
	}
	clone, err := frame.Clone()
	if err != nil {
		return media.Typef("cannot encode a closed frame")
	}
	job := &videoEncodeJob{frame: clone}
	if opts != nil {
		job.key = opts.KeyFrame
	}
	if err := e.core.submit(job); err != nil {
		clone.Close()
		return err
	}
	return nil
}

// Flush resolves once every frame submitted before it has produced its
// outputs on the host loop.
func (e *VideoEncoder) Flush(ctx context.Context) error {
	return e.core.flush(ctx)
}

// Reset drops all queued work and returns to unconfigured. A pending flush
// rejects with ErrAborted.
func (e *VideoEncoder) Reset() error {
	return e.core.reset()
}

// Close shuts the encoder down; further calls fail with ErrInvalidState.
func (e *VideoEncoder) Close() error {
	return e.core.close()
}

func (e *VideoEncoder) State() State {
	return e.core.currentState()
}

func (e *VideoEncoder) EncodeQueueSize() int {
	return e.core.queueDepth()
}

// SetOnDequeue installs the handler invoked after the worker consumes a
// queued frame; pass nil to clear it.
func (e *VideoEncoder) SetOnDequeue(fn func()) {
	e.core.setOnDequeue(fn)
}

// --- processor implementation (worker goroutine) ---

func (e *VideoEncoder) open(payload any) error {
	p := payload.(*videoEncConfigPayload)
	e.teardown()
	if !p.supported {
		return media.NotSupportedf("%s: %s", p.cfg.Codec, p.reason)
	}

	params := &ffmpeg.VideoEncoderParams{
		Codec:        p.desc.Name,
		Acceleration: ffmpeg.Acceleration(p.cfg.HardwareAcceleration),
		Width:        p.cfg.Width,
		Height:       p.cfg.Height,
		Bitrate:      p.cfg.Bitrate,
		BitrateMode:  p.cfg.BitrateMode,
		Framerate:    p.cfg.Framerate,
		Realtime:     p.cfg.LatencyMode == "realtime",
		Profile:      p.desc.Profile,
		Level:        p.desc.Level,
		AnnexB:       bitstreamIsAnnexB(p.cfg, p.desc),
	}
	be, err := openVideoEncBackend(params)
	if err != nil {
		return err
	}
	e.be = be
	e.cfg = p.cfg
	e.desc = p.desc
	e.needConfig = true
	e.svcLayers, _ = parseScalabilityMode(p.cfg.ScalabilityMode)
	e.core.log.Info().Str("codec", p.cfg.Codec).Str("encoder", be.Name()).
		Int("width", p.cfg.Width).Int("height", p.cfg.Height).
		Msg("encoder configured")
	return nil
}

// bitstreamIsAnnexB reports whether the configured packaging keeps
// parameter sets in band.
func bitstreamIsAnnexB(cfg *VideoEncoderConfig, desc codecDesc) bool {
	switch desc.Name {
	case "h264":
		return cfg.AVC != nil && cfg.AVC.Format == "annexb"
	case "hevc":
		return cfg.HEVC != nil && cfg.HEVC.Format == "annexb"
	}
	return false
}

func (e *VideoEncoder) process(payload any) ([]func(), error) {
	job := payload.(*videoEncodeJob)
	defer job.frame.Close()

	pic, err := job.frame.Picture()
	if err != nil {
		return nil, err
	}
	packets, encErr := e.be.Encode(pic, job.key)
	outs, err := e.wrapPackets(packets)
	if err != nil {
		return outs, err
	}
	return outs, encErr
}

func (e *VideoEncoder) drain() ([]func(), error) {
	packets, encErr := e.be.Flush()
	outs, err := e.wrapPackets(packets)
	if err != nil {
		return outs, err
	}
	return outs, encErr
}

// wrapPackets converts backend packets into chunk deliveries, converting
// the bitstream packaging and attaching the decoder config to the first
// chunk of the sequence.
func (e *VideoEncoder) wrapPackets(packets []*media.Packet) ([]func(), error) {
	var outs []func()
	for _, pkt := range packets {
		data := pkt.Data
		switch {
		case e.desc.Name == "h264" && !bitstreamIsAnnexB(e.cfg, e.desc):
			converted, err := annexBToLengthPrefixed(data, false)
			if err != nil {
				return outs, err
			}
			data = converted
		case e.desc.Name == "hevc" && !bitstreamIsAnnexB(e.cfg, e.desc):
			converted, err := annexBToLengthPrefixed(data, true)
			if err != nil {
				return outs, err
			}
			data = converted
		}

		chunk := media.VideoChunkFromPacket(&media.Packet{
			Data: data, PTS: pkt.PTS, DTS: pkt.DTS, Duration: pkt.Duration, Key: pkt.Key,
		})

		meta := &VideoEncoderOutputMetadata{}
		if e.needConfig {
			dc, err := e.decoderConfig()
			if err != nil {
				return outs, err
			}
			meta.DecoderConfig = dc
			e.needConfig = false
		}
		if e.svcLayers > 1 {
			meta.SVC = &SvcOutputMetadata{TemporalLayerID: pkt.TemporalID}
		}

		outs = append(outs, func() { e.output(chunk, meta) })
	}
	return outs, nil
}

// decoderConfig builds the metadata bundle that lets a decoder consume this
// stream: codec string, coded size read back from the parameter sets when
// available, and the out-of-band description for length-prefixed packaging.
func (e *VideoEncoder) decoderConfig() (*VideoDecoderConfig, error) {
	dc := &VideoDecoderConfig{
		Codec:       e.cfg.Codec,
		CodedWidth:  e.cfg.Width,
		CodedHeight: e.cfg.Height,
	}
	if e.cfg.DisplayWidth > 0 {
		dc.DisplayAspectWidth = e.cfg.DisplayWidth
		dc.DisplayAspectHeight = e.cfg.DisplayHeight
	}
	cs := media.BT709()
	dc.ColorSpace = &cs

	extradata := e.be.ExtraData()
	switch e.desc.Name {
	case "h264":
		if w, h, ok := avcCodedSize(extradata); ok {
			dc.CodedWidth, dc.CodedHeight = w, h
		}
		if !bitstreamIsAnnexB(e.cfg, e.desc) {
			desc, err := avcDecoderConfig(extradata)
			if err != nil {
				return nil, err
			}
			dc.Description = desc
		}
	case "hevc":
		if !bitstreamIsAnnexB(e.cfg, e.desc) {
			desc, err := hevcDecoderConfig(extradata)
			if err != nil {
				return nil, err
			}
			dc.Description = desc
		}
	}
	return dc, nil
}

func (e *VideoEncoder) discard(payload any) {
	if job, ok := payload.(*videoEncodeJob); ok {
		job.frame.Close()
	}
}

func (e *VideoEncoder) teardown() {
	if e.be != nil {
		e.be.Close()
		e.be = nil
	}
}
