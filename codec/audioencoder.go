package codec

import (
	"context"

	"github.com/richinsley/gowebcodecs/ffmpeg"
	"github.com/richinsley/gowebcodecs/media"
)

// AudioEncoderInit carries the encoder callbacks; both run on the engine's
// delivery goroutine.
type AudioEncoderInit struct {
	Output func(chunk *media.EncodedAudioChunk, metadata *AudioEncoderOutputMetadata)
	Error  func(err error)
}

// OpusEncoderConfig maps the codec-specific Opus dictionary.
type OpusEncoderConfig struct {
	FrameDuration  int64 // µs
	Complexity     *int
	PacketLossPerc int
	UseInbandFEC   bool
	UseDTX         bool
}

// AudioEncoderConfig mirrors the WebCodecs dictionary.
type AudioEncoderConfig struct {
	Codec            string
	SampleRate       int
	NumberOfChannels int
	Bitrate          int64
	Opus             *OpusEncoderConfig
}

// AudioDecoderConfig mirrors the WebCodecs dictionary; Description carries
// codec-private bytes (AudioSpecificConfig, OpusHead, FLAC/Vorbis headers).
type AudioDecoderConfig struct {
	Codec            string
	SampleRate       int
	NumberOfChannels int
	Description      []byte
}

// AudioEncoderOutputMetadata accompanies every output chunk; DecoderConfig
// is present on the first chunk after each configure.
type AudioEncoderOutputMetadata struct {
	DecoderConfig *AudioDecoderConfig
}

type audioEncBackend interface {
	Encode(raw *media.RawAudio) ([]*media.Packet, error)
	Flush() ([]*media.Packet, error)
	ExtraData() []byte
	Name() string
	Close()
}

var openAudioEncBackend = func(p *ffmpeg.AudioEncoderParams) (audioEncBackend, error) {
	return ffmpeg.OpenAudioEncoder(p)
}

type audioEncodeJob struct {
	data *media.AudioData
}

type audioEncConfigPayload struct {
	cfg       *AudioEncoderConfig
	desc      codecDesc
	supported bool
	reason    string
}

// AudioEncoder turns AudioData into EncodedAudioChunks. Input whose rate or
// channel count differs from the configuration is resampled automatically
// by the backend's converter chain.
type AudioEncoder struct {
	core   *engineCore
	output func(*media.EncodedAudioChunk, *AudioEncoderOutputMetadata)

	// Worker-side state.
	be         audioEncBackend
	cfg        *AudioEncoderConfig
	needConfig bool
}

// NewAudioEncoder constructs an unconfigured encoder. Both callbacks are
// required.
func NewAudioEncoder(init *AudioEncoderInit) (*AudioEncoder, error) {
	if init == nil || init.Output == nil || init.Error == nil {
		return nil, media.Typef("AudioEncoder requires output and error callbacks")
	}
	e := &AudioEncoder{output: init.Output}
	e.core = newEngineCore("AudioEncoder", init.Error, e)
	return e, nil
}

func validateAudioEncoderConfig(cfg *AudioEncoderConfig) error {
	if cfg == nil {
		return media.Typef("missing AudioEncoderConfig")
	}
	if cfg.Codec == "" {
		return media.Typef("codec is required")
	}
	if cfg.SampleRate <= 0 {
		return media.Typef("sampleRate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.NumberOfChannels <= 0 {
		return media.Typef("numberOfChannels must be positive, got %d", cfg.NumberOfChannels)
	}
	if cfg.Opus != nil {
		if cfg.Opus.FrameDuration < 0 {
			return media.Typef("opus.frameDuration must be non-negative")
		}
		if c := cfg.Opus.Complexity; c != nil && (*c < 0 || *c > 10) {
			return media.Typef("opus.complexity must be 0..10, got %d", *c)
		}
	}
	return nil
}

func audioEncoderSupport(cfg *AudioEncoderConfig) (codecDesc, bool, string) {
	desc, ok := parseCodecString(cfg.Codec)
	if !ok || desc.Kind != KindAudio {
		return desc, false, "unrecognized codec string"
	}
	if !hasEncoderHook(desc.Name, ffmpeg.AccelNoPreference) {
		return desc, false, "no encoder implementation available"
	}
	return desc, true, ""
}

// Configure replaces the encoder's backend context.
func (e *AudioEncoder) Configure(cfg *AudioEncoderConfig) error {
	if err := validateAudioEncoderConfig(cfg); err != nil {
		return err
	}
	c := *cfg
	desc, supported, reason := audioEncoderSupport(&c)
	return e.core.configure(&audioEncConfigPayload{
		cfg:       &c,
		desc:      desc,
		supported: supported,
		reason:    reason,
	})
}

// Encode queues one sample run; the caller keeps its handle and may close
// it immediately after Encode returns.
func (e *AudioEncoder) Encode(data *media.AudioData) error {
	if data == nil || data.Closed() {
		return media.Typef("cannot encode closed AudioData")
	}
	if s := e.core.currentState(); s != StateConfigured {
		return media.InvalidStatef("codec is %s, not configured", s)
	}
	clone, err := data.Clone()
	if err != nil {
		return media.Typef("cannot encode closed AudioData")
	}
	if err := e.core.submit(&audioEncodeJob{data: clone}); err != nil {
		clone.Close()
		return err
	}
	return nil
}

func (e *AudioEncoder) Flush(ctx context.Context) error {
	return e.core.flush(ctx)
}

func (e *AudioEncoder) Reset() error {
	return e.core.reset()
}

func (e *AudioEncoder) Close() error {
	return e.core.close()
}

func (e *AudioEncoder) State() State {
	return e.core.currentState()
}

func (e *AudioEncoder) EncodeQueueSize() int {
	return e.core.queueDepth()
}

// SetOnDequeue installs the handler invoked after the worker consumes a
// queued sample run; pass nil to clear it.
func (e *AudioEncoder) SetOnDequeue(fn func()) {
	e.core.setOnDequeue(fn)
}

// --- processor implementation (worker goroutine) ---

func (e *AudioEncoder) open(payload any) error {
	p := payload.(*audioEncConfigPayload)
	e.teardown()
	if !p.supported {
		return media.NotSupportedf("%s: %s", p.cfg.Codec, p.reason)
	}
	params := &ffmpeg.AudioEncoderParams{
		Codec:      p.desc.Name,
		SampleRate: p.cfg.SampleRate,
		Channels:   p.cfg.NumberOfChannels,
		Bitrate:    p.cfg.Bitrate,
	}
	if p.cfg.Opus != nil {
		params.Opus = &ffmpeg.OpusParams{
			FrameDuration:  p.cfg.Opus.FrameDuration,
			Complexity:     p.cfg.Opus.Complexity,
			PacketLossPerc: p.cfg.Opus.PacketLossPerc,
			UseInbandFEC:   p.cfg.Opus.UseInbandFEC,
			UseDTX:         p.cfg.Opus.UseDTX,
		}
	}
	be, err := openAudioEncBackend(params)
	if err != nil {
		return err
	}
	e.be = be
	e.cfg = p.cfg
	e.needConfig = true
	e.core.log.Info().Str("codec", p.cfg.Codec).Str("encoder", be.Name()).
		Int("sampleRate", p.cfg.SampleRate).Int("channels", p.cfg.NumberOfChannels).
		Msg("encoder configured")
	return nil
}

func (e *AudioEncoder) process(payload any) ([]func(), error) {
	job := payload.(*audioEncodeJob)
	defer job.data.Close()

	raw, err := job.data.Raw()
	if err != nil {
		return nil, err
	}
	packets, encErr := e.be.Encode(raw)
	return e.wrapPackets(packets), encErr
}

func (e *AudioEncoder) drain() ([]func(), error) {
	packets, encErr := e.be.Flush()
	return e.wrapPackets(packets), encErr
}

func (e *AudioEncoder) wrapPackets(packets []*media.Packet) []func() {
	var outs []func()
	for _, pkt := range packets {
		chunk := media.AudioChunkFromPacket(pkt)
		meta := &AudioEncoderOutputMetadata{}
		if e.needConfig {
			meta.DecoderConfig = &AudioDecoderConfig{
				Codec:            e.cfg.Codec,
				SampleRate:       e.cfg.SampleRate,
				NumberOfChannels: e.cfg.NumberOfChannels,
				Description:      e.be.ExtraData(),
			}
			e.needConfig = false
		}
		outs = append(outs, func() { e.output(chunk, meta) })
	}
	return outs
}

func (e *AudioEncoder) discard(payload any) {
	if job, ok := payload.(*audioEncodeJob); ok {
		job.data.Close()
	}
}

func (e *AudioEncoder) teardown() {
	if e.be != nil {
		e.be.Close()
		e.be = nil
	}
}
