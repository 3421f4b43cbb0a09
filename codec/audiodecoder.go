package codec

import (
	"context"

	"github.com/richinsley/gowebcodecs/ffmpeg"
	"github.com/richinsley/gowebcodecs/media"
)

// AudioDecoderInit carries the decoder callbacks; both run on the engine's
// delivery goroutine.
type AudioDecoderInit struct {
	Output func(data *media.AudioData)
	Error  func(err error)
}

type audioDecodeJob struct {
	chunk *media.EncodedAudioChunk
}

type audioDecConfigPayload struct {
	cfg       *AudioDecoderConfig
	desc      codecDesc
	supported bool
	reason    string

	// missingDescription marks configs that can only fail once the stream
	// is actually drained; see drain().
	missingDescription bool
}

type audioDecBackend interface {
	Decode(pkt *media.Packet) ([]*media.RawAudio, error)
	Flush() ([]*media.RawAudio, error)
	Name() string
	Close()
}

var openAudioDecBackend = func(p *ffmpeg.AudioDecoderParams) (audioDecBackend, error) {
	return ffmpeg.OpenAudioDecoder(p)
}

// AudioDecoder turns EncodedAudioChunks into AudioData.
type AudioDecoder struct {
	core   *engineCore
	output func(*media.AudioData)

	// Worker-side state.
	be                 audioDecBackend
	cfg                *AudioDecoderConfig
	missingDescription bool
}

// NewAudioDecoder constructs an unconfigured decoder. Both callbacks are
// required.
func NewAudioDecoder(init *AudioDecoderInit) (*AudioDecoder, error) {
	if init == nil || init.Output == nil || init.Error == nil {
		return nil, media.Typef("AudioDecoder requires output and error callbacks")
	}
	d := &AudioDecoder{output: init.Output}
	d.core = newEngineCore("AudioDecoder", init.Error, d)
	return d, nil
}

func validateAudioDecoderConfig(cfg *AudioDecoderConfig) error {
	if cfg == nil {
		return media.Typef("missing AudioDecoderConfig")
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
	return nil
}

// descriptionRequired reports whether the codec cannot start without
// codec-private header bytes: Vorbis and FLAC always, Opus beyond stereo
// (the multichannel mapping lives in the OpusHead).
func descriptionRequired(desc codecDesc, cfg *AudioDecoderConfig) bool {
	switch desc.Name {
	case "vorbis", "flac":
		return true
	case "opus":
		return cfg.NumberOfChannels > 2
	}
	return false
}

func audioDecoderSupport(cfg *AudioDecoderConfig) (codecDesc, bool, string) {
	desc, ok := parseCodecString(cfg.Codec)
	if !ok || desc.Kind != KindAudio {
		return desc, false, "unrecognized codec string"
	}
	if !hasDecoderHook(desc.Name) {
		return desc, false, "no decoder implementation available"
	}
	return desc, true, ""
}

// Configure replaces the decoder's backend context. A codec that requires a
// description configured without one does not fail here: the not-supported
// error surfaces through the error callback when the first flush drains.
func (d *AudioDecoder) Configure(cfg *AudioDecoderConfig) error {
	if err := validateAudioDecoderConfig(cfg); err != nil {
		return err
	}
	c := *cfg
	desc, supported, reason := audioDecoderSupport(&c)
	return d.core.configure(&audioDecConfigPayload{
		cfg:                &c,
		desc:               desc,
		supported:          supported,
		reason:             reason,
		missingDescription: supported && len(c.Description) == 0 && descriptionRequired(desc, &c),
	})
}

// Decode queues one chunk.
func (d *AudioDecoder) Decode(chunk *media.EncodedAudioChunk) error {
	if chunk == nil {
		return media.Typef("missing chunk")
	}
	if s := d.core.currentState(); s != StateConfigured {
		return media.InvalidStatef("codec is %s, not configured", s)
	}
	return d.core.submit(&audioDecodeJob{chunk: chunk})
}

func (d *AudioDecoder) Flush(ctx context.Context) error {
	return d.core.flush(ctx)
}

func (d *AudioDecoder) Reset() error {
	return d.core.reset()
}

func (d *AudioDecoder) Close() error {
	return d.core.close()
}

func (d *AudioDecoder) State() State {
	return d.core.currentState()
}

func (d *AudioDecoder) DecodeQueueSize() int {
	return d.core.queueDepth()
}

// SetOnDequeue installs the handler invoked after the worker consumes a
// queued chunk; pass nil to clear it.
func (d *AudioDecoder) SetOnDequeue(fn func()) {
	d.core.setOnDequeue(fn)
}

// --- processor implementation (worker goroutine) ---

func (d *AudioDecoder) open(payload any) error {
	p := payload.(*audioDecConfigPayload)
	d.teardown()
	if !p.supported {
		return media.NotSupportedf("%s: %s", p.cfg.Codec, p.reason)
	}
	d.missingDescription = p.missingDescription
	if p.missingDescription {
		// Hold the context open; the failure is reported when the stream is
		// drained and the decoder provably cannot have produced output.
		d.cfg = p.cfg
		return nil
	}
	be, err := openAudioDecBackend(&ffmpeg.AudioDecoderParams{
		Codec:      p.desc.Name,
		SampleRate: p.cfg.SampleRate,
		Channels:   p.cfg.NumberOfChannels,
		ExtraData:  p.cfg.Description,
	})
	if err != nil {
		return err
	}
	d.be = be
	d.cfg = p.cfg
	d.core.log.Info().Str("codec", p.cfg.Codec).Str("decoder", be.Name()).
		Msg("decoder configured")
	return nil
}

func (d *AudioDecoder) process(payload any) ([]func(), error) {
	job := payload.(*audioDecodeJob)
	if d.missingDescription {
		// Inputs are absorbed; the error is deferred to the flush.
		return nil, nil
	}
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
	runs, decErr := d.be.Decode(pkt)
	outs, err := d.wrapRuns(runs)
	if err != nil {
		return outs, err
	}
	return outs, decErr
}

func (d *AudioDecoder) drain() ([]func(), error) {
	if d.missingDescription {
		return nil, media.NotSupportedf("%s requires a decoder description", d.cfg.Codec)
	}
	runs, decErr := d.be.Flush()
	outs, err := d.wrapRuns(runs)
	if err != nil {
		return outs, err
	}
	return outs, decErr
}

func (d *AudioDecoder) wrapRuns(runs []*media.RawAudio) ([]func(), error) {
	var outs []func()
	for _, run := range runs {
		data, err := media.AudioFromRaw(run)
		if err != nil {
			return outs, err
		}
		outs = append(outs, func() { d.output(data) })
	}
	return outs, nil
}

func (d *AudioDecoder) discard(payload any) {
	// Chunks have no close operation; nothing to release.
}

func (d *AudioDecoder) teardown() {
	if d.be != nil {
		d.be.Close()
		d.be = nil
	}
}
