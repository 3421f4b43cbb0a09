package ffmpeg

/*
#cgo pkg-config: libavcodec libavutil
#include <libavcodec/avcodec.h>
#include <libavutil/channel_layout.h>
#include <libavutil/opt.h>
#include <stdlib.h>
#include <string.h>
*/
import "C"

import (
	"fmt"
	"strconv"
	"unsafe"

	"github.com/richinsley/gowebcodecs/media"
)

// OpusParams maps the Opus-specific configuration dictionary onto libopus
// options.
type OpusParams struct {
	FrameDuration  int64 // µs; 0 keeps the library default (20ms)
	Complexity     *int  // 0..10
	PacketLossPerc int
	UseInbandFEC   bool
	UseDTX         bool
}

// AudioEncoderParams carries the normalised audio encoder configuration.
type AudioEncoderParams struct {
	Codec      string
	SampleRate int
	Channels   int
	Bitrate    int64
	Opus       *OpusParams
}

// AudioEncoder is one open backend audio encoder context. Input sample runs
// in any data-model format are pushed through a resampler into the codec's
// native format and chunked to its frame size; a sample FIFO bridges the
// mismatch between arbitrary input sizes and fixed codec frames.
type AudioEncoder struct {
	ctx   *C.AVCodecContext
	frame *C.AVFrame
	pkt   *C.AVPacket
	res   *Resampler

	name string

	// FIFO of converted samples in the codec's native layout, one slice per
	// output plane.
	fifo       [][]byte
	fifoFrames int

	basePTS     int64
	havePTS     bool
	sentSamples int64
}

// OpenAudioEncoder opens the first available encoder implementation for the
// codec.
func OpenAudioEncoder(p *AudioEncoderParams) (*AudioEncoder, error) {
	var lastErr error
	for _, name := range softwareEncoders(p.Codec) {
		e, err := openAudioEncoderImpl(name, p)
		if err != nil {
			lastErr = err
			continue
		}
		return e, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no encoder implementation for codec %q", p.Codec)
	}
	return nil, lastErr
}

func openAudioEncoderImpl(name string, p *AudioEncoderParams) (*AudioEncoder, error) {
	cName := C.CString(name)
	codec := C.avcodec_find_encoder_by_name(cName)
	C.free(unsafe.Pointer(cName))
	if codec == nil {
		return nil, fmt.Errorf("encoder %q not compiled into the backend", name)
	}

	ctx := C.avcodec_alloc_context3(codec)
	if ctx == nil {
		return nil, fmt.Errorf("could not allocate codec context for %q", name)
	}
	e := &AudioEncoder{ctx: ctx, name: name}

	ctx.sample_rate = C.int(p.SampleRate)
	C.av_channel_layout_default(&ctx.ch_layout, C.int(p.Channels))
	ctx.sample_fmt = encoderSampleFmt(name)
	ctx.time_base = C.AVRational{num: 1, den: 1000000}
	if p.Bitrate > 0 {
		ctx.bit_rate = C.int64_t(p.Bitrate)
	}
	ctx.flags |= C.AV_CODEC_FLAG_GLOBAL_HEADER

	if p.Opus != nil && name == "libopus" {
		if p.Opus.FrameDuration > 0 {
			ms := float64(p.Opus.FrameDuration) / 1000.0
			setOpt(unsafe.Pointer(ctx.priv_data), "frame_duration", strconv.FormatFloat(ms, 'f', -1, 64))
		}
		if p.Opus.Complexity != nil {
			ctx.compression_level = C.int(*p.Opus.Complexity)
		}
		if p.Opus.PacketLossPerc > 0 {
			setOpt(unsafe.Pointer(ctx.priv_data), "packet_loss", strconv.Itoa(p.Opus.PacketLossPerc))
		}
		if p.Opus.UseInbandFEC {
			setOpt(unsafe.Pointer(ctx.priv_data), "fec", "1")
		}
		if p.Opus.UseDTX {
			setOpt(unsafe.Pointer(ctx.priv_data), "dtx", "1")
		}
	}

	if ret := C.avcodec_open2(ctx, codec, nil); ret < 0 {
		e.Close()
		return nil, avErr("avcodec_open2 "+name, ret)
	}

	e.frame = C.av_frame_alloc()
	e.pkt = C.av_packet_alloc()
	if e.frame == nil || e.pkt == nil {
		e.Close()
		return nil, fmt.Errorf("could not allocate audio frame/packet")
	}
	e.frame.format = C.int(ctx.sample_fmt)
	C.av_channel_layout_copy(&e.frame.ch_layout, &ctx.ch_layout)
	e.frame.sample_rate = ctx.sample_rate
	e.frame.nb_samples = e.frameSize()
	if ret := C.av_frame_get_buffer(e.frame, 0); ret < 0 {
		e.Close()
		return nil, avErr("av_frame_get_buffer", ret)
	}

	e.fifo = make([][]byte, e.planeCount())
	return e, nil
}

// encoderSampleFmt picks the input sample format the implementation
// accepts.
func encoderSampleFmt(name string) C.enum_AVSampleFormat {
	switch name {
	case "aac", "libvorbis":
		return C.AV_SAMPLE_FMT_FLTP
	case "libopus", "opus":
		return C.AV_SAMPLE_FMT_FLT
	case "libmp3lame":
		return C.AV_SAMPLE_FMT_S16P
	case "flac":
		return C.AV_SAMPLE_FMT_S16
	default:
		return C.AV_SAMPLE_FMT_S16
	}
}

// frameSize returns the fixed samples-per-frame the codec demands, or 1024
// for codecs that accept arbitrary frame sizes.
func (e *AudioEncoder) frameSize() C.int {
	if e.ctx.frame_size > 0 {
		return e.ctx.frame_size
	}
	return 1024
}

func (e *AudioEncoder) planeCount() int {
	if sampleFmtPlanar(e.ctx.sample_fmt) {
		return int(e.ctx.ch_layout.nb_channels)
	}
	return 1
}

// bytesPerFifoFrame is the byte width of one sample frame inside one fifo
// plane.
func (e *AudioEncoder) bytesPerFifoFrame() int {
	bps := sampleFmtBytes(e.ctx.sample_fmt)
	if sampleFmtPlanar(e.ctx.sample_fmt) {
		return bps
	}
	return bps * int(e.ctx.ch_layout.nb_channels)
}

// Name returns the implementation name that was opened.
func (e *AudioEncoder) Name() string { return e.name }

// ExtraData returns the codec-private configuration bytes produced at open
// (e.g. the AudioSpecificConfig for AAC, the OpusHead for Opus).
func (e *AudioEncoder) ExtraData() []byte {
	if e.ctx == nil || e.ctx.extradata == nil || e.ctx.extradata_size <= 0 {
		return nil
	}
	return C.GoBytes(unsafe.Pointer(e.ctx.extradata), e.ctx.extradata_size)
}

// Encode converts one input sample run, queues it and emits a packet for
// every full codec frame that became available. A resampler is inserted
// automatically when the input's format, rate or channel count differs from
// the encoder's.
func (e *AudioEncoder) Encode(raw *media.RawAudio) ([]*media.Packet, error) {
	inFmt, ok := sampleFmtFromMedia(raw.Format)
	if !ok {
		return nil, fmt.Errorf("sample format %q not representable in the backend", string(raw.Format))
	}
	if !e.res.matches(inFmt, raw.SampleRate, raw.Channels) {
		e.res.Close()
		r, err := newResampler(inFmt, raw.SampleRate, raw.Channels,
			e.ctx.sample_fmt, int(e.ctx.sample_rate), int(e.ctx.ch_layout.nb_channels))
		if err != nil {
			return nil, err
		}
		e.res = r
	}
	if !e.havePTS {
		e.basePTS = raw.PTS
		e.havePTS = true
	}

	planes, frames, err := e.res.Convert(raw.Planes, raw.Frames)
	if err != nil {
		return nil, err
	}
	e.push(planes, frames)
	return e.emit(false)
}

func (e *AudioEncoder) push(planes [][]byte, frames int) {
	if frames == 0 {
		return
	}
	for i := range e.fifo {
		e.fifo[i] = append(e.fifo[i], planes[i]...)
	}
	e.fifoFrames += frames
}

// emit sends every full frame in the FIFO to the encoder; with final set it
// also sends the remaining partial frame and the end-of-stream marker.
func (e *AudioEncoder) emit(final bool) ([]*media.Packet, error) {
	var packets []*media.Packet
	frameSize := int(e.frameSize())
	for e.fifoFrames >= frameSize || (final && e.fifoFrames > 0) {
		n := frameSize
		if n > e.fifoFrames {
			n = e.fifoFrames
		}
		if err := e.sendFrame(n); err != nil {
			return packets, err
		}
		pkts, err := e.receiveAll()
		packets = append(packets, pkts...)
		if err != nil {
			return packets, err
		}
	}
	if final {
		if ret := C.avcodec_send_frame(e.ctx, nil); ret < 0 && !isEOF(ret) {
			return packets, avErr("avcodec_send_frame flush", ret)
		}
		pkts, err := e.receiveAll()
		packets = append(packets, pkts...)
		if err != nil {
			return packets, err
		}
	}
	return packets, nil
}

func (e *AudioEncoder) sendFrame(n int) error {
	if ret := C.av_frame_make_writable(e.frame); ret < 0 {
		return avErr("av_frame_make_writable", ret)
	}
	bpf := e.bytesPerFifoFrame()
	e.frame.nb_samples = C.int(n)
	for i := range e.fifo {
		plane := unsafe.Slice((*byte)(unsafe.Pointer(e.frame.data[i])), n*bpf)
		copy(plane, e.fifo[i][:n*bpf])
		e.fifo[i] = e.fifo[i][n*bpf:]
	}
	e.fifoFrames -= n

	e.frame.pts = C.int64_t(e.basePTS + e.sentSamples*1000000/int64(e.ctx.sample_rate))
	e.sentSamples += int64(n)

	if ret := C.avcodec_send_frame(e.ctx, e.frame); ret < 0 {
		return avErr("avcodec_send_frame", ret)
	}
	return nil
}

func (e *AudioEncoder) receiveAll() ([]*media.Packet, error) {
	var packets []*media.Packet
	for {
		ret := C.avcodec_receive_packet(e.ctx, e.pkt)
		if isAgain(ret) || isEOF(ret) {
			return packets, nil
		}
		if ret < 0 {
			return packets, avErr("avcodec_receive_packet", ret)
		}
		pkt := &media.Packet{
			Data:     C.GoBytes(unsafe.Pointer(e.pkt.data), e.pkt.size),
			PTS:      int64(e.pkt.pts),
			DTS:      int64(e.pkt.dts),
			Duration: int64(e.pkt.duration),
			Key:      e.pkt.flags&C.AV_PKT_FLAG_KEY != 0,
		}
		C.av_packet_unref(e.pkt)
		packets = append(packets, pkt)
	}
}

// Flush drains the resampler delay, the FIFO remainder and the encoder.
func (e *AudioEncoder) Flush() ([]*media.Packet, error) {
	if e.res != nil {
		planes, frames, err := e.res.Drain()
		if err != nil {
			return nil, err
		}
		e.push(planes, frames)
	}
	return e.emit(true)
}

// Close releases the context and converter chain. Safe on a partially
// constructed encoder.
func (e *AudioEncoder) Close() {
	if e == nil {
		return
	}
	if e.frame != nil {
		C.av_frame_free(&e.frame)
	}
	if e.pkt != nil {
		C.av_packet_free(&e.pkt)
	}
	if e.ctx != nil {
		C.avcodec_free_context(&e.ctx)
	}
	e.res.Close()
	e.res = nil
}
