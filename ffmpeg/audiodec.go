package ffmpeg

/*
#cgo pkg-config: libavcodec libavutil
#include <libavcodec/avcodec.h>
#include <libavutil/channel_layout.h>
#include <libavutil/mem.h>
#include <stdlib.h>
#include <string.h>
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/richinsley/gowebcodecs/media"
)

// AudioDecoderParams carries the normalised audio decoder configuration.
type AudioDecoderParams struct {
	Codec      string
	SampleRate int
	Channels   int
	ExtraData  []byte // codec-private description (AudioSpecificConfig, OpusHead, ...)
}

// AudioDecoder is one open backend audio decoder context. Output runs whose
// native sample format has no data-model mapping are converted to planar
// f32.
type AudioDecoder struct {
	ctx   *C.AVCodecContext
	frame *C.AVFrame
	pkt   *C.AVPacket
	res   *Resampler
	name  string
}

// OpenAudioDecoder opens the first available decoder implementation for the
// codec.
func OpenAudioDecoder(p *AudioDecoderParams) (*AudioDecoder, error) {
	var lastErr error
	for _, name := range decoderNames(p.Codec) {
		d, err := openAudioDecoderImpl(name, p)
		if err != nil {
			lastErr = err
			continue
		}
		return d, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no decoder implementation for codec %q", p.Codec)
	}
	return nil, lastErr
}

func openAudioDecoderImpl(name string, p *AudioDecoderParams) (*AudioDecoder, error) {
	cName := C.CString(name)
	codec := C.avcodec_find_decoder_by_name(cName)
	C.free(unsafe.Pointer(cName))
	if codec == nil {
		return nil, fmt.Errorf("decoder %q not compiled into the backend", name)
	}

	ctx := C.avcodec_alloc_context3(codec)
	if ctx == nil {
		return nil, fmt.Errorf("could not allocate codec context for %q", name)
	}
	d := &AudioDecoder{ctx: ctx, name: name}

	if p.SampleRate > 0 {
		ctx.sample_rate = C.int(p.SampleRate)
	}
	if p.Channels > 0 {
		C.av_channel_layout_default(&ctx.ch_layout, C.int(p.Channels))
	}
	ctx.time_base = C.AVRational{num: 1, den: 1000000}
	if len(p.ExtraData) > 0 {
		size := C.size_t(len(p.ExtraData))
		buf := C.av_mallocz(size + C.AV_INPUT_BUFFER_PADDING_SIZE)
		if buf == nil {
			d.Close()
			return nil, fmt.Errorf("could not allocate extradata")
		}
		C.memcpy(buf, unsafe.Pointer(&p.ExtraData[0]), size)
		ctx.extradata = (*C.uint8_t)(buf)
		ctx.extradata_size = C.int(len(p.ExtraData))
	}

	if ret := C.avcodec_open2(ctx, codec, nil); ret < 0 {
		d.Close()
		return nil, avErr("avcodec_open2 "+name, ret)
	}

	d.frame = C.av_frame_alloc()
	d.pkt = C.av_packet_alloc()
	if d.frame == nil || d.pkt == nil {
		d.Close()
		return nil, fmt.Errorf("could not allocate decoder frame/packet")
	}
	return d, nil
}

// Name returns the implementation name that was opened.
func (d *AudioDecoder) Name() string { return d.name }

// Decode pushes one compressed access unit and drains every sample run the
// decoder has ready.
func (d *AudioDecoder) Decode(pkt *media.Packet) ([]*media.RawAudio, error) {
	if ret := C.av_new_packet(d.pkt, C.int(len(pkt.Data))); ret < 0 {
		return nil, avErr("av_new_packet", ret)
	}
	if len(pkt.Data) > 0 {
		C.memcpy(unsafe.Pointer(d.pkt.data), unsafe.Pointer(&pkt.Data[0]), C.size_t(len(pkt.Data)))
	}
	d.pkt.pts = C.int64_t(pkt.PTS)
	d.pkt.dts = C.int64_t(pkt.DTS)
	if pkt.Duration > 0 {
		d.pkt.duration = C.int64_t(pkt.Duration)
	}

	ret := C.avcodec_send_packet(d.ctx, d.pkt)
	C.av_packet_unref(d.pkt)
	if ret < 0 && !isAgain(ret) {
		return nil, avErr("avcodec_send_packet", ret)
	}
	return d.receiveAll()
}

// Flush signals end of stream, drains the decoder and resets it for the
// next stretch of input.
func (d *AudioDecoder) Flush() ([]*media.RawAudio, error) {
	if ret := C.avcodec_send_packet(d.ctx, nil); ret < 0 && !isEOF(ret) {
		return nil, avErr("avcodec_send_packet flush", ret)
	}
	runs, err := d.receiveAll()
	if err != nil {
		return runs, err
	}
	C.avcodec_flush_buffers(d.ctx)
	return runs, nil
}

func (d *AudioDecoder) receiveAll() ([]*media.RawAudio, error) {
	var runs []*media.RawAudio
	for {
		ret := C.avcodec_receive_frame(d.ctx, d.frame)
		if isAgain(ret) || isEOF(ret) {
			return runs, nil
		}
		if ret < 0 {
			return runs, avErr("avcodec_receive_frame", ret)
		}
		run, err := d.audioFromFrame()
		C.av_frame_unref(d.frame)
		if err != nil {
			return runs, err
		}
		runs = append(runs, run)
	}
}

func (d *AudioDecoder) audioFromFrame() (*media.RawAudio, error) {
	frames := int(d.frame.nb_samples)
	channels := int(d.frame.ch_layout.nb_channels)
	rate := int(d.frame.sample_rate)
	fmtC := C.enum_AVSampleFormat(d.frame.format)

	if mf, ok := sampleFmtToMedia(fmtC); ok {
		raw := &media.RawAudio{
			Format:     mf,
			SampleRate: rate,
			Channels:   channels,
			Frames:     frames,
			PTS:        int64(d.frame.pts),
		}
		bps := mf.BytesPerSample()
		if mf.Planar() {
			raw.Planes = make([][]byte, channels)
			for i := 0; i < channels; i++ {
				raw.Planes[i] = C.GoBytes(unsafe.Pointer(d.frame.data[i]), C.int(frames*bps))
			}
		} else {
			raw.Planes = [][]byte{C.GoBytes(unsafe.Pointer(d.frame.data[0]), C.int(frames*channels*bps))}
		}
		return raw, nil
	}

	// No direct mapping (f64, s64): convert to planar f32 at the same rate
	// and channel count.
	if !d.res.matches(fmtC, rate, channels) {
		d.res.Close()
		r, err := newResampler(fmtC, rate, channels, C.AV_SAMPLE_FMT_FLTP, rate, channels)
		if err != nil {
			return nil, err
		}
		d.res = r
	}
	inPlanes := make([][]byte, 0, maxChannels)
	bps := sampleFmtBytes(fmtC)
	if sampleFmtPlanar(fmtC) {
		for i := 0; i < channels; i++ {
			inPlanes = append(inPlanes, C.GoBytes(unsafe.Pointer(d.frame.data[i]), C.int(frames*bps)))
		}
	} else {
		inPlanes = append(inPlanes, C.GoBytes(unsafe.Pointer(d.frame.data[0]), C.int(frames*channels*bps)))
	}
	outPlanes, got, err := d.res.Convert(inPlanes, frames)
	if err != nil {
		return nil, err
	}
	return &media.RawAudio{
		Format:     media.SampleFormatF32Planar,
		SampleRate: rate,
		Channels:   channels,
		Frames:     got,
		Planes:     outPlanes,
		PTS:        int64(d.frame.pts),
	}, nil
}

// Close releases the context and converter chain. Safe on a partially
// constructed decoder.
func (d *AudioDecoder) Close() {
	if d == nil {
		return
	}
	if d.frame != nil {
		C.av_frame_free(&d.frame)
	}
	if d.pkt != nil {
		C.av_packet_free(&d.pkt)
	}
	if d.ctx != nil {
		C.avcodec_free_context(&d.ctx)
	}
	d.res.Close()
	d.res = nil
}
