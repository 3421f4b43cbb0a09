package ffmpeg

/*
#cgo pkg-config: libavcodec libavutil libswscale
#include <libavcodec/avcodec.h>
#include <libavutil/opt.h>
#include <libavutil/rational.h>
#include <stdlib.h>
#include <string.h>
*/
import "C"

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/rs/zerolog/log"

	"github.com/richinsley/gowebcodecs/media"
)

// VideoEncoderParams carries the normalised encoder configuration the engine
// hands to the backend.
type VideoEncoderParams struct {
	Codec        string // backend codec name: "h264", "hevc", "vp8", "vp9", "av1"
	Acceleration Acceleration
	Width        int
	Height       int
	Bitrate      int64
	BitrateMode  string // "constant" | "variable" | ""
	Framerate    float64
	Realtime     bool // latencyMode == "realtime"
	Profile      int  // -1 when the codec string carries none
	Level        int  // -1 when the codec string carries none
	AnnexB       bool // h264/hevc: in-band parameter sets, no global header
}

// VideoEncoder is one open backend video encoder context plus the converter
// chain that feeds it.
type VideoEncoder struct {
	ctx    *C.AVCodecContext
	frame  *C.AVFrame
	pkt    *C.AVPacket
	scaler *Scaler

	name     string
	hardware bool
	params   VideoEncoderParams
}

// OpenVideoEncoder walks the implementation preference order for the codec
// and returns the first context that opens. Falling back from a hardware
// implementation to software sets the process-wide fallback flag.
func OpenVideoEncoder(p *VideoEncoderParams) (*VideoEncoder, error) {
	hw := hardwareEncoders(p.Codec)
	triedHardware := false
	var lastErr error
	for _, name := range encoderCandidates(p.Codec, p.Acceleration) {
		isHW := false
		for _, h := range hw {
			if h == name {
				isHW = true
				break
			}
		}
		e, err := openVideoEncoderImpl(name, isHW, p)
		if err != nil {
			if isHW {
				triedHardware = true
			}
			lastErr = err
			continue
		}
		if triedHardware && !isHW {
			hardwareFallback.Store(true)
			log.Warn().Str("codec", p.Codec).Str("encoder", name).
				Msg("hardware encoder unavailable, fell back to software")
		}
		return e, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no encoder implementation for codec %q", p.Codec)
	}
	return nil, lastErr
}

func openVideoEncoderImpl(name string, hardware bool, p *VideoEncoderParams) (*VideoEncoder, error) {
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
	e := &VideoEncoder{ctx: ctx, name: name, hardware: hardware, params: *p}

	ctx.width = C.int(p.Width)
	ctx.height = C.int(p.Height)
	// Microsecond time base end to end; presentation times pass through
	// unscaled.
	ctx.time_base = C.AVRational{num: 1, den: 1000000}
	if p.Framerate > 0 {
		ctx.framerate = C.av_d2q(C.double(p.Framerate), 1000000)
	}
	ctx.pix_fmt = encoderPixFmt(name)
	ctx.gop_size = 250
	if p.Bitrate > 0 {
		ctx.bit_rate = C.int64_t(p.Bitrate)
		if p.BitrateMode == "constant" {
			ctx.rc_max_rate = C.int64_t(p.Bitrate)
			ctx.rc_min_rate = C.int64_t(p.Bitrate)
			ctx.rc_buffer_size = C.int(p.Bitrate)
		}
	}
	if p.Profile >= 0 {
		ctx.profile = C.int(p.Profile)
	}
	if p.Level >= 0 {
		ctx.level = C.int(p.Level)
	}
	if p.Realtime {
		// Disable look-ahead and B-frames so every input yields output
		// without reordering delay.
		ctx.max_b_frames = 0
	}
	if !p.AnnexB {
		ctx.flags |= C.AV_CODEC_FLAG_GLOBAL_HEADER
	}

	switch {
	case name == "libx264" || name == "libx265":
		setOpt(unsafe.Pointer(ctx.priv_data), "preset", "medium")
		if p.Realtime {
			setOpt(unsafe.Pointer(ctx.priv_data), "preset", "veryfast")
			setOpt(unsafe.Pointer(ctx.priv_data), "tune", "zerolatency")
		}
	case strings.HasSuffix(name, "_nvenc"):
		setOpt(unsafe.Pointer(ctx.priv_data), "preset", "p4")
		if p.Realtime {
			setOpt(unsafe.Pointer(ctx.priv_data), "preset", "p2")
			setOpt(unsafe.Pointer(ctx.priv_data), "tune", "ll")
		}
	case name == "libvpx" || name == "libvpx-vp9":
		if p.Realtime {
			setOpt(unsafe.Pointer(ctx.priv_data), "deadline", "realtime")
			setOpt(unsafe.Pointer(ctx.priv_data), "lag-in-frames", "0")
		}
	}

	if ret := C.avcodec_open2(ctx, codec, nil); ret < 0 {
		e.Close()
		return nil, avErr("avcodec_open2 "+name, ret)
	}

	e.frame = C.av_frame_alloc()
	if e.frame == nil {
		e.Close()
		return nil, fmt.Errorf("could not allocate video frame")
	}
	e.frame.format = C.int(ctx.pix_fmt)
	e.frame.width = ctx.width
	e.frame.height = ctx.height
	if ret := C.av_frame_get_buffer(e.frame, 0); ret < 0 {
		e.Close()
		return nil, avErr("av_frame_get_buffer", ret)
	}

	e.pkt = C.av_packet_alloc()
	if e.pkt == nil {
		e.Close()
		return nil, fmt.Errorf("could not allocate packet")
	}
	return e, nil
}

// encoderPixFmt picks the input pixel format the implementation accepts.
// The converter chain feeds whatever the source frame carries into this.
func encoderPixFmt(name string) C.enum_AVPixelFormat {
	switch {
	case strings.HasSuffix(name, "_videotoolbox"), strings.HasSuffix(name, "_qsv"):
		return C.AV_PIX_FMT_NV12
	default:
		return C.AV_PIX_FMT_YUV420P
	}
}

// Name returns the implementation name that was opened (e.g. "libx264").
func (e *VideoEncoder) Name() string { return e.name }

// Hardware reports whether the opened implementation is a hardware encoder.
func (e *VideoEncoder) Hardware() bool { return e.hardware }

// ExtraData returns the codec-private configuration bytes (e.g. SPS/PPS)
// produced at open, or nil when the bitstream carries them in band.
func (e *VideoEncoder) ExtraData() []byte {
	if e.ctx == nil || e.ctx.extradata == nil || e.ctx.extradata_size <= 0 {
		return nil
	}
	return C.GoBytes(unsafe.Pointer(e.ctx.extradata), e.ctx.extradata_size)
}

// Encode converts and pushes one picture, then drains every packet the
// encoder has ready. One input may yield zero or many packets depending on
// internal buffering.
func (e *VideoEncoder) Encode(pic *media.RawPicture, forceKey bool) ([]*media.Packet, error) {
	srcFmt, ok := pixFmtFromMedia(pic.Format)
	if !ok {
		return nil, fmt.Errorf("pixel format %q not representable in the backend", string(pic.Format))
	}
	if !e.scaler.matches(pic.Width, pic.Height, srcFmt) {
		e.scaler.Close()
		s, err := newScaler(pic.Width, pic.Height, srcFmt, int(e.ctx.width), int(e.ctx.height), e.ctx.pix_fmt)
		if err != nil {
			return nil, err
		}
		e.scaler = s
	}

	if ret := C.av_frame_make_writable(e.frame); ret < 0 {
		return nil, avErr("av_frame_make_writable", ret)
	}
	if err := e.scaler.scaleFromGo(pic.Planes, pic.Strides, e.frame); err != nil {
		return nil, err
	}
	e.frame.pts = C.int64_t(pic.PTS)
	if pic.Duration > 0 {
		e.frame.duration = C.int64_t(pic.Duration)
	} else {
		e.frame.duration = 0
	}
	if forceKey {
		e.frame.pict_type = C.AV_PICTURE_TYPE_I
	} else {
		e.frame.pict_type = C.AV_PICTURE_TYPE_NONE
	}

	if ret := C.avcodec_send_frame(e.ctx, e.frame); ret < 0 {
		return nil, avErr("avcodec_send_frame", ret)
	}
	return e.receiveAll()
}

// Flush signals end of stream and drains the remaining packets. The context
// cannot encode afterwards; the engine reopens on the next configure.
func (e *VideoEncoder) Flush() ([]*media.Packet, error) {
	if ret := C.avcodec_send_frame(e.ctx, nil); ret < 0 && !isEOF(ret) {
		return nil, avErr("avcodec_send_frame flush", ret)
	}
	return e.receiveAll()
}

func (e *VideoEncoder) receiveAll() ([]*media.Packet, error) {
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

// Close releases the context and converter chain. Safe on a partially
// constructed encoder.
func (e *VideoEncoder) Close() {
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
	e.scaler.Close()
	e.scaler = nil
}
