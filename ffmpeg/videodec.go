package ffmpeg

/*
#cgo pkg-config: libavcodec libavutil libswscale
#include <libavcodec/avcodec.h>
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

// VideoDecoderParams carries the normalised decoder configuration.
type VideoDecoderParams struct {
	Codec       string
	CodedWidth  int // 0 when unknown; the bitstream wins either way
	CodedHeight int
	ExtraData   []byte // codec-private description (avcC/hvcC); nil for in-band
	LowDelay    bool   // optimizeForLatency
}

// VideoDecoder is one open backend video decoder context. Output pictures
// are converted to a representable data-model format when the native frame
// layout has no direct mapping (10-bit, rare planar orders).
type VideoDecoder struct {
	ctx    *C.AVCodecContext
	frame  *C.AVFrame
	conv   *C.AVFrame
	pkt    *C.AVPacket
	scaler *Scaler
	name   string
}

// OpenVideoDecoder opens the first available decoder implementation for the
// codec.
func OpenVideoDecoder(p *VideoDecoderParams) (*VideoDecoder, error) {
	var lastErr error
	for _, name := range decoderNames(p.Codec) {
		d, err := openVideoDecoderImpl(name, p)
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

func openVideoDecoderImpl(name string, p *VideoDecoderParams) (*VideoDecoder, error) {
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
	d := &VideoDecoder{ctx: ctx, name: name}

	if p.CodedWidth > 0 && p.CodedHeight > 0 {
		ctx.width = C.int(p.CodedWidth)
		ctx.height = C.int(p.CodedHeight)
	}
	ctx.time_base = C.AVRational{num: 1, den: 1000000}
	if p.LowDelay {
		ctx.flags |= C.AV_CODEC_FLAG_LOW_DELAY
	}
	if len(p.ExtraData) > 0 {
		// The context frees extradata itself, so it must come from the
		// backend allocator with the required zero padding.
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
func (d *VideoDecoder) Name() string { return d.name }

// Decode pushes one compressed access unit and drains every picture the
// decoder has ready. Reordering codecs may emit nothing for several inputs
// and then several pictures at once.
func (d *VideoDecoder) Decode(pkt *media.Packet) ([]*media.RawPicture, error) {
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
	if pkt.Key {
		d.pkt.flags |= C.AV_PKT_FLAG_KEY
	}

	ret := C.avcodec_send_packet(d.ctx, d.pkt)
	C.av_packet_unref(d.pkt)
	if ret < 0 && !isAgain(ret) {
		return nil, avErr("avcodec_send_packet", ret)
	}
	return d.receiveAll()
}

// Flush signals end of stream and drains the reorder buffer.
func (d *VideoDecoder) Flush() ([]*media.RawPicture, error) {
	if ret := C.avcodec_send_packet(d.ctx, nil); ret < 0 && !isEOF(ret) {
		return nil, avErr("avcodec_send_packet flush", ret)
	}
	pics, err := d.receiveAll()
	if err != nil {
		return pics, err
	}
	// Reset decoder state so the context survives for the next keyframe.
	C.avcodec_flush_buffers(d.ctx)
	return pics, nil
}

func (d *VideoDecoder) receiveAll() ([]*media.RawPicture, error) {
	var pics []*media.RawPicture
	for {
		ret := C.avcodec_receive_frame(d.ctx, d.frame)
		if isAgain(ret) || isEOF(ret) {
			return pics, nil
		}
		if ret < 0 {
			return pics, avErr("avcodec_receive_frame", ret)
		}
		pic, err := d.pictureFromFrame()
		C.av_frame_unref(d.frame)
		if err != nil {
			return pics, err
		}
		pics = append(pics, pic)
	}
}

// pictureFromFrame copies the current native frame out to Go memory,
// converting through the scaler when the native format has no data-model
// mapping.
func (d *VideoDecoder) pictureFromFrame() (*media.RawPicture, error) {
	srcFmt := C.enum_AVPixelFormat(d.frame.format)
	if mf, ok := pixFmtToMedia(srcFmt); ok {
		pic := tightPicture(d.frame, mf)
		pic.Interlaced = d.frame.flags&C.AV_FRAME_FLAG_INTERLACED != 0
		return pic, nil
	}

	w, h := int(d.frame.width), int(d.frame.height)
	if !d.scaler.matches(w, h, srcFmt) {
		d.scaler.Close()
		s, err := newScaler(w, h, srcFmt, w, h, C.AV_PIX_FMT_YUV420P)
		if err != nil {
			return nil, err
		}
		d.scaler = s
		if d.conv != nil {
			C.av_frame_free(&d.conv)
		}
	}
	if d.conv == nil {
		d.conv = C.av_frame_alloc()
		if d.conv == nil {
			return nil, fmt.Errorf("could not allocate conversion frame")
		}
		d.conv.format = C.int(C.AV_PIX_FMT_YUV420P)
		d.conv.width = C.int(w)
		d.conv.height = C.int(h)
		if ret := C.av_frame_get_buffer(d.conv, 0); ret < 0 {
			return nil, avErr("av_frame_get_buffer", ret)
		}
	}
	if ret := C.av_frame_make_writable(d.conv); ret < 0 {
		return nil, avErr("av_frame_make_writable", ret)
	}
	if err := d.scaler.scaleFrame(d.frame, d.conv); err != nil {
		return nil, err
	}
	d.conv.pts = d.frame.pts
	d.conv.duration = d.frame.duration
	d.conv.color_primaries = d.frame.color_primaries
	d.conv.color_trc = d.frame.color_trc
	d.conv.colorspace = d.frame.colorspace
	d.conv.color_range = d.frame.color_range
	return tightPicture(d.conv, media.FormatI420), nil
}

// Close releases the context and any conversion state. Safe on a partially
// constructed decoder.
func (d *VideoDecoder) Close() {
	if d == nil {
		return
	}
	if d.frame != nil {
		C.av_frame_free(&d.frame)
	}
	if d.conv != nil {
		C.av_frame_free(&d.conv)
	}
	if d.pkt != nil {
		C.av_packet_free(&d.pkt)
	}
	if d.ctx != nil {
		C.avcodec_free_context(&d.ctx)
	}
	d.scaler.Close()
	d.scaler = nil
}
