package ffmpeg

/*
#cgo pkg-config: libswresample libavutil
#include <libswresample/swresample.h>
#include <libavutil/channel_layout.h>
#include <libavutil/samplefmt.h>
#include <stdlib.h>
#include <string.h>
*/
import "C"

import (
	"fmt"
	"unsafe"
)

const maxChannels = 8

// Resampler wraps a libswresample context for one fixed input/output
// signature: sample format, rate and channel count on both sides. Like the
// scaler it stages Go-side planes through C buffers because the converter
// reads plane pointer arrays.
type Resampler struct {
	ctx *C.struct_SwrContext

	inFmt   C.enum_AVSampleFormat
	inRate  C.int
	inCh    C.int
	outFmt  C.enum_AVSampleFormat
	outRate C.int
	outCh   C.int

	inBuf      unsafe.Pointer
	inBufSize  int
	outBuf     unsafe.Pointer
	outBufSize int
	inPlanes   **C.uint8_t
	outPlanes  **C.uint8_t
}

func newResampler(inFmt C.enum_AVSampleFormat, inRate, inCh int,
	outFmt C.enum_AVSampleFormat, outRate, outCh int) (*Resampler, error) {

	r := &Resampler{
		inFmt:   inFmt,
		inRate:  C.int(inRate),
		inCh:    C.int(inCh),
		outFmt:  outFmt,
		outRate: C.int(outRate),
		outCh:   C.int(outCh),
	}

	var inLayout, outLayout C.AVChannelLayout
	C.av_channel_layout_default(&inLayout, C.int(inCh))
	C.av_channel_layout_default(&outLayout, C.int(outCh))

	if ret := C.swr_alloc_set_opts2(&r.ctx,
		&outLayout, int32(outFmt), C.int(outRate),
		&inLayout, int32(inFmt), C.int(inRate),
		0, nil); ret < 0 {
		return nil, avErr("swr_alloc_set_opts2", ret)
	}
	if ret := C.swr_init(r.ctx); ret < 0 {
		r.Close()
		return nil, avErr("swr_init", ret)
	}

	r.inPlanes = (**C.uint8_t)(C.malloc(C.size_t(unsafe.Sizeof((*C.uint8_t)(nil)) * maxChannels)))
	r.outPlanes = (**C.uint8_t)(C.malloc(C.size_t(unsafe.Sizeof((*C.uint8_t)(nil)) * maxChannels)))
	if r.inPlanes == nil || r.outPlanes == nil {
		r.Close()
		return nil, fmt.Errorf("could not allocate resampler plane tables")
	}
	return r, nil
}

func (r *Resampler) matches(fmt C.enum_AVSampleFormat, rate, ch int) bool {
	return r != nil && r.inFmt == fmt && r.inRate == C.int(rate) && r.inCh == C.int(ch)
}

func growC(buf *unsafe.Pointer, size *int, need int) error {
	if *size >= need {
		return nil
	}
	if *buf != nil {
		C.free(*buf)
		*size = 0
	}
	*buf = C.malloc(C.size_t(need))
	if *buf == nil {
		return fmt.Errorf("could not allocate %d byte conversion buffer", need)
	}
	*size = need
	return nil
}

func sampleFmtPlanar(f C.enum_AVSampleFormat) bool {
	return C.av_sample_fmt_is_planar(int32(f)) != 0
}

func sampleFmtBytes(f C.enum_AVSampleFormat) int {
	return int(C.av_get_bytes_per_sample(int32(f)))
}

// Convert pushes frames samples through the converter and returns the
// converted planes as Go copies in the output layout: one slice per channel
// for planar output, a single interleaved slice otherwise. A nil planes
// argument drains the converter's internal delay buffer.
func (r *Resampler) Convert(planes [][]byte, frames int) ([][]byte, int, error) {
	inPlanesSlice := (*[maxChannels]*C.uint8_t)(unsafe.Pointer(r.inPlanes))
	var inPtr **C.uint8_t
	if planes != nil {
		total := 0
		for _, p := range planes {
			total += len(p)
		}
		if err := growC(&r.inBuf, &r.inBufSize, total); err != nil {
			return nil, 0, err
		}
		offset := 0
		for i := 0; i < maxChannels; i++ {
			if i < len(planes) && len(planes[i]) > 0 {
				C.memcpy(unsafe.Add(r.inBuf, offset), unsafe.Pointer(&planes[i][0]), C.size_t(len(planes[i])))
				inPlanesSlice[i] = (*C.uint8_t)(unsafe.Add(r.inBuf, offset))
				offset += len(planes[i])
			} else {
				inPlanesSlice[i] = nil
			}
		}
		inPtr = r.inPlanes
	}

	outCap := int(C.swr_get_out_samples(r.ctx, C.int(frames)))
	if outCap <= 0 {
		outCap = frames + 256
	}
	bps := sampleFmtBytes(r.outFmt)
	outPlanar := sampleFmtPlanar(r.outFmt)
	planeCount := 1
	planeBytes := outCap * bps * int(r.outCh)
	if outPlanar {
		planeCount = int(r.outCh)
		planeBytes = outCap * bps
	}
	if err := growC(&r.outBuf, &r.outBufSize, planeBytes*planeCount); err != nil {
		return nil, 0, err
	}
	outPlanesSlice := (*[maxChannels]*C.uint8_t)(unsafe.Pointer(r.outPlanes))
	for i := 0; i < maxChannels; i++ {
		if i < planeCount {
			outPlanesSlice[i] = (*C.uint8_t)(unsafe.Add(r.outBuf, i*planeBytes))
		} else {
			outPlanesSlice[i] = nil
		}
	}

	got := C.swr_convert(r.ctx, r.outPlanes, C.int(outCap), inPtr, C.int(frames))
	if got < 0 {
		return nil, 0, avErr("swr_convert", got)
	}
	if got == 0 {
		return nil, 0, nil
	}

	outBytes := int(got) * bps
	if !outPlanar {
		outBytes *= int(r.outCh)
	}
	out := make([][]byte, planeCount)
	for i := 0; i < planeCount; i++ {
		out[i] = C.GoBytes(unsafe.Pointer(outPlanesSlice[i]), C.int(outBytes))
	}
	return out, int(got), nil
}

// Drain flushes whatever the converter still holds.
func (r *Resampler) Drain() ([][]byte, int, error) {
	return r.Convert(nil, 0)
}

func (r *Resampler) Close() {
	if r == nil {
		return
	}
	if r.ctx != nil {
		C.swr_free(&r.ctx)
	}
	if r.inBuf != nil {
		C.free(r.inBuf)
		r.inBuf = nil
	}
	if r.outBuf != nil {
		C.free(r.outBuf)
		r.outBuf = nil
	}
	if r.inPlanes != nil {
		C.free(unsafe.Pointer(r.inPlanes))
		r.inPlanes = nil
	}
	if r.outPlanes != nil {
		C.free(unsafe.Pointer(r.outPlanes))
		r.outPlanes = nil
	}
}
