package ffmpeg

/*
#cgo pkg-config: libswscale libavutil
#include <libswscale/swscale.h>
#include <libavutil/frame.h>
#include <stdlib.h>
#include <string.h>
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/richinsley/gowebcodecs/media"
)

// Scaler wraps a libswscale context for one fixed source/destination
// geometry and format pair. Source planes handed in from Go are staged
// through a reusable C buffer first; libswscale reads plane pointer arrays,
// and those must not point into Go memory.
type Scaler struct {
	ctx    *C.struct_SwsContext
	srcW   C.int
	srcH   C.int
	srcFmt C.enum_AVPixelFormat
	dstFmt C.enum_AVPixelFormat

	buf     unsafe.Pointer
	bufSize int
	planes  **C.uint8_t
	strides *C.int
}

const maxPlanes = 4

func newScaler(srcW, srcH int, srcFmt C.enum_AVPixelFormat, dstW, dstH int, dstFmt C.enum_AVPixelFormat) (*Scaler, error) {
	ctx := C.sws_getContext(C.int(srcW), C.int(srcH), int32(srcFmt),
		C.int(dstW), C.int(dstH), int32(dstFmt),
		C.SWS_BILINEAR, nil, nil, nil)
	if ctx == nil {
		return nil, fmt.Errorf("could not initialize the conversion context")
	}
	s := &Scaler{
		ctx:    ctx,
		srcW:   C.int(srcW),
		srcH:   C.int(srcH),
		srcFmt: srcFmt,
		dstFmt: dstFmt,
	}
	s.planes = (**C.uint8_t)(C.malloc(C.size_t(unsafe.Sizeof((*C.uint8_t)(nil)) * maxPlanes)))
	s.strides = (*C.int)(C.malloc(C.size_t(unsafe.Sizeof(C.int(0)) * maxPlanes)))
	if s.planes == nil || s.strides == nil {
		s.Close()
		return nil, fmt.Errorf("could not allocate scaler plane tables")
	}
	return s, nil
}

// matches reports whether the scaler was built for the given source
// signature.
func (s *Scaler) matches(w, h int, fmt C.enum_AVPixelFormat) bool {
	return s != nil && s.srcW == C.int(w) && s.srcH == C.int(h) && s.srcFmt == fmt
}

// ensureBuf grows the staging buffer to at least size bytes.
func (s *Scaler) ensureBuf(size int) error {
	if s.bufSize >= size {
		return nil
	}
	if s.buf != nil {
		C.free(s.buf)
		s.bufSize = 0
	}
	s.buf = C.malloc(C.size_t(size))
	if s.buf == nil {
		return fmt.Errorf("could not allocate scaler staging buffer of %d bytes", size)
	}
	s.bufSize = size
	return nil
}

// scaleFromGo converts Go-side planes into dst, which must already be
// allocated with the scaler's destination geometry and format.
func (s *Scaler) scaleFromGo(planes [][]byte, strides []int, dst *C.AVFrame) error {
	total := 0
	for _, p := range planes {
		total += len(p)
	}
	if err := s.ensureBuf(total); err != nil {
		return err
	}

	planesSlice := (*[maxPlanes]*C.uint8_t)(unsafe.Pointer(s.planes))
	stridesSlice := (*[maxPlanes]C.int)(unsafe.Pointer(s.strides))
	offset := 0
	for i := 0; i < maxPlanes; i++ {
		if i < len(planes) {
			C.memcpy(unsafe.Add(s.buf, offset), unsafe.Pointer(&planes[i][0]), C.size_t(len(planes[i])))
			planesSlice[i] = (*C.uint8_t)(unsafe.Add(s.buf, offset))
			stridesSlice[i] = C.int(strides[i])
			offset += len(planes[i])
		} else {
			planesSlice[i] = nil
			stridesSlice[i] = 0
		}
	}

	if ret := C.sws_scale(s.ctx, s.planes, s.strides, 0, s.srcH,
		&dst.data[0], &dst.linesize[0]); ret < 0 {
		return avErr("sws_scale", ret)
	}
	return nil
}

// scaleFrame converts one native frame into another; both must match the
// geometry the scaler was created with.
func (s *Scaler) scaleFrame(src, dst *C.AVFrame) error {
	if ret := C.sws_scale(s.ctx, &src.data[0], &src.linesize[0], 0, s.srcH,
		&dst.data[0], &dst.linesize[0]); ret < 0 {
		return avErr("sws_scale", ret)
	}
	return nil
}

func (s *Scaler) Close() {
	if s == nil {
		return
	}
	if s.ctx != nil {
		C.sws_freeContext(s.ctx)
		s.ctx = nil
	}
	if s.buf != nil {
		C.free(s.buf)
		s.buf = nil
	}
	if s.planes != nil {
		C.free(unsafe.Pointer(s.planes))
		s.planes = nil
	}
	if s.strides != nil {
		C.free(unsafe.Pointer(s.strides))
		s.strides = nil
	}
}

// tightPicture copies a native frame out into a Go RawPicture with tightly
// packed planes in the given data-model format.
func tightPicture(frame *C.AVFrame, format media.PixelFormat) *media.RawPicture {
	w, h := int(frame.width), int(frame.height)
	pic := &media.RawPicture{
		Format: format,
		Width:  w,
		Height: h,
		PTS:    int64(frame.pts),
		ColorSpace: colorSpaceFromFields(C.int(frame.color_primaries), C.int(frame.color_trc),
			C.int(frame.colorspace), C.int(frame.color_range)),
	}
	if frame.duration > 0 {
		pic.Duration = int64(frame.duration)
	}
	n := format.NumPlanes()
	pic.Planes = make([][]byte, n)
	pic.Strides = make([]int, n)
	for i := 0; i < n; i++ {
		rowBytes, rows := format.PlaneDims(i, w, h)
		stride := int(frame.linesize[i])
		src := unsafe.Slice((*byte)(unsafe.Pointer(frame.data[i])), stride*rows)
		dst := make([]byte, rowBytes*rows)
		for r := 0; r < rows; r++ {
			copy(dst[r*rowBytes:], src[r*stride:r*stride+rowBytes])
		}
		pic.Planes[i] = dst
		pic.Strides[i] = rowBytes
	}
	return pic
}
