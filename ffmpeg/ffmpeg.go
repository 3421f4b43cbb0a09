// Package ffmpeg is the adapter between the codec engines and the native
// media backend (libavcodec, libswscale, libswresample). It owns the
// lifetime of every native handle and converts between libav pixel/sample
// formats and the data-model formats; nothing outside this package touches
// cgo.
package ffmpeg

/*
#cgo pkg-config: libavcodec libavutil libswscale libswresample
#include <libavcodec/avcodec.h>
#include <libavutil/avutil.h>
#include <libavutil/error.h>
#include <libavutil/hwcontext.h>
#include <libavutil/opt.h>
#include <libavutil/pixfmt.h>
#include <libavutil/samplefmt.h>
#include <stdlib.h>
#include <errno.h>

// av_err2str is a macro, so we need a wrapper function
static inline const char* av_error_str(int errnum) {
    static char str[AV_ERROR_MAX_STRING_SIZE];
    av_make_error_string(str, AV_ERROR_MAX_STRING_SIZE, errnum);
    return str;
}

// AVERROR is a macro, so we need a wrapper function
static int averror(int errnum) {
    return AVERROR(errnum);
}
*/
import "C"

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/richinsley/gowebcodecs/media"
)

// avErr converts a negative libav return code into a Go error.
func avErr(op string, ret C.int) error {
	return fmt.Errorf("%s: %s", op, C.GoString(C.av_error_str(ret)))
}

func isAgain(ret C.int) bool {
	return ret == C.averror(C.EAGAIN)
}

func isEOF(ret C.int) bool {
	return ret == C.AVERROR_EOF
}

// setOpt sets a string AVOption on an options-enabled struct (usually a
// codec context's priv_data).
func setOpt(obj unsafe.Pointer, name, value string) {
	cName := C.CString(name)
	cValue := C.CString(value)
	C.av_opt_set(obj, cName, cValue, 0)
	C.free(unsafe.Pointer(cName))
	C.free(unsafe.Pointer(cValue))
}

// HasEncoder reports whether the backend ships an encoder with the given
// implementation name (e.g. "libx264", "h264_nvenc").
func HasEncoder(name string) bool {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))
	return C.avcodec_find_encoder_by_name(cName) != nil
}

// HasDecoder reports whether the backend ships a decoder with the given
// implementation name.
func HasDecoder(name string) bool {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))
	return C.avcodec_find_decoder_by_name(cName) != nil
}

// HWDeviceTypes enumerates the hardware device types compiled into the
// backend ("cuda", "vaapi", "videotoolbox", ...).
func HWDeviceTypes() []string {
	var names []string
	t := C.enum_AVHWDeviceType(C.AV_HWDEVICE_TYPE_NONE)
	for {
		t = C.av_hwdevice_iterate_types(t)
		if t == C.AV_HWDEVICE_TYPE_NONE {
			break
		}
		names = append(names, C.GoString(C.av_hwdevice_get_type_name(t)))
	}
	return names
}

// hardwareFallback records that a preferred hardware encoder failed to open
// and a software encoder was used instead. Reset between tests through
// ResetHardwareFallback.
var hardwareFallback atomic.Bool

// HardwareFallbackOccurred reports whether any encoder open in this process
// fell back from hardware to software.
func HardwareFallbackOccurred() bool {
	return hardwareFallback.Load()
}

// ResetHardwareFallback clears the process-wide fallback flag.
func ResetHardwareFallback() {
	hardwareFallback.Store(false)
}

// pixFmtFromMedia maps a data-model pixel format to the backend enum.
func pixFmtFromMedia(f media.PixelFormat) (C.enum_AVPixelFormat, bool) {
	switch f {
	case media.FormatI420:
		return C.AV_PIX_FMT_YUV420P, true
	case media.FormatI420A:
		return C.AV_PIX_FMT_YUVA420P, true
	case media.FormatI422:
		return C.AV_PIX_FMT_YUV422P, true
	case media.FormatI444:
		return C.AV_PIX_FMT_YUV444P, true
	case media.FormatNV12:
		return C.AV_PIX_FMT_NV12, true
	case media.FormatNV21:
		return C.AV_PIX_FMT_NV21, true
	case media.FormatRGBA:
		return C.AV_PIX_FMT_RGBA, true
	case media.FormatRGBX:
		return C.AV_PIX_FMT_RGB0, true
	case media.FormatBGRA:
		return C.AV_PIX_FMT_BGRA, true
	case media.FormatBGRX:
		return C.AV_PIX_FMT_BGR0, true
	}
	return C.AV_PIX_FMT_NONE, false
}

// pixFmtToMedia maps a backend pixel format to the data model. The JPEG
// range variants fold onto their limited-range layouts; the range itself is
// carried in the colour space.
func pixFmtToMedia(f C.enum_AVPixelFormat) (media.PixelFormat, bool) {
	switch f {
	case C.AV_PIX_FMT_YUV420P, C.AV_PIX_FMT_YUVJ420P:
		return media.FormatI420, true
	case C.AV_PIX_FMT_YUVA420P:
		return media.FormatI420A, true
	case C.AV_PIX_FMT_YUV422P, C.AV_PIX_FMT_YUVJ422P:
		return media.FormatI422, true
	case C.AV_PIX_FMT_YUV444P, C.AV_PIX_FMT_YUVJ444P:
		return media.FormatI444, true
	case C.AV_PIX_FMT_NV12:
		return media.FormatNV12, true
	case C.AV_PIX_FMT_NV21:
		return media.FormatNV21, true
	case C.AV_PIX_FMT_RGBA:
		return media.FormatRGBA, true
	case C.AV_PIX_FMT_RGB0:
		return media.FormatRGBX, true
	case C.AV_PIX_FMT_BGRA:
		return media.FormatBGRA, true
	case C.AV_PIX_FMT_BGR0:
		return media.FormatBGRX, true
	}
	return media.FormatNone, false
}

// sampleFmtFromMedia maps a data-model sample format to the backend enum.
func sampleFmtFromMedia(f media.SampleFormat) (C.enum_AVSampleFormat, bool) {
	switch f {
	case media.SampleFormatU8:
		return C.AV_SAMPLE_FMT_U8, true
	case media.SampleFormatS16:
		return C.AV_SAMPLE_FMT_S16, true
	case media.SampleFormatS32:
		return C.AV_SAMPLE_FMT_S32, true
	case media.SampleFormatF32:
		return C.AV_SAMPLE_FMT_FLT, true
	case media.SampleFormatU8Planar:
		return C.AV_SAMPLE_FMT_U8P, true
	case media.SampleFormatS16Planar:
		return C.AV_SAMPLE_FMT_S16P, true
	case media.SampleFormatS32Planar:
		return C.AV_SAMPLE_FMT_S32P, true
	case media.SampleFormatF32Planar:
		return C.AV_SAMPLE_FMT_FLTP, true
	}
	return C.AV_SAMPLE_FMT_NONE, false
}

func sampleFmtToMedia(f C.enum_AVSampleFormat) (media.SampleFormat, bool) {
	switch f {
	case C.AV_SAMPLE_FMT_U8:
		return media.SampleFormatU8, true
	case C.AV_SAMPLE_FMT_S16:
		return media.SampleFormatS16, true
	case C.AV_SAMPLE_FMT_S32:
		return media.SampleFormatS32, true
	case C.AV_SAMPLE_FMT_FLT:
		return media.SampleFormatF32, true
	case C.AV_SAMPLE_FMT_U8P:
		return media.SampleFormatU8Planar, true
	case C.AV_SAMPLE_FMT_S16P:
		return media.SampleFormatS16Planar, true
	case C.AV_SAMPLE_FMT_S32P:
		return media.SampleFormatS32Planar, true
	case C.AV_SAMPLE_FMT_FLTP:
		return media.SampleFormatF32Planar, true
	}
	return media.SampleFormatNone, false
}

// colorSpaceFromFields reads the colour signalling off a codec context or
// decoded frame's fields into the data model. Unknown values stay nil.
func colorSpaceFromFields(primaries, transfer, matrix C.int, colorRange C.int) media.VideoColorSpace {
	var cs media.VideoColorSpace
	switch primaries {
	case C.AVCOL_PRI_BT709:
		p := media.PrimariesBT709
		cs.Primaries = &p
	case C.AVCOL_PRI_BT470BG:
		p := media.PrimariesBT470BG
		cs.Primaries = &p
	case C.AVCOL_PRI_SMPTE170M:
		p := media.PrimariesSMPTE170M
		cs.Primaries = &p
	case C.AVCOL_PRI_BT2020:
		p := media.PrimariesBT2020
		cs.Primaries = &p
	}
	switch transfer {
	case C.AVCOL_TRC_BT709:
		t := media.TransferBT709
		cs.Transfer = &t
	case C.AVCOL_TRC_SMPTE170M:
		t := media.TransferSMPTE170M
		cs.Transfer = &t
	case C.AVCOL_TRC_IEC61966_2_1:
		t := media.TransferIEC61966
		cs.Transfer = &t
	case C.AVCOL_TRC_LINEAR:
		t := media.TransferLinear
		cs.Transfer = &t
	case C.AVCOL_TRC_SMPTE2084:
		t := media.TransferPQ
		cs.Transfer = &t
	case C.AVCOL_TRC_ARIB_STD_B67:
		t := media.TransferHLG
		cs.Transfer = &t
	}
	switch matrix {
	case C.AVCOL_SPC_RGB:
		m := media.MatrixRGB
		cs.Matrix = &m
	case C.AVCOL_SPC_BT709:
		m := media.MatrixBT709
		cs.Matrix = &m
	case C.AVCOL_SPC_BT470BG:
		m := media.MatrixBT470BG
		cs.Matrix = &m
	case C.AVCOL_SPC_SMPTE170M:
		m := media.MatrixSMPTE170M
		cs.Matrix = &m
	case C.AVCOL_SPC_BT2020_NCL:
		m := media.MatrixBT2020NCL
		cs.Matrix = &m
	}
	switch colorRange {
	case C.AVCOL_RANGE_MPEG:
		full := false
		cs.FullRange = &full
	case C.AVCOL_RANGE_JPEG:
		full := true
		cs.FullRange = &full
	}
	return cs
}
