package media

// PixelFormat identifies the memory layout of a VideoFrame. The zero value
// ("") is the closed sentinel reported by a frame after Close.
type PixelFormat string

const (
	FormatNone PixelFormat = ""

	FormatI420  PixelFormat = "I420"
	FormatI420A PixelFormat = "I420A"
	FormatI422  PixelFormat = "I422"
	FormatI444  PixelFormat = "I444"
	FormatNV12  PixelFormat = "NV12"
	FormatNV21  PixelFormat = "NV21"
	FormatRGBA  PixelFormat = "RGBA"
	FormatRGBX  PixelFormat = "RGBX"
	FormatBGRA  PixelFormat = "BGRA"
	FormatBGRX  PixelFormat = "BGRX"
)

// planeSpec describes one plane of a pixel format: the chroma subsampling
// factors and the byte width of a single sample element. For NV12/NV21 the
// chroma plane stores interleaved Cb/Cr pairs, so its element is two bytes.
type planeSpec struct {
	subX, subY   int
	bytesPerElem int
}

var planeSpecs = map[PixelFormat][]planeSpec{
	FormatI420:  {{1, 1, 1}, {2, 2, 1}, {2, 2, 1}},
	FormatI420A: {{1, 1, 1}, {2, 2, 1}, {2, 2, 1}, {1, 1, 1}},
	FormatI422:  {{1, 1, 1}, {2, 1, 1}, {2, 1, 1}},
	FormatI444:  {{1, 1, 1}, {1, 1, 1}, {1, 1, 1}},
	FormatNV12:  {{1, 1, 1}, {2, 2, 2}},
	FormatNV21:  {{1, 1, 1}, {2, 2, 2}},
	FormatRGBA:  {{1, 1, 4}},
	FormatRGBX:  {{1, 1, 4}},
	FormatBGRA:  {{1, 1, 4}},
	FormatBGRX:  {{1, 1, 4}},
}

// Valid reports whether f names a known, open pixel format.
func (f PixelFormat) Valid() bool {
	_, ok := planeSpecs[f]
	return ok
}

// NumPlanes returns the plane count of the format, or 0 for the closed
// sentinel.
func (f PixelFormat) NumPlanes() int {
	return len(planeSpecs[f])
}

// HasAlpha reports whether the format carries an alpha plane or channel.
func (f PixelFormat) HasAlpha() bool {
	switch f {
	case FormatI420A, FormatRGBA, FormatBGRA:
		return true
	}
	return false
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// PlaneDims returns the row length in bytes and the row count of plane i for
// a coded area of w×h pixels.
func (f PixelFormat) PlaneDims(i, w, h int) (rowBytes, rows int) {
	spec := planeSpecs[f][i]
	return ceilDiv(w, spec.subX) * spec.bytesPerElem, ceilDiv(h, spec.subY)
}

// tightLayout computes the packed PlaneLayout for the format over a w×h area
// and the total byte size of that packing.
func (f PixelFormat) tightLayout(w, h int) ([]PlaneLayout, int) {
	layout := make([]PlaneLayout, f.NumPlanes())
	offset := 0
	for i := range layout {
		rowBytes, rows := f.PlaneDims(i, w, h)
		layout[i] = PlaneLayout{Offset: offset, Stride: rowBytes}
		offset += rowBytes * rows
	}
	return layout, offset
}
