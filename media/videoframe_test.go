package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func i64(v int64) *int64 { return &v }

func solidRGBX(w, h int, r, g, b byte) []byte {
	buf := make([]byte, w*h*4)
	for i := 0; i < w*h; i++ {
		buf[i*4] = r
		buf[i*4+1] = g
		buf[i*4+2] = b
		buf[i*4+3] = 0xff
	}
	return buf
}

func TestNewVideoFrameValidation(t *testing.T) {
	data := solidRGBX(4, 2, 1, 2, 3)

	_, err := NewVideoFrame(data, nil)
	assert.ErrorIs(t, err, ErrType)

	_, err = NewVideoFrame(data, &VideoFrameInit{Format: "bogus", CodedWidth: 4, CodedHeight: 2})
	assert.ErrorIs(t, err, ErrType)

	_, err = NewVideoFrame(data, &VideoFrameInit{Format: FormatRGBX, CodedWidth: 0, CodedHeight: 2})
	assert.ErrorIs(t, err, ErrType)

	_, err = NewVideoFrame(data[:7], &VideoFrameInit{Format: FormatRGBX, CodedWidth: 4, CodedHeight: 2})
	assert.ErrorIs(t, err, ErrType)

	dw := 8
	_, err = NewVideoFrame(data, &VideoFrameInit{
		Format: FormatRGBX, CodedWidth: 4, CodedHeight: 2, DisplayWidth: &dw,
	})
	assert.ErrorIs(t, err, ErrType, "displayWidth without displayHeight")

	neg := int64(-1)
	_, err = NewVideoFrame(data, &VideoFrameInit{
		Format: FormatRGBX, CodedWidth: 4, CodedHeight: 2, Duration: &neg,
	})
	assert.ErrorIs(t, err, ErrType)
}

func TestVideoFrameCopyToRoundTrip(t *testing.T) {
	// I420 3x3 exercises the odd-dimension chroma rounding.
	w, h := 3, 3
	ySize := w * h
	cSize := 2 * 2
	src := make([]byte, ySize+2*cSize)
	for i := range src {
		src[i] = byte(i + 1)
	}
	f, err := NewVideoFrame(src, &VideoFrameInit{
		Format: FormatI420, CodedWidth: w, CodedHeight: h, Timestamp: 1000, Duration: i64(33_333),
	})
	require.NoError(t, err)
	defer f.Close()

	size, err := f.AllocationSize()
	require.NoError(t, err)
	assert.Equal(t, len(src), size)

	dst := make([]byte, size)
	layout, err := f.CopyTo(dst)
	require.NoError(t, err)
	require.Len(t, layout, 3)
	assert.Equal(t, src, dst)

	// Reconstructing from the copy yields byte-identical sample data.
	f2, err := NewVideoFrame(dst, &VideoFrameInit{
		Format: FormatI420, CodedWidth: w, CodedHeight: h, Timestamp: 1000,
	})
	require.NoError(t, err)
	defer f2.Close()
	dst2 := make([]byte, size)
	_, err = f2.CopyTo(dst2)
	require.NoError(t, err)
	assert.Equal(t, dst, dst2)

	short := make([]byte, size-1)
	_, err = f.CopyTo(short)
	assert.ErrorIs(t, err, ErrType)
}

func TestVideoFrameVisibleRectCopy(t *testing.T) {
	// 4x2 RGBX, visible window is the right 2x2.
	data := make([]byte, 4*2*4)
	for i := range data {
		data[i] = byte(i)
	}
	f, err := NewVideoFrame(data, &VideoFrameInit{
		Format: FormatRGBX, CodedWidth: 4, CodedHeight: 2,
		VisibleRect: &Rect{X: 2, Y: 0, Width: 2, Height: 2},
	})
	require.NoError(t, err)
	defer f.Close()

	size, err := f.AllocationSize()
	require.NoError(t, err)
	assert.Equal(t, 2*2*4, size)

	dst := make([]byte, size)
	_, err = f.CopyTo(dst)
	require.NoError(t, err)
	assert.Equal(t, data[8:16], dst[:8], "first visible row")
	assert.Equal(t, data[24:32], dst[8:], "second visible row")

	assert.Equal(t, 2, f.DisplayWidth())
	assert.Equal(t, 2, f.DisplayHeight())
	assert.Equal(t, Rect{Width: 4, Height: 2}, f.CodedRect())
}

func TestVideoFrameRotationNormalization(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{0, 0}, {90, 90}, {180, 180}, {270, 270}, {360, 0},
		{45, 90}, {44, 0}, {135, 180}, {-45, 0}, {-46, 270},
		{-90, 270}, {450, 90}, {-360, 0}, {721, 0},
	}
	data := solidRGBX(4, 2, 0, 0, 0)
	for _, c := range cases {
		f, err := NewVideoFrame(data, &VideoFrameInit{
			Format: FormatRGBX, CodedWidth: 4, CodedHeight: 2, Rotation: c.in,
		})
		require.NoError(t, err)
		assert.Equalf(t, c.want, f.Rotation(), "rotation %d", c.in)
		f.Close()
	}
}

func TestVideoFrameDisplayDimsSwap(t *testing.T) {
	data := solidRGBX(4, 2, 0, 0, 0)
	f, err := NewVideoFrame(data, &VideoFrameInit{
		Format: FormatRGBX, CodedWidth: 4, CodedHeight: 2, Rotation: 90, Flip: true,
	})
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, 90, f.Rotation())
	assert.True(t, f.Flip())
	assert.Equal(t, 2, f.DisplayWidth())
	assert.Equal(t, 4, f.DisplayHeight())
	assert.Equal(t, f.CodedHeight(), f.DisplayWidth())
	assert.Equal(t, f.CodedWidth(), f.DisplayHeight())
}

func TestVideoFrameOrientationComposition(t *testing.T) {
	data := solidRGBX(4, 2, 0, 0, 0)
	for _, r := range []int{0, 90, 180, 270} {
		for _, fl := range []bool{false, true} {
			for _, r2 := range []int{0, 90, 180, 270} {
				for _, fl2 := range []bool{false, true} {
					base, err := NewVideoFrame(data, &VideoFrameInit{
						Format: FormatRGBX, CodedWidth: 4, CodedHeight: 2,
						Rotation: r, Flip: fl,
					})
					require.NoError(t, err)
					wrapped, err := VideoFrameFromFrame(base, &VideoFrameInit{Rotation: r2, Flip: fl2})
					require.NoError(t, err)

					wantRot := r2
					if fl {
						wantRot = (360 - r2) % 360
					}
					wantRot = (r + wantRot) % 360
					assert.Equalf(t, wantRot, wrapped.Rotation(), "r=%d f=%v r'=%d f'=%v", r, fl, r2, fl2)
					assert.Equal(t, fl != fl2, wrapped.Flip())

					wrapped.Close()
					base.Close()
				}
			}
		}
	}
}

func TestVideoFrameWrapSpecScenario(t *testing.T) {
	// A 4x2 RGBX frame with rotation 90 + flip, wrapped again with
	// rotation 90 + flip, lands back at identity orientation.
	data := solidRGBX(4, 2, 0, 0, 0)
	f, err := NewVideoFrame(data, &VideoFrameInit{
		Format: FormatRGBX, CodedWidth: 4, CodedHeight: 2, Rotation: 90, Flip: true,
	})
	require.NoError(t, err)
	defer f.Close()

	w, err := VideoFrameFromFrame(f, &VideoFrameInit{Rotation: 90, Flip: true})
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, 0, w.Rotation())
	assert.False(t, w.Flip())
	assert.Equal(t, 4, w.DisplayWidth(), "display dims follow the composed rotation")
	assert.Equal(t, 2, w.DisplayHeight())
}

func TestVideoFrameCloneAndClose(t *testing.T) {
	data := solidRGBX(4, 2, 9, 8, 7)
	f, err := NewVideoFrame(data, &VideoFrameInit{
		Format: FormatRGBX, CodedWidth: 4, CodedHeight: 2, Timestamp: 42,
	})
	require.NoError(t, err)

	c, err := f.Clone()
	require.NoError(t, err)

	f.Close()
	assert.True(t, f.Closed())
	assert.Equal(t, FormatNone, f.Format())
	assert.Equal(t, 0, f.CodedWidth())
	assert.Equal(t, 0, f.CodedHeight())
	_, err = f.CopyTo(make([]byte, 32))
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.Clone()
	assert.ErrorIs(t, err, ErrInvalidState)

	// The clone is unaffected and still readable.
	assert.False(t, c.Closed())
	assert.Equal(t, int64(42), c.Timestamp())
	dst := make([]byte, 4*2*4)
	_, err = c.CopyTo(dst)
	require.NoError(t, err)
	assert.Equal(t, data, dst)
	c.Close()

	// Double close is a no-op.
	f.Close()
}

func TestVideoFrameWrapClosedSource(t *testing.T) {
	data := solidRGBX(4, 2, 0, 0, 0)
	f, err := NewVideoFrame(data, &VideoFrameInit{Format: FormatRGBX, CodedWidth: 4, CodedHeight: 2})
	require.NoError(t, err)
	f.Close()

	_, err = VideoFrameFromFrame(f, nil)
	assert.ErrorIs(t, err, ErrType)
}

func TestVideoFrameNV12Geometry(t *testing.T) {
	// 6x4 NV12: luma 6x4, chroma 3x2 pairs of 2 bytes.
	data := make([]byte, 6*4+3*2*2)
	f, err := NewVideoFrame(data, &VideoFrameInit{Format: FormatNV12, CodedWidth: 6, CodedHeight: 4})
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, 2, f.NumberOfPlanes())
	size, err := f.AllocationSize()
	require.NoError(t, err)
	assert.Equal(t, len(data), size)
}
