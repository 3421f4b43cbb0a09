package imagedec

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinsley/gowebcodecs/media"
)

// threeFrameGIF encodes an 8x8 GIF whose three frames are solid red, green
// and blue.
func threeFrameGIF(t *testing.T) []byte {
	t.Helper()
	palette := color.Palette{
		color.RGBA{0, 0, 0, 255},
		color.RGBA{255, 0, 0, 255},
		color.RGBA{0, 255, 0, 255},
		color.RGBA{0, 0, 255, 255},
	}
	g := &gif.GIF{LoopCount: 0}
	g.Config.Width = 8
	g.Config.Height = 8
	for i := 1; i <= 3; i++ {
		frame := image.NewPaletted(image.Rect(0, 0, 8, 8), palette)
		for p := range frame.Pix {
			frame.Pix[p] = uint8(i)
		}
		g.Image = append(g.Image, frame)
		g.Delay = append(g.Delay, 10) // 100 ms
		g.Disposal = append(g.Disposal, gif.DisposalNone)
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, g))
	return buf.Bytes()
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		img.Pix[i*4] = 0x80
		img.Pix[i*4+3] = 0xFF
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestIsTypeSupported(t *testing.T) {
	assert.True(t, IsTypeSupported("image/gif"))
	assert.True(t, IsTypeSupported("image/png"))
	assert.True(t, IsTypeSupported("image/jpeg"))
	assert.True(t, IsTypeSupported("image/webp"))
	assert.False(t, IsTypeSupported("image/x-icon"))
	assert.False(t, IsTypeSupported("video/mp4"))
	assert.False(t, IsTypeSupported(""))
}

func TestConstructorValidation(t *testing.T) {
	data := pngBytes(t, 2, 2)

	_, err := New(nil)
	assert.ErrorIs(t, err, media.ErrType)

	_, err = New(&ImageDecoderInit{Data: data})
	assert.ErrorIs(t, err, media.ErrType, "type is required")

	w := 4
	_, err = New(&ImageDecoderInit{Data: data, Type: "image/png", DesiredWidth: &w})
	assert.ErrorIs(t, err, media.ErrType, "desired dims must be paired")

	_, err = New(&ImageDecoderInit{Data: data, Type: "image/png", ColorSpaceConversion: "srgb-linear"})
	assert.ErrorIs(t, err, media.ErrType)

	_, err = New(&ImageDecoderInit{Type: "image/png"})
	assert.ErrorIs(t, err, media.ErrType, "data is required")
}

func TestAnimatedGIFScenario(t *testing.T) {
	// An 8x8 three-frame GIF.
	dec, err := New(&ImageDecoderInit{Data: threeFrameGIF(t), Type: "image/gif"})
	require.NoError(t, err)
	defer dec.Close()

	track := dec.Tracks().SelectedTrack()
	require.NotNil(t, track)
	assert.True(t, track.Animated(), "animated is known synchronously")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, dec.Tracks().Ready(ctx))
	assert.GreaterOrEqual(t, track.FrameCount(), 1)
	assert.Equal(t, 3, track.FrameCount())

	res, err := dec.Decode(&DecodeOptions{FrameIndex: 0})
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Equal(t, 8, res.Image.CodedWidth())
	assert.Equal(t, 8, res.Image.CodedHeight())
	assert.Equal(t, media.FormatRGBA, res.Image.Format())
	res.Image.Close()

	// Frame timestamps accumulate the 100ms delays.
	res1, err := dec.Decode(&DecodeOptions{FrameIndex: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), res1.Image.Timestamp())
	d, ok := res1.Image.Duration()
	assert.True(t, ok)
	assert.Equal(t, int64(100_000), d)
	res1.Image.Close()

	// One past the last frame is a range error.
	_, err = dec.Decode(&DecodeOptions{FrameIndex: track.FrameCount()})
	assert.ErrorIs(t, err, media.ErrRange)
	_, err = dec.Decode(&DecodeOptions{FrameIndex: -1})
	assert.ErrorIs(t, err, media.ErrRange)
}

func TestGIFFramePixels(t *testing.T) {
	dec, err := New(&ImageDecoderInit{Data: threeFrameGIF(t), Type: "image/gif"})
	require.NoError(t, err)
	defer dec.Close()

	res, err := dec.Decode(&DecodeOptions{FrameIndex: 2})
	require.NoError(t, err)
	defer res.Image.Close()

	size, err := res.Image.AllocationSize()
	require.NoError(t, err)
	buf := make([]byte, size)
	_, err = res.Image.CopyTo(buf)
	require.NoError(t, err)
	assert.Equal(t, byte(0), buf[0], "third frame is solid blue")
	assert.Equal(t, byte(255), buf[2])
	assert.Equal(t, byte(255), buf[3])
}

func TestPreferAnimationFalse(t *testing.T) {
	no := false
	dec, err := New(&ImageDecoderInit{
		Data: threeFrameGIF(t), Type: "image/gif", PreferAnimation: &no,
	})
	require.NoError(t, err)
	defer dec.Close()

	track := dec.Tracks().SelectedTrack()
	assert.Equal(t, 1, track.FrameCount(), "only the first frame is exposed")
	_, err = dec.Decode(&DecodeOptions{FrameIndex: 1})
	assert.ErrorIs(t, err, media.ErrRange)
}

func TestStillPNGFromReader(t *testing.T) {
	data := pngBytes(t, 5, 3)
	dec, err := New(&ImageDecoderInit{
		DataReader: bytes.NewReader(data), Type: "image/png",
	})
	require.NoError(t, err)
	defer dec.Close()

	assert.True(t, dec.Complete())
	require.NoError(t, dec.Completed(context.Background()))

	track := dec.Tracks().SelectedTrack()
	assert.False(t, track.Animated())
	assert.Equal(t, 1, track.FrameCount())

	res, err := dec.Decode(nil)
	require.NoError(t, err)
	defer res.Image.Close()
	assert.Equal(t, 5, res.Image.CodedWidth())
	assert.Equal(t, 3, res.Image.CodedHeight())
	assert.Equal(t, int64(0), res.Image.Timestamp())
}

func TestDesiredSizeScaling(t *testing.T) {
	w, h := 4, 4
	dec, err := New(&ImageDecoderInit{
		Data: pngBytes(t, 8, 8), Type: "image/png",
		DesiredWidth: &w, DesiredHeight: &h,
	})
	require.NoError(t, err)
	defer dec.Close()

	res, err := dec.Decode(nil)
	require.NoError(t, err)
	defer res.Image.Close()
	assert.Equal(t, 4, res.Image.CodedWidth())
	assert.Equal(t, 4, res.Image.CodedHeight())
}

func TestDecodeMemoization(t *testing.T) {
	dec, err := New(&ImageDecoderInit{Data: threeFrameGIF(t), Type: "image/gif"})
	require.NoError(t, err)
	defer dec.Close()

	a, err := dec.Decode(&DecodeOptions{FrameIndex: 0})
	require.NoError(t, err)
	b, err := dec.Decode(&DecodeOptions{FrameIndex: 0})
	require.NoError(t, err)

	// Each result is an independently closable handle onto the cached
	// frame.
	a.Image.Close()
	buf := make([]byte, 8*8*4)
	_, err = b.Image.CopyTo(buf)
	assert.NoError(t, err)
	b.Image.Close()
}

func TestResetClearsAnimatedState(t *testing.T) {
	dec, err := New(&ImageDecoderInit{Data: threeFrameGIF(t), Type: "image/gif"})
	require.NoError(t, err)
	defer dec.Close()

	_, err = dec.Decode(&DecodeOptions{FrameIndex: 1})
	require.NoError(t, err)

	require.NoError(t, dec.Reset())
	assert.Equal(t, 0, dec.Tracks().SelectedTrack().FrameCount(),
		"frame count drops to 0 until the next decode")

	res, err := dec.Decode(&DecodeOptions{FrameIndex: 1})
	require.NoError(t, err)
	res.Image.Close()
	assert.Equal(t, 3, dec.Tracks().SelectedTrack().FrameCount())
}

func TestCloseSemantics(t *testing.T) {
	dec, err := New(&ImageDecoderInit{Data: pngBytes(t, 2, 2), Type: "image/png"})
	require.NoError(t, err)

	require.NoError(t, dec.Close())
	assert.True(t, dec.Closed())

	_, err = dec.Decode(nil)
	assert.ErrorIs(t, err, media.ErrInvalidState)
	assert.ErrorIs(t, dec.Reset(), media.ErrInvalidState)
	assert.ErrorIs(t, dec.Close(), media.ErrInvalidState)
}

func TestCorruptedDataIsEncodingError(t *testing.T) {
	dec, err := New(&ImageDecoderInit{
		Data: []byte{0x89, 'P', 'N', 'G', 1, 2, 3}, Type: "image/png",
	})
	require.NoError(t, err, "construction buffers bytes without failing")

	_, err = dec.Decode(nil)
	assert.ErrorIs(t, err, media.ErrEncoding)
}
