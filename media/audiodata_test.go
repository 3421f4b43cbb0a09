package media

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f32leBytes(samples []float32) []byte {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	return buf
}

func TestNewAudioDataValidation(t *testing.T) {
	data := make([]byte, 48000*2*4)

	_, err := NewAudioData(nil)
	assert.ErrorIs(t, err, ErrType)

	_, err = NewAudioData(&AudioDataInit{
		Data: data, Format: "f64", SampleRate: 48000, NumberOfFrames: 48000, NumberOfChannels: 2,
	})
	assert.ErrorIs(t, err, ErrType)

	_, err = NewAudioData(&AudioDataInit{
		Data: data, Format: SampleFormatF32, SampleRate: 0, NumberOfFrames: 48000, NumberOfChannels: 2,
	})
	assert.ErrorIs(t, err, ErrType)

	_, err = NewAudioData(&AudioDataInit{
		Data: data[:10], Format: SampleFormatF32, SampleRate: 48000, NumberOfFrames: 48000, NumberOfChannels: 2,
	})
	assert.ErrorIs(t, err, ErrType)
}

func TestAudioDataDurationAndPlanes(t *testing.T) {
	// 48000 stereo f32 frames at 48 kHz last exactly one
	// second.
	data := make([]byte, 48000*2*4)
	a, err := NewAudioData(&AudioDataInit{
		Data: data, Format: SampleFormatF32, SampleRate: 48000,
		NumberOfFrames: 48000, NumberOfChannels: 2, Timestamp: 0,
	})
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, int64(1_000_000), a.Duration())
	assert.Equal(t, 1, a.NumberOfPlanes(), "interleaved")

	p, err := NewAudioData(&AudioDataInit{
		Data: data, Format: SampleFormatF32Planar, SampleRate: 48000,
		NumberOfFrames: 48000, NumberOfChannels: 2, Timestamp: 0,
	})
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, 2, p.NumberOfPlanes(), "planar")

	// 3 frames at 48kHz is 62.5µs, truncated to integer microseconds.
	b, err := NewAudioData(&AudioDataInit{
		Data: data[:3*2*4], Format: SampleFormatF32, SampleRate: 48000,
		NumberOfFrames: 3, NumberOfChannels: 2,
	})
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, int64(62), b.Duration())
}

func TestAudioDataCopyToPlanar(t *testing.T) {
	left := []float32{1, 2, 3, 4}
	right := []float32{5, 6, 7, 8}
	data := append(f32leBytes(left), f32leBytes(right)...)

	a, err := NewAudioData(&AudioDataInit{
		Data: data, Format: SampleFormatF32Planar, SampleRate: 44100,
		NumberOfFrames: 4, NumberOfChannels: 2,
	})
	require.NoError(t, err)
	defer a.Close()

	size, err := a.AllocationSize(&AudioDataCopyToOptions{PlaneIndex: 1})
	require.NoError(t, err)
	assert.Equal(t, 16, size)

	dst := make([]byte, size)
	require.NoError(t, a.CopyTo(dst, &AudioDataCopyToOptions{PlaneIndex: 1}))
	assert.Equal(t, f32leBytes(right), dst)

	// Windowed copy.
	two := 2
	size, err = a.AllocationSize(&AudioDataCopyToOptions{PlaneIndex: 0, FrameOffset: 1, FrameCount: &two})
	require.NoError(t, err)
	assert.Equal(t, 8, size)
	dst = make([]byte, size)
	require.NoError(t, a.CopyTo(dst, &AudioDataCopyToOptions{PlaneIndex: 0, FrameOffset: 1, FrameCount: &two}))
	assert.Equal(t, f32leBytes([]float32{2, 3}), dst)
}

func TestAudioDataCopyToErrors(t *testing.T) {
	data := make([]byte, 4*2*2)
	a, err := NewAudioData(&AudioDataInit{
		Data: data, Format: SampleFormatS16, SampleRate: 8000,
		NumberOfFrames: 4, NumberOfChannels: 2,
	})
	require.NoError(t, err)

	_, err = a.AllocationSize(nil)
	assert.ErrorIs(t, err, ErrType, "options argument is required")

	err = a.CopyTo(make([]byte, 64), &AudioDataCopyToOptions{PlaneIndex: 1})
	assert.ErrorIs(t, err, ErrRange, "interleaved data has a single plane")

	err = a.CopyTo(make([]byte, 4), &AudioDataCopyToOptions{PlaneIndex: 0})
	assert.ErrorIs(t, err, ErrType, "destination too small")

	a.Close()
	err = a.CopyTo(make([]byte, 64), &AudioDataCopyToOptions{PlaneIndex: 0})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, SampleFormatNone, a.Format())
	assert.Equal(t, 0, a.SampleRate())
	assert.Equal(t, 0, a.NumberOfFrames())
}

func TestAudioDataRoundTrip(t *testing.T) {
	samples := []float32{0.5, -0.5, 0.25, -0.25, 1, -1}
	src := f32leBytes(samples)
	a, err := NewAudioData(&AudioDataInit{
		Data: src, Format: SampleFormatF32, SampleRate: 48000,
		NumberOfFrames: 3, NumberOfChannels: 2, Timestamp: 7,
	})
	require.NoError(t, err)
	defer a.Close()

	dst := make([]byte, len(src))
	require.NoError(t, a.CopyTo(dst, &AudioDataCopyToOptions{PlaneIndex: 0}))

	b, err := NewAudioData(&AudioDataInit{
		Data: dst, Format: SampleFormatF32, SampleRate: 48000,
		NumberOfFrames: 3, NumberOfChannels: 2, Timestamp: 7,
	})
	require.NoError(t, err)
	defer b.Close()

	dst2 := make([]byte, len(src))
	require.NoError(t, b.CopyTo(dst2, &AudioDataCopyToOptions{PlaneIndex: 0}))
	assert.Equal(t, dst, dst2)
}

func TestAudioDataInputBufferCallerOwned(t *testing.T) {
	src := f32leBytes([]float32{1, 2})
	a, err := NewAudioData(&AudioDataInit{
		Data: src, Format: SampleFormatF32, SampleRate: 48000,
		NumberOfFrames: 1, NumberOfChannels: 2,
	})
	require.NoError(t, err)
	defer a.Close()

	// Mutating the source after construction must not affect the copy.
	for i := range src {
		src[i] = 0xAA
	}
	dst := make([]byte, 8)
	require.NoError(t, a.CopyTo(dst, &AudioDataCopyToOptions{PlaneIndex: 0}))
	assert.Equal(t, f32leBytes([]float32{1, 2}), dst)
}
