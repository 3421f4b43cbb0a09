package media

// SampleFormat identifies the memory layout of an AudioData buffer. The zero
// value ("") is the closed sentinel.
type SampleFormat string

const (
	SampleFormatNone SampleFormat = ""

	SampleFormatU8         SampleFormat = "u8"
	SampleFormatS16        SampleFormat = "s16"
	SampleFormatS32        SampleFormat = "s32"
	SampleFormatF32        SampleFormat = "f32"
	SampleFormatU8Planar   SampleFormat = "u8-planar"
	SampleFormatS16Planar  SampleFormat = "s16-planar"
	SampleFormatS32Planar  SampleFormat = "s32-planar"
	SampleFormatF32Planar  SampleFormat = "f32-planar"
)

// Valid reports whether f names a known, open sample format.
func (f SampleFormat) Valid() bool {
	return f.BytesPerSample() != 0
}

// BytesPerSample returns the size of one sample of one channel, or 0 for an
// unknown format.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case SampleFormatU8, SampleFormatU8Planar:
		return 1
	case SampleFormatS16, SampleFormatS16Planar:
		return 2
	case SampleFormatS32, SampleFormatS32Planar, SampleFormatF32, SampleFormatF32Planar:
		return 4
	}
	return 0
}

// Planar reports whether each channel occupies its own plane.
func (f SampleFormat) Planar() bool {
	switch f {
	case SampleFormatU8Planar, SampleFormatS16Planar, SampleFormatS32Planar, SampleFormatF32Planar:
		return true
	}
	return false
}
