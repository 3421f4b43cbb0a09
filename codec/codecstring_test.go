package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCodecStringVideo(t *testing.T) {
	d, ok := parseCodecString("avc1.42001E")
	assert.True(t, ok)
	assert.Equal(t, KindVideo, d.Kind)
	assert.Equal(t, "h264", d.Name)
	assert.Equal(t, 0x42, d.Profile)
	assert.Equal(t, 0x1E, d.Level)

	d, ok = parseCodecString("avc1.640028")
	assert.True(t, ok)
	assert.Equal(t, 0x64, d.Profile)
	assert.Equal(t, 0x28, d.Level)

	d, ok = parseCodecString("hvc1.1.6.L93.B0")
	assert.True(t, ok)
	assert.Equal(t, "hevc", d.Name)
	assert.Equal(t, 1, d.Profile)
	assert.Equal(t, 93, d.Level)

	_, ok = parseCodecString("hev1.2.4.L120.B0")
	assert.True(t, ok)

	d, ok = parseCodecString("vp8")
	assert.True(t, ok)
	assert.Equal(t, "vp8", d.Name)

	d, ok = parseCodecString("vp09.00.10.08")
	assert.True(t, ok)
	assert.Equal(t, "vp9", d.Name)
	assert.Equal(t, 0, d.Profile)
	assert.Equal(t, 10, d.Level)
	assert.Equal(t, 8, d.BitDepth)

	d, ok = parseCodecString("av01.0.04M.10")
	assert.True(t, ok)
	assert.Equal(t, "av1", d.Name)
	assert.Equal(t, 0, d.Profile)
	assert.Equal(t, 4, d.Level)
	assert.Equal(t, 10, d.BitDepth)
}

func TestParseCodecStringAudio(t *testing.T) {
	cases := map[string]string{
		"mp4a.40.2":  "aac",
		"mp4a.40.5":  "aac",
		"mp4a.40.29": "aac",
		"mp4a.67":    "aac",
		"opus":       "opus",
		"mp3":        "mp3",
		"flac":       "flac",
		"vorbis":     "vorbis",
		"ulaw":       "pcm_mulaw",
		"alaw":       "pcm_alaw",
		"pcm-u8":     "pcm_u8",
		"pcm-s16":    "pcm_s16le",
		"pcm-s24":    "pcm_s24le",
		"pcm-s32":    "pcm_s32le",
		"pcm-f32":    "pcm_f32le",
	}
	for in, want := range cases {
		d, ok := parseCodecString(in)
		assert.Truef(t, ok, "parse %q", in)
		assert.Equal(t, KindAudio, d.Kind)
		assert.Equalf(t, want, d.Name, "parse %q", in)
	}
}

func TestParseCodecStringUnsupported(t *testing.T) {
	// Whitespace, casing, truncation and future profiles are all
	// well-formed-but-unsupported: never an error, just not ok.
	unsupported := []string{
		"",
		" avc1.42001E",
		"avc1.42001E ",
		"AVC1.42001E",
		"Opus",
		"OPUS",
		"avc1",
		"avc1.42",
		"avc1.42001G",
		"vp09.00.10",
		"vp09.0a.10.08",
		"vp09.00.10.09",
		"av01.3.04M.10",
		"av01.0.04X.10",
		"av01.0.04M.09",
		"mp4a.40.99",
		"mp4a.41.2",
		"mp3 ",
		"video/mp4; codecs=avc1.42001E",
		"theora",
		"h264",
	}
	for _, s := range unsupported {
		_, ok := parseCodecString(s)
		assert.Falsef(t, ok, "expected %q to be unsupported", s)
	}
}
