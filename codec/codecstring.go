package codec

import (
	"strconv"
	"strings"
)

// MediaKind separates video from audio codec strings.
type MediaKind int

const (
	KindVideo MediaKind = iota
	KindAudio
)

// codecDesc is a parsed WebCodecs codec string: the backend codec name plus
// whatever profile/level information the string carried. Profile and Level
// are -1 when the string does not encode them.
type codecDesc struct {
	Kind    MediaKind
	Name    string // backend codec name: "h264", "opus", "pcm_s16le", ...
	Profile int
	Level   int
	// BitDepth is only meaningful for av01/vp09 strings.
	BitDepth int
	Raw      string
}

// parseCodecString recognises the registry grammar exactly: no whitespace
// trimming, no case folding. Anything else is well-formed but unsupported
// and reports ok == false, never an error.
func parseCodecString(s string) (codecDesc, bool) {
	d := codecDesc{Profile: -1, Level: -1, Raw: s}
	switch {
	case strings.HasPrefix(s, "avc1."), strings.HasPrefix(s, "avc3."):
		return parseAVC(s)
	case strings.HasPrefix(s, "hvc1."), strings.HasPrefix(s, "hev1."):
		return parseHEVC(s)
	case s == "vp8":
		d.Kind = KindVideo
		d.Name = "vp8"
		return d, true
	case strings.HasPrefix(s, "vp09."):
		return parseVP9(s)
	case strings.HasPrefix(s, "av01."):
		return parseAV1(s)
	case strings.HasPrefix(s, "mp4a."):
		return parseMP4A(s)
	case s == "opus":
		d.Kind = KindAudio
		d.Name = "opus"
		return d, true
	case s == "mp3":
		d.Kind = KindAudio
		d.Name = "mp3"
		return d, true
	case s == "flac":
		d.Kind = KindAudio
		d.Name = "flac"
		return d, true
	case s == "vorbis":
		d.Kind = KindAudio
		d.Name = "vorbis"
		return d, true
	case s == "ulaw":
		d.Kind = KindAudio
		d.Name = "pcm_mulaw"
		return d, true
	case s == "alaw":
		d.Kind = KindAudio
		d.Name = "pcm_alaw"
		return d, true
	case s == "pcm-u8":
		d.Kind = KindAudio
		d.Name = "pcm_u8"
		return d, true
	case s == "pcm-s16":
		d.Kind = KindAudio
		d.Name = "pcm_s16le"
		return d, true
	case s == "pcm-s24":
		d.Kind = KindAudio
		d.Name = "pcm_s24le"
		return d, true
	case s == "pcm-s32":
		d.Kind = KindAudio
		d.Name = "pcm_s32le"
		return d, true
	case s == "pcm-f32":
		d.Kind = KindAudio
		d.Name = "pcm_f32le"
		return d, true
	}
	return d, false
}

func isHex(s string) bool {
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return len(s) > 0
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

// parseAVC handles avc1.PPCCLL: three hex bytes for profile_idc,
// constraint flags and level_idc.
func parseAVC(s string) (codecDesc, bool) {
	d := codecDesc{Kind: KindVideo, Name: "h264", Profile: -1, Level: -1, Raw: s}
	rest := s[5:]
	if len(rest) != 6 || !isHex(rest) {
		return d, false
	}
	profile, err1 := strconv.ParseUint(rest[0:2], 16, 8)
	level, err2 := strconv.ParseUint(rest[4:6], 16, 8)
	if err1 != nil || err2 != nil {
		return d, false
	}
	d.Profile = int(profile)
	d.Level = int(level)
	return d, true
}

// parseHEVC handles hvc1/hev1 per ISO 14496-15 E.3, e.g. "hvc1.1.6.L93.B0".
// The general profile and level are extracted; the remaining constraint
// bytes are validated for shape only.
func parseHEVC(s string) (codecDesc, bool) {
	d := codecDesc{Kind: KindVideo, Name: "hevc", Profile: -1, Level: -1, Raw: s}
	parts := strings.Split(s[5:], ".")
	if len(parts) < 3 {
		return d, false
	}
	// general_profile_space (empty, A, B or C) + general_profile_idc.
	p := parts[0]
	if len(p) > 0 && (p[0] == 'A' || p[0] == 'B' || p[0] == 'C') {
		p = p[1:]
	}
	if !isDigits(p) {
		return d, false
	}
	profile, _ := strconv.Atoi(p)

	// parts[1] is the 32-bit compatibility flags in hex.
	if !isHex(parts[1]) || len(parts[1]) > 8 {
		return d, false
	}

	// general_tier_flag + general_level_idc, e.g. "L93" or "H120".
	lv := parts[2]
	if len(lv) < 2 || (lv[0] != 'L' && lv[0] != 'H') || !isDigits(lv[1:]) {
		return d, false
	}
	level, _ := strconv.Atoi(lv[1:])

	// Up to six constraint bytes follow, each one or two hex digits.
	if len(parts) > 9 {
		return d, false
	}
	for _, c := range parts[3:] {
		if len(c) > 2 || !isHex(c) {
			return d, false
		}
	}

	d.Profile = profile
	d.Level = level
	return d, true
}

// parseVP9 handles vp09.PP.LL.DD with two digits per field.
func parseVP9(s string) (codecDesc, bool) {
	d := codecDesc{Kind: KindVideo, Name: "vp9", Profile: -1, Level: -1, Raw: s}
	parts := strings.Split(s[5:], ".")
	if len(parts) < 3 {
		return d, false
	}
	for _, p := range parts[:3] {
		if len(p) != 2 || !isDigits(p) {
			return d, false
		}
	}
	d.Profile, _ = strconv.Atoi(parts[0])
	d.Level, _ = strconv.Atoi(parts[1])
	d.BitDepth, _ = strconv.Atoi(parts[2])
	if d.Profile > 3 {
		return d, false
	}
	switch d.BitDepth {
	case 8, 10, 12:
	default:
		return d, false
	}
	return d, true
}

// parseAV1 handles av01.P.LLM.BB: single digit profile, two-digit level plus
// tier letter, two-digit bit depth, optionally followed by the extended
// colour fields.
func parseAV1(s string) (codecDesc, bool) {
	d := codecDesc{Kind: KindVideo, Name: "av1", Profile: -1, Level: -1, Raw: s}
	parts := strings.Split(s[5:], ".")
	if len(parts) < 3 {
		return d, false
	}
	if len(parts[0]) != 1 || !isDigits(parts[0]) {
		return d, false
	}
	d.Profile, _ = strconv.Atoi(parts[0])
	if d.Profile > 2 {
		return d, false
	}

	lv := parts[1]
	if len(lv) != 3 || !isDigits(lv[:2]) || (lv[2] != 'M' && lv[2] != 'H') {
		return d, false
	}
	d.Level, _ = strconv.Atoi(lv[:2])

	if len(parts[2]) != 2 || !isDigits(parts[2]) {
		return d, false
	}
	d.BitDepth, _ = strconv.Atoi(parts[2])
	switch d.BitDepth {
	case 8, 10, 12:
	default:
		return d, false
	}
	return d, true
}

// parseMP4A handles mp4a.40.N (AAC object types) plus the bare mp4a.67
// alias for AAC-LC.
func parseMP4A(s string) (codecDesc, bool) {
	d := codecDesc{Kind: KindAudio, Name: "aac", Profile: -1, Level: -1, Raw: s}
	rest := s[5:]
	if rest == "67" {
		d.Profile = 2
		return d, true
	}
	parts := strings.Split(rest, ".")
	if len(parts) != 2 || parts[0] != "40" || !isDigits(parts[1]) {
		return d, false
	}
	objectType, _ := strconv.Atoi(parts[1])
	switch objectType {
	case 2, 5, 29:
		d.Profile = objectType
		return d, true
	}
	return d, false
}
