package ffmpeg

import "runtime"

// Acceleration mirrors the WebCodecs hardwareAcceleration preference.
type Acceleration string

const (
	AccelNoPreference   Acceleration = "no-preference"
	AccelPreferHardware Acceleration = "prefer-hardware"
	AccelPreferSoftware Acceleration = "prefer-software"
)

// ValidAcceleration reports whether a is a recognised preference; the empty
// string means no-preference.
func ValidAcceleration(a Acceleration) bool {
	switch a {
	case "", AccelNoPreference, AccelPreferHardware, AccelPreferSoftware:
		return true
	}
	return false
}

// hardwareEncoders lists hardware encoder implementation names for a codec
// in platform preference order.
func hardwareEncoders(codec string) []string {
	switch codec {
	case "h264":
		switch runtime.GOOS {
		case "darwin":
			return []string{"h264_videotoolbox"}
		case "windows":
			return []string{"h264_nvenc", "h264_amf", "h264_qsv"}
		default:
			return []string{"h264_nvenc", "h264_vaapi", "h264_qsv"}
		}
	case "hevc":
		switch runtime.GOOS {
		case "darwin":
			return []string{"hevc_videotoolbox"}
		case "windows":
			return []string{"hevc_nvenc", "hevc_amf", "hevc_qsv"}
		default:
			return []string{"hevc_nvenc", "hevc_vaapi", "hevc_qsv"}
		}
	case "av1":
		return []string{"av1_nvenc", "av1_qsv"}
	}
	return nil
}

// softwareEncoders lists software encoder implementation names for a codec.
func softwareEncoders(codec string) []string {
	switch codec {
	case "h264":
		return []string{"libx264", "libopenh264"}
	case "hevc":
		return []string{"libx265"}
	case "vp8":
		return []string{"libvpx"}
	case "vp9":
		return []string{"libvpx-vp9"}
	case "av1":
		return []string{"libsvtav1", "libaom-av1"}
	case "aac":
		return []string{"aac"}
	case "opus":
		return []string{"libopus", "opus"}
	case "mp3":
		return []string{"libmp3lame"}
	case "flac":
		return []string{"flac"}
	case "vorbis":
		return []string{"libvorbis"}
	default:
		// PCM family and anything else whose encoder shares the codec name.
		return []string{codec}
	}
}

// encoderCandidates walks the preference order for a codec the way the
// shipping hardware list is probed: hardware first unless the caller asked
// for software, with the software fallback always appended (prefer-hardware
// included).
func encoderCandidates(codec string, accel Acceleration) []string {
	hw := hardwareEncoders(codec)
	sw := softwareEncoders(codec)
	switch accel {
	case AccelPreferSoftware:
		return sw
	case AccelPreferHardware:
		return append(hw, sw...)
	default:
		return append(hw, sw...)
	}
}

// decoderNames lists decoder implementation names for a codec. Decoding
// stays on software implementations; hardware decode surfaces would need a
// frame-download path the engines do not use.
func decoderNames(codec string) []string {
	switch codec {
	case "vp8":
		return []string{"libvpx", "vp8"}
	case "vp9":
		return []string{"libvpx-vp9", "vp9"}
	case "av1":
		return []string{"libdav1d", "libaom-av1", "av1"}
	case "opus":
		return []string{"libopus", "opus"}
	default:
		return []string{codec}
	}
}

// HasCodecEncoder reports whether any implementation in the preference
// order for codec is available.
func HasCodecEncoder(codec string, accel Acceleration) bool {
	for _, name := range encoderCandidates(codec, accel) {
		if HasEncoder(name) {
			return true
		}
	}
	return false
}

// HasCodecDecoder reports whether any decoder implementation for codec is
// available.
func HasCodecDecoder(codec string) bool {
	for _, name := range decoderNames(codec) {
		if HasDecoder(name) {
			return true
		}
	}
	return false
}
