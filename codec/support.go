package codec

import (
	"github.com/richinsley/gowebcodecs/ffmpeg"
)

// Support negotiation: each IsConfigSupported validates the config the same
// way Configure does (malformed configs return a type error), then reports
// whether the backend can satisfy it together with the recognised fields
// echoed back. Unrecognised-but-well-formed codec strings report
// supported == false, never an error.

// VideoEncoderSupport is the result of IsVideoEncoderConfigSupported.
type VideoEncoderSupport struct {
	Supported bool
	Config    *VideoEncoderConfig
}

// VideoDecoderSupport is the result of IsVideoDecoderConfigSupported.
type VideoDecoderSupport struct {
	Supported bool
	Config    *VideoDecoderConfig
}

// AudioEncoderSupport is the result of IsAudioEncoderConfigSupported.
type AudioEncoderSupport struct {
	Supported bool
	Config    *AudioEncoderConfig
}

// AudioDecoderSupport is the result of IsAudioDecoderConfigSupported.
type AudioDecoderSupport struct {
	Supported bool
	Config    *AudioDecoderConfig
}

// hasEncoderHook and friends let tests negotiate without a media backend.
var (
	hasEncoderHook = func(codec string, accel ffmpeg.Acceleration) bool {
		return ffmpeg.HasCodecEncoder(codec, accel)
	}
	hasDecoderHook = func(codec string) bool {
		return ffmpeg.HasCodecDecoder(codec)
	}
)

// IsVideoEncoderConfigSupported validates cfg and reports whether a backend
// encoder can satisfy it.
func IsVideoEncoderConfigSupported(cfg *VideoEncoderConfig) (*VideoEncoderSupport, error) {
	if err := validateVideoEncoderConfig(cfg); err != nil {
		return nil, err
	}
	echo := *cfg
	desc, ok := parseCodecString(cfg.Codec)
	if !ok || desc.Kind != KindVideo {
		return &VideoEncoderSupport{Supported: false, Config: &echo}, nil
	}
	if _, ok := parseScalabilityMode(cfg.ScalabilityMode); !ok {
		return &VideoEncoderSupport{Supported: false, Config: &echo}, nil
	}
	supported := hasEncoderHook(desc.Name, ffmpeg.Acceleration(cfg.HardwareAcceleration))
	return &VideoEncoderSupport{Supported: supported, Config: &echo}, nil
}

// IsVideoDecoderConfigSupported validates cfg and reports whether a backend
// decoder can satisfy it.
func IsVideoDecoderConfigSupported(cfg *VideoDecoderConfig) (*VideoDecoderSupport, error) {
	if err := validateVideoDecoderConfig(cfg); err != nil {
		return nil, err
	}
	echo := *cfg
	desc, ok := parseCodecString(cfg.Codec)
	if !ok || desc.Kind != KindVideo {
		return &VideoDecoderSupport{Supported: false, Config: &echo}, nil
	}
	supported := hasDecoderHook(desc.Name)
	return &VideoDecoderSupport{Supported: supported, Config: &echo}, nil
}

// IsAudioEncoderConfigSupported validates cfg and reports whether a backend
// encoder can satisfy it.
func IsAudioEncoderConfigSupported(cfg *AudioEncoderConfig) (*AudioEncoderSupport, error) {
	if err := validateAudioEncoderConfig(cfg); err != nil {
		return nil, err
	}
	echo := *cfg
	desc, ok := parseCodecString(cfg.Codec)
	if !ok || desc.Kind != KindAudio {
		return &AudioEncoderSupport{Supported: false, Config: &echo}, nil
	}
	supported := hasEncoderHook(desc.Name, ffmpeg.AccelNoPreference)
	return &AudioEncoderSupport{Supported: supported, Config: &echo}, nil
}

// IsAudioDecoderConfigSupported validates cfg and reports whether a backend
// decoder can satisfy it.
func IsAudioDecoderConfigSupported(cfg *AudioDecoderConfig) (*AudioDecoderSupport, error) {
	if err := validateAudioDecoderConfig(cfg); err != nil {
		return nil, err
	}
	echo := *cfg
	desc, ok := parseCodecString(cfg.Codec)
	if !ok || desc.Kind != KindAudio {
		return &AudioDecoderSupport{Supported: false, Config: &echo}, nil
	}
	supported := hasDecoderHook(desc.Name)
	return &AudioDecoderSupport{Supported: supported, Config: &echo}, nil
}
