// Package hwaccel enumerates the hardware accelerators the media backend
// can drive and picks a platform-appropriate preference order. Detection
// runs lazily on first query and is cached for the process lifetime.
package hwaccel

import (
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/richinsley/gowebcodecs/ffmpeg"
)

// Known accelerator names, aliases included.
const (
	VideoToolbox = "videotoolbox"
	CUDA         = "cuda"
	NVENC        = "nvenc" // alias of cuda
	VAAPI        = "vaapi"
	D3D11VA      = "d3d11va"
	QSV          = "qsv"
)

// Accelerators returns the accelerator names this package knows how to ask
// the backend about, in no particular order.
func Accelerators() []string {
	return []string{VideoToolbox, CUDA, VAAPI, D3D11VA, QSV}
}

// canonical folds aliases onto the backend device type name.
func canonical(name string) string {
	if name == NVENC {
		return CUDA
	}
	return name
}

var (
	detectOnce sync.Once
	available  map[string]bool

	// backendTypes is swappable for tests.
	backendTypes = ffmpeg.HWDeviceTypes
)

func detect() {
	detectOnce.Do(func() {
		available = map[string]bool{}
		for _, name := range backendTypes() {
			available[name] = true
		}
		// A vaapi build without a render node cannot actually open a
		// device; treat that as unavailable.
		if available[VAAPI] && !vaapiUsable() {
			available[VAAPI] = false
		}
		log.Debug().Interface("accelerators", available).Msg("hardware accelerator probe")
	})
}

// Available returns the known accelerators the backend was built with and
// that look usable on this machine.
func Available() []string {
	detect()
	var names []string
	for _, name := range Accelerators() {
		if available[name] {
			names = append(names, name)
		}
	}
	return names
}

// IsAvailable reports whether the named accelerator (aliases accepted) is
// usable.
func IsAvailable(name string) bool {
	detect()
	return available[canonical(name)]
}

// Preferred returns the accelerator to try first on this platform, or ""
// when none is available.
func Preferred() string {
	detect()
	var order []string
	switch runtime.GOOS {
	case "darwin":
		order = []string{VideoToolbox}
	case "windows":
		order = []string{CUDA, D3D11VA, QSV}
	default:
		order = []string{CUDA, VAAPI, QSV}
	}
	for _, name := range order {
		if available[name] {
			return name
		}
	}
	return ""
}

// FallbackOccurred reports whether any encoder open in this process fell
// back from a hardware implementation to software.
func FallbackOccurred() bool {
	return ffmpeg.HardwareFallbackOccurred()
}

// ResetFallbackForTesting clears the process-wide fallback flag.
func ResetFallbackForTesting() {
	ffmpeg.ResetHardwareFallback()
}

// resetForTesting clears the detection cache so a test can swap
// backendTypes.
func resetForTesting(types func() []string) {
	detectOnce = sync.Once{}
	available = nil
	if types != nil {
		backendTypes = types
	}
}
