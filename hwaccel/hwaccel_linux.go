//go:build linux

package hwaccel

import "golang.org/x/sys/unix"

// vaapiUsable checks for an accessible DRM render node; without one the
// vaapi device type exists in the backend but cannot open.
func vaapiUsable() bool {
	for _, node := range []string{"/dev/dri/renderD128", "/dev/dri/renderD129"} {
		if unix.Access(node, unix.R_OK|unix.W_OK) == nil {
			return true
		}
	}
	return false
}
