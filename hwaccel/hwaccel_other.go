//go:build !linux

package hwaccel

// vaapiUsable only gates the Linux render-node probe; elsewhere the backend
// report is trusted as is.
func vaapiUsable() bool { return true }
