package hwaccel

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcceleratorsListsKnownNames(t *testing.T) {
	names := Accelerators()
	assert.Contains(t, names, "videotoolbox")
	assert.Contains(t, names, "cuda")
	assert.Contains(t, names, "vaapi")
	assert.Contains(t, names, "d3d11va")
	assert.Contains(t, names, "qsv")
}

func TestAvailabilityFromBackendProbe(t *testing.T) {
	resetForTesting(func() []string { return []string{"cuda", "qsv"} })
	t.Cleanup(func() { resetForTesting(nil) })

	assert.True(t, IsAvailable("cuda"))
	assert.True(t, IsAvailable("nvenc"), "nvenc is an alias of cuda")
	assert.True(t, IsAvailable("qsv"))
	assert.False(t, IsAvailable("videotoolbox"))
	assert.False(t, IsAvailable("d3d11va"))

	got := Available()
	assert.ElementsMatch(t, []string{"cuda", "qsv"}, got)
}

func TestPreferredFollowsPlatformOrder(t *testing.T) {
	resetForTesting(func() []string { return []string{"cuda", "videotoolbox", "qsv"} })
	t.Cleanup(func() { resetForTesting(nil) })

	want := "cuda"
	if runtime.GOOS == "darwin" {
		want = "videotoolbox"
	}
	assert.Equal(t, want, Preferred())
}

func TestPreferredEmptyWhenNothingAvailable(t *testing.T) {
	resetForTesting(func() []string { return nil })
	t.Cleanup(func() { resetForTesting(nil) })

	assert.Equal(t, "", Preferred())
	assert.Empty(t, Available())
}

func TestFallbackFlagResets(t *testing.T) {
	ResetFallbackForTesting()
	assert.False(t, FallbackOccurred())
}
