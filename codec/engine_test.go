package codec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinsley/gowebcodecs/ffmpeg"
	"github.com/richinsley/gowebcodecs/media"
)

// fakeVideoEnc is a stub backend: one packet per frame, keyframes on
// request and on the first frame, plus a fixed number of packets on flush.
type fakeVideoEnc struct {
	mu         sync.Mutex
	encoded    int
	closed     bool
	flushExtra int
	failEncode error
}

func (f *fakeVideoEnc) Encode(pic *media.RawPicture, forceKey bool) ([]*media.Packet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEncode != nil {
		return nil, f.failEncode
	}
	f.encoded++
	return []*media.Packet{{
		Data: []byte{0, 0, 0, 1, 0x65, byte(f.encoded)},
		PTS:  pic.PTS,
		Key:  forceKey || f.encoded == 1,
	}}, nil
}

func (f *fakeVideoEnc) Flush() ([]*media.Packet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pkts []*media.Packet
	for i := 0; i < f.flushExtra; i++ {
		pkts = append(pkts, &media.Packet{Data: []byte{0, 0, 0, 1, 0x41, byte(i)}, PTS: int64(1000 + i)})
	}
	f.flushExtra = 0
	return pkts, nil
}

func (f *fakeVideoEnc) ExtraData() []byte { return nil }
func (f *fakeVideoEnc) Name() string      { return "fake" }
func (f *fakeVideoEnc) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// stubVideoEncoderBackend reroutes backend opens and support probes for the
// duration of one test.
func stubVideoEncoderBackend(t *testing.T, open func(*ffmpeg.VideoEncoderParams) (videoEncBackend, error)) {
	t.Helper()
	prevOpen := openVideoEncBackend
	prevHas := hasEncoderHook
	openVideoEncBackend = open
	hasEncoderHook = func(string, ffmpeg.Acceleration) bool { return true }
	t.Cleanup(func() {
		openVideoEncBackend = prevOpen
		hasEncoderHook = prevHas
	})
}

func testFrame(t *testing.T, ts int64) *media.VideoFrame {
	t.Helper()
	buf := make([]byte, 4*2*4)
	f, err := media.NewVideoFrame(buf, &media.VideoFrameInit{
		Format: media.FormatRGBX, CodedWidth: 4, CodedHeight: 2, Timestamp: ts,
	})
	require.NoError(t, err)
	return f
}

func newTestEncoder(t *testing.T, fake *fakeVideoEnc) (*VideoEncoder, *[]*media.EncodedVideoChunk, *[]*VideoEncoderOutputMetadata, chan error) {
	t.Helper()
	stubVideoEncoderBackend(t, func(*ffmpeg.VideoEncoderParams) (videoEncBackend, error) {
		return fake, nil
	})

	var mu sync.Mutex
	chunks := &[]*media.EncodedVideoChunk{}
	metas := &[]*VideoEncoderOutputMetadata{}
	errCh := make(chan error, 4)
	enc, err := NewVideoEncoder(&VideoEncoderInit{
		Output: func(c *media.EncodedVideoChunk, m *VideoEncoderOutputMetadata) {
			mu.Lock()
			*chunks = append(*chunks, c)
			*metas = append(*metas, m)
			mu.Unlock()
		},
		Error: func(err error) { errCh <- err },
	})
	require.NoError(t, err)
	return enc, chunks, metas, errCh
}

func validEncCfg() *VideoEncoderConfig {
	return &VideoEncoderConfig{
		Codec: "avc1.42001E", Width: 320, Height: 240, Bitrate: 1_000_000,
		AVC: &AvcEncoderConfig{Format: "annexb"},
	}
}

func TestEncoderConfigureValidation(t *testing.T) {
	enc, _, _, _ := newTestEncoder(t, &fakeVideoEnc{})
	defer enc.Close()

	assert.ErrorIs(t, enc.Configure(nil), media.ErrType)
	assert.ErrorIs(t, enc.Configure(&VideoEncoderConfig{Width: 320, Height: 240}), media.ErrType)
	assert.ErrorIs(t, enc.Configure(&VideoEncoderConfig{Codec: "vp8", Width: 0, Height: 240}), media.ErrType)
	assert.ErrorIs(t, enc.Configure(&VideoEncoderConfig{
		Codec: "vp8", Width: 320, Height: 240, LatencyMode: "superfast",
	}), media.ErrType)
	assert.ErrorIs(t, enc.Configure(&VideoEncoderConfig{
		Codec: "vp8", Width: 320, Height: 240, AVC: &AvcEncoderConfig{Format: "mp4"},
	}), media.ErrType)

	// Malformed configs leave the engine usable.
	assert.Equal(t, StateUnconfigured, enc.State())
	require.NoError(t, enc.Configure(validEncCfg()))
	assert.Equal(t, StateConfigured, enc.State())
}

func TestEncoderUnsupportedCodecClosesAsync(t *testing.T) {
	enc, _, _, errCh := newTestEncoder(t, &fakeVideoEnc{})

	// Well-formed but unrecognized codec string: no synchronous error.
	require.NoError(t, enc.Configure(&VideoEncoderConfig{
		Codec: "av99.superfuture", Width: 320, Height: 240,
	}))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, media.ErrNotSupported)
	case <-time.After(2 * time.Second):
		t.Fatal("error callback never fired")
	}
	assert.Eventually(t, func() bool { return enc.State() == StateClosed },
		2*time.Second, 10*time.Millisecond)

	// The engine is dead; a second close reports invalid state.
	assert.ErrorIs(t, enc.Close(), media.ErrInvalidState)
}

func TestEncodeRequiresConfiguredState(t *testing.T) {
	enc, _, _, _ := newTestEncoder(t, &fakeVideoEnc{})
	defer enc.Close()

	f := testFrame(t, 0)
	defer f.Close()
	assert.ErrorIs(t, enc.Encode(f, nil), media.ErrInvalidState)
}

func TestEncodeRejectsClosedFrame(t *testing.T) {
	enc, _, _, _ := newTestEncoder(t, &fakeVideoEnc{})
	defer enc.Close()
	require.NoError(t, enc.Configure(validEncCfg()))

	f := testFrame(t, 0)
	f.Close()
	assert.ErrorIs(t, enc.Encode(f, nil), media.ErrType)
}

func TestEncoderDequeueOrderingScenario(t *testing.T) {
	// Three encodes without awaiting; after flush the
	// dequeue handler has run at least three times and the queue is empty.
	enc, chunks, _, _ := newTestEncoder(t, &fakeVideoEnc{})
	defer enc.Close()
	require.NoError(t, enc.Configure(validEncCfg()))

	var dequeues atomic.Int32
	enc.SetOnDequeue(func() { dequeues.Add(1) })

	for i := 0; i < 3; i++ {
		f := testFrame(t, int64(i)*33_333)
		require.NoError(t, enc.Encode(f, nil))
		f.Close()
	}
	require.NoError(t, enc.Flush(context.Background()))

	assert.GreaterOrEqual(t, dequeues.Load(), int32(3))
	assert.Equal(t, 0, enc.EncodeQueueSize())
	assert.Len(t, *chunks, 3)
}

func TestEncoderOutputOrderAndMetadata(t *testing.T) {
	enc, chunks, metas, _ := newTestEncoder(t, &fakeVideoEnc{})
	defer enc.Close()
	require.NoError(t, enc.Configure(validEncCfg()))

	for i := 0; i < 3; i++ {
		f := testFrame(t, int64(i)*1000)
		require.NoError(t, enc.Encode(f, &VideoEncoderEncodeOptions{KeyFrame: i == 0}))
		f.Close()
	}
	require.NoError(t, enc.Flush(context.Background()))

	require.Len(t, *chunks, 3)
	assert.Equal(t, media.ChunkTypeKey, (*chunks)[0].Type())
	for i, c := range *chunks {
		assert.Equal(t, int64(i)*1000, c.Timestamp(), "production order preserved")
	}

	// Only the first chunk after configure carries a decoder config.
	require.Len(t, *metas, 3)
	require.NotNil(t, (*metas)[0].DecoderConfig)
	assert.Equal(t, "avc1.42001E", (*metas)[0].DecoderConfig.Codec)
	assert.GreaterOrEqual(t, (*metas)[0].DecoderConfig.CodedWidth, 320)
	assert.Nil(t, (*metas)[1].DecoderConfig)
	assert.Nil(t, (*metas)[2].DecoderConfig)

	// Reconfigure re-arms the header.
	require.NoError(t, enc.Configure(validEncCfg()))
	f := testFrame(t, 99)
	require.NoError(t, enc.Encode(f, nil))
	f.Close()
	require.NoError(t, enc.Flush(context.Background()))
	require.Len(t, *metas, 4)
	assert.NotNil(t, (*metas)[3].DecoderConfig)
}

func TestResetAbortsFlush(t *testing.T) {
	// A flush sitting behind a slow encode rejects with ErrAborted when a
	// reset lands first.
	blocker := make(chan struct{})
	released := false
	release := func() {
		if !released {
			released = true
			close(blocker)
		}
	}
	slow := &slowVideoEnc{release: blocker, started: make(chan struct{}, 1)}
	enc, _, _, _ := newTestEncoder(t, slow)
	defer func() {
		release()
		enc.Close()
	}()
	require.NoError(t, enc.Configure(validEncCfg()))

	f := testFrame(t, 0)
	require.NoError(t, enc.Encode(f, nil))
	f.Close()

	flushErr := make(chan error, 1)
	go func() { flushErr <- enc.Flush(context.Background()) }()

	// Let the worker sink into the slow encode, then reset.
	<-slow.started
	require.NoError(t, enc.Reset())

	select {
	case err := <-flushErr:
		assert.ErrorIs(t, err, media.ErrAborted)
	case <-time.After(2 * time.Second):
		t.Fatal("flush never resolved")
	}
	assert.Equal(t, StateUnconfigured, enc.State())
	assert.Equal(t, 0, enc.EncodeQueueSize())

	// Unblock the worker, then reconfigure + encode works again after the
	// reset.
	release()
	require.NoError(t, enc.Configure(validEncCfg()))
	f2 := testFrame(t, 1)
	require.NoError(t, enc.Encode(f2, nil))
	f2.Close()
	require.NoError(t, enc.Flush(context.Background()))
}

// slowVideoEnc blocks inside Encode until released, to let tests interleave
// control calls with a busy worker.
type slowVideoEnc struct {
	fakeVideoEnc
	started chan struct{}
	release chan struct{}
}

func (s *slowVideoEnc) Encode(pic *media.RawPicture, forceKey bool) ([]*media.Packet, error) {
	if s.started != nil {
		select {
		case s.started <- struct{}{}:
		default:
		}
	}
	<-s.release
	return s.fakeVideoEnc.Encode(pic, forceKey)
}

func TestCloseSemantics(t *testing.T) {
	fake := &fakeVideoEnc{}
	enc, _, _, _ := newTestEncoder(t, fake)
	require.NoError(t, enc.Configure(validEncCfg()))
	require.NoError(t, enc.Close())

	assert.Equal(t, StateClosed, enc.State())
	assert.ErrorIs(t, enc.Close(), media.ErrInvalidState)
	assert.ErrorIs(t, enc.Reset(), media.ErrInvalidState)
	assert.ErrorIs(t, enc.Configure(validEncCfg()), media.ErrInvalidState)
	f := testFrame(t, 0)
	defer f.Close()
	assert.ErrorIs(t, enc.Encode(f, nil), media.ErrInvalidState)
	assert.ErrorIs(t, enc.Flush(context.Background()), media.ErrInvalidState)

	assert.Eventually(t, func() bool {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		return fake.closed
	}, 2*time.Second, 10*time.Millisecond, "backend released on close")
}

func TestBackendErrorClosesEngineOnce(t *testing.T) {
	fake := &fakeVideoEnc{failEncode: fmt.Errorf("bitstream corrupted")}
	enc, _, _, errCh := newTestEncoder(t, fake)
	require.NoError(t, enc.Configure(validEncCfg()))

	f := testFrame(t, 0)
	require.NoError(t, enc.Encode(f, nil))
	f.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, media.ErrEncoding)
	case <-time.After(2 * time.Second):
		t.Fatal("error callback never fired")
	}
	assert.Eventually(t, func() bool { return enc.State() == StateClosed },
		2*time.Second, 10*time.Millisecond)

	// No second callback arrives.
	select {
	case err := <-errCh:
		t.Fatalf("error callback fired twice: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFlushResolvesAfterOutputs(t *testing.T) {
	fake := &fakeVideoEnc{flushExtra: 2}
	enc, chunks, _, _ := newTestEncoder(t, fake)
	defer enc.Close()
	require.NoError(t, enc.Configure(validEncCfg()))

	f := testFrame(t, 0)
	require.NoError(t, enc.Encode(f, nil))
	f.Close()
	require.NoError(t, enc.Flush(context.Background()))

	// Residual packets emitted during the drain were delivered before the
	// flush resolved.
	assert.Len(t, *chunks, 3)
	assert.Equal(t, 0, enc.EncodeQueueSize())
}

func TestFlushContextCancellation(t *testing.T) {
	blocker := make(chan struct{})
	slow := &slowVideoEnc{release: blocker}
	enc, _, _, _ := newTestEncoder(t, slow)
	defer func() {
		close(blocker)
		enc.Close()
	}()
	require.NoError(t, enc.Configure(validEncCfg()))

	f := testFrame(t, 0)
	require.NoError(t, enc.Encode(f, nil))
	f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := enc.Flush(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
