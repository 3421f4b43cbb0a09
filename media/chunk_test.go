package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodedVideoChunkRoundTrip(t *testing.T) {
	payload := []byte{0, 0, 0, 1, 0x65, 0x88, 0x84}
	c, err := NewEncodedVideoChunk(&EncodedVideoChunkInit{
		Type: ChunkTypeKey, Timestamp: 33_000, Duration: i64(33_333), Data: payload,
	})
	require.NoError(t, err)

	assert.Equal(t, ChunkTypeKey, c.Type())
	assert.Equal(t, int64(33_000), c.Timestamp())
	assert.Equal(t, len(payload), c.ByteLength())
	d, ok := c.Duration()
	assert.True(t, ok)
	assert.Equal(t, int64(33_333), d)

	dst := make([]byte, c.ByteLength())
	require.NoError(t, c.CopyTo(dst))
	assert.Equal(t, payload, dst)

	// The chunk copied its payload at construction.
	payload[0] = 0xFF
	dst2 := make([]byte, c.ByteLength())
	require.NoError(t, c.CopyTo(dst2))
	assert.Equal(t, byte(0), dst2[0])

	err = c.CopyTo(make([]byte, 2))
	assert.ErrorIs(t, err, ErrType)
}

func TestEncodedChunkValidation(t *testing.T) {
	_, err := NewEncodedVideoChunk(nil)
	assert.ErrorIs(t, err, ErrType)

	_, err = NewEncodedVideoChunk(&EncodedVideoChunkInit{Type: "intra", Data: []byte{1}})
	assert.ErrorIs(t, err, ErrType)

	neg := int64(-5)
	_, err = NewEncodedAudioChunk(&EncodedAudioChunkInit{Type: ChunkTypeDelta, Duration: &neg, Data: []byte{1}})
	assert.ErrorIs(t, err, ErrType)

	c, err := NewEncodedAudioChunk(&EncodedAudioChunkInit{Type: ChunkTypeDelta, Timestamp: -10, Data: []byte{9, 9}})
	require.NoError(t, err, "negative timestamps are legal")
	assert.Equal(t, int64(-10), c.Timestamp())
	assert.Equal(t, 2, c.ByteLength())
	_, ok := c.Duration()
	assert.False(t, ok)
}

func TestVideoColorSpaceClone(t *testing.T) {
	cs := BT709()
	clone := cs.Clone()
	require.NotNil(t, clone.Primaries)
	assert.Equal(t, *cs.Primaries, *clone.Primaries)

	other := PrimariesBT2020
	clone.Primaries = &other
	assert.Equal(t, PrimariesBT709, *cs.Primaries, "clone is independent")

	empty := VideoColorSpace{}
	ec := empty.Clone()
	assert.Nil(t, ec.Primaries)
	assert.Nil(t, ec.Transfer)
	assert.Nil(t, ec.Matrix)
	assert.Nil(t, ec.FullRange)
}
