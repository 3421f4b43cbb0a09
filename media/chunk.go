package media

// ChunkType distinguishes independently decodable chunks from ones that
// depend on prior chunks.
type ChunkType string

const (
	ChunkTypeKey   ChunkType = "key"
	ChunkTypeDelta ChunkType = "delta"
)

func (t ChunkType) valid() bool {
	return t == ChunkTypeKey || t == ChunkTypeDelta
}

// EncodedVideoChunkInit configures construction of an EncodedVideoChunk.
type EncodedVideoChunkInit struct {
	Type      ChunkType
	Timestamp int64
	Duration  *int64
	Data      []byte
}

// EncodedVideoChunk is one immutable compressed video access unit. There is
// no close operation; the payload lives as long as the chunk is referenced.
type EncodedVideoChunk struct {
	chunkType ChunkType
	timestamp int64
	duration  *int64
	data      []byte
}

// NewEncodedVideoChunk copies init.Data into a new chunk.
func NewEncodedVideoChunk(init *EncodedVideoChunkInit) (*EncodedVideoChunk, error) {
	if init == nil {
		return nil, Typef("missing EncodedVideoChunkInit")
	}
	t, ts, dur, data, err := validateChunkInit(init.Type, init.Timestamp, init.Duration, init.Data)
	if err != nil {
		return nil, err
	}
	return &EncodedVideoChunk{chunkType: t, timestamp: ts, duration: dur, data: data}, nil
}

func (c *EncodedVideoChunk) Type() ChunkType { return c.chunkType }
func (c *EncodedVideoChunk) Timestamp() int64 { return c.timestamp }
func (c *EncodedVideoChunk) ByteLength() int { return len(c.data) }

// Duration returns the chunk duration in microseconds and whether one was
// provided.
func (c *EncodedVideoChunk) Duration() (int64, bool) {
	if c.duration == nil {
		return 0, false
	}
	return *c.duration, true
}

// CopyTo copies the payload into dest.
func (c *EncodedVideoChunk) CopyTo(dest []byte) error {
	if len(dest) < len(c.data) {
		return Typef("destination too small: need %d bytes, have %d", len(c.data), len(dest))
	}
	copy(dest, c.data)
	return nil
}

// Bytes exposes the payload read-only for the decode path; callers must not
// mutate it.
func (c *EncodedVideoChunk) Bytes() []byte { return c.data }

// EncodedAudioChunkInit configures construction of an EncodedAudioChunk.
type EncodedAudioChunkInit struct {
	Type      ChunkType
	Timestamp int64
	Duration  *int64
	Data      []byte
}

// EncodedAudioChunk is one immutable compressed audio access unit.
type EncodedAudioChunk struct {
	chunkType ChunkType
	timestamp int64
	duration  *int64
	data      []byte
}

// NewEncodedAudioChunk copies init.Data into a new chunk.
func NewEncodedAudioChunk(init *EncodedAudioChunkInit) (*EncodedAudioChunk, error) {
	if init == nil {
		return nil, Typef("missing EncodedAudioChunkInit")
	}
	t, ts, dur, data, err := validateChunkInit(init.Type, init.Timestamp, init.Duration, init.Data)
	if err != nil {
		return nil, err
	}
	return &EncodedAudioChunk{chunkType: t, timestamp: ts, duration: dur, data: data}, nil
}

func (c *EncodedAudioChunk) Type() ChunkType { return c.chunkType }
func (c *EncodedAudioChunk) Timestamp() int64 { return c.timestamp }
func (c *EncodedAudioChunk) ByteLength() int { return len(c.data) }

func (c *EncodedAudioChunk) Duration() (int64, bool) {
	if c.duration == nil {
		return 0, false
	}
	return *c.duration, true
}

func (c *EncodedAudioChunk) CopyTo(dest []byte) error {
	if len(dest) < len(c.data) {
		return Typef("destination too small: need %d bytes, have %d", len(c.data), len(dest))
	}
	copy(dest, c.data)
	return nil
}

// Bytes exposes the payload read-only for the decode path.
func (c *EncodedAudioChunk) Bytes() []byte { return c.data }

// VideoChunkFromPacket adopts a backend packet as a chunk without another
// copy; the packet data must be private to the caller.
func VideoChunkFromPacket(p *Packet) *EncodedVideoChunk {
	c := &EncodedVideoChunk{chunkType: ChunkTypeDelta, timestamp: p.PTS, data: p.Data}
	if p.Key {
		c.chunkType = ChunkTypeKey
	}
	if p.Duration > 0 {
		d := p.Duration
		c.duration = &d
	}
	return c
}

// AudioChunkFromPacket adopts a backend packet as a chunk without another
// copy.
func AudioChunkFromPacket(p *Packet) *EncodedAudioChunk {
	c := &EncodedAudioChunk{chunkType: ChunkTypeDelta, timestamp: p.PTS, data: p.Data}
	if p.Key {
		c.chunkType = ChunkTypeKey
	}
	if p.Duration > 0 {
		d := p.Duration
		c.duration = &d
	}
	return c
}

func validateChunkInit(t ChunkType, ts int64, dur *int64, data []byte) (ChunkType, int64, *int64, []byte, error) {
	if !t.valid() {
		return "", 0, nil, nil, Typef("chunk type must be %q or %q, got %q",
			ChunkTypeKey, ChunkTypeDelta, string(t))
	}
	if dur != nil && *dur < 0 {
		return "", 0, nil, nil, Typef("duration must be non-negative")
	}
	var duration *int64
	if dur != nil {
		d := *dur
		duration = &d
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return t, ts, duration, buf, nil
}
