package rtmp

// maxChunkStreamID bounds the chunk stream ID space. The 2-byte extended
// form (csID == 1 in the basic header) can address up to 65599
// (64 + 0xFFFF); anything above that cannot come from a conforming peer.
const maxChunkStreamID = 65599

// maxDistinctChunkStreams caps how many chunk stream IDs a single session
// will track. A conforming publisher uses a handful (control, command,
// audio, video); an unbounded table is an easy way for a hostile peer to
// force unbounded memory growth.
const maxDistinctChunkStreams = 16

// ChunkStream holds the per-CSID reassembly state the chunk format
// requires: the most recently decoded header (used verbatim by fmt=2/3
// chunks that omit all or part of it) and the in-progress payload.
type ChunkStream struct {
	header  Header
	tsField uint32 // raw 3-byte timestamp/delta field last decoded, pre-extension
	partial []byte
}

// ChunkStreamTable tracks reassembly state for every chunk stream ID seen
// on a session, created lazily the first time a CSID appears.
type ChunkStreamTable struct {
	streams map[uint32]*ChunkStream
	maxLive int
}

func newChunkStreamTable() *ChunkStreamTable {
	return newChunkStreamTableWithLimit(maxDistinctChunkStreams)
}

func newChunkStreamTableWithLimit(maxLive int) *ChunkStreamTable {
	if maxLive <= 0 {
		maxLive = maxDistinctChunkStreams
	}
	return &ChunkStreamTable{streams: make(map[uint32]*ChunkStream), maxLive: maxLive}
}

func (t *ChunkStreamTable) getOrCreate(csid uint32) (*ChunkStream, error) {
	if csid > maxChunkStreamID {
		return nil, newProtocolViolation("chunk stream id %d exceeds maximum: %w", csid, ErrInvalidChunkHeader)
	}
	cs, ok := t.streams[csid]
	if ok {
		return cs, nil
	}
	if len(t.streams) >= t.maxLive {
		return nil, newProtocolViolation("session exceeds %d distinct chunk streams: %w", t.maxLive, ErrTooManyStreams)
	}
	cs = &ChunkStream{header: Header{CSID: csid}}
	t.streams[csid] = cs
	return cs, nil
}

func (t *ChunkStreamTable) get(csid uint32) *ChunkStream {
	return t.streams[csid]
}
