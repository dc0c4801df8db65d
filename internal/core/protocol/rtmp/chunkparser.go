package rtmp

import "encoding/binary"

const extendedTimestampMarker = 0xFFFFFF

func msgHeaderLenForFmt(fmtID byte) int {
	switch fmtID {
	case ChunkFmt0:
		return 11
	case ChunkFmt1:
		return 7
	case ChunkFmt2:
		return 3
	default:
		return 0
	}
}

func readUint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// ChunkParser turns the bytes accumulated in a ByteBuffer into complete
// RTMP messages, one basic-header-plus-payload chunk at a time. It never
// consumes a byte it hasn't fully decoded: a header or payload step that
// finds too little data leaves the buffer untouched and reports
// needMore=true, so resuming after the next Fill restarts the same step
// from the same bytes rather than losing partial progress.
type ChunkParser struct {
	streams       *ChunkStreamTable
	peerChunkSize uint32
	curCSID       uint32
	headerDone    bool
}

func newChunkParser() *ChunkParser {
	return newChunkParserWithLimit(maxDistinctChunkStreams)
}

func newChunkParserWithLimit(maxChunkStreams int) *ChunkParser {
	return &ChunkParser{
		streams:       newChunkStreamTableWithLimit(maxChunkStreams),
		peerChunkSize: DefaultChunkSize,
	}
}

// Next advances parsing by exactly one step (a header or a payload slice).
// It returns a complete Message once one has been fully reassembled, or
// needMore=true when buf does not yet hold enough bytes for the current
// step.
func (p *ChunkParser) Next(buf *ByteBuffer) (msg *Message, needMore bool, err error) {
	if !p.headerDone {
		needMore, err = p.parseHeader(buf)
		if err != nil || needMore {
			return nil, needMore, err
		}
	}
	return p.consumePayload(buf)
}

func (p *ChunkParser) parseHeader(buf *ByteBuffer) (needMore bool, err error) {
	data := buf.ReadPos()
	if len(data) < 1 {
		return true, nil
	}

	first := data[0]
	fmtID := (first >> 6) & 0x03
	csidHint := first & 0x3F

	var basicLen int
	var csid uint32
	switch csidHint {
	case 0:
		basicLen = 2
		if len(data) < basicLen {
			return true, nil
		}
		csid = 64 + uint32(data[1])
	case 1:
		basicLen = 3
		if len(data) < basicLen {
			return true, nil
		}
		csid = 64 + uint32(data[1]) + uint32(data[2])*256
	default:
		basicLen = 1
		csid = uint32(csidHint)
	}

	msgHeaderLen := msgHeaderLenForFmt(fmtID)
	need := basicLen + msgHeaderLen
	if len(data) < need {
		return true, nil
	}

	cs, err := p.streams.getOrCreate(csid)
	if err != nil {
		return false, err
	}

	mh := data[basicLen:need]
	var tsField uint32
	switch fmtID {
	case ChunkFmt0:
		tsField = readUint24(mh[0:3])
		cs.header.MsgLen = readUint24(mh[3:6])
		cs.header.MsgTypeID = mh[6]
		cs.header.MsgStreamID = binary.LittleEndian.Uint32(mh[7:11])
	case ChunkFmt1:
		tsField = readUint24(mh[0:3])
		cs.header.MsgLen = readUint24(mh[3:6])
		cs.header.MsgTypeID = mh[6]
	case ChunkFmt2:
		tsField = readUint24(mh[0:3])
	case ChunkFmt3:
		tsField = cs.tsField
	}

	extPresent := tsField == extendedTimestampMarker

	total := need
	if extPresent {
		total += 4
	}
	if len(data) < total {
		return true, nil
	}

	var extVal uint32
	if extPresent {
		extVal = binary.BigEndian.Uint32(data[need:total])
	}

	switch fmtID {
	case ChunkFmt0:
		if extPresent {
			cs.header.Timestamp = extVal
		} else {
			cs.header.Timestamp = tsField
		}
		cs.tsField = tsField
	case ChunkFmt1, ChunkFmt2:
		if extPresent {
			cs.header.Timestamp += extVal
		} else {
			cs.header.Timestamp += tsField
		}
		cs.tsField = tsField
	case ChunkFmt3:
		// Inherited: neither the field nor the running timestamp changes,
		// even when an extended timestamp accompanies the fmt=3 chunk.
	}

	buf.Erase(total)
	p.curCSID = csid
	p.headerDone = true
	cs.header.CSID = csid
	return false, nil
}

func (p *ChunkParser) consumePayload(buf *ByteBuffer) (msg *Message, needMore bool, err error) {
	cs := p.streams.get(p.curCSID)
	remaining := cs.header.MsgLen - uint32(len(cs.partial))
	needed := p.peerChunkSize
	if remaining < needed {
		needed = remaining
	}

	if uint32(buf.ReadableSize()) < needed {
		return nil, true, nil
	}

	if needed > 0 {
		cs.partial = append(cs.partial, buf.ReadPos()[:needed]...)
		buf.Erase(int(needed))
	}
	p.headerDone = false

	if uint32(len(cs.partial)) < cs.header.MsgLen {
		return nil, false, nil
	}

	body := cs.partial
	if body == nil {
		body = []byte{}
	}
	cs.partial = nil
	return &Message{Header: cs.header, Body: body}, false, nil
}

// SetPeerChunkSize applies a Set Chunk Size message from the peer.
func (p *ChunkParser) SetPeerChunkSize(size uint32) {
	p.peerChunkSize = size
}
