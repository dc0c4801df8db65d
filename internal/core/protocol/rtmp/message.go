package rtmp

import (
	"encoding/binary"
	"errors"
	"io"
	"log"
)

// Header is the canonical, reassembled form of an RTMP message header —
// the fields a chunk fmt=0 carries in full and fmt=1/2/3 chunks inherit or
// partially update.
type Header struct {
	CSID        uint32
	Timestamp   uint32
	MsgLen      uint32
	MsgTypeID   byte
	MsgStreamID uint32
}

// Message is a fully reassembled RTMP message: header plus payload.
type Message struct {
	Header Header
	Body   []byte
}

// ParseSetChunkSize parses a Set Chunk Size message body. A zero size
// violates the peer_chunk_size >= 1 invariant and is rejected outright;
// a size above MaxChunkSize is clamped and logged rather than treated as
// a protocol violation, matching the source handler's tolerance of an
// oversized value.
func ParseSetChunkSize(body []byte) (uint32, error) {
	if len(body) < 4 {
		return 0, io.ErrUnexpectedEOF
	}
	size := binary.BigEndian.Uint32(body[0:4])
	if size == 0 {
		return 0, errors.New("rtmp: chunk size must be at least 1")
	}
	if size > MaxChunkSize {
		log.Printf("rtmp: peer set chunk size %d exceeds %d, clamping", size, MaxChunkSize)
		size = MaxChunkSize
	}
	return size, nil
}

// CreateSetChunkSize builds a Set Chunk Size message body.
func CreateSetChunkSize(size uint32) []byte {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, size)
	return body
}

// CreateWindowAckSize builds a Window Acknowledgement Size message body.
func CreateWindowAckSize(size uint32) []byte {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, size)
	return body
}

// CreateSetPeerBandwidth builds a Set Peer Bandwidth message body.
func CreateSetPeerBandwidth(size uint32, limitType byte) []byte {
	body := make([]byte, 5)
	binary.BigEndian.PutUint32(body[0:4], size)
	body[4] = limitType
	return body
}

// CreateStreamBegin builds a User Control "Stream Begin" event body.
func CreateStreamBegin(streamID uint32) []byte {
	body := make([]byte, 6)
	binary.BigEndian.PutUint16(body[0:2], ControlStreamBegin)
	binary.BigEndian.PutUint32(body[2:6], streamID)
	return body
}

// WriteChunk frames body as one or more RTMP chunks under csID and writes
// them to w. Every continuation chunk beyond the first uses fmt=3, per the
// RTMP chunking rule that a single message is never re-split with a fresh
// fmt=0/1/2 header partway through.
func WriteChunk(w io.Writer, csID uint32, msgType byte, timestamp uint32, streamID uint32, body []byte, chunkSize uint32) error {
	bodyLen := uint32(len(body))
	offset := uint32(0)

	for offset == 0 || offset < bodyLen {
		fmtID := byte(ChunkFmt0)
		if offset > 0 {
			fmtID = ChunkFmt3
		}

		if err := writeBasicHeader(w, fmtID, csID); err != nil {
			return err
		}

		if fmtID == ChunkFmt0 {
			ts := timestamp
			if ts >= 0xFFFFFF {
				ts = 0xFFFFFF
			}
			header := make([]byte, 11)
			header[0] = byte(ts >> 16)
			header[1] = byte(ts >> 8)
			header[2] = byte(ts)
			header[3] = byte(bodyLen >> 16)
			header[4] = byte(bodyLen >> 8)
			header[5] = byte(bodyLen)
			header[6] = msgType
			binary.LittleEndian.PutUint32(header[7:11], streamID)
			if _, err := w.Write(header); err != nil {
				return err
			}
		}

		if timestamp >= 0xFFFFFF {
			// A fmt=3 continuation of a message that started with an
			// extended timestamp repeats that same 4-byte field on every
			// chunk, not just the fmt=0 chunk that introduced it.
			if err := binary.Write(w, binary.BigEndian, timestamp); err != nil {
				return err
			}
		}

		chunkLen := chunkSize
		if offset+chunkLen > bodyLen {
			chunkLen = bodyLen - offset
		}
		if _, err := w.Write(body[offset : offset+chunkLen]); err != nil {
			return err
		}
		offset += chunkLen
		if bodyLen == 0 {
			break
		}
	}
	return nil
}

func writeBasicHeader(w io.Writer, fmtID byte, csID uint32) error {
	b0 := fmtID << 6
	switch {
	case csID < 64:
		_, err := w.Write([]byte{b0 | byte(csID)})
		return err
	case csID < 320:
		_, err := w.Write([]byte{b0, byte(csID - 64)})
		return err
	default:
		ext := csID - 64
		_, err := w.Write([]byte{b0 | 1, byte(ext), byte(ext >> 8)})
		return err
	}
}
