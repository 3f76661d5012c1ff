package rpcruntime

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frame format, adapted from mini-RPC's protocol.Header (protocol/protocol.go):
// a fixed magic+version+msgType+seq+bodyLen header followed by the
// body, still solving the sticky-packet problem over a streamed connection.
// The only change from the teacher's layout is dropping the connection-wide
// codec-type byte in favor of a per-Runtime Formatter (descriptor.Formatter
// already pins the wire format for the whole service, so repeating it per
// frame is redundant).
const (
	magic0     byte = 0x62 // 'b'
	magic1     byte = 0x72 // 'r'
	magic2     byte = 0x6b // 'k'
	version    byte = 0x01
	headerSize int  = 3 + 1 + 1 + 4 + 4 // magic + version + msgType + seq + bodyLen
)

type msgType byte

const (
	msgRequest   msgType = 0
	msgResponse  msgType = 1
	msgHeartbeat msgType = 2
)

type frameHeader struct {
	MsgType msgType
	Seq     uint32
	BodyLen uint32
}

func encodeFrame(w io.Writer, h frameHeader, body []byte) error {
	buf := make([]byte, headerSize)
	buf[0], buf[1], buf[2] = magic0, magic1, magic2
	buf[3] = version
	buf[4] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[5:9], h.Seq)
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(body)))
	if _, err := w.Write(buf); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	return nil
}

func decodeFrame(r io.Reader) (frameHeader, []byte, error) {
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return frameHeader{}, nil, err
	}
	if buf[0] != magic0 || buf[1] != magic1 || buf[2] != magic2 {
		return frameHeader{}, nil, fmt.Errorf("rpcruntime: bad frame magic %x", buf[0:3])
	}
	if buf[3] != version {
		return frameHeader{}, nil, fmt.Errorf("rpcruntime: unsupported frame version %d", buf[3])
	}
	h := frameHeader{
		MsgType: msgType(buf[4]),
		Seq:     binary.BigEndian.Uint32(buf[5:9]),
		BodyLen: binary.BigEndian.Uint32(buf[9:13]),
	}
	body := make([]byte, h.BodyLen)
	if h.BodyLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return frameHeader{}, nil, err
		}
	}
	return h, body, nil
}
