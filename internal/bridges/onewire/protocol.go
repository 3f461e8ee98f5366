package onewire

import (
	"encoding/binary"
	"fmt"
)

// headerSize is the fixed owserver header: six big-endian int32 fields.
const headerSize = 24

// maxPayload bounds the data owserver may send in one response.
const maxPayload = 65536

// MessageType is an owserver request type.
type MessageType int32

// owserver message types.
const (
	MsgError       MessageType = 0
	MsgNop         MessageType = 1
	MsgRead        MessageType = 2
	MsgWrite       MessageType = 3
	MsgDir         MessageType = 4
	MsgSize        MessageType = 5
	MsgPresence    MessageType = 6
	MsgDirAll      MessageType = 7
	MsgGet         MessageType = 8
	MsgDirAllSlash MessageType = 9
	MsgGetSlash    MessageType = 10
)

func (t MessageType) String() string {
	switch t {
	case MsgError:
		return "ERROR"
	case MsgNop:
		return "NOP"
	case MsgRead:
		return "READ"
	case MsgWrite:
		return "WRITE"
	case MsgDir:
		return "DIR"
	case MsgSize:
		return "SIZE"
	case MsgPresence:
		return "PRESENCE"
	case MsgDirAll:
		return "DIRALL"
	case MsgGet:
		return "GET"
	case MsgDirAllSlash:
		return "DIRALLSLASH"
	case MsgGetSlash:
		return "GETSLASH"
	default:
		return fmt.Sprintf("MessageType(%d)", int32(t))
	}
}

// Request flags understood by owserver.
const (
	FlagBusReturn   uint32 = 0x00000002
	FlagPersistence uint32 = 0x00000004
	FlagAlias       uint32 = 0x00000008
	FlagSafeMode    uint32 = 0x00000010
	FlagUncached    uint32 = 0x00000020
	FlagOwnet       uint32 = 0x00000100
)

// request is one message from client to owserver.
type request struct {
	Type   MessageType
	Flags  uint32
	Path   string
	Data   []byte // WRITE only
	Size   int32  // bytes requested (READ) or written (WRITE)
	Offset int32
}

// encode renders the request as header plus payload. The payload is the
// NUL-terminated path, followed by the data for writes.
func (r request) encode() []byte {
	payloadLen := len(r.Path) + 1 + len(r.Data)
	buf := make([]byte, headerSize+payloadLen)

	binary.BigEndian.PutUint32(buf[0:4], 0)                  // version
	binary.BigEndian.PutUint32(buf[4:8], uint32(payloadLen)) //nolint:gosec // bounded by maxPayload
	binary.BigEndian.PutUint32(buf[8:12], uint32(r.Type))    //nolint:gosec // small enum
	binary.BigEndian.PutUint32(buf[12:16], r.Flags)
	binary.BigEndian.PutUint32(buf[16:20], uint32(r.Size))   //nolint:gosec // non-negative by construction
	binary.BigEndian.PutUint32(buf[20:24], uint32(r.Offset)) //nolint:gosec // non-negative by construction

	copy(buf[headerSize:], r.Path)
	copy(buf[headerSize+len(r.Path)+1:], r.Data)
	return buf
}

// responseHeader is the fixed part of an owserver reply.
type responseHeader struct {
	Version int32
	Payload int32 // -1 marks a keepalive frame
	Ret     int32 // negative errno on failure
	Flags   uint32
	Size    int32
	Offset  int32
}

// keepalive reports whether the frame only signals that owserver is busy.
func (h responseHeader) keepalive() bool {
	return h.Payload < 0
}

func parseResponseHeader(b []byte) (responseHeader, error) {
	if len(b) < headerSize {
		return responseHeader{}, fmt.Errorf("%w: short header (%d bytes)", ErrProtocolDesync, len(b))
	}
	h := responseHeader{
		Version: int32(binary.BigEndian.Uint32(b[0:4])),   //nolint:gosec // wire format is signed
		Payload: int32(binary.BigEndian.Uint32(b[4:8])),   //nolint:gosec // wire format is signed
		Ret:     int32(binary.BigEndian.Uint32(b[8:12])),  //nolint:gosec // wire format is signed
		Flags:   binary.BigEndian.Uint32(b[12:16]),
		Size:    int32(binary.BigEndian.Uint32(b[16:20])), //nolint:gosec // wire format is signed
		Offset:  int32(binary.BigEndian.Uint32(b[20:24])), //nolint:gosec // wire format is signed
	}
	if h.Payload > maxPayload {
		return h, fmt.Errorf("%w: payload of %d bytes", ErrProtocolDesync, h.Payload)
	}
	return h, nil
}

// encodeResponse renders a reply. It is the server half of the protocol and
// is used by test doubles.
func encodeResponse(h responseHeader, payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(h.Version)) //nolint:gosec // wire format is signed
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.Payload)) //nolint:gosec // wire format is signed
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.Ret))    //nolint:gosec // wire format is signed
	binary.BigEndian.PutUint32(buf[12:16], h.Flags)
	binary.BigEndian.PutUint32(buf[16:20], uint32(h.Size))   //nolint:gosec // wire format is signed
	binary.BigEndian.PutUint32(buf[20:24], uint32(h.Offset)) //nolint:gosec // wire format is signed
	copy(buf[headerSize:], payload)
	return buf
}
