// Package protocol implements the replica acknowledgment wire format: the
// hello frame a replica sends when its dump session connects, the ack frame
// it sends after durably receiving log bytes, and an optional zlib envelope
// for sessions that negotiated compression.
package protocol

import (
    "encoding/binary"
    "errors"
    "fmt"
)

const (
    // AckMagic is the first byte of every acknowledgment frame.
    AckMagic = 0xEF
    // HelloMagic is the first byte of the session hello frame.
    HelloMagic = 0xEA

    // FlagCompressed marks a session whose ack frames arrive in zlib envelopes.
    FlagCompressed = 0x01

    // MaxLogFileName bounds the log file name carried in an ack frame.
    MaxLogFileName = 512

    ackHeaderLen   = 1 + 4 + 8 + 2
    helloFrameLen  = 1 + 4 + 1
)

var (
    // ErrShortPacket reports that the buffer does not yet hold a complete
    // frame. The caller should keep the bytes and retry after the next read.
    ErrShortPacket = errors.New("protocol: incomplete packet")
    ErrBadMagic    = errors.New("protocol: bad magic byte")
    ErrNameLength  = errors.New("protocol: log file name exceeds limit")
)

// Ack is one decoded acknowledgment: the replica identified by ServerID has
// durably received the log stream up to (LogFile, LogPos).
type Ack struct {
    ServerID uint32
    LogFile  string
    LogPos   uint64
}

func (a Ack) String() string {
    return fmt.Sprintf("ack{server=%d file=%s pos=%d}", a.ServerID, a.LogFile, a.LogPos)
}

// DecodeAck decodes one ack frame from the front of b. It returns the frame
// and the number of bytes consumed. ErrShortPacket means b holds a prefix of
// a valid frame; any other error means the stream is corrupt.
func DecodeAck(b []byte) (Ack, int, error) {
    if len(b) == 0 {
        return Ack{}, 0, ErrShortPacket
    }
    if b[0] != AckMagic {
        return Ack{}, 0, ErrBadMagic
    }
    if len(b) < ackHeaderLen {
        return Ack{}, 0, ErrShortPacket
    }
    nameLen := int(binary.BigEndian.Uint16(b[13:15]))
    if nameLen > MaxLogFileName {
        return Ack{}, 0, ErrNameLength
    }
    total := ackHeaderLen + nameLen
    if len(b) < total {
        return Ack{}, 0, ErrShortPacket
    }
    a := Ack{
        ServerID: binary.BigEndian.Uint32(b[1:5]),
        LogPos:   binary.BigEndian.Uint64(b[5:13]),
        LogFile:  string(b[ackHeaderLen:total]),
    }
    return a, total, nil
}

// AppendAck appends the wire encoding of a to dst and returns the result.
func AppendAck(dst []byte, a Ack) []byte {
    dst = append(dst, AckMagic)
    dst = binary.BigEndian.AppendUint32(dst, a.ServerID)
    dst = binary.BigEndian.AppendUint64(dst, a.LogPos)
    dst = binary.BigEndian.AppendUint16(dst, uint16(len(a.LogFile)))
    return append(dst, a.LogFile...)
}

// EncodeAck returns the wire encoding of a.
func EncodeAck(a Ack) []byte { return AppendAck(nil, a) }

// Hello is the frame a replica sends immediately after connecting its dump
// session: its server id plus capability flags.
type Hello struct {
    ServerID uint32
    Flags    uint8
}

// Compressed reports whether the session negotiated zlib-compressed acks.
func (h Hello) Compressed() bool { return h.Flags&FlagCompressed != 0 }

// DecodeHello decodes the hello frame from the front of b.
func DecodeHello(b []byte) (Hello, int, error) {
    if len(b) == 0 {
        return Hello{}, 0, ErrShortPacket
    }
    if b[0] != HelloMagic {
        return Hello{}, 0, ErrBadMagic
    }
    if len(b) < helloFrameLen {
        return Hello{}, 0, ErrShortPacket
    }
    h := Hello{ServerID: binary.BigEndian.Uint32(b[1:5]), Flags: b[5]}
    return h, helloFrameLen, nil
}

// EncodeHello returns the wire encoding of h.
func EncodeHello(h Hello) []byte {
    b := make([]byte, 0, helloFrameLen)
    b = append(b, HelloMagic)
    b = binary.BigEndian.AppendUint32(b, h.ServerID)
    return append(b, h.Flags)
}

// HelloLen is the fixed size of a hello frame on the wire.
const HelloLen = helloFrameLen
