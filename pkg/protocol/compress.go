package protocol

import (
    "bytes"
    "compress/zlib"
    "encoding/binary"
    "errors"
    "fmt"
    "io"
)

// MaxEnvelope bounds the compressed payload length. An envelope claiming more
// than this is treated as stream corruption rather than a short read.
const MaxEnvelope = 1 << 20

var ErrEnvelopeLength = errors.New("protocol: compressed envelope exceeds limit")

const envelopeHeaderLen = 4

// DecodeEnvelope splits one compressed envelope (uint32 length prefix plus
// zlib payload) off the front of b. The payload is still compressed; feed it
// to an Inflater. Returns ErrShortPacket while the envelope is incomplete.
func DecodeEnvelope(b []byte) (payload []byte, consumed int, err error) {
    if len(b) < envelopeHeaderLen {
        return nil, 0, ErrShortPacket
    }
    n := int(binary.BigEndian.Uint32(b[:envelopeHeaderLen]))
    if n > MaxEnvelope {
        return nil, 0, ErrEnvelopeLength
    }
    total := envelopeHeaderLen + n
    if len(b) < total {
        return nil, 0, ErrShortPacket
    }
    return b[envelopeHeaderLen:total], total, nil
}

// EncodeEnvelope deflates frame and prepends the envelope length prefix.
func EncodeEnvelope(frame []byte) []byte {
    var buf bytes.Buffer
    zw := zlib.NewWriter(&buf)
    _, _ = zw.Write(frame)
    _ = zw.Close()
    out := make([]byte, 0, envelopeHeaderLen+buf.Len())
    out = binary.BigEndian.AppendUint32(out, uint32(buf.Len()))
    return append(out, buf.Bytes()...)
}

// Inflater owns the decompression state for one replica session. The zlib
// reader is reused across envelopes and released only when the session
// detaches.
type Inflater struct {
    src bytes.Reader
    zr  io.ReadCloser
    out bytes.Buffer
}

func NewInflater() *Inflater { return &Inflater{} }

// Inflate decompresses one envelope payload and returns the contained frame
// bytes. The returned slice is valid until the next call.
func (i *Inflater) Inflate(payload []byte) ([]byte, error) {
    i.src.Reset(payload)
    if i.zr == nil {
        zr, err := zlib.NewReader(&i.src)
        if err != nil {
            return nil, fmt.Errorf("protocol: inflate: %w", err)
        }
        i.zr = zr
    } else if err := i.zr.(zlib.Resetter).Reset(&i.src, nil); err != nil {
        return nil, fmt.Errorf("protocol: inflate reset: %w", err)
    }
    i.out.Reset()
    if _, err := i.out.ReadFrom(i.zr); err != nil {
        return nil, fmt.Errorf("protocol: inflate: %w", err)
    }
    return i.out.Bytes(), nil
}

// Close releases the cached zlib state.
func (i *Inflater) Close() error {
    if i.zr == nil {
        return nil
    }
    err := i.zr.Close()
    i.zr = nil
    return err
}
