package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/postchain/node/wireerr"
)

// Encode writes one frame for m: [len:u32 LE][type:u8][payload]. The whole
// frame is assembled in one contiguous buffer before the single Write, so a
// slow writer never sees a torn frame.
func Encode(w io.Writer, m Message) error {
	payload := m.Payload()
	frameLen := 1 + len(payload) // type byte + payload
	if frameLen > MaxFrameLen {
		return fmt.Errorf("%w: frame length %d exceeds %d", wireerr.ErrPayloadOutOfRange, frameLen, MaxFrameLen)
	}
	buf := make([]byte, 4+frameLen)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(frameLen))
	buf[4] = byte(m.Type())
	copy(buf[5:], payload)
	_, err := w.Write(buf)
	return err
}

// Decode reads exactly one frame from r and dispatches it to its variant
// decoder. A clean EOF at the very start of a frame (offset 0 of the length
// header) is reported as ErrStreamClosed; any other short read is
// ErrMalformedFrame.
func Decode(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	n, err := io.ReadFull(r, lenBuf[:])
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return nil, wireerr.ErrStreamClosed
		}
		return nil, fmt.Errorf("%w: %v", wireerr.ErrMalformedFrame, err)
	}
	frameLen := binary.LittleEndian.Uint32(lenBuf[:])
	if frameLen < 1 || frameLen > MaxFrameLen {
		return nil, fmt.Errorf("%w: frame length %d out of [1,%d]", wireerr.ErrMalformedFrame, frameLen, MaxFrameLen)
	}
	typeByte := make([]byte, 1)
	if _, err := io.ReadFull(r, typeByte); err != nil {
		return nil, fmt.Errorf("%w: %v", wireerr.ErrMalformedFrame, err)
	}
	t := MessageType(typeByte[0])
	if !IsKnown(t) {
		// Still must drain the declared payload length so the stream stays
		// framed for whatever comes after, even though we reject this frame.
		if _, err := io.CopyN(io.Discard, r, int64(frameLen-1)); err != nil {
			return nil, fmt.Errorf("%w: %v", wireerr.ErrMalformedFrame, err)
		}
		return nil, fmt.Errorf("%w: 0x%02x", wireerr.ErrUnknownMessageType, typeByte[0])
	}
	payload := make([]byte, frameLen-1)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", wireerr.ErrMalformedFrame, err)
	}
	return Deserialize(t, payload)
}
