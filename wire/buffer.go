package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/postchain/node/wireerr"
)

// encoder accumulates a payload the same way the frame codec expects it:
// little-endian integers, i32-length-prefixed UTF-8 strings, no padding.
// A hand-rolled reader/writer is used here rather than a third-party codec
// because §4.1 mandates this exact byte layout; see DESIGN.md.
type encoder struct {
	buf bytes.Buffer
}

func newEncoder() *encoder { return &encoder{} }

func (e *encoder) bytes() []byte { return e.buf.Bytes() }

func (e *encoder) putByte(b byte) { e.buf.WriteByte(b) }

func (e *encoder) putUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) putInt32(v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	e.buf.Write(b[:])
}

func (e *encoder) putInt64(v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	e.buf.Write(b[:])
}

func (e *encoder) putBool(v bool) {
	if v {
		e.putByte(1)
	} else {
		e.putByte(0)
	}
}

func (e *encoder) putRaw(b []byte) { e.buf.Write(b) }

func (e *encoder) putString(s string) {
	e.putInt32(int32(len(s)))
	e.buf.WriteString(s)
}

// decoder reads fields back off a payload buffer, failing closed with
// ErrMalformedFrame/ErrPayloadOutOfRange on any short read or bound
// violation.
type decoder struct {
	b   []byte
	off int
}

func newDecoder(b []byte) *decoder { return &decoder{b: b} }

func (d *decoder) remaining() int { return len(d.b) - d.off }

func (d *decoder) need(n int) error {
	if d.remaining() < n {
		return fmt.Errorf("%w: need %d bytes, have %d", wireerr.ErrMalformedFrame, n, d.remaining())
	}
	return nil
}

func (d *decoder) getByte() (byte, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	v := d.b[d.off]
	d.off++
	return v, nil
}

func (d *decoder) getUint16() (uint16, error) {
	if err := d.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(d.b[d.off:])
	d.off += 2
	return v, nil
}

func (d *decoder) getInt32() (int32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.LittleEndian.Uint32(d.b[d.off:]))
	d.off += 4
	return v, nil
}

func (d *decoder) getInt64() (int64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := int64(binary.LittleEndian.Uint64(d.b[d.off:]))
	d.off += 8
	return v, nil
}

func (d *decoder) getBool() (bool, error) {
	b, err := d.getByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func (d *decoder) getRaw(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d", wireerr.ErrPayloadOutOfRange, n)
	}
	if err := d.need(n); err != nil {
		return nil, err
	}
	v := d.b[d.off : d.off+n]
	d.off += n
	return v, nil
}

func (d *decoder) getString() (string, error) {
	n, err := d.getInt32()
	if err != nil {
		return "", err
	}
	if n < 0 || int(n) > d.remaining() {
		return "", fmt.Errorf("%w: string length %d", wireerr.ErrPayloadOutOfRange, n)
	}
	raw, err := d.getRaw(int(n))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (d *decoder) atEnd() bool { return d.off == len(d.b) }

func (d *decoder) trailingBytesErr() error {
	if !d.atEnd() {
		return fmt.Errorf("%w: %d trailing bytes", wireerr.ErrMalformedFrame, d.remaining())
	}
	return nil
}
