package wire

import (
	"math"

	"github.com/automoto/arenanet/shared/neterr"
)

// Reader decodes values from a received message. Every method checks bounds
// first and returns a *neterr.ProtocolError instead of reading past the end.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps b. The reader never modifies b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Pos returns the read offset.
func (r *Reader) Pos() int { return r.pos }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Rest returns the unread bytes without consuming them.
func (r *Reader) Rest() []byte { return r.buf[r.pos:] }

func (r *Reader) take(n int, op string) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		r.pos = len(r.buf)
		return nil, neterr.Truncated(op)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.take(1, "read uint8")
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadInt8() (int8, error) {
	v, err := r.ReadUint8()
	return int8(v), err
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.take(2, "read uint16")
	if err != nil {
		return 0, err
	}
	return le.Uint16(b), nil
}

func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.take(4, "read uint32")
	if err != nil {
		return 0, err
	}
	return le.Uint32(b), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

func (r *Reader) ReadCoord() (float32, error) {
	v, err := r.ReadInt16()
	return FixedToCoord(v), err
}

func (r *Reader) ReadAngle16() (float32, error) {
	v, err := r.ReadUint16()
	return ShortToAngle(v), err
}

func (r *Reader) ReadAngle8() (float32, error) {
	v, err := r.ReadUint8()
	return ShortToAngle(uint16(v) << 8), err
}

// ReadString reads a NUL-terminated string of at most max bytes including
// the terminator.
func (r *Reader) ReadString(max int) (string, error) {
	for i := r.pos; i < len(r.buf); i++ {
		if r.buf[i] != 0 {
			if max > 0 && i-r.pos >= max-1 {
				return "", neterr.Malformed("read string", "string exceeds %d bytes", max)
			}
			continue
		}
		s := string(r.buf[r.pos:i])
		r.pos = i + 1
		return s, nil
	}
	r.pos = len(r.buf)
	return "", neterr.Truncated("read string")
}

// ReadMask reads a fixed-width mask written by Writer.WriteMask.
func (r *Reader) ReadMask(bits int) (uint32, error) {
	b, err := r.take(MaskBytes(bits), "read mask")
	if err != nil {
		return 0, err
	}
	var m uint32
	for i, v := range b {
		m |= uint32(v) << (8 * i)
	}
	return m, nil
}

// ReadBytes returns the next n bytes. The result aliases the message buffer.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	return r.take(n, "read bytes")
}
