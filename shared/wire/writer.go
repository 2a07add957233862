// Package wire is the primitive codec every packet is built from. All values
// are little-endian with fixed widths so encoder and decoder builds produce
// identical bytes.
package wire

import (
	"encoding/binary"
	"math"
)

const (
	// CoordScale is the fixed-point scale of a quantized coordinate (1/8 unit).
	CoordScale = 8
	// MaxCoord is the largest coordinate representable on the wire.
	MaxCoord = float32(math.MaxInt16) / CoordScale
	// MinCoord is the smallest coordinate representable on the wire.
	MinCoord = float32(math.MinInt16) / CoordScale
)

var le = binary.LittleEndian

// Writer appends encoded values to a growable buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes returns the encoded message. The slice aliases the writer's buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// Reset empties the buffer, keeping its capacity.
func (w *Writer) Reset() { w.buf = w.buf[:0] }

func (w *Writer) WriteUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteInt8(v int8) {
	w.buf = append(w.buf, uint8(v))
}

func (w *Writer) WriteUint16(v uint16) {
	w.buf = le.AppendUint16(w.buf, v)
}

func (w *Writer) WriteInt16(v int16) {
	w.buf = le.AppendUint16(w.buf, uint16(v))
}

func (w *Writer) WriteUint32(v uint32) {
	w.buf = le.AppendUint32(w.buf, v)
}

func (w *Writer) WriteInt32(v int32) {
	w.buf = le.AppendUint32(w.buf, uint32(v))
}

// WriteFloat32 writes the raw IEEE-754 bits of v.
func (w *Writer) WriteFloat32(v float32) {
	w.buf = le.AppendUint32(w.buf, math.Float32bits(v))
}

// WriteCoord writes v as a 16-bit fixed-point value, clamped to
// [MinCoord, MaxCoord].
func (w *Writer) WriteCoord(v float32) {
	w.WriteInt16(CoordToFixed(v))
}

// WriteAngle16 writes an angle in degrees with 65536 steps per turn.
func (w *Writer) WriteAngle16(deg float32) {
	w.WriteUint16(AngleToShort(deg))
}

// WriteAngle8 writes an angle in degrees with 256 steps per turn.
func (w *Writer) WriteAngle8(deg float32) {
	w.WriteUint8(uint8(AngleToShort(deg) >> 8))
}

// WriteString writes s NUL-terminated. Strings longer than max-1 bytes are
// truncated so the reader's limit always holds.
func (w *Writer) WriteString(s string, max int) {
	if max > 0 && len(s) > max-1 {
		s = s[:max-1]
	}
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			s = s[:i]
			break
		}
	}
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

// WriteMask writes the low bits of mask in MaskBytes(bits) bytes.
func (w *Writer) WriteMask(mask uint32, bits int) {
	for i := 0; i < MaskBytes(bits); i++ {
		w.buf = append(w.buf, uint8(mask>>(8*i)))
	}
}

// WriteBytes appends b verbatim.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// MaskBytes is the fixed width in bytes of a mask covering bits fields.
func MaskBytes(bits int) int {
	return (bits + 7) / 8
}
