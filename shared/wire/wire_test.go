package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/automoto/arenanet/shared/neterr"
)

func TestPrimitivesRoundTrip(t *testing.T) {
	w := NewWriter(64)
	w.WriteUint8(0xAB)
	w.WriteInt8(-5)
	w.WriteUint16(0xBEEF)
	w.WriteInt16(-1234)
	w.WriteUint32(0xDEADBEEF)
	w.WriteInt32(-123456789)
	w.WriteFloat32(3.25)
	w.WriteCoord(-17.125)
	w.WriteAngle16(90)
	w.WriteAngle8(180)
	w.WriteString("arena", 16)
	w.WriteMask(0x0A0B0C, 24)

	r := NewReader(w.Bytes())
	if v, err := r.ReadUint8(); err != nil || v != 0xAB {
		t.Fatalf("uint8: got %x, %v", v, err)
	}
	if v, err := r.ReadInt8(); err != nil || v != -5 {
		t.Fatalf("int8: got %d, %v", v, err)
	}
	if v, err := r.ReadUint16(); err != nil || v != 0xBEEF {
		t.Fatalf("uint16: got %x, %v", v, err)
	}
	if v, err := r.ReadInt16(); err != nil || v != -1234 {
		t.Fatalf("int16: got %d, %v", v, err)
	}
	if v, err := r.ReadUint32(); err != nil || v != 0xDEADBEEF {
		t.Fatalf("uint32: got %x, %v", v, err)
	}
	if v, err := r.ReadInt32(); err != nil || v != -123456789 {
		t.Fatalf("int32: got %d, %v", v, err)
	}
	if v, err := r.ReadFloat32(); err != nil || v != 3.25 {
		t.Fatalf("float32: got %v, %v", v, err)
	}
	if v, err := r.ReadCoord(); err != nil || v != -17.125 {
		t.Fatalf("coord: got %v, %v", v, err)
	}
	if v, err := r.ReadAngle16(); err != nil || v != 90 {
		t.Fatalf("angle16: got %v, %v", v, err)
	}
	if v, err := r.ReadAngle8(); err != nil || v != 180 {
		t.Fatalf("angle8: got %v, %v", v, err)
	}
	if v, err := r.ReadString(16); err != nil || v != "arena" {
		t.Fatalf("string: got %q, %v", v, err)
	}
	if v, err := r.ReadMask(24); err != nil || v != 0x0A0B0C {
		t.Fatalf("mask: got %x, %v", v, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("expected message fully consumed, %d bytes left", r.Remaining())
	}
}

func TestLittleEndianLayout(t *testing.T) {
	w := NewWriter(8)
	w.WriteUint32(0x01020304)
	w.WriteUint16(0x0506)
	want := []byte{0x04, 0x03, 0x02, 0x01, 0x06, 0x05}
	if !bytes.Equal(w.Bytes(), want) {
		t.Fatalf("got % x, want % x", w.Bytes(), want)
	}
}

func TestTruncatedReadIsProtocolError(t *testing.T) {
	r := NewReader([]byte{0x01, 0x02, 0x03})
	if _, err := r.ReadUint16(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := r.ReadUint32()
	var pe *neterr.ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if !errors.Is(err, neterr.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	if !neterr.IsFatal(err) {
		t.Fatalf("truncated read must be connection-fatal")
	}
	if _, err := r.ReadUint8(); err == nil {
		t.Fatalf("reads after a truncation must keep failing")
	}
}

func TestStringLimits(t *testing.T) {
	w := NewWriter(32)
	w.WriteString("abcdefgh", 4)
	r := NewReader(w.Bytes())
	if s, err := r.ReadString(4); err != nil || s != "abc" {
		t.Fatalf("got %q, %v", s, err)
	}

	unterminated := NewReader([]byte("abc"))
	if _, err := unterminated.ReadString(16); !errors.Is(err, neterr.ErrTruncated) {
		t.Fatalf("expected truncation, got %v", err)
	}

	tooLong := NewReader(append([]byte("abcdefgh"), 0))
	if _, err := tooLong.ReadString(4); !errors.Is(err, neterr.ErrMalformed) {
		t.Fatalf("expected malformed, got %v", err)
	}
}

func TestCoordQuantization(t *testing.T) {
	cases := []struct {
		in, want float32
	}{
		{0, 0},
		{1.06, 1.0},
		{1.07, 1.125},
		{-3.3, -3.25},
		{5000, MaxCoord},
		{-5000, MinCoord},
	}
	for _, c := range cases {
		if got := QuantizeCoord(c.in); got != c.want {
			t.Fatalf("QuantizeCoord(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestAngleWraps(t *testing.T) {
	if got := QuantizeAngle16(-90); got != 270 {
		t.Fatalf("QuantizeAngle16(-90) = %v, want 270", got)
	}
	if got := QuantizeAngle16(360); got != 0 {
		t.Fatalf("QuantizeAngle16(360) = %v, want 0", got)
	}
	if got := QuantizeAngle16(45); got != 45 {
		t.Fatalf("QuantizeAngle16(45) = %v, want 45", got)
	}
}
