package netstate

import (
	"math"
	"math/bits"
	"strconv"
	"strings"

	"github.com/automoto/arenanet/shared/neterr"
	"github.com/automoto/arenanet/shared/wire"
)

// Mask is a set of changed fields, one bit per field table entry.
type Mask uint32

func (m Mask) Empty() bool { return m == 0 }

func (m Mask) Count() int { return bits.OnesCount32(uint32(m)) }

func (m Mask) Has(i int) bool { return m&(1<<uint(i)) != 0 }

func (m Mask) With(i int) Mask { return m | 1<<uint(i) }

// Indices returns the set bit positions in increasing order.
func (m Mask) Indices() []int {
	out := make([]int, 0, m.Count())
	for v := uint32(m); v != 0; v &= v - 1 {
		out = append(out, bits.TrailingZeros32(v))
	}
	return out
}

func (m Mask) String() string {
	if m == 0 {
		return "{}"
	}
	parts := make([]string, 0, m.Count())
	for _, i := range m.Indices() {
		parts = append(parts, strconv.Itoa(i))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// fieldDef describes how one field of T is compared and (de)serialized.
// Comparison happens at wire precision so sub-quantum noise never produces a
// delta.
type fieldDef[T any] struct {
	name  string
	equal func(a, b *T) bool
	write func(w *wire.Writer, s *T)
	read  func(r *wire.Reader, s *T) error
}

type fieldTable[T any] []fieldDef[T]

// all returns the mask with every field set.
func (t fieldTable[T]) all() Mask {
	return Mask(uint32(1)<<uint(len(t)) - 1)
}

func (t fieldTable[T]) compare(a, b *T) Mask {
	var m Mask
	for i := range t {
		if !t[i].equal(a, b) {
			m = m.With(i)
		}
	}
	return m
}

func (t fieldTable[T]) validate(m Mask, what string) error {
	if m&^t.all() != 0 {
		return neterr.Desync("%s mask %s references fields beyond %d", what, m, len(t))
	}
	return nil
}

func (t fieldTable[T]) write(w *wire.Writer, m Mask, s *T) {
	for i := range t {
		if m.Has(i) {
			t[i].write(w, s)
		}
	}
}

// read overwrites the fields named in m, leaving every other field of s as it
// was.
func (t fieldTable[T]) read(r *wire.Reader, m Mask, s *T) error {
	for i := range t {
		if !m.Has(i) {
			continue
		}
		if err := t[i].read(r, s); err != nil {
			return err
		}
	}
	return nil
}

// quantize returns s as the peer will decode it.
func (t fieldTable[T]) quantize(s T) T {
	w := wire.NewWriter(128)
	t.write(w, t.all(), &s)
	var out T
	// A message we just wrote always decodes.
	_ = t.read(wire.NewReader(w.Bytes()), t.all(), &out)
	return out
}

func (t fieldTable[T]) names(m Mask) []string {
	out := make([]string, 0, m.Count())
	for _, i := range m.Indices() {
		if i < len(t) {
			out = append(out, t[i].name)
		}
	}
	return out
}

func coordField[T any](name string, get func(*T) *float32) fieldDef[T] {
	return fieldDef[T]{
		name:  name,
		equal: func(a, b *T) bool { return wire.CoordToFixed(*get(a)) == wire.CoordToFixed(*get(b)) },
		write: func(w *wire.Writer, s *T) { w.WriteCoord(*get(s)) },
		read: func(r *wire.Reader, s *T) error {
			v, err := r.ReadCoord()
			*get(s) = v
			return err
		},
	}
}

func angleField[T any](name string, get func(*T) *float32) fieldDef[T] {
	return fieldDef[T]{
		name:  name,
		equal: func(a, b *T) bool { return wire.AngleToShort(*get(a)) == wire.AngleToShort(*get(b)) },
		write: func(w *wire.Writer, s *T) { w.WriteAngle16(*get(s)) },
		read: func(r *wire.Reader, s *T) error {
			v, err := r.ReadAngle16()
			*get(s) = v
			return err
		},
	}
}

func floatField[T any](name string, get func(*T) *float32) fieldDef[T] {
	return fieldDef[T]{
		name:  name,
		equal: func(a, b *T) bool { return math.Float32bits(*get(a)) == math.Float32bits(*get(b)) },
		write: func(w *wire.Writer, s *T) { w.WriteFloat32(*get(s)) },
		read: func(r *wire.Reader, s *T) error {
			v, err := r.ReadFloat32()
			*get(s) = v
			return err
		},
	}
}

func u8Field[T any, V ~uint8](name string, get func(*T) *V) fieldDef[T] {
	return fieldDef[T]{
		name:  name,
		equal: func(a, b *T) bool { return *get(a) == *get(b) },
		write: func(w *wire.Writer, s *T) { w.WriteUint8(uint8(*get(s))) },
		read: func(r *wire.Reader, s *T) error {
			v, err := r.ReadUint8()
			*get(s) = V(v)
			return err
		},
	}
}

func u16Field[T any, V ~uint16](name string, get func(*T) *V) fieldDef[T] {
	return fieldDef[T]{
		name:  name,
		equal: func(a, b *T) bool { return *get(a) == *get(b) },
		write: func(w *wire.Writer, s *T) { w.WriteUint16(uint16(*get(s))) },
		read: func(r *wire.Reader, s *T) error {
			v, err := r.ReadUint16()
			*get(s) = V(v)
			return err
		},
	}
}

func i16Field[T any, V ~int16](name string, get func(*T) *V) fieldDef[T] {
	return fieldDef[T]{
		name:  name,
		equal: func(a, b *T) bool { return *get(a) == *get(b) },
		write: func(w *wire.Writer, s *T) { w.WriteInt16(int16(*get(s))) },
		read: func(r *wire.Reader, s *T) error {
			v, err := r.ReadInt16()
			*get(s) = V(v)
			return err
		},
	}
}

func u32Field[T any, V ~uint32](name string, get func(*T) *V) fieldDef[T] {
	return fieldDef[T]{
		name:  name,
		equal: func(a, b *T) bool { return *get(a) == *get(b) },
		write: func(w *wire.Writer, s *T) { w.WriteUint32(uint32(*get(s))) },
		read: func(r *wire.Reader, s *T) error {
			v, err := r.ReadUint32()
			*get(s) = V(v)
			return err
		},
	}
}

func i32Field[T any, V ~int32](name string, get func(*T) *V) fieldDef[T] {
	return fieldDef[T]{
		name:  name,
		equal: func(a, b *T) bool { return *get(a) == *get(b) },
		write: func(w *wire.Writer, s *T) { w.WriteInt32(int32(*get(s))) },
		read: func(r *wire.Reader, s *T) error {
			v, err := r.ReadInt32()
			*get(s) = V(v)
			return err
		},
	}
}
