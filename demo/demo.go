// Package demo records the server messages a client accepted, so a session
// can be replayed later through the same reconstruction path.
//
// A demo is a zstd stream holding a header followed by records of
// [seq uint32][len uint32][payload], all little-endian.
package demo

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

const magic = "ARND"

// maxRecord bounds a payload so a corrupt length cannot allocate gigabytes.
const maxRecord = 64 << 10

// ErrCorrupt is returned for a stream that is not a demo or is damaged.
var ErrCorrupt = errors.New("demo: corrupt stream")

// Header describes the session a demo was recorded from.
type Header struct {
	Protocol  uint32
	EntityNum uint16 // the recording client's own entity
	Map       string
}

// Record is one accepted server message.
type Record struct {
	Seq     uint32
	Payload []byte
}

// Recorder appends records to a compressed stream.
type Recorder struct {
	enc     *zstd.Encoder
	w       *bufio.Writer
	records int
}

// NewRecorder writes h to w and returns a recorder for the records that
// follow. Close must be called to flush the stream; it does not close w.
func NewRecorder(w io.Writer, h Header) (*Recorder, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("demo: zstd writer: %w", err)
	}
	rec := &Recorder{enc: enc, w: bufio.NewWriter(enc)}
	if len(h.Map) > 255 {
		_ = enc.Close()
		return nil, fmt.Errorf("demo: map name %q too long", h.Map)
	}
	var hdr []byte
	hdr = append(hdr, magic...)
	hdr = binary.LittleEndian.AppendUint32(hdr, h.Protocol)
	hdr = binary.LittleEndian.AppendUint16(hdr, h.EntityNum)
	hdr = append(hdr, byte(len(h.Map)))
	hdr = append(hdr, h.Map...)
	if _, err := rec.w.Write(hdr); err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("demo: write header: %w", err)
	}
	return rec, nil
}

// Write appends one record.
func (r *Recorder) Write(seq uint32, payload []byte) error {
	if len(payload) > maxRecord {
		return fmt.Errorf("demo: record of %d bytes", len(payload))
	}
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:], seq)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(payload)))
	if _, err := r.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("demo: write record: %w", err)
	}
	if _, err := r.w.Write(payload); err != nil {
		return fmt.Errorf("demo: write record: %w", err)
	}
	r.records++
	return nil
}

// Records returns how many records were written.
func (r *Recorder) Records() int { return r.records }

// Close flushes buffered records and ends the zstd frame.
func (r *Recorder) Close() error {
	err1 := r.w.Flush()
	err2 := r.enc.Close()
	return errors.Join(err1, err2)
}

// Reader iterates the records of a demo.
type Reader struct {
	dec    *zstd.Decoder
	r      *bufio.Reader
	header Header
}

// NewReader reads the header from r.
func NewReader(r io.Reader) (*Reader, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("demo: zstd reader: %w", err)
	}
	dr := &Reader{dec: dec, r: bufio.NewReader(dec)}
	if err := dr.readHeader(); err != nil {
		dec.Close()
		return nil, err
	}
	return dr, nil
}

func (dr *Reader) readHeader() error {
	var fixed [11]byte
	if _, err := io.ReadFull(dr.r, fixed[:]); err != nil {
		return fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	if string(fixed[:4]) != magic {
		return fmt.Errorf("%w: bad magic %q", ErrCorrupt, fixed[:4])
	}
	dr.header.Protocol = binary.LittleEndian.Uint32(fixed[4:])
	dr.header.EntityNum = binary.LittleEndian.Uint16(fixed[8:])
	name := make([]byte, fixed[10])
	if _, err := io.ReadFull(dr.r, name); err != nil {
		return fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	dr.header.Map = string(name)
	return nil
}

// Header returns the demo header.
func (dr *Reader) Header() Header { return dr.header }

// Next returns the next record, or io.EOF after the last one.
func (dr *Reader) Next() (Record, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(dr.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("%w: record header: %v", ErrCorrupt, err)
	}
	rec := Record{Seq: binary.LittleEndian.Uint32(hdr[0:])}
	n := binary.LittleEndian.Uint32(hdr[4:])
	if n > maxRecord {
		return Record{}, fmt.Errorf("%w: record of %d bytes", ErrCorrupt, n)
	}
	rec.Payload = make([]byte, n)
	if _, err := io.ReadFull(dr.r, rec.Payload); err != nil {
		return Record{}, fmt.Errorf("%w: record body: %v", ErrCorrupt, err)
	}
	return rec, nil
}

// Close releases the decoder. It does not close the underlying reader.
func (dr *Reader) Close() {
	dr.dec.Close()
}
