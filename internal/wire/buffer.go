package wire

import (
	"encoding/binary"
	"math"
)

// The functions below append to and read from a plain []byte. They are
// used only inside this package; each Encode* function builds its frame in
// a freshly allocated slice.

func appendU8(b []byte, v uint8) []byte  { return append(b, v) }
func appendU16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}
func appendI16(b []byte, v int16) []byte { return appendU16(b, uint16(v)) }
func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}
func appendF64(b []byte, v float64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
	return append(b, tmp[:]...)
}

// appendString1 writes a 1-byte length prefix followed by the UTF-8 bytes.
// Callers must have already validated len(s) <= 255.
func appendString1(b []byte, s string) []byte {
	b = appendU8(b, uint8(len(s)))
	return append(b, s...)
}

// appendString2 writes a 2-byte (u16) length prefix followed by the bytes.
func appendString2(b []byte, s string) []byte {
	b = appendU16(b, uint16(len(s)))
	return append(b, s...)
}

// reader is a cursor over a decode buffer. All read methods report ok=false
// on truncation instead of panicking; callers propagate that as a decode
// failure: on any truncation the decoder returns unknown rather than
// failing the connection.
type reader struct {
	buf []byte
	pos int
}

func newReader(buf []byte) *reader { return &reader{buf: buf} }

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) u8() (uint8, bool) {
	if r.remaining() < 1 {
		return 0, false
	}
	v := r.buf[r.pos]
	r.pos++
	return v, true
}

func (r *reader) u16() (uint16, bool) {
	if r.remaining() < 2 {
		return 0, false
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, true
}

func (r *reader) i16() (int16, bool) {
	v, ok := r.u16()
	return int16(v), ok
}

func (r *reader) u32() (uint32, bool) {
	if r.remaining() < 4 {
		return 0, false
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, true
}

func (r *reader) f64() (float64, bool) {
	if r.remaining() < 8 {
		return 0, false
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(r.buf[r.pos:]))
	r.pos += 8
	return v, true
}

func (r *reader) string1() (string, bool) {
	n, ok := r.u8()
	if !ok || r.remaining() < int(n) {
		return "", false
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, true
}

func (r *reader) string2() (string, bool) {
	n, ok := r.u16()
	if !ok || r.remaining() < int(n) {
		return "", false
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, true
}

// skip advances the cursor by n bytes, reporting false on truncation.
// Used to keep the stream aligned when discarding excess virtuals.
func (r *reader) skip(n int) bool {
	if r.remaining() < n {
		return false
	}
	r.pos += n
	return true
}
