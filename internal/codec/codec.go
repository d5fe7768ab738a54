// Package codec implements the little-endian, length-prefixed binary layout
// used for persisted records and crypto library artifacts.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortBuffer is returned when a Reader runs out of input.
var ErrShortBuffer = errors.New("codec: short buffer")

// Writer appends encoded values to a byte slice.
type Writer struct {
	buf []byte // buf is the encoded output
}

// NewWriter returns a Writer with the given capacity hint.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes returns the encoded output.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// U8 writes one byte.
func (w *Writer) U8(v uint8) *Writer {
	w.buf = append(w.buf, v)
	return w
}

// Bool writes a boolean as one byte.
func (w *Writer) Bool(v bool) *Writer {
	if v {
		return w.U8(1)
	}

	return w.U8(0)
}

// U32 writes a little-endian uint32.
func (w *Writer) U32(v uint32) *Writer {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
	return w
}

// U64 writes a little-endian uint64.
func (w *Writer) U64(v uint64) *Writer {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
	return w
}

// I64 writes a little-endian int64.
func (w *Writer) I64(v int64) *Writer {
	return w.U64(uint64(v))
}

// Fixed writes raw bytes without a length prefix.
func (w *Writer) Fixed(b []byte) *Writer {
	w.buf = append(w.buf, b...)
	return w
}

// VarBytes writes a u32 length prefix followed by b.
func (w *Writer) VarBytes(b []byte) *Writer {
	w.U32(uint32(len(b)))
	return w.Fixed(b)
}

// String writes a length-prefixed string.
func (w *Writer) String(s string) *Writer {
	return w.VarBytes([]byte(s))
}

// Reader decodes values written by Writer. The first failure is sticky.
type Reader struct {
	buf []byte // buf is the remaining input
	err error  // err is the first decoding error
}

// NewReader returns a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

// Err returns the first decoding error.
func (r *Reader) Err() error {
	return r.err
}

// Done returns an error if decoding failed or input remains.
func (r *Reader) Done() error {
	if r.err != nil {
		return r.err
	}

	if len(r.buf) != 0 {
		return fmt.Errorf("codec: %d trailing bytes", len(r.buf))
	}

	return nil
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf)
}

// take consumes n bytes.
func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}

	if n < 0 || len(r.buf) < n {
		r.err = ErrShortBuffer
		return nil
	}

	out := r.buf[:n:n]
	r.buf = r.buf[n:]

	return out
}

// U8 reads one byte.
func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}

	return b[0]
}

// Bool reads a boolean.
func (r *Reader) Bool() bool {
	return r.U8() != 0
}

// U32 reads a little-endian uint32.
func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}

	return binary.LittleEndian.Uint32(b)
}

// U64 reads a little-endian uint64.
func (r *Reader) U64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}

	return binary.LittleEndian.Uint64(b)
}

// I64 reads a little-endian int64.
func (r *Reader) I64() int64 {
	return int64(r.U64())
}

// Fixed reads exactly n raw bytes into a fresh slice.
func (r *Reader) Fixed(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}

	out := make([]byte, n)
	copy(out, b)

	return out
}

// VarBytes reads a u32 length prefix followed by that many bytes.
func (r *Reader) VarBytes() []byte {
	n := r.U32()
	if r.err != nil {
		return nil
	}

	if int(n) > len(r.buf) {
		r.err = ErrShortBuffer
		return nil
	}

	return r.Fixed(int(n))
}

// String reads a length-prefixed string.
func (r *Reader) String() string {
	return string(r.VarBytes())
}

// Count reads a u32 element count, bounded by the remaining input
// assuming each element takes at least minSize bytes.
func (r *Reader) Count(minSize int) int {
	n := r.U32()
	if r.err != nil {
		return 0
	}

	if minSize > 0 && int(n) > len(r.buf)/minSize {
		r.err = fmt.Errorf("codec: count %d exceeds input", n)
		return 0
	}

	return int(n)
}
