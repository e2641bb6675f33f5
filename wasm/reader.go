package wasm

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	"github.com/wippyai/wasm-toolkit/errors"
)

// Reader is a positioned cursor over a byte slice. All decoded values borrow
// from the underlying buffer; the reader never copies payload bytes.
//
// The reader tracks the absolute offset of its window within the original
// buffer so errors are reported file-relative even when decoding a sub-range.
type Reader struct {
	buf            []byte
	pos            int
	originalOffset int
}

// NewReader creates a reader over data, where data begins at the given
// absolute offset within the original buffer.
func NewReader(data []byte, offset int) *Reader {
	return &Reader{buf: data, originalOffset: offset}
}

// Position returns the current position within the reader's window.
func (r *Reader) Position() int {
	return r.pos
}

// OriginalPosition returns the current absolute position within the original
// buffer.
func (r *Reader) OriginalPosition() int {
	return r.originalOffset + r.pos
}

// EOF reports whether the reader has consumed its entire window.
func (r *Reader) EOF() bool {
	return r.pos >= len(r.buf)
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.buf) - r.pos
}

// SkipTo advances the cursor to the given window position.
func (r *Reader) SkipTo(pos int) error {
	if pos < r.pos || pos > len(r.buf) {
		return errors.Malformed(r.OriginalPosition(), "invalid skip target %d", pos)
	}
	r.pos = pos
	return nil
}

func (r *Reader) eofErr() error {
	return errors.Malformed(r.originalOffset+len(r.buf), "unexpected end of input")
}

// ReadByte reads a single byte and advances the position.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, r.eofErr()
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// PeekByte returns the next byte without advancing.
func (r *Reader) PeekByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, r.eofErr()
	}
	return r.buf[r.pos], nil
}

// ReadBytes returns the next n bytes as a sub-slice of the underlying buffer.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, r.eofErr()
	}
	out := r.buf[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return out, nil
}

// ReadU32LE reads a little-endian uint32 (fixed 4 bytes).
func (r *Reader) ReadU32LE() (uint32, error) {
	buf, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// ReadVarU32 reads an unsigned LEB128 encoded uint32. Overlong and
// overflowing encodings are rejected.
func (r *Reader) ReadVarU32() (uint32, error) {
	var result uint32
	var shift uint
	start := r.OriginalPosition()
	for i := 0; ; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if i == 4 {
			if b&0x80 != 0 {
				return 0, errors.Malformed(start, "integer representation too long")
			}
			if b&0x70 != 0 {
				return 0, errors.Malformed(start, "integer too large")
			}
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

// ReadVarU64 reads an unsigned LEB128 encoded uint64.
func (r *Reader) ReadVarU64() (uint64, error) {
	var result uint64
	var shift uint
	start := r.OriginalPosition()
	for i := 0; ; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if i == 9 {
			if b&0x80 != 0 {
				return 0, errors.Malformed(start, "integer representation too long")
			}
			if b&0x7e != 0 {
				return 0, errors.Malformed(start, "integer too large")
			}
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

// ReadVarS32 reads a signed LEB128 encoded int32.
func (r *Reader) ReadVarS32() (int32, error) {
	var result int32
	var shift uint
	var b byte
	var err error
	start := r.OriginalPosition()
	for i := 0; ; i++ {
		b, err = r.ReadByte()
		if err != nil {
			return 0, err
		}
		if i == 4 {
			if b&0x80 != 0 {
				return 0, errors.Malformed(start, "integer representation too long")
			}
			// Bits past the value must replicate the sign bit.
			extra := b & 0x70
			if b&0x08 != 0 {
				if extra != 0x70 {
					return 0, errors.Malformed(start, "integer too large")
				}
			} else if extra != 0 {
				return 0, errors.Malformed(start, "integer too large")
			}
		}
		result |= int32(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	// Sign extend
	if shift < 32 && b&0x40 != 0 {
		result |= ^int32(0) << shift
	}
	return result, nil
}

// ReadVarS64 reads a signed LEB128 encoded int64.
func (r *Reader) ReadVarS64() (int64, error) {
	var result int64
	var shift uint
	var b byte
	var err error
	start := r.OriginalPosition()
	for i := 0; ; i++ {
		b, err = r.ReadByte()
		if err != nil {
			return 0, err
		}
		if i == 9 {
			if b&0x80 != 0 {
				return 0, errors.Malformed(start, "integer representation too long")
			}
			extra := b & 0x7e
			if b&0x01 != 0 {
				if extra != 0x7e {
					return 0, errors.Malformed(start, "integer too large")
				}
			} else if extra != 0 {
				return 0, errors.Malformed(start, "integer too large")
			}
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	// Sign extend
	if shift < 64 && b&0x40 != 0 {
		result |= ^int64(0) << shift
	}
	return result, nil
}

// ReadF32 reads a little-endian float32. NaN payloads are preserved.
func (r *Reader) ReadF32() (float32, error) {
	buf, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(buf)), nil
}

// ReadF64 reads a little-endian float64. NaN payloads are preserved.
func (r *Reader) ReadF64() (float64, error) {
	buf, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(buf)), nil
}

// ReadString reads a length-prefixed UTF-8 name.
func (r *Reader) ReadString() (string, error) {
	length, err := r.ReadVarU32()
	if err != nil {
		return "", err
	}
	start := r.OriginalPosition()
	data, err := r.ReadBytes(int(length))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", errors.Malformed(start, "invalid UTF-8 in name")
	}
	return string(data), nil
}

// ReadValType reads a single value type byte.
func (r *Reader) ReadValType() (ValType, error) {
	offset := r.OriginalPosition()
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch ValType(b) {
	case ValI32, ValI64, ValF32, ValF64, ValV128, ValFuncRef, ValExtern:
		return ValType(b), nil
	default:
		return 0, errors.Malformed(offset, "invalid value type 0x%02x", b)
	}
}

// ReadRefType reads a value type byte restricted to reference types.
func (r *Reader) ReadRefType() (ValType, error) {
	offset := r.OriginalPosition()
	t, err := r.ReadValType()
	if err != nil {
		return 0, err
	}
	if !t.IsRef() {
		return 0, errors.Malformed(offset, "invalid reference type 0x%02x", byte(t))
	}
	return t, nil
}
