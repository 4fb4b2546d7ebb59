package schema

import (
	"math"

	"avrorpc/rpcerr"
)

// Reader is a cursor over an in-memory Avro-binary buffer. Every Type's
// Decode takes a *Reader rather than a bare []byte so a record can read
// its fields one after another without re-slicing, and so truncation is
// reported uniformly (§4.3: "fail with a truncation error if any bytes
// remain un-consumed... but the buffer is short").
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for decoding starting at offset 0.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining reports how many unread bytes are left.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Exhausted reports whether every byte has been consumed.
func (r *Reader) Exhausted() bool { return r.pos >= len(r.buf) }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return rpcerr.New(rpcerr.InvalidRequest, "truncated buffer: need %d bytes, have %d", n, r.Remaining())
	}
	return nil
}

func (r *Reader) ReadByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, rpcerr.New(rpcerr.InvalidRequest, "negative length %d", n)
	}
	if err := r.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}

// ReadLong reads a zigzag-encoded varint (Avro's "long" wire format,
// also used for int and for length prefixes).
func (r *Reader) ReadLong() (int64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift > 63 {
			return 0, rpcerr.New(rpcerr.InvalidRequest, "varint too long")
		}
	}
	return int64(result>>1) ^ -int64(result&1), nil
}

func (r *Reader) ReadFloat() (float32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return math.Float32frombits(bits), nil
}

func (r *Reader) ReadDouble() (float64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	var bits uint64
	for i := 0; i < 8; i++ {
		bits |= uint64(b[i]) << (8 * i)
	}
	return math.Float64frombits(bits), nil
}
