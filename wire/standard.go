package wire

import "avrorpc/rpcerr"

// StandardCodec implements the standard Avro IPC framing: a sequence of
// uint32-length-prefixed buffers terminated by a zero-length buffer
// (§4.1). It carries no multiplexing id — Frame.ID is always nil, which
// is why stateless channels (one request in flight per connection) use
// it, while stateful channels use NettyCodec instead.
type StandardCodec struct{}

func (StandardCodec) Encode(dst []byte, f Frame) ([]byte, error) {
	for _, b := range f.Payload {
		dst = putUint32(dst, uint32(len(b)))
		dst = append(dst, b...)
	}
	dst = putUint32(dst, 0)
	return dst, nil
}

func (StandardCodec) NewDecoder() Decoder {
	return &standardDecoder{}
}

type standardDecoder struct {
	buf []byte
}

func (d *standardDecoder) Feed(data []byte) {
	d.buf = append(d.buf, data...)
}

// Next parses as many complete (length, bytes) pairs as are buffered,
// stopping at the zero-length terminator. If the buffer runs out
// mid-frame it leaves d.buf untouched and reports ok=false, so a later
// Feed can pick up exactly where parsing left off.
func (d *standardDecoder) Next() (Frame, bool, error) {
	pos := 0
	var payload [][]byte
	for {
		if len(d.buf)-pos < 4 {
			return Frame{}, false, nil
		}
		n := readUint32(d.buf[pos : pos+4])
		pos += 4
		if n == 0 {
			d.buf = d.buf[pos:]
			return Frame{ID: nil, Payload: payload}, true, nil
		}
		if err := checkBufferSize(n); err != nil {
			return Frame{}, false, err
		}
		if len(d.buf)-pos < int(n) {
			return Frame{}, false, nil
		}
		buf := make([]byte, n)
		copy(buf, d.buf[pos:pos+int(n)])
		payload = append(payload, buf)
		pos += int(n)
	}
}

// Flush implements Flusher: any bytes still buffered once the caller
// knows no more input is coming are a truncated trailing frame, not a
// frame still in flight.
func (d *standardDecoder) Flush() error {
	if len(d.buf) > 0 {
		return rpcerr.New(rpcerr.InvalidRequest, "wire: %d trailing byte(s) after last frame", len(d.buf))
	}
	return nil
}

var _ Flusher = (*standardDecoder)(nil)
