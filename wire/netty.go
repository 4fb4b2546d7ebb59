package wire

import (
	"avrorpc/rpcerr"
)

// NettyCodec implements the Netty-style framing stateful channels use
// to multiplex many in-flight calls over one connection (§4.1, §4.5):
// a 4-byte id, a 4-byte frame count, then that many uint32-length-
// prefixed buffers. Unlike StandardCodec there is no terminator buffer
// — the count tells the decoder exactly how many buffers to expect, so
// a record is complete as soon as its declared buffers are read. Next
// yields only whole records; the id travels with each one so a
// stateful channel can route it to the right pending call.
type NettyCodec struct{}

func (NettyCodec) Encode(dst []byte, f Frame) ([]byte, error) {
	if f.ID == nil {
		return nil, rpcerr.New(rpcerr.InternalServerError, "wire: netty frame requires an id")
	}
	dst = putUint32(dst, uint32(*f.ID))
	dst = putUint32(dst, uint32(len(f.Payload)))
	for _, b := range f.Payload {
		dst = putUint32(dst, uint32(len(b)))
		dst = append(dst, b...)
	}
	return dst, nil
}

func (NettyCodec) NewDecoder() Decoder {
	return &nettyDecoder{}
}

type nettyDecoder struct {
	buf []byte
}

func (d *nettyDecoder) Feed(data []byte) {
	d.buf = append(d.buf, data...)
}

func (d *nettyDecoder) Next() (Frame, bool, error) {
	if len(d.buf) < 8 {
		return Frame{}, false, nil
	}
	id := int32(readUint32(d.buf[0:4]))
	count := readUint32(d.buf[4:8])
	if err := checkBufferSize(count); err != nil {
		return Frame{}, false, err
	}

	pos := 8
	payload := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(d.buf)-pos < 4 {
			return Frame{}, false, nil
		}
		n := readUint32(d.buf[pos : pos+4])
		pos += 4
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

	d.buf = d.buf[pos:]
	return Frame{ID: &id, Payload: payload}, true, nil
}
