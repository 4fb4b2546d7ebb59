// Package wire implements the two framing dialects §4.1
// describes for carrying a Message's buffer list over a byte stream:
// the standard length-prefixed-with-terminator dialect, and the Netty
// `[id, frameCount]`-header dialect used by stateful transports that
// need out-of-band multiplexing ids on the wire itself.
//
// Framing here follows a fixed-header, read-exactly-N-bytes approach,
// generalized to a variable number of length-prefixed buffers per frame
// and to incremental decoding: rather than blocking on an io.Reader
// until a full frame arrives, Decoder.Feed accepts
// arbitrarily-chunked input and only yields a Frame once one is fully
// buffered, so it plugs into any transport that delivers bytes in
// chunks that don't line up with frame boundaries (the channel package
// feeds it data read off a net.Conn or websocket message).
package wire

import (
	"encoding/binary"

	"avrorpc/rpcerr"
)

// Frame is a fully decoded on-wire unit: an optional multiplexing id
// (nil under the standard dialect, always present under Netty) and the
// ordered list of buffers that make up one Message (§4.1: "a list of
// buffers" — handshake + request/response/error bytes concatenated by
// the caller).
type Frame struct {
	ID      *int32
	Payload [][]byte
}

// TotalLen returns the sum of all payload buffer lengths.
func (f Frame) TotalLen() int {
	n := 0
	for _, b := range f.Payload {
		n += len(b)
	}
	return n
}

// Join concatenates every payload buffer into one slice.
func (f Frame) Join() []byte {
	out := make([]byte, 0, f.TotalLen())
	for _, b := range f.Payload {
		out = append(out, b...)
	}
	return out
}

// Codec encodes and decodes Frames under one wire dialect.
type Codec interface {
	// Encode appends the wire bytes for f to dst, returning the grown
	// slice.
	Encode(dst []byte, f Frame) ([]byte, error)
	// NewDecoder returns a fresh incremental decoder for one connection.
	NewDecoder() Decoder
}

// Decoder incrementally reassembles Frames from arbitrarily-chunked
// byte slices. Callers repeatedly Feed() newly-arrived bytes and drain
// Next() until it reports no frame ready, then Feed() more.
type Decoder interface {
	// Feed appends newly-read bytes to the decoder's internal buffer.
	Feed(data []byte)
	// Next returns the next fully-buffered Frame, if any. ok is false
	// when more input is needed; err is set only on a malformed frame.
	Next() (frame Frame, ok bool, err error)
}

// Flusher is implemented by decoders that can tell whether bytes are
// still sitting in their internal buffer once the caller knows no more
// input is coming (§4.1: "flush must emit an error if trailing bytes
// remain"). Only the standard dialect's terminator-based framing needs
// this — Netty framing's fixed header makes a dangling partial frame
// already visible as Next() never returning ok, but the standard
// dialect would otherwise silently discard a truncated stream's last,
// incomplete frame.
type Flusher interface {
	Flush() error
}

func putUint32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func readUint32(buf []byte) uint32 {
	return binary.BigEndian.Uint32(buf)
}

// maxBufferSize bounds a single length-prefixed buffer to guard against
// a corrupt or hostile length prefix driving an unbounded allocation.
const maxBufferSize = 64 << 20

func checkBufferSize(n uint32) error {
	if n > maxBufferSize {
		return rpcerr.New(rpcerr.InvalidRequest, "wire: buffer length %d exceeds maximum %d", n, maxBufferSize)
	}
	return nil
}
