package transport

import (
	"net"

	"avrorpc/channel"
)

// Pipe returns two directly-connected in-process transports, for tests
// and single-process demos that want the real framing/handshake code
// paths without a real socket. net.Pipe's synchronous, unbuffered
// net.Conn already satisfies channel.Transport unmodified.
func Pipe() (channel.Transport, channel.Transport) {
	a, b := net.Pipe()
	return a, b
}
