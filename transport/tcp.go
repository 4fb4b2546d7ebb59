// Package transport supplies the channel.Transport implementations the
// rpc façade runs over: plain TCP (tcp.go), an in-process pipe for
// tests and same-process demos (inmemory.go), a gorilla/websocket
// adapter (wsconn/), and backoff-governed dialing (dial.go).
//
// Grounded on plain net.Conn-based dialing, generalized from "one fixed
// codec, one fixed message type" to any channel.Transport consumer.
package transport

import (
	"net"

	"avrorpc/channel"
)

// TCPFactory returns a channel.Factory that dials addr fresh on every
// call — the shape a stateless client channel needs (§4.5: "per-call
// writable/readable pair").
func TCPFactory(addr string) channel.Factory {
	return func() (channel.Transport, error) {
		return net.Dial("tcp", addr)
	}
}

// ListenAndServe accepts connections on addr and invokes handle once
// per accepted connection, in its own goroutine — the shape both the
// stateful and the stateless server variants are driven from (a
// stateful server wraps the conn in one NewStatefulServer for its
// lifetime; a stateless server calls Serve once per accepted conn).
func ListenAndServe(addr string, handle func(channel.Transport)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go handle(conn)
	}
}
