// Package message holds the typed protocol description §3 calls
// Service and Message — the data model every other package (adapter,
// handshake, channel, rpc) is built around. This favors a richer
// per-message schema (typed request/response/error, one-way flag) over
// an untyped `{ServiceMethod, Error string, Payload []byte}` envelope.
package message

import (
	"sort"

	"avrorpc/rpcerr"
	"avrorpc/schema"
)

// Message is one RPC operation descriptor (§3).
type Message struct {
	Name        string
	RequestType schema.Record
	// ResponseType is nil for one-way messages.
	ResponseType schema.Type
	// ErrorType is the error union; only meaningful when HasError.
	// Its first branch must be string (the "system error" branch).
	ErrorType schema.Union
	HasError  bool
	OneWay    bool
}

// validate enforces §3's message invariant: "if oneWay, responseType
// must be null and errorType must have exactly one branch (the
// string)".
func (m Message) validate() error {
	if m.OneWay {
		if m.ResponseType != nil {
			return rpcerr.New(rpcerr.InternalServerError, "message %s: one-way message must not declare a response", m.Name)
		}
		if m.HasError && len(m.ErrorType.Branches) != 1 {
			return rpcerr.New(rpcerr.InternalServerError, "message %s: one-way message error union must have exactly one (string) branch", m.Name)
		}
	}
	if m.HasError && !m.ErrorType.IsStringFirst() {
		return rpcerr.New(rpcerr.InternalServerError, "message %s: errorType's first branch must be string", m.Name)
	}
	return nil
}

// pingMessage is the reserved connection-probe message (§4.5/§6):
// empty name, empty request, response ["string"], no error union.
func pingMessage() Message {
	return Message{
		Name:         "",
		RequestType:  schema.Record{Name: "pingRequest"},
		ResponseType: schema.Union{Branches: []schema.Type{schema.String}},
		HasError:     false,
		OneWay:       false,
	}
}

// Service is the named, immutable protocol description (§3).
type Service struct {
	Name        string
	Doc         string
	Messages    map[string]Message
	Fingerprint [16]byte
	// ProtocolJSON is the original protocol document this Service was
	// parsed from. The handshake engine sends it verbatim as
	// clientProtocol/serverProtocol (§4.4) so a peer that misses the
	// fingerprint can parse and cache it directly, with no separate
	// canonicalization step on the wire.
	ProtocolJSON []byte
}

// MessageNames returns every message name except the reserved empty-name
// ping, in stable sorted order.
func (s *Service) MessageNames() []string {
	names := make([]string, 0, len(s.Messages))
	for n := range s.Messages {
		if n == "" {
			continue
		}
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Ping is the service's reserved probe message, always present.
func (s *Service) Ping() Message { return s.Messages[""] }
