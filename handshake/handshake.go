// Package handshake implements the schema-negotiation records and wire
// codec from §4.4. The state machine itself (client retry on
// NONE, server adapter-cache lookup) lives in the channel package, which
// drives these records; this package only owns the fixed record shapes
// and their Avro encoding.
//
// Grounded on the one Avro-RPC reference in the retrieval pack,
// other_examples/.../sebglon-goavro/requestor.go, whose
// write_handshake_request/read_handshake_response pair builds and reads
// exactly this kind of request/response record around every call.
package handshake

import (
	"bytes"

	"avrorpc/rpcerr"
	"avrorpc/schema"
)

// Match is the handshake outcome enum (§4.4, GLOSSARY "Handshake
// match").
type Match string

const (
	MatchBoth   Match = "BOTH"
	MatchClient Match = "CLIENT"
	MatchNone   Match = "NONE"
)

var matchEnum = schema.Enum{Name: "HandshakeMatch", Symbols: []string{"BOTH", "CLIENT", "NONE"}}

var md5Fixed = schema.Fixed{Name: "MD5", Size: 16}

// RequestType is the on-wire HandshakeRequest record (§4.4).
var RequestType = schema.Record{
	Name: "org.apache.avro.ipc.HandshakeRequest",
	Fields: []schema.Field{
		{Name: "clientHash", Type: md5Fixed},
		{Name: "clientProtocol", Type: schema.Union{Branches: []schema.Type{schema.Null, schema.String}}},
		{Name: "serverHash", Type: md5Fixed},
		{Name: "meta", Type: schema.Union{Branches: []schema.Type{schema.Null, schema.Map{Values: schema.Bytes}}}},
	},
}

// ResponseType is the on-wire HandshakeResponse record (§4.4).
var ResponseType = schema.Record{
	Name: "org.apache.avro.ipc.HandshakeResponse",
	Fields: []schema.Field{
		{Name: "match", Type: matchEnum},
		{Name: "serverProtocol", Type: schema.Union{Branches: []schema.Type{schema.Null, schema.String}}},
		{Name: "serverHash", Type: schema.Union{Branches: []schema.Type{schema.Null, md5Fixed}}},
		{Name: "meta", Type: schema.Union{Branches: []schema.Type{schema.Null, schema.Map{Values: schema.Bytes}}}},
	},
}

// Request is the Go-shaped HandshakeRequest.
type Request struct {
	ClientHash     [16]byte
	ClientProtocol *string // nil on first attempt; set on NONE retry
	ServerHash     [16]byte
	Meta           map[string][]byte
}

// Response is the Go-shaped HandshakeResponse.
type Response struct {
	Match          Match
	ServerProtocol *string
	ServerHash     *[16]byte
	Meta           map[string][]byte
}

func optionalString(s *string) schema.UnionValue {
	if s == nil {
		return schema.UnionValue{Index: 0, Value: nil}
	}
	return schema.UnionValue{Index: 1, Value: *s}
}

func optionalFixed(b *[16]byte) schema.UnionValue {
	if b == nil {
		return schema.UnionValue{Index: 0, Value: nil}
	}
	return schema.UnionValue{Index: 1, Value: b[:]}
}

func optionalMeta(m map[string][]byte) schema.UnionValue {
	if m == nil {
		return schema.UnionValue{Index: 0, Value: nil}
	}
	vals := make(map[string]interface{}, len(m))
	for k, v := range m {
		vals[k] = v
	}
	return schema.UnionValue{Index: 1, Value: vals}
}

// EncodeRequest appends req's Avro-binary encoding to buf.
func EncodeRequest(buf *bytes.Buffer, req Request) error {
	return RequestType.Encode(buf, map[string]interface{}{
		"clientHash":     req.ClientHash[:],
		"clientProtocol": optionalString(req.ClientProtocol),
		"serverHash":     req.ServerHash[:],
		"meta":           optionalMeta(req.Meta),
	})
}

// DecodeRequest reads a Request from r (§7 INVALID_HANDSHAKE_REQUEST on
// failure).
func DecodeRequest(r *schema.Reader) (Request, error) {
	v, err := RequestType.Decode(r)
	if err != nil {
		return Request{}, rpcerr.Wrap(rpcerr.InvalidHandshakeRequest, err, "decode handshake request")
	}
	fields := v.(map[string]interface{})
	req := Request{}
	copy(req.ClientHash[:], fields["clientHash"].([]byte))
	copy(req.ServerHash[:], fields["serverHash"].([]byte))
	if cp := fields["clientProtocol"].(schema.UnionValue); cp.Index == 1 {
		s := cp.Value.(string)
		req.ClientProtocol = &s
	}
	if meta := fields["meta"].(schema.UnionValue); meta.Index == 1 {
		req.Meta = toByteMap(meta.Value.(map[string]interface{}))
	}
	return req, nil
}

// EncodeResponse appends resp's Avro-binary encoding to buf.
func EncodeResponse(buf *bytes.Buffer, resp Response) error {
	return ResponseType.Encode(buf, map[string]interface{}{
		"match":          string(resp.Match),
		"serverProtocol": optionalString(resp.ServerProtocol),
		"serverHash":     optionalFixed(resp.ServerHash),
		"meta":           optionalMeta(resp.Meta),
	})
}

// DecodeResponse reads a Response from r (§7 INVALID_HANDSHAKE_RESPONSE
// on failure).
func DecodeResponse(r *schema.Reader) (Response, error) {
	v, err := ResponseType.Decode(r)
	if err != nil {
		return Response{}, rpcerr.Wrap(rpcerr.InvalidHandshakeResponse, err, "decode handshake response")
	}
	fields := v.(map[string]interface{})
	resp := Response{Match: Match(fields["match"].(string))}
	if sp := fields["serverProtocol"].(schema.UnionValue); sp.Index == 1 {
		s := sp.Value.(string)
		resp.ServerProtocol = &s
	}
	if sh := fields["serverHash"].(schema.UnionValue); sh.Index == 1 {
		var h [16]byte
		copy(h[:], sh.Value.([]byte))
		resp.ServerHash = &h
	}
	if meta := fields["meta"].(schema.UnionValue); meta.Index == 1 {
		resp.Meta = toByteMap(meta.Value.(map[string]interface{}))
	}
	return resp, nil
}

func toByteMap(m map[string]interface{}) map[string][]byte {
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		out[k] = v.([]byte)
	}
	return out
}
