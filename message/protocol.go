package message

import (
	"encoding/json"
	"fmt"
	"sort"

	"avrorpc/rpcerr"
	"avrorpc/schema"
)

// protocolDoc mirrors the on-disk JSON shape of a protocol document:
// a named collection of shared types plus named messages, each with a
// request parameter list, a response type, and an optional error list.
type protocolDoc struct {
	Protocol  string                     `json:"protocol"`
	Namespace string                     `json:"namespace"`
	Doc       string                     `json:"doc"`
	Types     []json.RawMessage          `json:"types"`
	Messages  map[string]protocolMessage `json:"messages"`
}

type protocolMessage struct {
	Doc      string            `json:"doc"`
	Request  []protocolField   `json:"request"`
	Response json.RawMessage   `json:"response"`
	Errors   []json.RawMessage `json:"errors"`
	OneWay   bool              `json:"one-way"`
}

type protocolField struct {
	Name string          `json:"name"`
	Type json.RawMessage `json:"type"`
}

// NewService parses a protocol JSON document into a Service (§3, §6:
// "Construct a Service from a protocol JSON document").
func NewService(protocolJSON []byte) (*Service, error) {
	var doc protocolDoc
	if err := json.Unmarshal(protocolJSON, &doc); err != nil {
		return nil, rpcerr.Wrap(rpcerr.InternalServerError, err, "invalid protocol document")
	}
	if doc.Protocol == "" {
		return nil, rpcerr.New(rpcerr.InternalServerError, "protocol document missing \"protocol\" name")
	}

	named := schema.NamedTypes{}
	for i, raw := range doc.Types {
		if _, err := schema.ParseType(raw, named); err != nil {
			return nil, fmt.Errorf("protocol %s: type %d: %w", doc.Protocol, i, err)
		}
	}

	messages := make(map[string]Message, len(doc.Messages)+1)
	messages[""] = pingMessage()

	for name, pm := range doc.Messages {
		requestFields := make([]schema.Field, len(pm.Request))
		for i, pf := range pm.Request {
			ft, err := schema.ParseType(pf.Type, named)
			if err != nil {
				return nil, fmt.Errorf("protocol %s: message %s: request field %s: %w", doc.Protocol, name, pf.Name, err)
			}
			requestFields[i] = schema.Field{Name: pf.Name, Type: ft}
		}

		m := Message{
			Name:        name,
			RequestType: schema.Record{Name: doc.Protocol + "." + name + ".request", Fields: requestFields},
			OneWay:      pm.OneWay,
		}

		if !pm.OneWay {
			if len(pm.Response) > 0 {
				rt, err := schema.ParseType(pm.Response, named)
				if err != nil {
					return nil, fmt.Errorf("protocol %s: message %s: response: %w", doc.Protocol, name, err)
				}
				m.ResponseType = rt
			} else {
				m.ResponseType = schema.Null
			}

			branches := []schema.Type{schema.String}
			for i, raw := range pm.Errors {
				et, err := schema.ParseType(raw, named)
				if err != nil {
					return nil, fmt.Errorf("protocol %s: message %s: errors[%d]: %w", doc.Protocol, name, i, err)
				}
				branches = append(branches, et)
			}
			m.ErrorType = schema.Union{Branches: branches}
			m.HasError = true
		} else {
			m.ErrorType = schema.Union{Branches: []schema.Type{schema.String}}
			m.HasError = true
		}

		if err := m.validate(); err != nil {
			return nil, err
		}
		messages[name] = m
	}

	svc := &Service{
		Name:         doc.Protocol,
		Doc:          doc.Doc,
		Messages:     messages,
		ProtocolJSON: protocolJSON,
	}
	svc.Fingerprint = schema.Fingerprint(canonicalProtocolJSON(doc, svc))
	return svc, nil
}

// canonicalProtocolJSON renders a deterministic (sorted-key) JSON form
// of the protocol for fingerprinting (§3, GLOSSARY "Fingerprint"). It
// does not need to match any external Avro implementation's Parsing
// Canonical Form byte-for-byte — only to be stable and content-sensitive
// within this engine, which is both producer and sole consumer of it.
func canonicalProtocolJSON(doc protocolDoc, svc *Service) string {
	names := make([]string, 0, len(svc.Messages))
	for n := range svc.Messages {
		if n == "" {
			continue
		}
		names = append(names, n)
	}
	sort.Strings(names)

	s := fmt.Sprintf(`{"protocol":%q,"messages":{`, doc.Protocol)
	for i, n := range names {
		if i > 0 {
			s += ","
		}
		m := svc.Messages[n]
		s += fmt.Sprintf(`%q:{"request":%s,"one-way":%t`, n, m.RequestType.CanonicalJSON(), m.OneWay)
		if m.ResponseType != nil {
			s += fmt.Sprintf(`,"response":%s`, m.ResponseType.CanonicalJSON())
		}
		if m.HasError {
			s += fmt.Sprintf(`,"errors":%s`, m.ErrorType.CanonicalJSON())
		}
		s += "}"
	}
	s += "}}"
	return s
}
