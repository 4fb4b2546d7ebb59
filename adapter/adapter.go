// Package adapter implements the per-peer resolver cache §4.3
// describes: given a local Service and a remote peer's Service (learned
// through a handshake), it compiles the request/response/error
// resolvers needed to translate the peer's bytes into local values for
// every message both sides share.
//
// Follows "one constructor builds a reusable, stateless translator you
// call repeatedly" — generalized from a single fixed wire format to a
// per-message, per-peer resolver set — and leans on
// schema.Record/Union's own Resolver methods (schema/record.go,
// schema/union.go), which do the actual per-field translation work
// this package wires together.
package adapter

import (
	"bytes"

	"github.com/hashicorp/go-multierror"

	"avrorpc/message"
	"avrorpc/rpcerr"
	"avrorpc/schema"
)

var headerMapType = schema.Map{Values: schema.Bytes}

// perMessage holds the three compiled resolvers for one shared message
// name (§4.3: "m?", "m!", "m*").
type perMessage struct {
	request  schema.Resolver // server reads what client wrote
	response schema.Resolver // client reads what server wrote
	err      schema.Resolver // client reads what server wrote, for errorType
	oneWay   bool
}

// Adapter is the triple (clientSvc, serverSvc, peerHash) plus every
// compiled per-message resolver (§3 "Adapter").
type Adapter struct {
	ClientSvc *message.Service
	ServerSvc *message.Service
	PeerHash  [16]byte
	IsRemote  bool

	messages map[string]perMessage
}

// New builds an Adapter for (clientSvc, serverSvc) pinned to peerHash.
// Construction enumerates clientSvc.Messages; any message missing on
// the server side, or present with a mismatched oneWay flag, is
// collected (not failed-fast) so the returned error enumerates every
// incompatibility in one IncompatibleProtocol (§4.3, §3 Adapter
// invariant).
func New(clientSvc, serverSvc *message.Service, peerHash [16]byte, isRemote bool) (*Adapter, error) {
	a := &Adapter{
		ClientSvc: clientSvc,
		ServerSvc: serverSvc,
		PeerHash:  peerHash,
		IsRemote:  isRemote,
		messages:  make(map[string]perMessage, len(clientSvc.Messages)),
	}

	var merr *multierror.Error
	for name, cm := range clientSvc.Messages {
		sm, ok := serverSvc.Messages[name]
		if !ok {
			merr = multierror.Append(merr, rpcerr.New(rpcerr.IncompatibleProtocol, "message %q: not present on peer", name))
			continue
		}
		if cm.OneWay != sm.OneWay {
			merr = multierror.Append(merr, rpcerr.New(rpcerr.IncompatibleProtocol, "message %q: one-way mismatch (client=%t, server=%t)", name, cm.OneWay, sm.OneWay))
			continue
		}

		pm := perMessage{oneWay: cm.OneWay}

		reqRes, err := sm.RequestType.Resolver(cm.RequestType)
		if err != nil {
			merr = multierror.Append(merr, rpcerr.Wrap(rpcerr.IncompatibleProtocol, err, "message %q: request", name))
			continue
		}
		pm.request = reqRes

		if !cm.OneWay {
			respRes, err := cm.ResponseType.Resolver(sm.ResponseType)
			if err != nil {
				merr = multierror.Append(merr, rpcerr.Wrap(rpcerr.IncompatibleProtocol, err, "message %q: response", name))
				continue
			}
			pm.response = respRes

			errRes, err := cm.ErrorType.Resolver(sm.ErrorType)
			if err != nil {
				merr = multierror.Append(merr, rpcerr.Wrap(rpcerr.IncompatibleProtocol, err, "message %q: error", name))
				continue
			}
			pm.err = errRes
		}

		a.messages[name] = pm
	}

	if merr != nil && len(merr.Errors) > 0 {
		return nil, rpcerr.Wrap(rpcerr.IncompatibleProtocol, merr.ErrorOrNil(), "adapter: %d incompatible message(s)", len(merr.Errors))
	}
	return a, nil
}

// WrappedRequest is the {msg, headers, request} envelope (§3).
type WrappedRequest struct {
	MessageName string
	Headers     map[string][]byte
	Request     interface{}
}

// WrappedResponse is the {headers, error, response} envelope (§3).
type WrappedResponse struct {
	Headers  map[string][]byte
	HasError bool
	Error    interface{}
	Response interface{}
}

// EncodeSystemError renders a synthetic error response for a call that
// never made it to a handler — malformed request bytes, an unknown
// message name, anything decoded before the real per-message resolvers
// are even known. It only relies on the "errorType's first branch is
// string" invariant every Message enforces (message.Message.validate),
// so it needs no Adapter or Message lookup and is safe to call from the
// channel layer before a request has been identified at all. Per-call
// decode failures answer the caller with this instead of tearing down
// the whole channel (§7: most per-call errors are recoverable).
func EncodeSystemError(headers map[string][]byte, errMsg string) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeHeaders(&buf, headers); err != nil {
		return nil, rpcerr.Wrap(rpcerr.InternalServerError, err, "encode system-error response headers")
	}
	if err := schema.Boolean.Encode(&buf, true); err != nil {
		return nil, rpcerr.Wrap(rpcerr.InternalServerError, err, "encode system-error flag")
	}
	systemErrorType := schema.Union{Branches: []schema.Type{schema.String}}
	if err := systemErrorType.Encode(&buf, errMsg); err != nil {
		return nil, rpcerr.Wrap(rpcerr.InternalServerError, err, "encode system-error body")
	}
	return buf.Bytes(), nil
}

func encodeHeaders(buf *bytes.Buffer, headers map[string][]byte) error {
	vals := make(map[string]interface{}, len(headers))
	for k, v := range headers {
		vals[k] = v
	}
	return headerMapType.Encode(buf, vals)
}

func decodeHeaders(r *schema.Reader) (map[string][]byte, error) {
	v, err := headerMapType.Decode(r)
	if err != nil {
		return nil, err
	}
	raw := v.(map[string]interface{})
	out := make(map[string][]byte, len(raw))
	for k, b := range raw {
		out[k] = b.([]byte)
	}
	return out, nil
}

// EncodeRequest renders wreq as `encode(headers) ‖ encode(name) ‖
// msg.requestType.encode(request)` (§3, §6).
func (a *Adapter) EncodeRequest(msg message.Message, wreq WrappedRequest) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeHeaders(&buf, wreq.Headers); err != nil {
		return nil, rpcerr.Wrap(rpcerr.InternalServerError, err, "encode request headers")
	}
	if err := schema.String.Encode(&buf, wreq.MessageName); err != nil {
		return nil, rpcerr.Wrap(rpcerr.InternalServerError, err, "encode message name")
	}
	if err := msg.RequestType.Encode(&buf, wreq.Request); err != nil {
		return nil, rpcerr.Wrap(rpcerr.InternalServerError, err, "encode request body")
	}
	return buf.Bytes(), nil
}

// DecodeRequest implements §4.3's decodeRequest: reads headers, then
// the message name. An empty name denotes the built-in ping message,
// whose body must be empty. The returned name still needs a Service
// lookup by the caller to find the Message descriptor for decoding the
// request value itself (this package only knows the adapter's
// resolvers once the name is known).
func (a *Adapter) DecodeRequest(payload []byte) (*WrappedRequest, string, *schema.Reader, error) {
	r := schema.NewReader(payload)
	headers, err := decodeHeaders(r)
	if err != nil {
		return nil, "", nil, rpcerr.Wrap(rpcerr.InvalidRequest, err, "decode request headers")
	}
	nameVal, err := schema.String.Decode(r)
	if err != nil {
		return nil, "", nil, rpcerr.Wrap(rpcerr.InvalidRequest, err, "decode message name")
	}
	name := nameVal.(string)
	return &WrappedRequest{MessageName: name, Headers: headers}, name, r, nil
}

// DecodeRequestBody decodes the request value for name using the
// message's compiled request resolver, completing the WrappedRequest
// DecodeRequest started.
func (a *Adapter) DecodeRequestBody(wreq *WrappedRequest, r *schema.Reader) error {
	if wreq.MessageName == "" {
		if !r.Exhausted() {
			return rpcerr.New(rpcerr.InvalidRequest, "ping request must have an empty body")
		}
		wreq.Request = map[string]interface{}{}
		return nil
	}
	pm, ok := a.messages[wreq.MessageName]
	if !ok {
		return rpcerr.New(rpcerr.UnknownProtocol, "message %q unknown to adapter", wreq.MessageName)
	}
	v, err := pm.request.Resolve(r)
	if err != nil {
		return rpcerr.Wrap(rpcerr.InvalidRequest, err, "resolve request body for %q", wreq.MessageName)
	}
	if !r.Exhausted() {
		return rpcerr.New(rpcerr.InvalidRequest, "message %q: %d trailing byte(s) after request", wreq.MessageName, r.Remaining())
	}
	wreq.Request = v
	return nil
}

// EncodeResponse renders wres as `encode(headers) ‖ encode(hasError) ‖
// (hasError ? errorType.encode(error) : responseType.encode(response))`
// (§3, §6).
func (a *Adapter) EncodeResponse(msg message.Message, wres WrappedResponse) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeHeaders(&buf, wres.Headers); err != nil {
		return nil, rpcerr.Wrap(rpcerr.InternalServerError, err, "encode response headers")
	}
	if err := schema.Boolean.Encode(&buf, wres.HasError); err != nil {
		return nil, rpcerr.Wrap(rpcerr.InternalServerError, err, "encode error flag")
	}
	if wres.HasError {
		if err := msg.ErrorType.Encode(&buf, wres.Error); err != nil {
			return nil, rpcerr.Wrap(rpcerr.InternalServerError, err, "encode error body")
		}
	} else {
		if err := msg.ResponseType.Encode(&buf, wres.Response); err != nil {
			return nil, rpcerr.Wrap(rpcerr.InternalServerError, err, "encode response body")
		}
	}
	return buf.Bytes(), nil
}

// DecodeResponse implements §4.3's decodeResponse for the named
// message, dispatching to the response or error resolver based on the
// wire's hasError flag.
func (a *Adapter) DecodeResponse(payload []byte, msgName string) (*WrappedResponse, error) {
	r := schema.NewReader(payload)
	headers, err := decodeHeaders(r)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.InvalidResponse, err, "decode response headers")
	}
	hasErrVal, err := schema.Boolean.Decode(r)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.InvalidResponse, err, "decode error flag")
	}
	hasErr := hasErrVal.(bool)

	wres := &WrappedResponse{Headers: headers, HasError: hasErr}

	if msgName == "" {
		v, err := schema.Union{Branches: []schema.Type{schema.String}}.Decode(r)
		if err != nil {
			return nil, rpcerr.Wrap(rpcerr.InvalidResponse, err, "decode ping response")
		}
		if uv, ok := v.(schema.UnionValue); ok {
			v = uv.Value
		}
		wres.Response = v
		return wres, nil
	}

	pm, ok := a.messages[msgName]
	if !ok {
		return nil, rpcerr.New(rpcerr.UnknownProtocol, "message %q unknown to adapter", msgName)
	}

	if hasErr {
		v, err := pm.err.Resolve(r)
		if err != nil {
			return nil, rpcerr.Wrap(rpcerr.InvalidResponse, err, "resolve error body for %q", msgName)
		}
		wres.Error = v
	} else {
		v, err := pm.response.Resolve(r)
		if err != nil {
			return nil, rpcerr.Wrap(rpcerr.InvalidResponse, err, "resolve response body for %q", msgName)
		}
		wres.Response = v
	}
	if !r.Exhausted() {
		return nil, rpcerr.New(rpcerr.InvalidResponse, "message %q: %d trailing byte(s) after response", msgName, r.Remaining())
	}
	return wres, nil
}
