package handshake

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"avrorpc/schema"
)

func TestRequestRoundTrip(t *testing.T) {
	proto := "echo-protocol-json"
	req := Request{
		ClientHash:     [16]byte{1, 2, 3},
		ClientProtocol: &proto,
		ServerHash:     [16]byte{4, 5, 6},
		Meta:           map[string][]byte{"k": []byte("v")},
	}

	var buf bytes.Buffer
	require.NoError(t, EncodeRequest(&buf, req))

	got, err := DecodeRequest(schema.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, req.ClientHash, got.ClientHash)
	require.Equal(t, req.ServerHash, got.ServerHash)
	require.Equal(t, proto, *got.ClientProtocol)
	require.Equal(t, req.Meta, got.Meta)
}

func TestRequestRoundTripNoMeta(t *testing.T) {
	req := Request{ClientHash: [16]byte{9}, ServerHash: [16]byte{8}}

	var buf bytes.Buffer
	require.NoError(t, EncodeRequest(&buf, req))

	got, err := DecodeRequest(schema.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Nil(t, got.ClientProtocol)
	require.Nil(t, got.Meta)
}

func TestResponseRoundTripBoth(t *testing.T) {
	resp := Response{Match: MatchBoth}

	var buf bytes.Buffer
	require.NoError(t, EncodeResponse(&buf, resp))

	got, err := DecodeResponse(schema.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, MatchBoth, got.Match)
	require.Nil(t, got.ServerProtocol)
	require.Nil(t, got.ServerHash)
}

func TestResponseRoundTripNone(t *testing.T) {
	proto := "server-protocol-json"
	hash := [16]byte{7, 7, 7}
	resp := Response{Match: MatchNone, ServerProtocol: &proto, ServerHash: &hash}

	var buf bytes.Buffer
	require.NoError(t, EncodeResponse(&buf, resp))

	got, err := DecodeResponse(schema.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, MatchNone, got.Match)
	require.Equal(t, proto, *got.ServerProtocol)
	require.Equal(t, hash, *got.ServerHash)
}

func TestDecodeRequestTruncated(t *testing.T) {
	_, err := DecodeRequest(schema.NewReader([]byte{0x01}))
	require.Error(t, err)
}
