package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStandardCodecRoundTrip(t *testing.T) {
	f := Frame{Payload: [][]byte{[]byte("hello"), []byte("world")}}

	var dst []byte
	dst, err := StandardCodec{}.Encode(dst, f)
	require.NoError(t, err)

	dec := StandardCodec{}.NewDecoder()
	dec.Feed(dst)
	got, ok, err := dec.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, got.ID)
	require.Equal(t, f.Payload, got.Payload)
}

func TestStandardCodecFragmentedFeed(t *testing.T) {
	f := Frame{Payload: [][]byte{[]byte("abcdef"), []byte("g")}}
	var dst []byte
	dst, err := StandardCodec{}.Encode(dst, f)
	require.NoError(t, err)

	dec := StandardCodec{}.NewDecoder()
	for _, b := range dst {
		dec.Feed([]byte{b})
		frame, ok, err := dec.Next()
		require.NoError(t, err)
		if ok {
			require.Equal(t, f.Payload, frame.Payload)
		}
	}
}

func TestStandardCodecMultipleFramesInOneFeed(t *testing.T) {
	f1 := Frame{Payload: [][]byte{[]byte("one")}}
	f2 := Frame{Payload: [][]byte{[]byte("two")}}

	var dst []byte
	dst, err := StandardCodec{}.Encode(dst, f1)
	require.NoError(t, err)
	dst, err = StandardCodec{}.Encode(dst, f2)
	require.NoError(t, err)

	dec := StandardCodec{}.NewDecoder()
	dec.Feed(dst)

	got1, ok, err := dec.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, f1.Payload, got1.Payload)

	got2, ok, err := dec.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, f2.Payload, got2.Payload)

	_, ok, err = dec.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStandardCodecFlushReportsTrailingBytes(t *testing.T) {
	f := Frame{Payload: [][]byte{[]byte("hello")}}
	dst, err := StandardCodec{}.Encode(nil, f)
	require.NoError(t, err)

	// Drop the terminator and part of the length-prefixed payload: a
	// truncated stream, not a frame still in flight.
	truncated := dst[:len(dst)-6]

	dec := StandardCodec{}.NewDecoder()
	dec.Feed(truncated)
	_, ok, err := dec.Next()
	require.NoError(t, err)
	require.False(t, ok)

	flusher, ok := dec.(Flusher)
	require.True(t, ok)
	require.Error(t, flusher.Flush())
}

func TestStandardCodecFlushCleanAfterTerminator(t *testing.T) {
	f := Frame{Payload: [][]byte{[]byte("hello")}}
	dst, err := StandardCodec{}.Encode(nil, f)
	require.NoError(t, err)

	dec := StandardCodec{}.NewDecoder()
	dec.Feed(dst)
	_, ok, err := dec.Next()
	require.NoError(t, err)
	require.True(t, ok)

	flusher, ok := dec.(Flusher)
	require.True(t, ok)
	require.NoError(t, flusher.Flush())
}

func TestNettyCodecRoundTrip(t *testing.T) {
	id := ScopedID(7, 42)
	f := Frame{ID: &id, Payload: [][]byte{[]byte("req-header"), []byte("req-body")}}

	var dst []byte
	dst, err := NettyCodec{}.Encode(dst, f)
	require.NoError(t, err)

	dec := NettyCodec{}.NewDecoder()
	dec.Feed(dst)
	got, ok, err := dec.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, *got.ID)
	require.Equal(t, f.Payload, got.Payload)

	scope, reg := SplitScopedID(*got.ID)
	require.EqualValues(t, 7, scope)
	require.EqualValues(t, 42, reg)
}

func TestNettyCodecRequiresID(t *testing.T) {
	_, err := NettyCodec{}.Encode(nil, Frame{Payload: [][]byte{[]byte("x")}})
	require.Error(t, err)
}

func TestNettyCodecFragmentedFeed(t *testing.T) {
	id := ScopedID(1, 1)
	f := Frame{ID: &id, Payload: [][]byte{[]byte("aa"), []byte("bbb"), []byte("c")}}

	var dst []byte
	dst, err := NettyCodec{}.Encode(dst, f)
	require.NoError(t, err)

	dec := NettyCodec{}.NewDecoder()
	mid := len(dst) / 2
	dec.Feed(dst[:mid])
	_, ok, err := dec.Next()
	require.NoError(t, err)
	require.False(t, ok)

	dec.Feed(dst[mid:])
	got, ok, err := dec.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, f.Payload, got.Payload)
}

func TestScopedIDRoundTrip(t *testing.T) {
	id := ScopedID(0xBEEF, 0xCAFE)
	scope, reg := SplitScopedID(id)
	require.EqualValues(t, 0xBEEF, scope)
	require.EqualValues(t, 0xCAFE, reg)
}
