package schema

import (
	"bytes"
	"math"
)

// putLong appends the zigzag varint encoding of v to buf — the dual of
// Reader.ReadLong, and the encoding used for both "int" and "long" Avro
// types as well as every length prefix (bytes, string, array/map blocks).
func putLong(buf *bytes.Buffer, v int64) {
	zz := uint64(v<<1) ^ uint64(v>>63)
	for {
		b := byte(zz & 0x7f)
		zz >>= 7
		if zz != 0 {
			buf.WriteByte(b | 0x80)
		} else {
			buf.WriteByte(b)
			break
		}
	}
}

func putFloat(buf *bytes.Buffer, v float32) {
	bits := math.Float32bits(v)
	buf.WriteByte(byte(bits))
	buf.WriteByte(byte(bits >> 8))
	buf.WriteByte(byte(bits >> 16))
	buf.WriteByte(byte(bits >> 24))
}

func putDouble(buf *bytes.Buffer, v float64) {
	bits := math.Float64bits(v)
	for i := 0; i < 8; i++ {
		buf.WriteByte(byte(bits >> (8 * i)))
	}
}
