package schema

import (
	"bytes"
	"fmt"

	"avrorpc/rpcerr"
)

// PrimitiveKind names one of the eight Avro primitive types.
type PrimitiveKind string

const (
	KindNull    PrimitiveKind = "null"
	KindBoolean PrimitiveKind = "boolean"
	KindInt     PrimitiveKind = "int"
	KindLong    PrimitiveKind = "long"
	KindFloat   PrimitiveKind = "float"
	KindDouble  PrimitiveKind = "double"
	KindBytes   PrimitiveKind = "bytes"
	KindString  PrimitiveKind = "string"
)

// Primitive is a stateless leaf type; a package-level value exists per
// kind (Null, Boolean, ...) since primitives carry no configuration.
type Primitive struct{ Kind PrimitiveKind }

var (
	Null    = Primitive{KindNull}
	Boolean = Primitive{KindBoolean}
	Int     = Primitive{KindInt}
	Long    = Primitive{KindLong}
	Float   = Primitive{KindFloat}
	Double  = Primitive{KindDouble}
	Bytes   = Primitive{KindBytes}
	String  = Primitive{KindString}
)

func (p Primitive) CanonicalJSON() string { return `"` + string(p.Kind) + `"` }

func (p Primitive) Equals(other Type) bool {
	o, ok := other.(Primitive)
	return ok && o.Kind == p.Kind
}

func (p Primitive) Encode(buf *bytes.Buffer, v interface{}) error {
	switch p.Kind {
	case KindNull:
		return nil
	case KindBoolean:
		b, ok := v.(bool)
		if !ok {
			return rpcerr.New(rpcerr.InternalServerError, "boolean: got %T", v)
		}
		if b {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		return nil
	case KindInt:
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		putLong(buf, n)
		return nil
	case KindLong:
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		putLong(buf, n)
		return nil
	case KindFloat:
		f, err := toFloat64(v)
		if err != nil {
			return err
		}
		putFloat(buf, float32(f))
		return nil
	case KindDouble:
		f, err := toFloat64(v)
		if err != nil {
			return err
		}
		putDouble(buf, f)
		return nil
	case KindBytes:
		b, ok := v.([]byte)
		if !ok {
			return rpcerr.New(rpcerr.InternalServerError, "bytes: got %T", v)
		}
		putLong(buf, int64(len(b)))
		buf.Write(b)
		return nil
	case KindString:
		s, ok := v.(string)
		if !ok {
			return rpcerr.New(rpcerr.InternalServerError, "string: got %T", v)
		}
		b := []byte(s)
		putLong(buf, int64(len(b)))
		buf.Write(b)
		return nil
	}
	return rpcerr.New(rpcerr.InternalServerError, "unknown primitive kind %s", p.Kind)
}

func (p Primitive) Decode(r *Reader) (interface{}, error) {
	switch p.Kind {
	case KindNull:
		return nil, nil
	case KindBoolean:
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		return b != 0, nil
	case KindInt:
		n, err := r.ReadLong()
		if err != nil {
			return nil, err
		}
		return int32(n), nil
	case KindLong:
		return r.ReadLong()
	case KindFloat:
		return r.ReadFloat()
	case KindDouble:
		return r.ReadDouble()
	case KindBytes:
		n, err := r.ReadLong()
		if err != nil {
			return nil, err
		}
		return r.ReadBytes(int(n))
	case KindString:
		n, err := r.ReadLong()
		if err != nil {
			return nil, err
		}
		b, err := r.ReadBytes(int(n))
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return nil, rpcerr.New(rpcerr.InternalServerError, "unknown primitive kind %s", p.Kind)
}

func (p Primitive) Resolver(writer Type) (Resolver, error) {
	if writer.Equals(p) {
		return identityResolver{p}, nil
	}
	return nil, rpcerr.New(rpcerr.IncompatibleProtocol, "cannot resolve %v into primitive %s", writer, p.Kind)
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	}
	return 0, rpcerr.New(rpcerr.InternalServerError, "expected integer, got %T", v)
}

func toFloat64(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("expected float, got %T", v)
}
