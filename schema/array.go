package schema

import (
	"bytes"
	"fmt"

	"avrorpc/rpcerr"
)

// Array is a homogeneous, variable-length list. Wire format is one
// block: a count, then that many items, terminated by a zero-count
// block (Avro supports multi-block arrays; this implementation always
// emits exactly one block, which any compliant reader accepts).
type Array struct {
	Items Type
}

func (a Array) CanonicalJSON() string {
	return fmt.Sprintf(`{"type":"array","items":%s}`, a.Items.CanonicalJSON())
}

func (a Array) Equals(other Type) bool {
	o, ok := other.(Array)
	return ok && a.Items.Equals(o.Items)
}

func (a Array) Encode(buf *bytes.Buffer, v interface{}) error {
	items, ok := v.([]interface{})
	if !ok {
		return rpcerr.New(rpcerr.InternalServerError, "array: expected []interface{}, got %T", v)
	}
	if len(items) > 0 {
		putLong(buf, int64(len(items)))
		for _, it := range items {
			if err := a.Items.Encode(buf, it); err != nil {
				return err
			}
		}
	}
	putLong(buf, 0)
	return nil
}

func (a Array) Decode(r *Reader) (interface{}, error) {
	var out []interface{}
	for {
		n, err := r.ReadLong()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		count := n
		if count < 0 {
			// negative block count means a byte-size prefix follows
			if _, err := r.ReadLong(); err != nil {
				return nil, err
			}
			count = -count
		}
		for i := int64(0); i < count; i++ {
			v, err := a.Items.Decode(r)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
	if out == nil {
		out = []interface{}{}
	}
	return out, nil
}

func (a Array) Resolver(writer Type) (Resolver, error) {
	w, ok := writer.(Array)
	if !ok {
		return nil, rpcerr.New(rpcerr.IncompatibleProtocol, "cannot resolve %v into array", writer)
	}
	if writer.Equals(a) {
		return identityResolver{a}, nil
	}
	itemResolver, err := a.Items.Resolver(w.Items)
	if err != nil {
		return nil, err
	}
	return arrayResolver{itemResolver}, nil
}

type arrayResolver struct{ items Resolver }

func (r arrayResolver) Resolve(reader *Reader) (interface{}, error) {
	var out []interface{}
	for {
		n, err := reader.ReadLong()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		count := n
		if count < 0 {
			if _, err := reader.ReadLong(); err != nil {
				return nil, err
			}
			count = -count
		}
		for i := int64(0); i < count; i++ {
			v, err := r.items.Resolve(reader)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
	if out == nil {
		out = []interface{}{}
	}
	return out, nil
}

// Map is a string-keyed homogeneous map — used for WrappedRequest and
// WrappedResponse headers (§3: "headers: map<string, bytes>").
type Map struct {
	Values Type
}

func (m Map) CanonicalJSON() string {
	return fmt.Sprintf(`{"type":"map","values":%s}`, m.Values.CanonicalJSON())
}

func (m Map) Equals(other Type) bool {
	o, ok := other.(Map)
	return ok && m.Values.Equals(o.Values)
}

func (m Map) Encode(buf *bytes.Buffer, v interface{}) error {
	entries, ok := v.(map[string]interface{})
	if !ok {
		return rpcerr.New(rpcerr.InternalServerError, "map: expected map[string]interface{}, got %T", v)
	}
	if len(entries) > 0 {
		putLong(buf, int64(len(entries)))
		for k, val := range entries {
			if err := String.Encode(buf, k); err != nil {
				return err
			}
			if err := m.Values.Encode(buf, val); err != nil {
				return err
			}
		}
	}
	putLong(buf, 0)
	return nil
}

func (m Map) Decode(r *Reader) (interface{}, error) {
	out := make(map[string]interface{})
	for {
		n, err := r.ReadLong()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		count := n
		if count < 0 {
			if _, err := r.ReadLong(); err != nil {
				return nil, err
			}
			count = -count
		}
		for i := int64(0); i < count; i++ {
			kv, err := String.Decode(r)
			if err != nil {
				return nil, err
			}
			v, err := m.Values.Decode(r)
			if err != nil {
				return nil, err
			}
			out[kv.(string)] = v
		}
	}
	return out, nil
}

func (m Map) Resolver(writer Type) (Resolver, error) {
	w, ok := writer.(Map)
	if !ok {
		return nil, rpcerr.New(rpcerr.IncompatibleProtocol, "cannot resolve %v into map", writer)
	}
	if writer.Equals(m) {
		return identityResolver{m}, nil
	}
	valResolver, err := m.Values.Resolver(w.Values)
	if err != nil {
		return nil, err
	}
	return mapResolver{valResolver}, nil
}

type mapResolver struct{ values Resolver }

func (r mapResolver) Resolve(reader *Reader) (interface{}, error) {
	out := make(map[string]interface{})
	for {
		n, err := reader.ReadLong()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		count := n
		if count < 0 {
			if _, err := reader.ReadLong(); err != nil {
				return nil, err
			}
			count = -count
		}
		for i := int64(0); i < count; i++ {
			kv, err := String.Decode(reader)
			if err != nil {
				return nil, err
			}
			v, err := r.values.Resolve(reader)
			if err != nil {
				return nil, err
			}
			out[kv.(string)] = v
		}
	}
	return out, nil
}
