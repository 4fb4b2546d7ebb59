package schema

import (
	"bytes"
	"fmt"

	"avrorpc/rpcerr"
)

// Union is a tagged choice between Branches, wire-encoded as a branch
// index followed by that branch's own encoding. errorType is always a
// Union whose first branch is string (§3 invariant); responseType and
// requestType fields may also be unions (e.g. `["null", "string"]`).
type Union struct {
	Branches []Type
}

func (u Union) CanonicalJSON() string {
	s := "["
	for i, b := range u.Branches {
		if i > 0 {
			s += ","
		}
		s += b.CanonicalJSON()
	}
	return s + "]"
}

func (u Union) Equals(other Type) bool {
	o, ok := other.(Union)
	if !ok || len(o.Branches) != len(u.Branches) {
		return false
	}
	for i := range u.Branches {
		if !u.Branches[i].Equals(o.Branches[i]) {
			return false
		}
	}
	return true
}

// IsStringFirst reports whether branch 0 is the plain string type —
// the "system error" branch every errorType union must start with.
func (u Union) IsStringFirst() bool {
	return len(u.Branches) > 0 && u.Branches[0].Equals(String)
}

func (u Union) Encode(buf *bytes.Buffer, v interface{}) error {
	uv, ok := v.(UnionValue)
	if !ok {
		// Accept a bare value for the common "exactly one non-null
		// branch" case by probing branches in order.
		for i, b := range u.Branches {
			if probeEncodable(b, v) {
				putLong(buf, int64(i))
				return b.Encode(buf, v)
			}
		}
		return rpcerr.New(rpcerr.InternalServerError, "union: value %T (%v) does not match any branch", v, v)
	}
	if uv.Index < 0 || uv.Index >= len(u.Branches) {
		return rpcerr.New(rpcerr.InternalServerError, "union: branch index %d out of range", uv.Index)
	}
	putLong(buf, int64(uv.Index))
	return u.Branches[uv.Index].Encode(buf, uv.Value)
}

// probeEncodable is a best-effort type match used only for the
// convenience "encode a bare value into a union" path.
func probeEncodable(t Type, v interface{}) bool {
	if t.Equals(Null) {
		return v == nil
	}
	if v == nil {
		return false
	}
	switch t.(type) {
	case Primitive:
		switch t.(Primitive).Kind {
		case KindString:
			_, ok := v.(string)
			return ok
		case KindBoolean:
			_, ok := v.(bool)
			return ok
		case KindBytes:
			_, ok := v.([]byte)
			return ok
		}
	}
	return true
}

func (u Union) Decode(r *Reader) (interface{}, error) {
	n, err := r.ReadLong()
	if err != nil {
		return nil, err
	}
	if int(n) < 0 || int(n) >= len(u.Branches) {
		return nil, rpcerr.New(rpcerr.InvalidRequest, "union: branch index %d out of range", n)
	}
	v, err := u.Branches[n].Decode(r)
	if err != nil {
		return nil, err
	}
	return UnionValue{Index: int(n), Value: v}, nil
}

func (u Union) Resolver(writer Type) (Resolver, error) {
	w, ok := writer.(Union)
	if !ok {
		// A non-union writer resolving into a union reader: find the
		// first reader branch the writer matches.
		for i, b := range u.Branches {
			if res, err := b.Resolver(writer); err == nil {
				return unionWrapResolver{index: i, inner: res}, nil
			}
		}
		return nil, rpcerr.New(rpcerr.IncompatibleProtocol, "cannot resolve %v into union", writer)
	}
	if writer.Equals(u) {
		return identityResolver{u}, nil
	}
	branchResolvers := make([]Resolver, len(w.Branches))
	for i, wb := range w.Branches {
		var chosen Resolver
		var lastErr error
		for _, rb := range u.Branches {
			res, err := rb.Resolver(wb)
			if err == nil {
				chosen = res
				break
			}
			lastErr = err
		}
		if chosen == nil {
			return nil, fmt.Errorf("union: no reader branch resolves writer branch %d (%v): %w", i, wb, lastErr)
		}
		branchResolvers[i] = chosen
	}
	return unionResolver{branches: branchResolvers}, nil
}

// unionResolver reads the writer's branch index, decodes with that
// branch's pre-resolved Resolver.
type unionResolver struct{ branches []Resolver }

func (r unionResolver) Resolve(reader *Reader) (interface{}, error) {
	n, err := reader.ReadLong()
	if err != nil {
		return nil, err
	}
	if int(n) < 0 || int(n) >= len(r.branches) {
		return nil, rpcerr.New(rpcerr.InvalidRequest, "union: branch index %d out of range", n)
	}
	v, err := r.branches[n].Resolve(reader)
	if err != nil {
		return nil, err
	}
	return UnionValue{Index: int(n), Value: v}, nil
}

// unionWrapResolver handles a non-union writer resolving into a union
// reader: no branch index on the wire, the value just is that reader
// branch.
type unionWrapResolver struct {
	index int
	inner Resolver
}

func (r unionWrapResolver) Resolve(reader *Reader) (interface{}, error) {
	v, err := r.inner.Resolve(reader)
	if err != nil {
		return nil, err
	}
	return UnionValue{Index: r.index, Value: v}, nil
}
