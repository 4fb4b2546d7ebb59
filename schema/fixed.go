package schema

import (
	"bytes"
	"fmt"

	"avrorpc/rpcerr"
)

// Fixed is a named, fixed-width byte type — used by the handshake
// records for the 16-byte MD5 protocol fingerprints (§4.4).
type Fixed struct {
	Name string
	Size int
}

func (f Fixed) CanonicalJSON() string {
	return fmt.Sprintf(`{"name":%q,"type":"fixed","size":%d}`, f.Name, f.Size)
}

func (f Fixed) Equals(other Type) bool {
	o, ok := other.(Fixed)
	return ok && o.Name == f.Name && o.Size == f.Size
}

func (f Fixed) Encode(buf *bytes.Buffer, v interface{}) error {
	b, ok := v.([]byte)
	if !ok || len(b) != f.Size {
		return rpcerr.New(rpcerr.InternalServerError, "fixed %s: expected %d bytes, got %T (len %d)", f.Name, f.Size, v, len(b))
	}
	buf.Write(b)
	return nil
}

func (f Fixed) Decode(r *Reader) (interface{}, error) {
	return r.ReadBytes(f.Size)
}

func (f Fixed) Resolver(writer Type) (Resolver, error) {
	if writer.Equals(f) {
		return identityResolver{f}, nil
	}
	return nil, rpcerr.New(rpcerr.IncompatibleProtocol, "cannot resolve %v into fixed %s", writer, f.Name)
}

// Enum is a named type whose values are one of a fixed ordered set of
// symbols, wire-encoded as the symbol's index.
type Enum struct {
	Name    string
	Symbols []string
}

func (e Enum) CanonicalJSON() string {
	s := fmt.Sprintf(`{"name":%q,"type":"enum","symbols":[`, e.Name)
	for i, sym := range e.Symbols {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%q", sym)
	}
	return s + "]}"
}

func (e Enum) Equals(other Type) bool {
	o, ok := other.(Enum)
	if !ok || o.Name != e.Name || len(o.Symbols) != len(e.Symbols) {
		return false
	}
	for i := range e.Symbols {
		if e.Symbols[i] != o.Symbols[i] {
			return false
		}
	}
	return true
}

func (e Enum) indexOf(sym string) int {
	for i, s := range e.Symbols {
		if s == sym {
			return i
		}
	}
	return -1
}

func (e Enum) Encode(buf *bytes.Buffer, v interface{}) error {
	sym, ok := v.(string)
	if !ok {
		return rpcerr.New(rpcerr.InternalServerError, "enum %s: expected string symbol, got %T", e.Name, v)
	}
	idx := e.indexOf(sym)
	if idx < 0 {
		return rpcerr.New(rpcerr.InternalServerError, "enum %s: unknown symbol %q", e.Name, sym)
	}
	putLong(buf, int64(idx))
	return nil
}

func (e Enum) Decode(r *Reader) (interface{}, error) {
	n, err := r.ReadLong()
	if err != nil {
		return nil, err
	}
	if int(n) < 0 || int(n) >= len(e.Symbols) {
		return nil, rpcerr.New(rpcerr.InvalidRequest, "enum %s: symbol index %d out of range", e.Name, n)
	}
	return e.Symbols[n], nil
}

func (e Enum) Resolver(writer Type) (Resolver, error) {
	w, ok := writer.(Enum)
	if !ok {
		return nil, rpcerr.New(rpcerr.IncompatibleProtocol, "cannot resolve %v into enum %s", writer, e.Name)
	}
	if writer.Equals(e) {
		return identityResolver{e}, nil
	}
	return enumResolver{writer: w, reader: e}, nil
}

// enumResolver remaps a writer symbol index to the reader's symbol set
// by name, so adding/reordering enum symbols doesn't break resolution.
type enumResolver struct {
	writer Enum
	reader Enum
}

func (r enumResolver) Resolve(reader *Reader) (interface{}, error) {
	v, err := r.writer.Decode(reader)
	if err != nil {
		return nil, err
	}
	sym := v.(string)
	if r.reader.indexOf(sym) < 0 {
		return nil, rpcerr.New(rpcerr.IncompatibleProtocol, "enum %s: writer symbol %q unknown to reader", r.reader.Name, sym)
	}
	return sym, nil
}
