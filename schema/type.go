// Package schema is the narrow external collaborator §1 carves
// out of scope: "the underlying Avro type system (schema parsing,
// primitive codecs, field resolution)". The RPC core only ever talks to
// a Type through this interface — Encode/Decode, a canonical-form
// content hash, structural Equals, and Resolver construction — so a
// production deployment could swap this package for a generated-code
// Avro library without touching adapter/handshake/channel/rpc.
//
// No third-party Avro library appears anywhere in the retrieval pack
// (the one Avro reference, goavro, is a single vendored file, not an
// importable module), so this package is a from-scratch, idiomatic-Go
// implementation rather than a wrapped dependency — see DESIGN.md.
package schema

import (
	"bytes"
)

// Type is the minimal capability the RPC core needs from a schema node.
type Type interface {
	// Encode appends v's wire representation to buf.
	Encode(buf *bytes.Buffer, v interface{}) error
	// Decode reads one value of this type from r.
	Decode(r *Reader) (interface{}, error)
	// Equals reports structural equality; named types (record, enum,
	// fixed) also compare their names.
	Equals(other Type) bool
	// CanonicalJSON renders the Parsing Canonical Form used for
	// fingerprinting (§3: "stable content fingerprint ... over the
	// canonical JSON").
	CanonicalJSON() string
	// Resolver adapts bytes written by writer into values shaped like
	// this (reader) type. When writer.Equals(this), implementations
	// should return a resolver that is just this type's own Decode —
	// the "short-circuit" called out in §4.3.
	Resolver(writer Type) (Resolver, error)
}

// Resolver is a compiled reader-from-writer-bytes translation (§4.3,
// GLOSSARY "Resolver").
type Resolver interface {
	Resolve(r *Reader) (interface{}, error)
}

// identityResolver is what Resolver() returns when writer and reader are
// structurally identical: no translation needed, just decode.
type identityResolver struct{ t Type }

func (i identityResolver) Resolve(r *Reader) (interface{}, error) { return i.t.Decode(r) }

// Field is one named member of a Record.
type Field struct {
	Name    string
	Type    Type
	HasDef  bool
	Default interface{}
}

// UnionValue disambiguates which branch of a Union a value belongs to —
// Avro unions are wire-tagged by branch index, and Go has no native way
// to recover "this string came from branch 2" without it.
type UnionValue struct {
	Index int
	Value interface{}
}
