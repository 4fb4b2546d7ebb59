package schema

import (
	"encoding/json"
	"fmt"

	"avrorpc/rpcerr"
)

// NamedTypes tracks record/enum/fixed definitions by fully-qualified
// name as they're parsed, so later fields can reference them by name
// instead of redeclaring them (the way Avro schema documents do).
type NamedTypes map[string]Type

// ParseType parses one Avro schema JSON fragment: a bare string (a
// primitive kind or a reference to an already-defined named type), a
// JSON array (a union), or a JSON object (record/array/map/fixed/enum).
func ParseType(raw json.RawMessage, named NamedTypes) (Type, error) {
	if named == nil {
		named = NamedTypes{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return resolveBareName(s, named)
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		branches := make([]Type, len(arr))
		for i, item := range arr {
			t, err := ParseType(item, named)
			if err != nil {
				return nil, fmt.Errorf("union branch %d: %w", i, err)
			}
			branches[i] = t
		}
		return Union{Branches: branches}, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, rpcerr.New(rpcerr.InternalServerError, "invalid schema fragment: %s", string(raw))
	}
	return parseObject(obj, named)
}

func resolveBareName(name string, named NamedTypes) (Type, error) {
	switch PrimitiveKind(name) {
	case KindNull, KindBoolean, KindInt, KindLong, KindFloat, KindDouble, KindBytes, KindString:
		return Primitive{Kind: PrimitiveKind(name)}, nil
	}
	if t, ok := named[name]; ok {
		return t, nil
	}
	return nil, rpcerr.New(rpcerr.InternalServerError, "unknown named type %q", name)
}

func parseObject(obj map[string]json.RawMessage, named NamedTypes) (Type, error) {
	var typeField string
	if raw, ok := obj["type"]; ok {
		if err := json.Unmarshal(raw, &typeField); err != nil {
			return nil, fmt.Errorf("type field: %w", err)
		}
	}

	switch typeField {
	case "record", "error":
		var name string
		json.Unmarshal(obj["name"], &name)
		var rawFields []struct {
			Name    string          `json:"name"`
			Type    json.RawMessage `json:"type"`
			Default json.RawMessage `json:"default"`
		}
		if err := json.Unmarshal(obj["fields"], &rawFields); err != nil {
			return nil, fmt.Errorf("record %s fields: %w", name, err)
		}
		rt := Record{Name: name}
		named[name] = rt // allow self-reference before fields are filled in
		for _, rf := range rawFields {
			ft, err := ParseType(rf.Type, named)
			if err != nil {
				return nil, fmt.Errorf("record %s.%s: %w", name, rf.Name, err)
			}
			f := Field{Name: rf.Name, Type: ft}
			if len(rf.Default) > 0 {
				var def interface{}
				if err := json.Unmarshal(rf.Default, &def); err == nil {
					f.HasDef = true
					f.Default = def
				}
			}
			rt.Fields = append(rt.Fields, f)
		}
		named[name] = rt
		return rt, nil

	case "array":
		items, err := ParseType(obj["items"], named)
		if err != nil {
			return nil, fmt.Errorf("array items: %w", err)
		}
		return Array{Items: items}, nil

	case "map":
		values, err := ParseType(obj["values"], named)
		if err != nil {
			return nil, fmt.Errorf("map values: %w", err)
		}
		return Map{Values: values}, nil

	case "fixed":
		var name string
		var size int
		json.Unmarshal(obj["name"], &name)
		json.Unmarshal(obj["size"], &size)
		f := Fixed{Name: name, Size: size}
		named[name] = f
		return f, nil

	case "enum":
		var name string
		var symbols []string
		json.Unmarshal(obj["name"], &name)
		json.Unmarshal(obj["symbols"], &symbols)
		e := Enum{Name: name, Symbols: symbols}
		named[name] = e
		return e, nil

	case "":
		return nil, rpcerr.New(rpcerr.InternalServerError, "schema object missing \"type\"")
	default:
		// Some schemas nest a logical/primitive type under "type" as an
		// object, e.g. {"type": "long"} with extra props — unwrap once.
		return resolveBareName(typeField, named)
	}
}
