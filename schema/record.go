package schema

import (
	"bytes"
	"fmt"
	"sort"

	"avrorpc/rpcerr"
)

// Record is a named ordered tuple of Fields, the backbone of
// requestType (§3: "record of parameters") and of any structured
// message payload.
type Record struct {
	Name   string
	Fields []Field
}

func (rt Record) fieldByName(name string) (Field, bool) {
	for _, f := range rt.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (rt Record) CanonicalJSON() string {
	s := fmt.Sprintf(`{"name":%q,"type":"record","fields":[`, rt.Name)
	for i, f := range rt.Fields {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf(`{"name":%q,"type":%s}`, f.Name, f.Type.CanonicalJSON())
	}
	return s + "]}"
}

func (rt Record) Equals(other Type) bool {
	o, ok := other.(Record)
	if !ok || o.Name != rt.Name || len(o.Fields) != len(rt.Fields) {
		return false
	}
	for i := range rt.Fields {
		if rt.Fields[i].Name != o.Fields[i].Name || !rt.Fields[i].Type.Equals(o.Fields[i].Type) {
			return false
		}
	}
	return true
}

// FieldNames returns field names in declaration order — used by the
// Client façade to pack positional call arguments (§4.7).
func (rt Record) FieldNames() []string {
	names := make([]string, len(rt.Fields))
	for i, f := range rt.Fields {
		names[i] = f.Name
	}
	return names
}

func (rt Record) Encode(buf *bytes.Buffer, v interface{}) error {
	values, ok := v.(map[string]interface{})
	if !ok {
		return rpcerr.New(rpcerr.InternalServerError, "record %s: expected map[string]interface{}, got %T", rt.Name, v)
	}
	for _, f := range rt.Fields {
		val, present := values[f.Name]
		if !present {
			if !f.HasDef {
				return rpcerr.New(rpcerr.InternalServerError, "record %s: missing field %q", rt.Name, f.Name)
			}
			val = f.Default
		}
		if err := f.Type.Encode(buf, val); err != nil {
			return fmt.Errorf("record %s.%s: %w", rt.Name, f.Name, err)
		}
	}
	return nil
}

func (rt Record) Decode(r *Reader) (interface{}, error) {
	out := make(map[string]interface{}, len(rt.Fields))
	for _, f := range rt.Fields {
		v, err := f.Type.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("record %s.%s: %w", rt.Name, f.Name, err)
		}
		out[f.Name] = v
	}
	return out, nil
}

func (rt Record) Resolver(writer Type) (Resolver, error) {
	w, ok := writer.(Record)
	if !ok {
		return nil, rpcerr.New(rpcerr.IncompatibleProtocol, "cannot resolve %v into record %s", writer, rt.Name)
	}
	if writer.Equals(rt) {
		return identityResolver{rt}, nil
	}

	// Field resolvers keyed by writer field name, built in the writer's
	// wire order since that's the order bytes must be consumed.
	plans := make([]recordFieldPlan, 0, len(w.Fields))
	seen := make(map[string]bool, len(rt.Fields))
	for _, wf := range w.Fields {
		rf, ok := rt.fieldByName(wf.Name)
		if !ok {
			plans = append(plans, recordFieldPlan{name: wf.Name, skipType: wf.Type})
			continue
		}
		seen[wf.Name] = true
		res, err := rf.Type.Resolver(wf.Type)
		if err != nil {
			return nil, fmt.Errorf("record %s.%s: %w", rt.Name, wf.Name, err)
		}
		plans = append(plans, recordFieldPlan{name: wf.Name, resolver: res})
	}

	// Reader-only fields must carry a default, since the writer never
	// sent bytes for them.
	var defaults []Field
	for _, rf := range rt.Fields {
		if !seen[rf.Name] {
			if !rf.HasDef {
				return nil, rpcerr.New(rpcerr.IncompatibleProtocol, "record %s: reader field %q has no writer counterpart and no default", rt.Name, rf.Name)
			}
			defaults = append(defaults, rf)
		}
	}
	sort.Slice(defaults, func(i, j int) bool { return defaults[i].Name < defaults[j].Name })

	return &recordResolver{plans: plans, defaults: defaults}, nil
}

// recordFieldPlan is one writer-order step for resolving a record: either
// translate the writer field into a named reader value, or decode and
// discard it (writer-only field with no reader counterpart).
type recordFieldPlan struct {
	name     string
	resolver Resolver
	skipType Type
}

type recordResolver struct {
	plans    []recordFieldPlan
	defaults []Field
}

func (r *recordResolver) Resolve(reader *Reader) (interface{}, error) {
	out := make(map[string]interface{}, len(r.plans)+len(r.defaults))
	for _, p := range r.plans {
		if p.resolver == nil {
			if _, err := p.skipType.Decode(reader); err != nil {
				return nil, err
			}
			continue
		}
		v, err := p.resolver.Resolve(reader)
		if err != nil {
			return nil, err
		}
		out[p.name] = v
	}
	for _, d := range r.defaults {
		out[d.Name] = d.Default
	}
	return out, nil
}
