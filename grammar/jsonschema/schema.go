// Package jsonschema decodes JSON Schema documents into an ordered,
// normalized in-memory form suitable for grammar compilation.
//
// Property order is significant: the grammar compiled from a schema emits
// object members in the order they were declared, so Properties is an
// ordered list, not a map.
package jsonschema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Schema holds a decoded JSON schema node.
type Schema struct {
	// Name is the name of the property. For the root schema this is
	// "root". For child properties, this is the property name.
	Name string `json:"-"`

	// Path is the slash-separated path from the root to this node, e.g.
	// "root/spec/containers". Populated by Parse.
	Path string `json:"-"`

	// Type is the declared type of the property. Union types are not
	// supported; use AnyOf.
	Type string

	// Properties is the schema for each property of an object, in
	// declaration order.
	Properties []*Schema

	// Required lists property names that must be present. Properties not
	// listed here are optional.
	Required []string

	// Items is the schema for each item in an array.
	//
	// If it is missing, or its JSON value is "null" or "false", it is
	// nil. If the JSON value is "true", it is the empty Schema. If the
	// JSON value is an object, it is decoded as a Schema.
	Items *Schema

	// Enum is a list of valid values for the property, as raw JSON
	// literals.
	Enum []json.RawMessage

	// Pattern is a regular expression a string value must match. Only a
	// subset of regular expression syntax is supported by the grammar
	// compiler.
	Pattern string

	// AnyOf is an ordered list of alternative schemas.
	AnyOf []*Schema

	// Ref is an unresolved "$ref" value. Parse resolves local refs
	// against Defs and clears this field.
	Ref string `json:"$ref"`

	// Defs holds the "$defs" section. Only the root schema's Defs are
	// consulted during resolution.
	Defs map[string]*Schema `json:"$defs"`
}

// ParseError reports a schema document that could not be decoded or
// normalized.
type ParseError struct {
	Path   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("jsonschema: %s: %s", e.Path, e.Reason)
}

// Parse decodes data into a Schema, resolves local $refs, and assigns
// names and paths. The returned schema is immutable by convention; callers
// must not modify it after Parse returns.
func Parse(data []byte) (*Schema, error) {
	var s *Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, &ParseError{Path: "root", Reason: err.Error()}
	}
	if s == nil {
		return nil, &ParseError{Path: "root", Reason: "document is null"}
	}
	s.Name = "root"
	if err := resolve(s, s, nil); err != nil {
		return nil, err
	}
	name(s, "root")
	return s, nil
}

// resolve replaces local $ref nodes with their $defs targets. A ref chain
// that revisits a node is unbounded recursion, which the flattened
// automaton cannot represent.
func resolve(root, s *Schema, seen []*Schema) error {
	if s == nil {
		return nil
	}
	for s.Ref != "" {
		const prefix = "#/$defs/"
		if len(s.Ref) <= len(prefix) || s.Ref[:len(prefix)] != prefix {
			return &ParseError{Path: s.Path, Reason: fmt.Sprintf("unsupported $ref %q", s.Ref)}
		}
		def, ok := root.Defs[s.Ref[len(prefix):]]
		if !ok {
			return &ParseError{Path: s.Path, Reason: fmt.Sprintf("unresolved $ref %q", s.Ref)}
		}
		for _, p := range seen {
			if p == def {
				return &ParseError{Path: s.Path, Reason: fmt.Sprintf("recursive $ref %q", s.Ref)}
			}
		}
		seen = append(seen, def)
		// the copy keeps def.Ref, so chained refs resolve on the next
		// pass of the loop
		name, defs := s.Name, s.Defs
		*s = *def
		s.Name = name
		s.Defs = defs
	}
	for _, p := range s.Properties {
		if err := resolve(root, p, seen); err != nil {
			return err
		}
	}
	for _, a := range s.AnyOf {
		if err := resolve(root, a, seen); err != nil {
			return err
		}
	}
	return resolve(root, s.Items, seen)
}

func name(s *Schema, path string) {
	s.Path = path
	for _, p := range s.Properties {
		name(p, path+"/"+p.Name)
	}
	for i, a := range s.AnyOf {
		a.Name = s.Name
		name(a, fmt.Sprintf("%s/anyOf/%d", path, i))
	}
	if s.Items != nil {
		s.Items.Name = s.Name
		name(s.Items, path+"/items")
	}
}

func (s *Schema) UnmarshalJSON(data []byte) error {
	type S Schema
	w := struct {
		Properties props
		Items      items
		*S
	}{
		S: (*S)(s),
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Items.set {
		s.Items = &w.Items.Schema
	}
	s.Properties = w.Properties
	return nil
}

type items struct {
	Schema
	set bool
}

func (s *items) UnmarshalJSON(data []byte) error {
	switch b := data[0]; b {
	case 't':
		*s = items{set: true}
	case '{':
		type I items
		if err := json.Unmarshal(data, (*I)(s)); err != nil {
			return err
		}
		s.set = true
	case 'n', 'f':
	default:
		return errors.New("invalid Items")
	}
	return nil
}

// IsRequired reports whether the named property is listed in Required.
func (s *Schema) IsRequired(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// EffectiveType returns the effective type of the schema. If the Type field
// is not empty, it is returned; otherwise:
//
//   - If the schema has Properties, it returns "object".
//   - If the schema has Items, it returns "array".
//   - If the schema has AnyOf, it returns "anyOf".
//   - Otherwise it returns "value".
//
// The returned string is never empty.
func (s *Schema) EffectiveType() string {
	if s.Type == "" {
		if len(s.Properties) > 0 {
			return "object"
		}
		if s.Items != nil {
			return "array"
		}
		if len(s.AnyOf) > 0 {
			return "anyOf"
		}
		return "value"
	}
	return s.Type
}

// props is an ordered list of properties. The order of the properties
// is the order in which they were defined in the schema.
type props []*Schema

var _ json.Unmarshaler = (*props)(nil)

func (v *props) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if data[0] != '{' {
		return errors.New("expected object")
	}

	d := json.NewDecoder(bytes.NewReader(data))

	t, err := d.Token()
	if err != nil {
		return err
	}
	if t != json.Delim('{') {
		return errors.New("expected object")
	}
	for d.More() {
		// Use the first token (map key) as the property name, then
		// decode the rest of the object fields into a Schema and
		// append.
		t, err := d.Token()
		if err != nil {
			return err
		}
		if t == json.Delim('}') {
			return nil
		}
		s := &Schema{
			Name: t.(string),
		}
		if err := d.Decode(s); err != nil {
			return err
		}
		*v = append(*v, s)
	}
	return nil
}
