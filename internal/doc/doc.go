// Package doc implements the ordered, dynamically-typed document value that
// the wire protocol carries as query criteria, replies and configuration
// records. It plays the role the specification assumes is given ("a
// document-tree value type with ordered fields, dynamic typing, and a
// canonical total order").
package doc

import "fmt"

// Value is any value a Doc field can hold: nil, bool, int64, float64,
// string, []byte, a nested Doc, or an Array.
type Value interface{}

// Array is an ordered list of Values, mirroring a BSON-style array field.
type Array []Value

// Field is one (name, value) pair of a Doc, kept in insertion order.
type Field struct {
	Name  string
	Value Value
}

// Doc is an ordered document: field order is preserved and significant for
// wire encoding, but lookups are by name.
type Doc struct {
	fields []Field
}

// New builds a Doc from a sequence of fields, preserving their order.
func New(fields ...Field) Doc {
	return Doc{fields: fields}
}

// F is a convenience constructor for a single Field.
func F(name string, value Value) Field {
	return Field{Name: name, Value: value}
}

// Get returns the value of the named field and whether it was present.
func (d Doc) Get(name string) (Value, bool) {
	for _, f := range d.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// GetDoc returns the named field as a nested Doc, if it is one.
func (d Doc) GetDoc(name string) (Doc, bool) {
	v, ok := d.Get(name)
	if !ok {
		return Doc{}, false
	}
	sub, ok := v.(Doc)
	return sub, ok
}

// Fields returns the ordered field list. Callers must not mutate the result.
func (d Doc) Fields() []Field {
	return d.fields
}

// Len returns the number of fields.
func (d Doc) Len() int {
	return len(d.fields)
}

// Empty reports whether the document has no fields.
func (d Doc) Empty() bool {
	return len(d.fields) == 0
}

// With returns a copy of d with field name set to value, appended if absent.
func (d Doc) With(name string, value Value) Doc {
	out := make([]Field, 0, len(d.fields)+1)
	replaced := false
	for _, f := range d.fields {
		if f.Name == name {
			out = append(out, Field{Name: name, Value: value})
			replaced = true
			continue
		}
		out = append(out, f)
	}
	if !replaced {
		out = append(out, Field{Name: name, Value: value})
	}
	return Doc{fields: out}
}

// Names returns the ordered field names.
func (d Doc) Names() []string {
	names := make([]string, len(d.fields))
	for i, f := range d.fields {
		names[i] = f.Name
	}
	return names
}

func (d Doc) String() string {
	return fmt.Sprintf("%v", d.fields)
}

// IsOperatorDoc reports whether v is a Doc whose first field starts with
// "$" — the shape of a query operator expression such as {$gt: 10}.
func IsOperatorDoc(v Value) bool {
	sub, ok := v.(Doc)
	if !ok || sub.Empty() {
		return false
	}
	return len(sub.fields[0].Name) > 0 && sub.fields[0].Name[0] == '$'
}

// AsIn returns the list argument of a {$in: [...]} value, if v has that
// shape.
func AsIn(v Value) (Array, bool) {
	sub, ok := v.(Doc)
	if !ok {
		return nil, false
	}
	inVal, ok := sub.Get("$in")
	if !ok {
		return nil, false
	}
	arr, ok := inVal.(Array)
	return arr, ok
}
