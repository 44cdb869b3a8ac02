package record

import (
	"fmt"

	"pipekit/internal/errs"
)

// Field is one named value inside a record.
type Field struct {
	Name  string
	Value Value
}

// indexThreshold is the field count above which a record keeps a name
// index; below it a linear scan is faster than a map lookup.
const indexThreshold = 8

// Record is an ordered, immutable set of uniquely named fields. The zero
// Record is empty and ready to use.
type Record struct {
	fields []Field
	index  map[string]int
}

// New builds a record from fields, rejecting duplicate names.
func New(fields ...Field) (Record, error) {
	b := NewBuilder(len(fields))
	for _, f := range fields {
		if err := b.Set(f.Name, f.Value); err != nil {
			return Record{}, err
		}
	}
	return b.Build(), nil
}

// MustNew is New for literals in tests and examples; it panics on duplicates.
func MustNew(fields ...Field) Record {
	r, err := New(fields...)
	if err != nil {
		panic(err)
	}
	return r
}

// F is shorthand for a Field literal.
func F(name string, v Value) Field { return Field{Name: name, Value: v} }

// Len returns the number of fields.
func (r Record) Len() int { return len(r.fields) }

// Field returns the i-th field in insertion order.
func (r Record) Field(i int) Field { return r.fields[i] }

// Fields returns a copy of the fields in insertion order.
func (r Record) Fields() []Field {
	cp := make([]Field, len(r.fields))
	copy(cp, r.fields)
	return cp
}

// Names returns the field names in insertion order.
func (r Record) Names() []string {
	out := make([]string, len(r.fields))
	for i, f := range r.fields {
		out[i] = f.Name
	}
	return out
}

func (r Record) pos(name string) int {
	if r.index != nil {
		if i, ok := r.index[name]; ok {
			return i
		}
		return -1
	}
	for i := range r.fields {
		if r.fields[i].Name == name {
			return i
		}
	}
	return -1
}

// Lookup returns the value of the named field and whether it exists.
func (r Record) Lookup(name string) (Value, bool) {
	if i := r.pos(name); i >= 0 {
		return r.fields[i].Value, true
	}
	return Value{}, false
}

// Get returns the value of the named field or an error wrapping
// errs.ErrMissingField.
func (r Record) Get(name string) (Value, error) {
	if v, ok := r.Lookup(name); ok {
		return v, nil
	}
	return Value{}, fmt.Errorf("%w: %q", errs.ErrMissingField, name)
}

// Has reports whether the named field exists.
func (r Record) Has(name string) bool { return r.pos(name) >= 0 }

// With returns a copy of r where name is set to v. An existing field keeps
// its position; a new field is appended.
func (r Record) With(name string, v Value) Record {
	fields := make([]Field, len(r.fields), len(r.fields)+1)
	copy(fields, r.fields)
	if i := r.pos(name); i >= 0 {
		fields[i].Value = v
	} else {
		fields = append(fields, Field{Name: name, Value: v})
	}
	return fromFields(fields)
}

// Without returns a copy of r minus the named fields.
func (r Record) Without(names ...string) Record {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	fields := make([]Field, 0, len(r.fields))
	for _, f := range r.fields {
		if _, ok := drop[f.Name]; !ok {
			fields = append(fields, f)
		}
	}
	return fromFields(fields)
}

// Rename returns a copy of r with field from renamed to to, keeping its
// position. Renaming onto an existing different field is an error.
func (r Record) Rename(from, to string) (Record, error) {
	i := r.pos(from)
	if i < 0 {
		return Record{}, fmt.Errorf("rename: %w: %q", errs.ErrMissingField, from)
	}
	if from == to {
		return r, nil
	}
	if r.Has(to) {
		return Record{}, fmt.Errorf("rename %q: field %q already exists", from, to)
	}
	fields := make([]Field, len(r.fields))
	copy(fields, r.fields)
	fields[i].Name = to
	return fromFields(fields), nil
}

// Select returns a record holding only the named fields, in the given
// order. Missing names are skipped.
func (r Record) Select(names ...string) Record {
	fields := make([]Field, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		if v, ok := r.Lookup(n); ok {
			fields = append(fields, Field{Name: n, Value: v})
		}
	}
	return fromFields(fields)
}

// Size approximates the heap footprint of r in bytes.
func (r Record) Size() int {
	n := 64
	for _, f := range r.fields {
		n += 16 + len(f.Name) + f.Value.Size()
	}
	return n
}

// String renders r as compact JSON.
func (r Record) String() string {
	b, _ := r.MarshalJSON()
	return string(b)
}

// fromFields wraps an already unique field slice without copying it.
func fromFields(fields []Field) Record {
	r := Record{fields: fields}
	if len(fields) > indexThreshold {
		r.index = make(map[string]int, len(fields))
		for i, f := range fields {
			r.index[f.Name] = i
		}
	}
	return r
}

// Builder accumulates fields for a new record.
type Builder struct {
	fields []Field
	seen   map[string]struct{}
}

// NewBuilder returns a builder with capacity for n fields.
func NewBuilder(n int) *Builder {
	return &Builder{fields: make([]Field, 0, n), seen: make(map[string]struct{}, n)}
}

// Set appends a field. Repeating a name is an error.
func (b *Builder) Set(name string, v Value) error {
	if _, dup := b.seen[name]; dup {
		return fmt.Errorf("duplicate field %q", name)
	}
	b.seen[name] = struct{}{}
	b.fields = append(b.fields, Field{Name: name, Value: v})
	return nil
}

// Build returns the record. The builder must not be used afterwards.
func (b *Builder) Build() Record {
	fields := b.fields
	b.fields = nil
	return fromFields(fields)
}
