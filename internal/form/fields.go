// Package form defines the ordered field mapping submitted with a contact request.
package form

import "iter"

// Field is a single submitted name/value pair.
type Field struct {
	Name  string
	Value string
}

// Fields holds submitted fields in the order the client sent them.
// Duplicate names are kept; Get returns the first occurrence.
type Fields struct {
	list []Field
}

// New builds Fields from alternating name, value arguments.
// A trailing name without a value is ignored.
func New(pairs ...string) Fields {
	var f Fields
	for i := 0; i+1 < len(pairs); i += 2 {
		f.Add(pairs[i], pairs[i+1])
	}
	return f
}

// Add appends a field.
func (f *Fields) Add(name, value string) {
	f.list = append(f.list, Field{Name: name, Value: value})
}

// Get returns the value of the first field with the given name.
func (f Fields) Get(name string) (string, bool) {
	for _, fd := range f.list {
		if fd.Name == name {
			return fd.Value, true
		}
	}
	return "", false
}

// Del removes every field with the given name.
func (f *Fields) Del(name string) {
	kept := make([]Field, 0, len(f.list))
	for _, fd := range f.list {
		if fd.Name != name {
			kept = append(kept, fd)
		}
	}
	f.list = kept
}

// Pop returns the first value for name and removes all fields with that name.
func (f *Fields) Pop(name string) (string, bool) {
	v, ok := f.Get(name)
	if ok {
		f.Del(name)
	}
	return v, ok
}

// Len returns the number of fields.
func (f Fields) Len() int {
	return len(f.list)
}

// All iterates over the fields in submission order.
func (f Fields) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, fd := range f.list {
			if !yield(fd.Name, fd.Value) {
				return
			}
		}
	}
}

// Names iterates over the field names in submission order.
func (f Fields) Names() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, fd := range f.list {
			if !yield(fd.Name) {
				return
			}
		}
	}
}
