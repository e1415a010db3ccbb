package classes

// A class describes one kind of persistent record: an ordered list of
// named, typed fields plus a constructor. Field access goes through
// explicit accessor functions supplied at registration time, never
// through runtime reflection. The field position in the list is the
// field's storage offset, so fields can be appended but not reordered.

import (
	"unicode/utf8"

	"github.com/andyglick/perst/keys"
	"github.com/andyglick/perst/perst_errors"
	"github.com/pkg/errors"
)

// Record is implemented by every persistent object, usually by
// embedding Base.
type Record interface {
	Ref() keys.Ref
	SetRef(keys.Ref)
}

// Base carries the object identity assigned by the storage.
type Base struct {
	ref keys.Ref
}

func (b *Base) Ref() keys.Ref     { return b.ref }
func (b *Base) SetRef(r keys.Ref) { b.ref = r }

type Field struct {
	Name      string
	Type      keys.Type
	Of        *Class // target class, Reference fields only
	Indexable bool
	Unique    bool
	Get       func(Record) any
	Set       func(Record, any)
}

// Fields
type Fields []Field

func (f Field) Valid() bool {
	for _, l := range f.Name { // has unsafe chars
		if l < ' ' {
			return false
		}
	}
	if f.Type == keys.Reference && f.Of == nil {
		return false
	}
	if f.Unique && !f.Indexable {
		return false
	}
	return f.Type.Valid() && len(f.Name) > 0 && utf8.ValidString(f.Name) &&
		f.Get != nil && f.Set != nil
}

func (f Fields) FindName(name string) (ndx int) {
	for i := 0; i < len(f); i++ {
		if f[i].Name == name {
			return i
		}
	}
	return -1
}

// Key computes the field's current key value for obj. A nil reference
// has no key: it is skipped by the managed indices, so a predicate on
// a null reference cannot be index-served.
func (f Field) Key(obj Record) (keys.Value, bool, error) {
	raw := f.Get(obj)
	if f.Type == keys.Reference {
		rec, ok := RecordOf(raw)
		if !ok {
			return keys.Value{}, false, nil
		}
		return keys.R(rec.Ref()), true, nil
	}
	v, err := keys.Coerce(raw, f.Type)
	if err != nil {
		return keys.Value{}, false, errors.Wrapf(err, "field %q", f.Name)
	}
	return v, true, nil
}

type Class struct {
	Name   string
	Fields Fields
	New    func() Record
}

func (c *Class) FindName(name string) int {
	return c.Fields.FindName(name)
}

func (c *Class) Field(name string) *Field {
	ndx := c.Fields.FindName(name)
	if ndx < 0 {
		return nil
	}
	return &c.Fields[ndx]
}

func (c *Class) Validate() error {
	if c.Name == "" || c.New == nil || len(c.Fields) == 0 {
		return errors.Wrapf(perst_errors.ErrBadClass, "class %q", c.Name)
	}
	for i, f := range c.Fields {
		if !f.Valid() {
			return errors.Wrapf(perst_errors.ErrBadClass, "class %q field %q", c.Name, f.Name)
		}
		if c.Fields.FindName(f.Name) != i {
			return errors.Wrapf(perst_errors.ErrBadClass, "class %q duplicate field %q", c.Name, f.Name)
		}
	}
	return nil
}
