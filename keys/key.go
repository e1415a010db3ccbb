// Package keys defines the totally ordered typed values used as index
// keys and stored field values, plus an order-preserving byte codec so
// that the storage engine's native key order is the index order.
package keys

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/andyglick/perst/perst_errors"
	"github.com/pkg/errors"
)

// Ref is a stable identity of a persisted object, independent of its
// field values. Refs compare by allocation order.
type Ref uint64

const NilRef = Ref(0)

func (r Ref) Bytes() []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(r))
	return b[:]
}

func RefFromBytes(b []byte) Ref {
	return Ref(binary.BigEndian.Uint64(b))
}

// Type is a one-letter key type tag, the same convention the class
// descriptors use.
type Type byte

const (
	Integer   Type = 'I'
	Float     Type = 'F'
	String    Type = 'S'
	Boolean   Type = 'B'
	Time      Type = 'T'
	Reference Type = 'R'
)

func (t Type) Valid() bool {
	switch t {
	case Integer, Float, String, Boolean, Time, Reference:
		return true
	}
	return false
}

func (t Type) String() string {
	switch t {
	case Integer:
		return "integer"
	case Float:
		return "float"
	case String:
		return "string"
	case Boolean:
		return "boolean"
	case Time:
		return "time"
	case Reference:
		return "reference"
	}
	return fmt.Sprintf("type(%c)", byte(t))
}

// Value is a tagged key value. Int doubles as the payload for Boolean
// (0/1), Time (UnixNano) and Reference values.
type Value struct {
	Type Type
	Int  int64
	Flo  float64
	Str  string
}

func I(i int64) Value        { return Value{Type: Integer, Int: i} }
func F(f float64) Value      { return Value{Type: Float, Flo: f} }
func S(s string) Value       { return Value{Type: String, Str: s} }
func T(t time.Time) Value    { return Value{Type: Time, Int: t.UnixNano()} }
func R(r Ref) Value          { return Value{Type: Reference, Int: int64(r)} }

func B(b bool) Value {
	v := Value{Type: Boolean}
	if b {
		v.Int = 1
	}
	return v
}

func (v Value) Bool() bool      { return v.Int != 0 }
func (v Value) Ref() Ref        { return Ref(v.Int) }
func (v Value) Time() time.Time { return time.Unix(0, v.Int) }

func (v Value) String() string {
	switch v.Type {
	case Integer:
		return fmt.Sprintf("%d", v.Int)
	case Float:
		return fmt.Sprintf("%g", v.Flo)
	case String:
		return v.Str
	case Boolean:
		return fmt.Sprintf("%t", v.Bool())
	case Time:
		return v.Time().Format(time.RFC3339)
	case Reference:
		return fmt.Sprintf("#%d", v.Int)
	}
	return "?"
}

// Compare returns -1, 0 or 1. Both values must carry the same Type;
// heterogeneous comparisons are coerced away before a Value is built.
func Compare(a, b Value) int {
	switch a.Type {
	case Float:
		switch {
		case a.Flo < b.Flo:
			return -1
		case a.Flo > b.Flo:
			return 1
		}
		return 0
	case String:
		switch {
		case a.Str < b.Str:
			return -1
		case a.Str > b.Str:
			return 1
		}
		return 0
	case Reference:
		au, bu := uint64(a.Int), uint64(b.Int)
		switch {
		case au < bu:
			return -1
		case au > bu:
			return 1
		}
		return 0
	default: // Integer, Boolean, Time
		switch {
		case a.Int < b.Int:
			return -1
		case a.Int > b.Int:
			return 1
		}
		return 0
	}
}

// Coerce converts a raw Go value (a field accessor result, a predicate
// literal or a query parameter) into a Value of the given type.
// Integer literals promote to Float; nothing narrows.
func Coerce(raw any, t Type) (Value, error) {
	switch t {
	case Integer:
		switch x := raw.(type) {
		case int:
			return I(int64(x)), nil
		case int32:
			return I(int64(x)), nil
		case int64:
			return I(x), nil
		}
	case Float:
		switch x := raw.(type) {
		case float32:
			return F(float64(x)), nil
		case float64:
			return F(x), nil
		case int:
			return F(float64(x)), nil
		case int64:
			return F(float64(x)), nil
		}
	case String:
		if x, ok := raw.(string); ok {
			return S(x), nil
		}
	case Boolean:
		if x, ok := raw.(bool); ok {
			return B(x), nil
		}
	case Time:
		if x, ok := raw.(time.Time); ok {
			return T(x), nil
		}
	case Reference:
		switch x := raw.(type) {
		case Ref:
			return R(x), nil
		case uint64:
			return R(Ref(x)), nil
		}
	}
	if v, ok := raw.(Value); ok && v.Type == t {
		return v, nil
	}
	return Value{}, errors.Wrapf(perst_errors.ErrKeyTypeMismatch,
		"%T is not a %s", raw, t)
}
