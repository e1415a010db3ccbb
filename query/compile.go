package query

import (
	"iter"
	"reflect"

	"github.com/pkg/errors"

	"github.com/andyglick/perst/classes"
	"github.com/andyglick/perst/keys"
	"github.com/andyglick/perst/perst_errors"
)

// Compiled is a prepared predicate: parsed once, paths resolved, ready
// to spawn any number of independently parameterized queries. It holds
// no catalog state, so the prepared-query cache can share one Compiled
// between callers.
type Compiled struct {
	class   *classes.Class
	text    string
	root    expr // nil means match everything
	orderBy *orderSpec
	params  []*paramSlot
}

// Prepare parses text against the class descriptor. Unknown fields,
// dots through non-reference fields and literals of the wrong type all
// fail here rather than at execution.
func Prepare(class *classes.Class, text string) (*Compiled, error) {
	root, order, params, err := parsePredicate(class, text)
	if err != nil {
		return nil, err
	}
	return &Compiled{class: class, text: text, root: root, orderBy: order, params: params}, nil
}

func (c *Compiled) Class() *classes.Class { return c.class }
func (c *Compiled) Text() string          { return c.text }
func (c *Compiled) NumParams() int        { return len(c.params) }

// NewQuery binds the compiled predicate to a catalog. Each Query
// carries its own parameter bindings.
func (c *Compiled) NewQuery(cat Catalog) *Query {
	return &Query{c: c, cat: cat, args: make([]boundArg, len(c.params))}
}

type boundArg struct {
	val  keys.Value
	list []keys.Value
	set  bool
}

// Query is one parameterizable execution handle. SetParameter then
// Execute; Execute may be repeated, and parameters may be rebound
// between executions.
type Query struct {
	c    *Compiled
	cat  Catalog
	args []boundArg
}

// SetParameter binds the i-th positional parameter (1-based). The
// value is coerced to the key type of the field the parameter compares
// against; an "in ?" slot takes a slice instead, coerced elementwise.
// A record value binds a reference parameter by its ref.
func (q *Query) SetParameter(i int, raw any) error {
	if i < 1 || i > len(q.c.params) {
		return errors.Wrapf(perst_errors.ErrParameterIndexOutOfRange,
			"parameter %d of %d", i, len(q.c.params))
	}
	slot := q.c.params[i-1]
	if slot.wantList {
		elems, ok := anySlice(raw)
		if !ok {
			return errors.Wrapf(perst_errors.ErrParameterTypeMismatch,
				"parameter %d wants a list, got %T", i, raw)
		}
		list := make([]keys.Value, 0, len(elems))
		for _, e := range elems {
			v, err := coerceParam(e, slot.fieldType)
			if err != nil {
				return errors.Wrapf(perst_errors.ErrParameterTypeMismatch,
					"parameter %d: %v", i, err)
			}
			list = append(list, v)
		}
		q.args[i-1] = boundArg{list: list, set: true}
		return nil
	}
	v, err := coerceParam(raw, slot.fieldType)
	if err != nil {
		return errors.Wrapf(perst_errors.ErrParameterTypeMismatch,
			"parameter %d: %v", i, err)
	}
	q.args[i-1] = boundArg{val: v, set: true}
	return nil
}

func coerceParam(raw any, t keys.Type) (keys.Value, error) {
	if t == keys.Reference {
		if rec, ok := classes.RecordOf(raw); ok {
			return keys.R(rec.Ref()), nil
		}
	}
	return keys.Coerce(raw, t)
}

// anySlice flattens any slice value into []any; parameter lists arrive
// as whatever element type the caller had at hand.
func anySlice(raw any) ([]any, bool) {
	if elems, ok := raw.([]any); ok {
		return elems, true
	}
	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	elems := make([]any, rv.Len())
	for i := range elems {
		elems[i] = rv.Index(i).Interface()
	}
	return elems, true
}

// Execute plans against the catalog's current index state and returns
// a lazy sequence of matching records. Every parameter must be bound.
// The fallbacks the plan takes, a sequential scan or an explicit sort,
// are reported to the catalog's listener during iteration.
func (q *Query) Execute() (iter.Seq[classes.Record], error) {
	for i := range q.args {
		if !q.args[i].set {
			return nil, errors.Wrapf(perst_errors.ErrParameterUnbound,
				"parameter %d of %q", i+1, q.c.text)
		}
	}
	QueryCount.WithLabelValues(q.c.class.Name).Inc()
	return q.run(q.plan()), nil
}

// argOne resolves a single-valued argument, literal or bound.
func (q *Query) argOne(a argument) keys.Value {
	if a.kind == argParam {
		return q.args[a.param-1].val
	}
	return a.val
}

// argMany resolves a list argument, literal list or bound slice.
func (q *Query) argMany(a argument) []keys.Value {
	if a.kind == argParam {
		return q.args[a.param-1].list
	}
	return a.list
}
