package query

import (
	"github.com/andyglick/perst/classes"
	"github.com/andyglick/perst/keys"
)

type cmpOp int

const (
	opEq cmpOp = iota
	opNe
	opLt
	opLe
	opGt
	opGe
	opLike
	opIn
)

func (op cmpOp) String() string {
	switch op {
	case opEq:
		return "="
	case opNe:
		return "!="
	case opLt:
		return "<"
	case opLe:
		return "<="
	case opGt:
		return ">"
	case opGe:
		return ">="
	case opLike:
		return "like"
	case opIn:
		return "in"
	}
	return "?"
}

type expr interface{ isExpr() }

type andExpr struct{ kids []expr }
type orExpr struct{ kids []expr }
type notExpr struct{ kid expr }

// cmpExpr is a leaf comparison: a resolved dotted path against a
// literal, a positional parameter or a literal list.
type cmpExpr struct {
	path *path
	op   cmpOp
	arg  argument
}

func (*andExpr) isExpr() {}
func (*orExpr) isExpr()  {}
func (*notExpr) isExpr() {}
func (*cmpExpr) isExpr() {}

// hop addresses one field along a dotted path: the class it belongs
// to and the field's position in the descriptor.
type hop struct {
	class *classes.Class
	ndx   int
}

func (h hop) field() *classes.Field { return &h.class.Fields[h.ndx] }

// path is a resolved dotted field path; every hop but the last
// traverses a reference field.
type path struct {
	text string
	hops []hop
}

func (p *path) leaf() hop { return p.hops[len(p.hops)-1] }

func (p *path) equal(o *path) bool {
	if len(p.hops) != len(o.hops) {
		return false
	}
	for i := range p.hops {
		if p.hops[i] != o.hops[i] {
			return false
		}
	}
	return true
}

type argKind int

const (
	argLiteral argKind = iota
	argParam
	argList
)

type argument struct {
	kind  argKind
	val   keys.Value   // argLiteral, coerced to the leaf field type
	list  []keys.Value // argList elements
	param int          // argParam: 1-based slot
}

type orderSpec struct {
	path *path
	desc bool
}
