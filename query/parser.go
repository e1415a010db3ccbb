package query

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/andyglick/perst/classes"
	"github.com/andyglick/perst/keys"
	"github.com/andyglick/perst/perst_errors"
)

// paramSlot records what a positional parameter must be bound with:
// the key type of the leaf field it compares against, and whether a
// list is expected (the "in ?" form).
type paramSlot struct {
	fieldType keys.Type
	wantList  bool
}

type parser struct {
	sc     scanner
	tok    token
	class  *classes.Class
	params []*paramSlot
}

// parsePredicate parses and resolves a predicate for the given class.
// The grammar:
//
//	predicate := [ disjunction ] [ "order" "by" path [ "asc" | "desc" ] ]
//	disjunction := conjunction { "or" conjunction }
//	conjunction := negation { "and" negation }
//	negation := [ "not" ] primary
//	primary := "(" disjunction ")" | path [ comparison ]
//	comparison := ( "=" | "!=" | "<>" | "<" | "<=" | ">" | ">=" ) operand
//	            | "like" operand
//	            | "in" ( "?" | "(" literal { "," literal } ")" )
//	operand := literal | "?"
//	path := ident { "." ident }
//
// A bare path must name a boolean field and means path = true;
// "not" of such a path flips the constant so the comparison stays
// index-servable. Paths resolve against class descriptors here, so an
// unknown field or a dot through a non-reference field fails at
// prepare time, not at execution.
func parsePredicate(class *classes.Class, text string) (expr, *orderSpec, []*paramSlot, error) {
	p := &parser{sc: scanner{src: text}, class: class}
	if err := p.advance(); err != nil {
		return nil, nil, nil, err
	}
	var root expr
	if p.tok.kind != tokEOF && !p.atOrderBy() {
		var err error
		root, err = p.parseOr()
		if err != nil {
			return nil, nil, nil, err
		}
	}
	var order *orderSpec
	if p.atOrderBy() {
		var err error
		order, err = p.parseOrderBy()
		if err != nil {
			return nil, nil, nil, err
		}
	}
	if p.tok.kind != tokEOF {
		return nil, nil, nil, p.sc.errAt(p.tok.pos, "trailing input")
	}
	return root, order, p.params, nil
}

func (p *parser) advance() error {
	t, err := p.sc.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

// atOrderBy reports whether the current token opens an "order by"
// clause. "order" alone is a legal field name, so the decision needs
// one token of lookahead.
func (p *parser) atOrderBy() bool {
	if !isKeyword(p.tok, "order") {
		return false
	}
	save := p.sc
	next, err := p.sc.next()
	p.sc = save
	return err == nil && isKeyword(next, "by")
}

func (p *parser) parseOrderBy() (*orderSpec, error) {
	if err := p.advance(); err != nil { // order
		return nil, err
	}
	if err := p.advance(); err != nil { // by
		return nil, err
	}
	pth, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	spec := &orderSpec{path: pth}
	if isKeyword(p.tok, "desc") {
		spec.desc = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	} else if isKeyword(p.tok, "asc") {
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	return spec, nil
}

func (p *parser) parseOr() (expr, error) {
	kid, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	kids := []expr{kid}
	for isKeyword(p.tok, "or") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		kid, err = p.parseAnd()
		if err != nil {
			return nil, err
		}
		kids = append(kids, kid)
	}
	if len(kids) == 1 {
		return kids[0], nil
	}
	return &orExpr{kids: kids}, nil
}

func (p *parser) parseAnd() (expr, error) {
	kid, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	kids := []expr{kid}
	for isKeyword(p.tok, "and") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		kid, err = p.parseNot()
		if err != nil {
			return nil, err
		}
		kids = append(kids, kid)
	}
	if len(kids) == 1 {
		return kids[0], nil
	}
	return &andExpr{kids: kids}, nil
}

func (p *parser) parseNot() (expr, error) {
	if !isKeyword(p.tok, "not") {
		return p.parsePrimary()
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	kid, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	if c, ok := kid.(*cmpExpr); ok && c.op == opEq && c.arg.kind == argLiteral &&
		c.arg.val.Type == keys.Boolean {
		c.arg.val = keys.B(!c.arg.val.Bool())
		return c, nil
	}
	return &notExpr{kid: kid}, nil
}

func (p *parser) parsePrimary() (expr, error) {
	if p.tok.kind == tokLParen {
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, p.sc.errAt(p.tok.pos, "expected ')'")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return e, nil
	}
	pth, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	leaf := pth.leaf().field()
	var op cmpOp
	switch p.tok.kind {
	case tokEq:
		op = opEq
	case tokNe:
		op = opNe
	case tokLt:
		op = opLt
	case tokLe:
		op = opLe
	case tokGt:
		op = opGt
	case tokGe:
		op = opGe
	default:
		if isKeyword(p.tok, "like") {
			op = opLike
		} else if isKeyword(p.tok, "in") {
			op = opIn
		} else {
			// Bare path: a boolean field tested for truth.
			if leaf.Type != keys.Boolean {
				return nil, errors.Wrapf(perst_errors.ErrPredicateSyntax,
					"%s is not boolean and has no comparison", pth.text)
			}
			return &cmpExpr{path: pth, op: opEq, arg: argument{kind: argLiteral, val: keys.B(true)}}, nil
		}
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	switch op {
	case opLike:
		if leaf.Type != keys.String {
			return nil, errors.Wrapf(perst_errors.ErrKeyTypeMismatch,
				"like needs a string field, %s is %s", pth.text, leaf.Type)
		}
		arg, err := p.parseOperand(pth, keys.String)
		if err != nil {
			return nil, err
		}
		return &cmpExpr{path: pth, op: op, arg: arg}, nil
	case opIn:
		arg, err := p.parseInOperand(pth, leaf.Type)
		if err != nil {
			return nil, err
		}
		return &cmpExpr{path: pth, op: op, arg: arg}, nil
	default:
		arg, err := p.parseOperand(pth, leaf.Type)
		if err != nil {
			return nil, err
		}
		return &cmpExpr{path: pth, op: op, arg: arg}, nil
	}
}

// parsePath resolves a dotted field path against the class graph.
// Every hop but the last must be a reference field.
func (p *parser) parsePath() (*path, error) {
	cls := p.class
	var hops []hop
	var text strings.Builder
	for {
		if p.tok.kind != tokIdent {
			return nil, p.sc.errAt(p.tok.pos, "expected field name")
		}
		name := p.tok.text
		ndx := cls.FindName(name)
		if ndx < 0 {
			return nil, errors.Wrapf(perst_errors.ErrUnresolvablePath,
				"%s has no field %s", cls.Name, name)
		}
		if text.Len() > 0 {
			text.WriteByte('.')
		}
		text.WriteString(name)
		hops = append(hops, hop{class: cls, ndx: ndx})
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind != tokDot {
			break
		}
		f := &cls.Fields[ndx]
		if f.Type != keys.Reference || f.Of == nil {
			return nil, errors.Wrapf(perst_errors.ErrUnresolvablePath,
				"%s.%s is not a reference", cls.Name, name)
		}
		cls = f.Of
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	return &path{text: text.String(), hops: hops}, nil
}

// parseOperand reads either a literal, coerced to the field's key
// type, or a positional parameter, which records a slot to be bound
// before execution.
func (p *parser) parseOperand(pth *path, t keys.Type) (argument, error) {
	if p.tok.kind == tokParam {
		if err := p.advance(); err != nil {
			return argument{}, err
		}
		p.params = append(p.params, &paramSlot{fieldType: t})
		return argument{kind: argParam, param: len(p.params)}, nil
	}
	v, err := p.parseLiteral(pth, t)
	if err != nil {
		return argument{}, err
	}
	return argument{kind: argLiteral, val: v}, nil
}

func (p *parser) parseInOperand(pth *path, t keys.Type) (argument, error) {
	if p.tok.kind == tokParam {
		if err := p.advance(); err != nil {
			return argument{}, err
		}
		p.params = append(p.params, &paramSlot{fieldType: t, wantList: true})
		return argument{kind: argParam, param: len(p.params)}, nil
	}
	if p.tok.kind != tokLParen {
		return argument{}, p.sc.errAt(p.tok.pos, "expected '(' or '?' after in")
	}
	if err := p.advance(); err != nil {
		return argument{}, err
	}
	var list []keys.Value
	for {
		v, err := p.parseLiteral(pth, t)
		if err != nil {
			return argument{}, err
		}
		list = append(list, v)
		if p.tok.kind == tokComma {
			if err := p.advance(); err != nil {
				return argument{}, err
			}
			continue
		}
		break
	}
	if p.tok.kind != tokRParen {
		return argument{}, p.sc.errAt(p.tok.pos, "expected ')'")
	}
	if err := p.advance(); err != nil {
		return argument{}, err
	}
	return argument{kind: argList, list: list}, nil
}

func (p *parser) parseLiteral(pth *path, t keys.Type) (keys.Value, error) {
	var raw any
	switch {
	case p.tok.kind == tokInt:
		raw = p.tok.i
	case p.tok.kind == tokFloat:
		raw = p.tok.f
	case p.tok.kind == tokString:
		raw = p.tok.text
	case isKeyword(p.tok, "true"):
		raw = true
	case isKeyword(p.tok, "false"):
		raw = false
	default:
		return keys.Value{}, p.sc.errAt(p.tok.pos, "expected literal")
	}
	if err := p.advance(); err != nil {
		return keys.Value{}, err
	}
	v, err := keys.Coerce(raw, t)
	if err != nil {
		return keys.Value{}, errors.Wrapf(err, "literal for %s", pth.text)
	}
	return v, nil
}
