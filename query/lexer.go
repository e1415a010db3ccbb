package query

import (
	"strconv"
	"strings"

	"github.com/andyglick/perst/perst_errors"
	"github.com/pkg/errors"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokInt
	tokFloat
	tokString
	tokParam // ?
	tokLParen
	tokRParen
	tokComma
	tokDot
	tokEq
	tokNe
	tokLt
	tokLe
	tokGt
	tokGe
)

type token struct {
	kind tokenKind
	text string  // tokIdent, tokString
	i    int64   // tokInt
	f    float64 // tokFloat
	pos  int
}

// scanner is a single-pass tokenizer for the predicate language.
type scanner struct {
	src string
	pos int
}

func (sc *scanner) errAt(pos int, what string) error {
	return errors.Wrapf(perst_errors.ErrPredicateSyntax, "%s at position %d in %q", what, pos, sc.src)
}

func (sc *scanner) next() (token, error) {
	for sc.pos < len(sc.src) && isSpace(sc.src[sc.pos]) {
		sc.pos++
	}
	if sc.pos >= len(sc.src) {
		return token{kind: tokEOF, pos: sc.pos}, nil
	}
	start := sc.pos
	c := sc.src[sc.pos]
	switch {
	case c == '(':
		sc.pos++
		return token{kind: tokLParen, pos: start}, nil
	case c == ')':
		sc.pos++
		return token{kind: tokRParen, pos: start}, nil
	case c == ',':
		sc.pos++
		return token{kind: tokComma, pos: start}, nil
	case c == '.':
		sc.pos++
		return token{kind: tokDot, pos: start}, nil
	case c == '?':
		sc.pos++
		return token{kind: tokParam, pos: start}, nil
	case c == '=':
		sc.pos++
		return token{kind: tokEq, pos: start}, nil
	case c == '!':
		if sc.pos+1 < len(sc.src) && sc.src[sc.pos+1] == '=' {
			sc.pos += 2
			return token{kind: tokNe, pos: start}, nil
		}
		return token{}, sc.errAt(start, "unexpected '!'")
	case c == '<':
		sc.pos++
		if sc.pos < len(sc.src) {
			switch sc.src[sc.pos] {
			case '=':
				sc.pos++
				return token{kind: tokLe, pos: start}, nil
			case '>':
				sc.pos++
				return token{kind: tokNe, pos: start}, nil
			}
		}
		return token{kind: tokLt, pos: start}, nil
	case c == '>':
		sc.pos++
		if sc.pos < len(sc.src) && sc.src[sc.pos] == '=' {
			sc.pos++
			return token{kind: tokGe, pos: start}, nil
		}
		return token{kind: tokGt, pos: start}, nil
	case c == '\'':
		return sc.scanString()
	case isDigit(c) || (c == '-' && sc.pos+1 < len(sc.src) && isDigit(sc.src[sc.pos+1])):
		return sc.scanNumber()
	case isIdentStart(c):
		for sc.pos < len(sc.src) && isIdentPart(sc.src[sc.pos]) {
			sc.pos++
		}
		return token{kind: tokIdent, text: sc.src[start:sc.pos], pos: start}, nil
	}
	return token{}, sc.errAt(start, "unexpected character")
}

// scanString reads a single-quoted literal; a doubled quote escapes
// itself.
func (sc *scanner) scanString() (token, error) {
	start := sc.pos
	sc.pos++ // opening quote
	var b strings.Builder
	for sc.pos < len(sc.src) {
		c := sc.src[sc.pos]
		if c == '\'' {
			if sc.pos+1 < len(sc.src) && sc.src[sc.pos+1] == '\'' {
				b.WriteByte('\'')
				sc.pos += 2
				continue
			}
			sc.pos++
			return token{kind: tokString, text: b.String(), pos: start}, nil
		}
		b.WriteByte(c)
		sc.pos++
	}
	return token{}, sc.errAt(start, "unterminated string literal")
}

func (sc *scanner) scanNumber() (token, error) {
	start := sc.pos
	if sc.src[sc.pos] == '-' {
		sc.pos++
	}
	isFloat := false
	for sc.pos < len(sc.src) {
		c := sc.src[sc.pos]
		if isDigit(c) {
			sc.pos++
			continue
		}
		if c == '.' && !isFloat && sc.pos+1 < len(sc.src) && isDigit(sc.src[sc.pos+1]) {
			isFloat = true
			sc.pos++
			continue
		}
		break
	}
	text := sc.src[start:sc.pos]
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return token{}, sc.errAt(start, "bad float literal")
		}
		return token{kind: tokFloat, f: f, pos: start}, nil
	}
	i, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return token{}, sc.errAt(start, "bad integer literal")
	}
	return token{kind: tokInt, i: i, pos: start}, nil
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }
func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }

func isKeyword(t token, kw string) bool {
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}
