package kvstore

import (
	"fmt"
	"strconv"
	"strings"

	"dsp/store"
)

// predicate reports whether a stored record matches.
type predicate func(rec *store.Record) bool

func matchAll(*store.Record) bool { return true }

// compileFilter parses a filter expression such as
//
//	name LIKE 'a%' AND (is_active = :active OR owner_id IS NULL)
//
// Supported: AND, OR, NOT, parentheses, = != <> > >= < <=, [NOT] LIKE,
// [NOT] IN (...), IS [NOT] NULL. Operands are :params, quoted strings,
// numbers, TRUE, FALSE and NULL. Comparisons against NULL never match.
func compileFilter(expr string, params map[string]any) (predicate, error) {
	if strings.TrimSpace(expr) == "" {
		return matchAll, nil
	}
	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, params: params}
	pred, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, filterError("unexpected %q at %d", t.text, t.pos)
	}
	return pred, nil
}

func filterError(format string, args ...any) error {
	return store.NewBadRequestError("invalid filter: %s", fmt.Sprintf(format, args...))
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokParam
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func lex(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++
		case c == '\'' || c == '"':
			var b strings.Builder
			j := i + 1
			for {
				if j >= len(s) {
					return nil, filterError("unterminated string at %d", i)
				}
				if s[j] == c {
					if j+1 < len(s) && s[j+1] == c {
						b.WriteByte(c)
						j += 2
						continue
					}
					break
				}
				b.WriteByte(s[j])
				j++
			}
			toks = append(toks, token{tokString, b.String(), i})
			i = j + 1
		case c == ':':
			j := i + 1
			for j < len(s) && isIdentChar(s[j]) {
				j++
			}
			if j == i+1 {
				return nil, filterError("empty parameter name at %d", i)
			}
			toks = append(toks, token{tokParam, s[i+1 : j], i})
			i = j
		case c == '=' || c == '<' || c == '>' || c == '!':
			op := string(c)
			if i+1 < len(s) {
				switch two := s[i : i+2]; two {
				case "!=", "<>", ">=", "<=":
					op = two
				}
			}
			if op == "!" {
				return nil, filterError("unexpected '!' at %d", i)
			}
			toks = append(toks, token{tokOp, op, i})
			i += len(op)
		case isDigit(c) || (c == '-' && i+1 < len(s) && isDigit(s[i+1])):
			j := i + 1
			for j < len(s) && (isDigit(s[j]) || s[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, s[i:j], i})
			i = j
		case isIdentStart(c):
			j := i + 1
			for j < len(s) && (isIdentChar(s[j]) || s[j] == '.') {
				j++
			}
			toks = append(toks, token{tokIdent, s[i:j], i})
			i = j
		default:
			return nil, filterError("unexpected character %q at %d", c, i)
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(s)}), nil
}

type parser struct {
	toks   []token
	pos    int
	params map[string]any
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(word string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, word) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(kind tokenKind, what string) error {
	if t := p.next(); t.kind != kind {
		return filterError("expected %s at %d", what, t.pos)
	}
	return nil
}

func (p *parser) parseOr() (predicate, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l := left
		left = func(r *store.Record) bool { return l(r) || right(r) }
	}
	return left, nil
}

func (p *parser) parseAnd() (predicate, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		l := left
		left = func(r *store.Record) bool { return l(r) && right(r) }
	}
	return left, nil
}

func (p *parser) parseNot() (predicate, error) {
	if p.keyword("NOT") {
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return func(r *store.Record) bool { return !inner(r) }, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (predicate, error) {
	if p.peek().kind == tokLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	}

	t := p.next()
	if t.kind != tokIdent {
		return nil, filterError("expected field name at %d", t.pos)
	}
	field := t.text
	if i := strings.LastIndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}

	if p.keyword("IS") {
		negate := p.keyword("NOT")
		if !p.keyword("NULL") {
			return nil, filterError("expected NULL at %d", p.peek().pos)
		}
		op := store.OpIsNull
		if negate {
			op = store.OpNotNull
		}
		return conditionPredicate(store.Condition{Field: field, Op: op}), nil
	}

	negate := p.keyword("NOT")
	switch {
	case p.keyword("LIKE"):
		v, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		pattern, ok := v.(string)
		if !ok {
			return nil, filterError("LIKE needs a string pattern")
		}
		like := compileLike(pattern)
		return negated(negate, func(r *store.Record) bool {
			v := r.Value(field)
			return v != nil && like.MatchString(toText(v))
		}), nil

	case p.keyword("IN"):
		if err := p.expect(tokLParen, "'('"); err != nil {
			return nil, err
		}
		var values []any
		for {
			v, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			values = append(values, v)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
		if err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		op := store.OpIn
		if negate {
			op = store.OpNotIn
		}
		return conditionPredicate(store.Condition{Field: field, Op: op, Value: values}), nil

	case negate:
		return nil, filterError("expected LIKE or IN after NOT at %d", p.peek().pos)
	}

	opTok := p.next()
	if opTok.kind != tokOp {
		return nil, filterError("expected operator at %d", opTok.pos)
	}
	v, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	var op store.Operator
	switch opTok.text {
	case "=":
		op = store.OpEq
	case "!=", "<>":
		op = store.OpNe
	case ">":
		op = store.OpGt
	case ">=":
		op = store.OpGe
	case "<":
		op = store.OpLt
	case "<=":
		op = store.OpLe
	}
	return conditionPredicate(store.Condition{Field: field, Op: op, Value: v}), nil
}

func (p *parser) parseOperand() (any, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return t.text, nil
	case tokNumber:
		if n, err := strconv.ParseInt(t.text, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, filterError("invalid number %q", t.text)
		}
		return f, nil
	case tokParam:
		v, ok := p.params[t.text]
		if !ok {
			return nil, filterError("no value bound for :%s", t.text)
		}
		return v, nil
	case tokIdent:
		switch strings.ToUpper(t.text) {
		case "NULL":
			return nil, nil
		case "TRUE":
			return true, nil
		case "FALSE":
			return false, nil
		}
	}
	return nil, filterError("expected value at %d", t.pos)
}

func negated(negate bool, pred predicate) predicate {
	if !negate {
		return pred
	}
	return func(r *store.Record) bool { return !pred(r) }
}
