package query

import (
	"fmt"
	"strconv"
)

// Parse parses a query string into a statement. Any deviation from the
// grammar is a CodeQuerySyntax error; no partial statement is returned.
//
//	select  := SELECT ('*' | field {',' field}) FROM kind [WHERE or] [';']
//	or      := and {OR and}
//	and     := unary {AND unary}
//	unary   := NOT unary | '(' or ')' | compare
//	compare := operand op operand
//	operand := [kind '.'] ident | string | number | TRUE | FALSE | NULL
func Parse(src string) (*Select, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	stmt, err := p.parseSelect()
	if err != nil {
		return nil, err
	}
	return stmt, nil
}

type parser struct {
	toks []token
	pos  int
	from Kind
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) accept(k tokenKind) bool {
	if p.peek().kind == k {
		p.next()
		return true
	}
	return false
}

func (p *parser) expect(k tokenKind) (token, error) {
	t := p.next()
	if t.kind != k {
		return t, p.unexpected(t, k.String())
	}
	return t, nil
}

func (p *parser) unexpected(t token, want string) error {
	got := t.kind.String()
	if t.text != "" && t.kind != tokEOF {
		got = fmt.Sprintf("%s %q", got, t.text)
	}
	return syntaxError(t.pos, fmt.Sprintf("expected %s, found %s", want, got))
}

func (p *parser) parseSelect() (*Select, error) {
	if _, err := p.expect(tokSelect); err != nil {
		return nil, err
	}

	stmt := &Select{}
	type rawField struct {
		kind  string
		field string
		pos   int
	}
	var raw []rawField

	if p.accept(tokStar) {
		stmt.Star = true
	} else {
		for {
			first, err := p.expect(tokIdent)
			if err != nil {
				return nil, err
			}
			rf := rawField{field: first.text, pos: first.pos}
			if p.accept(tokDot) {
				second, err := p.expect(tokIdent)
				if err != nil {
					return nil, err
				}
				rf.kind, rf.field = first.text, second.text
			}
			raw = append(raw, rf)
			if !p.accept(tokComma) {
				break
			}
		}
	}

	if _, err := p.expect(tokFrom); err != nil {
		return nil, err
	}
	kindTok, err := p.expect(tokIdent)
	if err != nil {
		return nil, err
	}
	from, ok := ParseKind(kindTok.text)
	if !ok {
		return nil, syntaxError(kindTok.pos, fmt.Sprintf("unknown entity kind %q", kindTok.text))
	}
	stmt.From = from
	p.from = from

	for _, rf := range raw {
		ref := FieldRef{Kind: from, Field: rf.field}
		if rf.kind != "" {
			k, ok := ParseKind(rf.kind)
			if !ok {
				return nil, syntaxError(rf.pos, fmt.Sprintf("unknown entity kind %q", rf.kind))
			}
			ref.Kind, ref.Qualified = k, true
		}
		stmt.Fields = append(stmt.Fields, ref)
	}

	if p.accept(tokWhere) {
		where, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}

	p.accept(tokSemicolon)
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.unexpected(t, "end of query")
	}
	return stmt, nil
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept(tokOr) {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.accept(tokAnd) {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.accept(tokNot) {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &NotExpr{X: x}, nil
	}
	if p.accept(tokLParen) {
		x, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return x, nil
	}
	return p.parseCompare()
}

func (p *parser) parseCompare() (Expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	opTok, err := p.expect(tokOp)
	if err != nil {
		return nil, err
	}
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return &Compare{Op: compareOps[opTok.text], Left: left, Right: right}, nil
}

func (p *parser) parseOperand() (Operand, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return Literal{Value: t.text}, nil
	case tokInt:
		v, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, syntaxError(t.pos, fmt.Sprintf("integer %s out of range", t.text))
		}
		return Literal{Value: v}, nil
	case tokFloat:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, syntaxError(t.pos, fmt.Sprintf("invalid number %s", t.text))
		}
		return Literal{Value: v}, nil
	case tokTrue:
		return Literal{Value: true}, nil
	case tokFalse:
		return Literal{Value: false}, nil
	case tokNull:
		return Literal{Value: nil}, nil
	case tokIdent:
		if !p.accept(tokDot) {
			return FieldRef{Kind: p.from, Field: t.text}, nil
		}
		field, err := p.expect(tokIdent)
		if err != nil {
			return nil, err
		}
		k, ok := ParseKind(t.text)
		if !ok {
			return nil, syntaxError(t.pos, fmt.Sprintf("unknown entity kind %q", t.text))
		}
		return FieldRef{Kind: k, Field: field.text, Qualified: true}, nil
	default:
		return nil, p.unexpected(t, "field or literal")
	}
}
