package formula

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AST
// =============================================================================

type node interface {
	position() int
}

type (
	numberLit struct {
		pos int
		val decimal.Decimal
	}
	stringLit struct {
		pos int
		val string
	}
	boolLit struct {
		pos int
		val bool
	}
	nullLit struct {
		pos int
	}
	ident struct {
		pos  int
		name string
	}
	unaryExpr struct {
		pos int
		op  string
		x   node
	}
	binaryExpr struct {
		pos  int
		op   string
		l, r node
	}
	logicalExpr struct {
		pos  int
		and  bool
		l, r node
	}
	condExpr struct {
		pos             int
		cond, then, els node
	}
	memberExpr struct {
		pos  int
		x    node
		name string
	}
	indexExpr struct {
		pos int
		x   node
		key node
	}
	callExpr struct {
		pos  int
		name string
		args []node
	}
)

func (n *numberLit) position() int { return n.pos }
func (n *stringLit) position() int { return n.pos }
func (n *boolLit) position() int { return n.pos }
func (n *nullLit) position() int { return n.pos }
func (n *ident) position() int { return n.pos }
func (n *unaryExpr) position() int { return n.pos }
func (n *binaryExpr) position() int { return n.pos }
func (n *logicalExpr) position() int { return n.pos }
func (n *condExpr) position() int { return n.pos }
func (n *memberExpr) position() int { return n.pos }
func (n *indexExpr) position() int { return n.pos }
func (n *callExpr) position() int { return n.pos }

// =============================================================================
// PARSER - Recursive descent, lowest precedence first
// =============================================================================
//
//	expr    := or ( "?" expr ":" expr )?
//	or      := and ( ("or" | "||") and )*
//	and     := not ( ("and" | "&&") not )*
//	not     := ("not" | "!") not | cmp
//	cmp     := add ( ("==" | "!=" | "<" | "<=" | ">" | ">=") add )?
//	add     := mul ( ("+" | "-") mul )*
//	mul     := unary ( ("*" | "/" | "%") unary )*
//	unary   := ("-" | "+") unary | postfix
//	postfix := primary ( "." ident | "[" expr "]" )*
//	primary := number | string | ident | ident "(" args ")" | "(" expr ")"

const (
	maxSourceLen = 4096
	maxDepth     = 64
)

type parser struct {
	toks  []token
	i     int
	depth int
}

func parse(src string) (node, error) {
	if len(src) > maxSourceLen {
		return nil, &syntaxError{pos: maxSourceLen, msg: "formula too long"}
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	if p.peek().kind == tokEOF {
		return nil, &syntaxError{pos: 0, msg: "empty formula"}
	}
	n, err := p.expr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, &syntaxError{pos: t.pos, msg: fmt.Sprintf("unexpected %s", t)}
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) isOp(ops ...string) bool {
	t := p.peek()
	if t.kind != tokOp && t.kind != tokIdent {
		return false
	}
	for _, op := range ops {
		if t.text == op {
			return true
		}
	}
	return false
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, &syntaxError{pos: t.pos, msg: fmt.Sprintf("expected %s, found %s", what, t)}
	}
	return t, nil
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		return &syntaxError{pos: p.peek().pos, msg: "formula nested too deeply"}
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) expr() (node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	cond, err := p.or()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokQuestion {
		return cond, nil
	}
	q := p.next()
	then, err := p.expr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokColon, `":"`); err != nil {
		return nil, err
	}
	els, err := p.expr()
	if err != nil {
		return nil, err
	}
	return &condExpr{pos: q.pos, cond: cond, then: then, els: els}, nil
}

func (p *parser) or() (node, error) {
	l, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.isOp("or", "||") {
		t := p.next()
		r, err := p.and()
		if err != nil {
			return nil, err
		}
		l = &logicalExpr{pos: t.pos, l: l, r: r}
	}
	return l, nil
}

func (p *parser) and() (node, error) {
	l, err := p.not()
	if err != nil {
		return nil, err
	}
	for p.isOp("and", "&&") {
		t := p.next()
		r, err := p.not()
		if err != nil {
			return nil, err
		}
		l = &logicalExpr{pos: t.pos, and: true, l: l, r: r}
	}
	return l, nil
}

func (p *parser) not() (node, error) {
	if p.isOp("not", "!") {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		t := p.next()
		x, err := p.not()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{pos: t.pos, op: "not", x: x}, nil
	}
	return p.cmp()
}

func (p *parser) cmp() (node, error) {
	l, err := p.add()
	if err != nil {
		return nil, err
	}
	if p.peek().kind == tokOp && p.isOp("==", "!=", "<", "<=", ">", ">=") {
		t := p.next()
		r, err := p.add()
		if err != nil {
			return nil, err
		}
		return &binaryExpr{pos: t.pos, op: t.text, l: l, r: r}, nil
	}
	return l, nil
}

func (p *parser) add() (node, error) {
	l, err := p.mul()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOp && p.isOp("+", "-") {
		t := p.next()
		r, err := p.mul()
		if err != nil {
			return nil, err
		}
		l = &binaryExpr{pos: t.pos, op: t.text, l: l, r: r}
	}
	return l, nil
}

func (p *parser) mul() (node, error) {
	l, err := p.unary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOp && p.isOp("*", "/", "%") {
		t := p.next()
		r, err := p.unary()
		if err != nil {
			return nil, err
		}
		l = &binaryExpr{pos: t.pos, op: t.text, l: l, r: r}
	}
	return l, nil
}

func (p *parser) unary() (node, error) {
	if p.peek().kind == tokOp && p.isOp("-", "+") {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		t := p.next()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{pos: t.pos, op: t.text, x: x}, nil
	}
	return p.postfix()
}

func (p *parser) postfix() (node, error) {
	x, err := p.primary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tokDot:
			dot := p.next()
			name, err := p.expect(tokIdent, "field name")
			if err != nil {
				return nil, err
			}
			x = &memberExpr{pos: dot.pos, x: x, name: name.text}
		case tokLBracket:
			lb := p.next()
			key, err := p.expr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRBracket, `"]"`); err != nil {
				return nil, err
			}
			x = &indexExpr{pos: lb.pos, x: x, key: key}
		default:
			return x, nil
		}
	}
}

func (p *parser) primary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		d, err := decimal.NewFromString(t.text)
		if err != nil {
			return nil, &syntaxError{pos: t.pos, msg: fmt.Sprintf("invalid number %q", t.text)}
		}
		return &numberLit{pos: t.pos, val: d}, nil
	case tokString:
		return &stringLit{pos: t.pos, val: t.text}, nil
	case tokLParen:
		x, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, `")"`); err != nil {
			return nil, err
		}
		return x, nil
	case tokIdent:
		switch t.text {
		case "true", "True":
			return &boolLit{pos: t.pos, val: true}, nil
		case "false", "False":
			return &boolLit{pos: t.pos, val: false}, nil
		case "null", "None":
			return &nullLit{pos: t.pos}, nil
		case "and", "or", "not":
			return nil, &syntaxError{pos: t.pos, msg: fmt.Sprintf("unexpected keyword %q", t.text)}
		}
		if p.peek().kind == tokLParen {
			return p.call(t)
		}
		return &ident{pos: t.pos, name: t.text}, nil
	}
	return nil, &syntaxError{pos: t.pos, msg: fmt.Sprintf("unexpected %s", t)}
}

func (p *parser) call(name token) (node, error) {
	p.next() // (
	c := &callExpr{pos: name.pos, name: name.text}
	if p.peek().kind == tokRParen {
		p.next()
		return c, nil
	}
	for {
		arg, err := p.expr()
		if err != nil {
			return nil, err
		}
		c.args = append(c.args, arg)
		if p.peek().kind == tokComma {
			p.next()
			continue
		}
		if _, err := p.expect(tokRParen, `")" or ","`); err != nil {
			return nil, err
		}
		return c, nil
	}
}
