package nanoql

// Grammar, loosest binding first:
//
//	or   = and { OR and }
//	and  = not { [AND] not }
//	not  = NOT not | term
//	term = "(" or ")" | word op value | word | string
//	op   = "=" | ":" | "!="

type parser struct {
	tokens []Token
	pos    int
}

// Parse parses input into an expression tree. Blank input yields a nil Expr,
// which matches every record.
func Parse(input string) (Expr, error) {
	tokens, err := Tokenize(input)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 1 {
		return nil, nil
	}

	p := &parser{tokens: tokens}
	expr, err := p.or()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Type != TokenEOF {
		return nil, &SyntaxError{Pos: tok.Pos, Msg: "unexpected " + describe(tok)}
	}
	return expr, nil
}

func (p *parser) peek() Token { return p.tokens[p.pos] }

func (p *parser) next() Token {
	tok := p.tokens[p.pos]
	if tok.Type != TokenEOF {
		p.pos++
	}
	return tok
}

func (p *parser) or() (Expr, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenOr {
		p.next()
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = Or{Left: left, Right: right}
	}
	return left, nil
}

// and also joins adjacent terms written without an operator.
func (p *parser) and() (Expr, error) {
	left, err := p.not()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().Type {
		case TokenAnd:
			p.next()
		case TokenWord, TokenString, TokenLParen, TokenNot:
		default:
			return left, nil
		}
		right, err := p.not()
		if err != nil {
			return nil, err
		}
		left = And{Left: left, Right: right}
	}
}

func (p *parser) not() (Expr, error) {
	if p.peek().Type != TokenNot {
		return p.term()
	}
	p.next()
	x, err := p.not()
	if err != nil {
		return nil, err
	}
	return Not{X: x}, nil
}

func (p *parser) term() (Expr, error) {
	tok := p.next()
	switch tok.Type {
	case TokenLParen:
		x, err := p.or()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.Type != TokenRParen {
			return nil, &SyntaxError{Pos: closing.Pos, Msg: "expected ')' but found " + describe(closing)}
		}
		return x, nil

	case TokenString:
		return Term{Op: OpContains, Value: tok.Text}, nil

	case TokenWord:
		var op MatchOp
		switch p.peek().Type {
		case TokenEq:
			op = OpEq
		case TokenNeq:
			op = OpNeq
		default:
			return Term{Op: OpContains, Value: tok.Text}, nil
		}
		opTok := p.next()
		value := p.next()
		if value.Type != TokenWord && value.Type != TokenString {
			return nil, &SyntaxError{Pos: value.Pos, Msg: "missing value after " + tok.Text + opTok.Text}
		}
		return Term{Field: tok.Text, Op: op, Value: value.Text}, nil
	}
	return nil, &SyntaxError{Pos: tok.Pos, Msg: "unexpected " + describe(tok)}
}

func describe(tok Token) string {
	if tok.Type == TokenWord || tok.Type == TokenString {
		return tok.Type.String() + " " + `"` + tok.Text + `"`
	}
	return tok.Type.String()
}
