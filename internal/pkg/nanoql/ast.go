package nanoql

import (
	"strconv"
	"strings"
)

// Expr is a node of a parsed query.
type Expr interface {
	// Eval reports whether rec satisfies the expression.
	Eval(rec Record) bool
	// String renders the expression back as NanoQL.
	String() string
}

// MatchOp is the comparison applied by a Term.
type MatchOp int

const (
	OpEq       MatchOp = iota // key=value, key:value
	OpNeq                     // key!=value
	OpContains                // bare word or "quoted text"
)

func (op MatchOp) String() string {
	switch op {
	case OpEq:
		return "="
	case OpNeq:
		return "!="
	default:
		return "~"
	}
}

// Term compares one field against a value. An empty Field searches every field.
type Term struct {
	Field string
	Op    MatchOp
	Value string
}

func (t Term) String() string {
	if t.Field == "" {
		return strconv.Quote(t.Value)
	}
	return t.Field + t.Op.String() + quoteIfNeeded(t.Value)
}

// And matches when both sides match.
type And struct{ Left, Right Expr }

func (e And) String() string { return e.Left.String() + " AND " + e.Right.String() }

// Or matches when either side matches.
type Or struct{ Left, Right Expr }

func (e Or) String() string { return "(" + e.Left.String() + " OR " + e.Right.String() + ")" }

// Not inverts X.
type Not struct{ X Expr }

func (e Not) String() string { return "NOT " + e.X.String() }

func quoteIfNeeded(v string) string {
	if v == "" || strings.IndexFunc(v, func(r rune) bool { return !isWordRune(r) }) >= 0 {
		return strconv.Quote(v)
	}
	switch strings.ToUpper(v) {
	case "AND", "OR", "NOT":
		return strconv.Quote(v)
	}
	return v
}
