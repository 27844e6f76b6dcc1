package nanoql

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenType classifies a token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenWord
	TokenString
	TokenEq  // = or :
	TokenNeq // !=
	TokenLParen
	TokenRParen
	TokenAnd
	TokenOr
	TokenNot
)

var tokenNames = map[TokenType]string{
	TokenEOF:    "end of query",
	TokenWord:   "word",
	TokenString: "string",
	TokenEq:     "'='",
	TokenNeq:    "'!='",
	TokenLParen: "'('",
	TokenRParen: "')'",
	TokenAnd:    "AND",
	TokenOr:     "OR",
	TokenNot:    "NOT",
}

func (t TokenType) String() string { return tokenNames[t] }

// Token is a lexeme and its byte offset in the query.
type Token struct {
	Type TokenType
	Text string
	Pos  int
}

// SyntaxError reports a malformed query.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("nanoql: %s at offset %d", e.Msg, e.Pos)
}

// Tokenize splits input into tokens, ending with TokenEOF. Characters that cannot
// start a token, such as a lone '!', are dropped.
func Tokenize(input string) ([]Token, error) {
	var tokens []Token
	for i := 0; i < len(input); {
		r, size := utf8.DecodeRuneInString(input[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case r == '=' || r == ':':
			tokens = append(tokens, Token{Type: TokenEq, Text: string(r), Pos: i})
			i++
		case r == '!':
			if strings.HasPrefix(input[i:], "!=") {
				tokens = append(tokens, Token{Type: TokenNeq, Text: "!=", Pos: i})
				i += 2
			} else {
				i++
			}
		case r == '(':
			tokens = append(tokens, Token{Type: TokenLParen, Text: "(", Pos: i})
			i++
		case r == ')':
			tokens = append(tokens, Token{Type: TokenRParen, Text: ")", Pos: i})
			i++
		case r == '"':
			tok, n, err := scanString(input, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			i += n
		case isWordRune(r):
			start := i
			for i < len(input) {
				r, size := utf8.DecodeRuneInString(input[i:])
				if !isWordRune(r) {
					break
				}
				i += size
			}
			tokens = append(tokens, wordToken(input[start:i], start))
		default:
			i += size
		}
	}
	return append(tokens, Token{Type: TokenEOF, Pos: len(input)}), nil
}

// scanString reads the double-quoted literal at input[pos]. Escapes follow Go
// syntax, which is what strconv.Quote emits for generated filters.
func scanString(input string, pos int) (Token, int, error) {
	i := pos + 1
	for i < len(input) && input[i] != '"' {
		if input[i] == '\\' {
			i++
		}
		i++
	}
	if i >= len(input) {
		return Token{}, 0, &SyntaxError{Pos: pos, Msg: "unterminated string"}
	}
	raw := input[pos : i+1]
	text, err := strconv.Unquote(raw)
	if err != nil {
		return Token{}, 0, &SyntaxError{Pos: pos, Msg: "invalid escape in string"}
	}
	return Token{Type: TokenString, Text: text, Pos: pos}, len(raw), nil
}

func wordToken(word string, pos int) Token {
	switch strings.ToUpper(word) {
	case "AND":
		return Token{Type: TokenAnd, Text: word, Pos: pos}
	case "OR":
		return Token{Type: TokenOr, Text: word, Pos: pos}
	case "NOT":
		return Token{Type: TokenNot, Text: word, Pos: pos}
	}
	return Token{Type: TokenWord, Text: word, Pos: pos}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.'
}
