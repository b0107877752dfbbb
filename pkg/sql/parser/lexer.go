package parser

import (
	"strings"

	"github.com/minifish-org/tegdb/pkg/sql/token"
	"github.com/minifish-org/tegdb/pkg/tegerr"
)

const maxIdentLen = 64

// lexer turns a SQL source string into a stream of tokens. It is total
// over its input: every byte either extends a token or is whitespace: any
// other case yields a ParseError.
type lexer struct {
	src string
	pos int
}

func newLexer(src string) *lexer { return &lexer{src: src} }

func (l *lexer) errorf(pos int, msg string) error {
	return tegerr.New(tegerr.KindParseError, errPos(pos, msg))
}

func errPos(pos int, msg string) string {
	var b strings.Builder
	b.WriteString("position ")
	b.WriteString(itoa(pos))
	b.WriteString(": ")
	b.WriteString(msg)
	return b.String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isAlpha(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
func isAlnum(c byte) bool { return isAlpha(c) || isDigit(c) }

func (l *lexer) peekByte() byte {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) skipWhitespace() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			l.pos++
			continue
		}
		break
	}
}

// next scans and returns the next token, or an error on ill-formed input.
func (l *lexer) next() (token.Token, error) {
	l.skipWhitespace()
	start := l.pos
	if l.pos >= len(l.src) {
		return token.Token{Kind: token.EOF, Pos: start}, nil
	}

	c := l.src[l.pos]

	switch {
	case isAlpha(c):
		for l.pos < len(l.src) && isAlnum(l.src[l.pos]) {
			l.pos++
		}
		text := l.src[start:l.pos]
		if len(text) > maxIdentLen {
			return token.Token{}, l.errorf(start, "identifier exceeds 64 characters")
		}
		return token.Token{Kind: token.Lookup(text), Text: text, Pos: start}, nil

	case isDigit(c):
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
		kind := token.IntLiteral
		if l.peekByte() == '.' {
			kind = token.RealLiteral
			l.pos++
			for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
				l.pos++
			}
		}
		return token.Token{Kind: kind, Text: l.src[start:l.pos], Pos: start}, nil

	case c == '\'':
		l.pos++
		var sb strings.Builder
		for {
			if l.pos >= len(l.src) {
				return token.Token{}, l.errorf(start, "unterminated string literal")
			}
			if l.src[l.pos] == '\'' {
				if l.pos+1 < len(l.src) && l.src[l.pos+1] == '\'' {
					sb.WriteByte('\'')
					l.pos += 2
					continue
				}
				l.pos++
				break
			}
			sb.WriteByte(l.src[l.pos])
			l.pos++
		}
		return token.Token{Kind: token.StringLiteral, Text: sb.String(), Pos: start}, nil

	case c == '?':
		l.pos++
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
		return token.Token{Kind: token.Param, Text: l.src[start:l.pos], Pos: start}, nil

	case c == '!':
		if l.peekAt(1) == '=' {
			l.pos += 2
			return token.Token{Kind: token.NotEq, Text: "!=", Pos: start}, nil
		}
		return token.Token{}, l.errorf(start, "unexpected character '!'")

	case c == '<':
		if l.peekAt(1) == '=' {
			l.pos += 2
			return token.Token{Kind: token.LtEq, Text: "<=", Pos: start}, nil
		}
		l.pos++
		return token.Token{Kind: token.Lt, Text: "<", Pos: start}, nil

	case c == '>':
		if l.peekAt(1) == '=' {
			l.pos += 2
			return token.Token{Kind: token.GtEq, Text: ">=", Pos: start}, nil
		}
		l.pos++
		return token.Token{Kind: token.Gt, Text: ">", Pos: start}, nil

	case c == '=':
		l.pos++
		return token.Token{Kind: token.Eq, Text: "=", Pos: start}, nil
	case c == '+':
		l.pos++
		return token.Token{Kind: token.Plus, Text: "+", Pos: start}, nil
	case c == '-':
		l.pos++
		return token.Token{Kind: token.Minus, Text: "-", Pos: start}, nil
	case c == '*':
		l.pos++
		return token.Token{Kind: token.Star, Text: "*", Pos: start}, nil
	case c == '/':
		l.pos++
		return token.Token{Kind: token.Slash, Text: "/", Pos: start}, nil
	case c == '(':
		l.pos++
		return token.Token{Kind: token.LParen, Text: "(", Pos: start}, nil
	case c == ')':
		l.pos++
		return token.Token{Kind: token.RParen, Text: ")", Pos: start}, nil
	case c == '[':
		l.pos++
		return token.Token{Kind: token.LBracket, Text: "[", Pos: start}, nil
	case c == ']':
		l.pos++
		return token.Token{Kind: token.RBracket, Text: "]", Pos: start}, nil
	case c == ',':
		l.pos++
		return token.Token{Kind: token.Comma, Text: ",", Pos: start}, nil
	case c == ';':
		l.pos++
		return token.Token{Kind: token.Semicolon, Text: ";", Pos: start}, nil
	case c == '.':
		l.pos++
		return token.Token{Kind: token.Dot, Text: ".", Pos: start}, nil
	default:
		return token.Token{}, l.errorf(start, "unexpected character '"+string(c)+"'")
	}
}

func (l *lexer) peekAt(offset int) byte {
	if l.pos+offset >= len(l.src) {
		return 0
	}
	return l.src[l.pos+offset]
}
