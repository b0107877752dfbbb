// Package parser turns a SQL string into a typed ast.Statement.
package parser

import (
	"fmt"
	"strconv"

	"github.com/minifish-org/tegdb/pkg/sql/ast"
	"github.com/minifish-org/tegdb/pkg/sql/token"
	"github.com/minifish-org/tegdb/pkg/tegerr"
	"github.com/minifish-org/tegdb/pkg/types"
)

// Parser consumes a pre-tokenized statement and produces its ast.Statement.
// It is total over the grammar: any input that doesn't match a production
// fails with a ParseError naming the offending position, and any trailing
// non-whitespace input after a complete statement is itself an error.
type Parser struct {
	toks         []token.Token
	pos          int
	paramCounter int
}

// Parse tokenizes and parses one SQL statement.
func Parse(sql string) (ast.Statement, error) {
	toks, err := tokenize(sql)
	if err != nil {
		return nil, err
	}
	p := &Parser{toks: toks}

	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}

	if p.cur().Kind == token.Semicolon {
		p.advance()
	}
	if p.cur().Kind != token.EOF {
		return nil, p.errorf("unexpected trailing input %q", p.cur().Text)
	}
	return stmt, nil
}

func tokenize(sql string) ([]token.Token, error) {
	l := newLexer(sql)
	var toks []token.Token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.Kind == token.EOF {
			return toks, nil
		}
	}
}

func (p *Parser) cur() token.Token  { return p.toks[p.pos] }
func (p *Parser) advance() token.Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) errorf(format string, args ...any) error {
	return tegerr.New(tegerr.KindParseError, errPos(p.cur().Pos, fmt.Sprintf(format, args...)))
}

func (p *Parser) expect(kind token.Kind) (token.Token, error) {
	if p.cur().Kind != kind {
		return token.Token{}, p.errorf("expected %s, found %s %q", kind, p.cur().Kind, p.cur().Text)
	}
	return p.advance(), nil
}

func (p *Parser) parseStatement() (ast.Statement, error) {
	switch p.cur().Kind {
	case token.SELECT:
		return p.parseSelect()
	case token.INSERT:
		return p.parseInsert()
	case token.UPDATE:
		return p.parseUpdate()
	case token.DELETE:
		return p.parseDelete()
	case token.CREATE:
		return p.parseCreate()
	case token.DROP:
		return p.parseDropTable()
	case token.BEGIN:
		p.advance()
		return &ast.Begin{}, nil
	case token.START:
		p.advance()
		if _, err := p.expect(token.TRANSACTION); err != nil {
			return nil, err
		}
		return &ast.Begin{}, nil
	case token.COMMIT:
		p.advance()
		return &ast.Commit{}, nil
	case token.ROLLBACK:
		p.advance()
		return &ast.Rollback{}, nil
	default:
		return nil, p.errorf("unexpected token %s %q at start of statement", p.cur().Kind, p.cur().Text)
	}
}

// --- DDL ---

func (p *Parser) parseCreate() (ast.Statement, error) {
	p.advance() // CREATE
	switch p.cur().Kind {
	case token.TABLE:
		return p.parseCreateTable()
	case token.INDEX:
		return p.parseCreateIndex()
	case token.EXTENSION:
		p.advance()
		name, err := p.expect(token.Ident)
		if err != nil {
			return nil, err
		}
		return &ast.CreateExtension{Name: name.Text}, nil
	default:
		return nil, p.errorf("expected TABLE, INDEX, or EXTENSION after CREATE, found %q", p.cur().Text)
	}
}

func (p *Parser) parseCreateTable() (ast.Statement, error) {
	p.advance() // TABLE
	name, err := p.expect(token.Ident)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.LParen); err != nil {
		return nil, err
	}

	var cols []ast.ColumnDef
	for {
		col, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
		if p.cur().Kind == token.Comma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(token.RParen); err != nil {
		return nil, err
	}
	return &ast.CreateTable{Table: name.Text, Columns: cols}, nil
}

func (p *Parser) parseColumnDef() (ast.ColumnDef, error) {
	name, err := p.expect(token.Ident)
	if err != nil {
		return ast.ColumnDef{}, err
	}
	dt, maxLen, dim, err := p.parseDataType()
	if err != nil {
		return ast.ColumnDef{}, err
	}
	col := ast.ColumnDef{Name: name.Text, DataType: dt, MaxLen: maxLen, Dim: dim}

	for {
		switch p.cur().Kind {
		case token.PRIMARY:
			p.advance()
			if _, err := p.expect(token.KEY); err != nil {
				return ast.ColumnDef{}, err
			}
			col.PrimaryKey = true
			continue
		case token.NOT:
			p.advance()
			if _, err := p.expect(token.NULL); err != nil {
				return ast.ColumnDef{}, err
			}
			col.NotNull = true
			continue
		case token.UNIQUE:
			p.advance()
			col.Unique = true
			continue
		}
		break
	}
	return col, nil
}

func (p *Parser) parseDataType() (types.DataType, uint32, uint32, error) {
	switch p.cur().Kind {
	case token.INTEGER:
		p.advance()
		return types.Integer, 0, 0, nil
	case token.REAL:
		p.advance()
		return types.Real, 0, 0, nil
	case token.TEXT:
		p.advance()
		n, err := p.parseLenArg()
		return types.Text, n, 0, err
	case token.BLOB:
		p.advance()
		n, err := p.parseLenArg()
		return types.Blob, n, 0, err
	case token.VECTOR:
		p.advance()
		n, err := p.parseLenArg()
		return types.Vector, 0, n, err
	default:
		return types.Null, 0, 0, p.errorf("expected a data type, found %q", p.cur().Text)
	}
}

func (p *Parser) parseLenArg() (uint32, error) {
	if _, err := p.expect(token.LParen); err != nil {
		return 0, err
	}
	n, err := p.expect(token.IntLiteral)
	if err != nil {
		return 0, err
	}
	if _, err := p.expect(token.RParen); err != nil {
		return 0, err
	}
	v, convErr := strconv.ParseUint(n.Text, 10, 32)
	if convErr != nil {
		return 0, p.errorf("invalid length %q", n.Text)
	}
	return uint32(v), nil
}

func (p *Parser) parseCreateIndex() (ast.Statement, error) {
	p.advance() // INDEX
	name, err := p.expect(token.Ident)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.ON); err != nil {
		return nil, err
	}
	table, err := p.expect(token.Ident)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.LParen); err != nil {
		return nil, err
	}
	col, err := p.expect(token.Ident)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RParen); err != nil {
		return nil, err
	}

	hnsw := false
	if p.cur().Kind == token.USING {
		p.advance()
		if _, err := p.expect(token.HNSW); err != nil {
			return nil, err
		}
		hnsw = true
	}

	return &ast.CreateIndex{Name: name.Text, Table: table.Text, Column: col.Text, HNSW: hnsw}, nil
}

func (p *Parser) parseDropTable() (ast.Statement, error) {
	p.advance() // DROP
	if _, err := p.expect(token.TABLE); err != nil {
		return nil, err
	}
	ifExists := false
	if p.cur().Kind == token.IF {
		p.advance()
		if _, err := p.expect(token.EXISTS); err != nil {
			return nil, err
		}
		ifExists = true
	}
	name, err := p.expect(token.Ident)
	if err != nil {
		return nil, err
	}
	return &ast.DropTable{Table: name.Text, IfExists: ifExists}, nil
}

// --- DML ---

func (p *Parser) parseInsert() (ast.Statement, error) {
	p.advance() // INSERT
	if _, err := p.expect(token.INTO); err != nil {
		return nil, err
	}
	table, err := p.expect(token.Ident)
	if err != nil {
		return nil, err
	}

	var cols []string
	if p.cur().Kind == token.LParen {
		p.advance()
		for {
			c, err := p.expect(token.Ident)
			if err != nil {
				return nil, err
			}
			cols = append(cols, c.Text)
			if p.cur().Kind == token.Comma {
				p.advance()
				continue
			}
			break
		}
		if _, err := p.expect(token.RParen); err != nil {
			return nil, err
		}
	}

	if _, err := p.expect(token.VALUES); err != nil {
		return nil, err
	}

	var rows [][]ast.Expr
	for {
		row, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
		if p.cur().Kind == token.Comma {
			p.advance()
			continue
		}
		break
	}

	return &ast.Insert{Table: table.Text, Columns: cols, Rows: rows}, nil
}

func (p *Parser) parseExprList() ([]ast.Expr, error) {
	if _, err := p.expect(token.LParen); err != nil {
		return nil, err
	}
	var exprs []ast.Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
		if p.cur().Kind == token.Comma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(token.RParen); err != nil {
		return nil, err
	}
	return exprs, nil
}

func (p *Parser) parseUpdate() (ast.Statement, error) {
	p.advance() // UPDATE
	table, err := p.expect(token.Ident)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.SET); err != nil {
		return nil, err
	}

	var assigns []ast.Assignment
	for {
		col, err := p.expect(token.Ident)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.Eq); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		assigns = append(assigns, ast.Assignment{Column: col.Text, Value: val})
		if p.cur().Kind == token.Comma {
			p.advance()
			continue
		}
		break
	}

	var where ast.Expr
	if p.cur().Kind == token.WHERE {
		p.advance()
		where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}

	return &ast.Update{Table: table.Text, Assignments: assigns, Where: where}, nil
}

func (p *Parser) parseDelete() (ast.Statement, error) {
	p.advance() // DELETE
	if _, err := p.expect(token.FROM); err != nil {
		return nil, err
	}
	table, err := p.expect(token.Ident)
	if err != nil {
		return nil, err
	}

	var where ast.Expr
	if p.cur().Kind == token.WHERE {
		p.advance()
		where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	return &ast.Delete{Table: table.Text, Where: where}, nil
}

func (p *Parser) parseSelect() (ast.Statement, error) {
	p.advance() // SELECT
	items, err := p.parseSelectList()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.FROM); err != nil {
		return nil, err
	}
	table, err := p.expect(token.Ident)
	if err != nil {
		return nil, err
	}

	sel := &ast.Select{Items: items, Table: table.Text}

	if p.cur().Kind == token.WHERE {
		p.advance()
		sel.Where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}

	if p.cur().Kind == token.ORDER {
		p.advance()
		if _, err := p.expect(token.BY); err != nil {
			return nil, err
		}
		for {
			col, err := p.expect(token.Ident)
			if err != nil {
				return nil, err
			}
			term := ast.OrderTerm{Column: col.Text}
			if p.cur().Kind == token.DESC {
				p.advance()
				term.Desc = true
			} else if p.cur().Kind == token.ASC {
				p.advance()
			}
			sel.OrderBy = append(sel.OrderBy, term)
			if p.cur().Kind == token.Comma {
				p.advance()
				continue
			}
			break
		}
	}

	if p.cur().Kind == token.LIMIT {
		p.advance()
		n, err := p.expect(token.IntLiteral)
		if err != nil {
			return nil, err
		}
		v, convErr := strconv.ParseInt(n.Text, 10, 64)
		if convErr != nil {
			return nil, p.errorf("invalid LIMIT value %q", n.Text)
		}
		sel.Limit = &v
	}

	return sel, nil
}

func (p *Parser) parseSelectList() ([]ast.SelectItem, error) {
	var items []ast.SelectItem
	for {
		if p.cur().Kind == token.Star {
			p.advance()
			items = append(items, ast.SelectItem{Star: true})
		} else {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			item := ast.SelectItem{Expr: e}
			if p.cur().Kind == token.AS {
				p.advance()
				alias, err := p.expect(token.Ident)
				if err != nil {
					return nil, err
				}
				item.Alias = alias.Text
			}
			items = append(items, item)
		}
		if p.cur().Kind == token.Comma {
			p.advance()
			continue
		}
		break
	}
	return items, nil
}

// --- Expressions ---

func (p *Parser) parseExpr() (ast.Expr, error) { return p.parseOr() }

func (p *Parser) parseOr() (ast.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == token.OR {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Op: "OR", L: left, R: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (ast.Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == token.AND {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Op: "AND", L: left, R: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (ast.Expr, error) {
	if p.cur().Kind == token.NOT {
		p.advance()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Op: "NOT", X: x}, nil
	}
	return p.parseComparison()
}

var compareOps = map[token.Kind]string{
	token.Eq: "=", token.NotEq: "!=", token.Lt: "<", token.LtEq: "<=",
	token.Gt: ">", token.GtEq: ">=",
}

func (p *Parser) parseComparison() (ast.Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	if op, ok := compareOps[p.cur().Kind]; ok {
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &ast.BinaryExpr{Op: op, L: left, R: right}, nil
	}

	switch p.cur().Kind {
	case token.LIKE:
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &ast.BinaryExpr{Op: "LIKE", L: left, R: right}, nil

	case token.BETWEEN:
		p.advance()
		lo, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.AND); err != nil {
			return nil, err
		}
		hi, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &ast.BetweenExpr{X: left, Lo: lo, Hi: hi}, nil

	case token.IS:
		p.advance()
		not := false
		if p.cur().Kind == token.NOT {
			p.advance()
			not = true
		}
		if _, err := p.expect(token.NULL); err != nil {
			return nil, err
		}
		return &ast.IsNullExpr{X: left, Not: not}, nil
	}

	return left, nil
}

func (p *Parser) parseAdditive() (ast.Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == token.Plus || p.cur().Kind == token.Minus {
		op := "+"
		if p.cur().Kind == token.Minus {
			op = "-"
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Op: op, L: left, R: right}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == token.Star || p.cur().Kind == token.Slash {
		op := "*"
		if p.cur().Kind == token.Slash {
			op = "/"
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Op: op, L: left, R: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (ast.Expr, error) {
	if p.cur().Kind == token.Minus {
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Op: "-", X: x}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (ast.Expr, error) {
	t := p.cur()
	switch t.Kind {
	case token.IntLiteral:
		p.advance()
		n, err := strconv.ParseInt(t.Text, 10, 64)
		if err != nil {
			return nil, p.errorf("invalid integer literal %q", t.Text)
		}
		return &ast.Literal{Value: types.IntValue(n)}, nil

	case token.RealLiteral:
		p.advance()
		f, err := strconv.ParseFloat(t.Text, 64)
		if err != nil {
			return nil, p.errorf("invalid real literal %q", t.Text)
		}
		return &ast.Literal{Value: types.RealValue(f)}, nil

	case token.StringLiteral:
		p.advance()
		return &ast.Literal{Value: types.TextValue(t.Text)}, nil

	case token.NULL:
		p.advance()
		return &ast.Literal{Value: types.NullValue}, nil

	case token.Param:
		p.advance()
		if len(t.Text) > 1 {
			n, err := strconv.Atoi(t.Text[1:])
			if err != nil {
				return nil, p.errorf("invalid parameter placeholder %q", t.Text)
			}
			return &ast.Param{Index: n}, nil
		}
		p.paramCounter++
		return &ast.Param{Index: p.paramCounter}, nil

	case token.LParen:
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RParen); err != nil {
			return nil, err
		}
		return e, nil

	case token.LBracket:
		p.advance()
		var elems []ast.Expr
		if p.cur().Kind != token.RBracket {
			for {
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				elems = append(elems, e)
				if p.cur().Kind == token.Comma {
					p.advance()
					continue
				}
				break
			}
		}
		if _, err := p.expect(token.RBracket); err != nil {
			return nil, err
		}
		return &ast.VectorLiteral{Elements: elems}, nil

	case token.Ident:
		p.advance()
		if p.cur().Kind == token.LParen {
			p.advance()
			var args []ast.Expr
			if p.cur().Kind == token.Star {
				p.advance()
				args = []ast.Expr{&ast.ColumnRef{Name: "*"}}
			} else if p.cur().Kind != token.RParen {
				for {
					a, err := p.parseExpr()
					if err != nil {
						return nil, err
					}
					args = append(args, a)
					if p.cur().Kind == token.Comma {
						p.advance()
						continue
					}
					break
				}
			}
			if _, err := p.expect(token.RParen); err != nil {
				return nil, err
			}
			return &ast.FuncCall{Name: t.Text, Args: args}, nil
		}
		return &ast.ColumnRef{Name: t.Text}, nil

	default:
		return nil, p.errorf("unexpected token %s %q in expression", t.Kind, t.Text)
	}
}
