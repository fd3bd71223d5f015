package engine

import (
	"strings"

	webdbcore "github.com/duckdb-wasm-go/webdbcore"
)

// parser is a recursive-descent parser over the lexer's token stream,
// grounded on the teacher's own Parser{l, curToken, peekToken} shape —
// adapted here to return errors instead of panicking on a malformed
// statement.
type parser struct {
	l         *lexer
	curToken  token
	peekToken token
}

func newParser(input string) *parser {
	p := &parser{l: newLexer(input)}
	p.nextToken()
	p.nextToken()
	return p
}

func (p *parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.next()
}

func (p *parser) expect(kind tokenKind) error {
	if p.curToken.kind != kind {
		return webdbcore.Invalid("expected %s, got %s (%q)", kind, p.curToken.kind, p.curToken.value)
	}
	return nil
}

// parseStatement parses one full SQL statement from input.
func parseStatement(input string) (statement, error) {
	p := newParser(input)
	switch p.curToken.kind {
	case tokCreate:
		return p.parseCreateTable()
	case tokInsert:
		return p.parseInsert()
	case tokSelect:
		return p.parseSelect()
	default:
		return nil, webdbcore.Invalid("unrecognized statement starting with %q", p.curToken.value)
	}
}

func (p *parser) parseCreateTable() (*createTableStmt, error) {
	p.nextToken() // consume CREATE
	if err := p.expect(tokTable); err != nil {
		return nil, err
	}
	p.nextToken() // consume TABLE

	table := p.curToken.value
	if err := p.expect(tokIdent); err != nil {
		return nil, err
	}
	p.nextToken()

	if err := p.expect(tokOpenParen); err != nil {
		return nil, err
	}
	p.nextToken()

	var cols []columnDef
	sawPrimaryKey := false
	for p.curToken.kind != tokCloseParen {
		name := p.curToken.value
		if err := p.expect(tokIdent); err != nil {
			return nil, err
		}
		p.nextToken()

		typ := strings.ToUpper(p.curToken.value)
		if err := p.expect(tokIdent); err != nil {
			return nil, err
		}
		switch typ {
		case "INT", "FLOAT", "VARCHAR":
		default:
			return nil, webdbcore.Invalid("unsupported column type %q", typ)
		}
		p.nextToken()

		isPK := false
		if p.curToken.kind == tokPrimary {
			p.nextToken()
			if err := p.expect(tokKey); err != nil {
				return nil, err
			}
			p.nextToken()
			isPK = true
		}
		if isPK {
			if sawPrimaryKey {
				return nil, webdbcore.Invalid("table %q declares more than one primary key", table)
			}
			sawPrimaryKey = true
		}

		cols = append(cols, columnDef{Name: name, Type: typ, IsPrimaryKey: isPK})

		if p.curToken.kind == tokComma {
			p.nextToken()
		}
	}
	p.nextToken() // consume )

	if len(cols) == 0 {
		return nil, webdbcore.Invalid("table %q has no columns", table)
	}
	return &createTableStmt{TableName: table, Columns: cols}, nil
}

func (p *parser) parseInsert() (*insertStmt, error) {
	p.nextToken() // consume INSERT
	if err := p.expect(tokInto); err != nil {
		return nil, err
	}
	p.nextToken()

	table := p.curToken.value
	if err := p.expect(tokIdent); err != nil {
		return nil, err
	}
	p.nextToken()

	if err := p.expect(tokValues); err != nil {
		return nil, err
	}
	p.nextToken()

	if err := p.expect(tokOpenParen); err != nil {
		return nil, err
	}
	p.nextToken()

	var values []valueExpr
	for p.curToken.kind != tokCloseParen && p.curToken.kind != tokEnd {
		switch p.curToken.kind {
		case tokString, tokIntLit, tokFloatLit:
			values = append(values, valueExpr{Literal: p.curToken.value, Kind: p.curToken.kind})
			p.nextToken()
		case tokPlaceholder:
			values = append(values, valueExpr{IsPlaceholder: true})
			p.nextToken()
		case tokComma:
			p.nextToken()
		default:
			return nil, webdbcore.Invalid("unexpected token %q in VALUES list", p.curToken.value)
		}
	}
	if err := p.expect(tokCloseParen); err != nil {
		return nil, err
	}
	p.nextToken()

	return &insertStmt{Table: table, Values: values}, nil
}

func (p *parser) parseSelect() (*selectStmt, error) {
	p.nextToken() // consume SELECT

	stmt := &selectStmt{}
	switch {
	case p.curToken.kind == tokAsterisk:
		stmt.Star = true
		p.nextToken()
	case p.curToken.kind == tokIdent && strings.EqualFold(p.curToken.value, "sum") && p.peekToken.kind == tokOpenParen:
		p.nextToken() // sum
		p.nextToken() // (
		stmt.Agg = aggSum
		stmt.AggColumn = p.curToken.value
		if err := p.expect(tokIdent); err != nil {
			return nil, err
		}
		p.nextToken()
		if err := p.expect(tokCloseParen); err != nil {
			return nil, err
		}
		p.nextToken()
	case p.curToken.kind == tokIdent && strings.EqualFold(p.curToken.value, "count") && p.peekToken.kind == tokOpenParen:
		p.nextToken() // count
		p.nextToken() // (
		stmt.Agg = aggCount
		if err := p.expect(tokAsterisk); err != nil {
			return nil, err
		}
		p.nextToken()
		if err := p.expect(tokCloseParen); err != nil {
			return nil, err
		}
		p.nextToken()
	default:
		for p.curToken.kind == tokIdent {
			stmt.Columns = append(stmt.Columns, p.curToken.value)
			p.nextToken()
			if p.curToken.kind == tokComma {
				p.nextToken()
				continue
			}
			break
		}
	}

	if err := p.expect(tokFrom); err != nil {
		return nil, err
	}
	p.nextToken()

	stmt.Table = p.curToken.value
	if err := p.expect(tokIdent); err != nil {
		return nil, err
	}
	p.nextToken()

	if p.curToken.kind == tokWhere {
		p.nextToken()
		stmt.WhereCol = p.curToken.value
		if err := p.expect(tokIdent); err != nil {
			return nil, err
		}
		p.nextToken()
		if err := p.expect(tokEqual); err != nil {
			return nil, err
		}
		p.nextToken()

		switch p.curToken.kind {
		case tokString, tokIntLit, tokFloatLit:
			stmt.WhereValue = valueExpr{Literal: p.curToken.value, Kind: p.curToken.kind}
		case tokPlaceholder:
			stmt.WhereValue = valueExpr{IsPlaceholder: true}
		default:
			return nil, webdbcore.Invalid("unexpected token %q in WHERE clause", p.curToken.value)
		}
		p.nextToken()
		stmt.HasWhere = true
	}

	return stmt, nil
}
