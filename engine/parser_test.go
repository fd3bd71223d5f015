package engine

import "testing"

func TestParseCreateTable(t *testing.T) {
	stmt, err := parseStatement("CREATE TABLE users (id INT PRIMARY KEY, name VARCHAR)")
	if err != nil {
		t.Fatalf("parseStatement: %v", err)
	}
	ct, ok := stmt.(*createTableStmt)
	if !ok {
		t.Fatalf("expected *createTableStmt, got %T", stmt)
	}
	if ct.TableName != "users" || len(ct.Columns) != 2 {
		t.Fatalf("unexpected statement: %+v", ct)
	}
	if !ct.Columns[0].IsPrimaryKey {
		t.Errorf("expected id to be primary key")
	}
}

func TestParseCreateTableRejectsSecondPrimaryKey(t *testing.T) {
	_, err := parseStatement("CREATE TABLE t (a INT PRIMARY KEY, b INT PRIMARY KEY)")
	if err == nil {
		t.Fatalf("expected error for two primary keys")
	}
}

func TestParseSelectWithWhere(t *testing.T) {
	stmt, err := parseStatement(`SELECT a, b FROM t WHERE a = 5`)
	if err != nil {
		t.Fatalf("parseStatement: %v", err)
	}
	sel := stmt.(*selectStmt)
	if sel.Table != "t" || !sel.HasWhere || sel.WhereCol != "a" {
		t.Fatalf("unexpected select: %+v", sel)
	}
	if sel.WhereValue.Kind != tokIntLit || sel.WhereValue.Literal != "5" {
		t.Fatalf("unexpected where value: %+v", sel.WhereValue)
	}
}

func TestParseSelectAggregates(t *testing.T) {
	stmt, err := parseStatement("SELECT count(*) FROM t")
	if err != nil {
		t.Fatalf("parseStatement: %v", err)
	}
	if stmt.(*selectStmt).Agg != aggCount {
		t.Fatalf("expected aggCount")
	}

	stmt, err = parseStatement("SELECT sum(amount) FROM t")
	if err != nil {
		t.Fatalf("parseStatement: %v", err)
	}
	sel := stmt.(*selectStmt)
	if sel.Agg != aggSum || sel.AggColumn != "amount" {
		t.Fatalf("unexpected aggregate select: %+v", sel)
	}
}

func TestParseInsertWithPlaceholders(t *testing.T) {
	stmt, err := parseStatement("INSERT INTO t VALUES (?, ?, 3)")
	if err != nil {
		t.Fatalf("parseStatement: %v", err)
	}
	ins := stmt.(*insertStmt)
	if len(ins.Values) != 3 || !ins.Values[0].IsPlaceholder || !ins.Values[1].IsPlaceholder {
		t.Fatalf("unexpected values: %+v", ins.Values)
	}
	if ins.Values[2].IsPlaceholder || ins.Values[2].Literal != "3" {
		t.Fatalf("expected literal 3, got %+v", ins.Values[2])
	}
}

func TestLexerFloatLiteral(t *testing.T) {
	l := newLexer("3.14")
	tok := l.next()
	if tok.kind != tokFloatLit || tok.value != "3.14" {
		t.Fatalf("expected float literal 3.14, got %+v", tok)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := parseStatement("DELETE FROM t"); err == nil {
		t.Fatalf("expected error for unsupported statement")
	}
}
