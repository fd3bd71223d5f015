package engine

import (
	"context"
	"testing"

	"github.com/duckdb-wasm-go/webdbcore/hostrt"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(context.Background(), t.TempDir(), hostrt.NewNativeRuntime())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return e
}

func TestCreateInsertSelect(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	if _, err := e.Exec(ctx, "CREATE TABLE users (id INT PRIMARY KEY, name VARCHAR, score FLOAT)"); err != nil {
		t.Fatalf("CREATE TABLE: %v", err)
	}

	if _, err := e.Exec(ctx, `INSERT INTO users VALUES (1, "alice", 9.5)`); err != nil {
		t.Fatalf("INSERT: %v", err)
	}
	if _, err := e.Exec(ctx, `INSERT INTO users VALUES (2, "bob", 7.25)`); err != nil {
		t.Fatalf("INSERT: %v", err)
	}

	res, err := e.Exec(ctx, "SELECT id, name FROM users")
	if err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(res.Rows))
	}

	res, err = e.Exec(ctx, `SELECT name FROM users WHERE id = 2`)
	if err != nil {
		t.Fatalf("SELECT WHERE: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0][0] != "bob" {
		t.Fatalf("unexpected WHERE result: %+v", res.Rows)
	}

	res, err = e.Exec(ctx, "SELECT count(*) FROM users")
	if err != nil {
		t.Fatalf("SELECT count: %v", err)
	}
	if res.Rows[0][0].(int64) != 2 {
		t.Fatalf("expected count 2, got %v", res.Rows[0][0])
	}

	res, err = e.Exec(ctx, "SELECT sum(score) FROM users")
	if err != nil {
		t.Fatalf("SELECT sum: %v", err)
	}
	if got := res.Rows[0][0].(float64); got != 16.75 {
		t.Fatalf("expected sum 16.75, got %v", got)
	}
}

func TestInsertWithPlaceholders(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	if _, err := e.Exec(ctx, "CREATE TABLE t (id INT PRIMARY KEY, label VARCHAR)"); err != nil {
		t.Fatalf("CREATE TABLE: %v", err)
	}
	if _, err := e.Exec(ctx, "INSERT INTO t VALUES (?, ?)", int64(1), "hello"); err != nil {
		t.Fatalf("INSERT: %v", err)
	}

	res, err := e.Exec(ctx, "SELECT label FROM t WHERE id = ?", int64(1))
	if err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0][0] != "hello" {
		t.Fatalf("unexpected result: %+v", res.Rows)
	}
}

func TestDuplicatePrimaryKeyRejected(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	if _, err := e.Exec(ctx, "CREATE TABLE t (id INT PRIMARY KEY)"); err != nil {
		t.Fatalf("CREATE TABLE: %v", err)
	}
	if _, err := e.Exec(ctx, "INSERT INTO t VALUES (1)"); err != nil {
		t.Fatalf("first INSERT: %v", err)
	}
	if _, err := e.Exec(ctx, "INSERT INTO t VALUES (1)"); err == nil {
		t.Fatalf("expected duplicate primary key error")
	}
}

func TestCreateTableRejectsDuplicateName(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	if _, err := e.Exec(ctx, "CREATE TABLE t (id INT PRIMARY KEY)"); err != nil {
		t.Fatalf("CREATE TABLE: %v", err)
	}
	if _, err := e.Exec(ctx, "CREATE TABLE t (id INT PRIMARY KEY)"); err == nil {
		t.Fatalf("expected error creating duplicate table")
	}
}

func TestManyRowsSpanMultiplePages(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	if _, err := e.Exec(ctx, "CREATE TABLE big (id INT PRIMARY KEY, label VARCHAR)"); err != nil {
		t.Fatalf("CREATE TABLE: %v", err)
	}
	const n = 500
	for i := 0; i < n; i++ {
		if _, err := e.Exec(ctx, "INSERT INTO big VALUES (?, ?)", int64(i), "row-label-padding"); err != nil {
			t.Fatalf("INSERT %d: %v", i, err)
		}
	}

	res, err := e.Exec(ctx, "SELECT count(*) FROM big")
	if err != nil {
		t.Fatalf("SELECT count: %v", err)
	}
	if res.Rows[0][0].(int64) != int64(n) {
		t.Fatalf("expected %d rows, got %v", n, res.Rows[0][0])
	}
}
