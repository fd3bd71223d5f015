// Package engine is the minimal SQL surface layered on top of the buffered
// filesystem: CREATE TABLE, INSERT, and SELECT with an optional equality
// WHERE and the sum()/count(*) aggregates. It replaces the teacher's own
// storage_engine (disk manager, its own buffer pool, B+-tree index, WAL,
// transaction manager, bytecode VM) with C4/C7/C8 doing the paging, and
// keeps only the catalog, heap-page, lexer and parser shapes it grounds on.
package engine

import (
	"context"
	"fmt"
	"sync"

	webdbcore "github.com/duckdb-wasm-go/webdbcore"
	"github.com/duckdb-wasm-go/webdbcore/bufferedfs"
	"github.com/duckdb-wasm-go/webdbcore/hostrt"
	"github.com/duckdb-wasm-go/webdbcore/types"
)

// Result is what Exec returns: either an affected-row count (CREATE/INSERT)
// or a column-and-rows projection (SELECT). ColumnTypes parallels Columns
// with each entry one of "INT", "FLOAT", "VARCHAR" — callers marshalling to
// a typed wire format (Arrow) need this since Rows only carries interface{}.
type Result struct {
	RowsAffected int64
	Columns      []string
	ColumnTypes  []string
	Rows         [][]interface{}
}

// Engine ties the catalog, heap storage and parser to one bufferedfs
// instance rooted at a directory on the host filesystem.
type Engine struct {
	root string
	fs   *bufferedfs.Filesystem
	hctx *hostrt.Context
	cat  *catalog

	mu    sync.Mutex
	heaps map[uint32]*heapFile
}

// Open creates or reopens an engine rooted at dir, using runtime for all
// host I/O — a NativeRuntime for a real on-disk database, or any other
// hostrt.Runtime a caller wants to route storage through.
func Open(ctx context.Context, dir string, runtime hostrt.Runtime) (*Engine, error) {
	cat, err := newCatalog(dir)
	if err != nil {
		return nil, err
	}
	return &Engine{
		root:  dir,
		fs:    bufferedfs.New(runtime, bufferedfs.DefaultPageSize, bufferedfs.DefaultPoolBytes),
		hctx:  hostrt.NewContext(),
		cat:   cat,
		heaps: make(map[uint32]*heapFile),
	}, nil
}

// Filesystem exposes the underlying buffered filesystem, mainly so callers
// (the webdb facade) can flush or drop files this engine's tables live in.
func (e *Engine) Filesystem() *bufferedfs.Filesystem { return e.fs }

func (e *Engine) heapFor(ctx context.Context, fileID uint32) (*heapFile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if hf, ok := e.heaps[fileID]; ok {
		return hf, nil
	}
	hf, err := openHeapFile(ctx, e.fs, e.hctx, e.root, fileID)
	if err != nil {
		return nil, err
	}
	e.heaps[fileID] = hf
	return hf, nil
}

// Exec parses and runs one SQL statement, substituting args for `?`
// placeholders in encounter order.
func (e *Engine) Exec(ctx context.Context, sql string, args ...interface{}) (*Result, error) {
	stmt, err := parseStatement(sql)
	if err != nil {
		return nil, err
	}
	switch s := stmt.(type) {
	case *createTableStmt:
		return e.execCreateTable(s)
	case *insertStmt:
		return e.execInsert(ctx, s, args)
	case *selectStmt:
		return e.execSelect(ctx, s, args)
	default:
		return nil, webdbcore.Invalid("unsupported statement type %T", stmt)
	}
}

func (e *Engine) execCreateTable(s *createTableStmt) (*Result, error) {
	schema := types.TableSchema{TableName: s.TableName}
	for _, c := range s.Columns {
		schema.Columns = append(schema.Columns, types.ColumnDef{
			Name:         c.Name,
			Type:         c.Type,
			IsPrimaryKey: c.IsPrimaryKey,
		})
	}
	if _, err := e.cat.createTable(schema); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

func (e *Engine) execInsert(ctx context.Context, s *insertStmt, args []interface{}) (*Result, error) {
	schema, err := e.cat.schema(s.Table)
	if err != nil {
		return nil, err
	}
	if len(s.Values) != len(schema.Columns) {
		return nil, webdbcore.Invalid("table %q has %d columns, INSERT supplied %d values",
			s.Table, len(schema.Columns), len(s.Values))
	}

	argPos := 0
	values := make([]interface{}, len(schema.Columns))
	for i, col := range schema.Columns {
		raw, err := s.Values[i].resolve(args, &argPos)
		if err != nil {
			return nil, err
		}
		v, err := coerce(col.Type, raw)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
		values[i] = v
	}

	if err := e.checkPrimaryKeyUnique(ctx, s.Table, schema, values); err != nil {
		return nil, err
	}

	fileID, err := e.cat.heapFileID(s.Table)
	if err != nil {
		return nil, err
	}
	hf, err := e.heapFor(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if _, err := hf.appendRow(ctx, encodeRow(schema, values)); err != nil {
		return nil, err
	}
	return &Result{RowsAffected: 1}, nil
}

func (e *Engine) checkPrimaryKeyUnique(ctx context.Context, table string, schema types.TableSchema, values []interface{}) error {
	pkIdx := -1
	for i, col := range schema.Columns {
		if col.IsPrimaryKey {
			pkIdx = i
			break
		}
	}
	if pkIdx < 0 {
		return nil
	}
	fileID, err := e.cat.heapFileID(table)
	if err != nil {
		return err
	}
	hf, err := e.heapFor(ctx, fileID)
	if err != nil {
		return err
	}
	pkName := schema.Columns[pkIdx].Name
	conflict := false
	err = hf.scan(ctx, func(_ rowPointer, rec []byte) error {
		row, err := decodeRow(schema, rec)
		if err != nil {
			return err
		}
		if valuesEqual(row.Values[pkName], values[pkIdx]) {
			conflict = true
		}
		return nil
	})
	if err != nil {
		return err
	}
	if conflict {
		return webdbcore.Invalid("duplicate primary key value for %q.%s", table, pkName)
	}
	return nil
}

func (e *Engine) execSelect(ctx context.Context, s *selectStmt, args []interface{}) (*Result, error) {
	schema, err := e.cat.schema(s.Table)
	if err != nil {
		return nil, err
	}
	fileID, err := e.cat.heapFileID(s.Table)
	if err != nil {
		return nil, err
	}
	hf, err := e.heapFor(ctx, fileID)
	if err != nil {
		return nil, err
	}

	var whereVal interface{}
	if s.HasWhere {
		argPos := 0
		raw, err := s.WhereValue.resolve(args, &argPos)
		if err != nil {
			return nil, err
		}
		colType, ok := columnType(schema, s.WhereCol)
		if !ok {
			return nil, webdbcore.Invalid("unknown column %q in WHERE clause", s.WhereCol)
		}
		whereVal, err = coerce(colType, raw)
		if err != nil {
			return nil, err
		}
	}

	matches := func(row types.Row) bool {
		if !s.HasWhere {
			return true
		}
		return valuesEqual(row.Values[s.WhereCol], whereVal)
	}

	switch s.Agg {
	case aggCount:
		var count int64
		err := hf.scan(ctx, func(_ rowPointer, rec []byte) error {
			row, err := decodeRow(schema, rec)
			if err != nil {
				return err
			}
			if matches(row) {
				count++
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &Result{Columns: []string{"count"}, ColumnTypes: []string{"INT"}, Rows: [][]interface{}{{count}}}, nil

	case aggSum:
		if _, ok := columnType(schema, s.AggColumn); !ok {
			return nil, webdbcore.Invalid("unknown column %q in sum()", s.AggColumn)
		}
		var sum float64
		err := hf.scan(ctx, func(_ rowPointer, rec []byte) error {
			row, err := decodeRow(schema, rec)
			if err != nil {
				return err
			}
			if !matches(row) {
				return nil
			}
			f, ok := asFloat(row.Values[s.AggColumn])
			if !ok {
				return webdbcore.Invalid("column %q is not numeric", s.AggColumn)
			}
			sum += f
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &Result{Columns: []string{"sum"}, ColumnTypes: []string{"FLOAT"}, Rows: [][]interface{}{{sum}}}, nil
	}

	cols := s.Columns
	if s.Star || len(cols) == 0 {
		cols = make([]string, len(schema.Columns))
		for i, c := range schema.Columns {
			cols[i] = c.Name
		}
	}
	colTypes := make([]string, len(cols))
	for i, c := range cols {
		t, ok := columnType(schema, c)
		if !ok {
			return nil, webdbcore.Invalid("unknown column %q", c)
		}
		colTypes[i] = t
	}

	var rows [][]interface{}
	err = hf.scan(ctx, func(_ rowPointer, rec []byte) error {
		row, err := decodeRow(schema, rec)
		if err != nil {
			return err
		}
		if !matches(row) {
			return nil
		}
		out := make([]interface{}, len(cols))
		for i, c := range cols {
			out[i] = row.Values[c]
		}
		rows = append(rows, out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Columns: cols, ColumnTypes: colTypes, Rows: rows}, nil
}

// Tokenize splits sql into the same tokens the parser consumes, reporting
// each one's byte offset and numeric kind — the pass-through shape a host
// facade can hand back to a caller wanting IDE-style syntax highlighting.
func Tokenize(sql string) (offsets []uint32, kinds []uint8) {
	l := newLexer(sql)
	for {
		l.skipWhitespace()
		start := l.pos
		tok := l.next()
		if tok.kind == tokEnd {
			break
		}
		offsets = append(offsets, uint32(start))
		kinds = append(kinds, uint8(tok.kind))
	}
	return offsets, kinds
}

func columnType(schema types.TableSchema, name string) (string, bool) {
	for _, c := range schema.Columns {
		if c.Name == name {
			return c.Type, true
		}
	}
	return "", false
}
