package webdb

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	webdbcore "github.com/duckdb-wasm-go/webdbcore"
	"github.com/duckdb-wasm-go/webdbcore/engine"
)

const fetchBatchRows = 1024

// preparedStatement holds one entry of a connection's prepared statement
// table, keyed by a monotonically increasing id (§4.9).
type preparedStatement struct {
	sql string
}

// streamState is the single live streaming cursor a connection may hold at
// once (§4.9: "only one live stream per connection").
type streamState struct {
	result     *engine.Result
	emitBigint bool
	offset     int
}

// Connection is one client session against a WebDB: RunQuery/SendQuery for
// ad hoc SQL, and a small prepared-statement table for repeated execution.
type Connection struct {
	id uuid.UUID
	db *WebDB

	mu       sync.Mutex
	stream   *streamState
	prepared map[uint64]preparedStatement
	nextStmt uint64
}

func newConnection(id uuid.UUID, db *WebDB) *Connection {
	return &Connection{id: id, db: db, prepared: make(map[uint64]preparedStatement)}
}

// ID returns this connection's server-side identifier.
func (c *Connection) ID() uuid.UUID { return c.id }

func (c *Connection) exec(ctx context.Context, sql string, args ...interface{}) (*engine.Result, error) {
	return c.db.eng.Exec(ctx, sql, args...)
}

// RunQueryPlain executes sql and returns the engine's own Result rather
// than an Arrow buffer, for callers (webdb-shell) that print rows directly
// instead of decoding a wire format.
func (c *Connection) RunQueryPlain(ctx context.Context, sql string, args ...interface{}) (*engine.Result, error) {
	return c.exec(ctx, sql, args...)
}

// RunQuery executes sql to completion and returns one Arrow IPC stream
// holding the schema, every result row, and the stream footer.
func (c *Connection) RunQuery(ctx context.Context, sql string, args ...interface{}) ([]byte, error) {
	res, err := c.exec(ctx, sql, args...)
	if err != nil {
		return nil, webdbcore.ExecutionError(err, "running query")
	}
	return serializeFull(res, c.db.emitBigint())
}

// SendQuery executes sql, stashes the full result as this connection's live
// stream, and returns only the schema. FetchQueryResults drains the rows.
func (c *Connection) SendQuery(ctx context.Context, sql string, args ...interface{}) ([]byte, error) {
	res, err := c.exec(ctx, sql, args...)
	if err != nil {
		return nil, webdbcore.ExecutionError(err, "sending query")
	}

	c.mu.Lock()
	c.stream = &streamState{result: res, emitBigint: c.db.emitBigint()}
	c.mu.Unlock()

	return serializeSchemaOnly(res, c.db.emitBigint())
}

// FetchQueryResults returns the next batch of the live stream, or nil once
// every row has been delivered. It fails if no stream is active.
func (c *Connection) FetchQueryResults(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return nil, webdbcore.Invalid("connection %s has no active query stream", c.id)
	}
	s := c.stream
	if s.offset >= len(s.result.Rows) {
		c.stream = nil
		return nil, nil
	}

	end := s.offset + fetchBatchRows
	if end > len(s.result.Rows) {
		end = len(s.result.Rows)
	}
	batch, err := serializeBatch(s.result, s.emitBigint, s.offset, end)
	if err != nil {
		return nil, err
	}
	s.offset = end
	return batch, nil
}

// CreatePreparedStatement registers sql for repeated execution and returns
// its id.
func (c *Connection) CreatePreparedStatement(sql string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextStmt++
	if c.nextStmt == 0 {
		// On wrap-around, skip 0 rather than hand it out as an id.
		c.nextStmt = 1
	}
	c.prepared[c.nextStmt] = preparedStatement{sql: sql}
	return c.nextStmt
}

// ClosePreparedStatement forgets id. Later Run/Send calls against it fail.
func (c *Connection) ClosePreparedStatement(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.prepared, id)
}

func (c *Connection) lookupPrepared(id uint64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.prepared[id]
	if !ok {
		return "", webdbcore.KeyErr("no prepared statement with id %d", id)
	}
	return st.sql, nil
}

// RunPreparedStatement decodes argsJSON, binds it against id's SQL text,
// and behaves like RunQuery.
func (c *Connection) RunPreparedStatement(ctx context.Context, id uint64, argsJSON []byte) ([]byte, error) {
	sql, err := c.lookupPrepared(id)
	if err != nil {
		return nil, err
	}
	args, err := decodeArgs(argsJSON)
	if err != nil {
		return nil, err
	}
	return c.RunQuery(ctx, sql, args...)
}

// SendPreparedStatement decodes argsJSON, binds it against id's SQL text,
// and behaves like SendQuery.
func (c *Connection) SendPreparedStatement(ctx context.Context, id uint64, argsJSON []byte) ([]byte, error) {
	sql, err := c.lookupPrepared(id)
	if err != nil {
		return nil, err
	}
	args, err := decodeArgs(argsJSON)
	if err != nil {
		return nil, err
	}
	return c.SendQuery(ctx, sql, args...)
}

// decodeArgs parses a JSON array of scalar bind values, rejecting anything
// but number, string, boolean and null per §4.9's prepared-statement
// argument rules.
func decodeArgs(raw []byte) ([]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var vals []interface{}
	if err := json.Unmarshal(raw, &vals); err != nil {
		return nil, webdbcore.Invalid("decoding prepared statement arguments: %v", err)
	}
	for i, v := range vals {
		switch v.(type) {
		case float64, string, bool, nil:
		default:
			return nil, webdbcore.Invalid("invalid column type for argument %d", i)
		}
	}
	return vals, nil
}
