package webdb

import (
	"bytes"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	webdbcore "github.com/duckdb-wasm-go/webdbcore"
	"github.com/duckdb-wasm-go/webdbcore/engine"
)

// arrowSchema builds the Arrow schema for a Result, patching 64-bit integer
// columns to double when emitBigint is false (§4.9's schema-patching rule —
// browsers hosting duckdb-wasm cannot represent a full int64 in a JS number,
// so the caller may ask for the lossy but JS-native rewrite instead).
func arrowSchema(res *engine.Result, emitBigint bool) *arrow.Schema {
	fields := make([]arrow.Field, len(res.Columns))
	for i, name := range res.Columns {
		fields[i] = arrow.Field{Name: name, Type: arrowType(res.ColumnTypes[i], emitBigint), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

func arrowType(colType string, emitBigint bool) arrow.DataType {
	switch colType {
	case "INT":
		if emitBigint {
			return arrow.PrimitiveTypes.Int64
		}
		return arrow.PrimitiveTypes.Float64
	case "FLOAT":
		return arrow.PrimitiveTypes.Float64
	default:
		return arrow.BinaryTypes.String
	}
}

// arrowRecord builds one Arrow record batch out of every row in res.
func arrowRecord(mem memory.Allocator, schema *arrow.Schema, res *engine.Result, emitBigint bool) arrow.Record {
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for _, row := range res.Rows {
		for c, v := range row {
			appendValue(b.Field(c), res.ColumnTypes[c], emitBigint, v)
		}
	}
	return b.NewRecord()
}

func appendValue(fb array.Builder, colType string, emitBigint bool, v interface{}) {
	if v == nil {
		fb.AppendNull()
		return
	}
	switch colType {
	case "INT":
		i, _ := v.(int64)
		if emitBigint {
			fb.(*array.Int64Builder).Append(i)
		} else {
			fb.(*array.Float64Builder).Append(float64(i))
		}
	case "FLOAT":
		f, _ := v.(float64)
		fb.(*array.Float64Builder).Append(f)
	default:
		s, _ := v.(string)
		fb.(*array.StringBuilder).Append(s)
	}
}

// serializeFull writes a self-contained Arrow IPC stream: schema, one
// record batch holding every row, and the stream footer (RunQuery's shape).
func serializeFull(res *engine.Result, emitBigint bool) ([]byte, error) {
	mem := memory.NewGoAllocator()
	schema := arrowSchema(res, emitBigint)
	rec := arrowRecord(mem, schema, res, emitBigint)
	defer rec.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err := w.Write(rec); err != nil {
		return nil, webdbcore.ExecutionError(err, "serializing result batch")
	}
	if err := w.Close(); err != nil {
		return nil, webdbcore.ExecutionError(err, "closing result stream")
	}
	return buf.Bytes(), nil
}

// serializeSchemaOnly writes an Arrow IPC stream carrying the schema and no
// record batches, for SendQuery's initial response.
func serializeSchemaOnly(res *engine.Result, emitBigint bool) ([]byte, error) {
	mem := memory.NewGoAllocator()
	schema := arrowSchema(res, emitBigint)

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err := w.Close(); err != nil {
		return nil, webdbcore.ExecutionError(err, "closing schema stream")
	}
	return buf.Bytes(), nil
}

// serializeBatch writes one record batch (rows [start:end) of res) as a
// self-contained IPC stream sharing res's schema, for FetchQueryResults.
func serializeBatch(res *engine.Result, emitBigint bool, start, end int) ([]byte, error) {
	mem := memory.NewGoAllocator()
	schema := arrowSchema(res, emitBigint)
	slice := &engine.Result{Columns: res.Columns, ColumnTypes: res.ColumnTypes, Rows: res.Rows[start:end]}
	rec := arrowRecord(mem, schema, slice, emitBigint)
	defer rec.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err := w.Write(rec); err != nil {
		return nil, webdbcore.ExecutionError(err, "serializing batch")
	}
	if err := w.Close(); err != nil {
		return nil, webdbcore.ExecutionError(err, "closing batch stream")
	}
	return buf.Bytes(), nil
}
