package engine

import (
	"encoding/binary"
	"math"

	webdbcore "github.com/duckdb-wasm-go/webdbcore"
	"github.com/duckdb-wasm-go/webdbcore/types"
)

// encodeRow packs values (already coerced to their column's declared type,
// in schema column order) into one heap-page record.
func encodeRow(schema types.TableSchema, values []interface{}) []byte {
	var buf []byte
	for i, col := range schema.Columns {
		v := values[i]
		switch col.Type {
		case "INT":
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], uint64(v.(int64)))
			buf = append(buf, b[:]...)
		case "FLOAT":
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.(float64)))
			buf = append(buf, b[:]...)
		case "VARCHAR":
			s := v.(string)
			var lenBuf [2]byte
			binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(s)))
			buf = append(buf, lenBuf[:]...)
			buf = append(buf, s...)
		}
	}
	return buf
}

// decodeRow is encodeRow's inverse, returning a types.Row keyed by column
// name the way the teacher's own row type is populated.
func decodeRow(schema types.TableSchema, data []byte) (types.Row, error) {
	row := types.Row{Values: make(map[string]interface{}, len(schema.Columns))}
	pos := 0
	for _, col := range schema.Columns {
		switch col.Type {
		case "INT":
			if pos+8 > len(data) {
				return row, webdbcore.Invalid("truncated record decoding column %q", col.Name)
			}
			row.Values[col.Name] = int64(binary.LittleEndian.Uint64(data[pos:]))
			pos += 8
		case "FLOAT":
			if pos+8 > len(data) {
				return row, webdbcore.Invalid("truncated record decoding column %q", col.Name)
			}
			row.Values[col.Name] = math.Float64frombits(binary.LittleEndian.Uint64(data[pos:]))
			pos += 8
		case "VARCHAR":
			if pos+2 > len(data) {
				return row, webdbcore.Invalid("truncated record decoding column %q", col.Name)
			}
			n := int(binary.LittleEndian.Uint16(data[pos:]))
			pos += 2
			if pos+n > len(data) {
				return row, webdbcore.Invalid("truncated record decoding column %q", col.Name)
			}
			row.Values[col.Name] = string(data[pos : pos+n])
			pos += n
		}
	}
	return row, nil
}
