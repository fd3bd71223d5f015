package webdb

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"

	webdbcore "github.com/duckdb-wasm-go/webdbcore"
)

// csvOptions is §4.9's InsertCSVFromPath option bag; every field but
// TableName is optional.
type csvOptions struct {
	SchemaName string `json:"schema_name"`
	TableName  string `json:"name"`
	Header     *bool  `json:"header"`
	Delimiter  string `json:"delimiter"`
	AutoDetect *bool  `json:"auto_detect"`
}

func (o csvOptions) hasHeader() bool {
	if o.Header == nil {
		return true
	}
	return *o.Header
}

func (o csvOptions) delimiter() rune {
	if o.Delimiter == "" {
		return ','
	}
	return rune(o.Delimiter[0])
}

// InsertCSVFromPath reads a registered file as CSV and inserts every data
// row into TableName, auto-creating the table from the header row and a
// column-type scan of the data when it doesn't already exist.
func (db *WebDB) InsertCSVFromPath(ctx context.Context, path string, optsJSON []byte) error {
	var opts csvOptions
	if len(optsJSON) > 0 {
		if err := json.Unmarshal(optsJSON, &opts); err != nil {
			return webdbcore.Invalid("decoding csv insert options: %v", err)
		}
	}
	if opts.TableName == "" {
		return webdbcore.Invalid("missing 'name' option")
	}

	data, err := db.CopyFileToBuffer(ctx, path)
	if err != nil {
		return err
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = opts.delimiter()
	rows, err := r.ReadAll()
	if err != nil {
		return webdbcore.Invalid("parsing csv %q: %v", path, err)
	}
	if len(rows) == 0 {
		return nil
	}

	var header []string
	dataRows := rows
	if opts.hasHeader() {
		header = rows[0]
		dataRows = rows[1:]
	} else {
		header = make([]string, len(rows[0]))
		for i := range header {
			header[i] = fmt.Sprintf("col%d", i)
		}
	}

	if err := db.ensureTable(ctx, opts.TableName, header, dataRows); err != nil {
		return err
	}
	return db.insertStringRows(ctx, opts.TableName, dataRows)
}

// jsonOptions mirrors csvOptions for InsertJSONFromPath.
type jsonOptions struct {
	SchemaName string `json:"schema_name"`
	TableName  string `json:"name"`
}

// InsertJSONFromPath reads a registered file as either a JSON array of row
// objects or an array of arrays (the shape is detected from the content;
// there is no option to select it), and inserts every row into TableName,
// auto-creating it only for row objects.
func (db *WebDB) InsertJSONFromPath(ctx context.Context, path string, optsJSON []byte) error {
	var opts jsonOptions
	if len(optsJSON) > 0 {
		if err := json.Unmarshal(optsJSON, &opts); err != nil {
			return webdbcore.Invalid("decoding json insert options: %v", err)
		}
	}
	if opts.TableName == "" {
		return webdbcore.Invalid("missing 'name' option")
	}

	data, err := db.CopyFileToBuffer(ctx, path)
	if err != nil {
		return err
	}

	var rowObjects []map[string]interface{}
	if err := json.Unmarshal(data, &rowObjects); err == nil && len(rowObjects) > 0 {
		return db.insertRowObjects(ctx, opts.TableName, rowObjects)
	}

	var rowArrays [][]interface{}
	if err := json.Unmarshal(data, &rowArrays); err != nil {
		return webdbcore.Invalid("unrecognized JSON table shape in %q", path)
	}
	return db.insertRowArrays(ctx, opts.TableName, rowArrays)
}

// arrowIPCOptions is §4.9's InsertArrowFromIPCStream option bag.
type arrowIPCOptions struct {
	SchemaName string `json:"schema_name"`
	TableName  string `json:"name"`
	CreateNew  bool   `json:"create_new"`
}

// InsertArrowFromIPCStream decodes data as an Arrow IPC stream and inserts
// every record's rows into TableName, creating it from the stream's schema
// when create_new is set.
func (db *WebDB) InsertArrowFromIPCStream(ctx context.Context, data []byte, optsJSON []byte) error {
	var opts arrowIPCOptions
	if len(optsJSON) > 0 {
		if err := json.Unmarshal(optsJSON, &opts); err != nil {
			return webdbcore.Invalid("decoding arrow insert options: %v", err)
		}
	}
	if opts.TableName == "" {
		return webdbcore.Invalid("missing 'name' option")
	}

	reader, err := ipc.NewReader(bytes.NewReader(data))
	if err != nil {
		return webdbcore.Invalid("decoding arrow IPC stream: %v", err)
	}
	defer reader.Release()

	schema := reader.Schema()
	if opts.CreateNew {
		if err := db.createTableFromArrowSchema(ctx, opts.TableName, schema); err != nil {
			return err
		}
	}

	for reader.Next() {
		rec := reader.Record()
		if err := db.insertArrowRecord(ctx, opts.TableName, rec); err != nil {
			return err
		}
	}
	if err := reader.Err(); err != nil {
		return webdbcore.ExecutionError(err, "reading arrow IPC stream")
	}
	return nil
}

func (db *WebDB) createTableFromArrowSchema(ctx context.Context, table string, schema *arrow.Schema) error {
	cols := make([]string, 0, schema.NumFields())
	for _, f := range schema.Fields() {
		t, err := sqlTypeForArrow(f.Type)
		if err != nil {
			return err
		}
		cols = append(cols, fmt.Sprintf("%s %s", f.Name, t))
	}
	sql := fmt.Sprintf("CREATE TABLE %s (%s)", table, joinComma(cols))
	_, err := db.eng.Exec(ctx, sql)
	return err
}

func sqlTypeForArrow(t arrow.DataType) (string, error) {
	switch t.ID() {
	case arrow.INT64, arrow.INT32:
		return "INT", nil
	case arrow.FLOAT64, arrow.FLOAT32:
		return "FLOAT", nil
	case arrow.STRING, arrow.LARGE_STRING:
		return "VARCHAR", nil
	default:
		return "", webdbcore.Invalid("unsupported arrow column type %s", t.Name())
	}
}

func (db *WebDB) insertArrowRecord(ctx context.Context, table string, rec arrow.Record) error {
	placeholders := make([]string, rec.NumCols())
	for i := range placeholders {
		placeholders[i] = "?"
	}
	sql := fmt.Sprintf("INSERT INTO %s VALUES (%s)", table, joinComma(placeholders))

	for row := 0; row < int(rec.NumRows()); row++ {
		args := make([]interface{}, rec.NumCols())
		for col := 0; col < int(rec.NumCols()); col++ {
			args[col] = arrowCellValue(rec.Column(col), row)
		}
		if _, err := db.eng.Exec(ctx, sql, args...); err != nil {
			return err
		}
	}
	return nil
}

func arrowCellValue(col arrow.Array, row int) interface{} {
	if col.IsNull(row) {
		return nil
	}
	switch a := col.(type) {
	case *array.Int64:
		return a.Value(row)
	case *array.Int32:
		return int64(a.Value(row))
	case *array.Float64:
		return a.Value(row)
	case *array.Float32:
		return float64(a.Value(row))
	case *array.String:
		return a.Value(row)
	default:
		return fmt.Sprintf("%v", col)
	}
}

// ensureTable creates table from header/dataRows if it doesn't already
// exist, inferring each column's type from the first non-empty value seen.
func (db *WebDB) ensureTable(ctx context.Context, table string, header []string, dataRows [][]string) error {
	if _, err := db.eng.Exec(ctx, fmt.Sprintf("SELECT count(*) FROM %s", table)); err == nil {
		return nil
	}

	cols := make([]string, len(header))
	for i, name := range header {
		t := "VARCHAR"
		for _, row := range dataRows {
			if i >= len(row) || row[i] == "" {
				continue
			}
			t = inferScalarType(row[i])
			break
		}
		cols[i] = fmt.Sprintf("%s %s", name, t)
	}
	_, err := db.eng.Exec(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", table, joinComma(cols)))
	return err
}

func inferScalarType(s string) string {
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return "INT"
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return "FLOAT"
	}
	return "VARCHAR"
}

func (db *WebDB) insertStringRows(ctx context.Context, table string, dataRows [][]string) error {
	for _, row := range dataRows {
		placeholders := make([]string, len(row))
		args := make([]interface{}, len(row))
		for i, v := range row {
			placeholders[i] = "?"
			args[i] = v
		}
		sql := fmt.Sprintf("INSERT INTO %s VALUES (%s)", table, joinComma(placeholders))
		if _, err := db.eng.Exec(ctx, sql, args...); err != nil {
			return err
		}
	}
	return nil
}

func (db *WebDB) insertRowObjects(ctx context.Context, table string, rows []map[string]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	header := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		header = append(header, k)
	}

	if _, err := db.eng.Exec(ctx, fmt.Sprintf("SELECT count(*) FROM %s", table)); err != nil {
		cols := make([]string, len(header))
		for i, name := range header {
			cols[i] = fmt.Sprintf("%s %s", name, jsonScalarType(rows[0][name]))
		}
		if _, err := db.eng.Exec(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", table, joinComma(cols))); err != nil {
			return err
		}
	}

	placeholders := make([]string, len(header))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	sql := fmt.Sprintf("INSERT INTO %s VALUES (%s)", table, joinComma(placeholders))
	for _, obj := range rows {
		args := make([]interface{}, len(header))
		for i, name := range header {
			args[i] = obj[name]
		}
		if _, err := db.eng.Exec(ctx, sql, args...); err != nil {
			return err
		}
	}
	return nil
}

func (db *WebDB) insertRowArrays(ctx context.Context, table string, rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	if _, err := db.eng.Exec(ctx, fmt.Sprintf("SELECT count(*) FROM %s", table)); err != nil {
		return webdbcore.Invalid("table %q must exist before inserting column-array JSON rows", table)
	}
	placeholders := make([]string, len(rows[0]))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	sql := fmt.Sprintf("INSERT INTO %s VALUES (%s)", table, joinComma(placeholders))
	for _, row := range rows {
		if _, err := db.eng.Exec(ctx, sql, row...); err != nil {
			return err
		}
	}
	return nil
}

func jsonScalarType(v interface{}) string {
	switch v.(type) {
	case float64:
		return "FLOAT"
	default:
		return "VARCHAR"
	}
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
