package types

// Row is one table row keyed by column name as declared in the schema, the shape
// engine/row_codec.go decodes into and engine.go filters/projects over.
type Row struct {
	Values map[string]interface{}
}
