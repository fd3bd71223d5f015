package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	webdbcore "github.com/duckdb-wasm-go/webdbcore"
	"github.com/duckdb-wasm-go/webdbcore/types"
)

// tableFile records the heap-file id backing one table's rows.
type tableFile struct {
	HeapFileID uint32 `json:"heapFileId"`
}

// catalog persists table schemas and their heap-file assignment as JSON,
// the way the teacher's own catalog manager does — this metadata never
// goes through the page buffer, only the row data does.
type catalog struct {
	root       string
	nextFileID uint32
	schemas    map[string]types.TableSchema
	files      map[string]tableFile
}

func newCatalog(root string) (*catalog, error) {
	c := &catalog{
		root:       root,
		nextFileID: 1,
		schemas:    make(map[string]types.TableSchema),
		files:      make(map[string]tableFile),
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, webdbcore.IoError(err, "creating catalog root %q", root)
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *catalog) schemaPath(table string) string {
	return filepath.Join(c.root, table+"_schema.json")
}

func (c *catalog) mappingPath() string {
	return filepath.Join(c.root, "table_file_mapping.json")
}

func (c *catalog) load() error {
	data, err := os.ReadFile(c.mappingPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return webdbcore.IoError(err, "reading catalog mapping")
	}
	if err := json.Unmarshal(data, &c.files); err != nil {
		return webdbcore.IoError(err, "parsing catalog mapping")
	}
	for name, tf := range c.files {
		if tf.HeapFileID >= c.nextFileID {
			c.nextFileID = tf.HeapFileID + 1
		}
		schemaData, err := os.ReadFile(c.schemaPath(name))
		if err != nil {
			continue
		}
		var schema types.TableSchema
		if json.Unmarshal(schemaData, &schema) == nil {
			c.schemas[name] = schema
		}
	}
	return nil
}

func (c *catalog) persistMapping() error {
	data, err := json.MarshalIndent(c.files, "", "  ")
	if err != nil {
		return webdbcore.IoError(err, "marshalling catalog mapping")
	}
	if err := os.WriteFile(c.mappingPath(), data, 0644); err != nil {
		return webdbcore.IoError(err, "writing catalog mapping")
	}
	return nil
}

func (c *catalog) tableExists(name string) bool {
	_, ok := c.schemas[strings.ToLower(name)]
	return ok
}

func (c *catalog) schema(name string) (types.TableSchema, error) {
	s, ok := c.schemas[strings.ToLower(name)]
	if !ok {
		return types.TableSchema{}, webdbcore.Invalid("table %q does not exist", name)
	}
	return s, nil
}

func (c *catalog) heapFileID(name string) (uint32, error) {
	tf, ok := c.files[strings.ToLower(name)]
	if !ok {
		return 0, webdbcore.Invalid("table %q does not exist", name)
	}
	return tf.HeapFileID, nil
}

func (c *catalog) createTable(schema types.TableSchema) (uint32, error) {
	key := strings.ToLower(schema.TableName)
	if _, exists := c.schemas[key]; exists {
		return 0, webdbcore.Invalid("table %q already exists", schema.TableName)
	}

	fileID := c.nextFileID
	c.nextFileID++
	c.schemas[key] = schema
	c.files[key] = tableFile{HeapFileID: fileID}

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return 0, webdbcore.IoError(err, "marshalling schema for %q", schema.TableName)
	}
	if err := os.WriteFile(c.schemaPath(key), data, 0644); err != nil {
		return 0, webdbcore.IoError(err, "writing schema for %q", schema.TableName)
	}
	if err := c.persistMapping(); err != nil {
		return 0, err
	}
	return fileID, nil
}
