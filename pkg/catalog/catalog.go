package catalog

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/minifish-org/tegdb/pkg/engine"
	"github.com/minifish-org/tegdb/pkg/tegerr"
	"github.com/minifish-org/tegdb/pkg/types"
)

// reservedTableNames must never be used as a user table name: they would
// collide with the single- and double-character reserved key prefixes.
var reservedTableNames = map[string]bool{"S": true, "I": true, "UX": true}

// IndexKind distinguishes a UNIQUE secondary index from an HNSW vector
// index; both are recorded the same way in the schema's index list.
type IndexKind uint8

const (
	IndexUnique IndexKind = iota
	IndexHNSW
)

// IndexDescriptor names one index on a table.
type IndexDescriptor struct {
	Name   string    `yaml:"name"`
	Table  string    `yaml:"table"`
	Column string    `yaml:"column"`
	Kind   IndexKind `yaml:"kind"`
}

// Column is one column of a schema, with both its declared type and the
// storage metadata ComputeMetadata fills in for non-PK columns.
type Column struct {
	Name       string         `yaml:"name"`
	DataType   types.DataType `yaml:"data_type"`
	MaxLen     uint32         `yaml:"max_len,omitempty"`   // Text/Blob
	Dim        uint32         `yaml:"dim,omitempty"`       // Vector
	PrimaryKey bool           `yaml:"primary_key,omitempty"`
	NotNull    bool           `yaml:"not_null,omitempty"`
	Unique     bool           `yaml:"unique,omitempty"`

	// Storage metadata, computed by ComputeMetadata. Offset and size are
	// zero for PK columns, which are never stored in the row value; the
	// type code is the column's DataType for every column.
	StorageOffset   uint32 `yaml:"storage_offset"`
	StorageSize     uint32 `yaml:"storage_size"`
	StorageTypeCode uint8  `yaml:"storage_type_code"`
}

// Schema is one table's full definition: ordered columns plus indexes.
type Schema struct {
	Table       string            `yaml:"table"`
	Columns     []Column          `yaml:"columns"`
	Indexes     []IndexDescriptor `yaml:"indexes"`
	ValueSize   uint32            `yaml:"value_size"`
	BitmapBytes uint32            `yaml:"bitmap_bytes"`
}

// PrimaryKeyColumns returns the schema's PK columns in declaration order.
func (s *Schema) PrimaryKeyColumns() []Column {
	var out []Column
	for _, c := range s.Columns {
		if c.PrimaryKey {
			out = append(out, c)
		}
	}
	return out
}

// NonPrimaryKeyColumns returns the schema's non-PK columns in declaration
// order — the order in which they occupy slots in the row value.
func (s *Schema) NonPrimaryKeyColumns() []Column {
	var out []Column
	for _, c := range s.Columns {
		if !c.PrimaryKey {
			out = append(out, c)
		}
	}
	return out
}

// Column looks up a column by name.
func (s *Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// storageSize returns the fixed slot size for a column's declared type.
func storageSize(c Column) (uint32, error) {
	switch c.DataType {
	case types.Integer, types.Real:
		return 8, nil
	case types.Text, types.Blob:
		return 4 + c.MaxLen, nil
	case types.Vector:
		return c.Dim * 8, nil
	default:
		return 0, tegerr.New(tegerr.KindTypeMismatch, fmt.Sprintf("column %q has unsupported storage type", c.Name))
	}
}

// ComputeMetadata assigns storage_offset and storage_size to every non-PK
// column and storage_type_code to every column, and rejects schemas with no
// primary-key column. It must run once, before a schema's first use, and
// again after any DDL mutation that changes column order (CREATE TABLE
// only in this core; ALTER TABLE is not in the grammar).
func ComputeMetadata(s *Schema) error {
	pk := s.PrimaryKeyColumns()
	if len(pk) == 0 {
		return tegerr.New(tegerr.KindOther, fmt.Sprintf("table %q must declare at least one PRIMARY KEY column", s.Table))
	}

	nonPK := s.NonPrimaryKeyColumns()
	s.BitmapBytes = uint32((len(nonPK) + 7) / 8)

	offset := s.BitmapBytes
	for i := range s.Columns {
		c := &s.Columns[i]
		if c.PrimaryKey {
			c.StorageOffset, c.StorageSize, c.StorageTypeCode = 0, 0, uint8(c.DataType)
			continue
		}
		size, err := storageSize(*c)
		if err != nil {
			return err
		}
		c.StorageOffset = offset
		c.StorageSize = size
		c.StorageTypeCode = uint8(c.DataType)
		offset += size
	}
	s.ValueSize = offset
	return nil
}

// validateTableName rejects names that would collide with a reserved
// prefix or contain the key-component delimiter.
func validateTableName(table string) error {
	if reservedTableNames[table] {
		return tegerr.New(tegerr.KindOther, fmt.Sprintf("table name %q collides with a reserved key prefix", table))
	}
	if strings.Contains(table, ":") {
		return tegerr.New(tegerr.KindOther, fmt.Sprintf("table name %q must not contain ':'", table))
	}
	return nil
}

// Catalog is the in-memory, database-handle-lifetime view of every table's
// schema. It is mutated only via CreateTable/DropTable/CreateIndex, all of
// which also persist the mutation to the engine within the caller's
// transaction.
type Catalog struct {
	schemas map[string]*Schema
}

// LoadAll scans the S: keyspace and rebuilds the in-memory catalog. It is
// called once at database open.
func LoadAll(eng *engine.Engine) (*Catalog, error) {
	cat := &Catalog{schemas: make(map[string]*Schema)}

	pairs := eng.Scan([]byte("S:"), engine.PrefixUpperBound("S:"))
	for _, p := range pairs {
		var s Schema
		if err := yaml.Unmarshal(p.Value, &s); err != nil {
			return nil, tegerr.Wrap(tegerr.KindCorrupted, "decode schema", err)
		}
		if err := ComputeMetadata(&s); err != nil {
			return nil, err
		}
		cat.schemas[s.Table] = &s
	}
	return cat, nil
}

// Get returns the schema for table, or ok=false if it doesn't exist.
func (c *Catalog) Get(table string) (*Schema, bool) {
	s, ok := c.schemas[table]
	return s, ok
}

// CreateTable computes storage metadata for schema, persists it under
// S:<table>, and adds it to the in-memory catalog. Callers commit tx to
// make the mutation durable.
func (c *Catalog) CreateTable(tx *engine.Tx, schema *Schema) error {
	if err := validateTableName(schema.Table); err != nil {
		return err
	}
	if _, exists := c.schemas[schema.Table]; exists {
		return tegerr.New(tegerr.KindOther, fmt.Sprintf("table %q already exists", schema.Table))
	}
	if err := ComputeMetadata(schema); err != nil {
		return err
	}

	blob, err := yaml.Marshal(schema)
	if err != nil {
		return tegerr.Wrap(tegerr.KindOther, "encode schema", err)
	}
	if err := tx.Set([]byte("S:"+schema.Table), blob); err != nil {
		return err
	}
	for _, idx := range schema.Indexes {
		if err := persistIndex(tx, idx); err != nil {
			return err
		}
	}

	c.schemas[schema.Table] = schema
	return nil
}

// DropTable deletes the schema entry, every data row under <table>:, and
// every UX:<table>: secondary-index entry.
func (c *Catalog) DropTable(tx *engine.Tx, table string) error {
	if _, exists := c.schemas[table]; !exists {
		return tegerr.New(tegerr.KindTableNotFound, fmt.Sprintf("table %q not found", table))
	}

	prefix := table + ":"
	for _, p := range tx.Scan([]byte(prefix), engine.PrefixUpperBound(prefix)) {
		if err := tx.Del(p.Key); err != nil {
			return err
		}
	}

	uxPrefix := "UX:" + table + ":"
	for _, p := range tx.Scan([]byte(uxPrefix), engine.PrefixUpperBound(uxPrefix)) {
		if err := tx.Del(p.Key); err != nil {
			return err
		}
	}

	idxPrefix := "I:" + table + ":"
	for _, p := range tx.Scan([]byte(idxPrefix), engine.PrefixUpperBound(idxPrefix)) {
		if err := tx.Del(p.Key); err != nil {
			return err
		}
	}

	if err := tx.Del([]byte("S:" + table)); err != nil {
		return err
	}

	delete(c.schemas, table)
	return nil
}

// CreateIndex appends an index descriptor to the schema's index list,
// rewrites the S: entry, and persists the I: entry.
func (c *Catalog) CreateIndex(tx *engine.Tx, desc IndexDescriptor) error {
	schema, exists := c.schemas[desc.Table]
	if !exists {
		return tegerr.New(tegerr.KindTableNotFound, fmt.Sprintf("table %q not found", desc.Table))
	}
	if _, ok := schema.Column(desc.Column); !ok {
		return tegerr.New(tegerr.KindColumnNotFound, fmt.Sprintf("column %q not found on table %q", desc.Column, desc.Table))
	}

	schema.Indexes = append(schema.Indexes, desc)
	blob, err := yaml.Marshal(schema)
	if err != nil {
		return tegerr.Wrap(tegerr.KindOther, "encode schema", err)
	}
	if err := tx.Set([]byte("S:"+schema.Table), blob); err != nil {
		return err
	}
	return persistIndex(tx, desc)
}

func persistIndex(tx *engine.Tx, desc IndexDescriptor) error {
	blob, err := yaml.Marshal(desc)
	if err != nil {
		return tegerr.Wrap(tegerr.KindOther, "encode index descriptor", err)
	}
	key := fmt.Sprintf("I:%s:%s", desc.Table, desc.Column)
	return tx.Set([]byte(key), blob)
}
