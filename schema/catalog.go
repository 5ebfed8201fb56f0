// Package schema keeps the catalog of tables and indexes and the schema
// generation counter that invalidates compiled programs.
package schema

import (
	"sort"
	"strings"

	"github.com/zhukovaskychina/xvdbe/record"
	"github.com/zhukovaskychina/xvdbe/terror"
	"github.com/zhukovaskychina/xvdbe/value"
)

// Column is one column of a table.
type Column struct {
	Name      string
	Type      string // declared type, decides the affinity
	Collation string // empty means BINARY
}

// Affinity is the column affinity derived from the declared type.
func (c *Column) Affinity() value.Affinity { return value.ParseAffinity(c.Type) }

// Table is a rowid table and the root of its tree.
type Table struct {
	Name    string
	Root    uint32
	Columns []*Column
	Indices []*Index
}

// NewTable creates a table description without a root.
func NewTable(name string, cols ...*Column) *Table {
	return &Table{Name: name, Columns: cols}
}

// GetColumn returns a column and its position by name (case-insensitive)
func (t *Table) GetColumn(name string) (*Column, int, bool) {
	for i, col := range t.Columns {
		if strings.EqualFold(col.Name, name) {
			return col, i, true
		}
	}
	return nil, -1, false
}

// Affinities returns the column affinities in column order.
func (t *Table) Affinities() []value.Affinity {
	out := make([]value.Affinity, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Affinity()
	}
	return out
}

// Index is a secondary index over table columns. Its keys are the indexed
// column values followed by the rowid.
type Index struct {
	Name       string
	Table      string
	Root       uint32
	Columns    []string
	Collations []string
	Unique     bool
}

// KeyInfo returns the comparison used by the index tree. The trailing
// rowid field compares as BINARY.
func (idx *Index) KeyInfo() (*record.KeyInfo, error) {
	names := make([]string, len(idx.Columns)+1)
	for i := range idx.Columns {
		names[i] = "BINARY"
		if i < len(idx.Collations) && idx.Collations[i] != "" {
			names[i] = idx.Collations[i]
		}
	}
	names[len(idx.Columns)] = "BINARY"
	return record.NewKeyInfo(names...)
}

// Catalog is a snapshot of the schema at one generation.
type Catalog struct {
	Generation uint32
	Tables     map[string]*Table
	Indexes    map[string]*Index
}

func NewCatalog(gen uint32) *Catalog {
	return &Catalog{
		Generation: gen,
		Tables:     make(map[string]*Table),
		Indexes:    make(map[string]*Index),
	}
}

func key(name string) string { return strings.ToLower(name) }

// AddTable adds a table to the catalog
func (c *Catalog) AddTable(t *Table) error {
	if _, ok := c.Tables[key(t.Name)]; ok {
		return terror.ErrConstraint.Gen("table %s already exists", t.Name)
	}
	c.Tables[key(t.Name)] = t
	return nil
}

// AddIndex adds an index and links it to its table.
func (c *Catalog) AddIndex(idx *Index) error {
	if _, ok := c.Indexes[key(idx.Name)]; ok {
		return terror.ErrConstraint.Gen("index %s already exists", idx.Name)
	}
	t, ok := c.Tables[key(idx.Table)]
	if !ok {
		return terror.ErrMisuse.Gen("no such table: %s", idx.Table)
	}
	for _, col := range idx.Columns {
		if _, _, ok := t.GetColumn(col); !ok {
			return terror.ErrMisuse.Gen("table %s has no column named %s", t.Name, col)
		}
	}
	for _, coll := range idx.Collations {
		if coll == "" {
			continue
		}
		if _, ok := value.LookupCollation(coll); !ok {
			return terror.ErrMisuse.Gen("no such collation sequence: %s", coll)
		}
	}
	c.Indexes[key(idx.Name)] = idx
	t.Indices = append(t.Indices, idx)
	return nil
}

// GetTable retrieves a table by name (case-insensitive)
func (c *Catalog) GetTable(name string) (*Table, bool) {
	t, ok := c.Tables[key(name)]
	return t, ok
}

// GetIndex retrieves an index by name (case-insensitive)
func (c *Catalog) GetIndex(name string) (*Index, bool) {
	idx, ok := c.Indexes[key(name)]
	return idx, ok
}

// TableNames returns the table names in sorted order.
func (c *Catalog) TableNames() []string {
	names := make([]string, 0, len(c.Tables))
	for _, t := range c.Tables {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

// Roots returns every tree root of the catalog.
func (c *Catalog) Roots() []uint32 {
	var roots []uint32
	for _, t := range c.Tables {
		roots = append(roots, t.Root)
	}
	for _, idx := range c.Indexes {
		roots = append(roots, idx.Root)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })
	return roots
}
