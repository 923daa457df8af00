package domain

import (
	"strings"
	"time"
)

// Base types recorded for warehouse fields.
const (
	BaseTypeInteger   = "integer"
	BaseTypeFloat     = "float"
	BaseTypeBoolean   = "boolean"
	BaseTypeText      = "text"
	BaseTypeTemporal  = "temporal"
	BaseTypeOther     = "other"
	DefaultSchemaName = "main"
)

// Table is a warehouse table registered in the metadata store.
type Table struct {
	ID          string
	SchemaName  string
	Name        string
	DisplayName string
	Fields      []Field
	CreatedAt   time.Time
}

// QualifiedName returns "schema.name".
func (t *Table) QualifiedName() string {
	return t.SchemaName + "." + t.Name
}

// Field returns the field named name, matched case-insensitively.
func (t *Table) Field(name string) (*Field, bool) {
	for i := range t.Fields {
		if strings.EqualFold(t.Fields[i].Name, name) {
			return &t.Fields[i], true
		}
	}
	return nil, false
}

// Field is a column of a registered table.
type Field struct {
	ID              string
	TableID         string
	Name            string
	DatabaseType    string
	BaseType        string
	Position        int
	FKTargetFieldID *string
}

// TableRef is a parsed "schema.table" or bare "table" reference.
type TableRef struct {
	Schema string
	Name   string
}

// ParseTableRef splits a table reference; a bare name resolves to the
// default schema.
func ParseTableRef(ref string) TableRef {
	if i := strings.IndexByte(ref, '.'); i > 0 {
		return TableRef{Schema: ref[:i], Name: ref[i+1:]}
	}
	return TableRef{Schema: DefaultSchemaName, Name: ref}
}

func (r TableRef) String() string {
	return r.Schema + "." + r.Name
}

// BaseTypeFor maps a DuckDB column type to a base type.
func BaseTypeFor(dbType string) string {
	t := strings.ToUpper(dbType)
	switch {
	case strings.HasPrefix(t, "DECIMAL"), t == "DOUBLE", t == "FLOAT", t == "REAL":
		return BaseTypeFloat
	case strings.HasPrefix(t, "TIMESTAMP"), t == "DATE", t == "TIME", t == "INTERVAL":
		return BaseTypeTemporal
	case strings.Contains(t, "INT"):
		return BaseTypeInteger
	case t == "BOOLEAN":
		return BaseTypeBoolean
	case t == "VARCHAR", strings.HasPrefix(t, "VARCHAR("), t == "TEXT", t == "UUID":
		return BaseTypeText
	default:
		return BaseTypeOther
	}
}

// SetForeignKeyRequest marks a field as a foreign key to another field, or
// clears the mark when TargetFieldID is nil.
type SetForeignKeyRequest struct {
	FieldID       string
	TargetFieldID *string
}

// Validate checks that the request is well-formed.
func (r *SetForeignKeyRequest) Validate() error {
	if r.FieldID == "" {
		return ErrValidation("field_id is required")
	}
	if r.TargetFieldID != nil && *r.TargetFieldID == r.FieldID {
		return ErrValidation("a field cannot reference itself")
	}
	return nil
}

// WarehouseColumn is one column reported by the warehouse's information schema.
type WarehouseColumn struct {
	SchemaName string
	TableName  string
	Name       string
	DataType   string
	Position   int
}
