package storage

import (
	"errors"
	"fmt"
)

// ColumnType identifies the value type of a dataframe column or ndarray cell.
type ColumnType string

const (
	TypeBool    ColumnType = "bool"
	TypeInt32   ColumnType = "int32"
	TypeInt64   ColumnType = "int64"
	TypeFloat32 ColumnType = "float32"
	TypeFloat64 ColumnType = "float64"
	TypeString  ColumnType = "string"
)

func validColumnType(t ColumnType) bool {
	switch t {
	case TypeBool, TypeInt32, TypeInt64, TypeFloat32, TypeFloat64, TypeString:
		return true
	default:
		return false
	}
}

// Column is a named, typed dataframe attribute.
type Column struct {
	Name string     `json:"name" msgpack:"name"`
	Type ColumnType `json:"type" msgpack:"type"`
}

// ArraySchema describes the shape of an array object.
//
// Dataframes use IndexColumn plus Columns; ndarrays use Shape plus CellType.
// A schema is one or the other, never both: a non-empty Shape marks it as an
// ndarray schema.
type ArraySchema struct {
	IndexColumn string   `json:"index_column,omitempty" msgpack:"index_column,omitempty"`
	Columns     []Column `json:"columns,omitempty" msgpack:"columns,omitempty"`

	Shape    []int64    `json:"shape,omitempty" msgpack:"shape,omitempty"`
	CellType ColumnType `json:"cell_type,omitempty" msgpack:"cell_type,omitempty"`
}

// DataFrameSchema builds a schema for a dataframe with the given index
// column name and attribute columns.
func DataFrameSchema(indexColumn string, columns ...Column) *ArraySchema {
	return &ArraySchema{
		IndexColumn: indexColumn,
		Columns:     columns,
	}
}

// NDArraySchema builds a schema for a dense or sparse ndarray.
func NDArraySchema(cellType ColumnType, shape ...int64) *ArraySchema {
	return &ArraySchema{
		Shape:    shape,
		CellType: cellType,
	}
}

// IsNDArray reports whether this is an ndarray schema.
func (s *ArraySchema) IsNDArray() bool { return len(s.Shape) > 0 }

// NumCells returns the total cell count of an ndarray schema.
func (s *ArraySchema) NumCells() int64 {
	if len(s.Shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range s.Shape {
		n *= d
	}
	return n
}

// HasColumn reports whether name is a declared attribute column.
func (s *ArraySchema) HasColumn(name string) bool {
	for _, c := range s.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Validate checks schema consistency before array creation.
func (s *ArraySchema) Validate() error {
	if s == nil {
		return errors.New("storage: nil array schema")
	}
	if s.IsNDArray() {
		if len(s.Columns) > 0 || s.IndexColumn != "" {
			return errors.New("storage: ndarray schema must not declare columns")
		}
		if !validColumnType(s.CellType) || s.CellType == TypeString {
			return fmt.Errorf("storage: invalid ndarray cell type %q", s.CellType)
		}
		for _, d := range s.Shape {
			if d <= 0 {
				return fmt.Errorf("storage: invalid ndarray dimension %d", d)
			}
		}
		return nil
	}

	if s.IndexColumn == "" {
		return errors.New("storage: dataframe schema requires an index column")
	}
	if len(s.Columns) == 0 {
		return errors.New("storage: dataframe schema requires at least one column")
	}
	seen := map[string]bool{s.IndexColumn: true}
	for _, c := range s.Columns {
		if c.Name == "" {
			return errors.New("storage: dataframe column with empty name")
		}
		if seen[c.Name] {
			return fmt.Errorf("storage: duplicate column %q", c.Name)
		}
		seen[c.Name] = true
		if !validColumnType(c.Type) {
			return fmt.Errorf("storage: column %q has invalid type %q", c.Name, c.Type)
		}
	}
	return nil
}
