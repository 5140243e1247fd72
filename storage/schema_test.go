package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDataFrameSchemaValidate(t *testing.T) {
	s := DataFrameSchema("id",
		Column{Name: "label", Type: TypeString},
		Column{Name: "score", Type: TypeFloat64},
	)
	assert.NoError(t, s.Validate())
	assert.False(t, s.IsNDArray())
	assert.True(t, s.HasColumn("label"))
	assert.False(t, s.HasColumn("id"))

	assert.Error(t, DataFrameSchema("", Column{Name: "v", Type: TypeInt64}).Validate())
	assert.Error(t, DataFrameSchema("id").Validate())
	assert.Error(t, DataFrameSchema("id",
		Column{Name: "id", Type: TypeInt64}).Validate())
	assert.Error(t, DataFrameSchema("id",
		Column{Name: "v", Type: TypeInt64},
		Column{Name: "v", Type: TypeInt64}).Validate())
	assert.Error(t, DataFrameSchema("id",
		Column{Name: "v", Type: ColumnType("complex128")}).Validate())
	assert.Error(t, DataFrameSchema("id",
		Column{Name: "", Type: TypeInt64}).Validate())
}

func TestNDArraySchemaValidate(t *testing.T) {
	s := NDArraySchema(TypeFloat64, 3, 4, 5)
	assert.NoError(t, s.Validate())
	assert.True(t, s.IsNDArray())
	assert.Equal(t, int64(60), s.NumCells())

	assert.Error(t, NDArraySchema(TypeString, 2, 2).Validate())
	assert.Error(t, NDArraySchema(TypeFloat64, 0).Validate())
	assert.Error(t, NDArraySchema(TypeFloat64, 2, -1).Validate())

	mixed := NDArraySchema(TypeFloat64, 2, 2)
	mixed.Columns = []Column{{Name: "v", Type: TypeInt64}}
	assert.Error(t, mixed.Validate())
}

func TestSchemaValidateNil(t *testing.T) {
	var s *ArraySchema
	assert.Error(t, s.Validate())
}
