package jsonldb

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/maruel/ksid"
)

// TestSchemaHeader tests the schemaHeader type and its methods.
func TestSchemaHeader(t *testing.T) {
	t.Run("Validate", func(t *testing.T) {
		t.Run("valid", func(t *testing.T) {
			tests := []struct {
				name   string
				header schemaHeader
			}{
				{
					"minimal valid header",
					schemaHeader{Version: "1.0", Columns: []column{}},
				},
				{
					"version 1.1",
					schemaHeader{Version: "1.1", Columns: []column{}},
				},
				{
					"version 1.99",
					schemaHeader{Version: "1.99", Columns: []column{}},
				},
				{
					"header with columns",
					schemaHeader{
						Version: "1.0",
						Columns: []column{
							{Name: "id", Type: columnTypeText},
							{Name: "name", Type: columnTypeText},
						},
					},
				},
				{
					"header with description",
					schemaHeader{
						Version: "1.0",
						Columns: []column{
							{Name: "id", Type: columnTypeText, Required: true, Description: "Primary key"},
						},
					},
				},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					if err := tt.header.Validate(); err != nil {
						t.Errorf("Validate() error = %v, want nil", err)
					}
				})
			}
		})

		t.Run("errors", func(t *testing.T) {
			tests := []struct {
				name   string
				header schemaHeader
			}{
				{
					"empty version",
					schemaHeader{Version: "", Columns: []column{}},
				},
				{
					"unsupported version 2.0",
					schemaHeader{Version: "2.0", Columns: []column{}},
				},
				{
					"unsupported version 0.9",
					schemaHeader{Version: "0.9", Columns: []column{}},
				},
				{
					"column with empty name",
					schemaHeader{
						Version: "1.0",
						Columns: []column{{Name: "", Type: columnTypeText}},
					},
				},
				{
					"column with empty type",
					schemaHeader{
						Version: "1.0",
						Columns: []column{{Name: "id", Type: ""}},
					},
				},
				{
					"multiple columns one invalid",
					schemaHeader{
						Version: "1.0",
						Columns: []column{
							{Name: "id", Type: columnTypeText},
							{Name: "", Type: columnTypeText}, // invalid
						},
					},
				},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					if err := tt.header.Validate(); err == nil {
						t.Error("Validate() expected error, got nil")
					}
				})
			}
		})
	})

	t.Run("equal", func(t *testing.T) {
		base := schemaHeader{
			Version: "1.0",
			Columns: []column{
				{Name: "id", Type: columnTypeText, Required: true},
				{Name: "name", Type: columnTypeText},
			},
		}

		tests := []struct {
			name  string
			other schemaHeader
			want  bool
		}{
			{"same schema", schemaHeader{
				Version: "1.0",
				Columns: []column{
					{Name: "id", Type: columnTypeText, Required: true},
					{Name: "name", Type: columnTypeText},
				},
			}, true},
			{"different version", schemaHeader{
				Version: "1.1",
				Columns: base.Columns,
			}, false},
			{"missing column", schemaHeader{
				Version: "1.0",
				Columns: base.Columns[:1],
			}, false},
			{"different column type", schemaHeader{
				Version: "1.0",
				Columns: []column{
					{Name: "id", Type: columnTypeNumber, Required: true},
					{Name: "name", Type: columnTypeText},
				},
			}, false},
			{"different description", schemaHeader{
				Version: "1.0",
				Columns: []column{
					{Name: "id", Type: columnTypeText, Required: true, Description: "changed"},
					{Name: "name", Type: columnTypeText},
				},
			}, false},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if got := base.equal(&tt.other); got != tt.want {
					t.Errorf("equal() = %v, want %v", got, tt.want)
				}
			})
		}
	})
}

// schemaTestStruct is a struct for schema testing (value receiver Row implementation).
type schemaTestStruct struct {
	ID   ksid.ID `json:"id"`
	Name string  `json:"name"`
}

func (s schemaTestStruct) Clone() schemaTestStruct { return s }
func (s schemaTestStruct) GetID() ksid.ID          { return s.ID }
func (s schemaTestStruct) Validate() error         { return nil }

// describedRow carries jsonschema tags to exercise description and required
// extraction.
type describedRow struct {
	ID    ksid.ID `json:"id" jsonschema:"description=Primary key"`
	Label string  `json:"label,omitempty"`
}

// TestSchemaFromType tests schemaFromType.
func TestSchemaFromType(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		// Test that NewTable successfully creates schema for testRow type
		t.Run("creates schema through table with pointer type", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "schema.jsonl")
			table, err := NewTable[*testRow](path)
			if err != nil {
				t.Fatalf("NewTable error: %v", err)
			}

			// Table should be created successfully with auto-discovered schema
			if table == nil {
				t.Error("NewTable returned nil table")
			}

			// Write a row to create the file
			err = table.Append(&testRow{ID: 1, Name: "Test"})
			if err != nil {
				t.Fatalf("Append error: %v", err)
			}

			// Reload and verify schema was persisted
			table2, err := NewTable[*testRow](path)
			if err != nil {
				t.Fatalf("NewTable reload error: %v", err)
			}
			if table2.Len() != 1 {
				t.Errorf("Reloaded table Len() = %d, want 1", table2.Len())
			}
		})

		// Test with value type (non-pointer struct)
		t.Run("creates schema for value type", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "value.jsonl")
			table, err := NewTable[schemaTestStruct](path)
			if err != nil {
				t.Fatalf("NewTable error: %v", err)
			}

			if table == nil {
				t.Error("NewTable returned nil table")
			}
		})

		t.Run("column names follow json tags", func(t *testing.T) {
			columns, err := schemaFromType[*testRow]()
			if err != nil {
				t.Fatalf("schemaFromType error: %v", err)
			}
			if len(columns) != 2 {
				t.Fatalf("got %d columns, want 2: %+v", len(columns), columns)
			}
			if columns[0].Name != "id" || columns[1].Name != "name" {
				t.Errorf("column names = %q, %q, want id, name", columns[0].Name, columns[1].Name)
			}
			if columns[0].Type != columnTypeText {
				t.Errorf("id column type = %q, want %q", columns[0].Type, columnTypeText)
			}
		})

		t.Run("description and required", func(t *testing.T) {
			columns, err := schemaFromType[*describedRow]()
			if err != nil {
				t.Fatalf("schemaFromType error: %v", err)
			}
			if len(columns) != 2 {
				t.Fatalf("got %d columns, want 2: %+v", len(columns), columns)
			}
			if columns[0].Description != "Primary key" {
				t.Errorf("id description = %q, want %q", columns[0].Description, "Primary key")
			}
			if !columns[0].Required {
				t.Error("id column should be required")
			}
			// omitempty fields are optional.
			if columns[1].Required {
				t.Error("label column should not be required")
			}
		})
	})

	t.Run("errors", func(t *testing.T) {
		t.Run("non-struct type", func(t *testing.T) {
			_, err := schemaFromType[int]()
			if err == nil {
				t.Error("schemaFromType(int) expected error, got nil")
			}
		})

		t.Run("pointer to non-struct", func(t *testing.T) {
			_, err := schemaFromType[*int]()
			if err == nil {
				t.Error("schemaFromType(*int) expected error, got nil")
			}
		})

		t.Run("slice type", func(t *testing.T) {
			_, err := schemaFromType[[]int]()
			if err == nil {
				t.Error("schemaFromType([]int) expected error, got nil")
			}
		})

		t.Run("map type", func(t *testing.T) {
			_, err := schemaFromType[map[string]int]()
			if err == nil {
				t.Error("schemaFromType(map) expected error, got nil")
			}
		})
	})
}

// TestJsonFieldName tests the jsonFieldName helper function.
func TestJsonFieldName(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		type testStruct struct {
			NoTag      string
			WithTag    string `json:"custom_name"`
			WithOmit   string `json:"with_omit,omitempty"`
			OnlyOmit   string `json:",omitempty"`
			DashTag    string `json:"-"`
			EmptyTag   string `json:""`
			ComplexTag string `json:"complex,omitempty,string"`
		}

		tests := []struct {
			fieldName string
			want      string
		}{
			{"NoTag", "NoTag"},
			{"WithTag", "custom_name"},
			{"WithOmit", "with_omit"},
			{"OnlyOmit", "OnlyOmit"}, // ",omitempty" returns Go field name
			{"DashTag", "DashTag"},   // "-" returns field name
			{"EmptyTag", "EmptyTag"}, // empty tag returns field name
			{"ComplexTag", "complex"},
		}

		typ := reflect.TypeFor[testStruct]()
		for _, tt := range tests {
			t.Run(tt.fieldName, func(t *testing.T) {
				field, _ := typ.FieldByName(tt.fieldName)
				got := jsonFieldName(&field)
				if got != tt.want {
					t.Errorf("jsonFieldName(%q) = %q, want %q", tt.fieldName, got, tt.want)
				}
			})
		}
	})
}

// TestGoTypeToColumnType tests the goTypeToColumnType helper function.
func TestGoTypeToColumnType(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		tests := []struct {
			name string
			typ  reflect.Type
			want columnType
		}{
			// Basic types
			{"string", reflect.TypeFor[string](), columnTypeText},
			{"bool", reflect.TypeFor[bool](), columnTypeBool},
			{"int", reflect.TypeFor[int](), columnTypeNumber},
			{"int8", reflect.TypeFor[int8](), columnTypeNumber},
			{"int16", reflect.TypeFor[int16](), columnTypeNumber},
			{"int32", reflect.TypeFor[int32](), columnTypeNumber},
			{"int64", reflect.TypeFor[int64](), columnTypeNumber},
			{"uint", reflect.TypeFor[uint](), columnTypeNumber},
			{"uint8", reflect.TypeFor[uint8](), columnTypeNumber},
			{"uint16", reflect.TypeFor[uint16](), columnTypeNumber},
			{"uint32", reflect.TypeFor[uint32](), columnTypeNumber},
			{"uint64", reflect.TypeFor[uint64](), columnTypeNumber},
			{"float32", reflect.TypeFor[float32](), columnTypeNumber},
			{"float64", reflect.TypeFor[float64](), columnTypeNumber},

			// Special types
			{"time.Time", reflect.TypeFor[time.Time](), columnTypeDate},
			{"[]byte", reflect.TypeFor[[]byte](), columnTypeBlob},
			{"Blob", reflect.TypeFor[Blob](), columnTypeBlobRef},
			{"ksid.ID", reflect.TypeFor[ksid.ID](), columnTypeText},

			// Complex types -> JSONB
			{"struct", reflect.TypeFor[struct{}](), columnTypeJSONB},
			{"slice", reflect.TypeFor[[]string](), columnTypeJSONB},
			{"array", reflect.TypeFor[[5]int](), columnTypeJSONB},
			{"map", reflect.TypeFor[map[string]int](), columnTypeJSONB},
			{"complex64", reflect.TypeFor[complex64](), columnTypeJSONB},
			{"complex128", reflect.TypeFor[complex128](), columnTypeJSONB},

			// Pointer types (should dereference)
			{"*string", reflect.TypeFor[*string](), columnTypeText},
			{"*int", reflect.TypeFor[*int](), columnTypeNumber},
			{"*bool", reflect.TypeFor[*bool](), columnTypeBool},
			{"*time.Time", reflect.TypeFor[*time.Time](), columnTypeDate},
			{"*Blob", reflect.TypeFor[*Blob](), columnTypeBlobRef},

			// Unsupported types -> text fallback
			{"chan", reflect.TypeFor[chan int](), columnTypeText},
			{"func", reflect.TypeFor[func()](), columnTypeText},
			{"interface", reflect.TypeFor[any](), columnTypeText},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got := goTypeToColumnType(tt.typ)
				if got != tt.want {
					t.Errorf("goTypeToColumnType(%v) = %q, want %q", tt.typ, got, tt.want)
				}
			})
		}
	})
}

// TestColumnTypes tests the column type constants.
func TestColumnTypes(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		tests := []struct {
			name string
			typ  columnType
			want string
		}{
			{"text", columnTypeText, "text"},
			{"number", columnTypeNumber, "number"},
			{"bool", columnTypeBool, "bool"},
			{"date", columnTypeDate, "date"},
			{"blob", columnTypeBlob, "blob"},
			{"blob_ref", columnTypeBlobRef, "blob_ref"},
			{"jsonb", columnTypeJSONB, "jsonb"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if string(tt.typ) != tt.want {
					t.Errorf("columnType %s = %q, want %q", tt.name, tt.typ, tt.want)
				}
			})
		}
	})
}
