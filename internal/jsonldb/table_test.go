package jsonldb

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/maruel/ksid"
)

// testRow is a simple row type for testing.
type testRow struct {
	ID   ksid.ID `json:"id"`
	Name string  `json:"name"`
}

func (r *testRow) Clone() *testRow {
	c := *r
	return &c
}

func (r *testRow) GetID() ksid.ID {
	return r.ID
}

func (r *testRow) Validate() error {
	return nil
}

// validatingRow is a row type that can fail validation programmatically.
type validatingRow struct {
	ID           ksid.ID `json:"id"`
	Name         string  `json:"name"`
	FailValidate bool    `json:"-"` // If true, Validate() returns error (not serialized)
}

func (r *validatingRow) Clone() *validatingRow {
	c := *r
	return &c
}

func (r *validatingRow) GetID() ksid.ID {
	return r.ID
}

func (r *validatingRow) Validate() error {
	if r.FailValidate {
		return errors.New("validation failed")
	}
	return nil
}

// alwaysInvalidRow is a row type that always fails validation.
type alwaysInvalidRow struct {
	ID   ksid.ID `json:"id"`
	Name string  `json:"name"`
}

func (r *alwaysInvalidRow) Clone() *alwaysInvalidRow {
	c := *r
	return &c
}

func (r *alwaysInvalidRow) GetID() ksid.ID {
	return r.ID
}

func (r *alwaysInvalidRow) Validate() error {
	return errors.New("always invalid")
}

// setupTable creates a table in the test's temp directory.
func setupTable(t *testing.T) (*Table[*testRow], string) {
	path := filepath.Join(t.TempDir(), "test.jsonl")
	table, err := NewTable[*testRow](path)
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}
	return table, path
}

// rowLine builds a raw JSONL row for fixtures.
func rowLine(id ksid.ID, name string) string {
	return `{"id":"` + id.String() + `","name":"` + name + `"}` + "\n"
}

const headerLine = `{"version":"1.0","columns":[]}` + "\n"

// TestTable tests all Table methods using table-driven tests.
func TestTable(t *testing.T) {
	t.Run("Len", func(t *testing.T) {
		table, _ := setupTable(t)

		tests := []struct {
			name    string
			setup   func()
			wantLen int
		}{
			{"empty table", func() {}, 0},
			{"one row", func() {
				table.Append(&testRow{ID: 1, Name: "One"})
			}, 1},
			{"two rows", func() {
				table.Append(&testRow{ID: 2, Name: "Two"})
			}, 2},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				tt.setup()
				if got := table.Len(); got != tt.wantLen {
					t.Errorf("Len() = %d, want %d", got, tt.wantLen)
				}
			})
		}
	})

	t.Run("Last", func(t *testing.T) {
		table, _ := setupTable(t)

		t.Run("empty table", func(t *testing.T) {
			if last := table.Last(); last != nil {
				t.Errorf("Last() on empty table = %v, want nil", last)
			}
		})

		table.Append(&testRow{ID: 1, Name: "First"})
		t.Run("single row", func(t *testing.T) {
			last := table.Last()
			if last == nil || last.ID != 1 || last.Name != "First" {
				t.Errorf("Last() = %+v, want {ID:1, Name:First}", last)
			}
		})

		table.Append(&testRow{ID: 2, Name: "Second"})
		t.Run("multiple rows", func(t *testing.T) {
			last := table.Last()
			if last == nil || last.ID != 2 || last.Name != "Second" {
				t.Errorf("Last() = %+v, want {ID:2, Name:Second}", last)
			}
		})

		t.Run("returns clone", func(t *testing.T) {
			last := table.Last()
			last.Name = "Modified"
			if table.Last().Name == "Modified" {
				t.Error("Last() returned reference instead of clone")
			}
		})
	})

	t.Run("Get", func(t *testing.T) {
		t.Run("valid", func(t *testing.T) {
			table, _ := setupTable(t)

			table.Append(&testRow{ID: 10, Name: "Ten"})
			table.Append(&testRow{ID: 20, Name: "Twenty"})

			tests := []struct {
				name   string
				id     ksid.ID
				wantID ksid.ID
				found  bool
			}{
				{"existing ID", 10, 10, true},
				{"existing ID 2", 20, 20, true},
				{"non-existing ID", 999, 0, false},
				{"zero ID", 0, 0, false},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					got := table.Get(tt.id)
					if tt.found {
						if got == nil || got.ID != tt.wantID {
							t.Errorf("Get(%s) = %+v, want ID=%s", tt.id, got, tt.wantID)
						}
					} else if got != nil {
						t.Errorf("Get(%s) = %+v, want nil", tt.id, got)
					}
				})
			}
		})

		t.Run("returns clone", func(t *testing.T) {
			table, _ := setupTable(t)

			table.Append(&testRow{ID: 1, Name: "Original"})
			got := table.Get(1)
			got.Name = "Modified"

			if table.Get(1).Name == "Modified" {
				t.Error("Get() returned reference instead of clone")
			}
		})
	})

	t.Run("Delete", func(t *testing.T) {
		t.Run("valid", func(t *testing.T) {
			table, path := setupTable(t)

			table.Append(&testRow{ID: 1, Name: "One"})
			table.Append(&testRow{ID: 2, Name: "Two"})
			table.Append(&testRow{ID: 3, Name: "Three"})

			t.Run("delete existing row", func(t *testing.T) {
				deleted, err := table.Delete(2)
				if err != nil {
					t.Fatalf("Delete error: %v", err)
				}
				if !deleted {
					t.Error("Delete() = false, want true for existing ID")
				}
				if table.Len() != 2 {
					t.Errorf("Len() = %d, want 2 after delete", table.Len())
				}
				if table.Get(2) != nil {
					t.Error("Deleted row still accessible via Get")
				}
			})

			t.Run("delete non-existing row", func(t *testing.T) {
				deleted, err := table.Delete(999)
				if err != nil {
					t.Fatalf("Delete error: %v", err)
				}
				if deleted {
					t.Error("Delete() = true, want false for non-existing ID")
				}
			})

			t.Run("persistence after delete", func(t *testing.T) {
				table2, err := NewTable[*testRow](path)
				if err != nil {
					t.Fatalf("NewTable error: %v", err)
				}
				if table2.Len() != 2 {
					t.Errorf("Reloaded table Len() = %d, want 2", table2.Len())
				}
				if table2.Get(2) != nil {
					t.Error("Deleted row still present after reload")
				}
			})
		})

		t.Run("delete first row", func(t *testing.T) {
			table, _ := setupTable(t)

			table.Append(&testRow{ID: 1, Name: "One"})
			table.Append(&testRow{ID: 2, Name: "Two"})

			deleted, err := table.Delete(1)
			if err != nil {
				t.Fatalf("Delete error: %v", err)
			}
			if !deleted {
				t.Error("Delete() = false, want true")
			}

			// Verify index was rebuilt correctly
			got := table.Get(2)
			if got == nil || got.ID != 2 {
				t.Error("Get(2) failed after deleting first row")
			}
		})
	})

	t.Run("Update", func(t *testing.T) {
		t.Run("valid", func(t *testing.T) {
			table, path := setupTable(t)

			table.Append(&testRow{ID: 1, Name: "Original"})

			t.Run("update existing row", func(t *testing.T) {
				prev, err := table.Update(&testRow{ID: 1, Name: "Updated"})
				if err != nil {
					t.Fatalf("Update error: %v", err)
				}
				if prev == nil || prev.Name != "Original" {
					t.Errorf("Update() returned prev = %+v, want Name=Original", prev)
				}

				got := table.Get(1)
				if got == nil || got.Name != "Updated" {
					t.Errorf("Get() after Update = %+v, want Name=Updated", got)
				}
			})

			t.Run("update non-existing row", func(t *testing.T) {
				prev, err := table.Update(&testRow{ID: 999, Name: "New"})
				if err != nil {
					t.Fatalf("Update error: %v", err)
				}
				if prev != nil {
					t.Errorf("Update() for non-existing returned %+v, want nil", prev)
				}
			})

			t.Run("persistence after update", func(t *testing.T) {
				table2, err := NewTable[*testRow](path)
				if err != nil {
					t.Fatalf("NewTable error: %v", err)
				}
				got := table2.Get(1)
				if got == nil || got.Name != "Updated" {
					t.Errorf("Reloaded row = %+v, want Name=Updated", got)
				}
			})
		})

		t.Run("errors", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "test.jsonl")
			table, err := NewTable[*validatingRow](path)
			if err != nil {
				t.Fatalf("NewTable failed: %v", err)
			}

			table.Append(&validatingRow{ID: 1, Name: "Valid"})

			t.Run("validation error", func(t *testing.T) {
				_, err := table.Update(&validatingRow{ID: 1, Name: "Invalid", FailValidate: true})
				if err == nil {
					t.Error("Update() expected validation error, got nil")
				}
			})
		})
	})

	t.Run("Modify", func(t *testing.T) {
		t.Run("valid", func(t *testing.T) {
			table, path := setupTable(t)

			table.Append(&testRow{ID: 1, Name: "Original"})

			curr, err := table.Modify(1, func(row *testRow) error {
				row.Name = "Modified"
				return nil
			})
			if err != nil {
				t.Fatalf("Modify error: %v", err)
			}
			if curr.Name != "Modified" {
				t.Errorf("Modify() returned Name=%q, want Modified", curr.Name)
			}
			if table.Get(1).Name != "Modified" {
				t.Error("Modify() did not persist to cache")
			}

			table2, err := NewTable[*testRow](path)
			if err != nil {
				t.Fatalf("NewTable error: %v", err)
			}
			if table2.Get(1).Name != "Modified" {
				t.Error("Modify() did not persist to disk")
			}
		})

		t.Run("errors", func(t *testing.T) {
			table, _ := setupTable(t)
			table.Append(&testRow{ID: 1, Name: "One"})

			t.Run("not found", func(t *testing.T) {
				_, err := table.Modify(999, func(row *testRow) error { return nil })
				if !errors.Is(err, ErrNotFound) {
					t.Errorf("Modify() error = %v, want ErrNotFound", err)
				}
			})

			t.Run("callback error aborts", func(t *testing.T) {
				wantErr := errors.New("boom")
				_, err := table.Modify(1, func(row *testRow) error {
					row.Name = "Changed"
					return wantErr
				})
				if !errors.Is(err, wantErr) {
					t.Errorf("Modify() error = %v, want %v", err, wantErr)
				}
				if table.Get(1).Name != "One" {
					t.Error("aborted Modify() mutated the row")
				}
			})

			t.Run("ID change rejected", func(t *testing.T) {
				_, err := table.Modify(1, func(row *testRow) error {
					row.ID = 2
					return nil
				})
				if err == nil {
					t.Error("Modify() expected error for ID change, got nil")
				}
				if table.Get(1) == nil {
					t.Error("row lost after rejected ID change")
				}
			})
		})
	})

	t.Run("NewTable", func(t *testing.T) {
		t.Run("valid", func(t *testing.T) {
			t.Run("creates new table with header", func(t *testing.T) {
				path := filepath.Join(t.TempDir(), "new.jsonl")
				table, err := NewTable[*testRow](path)
				if err != nil {
					t.Fatalf("NewTable error: %v", err)
				}
				if table.Len() != 0 {
					t.Errorf("New table Len() = %d, want 0", table.Len())
				}
				data, err := os.ReadFile(path)
				if err != nil {
					t.Fatalf("table file not created: %v", err)
				}
				first, _, _ := strings.Cut(string(data), "\n")
				if !strings.Contains(first, `"version":"1.0"`) {
					t.Errorf("line 1 = %q, want schema header", first)
				}
			})

			t.Run("loads existing table", func(t *testing.T) {
				table, path := setupTable(t)

				table.Append(&testRow{ID: 1, Name: "One"})
				table.Append(&testRow{ID: 2, Name: "Two"})

				table2, err := NewTable[*testRow](path)
				if err != nil {
					t.Fatalf("NewTable error: %v", err)
				}
				if table2.Len() != 2 {
					t.Errorf("Reloaded table Len() = %d, want 2", table2.Len())
				}
			})

			t.Run("sorts rows on load", func(t *testing.T) {
				path := filepath.Join(t.TempDir(), "unsorted.jsonl")
				fixture := headerLine + rowLine(20, "Twenty") + rowLine(10, "Ten")
				os.WriteFile(path, []byte(fixture), 0o644)

				table, err := NewTable[*testRow](path)
				if err != nil {
					t.Fatalf("NewTable error: %v", err)
				}
				rows := slices.Collect(table.Iter(0))
				if len(rows) != 2 || rows[0].ID != 10 || rows[1].ID != 20 {
					t.Errorf("rows not sorted on load: %+v", rows)
				}
			})

			t.Run("rewrites stale schema header", func(t *testing.T) {
				path := filepath.Join(t.TempDir(), "stale.jsonl")
				fixture := headerLine + rowLine(1, "One")
				os.WriteFile(path, []byte(fixture), 0o644)

				if _, err := NewTable[*testRow](path); err != nil {
					t.Fatalf("NewTable error: %v", err)
				}
				data, err := os.ReadFile(path)
				if err != nil {
					t.Fatal(err)
				}
				first, _, _ := strings.Cut(string(data), "\n")
				if !strings.Contains(first, `"name":"id"`) {
					t.Errorf("header not rewritten with columns: %q", first)
				}
			})
		})

		t.Run("errors", func(t *testing.T) {
			t.Run("unreadable file", func(t *testing.T) {
				// Create a directory where we expect a file
				path := filepath.Join(t.TempDir(), "not-a-file")
				os.Mkdir(path, 0o755)

				if _, err := NewTable[*testRow](path); err == nil {
					t.Error("NewTable() expected error for directory, got nil")
				}
			})

			t.Run("invalid schema header", func(t *testing.T) {
				path := filepath.Join(t.TempDir(), "bad-schema.jsonl")
				os.WriteFile(path, []byte("not valid json\n"), 0o644)

				if _, err := NewTable[*testRow](path); err == nil {
					t.Error("NewTable() expected error for invalid schema, got nil")
				}
			})

			t.Run("invalid row data", func(t *testing.T) {
				path := filepath.Join(t.TempDir(), "bad-row.jsonl")
				os.WriteFile(path, []byte(headerLine+"not valid json\n"), 0o644)

				if _, err := NewTable[*testRow](path); err == nil {
					t.Error("NewTable() expected error for invalid row, got nil")
				}
			})

			t.Run("row with zero ID", func(t *testing.T) {
				path := filepath.Join(t.TempDir(), "zero-id.jsonl")
				os.WriteFile(path, []byte(headerLine+`{"id":"0","name":"Zero"}`+"\n"), 0o644)

				if _, err := NewTable[*testRow](path); err == nil {
					t.Error("NewTable() expected error for zero ID row, got nil")
				}
			})

			t.Run("duplicate ID", func(t *testing.T) {
				path := filepath.Join(t.TempDir(), "dup-id.jsonl")
				fixture := headerLine + rowLine(1, "First") + rowLine(1, "Duplicate")
				os.WriteFile(path, []byte(fixture), 0o644)

				if _, err := NewTable[*testRow](path); err == nil {
					t.Error("NewTable() expected error for duplicate ID, got nil")
				}
			})

			t.Run("invalid schema version", func(t *testing.T) {
				path := filepath.Join(t.TempDir(), "bad-version.jsonl")
				os.WriteFile(path, []byte(`{"version":"","columns":[]}`+"\n"), 0o644)

				if _, err := NewTable[*testRow](path); err == nil {
					t.Error("NewTable() expected error for empty version, got nil")
				}
			})

			t.Run("row fails validation on load", func(t *testing.T) {
				path := filepath.Join(t.TempDir(), "invalid-row.jsonl")
				os.WriteFile(path, []byte(headerLine+rowLine(1, "Test")), 0o644)

				if _, err := NewTable[*alwaysInvalidRow](path); err == nil {
					t.Error("NewTable() expected error for invalid row, got nil")
				}
			})
		})
	})

	t.Run("Iter", func(t *testing.T) {
		t.Run("valid", func(t *testing.T) {
			table, _ := setupTable(t)

			iterRows := []*testRow{
				{ID: 10, Name: "Ten"},
				{ID: 20, Name: "Twenty"},
				{ID: 30, Name: "Thirty"},
				{ID: 40, Name: "Forty"},
			}
			for _, r := range iterRows {
				table.Append(r)
			}

			tests := []struct {
				name      string
				startID   ksid.ID
				wantCount int
				wantFirst ksid.ID
			}{
				{"all rows", 0, 4, 10},
				{"from ID 10", 10, 3, 20},
				{"from ID 25", 25, 2, 30},
				{"from ID 40", 40, 0, 0},
				{"from ID beyond max", 100, 0, 0},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					result := slices.Collect(table.Iter(tt.startID))
					if len(result) != tt.wantCount {
						t.Errorf("Iter(%s) returned %d rows, want %d", tt.startID, len(result), tt.wantCount)
					}
					if tt.wantCount > 0 && result[0].ID != tt.wantFirst {
						t.Errorf("Iter(%s) first ID = %s, want %s", tt.startID, result[0].ID, tt.wantFirst)
					}
				})
			}
		})

		t.Run("early termination", func(t *testing.T) {
			table, _ := setupTable(t)

			for i := 1; i <= 10; i++ {
				table.Append(&testRow{ID: ksid.ID(i), Name: "Row"})
			}

			count := 0
			for range table.Iter(0) {
				count++
				if count >= 3 {
					break
				}
			}

			if count != 3 {
				t.Errorf("Early termination count = %d, want 3", count)
			}
		})

		t.Run("returns clones", func(t *testing.T) {
			table, _ := setupTable(t)

			table.Append(&testRow{ID: 1, Name: "Original"})

			for row := range table.Iter(0) {
				row.Name = "Modified"
			}

			if table.Get(1).Name == "Modified" {
				t.Error("Iter returned reference instead of clone")
			}
		})
	})

	t.Run("Append", func(t *testing.T) {
		t.Run("valid", func(t *testing.T) {
			table, path := setupTable(t)

			t.Run("append to empty table", func(t *testing.T) {
				if err := table.Append(&testRow{ID: 1, Name: "First"}); err != nil {
					t.Fatalf("Append error: %v", err)
				}
				if table.Len() != 1 {
					t.Errorf("Len() = %d, want 1", table.Len())
				}
			})

			t.Run("append multiple rows", func(t *testing.T) {
				if err := table.Append(&testRow{ID: 2, Name: "Second"}); err != nil {
					t.Fatalf("Append error: %v", err)
				}
				if table.Len() != 2 {
					t.Errorf("Len() = %d, want 2", table.Len())
				}
			})

			t.Run("out of order append stays sorted", func(t *testing.T) {
				if err := table.Append(&testRow{ID: 10, Name: "Ten"}); err != nil {
					t.Fatal(err)
				}
				if err := table.Append(&testRow{ID: 5, Name: "Five"}); err != nil {
					t.Fatal(err)
				}
				rows := slices.Collect(table.Iter(2))
				if len(rows) != 2 || rows[0].ID != 5 || rows[1].ID != 10 {
					t.Errorf("rows not sorted after out-of-order append: %+v", rows)
				}
			})

			t.Run("persistence after append", func(t *testing.T) {
				table2, err := NewTable[*testRow](path)
				if err != nil {
					t.Fatalf("NewTable error: %v", err)
				}
				if table2.Len() != 4 {
					t.Errorf("Reloaded table Len() = %d, want 4", table2.Len())
				}
			})
		})

		t.Run("errors", func(t *testing.T) {
			t.Run("zero ID", func(t *testing.T) {
				table, _ := setupTable(t)

				if err := table.Append(&testRow{ID: 0, Name: "Zero"}); err == nil {
					t.Error("Append() expected error for zero ID, got nil")
				}
			})

			t.Run("duplicate ID", func(t *testing.T) {
				table, _ := setupTable(t)

				table.Append(&testRow{ID: 1, Name: "First"})
				if err := table.Append(&testRow{ID: 1, Name: "Duplicate"}); err == nil {
					t.Error("Append() expected error for duplicate ID, got nil")
				}
			})

			t.Run("validation error", func(t *testing.T) {
				path := filepath.Join(t.TempDir(), "test.jsonl")
				table, err := NewTable[*validatingRow](path)
				if err != nil {
					t.Fatalf("NewTable failed: %v", err)
				}

				if err := table.Append(&validatingRow{ID: 1, Name: "Invalid", FailValidate: true}); err == nil {
					t.Error("Append() expected validation error, got nil")
				}
			})
		})
	})

	t.Run("Replace", func(t *testing.T) {
		t.Run("valid", func(t *testing.T) {
			table, path := setupTable(t)

			table.Append(&testRow{ID: 1, Name: "One"})
			table.Append(&testRow{ID: 2, Name: "Two"})

			t.Run("replace all rows", func(t *testing.T) {
				newRows := []*testRow{
					{ID: 10, Name: "Ten"},
					{ID: 20, Name: "Twenty"},
					{ID: 30, Name: "Thirty"},
				}
				if err := table.Replace(newRows); err != nil {
					t.Fatalf("Replace error: %v", err)
				}

				if table.Len() != 3 {
					t.Errorf("Len() = %d, want 3", table.Len())
				}
				if table.Get(1) != nil {
					t.Error("Old row 1 still present after Replace")
				}
				if table.Get(10) == nil {
					t.Error("New row 10 not present after Replace")
				}
			})

			t.Run("replace with empty slice", func(t *testing.T) {
				if err := table.Replace([]*testRow{}); err != nil {
					t.Fatalf("Replace error: %v", err)
				}
				if table.Len() != 0 {
					t.Errorf("Len() = %d, want 0", table.Len())
				}
			})

			t.Run("persistence after replace", func(t *testing.T) {
				table.Replace([]*testRow{{ID: 100, Name: "Hundred"}})

				table2, err := NewTable[*testRow](path)
				if err != nil {
					t.Fatalf("NewTable error: %v", err)
				}
				if table2.Len() != 1 {
					t.Errorf("Reloaded table Len() = %d, want 1", table2.Len())
				}
				got := table2.Get(100)
				if got == nil || got.Name != "Hundred" {
					t.Error("Replaced row not persisted correctly")
				}
			})
		})

		t.Run("errors", func(t *testing.T) {
			t.Run("duplicate ID in replacement", func(t *testing.T) {
				table, _ := setupTable(t)

				err := table.Replace([]*testRow{
					{ID: 1, Name: "First"},
					{ID: 1, Name: "Duplicate"},
				})
				if err == nil {
					t.Error("Replace() expected error for duplicate ID, got nil")
				}
			})
		})
	})
}

// blobRow exercises the automatic blob store wiring.
type blobRow struct {
	ID      ksid.ID `json:"id"`
	Content Blob    `json:"content,omitzero"`
}

func (r *blobRow) Clone() *blobRow {
	c := *r
	c.Content = r.Content.Clone()
	return &c
}

func (r *blobRow) GetID() ksid.ID { return r.ID }

func (r *blobRow) Validate() error { return r.Content.Ref.Validate() }

func TestTableBlobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blobs.jsonl")
	table, err := NewTable[*blobRow](path)
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}

	w, err := table.NewBlob()
	if err != nil {
		t.Fatalf("NewBlob error: %v", err)
	}
	if _, err := w.Write([]byte("blob payload")); err != nil {
		t.Fatal(err)
	}
	blob, err := w.Close()
	if err != nil {
		t.Fatalf("Close error: %v", err)
	}

	if err := table.Append(&blobRow{ID: 1, Content: blob}); err != nil {
		t.Fatalf("Append error: %v", err)
	}

	t.Run("reader after reload", func(t *testing.T) {
		table2, err := NewTable[*blobRow](path)
		if err != nil {
			t.Fatalf("NewTable error: %v", err)
		}
		row := table2.Get(1)
		if row == nil {
			t.Fatal("row not found after reload")
		}
		r, err := row.Content.Reader()
		if err != nil {
			t.Fatalf("Reader error: %v", err)
		}
		defer r.Close()
		buf := make([]byte, 32)
		n, _ := r.Read(buf)
		if string(buf[:n]) != "blob payload" {
			t.Errorf("blob content = %q, want %q", buf[:n], "blob payload")
		}
	})

	t.Run("gc keeps referenced blob", func(t *testing.T) {
		// Orphan blob: written but never attached to a row.
		w, err := table.NewBlob()
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte("orphan")); err != nil {
			t.Fatal(err)
		}
		orphan, err := w.Close()
		if err != nil {
			t.Fatal(err)
		}

		if err := table.GCBlobs(); err != nil {
			t.Fatalf("GCBlobs error: %v", err)
		}

		row := table.Get(1)
		if _, err := row.Content.Reader(); err != nil {
			t.Errorf("referenced blob removed by GC: %v", err)
		}
		if _, err := table.store.open(orphan.Ref); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("orphan blob survived GC: %v", err)
		}
	})
}
