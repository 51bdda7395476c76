package jsonldb

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/maruel/ksid"
)

// Cloner is implemented by types that can clone themselves.
type Cloner[T any] interface {
	Clone() T
}

// Row is the contract for types stored in a [Table].
//
// Clone must return a deep enough copy that callers mutating the result do not
// affect the cached row. GetID must be stable for the lifetime of the row.
type Row[T any] interface {
	Cloner[T]
	GetID() ksid.ID
	Validate() error
}

// TableObserver receives notifications about table mutations.
//
// Callbacks run synchronously under the table write lock; they must not call
// back into the table.
type TableObserver[T Row[T]] interface {
	OnAppend(row T)
	OnUpdate(prev, curr T)
	OnDelete(row T)
}

// ErrNotFound is returned by [Table.Modify] when no row has the requested ID.
var ErrNotFound = errors.New("row not found")

var (
	errZeroID      = errors.New("row has zero ID")
	errDuplicateID = errors.New("duplicate row ID")
)

// Table handles storage and in-memory caching for a single table in JSONL format.
//
// Line 1 of the backing file is a schema header derived from T; every following
// line is one row. The rows slice is kept sorted by ID.
type Table[T Row[T]] struct {
	path   string
	store  *blobStore
	header schemaHeader

	mu        sync.RWMutex
	rows      []T
	byID      map[ksid.ID]int
	observers []TableObserver[T]
}

// NewTable creates a new Table and loads all data from the file.
//
// The file is created with a schema header if it does not exist. If the schema
// derived from T differs from the stored header, the file is rewritten with the
// new header.
func NewTable[T Row[T]](path string) (*Table[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	cols, err := schemaFromType[T]()
	if err != nil {
		return nil, fmt.Errorf("failed to derive schema for %s: %w", path, err)
	}
	t := &Table[T]{
		path:   path,
		store:  &blobStore{dir: strings.TrimSuffix(path, filepath.Ext(path)) + blobDirSuffix},
		header: schemaHeader{Version: currentVersion, Columns: cols},
	}

	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Table[T]) load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			t.rows = []T{}
			t.byID = map[ksid.ID]int{}
			return t.rewriteLocked()
		}
		return fmt.Errorf("failed to open table file %s: %w", t.path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	// Line 1 is the schema header.
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read table file %s: %w", t.path, err)
		}
		// Zero-length file, treat as new.
		t.rows = []T{}
		t.byID = map[ksid.ID]int{}
		return t.rewriteLocked()
	}
	var stored schemaHeader
	if err := json.Unmarshal(scanner.Bytes(), &stored); err != nil {
		return fmt.Errorf("invalid schema header in %s: %w", t.path, err)
	}
	if err := stored.Validate(); err != nil {
		return fmt.Errorf("invalid schema header in %s: %w", t.path, err)
	}

	var rows []T
	byID := map[ksid.ID]int{}
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row T
		if err := json.Unmarshal(line, &row); err != nil {
			return fmt.Errorf("failed to unmarshal row in %s: %w", t.path, err)
		}
		id := row.GetID()
		if id.IsZero() {
			return fmt.Errorf("%s: %w", t.path, errZeroID)
		}
		if _, ok := byID[id]; ok {
			return fmt.Errorf("%s: %w: %s", t.path, errDuplicateID, id)
		}
		if err := row.Validate(); err != nil {
			return fmt.Errorf("invalid row %s in %s: %w", id, t.path, err)
		}
		t.attachStore(row)
		byID[id] = len(rows)
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read table file %s: %w", t.path, err)
	}

	t.rows = rows
	t.byID = byID
	if !slices.IsSortedFunc(t.rows, rowCompare[T]) {
		t.sortLocked()
	}

	// Schema changed since the file was written: rewrite with the new header.
	if !stored.equal(&t.header) {
		return t.rewriteLocked()
	}
	return nil
}

// Len returns the number of rows.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Get returns a clone of the row with the given ID, or the zero value if absent.
func (t *Table[T]) Get(id ksid.ID) T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.byID[id]
	if !ok {
		var zero T
		return zero
	}
	row := t.rows[i].Clone()
	t.attachStore(row)
	return row
}

// Last returns a clone of the row with the highest ID, or the zero value if
// the table is empty.
func (t *Table[T]) Last() T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.rows) == 0 {
		var zero T
		return zero
	}
	row := t.rows[len(t.rows)-1].Clone()
	t.attachStore(row)
	return row
}

// Iter returns an iterator over clones of all rows with ID greater than
// startID, in ascending ID order. Pass 0 to iterate the whole table.
func (t *Table[T]) Iter(startID ksid.ID) iter.Seq[T] {
	return func(yield func(T) bool) {
		t.mu.RLock()
		defer t.mu.RUnlock()
		start := sort.Search(len(t.rows), func(i int) bool {
			return t.rows[i].GetID() > startID
		})
		for _, row := range t.rows[start:] {
			c := row.Clone()
			t.attachStore(c)
			if !yield(c) {
				return
			}
		}
	}
}

// Append adds a new row to the table and persists it.
//
// The row ID must be non-zero and unique within the table.
func (t *Table[T]) Append(row T) error {
	id := row.GetID()
	if id.IsZero() {
		return errZeroID
	}
	if err := row.Validate(); err != nil {
		return fmt.Errorf("invalid row: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byID[id]; ok {
		return fmt.Errorf("%w: %s", errDuplicateID, id)
	}

	row = row.Clone()
	t.attachStore(row)
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal row: %w", err)
	}

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open table file for append: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	if _, err := f.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	t.byID[id] = len(t.rows)
	t.rows = append(t.rows, row)
	if len(t.rows) > 1 && t.rows[len(t.rows)-2].GetID() > id {
		t.sortLocked()
	}
	for _, obs := range t.observers {
		obs.OnAppend(row)
	}
	return nil
}

// Update replaces the row with the same ID and persists the table.
//
// Returns a clone of the previous row, or the zero value if no row with that
// ID exists (in which case nothing is written).
func (t *Table[T]) Update(row T) (T, error) {
	var zero T
	if err := row.Validate(); err != nil {
		return zero, fmt.Errorf("invalid row: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.byID[row.GetID()]
	if !ok {
		return zero, nil
	}
	prev := t.rows[i]
	row = row.Clone()
	t.attachStore(row)
	t.rows[i] = row
	if err := t.rewriteLocked(); err != nil {
		t.rows[i] = prev
		return zero, err
	}
	for _, obs := range t.observers {
		obs.OnUpdate(prev, row)
	}
	return prev.Clone(), nil
}

// Modify atomically applies fn to the row with the given ID and persists the
// result. The write lock is held for the whole read-modify-write cycle.
//
// fn receives a clone; returning an error aborts without writing. Returns a
// clone of the updated row, or [ErrNotFound] if no row has the given ID.
func (t *Table[T]) Modify(id ksid.ID, fn func(row T) error) (T, error) {
	var zero T
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.byID[id]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	prev := t.rows[i]
	curr := prev.Clone()
	t.attachStore(curr)
	if err := fn(curr); err != nil {
		return zero, err
	}
	if curr.GetID() != id {
		return zero, fmt.Errorf("row ID changed from %s to %s", id, curr.GetID())
	}
	if err := curr.Validate(); err != nil {
		return zero, fmt.Errorf("invalid row: %w", err)
	}
	t.rows[i] = curr
	if err := t.rewriteLocked(); err != nil {
		t.rows[i] = prev
		return zero, err
	}
	for _, obs := range t.observers {
		obs.OnUpdate(prev, curr)
	}
	return curr.Clone(), nil
}

// Delete removes the row with the given ID and persists the table.
//
// Returns false if no row with that ID exists.
func (t *Table[T]) Delete(id ksid.ID) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.byID[id]
	if !ok {
		return false, nil
	}
	row := t.rows[i]
	t.rows = slices.Delete(t.rows, i, i+1)
	delete(t.byID, id)
	for j := i; j < len(t.rows); j++ {
		t.byID[t.rows[j].GetID()] = j
	}
	if err := t.rewriteLocked(); err != nil {
		return false, err
	}
	for _, obs := range t.observers {
		obs.OnDelete(row)
	}
	return true, nil
}

// Replace replaces all rows with the provided slice and persists it.
//
// Observers see a delete for every old row followed by an append for every new
// row.
func (t *Table[T]) Replace(rows []T) error {
	clones := make([]T, len(rows))
	byID := make(map[ksid.ID]int, len(rows))
	for i, row := range rows {
		id := row.GetID()
		if id.IsZero() {
			return errZeroID
		}
		if _, ok := byID[id]; ok {
			return fmt.Errorf("%w: %s", errDuplicateID, id)
		}
		if err := row.Validate(); err != nil {
			return fmt.Errorf("invalid row %s: %w", id, err)
		}
		c := row.Clone()
		t.attachStore(c)
		byID[id] = i
		clones[i] = c
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.rows
	prevByID := t.byID
	t.rows = clones
	t.byID = byID
	t.sortLocked()
	if err := t.rewriteLocked(); err != nil {
		t.rows = prev
		t.byID = prevByID
		return err
	}
	for _, obs := range t.observers {
		for _, row := range prev {
			obs.OnDelete(row)
		}
		for _, row := range t.rows {
			obs.OnAppend(row)
		}
	}
	return nil
}

// AddObserver registers an observer and replays OnAppend for every existing
// row so the observer starts fully synchronized.
func (t *Table[T]) AddObserver(obs TableObserver[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, obs)
	for _, row := range t.rows {
		obs.OnAppend(row)
	}
}

// NewBlob creates a [BlobWriter] for streaming blob creation in the table's
// sibling blob directory. Close the writer to obtain the [Blob] to assign to a
// row field.
func (t *Table[T]) NewBlob() (*BlobWriter, error) {
	return t.store.newBlob()
}

// GCBlobs removes blobs not referenced by any row.
//
// This is a stop-the-world GC: the write lock is held for the whole scan.
func (t *Table[T]) GCBlobs() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	used := map[BlobRef]int{}
	for _, row := range t.rows {
		for _, b := range blobFields(row) {
			if !b.IsZero() {
				used[b.Ref]++
			}
		}
	}
	return t.store.gc(used)
}

// rewriteLocked writes the schema header and all rows to the file.
// Caller must hold the write lock.
func (t *Table[T]) rewriteLocked() error {
	f, err := os.Create(t.path)
	if err != nil {
		return fmt.Errorf("failed to create table file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	writer := bufio.NewWriter(f)
	header, err := json.Marshal(&t.header)
	if err != nil {
		return fmt.Errorf("failed to marshal schema header: %w", err)
	}
	if _, err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write schema header: %w", err)
	}
	if err := writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	for _, row := range t.rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to marshal row: %w", err)
		}
		if _, err := writer.Write(data); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("failed to write newline: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}

// sortLocked restores the sorted-by-ID invariant and rebuilds the ID index.
// Caller must hold the write lock.
func (t *Table[T]) sortLocked() {
	slices.SortFunc(t.rows, rowCompare[T])
	for i, row := range t.rows {
		t.byID[row.GetID()] = i
	}
}

// attachStore wires the table's blob store into all Blob fields of the row.
func (t *Table[T]) attachStore(row T) {
	for _, b := range blobFields(row) {
		b.store = t.store
	}
}

func rowCompare[T Row[T]](a, b T) int {
	return a.GetID().Compare(b.GetID())
}

// maxLineSize bounds a single JSONL line. Inline []byte columns are base64
// encoded, so this caps inline values at roughly 12 MiB.
const maxLineSize = 16 * 1024 * 1024
