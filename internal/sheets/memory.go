package sheets

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MemoryStore is an in-process Store used by tests and local chat runs.
type MemoryStore struct {
	mu     sync.Mutex
	books  map[string]map[string]*table
	ops    atomic.Int64
	err    error
	append func(spreadsheetID, sheet string, values []string)
}

type table struct {
	headers []string
	rows    [][]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{books: map[string]map[string]*table{}}
}

// AddSheet creates (or replaces) a sheet with headers and rows.
func (m *MemoryStore) AddSheet(spreadsheetID, sheet string, headers []string, rows ...[]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.books[spreadsheetID]
	if !ok {
		book = map[string]*table{}
		m.books[spreadsheetID] = book
	}
	t := &table{headers: append([]string(nil), headers...)}
	for _, r := range rows {
		t.rows = append(t.rows, append([]string(nil), r...))
	}
	book[sheet] = t
}

// SetError makes every subsequent call fail with err; nil clears it.
func (m *MemoryStore) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// OnAppend registers a callback run after each successful append.
func (m *MemoryStore) OnAppend(fn func(spreadsheetID, sheet string, values []string)) {
	m.mu.Lock()
	m.append = fn
	m.mu.Unlock()
}

// Ops returns how many store calls have been made.
func (m *MemoryStore) Ops() int {
	return int(m.ops.Load())
}

func (m *MemoryStore) lookup(spreadsheetID, sheet string) (*table, error) {
	m.ops.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	book, ok := m.books[spreadsheetID]
	if !ok {
		return nil, fmt.Errorf("%w: spreadsheet %q", ErrSheetNotFound, spreadsheetID)
	}
	t, ok := book[sheet]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSheetNotFound, sheet)
	}
	return t, nil
}

func (m *MemoryStore) Rows(_ context.Context, spreadsheetID, sheet string) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.lookup(spreadsheetID, sheet)
	if err != nil {
		return nil, err
	}
	grid := make([][]any, 0, len(t.rows)+1)
	grid = append(grid, toAny(t.headers))
	for _, r := range t.rows {
		grid = append(grid, toAny(r))
	}
	return parseValues(grid), nil
}

func (m *MemoryStore) Headers(_ context.Context, spreadsheetID, sheet string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.lookup(spreadsheetID, sheet)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), t.headers...), nil
}

func (m *MemoryStore) Append(_ context.Context, spreadsheetID, sheet string, values []string) error {
	m.mu.Lock()
	t, err := m.lookup(spreadsheetID, sheet)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	t.rows = append(t.rows, append([]string(nil), values...))
	fn := m.append
	m.mu.Unlock()
	if fn != nil {
		fn(spreadsheetID, sheet, values)
	}
	return nil
}

func (m *MemoryStore) UpdateCells(_ context.Context, spreadsheetID, sheet string, rowIndex int, cells map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.lookup(spreadsheetID, sheet)
	if err != nil {
		return err
	}
	i := rowIndex - 2
	if i < 0 || i >= len(t.rows) {
		return ErrRowNotFound
	}
	for col, v := range cells {
		idx := indexOf(t.headers, col)
		if idx < 0 {
			return fmt.Errorf("sheets: unknown column %q in %s", col, sheet)
		}
		for len(t.rows[i]) <= idx {
			t.rows[i] = append(t.rows[i], "")
		}
		t.rows[i][idx] = v
	}
	return nil
}

func (m *MemoryStore) DeleteRow(_ context.Context, spreadsheetID, sheet string, rowIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.lookup(spreadsheetID, sheet)
	if err != nil {
		return err
	}
	i := rowIndex - 2
	if i < 0 || i >= len(t.rows) {
		return ErrRowNotFound
	}
	t.rows = append(t.rows[:i], t.rows[i+1:]...)
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
