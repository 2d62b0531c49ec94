package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func TestParseValues(t *testing.T) {
	rows := parseValues([][]any{
		{"Id", " Nombre ", "Telefono"},
		{"a1", "Ana", "555"},
		{},
		{"b2", "Bob"},
	})

	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].Index)
	assert.Equal(t, "Ana", rows[0].Get("Nombre"))
	assert.Equal(t, 4, rows[1].Index, "empty rows still advance the index")
	assert.Equal(t, "", rows[1].Get("Telefono"))
	assert.Nil(t, parseValues(nil))
}

func TestColumnLetter(t *testing.T) {
	tests := map[int]string{0: "A", 1: "B", 25: "Z", 26: "AA", 27: "AB", 51: "AZ", 52: "BA", 701: "ZZ", 702: "AAA"}
	for in, want := range tests {
		assert.Equal(t, want, columnLetter(in), "index %d", in)
	}
}

func TestQuoteSheet(t *testing.T) {
	assert.Equal(t, "'Lead'", quoteSheet("Lead"))
	assert.Equal(t, "'Ana''s'", quoteSheet("Ana's"))
}

// --- MemoryStore ---

func TestMemoryStore_CRUD(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	m.AddSheet("crm", "Lead", []string{"Id", "Nombre", "Telefono"}, []string{"a1", "Ana", "555"})

	rows, err := m.Rows(ctx, "crm", "Lead")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, m.Append(ctx, "crm", "Lead", []string{"b2", "Bob", "777"}))
	require.NoError(t, m.UpdateCells(ctx, "crm", "Lead", 3, map[string]string{"Nombre": "Roberto"}))

	rows, err = m.Rows(ctx, "crm", "Lead")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 3, rows[1].Index)
	assert.Equal(t, "Roberto", rows[1].Get("Nombre"))

	require.NoError(t, m.DeleteRow(ctx, "crm", "Lead", 2))
	rows, err = m.Rows(ctx, "crm", "Lead")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "b2", rows[0].Get("Id"))
	assert.Equal(t, 2, rows[0].Index)
}

func TestMemoryStore_Errors(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	m.AddSheet("crm", "Lead", []string{"Id"})

	_, err := m.Rows(ctx, "missing", "Lead")
	assert.ErrorIs(t, err, ErrSheetNotFound)

	_, err = m.Rows(ctx, "crm", "Nope")
	assert.ErrorIs(t, err, ErrSheetNotFound)

	assert.ErrorIs(t, m.UpdateCells(ctx, "crm", "Lead", 9, map[string]string{"Id": "x"}), ErrRowNotFound)
	assert.ErrorIs(t, m.DeleteRow(ctx, "crm", "Lead", 1), ErrRowNotFound)

	require.NoError(t, m.Append(ctx, "crm", "Lead", []string{"a"}))
	assert.Error(t, m.UpdateCells(ctx, "crm", "Lead", 2, map[string]string{"Unknown": "x"}))

	boom := errors.New("boom")
	m.SetError(boom)
	_, err = m.Headers(ctx, "crm", "Lead")
	assert.ErrorIs(t, err, boom)
	m.SetError(nil)
	_, err = m.Headers(ctx, "crm", "Lead")
	assert.NoError(t, err)
}

func TestMemoryStore_OpsAndOnAppend(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	m.AddSheet("crm", "Lead", []string{"Id"})

	var appended [][]string
	m.OnAppend(func(_, _ string, values []string) { appended = append(appended, values) })

	require.NoError(t, m.Append(ctx, "crm", "Lead", []string{"x"}))
	_, _ = m.Rows(ctx, "crm", "Lead")
	assert.Equal(t, 2, m.Ops())
	assert.Equal(t, [][]string{{"x"}}, appended)
}

func TestMemoryStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	m.AddSheet("crm", "Lead", []string{"Id"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Append(ctx, "crm", "Lead", []string{"x"})
		}()
	}
	wg.Wait()

	rows, err := m.Rows(ctx, "crm", "Lead")
	require.NoError(t, err)
	assert.Len(t, rows, 20)
}

func TestAppendRecord(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	m.AddSheet("crm", "Meetings", []string{"Id", "Asunto", "Estado"})

	require.NoError(t, AppendRecord(ctx, m, "crm", "Meetings", map[string]string{
		"Estado": "Programada",
		"Id":     "m1",
		"Other":  "dropped",
	}))
	rows, err := m.Rows(ctx, "crm", "Meetings")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]string{"Id": "m1", "Asunto": "", "Estado": "Programada"}, rows[0].Values)

	m.AddSheet("crm", "Empty", nil)
	assert.Error(t, AppendRecord(ctx, m, "crm", "Empty", map[string]string{"Id": "x"}))
}

// --- GoogleStore ---

func newTestGoogleStore(t *testing.T, handler http.HandlerFunc) *GoogleStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := gsheets.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return NewGoogleStore(svc, silentLog())
}

func TestGoogleStore_Rows(t *testing.T) {
	s := newTestGoogleStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Contains(t, r.URL.Path, "/v4/spreadsheets/creds/values/")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"range": "Credentials!A1:B3",
			"values": [][]any{
				{"Phone Number ID", "Status"},
				{"1234", "TRUE"},
			},
		})
	})

	rows, err := s.Rows(context.Background(), "creds", "Credentials")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "1234", rows[0].Get("Phone Number ID"))
	assert.Equal(t, "TRUE", rows[0].Get("Status"))
}

func TestGoogleStore_Append(t *testing.T) {
	var body map[string]any
	var query string
	s := newTestGoogleStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, ":append"), r.URL.Path)
		query = r.URL.RawQuery
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})

	require.NoError(t, s.Append(context.Background(), "crm", "Lead", []string{"a1", "Ana"}))
	assert.Contains(t, query, "valueInputOption=USER_ENTERED")
	assert.Contains(t, query, "insertDataOption=INSERT_ROWS")
	assert.Equal(t, []any{[]any{"a1", "Ana"}}, body["values"])
}

func TestGoogleStore_UpdateCells(t *testing.T) {
	var batch gsheets.BatchUpdateValuesRequest
	s := newTestGoogleStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"values":[["Id","Nombre","Canal"]]}`))
			return
		}
		assert.True(t, strings.HasSuffix(r.URL.Path, "values:batchUpdate"), r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &batch)
		_, _ = w.Write([]byte(`{}`))
	})

	require.NoError(t, s.UpdateCells(context.Background(), "crm", "Lead", 7, map[string]string{"Canal": "web"}))
	require.Len(t, batch.Data, 1)
	assert.Equal(t, "'Lead'!C7", batch.Data[0].Range)
	assert.Equal(t, "USER_ENTERED", batch.ValueInputOption)

	err := s.UpdateCells(context.Background(), "crm", "Lead", 7, map[string]string{"Missing": "x"})
	assert.Error(t, err)
	assert.ErrorIs(t, s.UpdateCells(context.Background(), "crm", "Lead", 1, map[string]string{"Canal": "x"}), ErrRowNotFound)
}

func TestGoogleStore_SheetNotFound(t *testing.T) {
	s := newTestGoogleStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"Unable to parse range: 'Nope'","status":"INVALID_ARGUMENT"}}`))
	})

	_, err := s.Rows(context.Background(), "crm", "Nope")
	assert.ErrorIs(t, err, ErrSheetNotFound)
}

func TestGoogleStore_DeleteRow(t *testing.T) {
	var req gsheets.BatchUpdateSpreadsheetRequest
	s := newTestGoogleStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"sheets":[{"properties":{"sheetId":0,"title":"Lead"}},{"properties":{"sheetId":42,"title":"Meetings"}}]}`))
			return
		}
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &req)
		_, _ = w.Write([]byte(`{}`))
	})

	require.NoError(t, s.DeleteRow(context.Background(), "crm", "Meetings", 5))
	require.Len(t, req.Requests, 1)
	rng := req.Requests[0].DeleteDimension.Range
	assert.Equal(t, int64(42), rng.SheetId)
	assert.Equal(t, int64(4), rng.StartIndex)
	assert.Equal(t, int64(5), rng.EndIndex)

	assert.ErrorIs(t, s.DeleteRow(context.Background(), "crm", "Missing", 5), ErrSheetNotFound)
}
