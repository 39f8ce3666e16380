package deskapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kiosklab/corelink/pkg/desk"
	"github.com/kiosklab/corelink/pkg/diag"
	"github.com/kiosklab/corelink/pkg/dna"
	"github.com/kiosklab/corelink/pkg/queue"
	"github.com/kiosklab/corelink/pkg/upstream"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCore struct{}

func (fakeCore) FetchPersonByMemberNumber(ctx context.Context, member string) (*dna.Person, error) {
	if member != "100" {
		return nil, upstream.ErrNotFound
	}
	return &dna.Person{
		MemberNumber: "100",
		FirstName:    "Ada",
		Accounts:     []dna.Account{{Number: "100-S1"}},
	}, nil
}

func (fakeCore) FetchTransactions(ctx context.Context, account string, limit int) ([]dna.Transaction, error) {
	if account == "broken" {
		return nil, &upstream.TransportError{Op: "transactions", StatusCode: http.StatusServiceUnavailable}
	}
	return []dna.Transaction{{Date: "2024-06-29", Description: "Coffee", Amount: "-$4.50"}}, nil
}

func newTestServer(t *testing.T, opts ...Option) (*echo.Echo, *queue.MemoryStore) {
	t.Helper()
	store := queue.NewMemoryStore()
	svc := desk.New(desk.Config{}, store, fakeCore{})
	t.Cleanup(svc.Wait)
	return NewServer(NewAPI(svc, opts...)), store
}

func do(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCheckinLifecycle(t *testing.T) {
	e, _ := newTestServer(t)

	rec := do(t, e, http.MethodPost, "/api/checkins", `{"name":"Ada","help_topic":"Loans","member_number":"100"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var entry queue.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, int64(1), entry.ID)

	rec = do(t, e, http.MethodGet, "/api/queue/count", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":1}`, rec.Body.String())

	rec = do(t, e, http.MethodGet, "/api/checkins/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view desk.MemberView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, desk.DetailsOK, view.DetailsState)
	assert.Equal(t, "Ada", view.Person.FirstName)
	assert.Len(t, view.Transactions["100-S1"], 1)

	rec = do(t, e, http.MethodPost, "/api/checkins/1/member-number", `{"member_number":"999"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "999", view.Entry.MemberNumber)
	assert.Equal(t, desk.DetailsNotFound, view.DetailsState)

	rec = do(t, e, http.MethodPost, "/api/checkins/1/revert", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "100", view.Entry.MemberNumber)

	rec = do(t, e, http.MethodPost, "/api/checkins/1/handled", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, e, http.MethodGet, "/api/dashboard", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var dashboard desk.Dashboard
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dashboard))
	assert.Empty(t, dashboard.Waiting)
	require.Len(t, dashboard.Handled, 1)
	assert.Equal(t, queue.StatusHandled, dashboard.Handled[0].Status)
}

func TestRequestErrors(t *testing.T) {
	e, store := newTestServer(t)
	_, err := store.Add(context.Background(), queue.Entry{Name: "Bob"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"missing name", http.MethodPost, "/api/checkins", `{"help_topic":"Cards"}`, http.StatusBadRequest},
		{"letters in member number", http.MethodPost, "/api/checkins", `{"name":"Bob","help_topic":"Cards","member_number":"12a"}`, http.StatusBadRequest},
		{"bad id", http.MethodGet, "/api/checkins/abc", "", http.StatusBadRequest},
		{"unknown check-in", http.MethodGet, "/api/checkins/42", "", http.StatusNotFound},
		{"empty member number", http.MethodPost, "/api/checkins/1/member-number", `{"member_number":""}`, http.StatusBadRequest},
		{"non-digit override", http.MethodPost, "/api/checkins/1/member-number", `{"member_number":"x1"}`, http.StatusBadRequest},
		{"handle unknown", http.MethodPost, "/api/checkins/42/handled", "", http.StatusNotFound},
		{"upstream down", http.MethodGet, "/api/accounts/broken/transactions", "", http.StatusBadGateway},
		{"loans disabled", http.MethodGet, "/api/loans/L-1", "", http.StatusNotImplemented},
		{"archive disabled", http.MethodGet, "/api/archive", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, e, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestInsightsWithoutMemberNumber(t *testing.T) {
	e, store := newTestServer(t)
	_, err := store.Add(context.Background(), queue.Entry{Name: "Bob"})
	require.NoError(t, err)

	rec := do(t, e, http.MethodGet, "/api/checkins/1/insights", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view desk.InsightView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, desk.InsightDone, view.Status)
	assert.NotEmpty(t, view.Lines)
}

func TestAccountTransactions(t *testing.T) {
	e, _ := newTestServer(t)

	rec := do(t, e, http.MethodGet, "/api/accounts/777/transactions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Account      string            `json:"account"`
		Transactions []dna.Transaction `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "777", body.Account)
	assert.Len(t, body.Transactions, 1)
}

func TestStatsAndHealth(t *testing.T) {
	e, _ := newTestServer(t)

	rec := do(t, e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, e, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats desk.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
}

func TestArchive(t *testing.T) {
	archive, err := diag.Open(filepath.Join(t.TempDir(), "payloads.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })
	id, err := archive.Store("person", []byte("<broken"))
	require.NoError(t, err)

	e, _ := newTestServer(t, WithArchive(archive))

	rec := do(t, e, http.MethodGet, "/api/archive", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []diag.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].ID)

	rec = do(t, e, http.MethodGet, "/api/archive/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<broken", rec.Body.String())

	rec = do(t, e, http.MethodGet, "/api/archive/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, e, http.MethodGet, "/api/archive?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
