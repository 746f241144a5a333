package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"guacplayer/internal/models"
)

func seedConnections(env *testEnv, n int) {
	for i := 1; i <= n; i++ {
		protocol := "ssh"
		if i%2 == 0 {
			protocol = "rdp"
		}
		env.repo.SeedConnection(models.Connection{ID: int64(i), Name: fmt.Sprintf("host-%02d", i), Protocol: protocol},
			map[string]string{"hostname": fmt.Sprintf("10.0.0.%d", i)})
	}
}

func TestConnectionsPagination(t *testing.T) {
	env := newTestEnv(t)
	seedConnections(env, 25)

	cases := []struct {
		query      string
		page       int
		perPage    int
		rows       int
		totalPages int
	}{
		{query: "", page: 1, perPage: 20, rows: 20, totalPages: 2},
		{query: "?page=2", page: 2, perPage: 20, rows: 5, totalPages: 2},
		{query: "?page=3", page: 3, perPage: 20, rows: 0, totalPages: 2},
		{query: "?page=0&per_page=10", page: 1, perPage: 10, rows: 10, totalPages: 3},
		{query: "?per_page=500", page: 1, perPage: 20, rows: 20, totalPages: 2},
		{query: "?page=abc&per_page=-3", page: 1, perPage: 20, rows: 20, totalPages: 2},
		{query: "?per_page=100", page: 1, perPage: 100, rows: 25, totalPages: 1},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		env.handler.Connections(rec, httptest.NewRequest(http.MethodGet, "/api/connections"+tc.query, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%q: expected status 200, got %d", tc.query, rec.Code)
		}
		var body connectionListResponse
		decodeBody(t, rec, &body)
		if !body.Success || len(body.Data) != tc.rows {
			t.Fatalf("%q: expected %d rows, got %d", tc.query, tc.rows, len(body.Data))
		}
		p := body.Pagination
		if p.Page != tc.page || p.PerPage != tc.perPage || p.Total != 25 || p.TotalPages != tc.totalPages {
			t.Fatalf("%q: unexpected pagination %+v", tc.query, p)
		}
		if body.Data == nil {
			t.Fatalf("%q: expected data array, got null", tc.query)
		}
	}
}

func TestConnectionsEmptyPageEncodesArray(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.handler.Connections(rec, httptest.NewRequest(http.MethodGet, "/api/connections?page=4", nil))
	var raw map[string]any
	decodeBody(t, rec, &raw)
	data, ok := raw["data"].([]any)
	if !ok || len(data) != 0 {
		t.Fatalf("expected empty JSON array, got %#v", raw["data"])
	}
	if _, present := raw["query"]; present {
		t.Fatal("plain listing should not echo a query")
	}
}

func TestConnectionsSearch(t *testing.T) {
	env := newTestEnv(t)
	seedConnections(env, 6)

	rec := httptest.NewRecorder()
	env.handler.Connections(rec, httptest.NewRequest(http.MethodGet, "/api/connections?search=RDP&per_page=2", nil))
	var body connectionListResponse
	decodeBody(t, rec, &body)
	if body.Query != "RDP" || body.Pagination.Total != 3 || body.Pagination.TotalPages != 2 || len(body.Data) != 2 {
		t.Fatalf("unexpected search response %+v", body)
	}
	if body.Data[0].Parameters["hostname"] == "" {
		t.Fatal("expected parameters attached to search results")
	}
}

func TestConnectionsFailure(t *testing.T) {
	env := newTestEnv(t)
	env.repo.FailOn("ListConnections", errors.New("pool closed"))
	rec := httptest.NewRecorder()
	env.handler.Connections(rec, httptest.NewRequest(http.MethodGet, "/api/connections", nil))
	if rec.Code != http.StatusInternalServerError || errorMessage(t, rec) != "internal server error" {
		t.Fatalf("expected generic 500, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestConnectionByID(t *testing.T) {
	env := newTestEnv(t)
	seedConnections(env, 2)

	rec := httptest.NewRecorder()
	env.handler.ConnectionByID(rec, withParams(httptest.NewRequest(http.MethodGet, "/api/connections/2", nil), "id", "2"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var body struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	decodeBody(t, rec, &body)
	if body.Data["connection_name"] != "host-02" || body.Data["protocol"] != "rdp" {
		t.Fatalf("unexpected connection body %v", body.Data)
	}
	params, ok := body.Data["parameters"].(map[string]any)
	if !ok || params["hostname"] != "10.0.0.2" {
		t.Fatalf("expected embedded parameters, got %v", body.Data["parameters"])
	}
	if _, present := body.Data["max_connections"]; !present {
		t.Fatal("expected nullable columns to be present as null")
	}

	for _, id := range []string{"99", "abc", "-1", "0"} {
		rec := httptest.NewRecorder()
		env.handler.ConnectionByID(rec, withParams(httptest.NewRequest(http.MethodGet, "/api/connections/"+id, nil), "id", id))
		if rec.Code != http.StatusNotFound || errorMessage(t, rec) != "connection not found" {
			t.Fatalf("id %q: expected 404, got %d %s", id, rec.Code, rec.Body.String())
		}
	}
}

func TestConnectionWithoutParametersEncodesEmptyObject(t *testing.T) {
	env := newTestEnv(t)
	env.repo.SeedConnection(models.Connection{ID: 7, Name: "bare", Protocol: "vnc"}, nil)

	rec := httptest.NewRecorder()
	env.handler.ConnectionByID(rec, withParams(httptest.NewRequest(http.MethodGet, "/api/connections/7", nil), "id", "7"))
	var detail struct {
		Data map[string]any `json:"data"`
	}
	decodeBody(t, rec, &detail)
	if params, ok := detail.Data["parameters"].(map[string]any); !ok || len(params) != 0 {
		t.Fatalf("expected empty parameters object on detail, got %#v", detail.Data["parameters"])
	}

	rec = httptest.NewRecorder()
	env.handler.Connections(rec, httptest.NewRequest(http.MethodGet, "/api/connections", nil))
	var list struct {
		Data []map[string]any `json:"data"`
	}
	decodeBody(t, rec, &list)
	if len(list.Data) != 1 {
		t.Fatalf("expected one connection, got %d", len(list.Data))
	}
	if params, ok := list.Data[0]["parameters"].(map[string]any); !ok || len(params) != 0 {
		t.Fatalf("expected empty parameters object on list, got %#v", list.Data[0]["parameters"])
	}
}

func TestConnectionHistory(t *testing.T) {
	env := newTestEnv(t)
	seedConnections(env, 1)
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	host := "192.0.2.10"
	for i := 0; i < 3; i++ {
		env.repo.SeedHistory(models.HistoryEntry{ID: int64(i + 1), ConnectionID: 1, StartDate: base.Add(time.Duration(i) * time.Hour), RemoteHost: &host})
	}

	rec := httptest.NewRecorder()
	env.handler.ConnectionHistory(rec, withParams(httptest.NewRequest(http.MethodGet, "/api/connections/1/history?per_page=2", nil), "id", "1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var body historyResponse
	decodeBody(t, rec, &body)
	if body.ConnectionID != 1 || body.ConnectionName != "host-01" {
		t.Fatalf("unexpected history header %+v", body)
	}
	if len(body.Data) != 2 || body.Data[0].ID != 3 || body.Pagination.Total != 3 || body.Pagination.TotalPages != 2 {
		t.Fatalf("unexpected history page %+v", body)
	}

	rec = httptest.NewRecorder()
	env.handler.ConnectionHistory(rec, withParams(httptest.NewRequest(http.MethodGet, "/api/connections/404/history", nil), "id", "404"))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown connection, got %d", rec.Code)
	}

	env.repo.FailOn("ConnectionHistory", errors.New("canceling statement due to statement timeout"))
	rec = httptest.NewRecorder()
	env.handler.ConnectionHistory(rec, withParams(httptest.NewRequest(http.MethodGet, "/api/connections/1/history", nil), "id", "1"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on history failure, got %d", rec.Code)
	}
}
