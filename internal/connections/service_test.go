package connections

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"guacplayer/internal/models"
	"guacplayer/internal/observability/logging"
	"guacplayer/internal/testsupport"
)

func newTestService(t *testing.T, repo *testsupport.RepositoryStub, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	svc, err := NewService(repo, opts...)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	return svc
}

func seedCatalogue(repo *testsupport.RepositoryStub) {
	repo.SeedConnection(models.Connection{ID: 1, Name: "web-01", Protocol: "ssh"}, map[string]string{"hostname": "10.0.0.5"})
	repo.SeedConnection(models.Connection{ID: 2, Name: "Accounting Desktop", Protocol: "rdp"}, map[string]string{"hostname": "acct"})
	repo.SeedConnection(models.Connection{ID: 3, Name: "db-primary", Protocol: "ssh"}, nil)
	repo.SeedConnection(models.Connection{ID: 4, Name: "Straße Kiosk", Protocol: "vnc"}, nil)
	repo.SeedConnection(models.Connection{ID: 5, Name: "ｗｅｂ-02", Protocol: "ssh"}, nil)
}

func TestNewServiceRequiresRepository(t *testing.T) {
	if _, err := NewService(nil); !errors.Is(err, ErrRepositoryRequired) {
		t.Fatalf("expected ErrRepositoryRequired, got %v", err)
	}
}

func TestListAttachesParameters(t *testing.T) {
	repo := testsupport.NewRepositoryStub()
	seedCatalogue(repo)
	svc := newTestService(t, repo, WithEnrichConcurrency(2))

	result, err := svc.List(context.Background(), NewPage(1, 2, 20))
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(result.Connections) != 2 {
		t.Fatalf("expected 2 connections, got %d", len(result.Connections))
	}
	if result.Connections[0].Name != "Accounting Desktop" || result.Connections[0].Parameters["hostname"] != "acct" {
		t.Fatalf("unexpected first connection %+v", result.Connections[0])
	}
	if result.Connections[1].Parameters == nil {
		t.Fatal("expected parameters map even when empty")
	}
	want := Pagination{Page: 1, PerPage: 2, Total: 5, TotalPages: 3}
	if result.Pagination != want {
		t.Fatalf("expected pagination %+v, got %+v", want, result.Pagination)
	}
	if result.Query != "" {
		t.Fatalf("expected no query on plain list, got %q", result.Query)
	}
	if calls := repo.ParameterCalls(); calls != 2 {
		t.Fatalf("expected parameters loaded for the page only, got %d calls", calls)
	}
}

func TestListBeyondLastPageIsEmpty(t *testing.T) {
	repo := testsupport.NewRepositoryStub()
	seedCatalogue(repo)
	svc := newTestService(t, repo)

	result, err := svc.List(context.Background(), NewPage(99, 20, 20))
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if result.Connections == nil || len(result.Connections) != 0 {
		t.Fatalf("expected empty non-nil page, got %#v", result.Connections)
	}
	if result.Pagination.Total != 5 || result.Pagination.TotalPages != 1 || result.Pagination.Page != 99 {
		t.Fatalf("unexpected pagination %+v", result.Pagination)
	}
}

func TestListPropagatesErrors(t *testing.T) {
	repo := testsupport.NewRepositoryStub()
	seedCatalogue(repo)
	svc := newTestService(t, repo)
	boom := errors.New("connection refused")

	repo.FailOn("ListConnections", boom)
	if _, err := svc.List(context.Background(), NewPage(1, 20, 20)); !errors.Is(err, boom) {
		t.Fatalf("expected list error, got %v", err)
	}
	repo.FailOn("ListConnections", nil)
	repo.FailOn("ConnectionParameters", boom)
	if _, err := svc.List(context.Background(), NewPage(1, 20, 20)); !errors.Is(err, boom) {
		t.Fatalf("expected parameter error, got %v", err)
	}
}

func TestSearch(t *testing.T) {
	repo := testsupport.NewRepositoryStub()
	seedCatalogue(repo)
	svc := newTestService(t, repo)
	ctx := context.Background()

	cases := []struct {
		query string
		want  []int64
	}{
		{query: "SSH", want: []int64{3, 1, 5}},
		{query: "web", want: []int64{1, 5}},
		{query: "accounting", want: []int64{2}},
		{query: "strasse", want: []int64{4}},
		{query: "  rdp  ", want: []int64{2}},
		{query: "telnet", want: []int64{}},
	}
	for _, tc := range cases {
		result, err := svc.Search(ctx, tc.query, NewPage(1, 20, 20))
		if err != nil {
			t.Fatalf("Search(%q) returned error: %v", tc.query, err)
		}
		var got []int64
		for _, conn := range result.Connections {
			got = append(got, conn.ID)
		}
		if fmt.Sprint(got) != fmt.Sprint(tc.want) {
			t.Fatalf("Search(%q) = %v, want %v", tc.query, got, tc.want)
		}
		if result.Pagination.Total != len(tc.want) {
			t.Fatalf("Search(%q) total = %d, want %d", tc.query, result.Pagination.Total, len(tc.want))
		}
		if result.Query == "" {
			t.Fatalf("Search(%q) should echo the query", tc.query)
		}
	}
}

func TestSearchPaginatesMatches(t *testing.T) {
	repo := testsupport.NewRepositoryStub()
	seedCatalogue(repo)
	svc := newTestService(t, repo)

	result, err := svc.Search(context.Background(), "ssh", NewPage(2, 2, 20))
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(result.Connections) != 1 || result.Connections[0].ID != 5 {
		t.Fatalf("unexpected second page %+v", result.Connections)
	}
	want := Pagination{Page: 2, PerPage: 2, Total: 3, TotalPages: 2}
	if result.Pagination != want {
		t.Fatalf("expected pagination %+v, got %+v", want, result.Pagination)
	}

	beyond, err := svc.Search(context.Background(), "ssh", NewPage(5, 2, 20))
	if err != nil || len(beyond.Connections) != 0 || beyond.Connections == nil {
		t.Fatalf("expected empty page beyond matches, got %#v err=%v", beyond.Connections, err)
	}
}

func TestSearchRespectsScanLimit(t *testing.T) {
	repo := testsupport.NewRepositoryStub()
	seedCatalogue(repo)
	svc := newTestService(t, repo, WithSearchScanLimit(2))

	// Only "Accounting Desktop" and "Straße Kiosk" sort into the first two.
	result, err := svc.Search(context.Background(), "ssh", NewPage(1, 20, 20))
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(result.Connections) != 0 {
		t.Fatalf("expected matches outside the scan window to be ignored, got %+v", result.Connections)
	}
}

func TestBlankSearchIsList(t *testing.T) {
	repo := testsupport.NewRepositoryStub()
	seedCatalogue(repo)
	svc := newTestService(t, repo)

	result, err := svc.Search(context.Background(), "   ", NewPage(1, 20, 20))
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if result.Query != "" || len(result.Connections) != 5 {
		t.Fatalf("expected plain listing, got query %q and %d rows", result.Query, len(result.Connections))
	}
}

func TestDetail(t *testing.T) {
	repo := testsupport.NewRepositoryStub()
	seedCatalogue(repo)
	svc := newTestService(t, repo)
	ctx := context.Background()

	conn, found, err := svc.Detail(ctx, 1)
	if err != nil || !found {
		t.Fatalf("expected connection, found=%v err=%v", found, err)
	}
	if conn.Name != "web-01" || conn.Parameters["hostname"] != "10.0.0.5" {
		t.Fatalf("unexpected connection %+v", conn)
	}

	if _, found, err := svc.Detail(ctx, 404); err != nil || found {
		t.Fatalf("expected absent connection, found=%v err=%v", found, err)
	}

	boom := errors.New("timeout")
	repo.FailOn("ConnectionByID", boom)
	if _, _, err := svc.Detail(ctx, 1); !errors.Is(err, boom) {
		t.Fatalf("expected repository error, got %v", err)
	}
}

func TestHistory(t *testing.T) {
	repo := testsupport.NewRepositoryStub()
	seedCatalogue(repo)
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		repo.SeedHistory(models.HistoryEntry{ID: int64(i + 1), ConnectionID: 1, StartDate: base.Add(time.Duration(i) * time.Hour)})
	}
	svc := newTestService(t, repo)
	ctx := context.Background()

	result, found, err := svc.History(ctx, 1, NewPage(1, 2, 20))
	if err != nil || !found {
		t.Fatalf("expected history, found=%v err=%v", found, err)
	}
	if result.ConnectionID != 1 || result.ConnectionName != "web-01" {
		t.Fatalf("unexpected header %+v", result)
	}
	if len(result.Entries) != 2 || result.Entries[0].ID != 5 || result.Entries[1].ID != 4 {
		t.Fatalf("expected newest first, got %+v", result.Entries)
	}
	if result.Pagination != (Pagination{Page: 1, PerPage: 2, Total: 5, TotalPages: 3}) {
		t.Fatalf("unexpected pagination %+v", result.Pagination)
	}

	empty, found, err := svc.History(ctx, 3, NewPage(1, 20, 20))
	if err != nil || !found || empty.Entries == nil || len(empty.Entries) != 0 {
		t.Fatalf("expected empty history for known connection, got %+v found=%v err=%v", empty, found, err)
	}

	if _, found, err := svc.History(ctx, 404, NewPage(1, 20, 20)); err != nil || found {
		t.Fatalf("expected unknown connection to be absent, found=%v err=%v", found, err)
	}
}

func TestFold(t *testing.T) {
	if fold("ＡＢＣ") != fold("abc") {
		t.Fatal("expected full-width letters to fold to ascii")
	}
	if !newMatcher("STRASSE")("Straße") {
		t.Fatal("expected sharp s to match ss")
	}
}
