package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap/zaptest"

	"github.com/user/tender-service/internal/domain"
	"github.com/user/tender-service/internal/monitoring"
	"github.com/user/tender-service/internal/storage"
	"github.com/user/tender-service/internal/worker"
)

type fakeStore struct {
	tenders map[domain.Category]map[string]*domain.Tender
	filters []storage.ListFilter
	gets    int
	pingErr error
}

func (f *fakeStore) GetTender(_ context.Context, c domain.Category, id string) (*domain.Tender, error) {
	f.gets++
	t, ok := f.tenders[c][id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) ListTenders(_ context.Context, filter storage.ListFilter) ([]*domain.Tender, error) {
	f.filters = append(f.filters, filter)
	var out []*domain.Tender
	for _, t := range f.tenders[filter.Category] {
		if len(filter.Values) == 0 {
			out = append(out, t)
			continue
		}
		for _, v := range filter.Values {
			if v == t.TenderID {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

type fakeCache struct {
	tenders map[string]*domain.Tender
	pingErr error
}

func (f *fakeCache) GetTender(_ context.Context, id string) (*domain.Tender, error) {
	t, ok := f.tenders[id]
	if !ok {
		return nil, storage.ErrCacheMiss
	}
	return t, nil
}

func (f *fakeCache) Ping(context.Context) error { return f.pingErr }

type fakeSweeper struct{ calls int }

func (f *fakeSweeper) Sweep(context.Context) (int, error) {
	f.calls++
	return 2, nil
}

type inlineDispatcher struct {
	tasks []worker.Task
	err   error
}

func (d *inlineDispatcher) Submit(ctx context.Context, t worker.Task) error {
	if d.err != nil {
		return d.err
	}
	d.tasks = append(d.tasks, t)
	return t.Run(ctx)
}

type fixture struct {
	store   *fakeStore
	cache   *fakeCache
	sweeper *fakeSweeper
	tasks   *inlineDispatcher
	metrics *monitoring.Metrics
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	addr := "ул. Арбат, 1"
	f := &fixture{
		store: &fakeStore{tenders: map[domain.Category]map[string]*domain.Tender{
			domain.Nonresidential: {
				"1": {Category: domain.Nonresidential, TenderID: "1", Address: &addr, NonresidentialFields: &domain.NonresidentialFields{}},
				"2": {Category: domain.Nonresidential, TenderID: "2", NonresidentialFields: &domain.NonresidentialFields{}},
			},
			domain.ParkingSpace: {
				"7": {Category: domain.ParkingSpace, TenderID: "7", ParkingFields: &domain.ParkingFields{}},
			},
		}},
		cache: &fakeCache{tenders: map[string]*domain.Tender{
			"9": {Category: domain.Nonresidential, TenderID: "9", InvestmoscowURL: "cached"},
		}},
		sweeper: &fakeSweeper{},
		tasks:   &inlineDispatcher{},
	}
	reg := prometheus.NewRegistry()
	f.metrics = monitoring.NewMetrics(reg)
	f.handler = NewServer("0", f.store, f.cache, f.sweeper, f.tasks, reg, f.metrics, zaptest.NewLogger(t)).Handler()
	return f
}

func (f *fixture) do(method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestGetTenderPrefersCache(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/tender/9")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var got domain.Tender
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.InvestmoscowURL != "cached" || f.store.gets != 0 {
		t.Fatalf("expected cache hit, got %+v (store gets %d)", got, f.store.gets)
	}
}

func TestGetTenderFallsBackToStore(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/tender/7?category=parking_space")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"tender_id":"7"`) {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	// A cached record of another category is not served.
	rec = f.do(http.MethodGet, "/api/v1/tender/9?category=parking_space")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	rec = f.do(http.MethodGet, "/api/v1/tender/1?category=garage")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListTenders(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/tenders?by=tender_id&params=1&params=2&params=404")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var got []domain.Tender
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d tenders, want 2", len(got))
	}
	want := storage.ListFilter{Category: domain.Nonresidential, By: "tender_id", Values: []string{"1", "2", "404"}}
	if !reflect.DeepEqual(f.store.filters[0], want) {
		t.Fatalf("filter = %+v", f.store.filters[0])
	}

	rec = f.do(http.MethodGet, "/api/v1/tenders?by=address&params=nowhere&category=parking_space")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("empty result = %d %s", rec.Code, rec.Body)
	}
}

func TestListTendersValidation(t *testing.T) {
	f := newFixture(t)
	for _, target := range []string{
		"/api/v1/tenders?by=floor&params=1",
		"/api/v1/tenders?by=tender_id",
		"/api/v1/tenders?by=tender_id&params=1&category=nope",
	} {
		if rec := f.do(http.MethodGet, target); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
	}
}

func TestDeleteExpiredRunsSweepInBackground(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodDelete, "/api/v1/tenders")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(f.tasks.tasks) != 1 || f.tasks.tasks[0].Name != "sweep" || f.sweeper.calls != 1 {
		t.Fatalf("tasks %v, sweeps %d", f.tasks.tasks, f.sweeper.calls)
	}

	f.tasks.err = worker.ErrPoolClosed
	if rec := f.do(http.MethodDelete, "/api/v1/tenders"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when the pool is closed", rec.Code)
	}
}

func TestExportReturnsWorkbook(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/tenders/export")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != xlsxContentType {
		t.Fatalf("content type = %q", ct)
	}
	wb, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer wb.Close()
	if sheets := wb.GetSheetList(); len(sheets) != 2 {
		t.Fatalf("sheets = %v", sheets)
	}
	rows, _ := wb.GetRows("nonresidential")
	if len(rows) != 3 {
		t.Fatalf("nonresidential rows = %d, want header + 2", len(rows))
	}
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(http.MethodGet, "/api/health"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	f.cache.pingErr = errors.New("redis down")
	rec := f.do(http.MethodGet, "/api/health")
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), `"redis":"unhealthy"`) {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
}

func TestMetricsUseRoutePattern(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodGet, "/api/v1/tender/1")
	f.do(http.MethodGet, "/api/v1/tender/2")

	got := testutil.ToFloat64(f.metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/tender/{tenderID}", "200"))
	if got != 2 {
		t.Fatalf("requests for pattern = %v, want 2", got)
	}

	rec := f.do(http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "http_requests_total") {
		t.Fatalf("metrics endpoint = %d", rec.Code)
	}
}
