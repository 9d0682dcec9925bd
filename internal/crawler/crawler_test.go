package crawler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/user/tender-service/internal/config"
	"github.com/user/tender-service/internal/disk"
	"github.com/user/tender-service/internal/domain"
	"github.com/user/tender-service/internal/enrich"
	"github.com/user/tender-service/internal/worker"
)

type fakeMarket struct {
	mu        sync.Mutex
	pages     []pageResult // consumed in order
	searched  []int
	details   map[string]*domain.TenderDetail
	fetched   []string
	reports   map[string]string // tender id -> link
	downloads []string
}

type pageResult struct {
	page *domain.ListingPage
	err  error
}

func (m *fakeMarket) SearchTenders(_ context.Context, page, _ int, _ domain.Category) (*domain.ListingPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searched = append(m.searched, page)
	if len(m.pages) == 0 {
		return &domain.ListingPage{}, nil
	}
	r := m.pages[0]
	m.pages = m.pages[1:]
	return r.page, r.err
}

func (m *fakeMarket) GetTender(_ context.Context, id string) (*domain.TenderDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetched = append(m.fetched, id)
	d, ok := m.details[id]
	if !ok {
		return nil, errors.New("detail unavailable")
	}
	return d, nil
}

func (m *fakeMarket) EvaluationReportLink(d *domain.TenderDetail) string {
	return m.reports[d.TenderID.String()]
}

func (m *fakeMarket) DownloadDocument(_ context.Context, link, path string) error {
	m.downloads = append(m.downloads, link)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("%PDF"), 0o644)
}

type fakeExtractor struct {
	paths  []string
	exists []bool
}

func (e *fakeExtractor) ExtractFile(path string) map[string]string {
	_, err := os.Stat(path)
	e.paths = append(e.paths, path)
	e.exists = append(e.exists, err == nil)
	return map[string]string{enrich.DocLabelRegionName: "ЦАО", enrich.DocLabelCeilings: "3,2"}
}

type recorder struct {
	mu        sync.Mutex
	tasks     []worker.Task
	upserted  []*domain.Tender
	published []*domain.Tender
	batches   []disk.Batch
}

func (r *recorder) Submit(_ context.Context, t worker.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t)
	return nil
}

func (r *recorder) UpsertTenders(_ context.Context, ts []*domain.Tender) error {
	r.upserted = append(r.upserted, ts...)
	return nil
}

func (r *recorder) PublishTenders(_ context.Context, ts []*domain.Tender) error {
	r.published = append(r.published, ts...)
	return nil
}

func (r *recorder) Sync(_ context.Context, b disk.Batch) error {
	r.batches = append(r.batches, b)
	return nil
}

// runAll executes every dispatched task in order.
func (r *recorder) runAll(t *testing.T) {
	t.Helper()
	for _, task := range r.tasks {
		if err := task.Run(context.Background()); err != nil {
			t.Fatalf("task %s: %v", task.Name, err)
		}
	}
}

func newTestCrawler(t *testing.T, m *fakeMarket, ex *fakeExtractor, rec *recorder) (*Crawler, *[]time.Duration) {
	t.Helper()
	rules := enrich.NewRules(config.DefaultParsing(), "https://investmoscow.ru/tenders/tender/")
	c := NewCrawler(m, ex, rules, rec, rec, rec, rec, Options{
		StartPage:    1,
		PageSize:     10,
		PageInterval: time.Minute,
		ErrorBackoff: time.Second,
		ReportsDir:   t.TempDir(),
		Folders: map[domain.Category]string{
			domain.Nonresidential: "nonresidential",
			domain.ParkingSpace:   "parking_spaces",
		},
	}, nil, zaptest.NewLogger(t))
	var slept []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return c, &slept
}

func detail(id, address string, images ...string) *domain.TenderDetail {
	d := &domain.TenderDetail{
		TenderID:   domain.FlexString(id),
		HeaderInfo: domain.HeaderInfo{Address: address, LandArea: "20 кв.м"},
		ProcedureInfo: []domain.ProcedureStep{
			{Label: enrich.LabelDeposit, Value: "1 000 ₽"},
		},
	}
	for _, name := range images {
		d.ImageInfo.AttachedImages = append(d.ImageInfo.AttachedImages, domain.AttachedImage{
			URL:      "https://img/" + name,
			FileBase: domain.FileBase{Name: name},
		})
	}
	return d
}

func entity(address string, count int, stubs ...domain.TenderStub) domain.ListingEntity {
	return domain.ListingEntity{ObjectAddress: address, Count: count, Tenders: stubs}
}

func stub(id string, area float64) domain.TenderStub {
	return areaStub(id, strconv.FormatFloat(area, 'f', -1, 64))
}

func areaStub(id, area string) domain.TenderStub {
	return domain.TenderStub{ID: domain.FlexString(id), ObjectArea: domain.FlexString(area), RegionName: "ЗАО", DistrictName: "Раменки"}
}

func TestSelectRepresentativePicksSmallestArea(t *testing.T) {
	area := enrich.NewRules(config.DefaultParsing(), "").ParseArea

	stubs := []domain.TenderStub{stub("a", 30), stub("b", 12), stub("c", 25)}
	if got := SelectRepresentative(stubs, area); got != 1 {
		t.Fatalf("got index %d, want 1", got)
	}
	if got := SelectRepresentative([]domain.TenderStub{stub("a", 5), stub("b", 5)}, area); got != 0 {
		t.Fatalf("tie should keep the first stub, got %d", got)
	}

	// Thousands groups separated by spaces must not be cut at the first group.
	stubs = []domain.TenderStub{areaStub("big", "1 234,5 кв.м"), areaStub("small", "12,4 кв.м")}
	if got := SelectRepresentative(stubs, area); got != 1 {
		t.Fatalf("got index %d, want the 12,4 stub", got)
	}
}

func TestRunStopsOnEmptyPage(t *testing.T) {
	m := &fakeMarket{
		pages: []pageResult{
			{page: &domain.ListingPage{Entities: []domain.ListingEntity{entity("addr", 1, stub("1", 10))}}},
			{page: &domain.ListingPage{}},
		},
		details: map[string]*domain.TenderDetail{"1": detail("1", "addr")},
	}
	rec := &recorder{}
	c, slept := newTestCrawler(t, m, &fakeExtractor{}, rec)

	if err := c.Run(context.Background(), domain.Nonresidential); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(m.searched) != 2 || m.searched[0] != 1 || m.searched[1] != 2 {
		t.Fatalf("searched pages %v, want [1 2]", m.searched)
	}
	if len(*slept) != 1 || (*slept)[0] != time.Minute {
		t.Fatalf("slept %v, want one page interval", *slept)
	}
}

func TestRunRetriesSamePageAfterError(t *testing.T) {
	m := &fakeMarket{
		pages: []pageResult{
			{err: errors.New("connection reset")},
			{err: errors.New("503")},
			{page: &domain.ListingPage{}},
		},
	}
	c, slept := newTestCrawler(t, m, &fakeExtractor{}, &recorder{})

	if err := c.Run(context.Background(), domain.ParkingSpace); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, p := range m.searched {
		if p != 1 {
			t.Fatalf("page advanced after error: %v", m.searched)
		}
	}
	if len(*slept) != 2 || (*slept)[0] != time.Second {
		t.Fatalf("slept %v, want two backoffs", *slept)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	m := &fakeMarket{pages: []pageResult{{err: errors.New("down")}}}
	c, _ := newTestCrawler(t, m, &fakeExtractor{}, &recorder{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Run(ctx, domain.Nonresidential); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestProcessPageParkingUsesRepresentativeAndListingContext(t *testing.T) {
	m := &fakeMarket{
		pages: []pageResult{{page: &domain.ListingPage{Entities: []domain.ListingEntity{
			entity("Москва, ул. Лесная, 5", 3, stub("30", 30), stub("12", 12), stub("25", 25)),
		}}}},
		details: map[string]*domain.TenderDetail{"12": detail("12", "ignored", "p.jpg")},
	}
	rec := &recorder{}
	c, _ := newTestCrawler(t, m, &fakeExtractor{}, rec)

	n, err := c.ProcessPage(context.Background(), domain.ParkingSpace, 1)
	if err != nil || n != 1 {
		t.Fatalf("ProcessPage = %d, %v", n, err)
	}
	if len(m.fetched) != 1 || m.fetched[0] != "12" {
		t.Fatalf("fetched %v, want only the smallest area tender", m.fetched)
	}
	if len(m.downloads) != 0 {
		t.Fatal("parking tenders have no report step")
	}

	rec.runAll(t)
	if len(rec.upserted) != 1 {
		t.Fatalf("upserted %d tenders", len(rec.upserted))
	}
	got := rec.upserted[0]
	if *got.Address != "Москва, ул. Лесная, 5" || *got.RegionName != "ЗАО" || *got.ParkingFields.Count != 3 {
		t.Fatalf("record = %+v %+v", got, got.ParkingFields)
	}
	if len(rec.batches) != 1 || rec.batches[0].Folder != "parking_spaces" || rec.batches[0].Tenders[0].Images[0].FileBase.Name != "p.jpg" {
		t.Fatalf("asset batch = %+v", rec.batches)
	}
}

func TestProcessPageNonresidentialSkipsFailedTender(t *testing.T) {
	m := &fakeMarket{
		pages: []pageResult{{page: &domain.ListingPage{Entities: []domain.ListingEntity{
			entity("addr", 3, stub("1", 0), stub("2", 0), stub("3", 0)),
		}}}},
		details: map[string]*domain.TenderDetail{
			"1": detail("1", "ул. Первая, 1", "a.jpg"),
			"3": detail("3", "ул. Третья, 3"),
		},
		reports: map[string]string{"1": "https://docs/1.pdf"},
	}
	ex := &fakeExtractor{}
	rec := &recorder{}
	c, _ := newTestCrawler(t, m, ex, rec)

	if _, err := c.ProcessPage(context.Background(), domain.Nonresidential, 1); err != nil {
		t.Fatalf("ProcessPage: %v", err)
	}
	if len(rec.tasks) != 2 || rec.tasks[0].Name != "persist" || rec.tasks[1].Name != "assets" {
		t.Fatalf("dispatched %v", rec.tasks)
	}

	if len(ex.paths) != 1 || !ex.exists[0] {
		t.Fatalf("extractor saw %v (exists %v)", ex.paths, ex.exists)
	}
	if _, err := os.Stat(ex.paths[0]); !os.IsNotExist(err) {
		t.Fatal("report should be removed after extraction")
	}
	if filepath.Base(ex.paths[0]) != "1.pdf" {
		t.Fatalf("report path = %s", ex.paths[0])
	}

	rec.runAll(t)
	if len(rec.upserted) != 2 || len(rec.published) != 2 {
		t.Fatalf("upserted %d, published %d, want 2 each", len(rec.upserted), len(rec.published))
	}
	first := rec.upserted[0]
	if first.TenderID != "1" || first.RegionName == nil || *first.RegionName != "ЦАО" {
		t.Fatalf("first record = %+v", first)
	}
	if first.NonresidentialFields.Ceilings == nil || *first.NonresidentialFields.Ceilings != "3,2" {
		t.Fatalf("ceilings = %v", first.NonresidentialFields.Ceilings)
	}
	if rec.upserted[1].RegionName != nil {
		t.Fatal("tender without report should have no document fields")
	}
	if got := rec.batches[0].Tenders; len(got) != 2 || got[0].TenderID != "1" || got[1].TenderID != "3" {
		t.Fatalf("asset batch tenders = %+v", got)
	}
}

func TestProcessPageSkipsEntityWhenEveryTenderFails(t *testing.T) {
	m := &fakeMarket{
		pages: []pageResult{{page: &domain.ListingPage{Entities: []domain.ListingEntity{
			entity("addr", 1, stub("404", 0)),
		}}}},
	}
	rec := &recorder{}
	c, _ := newTestCrawler(t, m, &fakeExtractor{}, rec)

	n, err := c.ProcessPage(context.Background(), domain.Nonresidential, 1)
	if err != nil || n != 1 {
		t.Fatalf("ProcessPage = %d, %v", n, err)
	}
	if len(rec.tasks) != 0 {
		t.Fatalf("nothing should be dispatched, got %d tasks", len(rec.tasks))
	}
}
