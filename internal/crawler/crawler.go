// Package crawler pages through marketplace listings and drives enrichment of every tender.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/user/tender-service/internal/disk"
	"github.com/user/tender-service/internal/domain"
	"github.com/user/tender-service/internal/enrich"
	"github.com/user/tender-service/internal/monitoring"
	"github.com/user/tender-service/internal/worker"
)

// Marketplace is the remote tender source.
type Marketplace interface {
	SearchTenders(ctx context.Context, page, size int, category domain.Category) (*domain.ListingPage, error)
	GetTender(ctx context.Context, tenderID string) (*domain.TenderDetail, error)
	EvaluationReportLink(d *domain.TenderDetail) string
	DownloadDocument(ctx context.Context, link, path string) error
}

type FieldExtractor interface {
	ExtractFile(path string) map[string]string
}

type TenderStore interface {
	UpsertTenders(ctx context.Context, tenders []*domain.Tender) error
}

type TenderCache interface {
	PublishTenders(ctx context.Context, tenders []*domain.Tender) error
}

type AssetSyncer interface {
	Sync(ctx context.Context, b disk.Batch) error
}

// Dispatcher accepts background work. *worker.Pool satisfies it.
type Dispatcher interface {
	Submit(ctx context.Context, t worker.Task) error
}

type Options struct {
	StartPage    int
	PageSize     int
	PageInterval time.Duration
	ErrorBackoff time.Duration
	ReportsDir   string
	// Folders maps a category to its archive folder name.
	Folders map[domain.Category]string
}

// Crawler owns the per-category crawl loop.
type Crawler struct {
	market    Marketplace
	extractor FieldExtractor
	rules     *enrich.Rules
	store     TenderStore
	cache     TenderCache
	assets    AssetSyncer
	tasks     Dispatcher
	opts      Options
	metrics   *monitoring.Metrics
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewCrawler(mp Marketplace, ex FieldExtractor, rules *enrich.Rules, store TenderStore, cache TenderCache,
	assets AssetSyncer, tasks Dispatcher, opts Options, m *monitoring.Metrics, l *zap.Logger) *Crawler {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	return &Crawler{
		market:    mp,
		extractor: ex,
		rules:     rules,
		store:     store,
		cache:     cache,
		assets:    assets,
		tasks:     tasks,
		opts:      opts,
		metrics:   m,
		logger:    l,
		sleep:     sleepContext,
	}
}

// Run crawls category pages until an empty page is seen. Fetch errors back off
// and retry the same page.
func (c *Crawler) Run(ctx context.Context, category domain.Category) error {
	log := c.logger.With(zap.String("category", category.String()))
	page := c.opts.StartPage
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := c.ProcessPage(ctx, category, page)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("failed to process listing page", zap.Int("page", page), zap.Error(err))
			c.metrics.IncPages(category.String(), "failed")
			c.metrics.IncErrorsTotal("listing_failed")
			if err := c.sleep(ctx, c.opts.ErrorBackoff); err != nil {
				return err
			}
			continue
		}
		if n == 0 {
			log.Info("caught up, no more tenders", zap.Int("page", page))
			c.metrics.IncPages(category.String(), "empty")
			return nil
		}
		log.Info("listing page processed", zap.Int("page", page), zap.Int("entities", n))
		c.metrics.IncPages(category.String(), "ok")
		page++
		if err := c.sleep(ctx, c.opts.PageInterval); err != nil {
			return err
		}
	}
}

// RunEvery repeats Run with the given pause until ctx is cancelled.
func (c *Crawler) RunEvery(ctx context.Context, category domain.Category, interval time.Duration) {
	for {
		if err := c.Run(ctx, category); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("crawl stopped", zap.String("category", category.String()), zap.Error(err))
		}
		if err := c.sleep(ctx, interval); err != nil {
			return
		}
	}
}

// ProcessPage fetches one listing page and processes each entity in turn.
// It returns the number of entities on the page.
func (c *Crawler) ProcessPage(ctx context.Context, category domain.Category, page int) (int, error) {
	listing, err := c.market.SearchTenders(ctx, page, c.opts.PageSize, category)
	if err != nil {
		return 0, fmt.Errorf("search page %d: %w", page, err)
	}
	for i := range listing.Entities {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		c.processEntity(ctx, category, listing.Entities[i])
	}
	return len(listing.Entities), nil
}

func (c *Crawler) processEntity(ctx context.Context, category domain.Category, e domain.ListingEntity) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic while processing entity", zap.String("address", e.ObjectAddress), zap.Any("panic", r))
			c.metrics.IncErrorsTotal("entity_panic")
		}
	}()

	var tenders []*domain.Tender
	var images []domain.TenderImages
	switch {
	case category.Grouped():
		if len(e.Tenders) == 0 {
			return
		}
		stub := e.Tenders[0]
		if e.Count > 1 {
			stub = e.Tenders[SelectRepresentative(e.Tenders, c.rules.ParseArea)]
		}
		listing := enrich.Listing{
			Address:      e.ObjectAddress,
			RegionName:   stub.RegionName,
			DistrictName: stub.DistrictName,
			Count:        e.Count,
		}
		if t, img, ok := c.enrichTender(ctx, category, stub.ID.String(), listing); ok {
			tenders = append(tenders, t)
			images = append(images, img)
		}
	default:
		for _, stub := range e.Tenders {
			id := stub.ID.String()
			if id == "" {
				c.logger.Error("tender without id", zap.String("address", e.ObjectAddress))
				continue
			}
			if t, img, ok := c.enrichTender(ctx, category, id, enrich.Listing{}); ok {
				tenders = append(tenders, t)
				images = append(images, img)
			}
		}
	}
	if len(tenders) == 0 {
		return
	}
	c.dispatch(ctx, category, tenders, images)
}

// enrichTender builds the record for one tender. Failures are logged and reported as !ok.
func (c *Crawler) enrichTender(ctx context.Context, category domain.Category, id string, listing enrich.Listing) (_ *domain.Tender, _ domain.TenderImages, ok bool) {
	log := c.logger.With(zap.String("category", category.String()), zap.String("tender_id", id))
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while enriching tender", zap.Any("panic", r))
			c.metrics.IncTenders(category.String(), "failed")
			ok = false
		}
	}()

	detail, err := c.market.GetTender(ctx, id)
	if err != nil {
		log.Error("failed to fetch tender", zap.Error(err))
		c.metrics.IncTenders(category.String(), "failed")
		return nil, domain.TenderImages{}, false
	}

	var doc *domain.DocumentFields
	if category == domain.Nonresidential {
		doc = c.documentFields(ctx, id, detail, log)
	}

	t := c.rules.Build(enrich.Input{
		Category: category,
		Detail:   detail,
		Document: doc,
		Listing:  listing,
	})
	c.metrics.IncTenders(category.String(), "ok")
	return t, domain.TenderImages{TenderID: t.TenderID, Images: detail.ImageInfo.AttachedImages}, true
}

// documentFields downloads the evaluation report, extracts its labels and
// removes the local copy. A missing report yields nil.
func (c *Crawler) documentFields(ctx context.Context, id string, detail *domain.TenderDetail, log *zap.Logger) *domain.DocumentFields {
	link := c.market.EvaluationReportLink(detail)
	if link == "" {
		log.Warn("no evaluation report link")
		return nil
	}
	path := filepath.Join(c.opts.ReportsDir, id+".pdf")
	defer os.Remove(path)

	if err := c.market.DownloadDocument(ctx, link, path); err != nil {
		log.Error("failed to download evaluation report", zap.Error(err))
		c.metrics.IncErrorsTotal("report_download")
		return nil
	}
	fields := enrich.DocumentFieldsFromLabels(c.extractor.ExtractFile(path))
	return &fields
}

// dispatch hands the batch to background workers without waiting for them.
func (c *Crawler) dispatch(ctx context.Context, category domain.Category, tenders []*domain.Tender, images []domain.TenderImages) {
	persist := worker.Task{Name: "persist", Run: func(ctx context.Context) error {
		if err := c.store.UpsertTenders(ctx, tenders); err != nil {
			c.metrics.IncErrorsTotal("db_save_failed")
			return fmt.Errorf("upsert %d tenders: %w", len(tenders), err)
		}
		if err := c.cache.PublishTenders(ctx, tenders); err != nil {
			c.logger.Warn("failed to publish tenders to cache", zap.Error(err))
			c.metrics.IncErrorsTotal("cache_publish_failed")
		}
		return nil
	}}
	batch := disk.Batch{Category: category, Folder: c.opts.Folders[category], Tenders: images}
	assets := worker.Task{Name: "assets", Run: func(ctx context.Context) error {
		return c.assets.Sync(ctx, batch)
	}}

	for _, t := range []worker.Task{persist, assets} {
		if err := c.tasks.Submit(ctx, t); err != nil {
			c.logger.Error("failed to dispatch background task", zap.String("task", t.Name), zap.Error(err))
			c.metrics.IncTask(t.Name, "rejected")
		}
	}
}

// SelectRepresentative returns the index of the stub with the smallest object
// area as read by area. Ties keep the earliest stub.
func SelectRepresentative(stubs []domain.TenderStub, area func(string) float64) int {
	best := 0
	bestArea := area(stubs[0].ObjectArea.String())
	for i := 1; i < len(stubs); i++ {
		if a := area(stubs[i].ObjectArea.String()); a < bestArea {
			best, bestArea = i, a
		}
	}
	return best
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
