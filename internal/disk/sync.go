package disk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/tender-service/internal/domain"
	"github.com/user/tender-service/internal/monitoring"
	"github.com/user/tender-service/pkg/utils"
)

// ErrFolderCheck aborts a run when the category folder can be neither created nor found.
var ErrFolderCheck = errors.New("category folder check failed")

// LinkStore persists the public links of a tender's photos.
type LinkStore interface {
	UpdateImageLinks(ctx context.Context, category domain.Category, tenderID string, links []string) error
}

// LinkCache mirrors the links into cached records.
type LinkCache interface {
	PatchImageLinks(ctx context.Context, tenderID string, links []string) error
}

type Options struct {
	Root           string
	RetryRounds    int
	PollInterval   time.Duration
	PollAttempts   int
	Concurrency    int
	PublicHostFrom string
	PublicHostTo   string
	// ListLimit bounds the folder listing used for publishing and link collection.
	ListLimit int
}

// Batch is one unit of archiving work: the photos of tenders from a single crawl step.
type Batch struct {
	Category domain.Category
	Folder   string
	Tenders  []domain.TenderImages
}

// Synchronizer mirrors listing photos into per-tender folders, publishes them
// and records their public links.
type Synchronizer struct {
	client  *Client
	links   LinkStore
	cache   LinkCache
	opts    Options
	metrics *monitoring.Metrics
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewSynchronizer(c *Client, links LinkStore, cache LinkCache, opts Options, m *monitoring.Metrics, l *zap.Logger) *Synchronizer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = 1
	}
	if opts.ListLimit <= 0 {
		opts.ListLimit = 100
	}
	return &Synchronizer{
		client:  c,
		links:   links,
		cache:   cache,
		opts:    opts,
		metrics: m,
		logger:  l,
		sleep:   sleepContext,
	}
}

type uploadJob struct {
	tenderID string
	image    domain.AttachedImage
	path     string
	href     string
}

// Sync runs the folder check, upload, poll and retry, publish and link phases for a batch.
func (s *Synchronizer) Sync(ctx context.Context, b Batch) error {
	log := s.logger.With(
		zap.String("run_id", uuid.NewString()),
		zap.String("category", b.Category.String()),
		zap.Int("tenders", len(b.Tenders)),
	)
	base := s.basePath(b.Folder)

	jobs, err := s.prepareFolders(ctx, base, b.Tenders, log)
	if err != nil {
		return err
	}

	failed := s.uploadAndPoll(ctx, jobs)
	for round := 1; round <= s.opts.RetryRounds && len(failed) > 0; round++ {
		log.Info("retrying failed uploads", zap.Int("round", round), zap.Int("images", len(failed)))
		failed = s.uploadAndPoll(ctx, failed)
	}
	if len(failed) > 0 {
		s.metrics.AddImageUploads("abandoned", len(failed))
		for _, j := range failed {
			log.Warn("image upload abandoned", zap.String("tender_id", j.tenderID), zap.String("path", j.path))
		}
	}

	for _, t := range b.Tenders {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.publishAndLink(ctx, b.Category, base, t, log)
	}
	return nil
}

// prepareFolders ensures the category folder exists and returns upload jobs for
// tenders whose folder was created in this run.
func (s *Synchronizer) prepareFolders(ctx context.Context, base string, tenders []domain.TenderImages, log *zap.Logger) ([]uploadJob, error) {
	status, err := s.client.CreateFolder(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFolderCheck, base, err)
	}

	var jobs []uploadJob
	switch status {
	case http.StatusCreated:
		for _, t := range tenders {
			jobs = append(jobs, s.createTenderFolder(ctx, base, t, log)...)
		}
	case http.StatusConflict:
		for _, t := range tenders {
			st, _, err := s.client.GetResource(ctx, tenderPath(base, t.TenderID), 1)
			if err != nil {
				log.Error("tender folder lookup failed", zap.String("tender_id", t.TenderID), zap.Error(err))
				continue
			}
			if st != http.StatusNotFound {
				continue
			}
			jobs = append(jobs, s.createTenderFolder(ctx, base, t, log)...)
		}
	default:
		return nil, fmt.Errorf("%w: %s: status %d", ErrFolderCheck, base, status)
	}
	return jobs, nil
}

func (s *Synchronizer) createTenderFolder(ctx context.Context, base string, t domain.TenderImages, log *zap.Logger) []uploadJob {
	dir := tenderPath(base, t.TenderID)
	status, err := s.client.CreateFolder(ctx, dir)
	if err != nil || status != http.StatusCreated {
		log.Error("could not create tender folder", zap.String("tender_id", t.TenderID), zap.Int("status", status), zap.Error(err))
		s.metrics.IncErrorsTotal("disk_folder")
		return nil
	}
	jobs := make([]uploadJob, 0, len(t.Images))
	for _, img := range t.Images {
		jobs = append(jobs, uploadJob{tenderID: t.TenderID, image: img, path: dir + "/" + img.FileBase.Name})
	}
	return jobs
}

// uploadAndPoll starts every upload, polls the accepted ones and returns the
// jobs that were rejected or whose operation failed.
func (s *Synchronizer) uploadAndPoll(ctx context.Context, jobs []uploadJob) []uploadJob {
	if len(jobs) == 0 {
		return nil
	}
	var (
		mu     sync.Mutex
		failed []uploadJob
	)
	fail := func(j uploadJob) {
		mu.Lock()
		failed = append(failed, j)
		mu.Unlock()
	}

	accepted := make([]uploadJob, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			status, href, err := s.client.UploadFromURL(gctx, j.image.URL, j.path)
			if err != nil || status != http.StatusAccepted || href == "" {
				s.logger.Debug("upload rejected", zap.String("tender_id", j.tenderID), zap.Int("status", status), zap.Error(err))
				fail(j)
				return nil
			}
			j.href = href
			accepted[i] = j
			return nil
		})
	}
	_ = g.Wait()

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	succeeded := 0
	for _, j := range accepted {
		if j.href == "" {
			continue
		}
		g.Go(func() error {
			switch s.poll(gctx, j.href) {
			case OperationFailed:
				fail(j)
			case OperationSuccess:
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	s.metrics.AddImageUploads("success", succeeded)
	s.metrics.AddImageUploads("failed", len(failed))
	return failed
}

// poll waits for an operation to leave the in-progress state. An operation
// still running after the configured attempts is left to finish on its own.
func (s *Synchronizer) poll(ctx context.Context, href string) string {
	for attempt := 0; attempt < s.opts.PollAttempts; attempt++ {
		if attempt > 0 {
			if err := s.sleep(ctx, s.opts.PollInterval); err != nil {
				return ""
			}
		}
		status, err := s.client.OperationStatus(ctx, href)
		if err != nil {
			s.logger.Debug("operation status unavailable", zap.String("href", href), zap.Error(err))
			continue
		}
		if status != OperationInProgress {
			return status
		}
	}
	return OperationInProgress
}

// publishAndLink publishes every file in the tender folder and stores their public links.
func (s *Synchronizer) publishAndLink(ctx context.Context, category domain.Category, base string, t domain.TenderImages, log *zap.Logger) {
	dir := tenderPath(base, t.TenderID)
	log = log.With(zap.String("tender_id", t.TenderID))

	status, res, err := s.client.GetResource(ctx, dir, s.opts.ListLimit)
	if err != nil || status != http.StatusOK {
		log.Warn("tender folder unavailable for publishing", zap.Int("status", status), zap.Error(err))
		return
	}
	for _, item := range items(res) {
		if item.PublicURL != "" {
			continue
		}
		if st, err := s.client.Publish(ctx, dir+"/"+item.Name); err != nil || st >= 300 {
			log.Warn("publish failed", zap.String("item", item.Name), zap.Int("status", st), zap.Error(err))
		}
	}

	status, res, err = s.client.GetResource(ctx, dir, s.opts.ListLimit)
	if err != nil || status != http.StatusOK {
		log.Warn("could not list published images", zap.Int("status", status), zap.Error(err))
		return
	}
	links := s.collectLinks(res, len(t.Images))
	if len(links) == 0 {
		return
	}

	if err := s.links.UpdateImageLinks(ctx, category, t.TenderID, links); err != nil {
		log.Error("failed to store image links", zap.Error(err))
		s.metrics.IncErrorsTotal("db_links_failed")
		return
	}
	if err := s.cache.PatchImageLinks(ctx, t.TenderID, links); err != nil {
		log.Warn("failed to mirror image links", zap.Error(err))
		s.metrics.IncErrorsTotal("cache_links_failed")
	}
	log.Info("image links stored", zap.Int("links", len(links)))
}

// collectLinks returns at most max non-empty public URLs with the short host rewritten.
func (s *Synchronizer) collectLinks(res *Resource, max int) []string {
	var links []string
	for _, item := range items(res) {
		if item.PublicURL == "" {
			continue
		}
		if len(links) == max {
			break
		}
		links = append(links, utils.ReplaceHost(item.PublicURL, s.opts.PublicHostFrom, s.opts.PublicHostTo))
	}
	return links
}

// RemoveFolders deletes the archive folders of the given tenders. Missing folders are ignored.
func (s *Synchronizer) RemoveFolders(ctx context.Context, folder string, tenderIDs []string) error {
	base := s.basePath(folder)
	var errs []error
	for _, id := range tenderIDs {
		status, err := s.client.Delete(ctx, tenderPath(base, id))
		if err != nil {
			errs = append(errs, fmt.Errorf("delete folder %s: %w", id, err))
			continue
		}
		if status >= 300 && status != http.StatusNotFound {
			errs = append(errs, fmt.Errorf("delete folder %s: status %d", id, status))
		}
	}
	return errors.Join(errs...)
}

func (s *Synchronizer) basePath(folder string) string {
	return s.opts.Root + "/" + folder
}

func tenderPath(base, tenderID string) string {
	return base + "/" + tenderID
}

func items(res *Resource) []Resource {
	if res == nil || res.Embedded == nil {
		return nil
	}
	return res.Embedded.Items
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
