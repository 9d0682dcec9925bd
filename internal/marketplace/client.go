// Package marketplace talks to the investmoscow tender API.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/user/tender-service/internal/domain"
	"github.com/user/tender-service/internal/proxy"
)

var ErrStatus = errors.New("unexpected response status")

const (
	siteOrigin   = "https://investmoscow.ru"
	tenderStatus = "nsi:tender_status_tender_filter:1"
)

type Options struct {
	SearchURL   string
	DetailURL   string
	RPS         float64
	Timeout     time.Duration
	InsecureTLS bool
}

// Client fetches listing pages, tender details and report documents.
type Client struct {
	http      *http.Client
	searchURL string
	detailURL string
	limiter   *rate.Limiter
	proxies   *proxy.Manager
	validate  *validator.Validate
	logger    *zap.Logger
}

func NewClient(opts Options, pm *proxy.Manager, l *zap.Logger) *Client {
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	return &Client{
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: pm.Transport(opts.InsecureTLS),
		},
		searchURL: opts.SearchURL,
		detailURL: opts.DetailURL,
		limiter:   rate.NewLimiter(limit, 1),
		proxies:   pm,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    l,
	}
}

type searchRequest struct {
	PageNumber                int            `json:"pageNumber"`
	PageSize                  int            `json:"pageSize"`
	OrderBy                   string         `json:"orderBy"`
	OrderAsc                  bool           `json:"orderAsc"`
	ObjectTypes               []string       `json:"objectTypes"`
	TenderStatus              string         `json:"tenderStatus"`
	TimeToPublicTransportStop transportStops `json:"timeToPublicTransportStop"`
}

type transportStops struct {
	NoMatter bool `json:"noMatter"`
}

// SearchTenders fetches one page of active tenders of the category.
func (c *Client) SearchTenders(ctx context.Context, page, size int, category domain.Category) (*domain.ListingPage, error) {
	body, err := json.Marshal(searchRequest{
		PageNumber:                page,
		PageSize:                  size,
		OrderBy:                   "Relevance",
		OrderAsc:                  false,
		ObjectTypes:               []string{fmt.Sprintf("nsi:41:%d", category.ObjectTypeCode())},
		TenderStatus:              tenderStatus,
		TimeToPublicTransportStop: transportStops{NoMatter: true},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.searchURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var listing domain.ListingPage
	if err := c.doJSON(req, &listing); err != nil {
		return nil, fmt.Errorf("search %s page %d: %w", category, page, err)
	}
	return &listing, nil
}

// GetTender fetches and validates the detail payload of one tender.
func (c *Client) GetTender(ctx context.Context, tenderID string) (*domain.TenderDetail, error) {
	u, err := url.Parse(c.detailURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("tenderId", tenderID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	var detail domain.TenderDetail
	if err := c.doJSON(req, &detail); err != nil {
		return nil, fmt.Errorf("tender %s: %w", tenderID, err)
	}
	if err := c.validate.Struct(&detail); err != nil {
		return nil, fmt.Errorf("tender %s: invalid payload: %w", tenderID, err)
	}
	return &detail, nil
}

// DownloadDocument streams a document to path. A partial file is removed on failure.
func (c *Client) DownloadDocument(ctx context.Context, link, path string) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	_, err = io.Copy(f, resp.Body)
	return err
}

func (c *Client) doJSON(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

// do applies rate limiting and browser-like headers, and rejects non-2xx responses.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Language", "ru-RU")
	req.Header.Set("Origin", siteOrigin)
	req.Header.Set("Referer", siteOrigin+"/")
	req.Header.Set("User-Agent", c.proxies.GetUserAgent())
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("marketplace request",
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}
	return resp, nil
}
