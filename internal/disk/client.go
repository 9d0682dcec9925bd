// Package disk archives tender photos on Yandex Disk and publishes them.
package disk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Operation states reported by the upload status endpoint.
const (
	OperationSuccess    = "success"
	OperationFailed     = "failed"
	OperationInProgress = "in-progress"
)

// Resource is a file or folder on the disk.
type Resource struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Type      string    `json:"type"`
	PublicURL string    `json:"public_url"`
	Embedded  *Embedded `json:"_embedded"`
}

type Embedded struct {
	Items []Resource `json:"items"`
	Total int        `json:"total"`
	Limit int        `json:"limit"`
}

type link struct {
	Href string `json:"href"`
}

type operation struct {
	Status string `json:"status"`
}

// Client is a thin wrapper over the disk REST API. Methods return the HTTP
// status so callers can branch on it; err is set only for transport failures.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	logger  *zap.Logger
}

func NewClient(baseURL, token string, timeout time.Duration, l *zap.Logger) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
		token:   token,
		logger:  l,
	}
}

// CreateFolder creates path. 201 means created, 409 means it already exists.
func (c *Client) CreateFolder(ctx context.Context, path string) (int, error) {
	status, _, err := c.call(ctx, http.MethodPut, c.resourcesURL("", url.Values{"path": {path}}), nil)
	return status, err
}

// GetResource returns path metadata including up to limit embedded items.
func (c *Client) GetResource(ctx context.Context, path string, limit int) (int, *Resource, error) {
	q := url.Values{"path": {path}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var res Resource
	status, _, err := c.call(ctx, http.MethodGet, c.resourcesURL("", q), &res)
	if err != nil || status != http.StatusOK {
		return status, nil, err
	}
	return status, &res, nil
}

// UploadFromURL asks the disk to fetch sourceURL into path. On 202 the returned
// href polls the operation status.
func (c *Client) UploadFromURL(ctx context.Context, sourceURL, path string) (int, string, error) {
	var l link
	status, _, err := c.call(ctx, http.MethodPost, c.resourcesURL("/upload", url.Values{"url": {sourceURL}, "path": {path}}), &l)
	if err != nil {
		return status, "", err
	}
	return status, l.Href, nil
}

// OperationStatus reads the state of an asynchronous upload.
func (c *Client) OperationStatus(ctx context.Context, href string) (string, error) {
	var op operation
	status, _, err := c.call(ctx, http.MethodGet, href, &op)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("operation status: unexpected %d", status)
	}
	return op.Status, nil
}

func (c *Client) Publish(ctx context.Context, path string) (int, error) {
	status, _, err := c.call(ctx, http.MethodPut, c.resourcesURL("/publish", url.Values{"path": {path}}), nil)
	return status, err
}

// Delete removes path permanently.
func (c *Client) Delete(ctx context.Context, path string) (int, error) {
	q := url.Values{"path": {path}, "permanently": {"true"}}
	status, _, err := c.call(ctx, http.MethodDelete, c.resourcesURL("", q), nil)
	return status, err
}

func (c *Client) resourcesURL(suffix string, q url.Values) string {
	return c.baseURL + "/resources" + suffix + "?" + q.Encode()
}

// call performs the request and decodes a 2xx JSON body into out when given.
func (c *Client) call(ctx context.Context, method, rawURL string, out any) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "OAuth "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	if resp.StatusCode >= 300 {
		c.logger.Debug("disk api error",
			zap.String("method", method),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body),
		)
		return resp.StatusCode, body, nil
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, body, fmt.Errorf("decode disk response: %w", err)
		}
	}
	return resp.StatusCode, body, nil
}
