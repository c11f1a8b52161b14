// Package client talks to a running livemarks daemon over its JSON API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"livemarks/internal/livemark"
	"livemarks/internal/server"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx reply from the daemon.
type APIError struct {
	Message    string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var apiErr *APIError

	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client is a thin typed wrapper over the daemon API.
type Client struct {
	http    *http.Client
	baseURL string
}

// New returns a client for the daemon at baseURL. A nil httpClient gets a
// default with a timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Health returns nil when the daemon answers /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// List returns every livemark.
func (c *Client) List(ctx context.Context) ([]livemark.Status, error) {
	var resp server.ListResponse
	if err := c.do(ctx, http.MethodGet, "/livemarks", nil, &resp); err != nil {
		return nil, err
	}

	return resp.Livemarks, nil
}

// Get returns one livemark.
func (c *Client) Get(ctx context.Context, folderID int64) (livemark.Status, error) {
	var status livemark.Status
	err := c.do(ctx, http.MethodGet, livemarkPath(folderID, ""), nil, &status)

	return status, err
}

// Create adds a livemark and returns its folder id.
func (c *Client) Create(ctx context.Context, req server.CreateRequest) (int64, error) {
	var resp server.CreateResponse
	if err := c.do(ctx, http.MethodPost, "/livemarks", req, &resp); err != nil {
		return 0, err
	}

	return resp.FolderID, nil
}

// Remove deletes a livemark folder.
func (c *Client) Remove(ctx context.Context, folderID int64) error {
	return c.do(ctx, http.MethodDelete, livemarkPath(folderID, ""), nil, nil)
}

// Children lists the bookmarks inside a livemark.
func (c *Client) Children(ctx context.Context, folderID int64) ([]server.Child, error) {
	var resp server.ChildrenResponse
	if err := c.do(ctx, http.MethodGet, livemarkPath(folderID, "/children"), nil, &resp); err != nil {
		return nil, err
	}

	return resp.Children, nil
}

// Reload starts a load for one livemark, or for all of them when folderID
// is zero. It returns the number of loads started.
func (c *Client) Reload(ctx context.Context, folderID int64) (int, error) {
	path := "/livemarks/reload"
	if folderID != 0 {
		path = livemarkPath(folderID, "/reload")
	}

	var resp server.ReloadResponse
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return 0, err
	}

	return resp.Started, nil
}

// SetFeed changes the feed URI of a livemark.
func (c *Client) SetFeed(ctx context.Context, folderID int64, uri string) error {
	return c.do(ctx, http.MethodPut, livemarkPath(folderID, "/feed"), server.URIRequest{URI: uri}, nil)
}

// SetSite changes or, with an empty uri, clears the site URI of a livemark.
func (c *Client) SetSite(ctx context.Context, folderID int64, uri string) error {
	return c.do(ctx, http.MethodPut, livemarkPath(folderID, "/site"), server.URIRequest{URI: uri}, nil)
}

// ImportOPML uploads an OPML document. parentID zero means the root folder.
func (c *Client) ImportOPML(ctx context.Context, parentID int64, doc io.Reader) (server.ImportResponse, error) {
	path := "/opml/import"
	if parentID != 0 {
		path += "?" + url.Values{"parent": {strconv.FormatInt(parentID, 10)}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, doc)
	if err != nil {
		return server.ImportResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/x-opml")

	var resp server.ImportResponse
	err = c.send(req, &resp)

	return resp, err
}

// ExportOPML copies the daemon's OPML export to w.
func (c *Client) ExportOPML(ctx context.Context, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/opml/export", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contact daemon: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read export: %w", err)
	}

	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader

	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contact daemon: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}

	var payload server.ErrorResponse

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(raw))
	}

	return &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
}

func livemarkPath(folderID int64, suffix string) string {
	return "/livemarks/" + strconv.FormatInt(folderID, 10) + suffix
}
