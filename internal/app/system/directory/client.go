// internal/app/system/directory/client.go
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"
)

// Grant is one access entry on an external resource.
type Grant struct {
	Principal string `json:"principal"`
	Role      string `json:"role"`
	// Inherited grants come from a parent resource and are not directly
	// assigned; the drift previewer excludes them from comparison.
	Inherited bool `json:"inherited"`
}

// API is what the outbox processor and drift previewer consume. The
// concrete Client talks REST/JSON; tests substitute fakes.
type API interface {
	Grant(ctx context.Context, resourceID, principal string) error
	Revoke(ctx context.Context, resourceID, principal string) error
	ListGrants(ctx context.Context, resourceID string) ([]Grant, error)
}

// Config holds directory API connection settings.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	PageSize     int
	Timeout      time.Duration
}

// Client is the REST adapter for the external directory system. It holds a
// cached authenticated HTTP client and no other state; every method is
// safe for concurrent use.
type Client struct {
	base     string
	http     *http.Client
	pageSize int
	log      *zap.Logger
}

// New builds a Client. With a TokenURL configured, requests carry OAuth2
// client-credentials tokens (refreshed transparently); otherwise the plain
// HTTP client is used, which suits test servers.
func New(cfg Config, log *zap.Logger) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	if cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		httpClient = cc.Client(context.Background())
		httpClient.Timeout = cfg.Timeout
	}

	return &Client{
		base:     cfg.BaseURL,
		http:     httpClient,
		pageSize: cfg.PageSize,
		log:      log,
	}
}

// Grant adds a principal to a resource. A response saying the grant already
// exists is success: the desired end state holds.
func (c *Client) Grant(ctx context.Context, resourceID, principal string) error {
	body, err := json.Marshal(map[string]string{"principal": principal, "role": "member"})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/v1/resources/%s/grants", c.base, url.PathEscape(resourceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &RetryableError{Op: "grant", ResourceID: resourceID, Err: err}
	}
	defer drain(resp)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		// Already a member of the resource.
		return nil
	default:
		return &RetryableError{
			Op:         "grant",
			ResourceID: resourceID,
			StatusCode: resp.StatusCode,
			Err:        errors.New(readError(resp)),
		}
	}
}

// Revoke removes a principal from a resource. A not-found response is
// success: already absent is the desired end state.
func (c *Client) Revoke(ctx context.Context, resourceID, principal string) error {
	endpoint := fmt.Sprintf("%s/v1/resources/%s/grants/%s",
		c.base, url.PathEscape(resourceID), url.PathEscape(principal))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &RetryableError{Op: "revoke", ResourceID: resourceID, Err: err}
	}
	defer drain(resp)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return nil
	default:
		return &RetryableError{
			Op:         "revoke",
			ResourceID: resourceID,
			StatusCode: resp.StatusCode,
			Err:        errors.New(readError(resp)),
		}
	}
}

// ListGrants returns every grant on a resource, draining continuation
// tokens before returning. Callers never see partial pages: stopping early
// would make absent-looking members read as drift.
func (c *Client) ListGrants(ctx context.Context, resourceID string) ([]Grant, error) {
	var grants []Grant
	pageToken := ""

	for {
		page, next, err := c.listPage(ctx, resourceID, pageToken)
		if err != nil {
			return nil, err
		}
		grants = append(grants, page...)
		if next == "" {
			return grants, nil
		}
		pageToken = next
	}
}

func (c *Client) listPage(ctx context.Context, resourceID, pageToken string) ([]Grant, string, error) {
	endpoint := fmt.Sprintf("%s/v1/resources/%s/grants", c.base, url.PathEscape(resourceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", err
	}
	q := req.URL.Query()
	q.Set("pageSize", fmt.Sprint(c.pageSize))
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	req.URL.RawQuery = q.Encode()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", &RetryableError{Op: "list", ResourceID: resourceID, Err: err}
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &RetryableError{
			Op:         "list",
			ResourceID: resourceID,
			StatusCode: resp.StatusCode,
			Err:        errors.New(readError(resp)),
		}
	}

	var payload struct {
		Grants        []Grant `json:"grants"`
		NextPageToken string  `json:"nextPageToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, "", &RetryableError{Op: "list", ResourceID: resourceID, Err: err}
	}
	return payload.Grants, payload.NextPageToken, nil
}

func readError(resp *http.Response) string {
	b, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(b) == 0 {
		return resp.Status
	}
	return string(b)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	resp.Body.Close()
}
