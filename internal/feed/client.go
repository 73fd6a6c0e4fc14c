// Package feed fetches seismic events from an FDSN event web service
// (the USGS earthquake catalog by default) as GeoJSON.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/roach88/quakecache/internal/event"
)

const (
	DefaultBaseURL    = "https://earthquake.usgs.gov/fdsnws/event/1/query"
	DefaultPageSize   = 20000 // FDSN service maximum
	DefaultUserAgent  = "quakecache/1.0"
	DefaultTimeout    = 30 * time.Second
	DefaultAttempts   = 4
	DefaultBackoff    = 500 * time.Millisecond
	DefaultMaxBackoff = 10 * time.Second

	queryTimeLayout = "2006-01-02T15:04:05"
	maxBodyBytes    = 256 << 20
)

// Config configures a Client. Zero fields take the defaults above.
type Config struct {
	BaseURL    string
	UserAgent  string
	PageSize   int
	Timeout    time.Duration
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration

	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client

	// OnRequest is called once per HTTP attempt with the status code, or
	// "error" when no response was received.
	OnRequest func(status string)

	Logger *slog.Logger
}

// Client implements the upstream feed: Fetch(start, end) returns every
// event the service reports for that window.
type Client struct {
	cfg    Config
	http   *http.Client
	schema *schema
	logger *slog.Logger
}

// New validates cfg, fills defaults and compiles the payload schema.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("feed base url: %w", err)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = DefaultMaxBackoff
		if cfg.MaxBackoff < cfg.Backoff {
			cfg.MaxBackoff = cfg.Backoff
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(cfg.Timeout)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s, err := newSchema()
	if err != nil {
		return nil, err
	}

	return &Client{cfg: cfg, http: httpClient, schema: s, logger: logger}, nil
}

// Fetch returns all events in the window, paging through the service in
// ascending time order until a short page arrives.
func (c *Client) Fetch(ctx context.Context, start, end time.Time) ([]event.Record, error) {
	var all []event.Record
	for offset := 1; ; offset += c.cfg.PageSize {
		u := c.pageURL(start, end, offset)

		var page []event.Record
		err := retry(ctx, c.cfg.Attempts, c.cfg.Backoff, c.cfg.MaxBackoff, isRetryable, func() error {
			var err error
			page, err = c.get(ctx, u)
			if err != nil && isRetryable(err) {
				c.logger.Warn("feed request failed, retrying", "url", u, "error", err)
			}
			return err
		})
		if err != nil {
			return nil, err
		}

		all = append(all, page...)
		if len(page) < c.cfg.PageSize {
			break
		}
	}

	c.logger.Debug("feed fetch complete",
		"start", start.UTC().Format(time.RFC3339),
		"end", end.UTC().Format(time.RFC3339),
		"records", len(all))
	return all, nil
}

func (c *Client) pageURL(start, end time.Time, offset int) string {
	q := url.Values{}
	q.Set("format", "geojson")
	q.Set("starttime", start.UTC().Format(queryTimeLayout))
	q.Set("endtime", end.UTC().Format(queryTimeLayout))
	q.Set("orderby", "time-asc")
	q.Set("limit", strconv.Itoa(c.cfg.PageSize))
	q.Set("offset", strconv.Itoa(offset))
	return c.cfg.BaseURL + "?" + q.Encode()
}

// get performs a single attempt.
func (c *Client) get(ctx context.Context, u string) ([]event.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &Error{Kind: KindTransport, URL: u, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		c.observe("error")
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Kind: KindTransport, URL: u, Err: err}
	}
	defer resp.Body.Close()
	c.observe(strconv.Itoa(resp.StatusCode))

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &Error{Kind: KindStatus, URL: u, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Kind: KindTransport, URL: u, Err: err}
	}

	if err := c.schema.validate(body); err != nil {
		return nil, &Error{Kind: KindMalformed, URL: u, Err: err}
	}
	records, err := decodePage(body)
	if err != nil {
		return nil, &Error{Kind: KindMalformed, URL: u, Err: err}
	}
	return records, nil
}

func (c *Client) observe(status string) {
	if c.cfg.OnRequest != nil {
		c.cfg.OnRequest(status)
	}
}

func isRetryable(err error) bool {
	fe, ok := err.(*Error)
	return ok && fe.Retryable()
}

// decodePage converts a validated FeatureCollection into records. The whole
// feature becomes the record's attributes; numbers stay json.Number.
func decodePage(body []byte) ([]event.Record, error) {
	var page struct {
		Features *[]map[string]any `json:"features"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&page); err != nil {
		return nil, fmt.Errorf("decode features: %w", err)
	}
	if page.Features == nil {
		return nil, errors.New("missing features")
	}

	records := make([]event.Record, 0, len(*page.Features))
	for i, f := range *page.Features {
		id, _ := f["id"].(string)
		props, _ := f["properties"].(map[string]any)
		num, _ := props["time"].(json.Number)
		ms, err := num.Int64()
		if id == "" || err != nil {
			return nil, fmt.Errorf("feature %d: missing id or properties.time", i)
		}
		records = append(records, event.Record{ID: id, OccurredAt: ms, Attributes: f})
	}
	return records, nil
}
