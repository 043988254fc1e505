package external

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
	"strings"
	"time"

	"github.com/kjannette/freq-response-backend/internal/httputil"
	"github.com/kjannette/freq-response-backend/internal/models"
)

const (
	DefaultBMRSBaseURL = "https://data.elexon.co.uk/bmrs/api/v1"
	freqStreamPath     = "/datasets/FREQ/stream"
	queryTimeLayout    = "2006-01-02T15:04Z"
)

var (
	ErrFetch        = errors.New("fetch frequency data")
	ErrEmptyPayload = errors.New("empty response received from the API")
)

// FetchError is returned once every fetch attempt has failed.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch frequency data after %d attempts: %v", e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// StatusError reports a non-2xx response from the dataset endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("bad response from API: %d", e.StatusCode)
	}
	return fmt.Sprintf("bad response from API: %d: %s", e.StatusCode, e.Body)
}

type BMRSClient struct {
	baseURL    string
	fixedURL   string
	httpClient *http.Client
	retry      httputil.RetryConfig
	onAttempt  func()
	log        *slog.Logger
}

type BMRSOptions struct {
	BaseURL string
	// URL, when set, is fetched as-is and the requested window is ignored.
	URL       string
	Timeout   time.Duration
	Retry     httputil.RetryConfig
	Client    *http.Client
	OnAttempt func()
}

func NewBMRSClient(opts BMRSOptions, log *slog.Logger) *BMRSClient {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBMRSBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	retry := opts.Retry
	if retry.MaxAttempts <= 0 {
		retry = httputil.FixedRetry(3, 5*time.Second)
	}

	return &BMRSClient{
		baseURL:    base,
		fixedURL:   opts.URL,
		httpClient: client,
		retry:      retry,
		onAttempt:  opts.OnAttempt,
		log:        log.With("component", "bmrs"),
	}
}

// StreamURL builds the FREQ stream URL for [from, to).
func (c *BMRSClient) StreamURL(from, to time.Time) string {
	q := url.Values{}
	q.Set("measurementDateTimeFrom", from.UTC().Format(queryTimeLayout))
	q.Set("measurementDateTimeTo", to.UTC().Format(queryTimeLayout))
	return c.baseURL + freqStreamPath + "?" + q.Encode()
}

func (c *BMRSClient) FetchFrequency(ctx context.Context, from, to time.Time) ([]models.Reading, error) {
	if c.fixedURL != "" {
		return c.FetchURL(ctx, c.fixedURL)
	}
	return c.FetchURL(ctx, c.StreamURL(from, to))
}

// FetchURL retrieves readings from rawURL. Transport errors, non-2xx
// statuses, undecodable bodies and empty payloads all count as a failed
// attempt.
func (c *BMRSClient) FetchURL(ctx context.Context, rawURL string) ([]models.Reading, error) {
	cfg := c.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.log.Info("retrying fetch", "attempt", attempt, "delay", delay.String())
	}

	var readings []models.Reading
	tried := 0
	err := httputil.Retry(ctx, cfg, func(attempt int) error {
		tried = attempt
		if c.onAttempt != nil {
			c.onAttempt()
		}
		c.log.Info(fmt.Sprintf("Fetching data (Attempt %d/%d)...", attempt, cfg.MaxAttempts))
		out, err := c.fetchOnce(ctx, rawURL)
		if err != nil {
			c.log.Error("error fetching data", "attempt", attempt, "err", err)
			return err
		}
		readings = out
		return nil
	})
	if err != nil {
		var ae *httputil.AttemptsError
		if errors.As(err, &ae) {
			c.log.Error(fmt.Sprintf("Failed to fetch data after %d attempts.", ae.Attempts))
			return nil, &FetchError{URL: rawURL, Attempts: ae.Attempts, Err: ae.Err}
		}
		return nil, &FetchError{URL: rawURL, Attempts: tried, Err: err}
	}

	c.log.Info("Data fetched successfully.", "readings", len(readings))
	return readings, nil
}

func (c *BMRSClient) fetchOnce(ctx context.Context, rawURL string) ([]models.Reading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, httputil.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	readings, err := decodeReadings(body)
	if err != nil {
		return nil, err
	}
	if len(readings) == 0 {
		return nil, ErrEmptyPayload
	}
	return readings, nil
}

// decodeReadings accepts the stream endpoint's top-level array as well as
// the {"data": [...]} envelope used by the non-stream dataset endpoints.
func decodeReadings(body []byte) ([]models.Reading, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var readings []models.Reading
		if err := json.Unmarshal(trimmed, &readings); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		return readings, nil
	}

	var envelope struct {
		Data []models.Reading `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return envelope.Data, nil
}

// Window returns the [from, to) fetch window ending at the most recent UTC
// midnight at or before now.
func Window(now time.Time, hours int) (from, to time.Time) {
	if hours <= 0 {
		hours = 24
	}
	u := now.UTC()
	to = time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	from = to.Add(-time.Duration(hours) * time.Hour)
	return from, to
}
