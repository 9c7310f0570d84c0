// Package api is the console's client for the traffic platform's REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joluc/junction-console/pkg/models"
)

// StatusError is returned when the platform answers with a non-2xx status.
// For writes it means the transition was rejected.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the platform.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

type Options struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	base      *url.URL
	client    *http.Client
	userAgent string
	timeout   time.Duration
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("api: base url is required")
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("api: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api: unsupported scheme %q", base.Scheme)
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		base:      base,
		client:    client,
		userAgent: opts.UserAgent,
		timeout:   opts.Timeout,
	}, nil
}

func (c *Client) Junctions(ctx context.Context) ([]models.JunctionSnapshot, error) {
	payload, err := c.fetchJSON(ctx, c.endpoint(nil, "telemetry", "junctions"))
	if err != nil {
		return nil, fmt.Errorf("fetch junctions: %w", err)
	}
	return ExtractJunctions(payload), nil
}

func (c *Client) Vehicles(ctx context.Context) ([]models.VehicleSnapshot, error) {
	payload, err := c.fetchJSON(ctx, c.endpoint(nil, "telemetry", "vehicles"))
	if err != nil {
		return nil, fmt.Errorf("fetch vehicles: %w", err)
	}
	return ExtractVehicles(payload), nil
}

func (c *Client) ActiveSOS(ctx context.Context) ([]models.SOSAlert, error) {
	var alerts []models.SOSAlert
	if err := c.getInto(ctx, c.endpoint(nil, "sos", "active"), &alerts); err != nil {
		return nil, fmt.Errorf("fetch active sos: %w", err)
	}
	return alerts, nil
}

func (c *Client) UpdateSOSStatus(ctx context.Context, id string, update models.SOSStatusUpdate) error {
	if err := c.put(ctx, c.endpoint(nil, "sos", id, "status"), update); err != nil {
		return fmt.Errorf("update sos %s: %w", id, err)
	}
	return nil
}

// Violations lists violations; an empty status lists all of them.
func (c *Client) Violations(ctx context.Context, status string) ([]models.Violation, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	var out []models.Violation
	if err := c.getInto(ctx, c.endpoint(query, "violations/"), &out); err != nil {
		return nil, fmt.Errorf("fetch violations: %w", err)
	}
	return out, nil
}

func (c *Client) ViolationSummary(ctx context.Context) (models.AnalyticsSummary, error) {
	var summary models.AnalyticsSummary
	if err := c.getInto(ctx, c.endpoint(nil, "violations", "analytics", "summary"), &summary); err != nil {
		return models.AnalyticsSummary{}, fmt.Errorf("fetch violation summary: %w", err)
	}
	return summary, nil
}

func (c *Client) UpdateViolationStatus(ctx context.Context, id string, update models.ViolationStatusUpdate) error {
	if err := c.put(ctx, c.endpoint(nil, "violations", id, "status"), update); err != nil {
		return fmt.Errorf("update violation %s: %w", id, err)
	}
	return nil
}

func (c *Client) endpoint(query url.Values, elem ...string) *url.URL {
	u := c.base.JoinPath(elem...)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) do(ctx context.Context, method string, endpoint *url.URL, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Request-ID", uuid.NewString())
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &StatusError{
			Method:     method,
			Path:       endpoint.Path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
		}
	}
	return resp, nil
}

func (c *Client) fetchJSON(ctx context.Context, endpoint *url.URL) (any, error) {
	reqCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.do(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *Client) getInto(ctx context.Context, endpoint *url.URL, out any) error {
	reqCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.do(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) put(ctx context.Context, endpoint *url.URL, body any) error {
	reqCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.do(reqCtx, http.MethodPut, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return nil
}
