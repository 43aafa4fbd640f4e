// Package frontapi talks to the analytics backend's job endpoints using the
// browser session's cookies.
package frontapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/dm-alt/USM-scripts/pkg/errs"
	"github.com/dm-alt/USM-scripts/pkg/logging"
	"github.com/dm-alt/USM-scripts/pkg/models"
	"github.com/dm-alt/USM-scripts/pkg/tracing"
)

const (
	DefaultCSRFCookie = "front.csrf"
	DefaultCSRFHeader = "x-front-xsrf"
	DefaultTimeout    = 30 * time.Second

	// ReportTypeWorkload is the report type of every derived job.
	ReportTypeWorkload = "workload"

	maxBodyBytes = 8 << 20
)

// HourlyMetrics are the metrics requested from every derived job, in order.
var HourlyMetrics = []string{
	"ticket_avg_resolution_time_graph",
	"response_graph",
	"first_response_graph",
}

// Config configures a Client
type Config struct {
	Origin        string  // e.g. https://app.frontapp.com; resolves relative endpoints and scopes cookies
	SessionCookie string  // Cookie header value copied from the browser session
	CSRFCookie    string  // cookie carrying the CSRF token
	CSRFHeader    string  // header the CSRF token is echoed in
	Timeout       time.Duration
	RateLimit     float64 // requests per second, 0 disables limiting
	Burst         int

	Transport http.RoundTripper // e.g. an observe.Transport
	Tracer    *tracing.Provider
	Logger    *logging.Logger
}

// Client manages communication with the analytics backend
type Client struct {
	origin     *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	csrfCookie string
	csrfHeader string
	tracer     *tracing.Provider
	logger     *logging.Logger
}

// NewClient creates a new backend client
func NewClient(cfg Config) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	var origin *url.URL
	if cfg.Origin != "" {
		origin, err = url.Parse(cfg.Origin)
		if err != nil || origin.Scheme == "" || origin.Host == "" {
			return nil, fmt.Errorf("invalid backend origin %q", cfg.Origin)
		}
		if cookies := parseCookieHeader(cfg.SessionCookie); len(cookies) > 0 {
			jar.SetCookies(origin, cookies)
		}
	}

	if cfg.CSRFCookie == "" {
		cfg.CSRFCookie = DefaultCSRFCookie
	}
	if cfg.CSRFHeader == "" {
		cfg.CSRFHeader = DefaultCSRFHeader
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		origin: origin,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Jar:       jar,
			Transport: cfg.Transport,
		},
		limiter:    limiter,
		csrfCookie: cfg.CSRFCookie,
		csrfHeader: cfg.CSRFHeader,
		tracer:     cfg.Tracer,
		logger:     cfg.Logger,
	}, nil
}

// HTTPClient returns the underlying client, shared with the cookie jar.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// FetchJob retrieves the job <endpoint>/<id>. Transport failures and
// non-2xx responses are reported as errs.KindNetwork.
func (c *Client) FetchJob(ctx context.Context, endpoint, id string) (*models.Job, error) {
	ctx, span := c.tracer.StartSpan(ctx, "frontapi.fetch_job", attribute.String("job.id", id))
	defer span.End()

	target, err := c.resolve(endpoint, id)
	if err != nil {
		return nil, errs.New(errs.KindNetwork, "fetch_job", "invalid job endpoint", err)
	}

	body, status, err := c.do(ctx, http.MethodGet, target, nil)
	if err != nil {
		tracing.SetError(ctx, err)
		return nil, errs.New(errs.KindNetwork, "fetch_job", fmt.Sprintf("failed to fetch job %s", id), err)
	}
	if status < 200 || status > 299 {
		err := errs.New(errs.KindNetwork, "fetch_job",
			fmt.Sprintf("fetch job %s failed: %s", id, snippet(body)), nil).WithStatus(status)
		tracing.SetError(ctx, err)
		return nil, err
	}

	job, err := models.DecodeJob(id, endpoint, body)
	if err != nil {
		return nil, errs.New(errs.KindNetwork, "fetch_job", "unreadable job response", err)
	}

	c.logger.Debug("fetched job", logging.Fields{"job_id": id, "status": string(job.Status)})
	return job, nil
}

// CreateJob submits a derived job to endpoint and returns its id. A non-2xx
// response or a response without an id is reported as errs.KindJobCreation.
func (c *Client) CreateJob(ctx context.Context, endpoint string, payload *models.JobRequest) (string, error) {
	ctx, span := c.tracer.StartSpan(ctx, "frontapi.create_job")
	defer span.End()

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job request: %w", err)
	}

	target, err := c.resolve(endpoint, "")
	if err != nil {
		return "", errs.New(errs.KindJobCreation, "create_job", "invalid submission endpoint", err)
	}

	body, status, err := c.do(ctx, http.MethodPost, target, data)
	if err != nil {
		tracing.SetError(ctx, err)
		return "", errs.New(errs.KindJobCreation, "create_job", "failed to submit job", err)
	}
	if status < 200 || status > 299 {
		err := errs.New(errs.KindJobCreation, "create_job",
			fmt.Sprintf("job creation rejected: %s", snippet(body)), nil).WithStatus(status)
		tracing.SetError(ctx, err)
		return "", err
	}

	id, err := models.DecodeCreatedJobID(body)
	if err != nil {
		return "", errs.New(errs.KindJobCreation, "create_job", "no job id in response", err)
	}

	span.SetAttributes(attribute.String("job.id", id))
	c.logger.Debug("created job", logging.Fields{"job_id": id, "endpoint": endpoint})
	return id, nil
}

// CSRFToken returns the CSRF cookie value for target, or "" when absent.
func (c *Client) CSRFToken(target *url.URL) string {
	for _, ck := range c.httpClient.Jar.Cookies(target) {
		if ck.Name == c.csrfCookie {
			return ck.Value
		}
	}
	return ""
}

func (c *Client) do(ctx context.Context, method string, target *url.URL, payload []byte) ([]byte, int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, fmt.Errorf("rate limiter: %w", err)
		}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet && method != http.MethodHead {
		// Missing cookie means an empty header, the backend decides.
		req.Header.Set(c.csrfHeader, c.CSRFToken(target))
	}
	tracing.InjectHTTPHeaders(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return data, resp.StatusCode, nil
}

// resolve joins endpoint and an optional id, resolving relative endpoints
// against the configured origin.
func (c *Client) resolve(endpoint, id string) (*url.URL, error) {
	raw := strings.TrimRight(endpoint, "/")
	if id != "" {
		raw += "/" + url.PathEscape(id)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.IsAbs() {
		return u, nil
	}
	if c.origin == nil {
		return nil, fmt.Errorf("relative endpoint %q without a configured origin", endpoint)
	}
	return c.origin.ResolveReference(u), nil
}

// parseCookieHeader parses a "name=value; name2=value2" header value.
func parseCookieHeader(header string) []*http.Cookie {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}
	r := &http.Request{Header: http.Header{"Cookie": {header}}}
	return r.Cookies()
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "empty body"
	}
	return s
}
