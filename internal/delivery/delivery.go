// Package delivery implements the client for the external delivery API, and
// the transient/permanent classification used to decide retry vs.
// dead-letter after a failed send, generalized from the teacher's
// engine.HTTPFetcher (shared http.Client, context-aware requests, scheme
// allow-list, size-limited response, sanitized-URL logging) from a GET fetch
// to a JSON POST send.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/tartampluch/greeter-service/internal/apperr"
	"github.com/tartampluch/greeter-service/internal/config"
)

// maxResponseBytes bounds how much of a delivery API response we ever read.
const maxResponseBytes = 1 << 20

// Result carries the real wire-level outcome of a delivery attempt: the
// HTTP status code the delivery API returned and the (size-limited)
// response body, so callers can persist what actually happened instead of
// a generic error-type bucket.
type Result struct {
	StatusCode int
	Body       string
}

// Client is the contract the worker pool sends through.
type Client interface {
	Send(ctx context.Context, recipient, content string) (Result, error)
}

// HTTPClient POSTs {email, message} to the configured delivery endpoint.
type HTTPClient struct {
	url    string
	client *http.Client
}

// NewHTTPClient builds an HTTPClient against cfg, rejecting non-HTTP(S)
// schemes up front the same way the teacher's HTTPFetcher does.
func NewHTTPClient(cfg config.DeliveryConfig) (*HTTPClient, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.TypeConfig, "invalid delivery URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, apperr.Newf(apperr.TypeConfig, "delivery URL must be http or https, got %q", u.Scheme)
	}

	return &HTTPClient{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type sendBody struct {
	Email   string `json:"email"`
	Message string `json:"message"`
}

// Send POSTs {email, message} and classifies any failure into a Transient
// or Permanent apperr, per §4.H's classification table. The returned Result
// carries the real status code/body the delivery API produced (zero value
// on a transport-level failure that never got a response), so callers can
// persist the true outcome instead of a generic error-type bucket.
func (c *HTTPClient) Send(ctx context.Context, recipient, content string) (Result, error) {
	safeURL := c.url
	if u, err := url.Parse(c.url); err == nil {
		safeURL = u.Scheme + "://" + u.Host + u.Path
	}
	log := slog.With(
		slog.String(config.LogKeyComponent, config.CompDelivery),
		slog.String("url", safeURL),
	)

	payload, err := json.Marshal(sendBody{Email: recipient, Message: content})
	if err != nil {
		return Result{}, apperr.Wrap(err, apperr.TypeInternal, "failed to marshal delivery payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, apperr.Wrap(err, apperr.TypeInternal, "failed to build delivery request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		log.Warn("delivery request failed", slog.String(config.LogKeyError, err.Error()))
		return Result{}, apperr.Wrap(err, classifyNetErr(err), "delivery request failed")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	result := Result{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return result, nil
	}

	transient := Classify(resp.StatusCode, nil)
	kind := apperr.TypePermanent
	if transient {
		kind = apperr.TypeTransient
	}

	log.Warn("delivery API returned error status",
		slog.Int(config.LogKeyStatus, resp.StatusCode),
	)
	return result, apperr.Newf(kind, "delivery API returned status %d", resp.StatusCode).
		WithDetails(result.Body)
}

var transientPattern = regexp.MustCompile(`(?i)network|timeout|econnrefused|etimedout|rate limit|temporarily unavailable`)
var permanentPattern = regexp.MustCompile(`(?i)validation|not found|unauthorized|forbidden|invalid`)

// Classify implements §4.H's classification table: HTTP 5xx and 429 are
// transient; other 4xx are permanent; ambiguous text is classified via the
// pattern tables, defaulting to transient (safer to retry) when neither
// matches.
func Classify(statusCode int, err error) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	if statusCode >= 500 {
		return true
	}
	if statusCode >= 400 {
		return false
	}
	if err == nil {
		return true
	}
	msg := err.Error()
	if permanentPattern.MatchString(msg) {
		return false
	}
	if transientPattern.MatchString(msg) {
		return true
	}
	return true
}

func classifyNetErr(err error) apperr.Type {
	if Classify(0, err) {
		return apperr.TypeTransient
	}
	return apperr.TypePermanent
}
