// Package httpadapter translates an (action, params) pair into a
// concrete upstream HTTP request, and executes it under a timeout with
// conditional retry and exponential backoff with jitter.
package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/opal-lang/tenantctl/internal/controlerr"
	"github.com/opal-lang/tenantctl/internal/invariant"
)

// Result is the outcome of a successful upstream call.
type Result struct {
	Data any
}

// Config configures one Adapter instance.
type Config struct {
	HTTPClient     *http.Client
	ResponseFormat string // e.g. "1.8.0"; must be valid semver
	Timeout        time.Duration
	MaxRetries     int
	RetryBase      time.Duration
	RetryMax       time.Duration
	RetryableStatus map[int]bool
}

var defaultRetryableStatus = map[int]bool{
	408: true, 425: true, 429: true, 500: true, 502: true, 503: true, 504: true,
}

// Adapter translates actions to upstream requests and executes them.
type Adapter struct {
	cfg Config
}

// NewAdapter validates cfg and fills in defaults for zero fields.
// Construction fails fast if ResponseFormat is not well-formed semver —
// a malformed configured value would otherwise only be discovered on
// the first live request.
func NewAdapter(cfg Config) (*Adapter, error) {
	if cfg.ResponseFormat == "" {
		cfg.ResponseFormat = "1.8.0"
	}
	if !semver.IsValid("v" + cfg.ResponseFormat) {
		return nil, controlerr.New(controlerr.CodeValidationError, "httpadapter: response format %q is not valid semver", cfg.ResponseFormat)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 5 * time.Second
	}
	if cfg.RetryableStatus == nil {
		cfg.RetryableStatus = defaultRetryableStatus
	}
	return &Adapter{cfg: cfg}, nil
}

// Operation is the minimal operation shape the adapter needs.
type Operation struct {
	Action         string
	Params         map[string]any
	IdempotencyKey string
}

// AuthContext carries the endpoint, api key, and declared scopes for
// one call.
type AuthContext struct {
	Endpoint string
	APIKey   string
	Scopes   []string
}

// Complete reports whether endpoint and api_key are both present, the
// precondition for dispatching any request under this context.
func (a AuthContext) Complete() bool {
	return a.Endpoint != "" && a.APIKey != ""
}

// request is the pure-function output of building a request from
// (action, params), before any network activity happens.
type request struct {
	method      string
	path        string
	body        any // JSON body, or nil
	multipart   *multipartBody
	query       url.Values
	omitProject bool
}

type multipartBody struct {
	fields map[string]string
	fileField string
	fileName  string
	fileBytes []byte
}

// Execute builds a request for (target, operation), then runs it to
// completion with the retry/backoff policy, under ctx.
func (a *Adapter) Execute(ctx context.Context, targetProjectID string, op Operation, auth AuthContext) (Result, error) {
	invariant.ContextNotBackground(ctx, "httpadapter.Execute")

	req, err := buildRequest(op.Action, op.Params)
	if err != nil {
		return Result{}, err
	}

	retryable := req.method == http.MethodGet || op.IdempotencyKey != ""
	maxAttempts := 1 + a.cfg.MaxRetries
	if !retryable {
		maxAttempts = 1
	}

	var lastErr error
	var lastRetryTrigger bool
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, controlerr.Internal(false, "httpadapter: canceled before attempt %d: %v", attempt, err)
		}

		result, retryTrigger, err := a.attempt(ctx, targetProjectID, req, auth)
		if err == nil {
			return result, nil
		}
		lastErr = err
		lastRetryTrigger = retryTrigger
		if !retryable || !retryTrigger || attempt == maxAttempts {
			break
		}
		if waitErr := a.sleepBackoff(ctx, attempt); waitErr != nil {
			return Result{}, controlerr.Internal(false, "httpadapter: canceled during backoff: %v", waitErr)
		}
	}

	if ce, ok := controlerr.As(lastErr); ok {
		return Result{}, ce
	}
	return Result{}, controlerr.Internal(lastRetryTrigger, "httpadapter: request failed: %v", lastErr)
}

// attempt runs one HTTP round trip. The bool return reports whether the
// failure (if any) is the kind the retry loop should act on.
func (a *Adapter) attempt(ctx context.Context, targetProjectID string, req request, auth AuthContext) (Result, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	httpReq, err := a.toHTTPRequest(attemptCtx, targetProjectID, req, auth)
	if err != nil {
		return Result{}, false, err
	}

	resp, err := a.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		if attemptCtx.Err() != nil {
			return Result{}, true, fmt.Errorf("timeout or cancellation: %w", err)
		}
		return Result{}, true, fmt.Errorf("transport error: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	parsed := parseBody(body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Result{Data: parsed}, false, nil
	}

	retryTrigger := a.cfg.RetryableStatus[resp.StatusCode]
	msg := fmt.Sprintf("Appwrite %d", resp.StatusCode)
	if m, ok := upstreamMessage(parsed); ok {
		msg = fmt.Sprintf("Appwrite %d: %s", resp.StatusCode, m)
	}
	return Result{}, retryTrigger, controlerr.Internal(retryTrigger, "%s", msg)
}

func upstreamMessage(parsed any) (string, bool) {
	obj, ok := parsed.(map[string]any)
	if !ok {
		return "", false
	}
	m, ok := obj["message"].(string)
	return m, ok
}

func parseBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return map[string]any{"raw": string(body)}
	}
	return v
}

func (a *Adapter) toHTTPRequest(ctx context.Context, targetProjectID string, req request, auth AuthContext) (*http.Request, error) {
	fullURL := strings.TrimRight(auth.Endpoint, "/") + req.path
	if len(req.query) > 0 {
		fullURL += "?" + req.query.Encode()
	}

	var bodyReader io.Reader
	contentType := ""

	switch {
	case req.multipart != nil:
		buf := &bytes.Buffer{}
		w := multipart.NewWriter(buf)
		for k, v := range req.multipart.fields {
			if err := w.WriteField(k, v); err != nil {
				return nil, controlerr.New(controlerr.CodeInternalError, "httpadapter: writing multipart field %q: %v", k, err)
			}
		}
		if req.multipart.fileField != "" {
			fw, err := w.CreateFormFile(req.multipart.fileField, req.multipart.fileName)
			if err != nil {
				return nil, controlerr.New(controlerr.CodeInternalError, "httpadapter: creating multipart file field: %v", err)
			}
			if _, err := fw.Write(req.multipart.fileBytes); err != nil {
				return nil, controlerr.New(controlerr.CodeInternalError, "httpadapter: writing multipart file content: %v", err)
			}
		}
		if err := w.Close(); err != nil {
			return nil, controlerr.New(controlerr.CodeInternalError, "httpadapter: closing multipart writer: %v", err)
		}
		bodyReader = buf
		contentType = w.FormDataContentType()
	case req.body != nil:
		encoded, err := json.Marshal(req.body)
		if err != nil {
			return nil, controlerr.New(controlerr.CodeInternalError, "httpadapter: encoding request body: %v", err)
		}
		bodyReader = bytes.NewReader(encoded)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, fullURL, bodyReader)
	if err != nil {
		return nil, controlerr.New(controlerr.CodeInternalError, "httpadapter: building request: %v", err)
	}

	httpReq.Header.Set("X-Appwrite-Key", auth.APIKey)
	httpReq.Header.Set("X-Appwrite-Response-Format", a.cfg.ResponseFormat)
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if !req.omitProject {
		httpReq.Header.Set("X-Appwrite-Project", targetProjectID)
	}

	return httpReq, nil
}

func (a *Adapter) sleepBackoff(ctx context.Context, attempt int) error {
	delay := backoffDelay(a.cfg.RetryBase, a.cfg.RetryMax, attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// backoffDelay implements min(base*2^(n-1), max) + uniform_jitter[0, 25% of base).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	exp := base << (attempt - 1)
	if exp > max || exp <= 0 {
		exp = max
	}
	jitter := time.Duration(rand.Int63n(int64(base)/4 + 1))
	return exp + jitter
}
