package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pithecene-io/psdweb/iox"
	"github.com/pithecene-io/psdweb/log"
	"github.com/pithecene-io/psdweb/metrics"
	"github.com/pithecene-io/psdweb/types"
)

// Endpoint paths relative to the backend base URL.
const (
	EndpointInit     = "/api/psd-chunks/init"
	EndpointAppend   = "/api/psd-chunks/append"
	EndpointComplete = "/api/psd-chunks/complete"
	EndpointParse    = "/api/parse-psd"
	EndpointConvert  = "/api/convert-psd"
	EndpointValidate = "/api/validate-psd"
)

// MaxResponseBytes is the default cap on how much of a response body is
// read. Parse responses with image data are the largest.
const MaxResponseBytes int64 = 256 << 20

// Config configures the backend client.
type Config struct {
	// BaseURL is the backend origin, e.g. "https://psd.example.com" (required).
	BaseURL string
	// Headers are custom HTTP headers added to each request.
	Headers map[string]string
	// Timeout is the per-request timeout. Zero means no timeout.
	Timeout time.Duration
	// HTTPClient overrides the client used for requests.
	HTTPClient *http.Client
	// MaxResponseBytes caps response bodies. Zero means MaxResponseBytes.
	MaxResponseBytes int64
}

// Client issues requests to the psdweb backend.
// Calls are plain request/response; nothing is retried.
type Client struct {
	baseURL   string
	headers   map[string]string
	http      *http.Client
	maxBody   int64
	collector *metrics.Collector
	logger    *log.Logger
}

// Option configures optional Client collaborators.
type Option func(*Client)

// WithCollector records request counts into c.
func WithCollector(c *metrics.Collector) Option {
	return func(cl *Client) { cl.collector = c }
}

// WithLogger sets the logger used for request failures.
func WithLogger(l *log.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New creates a backend client from the given config.
// Returns an error if the base URL is empty or not http(s).
func New(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("api client requires a base URL")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("base URL must be http or https, got %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	maxBody := cfg.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = MaxResponseBytes
	}

	c := &Client{
		baseURL: base,
		headers: cfg.Headers,
		http:    httpClient,
		maxBody: maxBody,
		logger:  log.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalized backend origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// InitUpload opens a chunked upload session and returns its id.
// A response without uploadId is a failure.
func (c *Client) InitUpload(ctx context.Context, fileName string, expectedSize *int64) (string, error) {
	var resp types.InitUploadResponse
	status, err := c.postJSON(ctx, EndpointInit, types.InitUploadRequest{
		FileName:     fileName,
		ExpectedSize: expectedSize,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.UploadID == "" || !is2xx(status) {
		return "", c.rejected(EndpointInit, status, resp.Error, resp.Message)
	}
	return resp.UploadID, nil
}

// AppendChunk sends one base64-encoded chunk with its index.
func (c *Client) AppendChunk(ctx context.Context, uploadID string, index int, chunkBase64 string) (*types.AppendChunkResponse, error) {
	var resp types.AppendChunkResponse
	status, err := c.postJSON(ctx, EndpointAppend, types.AppendChunkRequest{
		UploadID:    uploadID,
		ChunkBase64: chunkBase64,
		Index:       &index,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success || !is2xx(status) {
		return nil, c.rejected(EndpointAppend, status, resp.Error, resp.Message)
	}
	return &resp, nil
}

// CompleteUpload finalizes a session. On success the response data holds
// the parsed document; a non-PSD payload fails with ErrInvalidSignature.
func (c *Client) CompleteUpload(ctx context.Context, uploadID string) (*types.CompleteUploadResponse, error) {
	var resp types.CompleteUploadResponse
	status, err := c.postJSON(ctx, EndpointComplete, types.CompleteUploadRequest{UploadID: uploadID}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success || !is2xx(status) {
		return nil, c.rejected(EndpointComplete, status, resp.Error, resp.Message)
	}
	return &resp, nil
}

// Parse asks the backend to parse a document given by path or data URL.
func (c *Client) Parse(ctx context.Context, req types.ParseRequest) (*types.ParsedDocument, error) {
	var resp types.ParseResponse
	status, err := c.postJSON(ctx, EndpointParse, req, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success || !is2xx(status) {
		return nil, c.rejected(EndpointParse, status, resp.Error, resp.Message)
	}
	doc, err := types.DecodeDocument(resp.Data)
	if err != nil {
		return nil, c.fail(malformed(EndpointParse, status, err))
	}
	return doc, nil
}

// Convert generates markup for doc. Metadata missing from the response is
// filled from opts.
func (c *Client) Convert(ctx context.Context, doc *types.ParsedDocument, opts types.ConvertOptions) (*types.ConversionResult, error) {
	payload, err := doc.Payload()
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	var resp types.ConvertResponse
	status, err := c.postJSON(ctx, EndpointConvert, types.ConvertRequest{
		PSDData:       payload,
		Framework:     opts.Framework,
		Responsive:    opts.Responsive,
		Semantic:      opts.Semantic,
		Accessibility: opts.Accessibility,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success || !is2xx(status) {
		return nil, c.rejected(EndpointConvert, status, resp.Error, resp.Message)
	}
	return resp.Result(opts), nil
}

// Validate compares the rendered conversion against the source document.
func (c *Client) Validate(ctx context.Context, doc *types.ParsedDocument, conv *types.ConversionResult, opts types.ValidateOptions) (*types.ValidationReport, error) {
	payload, err := doc.Payload()
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	var resp types.ValidateResponse
	status, err := c.postJSON(ctx, EndpointValidate, types.ValidateRequest{
		PSDData:          payload,
		HTMLContent:      conv.HTML,
		CSSContent:       conv.CSS,
		Threshold:        opts.Threshold,
		IncludeDiffImage: opts.IncludeDiffImage,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success || !is2xx(status) {
		return nil, c.rejected(EndpointValidate, status, resp.Error, resp.Message)
	}
	report := resp.ValidationReport
	return &report, nil
}

// postJSON performs a single JSON POST and decodes the reply into out.
// A JSON reply is decoded whatever the status; the caller decides whether
// it is a business failure. Returns the HTTP status.
func (c *Client) postJSON(ctx context.Context, endpoint string, in, out any) (int, error) {
	c.collector.IncRequest(endpoint)

	body, err := json.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("%s: marshal request: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%s: create request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, c.fail(networkError(endpoint, err))
	}
	defer iox.DiscardClose(resp.Body)

	data, err := iox.ReadLimited(resp.Body, c.maxBody)
	if errors.Is(err, iox.ErrTooLarge) {
		return resp.StatusCode, c.fail(malformed(endpoint, resp.StatusCode, err))
	}
	if err != nil {
		return resp.StatusCode, c.fail(networkError(endpoint, err))
	}

	if err := json.Unmarshal(data, out); err != nil {
		if resp.StatusCode == http.StatusRequestEntityTooLarge {
			return resp.StatusCode, c.fail(&Error{
				Kind:   ErrPayloadTooLarge,
				Op:     endpoint,
				Code:   CodePayloadTooLarge,
				Status: resp.StatusCode,
			})
		}
		return resp.StatusCode, c.fail(malformed(endpoint, resp.StatusCode, err))
	}
	return resp.StatusCode, nil
}

func (c *Client) rejected(endpoint string, status int, code, message string) error {
	if code == "" && message == "" && !is2xx(status) {
		message = http.StatusText(status)
	}
	return c.fail(Rejected(endpoint, status, code, message))
}

func (c *Client) fail(e *Error) error {
	c.collector.IncRequestFailure(e.Op)
	fields := map[string]any{
		"endpoint": e.Op,
		"kind":     e.Kind.Error(),
	}
	if e.Status != 0 {
		fields["status"] = e.Status
	}
	if e.Code != "" {
		fields["code"] = e.Code
	}
	c.logger.Warn("backend request failed", fields)
	return e
}

func is2xx(status int) bool {
	return status >= 200 && status < 300
}
