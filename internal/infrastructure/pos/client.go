package pos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/erp/posconnector/internal/domain/connector"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

const tracerName = "github.com/erp/posconnector/pos"

// envelope is the root key of every webservice payload
const envelope = "pos"

// ClientConfig holds the settings of one webservice client
type ClientConfig struct {
	// BaseURL is the normalized webservice location
	BaseURL          string
	Key              string
	UserAgent        string
	MaxResponseBytes int64
	// Debug logs request and response bodies
	Debug bool
}

// Client is the HTTP client of one POS webservice. Calls are throttled by
// a limiter shared by every adapter of the backend.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	limiter    ratelimit.Limiter
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewClient creates a webservice client
func NewClient(cfg ClientConfig, httpClient *http.Client, limiter ratelimit.Limiter, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrMissingLocation
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("pos: invalid location %q: %w", cfg.BaseURL, err)
	}
	if limiter == nil {
		limiter = ratelimit.NewUnlimited()
	}
	return &Client{
		config:     cfg,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
	}, nil
}

// request describes one webservice call
type request struct {
	method string
	path   []string
	query  url.Values
	body   any
	// idempotent calls retry on transient statuses
	idempotent bool
}

// response is a decoded webservice reply
type response struct {
	status int
	header http.Header
	body   map[string]any
}

func (c *Client) endpoint(path []string, query url.Values) string {
	escaped := make([]string, len(path))
	for i, p := range path {
		escaped[i] = url.PathEscape(p)
	}
	u := c.config.BaseURL + "/" + strings.Join(escaped, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do performs the call. Transport failures come back as retryable
// network errors, error statuses as *HTTPError.
func (c *Client) do(ctx context.Context, r request) (*response, error) {
	endpoint := c.endpoint(r.path, r.query)
	ctx, span := c.tracer.Start(ctx, "pos "+r.method, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", r.method),
			attribute.String("pos.resource", r.path[0]),
		))
	defer span.End()

	resp, err := c.roundTrip(ctx, endpoint, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.status))
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, endpoint string, r request) (*response, error) {
	var payload io.Reader
	var raw []byte
	if r.body != nil {
		var err error
		raw, err = json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("pos: encode request: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, payload)
	if err != nil {
		return nil, fmt.Errorf("pos: failed to create request: %w", err)
	}
	req.SetBasicAuth(c.config.Key, "")
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.limiter.Take()
	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, connector.NewRetryableNetworkError(fmt.Errorf("%w: %v", connector.ErrAdapterUnavailable, err))
	}
	defer resp.Body.Close()

	limit := c.config.MaxResponseBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, connector.NewRetryableNetworkError(fmt.Errorf("%w: read response: %v", connector.ErrAdapterUnavailable, err))
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: response larger than %d bytes", connector.ErrAdapterInvalidResponse, limit)
	}

	if c.config.Debug {
		c.logger.Debug("POS webservice call",
			zap.String("method", r.method),
			zap.String("url", req.URL.Redacted()),
			zap.ByteString("request", raw),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("response", body),
			zap.Duration("duration", time.Since(started)),
		)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, classifyStatus(resp, body, r.idempotent)
	}

	out := &response{status: resp.StatusCode, header: resp.Header}
	if len(bytes.TrimSpace(body)) == 0 || r.method == http.MethodHead {
		return out, nil
	}
	decoded, err := decodeBody(body)
	if err != nil {
		return nil, err
	}
	out.body = decoded
	return out, nil
}

// decodeBody decodes a JSON object, keeping numbers exact. An empty JSON
// array is what the webservice sends for an empty result.
func decodeBody(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", connector.ErrAdapterInvalidResponse, err)
	}
	switch t := v.(type) {
	case map[string]any:
		return t, nil
	case []any:
		if len(t) == 0 {
			return map[string]any{}, nil
		}
	}
	return nil, fmt.Errorf("%w: expected a JSON object", connector.ErrAdapterInvalidResponse)
}

// unwrap returns the content of the "pos" envelope, or the body itself
// when there is none.
func unwrap(body map[string]any) map[string]any {
	inner, ok := body[envelope].(map[string]any)
	if !ok {
		return body
	}
	return inner
}

// single returns the only node of an unwrapped body, e.g. the "customer"
// object of {"pos": {"customer": {...}}}.
func single(body map[string]any) (connector.Record, error) {
	inner := unwrap(body)
	if len(inner) == 1 {
		for _, v := range inner {
			if node, ok := v.(map[string]any); ok {
				return connector.Record(node), nil
			}
		}
	}
	if inner == nil {
		return nil, fmt.Errorf("%w: empty response", connector.ErrAdapterInvalidResponse)
	}
	return connector.Record(inner), nil
}
