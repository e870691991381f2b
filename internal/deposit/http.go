package deposit

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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	id "balregistry/pkg/domain"
	"balregistry/pkg/platform/sentinel"
)

const (
	// defaultTimeout bounds each deposit call; the remote is outside our
	// control and must never hang a reconciliation.
	defaultTimeout = 30 * time.Second

	userAgent = "balregistry/1.0"

	maxResponseSize = 16 * 1024 * 1024
)

// APIError is a transport-level failure from the deposit service: any non-2xx
// response not specifically translated to a sentinel. The scheduler owns retry
// policy, so the error carries enough to log and nothing more.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("deposit api: %s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("deposit api: %s %s: %d", e.Method, e.Path, e.StatusCode)
}

// HTTPClient implements Client against the real deposit service.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
	tracer  trace.Tracer
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient overrides the underlying http.Client (timeouts, transport).
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		if client != nil {
			c.client = client
		}
	}
}

// NewHTTPClient builds a deposit client for the given base URL. The token is
// sent as a bearer credential on every request.
func NewHTTPClient(baseURL, token string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: defaultTimeout},
		tracer:  otel.Tracer("balregistry/deposit"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Client = (*HTTPClient)(nil)

func (c *HTTPClient) GetHabilitation(ctx context.Context, habID id.HabilitationID) (*Habilitation, error) {
	ctx, span := c.tracer.Start(ctx, "deposit.GetHabilitation",
		trace.WithAttributes(attribute.String("habilitation.id", habID.String())))
	defer span.End()

	var hab Habilitation
	err := c.do(ctx, http.MethodGet, "/habilitations/"+url.PathEscape(habID.String()), nil, &hab)
	if err != nil {
		return nil, err
	}
	return &hab, nil
}

func (c *HTTPClient) CreateHabilitation(ctx context.Context, commune id.CommuneCode) (*Habilitation, error) {
	ctx, span := c.tracer.Start(ctx, "deposit.CreateHabilitation",
		trace.WithAttributes(attribute.String("commune.code", commune.String())))
	defer span.End()

	var hab Habilitation
	path := "/communes/" + url.PathEscape(commune.String()) + "/habilitations"
	if err := c.do(ctx, http.MethodPost, path, nil, &hab); err != nil {
		return nil, err
	}
	return &hab, nil
}

func (c *HTTPClient) SendPinCode(ctx context.Context, habID id.HabilitationID) error {
	ctx, span := c.tracer.Start(ctx, "deposit.SendPinCode")
	defer span.End()

	path := "/habilitations/" + url.PathEscape(habID.String()) + "/authentication/email/send-pin-code"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *HTTPClient) ValidatePinCode(ctx context.Context, habID id.HabilitationID, code string) (*Habilitation, error) {
	ctx, span := c.tracer.Start(ctx, "deposit.ValidatePinCode")
	defer span.End()

	body := map[string]string{"code": code}
	var hab Habilitation
	path := "/habilitations/" + url.PathEscape(habID.String()) + "/authentication/email/validate-pin-code"
	if err := c.doJSON(ctx, http.MethodPost, path, body, &hab); err != nil {
		return nil, err
	}
	return &hab, nil
}

// PublishRevision runs the remote create -> upload -> compute -> publish
// sequence. It is atomic from the engine's point of view: either a published
// (or invalid, unpublished) revision comes back, or an error does.
func (c *HTTPClient) PublishRevision(ctx context.Context, commune id.CommuneCode, blID id.BaseLocaleID, content []byte, habID id.HabilitationID) (*Revision, error) {
	ctx, span := c.tracer.Start(ctx, "deposit.PublishRevision",
		trace.WithAttributes(
			attribute.String("commune.code", commune.String()),
			attribute.String("baselocale.id", blID.String()),
		))
	defer span.End()

	// Create the revision shell.
	var rev Revision
	createBody := map[string]any{
		"context": map[string]string{"baseLocaleId": blID.String()},
	}
	createPath := "/communes/" + url.PathEscape(commune.String()) + "/revisions"
	if err := c.doJSON(ctx, http.MethodPost, createPath, createBody, &rev); err != nil {
		return nil, err
	}

	revPath := "/revisions/" + url.PathEscape(rev.ID.String())

	// Upload the address-data file.
	if err := c.doRaw(ctx, http.MethodPut, revPath+"/files/"+FileTypeBal, content, "text/csv", nil); err != nil {
		return nil, err
	}

	// Compute runs the remote validation and fills in file hashes.
	if err := c.do(ctx, http.MethodPost, revPath+"/compute", nil, &rev); err != nil {
		return nil, err
	}
	if !rev.Validation.Valid {
		// Do not publish invalid content; the engine inspects the verdict.
		return &rev, nil
	}

	publishBody := map[string]string{"habilitationId": habID.String()}
	if err := c.doJSON(ctx, http.MethodPost, revPath+"/publish", publishBody, &rev); err != nil {
		return nil, err
	}
	return &rev, nil
}

func (c *HTTPClient) GetCurrentRevision(ctx context.Context, commune id.CommuneCode) (*Revision, error) {
	ctx, span := c.tracer.Start(ctx, "deposit.GetCurrentRevision",
		trace.WithAttributes(attribute.String("commune.code", commune.String())))
	defer span.End()

	var rev Revision
	path := "/communes/" + url.PathEscape(commune.String()) + "/current-revision"
	err := c.do(ctx, http.MethodGet, path, nil, &rev)
	if err != nil {
		var apiErr *APIError
		// A commune with no published revision is a normal answer, not a failure.
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &rev, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	return c.doRaw(ctx, method, path, payload, "application/json", out)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	return c.doRaw(ctx, method, path, body, "application/json", out)
}

func (c *HTTPClient) doRaw(ctx context.Context, method, path string, body []byte, contentType string, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("deposit api: %s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("deposit api: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Habilitation lookups translate 404 to the not-found sentinel so the
		// engine can pause and surface it as a domain error.
		if resp.StatusCode == http.StatusNotFound && method == http.MethodGet && strings.HasPrefix(path, "/habilitations/") {
			return fmt.Errorf("habilitation: %w", sentinel.ErrNotFound)
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Message:    errorMessage(data),
		}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("deposit api: decode response: %w", err)
		}
	}
	return nil
}

// errorMessage extracts a human-readable message from an error payload,
// falling back to the raw body truncated for log hygiene.
func errorMessage(data []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
