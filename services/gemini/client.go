package gemini

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"lumivoice/core"

	"github.com/bytedance/sonic"
)

// DefaultBaseURL is the production generateContent endpoint root.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// DefaultTimeout bounds each provider call. Expiry surfaces as a
// ServiceError with code 0.
const DefaultTimeout = 20 * time.Second

// Client issues generateContent calls for one API key.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	logger  *core.Logger
}

// NewClient builds a client. baseURL and timeout fall back to the production
// endpoint and DefaultTimeout when zero-valued.
func NewClient(apiKey, baseURL string, timeout time.Duration, logger *core.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// GenerateContent posts req to models/<model>:generateContent and decodes the
// response. Transport failures and timeouts come back as a ServiceError with
// code 0; HTTP 401 and 403 map to ErrServiceUnauthenticated; any other
// non-2xx status becomes a ServiceError carrying the status code and the
// provider's error message.
func (c *Client) GenerateContent(ctx context.Context, model string, req *GenerateContentRequest) (*GenerateContentResponse, error) {
	body, err := sonic.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &core.ServiceError{Code: 0, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &core.ServiceError{Code: 0, Message: err.Error()}
	}

	c.logger.Debug("generateContent complete",
		"model", model,
		"status", resp.StatusCode,
		"elapsed_ms", time.Since(start).Milliseconds())

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: status %d", core.ErrServiceUnauthenticated, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Sprintf("unexpected status %d", resp.StatusCode)
		var apiErr apiError
		if err := sonic.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return nil, &core.ServiceError{Code: resp.StatusCode, Message: msg}
	}

	var out GenerateContentResponse
	if err := sonic.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrDecode, err)
	}
	return &out, nil
}
