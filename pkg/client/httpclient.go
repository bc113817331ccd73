package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	apperrors "herenow/pkg/errors"
)

// HttpClient talks to the proximity API and unwraps its {"data": ...} and
// {"error": {...}} envelopes.
type HttpClient struct {
	BaseURL    string
	HTTPClient *http.Client
	token      func() string
}

func NewHttpClient(baseURL string, token func() string) *HttpClient {
	return &HttpClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		token: token,
	}
}

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *apperrors.ErrorBody `json:"error"`
}

func (c *HttpClient) Get(ctx context.Context, path string, query url.Values, out any) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

func (c *HttpClient) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

func (c *HttpClient) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out)
}

// Do sends the request and decodes the data member into out. Non-2xx
// responses come back as *apperrors.AppError carrying the server's code;
// transport failures come back as SERVICE_UNAVAILABLE.
func (c *HttpClient) Do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != nil {
		if token := c.token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return apperrors.Unavailable("Proximity API", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.Unavailable("Proximity API", fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
		if resp.StatusCode >= http.StatusBadRequest {
			return apperrors.New(apperrors.CodeInternal, http.StatusText(resp.StatusCode), resp.StatusCode)
		}
		return nil
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return toAppError(resp.StatusCode, env.Error)
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

func toAppError(status int, body *apperrors.ErrorBody) *apperrors.AppError {
	if body == nil {
		return apperrors.New(apperrors.CodeInternal, http.StatusText(status), status)
	}

	appErr := apperrors.New(body.Code, body.Message, status).WithDetails(body.Details)
	// JSON numbers decode as float64; RetryAfter expects int64 milliseconds.
	if ms, ok := body.Details[apperrors.DetailRetryAfterMs].(float64); ok {
		appErr.Details[apperrors.DetailRetryAfterMs] = int64(ms)
	}
	return appErr
}
