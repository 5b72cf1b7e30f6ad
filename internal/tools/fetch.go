package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/forgeline/forgeline/internal/tool"
	"github.com/forgeline/forgeline/pkg/models"
)

// maxFetchBody caps how much of a response body the fetch tool returns.
const maxFetchBody = 256 * 1024

// httpFetch performs outbound HTTP requests under the executor's deadline.
type httpFetch struct {
	client *http.Client
}

// NewHTTPFetch creates the built-in HTTP fetch tool. client may be nil for
// http.DefaultClient.
func NewHTTPFetch(client *http.Client) tool.Tool {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpFetch{client: client}
}

func (f *httpFetch) Definition() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        "http_fetch",
		Category:    models.CategoryExternalAPI,
		Description: "Fetches a URL over HTTP and returns status and body.",
		Parameters: []models.ToolParameter{
			{Name: "url", Type: "string", Required: true},
			{Name: "method", Type: "string", Default: http.MethodGet},
		},
		Timeout: 15 * time.Second,
		Retry: models.RetryPolicy{
			MaxRetries:        2,
			Backoff:           500 * time.Millisecond,
			BackoffMultiplier: 2,
			RetryableErrors:   []string{"timeout", "connection refused", "connection reset", "EOF"},
		},
		SummaryTemplate: "Fetched {url}",
	}
}

func (f *httpFetch) Execute(ctx context.Context, args map[string]any, execCtx *models.ExecutionContext) (*models.ExecutionResult, error) {
	url, _ := args["url"].(string)
	method, _ := args["method"].(string)
	method = strings.ToUpper(method)

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return &models.ExecutionResult{
			Success:      false,
			ErrorCode:    models.ErrCodeValidation,
			ErrorMessage: fmt.Sprintf("bad request: %v", err),
		}, nil
	}
	req.Header.Set("User-Agent", "forgeline/http_fetch")

	resp, err := f.client.Do(req)
	if err != nil {
		// Transport errors go back as errors so the retry policy applies.
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return nil, fmt.Errorf("read body from %s: %w", url, err)
	}

	return &models.ExecutionResult{
		Success: resp.StatusCode < 400,
		Output: map[string]any{
			"status":       resp.StatusCode,
			"content_type": resp.Header.Get("Content-Type"),
			"body":         string(body),
		},
		ErrorMessage: errorMessageFor(resp.StatusCode),
	}, nil
}

func errorMessageFor(status int) string {
	if status < 400 {
		return ""
	}
	return fmt.Sprintf("upstream returned %d", status)
}
