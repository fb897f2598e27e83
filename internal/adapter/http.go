package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

// HTTPConfig configures the generic HTTP adapter.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// HTTPAdapter is the generic HTTP integration: operations "request", "get",
// "post". Concrete integrations that are plain authenticated REST calls can
// ride on it directly.
type HTTPAdapter struct {
	config HTTPConfig
	client *http.Client
}

// NewHTTPAdapter creates the generic HTTP adapter.
func NewHTTPAdapter(cfg HTTPConfig) *HTTPAdapter {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPAdapter{config: cfg, client: client}
}

func (a *HTTPAdapter) Name() string { return "http" }

func (a *HTTPAdapter) Operations() []string {
	return []string{"request", "get", "post"}
}

func (a *HTTPAdapter) Execute(ctx context.Context, operation string, params map[string]any, creds Credentials) *Outcome {
	if params == nil {
		params = map[string]any{}
	}

	method := strings.ToUpper(stringParam(params, "method", "GET"))
	switch operation {
	case "request":
	case "get":
		method = http.MethodGet
	case "post":
		method = http.MethodPost
	default:
		return Fail(fmt.Sprintf("http: unknown operation %q", operation), http.StatusBadRequest)
	}

	rawURL := stringParam(params, "url", "")
	if rawURL == "" {
		return Fail("http: missing required param 'url'", http.StatusBadRequest)
	}
	if u, err := url.ParseRequestURI(rawURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Fail(fmt.Sprintf("http: invalid url %q", rawURL), http.StatusBadRequest)
	}

	timeout := a.config.DefaultTimeout
	if ts := stringParam(params, "timeout", ""); ts != "" {
		if d, err := time.ParseDuration(ts); err == nil {
			timeout = d
		}
	}

	var bodyReader io.Reader
	contentType := ""
	if rawBody, ok := params["body"]; ok && rawBody != nil {
		switch stringParam(params, "body_encoding", "json") {
		case "form":
			if formData, ok := rawBody.(map[string]any); ok {
				vals := url.Values{}
				for k, v := range formData {
					vals.Set(k, fmt.Sprintf("%v", v))
				}
				bodyReader = strings.NewReader(vals.Encode())
				contentType = "application/x-www-form-urlencoded"
			}
		case "text":
			bodyReader = strings.NewReader(fmt.Sprintf("%v", rawBody))
			contentType = "text/plain"
		case "raw":
			bodyReader = strings.NewReader(fmt.Sprintf("%v", rawBody))
		default: // json
			b, err := json.Marshal(rawBody)
			if err != nil {
				return Fail("http: failed to marshal body as JSON", http.StatusBadRequest)
			}
			bodyReader = strings.NewReader(string(b))
			contentType = "application/json"
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return Fail(fmt.Sprintf("http: failed to create request: %v", err), http.StatusBadRequest)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if hdrs, ok := params["headers"].(map[string]any); ok {
		for k, v := range hdrs {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}

	if outcome := applyCredentials(req, creds); outcome != nil {
		return outcome
	}

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return Fail(fmt.Sprintf("http: %s request timed out after %s", method, timeout), http.StatusGatewayTimeout)
		}
		return Fail(fmt.Sprintf("http: request failed: %v", err), http.StatusBadGateway)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, a.config.MaxResponseBody))
	if err != nil {
		return Fail("http: failed to read response body", http.StatusBadGateway)
	}

	respContentType := resp.Header.Get("Content-Type")
	var parsedBody any
	switch {
	case len(bodyBytes) == 0:
		parsedBody = nil
	case strings.Contains(respContentType, "application/json"):
		if err := json.Unmarshal(bodyBytes, &parsedBody); err != nil {
			parsedBody = string(bodyBytes)
		}
	default:
		parsedBody = string(bodyBytes)
	}

	data := map[string]any{
		"status_code":  resp.StatusCode,
		"status":       resp.Status,
		"body":         parsedBody,
		"content_type": respContentType,
		"duration_ms":  time.Since(start).Milliseconds(),
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &Outcome{
			Success:    false,
			Error:      "http: authentication rejected, check the connected credentials",
			Data:       data,
			StatusCode: resp.StatusCode,
		}
	}
	if resp.StatusCode >= 400 {
		return &Outcome{
			Success:    false,
			Error:      fmt.Sprintf("http: server returned %d", resp.StatusCode),
			Data:       data,
			StatusCode: resp.StatusCode,
		}
	}
	return Succeed(data, resp.StatusCode)
}

// applyCredentials translates credential material into request auth. A
// declared-but-empty credential is a validation failure, not a request.
func applyCredentials(req *http.Request, creds Credentials) *Outcome {
	if len(creds) == 0 {
		return nil
	}

	switch strings.ToLower(creds["type"]) {
	case "bearer", "":
		token := creds["token"]
		if token == "" {
			if creds["type"] == "" {
				return nil
			}
			return FailAuth("http: bearer credential has no token, reconnect the account")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case "basic":
		if creds["username"] == "" {
			return FailAuth("http: basic credential has no username")
		}
		req.SetBasicAuth(creds["username"], creds["password"])
	case "api_key":
		header := creds["header_name"]
		if header == "" || creds["header_value"] == "" {
			return FailAuth("http: api_key credential is incomplete")
		}
		req.Header.Set(header, creds["header_value"])
	default:
		return FailAuth(fmt.Sprintf("http: unsupported credential type %q", creds["type"]))
	}
	return nil
}

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

var _ Adapter = (*HTTPAdapter)(nil)
