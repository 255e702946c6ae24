// pkg/transport/axapi/client.go
package axapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	basePath       = "/axapi/v3"
	defaultTimeout = 30 * time.Second
)

// Client talks to the aXAPI v3 management API of one appliance
type Client struct {
	baseURL  string
	http     *http.Client
	username string
	password string

	mu        sync.Mutex
	signature string
}

// RequestOptions defines options for an API request
type RequestOptions struct {
	Method string
	Path   string
	Body   interface{}
}

// UploadOptions defines a multipart file upload. Metadata is sent as the
// "json" part and Content as the "file" part named FileName.
type UploadOptions struct {
	Method   string
	Path     string
	FileName string
	Content  []byte
	Metadata map[string]interface{}
}

// Response represents an API response
type Response struct {
	StatusCode int
	Body       map[string]interface{}
}

// Config holds appliance connection settings
type Config struct {
	Host               string
	Port               int
	Protocol           string
	Username           string
	Password           string
	Timeout            time.Duration
	InsecureSkipVerify bool

	// HTTPClient overrides the default transport, used by tests
	HTTPClient *http.Client
}

// NewClient creates a new aXAPI client from config. It does not authenticate.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	// Validate required fields
	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("username and password are required")
	}

	protocol := cfg.Protocol
	if protocol == "" {
		protocol = "https"
	}
	host := cfg.Host
	if cfg.Port != 0 {
		host = host + ":" + strconv.Itoa(cfg.Port)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				// Appliances ship with self-signed management certificates
				TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}, //nolint:gosec
			},
		}
	}

	return &Client{
		baseURL:  protocol + "://" + host + basePath,
		http:     httpClient,
		username: cfg.Username,
		password: cfg.Password,
	}, nil
}

// Authenticate obtains a session signature from the appliance
func (c *Client) Authenticate(ctx context.Context) error {
	body := map[string]interface{}{
		"credentials": map[string]string{
			"username": c.username,
			"password": c.password,
		},
	}

	resp, err := c.send(ctx, http.MethodPost, "/auth", body, false)
	if err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}

	auth, _ := resp.Body["authresponse"].(map[string]interface{})
	signature, _ := auth["signature"].(string)
	if signature == "" {
		return NewError(ErrorCodeUnauthorized, "authentication response carries no signature", nil)
	}

	c.mu.Lock()
	c.signature = signature
	c.mu.Unlock()
	return nil
}

// Logoff releases the session signature. Calling it on an unauthenticated
// client is a no-op.
func (c *Client) Logoff(ctx context.Context) error {
	c.mu.Lock()
	signature := c.signature
	c.mu.Unlock()
	if signature == "" {
		return nil
	}

	_, err := c.send(ctx, http.MethodPost, "/logoff", nil, true)

	c.mu.Lock()
	c.signature = ""
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to log off: %w", err)
	}
	return nil
}

// Do executes an API request
func (c *Client) Do(ctx context.Context, opts RequestOptions) (*Response, error) {
	switch opts.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return nil, fmt.Errorf("unsupported method: %s", opts.Method)
	}
	return c.send(ctx, opts.Method, opts.Path, opts.Body, true)
}

// Upload sends a multipart file import request
func (c *Client) Upload(ctx context.Context, opts UploadOptions) (*Response, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodPost
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	meta, err := json.Marshal(opts.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal upload metadata: %w", err)
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="json"; filename="blob"`)
	header.Set("Content-Type", "application/json")
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata part: %w", err)
	}
	if _, err := part.Write(meta); err != nil {
		return nil, fmt.Errorf("failed to write metadata part: %w", err)
	}

	filePart, err := w.CreateFormFile("file", opts.FileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := filePart.Write(opts.Content); err != nil {
		return nil, fmt.Errorf("failed to write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+opts.Path, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.roundTrip(req, true)
}

func (c *Client) send(ctx context.Context, method, path string, body interface{}, signed bool) (*Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.roundTrip(req, signed)
}

func (c *Client) roundTrip(req *http.Request, signed bool) (*Response, error) {
	req.Header.Set("Accept", "application/json")
	if signed {
		c.mu.Lock()
		signature := c.signature
		c.mu.Unlock()
		if signature == "" {
			return nil, NewError(ErrorCodeUnauthorized, "client is not authenticated", nil)
		}
		req.Header.Set("Authorization", "A10 "+signature)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, c.classifyError(err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, c.classifyError(err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		msg := errorMessage(raw)
		return nil, &Error{
			Code:     ClassifyResponse(httpResp.StatusCode, msg),
			Message:  msg,
			HTTPCode: httpResp.StatusCode,
		}
	}

	return c.parseResponse(httpResp.StatusCode, raw)
}

// parseResponse converts raw JSON to Response
func (c *Client) parseResponse(status int, raw []byte) (*Response, error) {
	resp := &Response{StatusCode: status}
	if len(bytes.TrimSpace(raw)) == 0 {
		return resp, nil
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("failed to parse response: %s", string(raw))
	}
	resp.Body = obj
	return resp, nil
}

// classifyError converts network errors to transport errors
func (c *Client) classifyError(err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:       ErrorCodeUnknown,
		Message:    err.Error(),
		Underlying: err,
	}
}

// errorMessage extracts response.err.msg from an aXAPI error body
func errorMessage(raw []byte) string {
	var body struct {
		Response struct {
			Status string `json:"status"`
			Err    struct {
				Code int    `json:"code"`
				Msg  string `json:"msg"`
			} `json:"err"`
		} `json:"response"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Response.Err.Msg != "" {
		return body.Response.Err.Msg
	}
	return strings.TrimSpace(string(raw))
}
