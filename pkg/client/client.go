// Package client provides the HTTP client for the screenshot server, with
// retry for reads, a cookie-based session, and a typed error taxonomy.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/adamskus05/screenie/internal/logging"
	"github.com/adamskus05/screenie/internal/metrics"
	"github.com/adamskus05/screenie/pkg/protocol"
	"github.com/adamskus05/screenie/pkg/retry"
)

// Client talks to the screenshot server.
type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	images      *resty.Client
	jar         *sessionJar
	retryConfig retry.Config

	mu       sync.RWMutex
	online   bool
	lastPing time.Time
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, NewValidationError("base_url", "must be an absolute URL")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	jar, err := newSessionJar()
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Jar:     jar,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	return &Client{
		baseURL:     base,
		httpClient:  httpClient,
		images:      resty.NewWithClient(httpClient).SetHeader("Accept", "image/png"),
		jar:         jar,
		retryConfig: cfg.RetryConfig,
		online:      true,
	}, nil
}

// BaseURL returns the server base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// IsOnline returns true if the last request reached the server.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online != online {
		if online {
			logging.Info("Server is back online")
		} else {
			logging.Error("Server is offline")
		}
	}
	c.online = online
	c.lastPing = time.Now()
}

func (c *Client) endpointURL(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.BaseURL() + "/" + strings.Join(escaped, "/")
}

// do sends req and maps transport failures and 401s into the error
// taxonomy. On success the caller owns resp.Body.
func (c *Client) do(endpoint string, req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordRemoteRequest(endpoint, 0, time.Since(start))
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.setOnline(false)
		return nil, &NetworkError{Op: req.Method, URL: req.URL.String(), Err: err}
	}
	metrics.RecordRemoteRequest(endpoint, resp.StatusCode, time.Since(start))
	c.setOnline(true)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, decodeError(resp)
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := ""
	var errResp protocol.ErrorResponse
	if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
		msg = errResp.Error
	} else if s := strings.TrimSpace(string(data)); s != "" && !strings.HasPrefix(s, "<") {
		msg = s
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &RemoteError{Status: resp.StatusCode, Message: msg}
}

// retryable marks transport errors and 5xx responses for another attempt.
func retryable(err error) error {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return retry.Retryable(err)
	}
	if re, ok := AsRemote(err); ok && re.Status >= 500 {
		return retry.Retryable(err)
	}
	return err
}

func (c *Client) getJSON(ctx context.Context, endpoint, target string, out interface{}) error {
	return retry.Do(ctx, c.retryConfig, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.do(endpoint, req)
		if err != nil {
			return retryable(err)
		}
		defer resp.Body.Close()

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", endpoint, err)
		}
		return nil
	})
}

// mutate sends a single, non-retried mutation and decodes the generic
// success/error body.
func (c *Client) mutate(ctx context.Context, endpoint, method, target string, body interface{}) (*protocol.MutationResponse, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.do(endpoint, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result protocol.MutationResponse
	data, _ := io.ReadAll(resp.Body)
	if len(bytes.TrimSpace(data)) == 0 {
		result.Success = true
		return &result, nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	if result.Error != "" {
		return &result, &RemoteError{Status: resp.StatusCode, Message: result.Error}
	}
	return &result, nil
}

// FetchFolders fetches the full folder listing.
func (c *Client) FetchFolders(ctx context.Context) (*protocol.FoldersResponse, error) {
	var result protocol.FoldersResponse
	if err := c.getJSON(ctx, "folders", c.endpointURL("folders"), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CheckAuth reports whether the current session is authenticated.
func (c *Client) CheckAuth(ctx context.Context) (bool, error) {
	var result protocol.AuthStatusResponse
	err := c.getJSON(ctx, "check-auth", c.endpointURL("check-auth"), &result)
	if IsAuth(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return result.Authenticated, nil
}

// Login authenticates with username and password. The session cookie is
// kept in the client's jar.
func (c *Client) Login(ctx context.Context, username, password string) (*protocol.LoginResponse, error) {
	body, _ := json.Marshal(protocol.LoginRequest{
		Username:  username,
		Password:  password,
		Permanent: true,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL("login"), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.do("login", req)
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	defer resp.Body.Close()

	var result protocol.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("parse login response: %w", err)
	}
	if !result.Success && result.Error != "" {
		return nil, &RemoteError{Status: resp.StatusCode, Message: result.Error}
	}
	return &result, nil
}

// Logout ends the server session and drops local cookies for the server.
func (c *Client) Logout(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpointURL("logout"), nil)
	if err != nil {
		return err
	}
	resp, err := c.do("logout", req)
	if err == nil {
		resp.Body.Close()
	}
	c.jar.reset()
	if IsAuth(err) {
		return nil
	}
	return err
}

// CreateFolder creates a folder.
func (c *Client) CreateFolder(ctx context.Context, name string) error {
	if err := ValidateFolderName(name); err != nil {
		return err
	}
	_, err := c.mutate(ctx, "folder", http.MethodPost, c.endpointURL("folder"),
		protocol.CreateFolderRequest{Name: strings.TrimSpace(name)})
	return err
}

// DeleteFolder deletes a folder.
func (c *Client) DeleteFolder(ctx context.Context, name string) error {
	if name == "" {
		return NewValidationError("name", "folder name is required")
	}
	_, err := c.mutate(ctx, "folder", http.MethodDelete, c.endpointURL("folder", name), nil)
	return err
}

// SetStarred stars or unstars a folder.
func (c *Client) SetStarred(ctx context.Context, name string, starred bool) error {
	if name == "" {
		return NewValidationError("name", "folder name is required")
	}
	action := "unstar"
	if starred {
		action = "star"
	}
	result, err := c.mutate(ctx, "star", http.MethodPost, c.endpointURL("folder", name, action), nil)
	if err != nil {
		return err
	}
	if !result.Success {
		return &RemoteError{Status: http.StatusOK, Message: fmt.Sprintf("failed to %s folder", action)}
	}
	return nil
}

// MoveScreenshot moves or copies one screenshot between folders.
func (c *Client) MoveScreenshot(ctx context.Context, req protocol.MoveRequest) error {
	switch {
	case req.Operation != protocol.OpMove && req.Operation != protocol.OpCopy:
		return NewValidationError("operation", "must be move or copy")
	case req.SourceFolder == "" || req.SourceFolder == allFolderName:
		return NewValidationError("source_folder", "a concrete source folder is required")
	case req.TargetFolder == "" || req.TargetFolder == allFolderName:
		return NewValidationError("target_folder", "no target folder selected")
	case req.Filename == "":
		return NewValidationError("filename", "filename is required")
	}
	_, err := c.mutate(ctx, "move", http.MethodPost, c.endpointURL("move_screenshot"), req)
	return err
}

// DeleteScreenshot deletes one screenshot from a folder.
func (c *Client) DeleteScreenshot(ctx context.Context, folder, filename string) error {
	if folder == "" || folder == allFolderName {
		return NewValidationError("folder", "a concrete folder is required")
	}
	if filename == "" {
		return NewValidationError("filename", "filename is required")
	}
	_, err := c.mutate(ctx, "delete", http.MethodDelete, c.endpointURL("delete", folder, filename), nil)
	return err
}

// Upload uploads one image. folder may be empty for the server default.
// Uploads are not retried since the body stream is consumed.
func (c *Client) Upload(ctx context.Context, filename string, content io.Reader, folder string) (*protocol.UploadResponse, error) {
	if filename == "" {
		return nil, NewValidationError("file", "filename is required")
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err == nil {
			_, err = io.Copy(part, content)
		}
		if err == nil && folder != "" && folder != allFolderName {
			err = mw.WriteField("folder", folder)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL("upload"), pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.do("upload", req)
	if err != nil {
		pr.Close()
		metrics.RecordUpload(false)
		return nil, err
	}
	defer resp.Body.Close()

	var result protocol.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		metrics.RecordUpload(false)
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	if !result.Success {
		metrics.RecordUpload(false)
		msg := result.Error
		if msg == "" {
			msg = "upload failed"
		}
		return nil, &RemoteError{Status: resp.StatusCode, Message: msg}
	}
	metrics.RecordUpload(true)
	return &result, nil
}

// FetchImage fetches raw image bytes from an absolute URL with the session
// cookie attached. Transport failures are retried.
func (c *Client) FetchImage(ctx context.Context, absURL string) ([]byte, error) {
	return retry.DoWithResult(ctx, c.retryConfig, func() ([]byte, error) {
		start := time.Now()
		resp, err := c.images.R().SetContext(ctx).Get(absURL)
		if err != nil {
			metrics.RecordRemoteRequest("image", 0, time.Since(start))
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			c.setOnline(false)
			return nil, retry.Retryable(&NetworkError{Op: http.MethodGet, URL: absURL, Err: err})
		}
		metrics.RecordRemoteRequest("image", resp.StatusCode(), time.Since(start))
		c.setOnline(true)

		if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
			remote := &RemoteError{Status: resp.StatusCode(), Message: http.StatusText(resp.StatusCode())}
			if resp.StatusCode() >= 500 {
				return nil, retry.Retryable(remote)
			}
			return nil, remote
		}
		return resp.Body(), nil
	})
}
