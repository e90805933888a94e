// Package rest is the small HTTP/JSON client shared by the REST-based
// adapters.
package rest

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

	"github.com/jdgilhuly/visitvideo/pkg/video"
)

// DefaultTimeout bounds a single request when the caller sets none.
const DefaultTimeout = 30 * time.Second

// Client issues authenticated requests against one API base URL.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	// Authorize adds credentials to every request.
	Authorize func(*http.Request)

	// ErrorMessage extracts a readable message from a non-2xx body. When it
	// is nil or returns "", the raw body is used.
	ErrorMessage func(body []byte) string
}

// NewHTTPClient returns an *http.Client with the given timeout, or
// DefaultTimeout when it is zero.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// JSON sends in (if non-nil) as a JSON body and decodes the response into
// out (if non-nil).
func (c *Client) JSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, contentType, body, out)
}

// Form sends form as an application/x-www-form-urlencoded body.
func (c *Client) Form(ctx context.Context, method, path string, form url.Values, out any) error {
	return c.do(ctx, method, path, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), out)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, body)
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.Authorize != nil {
		c.Authorize(req)
	}

	client := c.HTTP
	if client == nil {
		client = NewHTTPClient(0)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending HTTP request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := ""
		if c.ErrorMessage != nil {
			msg = c.ErrorMessage(data)
		}
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return &video.HTTPError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// NotFound reports whether err is an HTTP 404.
func NotFound(err error) bool {
	return video.StatusCode(err) == http.StatusNotFound
}

// RoomNotFound converts a 404 into the provider-neutral not-found error and
// returns any other error unchanged.
func RoomNotFound(err error, roomID string) error {
	if NotFound(err) {
		return video.NewValidationError(fmt.Errorf("%w: %s: %w", video.ErrRoomNotFound, roomID, err))
	}
	return err
}
