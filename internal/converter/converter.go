// Package converter is the client for the external document-conversion microservice,
// which turns legacy Word template formats (.dot, .doc, .docb) into .docx. The service
// is treated as an opaque function: bytes + filename in, converted bytes out. The
// conversion budget is fixed (30 seconds by default) and is both signalled to the
// service in the request body and enforced locally as the HTTP deadline.
package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"
)

// ErrConversionTimeout is returned when the conversion service reports it ran
// out of time (HTTP 408).
var ErrConversionTimeout = errors.New("document conversion timed out")

// ConversionError represents a non-timeout failure reported by the conversion service
type ConversionError struct {
	StatusCode int
	Body       string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("document conversion failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// Client calls the external conversion service
type Client struct {
	url        string
	timeout    time.Duration
	httpClient *http.Client
}

// New creates a conversion client for the given endpoint. timeout bounds each
// conversion call; it is also passed to the service so both sides agree on the
// budget.
func New(url string, timeout time.Duration) *Client {
	return &Client{
		url:     url,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout + 5*time.Second, // local deadline slightly behind the service's
		},
	}
}

// Convert submits the document for conversion and returns the converted bytes.
// A 408-class response becomes ErrConversionTimeout; any other non-2xx response
// becomes *ConversionError carrying status and body.
func (c *Client) Convert(ctx context.Context, filename string, data []byte) ([]byte, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("converter: create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("converter: write form file: %w", err)
	}
	if err := writer.WriteField("timeout", strconv.Itoa(int(c.timeout.Seconds()))); err != nil {
		return nil, fmt.Errorf("converter: write timeout field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("converter: finalize form: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return nil, fmt.Errorf("converter: create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrConversionTimeout
		}
		return nil, fmt.Errorf("converter: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusRequestTimeout {
		return nil, ErrConversionTimeout
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &ConversionError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	converted, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("converter: read response: %w", err)
	}

	return converted, nil
}
