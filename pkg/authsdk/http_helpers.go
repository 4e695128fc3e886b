package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// endpoint builds base + path with the API key attached.
func (c *Client) endpoint(base, path string) string {
	return base + path + "?key=" + url.QueryEscape(c.APIKey)
}

// postJSON sends body as JSON and decodes a 200 response into target.
func (c *Client) postJSON(ctx context.Context, endpoint string, body, target any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("authsdk: encode request: %w", err)
	}

	resp, err := c.doRequest(ctx, endpoint, bytes.NewReader(payload), "application/json")
	if err != nil {
		return err
	}
	return decodeJSON(resp, target)
}

// postForm sends form as application/x-www-form-urlencoded.
func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values, target any) error {
	resp, err := c.doRequest(ctx, endpoint, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return err
	}
	return decodeJSON(resp, target)
}

func (c *Client) doRequest(ctx context.Context, endpoint string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("authsdk: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		// A cancelled caller is not a connectivity problem.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("authsdk: %w", ctxErr)
		}
		return nil, networkError(err)
	}

	return resp, nil
}

// decodeJSON decodes a 200 response into target, or returns a typed *Error.
func decodeJSON(resp *http.Response, target any) error {
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return networkError(err)
	}

	if resp.StatusCode != http.StatusOK {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if target == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, target); err != nil {
		return fmt.Errorf("authsdk: decode response: %w", err)
	}
	return nil
}

// parseErrorResponse maps a non-200 body onto *Error.
func parseErrorResponse(status int, body []byte) error {
	var envelope providerErrorBody
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return &Error{
			StatusCode: status,
			Code:       normalizeCode(status, envelope.Error.Message, envelope.Error.Status),
			Message:    envelope.Error.Message,
		}
	}

	// Token endpoint dialect.
	var flat struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &flat); err == nil && flat.Error != "" {
		msg := flat.ErrorDescription
		if msg == "" {
			msg = flat.Error
		}
		return &Error{
			StatusCode: status,
			Code:       normalizeCode(status, strings.ToUpper(flat.Error), ""),
			Message:    msg,
		}
	}

	return &Error{
		StatusCode: status,
		Code:       normalizeCode(status, "", ""),
		Message:    fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status)),
	}
}
