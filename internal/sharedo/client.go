// Package sharedo implements the authenticated HTTP client for the Sharedo legal
// document-management platform: token acquisition with caching, repository document
// upload, template administration, and the type/tag lookups the deploy workflow uses
// to resolve display names into platform system names.
//
// Platform responses are deliberately passed through as loosely-typed documents
// (maps); only the handful of fields the workflows depend on — pathId, downloadUrl,
// systemName, id — are read by name, so the platform's schema is not re-encoded here.
package sharedo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/template-gateway/template-gateway/internal/config"
	"github.com/template-gateway/template-gateway/internal/telemetry"
)

// Client is the Sharedo platform client. The connection identity (host, identity
// server, app credential, impersonated user) is fixed configuration; per-request
// parameters are only the payloads themselves.
type Client struct {
	cfg        config.SharedoConfig
	cache      *TokenCache
	httpClient *http.Client
}

// NewClient creates a platform client with the given injected token cache
func NewClient(cfg config.SharedoConfig, cache *TokenCache) *Client {
	return &Client{
		cfg:        cfg,
		cache:      cache,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

// GetAccessToken returns a usable bearer token, reusing the cached one while it
// is at least 30 seconds from expiry. The second return reports whether the
// token came from the cache. A refresh performs the impersonation credential
// grant against the identity server.
func (c *Client) GetAccessToken(ctx context.Context) (string, bool, error) {
	if token := c.cache.Get(); token != nil {
		return token.Token, true, nil
	}

	telemetry.SharedoTokenRefreshesTotal.Inc()

	form := url.Values{}
	form.Set("grant_type", "Impersonate.Specified")
	form.Set("scope", "sharedo")
	form.Set("impersonate_user", c.cfg.ImpersonateUser)
	form.Set("impersonate_provider", c.cfg.ImpersonateProvider)

	endpoint := strings.TrimSuffix(c.cfg.IdentityURL, "/") + "/connect/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", false, &AuthenticationError{Message: "create token request", Err: err}
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.SharedoRequestsTotal.WithLabelValues("token", "error").Inc()
		return "", false, &AuthenticationError{Message: "token exchange failed", Err: err}
	}
	defer resp.Body.Close()
	telemetry.SharedoRequestsTotal.WithLabelValues("token", statusClass(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", false, &AuthenticationError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("token endpoint returned HTTP %d: %s", resp.StatusCode, body),
		}
	}

	var result struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", false, &AuthenticationError{Message: "decode token response", Err: err}
	}
	if result.AccessToken == "" {
		return "", false, &AuthenticationError{
			StatusCode: resp.StatusCode,
			Message:    "token response carried no access_token",
		}
	}

	c.cache.Put(&AccessToken{
		Token:     result.AccessToken,
		TokenType: result.TokenType,
		ExpiresIn: result.ExpiresIn,
		ExpiresAt: time.Now().Add(time.Duration(result.ExpiresIn) * time.Second),
	})

	return result.AccessToken, false, nil
}

// ---------------------------------------------------------------------------
// Lookup endpoints (pass-through)
// ---------------------------------------------------------------------------

// ListTemplateTypes returns the platform's template type catalogue verbatim
func (c *Client) ListTemplateTypes(ctx context.Context) ([]map[string]any, error) {
	return c.getList(ctx, "/api/admin/docGen/templateTypes", "lookup")
}

// ListWorkTypes returns the platform's work type (sharedo type) catalogue verbatim
func (c *Client) ListWorkTypes(ctx context.Context) ([]map[string]any, error) {
	return c.getList(ctx, "/api/modeller/sharedoTypes", "lookup")
}

// ListParticipantTypes returns the platform's participant type catalogue verbatim
func (c *Client) ListParticipantTypes(ctx context.Context) ([]map[string]any, error) {
	return c.getList(ctx, "/api/modeller/participantTypes", "lookup")
}

// GetTags returns the platform's tag catalogue verbatim
func (c *Client) GetTags(ctx context.Context) ([]map[string]any, error) {
	return c.getList(ctx, "/api/admin/tags", "lookup")
}

// ResolveTemplateTypeSystemName searches the template type catalogue for a
// case-insensitive display-name match and returns its system name. A miss is
// ("", nil), not an error.
func (c *Client) ResolveTemplateTypeSystemName(ctx context.Context, displayName string) (string, error) {
	types, err := c.ListTemplateTypes(ctx)
	if err != nil {
		return "", err
	}

	for _, t := range types {
		if strings.EqualFold(stringField(t, "name"), displayName) {
			return stringField(t, "systemName"), nil
		}
	}

	return "", nil
}

// ResolveContextTypeSystemName searches the work type catalogue for a
// case-insensitive display-name match, falling back to each work type's
// derived types (one level of nesting only). A total miss is ("", nil).
func (c *Client) ResolveContextTypeSystemName(ctx context.Context, workTypeDisplayName string) (string, error) {
	types, err := c.ListWorkTypes(ctx)
	if err != nil {
		return "", err
	}

	for _, t := range types {
		if strings.EqualFold(stringField(t, "name"), workTypeDisplayName) {
			return stringField(t, "systemName"), nil
		}
	}

	for _, t := range types {
		derived, ok := t["derivedTypes"].([]any)
		if !ok {
			continue
		}
		for _, d := range derived {
			dm, ok := d.(map[string]any)
			if !ok {
				continue
			}
			if strings.EqualFold(stringField(dm, "name"), workTypeDisplayName) {
				return stringField(dm, "systemName"), nil
			}
		}
	}

	return "", nil
}

// ---------------------------------------------------------------------------
// Repository upload
// ---------------------------------------------------------------------------

// UploadDocument uploads the document to the platform's template repository,
// optionally scoped to a folder (URL-path-encoded as a path segment). The
// platform responds with a list of stored-file descriptors.
func (c *Client) UploadDocument(ctx context.Context, data []byte, filename, folder string) ([]map[string]any, error) {
	token, _, err := c.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("sharedo: create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("sharedo: write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("sharedo: finalize form: %w", err)
	}

	endpoint := c.hostURL("/api/documentRepository/templates")
	if folder != "" {
		endpoint += "/" + url.PathEscape(folder)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("sharedo: create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.SharedoRequestsTotal.WithLabelValues("repository", "error").Inc()
		return nil, fmt.Errorf("sharedo: upload request failed: %w", err)
	}
	defer resp.Body.Close()
	telemetry.SharedoRequestsTotal.WithLabelValues("repository", statusClass(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &UploadError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var files []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("sharedo: decode upload response: %w", err)
	}

	return files, nil
}

// ---------------------------------------------------------------------------
// Template administration
// ---------------------------------------------------------------------------

// CreateTemplate registers a template definition under the given system name
// and returns the platform-issued identifier.
func (c *Client) CreateTemplate(ctx context.Context, systemName string, definition map[string]any) (string, error) {
	token, _, err := c.GetAccessToken(ctx)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(definition)
	if err != nil {
		return "", fmt.Errorf("sharedo: marshal template definition: %w", err)
	}

	endpoint := c.hostURL("/api/modeller/templates/" + url.PathEscape(systemName))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("sharedo: create template request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.SharedoRequestsTotal.WithLabelValues("template", "error").Inc()
		return "", fmt.Errorf("sharedo: create template request failed: %w", err)
	}
	defer resp.Body.Close()
	telemetry.SharedoRequestsTotal.WithLabelValues("template", statusClass(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", &TemplateCreationError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("sharedo: decode create response: %w", err)
	}

	return stringField(result, "id"), nil
}

// DeleteTemplate removes the template with the given system name. Returns
// whether the platform reported an item deleted; a 404-class response surfaces
// as an *APIError with that status so callers can treat it as "not found".
func (c *Client) DeleteTemplate(ctx context.Context, systemName string) (bool, error) {
	token, _, err := c.GetAccessToken(ctx)
	if err != nil {
		return false, err
	}

	payload, _ := json.Marshal(map[string]string{"systemName": systemName})

	endpoint := c.hostURL("/api/modeller/templates")
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("sharedo: create delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.SharedoRequestsTotal.WithLabelValues("template", "error").Inc()
		return false, fmt.Errorf("sharedo: delete template request failed: %w", err)
	}
	defer resp.Body.Close()
	telemetry.SharedoRequestsTotal.WithLabelValues("template", statusClass(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return false, NewAPIError(resp.StatusCode, fmt.Sprintf("template deletion failed: %s", respBody), nil)
	}

	var result struct {
		ItemDeleted bool `json:"itemDeleted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("sharedo: decode delete response: %w", err)
	}

	return result.ItemDeleted, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// getList performs an authenticated GET returning a JSON array of objects
func (c *Client) getList(ctx context.Context, path, endpointLabel string) ([]map[string]any, error) {
	token, _, err := c.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.hostURL(path), nil)
	if err != nil {
		return nil, fmt.Errorf("sharedo: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.SharedoRequestsTotal.WithLabelValues(endpointLabel, "error").Inc()
		return nil, fmt.Errorf("sharedo: request failed: %w", err)
	}
	defer resp.Body.Close()
	telemetry.SharedoRequestsTotal.WithLabelValues(endpointLabel, statusClass(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, NewAPIError(resp.StatusCode, fmt.Sprintf("GET %s failed: %s", path, respBody), nil)
	}

	var items []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("sharedo: decode response for %s: %w", path, err)
	}

	return items, nil
}

func (c *Client) hostURL(path string) string {
	return strings.TrimSuffix(c.cfg.HostURL, "/") + path
}

// stringField reads a string-valued field from a loosely-typed platform document
func stringField(doc map[string]any, key string) string {
	if v, ok := doc[key].(string); ok {
		return v
	}
	return ""
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "other"
	}
}
