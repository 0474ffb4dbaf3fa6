// Package orgdir provides a client for the external organization/identity
// directory. The directory owns operator accounts, organization membership,
// and the tokens the dashboard sends; this service only asks it questions.
package orgdir

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHTTPTimeout = 10 * time.Second

// Identity is an authenticated operator as reported by the directory. OrgID
// may be empty when the account carries no organization claim; every private
// operation treats that the same as no identity at all.
type Identity struct {
	UserID string `json:"user_id"`
	OrgID  string `json:"org_id"`
	Name   string `json:"name"`
}

// Organization is a tenant as reported by the directory.
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Resolver resolves caller identity and validates organizations. Implemented
// by Client; handlers and services depend on this interface so tests can
// substitute a fixture.
type Resolver interface {
	// VerifyToken resolves a dashboard bearer token into an identity.
	// Returns (nil, nil) when the token is unknown or expired.
	VerifyToken(ctx context.Context, token string) (*Identity, error)

	// GetOrganization fetches an organization by id. Returns (nil, nil) when
	// the organization does not exist.
	GetOrganization(ctx context.Context, orgID string) (*Organization, error)
}

// Client talks HTTP to the hosted directory.
type Client struct {
	baseURL   string
	secretKey string
	client    *http.Client
	logger    *slog.Logger
}

// Config holds directory client configuration.
type Config struct {
	BaseURL   string
	SecretKey string
	Logger    *slog.Logger
}

// NewClient creates a directory client.
func NewClient(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		secretKey: cfg.SecretKey,
		client:    &http.Client{Timeout: defaultHTTPTimeout},
		logger:    cfg.Logger,
	}
}

// VerifyToken resolves a dashboard bearer token into an identity.
func (c *Client) VerifyToken(ctx context.Context, token string) (*Identity, error) {
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return nil, fmt.Errorf("marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/tokens/verify", strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("new verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var identity Identity
		if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
			return nil, fmt.Errorf("decode identity: %w", err)
		}
		return &identity, nil
	case http.StatusNotFound, http.StatusUnauthorized:
		return nil, nil
	default:
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("directory returned %d: %s", resp.StatusCode, string(respBody))
	}
}

// GetOrganization fetches an organization by id.
func (c *Client) GetOrganization(ctx context.Context, orgID string) (*Organization, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/organizations/"+url.PathEscape(orgID), nil)
	if err != nil {
		return nil, fmt.Errorf("new organization request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var org Organization
		if err := json.NewDecoder(resp.Body).Decode(&org); err != nil {
			return nil, fmt.Errorf("decode organization: %w", err)
		}
		return &org, nil
	case http.StatusNotFound:
		return nil, nil
	default:
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("directory returned %d: %s", resp.StatusCode, string(respBody))
	}
}

var _ Resolver = (*Client)(nil)
