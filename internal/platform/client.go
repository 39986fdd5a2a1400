// Package platform is the HTTP client for the tenant content API: site
// metadata, catalog search, campaign listings and guest-account facts.
package platform

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"concierge/pkg/clients"
	"concierge/pkg/logging"
)

// accessHostHeader scopes a request to a specific tenant site.
const accessHostHeader = "Access-Host"

type Client struct {
	http     *http.Client
	executor failsafe.Executor[*http.Response]
	baseURL  string
	logger   logging.Logger
}

func NewClient(baseURL string, logger logging.Logger) *Client {
	return &Client{
		http:     &http.Client{Timeout: 15 * time.Second},
		executor: clients.NewHTTPExecutor(clients.DefaultHTTPExecutorConfig()),
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger,
	}
}

// getJSON issues a GET with the tenant host header and decodes the response.
func (c *Client) getJSON(ctx context.Context, host, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	return c.do(ctx, path, out, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		if host != "" {
			req.Header.Set(accessHostHeader, host)
		}
		return req, nil
	})
}

// postJSON issues a POST with a JSON body and decodes the response.
func (c *Client) postJSON(ctx context.Context, host, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	return c.do(ctx, path, out, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if host != "" {
			req.Header.Set(accessHostHeader, host)
		}
		return req, nil
	})
}

// do runs the request through the retry executor. The build function is
// invoked once per attempt so retried requests carry fresh bodies.
func (c *Client) do(ctx context.Context, path string, out any, build func() (*http.Request, error)) error {
	resp, err := clients.ExecuteHTTP(ctx, c.executor, func() (*http.Response, error) {
		req, err := build()
		if err != nil {
			return nil, err
		}
		return c.http.Do(req)
	})
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s returned %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// SiteDescription returns the tenant's self-description for prompt context.
func (c *Client) SiteDescription(ctx context.Context, host string) (string, error) {
	var payload struct {
		Description string `json:"description"`
		Title       string `json:"title"`
	}
	if err := c.getJSON(ctx, host, "/api/sites/description", nil, &payload); err != nil {
		return "", err
	}
	if payload.Description != "" {
		return payload.Description, nil
	}
	return payload.Title, nil
}

// Configuration is the subset of tenant settings the assistant consumes.
type Configuration struct {
	// ShopAuthorities restricts campaign visibility to campaigns run by
	// these accounts. Empty means unrestricted.
	ShopAuthorities []string `json:"shopAuthorities"`
}

// SiteConfiguration returns the tenant's configuration.
func (c *Client) SiteConfiguration(ctx context.Context, host string) (Configuration, error) {
	var cfg Configuration
	if err := c.getJSON(ctx, host, "/api/sites/configuration", nil, &cfg); err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}

// OwnerContact returns contact details of the tenant site's owner.
func (c *Client) OwnerContact(ctx context.Context, host string) (string, error) {
	var payload struct {
		Owner   string `json:"owner"`
		Email   string `json:"email"`
		Contact string `json:"contact"`
	}
	if err := c.getJSON(ctx, host, "/api/sites/owner-contact", nil, &payload); err != nil {
		return "", err
	}

	var parts []string
	if payload.Owner != "" {
		parts = append(parts, "Owner: "+payload.Owner)
	}
	if payload.Email != "" {
		parts = append(parts, "Email: "+payload.Email)
	}
	if payload.Contact != "" {
		parts = append(parts, "Contact: "+payload.Contact)
	}
	if len(parts) == 0 {
		return "No owner contact information is published for this site.", nil
	}
	return strings.Join(parts, "\n"), nil
}

// Campaign is one active reward campaign in a tenant listing.
type Campaign struct {
	Name   string   `json:"name"`
	Types  []string `json:"types"`
	Link   string   `json:"defaultShowLink"`
	Reward float64  `json:"reward"`
}

// ActiveCampaigns lists the tenant's currently active reward campaigns.
func (c *Client) ActiveCampaigns(ctx context.Context, host string) ([]Campaign, error) {
	var payload struct {
		Campaigns []Campaign `json:"wobjects"`
	}
	if err := c.getJSON(ctx, host, "/api/wobjects/active-campaigns", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Campaigns, nil
}

// FormatCampaigns renders a campaign listing for prompt or tool output.
func FormatCampaigns(campaigns []Campaign) string {
	if len(campaigns) == 0 {
		return "There are no active campaigns on this site right now."
	}
	var b strings.Builder
	for _, campaign := range campaigns {
		fmt.Fprintf(&b, "- %s", campaign.Name)
		if len(campaign.Types) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(campaign.Types, ", "))
		}
		if campaign.Reward > 0 {
			fmt.Fprintf(&b, " — reward %.2f", campaign.Reward)
		}
		if campaign.Link != "" {
			fmt.Fprintf(&b, " — %s", campaign.Link)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// RecentPostTitles returns titles of the user's most recent posts.
func (c *Client) RecentPostTitles(ctx context.Context, host, user string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}
	query := url.Values{}
	query.Set("limit", fmt.Sprint(limit))

	var payload struct {
		Posts []struct {
			Title string `json:"title"`
		} `json:"posts"`
	}
	if err := c.getJSON(ctx, host, "/api/user/"+url.PathEscape(user)+"/posts", query, &payload); err != nil {
		return nil, err
	}

	titles := make([]string, 0, len(payload.Posts))
	for _, post := range payload.Posts {
		if post.Title != "" {
			titles = append(titles, post.Title)
		}
	}
	return titles, nil
}

// SearchHit is one catalog object or user returned from general search.
type SearchHit struct {
	Name        string `json:"name"`
	Kind        string `json:"object_type"`
	Description string `json:"description"`
	Link        string `json:"defaultShowLink"`
}

// GeneralSearch searches catalog objects and users for the tenant site.
func (c *Client) GeneralSearch(ctx context.Context, host, query string, objectLimit, userLimit int) ([]SearchHit, error) {
	body := map[string]any{
		"string":          query,
		"objectsLimit":    objectLimit,
		"usersLimit":      userLimit,
		"onlyObjectTypes": []string{},
	}

	var payload struct {
		Objects []SearchHit `json:"wobjects"`
		Users   []struct {
			Account string `json:"account"`
		} `json:"users"`
	}
	if err := c.postJSON(ctx, host, "/api/generalSearch", body, &payload); err != nil {
		return nil, err
	}

	hits := payload.Objects
	for _, user := range payload.Users {
		hits = append(hits, SearchHit{Name: user.Account, Kind: "user"})
	}
	return hits, nil
}

// Box is a geographic bounding box for map search.
type Box struct {
	TopPoint    [2]float64 `json:"topPoint"`    // [longitude, latitude]
	BottomPoint [2]float64 `json:"bottomPoint"` // [longitude, latitude]
}

// MapObjectSearch returns catalog objects inside a geographic bounding box.
func (c *Client) MapObjectSearch(ctx context.Context, host string, box Box, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 10
	}
	body := map[string]any{
		"box":   box,
		"limit": limit,
	}

	var payload struct {
		Objects []SearchHit `json:"wobjects"`
	}
	if err := c.postJSON(ctx, host, "/api/wobjects/map", body, &payload); err != nil {
		return nil, err
	}
	return payload.Objects, nil
}

// GuestMana returns the platform-side mana percentage for a guest account.
func (c *Client) GuestMana(ctx context.Context, user string) (float64, error) {
	var payload struct {
		Result float64 `json:"result"`
	}
	if err := c.getJSON(ctx, "", "/api/user/"+url.PathEscape(user)+"/guest-mana", nil, &payload); err != nil {
		return 0, err
	}
	return payload.Result, nil
}

// GuestImportActive reports whether object import is authorized for a guest.
func (c *Client) GuestImportActive(ctx context.Context, user string) (bool, error) {
	var payload struct {
		Result bool `json:"result"`
	}
	if err := c.getJSON(ctx, "", "/api/user/"+url.PathEscape(user)+"/import-status", nil, &payload); err != nil {
		return false, err
	}
	return payload.Result, nil
}

// UserProfile returns the user's display profile fields.
func (c *Client) UserProfile(ctx context.Context, user string) (map[string]any, error) {
	var payload struct {
		PostingJSONMetadata string `json:"posting_json_metadata"`
	}
	if err := c.getJSON(ctx, "", "/api/user/"+url.PathEscape(user), nil, &payload); err != nil {
		return nil, err
	}
	if payload.PostingJSONMetadata == "" {
		return nil, nil
	}

	var metadata struct {
		Profile map[string]any `json:"profile"`
	}
	if err := json.Unmarshal([]byte(payload.PostingJSONMetadata), &metadata); err != nil {
		return nil, fmt.Errorf("decode profile metadata: %w", err)
	}
	return metadata.Profile, nil
}

// UploadImage uploads a base64-encoded image and returns its public link.
func (c *Client) UploadImage(ctx context.Context, imageB64 string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(imageB64)
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "image.png")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	var payload struct {
		Image string `json:"image"`
	}
	form := body.Bytes()
	err = c.do(ctx, "/api/image", &payload, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/image", bytes.NewReader(form))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return req, nil
	})
	if err != nil {
		return "", err
	}
	if payload.Image == "" {
		return "", fmt.Errorf("image upload returned empty link")
	}
	return payload.Image, nil
}
