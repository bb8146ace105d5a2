package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mbd888/krishiconnect/internal/retry"
)

// Config holds the configuration for connecting to the KrishiConnect API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	Token  string // Bearer token from /v1/auth/login
}

// Client is a pure HTTP client for the KrishiConnect API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	attempts   int
	backoff    time.Duration
}

// NewClient creates a new API client.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		attempts: 3,
		backoff:  200 * time.Millisecond,
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request and returns the response body. Reads are
// retried on transport errors and 5xx responses; writes are sent once.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var data []byte
	if body != nil {
		data, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	attempts := 1
	if method == http.MethodGet {
		attempts = c.attempts
	}

	var out json.RawMessage
	err = retry.Do(ctx, attempts, c.backoff, func() error {
		var reqBody io.Reader
		if data != nil {
			reqBody = bytes.NewReader(data)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
		if err != nil {
			return retry.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
		if data != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			var apiErr apiError
			if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
				err = fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
			} else {
				err = fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
			}
			if resp.StatusCode < 500 {
				return retry.Permanent(err)
			}
			return err
		}

		out = json.RawMessage(respBody)
		return nil
	})
	return out, err
}

// GetWallet returns the caller's wallet.
func (c *Client) GetWallet(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/wallet", nil, nil)
}

// ListListings searches crop listings.
func (c *Client) ListListings(ctx context.Context, cropType, location, status string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if cropType != "" {
		q.Set("cropType", cropType)
	}
	if location != "" {
		q.Set("location", location)
	}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/listings", q, nil)
}

// ListContracts lists the caller's contracts, optionally by status.
func (c *Client) ListContracts(ctx context.Context, status string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/contracts", q, nil)
}

// GetDashboard returns a contract with its financials and milestones.
func (c *Client) GetDashboard(ctx context.Context, contractID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/contracts/"+url.PathEscape(contractID)+"/dashboard", nil, nil)
}

// ProposeContract sends a buyer's offer on a listing.
func (c *Client) ProposeContract(ctx context.Context, listingID, quantity, pricePerUnit, terms string) (json.RawMessage, error) {
	body := map[string]string{
		"listingId":          listingID,
		"quantityProposed":   quantity,
		"pricePerUnitAgreed": pricePerUnit,
	}
	if terms != "" {
		body["paymentTerms"] = terms
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/contracts", nil, body)
}

// CounterOffer replaces the terms on the table.
func (c *Client) CounterOffer(ctx context.Context, contractID, quantity, pricePerUnit string) (json.RawMessage, error) {
	body := map[string]string{
		"quantityProposed":   quantity,
		"pricePerUnitAgreed": pricePerUnit,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/contracts/"+url.PathEscape(contractID)+"/counter", nil, body)
}

// ContractAction runs accept, reject, cancel or complete on a contract.
func (c *Client) ContractAction(ctx context.Context, contractID, action string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/contracts/"+url.PathEscape(contractID)+"/"+action, nil, nil)
}

// ReleasePayment pays a completed milestone out of escrow.
func (c *Client) ReleasePayment(ctx context.Context, milestoneID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/milestones/"+url.PathEscape(milestoneID)+"/release", nil, nil)
}

// SendMessage posts a negotiation message to a contract room.
func (c *Client) SendMessage(ctx context.Context, contractID, message, price, quantity string) (json.RawMessage, error) {
	body := map[string]string{"message": message}
	if price != "" {
		body["proposedPrice"] = price
	}
	if quantity != "" {
		body["proposedQuantity"] = quantity
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/contracts/"+url.PathEscape(contractID)+"/messages", nil, body)
}

// RecommendCrops asks for the top crops for a field.
func (c *Client) RecommendCrops(ctx context.Context, params map[string]any, top int) (json.RawMessage, error) {
	q := url.Values{}
	if top > 0 {
		q.Set("top", strconv.Itoa(top))
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/recommendations/crops", q, params)
}

// GetWeather returns farming advice for a location. Zero coordinates use
// the server default.
func (c *Client) GetWeather(ctx context.Context, lat, lon float64) (json.RawMessage, error) {
	q := url.Values{}
	if lat != 0 || lon != 0 {
		q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
		q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/weather", q, nil)
}
