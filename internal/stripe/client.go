package stripe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Client wraps Stripe API calls using the REST API directly (no SDK dependency)
type Client struct {
	secretKey  string
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new Stripe API client
func NewClient(secretKey string) *Client {
	return &Client{
		secretKey:  secretKey,
		httpClient: &http.Client{},
		baseURL:    "https://api.stripe.com/v1",
	}
}

// CreateCheckoutSession creates a Stripe Checkout session for a subscription.
// The account and tenant references are stamped into the session metadata so
// the checkout.session.completed webhook can resolve the local account.
func (c *Client) CreateCheckoutSession(accountRef, tenantRef, priceID, successURL, cancelURL string) (sessionID, sessionURL string, err error) {
	data := url.Values{}
	data.Set("mode", "subscription")
	data.Set("line_items[0][price]", priceID)
	data.Set("line_items[0][quantity]", "1")
	data.Set("success_url", successURL)
	data.Set("cancel_url", cancelURL)
	data.Set("metadata[account_ref]", accountRef)
	data.Set("metadata[tenant_ref]", tenantRef)

	resp, err := c.post("/checkout/sessions", data)
	if err != nil {
		return "", "", fmt.Errorf("create checkout session: %w", err)
	}

	sessionID, _ = resp["id"].(string)
	sessionURL, _ = resp["url"].(string)
	if sessionID == "" {
		return "", "", fmt.Errorf("create checkout session: missing session ID in response")
	}

	return sessionID, sessionURL, nil
}

// HTTP helpers

func (c *Client) post(path string, data url.Values) (map[string]interface{}, error) {
	req, err := http.NewRequest("POST", c.baseURL+path, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.secretKey, "")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.doRequest(req)
}

func (c *Client) doRequest(req *http.Request) (map[string]interface{}, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stripe request failed: %w", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, fmt.Errorf("read stripe response: %w", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("parse stripe response: %w", err)
	}

	if resp.StatusCode >= 400 {
		errObj, _ := result["error"].(map[string]interface{})
		msg := "unknown error"
		if errObj != nil {
			if m, ok := errObj["message"].(string); ok {
				msg = m
			}
		}
		return nil, fmt.Errorf("stripe API error (%d): %s", resp.StatusCode, msg)
	}

	return result, nil
}
