/**
 * @description
 * This package provides a client for the Helius webhook admin API. It
 * encapsulates the logic for making authenticated HTTP requests to Helius,
 * handling request body construction, and parsing responses. The mirror uses
 * it at boot to make sure an enhanced-transaction webhook exists for the
 * watched program.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package heliusclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the Helius API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new Helius API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Webhook represents a webhook registration as returned by Helius.
type Webhook struct {
	WebhookID        string   `json:"webhookID"`
	WebhookURL       string   `json:"webhookURL"`
	TransactionTypes []string `json:"transactionTypes"`
	AccountAddresses []string `json:"accountAddresses"`
	WebhookType      string   `json:"webhookType"`
	AuthHeader       string   `json:"authHeader,omitempty"`
}

// CreateWebhookRequest is the payload for registering a new webhook.
type CreateWebhookRequest struct {
	WebhookURL       string   `json:"webhookURL"`
	TransactionTypes []string `json:"transactionTypes"`
	AccountAddresses []string `json:"accountAddresses"`
	WebhookType      string   `json:"webhookType"`
	AuthHeader       string   `json:"authHeader,omitempty"`
}

// ErrorResponse represents an error from the Helius API.
type ErrorResponse struct {
	ErrorMessage string `json:"error"`
	Message      string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	if e.ErrorMessage != "" {
		return fmt.Sprintf("helius api error: %s", e.ErrorMessage)
	}
	if e.Message != "" {
		return fmt.Sprintf("helius api error: %s", e.Message)
	}
	return "unknown helius api error"
}

// ListWebhooks fetches all webhooks registered under the API key.
func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	url := fmt.Sprintf("%s/v0/webhooks?api-key=%s", c.BaseURL, c.APIKey)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create list webhooks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	bodyBytes, err := c.do(req, "list_webhooks")
	if err != nil {
		return nil, err
	}

	var webhooks []Webhook
	if err := json.Unmarshal(bodyBytes, &webhooks); err != nil {
		return nil, fmt.Errorf("failed to decode webhook list: %w", err)
	}
	return webhooks, nil
}

// CreateWebhook registers a new enhanced-transaction webhook.
func (c *Client) CreateWebhook(ctx context.Context, payload CreateWebhookRequest) (*Webhook, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal create webhook request: %w", err)
	}

	url := fmt.Sprintf("%s/v0/webhooks?api-key=%s", c.BaseURL, c.APIKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	bodyBytes, err := c.do(req, "create_webhook")
	if err != nil {
		return nil, err
	}

	var created Webhook
	if err := json.Unmarshal(bodyBytes, &created); err != nil {
		return nil, fmt.Errorf("failed to decode created webhook: %w", err)
	}
	return &created, nil
}

// EnsureWebhook makes sure an enhanced-transaction webhook exists that points
// at callbackURL and watches programAddress. Existing registrations for the
// same callback URL are reused.
func (c *Client) EnsureWebhook(ctx context.Context, callbackURL, programAddress, authHeader string) (*Webhook, error) {
	webhooks, err := c.ListWebhooks(ctx)
	if err != nil {
		return nil, err
	}

	for i := range webhooks {
		if webhooks[i].WebhookURL == callbackURL {
			return &webhooks[i], nil
		}
	}

	payload := CreateWebhookRequest{
		WebhookURL:       callbackURL,
		TransactionTypes: []string{"ANY"},
		AccountAddresses: []string{programAddress},
		WebhookType:      "enhanced",
		AuthHeader:       authHeader,
	}
	return c.CreateWebhook(ctx, payload)
}

// do executes a request and returns the raw body of a 2xx response.
func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=helius_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=helius_client op=%s status=%d err=%q", op, resp.StatusCode, errResp.Error())
		return nil, &errResp
	}

	return bodyBytes, nil
}
