package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"splitpay-backend/config"
)

// PaymentRail is the opaque custody service that holds escrowed funds. The
// core never signs or moves funds itself; it only requests locks, releases
// and refunds. All calls are fallible and retried with backoff by callers.
type PaymentRail interface {
	CreateEscrowAddress(ctx context.Context, requiredTotal float64, currency string) (string, error)
	Lock(ctx context.Context, address, payerID string, amount float64) (string, error)
	Release(ctx context.Context, address string) ([]string, error)
	Refund(ctx context.Context, address string) ([]string, error)
}

// RailClient talks to the custody service over HTTP.
type RailClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewRailClient() *RailClient {
	return &RailClient{
		BaseURL: config.AppConfig.CustodyServiceURL,
		Token:   config.AppConfig.CustodyToken,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type createAddressRequest struct {
	RequiredTotal float64 `json:"required_total"`
	Currency      string  `json:"currency"`
}

type createAddressResponse struct {
	Address string `json:"address"`
}

type lockRequest struct {
	PayerID string  `json:"payer_id"`
	Amount  float64 `json:"amount"`
}

type txRefResponse struct {
	TxRef  string   `json:"tx_ref,omitempty"`
	TxRefs []string `json:"tx_refs,omitempty"`
}

func (c *RailClient) CreateEscrowAddress(ctx context.Context, requiredTotal float64, currency string) (string, error) {
	var out createAddressResponse
	err := c.post(ctx, "/v1/escrow/addresses", createAddressRequest{
		RequiredTotal: requiredTotal,
		Currency:      currency,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Address, nil
}

func (c *RailClient) Lock(ctx context.Context, address, payerID string, amount float64) (string, error) {
	var out txRefResponse
	err := c.post(ctx, fmt.Sprintf("/v1/escrow/%s/lock", address), lockRequest{
		PayerID: payerID,
		Amount:  amount,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.TxRef, nil
}

func (c *RailClient) Release(ctx context.Context, address string) ([]string, error) {
	var out txRefResponse
	if err := c.post(ctx, fmt.Sprintf("/v1/escrow/%s/release", address), nil, &out); err != nil {
		return nil, err
	}
	return out.TxRefs, nil
}

func (c *RailClient) Refund(ctx context.Context, address string) ([]string, error) {
	var out txRefResponse
	if err := c.post(ctx, fmt.Sprintf("/v1/escrow/%s/refund", address), nil, &out); err != nil {
		return nil, err
	}
	return out.TxRefs, nil
}

func (c *RailClient) post(ctx context.Context, path string, body, out interface{}) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal rail request: %w", err)
		}
		payload = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, payload)
	if err != nil {
		return fmt.Errorf("failed to create rail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call payment rail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("payment rail returned status %d: %s", resp.StatusCode, string(raw))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode rail response: %w", err)
		}
	}
	return nil
}
