package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"GigEscrow/internal/apperr"
)

// HTTPOrderClient talks to the marketplace order service.
type HTTPOrderClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPOrderClient(baseURL string, timeout time.Duration) *HTTPOrderClient {
	return &HTTPOrderClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type orderEnvelope struct {
	Data  *Order `json:"data"`
	Error string `json:"error"`
}

func (c *HTTPOrderClient) GetOrder(ctx context.Context, orderID uint) (*Order, error) {
	var env orderEnvelope
	status, err := c.makeRequest(ctx, http.MethodGet, fmt.Sprintf("/api/orders/%d", orderID), nil, &env)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrOrderServiceFailed, "", err)
	}
	if status == http.StatusNotFound {
		return nil, apperr.Newf(apperr.ErrOrderNotFound, "order %d not found", orderID)
	}
	if status != http.StatusOK || env.Data == nil {
		return nil, apperr.Wrap(apperr.ErrOrderServiceFailed, "",
			fmt.Errorf("get order %d: status %d %s", orderID, status, env.Error))
	}
	return env.Data, nil
}

func (c *HTTPOrderClient) MarkOrderPaid(ctx context.Context, orderID, paymentID uint) error {
	payload := map[string]interface{}{"payment_id": paymentID, "status": OrderStatusPaid}
	status, err := c.makeRequest(ctx, http.MethodPost, fmt.Sprintf("/api/orders/%d/paid", orderID), payload, nil)
	if err != nil {
		return apperr.Wrap(apperr.ErrOrderServiceFailed, "", err)
	}
	if status == http.StatusNotFound {
		return apperr.Newf(apperr.ErrOrderNotFound, "order %d not found", orderID)
	}
	if status >= http.StatusBadRequest {
		return apperr.Wrap(apperr.ErrOrderServiceFailed, "", fmt.Errorf("mark order %d paid: status %d", orderID, status))
	}
	return nil
}

func (c *HTTPOrderClient) makeRequest(ctx context.Context, method, endpoint string, payload interface{}, out interface{}) (int, error) {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil && resp.StatusCode == http.StatusOK {
				return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
			}
		}
	}
	return resp.StatusCode, nil
}
