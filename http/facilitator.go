package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	x402 "github.com/mark3labs/x402-facilitator"
	"github.com/mark3labs/x402-facilitator/bounty"
	"github.com/mark3labs/x402-facilitator/facilitator"
)

// FacilitatorClient talks to a running facilitator.
type FacilitatorClient struct {
	BaseURL       string
	Client        *http.Client
	VerifyTimeout time.Duration // Timeout for verify and read operations
	SettleTimeout time.Duration // Timeout for settle operations (longer due to blockchain tx)

	// AdminToken is sent as a bearer token on admin calls.
	AdminToken string
}

// NewFacilitatorClient creates a client for the facilitator at baseURL.
func NewFacilitatorClient(baseURL string) *FacilitatorClient {
	return &FacilitatorClient{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		Client:        &http.Client{},
		VerifyTimeout: 30 * time.Second,
		SettleTimeout: 2 * time.Minute,
	}
}

// APIError is a non-success reply from the facilitator.
type APIError struct {
	StatusCode int
	Body       ErrorBody
}

func (e *APIError) Error() string {
	if e.Body.Error != "" {
		return fmt.Sprintf("facilitator returned %d: %s: %s", e.StatusCode, e.Body.Error, e.Body.Message)
	}
	return fmt.Sprintf("facilitator returned %d", e.StatusCode)
}

// Verify posts payload to /verify.
func (c *FacilitatorClient) Verify(ctx context.Context, payload x402.PaymentPayload) (*VerifyResponse, error) {
	var out VerifyResponse
	if err := c.do(ctx, c.VerifyTimeout, http.MethodPost, "/verify", payload, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settle posts payload to /settle. Rejected, pending and failed settlements
// are returned as responses, not errors.
func (c *FacilitatorClient) Settle(ctx context.Context, payload x402.PaymentPayload) (*SettleResponse, error) {
	var out SettleResponse
	err := c.do(ctx, c.SettleTimeout, http.MethodPost, "/settle", payload, &out,
		http.StatusOK, http.StatusAccepted, http.StatusBadRequest, http.StatusBadGateway)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Requirements fetches /requirements.
func (c *FacilitatorClient) Requirements(ctx context.Context) (*facilitator.Requirements, error) {
	var out facilitator.Requirements
	if err := c.do(ctx, c.VerifyTimeout, http.MethodGet, "/requirements", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// BountyStatus fetches /bounty.
func (c *FacilitatorClient) BountyStatus(ctx context.Context) (*bounty.Status, error) {
	var out bounty.Status
	if err := c.do(ctx, c.VerifyTimeout, http.MethodGet, "/bounty", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// BountyCheck fetches /bounty/check/{address}.
func (c *FacilitatorClient) BountyCheck(ctx context.Context, address string) (*bounty.CheckResult, error) {
	var out bounty.CheckResult
	path := "/bounty/check/" + url.PathEscape(address)
	if err := c.do(ctx, c.VerifyTimeout, http.MethodGet, path, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reconcile triggers /admin/reconcile.
func (c *FacilitatorClient) Reconcile(ctx context.Context) (*bounty.ReconcileReport, error) {
	var out struct {
		Report *bounty.ReconcileReport `json:"report"`
	}
	if err := c.do(ctx, c.SettleTimeout, http.MethodPost, "/admin/reconcile", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Report, nil
}

func (c *FacilitatorClient) do(ctx context.Context, timeout time.Duration, method, path string, in, out any, accept ...int) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.AdminToken != "" && strings.HasPrefix(path, "/admin/") {
		req.Header.Set("Authorization", "Bearer "+c.AdminToken)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("facilitator unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	for _, status := range accept {
		if resp.StatusCode == status {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("failed to decode %s response: %w", path, err)
			}
			return nil
		}
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	_ = json.Unmarshal(data, &apiErr.Body)
	return apiErr
}
