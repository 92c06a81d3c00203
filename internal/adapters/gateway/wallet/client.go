// Package wallet is the HTTP adapter for the redirect/approve/capture wallet provider.
package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
	pkgerrors "github.com/kevin07696/payment-orchestrator/pkg/errors"
	"github.com/kevin07696/payment-orchestrator/pkg/resilience"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrCodeAlreadyCaptured is the provider issue returned when capturing a captured order.
const ErrCodeAlreadyCaptured = ports.WalletIssueAlreadyCaptured

// HTTPClient is a minimal HTTP client interface for making requests
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config contains configuration for the wallet adapter
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	BrandName    string
	Timeout      time.Duration
	Breaker      resilience.CircuitBreakerConfig
}

// Client implements ports.WalletGateway.
type Client struct {
	config     Config
	httpClient HTTPClient
	breaker    *resilience.CircuitBreaker
	logger     *zap.Logger
	now        func() time.Time

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// NewClient creates a wallet client. A nil httpClient uses http.Client with config.Timeout.
func NewClient(config Config, httpClient HTTPClient, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	breakerCfg := config.Breaker
	if breakerCfg.MaxFailures == 0 {
		breakerCfg = resilience.DefaultCircuitBreakerConfig()
	}
	breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		logger.Warn("Wallet gateway circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return &Client{
		config:     config,
		httpClient: httpClient,
		breaker:    resilience.NewCircuitBreaker(breakerCfg),
		logger:     logger,
		now:        time.Now,
	}
}

type money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount money  `json:"amount"`
}

type orderResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Links         []link `json:"links"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		Amount      money  `json:"amount"`
		Payments    struct {
			Captures []capture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type errorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	DebugID string `json:"debug_id"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

// CreateOrder implements ports.WalletGateway
func (c *Client) CreateOrder(ctx context.Context, params ports.WalletOrderParams, requestID string) (*ports.WalletOrder, error) {
	unit := map[string]interface{}{
		"reference_id": params.ReferenceID,
		"amount": money{
			CurrencyCode: strings.ToUpper(params.Currency),
			Value:        params.Amount.StringFixed(2),
		},
	}
	if params.Shipping != nil {
		unit["shipping"] = map[string]interface{}{
			"name": map[string]string{"full_name": params.Shipping.FullName},
			"address": map[string]string{
				"address_line_1": params.Shipping.AddressLine1,
				"address_line_2": params.Shipping.AddressLine2,
				"admin_area_2":   params.Shipping.City,
				"admin_area_1":   params.Shipping.State,
				"postal_code":    params.Shipping.PostalCode,
				"country_code":   params.Shipping.CountryCode,
			},
		}
	}

	shippingPreference := "NO_SHIPPING"
	if params.Shipping != nil {
		shippingPreference = "SET_PROVIDED_ADDRESS"
	}
	body := map[string]interface{}{
		"intent":         "CAPTURE",
		"purchase_units": []interface{}{unit},
		"application_context": map[string]string{
			"brand_name":          c.config.BrandName,
			"return_url":          params.ReturnURL,
			"cancel_url":          params.CancelURL,
			"shipping_preference": shippingPreference,
			"user_action":         "PAY_NOW",
		},
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/v2/checkout/orders", body, requestID, &resp); err != nil {
		return nil, err
	}
	return toOrder(&resp), nil
}

// CaptureOrder implements ports.WalletGateway
func (c *Client) CaptureOrder(ctx context.Context, providerOrderID, requestID string) (*ports.WalletOrder, error) {
	var resp orderResponse
	path := "/v2/checkout/orders/" + url.PathEscape(providerOrderID) + "/capture"
	if err := c.do(ctx, http.MethodPost, path, map[string]interface{}{}, requestID, &resp); err != nil {
		return nil, err
	}
	return toOrder(&resp), nil
}

// GetOrder implements ports.WalletGateway
func (c *Client) GetOrder(ctx context.Context, providerOrderID string) (*ports.WalletOrder, error) {
	var resp orderResponse
	if err := c.do(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(providerOrderID), nil, "", &resp); err != nil {
		return nil, err
	}
	return toOrder(&resp), nil
}

// token returns a cached OAuth access token, refreshing it a minute before expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.now().Before(c.expiresAt.Add(-time.Minute)) {
		return c.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/oauth2/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(c.config.ClientID, c.config.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("wallet token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp, body)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
		return "", pkgerrors.NewGatewayError("invalid_token_response", "wallet token response is malformed", pkgerrors.CategoryAPIError)
	}

	c.accessToken = tok.AccessToken
	c.expiresAt = c.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	c.logger.Debug("Wallet access token refreshed", zap.Time("expires_at", c.expiresAt))
	return c.accessToken, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.accessToken = ""
	c.mu.Unlock()
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, requestID string, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	return c.breaker.Call(func() error {
		token, err := c.token(ctx)
		if err != nil {
			return err
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Prefer", "return=representation")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if requestID != "" {
			req.Header.Set("PayPal-Request-Id", requestID)
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("Wallet gateway request failed",
				zap.String("method", method),
				zap.String("path", path),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err),
			)
			return fmt.Errorf("wallet gateway %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode == http.StatusUnauthorized {
			// expired token; the next attempt fetches a fresh one
			c.invalidateToken()
		}
		if resp.StatusCode >= 300 {
			return decodeError(resp, respBody)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return pkgerrors.NewGatewayError("invalid_response", "failed to parse wallet response", pkgerrors.CategoryAPIError)
		}
		return nil
	})
}

func decodeError(resp *http.Response, body []byte) error {
	var er errorResponse
	_ = json.Unmarshal(body, &er)

	code := er.Name
	if len(er.Details) > 0 && er.Details[0].Issue != "" {
		code = er.Details[0].Issue
	}
	if code == "" {
		code = fmt.Sprintf("http_%d", resp.StatusCode)
	}

	var category pkgerrors.ErrorCategory
	switch {
	case code == "INSTRUMENT_DECLINED" || code == "PAYER_ACTION_REQUIRED":
		category = pkgerrors.CategoryCardDeclined
	case resp.StatusCode == http.StatusTooManyRequests:
		category = pkgerrors.CategoryRateLimited
	case resp.StatusCode == http.StatusUnauthorized:
		// refreshed on the next attempt
		category = pkgerrors.CategoryAPIError
	case resp.StatusCode == http.StatusForbidden:
		category = pkgerrors.CategoryAuthentication
	case resp.StatusCode >= 500:
		category = pkgerrors.CategoryAPIError
	default:
		category = pkgerrors.CategoryInvalidRequest
	}

	gwErr := &pkgerrors.GatewayError{
		Code:           code,
		Message:        fmt.Sprintf("wallet gateway returned status %d", resp.StatusCode),
		GatewayMessage: er.Message,
		Category:       category,
		StatusCode:     resp.StatusCode,
		RequestID:      er.DebugID,
	}
	if category == pkgerrors.CategoryCardDeclined {
		gwErr.Decline = pkgerrors.DeclineGeneric
	}
	return gwErr
}

func toOrder(r *orderResponse) *ports.WalletOrder {
	order := &ports.WalletOrder{
		ID:     r.ID,
		Status: r.Status,
	}
	for _, l := range r.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			order.ApprovalURL = l.Href
			break
		}
	}
	if len(r.PurchaseUnits) > 0 {
		pu := r.PurchaseUnits[0]
		order.ReferenceID = pu.ReferenceID
		order.Currency = pu.Amount.CurrencyCode
		if v, err := decimal.NewFromString(pu.Amount.Value); err == nil {
			order.Amount = v
		}
		if caps := pu.Payments.Captures; len(caps) > 0 {
			last := caps[len(caps)-1]
			order.CaptureID = last.ID
			order.CaptureStatus = last.Status
			if order.Currency == "" {
				order.Currency = last.Amount.CurrencyCode
			}
		}
	}
	return order
}

var _ ports.WalletGateway = (*Client)(nil)
