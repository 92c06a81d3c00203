// Package card is the HTTP adapter for the card/intent payment gateway.
package card

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
	pkgerrors "github.com/kevin07696/payment-orchestrator/pkg/errors"
	"github.com/kevin07696/payment-orchestrator/pkg/resilience"
	"go.uber.org/zap"
)

// HTTPClient is a minimal HTTP client interface for making requests
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config contains configuration for the card gateway adapter
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Breaker resilience.CircuitBreakerConfig
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "https://api.cardgateway.example",
		Timeout: 10 * time.Second,
		Breaker: resilience.DefaultCircuitBreakerConfig(),
	}
}

// Client implements ports.CardGateway over the gateway's JSON API.
// Each call is a single attempt; retries belong to the caller's executor.
type Client struct {
	config     Config
	httpClient HTTPClient
	breaker    *resilience.CircuitBreaker
	logger     *zap.Logger
}

// NewClient creates a card gateway client. A nil httpClient uses http.Client with config.Timeout.
func NewClient(config Config, httpClient HTTPClient, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	breakerCfg := config.Breaker
	if breakerCfg.MaxFailures == 0 {
		breakerCfg = resilience.DefaultCircuitBreakerConfig()
	}
	breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		logger.Warn("Card gateway circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return &Client{
		config:     config,
		httpClient: httpClient,
		breaker:    resilience.NewCircuitBreaker(breakerCfg),
		logger:     logger,
	}
}

// Wire formats

type lastError struct {
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
}

type intentResponse struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	ClientSecret     string            `json:"client_secret"`
	PaymentMethod    string            `json:"payment_method"`
	LastPaymentError *lastError        `json:"last_payment_error"`
	Metadata         map[string]string `json:"metadata"`
}

type refundResponse struct {
	ID            string            `json:"id"`
	PaymentIntent string            `json:"payment_intent"`
	Status        string            `json:"status"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Reason        string            `json:"reason"`
	FailureReason string            `json:"failure_reason"`
	Metadata      map[string]string `json:"metadata"`
}

type disputeResponse struct {
	ID              string `json:"id"`
	PaymentIntent   string `json:"payment_intent"`
	Status          string `json:"status"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Reason          string `json:"reason"`
	EvidenceDetails struct {
		DueBy           int64 `json:"due_by"`
		SubmissionCount int   `json:"submission_count"`
	} `json:"evidence_details"`
}

type paymentMethodResponse struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Card     struct {
		Brand    string `json:"brand"`
		Last4    string `json:"last4"`
		ExpMonth int    `json:"exp_month"`
		ExpYear  int    `json:"exp_year"`
	} `json:"card"`
}

type errorResponse struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"error"`
}

// CreateIntent implements ports.CardGateway
func (c *Client) CreateIntent(ctx context.Context, params ports.IntentParams, idempotencyKey string) (*ports.Intent, error) {
	body := map[string]interface{}{
		"amount":   params.AmountMinor,
		"currency": params.Currency,
		"metadata": params.Metadata,
	}
	if params.CustomerID != "" {
		body["customer"] = params.CustomerID
	}
	if params.PaymentMethodID != "" {
		body["payment_method"] = params.PaymentMethodID
	}
	if params.Description != "" {
		body["description"] = params.Description
	}

	var resp intentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", body, idempotencyKey, &resp); err != nil {
		return nil, err
	}
	return toIntent(&resp), nil
}

// RetrieveIntent implements ports.CardGateway
func (c *Client) RetrieveIntent(ctx context.Context, intentID string) (*ports.Intent, error) {
	var resp intentResponse
	if err := c.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(intentID), nil, "", &resp); err != nil {
		return nil, err
	}
	return toIntent(&resp), nil
}

// ConfirmIntent implements ports.CardGateway
func (c *Client) ConfirmIntent(ctx context.Context, intentID, paymentMethodID, idempotencyKey string) (*ports.Intent, error) {
	body := map[string]interface{}{}
	if paymentMethodID != "" {
		body["payment_method"] = paymentMethodID
	}
	var resp intentResponse
	path := "/v1/payment_intents/" + url.PathEscape(intentID) + "/confirm"
	if err := c.do(ctx, http.MethodPost, path, body, idempotencyKey, &resp); err != nil {
		return nil, err
	}
	return toIntent(&resp), nil
}

// CancelIntent implements ports.CardGateway
func (c *Client) CancelIntent(ctx context.Context, intentID, idempotencyKey string) (*ports.Intent, error) {
	var resp intentResponse
	path := "/v1/payment_intents/" + url.PathEscape(intentID) + "/cancel"
	if err := c.do(ctx, http.MethodPost, path, map[string]interface{}{}, idempotencyKey, &resp); err != nil {
		return nil, err
	}
	return toIntent(&resp), nil
}

// CreateRefund implements ports.CardGateway
func (c *Client) CreateRefund(ctx context.Context, params ports.RefundParams, idempotencyKey string) (*ports.GatewayRefund, error) {
	body := map[string]interface{}{
		"payment_intent": params.IntentID,
		"metadata":       params.Metadata,
	}
	if params.AmountMinor > 0 {
		body["amount"] = params.AmountMinor
	}
	if params.Reason != "" {
		body["reason"] = params.Reason
	}

	var resp refundResponse
	if err := c.do(ctx, http.MethodPost, "/v1/refunds", body, idempotencyKey, &resp); err != nil {
		return nil, err
	}
	return toRefund(&resp), nil
}

// RetrieveRefund implements ports.CardGateway
func (c *Client) RetrieveRefund(ctx context.Context, refundID string) (*ports.GatewayRefund, error) {
	var resp refundResponse
	if err := c.do(ctx, http.MethodGet, "/v1/refunds/"+url.PathEscape(refundID), nil, "", &resp); err != nil {
		return nil, err
	}
	return toRefund(&resp), nil
}

// RetrieveDispute implements ports.CardGateway
func (c *Client) RetrieveDispute(ctx context.Context, disputeID string) (*ports.GatewayDispute, error) {
	var resp disputeResponse
	if err := c.do(ctx, http.MethodGet, "/v1/disputes/"+url.PathEscape(disputeID), nil, "", &resp); err != nil {
		return nil, err
	}
	return toDispute(&resp), nil
}

// UpdateDispute implements ports.CardGateway
func (c *Client) UpdateDispute(ctx context.Context, disputeID string, update ports.DisputeUpdate, idempotencyKey string) (*ports.GatewayDispute, error) {
	body := map[string]interface{}{
		"evidence": update.Evidence,
		"submit":   update.Submit,
	}
	if len(update.Metadata) > 0 {
		body["metadata"] = update.Metadata
	}
	var resp disputeResponse
	if err := c.do(ctx, http.MethodPost, "/v1/disputes/"+url.PathEscape(disputeID), body, idempotencyKey, &resp); err != nil {
		return nil, err
	}
	return toDispute(&resp), nil
}

// CreateEvidenceFile uploads a dispute evidence file as multipart form data.
func (c *Client) CreateEvidenceFile(ctx context.Context, params ports.FileParams) (*ports.GatewayFile, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	purpose := params.Purpose
	if purpose == "" {
		purpose = "dispute_evidence"
	}
	if err := w.WriteField("purpose", purpose); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	part, err := w.CreateFormFile("file", params.FileName)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := part.Write(params.Data); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}

	var resp struct {
		ID   string `json:"id"`
		Size int64  `json:"size"`
	}
	if err := c.send(ctx, http.MethodPost, "/v1/files", buf.Bytes(), w.FormDataContentType(), "", &resp); err != nil {
		return nil, err
	}
	return &ports.GatewayFile{ID: resp.ID, Size: resp.Size}, nil
}

// CreateCustomer implements ports.CardGateway
func (c *Client) CreateCustomer(ctx context.Context, userID, idempotencyKey string) (string, error) {
	body := map[string]interface{}{
		"metadata": map[string]string{"user_id": userID},
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/customers", body, idempotencyKey, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// AttachPaymentMethod implements ports.CardGateway
func (c *Client) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (*ports.GatewayPaymentMethod, error) {
	var resp paymentMethodResponse
	path := "/v1/payment_methods/" + url.PathEscape(paymentMethodID) + "/attach"
	if err := c.do(ctx, http.MethodPost, path, map[string]interface{}{"customer": customerID}, "", &resp); err != nil {
		return nil, err
	}
	return &ports.GatewayPaymentMethod{
		ID:         resp.ID,
		CustomerID: resp.Customer,
		Brand:      resp.Card.Brand,
		Last4:      resp.Card.Last4,
		ExpMonth:   resp.Card.ExpMonth,
		ExpYear:    resp.Card.ExpYear,
	}, nil
}

// DetachPaymentMethod implements ports.CardGateway
func (c *Client) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	path := "/v1/payment_methods/" + url.PathEscape(paymentMethodID) + "/detach"
	return c.do(ctx, http.MethodPost, path, map[string]interface{}{}, "", nil)
}

// do sends a JSON request. A nil body sends no payload.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, idempotencyKey string, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}
	return c.send(ctx, method, path, payload, "application/json", idempotencyKey, out)
}

// send performs one attempt through the circuit breaker and classifies any failure.
func (c *Client) send(ctx context.Context, method, path string, payload []byte, contentType, idempotencyKey string, out interface{}) error {
	return c.breaker.Call(func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", contentType)
		}
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("Card gateway request failed",
				zap.String("method", method),
				zap.String("path", path),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err),
			)
			return fmt.Errorf("card gateway %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		c.logger.Debug("Card gateway response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode),
			zap.Duration("elapsed", time.Since(start)),
		)

		if resp.StatusCode >= 300 {
			return decodeError(resp, respBody)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return pkgerrors.NewGatewayError("invalid_response", "failed to parse gateway response", pkgerrors.CategoryAPIError)
		}
		return nil
	})
}

func decodeError(resp *http.Response, body []byte) error {
	var er errorResponse
	_ = json.Unmarshal(body, &er)

	category := categoryFor(resp.StatusCode, er.Error.Type)
	code := er.Error.Code
	if code == "" {
		code = fmt.Sprintf("http_%d", resp.StatusCode)
	}
	gwErr := &pkgerrors.GatewayError{
		Code:           code,
		Message:        fmt.Sprintf("card gateway returned status %d", resp.StatusCode),
		GatewayMessage: er.Error.Message,
		Category:       category,
		DeclineCode:    er.Error.DeclineCode,
		StatusCode:     resp.StatusCode,
		RequestID:      resp.Header.Get("Request-Id"),
	}
	if category == pkgerrors.CategoryCardDeclined {
		gwErr.Decline = declineCategory(er.Error.DeclineCode, er.Error.Code)
	}
	return gwErr
}

func toIntent(r *intentResponse) *ports.Intent {
	intent := &ports.Intent{
		ID:              r.ID,
		Status:          r.Status,
		AmountMinor:     r.Amount,
		Currency:        r.Currency,
		ClientSecret:    r.ClientSecret,
		PaymentMethodID: r.PaymentMethod,
		Metadata:        r.Metadata,
	}
	if r.LastPaymentError != nil {
		intent.LastErrorCode = r.LastPaymentError.Code
		intent.LastErrorMessage = r.LastPaymentError.Message
	}
	return intent
}

func toRefund(r *refundResponse) *ports.GatewayRefund {
	return &ports.GatewayRefund{
		ID:            r.ID,
		IntentID:      r.PaymentIntent,
		Status:        r.Status,
		AmountMinor:   r.Amount,
		Currency:      r.Currency,
		Reason:        r.Reason,
		FailureReason: r.FailureReason,
		Metadata:      r.Metadata,
	}
}

func toDispute(r *disputeResponse) *ports.GatewayDispute {
	d := &ports.GatewayDispute{
		ID:              r.ID,
		IntentID:        r.PaymentIntent,
		Status:          r.Status,
		AmountMinor:     r.Amount,
		Currency:        r.Currency,
		Reason:          r.Reason,
		SubmissionCount: r.EvidenceDetails.SubmissionCount,
	}
	if r.EvidenceDetails.DueBy > 0 {
		due := time.Unix(r.EvidenceDetails.DueBy, 0).UTC()
		d.EvidenceDueBy = &due
	}
	return d
}

var _ ports.CardGateway = (*Client)(nil)
