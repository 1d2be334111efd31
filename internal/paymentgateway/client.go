package paymentgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/frahmantamala/ticket-payments/internal/core/datamodel/payment"
	gatewaytypes "github.com/frahmantamala/ticket-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/ticket-payments/pkg/metrics"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20
)

// Recorder persists the audit row written for every gateway interaction.
type Recorder interface {
	Create(ctx context.Context, log *payment.TransactionLog) error
}

type Config struct {
	BaseURL         string
	SecretKey       string
	Timeout         time.Duration
	ReferencePrefix string
}

type Client struct {
	baseURL    string
	secretKey  string
	prefix     string
	httpClient *http.Client
	recorder   Recorder
	metrics    *metrics.PaymentMetrics
	logger     *slog.Logger
	now        func() time.Time
}

func NewClient(cfg Config, recorder Recorder, m *metrics.PaymentMetrics, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	prefix := cfg.ReferencePrefix
	if prefix == "" {
		prefix = "PAY"
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:  cfg.SecretKey,
		prefix:     prefix,
		httpClient: &http.Client{Timeout: timeout},
		recorder:   recorder,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// NewReference returns a merchant reference for a new payment attempt.
func (c *Client) NewReference() string {
	return GenerateReference(c.prefix, c.now())
}

func (c *Client) Initialize(ctx context.Context, req gatewaytypes.InitializeRequest) (*gatewaytypes.InitializeResult, error) {
	if err := req.Validate(); err != nil {
		c.record(ctx, payment.TransactionInitiate, req.PaymentID, initializeLogBody(req, 0), nil, false, err.Error())
		return nil, fmt.Errorf("validation error: %w", err)
	}

	minor, err := ToMinorUnits(req.Amount)
	if err != nil {
		c.record(ctx, payment.TransactionInitiate, req.PaymentID, initializeLogBody(req, 0), nil, false, err.Error())
		return nil, err
	}

	body := initializeLogBody(req, minor)
	data, raw, err := c.do(ctx, payment.TransactionInitiate, req.PaymentID, http.MethodPost, "/transaction/initialize", body, body)
	if err != nil {
		return nil, err
	}

	var result gatewaytypes.InitializeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &GatewayError{Op: "initialize", StatusCode: http.StatusOK, Body: string(raw), Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	result.Raw = raw

	c.logger.Info("gateway transaction initialized",
		"reference", req.Reference,
		"amount_minor", minor,
		"currency", req.Currency)

	return &result, nil
}

func (c *Client) Verify(ctx context.Context, paymentID *uuid.UUID, reference string) (*gatewaytypes.VerifyResult, error) {
	path := "/transaction/verify/" + url.PathEscape(reference)
	logBody := map[string]any{"reference": reference}

	data, raw, err := c.do(ctx, payment.TransactionVerify, paymentID, http.MethodGet, path, nil, logBody)
	if err != nil {
		return nil, err
	}

	result := &gatewaytypes.VerifyResult{Raw: raw}
	if err := json.Unmarshal(data, &result.Data); err != nil {
		return nil, &GatewayError{Op: "verify", StatusCode: http.StatusOK, Body: string(raw), Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	c.logger.Info("gateway transaction verified",
		"reference", reference,
		"gateway_status", result.Data.Status)

	return result, nil
}

// Refund requests a refund of a settled transaction. A nil AmountMinor asks
// for the full amount.
func (c *Client) Refund(ctx context.Context, req gatewaytypes.RefundRequest) (*gatewaytypes.RefundResult, error) {
	body := map[string]any{
		"transaction": req.Transaction,
	}
	if req.Currency != "" {
		body["currency"] = req.Currency
	}
	if req.AmountMinor != nil {
		body["amount"] = *req.AmountMinor
	}

	data, raw, err := c.do(ctx, payment.TransactionRefund, req.PaymentID, http.MethodPost, "/refund", body, body)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(data, &payload)

	c.logger.Info("gateway refund requested",
		"transaction", req.Transaction,
		"refund_status", payload.Status)

	return &gatewaytypes.RefundResult{Status: payload.Status, Raw: raw}, nil
}

// do sends one request and writes the audit row before returning. It yields
// the envelope's data member and the raw body.
func (c *Client) do(ctx context.Context, op payment.TransactionType, paymentID *uuid.UUID, method, path string, body any, logBody any) (json.RawMessage, json.RawMessage, error) {
	opName := operationName(op)

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			c.record(ctx, op, paymentID, logBody, nil, false, err.Error())
			return nil, nil, fmt.Errorf("failed to marshal %s request: %w", opName, err)
		}
		reader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		c.record(ctx, op, paymentID, logBody, nil, false, err.Error())
		return nil, nil, fmt.Errorf("failed to create %s request: %w", opName, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.ObserveGatewayCall(opName, false, time.Since(start))
		gwErr := &GatewayError{Op: opName, Err: err}
		c.record(ctx, op, paymentID, logBody, nil, false, gwErr.Error())
		c.logger.Error("gateway request failed", "operation", opName, "error", err)
		return nil, nil, gwErr
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	c.metrics.ObserveGatewayCall(opName, ok && err == nil, time.Since(start))
	if err != nil {
		gwErr := &GatewayError{Op: opName, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
		c.record(ctx, op, paymentID, logBody, nil, false, gwErr.Error())
		return nil, nil, gwErr
	}

	if !ok {
		gwErr := &GatewayError{Op: opName, StatusCode: resp.StatusCode, Body: string(raw)}
		c.record(ctx, op, paymentID, logBody, raw, false, gwErr.Error())
		c.logger.Warn("gateway returned error status",
			"operation", opName,
			"status_code", resp.StatusCode)
		return nil, raw, gwErr
	}

	c.record(ctx, op, paymentID, logBody, raw, true, "")

	var envelope gatewaytypes.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, raw, &GatewayError{Op: opName, StatusCode: resp.StatusCode, Body: string(raw), Err: fmt.Errorf("failed to decode envelope: %w", err)}
	}
	if !envelope.Status {
		return nil, raw, &GatewayError{Op: opName, StatusCode: resp.StatusCode, Body: string(raw), Err: errors.New(envelope.Message)}
	}

	return envelope.Data, raw, nil
}

func (c *Client) record(ctx context.Context, op payment.TransactionType, paymentID *uuid.UUID, request any, response []byte, success bool, errMsg string) {
	if c.recorder == nil {
		return
	}
	entry := &payment.TransactionLog{
		PaymentID:       paymentID,
		TransactionType: op,
		RequestData:     toJSON(request),
		ResponseData:    rawToJSON(response),
		IsSuccessful:    success,
		ErrorMessage:    errMsg,
	}
	// the audit row must survive a cancelled caller
	if err := c.recorder.Create(context.WithoutCancel(ctx), entry); err != nil {
		c.logger.Error("failed to record transaction log",
			"transaction_type", op,
			"error", err)
	}
}

func initializeLogBody(req gatewaytypes.InitializeRequest, minor int64) map[string]any {
	body := map[string]any{
		"email":     req.Email,
		"amount":    minor,
		"currency":  req.Currency,
		"reference": req.Reference,
	}
	if req.CallbackURL != "" {
		body["callback_url"] = req.CallbackURL
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}
	return body
}

func operationName(op payment.TransactionType) string {
	if op == payment.TransactionInitiate {
		return "initialize"
	}
	return string(op)
}

func toJSON(v any) datatypes.JSON {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

func rawToJSON(b []byte) datatypes.JSON {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return datatypes.JSON(b)
	}
	return toJSON(map[string]string{"raw": string(b)})
}
