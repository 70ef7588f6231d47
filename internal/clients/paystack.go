package clients

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fosten-shop/fosten-orders-service/internal/config"
	"github.com/fosten-shop/fosten-orders-service/internal/errors"
	"github.com/fosten-shop/fosten-orders-service/internal/interfaces"
	"github.com/fosten-shop/fosten-orders-service/internal/logging"
	"github.com/fosten-shop/fosten-orders-service/internal/metrics"
	"github.com/fosten-shop/fosten-orders-service/internal/middleware"
	"github.com/fosten-shop/fosten-orders-service/internal/models"
)

// Ensure PaystackClient implements interfaces.PaymentGateway
var _ interfaces.PaymentGateway = (*PaystackClient)(nil)

// SignatureHeader carries the webhook HMAC.
const SignatureHeader = "x-paystack-signature"

const defaultRetryInterval = 500 * time.Millisecond

// PaystackClient talks to the Paystack transaction API.
type PaystackClient struct {
	baseURL       string
	secretKey     string
	webhookSecret string
	httpClient    *http.Client
	verifyRetries int
	retryInterval time.Duration
	metrics       *metrics.Metrics
	logger        *logging.Logger
}

// NewPaystackClient creates a Paystack client. Every call is bounded by cfg.Timeout.
func NewPaystackClient(cfg config.PaystackConfig, logger *logging.Logger, m *metrics.Metrics) *PaystackClient {
	return &PaystackClient{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		verifyRetries: cfg.VerifyRetries,
		retryInterval: defaultRetryInterval,
		metrics:       m,
		logger:        logger.Named("paystack-client"),
	}
}

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeRequest struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Reference   string            `json:"reference"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Channels    []string          `json:"channels"`
	MobileMoney *mobileMoney      `json:"mobile_money,omitempty"`
}

type mobileMoney struct {
	Phone    string `json:"phone"`
	Provider string `json:"provider"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	Status    string          `json:"status"`
	Reference string          `json:"reference"`
	Amount    int64           `json:"amount"`
	Metadata  json.RawMessage `json:"metadata"`
}

// InitializeCharge creates a transaction and returns the hosted payment page.
// It is attempted once; failures surface as gateway errors.
func (c *PaystackClient) InitializeCharge(ctx context.Context, req *models.ChargeRequest) (*models.ChargeInitialization, error) {
	c.logger.Debug("Initializing charge", logging.Fields{
		"reference": req.Reference,
		"amount":    req.AmountMinor,
		"currency":  req.Currency,
		"method":    req.Method,
	})

	payload := initializeRequest{
		Email:       req.Email,
		Amount:      req.AmountMinor,
		Currency:    req.Currency,
		Reference:   req.Reference,
		Metadata:    req.Metadata,
		CallbackURL: req.CallbackURL,
		Channels:    []string{"card"},
	}
	if req.Method == models.PaymentMethodMomo {
		payload.Channels = []string{"mobile_money"}
		payload.MobileMoney = &mobileMoney{Phone: req.Phone, Provider: string(req.Channel)}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var data initializeData
	_, err = c.do(ctx, http.MethodPost, "/transaction/initialize", body, &data)
	c.metrics.GatewayCall("initialize", err, time.Since(start))
	if err != nil {
		c.logger.Error("Charge initialization failed", logging.Fields{
			"reference": req.Reference,
			"error":     err.Error(),
		})
		return nil, errors.NewGatewayError("payment initialization failed", err)
	}

	if data.Reference == "" {
		data.Reference = req.Reference
	}

	c.logger.Info("Charge initialized", logging.Fields{"reference": data.Reference})

	return &models.ChargeInitialization{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Reference:        data.Reference,
	}, nil
}

// VerifyCharge fetches the transaction outcome for reference. Transport
// errors and 5xx responses are retried with exponential backoff up to the
// configured number of retries.
func (c *PaystackClient) VerifyCharge(ctx context.Context, reference string) (*models.ChargeVerification, error) {
	c.logger.Debug("Verifying charge", logging.Fields{"reference": reference})

	var data verifyData
	attempts := 0
	op := func() error {
		attempts++
		status, err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &data)
		if err != nil && status > 0 && status < http.StatusInternalServerError {
			return backoff.Permanent(err)
		}
		return err
	}

	start := time.Now()
	err := backoff.Retry(op, c.newBackOff(ctx))
	c.metrics.GatewayCall("verify", err, time.Since(start))
	if err != nil {
		c.logger.Error("Charge verification failed", logging.Fields{
			"reference": reference,
			"attempts":  attempts,
			"error":     err.Error(),
		})
		return nil, errors.NewGatewayError("payment verification failed", err)
	}

	gatewayStatus := models.GatewayStatus(strings.ToLower(data.Status))
	verification := &models.ChargeVerification{
		Reference:     reference,
		GatewayStatus: gatewayStatus,
		OrderID:       models.MetadataOrderID(data.Metadata),
		AmountMinor:   data.Amount,
		Target:        MapGatewayStatus(gatewayStatus),
	}

	c.logger.Info("Charge verified", logging.Fields{
		"reference":      reference,
		"gateway_status": verification.GatewayStatus,
		"order_id":       verification.OrderID,
		"attempts":       attempts,
	})

	return verification, nil
}

// VerifyWebhookSignature checks the x-paystack-signature header against the raw body.
func (c *PaystackClient) VerifyWebhookSignature(payload []byte, signature string) bool {
	return VerifyPaystackSignature(payload, signature, c.webhookSecret)
}

func (c *PaystackClient) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryInterval
	eb.MaxElapsedTime = 0
	retries := c.verifyRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
}

// do performs a request and decodes the envelope's data into out. The
// returned status is 0 when no response was received.
func (c *PaystackClient) do(ctx context.Context, method, path string, body []byte, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	c.setHeaders(ctx, httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, err
	}

	var envelope paystackEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return resp.StatusCode, fmt.Errorf("paystack returned status %d with unreadable body", resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK || !envelope.Status {
		return resp.StatusCode, fmt.Errorf("paystack returned status %d: %s", resp.StatusCode, envelope.Message)
	}

	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return resp.StatusCode, err
	}
	return resp.StatusCode, nil
}

func (c *PaystackClient) setHeaders(ctx context.Context, req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	if requestID := middleware.RequestIDFromContext(ctx); requestID != "" {
		req.Header.Set(middleware.HeaderRequestID, requestID)
	}
}

// MapGatewayStatus maps a Paystack transaction status to the order status it
// implies. Anything unresolved maps to pending, meaning no transition.
func MapGatewayStatus(status models.GatewayStatus) models.OrderStatus {
	switch status {
	case models.GatewayStatusSuccess:
		return models.OrderStatusProcessing
	case models.GatewayStatusFailed, models.GatewayStatusAbandoned, models.GatewayStatusReversed:
		return models.OrderStatusCancelled
	default:
		return models.OrderStatusPending
	}
}

// VerifyPaystackSignature reports whether signature is the hex HMAC-SHA512
// of payload under secret. The comparison is constant time.
func VerifyPaystackSignature(payload []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// SignPayload returns the hex HMAC-SHA512 of payload.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
