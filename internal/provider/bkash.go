package provider

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

	"commerce-core/internal/cache"
	"commerce-core/internal/model"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// bkashTokenKey is the cache key under which the grant token is stored.
const bkashTokenKey = "bkash:id_token"

// bkashTokenMargin keeps a cached token from being presented right at its
// provider-side expiry.
const bkashTokenMargin = time.Minute

// BkashConfig carries the credentials and endpoint for NewBkash.
type BkashConfig struct {
	BaseURL   string
	AppKey    string
	AppSecret string
	Username  string
	Password  string
	Timeout   time.Duration
	TokenTTL  time.Duration
}

// Bkash drives payments through the bKash tokenized checkout API. Every call
// is authenticated with a grant token held in the injected cache; a missing
// or expired token is re-acquired transparently. bKash has no webhook
// delivery, so its payments settle through polling.
type Bkash struct {
	appKey    string
	appSecret string
	username  string
	password  string
	baseURL   string
	tokenTTL  time.Duration
	client    *http.Client
	tokens    cache.Cache
	logger    zerolog.Logger
}

// NewBkash creates a bKash provider using tokens from the given cache.
func NewBkash(cfg BkashConfig, tokens cache.Cache, logger zerolog.Logger) *Bkash {
	return &Bkash{
		appKey:    cfg.AppKey,
		appSecret: cfg.AppSecret,
		username:  cfg.Username,
		password:  cfg.Password,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		tokenTTL:  cfg.TokenTTL,
		client:    &http.Client{Timeout: cfg.Timeout},
		tokens:    tokens,
		logger:    logger.With().Str("provider", "bkash").Logger(),
	}
}

func (b *Bkash) Name() model.PaymentProvider { return model.ProviderBkash }

func (b *Bkash) DefaultCurrency() string { return "BDT" }

func (b *Bkash) SupportsWebhooks() bool { return false }

// bkashEnvelope is the superset of fields the checkout endpoints return.
// statusCode "0000" means success; anything else is a rejection carrying
// statusMessage.
type bkashEnvelope struct {
	PaymentID         string `json:"paymentID"`
	BkashURL          string `json:"bkashURL"`
	TransactionStatus string `json:"transactionStatus"`
	TrxID             string `json:"trxID"`
	RefundTrxID       string `json:"refundTrxID"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	StatusCode        string `json:"statusCode"`
	StatusMessage     string `json:"statusMessage"`
}

// CreatePayment creates a checkout payment. The returned continuation holds
// the bKash URL the customer completes the payment at.
func (b *Bkash) CreatePayment(ctx context.Context, order *model.Order, amount decimal.Decimal, currency string) (*Intent, error) {
	payload := map[string]string{
		"amount":                amount.StringFixed(2),
		"currency":              currency,
		"intent":                "sale",
		"merchantInvoiceNumber": "ORDER-" + order.ID.String(),
	}

	raw, err := b.do(ctx, http.MethodPost, "/checkout/payment/create", payload, "create payment")
	if err != nil {
		return nil, err
	}
	env, err := b.decode(raw, "create payment")
	if err != nil {
		return nil, err
	}
	if env.PaymentID == "" {
		return nil, failureError(model.ProviderBkash, "create payment", "response missing paymentID")
	}

	b.logger.Info().
		Str("transaction_id", env.PaymentID).
		Str("order_id", order.ID.String()).
		Msg("payment created")

	return &Intent{
		TransactionID: env.PaymentID,
		Status:        StatusPending,
		Continuation:  map[string]string{"bkashUrl": env.BkashURL},
		RawResponse:   raw,
	}, nil
}

// ConfirmPayment executes a created payment.
func (b *Bkash) ConfirmPayment(ctx context.Context, transactionID string) (*Confirmation, error) {
	path := "/checkout/payment/execute/" + url.PathEscape(transactionID)
	raw, err := b.do(ctx, http.MethodPost, path, nil, "execute payment")
	if err != nil {
		return nil, err
	}
	env, err := b.decode(raw, "execute payment")
	if err != nil {
		return nil, err
	}

	id := env.PaymentID
	if id == "" {
		id = transactionID
	}
	return &Confirmation{
		TransactionID: id,
		Status:        bkashStatus(env.TransactionStatus),
		RawResponse:   raw,
	}, nil
}

// GetStatus queries a payment.
func (b *Bkash) GetStatus(ctx context.Context, transactionID string) (*StatusSnapshot, error) {
	path := "/checkout/payment/query/" + url.PathEscape(transactionID)
	raw, err := b.do(ctx, http.MethodGet, path, nil, "query payment")
	if err != nil {
		return nil, err
	}
	env, err := b.decode(raw, "query payment")
	if err != nil {
		return nil, err
	}

	amount := decimal.Zero
	if env.Amount != "" {
		if parsed, err := decimal.NewFromString(env.Amount); err == nil {
			amount = parsed
		}
	}
	currency := env.Currency
	if currency == "" {
		currency = b.DefaultCurrency()
	}

	id := env.PaymentID
	if id == "" {
		id = transactionID
	}
	return &StatusSnapshot{
		TransactionID: id,
		Status:        bkashStatus(env.TransactionStatus),
		Amount:        amount,
		Currency:      currency,
		RawResponse:   raw,
	}, nil
}

// Refund reverses a completed payment.
func (b *Bkash) Refund(ctx context.Context, transactionID string, amount *decimal.Decimal, reason string) (*RefundResult, error) {
	payload := map[string]string{
		"paymentID": transactionID,
	}
	if amount != nil {
		payload["amount"] = amount.StringFixed(2)
	}
	if reason != "" {
		payload["reason"] = reason
	}

	raw, err := b.do(ctx, http.MethodPost, "/checkout/payment/refund", payload, "refund")
	if err != nil {
		return nil, err
	}
	env, err := b.decode(raw, "refund")
	if err != nil {
		return nil, err
	}

	b.logger.Info().
		Str("transaction_id", transactionID).
		Str("refund_id", env.RefundTrxID).
		Msg("refund created")

	return &RefundResult{
		RefundID:    env.RefundTrxID,
		Status:      env.TransactionStatus,
		RawResponse: raw,
	}, nil
}

// HandleNotification always fails: bKash does not deliver webhooks.
func (b *Bkash) HandleNotification([]byte, string) (*Notification, error) {
	return nil, ErrWebhooksUnsupported
}

// token returns a grant token, re-acquiring one when the cache has none.
func (b *Bkash) token(ctx context.Context) (string, error) {
	cached, err := b.tokens.Get(ctx, bkashTokenKey)
	if err != nil {
		b.logger.Warn().Err(err).Msg("token cache read failed")
	}
	if cached != "" {
		return cached, nil
	}

	grant := map[string]string{
		"app_key":    b.appKey,
		"app_secret": b.appSecret,
	}
	body, err := json.Marshal(grant)
	if err != nil {
		return "", fmt.Errorf("failed to encode token grant request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/checkout/token/grant", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build token grant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("username", b.username)
	req.Header.Set("password", b.password)

	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.Error().Err(err).Msg("token grant failed")
		return "", unavailableError(model.ProviderBkash, "token grant", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", unavailableError(model.ProviderBkash, "token grant", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return "", unavailableError(model.ProviderBkash, "token grant", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", failureError(model.ProviderBkash, "token grant", fmt.Sprintf("status %d", resp.StatusCode))
	}

	var result struct {
		IDToken       string `json:"id_token"`
		ExpiresIn     int64  `json:"expires_in"`
		StatusCode    string `json:"statusCode"`
		StatusMessage string `json:"statusMessage"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", unavailableError(model.ProviderBkash, "token grant", fmt.Errorf("malformed response: %w", err))
	}
	if result.StatusCode != "" && result.StatusCode != "0000" {
		message := result.StatusMessage
		if message == "" {
			message = "status code " + result.StatusCode
		}
		return "", failureError(model.ProviderBkash, "token grant", message)
	}
	if result.IDToken == "" {
		return "", failureError(model.ProviderBkash, "token grant", "response missing id_token")
	}

	ttl := b.tokenTTL
	if result.ExpiresIn > 0 {
		if reported := time.Duration(result.ExpiresIn)*time.Second - bkashTokenMargin; reported < ttl {
			ttl = reported
		}
	}
	if ttl < time.Minute {
		ttl = time.Minute
	}
	if err := b.tokens.Set(ctx, bkashTokenKey, result.IDToken, ttl); err != nil {
		b.logger.Warn().Err(err).Msg("token cache write failed")
	}

	b.logger.Info().Dur("ttl", ttl).Msg("grant token acquired")
	return result.IDToken, nil
}

// do performs one authenticated API call. Transport faults and 5xx map to
// PROVIDER_UNAVAILABLE, HTTP rejections to PROVIDER_FAILURE.
func (b *Bkash) do(ctx context.Context, method, path string, payload any, op string) ([]byte, error) {
	token, err := b.token(ctx)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)
	req.Header.Set("X-APP-Key", b.appKey)

	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.Error().Err(err).Str("op", op).Msg("request failed")
		return nil, unavailableError(model.ProviderBkash, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, unavailableError(model.ProviderBkash, op, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		b.logger.Error().Int("status", resp.StatusCode).Str("op", op).Msg("server error from provider")
		return nil, unavailableError(model.ProviderBkash, op, fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		b.logger.Warn().Int("status", resp.StatusCode).Str("op", op).Msg("request rejected")
		return nil, failureError(model.ProviderBkash, op, fmt.Sprintf("status %d", resp.StatusCode))
	}

	return raw, nil
}

// decode parses a checkout response and enforces the statusCode convention.
func (b *Bkash) decode(raw []byte, op string) (*bkashEnvelope, error) {
	var env bkashEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, unavailableError(model.ProviderBkash, op, fmt.Errorf("malformed response: %w", err))
	}
	if env.StatusCode != "" && env.StatusCode != "0000" {
		message := env.StatusMessage
		if message == "" {
			message = "status code " + env.StatusCode
		}
		b.logger.Warn().Str("op", op).Str("status_code", env.StatusCode).Str("message", message).Msg("operation rejected")
		return nil, failureError(model.ProviderBkash, op, message)
	}
	return &env, nil
}

// bkashStatus maps transactionStatus values onto the neutral set.
func bkashStatus(status string) Status {
	switch status {
	case "Completed":
		return StatusSucceeded
	case "Initiated":
		return StatusPending
	case "Pending":
		return StatusProcessing
	case "Cancelled":
		return StatusCancelled
	case "Failed", "Failure":
		return StatusFailed
	default:
		return StatusUnknown
	}
}
