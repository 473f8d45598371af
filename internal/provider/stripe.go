package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"commerce-core/internal/model"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// stripeSignatureTolerance bounds how old a webhook signature timestamp may
// be before the delivery is rejected as a possible replay.
const stripeSignatureTolerance = 5 * time.Minute

// StripeConfig carries the credentials and endpoint for NewStripe.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
}

// Stripe drives payments through the Stripe Payment Intents API. Amounts are
// converted to minor units on the wire and webhook deliveries are
// authenticated with the signed-timestamp scheme.
type Stripe struct {
	secretKey     string
	webhookSecret string
	baseURL       string
	client        *http.Client
	logger        zerolog.Logger
	now           func() time.Time
}

// NewStripe creates a Stripe provider.
func NewStripe(cfg StripeConfig, logger zerolog.Logger) *Stripe {
	return &Stripe{
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		client:        &http.Client{Timeout: cfg.Timeout},
		logger:        logger.With().Str("provider", "stripe").Logger(),
		now:           time.Now,
	}
}

func (s *Stripe) Name() model.PaymentProvider { return model.ProviderStripe }

func (s *Stripe) DefaultCurrency() string { return "USD" }

func (s *Stripe) SupportsWebhooks() bool { return true }

// stripePaymentIntent is the subset of the payment intent object we read.
type stripePaymentIntent struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	ClientSecret     string `json:"client_secret"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type stripeErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// CreatePayment creates a payment intent for the order amount.
func (s *Stripe) CreatePayment(ctx context.Context, order *model.Order, amount decimal.Decimal, currency string) (*Intent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amount.Shift(2).IntPart(), 10))
	form.Set("currency", strings.ToLower(currency))
	form.Set("description", fmt.Sprintf("Order #%s", order.ID))
	form.Set("metadata[order_id]", order.ID.String())
	form.Set("metadata[user_id]", order.UserID.String())
	form.Add("payment_method_types[]", "card")

	raw, err := s.do(ctx, http.MethodPost, "/v1/payment_intents", form, "create payment")
	if err != nil {
		return nil, err
	}

	var pi stripePaymentIntent
	if err := json.Unmarshal(raw, &pi); err != nil {
		return nil, unavailableError(model.ProviderStripe, "create payment", fmt.Errorf("malformed response: %w", err))
	}

	s.logger.Info().
		Str("transaction_id", pi.ID).
		Str("order_id", order.ID.String()).
		Str("intent_status", pi.Status).
		Msg("payment intent created")

	return &Intent{
		TransactionID: pi.ID,
		Status:        stripeStatus(pi.Status),
		Continuation:  map[string]string{"clientSecret": pi.ClientSecret},
		RawResponse:   raw,
	}, nil
}

// ConfirmPayment confirms a payment intent.
func (s *Stripe) ConfirmPayment(ctx context.Context, transactionID string) (*Confirmation, error) {
	path := "/v1/payment_intents/" + url.PathEscape(transactionID) + "/confirm"
	raw, err := s.do(ctx, http.MethodPost, path, nil, "confirm payment")
	if err != nil {
		return nil, err
	}

	var pi stripePaymentIntent
	if err := json.Unmarshal(raw, &pi); err != nil {
		return nil, unavailableError(model.ProviderStripe, "confirm payment", fmt.Errorf("malformed response: %w", err))
	}

	return &Confirmation{
		TransactionID: pi.ID,
		Status:        stripeStatus(pi.Status),
		RawResponse:   raw,
	}, nil
}

// GetStatus retrieves the payment intent.
func (s *Stripe) GetStatus(ctx context.Context, transactionID string) (*StatusSnapshot, error) {
	path := "/v1/payment_intents/" + url.PathEscape(transactionID)
	raw, err := s.do(ctx, http.MethodGet, path, nil, "get status")
	if err != nil {
		return nil, err
	}

	var pi stripePaymentIntent
	if err := json.Unmarshal(raw, &pi); err != nil {
		return nil, unavailableError(model.ProviderStripe, "get status", fmt.Errorf("malformed response: %w", err))
	}

	return &StatusSnapshot{
		TransactionID: pi.ID,
		Status:        stripeStatus(pi.Status),
		Amount:        decimal.New(pi.Amount, -2),
		Currency:      strings.ToUpper(pi.Currency),
		RawResponse:   raw,
	}, nil
}

// Refund refunds a captured payment intent, in full when amount is nil.
func (s *Stripe) Refund(ctx context.Context, transactionID string, amount *decimal.Decimal, reason string) (*RefundResult, error) {
	form := url.Values{}
	form.Set("payment_intent", transactionID)
	if amount != nil {
		form.Set("amount", strconv.FormatInt(amount.Shift(2).IntPart(), 10))
	}
	if reason != "" {
		form.Set("metadata[reason]", reason)
	}

	raw, err := s.do(ctx, http.MethodPost, "/v1/refunds", form, "refund")
	if err != nil {
		return nil, err
	}

	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &refund); err != nil {
		return nil, unavailableError(model.ProviderStripe, "refund", fmt.Errorf("malformed response: %w", err))
	}

	s.logger.Info().
		Str("transaction_id", transactionID).
		Str("refund_id", refund.ID).
		Msg("refund created")

	return &RefundResult{
		RefundID:    refund.ID,
		Status:      refund.Status,
		RawResponse: raw,
	}, nil
}

// HandleNotification verifies the signature header and classifies the event.
// Event types other than the two payment outcomes are reported as ignored.
func (s *Stripe) HandleNotification(payload []byte, signature string) (*Notification, error) {
	if err := s.verifySignature(payload, signature); err != nil {
		return nil, err
	}

	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, model.NewDomainError(model.ErrCodeValidation, "Invalid webhook payload")
	}

	switch event.Type {
	case "payment_intent.succeeded":
		pi, err := eventIntent(event)
		if err != nil {
			return nil, err
		}
		return &Notification{
			Kind:          EventSucceeded,
			EventType:     event.Type,
			TransactionID: pi.ID,
			RawData:       event.Data.Object,
		}, nil

	case "payment_intent.payment_failed":
		pi, err := eventIntent(event)
		if err != nil {
			return nil, err
		}
		message := "Payment failed"
		if pi.LastPaymentError != nil && pi.LastPaymentError.Message != "" {
			message = pi.LastPaymentError.Message
		}
		return &Notification{
			Kind:          EventFailed,
			EventType:     event.Type,
			TransactionID: pi.ID,
			ErrorMessage:  message,
			RawData:       event.Data.Object,
		}, nil

	default:
		s.logger.Debug().Str("event_type", event.Type).Msg("ignoring webhook event")
		return &Notification{Kind: EventIgnored, EventType: event.Type}, nil
	}
}

func eventIntent(event stripeEvent) (*stripePaymentIntent, error) {
	var pi stripePaymentIntent
	if err := json.Unmarshal(event.Data.Object, &pi); err != nil || pi.ID == "" {
		return nil, model.NewDomainError(model.ErrCodeValidation, "Invalid webhook payload")
	}
	return &pi, nil
}

// verifySignature checks the signed-timestamp header: an HMAC-SHA256 of
// "<timestamp>.<payload>" keyed with the webhook secret, compared in
// constant time, with the timestamp bounded by the replay tolerance.
func (s *Stripe) verifySignature(payload []byte, header string) error {
	if header == "" {
		return model.NewDomainError(model.ErrCodeValidation, "Missing webhook signature")
	}

	var timestamp string
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			candidates = append(candidates, value)
		}
	}
	if timestamp == "" || len(candidates) == 0 {
		return model.NewDomainError(model.ErrCodeValidation, "Malformed webhook signature")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return model.NewDomainError(model.ErrCodeValidation, "Malformed webhook signature")
	}
	age := s.now().Sub(time.Unix(ts, 0))
	if age > stripeSignatureTolerance || age < -stripeSignatureTolerance {
		return model.NewDomainError(model.ErrCodeValidation, "Webhook signature timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, candidate := range candidates {
		decoded, err := hex.DecodeString(candidate)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return model.NewDomainError(model.ErrCodeValidation, "Invalid webhook signature")
}

// do performs one API call. Transport faults and 5xx map to
// PROVIDER_UNAVAILABLE, 4xx rejections to PROVIDER_FAILURE with the
// provider's own message when it sends one.
func (s *Stripe) do(ctx context.Context, method, path string, form url.Values, op string) ([]byte, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error().Err(err).Str("op", op).Msg("request failed")
		return nil, unavailableError(model.ProviderStripe, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, unavailableError(model.ProviderStripe, op, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		s.logger.Error().Int("status", resp.StatusCode).Str("op", op).Msg("server error from provider")
		return nil, unavailableError(model.ProviderStripe, op, fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		message := fmt.Sprintf("status %d", resp.StatusCode)
		var eb stripeErrorBody
		if err := json.Unmarshal(raw, &eb); err == nil && eb.Error.Message != "" {
			message = eb.Error.Message
		}
		s.logger.Warn().Int("status", resp.StatusCode).Str("op", op).Str("message", message).Msg("request rejected")
		return nil, failureError(model.ProviderStripe, op, message)
	}

	return raw, nil
}

// stripeStatus maps intent statuses onto the neutral set. The various
// requires_* states all mean the client still has work to do.
func stripeStatus(status string) Status {
	switch status {
	case "succeeded":
		return StatusSucceeded
	case "processing":
		return StatusProcessing
	case "requires_payment_method", "requires_confirmation", "requires_action", "requires_capture":
		return StatusPending
	case "canceled":
		return StatusCancelled
	default:
		return StatusUnknown
	}
}
